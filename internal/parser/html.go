package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	removedTags = "script, style, nav, header, footer, noscript, svg"
	contentTags = []string{"p", "li", "h1", "h2", "h3", "h4", "h5", "h6", "td", "th", "dd", "dt", "blockquote"}

	jsonLDDate = regexp.MustCompile(`(?i)"datePublished"\s*:\s*"([^"]+)"`)
)

// ParseHTML extracts readable text from content tags, grouped by tag in a
// fixed order, along with the document title and publication date.
func ParseHTML(raw string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return Result{}
	}

	res := Result{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		PublishedAt: publishedAt(doc, raw),
	}

	doc.Find(removedTags).Remove()

	var lines []string
	for _, tag := range contentTags {
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			if line := collapse(spacedText(s)); line != "" {
				lines = append(lines, line)
			}
		})
	}
	res.Text = truncate(strings.Join(lines, "\n"))
	return res
}

// publishedAt takes the first present date source; an unparseable value
// yields nil rather than falling through.
func publishedAt(doc *goquery.Document, raw string) *time.Time {
	if v, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
		return parseDate(v)
	}
	if v, ok := doc.Find(`meta[name="datePublished"]`).First().Attr("content"); ok {
		return parseDate(v)
	}
	if m := jsonLDDate.FindStringSubmatch(raw); m != nil {
		return parseDate(m[1])
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return parseDate(v)
	}
	return nil
}

// spacedText is Selection.Text with element boundaries turned into spaces,
// so <p>a<b>b</b></p> reads "a b".
func spacedText(s *goquery.Selection) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			sb.WriteByte(' ')
		}
	}
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
