package parser

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type readmeJSON struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ParseReadme decodes a GitHub readme response and strips its markdown.
// The title is the first non-blank line, or the file name when the content
// is empty.
func ParseReadme(body []byte) Result {
	var r readmeJSON
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}
	}
	if r.Content == "" {
		return Result{Title: r.Name}
	}

	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(r.Content)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return Result{Title: r.Name}
	}

	text := StripMarkdown(string(decoded))
	title := r.Name
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			title = l
			break
		}
	}
	return Result{Text: truncate(text), Title: title}
}

type markdownRule struct {
	re   *regexp.Regexp
	repl string
}

// Applied in order. Fences go first so their contents never reach the
// inline rules. Horizontal rules go before emphasis so "***" lines are not
// read as italics.
var markdownRules = []markdownRule{
	{regexp.MustCompile("(?s)```.*?```"), ""},
	{regexp.MustCompile(`(?m)^[-*_]{3,}[ \t]*$`), ""},
	{regexp.MustCompile(`\[!\[[^\]]*\]\([^)]*\)\]\([^)]*\)`), ""},
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`(?m)^#{1,6}[ \t]+`), ""},
	{regexp.MustCompile(`\*\*\*(.+?)\*\*\*`), "$1"},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "$1"},
	{regexp.MustCompile(`\*(.+?)\*`), "$1"},
	{regexp.MustCompile(`___(.+?)___`), "$1"},
	{regexp.MustCompile(`__(.+?)__`), "$1"},
	{regexp.MustCompile(`(^|[^\w])_([^_\n]+)_([^\w]|$)`), "$1$2$3"},
	{regexp.MustCompile("`([^`]+)`"), "$1"},
	{regexp.MustCompile(`<[^>]+>`), ""},
	{regexp.MustCompile(`\n{3,}`), "\n\n"},
}

// StripMarkdown reduces markdown to plain text.
func StripMarkdown(md string) string {
	md = strings.ReplaceAll(md, "\r\n", "\n")
	for _, r := range markdownRules {
		md = r.re.ReplaceAllString(md, r.repl)
	}
	return strings.TrimSpace(md)
}

type repoJSON struct {
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Stars       *int     `json:"stargazers_count"`
	Forks       *int     `json:"forks_count"`
	OpenIssues  *int     `json:"open_issues_count"`
	License     *struct {
		Name string `json:"name"`
	} `json:"license"`
	Topics   []string `json:"topics"`
	Homepage string   `json:"homepage"`
	HTMLURL  string   `json:"html_url"`
	PushedAt string   `json:"pushed_at"`
}

var counts = message.NewPrinter(language.English)

// ParseRepo renders GitHub repository metadata as labelled lines.
func ParseRepo(body []byte) Result {
	var r repoJSON
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}
	}

	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	addCount := func(label string, n *int) {
		if n != nil {
			lines = append(lines, counts.Sprintf("%s: %d", label, *n))
		}
	}

	add("Repository", r.FullName)
	add("Description", r.Description)
	add("Primary language", r.Language)
	addCount("Stars", r.Stars)
	addCount("Forks", r.Forks)
	addCount("Open issues", r.OpenIssues)
	if r.License != nil {
		add("License", r.License.Name)
	}
	if len(r.Topics) > 0 {
		add("Topics", strings.Join(r.Topics, ", "))
	}
	add("Homepage", r.Homepage)
	add("URL", r.HTMLURL)

	return Result{
		Text:        truncate(strings.Join(lines, "\n")),
		Title:       r.FullName,
		PublishedAt: parseDate(r.PushedAt),
	}
}
