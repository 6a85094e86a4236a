// Package parser turns fetched bodies into plain text, a title and an
// optional publication date.
package parser

import (
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxTextLength is the rune limit applied to extracted text.
const MaxTextLength = 3000

// Result is the parsed content of one page.
type Result struct {
	Text        string
	Title       string
	PublishedAt *time.Time
}

// Kind selects the parser for a URL.
type Kind int

const (
	KindHTML Kind = iota
	KindReadme
	KindRepo
)

func (k Kind) String() string {
	switch k {
	case KindReadme:
		return "readme"
	case KindRepo:
		return "repo"
	default:
		return "html"
	}
}

// IsJSON reports whether the kind expects a JSON body.
func (k Kind) IsJSON() bool {
	return k != KindHTML
}

// KindFor routes a URL: on api.github.com a path ending in /readme is a
// readme and anything else is repository metadata. Every other host is HTML.
func KindFor(rawURL string) Kind {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Hostname(), "api.github.com") {
		return KindHTML
	}
	if strings.HasSuffix(strings.ToLower(strings.TrimSuffix(u.Path, "/")), "/readme") {
		return KindReadme
	}
	return KindRepo
}

// Parse dispatches body to the parser for kind.
func Parse(kind Kind, body []byte) Result {
	switch kind {
	case KindReadme:
		return ParseReadme(body)
	case KindRepo:
		return ParseRepo(body)
	default:
		return ParseHTML(string(body))
	}
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxTextLength {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:MaxTextLength]), unicode.IsSpace) + "..."
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
}

// parseDate returns nil when s matches none of the accepted layouts.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
