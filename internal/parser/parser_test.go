package parser

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHTML_Title(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"plain", "<html><head><title>LangSmith Documentation</title></head><body><p>Hi</p></body></html>", "LangSmith Documentation"},
		{"entities", "<html><head><title>Braintrust &amp; Evaluation</title></head><body><p>x</p></body></html>", "Braintrust & Evaluation"},
		{"trimmed", "<title>\n  Langfuse Docs \n</title>", "Langfuse Docs"},
		{"missing", "<html><body><p>No title here</p></body></html>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseHTML(tt.html).Title)
		})
	}
}

func TestParseHTML_StripsChrome(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>T</title><style>.hidden { display: none; }</style></head><body>
		<script>var x = "should not appear";</script>
		<nav><p>Navigation link</p></nav>
		<header><p>Header text</p></header>
		<p>Main content</p>
		<footer><p>Footer text</p></footer>
		<noscript><p>Enable JS</p></noscript>
		<svg><text>icon</text></svg>
	</body></html>`

	res := ParseHTML(html)
	assert.Equal(t, "Main content", res.Text)
}

func TestParseHTML_TagOrderAndWhitespace(t *testing.T) {
	t.Parallel()

	html := `<body>
		<li>List item one</li>
		<p>First   paragraph
		   with <b>bold</b>details.</p>
		<h2>Sub Heading</h2>
		<p>   </p>
		<table><tr><td>cell &lt;1&gt;</td></tr></table>
		<blockquote>quoted</blockquote>
	</body>`

	res := ParseHTML(html)
	want := strings.Join([]string{
		"First paragraph with bold details.",
		"List item one",
		"Sub Heading",
		"cell <1>",
		"quoted",
	}, "\n")
	assert.Equal(t, want, res.Text)
}

func TestParseHTML_Truncates(t *testing.T) {
	t.Parallel()

	res := ParseHTML("<p>" + strings.Repeat("A", 4000) + "</p>")
	assert.Equal(t, strings.Repeat("A", MaxTextLength)+"...", res.Text)

	// whitespace at the cut is trimmed before the marker
	cut := truncate(strings.Repeat("A", 2998) + "  " + strings.Repeat("B", 1000))
	assert.Equal(t, strings.Repeat("A", 2998)+"...", cut)

	short := ParseHTML("<p>Short content here.</p>")
	assert.Equal(t, "Short content here.", short.Text)
}

func TestTruncate_CountsRunes(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("é", 3500)
	out := truncate(s)
	assert.Equal(t, MaxTextLength+3, utf8.RuneCountInString(out))
	assert.True(t, utf8.ValidString(out))
}

func TestParseHTML_PublishedAt(t *testing.T) {
	t.Parallel()

	day := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	at := func(v time.Time) *time.Time { return &v }

	tests := []struct {
		name string
		html string
		want *time.Time
	}{
		{
			name: "article meta",
			html: `<head><meta property="article:published_time" content="2025-11-15T10:00:00Z"></head><p>x</p>`,
			want: at(time.Date(2025, 11, 15, 10, 0, 0, 0, time.UTC)),
		},
		{
			name: "datePublished meta",
			html: `<head><meta name="datePublished" content="2025-08-20"></head><p>x</p>`,
			want: day(2025, 8, 20),
		},
		{
			name: "json-ld",
			html: `<head><script type="application/ld+json">{"@type": "Article", "datePublished": "2025-06-01T12:00:00Z"}</script></head><p>x</p>`,
			want: at(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		},
		{
			name: "time element",
			html: `<body><time datetime="2025-03-10">March 10, 2025</time><p>x</p></body>`,
			want: day(2025, 3, 10),
		},
		{
			name: "article meta wins over time element",
			html: `<head><meta property="article:published_time" content="2024-01-01"></head><time datetime="2025-03-10"></time>`,
			want: day(2024, 1, 1),
		},
		{
			name: "unparseable first value is null",
			html: `<head><meta property="article:published_time" content="last tuesday"></head><time datetime="2025-03-10"></time>`,
			want: nil,
		},
		{
			name: "none",
			html: `<p>No date here</p>`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseHTML(tt.html).PublishedAt
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
		})
	}
}

func TestParseHTML_EmptyInput(t *testing.T) {
	t.Parallel()
	res := ParseHTML("")
	assert.Equal(t, Result{}, res)
}

func readmeBody(name, markdown string) []byte {
	enc := base64.StdEncoding.EncodeToString([]byte(markdown))
	// GitHub wraps base64 content at 60 columns.
	var wrapped strings.Builder
	for i := 0; i < len(enc); i += 60 {
		end := min(i+60, len(enc))
		wrapped.WriteString(enc[i:end])
		wrapped.WriteString(`\n`)
	}
	return []byte(`{"name":"` + name + `","content":"` + wrapped.String() + `"}`)
}

func TestParseReadme(t *testing.T) {
	t.Parallel()

	md := "# Langfuse\n\n" +
		"[![CI](https://img.shields.io/badge.svg)](https://ci)\n" +
		"**Open source** LLM engineering platform. See the [docs](https://langfuse.com/docs).\n\n\n\n" +
		"![diagram](https://x/y.png)\n" +
		"```bash\ndocker compose up\n```\n" +
		"Run `npx langfuse` to start.\n" +
		"---\n" +
		"<p align=\"center\">Self-host with _Docker_</p>\n"

	res := ParseReadme(readmeBody("README.md", md))

	assert.Equal(t, "Langfuse", res.Title)
	assert.Nil(t, res.PublishedAt)
	assert.Contains(t, res.Text, "Open source LLM engineering platform. See the docs.")
	assert.Contains(t, res.Text, "diagram")
	assert.Contains(t, res.Text, "Run npx langfuse to start.")
	assert.Contains(t, res.Text, "Self-host with Docker")
	assert.NotContains(t, res.Text, "docker compose up")
	assert.NotContains(t, res.Text, "shields.io")
	assert.NotContains(t, res.Text, "#")
	assert.NotContains(t, res.Text, "---")
	assert.NotContains(t, res.Text, "\n\n\n")
}

func TestParseReadme_EdgeCases(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Result{Title: "README.md"}, ParseReadme([]byte(`{"name":"README.md","content":""}`)))
	assert.Equal(t, Result{}, ParseReadme([]byte(`null`)))
	assert.Equal(t, Result{}, ParseReadme([]byte(`{not json`)))
	assert.Equal(t, Result{Title: "README.md"}, ParseReadme([]byte(`{"name":"README.md","content":"%%%"}`)))
}

func TestStripMarkdown_Emphasis(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bold and italic and both", StripMarkdown("**bold** and *italic* and ***both***"))
	assert.Equal(t, "under and score", StripMarkdown("__under__ and _score_"))
	assert.Equal(t, "keep snake_case_names", StripMarkdown("keep snake_case_names"))
}

func TestParseRepo(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"full_name": "langfuse/langfuse",
		"description": "Open source LLM engineering platform",
		"language": "TypeScript",
		"stargazers_count": 21500,
		"forks_count": 2100,
		"open_issues_count": 0,
		"license": {"name": "MIT License"},
		"topics": ["llm", "observability"],
		"homepage": "https://langfuse.com",
		"html_url": "https://github.com/langfuse/langfuse",
		"pushed_at": "2026-09-01T08:30:00Z"
	}`)

	res := ParseRepo(body)
	want := strings.Join([]string{
		"Repository: langfuse/langfuse",
		"Description: Open source LLM engineering platform",
		"Primary language: TypeScript",
		"Stars: 21,500",
		"Forks: 2,100",
		"Open issues: 0",
		"License: MIT License",
		"Topics: llm, observability",
		"Homepage: https://langfuse.com",
		"URL: https://github.com/langfuse/langfuse",
	}, "\n")

	assert.Equal(t, want, res.Text)
	assert.Equal(t, "langfuse/langfuse", res.Title)
	require.NotNil(t, res.PublishedAt)
	assert.Equal(t, time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC), *res.PublishedAt)
}

func TestParseRepo_Sparse(t *testing.T) {
	t.Parallel()

	res := ParseRepo([]byte(`{"full_name":"a/b","license":null,"topics":[]}`))
	assert.Equal(t, "Repository: a/b", res.Text)
	assert.Nil(t, res.PublishedAt)

	assert.Equal(t, Result{}, ParseRepo([]byte(`[1,2,3]`)))
	assert.Equal(t, Result{}, ParseRepo(nil))
}

func TestKindFor(t *testing.T) {
	t.Parallel()

	tests := map[string]Kind{
		"https://api.github.com/repos/langfuse/langfuse/readme": KindReadme,
		"https://api.github.com/repos/langfuse/langfuse":        KindRepo,
		"https://langfuse.com/docs/readme":                      KindHTML,
		"https://github.com/langfuse/langfuse/readme":           KindHTML,
		"https://langfuse.com/docs":                             KindHTML,
		"::not a url":                                           KindHTML,
	}
	for u, want := range tests {
		assert.Equal(t, want, KindFor(u), u)
	}
	assert.True(t, KindRepo.IsJSON())
	assert.False(t, KindHTML.IsJSON())
	assert.Equal(t, "readme", KindReadme.String())
}
