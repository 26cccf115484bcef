package research

import (
	"fmt"
	"net/url"
	"strings"
)

// Source is one citation found in search output.
type Source struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// ExtractSources returns the markdown links in text whose targets are http(s)
// URLs, deduplicated by URL in first-seen order. Link text may nest brackets
// and targets may hold balanced parentheses. Links with blank text or an
// unparseable URL are skipped.
func ExtractSources(text string) []Source {
	sources := []Source{}
	seen := make(map[string]struct{})
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		title, rawURL, end, ok := scanLink(text, i)
		if !ok {
			continue
		}
		i = end - 1

		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		if _, dup := seen[rawURL]; dup {
			continue
		}
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Hostname() == "" {
			continue
		}

		seen[rawURL] = struct{}{}
		sources = append(sources, Source{
			Title:  title,
			URL:    rawURL,
			Domain: parsed.Hostname(),
		})
	}
	return sources
}

// scanLink reads a [title](url) link starting at the '[' at start and
// returns the offset just past its closing ')'.
func scanLink(text string, start int) (title, target string, end int, ok bool) {
	closeBracket := matching(text, start, '[', ']', false)
	if closeBracket < 0 || closeBracket+1 >= len(text) || text[closeBracket+1] != '(' {
		return "", "", 0, false
	}
	open := closeBracket + 1
	rest := text[open+1:]
	if !strings.HasPrefix(rest, "http://") && !strings.HasPrefix(rest, "https://") {
		return "", "", 0, false
	}
	closeParen := matching(text, open, '(', ')', true)
	if closeParen < 0 {
		return "", "", 0, false
	}
	return text[start+1 : closeBracket], text[open+1 : closeParen], closeParen + 1, true
}

// matching returns the index of the delimiter closing the one at start, or
// -1. With stopAtSpace, whitespace ends the search unmatched.
func matching(text string, start int, open, closing byte, stopAtSpace bool) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch c := text[i]; {
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return i
			}
		case stopAtSpace && (c == ' ' || c == '\t' || c == '\n' || c == '\r'):
			return -1
		}
	}
	return -1
}

// FormatSources renders sources as a numbered list for the synthesis prompt.
func FormatSources(sources []Source) string {
	if len(sources) == 0 {
		return "No sources found."
	}

	var b strings.Builder
	for i, src := range sources {
		title := src.Title
		if title == "" {
			title = src.Domain
		}
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, title, src.Domain, src.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}
