package normalize

import (
	"strings"

	"magnetcatalog/internal/document"
)

type languageRule struct {
	code  string
	names []string
}

// Fixed output order; detection is a plain case-sensitive substring test.
var languageRules = []languageRule{
	{code: "TAM", names: []string{"Tamil", "TAM"}},
	{code: "TEL", names: []string{"Telugu", "TEL"}},
	{code: "HIN", names: []string{"Hindi", "HIN"}},
	{code: "KAN", names: []string{"Kannada", "KAN"}},
	{code: "MAL", names: []string{"Malayalam", "MAL"}},
	{code: "ENG", names: []string{"English", "ENG"}},
	{code: "JAP", names: []string{"Japanese", "JAP"}},
}

// Languages returns each language code whose name or code appears in raw, at most once.
func Languages(raw string) []string {
	out := make([]string, 0, 2)
	for _, rule := range languageRules {
		for _, name := range rule.names {
			if strings.Contains(raw, name) {
				out = append(out, rule.code)
				break
			}
		}
	}
	return out
}

type qualityRule struct {
	tag     string
	needles []string
}

var qualityRules = []qualityRule{
	{tag: "1080p", needles: []string{"1080p"}},
	{tag: "720p", needles: []string{"720p"}},
	{tag: "480p", needles: []string{"480p"}},
	{tag: "4K", needles: []string{"2160p", "4K", "UHD"}},
	{tag: "HDR", needles: []string{"HDR"}},
}

// Qualities returns the quality tags present in raw in priority order.
func Qualities(raw string) []string {
	out := make([]string, 0, 2)
	for _, rule := range qualityRules {
		for _, needle := range rule.needles {
			if strings.Contains(raw, needle) {
				out = append(out, rule.tag)
				break
			}
		}
	}
	return out
}

// Year returns the first parenthesised four-digit group of raw, or "".
func Year(raw string) string {
	if m := parenYearRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// Category returns the first breadcrumb entry linking into a forum.
func (n *Normalizer) Category(doc *document.Document) string {
	if doc == nil {
		return Uncategorized
	}
	for _, crumb := range doc.FindAll(n.opts.BreadcrumbSelector) {
		href, _ := crumb.Attr("href")
		if crumb.Text != "" && strings.Contains(href, "forum") {
			return crumb.Text
		}
	}
	return Uncategorized
}
