// Package normalize turns free-text release titles into structured titles.
//
// Title text comes from an ordered chain of stages; the first stage that
// accepts the input wins. Languages, qualities, category and year are
// extracted independently of which stage fired.
package normalize

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"magnetcatalog/internal/document"
	"magnetcatalog/pkg/types"
)

// Uncategorized is used when no breadcrumb names a category.
const Uncategorized = "Uncategorized"

const (
	minProbeLength    = 6
	minMovieName      = 3
	minStrippedLength = 10
)

// Options carries the site vocabulary the normalizer needs.
type Options struct {
	NoiseMarkers       []string
	SiteNames          []string
	PlaceholderTitle   string
	PageTitleSelector  string
	BreadcrumbSelector string
}

// Context is the optional page context of a title.
type Context struct {
	Doc *document.Document
	URL *url.URL
}

type input struct {
	raw string
	ctx Context
}

type titleResult struct {
	clean     string
	mediaType types.MediaType
	show      string
	season    string
	episode   string
	year      string
}

type stage struct {
	name string
	run  func(input) (titleResult, bool)
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	opts   Options
	noise  []string
	chain  []stage
	probed []stage
}

// New builds a normalizer with the default stage order.
func New(opts Options) *Normalizer {
	if strings.TrimSpace(opts.PlaceholderTitle) == "" {
		opts.PlaceholderTitle = "Untitled Release"
	}
	n := &Normalizer{opts: opts}
	for _, m := range opts.NoiseMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			n.noise = append(n.noise, m)
		}
	}
	n.chain = []stage{
		{name: "episodic", run: episodicStage},
		{name: "episodic_alt", run: altEpisodicStage},
		{name: "noise", run: n.noiseStage},
		{name: "movie_year", run: movieYearStage},
		{name: "strip", run: stripStage},
	}
	// Probed replacement titles skip the noise stage so it cannot recurse.
	n.probed = []stage{n.chain[0], n.chain[1], n.chain[3], n.chain[4]}
	return n
}

// Normalize never fails; on total ambiguity the raw title is passed through.
func (n *Normalizer) Normalize(raw string, ctx Context) types.StructuredTitle {
	raw = collapseSpace(raw)
	res, stage := runChain(n.chain, input{raw: raw, ctx: ctx})

	out := types.StructuredTitle{
		CleanTitle:  res.clean,
		MediaType:   res.mediaType,
		Languages:   Languages(raw),
		Qualities:   Qualities(raw),
		Category:    n.Category(ctx.Doc),
		ReleaseYear: res.year,
	}
	// A probed title stands in for a noise title, but a year in the raw
	// title still takes precedence over one read from the page.
	if y := Year(raw); y != "" && (out.ReleaseYear == "" || stage == "noise") {
		out.ReleaseYear = y
	}
	if res.mediaType == types.MediaEpisodic && res.season != "" && res.episode != "" {
		out.ShowName = res.show
		out.Season = res.season
		out.Episode = res.episode
	} else {
		out.MediaType = types.MediaMovie
	}
	return out
}

// Stage reports which stage produced the title text, for diagnostics.
func (n *Normalizer) Stage(raw string, ctx Context) string {
	_, name := runChain(n.chain, input{raw: collapseSpace(raw), ctx: ctx})
	return name
}

func runChain(stages []stage, in input) (titleResult, string) {
	for _, s := range stages {
		if res, ok := s.run(in); ok {
			if res.mediaType == "" {
				res.mediaType = types.MediaMovie
			}
			return res, s.name
		}
	}
	return titleResult{clean: in.raw, mediaType: types.MediaMovie}, "passthrough"
}

func (n *Normalizer) isNoise(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	lower := strings.ToLower(text)
	for _, m := range n.noise {
		if containsWord(lower, m) {
			return true
		}
	}
	return false
}

// containsWord reports whether phrase occurs in s without being glued to a
// neighbouring letter or digit, so "sign up" does not match "design update".
func containsWord(s, phrase string) bool {
	if phrase == "" {
		return false
	}
	for from := 0; from <= len(s)-len(phrase); {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(phrase)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// noiseStage replaces branding and announcement titles with text probed from the page.
func (n *Normalizer) noiseStage(in input) (titleResult, bool) {
	if !n.isNoise(in.raw) {
		return titleResult{}, false
	}
	probes := []func(Context) string{
		n.pageTitleProbe,
		yearHeadingProbe,
		n.documentTitleProbe,
		slugProbe,
	}
	for _, probe := range probes {
		text := collapseSpace(probe(in.ctx))
		if runeLen(text) < minProbeLength || n.isNoise(text) {
			continue
		}
		res, _ := runChain(n.probed, input{raw: text, ctx: in.ctx})
		return res, true
	}
	return titleResult{clean: n.opts.PlaceholderTitle, mediaType: types.MediaMovie}, true
}

func (n *Normalizer) pageTitleProbe(ctx Context) string {
	if ctx.Doc == nil {
		return ""
	}
	return ctx.Doc.FirstText(n.opts.PageTitleSelector)
}

func yearHeadingProbe(ctx Context) string {
	if ctx.Doc == nil {
		return ""
	}
	for _, h := range ctx.Doc.FindAll("h1, h2, h3, h4, h5, h6") {
		if parenYearRe.MatchString(h.Text) {
			return h.Text
		}
	}
	return ""
}

func (n *Normalizer) documentTitleProbe(ctx Context) string {
	if ctx.Doc == nil {
		return ""
	}
	return stripSiteSuffix(ctx.Doc.Title(), n.opts.SiteNames)
}

var titleSeparators = []string{" - ", " | ", " – ", " — "}

func stripSiteSuffix(title string, siteNames []string) string {
	title = collapseSpace(title)
	best := -1
	for _, sep := range titleSeparators {
		idx := strings.LastIndex(title, sep)
		if idx <= 0 {
			continue
		}
		tail := strings.ToLower(title[idx+len(sep):])
		for _, site := range siteNames {
			if site != "" && strings.Contains(tail, strings.ToLower(site)) && idx > best {
				best = idx
			}
		}
	}
	if best > 0 {
		return strings.TrimSpace(title[:best])
	}
	for _, site := range siteNames {
		if strings.EqualFold(title, site) {
			return ""
		}
	}
	return title
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
