// Package discovery selects topic links from the homepage and, optionally,
// from episodic category pages linked from it.
package discovery

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sourcegraph/conc/iter"

	"magnetcatalog/internal/document"
	"magnetcatalog/internal/fetcher"
	"magnetcatalog/internal/metrics"
	"magnetcatalog/pkg/types"
)

const (
	SourceHomepage = "homepage"
	SourceCategory = "category"
)

// Options bounds discovery.
type Options struct {
	MaxTopics            int
	MinAnchorText        int
	EpisodicPass         bool
	Keywords             []string
	ListingSelector      string
	MaxCategoryPages     int
	MaxTopicsPerCategory int
	Concurrency          int
}

// Discoverer turns a homepage into an ordered list of topic candidates.
type Discoverer struct {
	fetcher  fetcher.Fetcher
	opts     Options
	keywords map[string]struct{}
	logger   *slog.Logger
	metrics  *metrics.Run
}

// New constructs a Discoverer. f is only used by the episodic pass.
func New(f fetcher.Fetcher, opts Options, logger *slog.Logger, run *metrics.Run) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	keywords := make(map[string]struct{}, len(opts.Keywords))
	for _, k := range opts.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords[k] = struct{}{}
		}
	}
	return &Discoverer{fetcher: f, opts: opts, keywords: keywords, logger: logger, metrics: run}
}

// Discover returns the homepage topics followed by any episodic extras.
// Category page failures are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, homepage *document.Document) []types.TopicCandidate {
	topics := d.Topics(homepage)
	d.logger.Info("homepage topics discovered", "count", len(topics))
	if !d.opts.EpisodicPass {
		return topics
	}

	pages := d.CategoryPages(homepage)
	if len(pages) == 0 {
		d.logger.Info("no episodic category pages linked from homepage")
		return topics
	}

	mapper := iter.Mapper[*url.URL, []types.TopicCandidate]{MaxGoroutines: d.opts.Concurrency}
	listings := mapper.Map(pages, func(u **url.URL) []types.TopicCandidate {
		return d.fetchListing(ctx, *u)
	})

	seen := newSeenSet()
	for _, t := range topics {
		seen.add(t.URL)
	}
	extras := 0
	for _, listing := range listings {
		for _, t := range listing {
			if !seen.add(t.URL) {
				continue
			}
			topics = append(topics, t)
			extras++
		}
	}
	d.logger.Info("episodic topics discovered", "category_pages", len(pages), "count", extras)
	return topics
}

// Topics applies the homepage rule: a real path-like href that is not a
// magnet and whose text is longer than the configured minimum.
func (d *Discoverer) Topics(doc *document.Document) []types.TopicCandidate {
	var out []types.TopicCandidate
	for _, a := range doc.Anchors() {
		if d.opts.MaxTopics > 0 && len(out) >= d.opts.MaxTopics {
			break
		}
		if a.Href == "" || isMagnet(a.Href) || !strings.Contains(a.Href, "/") {
			continue
		}
		if utf8.RuneCountInString(a.Text) <= d.opts.MinAnchorText {
			continue
		}
		u, err := doc.Resolve(a.Href)
		if err != nil {
			d.logger.Debug("skipping unresolvable topic link", "href", a.Href, "error", err)
			continue
		}
		out = append(out, types.TopicCandidate{RawAnchorText: a.Text, Href: a.Href, URL: u, Source: SourceHomepage})
	}
	return out
}

// CategoryPages returns same-host links whose href path mentions an episodic
// keyword or whose text carries one as a whole token, in document order and
// without repeats.
func (d *Discoverer) CategoryPages(doc *document.Document) []*url.URL {
	if len(d.keywords) == 0 {
		return nil
	}
	base := doc.Base()
	seen := newSeenSet()
	var out []*url.URL
	for _, a := range doc.Anchors() {
		if d.opts.MaxCategoryPages > 0 && len(out) >= d.opts.MaxCategoryPages {
			break
		}
		if a.Href == "" || isMagnet(a.Href) {
			continue
		}
		if !d.hrefMentionsKeyword(a.Href) && !d.matchesKeyword(a.Text) {
			continue
		}
		u, err := doc.Resolve(a.Href)
		if err != nil {
			continue
		}
		if base != nil && !strings.EqualFold(u.Hostname(), base.Hostname()) {
			continue
		}
		if seen.add(u) {
			out = append(out, u)
		}
	}
	return out
}

// Listing applies the narrower listing-item rule used on category pages.
func (d *Discoverer) Listing(doc *document.Document) []types.TopicCandidate {
	var out []types.TopicCandidate
	for _, a := range doc.AnchorsIn(d.opts.ListingSelector) {
		if d.opts.MaxTopicsPerCategory > 0 && len(out) >= d.opts.MaxTopicsPerCategory {
			break
		}
		if a.Href == "" || a.Text == "" || isMagnet(a.Href) {
			continue
		}
		u, err := doc.Resolve(a.Href)
		if err != nil {
			continue
		}
		out = append(out, types.TopicCandidate{RawAnchorText: a.Text, Href: a.Href, URL: u, Source: SourceCategory})
	}
	return out
}

func (d *Discoverer) fetchListing(ctx context.Context, u *url.URL) []types.TopicCandidate {
	logger := d.logger.With("category_url", u.String())
	page, err := fetcher.FetchOK(ctx, d.fetcher, types.FetchRequest{URL: u, Purpose: "category"})
	if err != nil {
		d.metrics.ObserveCategoryPage("fetch_error")
		logger.Warn("category page fetch failed", "error", err)
		return nil
	}
	doc, err := document.Parse(page)
	if err != nil {
		d.metrics.ObserveCategoryPage("parse_error")
		logger.Warn("category page parse failed", "error", err)
		return nil
	}
	listing := d.Listing(doc)
	d.metrics.ObserveCategoryPage("ok")
	logger.Debug("category page listed", "topics", len(listing))
	return listing
}

func (d *Discoverer) matchesKeyword(s string) bool {
	for _, tok := range tokens(s) {
		if _, ok := d.keywords[tok]; ok {
			return true
		}
	}
	return false
}

// hrefMentionsKeyword matches keywords anywhere in the path and query, so
// slugs like "21-tvshows" count. The host is ignored.
func (d *Discoverer) hrefMentionsKeyword(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return d.matchesKeyword(href)
	}
	target := strings.ToLower(u.Path + "?" + u.RawQuery)
	for k := range d.keywords {
		if strings.Contains(target, k) {
			return true
		}
	}
	return false
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isMagnet(href string) bool {
	return strings.HasPrefix(strings.ToLower(href), "magnet:")
}
