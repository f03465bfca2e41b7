// Package catalog turns discovered topics into deduplicated catalog entries.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/iter"

	"magnetcatalog/internal/document"
	"magnetcatalog/internal/fetcher"
	"magnetcatalog/internal/magnet"
	"magnetcatalog/internal/metrics"
	"magnetcatalog/internal/normalize"
	"magnetcatalog/internal/storage"
	"magnetcatalog/pkg/types"
)

// PosterLocalizer rewrites a remote poster URL, typically to a local copy.
type PosterLocalizer interface {
	Localize(ctx context.Context, src string) string
}

// BuilderOptions tunes per-topic processing.
type BuilderOptions struct {
	Concurrency      int
	AddedLayout      string
	PlaceholderImage string
}

// Builder fetches topic pages and turns every magnet on them into an entry.
type Builder struct {
	fetcher    fetcher.Fetcher
	normalizer *normalize.Normalizer
	associator *magnet.Associator
	posters    PosterLocalizer
	opts       BuilderOptions
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Run
}

// NewBuilder wires a Builder. posters may be nil.
func NewBuilder(f fetcher.Fetcher, n *normalize.Normalizer, a *magnet.Associator, posters PosterLocalizer, opts BuilderOptions, logger *slog.Logger, run *metrics.Run) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.AddedLayout == "" {
		opts.AddedLayout = time.DateTime
	}
	return &Builder{
		fetcher:    f,
		normalizer: n,
		associator: a,
		posters:    posters,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
		metrics:    run,
	}
}

// topicResult is the tagged outcome of one topic.
type topicResult struct {
	topic   types.TopicCandidate
	entries []types.CatalogEntry
	err     error
}

// BuildStats summarises a Build call.
type BuildStats struct {
	Topics  int
	Skipped int
	Empty   int
}

// Build processes topics concurrently and concatenates their entries in
// topic order. A failing topic is logged and skipped.
func (b *Builder) Build(ctx context.Context, topics []types.TopicCandidate) ([]types.CatalogEntry, BuildStats) {
	mapper := iter.Mapper[types.TopicCandidate, topicResult]{MaxGoroutines: b.opts.Concurrency}
	results := mapper.Map(topics, func(t *types.TopicCandidate) topicResult {
		return b.processTopic(ctx, *t)
	})

	stats := BuildStats{Topics: len(topics)}
	var entries []types.CatalogEntry
	for _, res := range results {
		if res.err != nil {
			stats.Skipped++
			b.logger.Warn("topic skipped", "topic", res.topic.RawAnchorText, "href", res.topic.Href, "error", res.err)
			continue
		}
		if len(res.entries) == 0 {
			stats.Empty++
		}
		entries = append(entries, res.entries...)
	}
	return entries, stats
}

func (b *Builder) processTopic(ctx context.Context, topic types.TopicCandidate) topicResult {
	res := topicResult{topic: topic}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}
	if topic.URL == nil {
		res.err = fmt.Errorf("topic %q has no url", topic.Href)
		b.metrics.ObserveTopic("invalid")
		return res
	}

	page, err := fetcher.FetchOK(ctx, b.fetcher, types.FetchRequest{URL: topic.URL, Purpose: "topic"})
	if err != nil {
		res.err = fmt.Errorf("fetch topic: %w", err)
		b.metrics.ObserveTopic("fetch_error")
		return res
	}
	doc, err := document.Parse(page)
	if err != nil {
		res.err = fmt.Errorf("parse topic: %w", err)
		b.metrics.ObserveTopic("parse_error")
		return res
	}

	magnets := magnet.Extract(doc)
	if len(magnets) == 0 {
		b.metrics.ObserveTopic("no_magnets")
		b.logger.Debug("topic has no magnets", "url", topic.URL.String())
		return res
	}

	image := PickPoster(doc, b.opts.PlaceholderImage)
	if b.posters != nil && image != b.opts.PlaceholderImage {
		image = b.posters.Localize(ctx, image)
	}
	added := b.now().Format(b.opts.AddedLayout)
	nctx := normalize.Context{Doc: doc, URL: topic.URL}

	for _, frag := range b.associator.Associate(doc, topic.RawAnchorText, magnets) {
		st := b.normalizer.Normalize(frag.Text, nctx)
		entry := types.NewCatalogEntry(frag.Text, frag.Magnet, topic.URL.String(), image, added, st)
		entry.ID = storage.EntryID(frag.Magnet)
		if info, err := magnet.Inspect(frag.Magnet); err == nil {
			entry.InfoHash = info.InfoHash
		} else {
			b.logger.Debug("magnet without parseable info hash", "url", topic.URL.String(), "error", err)
		}
		res.entries = append(res.entries, entry)
	}
	b.metrics.ObserveTopic("ok")
	return res
}
