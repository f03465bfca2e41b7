package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"magnetcatalog/internal/fetcher"
	"magnetcatalog/pkg/types"
)

const namespace = "magnet_catalog"

// Run holds the collectors for a single pipeline run. All methods are nil-safe.
type Run struct {
	registry      *prometheus.Registry
	probes        *prometheus.CounterVec
	topics        *prometheus.CounterVec
	categoryPages *prometheus.CounterVec
	entries       prometheus.Counter
	duplicates    prometheus.Counter
	fetchSeconds  *prometheus.HistogramVec
	finished      prometheus.Gauge
}

// NewRun registers the run collectors on a private registry.
func NewRun() *Run {
	r := &Run{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_probes_total",
			Help:      "Mirror probes by outcome.",
		}, []string{"outcome"}),
		topics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_total",
			Help:      "Topics processed by outcome.",
		}, []string{"outcome"}),
		categoryPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_pages_total",
			Help:      "Episodic category pages fetched by outcome.",
		}, []string{"outcome"}),
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Catalog entries emitted after deduplication.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_magnets_total",
			Help:      "Entries collapsed by the deduplicator.",
		}),
		fetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Page fetch latency by purpose.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"purpose"}),
		finished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(r.probes, r.topics, r.categoryPages, r.entries, r.duplicates, r.fetchSeconds, r.finished)
	return r
}

// Registry exposes the underlying registry for gathering.
func (r *Run) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Run) ObserveProbe(outcome string) {
	if r == nil {
		return
	}
	r.probes.WithLabelValues(outcome).Inc()
}

func (r *Run) ObserveTopic(outcome string) {
	if r == nil {
		return
	}
	r.topics.WithLabelValues(outcome).Inc()
}

func (r *Run) ObserveCategoryPage(outcome string) {
	if r == nil {
		return
	}
	r.categoryPages.WithLabelValues(outcome).Inc()
}

// ObserveCatalog records the deduplicated size and the number of collapsed entries.
func (r *Run) ObserveCatalog(entries, duplicates int) {
	if r == nil {
		return
	}
	r.entries.Add(float64(entries))
	r.duplicates.Add(float64(duplicates))
	r.finished.SetToCurrentTime()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Run) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

type instrumented struct {
	next fetcher.Fetcher
	run  *Run
}

// InstrumentFetcher records fetch latency per request purpose.
func InstrumentFetcher(next fetcher.Fetcher, run *Run) fetcher.Fetcher {
	if run == nil {
		return next
	}
	return &instrumented{next: next, run: run}
}

func (i *instrumented) Fetch(ctx context.Context, req types.FetchRequest) (*types.Page, error) {
	start := time.Now()
	page, err := i.next.Fetch(ctx, req)
	purpose := req.Purpose
	if purpose == "" {
		purpose = "other"
	}
	i.run.fetchSeconds.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
	return page, err
}
