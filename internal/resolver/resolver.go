package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"magnetcatalog/internal/fetcher"
	"magnetcatalog/internal/metrics"
	"magnetcatalog/pkg/types"
)

// ErrNoLiveEndpoint is matched by NoLiveEndpointError via errors.Is.
var ErrNoLiveEndpoint = errors.New("no live endpoint")

// Status classifies a single mirror probe.
type Status string

const (
	StatusOK         Status = "ok"
	StatusBadStatus  Status = "bad_status"
	StatusNoMarker   Status = "no_marker"
	StatusChallenge  Status = "challenge"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
	StatusInvalidURL Status = "invalid_url"
)

// Attempt records the outcome of probing one candidate.
type Attempt struct {
	Candidate  string
	Status     Status
	StatusCode int
	Latency    time.Duration
	Err        error
}

// NoLiveEndpointError lists every candidate that was tried.
type NoLiveEndpointError struct {
	Attempts []Attempt
}

func (e *NoLiveEndpointError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		part := a.Candidate + " (" + string(a.Status)
		if a.StatusCode != 0 {
			part += fmt.Sprintf(" %d", a.StatusCode)
		}
		parts = append(parts, part+")")
	}
	return fmt.Sprintf("no live endpoint among %d candidates: %s", len(e.Attempts), strings.Join(parts, ", "))
}

func (e *NoLiveEndpointError) Is(target error) bool {
	return target == ErrNoLiveEndpoint
}

// Candidates returns the base URLs that were tried, in order.
func (e *NoLiveEndpointError) Candidates() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Candidate)
	}
	return out
}

// Endpoint is the mirror chosen for a run, together with the homepage that proved it live.
type Endpoint struct {
	Base     *url.URL
	Homepage *types.Page
}

// String returns the base URL.
func (e *Endpoint) String() string {
	if e == nil || e.Base == nil {
		return ""
	}
	return e.Base.String()
}

// Options tunes probing.
type Options struct {
	IdentityMarkers []string
	ProbeTimeout    time.Duration
}

// Resolver walks mirror candidates in priority order.
type Resolver struct {
	fetcher fetcher.Fetcher
	markers [][]byte
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Run
}

// New constructs a Resolver. f should not retry: a candidate gets exactly one probe.
func New(f fetcher.Fetcher, opts Options, logger *slog.Logger, run *metrics.Run) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 15 * time.Second
	}
	markers := make([][]byte, 0, len(opts.IdentityMarkers))
	for _, m := range opts.IdentityMarkers {
		if m != "" {
			markers = append(markers, []byte(m))
		}
	}
	return &Resolver{
		fetcher: f,
		markers: markers,
		timeout: opts.ProbeTimeout,
		logger:  logger,
		metrics: run,
	}
}

// Resolve probes candidates one at a time and returns the first live one.
func (r *Resolver) Resolve(ctx context.Context, candidates []string) (*Endpoint, error) {
	attempts := make([]Attempt, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endpoint, attempt := r.probe(ctx, candidate)
		attempts = append(attempts, attempt)
		r.metrics.ObserveProbe(string(attempt.Status))

		logger := r.logger.With("candidate", candidate, "status", attempt.Status, "latency_ms", attempt.Latency.Milliseconds())
		if attempt.Status == StatusOK {
			logger.Info("mirror accepted")
			return endpoint, nil
		}
		if attempt.Err != nil {
			logger = logger.With("error", attempt.Err)
		}
		logger.Warn("mirror rejected", "status_code", attempt.StatusCode)
	}
	return nil, &NoLiveEndpointError{Attempts: attempts}
}

func (r *Resolver) probe(ctx context.Context, candidate string) (*Endpoint, Attempt) {
	attempt := Attempt{Candidate: candidate}
	base, err := url.Parse(strings.TrimSpace(candidate))
	if err != nil || base.Host == "" {
		attempt.Status = StatusInvalidURL
		attempt.Err = err
		return nil, attempt
	}
	if base.Path == "" {
		base.Path = "/"
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	page, err := r.fetcher.Fetch(probeCtx, types.FetchRequest{URL: base, Purpose: "probe"})
	attempt.Latency = time.Since(start)
	if err != nil {
		attempt.Err = err
		attempt.Status = StatusError
		if errors.Is(err, context.DeadlineExceeded) || probeCtx.Err() != nil {
			attempt.Status = StatusTimeout
		}
		return nil, attempt
	}
	attempt.StatusCode = page.StatusCode
	if challenge := fetcher.DetectChallenge(page); challenge != nil {
		attempt.Status = StatusChallenge
		attempt.Err = challenge
		return nil, attempt
	}
	if !page.OK() {
		attempt.Status = StatusBadStatus
		return nil, attempt
	}
	if !r.hasMarker(page.Body) {
		attempt.Status = StatusNoMarker
		return nil, attempt
	}
	attempt.Status = StatusOK
	return &Endpoint{Base: base, Homepage: page}, attempt
}

func (r *Resolver) hasMarker(body []byte) bool {
	for _, m := range r.markers {
		if bytes.Contains(body, m) {
			return true
		}
	}
	return false
}
