package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"magnetcatalog/pkg/types"
)

const defaultBrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// RenderOptions configures the headless browser used when a mirror answers
// with an anti-bot interstitial instead of the forum page.
type RenderOptions struct {
	Timeout            time.Duration
	WaitForSelector    string
	PollInterval       time.Duration
	UserAgent          string
	MaxBodyBytes       int64
	DisableHeadless    bool
	ConcurrentSessions int
}

// ChromedpRenderer loads a page in headless Chrome and waits for the
// challenge to clear before exporting the DOM.
type ChromedpRenderer struct {
	opts     RenderOptions
	sessions chan struct{}
	logger   *slog.Logger
}

// NewChromedpRenderer constructs a renderer that runs at most
// ConcurrentSessions browsers at a time.
func NewChromedpRenderer(opts RenderOptions, logger *slog.Logger) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	opts.UserAgent = strings.TrimSpace(opts.UserAgent)
	if opts.UserAgent == "" {
		opts.UserAgent = defaultBrowserUserAgent
	}
	opts.WaitForSelector = strings.TrimSpace(opts.WaitForSelector)
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:     opts,
		sessions: make(chan struct{}, opts.ConcurrentSessions),
		logger:   logger,
	}
}

// snapshot is what a browser session hands back.
type snapshot struct {
	html     string
	location string
}

// Render navigates to req.URL, polls until no challenge marker remains and
// returns the rendered document.
func (r *ChromedpRenderer) Render(ctx context.Context, req types.FetchRequest) (*types.Page, error) {
	if req.URL == nil {
		return nil, errors.New("render: request has no url")
	}
	target := req.URL.String()
	logger := r.logger.With("url", target, "purpose", req.Purpose)

	select {
	case r.sessions <- struct{}{}:
		defer func() { <-r.sessions }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	start := time.Now()
	var snap snapshot
	if err := chromedp.Run(tabCtx, r.actions(target, &snap)...); err != nil {
		logger.Warn("render failed", "error", err, "elapsed", time.Since(start))
		return nil, &FetchError{URL: target, Err: fmt.Errorf("render: %w", err)}
	}

	page, err := r.page(req.URL, snap, time.Since(start))
	if err != nil {
		logger.Warn("challenge survived render", "elapsed", time.Since(start))
		return nil, err
	}
	logger.Debug("render complete", "final_url", page.FinalURL.String(), "bytes", len(page.Body), "elapsed", page.ResponseLatency)
	return page, nil
}

func (r *ChromedpRenderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	return append(opts,
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(r.opts.UserAgent),
	)
}

func (r *ChromedpRenderer) actions(target string, snap *snapshot) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.Navigate(target),
		r.waitForClearance(),
	}
	if r.opts.WaitForSelector != "" {
		actions = append(actions, chromedp.WaitReady(r.opts.WaitForSelector, chromedp.ByQuery))
	}
	return append(actions,
		chromedp.OuterHTML("html", &snap.html, chromedp.ByQuery),
		chromedp.Location(&snap.location),
	)
}

// waitForClearance polls the live DOM until the document has loaded and no
// challenge marker is left. The session timeout bounds the wait.
func (r *ChromedpRenderer) waitForClearance() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(r.opts.PollInterval)
		defer ticker.Stop()
		for {
			var state struct {
				Ready string `json:"ready"`
				Text  string `json:"text"`
			}
			err := chromedp.Evaluate(`({ready: document.readyState, text: document.documentElement.outerHTML})`, &state).Do(ctx)
			if err != nil {
				return err
			}
			if state.Ready == "complete" && !challenged([]byte(state.Text)) {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// page converts a browser snapshot into a Page, capping the body and
// following any redirect the challenge performed.
func (r *ChromedpRenderer) page(requested *url.URL, snap snapshot, latency time.Duration) (*types.Page, error) {
	body := []byte(snap.html)
	if int64(len(body)) > r.opts.MaxBodyBytes {
		body = body[:r.opts.MaxBodyBytes]
	}
	if challenged(body) {
		return nil, &ChallengeError{URL: requested.String(), Header: "rendered-body", Value: "challenge markers present"}
	}
	final := requested
	if snap.location != "" {
		if u, err := url.Parse(snap.location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			final = u
		}
	}
	return &types.Page{
		URL:             requested,
		FinalURL:        final,
		Body:            body,
		ContentType:     "text/html; charset=utf-8",
		StatusCode:      http.StatusOK,
		Headers:         http.Header{},
		FetchedAt:       time.Now(),
		Rendered:        true,
		ResponseLatency: latency,
	}, nil
}

func challenged(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range challengeBodyMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
