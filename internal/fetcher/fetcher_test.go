package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"magnetcatalog/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestHTTPFetcherDecodesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		_, _ = bw.Write([]byte("<html>1TamilMV</html>"))
		_ = bw.Close()
		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Options{UserAgent: "test"})
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	page, err := f.Fetch(context.Background(), types.FetchRequest{URL: mustURL(t, srv.URL)})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != "<html>1TamilMV</html>" {
		t.Fatalf("unexpected body %q", page.Body)
	}
	if !page.OK() {
		t.Fatalf("expected OK page, got %d", page.StatusCode)
	}
}

func TestHTTPFetcherBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(Options{MaxBodyBytes: 16})
	_, err := f.Fetch(context.Background(), types.FetchRequest{URL: mustURL(t, srv.URL)})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestFetchOKRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(Options{})
	_, err := FetchOK(context.Background(), f, types.FetchRequest{URL: mustURL(t, srv.URL)})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 FetchError, got %v", err)
	}
	if fe.Retryable() {
		t.Fatal("404 must not be retryable")
	}
	if !errors.Is(err, ErrBadStatus) {
		t.Fatal("expected ErrBadStatus in chain")
	}
}

func TestRetryingRecoversFrom5xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	base, _ := NewHTTPFetcher(Options{})
	f := WithRetry(base, 3, time.Millisecond, discardLogger())
	page, err := f.Fetch(context.Background(), types.FetchRequest{URL: mustURL(t, srv.URL)})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != "ok" || hits.Load() != 3 {
		t.Fatalf("expected success on third attempt, hits=%d", hits.Load())
	}
}

func TestRetryingStopsOn404(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	base, _ := NewHTTPFetcher(Options{})
	f := WithRetry(base, 3, time.Millisecond, discardLogger())
	if _, err := f.Fetch(context.Background(), types.FetchRequest{URL: mustURL(t, srv.URL)}); err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestDetectChallenge(t *testing.T) {
	page := &types.Page{
		URL:        mustURL(t, "https://mirror.example"),
		StatusCode: http.StatusForbidden,
		Headers:    http.Header{"Server": []string{"cloudflare"}},
		Body:       []byte("<title>Just a moment...</title>"),
	}
	if DetectChallenge(page) == nil {
		t.Fatal("expected challenge")
	}

	page.StatusCode = http.StatusOK
	if DetectChallenge(page) != nil {
		t.Fatal("a 200 behind the CDN is content, not a challenge")
	}
}

type fakeRenderer struct {
	calls atomic.Int32
	body  string
}

func (r *fakeRenderer) Render(ctx context.Context, req types.FetchRequest) (*types.Page, error) {
	r.calls.Add(1)
	return &types.Page{URL: req.URL, FinalURL: req.URL, StatusCode: http.StatusOK, Body: []byte(r.body), Rendered: true}, nil
}

func TestCompositeRendersChallengePages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Checking your browser before accessing"))
	}))
	defer srv.Close()

	base, _ := NewHTTPFetcher(Options{})
	renderer := &fakeRenderer{body: "<html>rendered</html>"}
	c := NewComposite(base, renderer, discardLogger())

	page, err := c.Fetch(context.Background(), types.FetchRequest{URL: mustURL(t, srv.URL)})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !page.Rendered || renderer.calls.Load() != 1 {
		t.Fatalf("expected rendered page, calls=%d", renderer.calls.Load())
	}
}

func TestHostLimiterSpacesRequests(t *testing.T) {
	l := NewHostLimiter(20*time.Millisecond, RateLimiterSettings{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "Mirror.Example"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected at least 40ms of spacing, got %s", elapsed)
	}
}

func TestHostLimiterHonoursCancellation(t *testing.T) {
	l := NewHostLimiter(time.Hour, RateLimiterSettings{})
	_ = l.Wait(context.Background(), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
