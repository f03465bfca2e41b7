package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"magnetcatalog/internal/fetcher"
	"magnetcatalog/pkg/types"
)

func newTestResolver(t *testing.T, f fetcher.Fetcher) *Resolver {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(f, Options{IdentityMarkers: []string{"1TamilMV", "Tamil Movie"}, ProbeTimeout: time.Second}, logger, nil)
}

func newHTTPFetcher(t *testing.T) fetcher.Fetcher {
	t.Helper()
	f, err := fetcher.NewHTTPFetcher(fetcher.Options{UserAgent: "test"})
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	return f
}

type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newCountingServer(status int, body string) *countingServer {
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	return cs
}

func TestResolvePicksFirstLiveMirrorInOrder(t *testing.T) {
	a := newCountingServer(http.StatusBadGateway, "down")
	defer a.Close()
	b := newCountingServer(http.StatusOK, "<title>1TamilMV - Home</title>")
	defer b.Close()
	c := newCountingServer(http.StatusOK, "<title>1TamilMV - Home</title>")
	defer c.Close()

	r := newTestResolver(t, newHTTPFetcher(t))
	endpoint, err := r.Resolve(context.Background(), []string{a.URL, b.URL, c.URL})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint.Base.Host != b.Listener.Addr().String() {
		t.Fatalf("expected mirror B, got %s", endpoint)
	}
	if a.hits.Load() != 1 || b.hits.Load() != 1 || c.hits.Load() != 0 {
		t.Fatalf("unexpected probe counts a=%d b=%d c=%d", a.hits.Load(), b.hits.Load(), c.hits.Load())
	}
	if endpoint.Homepage == nil || len(endpoint.Homepage.Body) == 0 {
		t.Fatal("expected homepage to be retained")
	}
}

func TestResolveRejectsPagesWithoutMarker(t *testing.T) {
	parked := newCountingServer(http.StatusOK, "<html>This domain is for sale</html>")
	defer parked.Close()

	r := newTestResolver(t, newHTTPFetcher(t))
	_, err := r.Resolve(context.Background(), []string{parked.URL})
	var nle *NoLiveEndpointError
	if !errors.As(err, &nle) {
		t.Fatalf("expected NoLiveEndpointError, got %v", err)
	}
	if !errors.Is(err, ErrNoLiveEndpoint) {
		t.Fatal("expected errors.Is(err, ErrNoLiveEndpoint)")
	}
	if len(nle.Attempts) != 1 || nle.Attempts[0].Status != StatusNoMarker {
		t.Fatalf("unexpected attempts %+v", nle.Attempts)
	}
}

func TestResolveExhaustsAllCandidates(t *testing.T) {
	bad := newCountingServer(http.StatusNotFound, "1TamilMV")
	defer bad.Close()

	r := newTestResolver(t, newHTTPFetcher(t))
	_, err := r.Resolve(context.Background(), []string{"://broken", bad.URL, "http://127.0.0.1:1"})
	var nle *NoLiveEndpointError
	if !errors.As(err, &nle) {
		t.Fatalf("expected NoLiveEndpointError, got %v", err)
	}
	got := nle.Candidates()
	if len(got) != 3 || got[1] != bad.URL {
		t.Fatalf("unexpected candidates %v", got)
	}
	if nle.Attempts[0].Status != StatusInvalidURL || nle.Attempts[1].Status != StatusBadStatus {
		t.Fatalf("unexpected statuses %+v", nle.Attempts)
	}
}

type recordingFetcher struct {
	mu    sync.Mutex
	order []string
	live  string
}

func (f *recordingFetcher) Fetch(ctx context.Context, req types.FetchRequest) (*types.Page, error) {
	f.mu.Lock()
	f.order = append(f.order, req.URL.Host)
	f.mu.Unlock()
	if req.URL.Host == f.live {
		return &types.Page{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("Tamil Movie")}, nil
	}
	return nil, &fetcher.FetchError{URL: req.URL.String(), Err: errors.New("connection refused")}
}

func TestResolveProbesSequentially(t *testing.T) {
	f := &recordingFetcher{live: "c.example"}
	r := newTestResolver(t, f)
	endpoint, err := r.Resolve(context.Background(), []string{"https://a.example", "https://b.example", "https://c.example"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint.Base.Host != "c.example" {
		t.Fatalf("unexpected endpoint %s", endpoint)
	}
	want := []string{"a.example", "b.example", "c.example"}
	for i := range want {
		if f.order[i] != want[i] {
			t.Fatalf("probe order = %v, want %v", f.order, want)
		}
	}
}

func TestResolveTimesOutSlowMirror(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(newHTTPFetcher(t), Options{IdentityMarkers: []string{"1TamilMV"}, ProbeTimeout: 50 * time.Millisecond}, logger, nil)
	_, err := r.Resolve(context.Background(), []string{slow.URL})
	var nle *NoLiveEndpointError
	if !errors.As(err, &nle) || nle.Attempts[0].Status != StatusTimeout {
		t.Fatalf("expected timeout attempt, got %v", err)
	}
}
