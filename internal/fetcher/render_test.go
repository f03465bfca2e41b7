package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"magnetcatalog/pkg/types"
)

func TestNewChromedpRendererDefaults(t *testing.T) {
	r := NewChromedpRenderer(RenderOptions{UserAgent: "  ", WaitForSelector: " .ipsType_pageTitle "}, nil)
	if r.opts.Timeout != 30*time.Second || r.opts.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected timing defaults %+v", r.opts)
	}
	if r.opts.MaxBodyBytes != 5<<20 || cap(r.sessions) != 1 {
		t.Fatalf("unexpected limits %+v sessions=%d", r.opts, cap(r.sessions))
	}
	if r.opts.UserAgent != defaultBrowserUserAgent || r.opts.WaitForSelector != ".ipsType_pageTitle" {
		t.Fatalf("unexpected normalisation %+v", r.opts)
	}
	if len(r.actions("https://mirror.example/", &snapshot{})) != 5 {
		t.Fatal("expected navigate, clearance, selector, html and location actions")
	}
}

func TestRenderRequiresURL(t *testing.T) {
	r := NewChromedpRenderer(RenderOptions{}, discardLogger())
	if _, err := r.Render(context.Background(), types.FetchRequest{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestRenderGivesUpWhileSessionsAreBusy(t *testing.T) {
	r := NewChromedpRenderer(RenderOptions{ConcurrentSessions: 1}, discardLogger())
	r.sessions <- struct{}{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, types.FetchRequest{URL: mustURL(t, "https://mirror.example/")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRenderedPageFollowsRedirectAndCapsBody(t *testing.T) {
	r := NewChromedpRenderer(RenderOptions{MaxBodyBytes: 16}, discardLogger())
	requested := mustURL(t, "https://mirror.example/index.php")

	page, err := r.page(requested, snapshot{
		html:     "<html><body>1TamilMV forum index</body></html>",
		location: "https://mirror.example/index.php?/forums/",
	}, time.Second)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page.Body) != 16 || !page.Rendered || page.StatusCode != http.StatusOK {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.FinalURL.RawQuery != "/forums/" || page.URL != requested {
		t.Fatalf("unexpected urls %s -> %s", page.URL, page.FinalURL)
	}

	page, err = r.page(requested, snapshot{html: "<html></html>", location: "about:blank"}, 0)
	if err != nil || page.FinalURL != requested {
		t.Fatalf("expected requested url to stand, got %v %v", page, err)
	}
}

func TestRenderedPageRejectsSurvivingChallenge(t *testing.T) {
	r := NewChromedpRenderer(RenderOptions{}, discardLogger())
	_, err := r.page(mustURL(t, "https://mirror.example/"), snapshot{html: "<title>Just a moment...</title>"}, 0)
	var challenge *ChallengeError
	if !errors.As(err, &challenge) {
		t.Fatalf("expected ChallengeError, got %v", err)
	}
}

func TestChromedpRendererRendersScriptedPage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping headless browser test in short mode")
	}
	found := false
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no chrome binary on PATH")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body><div id="topics"></div><script>
			setTimeout(function () {
				document.getElementById("topics").innerHTML = '<a href="/forums/topic/1-leo/">Leo (2023) Tamil</a>';
			}, 50);
		</script></body></html>`)
	}))
	defer srv.Close()

	r := NewChromedpRenderer(RenderOptions{Timeout: 20 * time.Second, WaitForSelector: "#topics a"}, discardLogger())
	page, err := r.Render(context.Background(), types.FetchRequest{URL: mustURL(t, srv.URL), Purpose: "homepage"})
	if err != nil {
		t.Skipf("browser could not start: %v", err)
	}
	if !strings.Contains(string(page.Body), "/forums/topic/1-leo/") {
		t.Fatalf("script output missing from rendered body: %s", page.Body)
	}
}
