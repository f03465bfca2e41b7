package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"magnetcatalog/internal/document"
	"magnetcatalog/internal/fetcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseAt(t *testing.T, base, body string) *document.Document {
	t.Helper()
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}
	doc, err := document.FromString(body, u)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	return doc
}

func TestTopicsAppliesHomepageRule(t *testing.T) {
	doc := parseAt(t, "https://mirror.example/", `
		<a href="/index.php?/forums/topic/1-leo/">Leo (2023) Tamil 1080p WEB-DL</a>
		<a href="">Empty href but long enough text</a>
		<a href="magnet:?xt=urn:btih:abc/def">Magnet with slash in it</a>
		<a href="#top">No path separator here at all</a>
		<a href="/login/">Login</a>
		<a href="/forums/topic/2-jailer/"><img src="x.jpg"></a>
		<a href="https://mirror.example/forums/topic/3-jawan/">Jawan (2023) Hindi HDRip</a>`)

	d := New(nil, Options{MaxTopics: 10, MinAnchorText: 10}, discardLogger(), nil)
	topics := d.Topics(doc)
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d: %+v", len(topics), topics)
	}
	if topics[0].RawAnchorText != "Leo (2023) Tamil 1080p WEB-DL" {
		t.Fatalf("unexpected first topic %+v", topics[0])
	}
	if got := topics[0].URL.String(); got != "https://mirror.example/index.php?/forums/topic/1-leo/" {
		t.Fatalf("unexpected resolved url %s", got)
	}
	if topics[1].Source != SourceHomepage {
		t.Fatalf("unexpected source %q", topics[1].Source)
	}
}

func TestTopicsTextMustExceedMinimum(t *testing.T) {
	doc := parseAt(t, "https://mirror.example/", `
		<a href="/t/1/">0123456789</a>
		<a href="/t/2/">01234567890</a>`)
	topics := New(nil, Options{MaxTopics: 10, MinAnchorText: 10}, discardLogger(), nil).Topics(doc)
	if len(topics) != 1 || topics[0].Href != "/t/2/" {
		t.Fatalf("expected only the 11 character anchor, got %+v", topics)
	}
}

func TestTopicsCapsAtMaxKeepingOrder(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, `<a href="/forums/topic/%d/">Release number %02d title</a>`, i, i)
	}
	doc := parseAt(t, "https://mirror.example/", b.String())
	topics := New(nil, Options{MaxTopics: 5, MinAnchorText: 10}, discardLogger(), nil).Topics(doc)
	if len(topics) != 5 {
		t.Fatalf("expected 5 topics, got %d", len(topics))
	}
	for i, topic := range topics {
		if want := fmt.Sprintf("/forums/topic/%d/", i); topic.Href != want {
			t.Fatalf("topic %d href = %s, want %s", i, topic.Href, want)
		}
	}
}

func TestCategoryPagesMatchesTextTokens(t *testing.T) {
	doc := parseAt(t, "https://mirror.example/", `
		<a href="/forums/forum/19-tamil-tv-shows/">Tamil Shows</a>
		<a href="/forums/forum/20-web-series/">Web</a>
		<a href="/forums/forum/21-hd-movies/">Television Movies</a>
		<a href="/forums/forum/19-tamil-tv-shows/#latest">again</a>
		<a href="https://other.example/tv/">Offsite TV</a>`)
	d := New(nil, Options{Keywords: []string{"TV", "series"}}, discardLogger(), nil)
	pages := d.CategoryPages(doc)
	if len(pages) != 2 {
		t.Fatalf("expected 2 category pages, got %v", pages)
	}
	if pages[0].Path != "/forums/forum/19-tamil-tv-shows/" || pages[1].Path != "/forums/forum/20-web-series/" {
		t.Fatalf("unexpected pages %v", pages)
	}
}

func TestCategoryPagesMatchesKeywordInsideHrefSlug(t *testing.T) {
	doc := parseAt(t, "https://mirror.example/", `
		<a href="/index.php?/forums/forum/21-tvshows/">Shows</a>
		<a href="/forums/forum/22-webseries/">Streaming</a>
		<a href="/forums/forum/23-dubbed/">Tvshowsdubbed</a>
		<a href="https://tv.example/forum/24-movies/">Elsewhere</a>`)
	d := New(nil, Options{Keywords: []string{"tv", "series"}}, discardLogger(), nil)
	pages := d.CategoryPages(doc)
	if len(pages) != 2 {
		t.Fatalf("expected 2 category pages, got %v", pages)
	}
	if pages[0].RawQuery != "/forums/forum/21-tvshows/" || pages[1].Path != "/forums/forum/22-webseries/" {
		t.Fatalf("unexpected pages %v", pages)
	}
}

func TestDiscoverAppendsEpisodicListings(t *testing.T) {
	var failing atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/forums/forum/tv-shows/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `
			<h4 class="ipsType_break"><a href="/forums/topic/100-the-office/">The Office (2005) S01 EP (01-06)</a></h4>
			<h4 class="ipsType_break"><a href="/forums/topic/1-leo/">Leo duplicate of homepage</a></h4>
			<a href="/forums/topic/101-sidebar/">Sidebar link not in listing</a>`)
	})
	mux.HandleFunc("/forums/forum/web-series/", func(w http.ResponseWriter, r *http.Request) {
		failing.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, err := fetcher.NewHTTPFetcher(fetcher.Options{UserAgent: "test"})
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	home := parseAt(t, srv.URL+"/", `
		<a href="/forums/topic/1-leo/">Leo (2023) Tamil 1080p WEB-DL</a>
		<a href="/forums/forum/web-series/">Web Series Collection</a>
		<a href="/forums/forum/tv-shows/">TV Shows</a>`)

	d := New(f, Options{
		MaxTopics:       10,
		MinAnchorText:   10,
		EpisodicPass:    true,
		Keywords:        []string{"tv", "series"},
		ListingSelector: "h4.ipsType_break a[href]",
		Concurrency:     2,
	}, discardLogger(), nil)

	topics := d.Discover(context.Background(), home)
	var hrefs []string
	for _, topic := range topics {
		hrefs = append(hrefs, topic.Href)
	}
	want := []string{"/forums/topic/1-leo/", "/forums/forum/web-series/", "/forums/topic/100-the-office/"}
	if strings.Join(hrefs, ",") != strings.Join(want, ",") {
		t.Fatalf("topics = %v, want %v", hrefs, want)
	}
	if topics[2].Source != SourceCategory {
		t.Fatalf("expected category source, got %q", topics[2].Source)
	}
	if failing.Load() == 0 {
		t.Fatal("expected the failing category page to be requested")
	}
}

func TestDiscoverWithoutEpisodicPassDoesNotFetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f, _ := fetcher.NewHTTPFetcher(fetcher.Options{UserAgent: "test"})
	home := parseAt(t, srv.URL+"/", `<a href="/forums/forum/tv-shows/">TV Shows category</a>`)
	topics := New(f, Options{MaxTopics: 10, MinAnchorText: 5, Keywords: []string{"tv"}}, discardLogger(), nil).
		Discover(context.Background(), home)
	if len(topics) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(topics))
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no requests, got %d", hits.Load())
	}
}

func TestCanonicalKey(t *testing.T) {
	a, _ := url.Parse("HTTPS://Mirror.Example:443/forums/topic/1/")
	b, _ := url.Parse("https://mirror.example/forums/topic/1")
	if canonicalKey(a) != canonicalKey(b) {
		t.Fatalf("keys differ: %s vs %s", canonicalKey(a), canonicalKey(b))
	}
}
