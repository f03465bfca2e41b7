package types

import (
	"net/http"
	"net/url"
	"time"
)

// FetchRequest models a single page retrieval issued by the pipeline.
type FetchRequest struct {
	URL     *url.URL
	Render  bool
	Purpose string
}

// Page represents the fetched content.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}

// Base returns the URL relative links on the page resolve against.
func (p *Page) Base() *url.URL {
	if p == nil {
		return nil
	}
	if p.FinalURL != nil {
		return p.FinalURL
	}
	return p.URL
}

// OK reports whether the page was served with a 2xx status.
func (p *Page) OK() bool {
	return p != nil && p.StatusCode >= 200 && p.StatusCode < 300
}
