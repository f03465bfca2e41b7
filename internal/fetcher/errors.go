package fetcher

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"magnetcatalog/pkg/types"
)

// ErrBadStatus marks a response that arrived but was not a 2xx.
var ErrBadStatus = errors.New("unexpected status")

// FetchError reports a failed page retrieval. StatusCode is zero when no response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
func (e *FetchError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// ChallengeError is returned when a response is an anti-bot interstitial rather than content.
type ChallengeError struct {
	URL    string
	Header string
	Value  string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("anti-bot challenge on %s (%s: %s)", e.URL, e.Header, e.Value)
}

var challengeBodyMarkers = [][]byte{
	[]byte("checking your browser"),
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("just a moment..."),
}

// DetectChallenge inspects a page for a Cloudflare-style challenge. A CF-RAY
// header alone is not enough; the origin may simply sit behind the CDN.
func DetectChallenge(page *types.Page) *ChallengeError {
	if page == nil {
		return nil
	}
	rawURL := ""
	if page.URL != nil {
		rawURL = page.URL.String()
	}
	if v := page.Headers.Get("Cf-Mitigated"); v != "" {
		return &ChallengeError{URL: rawURL, Header: "Cf-Mitigated", Value: v}
	}
	server := strings.ToLower(page.Headers.Get("Server"))
	if !strings.Contains(server, "cloudflare") && page.Headers.Get("Cf-Ray") == "" {
		return nil
	}
	if page.StatusCode != http.StatusForbidden && page.StatusCode != http.StatusServiceUnavailable && page.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	lower := bytes.ToLower(page.Body)
	for _, marker := range challengeBodyMarkers {
		if bytes.Contains(lower, marker) {
			return &ChallengeError{URL: rawURL, Header: "Server", Value: page.Headers.Get("Server")}
		}
	}
	return nil
}
