package discovery

import (
	"net/url"
	"strings"
)

// seenSet tracks canonical URLs. It is used from a single goroutine.
type seenSet map[string]struct{}

func newSeenSet() seenSet {
	return make(seenSet)
}

// add records u and reports whether it was new. A nil URL is never new.
func (s seenSet) add(u *url.URL) bool {
	if u == nil {
		return false
	}
	key := canonicalKey(u)
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}

func canonicalKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := strings.TrimSuffix(u.EscapedPath(), "/")
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
