package magnet

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anacrolix/torrent/metainfo"

	"magnetcatalog/internal/document"
)

// Scheme prefixes every magnet identifier.
const Scheme = "magnet:"

// Extract returns the magnet URIs linked from doc in document order. Duplicates are kept.
func Extract(doc *document.Document) []string {
	var out []string
	for _, a := range doc.Anchors() {
		if strings.HasPrefix(a.Href, Scheme) {
			out = append(out, a.Href)
		}
	}
	return out
}

// Fragment is the title text associated with one magnet of a topic.
type Fragment struct {
	Magnet string
	Text   string
	// FromHeading is true when Text came from a section heading rather than the topic title.
	FromHeading bool
}

// Associator pairs magnets with section headings.
type Associator struct {
	headingSelector string
	minHeadingText  int
}

// NewAssociator builds an Associator. selector lists the heading kinds that delimit sections.
func NewAssociator(selector string, minHeadingText int) *Associator {
	if strings.TrimSpace(selector) == "" {
		selector = "h1, h2, h3, h4, strong"
	}
	return &Associator{headingSelector: selector, minHeadingText: minHeadingText}
}

// Associate assigns a title fragment to each magnet. With several magnets the
// i-th heading labels the i-th magnet, provided there are at least as many
// headings as magnets; otherwise every magnet shares the topic title.
func (a *Associator) Associate(doc *document.Document, topicTitle string, magnets []string) []Fragment {
	switch len(magnets) {
	case 0:
		return nil
	case 1:
		return []Fragment{{Magnet: magnets[0], Text: topicTitle}}
	}

	out := make([]Fragment, len(magnets))
	headings := doc.FindAll(a.headingSelector)
	paired := len(headings) >= len(magnets)
	for i, m := range magnets {
		out[i] = Fragment{Magnet: m, Text: topicTitle}
		if !paired {
			continue
		}
		if text := headings[i].Text; utf8.RuneCountInString(text) > a.minHeadingText {
			out[i].Text = text
			out[i].FromHeading = true
		}
	}
	return out
}

// Info is what can be read out of a magnet URI.
type Info struct {
	InfoHash    string
	DisplayName string
	Trackers    []string
}

// Inspect parses a magnet URI. Callers treat a failure as "opaque key", not as a reason to drop it.
func Inspect(uri string) (Info, error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return Info{}, fmt.Errorf("parse magnet: %w", err)
	}
	return Info{
		InfoHash:    strings.ToLower(m.InfoHash.HexString()),
		DisplayName: m.DisplayName,
		Trackers:    m.Trackers,
	}, nil
}
