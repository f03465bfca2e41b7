package types

import "net/url"

// MediaType classifies a release.
type MediaType string

const (
	MediaMovie    MediaType = "movie"
	MediaEpisodic MediaType = "episodic"
)

// TopicCandidate is a listing link that may lead to a topic page.
type TopicCandidate struct {
	RawAnchorText string
	Href          string
	URL           *url.URL
	Source        string
}

// StructuredTitle is the normalised view of a raw release title.
type StructuredTitle struct {
	CleanTitle  string
	MediaType   MediaType
	ShowName    string
	Season      string
	Episode     string
	Languages   []string
	Qualities   []string
	Category    string
	ReleaseYear string
}

// IsEpisodic reports whether both season and episode were decoded.
func (s StructuredTitle) IsEpisodic() bool {
	return s.MediaType == MediaEpisodic && s.Season != "" && s.Episode != ""
}

// CatalogEntry is one (topic, magnet) record of the published catalog.
type CatalogEntry struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	CleanTitle  string   `json:"cleanTitle"`
	Magnet      string   `json:"magnet"`
	InfoHash    string   `json:"infoHash,omitempty"`
	Link        string   `json:"link"`
	Image       string   `json:"image"`
	Languages   []string `json:"languages"`
	Qualities   []string `json:"qualities"`
	Category    string   `json:"category"`
	ReleaseYear string   `json:"releaseYear,omitempty"`
	Added       string   `json:"added"`
	IsEpisodic  bool     `json:"isEpisodic"`
	ShowName    string   `json:"showName,omitempty"`
	Season      string   `json:"season,omitempty"`
	Episode     string   `json:"episode,omitempty"`
}

// NewCatalogEntry flattens a structured title into the published record shape.
func NewCatalogEntry(rawTitle, magnet, link, image, added string, st StructuredTitle) CatalogEntry {
	entry := CatalogEntry{
		Title:       rawTitle,
		CleanTitle:  st.CleanTitle,
		Magnet:      magnet,
		Link:        link,
		Image:       image,
		Languages:   nonNil(st.Languages),
		Qualities:   nonNil(st.Qualities),
		Category:    st.Category,
		ReleaseYear: st.ReleaseYear,
		Added:       added,
	}
	if st.IsEpisodic() {
		entry.IsEpisodic = true
		entry.ShowName = st.ShowName
		entry.Season = st.Season
		entry.Episode = st.Episode
	}
	return entry
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
