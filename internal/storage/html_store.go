package storage

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"magnetcatalog/pkg/types"
)

//go:embed templates/dashboard.html.tmpl
var templateFS embed.FS

var dashboardTemplate = template.Must(template.New("dashboard.html.tmpl").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"join":  strings.Join,
	"magnetURL": func(s string) template.URL {
		if strings.HasPrefix(s, "magnet:") {
			return template.URL(s)
		}
		return template.URL("#")
	},
	"qualityClass": func(q string) string {
		switch q {
		case "1080p":
			return "bg-info"
		case "720p":
			return "bg-secondary"
		case "4K":
			return "bg-danger"
		default:
			return "bg-warning text-dark"
		}
	},
}).ParseFS(templateFS, "templates/dashboard.html.tmpl"))

type languageOption struct {
	Code string
	Name string
}

var dashboardLanguages = []languageOption{
	{"TAM", "Tamil"},
	{"TEL", "Telugu"},
	{"HIN", "Hindi"},
	{"KAN", "Kannada"},
	{"MAL", "Malayalam"},
	{"ENG", "English"},
	{"JAP", "Japanese"},
}

var dashboardQualities = []string{"1080p", "720p", "480p", "4K", "HDR"}

type dashboardData struct {
	Title      string
	UpdatedAt  string
	Entries    []types.CatalogEntry
	Categories []string
	Qualities  []string
	Languages  []languageOption
}

// HTMLStore renders the catalog as a static, self-filtering dashboard page.
type HTMLStore struct {
	path  string
	title string
	now   func() time.Time
}

// NewHTMLStore returns a dashboard writer targeting path.
func NewHTMLStore(path string) (*HTMLStore, error) {
	if path == "" {
		return nil, errors.New("html store path must be provided")
	}
	return &HTMLStore{path: path, title: "1TamilMV Magnet Dashboard", now: time.Now}, nil
}

// Save renders entries and replaces the dashboard atomically.
func (s *HTMLStore) Save(ctx context.Context, entries []types.CatalogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := s.render(&buf, entries); err != nil {
		return err
	}
	return writeFileAtomic(s.path, buf.Bytes(), 0o644)
}

func (s *HTMLStore) render(buf *bytes.Buffer, entries []types.CatalogEntry) error {
	data := dashboardData{
		Title:      s.title,
		UpdatedAt:  s.now().UTC().Format("2006-01-02 15:04:05 UTC"),
		Entries:    entries,
		Categories: categories(entries),
		Qualities:  dashboardQualities,
		Languages:  dashboardLanguages,
	}
	if err := dashboardTemplate.Execute(buf, data); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}

func categories(entries []types.CatalogEntry) []string {
	set := make(map[string]struct{})
	for _, e := range entries {
		if e.Category != "" {
			set[e.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
