package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mozillazg/go-unidecode"

	"magnetcatalog/pkg/types"
)

// ErrNotFound is returned by Reader.Get for unknown identifiers.
var ErrNotFound = errors.New("entry not found")

// Sink persists the final entries of a run.
type Sink interface {
	Save(ctx context.Context, entries []types.CatalogEntry) error
}

// Reader serves persisted entries back to the API.
type Reader interface {
	List(ctx context.Context, q Query) (ListResult, error)
	Get(ctx context.Context, id string) (types.CatalogEntry, error)
}

type namedSink struct {
	name string
	sink Sink
}

// Pipeline fans the final catalog out to every configured sink.
type Pipeline struct {
	sinks []namedSink
}

// NewPipeline constructs an empty storage pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Add registers a sink under a name used in error messages.
func (p *Pipeline) Add(name string, sink Sink) *Pipeline {
	if sink != nil {
		p.sinks = append(p.sinks, namedSink{name: name, sink: sink})
	}
	return p
}

// Len reports the number of registered sinks.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.sinks)
}

// Persist writes entries to every sink. A failing sink does not stop the others.
func (p *Pipeline) Persist(ctx context.Context, entries []types.CatalogEntry) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.sinks {
		if err := s.sink.Save(ctx, entries); err != nil {
			errs = append(errs, fmt.Errorf("%s store: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
	// maxOffset bounds Offset so it fits both int and a SQL OFFSET.
	maxOffset = math.MaxInt32
)

// Query filters and paginates entries.
type Query struct {
	Search   string
	Language string
	Quality  string
	Category string
	Type     string
	Page     int
	PageSize int
}

// ListResult wraps entries with pagination metadata.
type ListResult struct {
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Items    []types.CatalogEntry `json:"items"`
}

// Normalize clamps pagination and trims filters. Pages past the largest
// representable offset are clamped, which always yields an empty page.
func (q Query) Normalize() Query {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 || q.PageSize > maxPageSize {
		q.PageSize = defaultPageSize
	}
	if lastPage := maxOffset/q.PageSize + 1; q.Page > lastPage {
		q.Page = lastPage
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Language = strings.ToUpper(strings.TrimSpace(q.Language))
	q.Quality = strings.TrimSpace(q.Quality)
	q.Category = strings.TrimSpace(q.Category)
	q.Type = strings.ToLower(strings.TrimSpace(q.Type))
	return q
}

// Offset returns the number of matching entries before the requested page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Match reports whether e satisfies every filter of q. Search is matched
// against title and cleanTitle after folding both sides to lower-case ASCII.
func (q Query) Match(e types.CatalogEntry) bool {
	if q.Search != "" {
		needle := fold(q.Search)
		if !strings.Contains(fold(e.CleanTitle), needle) && !strings.Contains(fold(e.Title), needle) {
			return false
		}
	}
	if q.Language != "" && !contains(e.Languages, q.Language) {
		return false
	}
	if q.Quality != "" && !containsFold(e.Qualities, q.Quality) {
		return false
	}
	if q.Category != "" && !strings.EqualFold(e.Category, q.Category) {
		return false
	}
	switch q.Type {
	case string(types.MediaEpisodic):
		if !e.IsEpisodic {
			return false
		}
	case string(types.MediaMovie):
		if e.IsEpisodic {
			return false
		}
	}
	return true
}

// Paginate applies q to entries held in memory.
func Paginate(entries []types.CatalogEntry, q Query) ListResult {
	q = q.Normalize()
	matched := make([]types.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if q.Match(e) {
			matched = append(matched, e)
		}
	}
	result := ListResult{Total: len(matched), Page: q.Page, PageSize: q.PageSize, Items: []types.CatalogEntry{}}
	start := q.Offset()
	if start >= len(matched) {
		return result
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	result.Items = matched[start:end]
	return result
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(s)))
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
