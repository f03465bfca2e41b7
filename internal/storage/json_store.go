package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"magnetcatalog/pkg/types"
)

// JSONStore keeps the catalog as a single JSON array on disk.
type JSONStore struct {
	path string

	mu      sync.Mutex
	modTime int64
	cached  []types.CatalogEntry
}

// NewJSONStore returns a store backed by path. The file need not exist yet.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("json store path must be provided")
	}
	return &JSONStore{path: path}, nil
}

// Path returns the file the store writes to.
func (s *JSONStore) Path() string { return s.path }

// Save replaces the file atomically with entries, in order.
func (s *JSONStore) Save(ctx context.Context, entries []types.CatalogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = []types.CatalogEntry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return writeFileAtomic(s.path, buf.Bytes(), 0o644)
}

// Load reads every entry from disk. A missing file is an empty catalog.
// The decoded slice is cached until the file's modification time changes.
func (s *JSONStore) Load(ctx context.Context) ([]types.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.CatalogEntry{}, nil
		}
		return nil, fmt.Errorf("stat catalog: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && info.ModTime().UnixNano() == s.modTime {
		return s.cached, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entries []types.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = EntryID(entries[i].Magnet)
		}
	}
	s.cached = entries
	s.modTime = info.ModTime().UnixNano()
	return entries, nil
}

// List filters and paginates the stored entries.
func (s *JSONStore) List(ctx context.Context, q Query) (ListResult, error) {
	entries, err := s.Load(ctx)
	if err != nil {
		return ListResult{}, err
	}
	return Paginate(entries, q), nil
}

// Get returns the entry with the given id.
func (s *JSONStore) Get(ctx context.Context, id string) (types.CatalogEntry, error) {
	entries, err := s.Load(ctx)
	if err != nil {
		return types.CatalogEntry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return types.CatalogEntry{}, ErrNotFound
}

// writeFileAtomic writes to a temp file in the target directory and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filepath.Clean(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("write temp: %w", writeErr)
		}
		return fmt.Errorf("close temp: %w", closeErr)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}
