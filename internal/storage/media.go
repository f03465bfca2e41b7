package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"magnetcatalog/internal/config"
	"magnetcatalog/internal/fetcher"
	"magnetcatalog/pkg/types"
)

// Poster is a downloaded poster image.
type Poster struct {
	SourceURL   string
	ContentType string
	Data        []byte
}

// FileMediaStore writes poster binaries to the local filesystem, content addressed.
type FileMediaStore struct {
	baseDir string
}

// NewFileMediaStore constructs a filesystem-backed media store.
func NewFileMediaStore(baseDir string) (*FileMediaStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory must be provided")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &FileMediaStore{baseDir: baseDir}, nil
}

// Dir returns the root directory posters are written under.
func (s *FileMediaStore) Dir() string { return s.baseDir }

// SavePoster persists the image bytes to disk and returns the slash-separated relative path.
func (s *FileMediaStore) SavePoster(ctx context.Context, poster Poster) (string, error) {
	if s == nil || len(poster.Data) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(poster.Data)
	hash := hex.EncodeToString(sum[:])
	subdir := hash[:2]
	filename := hash[2:]
	if ext := pickImageExtension(poster.ContentType, poster.SourceURL); ext != "" {
		filename += "." + ext
	}
	relative := path.Join(subdir, filename)
	fullPath := filepath.Join(s.baseDir, subdir, filename)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create media subdir: %w", err)
	}
	if _, err := os.Stat(fullPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat media file: %w", err)
		}
		if err := os.WriteFile(fullPath, poster.Data, 0o644); err != nil {
			return "", fmt.Errorf("write media file: %w", err)
		}
	}
	return relative, nil
}

// PosterCache downloads remote posters into a FileMediaStore and hands back
// the public URL they are served under.
type PosterCache struct {
	store        *FileMediaStore
	fetcher      fetcher.Fetcher
	publicPrefix string
	maxSize      int64
	allowed      map[string]struct{}
	logger       *slog.Logger
}

// NewPosterCache builds a cache from media configuration.
func NewPosterCache(cfg config.MediaConfig, f fetcher.Fetcher, logger *slog.Logger) (*PosterCache, error) {
	store, err := NewFileMediaStore(cfg.Directory)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed[strings.ToLower(ct)] = struct{}{}
	}
	prefix := cfg.PublicPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &PosterCache{
		store:        store,
		fetcher:      f,
		publicPrefix: prefix,
		maxSize:      cfg.MaxSizeBytes,
		allowed:      allowed,
		logger:       logger,
	}, nil
}

// Store exposes the underlying media store.
func (c *PosterCache) Store() *FileMediaStore { return c.store }

// Localize downloads src and returns its public URL. Any failure returns src
// unchanged so a poster problem never drops an entry.
func (c *PosterCache) Localize(ctx context.Context, src string) string {
	if c == nil || src == "" {
		return src
	}
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return src
	}
	logger := c.logger.With("poster_url", src)
	page, err := fetcher.FetchOK(ctx, c.fetcher, types.FetchRequest{URL: u, Purpose: "poster"})
	if err != nil {
		logger.Debug("poster download failed", "error", err)
		return src
	}
	contentType := baseContentType(page.ContentType)
	if _, ok := c.allowed[contentType]; len(c.allowed) > 0 && !ok {
		logger.Debug("poster content type not allowed", "content_type", contentType)
		return src
	}
	if c.maxSize > 0 && int64(len(page.Body)) > c.maxSize {
		logger.Debug("poster too large", "bytes", len(page.Body))
		return src
	}
	relative, err := c.store.SavePoster(ctx, Poster{SourceURL: src, ContentType: contentType, Data: page.Body})
	if err != nil || relative == "" {
		logger.Warn("poster save failed", "error", err)
		return src
	}
	return c.publicPrefix + relative
}

func baseContentType(raw string) string {
	if mt, _, err := mime.ParseMediaType(raw); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func pickImageExtension(contentType, sourceURL string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "":
	default:
		if exts, err := mime.ExtensionsByType(contentType); err == nil {
			for _, ext := range exts {
				if ext != "" {
					return strings.TrimPrefix(ext, ".")
				}
			}
		}
	}
	if idx := strings.Index(sourceURL, "?"); idx >= 0 {
		sourceURL = sourceURL[:idx]
	}
	if dot := strings.LastIndex(sourceURL, "."); dot >= 0 && dot < len(sourceURL)-1 {
		ext := strings.ToLower(sourceURL[dot+1:])
		if len(ext) <= 5 && !strings.Contains(ext, "/") {
			return ext
		}
	}
	return ""
}
