package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything a catalog run or the API server needs.
type Config struct {
	Mirrors   MirrorsConfig   `yaml:"mirrors"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Extract   ExtractConfig   `yaml:"extract"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Rendering RenderingConfig `yaml:"rendering"`
	Worker    WorkerConfig    `yaml:"worker"`
	Output    OutputConfig    `yaml:"output"`
	DB        SQLConfig       `yaml:"db"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
}

// MirrorsConfig lists candidate base URLs in priority order.
type MirrorsConfig struct {
	Candidates      []string `yaml:"candidates"`
	IdentityMarkers []string `yaml:"identity_markers"`
	ProbeTimeout    Duration `yaml:"probe_timeout"`
}

// DiscoveryConfig bounds topic discovery on the homepage and category pages.
type DiscoveryConfig struct {
	MaxTopics            int      `yaml:"max_topics"`
	MinAnchorText        int      `yaml:"min_anchor_text"`
	EpisodicPass         bool     `yaml:"episodic_pass"`
	EpisodicKeywords     []string `yaml:"episodic_keywords"`
	ListingSelector      string   `yaml:"listing_selector"`
	MaxCategoryPages     int      `yaml:"max_category_pages"`
	MaxTopicsPerCategory int      `yaml:"max_topics_per_category"`
}

// ExtractConfig tunes magnet to heading association.
type ExtractConfig struct {
	HeadingSelector string `yaml:"heading_selector"`
	MinHeadingText  int    `yaml:"min_heading_text"`
}

// NormalizeConfig holds the site-specific vocabulary used by the title normalizer.
type NormalizeConfig struct {
	NoiseMarkers       []string `yaml:"noise_markers"`
	SiteNames          []string `yaml:"site_names"`
	PlaceholderTitle   string   `yaml:"placeholder_title"`
	PageTitleSelector  string   `yaml:"page_title_selector"`
	BreadcrumbSelector string   `yaml:"breadcrumb_selector"`
}

// FetchConfig controls the HTTP transport shared by every request of a run.
type FetchConfig struct {
	UserAgent        string            `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers"`
	Timeout          Duration          `yaml:"timeout"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	ProxyURL         string            `yaml:"proxy_url"`
	PerHostDelay     Duration          `yaml:"per_host_delay"`
	RateLimitPerHost RateLimitConfig   `yaml:"rate_limit_per_host"`
	MaxRetries       int               `yaml:"max_retries"`
	RetryBackoff     Duration          `yaml:"retry_backoff"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RenderingConfig controls the headless browser fallback for challenge pages.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// WorkerConfig controls how many topics are processed at once.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// OutputConfig selects the file artefacts written after a run.
type OutputConfig struct {
	JSONPath         string `yaml:"json_path"`
	HTMLPath         string `yaml:"html_path"`
	AddedLayout      string `yaml:"added_layout"`
	PlaceholderImage string `yaml:"placeholder_image"`
}

// SQLConfig describes a relational database connection used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// MediaConfig controls poster downloads.
type MediaConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Directory           string   `yaml:"directory"`
	PublicPrefix        string   `yaml:"public_prefix"`
	MaxSizeBytes        int64    `yaml:"max_size_bytes"`
	AllowedContentTypes []string `yaml:"allowed_content_types"`
}

// LoggingConfig selects log verbosity, format and an optional rotating file.
type LoggingConfig struct {
	Level      string        `yaml:"level"`
	Structured bool          `yaml:"structured"`
	File       LogFileConfig `yaml:"file"`
}

// LogFileConfig mirrors the rotation knobs of lumberjack.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig points at an optional Prometheus textfile.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

// APIConfig configures the read-only catalog server.
type APIConfig struct {
	Addr   string `yaml:"addr"`
	Source string `yaml:"source"`
}

// DefaultMirrors is the mirror priority list used when none is configured.
var DefaultMirrors = []string{
	"https://www.1tamilmv.fi",
	"https://1tamilmv.fi",
	"https://www.1tamilmv.moi",
	"https://www.1tamilmv.bike",
	"https://www.1tamilmv.app",
	"https://www.1tamilmv.tel",
	"https://www.1tamilmv.legal",
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Mirrors: MirrorsConfig{
			Candidates:      append([]string(nil), DefaultMirrors...),
			IdentityMarkers: []string{"1TamilMV", "Tamil Movie"},
			ProbeTimeout:    DurationFrom(15 * time.Second),
		},
		Discovery: DiscoveryConfig{
			MaxTopics:            100,
			MinAnchorText:        10,
			EpisodicPass:         false,
			EpisodicKeywords:     []string{"tv", "series"},
			ListingSelector:      ".ipsDataItem_title a[href], h4.ipsType_break a[href]",
			MaxCategoryPages:     4,
			MaxTopicsPerCategory: 25,
		},
		Extract: ExtractConfig{
			HeadingSelector: "h1, h2, h3, h4, strong",
			MinHeadingText:  10,
		},
		Normalize: NormalizeConfig{
			NoiseMarkers: []string{
				"1tamilmv",
				"tamilmv",
				"sign in",
				"sign up",
				"login to",
				"log in to",
				"register now",
				"register to",
				"telegram",
				"join our channel",
				"official channel",
				"official announcement",
			},
			SiteNames:          []string{"1TamilMV", "TamilMV"},
			PlaceholderTitle:   "Untitled Release",
			PageTitleSelector:  ".ipsType_pageTitle",
			BreadcrumbSelector: ".ipsBreadcrumb li a",
		},
		Fetch: FetchConfig{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Headers:      map[string]string{},
			Timeout:      DurationFrom(15 * time.Second),
			MaxBodyBytes: 6 * 1024 * 1024,
			PerHostDelay: DurationFrom(250 * time.Millisecond),
			MaxRetries:   2,
			RetryBackoff: DurationFrom(500 * time.Millisecond),
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(30 * time.Second),
			ConcurrentSessions: 1,
		},
		Worker: WorkerConfig{
			Concurrency: 1,
		},
		Output: OutputConfig{
			JSONPath:         "magnets.json",
			HTMLPath:         "index.html",
			AddedLayout:      "2006-01-02 15:04:05",
			PlaceholderImage: "https://via.placeholder.com/300x450?text=No+Image",
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Media: MediaConfig{
			Enabled:      false,
			PublicPrefix: "/media/",
			MaxSizeBytes: 2 * 1024 * 1024,
			AllowedContentTypes: []string{
				"image/jpeg",
				"image/png",
				"image/webp",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
			File: LogFileConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 14,
			},
		},
		API: APIConfig{
			Addr:   ":8080",
			Source: "json",
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the configuration.
func (c Config) Validate() error {
	if len(c.Mirrors.Candidates) == 0 {
		return errors.New("at least one mirror candidate must be configured")
	}
	for i, raw := range c.Mirrors.Candidates {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("mirrors.candidates[%d] is not an absolute url: %q", i, raw)
		}
	}
	if len(c.Mirrors.IdentityMarkers) == 0 {
		return errors.New("mirrors.identity_markers must include at least one value")
	}
	if c.Mirrors.ProbeTimeout.Duration <= 0 {
		return fmt.Errorf("mirrors.probe_timeout must be > 0 (got %s)", c.Mirrors.ProbeTimeout)
	}
	if c.Discovery.MaxTopics <= 0 {
		return fmt.Errorf("discovery.max_topics must be > 0 (got %d)", c.Discovery.MaxTopics)
	}
	if c.Discovery.MinAnchorText < 0 {
		return fmt.Errorf("discovery.min_anchor_text must be >= 0 (got %d)", c.Discovery.MinAnchorText)
	}
	if c.Discovery.EpisodicPass {
		if len(c.Discovery.EpisodicKeywords) == 0 {
			return errors.New("discovery.episodic_keywords must be set when discovery.episodic_pass is true")
		}
		if strings.TrimSpace(c.Discovery.ListingSelector) == "" {
			return errors.New("discovery.listing_selector must be set when discovery.episodic_pass is true")
		}
	}
	if c.Discovery.MaxCategoryPages < 0 {
		return fmt.Errorf("discovery.max_category_pages must be >= 0 (got %d)", c.Discovery.MaxCategoryPages)
	}
	if c.Discovery.MaxTopicsPerCategory < 0 {
		return fmt.Errorf("discovery.max_topics_per_category must be >= 0 (got %d)", c.Discovery.MaxTopicsPerCategory)
	}
	if strings.TrimSpace(c.Extract.HeadingSelector) == "" {
		return errors.New("extract.heading_selector must be set")
	}
	if strings.TrimSpace(c.Normalize.PlaceholderTitle) == "" {
		return errors.New("normalize.placeholder_title must be set")
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.Timeout.Duration <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0 (got %s)", c.Fetch.Timeout)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if rl := c.Fetch.RateLimitPerHost; rl.Requests < 0 {
		return fmt.Errorf("fetch.rate_limit_per_host.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0 (got %d)", c.Fetch.MaxRetries)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if strings.TrimSpace(c.Output.AddedLayout) == "" {
		return errors.New("output.added_layout must be set")
	}
	switch c.DB.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("db.driver must be postgres or sqlite (got %q)", c.DB.Driver)
	}
	if c.DB.Driver != "" && c.DB.DSN == "" {
		return errors.New("db.dsn must be set when db.driver is configured")
	}
	if c.Media.Enabled {
		if strings.TrimSpace(c.Media.Directory) == "" {
			return errors.New("media.directory must be set when media.enabled is true")
		}
		if c.Media.MaxSizeBytes <= 0 {
			return fmt.Errorf("media.max_size_bytes must be > 0 (got %d)", c.Media.MaxSizeBytes)
		}
		if len(c.Media.AllowedContentTypes) == 0 {
			return errors.New("media.allowed_content_types must include at least one value")
		}
	}
	switch c.API.Source {
	case "json", "db":
	default:
		return fmt.Errorf("api.source must be json or db (got %q)", c.API.Source)
	}
	if c.API.Source == "db" && c.DB.Driver == "" {
		return errors.New("api.source db requires db.driver")
	}
	return nil
}

func (c *Config) normalise() {
	candidates := make([]string, 0, len(c.Mirrors.Candidates))
	seen := make(map[string]struct{}, len(c.Mirrors.Candidates))
	for _, raw := range c.Mirrors.Candidates {
		v := strings.TrimRight(strings.TrimSpace(raw), "/")
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		candidates = append(candidates, v)
	}
	// Mirror order is a priority and must survive normalisation.
	c.Mirrors.Candidates = candidates
	c.Mirrors.IdentityMarkers = trimAll(c.Mirrors.IdentityMarkers)

	c.Discovery.EpisodicKeywords = dedupeLower(c.Discovery.EpisodicKeywords)
	c.Discovery.ListingSelector = strings.TrimSpace(c.Discovery.ListingSelector)
	c.Extract.HeadingSelector = strings.TrimSpace(c.Extract.HeadingSelector)

	c.Normalize.NoiseMarkers = dedupeLower(c.Normalize.NoiseMarkers)
	c.Normalize.SiteNames = trimAll(c.Normalize.SiteNames)
	c.Normalize.PlaceholderTitle = strings.TrimSpace(c.Normalize.PlaceholderTitle)

	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = make(map[string]string)
	}
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.Media.Directory = strings.TrimSpace(c.Media.Directory)
	if len(c.Media.AllowedContentTypes) > 0 {
		c.Media.AllowedContentTypes = dedupeLower(c.Media.AllowedContentTypes)
	}
	c.API.Source = strings.ToLower(strings.TrimSpace(c.API.Source))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
