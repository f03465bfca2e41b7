package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMirrors, cfg.Mirrors.Candidates)
	assert.Equal(t, 100, cfg.Discovery.MaxTopics)
	assert.False(t, cfg.Discovery.EpisodicPass)
}

func TestLoadFromReaderMergesOverDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
mirrors:
  candidates:
    - https://www.1tamilmv.moi/
    - https://www.1tamilmv.fi
    - https://www.1tamilmv.moi
  probe_timeout: 5
discovery:
  max_topics: 25
  episodic_pass: true
  episodic_keywords: [Series, TV, tv]
fetch:
  retry_backoff: 1.5
  per_host_delay: 2s
  headers:
    Accept-Language: en-US
output:
  json_path: out/magnets.json
`))
	require.NoError(t, err)

	// order is a priority: duplicates dropped, trailing slash trimmed, order kept
	assert.Equal(t, []string{"https://www.1tamilmv.moi", "https://www.1tamilmv.fi"}, cfg.Mirrors.Candidates)
	assert.Equal(t, 5*time.Second, cfg.Mirrors.ProbeTimeout.Duration)
	assert.Equal(t, 25, cfg.Discovery.MaxTopics)
	assert.True(t, cfg.Discovery.EpisodicPass)
	assert.Equal(t, []string{"series", "tv"}, cfg.Discovery.EpisodicKeywords)
	assert.Equal(t, 1500*time.Millisecond, cfg.Fetch.RetryBackoff.Duration)
	assert.Equal(t, 2*time.Second, cfg.Fetch.PerHostDelay.Duration)
	assert.Equal(t, "en-US", cfg.Fetch.Headers["Accept-Language"])
	assert.Equal(t, "out/magnets.json", cfg.Output.JSONPath)
	// untouched sections keep their defaults
	assert.Equal(t, "h1, h2, h3, h4, strong", cfg.Extract.HeadingSelector)
	assert.Equal(t, "2006-01-02 15:04:05", cfg.Output.AddedLayout)
}

func TestLoadFromReaderEmptyDocument(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().Discovery.MaxTopics, cfg.Discovery.MaxTopics)
	assert.Equal(t, Default().Fetch.UserAgent, cfg.Fetch.UserAgent)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("discovery:\n  max_topic: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_topic")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no mirrors", func(c *Config) { c.Mirrors.Candidates = nil }, "at least one mirror"},
		{"relative mirror", func(c *Config) { c.Mirrors.Candidates = []string{"tamilmv"} }, "mirrors.candidates[0]"},
		{"no markers", func(c *Config) { c.Mirrors.IdentityMarkers = nil }, "identity_markers"},
		{"zero topics", func(c *Config) { c.Discovery.MaxTopics = 0 }, "discovery.max_topics must be > 0 (got 0)"},
		{"episodic without listing", func(c *Config) {
			c.Discovery.EpisodicPass = true
			c.Discovery.ListingSelector = ""
		}, "discovery.listing_selector"},
		{"zero workers", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"bad driver", func(c *Config) { c.DB.Driver = "mysql"; c.DB.DSN = "x" }, "db.driver must be postgres or sqlite"},
		{"driver without dsn", func(c *Config) { c.DB.Driver = "sqlite" }, "db.dsn"},
		{"media without dir", func(c *Config) { c.Media.Enabled = true }, "media.directory"},
		{"db source without db", func(c *Config) { c.API.Source = "db" }, "api.source db requires db.driver"},
		{"unknown source", func(c *Config) { c.API.Source = "redis" }, "api.source must be json or db"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  driver: SQLite\n  dsn: catalog.db\napi:\n  source: DB\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "db", cfg.API.Source)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDurationYAML(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("fetch:\n  timeout: 1m30s\n"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Fetch.Timeout.Duration)

	_, err = LoadFromReader(strings.NewReader("fetch:\n  timeout: soon\n"))
	require.Error(t, err)
}
