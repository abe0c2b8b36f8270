package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the crawler engine.
type Config struct {
	DB        SQLConfig       `yaml:"db"`
	Worker    WorkerConfig    `yaml:"worker"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Robots    RobotsConfig    `yaml:"robots"`
	Rendering RenderingConfig `yaml:"rendering"`
	Logging   LoggingConfig   `yaml:"logging"`
	Output    OutputConfig    `yaml:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
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

// Enabled reports whether a database sink is configured.
func (c SQLConfig) Enabled() bool {
	return c.Driver != "" && c.DSN != ""
}

// WorkerConfig controls concurrency, retry behaviour, and queue sizing.
type WorkerConfig struct {
	Concurrency  int      `yaml:"concurrency"`
	QueueSize    int      `yaml:"queue_size"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// CrawlConfig controls the product walk, limits, and throttling.
type CrawlConfig struct {
	BaseURL            string            `yaml:"base_url"`
	Seeds              []string          `yaml:"seeds"`
	MaxPages           int               `yaml:"max_pages"`
	UserAgent          string            `yaml:"user_agent"`
	Headers            map[string]string `yaml:"headers"`
	ProxyURL           string            `yaml:"proxy_url"`
	PerDomainDelay     Duration          `yaml:"per_domain_delay"`
	RateLimitPerDomain RateLimitConfig   `yaml:"rate_limit_per_domain"`
	RequestTimeout     Duration          `yaml:"request_timeout"`
	MaxBodyBytes       int64             `yaml:"max_body_bytes"`
	FixtureDir         string            `yaml:"fixture_dir"`
	CloudflareBypass   bool              `yaml:"cloudflare_bypass"`
}

// RateLimitConfig applies a token bucket per domain.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
	CacheSize int      `yaml:"cache_size"`
}

// RenderingConfig controls optional JavaScript rendering.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// OutputConfig controls the JSON file sink. An empty directory disables it.
type OutputConfig struct {
	Directory string `yaml:"directory"`
}

// TelemetryConfig controls trace export. An empty endpoint keeps the no-op tracer.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Headers      map[string]string `yaml:"headers"`
	ServiceName  string            `yaml:"service_name"`
}

// MetricsConfig controls the Prometheus listener. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Worker: WorkerConfig{
			Concurrency:  4,
			QueueSize:    256,
			MaxRetries:   0,
			RetryBackoff: DurationFrom(500 * time.Millisecond),
		},
		Crawl: CrawlConfig{
			BaseURL:        "https://store.epicgames.com/en-US/p/",
			MaxPages:       0,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
			Headers:        map[string]string{},
			PerDomainDelay: DurationFrom(500 * time.Millisecond),
			RequestTimeout: DurationFrom(20 * time.Second),
			MaxBodyBytes:   8 * 1024 * 1024,
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			UserAgent: "gamecrawler",
			CacheTTL:  DurationFrom(6 * time.Hour),
			CacheSize: 64,
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(30 * time.Second),
			WaitForSelector:    "script",
			ConcurrentSessions: 2,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
		DB: SQLConfig{
			MaxOpenConns: 4,
			MaxIdleConns: 2,
			AutoMigrate:  true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "gamecrawler",
		},
	}
}

// Load reads the YAML file at path, merges <name>.local.<ext> over it when
// present, and validates the result.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	if err := decodeYAML(fh, &cfg); err != nil {
		return nil, err
	}
	if err := mergeLocal(path, &cfg); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg Config) (*Config, error) {
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplySeeds replaces the configured seeds, normalises them and re-validates.
func (c *Config) ApplySeeds(seeds []string) error {
	c.Crawl.Seeds = seeds
	c.normalise()
	return c.Validate()
}

// LocalPath returns the override file consulted for path: config.yaml becomes config.local.yaml.
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

func mergeLocal(path string, cfg *Config) error {
	localPath := LocalPath(path)
	fh, err := os.Open(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open local config: %w", err)
	}
	defer fh.Close()

	var override Config
	if err := decodeYAML(fh, &override); err != nil {
		return fmt.Errorf("local config: %w", err)
	}
	if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge local config: %w", err)
	}
	slog.Info("merged config with local overrides", "local", localPath)
	return nil
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

// Validate enforces required invariants for the crawler configuration.
func (c Config) Validate() error {
	for i, seed := range c.Crawl.Seeds {
		if seed == "" {
			return fmt.Errorf("seed %d is empty", i)
		}
		if strings.Contains(seed, "/") {
			return fmt.Errorf("seed %q must be a page slug, not a path", seed)
		}
	}
	base, err := url.Parse(c.Crawl.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("crawl.base_url must be an absolute url (got %q)", c.Crawl.BaseURL)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_retries must be >= 0 (got %d)", c.Worker.MaxRetries)
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0 (got %d)", c.Crawl.MaxPages)
	}
	if rl := c.Crawl.RateLimitPerDomain; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit_per_domain.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Crawl.MaxBodyBytes <= 0 {
		return fmt.Errorf("crawl.max_body_bytes must be > 0 (got %d)", c.Crawl.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Crawl.UserAgent) == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	switch c.DB.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}
	if c.DB.Driver != "" && c.DB.DSN == "" {
		return errors.New("db.dsn must be set when db.driver is set")
	}
	return nil
}

func (c *Config) normalise() {
	cleaned := make([]string, 0, len(c.Crawl.Seeds))
	seen := make(map[string]struct{}, len(c.Crawl.Seeds))
	for _, seed := range c.Crawl.Seeds {
		seed = strings.Trim(strings.TrimSpace(seed), "/")
		if seed == "" {
			continue
		}
		if _, dup := seen[seed]; dup {
			continue
		}
		seen[seed] = struct{}{}
		cleaned = append(cleaned, seed)
	}
	c.Crawl.Seeds = cleaned

	c.Crawl.BaseURL = strings.TrimSpace(c.Crawl.BaseURL)
	if c.Crawl.BaseURL != "" && !strings.HasSuffix(c.Crawl.BaseURL, "/") {
		c.Crawl.BaseURL += "/"
	}
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Crawl.FixtureDir = strings.TrimSpace(c.Crawl.FixtureDir)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	if c.DB.Driver == "postgresql" {
		c.DB.Driver = "postgres"
	}
	c.Output.Directory = strings.TrimSpace(c.Output.Directory)
	if c.Crawl.Headers == nil {
		c.Crawl.Headers = make(map[string]string)
	}
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
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

// Enabled reports whether per-domain rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
