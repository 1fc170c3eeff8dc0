package main

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/noticewatch/noticewatch/cmd/noticewatch/sources/g2b"
	"github.com/noticewatch/noticewatch/engine/aggregate"
	"github.com/noticewatch/noticewatch/engine/announce"
	"github.com/noticewatch/noticewatch/pkg/config"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

const defaultConfigPath = "config.yaml"

// Feed names.
const (
	feedNotices = "notices"
	feedEvents  = "events"
)

// Config is the noticewatch configuration.
type Config struct {
	Log         logger.Config `yaml:"log"`
	HTTP        HTTPConfig    `yaml:"http"`
	RulesFile   string        `yaml:"rules_file" env:"NOTICEWATCH_RULES_FILE"`
	Timezone    string        `yaml:"timezone" env:"NOTICEWATCH_TIMEZONE"`
	Concurrency int           `yaml:"concurrency" env:"NOTICEWATCH_CONCURRENCY"`
	Feeds       FeedsConfig   `yaml:"feeds"`
	IRIS        IRISConfig    `yaml:"iris"`
	G2B         G2BConfig     `yaml:"g2b"`
	Server      ServerConfig  `yaml:"server"`
	NATS        NATSConfig    `yaml:"nats"`
	Neo4j       Neo4jConfig   `yaml:"neo4j"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// HTTPConfig tunes the shared outbound client.
type HTTPConfig struct {
	UserAgent      string        `yaml:"user_agent" env:"NOTICEWATCH_USER_AGENT"`
	AcceptLanguage string        `yaml:"accept_language"`
	Timeout        time.Duration `yaml:"timeout" env:"NOTICEWATCH_HTTP_TIMEOUT"`
	MaxRedirects   int           `yaml:"max_redirects"`
	// Interval spaces requests to one host. Zero disables the limit.
	Interval        time.Duration `yaml:"interval" env:"NOTICEWATCH_HTTP_INTERVAL"`
	Burst           int           `yaml:"burst"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryWait       time.Duration `yaml:"retry_wait"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// FeedConfig configures one feed.
type FeedConfig struct {
	Sources []string `yaml:"sources"`
	// Threshold is the minimum kept score; null keeps everything.
	Threshold *int   `yaml:"threshold"`
	MaxPages  int    `yaml:"max_pages"`
	Output    string `yaml:"output"`
	SkipLog   string `yaml:"skip_log"`
	Rank      string `yaml:"rank"`
}

// FeedsConfig holds both feeds.
type FeedsConfig struct {
	Notices FeedConfig `yaml:"notices"`
	Events  FeedConfig `yaml:"events"`
}

// IRISConfig configures the IRIS adapter.
type IRISConfig struct {
	Programs     []string `yaml:"programs"`
	IncludeExtra bool     `yaml:"include_extra" env:"IRIS_INCLUDE_EXTRA"`
}

// G2BConfig configures the G2B adapter.
type G2BConfig struct {
	APIKey     string   `yaml:"api_key" env:"G2B_API_KEY"`
	BaseURL    string   `yaml:"base_url"`
	DaysBack   int      `yaml:"days_back"`
	Rows       int      `yaml:"rows"`
	ScanPages  int      `yaml:"scan_pages"`
	Prefer     string   `yaml:"prefer" env:"G2B_PREFER"`
	Keywords   []string `yaml:"keywords"`
	MaxDetails int      `yaml:"max_details"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"NOTICEWATCH_ADDR"`
	CORSOrigin      string        `yaml:"cors_origin" env:"CORS_ORIGIN"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Schedule is a cron spec for refreshing both feeds, e.g. "@every 15m".
	// Empty disables scheduled refreshes.
	Schedule string `yaml:"schedule" env:"NOTICEWATCH_SCHEDULE"`
}

// NATSConfig enables the refresh announcement sink when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"NATS_SUBJECT"`
}

// Neo4jConfig enables the notice graph sink when URL is set.
type Neo4jConfig struct {
	URL      string `yaml:"url" env:"NEO4J_URL"`
	User     string `yaml:"user" env:"NEO4J_USER"`
	Pass     string `yaml:"pass" env:"NEO4J_PASS"`
	Database string `yaml:"database" env:"NEO4J_DATABASE"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `yaml:"path"`
}

// knownSources lists the source names accepted in feed configuration.
var knownSources = []string{"iris", "khidi", "kiat", "keit", "g2b", "khidi_events", "kmdia"}

func intPtr(v int) *int { return &v }

// SetDefaults fills the documented defaults.
func (c *Config) SetDefaults() {
	c.Log.SetDefaults()
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 20 * time.Second
	}
	if c.HTTP.MaxRedirects == 0 {
		c.HTTP.MaxRedirects = 10
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 1
	}
	if c.HTTP.RetryAttempts == 0 {
		c.HTTP.RetryAttempts = 3
	}
	if c.HTTP.RetryWait == 0 {
		c.HTTP.RetryWait = 200 * time.Millisecond
	}
	if c.HTTP.BreakerFailures == 0 {
		c.HTTP.BreakerFailures = 5
	}
	if c.HTTP.BreakerTimeout == 0 {
		c.HTTP.BreakerTimeout = 30 * time.Second
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}

	n := &c.Feeds.Notices
	if n.Sources == nil {
		n.Sources = []string{"iris", "khidi", "kiat", "keit", "g2b"}
	}
	if n.MaxPages == 0 {
		n.MaxPages = 3
	}
	if n.Output == "" {
		n.Output = "data/results.json"
	}
	if n.SkipLog == "" {
		n.SkipLog = "data/results_skipped.jsonl"
	}
	if n.Rank == "" {
		n.Rank = string(aggregate.RankScore)
	}

	e := &c.Feeds.Events
	if e.Sources == nil {
		e.Sources = []string{"khidi_events", "kmdia"}
	}
	if e.MaxPages == 0 {
		e.MaxPages = 2
	}
	if e.Output == "" {
		e.Output = "data/events.json"
	}
	if e.SkipLog == "" {
		e.SkipLog = "data/events_skipped.jsonl"
	}
	if e.Rank == "" {
		e.Rank = string(aggregate.RankDate)
	}

	if c.G2B.Prefer == "" {
		c.G2B.Prefer = string(g2b.ModeMix)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = announce.DefaultSubject
	}
	if c.Neo4j.User == "" {
		c.Neo4j.User = "neo4j"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// defaults is the setDefaults hook for config.Load. It runs before the
// YAML pass, so the values set here can still be turned off: metrics
// default on, requests to one host are spaced by 200ms unless the file sets
// a zero interval, and the notices threshold defaults to 0 unless the file
// sets it to null.
func defaults(c *Config) {
	c.Metrics.Enabled = true
	c.HTTP.Interval = 200 * time.Millisecond
	c.Feeds.Notices.Threshold = intPtr(0)
	c.SetDefaults()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	for _, name := range []string{feedNotices, feedEvents} {
		f := c.feed(name)
		if len(f.Sources) == 0 {
			errs = append(errs, fmt.Errorf("feeds.%s: no sources", name))
		}
		for _, s := range f.Sources {
			if !slices.Contains(knownSources, s) {
				errs = append(errs, fmt.Errorf("feeds.%s: unknown source %q", name, s))
			}
		}
		if f.MaxPages < 1 {
			errs = append(errs, fmt.Errorf("feeds.%s: max_pages must be positive, got %d", name, f.MaxPages))
		}
		if f.Output == "" {
			errs = append(errs, fmt.Errorf("feeds.%s: output is required", name))
		}
		if _, err := aggregate.ParseRank(f.Rank); err != nil {
			errs = append(errs, fmt.Errorf("feeds.%s: %w", name, err))
		}
	}
	if c.Feeds.Notices.Output == c.Feeds.Events.Output {
		errs = append(errs, errors.New("feeds: notices and events share an output file"))
	}
	if _, err := g2b.ParseMode(c.G2B.Prefer); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return aggregate.DefaultLocation()
	}
	return loc
}

// feed returns the configuration of the named feed.
func (c *Config) feed(name string) FeedConfig {
	if name == feedEvents {
		return c.Feeds.Events
	}
	return c.Feeds.Notices
}

// loadConfig loads and validates the configuration at path.
func loadConfig(path string) (*Config, error) {
	cfg, err := config.Load(path, defaults)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
