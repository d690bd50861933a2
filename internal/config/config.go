// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SiteConfig identifies the target city/region being crawled.
type SiteConfig struct {
	Slug  string `mapstructure:"slug"`
	City  string `mapstructure:"city"`
	State string `mapstructure:"state"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DiscoveryConfig governs the source discovery engine.
type DiscoveryConfig struct {
	MaxSources     int      `mapstructure:"max_sources"`
	KnownVenueURLs []string `mapstructure:"known_venue_urls"`
}

// CrawlerConfig governs the crawl orchestration loop.
type CrawlerConfig struct {
	MaxSourcesToCrawl   int     `mapstructure:"max_sources_to_crawl"`
	MinConfidence       float64 `mapstructure:"min_confidence"`
	DelaySeconds        float64 `mapstructure:"delay_seconds"`
	DefaultRPS          float64 `mapstructure:"default_rps"`
	PersistBlacklist    bool    `mapstructure:"persist_blacklist"`
	CompletionTopicName string  `mapstructure:"completion_topic"`
}

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// HeadlessConfig configures the browser fetcher.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for session-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// ArchiveConfig names the GCS bucket for raw page snapshots. Archiving
// is disabled when the bucket is empty.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// EnrichConfig bounds the artist research calls.
type EnrichConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	BatchSize       int  `mapstructure:"batch_size"`
	BatchDelayMs    int  `mapstructure:"batch_delay_ms"`
	RequestTimeoutS int  `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MUSICLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.slug", "charleston")
	v.SetDefault("site.city", "Charleston")
	v.SetDefault("site.state", "SC")
	v.SetDefault("server.port", 8080)
	v.SetDefault("discovery.max_sources", 50)
	v.SetDefault("discovery.known_venue_urls", []string{
		"https://www.musicfarm.com",
		"https://www.pourhouse.com",
		"https://www.charlestonmusichall.com",
		"https://www.themillcharleston.com",
		"https://www.acescharleston.com",
		"https://www.theroyalamerican.com",
	})
	v.SetDefault("crawler.max_sources_to_crawl", 20)
	v.SetDefault("crawler.min_confidence", 0.4)
	v.SetDefault("crawler.delay_seconds", 1.0)
	v.SetDefault("crawler.default_rps", 1.0)
	v.SetDefault("crawler.persist_blacklist", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; MusicLiveBot/1.0; +https://musiclive.com/bot)")
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("enrich.enabled", false)
	v.SetDefault("enrich.batch_size", 5)
	v.SetDefault("enrich.batch_delay_ms", 500)
	v.SetDefault("enrich.request_timeout_seconds", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.Slug == "" {
		return fmt.Errorf("site.slug must be set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Discovery.MaxSources <= 0 {
		return fmt.Errorf("discovery.max_sources must be > 0")
	}
	if c.Crawler.MaxSourcesToCrawl <= 0 {
		return fmt.Errorf("crawler.max_sources_to_crawl must be > 0")
	}
	if c.Crawler.MinConfidence < 0 || c.Crawler.MinConfidence > 1 {
		return fmt.Errorf("crawler.min_confidence must be in [0,1]")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// HTTPTimeout converts the configured fetch timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CrawlDelay converts the politeness delay into a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds * float64(time.Second))
}
