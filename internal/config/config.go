// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	"github.com/DavidLozzi/starwars-graph/internal/storage"
)

// AppName names the configuration directory under the XDG config home.
const AppName = "sitecrawl"

// SinceLayout is the date format of crawl.since.
const SinceLayout = "2006-01-02"

// Cache drivers.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Progress ProgressConfig `mapstructure:"progress"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs traversal, pacing and the failure logs.
type CrawlConfig struct {
	SeedURL       string        `mapstructure:"seed_url"`
	BaseURL       string        `mapstructure:"base_url"`
	FullCrawl     bool          `mapstructure:"full_crawl"`
	Since         string        `mapstructure:"since"`
	IgnoredPaths  []string      `mapstructure:"ignored_paths"`
	MaxURLLength  int           `mapstructure:"max_url_length"`
	IndexMarker   string        `mapstructure:"index_marker"`
	BatchSize     int           `mapstructure:"batch_size"`
	DispatchDelay time.Duration `mapstructure:"dispatch_delay"`
	PauseMin      time.Duration `mapstructure:"pause_min"`
	PauseMax      time.Duration `mapstructure:"pause_max"`
	RecoveryPause time.Duration `mapstructure:"recovery_pause"`
	FailureLog    string        `mapstructure:"failure_log"`
	RecoveryLog   string        `mapstructure:"recovery_log"`
}

// HTTPConfig configures the fetcher and its retry behavior.
type HTTPConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	MaxBodySize  int           `mapstructure:"max_body_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// DBConfig controls access to the durable page store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	CreateSchema    bool          `mapstructure:"create_schema"`
}

// CacheConfig selects the fast existence cache.
type CacheConfig struct {
	Driver           string `mapstructure:"driver"`
	Addr             string `mapstructure:"addr"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	Key              string `mapstructure:"key"`
	PreloadBatchSize int    `mapstructure:"preload_batch_size"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

// MetricsConfig controls the status server. An empty ListenAddr disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and the environment.
// With an empty path, config.yaml is looked up in the working directory and
// the XDG config directory; a missing file there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

// Dir returns the XDG configuration directory for the crawler.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.seed_url", "https://starwars.fandom.com/sitemap-newsitemapxml-index.xml")
	v.SetDefault("crawl.base_url", "https://starwars.fandom.com/")
	v.SetDefault("crawl.full_crawl", false)
	v.SetDefault("crawl.since", "2024-04-22")
	v.SetDefault("crawl.ignored_paths", crawler.DefaultIgnoredPaths)
	v.SetDefault("crawl.max_url_length", crawler.DefaultMaxURLLength)
	v.SetDefault("crawl.index_marker", crawler.DefaultIndexMarker)
	v.SetDefault("crawl.batch_size", 15)
	v.SetDefault("crawl.dispatch_delay", "10ms")
	v.SetDefault("crawl.pause_min", "300ms")
	v.SetDefault("crawl.pause_max", "600ms")
	v.SetDefault("crawl.recovery_pause", "500ms")
	v.SetDefault("crawl.failure_log", "errors.txt")
	v.SetDefault("crawl.recovery_log", "errors2.txt")
	v.SetDefault("http.user_agent", "sitecrawl/1.0")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_redirects", 20)
	v.SetDefault("http.max_body_size", 0)
	v.SetDefault("http.max_retries", crawler.DefaultMaxRetries)
	v.SetDefault("http.retry_delay", crawler.DefaultRetryDelay.String())
	v.SetDefault("db.driver", storage.DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.path", "all_data.db")
	v.SetDefault("db.table", "all_data")
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.create_schema", false)
	v.SetDefault("cache.driver", CacheRedis)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.key", "processed_urls")
	v.SetDefault("cache.preload_batch_size", 5000)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.flush_interval", "500ms")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawl.SeedURL) == "" {
		return fmt.Errorf("crawl.seed_url must be set")
	}
	if strings.TrimSpace(c.Crawl.BaseURL) == "" {
		return fmt.Errorf("crawl.base_url must be set")
	}
	if _, err := c.Since(); err != nil {
		return err
	}
	if c.Crawl.BatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size must be > 0")
	}
	if c.Crawl.DispatchDelay < 0 || c.Crawl.RecoveryPause < 0 {
		return fmt.Errorf("crawl delays must be >= 0")
	}
	if c.Crawl.PauseMin < 0 || c.Crawl.PauseMax < c.Crawl.PauseMin {
		return fmt.Errorf("crawl.pause_min must be >= 0 and <= crawl.pause_max")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.DB.Driver {
	case storage.DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	case storage.DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path must be set for the sqlite driver")
		}
	case storage.DriverMemory:
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.Cache.Driver {
	case CacheRedis:
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr must be set for the redis driver")
		}
	case CacheMemory, CacheNone:
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	return nil
}

// Since parses crawl.since. An empty value yields the zero time, which the
// engine replaces with its default threshold.
func (c Config) Since() (time.Time, error) {
	if c.Crawl.Since == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(SinceLayout, c.Crawl.Since)
	if err != nil {
		return time.Time{}, fmt.Errorf("crawl.since must use %s: %w", SinceLayout, err)
	}
	return t, nil
}

// StorageConfig converts the db section for storage.Open.
func (c Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver:          c.DB.Driver,
		DSN:             c.DB.DSN,
		Path:            c.DB.Path,
		Table:           c.DB.Table,
		MaxConns:        c.DB.MaxConns,
		MinConns:        c.DB.MinConns,
		MaxConnLifetime: c.DB.MaxConnLifetime,
		CreateSchema:    c.DB.CreateSchema,
	}
}
