package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	FeedURL       string
	FeedTimeout   time.Duration
	ScrapeURL     string
	ScrapeTimeout time.Duration
	HelperURL     string
	HelperTimeout time.Duration

	GoogleStrategy string // "rss" or "related"
	DebugTrace     bool

	RequestTimeout   time.Duration
	MaxKeywordLength int
	CacheTTL         time.Duration
	CacheBackend     string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	CircuitBreakerEnabled   bool
	CircuitFailureThreshold int
	CircuitOpenTimeout      time.Duration

	RateLimitRPS       int
	RateLimitBurst     int
	CORSAllowedOrigins []string

	ShutdownTimeout time.Duration

	ReadyDelay           time.Duration
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	WarmingEnabled  bool
	WarmingGeos     []string
	WarmingInterval time.Duration

	TrackedGeos []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Sources struct {
		Feed struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"feed"`
		Scrape struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"scrape"`
		Helper struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"helper"`
		GoogleStrategy string `yaml:"google_strategy"`
		DebugTrace     bool   `yaml:"debug_trace"`
	} `yaml:"sources"`

	Request struct {
		Timeout          string `yaml:"timeout"`
		MaxKeywordLength int    `yaml:"max_keyword_length"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Coalescing struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalescing"`
		Warming struct {
			Enabled  bool     `yaml:"enabled"`
			Geos     []string `yaml:"geos"`
			Interval string   `yaml:"interval"`
		} `yaml:"warming"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			OpenTimeout      string `yaml:"open_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay           string `yaml:"ready_delay"`
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Metrics struct {
		TrackedGeos []string `yaml:"tracked_geos"`
	} `yaml:"metrics"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). A .env file in the
// working directory, when present, is loaded into the environment first without overriding
// variables already set. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.FeedURL = firstNonEmpty(fc.Sources.Feed.URL, "https://trends.google.com/trending/rss")
	cfg.FeedTimeout = parseDurationOrZero(fc.Sources.Feed.Timeout, 10*time.Second)
	cfg.ScrapeURL = firstNonEmpty(fc.Sources.Scrape.URL, "https://github.com/trending?since=daily")
	cfg.ScrapeTimeout = parseDurationOrZero(fc.Sources.Scrape.Timeout, 10*time.Second)
	cfg.HelperURL = firstNonEmpty(os.Getenv("PYTRENDS_API_URL"), fc.Sources.Helper.URL, "http://43.165.126.121")
	cfg.HelperTimeout = parseDurationOrZero(fc.Sources.Helper.Timeout, 25*time.Second)

	cfg.GoogleStrategy = strings.ToLower(firstNonEmpty(os.Getenv("GOOGLE_STRATEGY"), fc.Sources.GoogleStrategy, "rss"))
	cfg.DebugTrace = fc.Sources.DebugTrace

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.MaxKeywordLength = fc.Request.MaxKeywordLength
	if cfg.MaxKeywordLength <= 0 {
		cfg.MaxKeywordLength = 100
	}

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)
	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CoalesceEnabled = true
	if fc.Cache.Coalescing.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalescing.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalescing.Timeout, 30*time.Second)

	cfg.WarmingEnabled = fc.Cache.Warming.Enabled
	cfg.WarmingGeos = fc.Cache.Warming.Geos
	cfg.WarmingInterval = parseDuration(fc.Cache.Warming.Interval, 25*time.Minute)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.CircuitFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = 5
	}
	cfg.CircuitOpenTimeout = parseDuration(fc.Reliability.CircuitBreaker.OpenTimeout, time.Minute)

	cfg.CORSAllowedOrigins = fc.CORS.AllowedOrigins
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.ReadyDelay = parseDuration(fc.Lifecycle.ReadyDelay, 3*time.Second)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.TrackedGeos = fc.Metrics.TrackedGeos

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. Every source timeout must be positive and
// strictly below the request timeout so a slow upstream degrades instead of failing the request.
func validate(cfg *Config) error {
	sources := []struct {
		name    string
		timeout time.Duration
	}{
		{"sources.feed.timeout", cfg.FeedTimeout},
		{"sources.scrape.timeout", cfg.ScrapeTimeout},
		{"sources.helper.timeout", cfg.HelperTimeout},
	}
	for _, s := range sources {
		if s.timeout <= 0 {
			return fmt.Errorf("%s must be positive", s.name)
		}
		if s.timeout >= cfg.RequestTimeout {
			return fmt.Errorf("%s (%s) must be below request.timeout (%s)", s.name, s.timeout, cfg.RequestTimeout)
		}
	}
	switch cfg.GoogleStrategy {
	case "rss", "related":
	default:
		return fmt.Errorf("sources.google_strategy must be rss or related, got %q", cfg.GoogleStrategy)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
