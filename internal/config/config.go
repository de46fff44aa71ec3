package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Crawler  CrawlerConfig
	Browser  BrowserConfig
	Proxy    ProxyConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Sink     SinkConfig
	Storage  StorageConfig
	Sites    SitesConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type CrawlerConfig struct {
	MaxRetries        int
	Concurrency       int
	RateLimitMin      time.Duration
	RateLimitMax      time.Duration
	NavigationTimeout time.Duration
	PageTimeout       time.Duration
	RetireAfterPages  int
	TakeScreenshots   bool
	BlockResources    bool
	MaxListingPages   int
	Retailer          string
}

type BrowserConfig struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type ProxyConfig struct {
	URLs          []string
	BurnCooldown  time.Duration
	HealthBackend string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type SinkConfig struct {
	Type string
	Path string
}

type StorageConfig struct {
	ScreenshotDir string
	JobsFile      string
}

type SitesConfig struct {
	ProfileFile string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Crawler: CrawlerConfig{
			MaxRetries:        getIntOrDefault("CRAWLER_MAX_RETRIES", 3),
			Concurrency:       getIntOrDefault("CRAWLER_CONCURRENCY", 4),
			RateLimitMin:      getDurationOrDefault("CRAWLER_RATE_LIMIT_MIN", 500*time.Millisecond),
			RateLimitMax:      getDurationOrDefault("CRAWLER_RATE_LIMIT_MAX", 2*time.Second),
			NavigationTimeout: getDurationOrDefault("CRAWLER_NAVIGATION_TIMEOUT", 150*time.Second),
			PageTimeout:       getDurationOrDefault("CRAWLER_PAGE_TIMEOUT", 20*time.Second),
			RetireAfterPages:  getIntOrDefault("CRAWLER_RETIRE_AFTER_PAGES", 20),
			TakeScreenshots:   getBoolOrDefault("CRAWLER_SCREENSHOTS", false),
			BlockResources:    getBoolOrDefault("CRAWLER_BLOCK_RESOURCES", false),
			MaxListingPages:   getIntOrDefault("CRAWLER_MAX_LISTING_PAGES", 200),
			Retailer:          getEnvOrDefault("CRAWLER_RETAILER", ""),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", defaultUserAgent),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "sv-SE,sv;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Stockholm"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "sv-SE"),
		},
		Proxy: ProxyConfig{
			URLs:          getStringSliceOrDefault("PROXY_URLS", []string{}),
			BurnCooldown:  getDurationOrDefault("PROXY_BURN_COOLDOWN", 30*time.Minute),
			HealthBackend: getEnvOrDefault("PROXY_HEALTH_BACKEND", "memory"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "shelf_crawler"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:product_details"),
		},
		Sink: SinkConfig{
			Type: getEnvOrDefault("SINK_TYPE", "memory"),
			Path: getEnvOrDefault("SINK_PATH", ""),
		},
		Storage: StorageConfig{
			ScreenshotDir: getEnvOrDefault("STORAGE_SCREENSHOT_DIR", "storage"),
			JobsFile:      getEnvOrDefault("STORAGE_JOBS_FILE", "jobs.json"),
		},
		Sites: SitesConfig{
			ProfileFile: getEnvOrDefault("SITES_PROFILE_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Crawler.MaxRetries < 1 {
		return fmt.Errorf("CRAWLER_MAX_RETRIES must be at least 1")
	}

	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("CRAWLER_CONCURRENCY must be at least 1")
	}

	if c.Crawler.RateLimitMin > c.Crawler.RateLimitMax {
		return fmt.Errorf("CRAWLER_RATE_LIMIT_MIN cannot be greater than CRAWLER_RATE_LIMIT_MAX")
	}

	if c.Browser.ViewportWidth < 1 || c.Browser.ViewportHeight < 1 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}

	switch c.Proxy.HealthBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("PROXY_HEALTH_BACKEND must be memory or redis, got %q", c.Proxy.HealthBackend)
	}

	switch c.Sink.Type {
	case "memory", "postgres", "sqlite", "file":
	default:
		return fmt.Errorf("SINK_TYPE must be one of memory, postgres, sqlite, file, got %q", c.Sink.Type)
	}

	return nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
