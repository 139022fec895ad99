package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Double-error policies for the HEAD/GET fallback.
const (
	PreferGet  = "prefer_get"
	PreferHead = "prefer_head"
)

// Cache backends.
const (
	CacheBackendPostgres = "postgres"
	CacheBackendRedis    = "redis"
)

// DefaultUserAgent identifies the checker to remote servers.
const DefaultUserAgent = "Mozilla/5.0 (compatible; linkcheck/1.0; +https://github.com/linkcheck)"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Environment
	Env string // "development", "production", etc.

	// Server
	ServerAddr string
	// TLS (optional; a CA file enables client certificate verification)
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	// APIToken protects mutating API routes when set.
	APIToken string
	// BlockPrivateTargets rejects API re-checks of hosts resolving to private addresses.
	BlockPrivateTargets bool

	// Database
	DatabaseURL string

	// Redis (optional result cache and shared throttle state)
	RedisURL     string
	CacheBackend string // env: CACHE_BACKEND, "postgres" or "redis"
	// ThrottleShared keeps domain suspensions in Redis so every process honours them.
	ThrottleShared bool

	// Logging
	LogLevel       string
	LogDevelopment bool

	// Checking pass
	Workers       int
	CheckSchedule string // cron expression, empty disables scheduled passes
	// ShowAllLinks persists every result, including Ok ones.
	ShowAllLinks bool
	// ExclusionScopePageID restricts exclusion rules to those stored under this page (0 = all).
	ExclusionScopePageID int64

	Checker CheckerConfig
}

// CheckerConfig holds the tunables of the external link checker.
type CheckerConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	SSLVerifyPeer  bool
	MaxRedirects   int
	UserAgent      string
	Headers        map[string]string

	CacheExpiresShort time.Duration
	CacheExpiresLong  time.Duration

	CrawlDelay time.Duration
	// CrawlDelayNoDelay is a comma-separated domain list or "regex:<pattern>".
	CrawlDelayNoDelay string
	// NonCheckableMatch is a comma-separated prefix list or "regex:<pattern>"
	// matched against the combined error string.
	NonCheckableMatch string

	// MaxRequestsPerSecond caps outbound probes across all domains (0 = unlimited).
	MaxRequestsPerSecond float64
	DoubleErrorPolicy    string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:                  getEnv("ENV", "development"),
		ServerAddr:           getEnv("SERVER_ADDR", ":3000"),
		TLSCertFile:          getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:           getEnv("TLS_KEY_FILE", ""),
		TLSCAFile:            getEnv("TLS_CA_FILE", ""),
		APIToken:             getEnv("API_TOKEN", ""),
		BlockPrivateTargets:  getEnvBool("BLOCK_PRIVATE_TARGETS", false),
		DatabaseURL:          getEnv("DATABASE_URL", "postgres://localhost:5432/linkcheck?sslmode=disable"),
		RedisURL:             getEnv("REDIS_URL", ""),
		CacheBackend:         getEnv("CACHE_BACKEND", CacheBackendPostgres),
		ThrottleShared:       getEnvBool("THROTTLE_SHARED", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogDevelopment:       getEnvBool("LOG_DEVELOPMENT", false),
		Workers:              getEnvInt("CHECK_WORKERS", 4),
		CheckSchedule:        getEnv("CHECK_SCHEDULE", "@every 24h"),
		ShowAllLinks:         getEnvBool("SHOW_ALL_LINKS", false),
		ExclusionScopePageID: int64(getEnvInt("EXCLUSION_SCOPE_PAGE_ID", 0)),
		Checker: CheckerConfig{
			Timeout:        getEnvSeconds("CHECK_TIMEOUT", 10),
			ConnectTimeout: getEnvSeconds("CHECK_CONNECT_TIMEOUT", 5),
			SSLVerifyPeer:  getEnvBool("CHECK_SSL_VERIFY_PEER", true),
			MaxRedirects:   getEnvInt("CHECK_MAX_REDIRECTS", 5),
			UserAgent:      getEnv("CHECK_USER_AGENT", DefaultUserAgent),
			Headers: map[string]string{
				"Accept":          "*/*",
				"Accept-Language": "*",
				"Accept-Encoding": "*",
			},
			CacheExpiresShort:    getEnvSeconds("CACHE_EXPIRES_SHORT", 604800),
			CacheExpiresLong:     getEnvSeconds("CACHE_EXPIRES_LONG", 691200),
			CrawlDelay:           getEnvSeconds("CRAWL_DELAY_SECONDS", 5),
			CrawlDelayNoDelay:    getEnv("CRAWL_DELAY_NODELAY", ""),
			NonCheckableMatch:    getEnv("NON_CHECKABLE_MATCH", `regex:/^http_status:(401|403)(:|$)/`),
			MaxRequestsPerSecond: getEnvFloat("CHECK_MAX_RPS", 0),
			DoubleErrorPolicy:    getEnv("CHECK_DOUBLE_ERROR_POLICY", PreferGet),
		},
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// getEnvSeconds reads a whole number of seconds, or a Go duration string such as "90s".
func getEnvSeconds(key string, fallback int) time.Duration {
	v := getEnv(key, "")
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return time.Duration(fallback) * time.Second
}

// IsDev returns true if the environment is set to development.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// TLSEnabled reports whether the server should listen with TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.CacheBackend == CacheBackendRedis || c.ThrottleShared
}
