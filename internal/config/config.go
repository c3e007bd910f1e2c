package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends accepted by MARKS_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	ListenAddr      string        // ex: "127.0.0.1:8787"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Record store
	Store       string // memory | redis | postgres | sqlite
	PostgresDSN string // required when Store=postgres
	SQLitePath  string // file path or ":memory:"
	NATSURL     string // optional change feed for memory/sqlite backends

	// Redis
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	// Identity
	OAuthProvider     string // fixed sign-in provider: google | github
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
	SessionSecret     string        // signs session tokens, >= 16 chars
	SessionTTL        time.Duration // session lifetime

	// Bookmark list
	ToastDuration  time.Duration // toast self-expiry (default 2s)
	ResyncInterval time.Duration // periodic reconcile, 0 disables
	ImportFile     string        // homepage bookmarks.yaml (optional)

	AllowedCIDRS []string // restrict access to specific IPs/CIDRs
	AllowedHosts []string // Host headers accepted (blocks DNS rebinding)
	TrustProxy   bool     // true => trust X-Forwarded-For headers

	SignInPerMinute int // sign-in attempts per client IP per minute
	SignInBurst     int
}

func Load() *Config {
	loadDotEnv(getenv("MARKS_ENV_FILE", ".env"))

	cfg := &Config{
		// Server settings
		ListenAddr:      getenv("MARKS_LISTEN_ADDR", "127.0.0.1:8787"),
		ShutdownTimeout: mustDuration("MARKS_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("MARKS_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MARKS_PRETTY_LOG", true),

		// Record store
		Store:       strings.ToLower(getenv("MARKS_STORE", StoreMemory)),
		PostgresDSN: getenv("MARKS_POSTGRES_DSN", ""),
		SQLitePath:  getenv("MARKS_SQLITE_PATH", "marks.db"),
		NATSURL:     getenv("MARKS_NATS_URL", ""),

		// Redis settings
		RedisAddr:           getenv("MARKS_REDIS_ADDR", "localhost:6379"),
		RedisUser:           getenv("MARKS_REDIS_USERNAME", ""),
		RedisPassword:       getenv("MARKS_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("MARKS_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Identity
		OAuthProvider:     strings.ToLower(getenv("MARKS_OAUTH_PROVIDER", "google")),
		OAuthClientID:     requireEnv("MARKS_OAUTH_CLIENT_ID"),
		OAuthClientSecret: requireEnv("MARKS_OAUTH_CLIENT_SECRET"),
		OAuthRedirectURL:  getenv("MARKS_OAUTH_REDIRECT_URL", "http://127.0.0.1:8787/auth/callback"),
		SessionSecret:     requireEnv("MARKS_SESSION_SECRET"),
		SessionTTL:        mustDuration("MARKS_SESSION_TTL", 24*time.Hour),

		// Bookmark list
		ToastDuration:  mustDuration("MARKS_TOAST_DURATION", 2*time.Second),
		ResyncInterval: mustDuration("MARKS_RESYNC_INTERVAL", 5*time.Minute),
		ImportFile:     getenv("MARKS_IMPORT_FILE", ""),

		// Access restrictions
		AllowedCIDRS: splitAndTrim(getenv("MARKS_ALLOWED_CIDRS", "127.0.0.1/32,::1/128")),
		AllowedHosts: splitAndTrim(getenv("MARKS_ALLOWED_HOSTS", "localhost,127.0.0.1,[::1]")),
		TrustProxy:   mustBool("MARKS_TRUST_PROXY", false),

		SignInPerMinute: getenvInt("MARKS_SIGNIN_PER_MINUTE", 10),
		SignInBurst:     getenvInt("MARKS_SIGNIN_BURST", 3),
	}

	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis, StoreSQLite:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("MARKS_POSTGRES_DSN is required when MARKS_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown MARKS_STORE %q", c.Store)
	}
	if len(c.SessionSecret) < 16 {
		return errors.New("MARKS_SESSION_SECRET must be at least 16 characters")
	}
	if c.ToastDuration <= 0 {
		return fmt.Errorf("MARKS_TOAST_DURATION must be > 0, got %v", c.ToastDuration)
	}
	if c.SignInPerMinute < 1 || c.SignInBurst < 1 {
		return fmt.Errorf("MARKS_SIGNIN_PER_MINUTE and MARKS_SIGNIN_BURST must be >= 1")
	}
	if c.ResyncInterval < 0 {
		return fmt.Errorf("MARKS_RESYNC_INTERVAL must be >= 0, got %v", c.ResyncInterval)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	for _, s := range []*string{&cp.RedisPassword, &cp.OAuthClientSecret, &cp.SessionSecret, &cp.PostgresDSN} {
		if *s != "" {
			*s = "***REDACTED***"
		}
	}
	return cp
}

// loadDotEnv loads path without overriding variables already set.
// A missing file is not an error.
func loadDotEnv(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Sprintf("❌ FATAL: failed to read env file %s: %v", path, err))
	}
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
