package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 10s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	StoreBackend string // "redis" | "sqlite" | "memory"
	SQLitePath   string // database file for the sqlite backend
	UploadDir    string // binary payloads of image/files items

	// Auth
	JWTSecret string // HS256 secret
	UsersFile string // YAML users directory

	// Sync engine
	DefaultMaxItems     int // history cap when a user has none
	RelayCapacity       int // broadcast queue size before drop-oldest
	FetchDefaultLimit   int
	FetchMaxLimit       int
	HistoryDefaultLimit int
	RetentionInterval   time.Duration // periodic retention sweep (0 = disabled)
	UsersReloadInterval time.Duration // users file reload (0 = disabled)

	// WebSocket
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration
	WSSendBuffer   int
	WSMaxMessage   int64

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedOrigins []string // optional, WebSocket Origin allow-list (empty = same host only)
	AllowedCIDRS   []string // optional, restrict probes to specific IPs (e.g. "10.0.0.0/8, 127.0.0.1")
	AllowedHosts   []string // optional, Host headers accepted on admin endpoints (supports "*.example.com")
	TrustProxy     bool     // true => trust X-Forwarded-For headers

	RateLimitBurst  int // REST requests per IP before throttling
	RateLimitPerMin int // token refill per IP per minute
}

func Load() *Config {
	loadEnvFile(os.Getenv("CLIPSYNC_ENV_FILE"))

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("CLIPSYNC_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("CLIPSYNC_SHUTDOWN_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getenv("CLIPSYNC_LOG_LEVEL", "info"),
		PrettyLog: mustBool("CLIPSYNC_PRETTY_LOG", false),

		// Storage
		StoreBackend: strings.ToLower(getenv("CLIPSYNC_STORE", BackendRedis)),
		SQLitePath:   getenv("CLIPSYNC_SQLITE_PATH", "/data/clipsync.db"),
		UploadDir:    getenv("CLIPSYNC_UPLOAD_DIR", "/data/uploads"),

		// Auth
		JWTSecret: requireEnv("CLIPSYNC_JWT_SECRET"),
		UsersFile: requireEnv("CLIPSYNC_USERS_FILE"),

		// Sync engine
		DefaultMaxItems:     getenvInt("CLIPSYNC_DEFAULT_MAX_ITEMS", 1000),
		RelayCapacity:       getenvInt("CLIPSYNC_RELAY_CAPACITY", 1024),
		FetchDefaultLimit:   getenvInt("CLIPSYNC_FETCH_DEFAULT_LIMIT", 50),
		FetchMaxLimit:       getenvInt("CLIPSYNC_FETCH_MAX_LIMIT", 100),
		HistoryDefaultLimit: getenvInt("CLIPSYNC_HISTORY_DEFAULT_LIMIT", 100),
		RetentionInterval:   mustDuration("CLIPSYNC_RETENTION_INTERVAL", time.Hour),
		UsersReloadInterval: mustDuration("CLIPSYNC_USERS_RELOAD_INTERVAL", 5*time.Minute),

		// WebSocket
		WSPingInterval: mustDuration("CLIPSYNC_WS_PING_INTERVAL", 30*time.Second),
		WSWriteTimeout: mustDuration("CLIPSYNC_WS_WRITE_TIMEOUT", 10*time.Second),
		WSSendBuffer:   getenvInt("CLIPSYNC_WS_SEND_BUFFER", 64),
		WSMaxMessage:   int64(getenvInt("CLIPSYNC_WS_MAX_MESSAGE", 8<<20)),

		// Redis settings
		RedisAddr:             getenv("CLIPSYNC_REDIS_ADDR", "localhost:6379"),
		RedisUser:             getenv("CLIPSYNC_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("CLIPSYNC_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("CLIPSYNC_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("CLIPSYNC_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedOrigins: splitAndTrim(getenv("CLIPSYNC_ALLOWED_ORIGINS", "")),
		AllowedCIDRS:   parseAllowedIPs(getenv("CLIPSYNC_ALLOWED_CIDRS", "")),
		AllowedHosts:   splitAndTrim(getenv("CLIPSYNC_ALLOWED_HOSTS", "")),
		TrustProxy:     mustBool("CLIPSYNC_TRUST_PROXY", false),

		RateLimitBurst:  getenvInt("CLIPSYNC_RATE_LIMIT_BURST", 60),
		RateLimitPerMin: getenvInt("CLIPSYNC_RATE_LIMIT_PER_MIN", 120),
	}

	switch cfg.StoreBackend {
	case BackendRedis, BackendSQLite, BackendMemory:
	default:
		panic(fmt.Sprintf("❌ FATAL: CLIPSYNC_STORE must be one of redis, sqlite, memory (got %q)", cfg.StoreBackend))
	}

	// Validate Redis password configuration
	if cfg.StoreBackend == BackendRedis && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: CLIPSYNC_REDIS_PASSWORD is required when CLIPSYNC_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	cp.JWTSecret = "***REDACTED***"
	cp.RedisPassword = "***REDACTED***"
	if c.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	return cp
}

// loadEnvFile seeds the environment from a dotenv file. Variables already
// set in the process environment win.
func loadEnvFile(path string) {
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		panic(fmt.Sprintf("❌ FATAL: cannot load CLIPSYNC_ENV_FILE %s: %v", path, err))
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

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
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
