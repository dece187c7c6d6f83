package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis RedisConfig

	// AdminAPIToken guards the key management routes.
	AdminAPIToken string

	Bootstrap BootstrapConfig

	OAuthState     OAuthStateConfig
	OAuthProviders map[string]OAuthProviderConfig
	RateLimit      RateLimitConfig
	KeyPolicy      KeyPolicyConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type OAuthStateConfig struct {
	Secret     string
	NonceStore string
	TTL        time.Duration
}

type RateLimitConfig struct {
	Enabled          bool
	FailedAuthRate   float64
	FailedAuthBurst  int
	FailedAuthWindow time.Duration
}

// BootstrapConfig imports one well-known workspace key at startup.
type BootstrapConfig struct {
	WorkspaceKey   string
	WorkspaceOwner string
}

func (c BootstrapConfig) Enabled() bool {
	return c.WorkspaceKey != "" && c.WorkspaceOwner != ""
}

type KeyPolicyConfig struct {
	Name  string
	Paths []string
}

const (
	NonceStoreMemory = "memory"
	NonceStoreRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "identity"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		Bootstrap: BootstrapConfig{
			WorkspaceKey:   strings.TrimSpace(getenv("BOOTSTRAP_WORKSPACE_KEY", "")),
			WorkspaceOwner: strings.TrimSpace(getenv("BOOTSTRAP_WORKSPACE_OWNER", "")),
		},
		OAuthState: OAuthStateConfig{
			Secret:     strings.TrimSpace(getenv("OAUTH_STATE_SECRET", "")),
			NonceStore: normalizeNonceStore(getenv("OAUTH_NONCE_STORE", NonceStoreMemory)),
			TTL:        getenvDuration("OAUTH_STATE_TTL", 10*time.Minute),
		},
		OAuthProviders: parseOAuthProviders(),
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			FailedAuthRate:   getenvFloat("RATE_LIMIT_FAILED_AUTH_RATE", 0.2),
			FailedAuthBurst:  getenvInt("RATE_LIMIT_FAILED_AUTH_BURST", 10),
			FailedAuthWindow: getenvDuration("RATE_LIMIT_FAILED_AUTH_WINDOW", 10*time.Minute),
		},
		KeyPolicy: KeyPolicyConfig{
			Name:  getenv("KEY_POLICY_NAME", "keys"),
			Paths: parseList(getenv("KEY_POLICY_PATHS", "/etc/identity,.")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeNonceStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case NonceStoreRedis:
		return NonceStoreRedis
	default:
		return NonceStoreMemory
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
