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
	AppName            string
	AppVersion         string
	Environment        string
	HTTPAddr           string
	HTTPRequestTimeout time.Duration
	AuthCookieSecure   bool

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
	StoreTimeout      time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OAuth OAuthConfig

	PermissionCacheTTL     time.Duration
	PermissionCacheBackend string

	RateLimitEnabled bool
	RateLimitBackend string

	JanitorInterval time.Duration

	Bootstrap BootstrapConfig
}

// OAuthConfig holds authorization server settings.
type OAuthConfig struct {
	Issuer                     string
	Audience                   string
	SigningKeyFile             string
	CodeTTL                    time.Duration
	AccessTokenTTL             time.Duration
	RefreshTokenTTL            time.Duration
	IDTokenTTL                 time.Duration
	LoginURL                   string
	ConsentURL                 string
	IntrospectionRequireClient bool
}

// BootstrapConfig seeds an administrator and a first client on startup.
type BootstrapConfig struct {
	AdminUsername      string
	AdminPassword      string
	ClientID           string
	ClientSecret       string
	ClientRedirectURIs []string
	ClientScopes       []string
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	issuer := strings.TrimRight(strings.TrimSpace(getenv("OAUTH_ISSUER", "http://localhost:8080")), "/")

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "gatekeeper"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        environment,
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		HTTPRequestTimeout: getenvDuration("HTTP_REQUEST_TIMEOUT", 15*time.Second),
		AuthCookieSecure:   authCookieSecure,
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "gatekeeper"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		StoreTimeout:      getenvDuration("STORE_TIMEOUT", 3*time.Second),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		OAuth: OAuthConfig{
			Issuer:                     issuer,
			Audience:                   strings.TrimSpace(getenv("OAUTH_AUDIENCE", "")),
			SigningKeyFile:             strings.TrimSpace(getenv("OAUTH_SIGNING_KEY_FILE", "")),
			CodeTTL:                    getenvDuration("OAUTH_CODE_TTL", 10*time.Minute),
			AccessTokenTTL:             getenvDuration("OAUTH_ACCESS_TOKEN_TTL", time.Hour),
			RefreshTokenTTL:            getenvDuration("OAUTH_REFRESH_TOKEN_TTL", 30*24*time.Hour),
			IDTokenTTL:                 getenvDuration("OAUTH_ID_TOKEN_TTL", time.Hour),
			LoginURL:                   getenv("OAUTH_LOGIN_URL", "/login"),
			ConsentURL:                 getenv("OAUTH_CONSENT_URL", "/consent"),
			IntrospectionRequireClient: getenvBool("OAUTH_INTROSPECTION_CLIENT_AUTH", false),
		},

		PermissionCacheTTL:     getenvDuration("PERMISSION_CACHE_TTL", 5*time.Minute),
		PermissionCacheBackend: normalizeBackend(getenv("PERMISSION_CACHE_BACKEND", CacheBackendMemory)),

		RateLimitEnabled: getenvBool("RATE_LIMIT_ENABLED", true),
		RateLimitBackend: normalizeBackend(getenv("RATE_LIMIT_BACKEND", CacheBackendMemory)),

		JanitorInterval: getenvDuration("JANITOR_INTERVAL", 10*time.Minute),

		Bootstrap: BootstrapConfig{
			AdminUsername:      strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_USERNAME", "")),
			AdminPassword:      getenv("BOOTSTRAP_ADMIN_PASSWORD", ""),
			ClientID:           strings.TrimSpace(getenv("BOOTSTRAP_CLIENT_ID", "")),
			ClientSecret:       getenv("BOOTSTRAP_CLIENT_SECRET", ""),
			ClientRedirectURIs: parseList(getenv("BOOTSTRAP_CLIENT_REDIRECT_URIS", "")),
			ClientScopes:       parseList(getenv("BOOTSTRAP_CLIENT_SCOPES", "openid profile email offline_access")),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeBackend(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case CacheBackendRedis:
		return CacheBackendRedis
	default:
		return CacheBackendMemory
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
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
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
