package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application settings.
type Config struct {
	Port       string
	MongoDBURI string
	DBName     string

	JWTSecret string
	JWTExpiry time.Duration

	ClientURL string
	AppEnv    string
	LogLevel  string

	RedisURL       string
	RedisKeyPrefix string
	PresenceTTL    time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration
	// TrustedProxies may set X-Forwarded-For. Empty means none.
	TrustedProxies []string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string
}

const defaultJWTSecret = "dev-secret-change-me"

// LoadConfig reads settings from the environment, loading a .env file first when one exists.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		MongoDBURI: getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		DBName:     getEnv("DB_NAME", "realtime_canvas"),

		JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
		JWTExpiry: getDuration("JWT_EXPIRY", 7*24*time.Hour),

		ClientURL: strings.TrimRight(getEnv("CLIENT_URL", "http://localhost:5173"), "/"),
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		RedisURL:       getEnv("REDIS_URL", ""),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "canvas:"),
		PresenceTTL:    getDuration("PRESENCE_TTL", 90*time.Second),

		RateLimitMax:    getInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: getDuration("RATE_LIMIT_WINDOW", time.Minute),
		TrustedProxies:  getList("TRUSTED_PROXIES"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleCallbackURL:  getEnv("GOOGLE_CALLBACK_URL", "http://localhost:8080/api/auth/google/callback"),
	}
	return cfg
}

// Validate reports settings that are unsafe for the configured environment.
func (c *Config) Validate() error {
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return errors.New("config: JWT_SECRET must be set in production")
	}
	if c.JWTExpiry <= 0 {
		return errors.New("config: JWT_EXPIRY must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GoogleOAuthEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// getEnv returns the value of key, or defaultValue when it is unset.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Invalid %s %q, using default %s", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid %s %q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return n
}

// getList splits a comma separated value, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
