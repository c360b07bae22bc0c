package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	PublicBaseURL   string
	DatabaseURL     string
	RedisAddr       string
	QueueBackend    string
	SessionSecret   string
	CookieSecure    bool
	AdminUsername   string
	AdminPassword   string
	AdminTokenTTL   time.Duration
	JWTIssuer       string
	RateLimitPerMin int
	TrustedProxies  []string
	QRSize          int
	LogLevel        string
	LogFormat       string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

const (
	defaultSessionSecret = "dev_secret_key"
	defaultAdminPassword = "admin123"
)

// Load returns application config populated from environment variables with sensible defaults.
// A .env file in the working directory is read first when present; real env vars win.
func Load() App {
	_ = godotenv.Load()

	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "5000"),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", ""),
		DatabaseURL:     getEnv("DATABASE_URL", "sqlite://attendance.db"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		SessionSecret:   getEnv("SESSION_SECRET", defaultSessionSecret),
		CookieSecure:    boolEnv("COOKIE_SECURE", false),
		AdminUsername:   getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:   getEnv("ADMIN_PASSWORD", defaultAdminPassword),
		AdminTokenTTL:   durationEnv("ADMIN_TOKEN_TTL", 12*time.Hour),
		JWTIssuer:       getEnv("JWT_ISSUER", "qrattend"),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		TrustedProxies:  listEnv("TRUSTED_PROXIES"),
		QRSize:          intEnv("QR_SIZE", 300),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "console"),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "qrattend"),
	}
}

// Production reports whether the app runs with a production environment name.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// CloudinaryEnabled reports whether all Cloudinary credentials are present.
func (a App) CloudinaryEnabled() bool {
	return a.CloudinaryCloudName != "" && a.CloudinaryAPIKey != "" && a.CloudinaryAPISecret != ""
}

// InsecureDefaults lists the secrets that are still set to their development defaults.
func (a App) InsecureDefaults() []string {
	var out []string
	if a.SessionSecret == defaultSessionSecret {
		out = append(out, "SESSION_SECRET")
	}
	if a.AdminPassword == defaultAdminPassword {
		out = append(out, "ADMIN_PASSWORD")
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

// listEnv splits a comma-separated variable, dropping empty entries.
func listEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
