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

// Config holds application configuration values.
type Config struct {
	Env      string
	LogLevel string

	Secret      string
	HTTPPort    string
	ConsolePort string

	DatabaseDriver string
	DatabaseDSN    string

	TokenTTL        time.Duration
	SessionBackend  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	NATSURL         string
	CORSOrigins     []string
	LoginRatePerMin int

	APIURL             string
	ContextIdleTimeout time.Duration
	MaxContexts        int
	ResolveWait        time.Duration
	RefreshWindow      time.Duration
}

// IsProduction reports whether ENV is "production".
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from an optional .env file and environment
// variables with reasonable defaults.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Env:      getenv("ENV", "development"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		Secret:      getenv("SECRET", "dev_secret"),
		HTTPPort:    port("HTTP_PORT", "8080"),
		ConsolePort: port("CONSOLE_PORT", "3000"),

		DatabaseDriver: getenv("DATABASE_DRIVER", "sqlite"),

		TokenTTL:        duration("TOKEN_TTL", 24*time.Hour),
		SessionBackend:  getenv("SESSION_BACKEND", "sql"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         integer("REDIS_DB", 0),
		NATSURL:         os.Getenv("NATS_URL"),
		CORSOrigins:     list("CORS_ORIGINS", []string{"*"}),
		LoginRatePerMin: integer("LOGIN_RATE_PER_MIN", 20),

		ContextIdleTimeout: duration("CONTEXT_IDLE_TIMEOUT", 30*time.Minute),
		MaxContexts:        integer("CONSOLE_MAX_CONTEXTS", 10000),
		ResolveWait:        duration("RESOLVE_WAIT", 250*time.Millisecond),
		RefreshWindow:      duration("TOKEN_REFRESH_WINDOW", 10*time.Minute),
	}
	cfg.APIURL = getenv("API_URL", "http://localhost:"+cfg.HTTPPort)

	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	if cfg.DatabaseDSN == "" {
		switch cfg.DatabaseDriver {
		case "pgx":
			host := getenv("HOST", "localhost")
			user := getenv("USER", "postgres")
			dbPort := getenv("PORT", "5432")
			name := getenv("NAME", "novapharm")
			password := os.Getenv("PASSWORD")
			cfg.DatabaseDSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, dbPort, name)
		default:
			cfg.DatabaseDSN = "file:novapharm.db?_pragma=foreign_keys(1)"
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// port validates that the value is numeric.
func port(key, fallback string) string {
	v := getenv(key, fallback)
	if _, err := strconv.Atoi(v); err != nil {
		log.Printf("invalid %s value %q, defaulting to %s", key, v, fallback)
		return fallback
	}
	return v
}

func integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s value %q, defaulting to %d", key, v, fallback)
		return fallback
	}
	return n
}

func duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s value %q, defaulting to %s", key, v, fallback)
		return fallback
	}
	return d
}

func list(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
