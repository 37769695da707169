package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Store     string
	DSN       string
	RedisAddr string
	RedisDB   int
	DataDir   string

	APIBaseURL      string
	APIToken        string
	DeliveryTimeout time.Duration

	ProbeURL      string
	ProbeInterval time.Duration

	ListenAddr    string
	KioskEvents   []string
	StrictDomains []string

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from the environment. Values in a .env file in the
// working directory are used for variables the environment does not set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	cfg := Config{
		Store:           getEnv("SYNCQ_STORE", "sqlite"),
		DSN:             getEnv("SYNCQ_DSN", ""),
		RedisAddr:       getEnv("SYNCQ_REDIS_ADDR", "localhost:6379"),
		RedisDB:         getEnvInt("SYNCQ_REDIS_DB", 0),
		DataDir:         getEnv("SYNCQ_DATA_DIR", "./data"),
		APIBaseURL:      getEnv("SYNCQ_API_BASE_URL", "http://localhost:3000/api"),
		APIToken:        getEnv("SYNCQ_API_TOKEN", ""),
		DeliveryTimeout: getEnvDuration("SYNCQ_DELIVERY_TIMEOUT", 30*time.Second),
		ProbeURL:        getEnv("SYNCQ_PROBE_URL", ""),
		ProbeInterval:   getEnvDuration("SYNCQ_PROBE_INTERVAL", 15*time.Second),
		ListenAddr:      getEnv("SYNCQ_LISTEN_ADDR", "127.0.0.1:8787"),
		KioskEvents:     getEnvList("SYNCQ_KIOSK_EVENTS"),
		StrictDomains:   getEnvList("SYNCQ_STRICT_DOMAINS"),
		LogLevel:        getEnv("SYNCQ_LOG_LEVEL", "info"),
		LogPretty:       Bool("SYNCQ_LOG_PRETTY", false),
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = strings.TrimRight(cfg.APIBaseURL, "/") + "/health"
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Bool reads an environment variable and returns a boolean value.
// Only "true" or "false" (case-insensitive) are recognised; any other
// value results in the provided default.
func Bool(key string, defaultValue bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "true":
		return true
	case "false":
		return false
	default:
		return defaultValue
	}
}
