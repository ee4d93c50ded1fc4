// Package config loads process configuration from the environment. A
// .env file is loaded first if present (github.com/joho/godotenv), then
// real environment variables win.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully resolved set of knobs a ratelimitd process needs.
type Config struct {
	NodeID            string
	RedisURL          string
	Window            time.Duration
	APIKeysFile       string
	BypassLimiter     bool
	HTTPAddr          string
	LogLevel          string
	MetricsAddr       string
	RatelimitPoolSize int
}

// Load reads .env (if present, ignored if absent) then the environment,
// applying defaults for anything unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		NodeID:      getenv("NODE_ID", defaultNodeID()),
		RedisURL:    getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		APIKeysFile: getenv("API_KEYS_FILE", "keys.yaml"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	windowSeconds, err := getint("WINDOW_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	if windowSeconds < 1 {
		return Config{}, fmt.Errorf("config: WINDOW_SECONDS must be >= 1, got %d", windowSeconds)
	}
	cfg.Window = time.Duration(windowSeconds) * time.Second

	bypass, err := getbool("BYPASS_LIMITER", false)
	if err != nil {
		return Config{}, err
	}
	cfg.BypassLimiter = bypass

	poolSize, err := getint("RATELIMIT_POOL_SIZE", 10*runtime.GOMAXPROCS(0))
	if err != nil {
		return Config{}, err
	}
	cfg.RatelimitPoolSize = poolSize

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getbool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "node-unknown"
	}
	return host
}
