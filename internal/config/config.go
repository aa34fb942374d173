// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, resolved once at startup.
type Config struct {
	// CAUTH is the Coursera session cookie value. Required.
	CAUTH string

	// Host and Port bind the HTTP transport.
	Host string
	Port int

	// APIKey, when set, gates the /mcp endpoint. The health check stays open.
	APIKey string

	// AllowedHosts restricts which upstream hosts may be contacted. Empty
	// means the built-in Coursera hosts only.
	AllowedHosts []string

	UpstreamTimeout time.Duration
	BrowserTimeout  time.Duration

	// ChromePath overrides chromedp's browser discovery.
	ChromePath string
}

// ErrMissingCAUTH is returned when no session cookie is configured; the
// process must exit before serving.
var ErrMissingCAUTH = errors.New("CAUTH is not set; copy the CAUTH cookie from a logged-in coursera.org browser session")

// Load reads .env files and the process environment and validates the result.
// Files are applied in order and never override variables that are already
// set, so the process environment wins and earlier files beat later ones.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		// Missing files are fine; we fall back to the real environment.
		_ = godotenv.Load(f)
	}
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	}

	cfg := &Config{
		CAUTH:        strings.TrimSpace(os.Getenv("CAUTH")),
		Host:         getEnv("MCP_HOST", "127.0.0.1"),
		APIKey:       os.Getenv("MCP_API_KEY"),
		AllowedHosts: splitCSV(os.Getenv("ALLOWED_HOSTS")),
		ChromePath:   os.Getenv("CHROME_PATH"),
	}

	if cfg.CAUTH == "" {
		return nil, ErrMissingCAUTH
	}

	var err error
	if cfg.UpstreamTimeout, err = getEnvDuration("UPSTREAM_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.BrowserTimeout, err = getEnvDuration("BROWSER_TIMEOUT", 40*time.Second); err != nil {
		return nil, err
	}

	port, err := getEnvInt("MCP_PORT", 8787)
	if err != nil {
		return nil, err
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("MCP_PORT %d out of range", port)
	}
	cfg.Port = port

	return cfg, nil
}

// Addr returns the HTTP bind address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("invalid %s: %q must be positive", key, v)
		}
		return d, nil
	}
	// Bare numbers are taken as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid %s: %q must be positive", key, v)
		}
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s: cannot parse %q as a duration", key, v)
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
