// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// DefaultRemoteAPIURL points at a Langflow instance on the local machine.
const DefaultRemoteAPIURL = "http://127.0.0.1:7860/api/v1/run/a8b894bc-5791-4eb9-a925-3a8136872944"

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	AllowedOrigins     []string
	MaxRequestBodySize int64
	Remote             RemoteConfig
}

// RemoteConfig describes the remote flow execution service.
type RemoteConfig struct {
	URL         string
	APIKey      string // may be empty; every turn then reports a configuration error
	ServiceName string // used in "Error calling <name> API: ..." replies
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		AllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_BYTES", 1<<20),
		Remote: RemoteConfig{
			URL:         getEnvFirst(DefaultRemoteAPIURL, "REMOTE_API_URL", "LANGFLOW_API_URL"),
			APIKey:      getEnvFirst("", "REMOTE_API_KEY", "LANGFLOW_API_KEY"),
			ServiceName: getEnv("REMOTE_SERVICE_NAME", "Langflow"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Remote.ServiceName == "" {
		return fmt.Errorf("REMOTE_SERVICE_NAME cannot be empty")
	}
	u, err := url.Parse(c.Remote.URL)
	if err != nil {
		return fmt.Errorf("REMOTE_API_URL is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("REMOTE_API_URL must be an absolute http(s) URL, got %q", c.Remote.URL)
	}
	return nil
}

// HasAPIKey reports whether the shared secret for the remote service is set.
func (c *Config) HasAPIKey() bool {
	return c.Remote.APIKey != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getEnvFirst returns the first non-empty value among keys.
func getEnvFirst(fallback string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
