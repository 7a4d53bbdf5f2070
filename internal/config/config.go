// Package config handles loading and validating configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultLogFile receives logs while the dashboard owns the terminal.
const DefaultLogFile = "./apexwatch.log"

// Config holds all configuration values for the apexwatch client.
type Config struct {
	// Producer endpoints
	WSURL   string `yaml:"ws_url" default:"ws://localhost:8000/ws" validate:"required,url"`
	HTTPURL string `yaml:"http_url" default:"http://localhost:8000" validate:"required,url"`

	// Connection
	RecoveryDelayMS         int `yaml:"recovery_delay_ms" default:"3000" validate:"gte=1"`
	HeartbeatTimeoutSeconds int `yaml:"heartbeat_timeout_seconds" default:"60" validate:"gte=1"`
	PingIntervalSeconds     int `yaml:"ping_interval_seconds" default:"20" validate:"gte=1,ltfield=HeartbeatTimeoutSeconds"`

	// UI
	EnableTUI   bool `yaml:"enable_tui" default:"true"`
	UIRefreshMS int  `yaml:"ui_refresh_ms" default:"500" validate:"gte=50"`

	// Status API and metrics; an empty APIAddr disables the server
	APIAddr        string `yaml:"api_addr" default:"127.0.0.1:8090" validate:"omitempty,hostname_port"`
	MetricsEnabled bool   `yaml:"metrics_enabled" default:"true"`

	// Logging
	LogLevel  string `yaml:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `yaml:"log_format" default:"console" validate:"oneof=console json"`
	LogFile   string `yaml:"log_file"`
}

var validate = validator.New()

// Load builds the configuration.
// Priority order: environment variables > .env file > YAML file at path > defaults.
// An empty path skips the YAML layer.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	// Attempt to read .env file (ignore error if not found)
	dotenv, err := godotenv.Read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	env := envSource{dotenv: dotenv}
	cfg.WSURL = env.getString("APEX_WS_URL", cfg.WSURL)
	cfg.HTTPURL = env.getString("APEX_HTTP_URL", cfg.HTTPURL)
	cfg.RecoveryDelayMS = env.getInt("RECOVERY_DELAY_MS", cfg.RecoveryDelayMS)
	cfg.HeartbeatTimeoutSeconds = env.getInt("HEARTBEAT_TIMEOUT_SECONDS", cfg.HeartbeatTimeoutSeconds)
	cfg.PingIntervalSeconds = env.getInt("PING_INTERVAL_SECONDS", cfg.PingIntervalSeconds)
	cfg.EnableTUI = env.getBool("ENABLE_TUI", cfg.EnableTUI)
	cfg.UIRefreshMS = env.getInt("UI_REFRESH_MS", cfg.UIRefreshMS)
	cfg.APIAddr = env.getString("API_ADDR", cfg.APIAddr)
	cfg.MetricsEnabled = env.getBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.LogLevel = strings.ToLower(env.getString("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(env.getString("LOG_FORMAT", cfg.LogFormat))
	cfg.LogFile = env.getString("LOG_FILE", cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate checks that configuration values are set and valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q check (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return err
	}
	return nil
}

// RecoveryDelay is the pause between a disconnect and the full restart.
func (c *Config) RecoveryDelay() time.Duration {
	return time.Duration(c.RecoveryDelayMS) * time.Millisecond
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

func (c *Config) UIRefreshRate() time.Duration {
	return time.Duration(c.UIRefreshMS) * time.Millisecond
}

// LogPath returns where logs are written, "" meaning stderr.
// With the dashboard enabled logs always go to a file.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	if c.EnableTUI {
		return DefaultLogFile
	}
	return ""
}

// MaskedWSURL returns the WebSocket URL with credentials and query hidden for logging.
func (c *Config) MaskedWSURL() string {
	return maskURL(c.WSURL)
}

// MaskedHTTPURL returns the HTTP URL with credentials and query hidden for logging.
func (c *Config) MaskedHTTPURL() string {
	return maskURL(c.HTTPURL)
}

// maskURL hides userinfo and query values, which may carry tokens.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return maskSecret(raw)
	}
	if u.User != nil {
		u.User = url.User(maskSecret(u.User.String()))
	}
	if u.RawQuery != "" {
		u.RawQuery = maskSecret(u.RawQuery)
	}
	return u.String()
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// envSource resolves keys from the process environment, then the .env file.
type envSource struct {
	dotenv map[string]string
}

func (e envSource) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return e.dotenv[key]
}

// getString retrieves a variable or returns a default value.
func (e envSource) getString(key, defaultValue string) string {
	if value := e.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt retrieves a variable as an integer or returns a default.
func (e envSource) getInt(key string, defaultValue int) int {
	if value := e.lookup(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool retrieves a variable as a boolean or returns a default.
func (e envSource) getBool(key string, defaultValue bool) bool {
	if value := e.lookup(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
