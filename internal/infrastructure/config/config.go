package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Browser   BrowserConfig
	Session   SessionConfig
	Stream    StreamConfig
	Tokens    TokenConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" default:"8000"`
	Host        string   `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// BrowserConfig describes the browser and the authorization flow it opens.
type BrowserConfig struct {
	ClientID       string        `envconfig:"OAUTH_CLIENT_ID"`
	AuthorizeURL   string        `envconfig:"OAUTH_AUTHORIZE_URL" default:"https://oauth.yandex.ru/authorize"`
	Headless       bool          `envconfig:"BROWSER_HEADLESS" default:"false"`
	Bin            string        `envconfig:"BROWSER_BIN"`
	ViewportWidth  int           `envconfig:"VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int           `envconfig:"VIEWPORT_HEIGHT" default:"720"`
	TokenTimeout   time.Duration `envconfig:"TOKEN_TIMEOUT" default:"120s"`
	LoginTimeout   time.Duration `envconfig:"OAUTH_LOGIN_TIMEOUT" default:"120s"`
	CallTimeout    time.Duration `envconfig:"BROWSER_CALL_TIMEOUT" default:"15s"`
	FormTimeout    time.Duration `envconfig:"BROWSER_FORM_TIMEOUT" default:"30s"`
	QuitTimeout    time.Duration `envconfig:"BROWSER_QUIT_TIMEOUT" default:"10s"`
}

// SessionConfig holds session lifecycle timing.
type SessionConfig struct {
	TTL           time.Duration `envconfig:"SESSION_TTL" default:"15m"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
	PollInterval  time.Duration `envconfig:"SESSION_POLL_INTERVAL" default:"1s"`
}

// StreamConfig holds WebSocket stream pacing.
type StreamConfig struct {
	FrameInterval time.Duration `envconfig:"STREAM_FRAME_INTERVAL" default:"400ms"`
	RetryInterval time.Duration `envconfig:"STREAM_RETRY_INTERVAL" default:"500ms"`
	WriteTimeout  time.Duration `envconfig:"STREAM_WRITE_TIMEOUT" default:"5s"`
}

// TokenConfig holds token storage and delivery settings.
type TokenConfig struct {
	StoreTTL   time.Duration `envconfig:"TOKEN_STORE_TTL" default:"24h"`
	WebhookURL string        `envconfig:"TOKEN_WEBHOOK_URL"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			Host:        "0.0.0.0",
			CORSOrigins: []string{"*"},
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Browser: BrowserConfig{
			AuthorizeURL:   "https://oauth.yandex.ru/authorize",
			ViewportWidth:  1280,
			ViewportHeight: 720,
			TokenTimeout:   120 * time.Second,
			LoginTimeout:   120 * time.Second,
			CallTimeout:    15 * time.Second,
			FormTimeout:    30 * time.Second,
			QuitTimeout:    10 * time.Second,
		},
		Session: SessionConfig{
			TTL:           15 * time.Minute,
			SweepInterval: time.Minute,
			PollInterval:  time.Second,
		},
		Stream: StreamConfig{
			FrameInterval: 400 * time.Millisecond,
			RetryInterval: 500 * time.Millisecond,
			WriteTimeout:  5 * time.Second,
		},
		Tokens: TokenConfig{
			StoreTTL: 24 * time.Hour,
		},
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight))
	}
	if _, err := url.ParseRequestURI(c.Browser.AuthorizeURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid OAUTH_AUTHORIZE_URL: %w", err))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"TOKEN_TIMEOUT", c.Browser.TokenTimeout},
		{"OAUTH_LOGIN_TIMEOUT", c.Browser.LoginTimeout},
		{"BROWSER_CALL_TIMEOUT", c.Browser.CallTimeout},
		{"BROWSER_FORM_TIMEOUT", c.Browser.FormTimeout},
		{"BROWSER_QUIT_TIMEOUT", c.Browser.QuitTimeout},
		{"SESSION_TTL", c.Session.TTL},
		{"SESSION_SWEEP_INTERVAL", c.Session.SweepInterval},
		{"SESSION_POLL_INTERVAL", c.Session.PollInterval},
		{"STREAM_FRAME_INTERVAL", c.Stream.FrameInterval},
		{"STREAM_RETRY_INTERVAL", c.Stream.RetryInterval},
		{"STREAM_WRITE_TIMEOUT", c.Stream.WriteTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}

	if c.Tokens.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Tokens.WebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid TOKEN_WEBHOOK_URL: %w", err))
		}
	}

	return errors.Join(errs...)
}

// AuthorizeURL is the implicit-grant URL each browser session opens.
func (c *Config) AuthorizeURL() string {
	u, err := url.Parse(c.Browser.AuthorizeURL)
	if err != nil {
		return c.Browser.AuthorizeURL
	}
	q := u.Query()
	q.Set("response_type", "token")
	if c.Browser.ClientID != "" {
		q.Set("client_id", c.Browser.ClientID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
