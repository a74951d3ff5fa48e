package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration of the capture service.
// Environment variables are parsed with the MEMORIES_ prefix.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP query surface
	HTTPHost string `envconfig:"HTTP_HOST" default:"127.0.0.1"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"11546"`

	// Storage. DBDriver is sqlite or postgres; SQLitePath defaults to the data dir.
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Inference server process
	ServerBinary       string        `envconfig:"SERVER_BINARY" default:"llama-server"`
	ServerArgs         []string      `envconfig:"SERVER_ARGS" default:""`
	ServerPort         int           `envconfig:"SERVER_PORT" default:"8765"`
	ServerHealthPath   string        `envconfig:"SERVER_HEALTH_PATH" default:"/health"`
	ServerStartTimeout time.Duration `envconfig:"SERVER_START_TIMEOUT" default:"60s"`
	ServerStartRetries int           `envconfig:"SERVER_START_RETRIES" default:"3"`
	ServerStopTimeout  time.Duration `envconfig:"SERVER_STOP_TIMEOUT" default:"5s"`
	// ServerExternal skips spawning and only probes an already running server.
	ServerExternal bool `envconfig:"SERVER_EXTERNAL" default:"false"`

	// Extraction
	InferenceModel   string        `envconfig:"INFERENCE_MODEL" default:"local"`
	InferenceTimeout time.Duration `envconfig:"INFERENCE_TIMEOUT" default:"30s"`
	MaxTokens        int           `envconfig:"MAX_TOKENS" default:"1024"`

	// Capture
	HelperPath        string        `envconfig:"HELPER_PATH" default:"text-extractor"`
	ScreenshotCommand []string      `envconfig:"SCREENSHOT_COMMAND" default:""`
	CaptureTimeout    time.Duration `envconfig:"CAPTURE_TIMEOUT" default:"3s"`
	CaptureInterval   time.Duration `envconfig:"CAPTURE_INTERVAL" default:"30s"`
	Apps              []string      `envconfig:"APPS" default:""`
	TriggerRate       float64       `envconfig:"TRIGGER_RATE" default:"0.2"`
	TriggerBurst      int           `envconfig:"TRIGGER_BURST" default:"1"`

	// Embeddings. EmbedProvider is server or ollama.
	EmbedProvider  string `envconfig:"EMBED_PROVIDER" default:"server"`
	EmbedModel     string `envconfig:"EMBED_MODEL" default:"nomic-embed-text"`
	EmbedURL       string `envconfig:"EMBED_URL" default:""`
	EmbedDimension int    `envconfig:"EMBED_DIMENSION" default:"0"`

	// Summaries
	SummaryEvery int `envconfig:"SUMMARY_EVERY" default:"5"`

	HealthInterval time.Duration `envconfig:"HEALTH_INTERVAL" default:"5s"`
}

// ResolveDefaults validates drivers and derives dependent values.
func (c *Config) ResolveDefaults() error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	c.EmbedProvider = strings.ToLower(strings.TrimSpace(c.EmbedProvider))
	switch c.EmbedProvider {
	case "server":
		if c.EmbedURL == "" {
			c.EmbedURL = c.ServerURL()
		}
	case "ollama":
		if c.EmbedURL == "" {
			c.EmbedURL = "http://localhost:11434"
		}
	default:
		return fmt.Errorf("unsupported EMBED_PROVIDER: %s", c.EmbedProvider)
	}

	if c.ServerStartRetries < 1 {
		c.ServerStartRetries = 1
	}
	if c.SummaryEvery < 1 {
		c.SummaryEvery = 1
	}
	if c.TriggerBurst < 1 {
		c.TriggerBurst = 1
	}
	return nil
}

// New parses MEMORIES_* environment variables.
// Example: MEMORIES_DB_DRIVER=postgres MEMORIES_POSTGRES_DSN=...
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MEMORIES", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("http_addr", cfg.GetHTTPAddr()).
		Str("server_url", cfg.ServerURL()).
		Bool("server_external", cfg.ServerExternal).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Strs("apps", cfg.Apps).
		Dur("capture_interval", cfg.CaptureInterval).
		Str("postgres_dsn_present", strconv.FormatBool(cfg.PostgresDSN != "")).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns a resolved config with defaults suitable for tests.
func NewForTesting() *Config {
	cfg := &Config{
		LogLevel:           "debug",
		HTTPHost:           "127.0.0.1",
		HTTPPort:           0,
		DBDriver:           "sqlite",
		ServerBinary:       "llama-server",
		ServerPort:         8765,
		ServerHealthPath:   "/health",
		ServerStartTimeout: 2 * time.Second,
		ServerStartRetries: 1,
		ServerStopTimeout:  time.Second,
		InferenceModel:     "test",
		InferenceTimeout:   2 * time.Second,
		MaxTokens:          256,
		HelperPath:         "text-extractor",
		CaptureTimeout:     time.Second,
		CaptureInterval:    time.Second,
		TriggerRate:        10,
		TriggerBurst:       1,
		EmbedProvider:      "server",
		EmbedModel:         "test-embed",
		SummaryEvery:       2,
		HealthInterval:     50 * time.Millisecond,
	}
	_ = cfg.ResolveDefaults()
	return cfg
}

// ServerURL is the base URL of the supervised inference server.
func (c *Config) ServerURL() string {
	return "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(c.ServerPort))
}

// GetHTTPAddr returns the listen address of the query surface.
func (c *Config) GetHTTPAddr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.HTTPPort))
}
