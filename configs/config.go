package configs

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment variable, e.g. NLQUERY_LISTEN_ADDR.
const envPrefix = "nlquery"

// FallbackAPIKeyEnv is consulted when no reasoner API key is configured.
const FallbackAPIKeyEnv = "DEEPSEEK_API_KEY"

// ReasonerFileConfig is the reasoner section of the YAML file.
type ReasonerFileConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	TranslatePrompt string `yaml:"translate_prompt"`
	ExplainPrompt   string `yaml:"explain_prompt"`
}

// FileConfig defines the structure loaded from the YAML configuration file.
type FileConfig struct {
	Reasoner     ReasonerFileConfig `yaml:"reasoner"`
	Instructions string             `yaml:"instructions"`
}

// Config holds the final configuration of both binaries, merged from file
// and environment variables. Environment variables use the prefix
// "NLQUERY_" and override file settings.
type Config struct {
	ConfigFilePath string `envconfig:"CONFIG_FILE"`

	// Server
	ListenAddr              string        `envconfig:"LISTEN_ADDR" default:":8100"`
	SSEPath                 string        `envconfig:"SSE_PATH" default:"/sse"`
	MessagePath             string        `envconfig:"MESSAGE_PATH" default:"/messages/"`
	DatabasePath            string        `envconfig:"DB_PATH" default:"data/database.db"`
	Seed                    bool          `envconfig:"SEED" default:"true"`
	HeartbeatInterval       time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"15s"`
	ServerReadHeaderTimeout time.Duration `envconfig:"SERVER_READ_HEADER_TIMEOUT" default:"5s"`
	ServerIdleTimeout       time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout         time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	Instructions            string        `envconfig:"INSTRUCTIONS"`

	// Host
	ServerURL   string        `envconfig:"SERVER_URL" default:"http://localhost:8100/sse"`
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// Reasoner. Empty values fall back to the client's defaults.
	ReasonerBaseURL         string        `envconfig:"REASONER_BASE_URL"`
	ReasonerAPIKey          string        `envconfig:"REASONER_API_KEY"`
	ReasonerModel           string        `envconfig:"REASONER_MODEL"`
	ReasonerTimeout         time.Duration `envconfig:"REASONER_TIMEOUT" default:"60s"`
	ReasonerRetryMax        int           `envconfig:"REASONER_RETRY_MAX" default:"3"`
	ReasonerTranslatePrompt string        `envconfig:"REASONER_TRANSLATE_PROMPT"`
	ReasonerExplainPrompt   string        `envconfig:"REASONER_EXPLAIN_PROMPT"`

	OtelExporterOtlpEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool   `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string `envconfig:"LOG_LEVEL" default:"info"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Load loads configuration first from environment variables (to get the
// file path), then from the YAML file if one is named, and finally applies
// environment variables again so they win over the file.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	if cfg.ConfigFilePath != "" {
		data, err := os.ReadFile(cfg.ConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", cfg.ConfigFilePath, err)
		}
		var fileCfg FileConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", cfg.ConfigFilePath, err)
		}
		cfg.applyFile(fileCfg)
		slog.Info("Loaded configuration from file.", "path", cfg.ConfigFilePath)
	}

	// Fields without a default keep their file value when the variable is unset.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}

	if cfg.ReasonerAPIKey == "" {
		cfg.ReasonerAPIKey = os.Getenv(FallbackAPIKeyEnv)
	}
	return &cfg, nil
}

func (c *Config) applyFile(f FileConfig) {
	c.ReasonerBaseURL = f.Reasoner.BaseURL
	c.ReasonerAPIKey = f.Reasoner.APIKey
	c.ReasonerModel = f.Reasoner.Model
	c.ReasonerTranslatePrompt = f.Reasoner.TranslatePrompt
	c.ReasonerExplainPrompt = f.Reasoner.ExplainPrompt
	c.Instructions = f.Instructions
}
