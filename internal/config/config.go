package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds service-level settings: listen addresses, paths, intervals.
// User-level transcription settings live in the JSON document (see Settings).
type Config struct {
	StorePath string `env:"TIRCORDER_STATE_DB" envDefault:"state.db"`

	HTTPAddr     string        `env:"TIRCORDER_HTTP_ADDR" envDefault:":8090"`
	ReadTimeout  time.Duration `env:"TIRCORDER_HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"TIRCORDER_HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"TIRCORDER_HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	AuthToken    string        `env:"TIRCORDER_AUTH_TOKEN"`

	LogLevel string `env:"TIRCORDER_LOG_LEVEL" envDefault:"info"`

	ScanInterval  time.Duration `env:"TIRCORDER_SCAN_INTERVAL" envDefault:"5s"`
	ScanBatchSize int           `env:"TIRCORDER_SCAN_BATCH" envDefault:"100"`

	CPUThreshold     float64       `env:"TIRCORDER_CPU_THRESHOLD" envDefault:"85"`
	CPUCheckInterval time.Duration `env:"TIRCORDER_CPU_CHECK_INTERVAL" envDefault:"500ms"`

	QueryInterval time.Duration `env:"TIRCORDER_QUERY_INTERVAL" envDefault:"1s"`

	ConvertRetries    int           `env:"TIRCORDER_CONVERT_RETRIES" envDefault:"5"`
	ConvertRetryDelay time.Duration `env:"TIRCORDER_CONVERT_RETRY_DELAY" envDefault:"10s"`

	SettingsPath string `env:"TIRCORDER_CONFIG_PATH"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	StorePath    string
	SettingsPath string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.StorePath != "" {
		cfg.StorePath = overrides.StorePath
	}
	if overrides.SettingsPath != "" {
		cfg.SettingsPath = overrides.SettingsPath
	}

	return cfg, nil
}
