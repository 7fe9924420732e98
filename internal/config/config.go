// Package config loads service settings from defaults, an optional YAML file
// and FINEASE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendGCS      = "gcs"
	BackendBigQuery = "bigquery"

	AnalyzerGemini = "gemini"
	AnalyzerMock   = "mock"
)

// Config holds every runtime setting.
type Config struct {
	// HTTP server
	Port          string `yaml:"port"`
	AllowedOrigin string `yaml:"allowed_origin"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console or json

	// Durable session record
	SessionBackend string `yaml:"session_backend"`
	SQLiteDBPath   string `yaml:"sqlite_db_path"`
	SessionBucket  string `yaml:"session_bucket"`
	SessionPrefix  string `yaml:"session_prefix"`

	// Analysis
	Analyzer       string  `yaml:"analyzer"`
	GeminiAPIKey   string  `yaml:"-"` // environment only
	UseVertex      bool    `yaml:"use_vertex"`
	GCPProject     string  `yaml:"gcp_project"`
	GCPLocation    string  `yaml:"gcp_location"`
	ModelName      string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	GCSInput       bool    `yaml:"gcs_input"` // accept gs:// references

	// Run ledger
	RunsBackend     string `yaml:"runs_backend"`
	BigQueryDataset string `yaml:"bigquery_dataset"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Port:            "8080",
		AllowedOrigin:   "*",
		LogLevel:        "info",
		LogFormat:       "console",
		SessionBackend:  BackendMemory,
		SQLiteDBPath:    "./data/finease.db",
		SessionPrefix:   "sessions/",
		Analyzer:        AnalyzerGemini,
		GCPLocation:     "us-central1",
		ModelName:       "gemini-2.5-flash",
		Temperature:     0.2,
		MaxUploadBytes:  20 << 20,
		RunsBackend:     BackendMemory,
		BigQueryDataset: "finease",
	}
}

// LoadEnvFiles reads .env style files into the environment. Missing files are
// ignored; variables already set win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("LoadEnvFiles: %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration. path names an optional YAML file; when empty,
// FINEASE_CONFIG is consulted.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("FINEASE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("Load: parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("FINEASE_PORT", c.Port)
	c.AllowedOrigin = getEnv("FINEASE_ALLOWED_ORIGIN", c.AllowedOrigin)
	c.LogLevel = getEnv("FINEASE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("FINEASE_LOG_FORMAT", c.LogFormat)

	c.SessionBackend = getEnv("FINEASE_SESSION_BACKEND", c.SessionBackend)
	c.SQLiteDBPath = getEnv("FINEASE_SQLITE_DB_PATH", c.SQLiteDBPath)
	c.SessionBucket = getEnv("FINEASE_SESSION_BUCKET", c.SessionBucket)
	c.SessionPrefix = getEnv("FINEASE_SESSION_PREFIX", c.SessionPrefix)

	c.Analyzer = getEnv("FINEASE_ANALYZER", c.Analyzer)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GCPProject = getEnv("FINEASE_GCP_PROJECT", getEnv("GOOGLE_CLOUD_PROJECT", c.GCPProject))
	c.GCPLocation = getEnv("FINEASE_GCP_LOCATION", c.GCPLocation)
	c.ModelName = getEnv("FINEASE_MODEL", c.ModelName)

	c.RunsBackend = getEnv("FINEASE_RUNS_BACKEND", c.RunsBackend)
	c.BigQueryDataset = getEnv("FINEASE_BIGQUERY_DATASET", c.BigQueryDataset)

	var errs []string
	if v := os.Getenv("FINEASE_USE_VERTEX"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("FINEASE_USE_VERTEX=%q: must be a boolean", v))
		}
		c.UseVertex = b
	}
	if v := os.Getenv("FINEASE_GCS_INPUT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("FINEASE_GCS_INPUT=%q: must be a boolean", v))
		}
		c.GCSInput = b
	}
	if v := os.Getenv("FINEASE_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("FINEASE_TEMPERATURE=%q: must be a number", v))
		}
		c.Temperature = float32(f)
	}
	if v := os.Getenv("FINEASE_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("FINEASE_MAX_UPLOAD_BYTES=%q: must be an integer", v))
		}
		c.MaxUploadBytes = n
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !oneOf(c.LogFormat, "console", "json") {
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be console or json", c.LogFormat))
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite session backend")
		}
	case BackendGCS:
		if c.SessionBucket == "" {
			errs = append(errs, "session bucket is required when using gcs session backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid session backend '%s': must be one of [memory sqlite gcs]", c.SessionBackend))
	}

	switch c.Analyzer {
	case AnalyzerMock:
	case AnalyzerGemini:
		if c.UseVertex {
			if c.GCPProject == "" || c.GCPLocation == "" {
				errs = append(errs, "GCP project and location are required when using Vertex AI")
			}
		} else if c.GeminiAPIKey == "" {
			errs = append(errs, "GEMINI_API_KEY is required for the gemini analyzer unless Vertex AI is used")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid analyzer '%s': must be gemini or mock", c.Analyzer))
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("invalid temperature %v: must be between 0 and 2", c.Temperature))
	}
	if c.MaxUploadBytes < 1 {
		errs = append(errs, fmt.Sprintf("invalid max upload size %d: must be positive", c.MaxUploadBytes))
	}

	switch c.RunsBackend {
	case BackendMemory:
	case BackendBigQuery:
		if c.GCPProject == "" {
			errs = append(errs, "GCP project is required when using bigquery runs backend")
		}
		if c.BigQueryDataset == "" {
			errs = append(errs, "BigQuery dataset is required when using bigquery runs backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid runs backend '%s': must be memory or bigquery", c.RunsBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
