// Package config provides application configuration management using koanf
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration (two listeners: parse API and query API)
	Server ServerConfig `koanf:"server"`

	// Extraction pipeline tuning
	Extraction ExtractionConfig `koanf:"extraction"`

	// Document store configuration
	Store StoreConfig `koanf:"store"`

	// External services
	Services ServicesConfig `koanf:"services"`

	// Application settings
	App AppConfig `koanf:"app"`
}

// ServerConfig holds HTTP server configuration for both listeners
type ServerConfig struct {
	Host         string `koanf:"host"`
	ParsePort    int    `koanf:"parse_port"`
	QueryPort    int    `koanf:"query_port"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
	// MaxUploadBytes bounds document upload size
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`
}

// ExtractionConfig holds thresholds and tool settings for document parsing
type ExtractionConfig struct {
	// DensityFloor is the minimum number of native text characters per page
	// below which the page is routed to OCR
	DensityFloor int `koanf:"density_floor"`
	// ConfidenceFloor marks OCR pages below it as low confidence; content is
	// still returned
	ConfidenceFloor float64 `koanf:"confidence_floor"`
	// OCRWorkers bounds the OCR worker pool
	OCRWorkers int `koanf:"ocr_workers"`
	// OCRRetries bounds backoff retries when the OCR engine is unavailable
	OCRRetries int    `koanf:"ocr_retries"`
	OCRLang    string `koanf:"ocr_lang"`
	DPI        int    `koanf:"dpi"`
	// MaxPages caps pages per document; 0 means no limit
	MaxPages int `koanf:"max_pages"`
	// Pdftotext and Pdftoppm are binary names or absolute paths
	Pdftotext string `koanf:"pdftotext"`
	Pdftoppm  string `koanf:"pdftoppm"`
}

// StoreConfig holds document store configuration
type StoreConfig struct {
	Path string `koanf:"path"`
	// Capacity bounds the number of cached documents; least recently used
	// entries are evicted beyond it. 0 means unbounded.
	Capacity int `koanf:"capacity"`
}

// ServicesConfig holds external service configuration
type ServicesConfig struct {
	MarketData MarketDataConfig `koanf:"market_data"`
	Embedder   EmbedderConfig   `koanf:"embedder"`
}

// MarketDataConfig holds the market data provider configuration
type MarketDataConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Timeout int    `koanf:"timeout"` // seconds
}

// EmbedderConfig holds the embedding service configuration used for
// document question answering. Optional: DOCUMENT_QA falls back to lexical
// scoring when the base URL is empty.
type EmbedderConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	Timeout int    `koanf:"timeout"` // seconds
}

// AppConfig holds general application settings
type AppConfig struct {
	Environment string `koanf:"environment"` // "development", "staging", "production"
	LogLevel    string `koanf:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat   string `koanf:"log_format"`  // "text" or "json"
	// QueryTimeout bounds a single query end to end, in seconds
	QueryTimeout int `koanf:"query_timeout"`
}

// Load loads configuration from multiple sources with precedence:
// 1. config.yaml (if exists)
// 2. config.json (if exists)
// 3. Environment variables (highest precedence)
func Load() (*Config, error) {
	k := koanf.New(".")

	// Set defaults
	setDefaults(k)

	// Load from config files (optional)
	loadConfigFiles(k)

	// Load from environment variables (highest precedence)
	if err := k.Load(env.Provider(".", env.Opt{}), nil); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	// Unmarshal into config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		// Server defaults
		"server.host":             "localhost",
		"server.parse_port":       8001,
		"server.query_port":       8002,
		"server.read_timeout":     30,
		"server.write_timeout":    60,
		"server.max_upload_bytes": int64(64 << 20),

		// Extraction defaults
		"extraction.density_floor":    32,
		"extraction.confidence_floor": 0.55,
		"extraction.ocr_workers":      4,
		"extraction.ocr_retries":      2,
		"extraction.ocr_lang":         "eng",
		"extraction.dpi":              300,
		"extraction.max_pages":        0,
		"extraction.pdftotext":        "pdftotext",
		"extraction.pdftoppm":         "pdftoppm",

		// Store defaults
		"store.path":     "document_store.db",
		"store.capacity": 256,

		// Services defaults
		"services.market_data.base_url": "http://localhost:9000",
		"services.market_data.timeout":  10,
		"services.embedder.base_url":    "",
		"services.embedder.model":       "nomic-embed-text",
		"services.embedder.timeout":     30,

		// App defaults
		"app.environment":   "development",
		"app.log_level":     "info",
		"app.log_format":    "text",
		"app.query_timeout": 15,
	}

	for key, value := range defaults {
		_ = k.Set(key, value) // Ignore error for setting defaults
	}
}

// loadConfigFiles loads configuration from files
func loadConfigFiles(k *koanf.Koanf) {
	// Try to load YAML config
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
			log.Printf("Warning: failed to load config.yaml: %v", err)
		}
	}

	// Try to load JSON config
	if _, err := os.Stat("config.json"); err == nil {
		if err := k.Load(file.Provider("config.json"), json.Parser()); err != nil {
			log.Printf("Warning: failed to load config.json: %v", err)
		}
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.ParsePort == cfg.Server.QueryPort {
		return fmt.Errorf("parse and query ports must differ, both are %d", cfg.Server.ParsePort)
	}
	if cfg.Extraction.DensityFloor < 0 {
		return fmt.Errorf("extraction density floor must not be negative")
	}
	if cfg.Extraction.ConfidenceFloor < 0 || cfg.Extraction.ConfidenceFloor > 1 {
		return fmt.Errorf("extraction confidence floor must be in [0, 1], got %v", cfg.Extraction.ConfidenceFloor)
	}
	if cfg.Extraction.OCRWorkers < 1 {
		return fmt.Errorf("at least one OCR worker is required")
	}
	if cfg.Store.Capacity < 0 {
		return fmt.Errorf("store capacity must not be negative")
	}
	if cfg.Services.MarketData.BaseURL == "" {
		return fmt.Errorf("market data base URL is required")
	}
	return nil
}

// QueryTimeout returns the per-query deadline as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.App.QueryTimeout) * time.Second
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
