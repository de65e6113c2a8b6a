package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level data2rest configuration file.
type YAMLConfig struct {
	Server    ServerConfig   `yaml:"server"`
	Auth      AuthConfig     `yaml:"auth"`
	API       APIConfig      `yaml:"api"`
	Databases []DatabaseYAML `yaml:"databases"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     string     `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
	TLS             TLSConfig  `yaml:"tls"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// TLSConfig controls TLS termination at the server level.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	JWTExpiry    string `yaml:"jwt_expiry"`
	APIKeyHeader string `yaml:"api_key_header"`
}

// APIConfig controls the data API surface: quotas, caching, and batch
// behavior shared by every exposed database.
type APIConfig struct {
	RateLimit       int    `yaml:"rate_limit"`        // requests per window
	RateWindow      string `yaml:"rate_window"`       // window duration
	CacheTTL        string `yaml:"cache_ttl"`         // response cache lifetime
	MaxBatchSize    int    `yaml:"max_batch_size"`    // bulk operation cap
	DefaultPageSize int    `yaml:"default_page_size"` // list default limit
	MaxPageSize     int    `yaml:"max_page_size"`     // list limit ceiling
}

// DatabaseYAML declares an exposed database in the configuration file.
// Declared databases are upserted into the control store at startup.
type DatabaseYAML struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
	Project string `yaml:"project"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	var cfg YAMLConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     "10MB",
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry:    "1h",
			APIKeyHeader: "X-API-Key",
		},
		API: APIConfig{
			RateLimit:       1000,
			RateWindow:      "1h",
			CacheTTL:        "5m",
			MaxBatchSize:    100,
			DefaultPageSize: 25,
			MaxPageSize:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
