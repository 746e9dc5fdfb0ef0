// Package config handles loading and validating the application
// configuration from an outline.json file.
//
// The configuration file is expected to be a JSON object with database
// connection details, the HTTP listen address, engine timing knobs, and
// logging settings.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config holds all application configuration loaded from outline.json.
// The file is read once at startup; changes require a restart.
type Config struct {
	// DBConn is the PostgreSQL host:port (e.g., "infra-postgres:5432").
	DBConn string `json:"dbConn"`

	// DBName is the PostgreSQL database name.
	DBName string `json:"dbName"`

	// DBUser is the PostgreSQL username.
	DBUser string `json:"dbUser"`

	// DBPass is the PostgreSQL password.
	DBPass string `json:"dbPass"`

	// ListenAddr is the HTTP listen address (default ":3000").
	ListenAddr string `json:"listenAddr"`

	// CommandTimeoutMS is the total deadline for a command, from dispatch
	// until it reaches the head of its container's queue (default 5000).
	CommandTimeoutMS int `json:"commandTimeoutMs"`

	// SerializerIdleTeardownMS is how long an idle container serializer
	// stays alive before it is torn down (default 60000).
	SerializerIdleTeardownMS int `json:"serializerIdleTeardownMs"`

	// AnalyzerConcurrency is the URL analyzer worker-pool size (default 8).
	AnalyzerConcurrency int `json:"analyzerConcurrency"`

	// AnalyzerPerURLTimeoutMS bounds each metadata fetch (default 10000).
	AnalyzerPerURLTimeoutMS int `json:"analyzerPerUrlTimeoutMs"`

	// AnalyzerJobBudgetMS bounds one whole analyzer job (default 30000).
	AnalyzerJobBudgetMS int `json:"analyzerJobBudgetMs"`

	// LogLevel is one of "debug", "info", "warn", "error" (default "info").
	LogLevel string `json:"logLevel"`

	// LogJSON switches log output from console format to JSON.
	LogJSON bool `json:"logJson"`
}

// Load reads and parses configuration from the given file path.
// It returns an error if the file cannot be read, parsed, or is missing
// required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.CommandTimeoutMS <= 0 {
		c.CommandTimeoutMS = 5000
	}
	if c.SerializerIdleTeardownMS <= 0 {
		c.SerializerIdleTeardownMS = 60000
	}
	if c.AnalyzerConcurrency <= 0 {
		c.AnalyzerConcurrency = 8
	}
	if c.AnalyzerPerURLTimeoutMS <= 0 {
		c.AnalyzerPerURLTimeoutMS = 10000
	}
	if c.AnalyzerJobBudgetMS <= 0 {
		c.AnalyzerJobBudgetMS = 30000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// validate checks that all required fields are present.
func (c *Config) validate() error {
	switch {
	case c.DBConn == "":
		return fmt.Errorf("config: dbConn is required")
	case c.DBName == "":
		return fmt.Errorf("config: dbName is required")
	case c.DBUser == "":
		return fmt.Errorf("config: dbUser is required")
	case c.DBPass == "":
		return fmt.Errorf("config: dbPass is required")
	}
	return nil
}

// ConnString builds a PostgreSQL connection URI from the config fields.
// The password is URL-encoded to handle special characters safely.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPass),
		c.DBConn,
		url.QueryEscape(c.DBName),
	)
}

// CommandTimeout returns the command deadline as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMS) * time.Millisecond
}

// SerializerIdleTeardown returns the serializer idle timeout as a duration.
func (c *Config) SerializerIdleTeardown() time.Duration {
	return time.Duration(c.SerializerIdleTeardownMS) * time.Millisecond
}

// AnalyzerPerURLTimeout returns the per-URL fetch timeout as a duration.
func (c *Config) AnalyzerPerURLTimeout() time.Duration {
	return time.Duration(c.AnalyzerPerURLTimeoutMS) * time.Millisecond
}

// AnalyzerJobBudget returns the per-job analyzer budget as a duration.
func (c *Config) AnalyzerJobBudget() time.Duration {
	return time.Duration(c.AnalyzerJobBudgetMS) * time.Millisecond
}
