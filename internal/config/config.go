// Package config loads the command line defaults.
//
// Values are resolved from lowest to highest precedence: built-in defaults,
// an optional YAML file, a .env file in the working directory, and BIGEO_*
// environment variables. Command line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tingold/bigeo/geom"
	"github.com/tingold/bigeo/internal/logger"
	"github.com/tingold/bigeo/vector"
)

// Environment variables.
const (
	EnvEngine     = "BIGEO_ENGINE"
	EnvDriver     = "BIGEO_DRIVER"
	EnvExtension  = "BIGEO_EXTENSION"
	EnvLogLevel   = "BIGEO_LOG_LEVEL"
	EnvLogFormat  = "BIGEO_LOG_FORMAT"
	EnvDuckDBPath = "BIGEO_DUCKDB_PATH"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid value")

// Config holds the tool defaults.
type Config struct {
	Engine    string       `yaml:"engine"`
	Driver    string       `yaml:"driver"`
	Extension string       `yaml:"extension"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"`
	DuckDB    DuckDBConfig `yaml:"duckdb"`
}

// DuckDBConfig configures the duckdb engine.
type DuckDBConfig struct {
	Path       string   `yaml:"path"`
	Extensions []string `yaml:"extensions"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Engine:    geom.PlanarEngine,
		Extension: ".shp",
		LogLevel:  "info",
		LogFormat: logger.FormatJSON,
	}
}

// Load resolves the configuration. path names an optional YAML file; a
// missing .env file is not an error.
func Load(path string) (Config, error) {
	return load(path, ".env", os.LookupEnv)
}

func load(path, envFile string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}

	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: read %s: %w", envFile, err)
	}

	// the process environment wins over .env
	cfg.applyEnv(func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for key, dst := range map[string]*string{
		EnvEngine:     &c.Engine,
		EnvDriver:     &c.Driver,
		EnvExtension:  &c.Extension,
		EnvLogLevel:   &c.LogLevel,
		EnvLogFormat:  &c.LogFormat,
		EnvDuckDBPath: &c.DuckDB.Path,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
}

// Validate rejects unknown engines, drivers, log levels and formats.
func (c Config) Validate() error {
	if !validEngine(c.Engine) {
		return fmt.Errorf("%w: engine %q (want one of %s)", ErrInvalid, c.Engine, strings.Join(geom.Engines(), ", "))
	}
	if c.Driver != "" {
		if _, err := vector.Lookup(c.Driver); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if c.Extension != "" && !strings.HasPrefix(c.Extension, ".") {
		return fmt.Errorf("%w: extension %q must start with a dot", ErrInvalid, c.Extension)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", logger.FormatJSON, logger.FormatText:
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// EngineOptions returns the geom options for the configured engine.
func (c Config) EngineOptions() geom.Options {
	return geom.Options{
		DuckDBPath: c.DuckDB.Path,
		Extensions: c.DuckDB.Extensions,
	}
}

func validEngine(name string) bool {
	if name == "" {
		return true
	}
	for _, e := range geom.Engines() {
		if strings.EqualFold(name, e) {
			return true
		}
	}
	return false
}
