package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/simbench/server"
)

// Config represents the optional launcher configuration file.
// All fields must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	LogLevel          string        `yaml:"log_level"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "warn",
		ShutdownTimeout:   server.DefaultShutdownTimeout,
		ReadHeaderTimeout: server.DefaultReadHeaderTimeout,
	}
}

// loadConfig parses the YAML file at path over DefaultConfig. An empty path
// returns the defaults. Unknown keys are errors so typos do not go unnoticed.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, err
	}
	return cfg, nil
}

// serverOptions translates the configuration into server options.
func (c Config) serverOptions() []server.Option {
	return []server.Option{
		server.WithShutdownTimeout(c.ShutdownTimeout),
		server.WithReadHeaderTimeout(c.ReadHeaderTimeout),
	}
}
