// Package config loads server configuration from an optional YAML file.
// Flags parsed in main override file values; file values override defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the store and the protocol server.
type Config struct {
	DataDir        string `yaml:"data_dir"`
	DefaultContext string `yaml:"default_context"`

	Backups struct {
		Retain   int  `yaml:"retain"`
		Compress bool `yaml:"compress"`
	} `yaml:"backups"`

	Lock struct {
		MaxRetries     int `yaml:"max_retries"`
		StaleTimeoutMS int `yaml:"stale_timeout_ms"`
		RetryDelayMS   int `yaml:"retry_delay_ms"`
	} `yaml:"lock"`

	Embedding struct {
		Dimension     int     `yaml:"dimension"`
		RatePerSecond float64 `yaml:"rate_per_second"`
	} `yaml:"embedding"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.DataDir = "./data"
	c.DefaultContext = "default"
	c.Backups.Retain = 5
	c.Lock.MaxRetries = 3
	c.Lock.StaleTimeoutMS = 5000
	c.Lock.RetryDelayMS = 100
	c.Embedding.Dimension = 384
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults; a missing file is an error (the caller asked for it).
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if c.Backups.Retain < 1 {
		return c, fmt.Errorf("backups.retain must be at least 1, got %d", c.Backups.Retain)
	}
	if c.Embedding.Dimension < 1 {
		return c, fmt.Errorf("embedding.dimension must be at least 1, got %d", c.Embedding.Dimension)
	}
	return c, nil
}

// LockStaleTimeout returns the stale timeout as a duration.
func (c Config) LockStaleTimeout() time.Duration {
	return time.Duration(c.Lock.StaleTimeoutMS) * time.Millisecond
}

// LockRetryDelay returns the retry delay as a duration.
func (c Config) LockRetryDelay() time.Duration {
	return time.Duration(c.Lock.RetryDelayMS) * time.Millisecond
}
