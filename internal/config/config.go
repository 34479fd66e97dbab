// Package config provides YAML-based configuration loading for Yardcap.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Yardcap configuration, loaded from yardcap.yaml.
type Config struct {
	Yard       string           `yaml:"yard" env:"YC_YARD"`
	Timezone   string           `yaml:"timezone" env:"YC_TIMEZONE"`
	Database   DatabaseConfig   `yaml:"database"`
	Validation ValidationConfig `yaml:"validation"`
	Sweep      SweepConfig      `yaml:"sweep"`
	API        APIConfig        `yaml:"api"`
	Log        LogConfig        `yaml:"log"`
	Nodes      []NodeConfig     `yaml:"nodes"`
}

// DatabaseConfig selects the store. The sqlite driver uses Path; mysql uses
// Host, Port, Name and User.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"YC_DB_DRIVER"`
	Path   string `yaml:"path" env:"YC_DB_PATH"`
	Host   string `yaml:"host" env:"YC_DB_HOST"`
	Port   int    `yaml:"port" env:"YC_DB_PORT"`
	Name   string `yaml:"name" env:"YC_DB_NAME"`
	User   string `yaml:"user" env:"YC_DB_USER"`
}

// ValidationConfig tunes the advisory checks of movement validation.
type ValidationConfig struct {
	ConflictBuffer  time.Duration `yaml:"conflict_buffer" env:"YC_CONFLICT_BUFFER"`
	ConflictHorizon time.Duration `yaml:"conflict_horizon" env:"YC_CONFLICT_HORIZON"`
	SameDayWarnings *bool         `yaml:"same_day_warnings"`
}

// SweepConfig holds the cron schedule of the planned-movement sweep.
type SweepConfig struct {
	Schedule string `yaml:"schedule" env:"YC_SWEEP_SCHEDULE"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Port int `yaml:"port" env:"YC_API_PORT"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" env:"YC_LOG_LEVEL"`
	Format string `yaml:"format" env:"YC_LOG_FORMAT"`
}

// NodeConfig seeds a location node and its tracks.
type NodeConfig struct {
	Name   string        `yaml:"name"`
	Tracks []TrackConfig `yaml:"tracks"`
}

// TrackConfig seeds a single track. A length of 0 means unlimited capacity.
type TrackConfig struct {
	Name   string `yaml:"name"`
	Length int    `yaml:"length"`
}

const (
	DefaultConflictBuffer  = 2 * time.Hour
	DefaultConflictHorizon = 30 * 24 * time.Hour
	DefaultSweepSchedule   = "*/5 * * * *"
)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies YC_* environment overrides and
// returns a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location returns the yard time zone used for calendar-date decisions.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SameDay reports whether same-day scheduling warnings are enabled.
func (v ValidationConfig) SameDay() bool {
	return v.SameDayWarnings == nil || *v.SameDayWarnings
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" && c.Yard != "" {
			c.Database.Path = "yardcap_" + c.Yard + ".db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" && c.Yard != "" {
			c.Database.Name = "yardcap_" + c.Yard
		}
	}
	if c.Validation.ConflictBuffer == 0 {
		c.Validation.ConflictBuffer = DefaultConflictBuffer
	}
	if c.Validation.ConflictHorizon == 0 {
		c.Validation.ConflictHorizon = DefaultConflictHorizon
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = DefaultSweepSchedule
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Yard == "" {
		errs = append(errs, "yard is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is invalid", c.Timezone))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Validation.ConflictBuffer < 0 {
		errs = append(errs, "validation.conflict_buffer must not be negative")
	}
	if c.Validation.ConflictHorizon < 0 {
		errs = append(errs, "validation.conflict_horizon must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}

	seen := make(map[string]bool)
	for i, n := range c.Nodes {
		if n.Name == "" {
			errs = append(errs, fmt.Sprintf("nodes[%d].name is required", i))
		}
		for j, t := range n.Tracks {
			if t.Name == "" {
				errs = append(errs, fmt.Sprintf("nodes[%d].tracks[%d].name is required", i, j))
				continue
			}
			if t.Length < 0 {
				errs = append(errs, fmt.Sprintf("nodes[%d].tracks[%d].length must not be negative", i, j))
			}
			if seen[t.Name] {
				errs = append(errs, fmt.Sprintf("track %q is declared twice", t.Name))
			}
			seen[t.Name] = true
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
