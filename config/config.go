/*
Package config loads the server configuration.

SOURCES (later wins):
  1. Defaults
  2. .env in the working directory (godotenv; a missing file is fine)
  3. Optional YAML file
  4. Environment variables
  5. Command-line flags (applied by cmd/server)

YAML FILE:
  server:
    port: "8080"
    logMode: prod
  database:
    path: fees.db
  engine:
    batchChunkSize: 200
    batchWorkers: 4
    maxReportedErrors: 100
    auditRetentionDays: 3650
    sweepInterval: 1h
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
}

type ServerConfig struct {
	Port    string `yaml:"port"`
	LogMode string `yaml:"logMode"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EngineConfig struct {
	BatchChunkSize     int           `yaml:"batchChunkSize"`
	BatchWorkers       int           `yaml:"batchWorkers"`
	MaxReportedErrors  int           `yaml:"maxReportedErrors"`
	AuditRetentionDays int           `yaml:"auditRetentionDays"`
	SweepInterval      time.Duration `yaml:"sweepInterval"`
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Port: "8080", LogMode: "dev"},
		Database: DatabaseConfig{Path: "fees.db"},
		Engine: EngineConfig{
			BatchChunkSize:     200,
			BatchWorkers:       4,
			MaxReportedErrors:  100,
			AuditRetentionDays: 3650,
			SweepInterval:      time.Hour,
		},
	}
}

// Load builds the configuration from defaults, .env, the YAML file at path
// (skipped when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		cfg.Server.Port = v
	}
	if v, ok := os.LookupEnv("LOG_MODE"); ok && v != "" {
		cfg.Server.LogMode = v
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok && v != "" {
		cfg.Database.Path = v
	}
	for key, dst := range map[string]*int{
		"BATCH_CHUNK_SIZE":     &cfg.Engine.BatchChunkSize,
		"BATCH_WORKERS":        &cfg.Engine.BatchWorkers,
		"BATCH_MAX_ERRORS":     &cfg.Engine.MaxReportedErrors,
		"AUDIT_RETENTION_DAYS": &cfg.Engine.AuditRetentionDays,
	} {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}
	if v, ok := os.LookupEnv("SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SWEEP_INTERVAL %q: %w", v, err)
		}
		cfg.Engine.SweepInterval = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Engine.BatchChunkSize <= 0 || c.Engine.BatchWorkers <= 0 {
		return fmt.Errorf("batch chunk size and workers must be positive")
	}
	if c.Engine.AuditRetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
}
