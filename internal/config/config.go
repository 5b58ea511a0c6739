// Package config loads replica configuration from a YAML file with
// WEAVE_* environment overrides. Every field has a usable default, so a
// missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full replica configuration.
type Config struct {
	// Actor is this replica's writer id, stamped on local events.
	Actor string `yaml:"actor"`

	// DatabasePath is the SQLite file; empty runs in-memory only.
	DatabasePath string `yaml:"database_path"`

	// ListenAddr is the HTTP bind address for the sync API.
	ListenAddr string `yaml:"listen_addr"`

	// Peers are the replica URLs to exchange events with.
	Peers []string `yaml:"peers"`

	// ConflictPolicy is one of lww, happens-before, actor-priority.
	ConflictPolicy string `yaml:"conflict_policy"`

	// SyncInterval is the periodic exchange cadence.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// ProbeTimeout bounds the peer connectivity check.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Environment selects the logging profile (dev or prod).
	Environment string `yaml:"environment"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Actor:          "local",
		DatabasePath:   "weave.db",
		ListenAddr:     ":8484",
		ConflictPolicy: "lww",
		SyncInterval:   30 * time.Second,
		ProbeTimeout:   2 * time.Second,
		Environment:    "dev",
	}
}

// Load reads path (when it exists), then applies environment overrides.
// A missing file yields the defaults; a malformed one is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults apply.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = Default().SyncInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = Default().ProbeTimeout
	}
	return cfg, nil
}

// applyEnv overrides fields from WEAVE_* variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WEAVE_ACTOR"); v != "" {
		cfg.Actor = v
	}
	if v := os.Getenv("WEAVE_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("WEAVE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WEAVE_PEERS"); v != "" {
		cfg.Peers = splitList(v)
	}
	if v := os.Getenv("WEAVE_CONFLICT_POLICY"); v != "" {
		cfg.ConflictPolicy = v
	}
	if v := os.Getenv("WEAVE_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
	if v := os.Getenv("WEAVE_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProbeTimeout = d
		}
	}
	if v := os.Getenv("WEAVE_ENV"); v != "" {
		cfg.Environment = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
