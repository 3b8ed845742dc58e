// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration from YAML with
// environment-variable overrides. Precedence, lowest to highest: built-in
// defaults, the YAML file, RESOLVE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full service configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Registry configures the project master data source.
	Registry RegistryConfig `yaml:"registry"`

	// Embedding configures the embedding backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures the persisted vector index.
	Index IndexConfig `yaml:"index"`

	// EntityCache configures the per-report entity cache.
	EntityCache EntityCacheConfig `yaml:"entity_cache"`

	// ResultCache configures resolution memoization.
	ResultCache ResultCacheConfig `yaml:"result_cache"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port the service listens on.
	Port int `yaml:"port"`
}

// RegistryConfig configures the project master data source.
type RegistryConfig struct {
	// MasterDataPath is the JSON file holding project records.
	MasterDataPath string `yaml:"master_data_path"`

	// Watch enables hot reload when the master data file changes.
	Watch bool `yaml:"watch"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	// URL of the Ollama-compatible embed endpoint, including the
	// /api/embed path.
	URL string `yaml:"url"`

	// Model name requested from the backend.
	Model string `yaml:"model"`
}

// IndexConfig configures the persisted vector index.
type IndexConfig struct {
	// Dir holds the vector blob and its metadata sidecar.
	Dir string `yaml:"dir"`

	// TopK is the number of candidates a search returns.
	TopK int `yaml:"top_k"`

	// Threshold is the minimum similarity for a candidate to count.
	Threshold float64 `yaml:"threshold"`

	// WarmConcurrency bounds parallel embeds during index warm-up.
	WarmConcurrency int `yaml:"warm_concurrency"`
}

// EntityCacheConfig configures the per-report entity cache.
type EntityCacheConfig struct {
	// Dir holds the per-entity JSON/binary file pairs and the manifest.
	Dir string `yaml:"dir"`

	// MaxWorkers bounds parallel reads during bulk load.
	MaxWorkers int `yaml:"max_workers"`
}

// ResultCacheConfig configures resolution memoization.
type ResultCacheConfig struct {
	// Enabled turns the BadgerDB memoization layer on.
	Enabled bool `yaml:"enabled"`

	// Dir is the BadgerDB directory.
	Dir string `yaml:"dir"`

	// TTL is the lifetime of each memoized result.
	TTL time.Duration `yaml:"ttl"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Registry: RegistryConfig{
			MasterDataPath: "data/project_master.json",
			Watch:          true,
		},
		Embedding: EmbeddingConfig{
			URL:   "http://localhost:11434/api/embed",
			Model: "mxbai-embed-large",
		},
		Index: IndexConfig{
			Dir:             "data/index",
			TopK:            5,
			Threshold:       0.0,
			WarmConcurrency: 5,
		},
		EntityCache: EntityCacheConfig{
			Dir:        "data/entities",
			MaxWorkers: 3,
		},
		ResultCache: ResultCacheConfig{
			Enabled: false,
			Dir:     "data/result_cache",
			TTL:     7 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration from an optional YAML file plus RESOLVE_*
// environment overrides.
//
// # Description
//
// An empty path skips the file step entirely. A path that does not exist is
// an error: a misconfigured deployment should fail at startup, not run on
// silent defaults.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Non-nil on unreadable file, malformed YAML, or invalid values.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides layers RESOLVE_* environment variables over cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RESOLVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RESOLVE_MASTER_DATA"); v != "" {
		cfg.Registry.MasterDataPath = v
	}
	if v := os.Getenv("RESOLVE_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("RESOLVE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("RESOLVE_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("RESOLVE_CACHE_DIR"); v != "" {
		cfg.EntityCache.Dir = v
	}
	if v := os.Getenv("RESOLVE_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EntityCache.MaxWorkers = n
		}
	}
	if v := os.Getenv("RESOLVE_RESULT_CACHE_DIR"); v != "" {
		cfg.ResultCache.Dir = v
		cfg.ResultCache.Enabled = true
	}
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if c.Registry.MasterDataPath == "" {
		return fmt.Errorf("config: registry.master_data_path must not be empty")
	}
	if c.Embedding.URL == "" {
		return fmt.Errorf("config: embedding.url must not be empty")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("config: embedding.model must not be empty")
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("config: index.top_k must be positive, got %d", c.Index.TopK)
	}
	if c.Index.Threshold < 0 || c.Index.Threshold > 1 {
		return fmt.Errorf("config: index.threshold %.2f out of [0,1]", c.Index.Threshold)
	}
	if c.Index.WarmConcurrency <= 0 {
		return fmt.Errorf("config: index.warm_concurrency must be positive, got %d", c.Index.WarmConcurrency)
	}
	if c.EntityCache.MaxWorkers <= 0 {
		return fmt.Errorf("config: entity_cache.max_workers must be positive, got %d", c.EntityCache.MaxWorkers)
	}
	if c.ResultCache.Enabled && c.ResultCache.Dir == "" {
		return fmt.Errorf("config: result_cache.dir required when enabled")
	}
	return nil
}
