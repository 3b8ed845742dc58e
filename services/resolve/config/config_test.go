// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Embedding.Model != "mxbai-embed-large" {
		t.Errorf("Model = %q, want mxbai-embed-large", cfg.Embedding.Model)
	}
	if cfg.Index.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.Index.TopK)
	}
	if cfg.ResultCache.TTL != 7*24*time.Hour {
		t.Errorf("TTL = %v, want 168h", cfg.ResultCache.TTL)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
registry:
  master_data_path: /data/projects.json
index:
  top_k: 3
  threshold: 0.25
  warm_concurrency: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Registry.MasterDataPath != "/data/projects.json" {
		t.Errorf("MasterDataPath = %q", cfg.Registry.MasterDataPath)
	}
	if cfg.Index.TopK != 3 || cfg.Index.Threshold != 0.25 {
		t.Errorf("Index = %+v", cfg.Index)
	}
	// Untouched sections keep defaults.
	if cfg.Embedding.URL != "http://localhost:11434/api/embed" {
		t.Errorf("URL = %q, want default", cfg.Embedding.URL)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("RESOLVE_PORT", "7070")
	t.Setenv("RESOLVE_EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("RESOLVE_RESULT_CACHE_DIR", "/var/cache/resolve")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Model = %q, want nomic-embed-text", cfg.Embedding.Model)
	}
	if !cfg.ResultCache.Enabled || cfg.ResultCache.Dir != "/var/cache/resolve" {
		t.Errorf("ResultCache = %+v, want enabled via env", cfg.ResultCache)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty master data", func(c *Config) { c.Registry.MasterDataPath = "" }},
		{"empty embedding url", func(c *Config) { c.Embedding.URL = "" }},
		{"empty model", func(c *Config) { c.Embedding.Model = "" }},
		{"zero top_k", func(c *Config) { c.Index.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Index.Threshold = 1.5 }},
		{"zero warm concurrency", func(c *Config) { c.Index.WarmConcurrency = 0 }},
		{"zero workers", func(c *Config) { c.EntityCache.MaxWorkers = 0 }},
		{"result cache without dir", func(c *Config) { c.ResultCache.Enabled = true; c.ResultCache.Dir = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
