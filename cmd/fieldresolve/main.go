// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/FieldResolve/services/resolve"
	"github.com/AleutianAI/FieldResolve/services/resolve/config"
	"github.com/AleutianAI/FieldResolve/services/resolve/embedding"
	"github.com/AleutianAI/FieldResolve/services/resolve/index"
	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
	"github.com/AleutianAI/FieldResolve/services/resolve/resolutioncache"
	badgerstore "github.com/AleutianAI/FieldResolve/services/resolve/storage/badger"
)

// configPath and debugMode hold persistent flag values shared by all
// subcommands.
var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "fieldresolve",
	Short: "Project identity resolution for field reports",
	Long: `fieldresolve matches construction and telecom field reports to projects
in the master registry, using exact ID lookup first and embedding
similarity search with evidence scoring after that.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if debugMode {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (empty uses defaults + RESOLVE_* env)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// =============================================================================
// Shared Service Construction
// =============================================================================

// buildService assembles the registry store, index, optional memoization
// cache, and service from the configuration. The returned cleanup closes
// what was opened and must run even on error-free exits.
func buildService(cfg config.Config) (*resolve.Service, *registry.Store, *index.ProjectIndex, func(), error) {
	store, err := registry.LoadStore(cfg.Registry.MasterDataPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load project registry: %w", err)
	}

	embedder := embedding.NewOllamaEmbedder(cfg.Embedding.URL, cfg.Embedding.Model)
	idx, err := index.NewProjectIndex(cfg.Index.Dir, embedder, slog.Default())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open project index: %w", err)
	}
	idx.SetWarmConcurrency(cfg.Index.WarmConcurrency)

	cleanup := func() {
		if err := idx.Flush(); err != nil {
			slog.Warn("index flush on shutdown failed", slog.String("error", err.Error()))
		}
	}

	var resultCache resolutioncache.Store
	if cfg.ResultCache.Enabled {
		dbCfg := badgerstore.DefaultConfig()
		dbCfg.Path = cfg.ResultCache.Dir
		db, err := badgerstore.OpenDB(dbCfg)
		if err != nil {
			// Memoization is an accelerator, never a requirement.
			slog.Warn("result cache unavailable, memoization disabled",
				slog.String("path", cfg.ResultCache.Dir),
				slog.String("error", err.Error()),
			)
		} else {
			resultCache = resolutioncache.NewBadgerStore(db, cfg.ResultCache.TTL, slog.Default())
			prev := cleanup
			cleanup = func() {
				prev()
				if err := db.Close(); err != nil {
					slog.Warn("result cache close failed", slog.String("error", err.Error()))
				}
			}
			slog.Info("result cache opened", slog.String("path", cfg.ResultCache.Dir))
		}
	}

	svc := resolve.NewService(store, idx, resolve.ServiceConfig{
		TopK:        cfg.Index.TopK,
		Threshold:   cfg.Index.Threshold,
		Model:       cfg.Embedding.Model,
		ResultCache: resultCache,
		Logger:      slog.Default(),
	})
	return svc, store, idx, cleanup, nil
}
