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
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/FieldResolve/services/resolve/config"
	"github.com/AleutianAI/FieldResolve/services/resolve/entitycache"
)

// loadWorkers holds the flag value for the load command.
var loadWorkers int

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Bulk-load cached report entities and summarize them",
	Long: `Reads every cached report entity listed in the cache manifest, using the
binary fast path where it is fresh and the JSON fallback where it is not,
and prints a per-status summary.`,
	RunE: runLoadCommand,
}

func init() {
	loadCmd.Flags().IntVar(&loadWorkers, "workers", 0, "Parallel readers (0 uses the default)")
	rootCmd.AddCommand(loadCmd)
}

func runLoadCommand(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if loadWorkers == 0 {
		loadWorkers = cfg.EntityCache.MaxWorkers
	}
	loader := entitycache.NewBulkLoader(loadWorkers, slog.Default())
	entities, err := loader.LoadAll(context.Background(), cfg.EntityCache.Dir)
	if err != nil {
		return fmt.Errorf("bulk load: %w", err)
	}

	resolved := 0
	review := 0
	for _, e := range entities {
		if e.Resolution != nil && e.Resolution.Resolved() {
			resolved++
		}
		if e.RequiresHumanReview {
			review++
		}
	}

	fmt.Printf("Loaded %d entities from %s\n", len(entities), cfg.EntityCache.Dir)
	fmt.Printf("  resolved to a project: %d\n", resolved)
	fmt.Printf("  flagged for review:    %d\n", review)
	return nil
}
