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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/FieldResolve/services/resolve/config"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Embed the project registry into the persisted index",
	Long: `Embeds every record of the project master data and persists the vectors,
so a later serve start answers from disk instead of re-embedding.`,
	RunE: runWarmCommand,
}

func init() {
	rootCmd.AddCommand(warmCmd)
}

func runWarmCommand(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	svc, store, _, cleanup, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	indexed, err := svc.Warm(context.Background())
	if err != nil {
		return fmt.Errorf("warm index: %w", err)
	}

	fmt.Printf("Indexed %d of %d projects into %s\n", indexed, store.Len(), cfg.Index.Dir)
	return nil
}
