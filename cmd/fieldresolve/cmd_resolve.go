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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/FieldResolve/services/resolve/config"
	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
)

// Flag values for the resolve command.
var (
	resolveCandidateID   string
	resolveStationName   string
	resolveLocation      string
	resolveStationNumber string
	resolvePlanName      string
	resolvePerson        string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one query from the command line",
	Long: `Runs the full strategy chain for a single query built from flags and
prints the result as JSON. Useful for spot-checking master data and
embedding quality without the HTTP service.`,
	RunE: runResolveCommand,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveCandidateID, "id", "", "Candidate project ID extracted from the report")
	resolveCmd.Flags().StringVar(&resolveStationName, "station", "", "Station name")
	resolveCmd.Flags().StringVar(&resolveLocation, "location", "", "Location")
	resolveCmd.Flags().StringVar(&resolveStationNumber, "station-number", "", "Station number")
	resolveCmd.Flags().StringVar(&resolvePlanName, "plan", "", "Plan name")
	resolveCmd.Flags().StringVar(&resolvePerson, "person", "", "Responsible person")
	rootCmd.AddCommand(resolveCmd)
}

func runResolveCommand(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	svc, _, _, cleanup, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if _, err := svc.Warm(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: index warm-up incomplete: %v\n", err)
	}

	result, err := svc.Resolve(ctx, datatypes.ResolutionQuery{
		CandidateID:       resolveCandidateID,
		StationName:       resolveStationName,
		Location:          resolveLocation,
		StationNumber:     resolveStationNumber,
		PlanName:          resolvePlanName,
		ResponsiblePerson: resolvePerson,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
