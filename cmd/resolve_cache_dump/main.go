// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// resolve_cache_dump inspects the resolution memoization cache.
//
// The cache persists per-query resolution results in BadgerDB between
// service restarts, keyed by registry hash and query hash. This tool opens
// the cache read-only and prints a human-readable summary: keys, TTL
// remaining, resolved project, method, and confidence.
//
// Usage:
//
//	resolve_cache_dump [--path /path/to/result/cache]
//
// If --path is not given, reads RESOLVE_RESULT_CACHE_DIR from the
// environment.
//
// Exit codes:
//
//	0 — success (including "empty cache", which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
)

// resultKeyPrefix must match the resolutioncache package exactly.
const resultKeyPrefix = "resolve/result/v1/"

func main() {
	pathFlag := flag.String("path", "", "Path to result-cache BadgerDB directory (overrides RESOLVE_RESULT_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("RESOLVE_RESULT_CACHE_DIR")
	}
	if dbPath == "" {
		fatalf("no cache path: pass --path or set RESOLVE_RESULT_CACHE_DIR")
	}

	fmt.Printf("Result cache path: %s\n", dbPath)

	// Check existence before trying to open for a cleaner message than
	// BadgerDB's wrapped "no such file or directory".
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. The service has not memoized any resolutions yet.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type entry struct {
		key       string
		expiresAt time.Time
		hasExpiry bool
		result    *datatypes.ResolutionResult
		rawSize   int
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(resultKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var e entry
			e.key = string(item.Key())

			// item.ExpiresAt() returns Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			var result datatypes.ResolutionResult
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&result); err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.result = &result
			}

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo memoized resolutions found.")
		fmt.Println("Either the result cache is disabled or every query so far resolved directly.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d memoized resolution%s:\n", len(entries), plural(len(entries)))
	fmt.Println(strings.Repeat("─", 80))

	for i, e := range entries {
		// Key layout: resolve/result/v1/{registryHash}/{queryHash}
		suffix := strings.TrimPrefix(e.key, resultKeyPrefix)
		registryHash, queryHash, _ := strings.Cut(suffix, "/")

		fmt.Printf("\n[%d] Registry hash: %s\n", i+1, shorten(registryHash))
		fmt.Printf("    Query hash:    %s\n", shorten(queryHash))

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:           EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:           %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:           no expiry set\n")
		}

		fmt.Printf("    Raw size:      %d bytes\n", e.rawSize)

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR:  %v\n", e.decodeErr)
			continue
		}

		r := e.result
		fmt.Printf("    Project:       %s\n", orDash(r.ProjectID))
		fmt.Printf("    Method:        %s\n", r.Method)
		fmt.Printf("    Confidence:    %.2f\n", r.Confidence)
		if r.QueryText != "" {
			fmt.Printf("    Query:         %s\n", r.QueryText)
		}
		if len(r.Alternatives) > 0 {
			fmt.Printf("    Alternatives:  %s\n", strings.Join(r.Alternatives, ", "))
		}
		if r.Evidence != nil {
			fmt.Printf("    Evidence:      %d matches — %s\n", r.Evidence.MatchCount(), r.Evidence.Reason)
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d entr%s, cache path: %s\n",
		len(entries), pluralY(len(entries)), dbPath)
}

// shorten truncates a hex hash for display.
func shorten(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "resolve_cache_dump: "+format+"\n", args...)
	os.Exit(1)
}
