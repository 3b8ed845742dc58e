// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps an embedded BadgerDB instance behind a small
// context-aware transaction API. The wrapper exists so callers never touch
// badger.Open options directly and so every transaction observes context
// cancellation before it starts.
package badger

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string

	// InMemory opens a non-persistent instance. Used by tests.
	InMemory bool
}

// DefaultConfig returns an on-disk configuration. The caller sets Path
// before opening.
func DefaultConfig() Config {
	return Config{}
}

// InMemoryConfig returns a configuration for a non-persistent instance.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an opened BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use. Transactions are per-goroutine.
type DB struct {
	db *badger.DB
}

// OpenDB opens a BadgerDB instance per cfg.
//
// # Outputs
//
//   - *DB: Opened instance. The caller owns it and must call Close.
//   - error: Non-nil when the directory cannot be opened (locked by another
//     process, unwritable, or corrupt beyond recovery).
func OpenDB(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: config path must not be empty")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	// Badger's default logger writes to stderr at INFO; silence it and let
	// callers log at their own level.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the instance. Further transactions fail.
func (d *DB) Close() error {
	return d.db.Close()
}

// WithTxn runs fn inside a read-write transaction and commits it.
//
// # Description
//
// The context is checked before the transaction starts; a cancelled context
// fails fast without touching storage. fn must not retain the transaction
// beyond its return.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}
