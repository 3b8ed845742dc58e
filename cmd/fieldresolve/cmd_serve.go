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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/FieldResolve/services/resolve"
	"github.com/AleutianAI/FieldResolve/services/resolve/config"
	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the resolution HTTP service",
	RunE:  runServeCommand,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServeCommand(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if debugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so resolution spans join the caller's
	// distributed trace.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	svc, store, idx, cleanup, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Warm the index up front so the first request does not pay the full
	// embedding cost. Backend loss degrades to fallback resolutions.
	if indexed, err := svc.Warm(ctx); err != nil {
		slog.Warn("index warm-up incomplete, continuing degraded",
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("index warmed", slog.Int("indexed", indexed))
	}

	if cfg.Registry.Watch {
		watcher := registry.NewWatcher(store, cfg.Registry.MasterDataPath, func(ctx context.Context) {
			if indexed, err := svc.Warm(ctx); err != nil {
				slog.Warn("re-warm after registry reload failed",
					slog.String("error", err.Error()),
				)
			} else {
				slog.Info("index re-warmed after registry reload",
					slog.Int("indexed", indexed),
				)
			}
		}, slog.Default())
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("registry watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("fieldresolve"))
	if debugMode {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	resolve.RegisterRoutes(v1, resolve.NewHandlers(svc))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("fieldresolve listening",
			slog.Int("port", cfg.Server.Port),
			slog.Int("projects", store.Len()),
			slog.Int("indexed", idx.Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}
