// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding provides the remote embedding backend client used to
// turn project descriptions and resolution queries into vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// embedCallTimeout is the per-call timeout for a single embedding request.
// Resolution is interactive; a local Ollama call should be well under this.
const embedCallTimeout = 10 * time.Second

// defaultEmbedRate limits outbound embedding calls so a bulk index warm-up
// cannot overwhelm the backend. Burst covers the warm-up worker pool.
const (
	defaultEmbedRate  = 20 // calls per second
	defaultEmbedBurst = 10
)

// ErrBackendUnavailable wraps every embedding backend failure (connection,
// timeout, non-200, empty vector). Callers degrade on errors.Is rather than
// inspecting transport details.
var ErrBackendUnavailable = errors.New("embedding backend unavailable")

// Embedder turns text into a fixed-length vector. Implementations are
// treated as blocking remote calls and must honor ctx cancellation.
type Embedder interface {
	// Embed returns the embedding vector for text. Errors wrap
	// ErrBackendUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the embedding model name, used for cache invalidation
	// hashing.
	Model() string
}

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// =============================================================================
// OllamaEmbedder
// =============================================================================

// OllamaEmbedder calls Ollama's /api/embed endpoint.
//
// # Description
//
// Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment when
// the explicit values are empty. Calls are rate limited so that index
// warm-up (hundreds of sequential descriptions) does not saturate the
// backend; the limiter blocks in Embed, honoring ctx.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaEmbedder struct {
	url     string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewOllamaEmbedder creates an OllamaEmbedder.
//
// # Inputs
//
//   - url: Ollama /api/embed endpoint. Empty falls back to
//     EMBEDDING_SERVICE_URL, then the local default.
//   - model: Embedding model name. Empty falls back to EMBEDDING_MODEL,
//     then "mxbai-embed-large".
//
// # Outputs
//
//   - *OllamaEmbedder: Ready client. Never nil.
func NewOllamaEmbedder(url, model string) *OllamaEmbedder {
	if url == "" {
		url = os.Getenv("EMBEDDING_SERVICE_URL")
	}
	if url == "" {
		url = "http://localhost:11434/api/embed"
	}
	if model == "" {
		model = os.Getenv("EMBEDDING_MODEL")
	}
	if model == "" {
		model = "mxbai-embed-large"
	}

	return &OllamaEmbedder{
		url:   url,
		model: model,
		client: &http.Client{
			Timeout: 30 * time.Second, // per-call timeout set tighter in Embed
		},
		limiter: rate.NewLimiter(rate.Limit(defaultEmbedRate), defaultEmbedBurst),
	}
}

// Model returns the embedding model name.
func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Embed calls the backend and returns the embedding vector for text.
//
// # Description
//
// Waits on the rate limiter, then issues a single POST with a tight
// timeout. Every failure mode — limiter abort, transport error, non-200
// status, undecodable body, empty vector — is returned wrapped in
// ErrBackendUnavailable so the resolver can degrade uniformly.
//
// # Thread Safety
//
// Safe for concurrent use.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrBackendUnavailable, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, embedCallTimeout)
	defer cancel()

	reqBody, err := json.Marshal(ollamaEmbedReq{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrBackendUnavailable, err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, resp.StatusCode, string(body))
	}

	var decoded ollamaEmbedResp
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrBackendUnavailable, err)
	}
	if len(decoded.Embeddings) == 0 || len(decoded.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrBackendUnavailable)
	}

	return decoded.Embeddings[0], nil
}
