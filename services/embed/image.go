// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// ImageDimension is D_I, fixed at index creation.
const ImageDimension = 512

// ImageEmbedder calls a local vision-language service to embed image
// files. The service loads its model on the first request, so the first
// call is slow; Warmup hides that behind startup when the caller wants.
type ImageEmbedder struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger

	warmOnce sync.Once
	warmErr  error
}

type imageEmbedRequest struct {
	ImageB64 string `json:"image_b64"`
	Filename string `json:"filename"`
}

type imageEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewImageEmbedder builds an embedder against the service at baseURL,
// e.g. http://localhost:8188.
func NewImageEmbedder(baseURL string, log *slog.Logger) *ImageEmbedder {
	if log == nil {
		log = slog.Default()
	}
	return &ImageEmbedder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		log:     log,
	}
}

// Dimension returns D_I.
func (e *ImageEmbedder) Dimension() int {
	return ImageDimension
}

// Warmup pings the service once so the model is resident before the
// first real embedding. Safe to call concurrently; only the first call
// does work.
func (e *ImageEmbedder) Warmup(ctx context.Context) error {
	e.warmOnce.Do(func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
		if err != nil {
			e.warmErr = err
			return
		}
		resp, err := e.client.Do(req)
		if err != nil {
			e.warmErr = fmt.Errorf("embed: image service unreachable: %w", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			e.warmErr = fmt.Errorf("embed: image service health returned %d", resp.StatusCode)
		}
	})
	return e.warmErr
}

// EmbedImage embeds the image at path. A nil vector with nil error means
// this particular image could not be embedded (missing file, corrupt
// data, unsupported format); the chunk is still indexed without an image
// vector.
func (e *ImageEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		e.log.Debug("image unreadable, skipping embed", "path", path, "error", err)
		return nil, nil
	}

	body, err := json.Marshal(imageEmbedRequest{
		ImageB64: base64.StdEncoding.EncodeToString(data),
		Filename: path,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: image service: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		// The service saw the image and could not handle it. Not
		// transient and not fatal for the chunk.
		e.log.Debug("image rejected by embed service", "path", path)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: image service returned %d: %s", ErrTransient, resp.StatusCode, raw)
	}

	var out imageEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode image response: %w", err)
	}
	if out.Error != "" || len(out.Embedding) == 0 {
		e.log.Debug("image embed failed server-side", "path", path, "error", out.Error)
		return nil, nil
	}
	return out.Embedding, nil
}

// EmbedQuery projects query text into the image vector space so text
// can retrieve images. Unlike EmbedImage, failures here are real
// errors: the caller has no result without a query vector.
func (e *ImageEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal text request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed_text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build text request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: image service: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: image service returned %d: %s", ErrTransient, resp.StatusCode, raw)
	}

	var out imageEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode text response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embed: image service returned empty query vector")
	}
	return out.Embedding, nil
}
