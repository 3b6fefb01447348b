// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the search and status surface over HTTP for
// local collaborators: structured search, per-chat message fetch, the
// indexer status block, health, and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stillwaterhq/recall/services/index"
	"github.com/stillwaterhq/recall/services/indexer"
	"github.com/stillwaterhq/recall/services/query"
)

const (
	defaultSearchLimit  = 10
	defaultFetchLimit   = 20
	shutdownGracePeriod = 5 * time.Second
)

// SearchService executes natural-language searches.
type SearchService interface {
	Search(ctx context.Context, request string, limit int) ([]query.FormattedResult, error)
}

// StatusService assembles the indexer status block.
type StatusService interface {
	Status(ctx context.Context) (indexer.Status, error)
}

// ChatFetcher fetches a chat's stored documents.
type ChatFetcher interface {
	ChatDocuments(ctx context.Context, chat string, limit int) ([]index.ResultDoc, error)
}

// HealthChecker reports backend readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server holds the route dependencies.
type Server struct {
	search SearchService
	status StatusService
	chats  ChatFetcher
	health HealthChecker
	log    *slog.Logger
}

// New wires a Server.
func New(search SearchService, status StatusService, chats ChatFetcher, health HealthChecker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{search: search, status: status, chats: chats, health: health, log: log}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/search", s.handleSearch)
		api.GET("/messages/:chat", s.handleMessages)
		api.GET("/status", s.handleStatus)
	}
	return router
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		s.log.Info("http server stopped")
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	}
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results, err := s.search.Search(c.Request.Context(), req.Query, limit)
	if err != nil {
		if errors.Is(err, query.ErrTimeout) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "search timed out"})
			return
		}
		s.log.Error("search failed", "query", req.Query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleMessages(c *gin.Context) {
	chat := c.Param("chat")
	limit := defaultFetchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	docs, err := s.chats.ChatDocuments(c.Request.Context(), chat, limit)
	if err != nil {
		s.log.Error("chat fetch failed", "chat", chat, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chat fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat, "messages": docs, "count": len(docs)})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.status.Status(c.Request.Context())
	if err != nil {
		s.log.Error("status failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.health.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
