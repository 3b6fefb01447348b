// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/stillwaterhq/recall/pkg/ids"
)

// batchFlushSize is how many documents go into one bulk request.
const batchFlushSize = 100

// Store wraps the Weaviate client for the ChatChunk class.
//
// # Thread Safety
//
// Safe for concurrent reads. Writes are serialized by the indexer; the
// store itself does not lock.
type Store struct {
	client *weaviate.Client
	log    *slog.Logger
}

// NewStore connects to the Weaviate instance at serviceURL, e.g.
// "http://localhost:8080".
func NewStore(serviceURL string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	scheme := "http"
	host := serviceURL
	if before, after, found := strings.Cut(serviceURL, "://"); found {
		scheme = before
		host = after
	}
	client, err := weaviate.NewClient(weaviate.Config{Scheme: scheme, Host: host})
	if err != nil {
		return nil, fmt.Errorf("index: create client for %s: %w", serviceURL, err)
	}
	return &Store{client: client, log: log}, nil
}

// HealthCheck reports whether the backend is ready. Non-blocking beyond
// the context deadline.
func (s *Store) HealthCheck(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ready {
		return fmt.Errorf("%w: not ready", ErrStoreUnavailable)
	}
	return nil
}

// Initialize creates the ChatChunk class if it does not exist yet.
// Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: schema check: %v", ErrStoreUnavailable, err)
	}
	if exists {
		s.log.Debug("index class present", "class", ClassName)
		return nil
	}
	if err := s.client.Schema().ClassCreator().WithClass(chunkSchema()).Do(ctx); err != nil {
		return fmt.Errorf("index: create class %s: %w", ClassName, err)
	}
	s.log.Info("index class created", "class", ClassName)
	return nil
}

// Clear drops the class outright. The caller must Initialize again
// before indexing.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Schema().ClassDeleter().WithClassName(ClassName).Do(ctx); err != nil {
		return fmt.Errorf("index: clear class %s: %w", ClassName, err)
	}
	s.log.Info("index cleared", "class", ClassName)
	return nil
}

// IndexDocuments bulk-writes documents in flushes of batchFlushSize,
// insert-or-replace by deterministic point id. Partial failures are
// logged (first few per flush) and do not abort the batch; the caller's
// dedup set omits failed ids so the next run retries them.
//
// Returns the number of successfully written documents and the ids that
// failed.
func (s *Store) IndexDocuments(ctx context.Context, docs []Document, showProgress bool) (int, []string, error) {
	written := 0
	var failed []string

	for start := 0; start < len(docs); start += batchFlushSize {
		end := start + batchFlushSize
		if end > len(docs) {
			end = len(docs)
		}

		objects := make([]*models.Object, 0, end-start)
		for _, d := range docs[start:end] {
			objects = append(objects, s.toObject(d))
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return written, failed, fmt.Errorf("%w: bulk write: %v", ErrStoreUnavailable, err)
		}

		logged := 0
		for i, item := range resp {
			if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
				written++
				continue
			}
			failed = append(failed, docs[start+i].ID)
			if logged < 3 {
				logged++
				msg := "unknown"
				if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
					msg = item.Result.Errors.Error[0].Message
				}
				s.log.Warn("bulk item failed", "chunk", docs[start+i].ID, "error", msg)
			}
		}

		if showProgress {
			fmt.Printf("\r  indexed %d/%d documents", written, len(docs))
		}
	}
	if showProgress && len(docs) > 0 {
		fmt.Println()
	}
	return written, failed, nil
}

func (s *Store) toObject(d Document) *models.Object {
	vectors := models.Vectors{}
	if len(d.TextVector) > 0 {
		vectors[TextVectorName] = models.Vector(d.TextVector)
	}
	if len(d.ImageVector) > 0 {
		vectors[ImageVectorName] = models.Vector(d.ImageVector)
	}
	return &models.Object{
		Class:   ClassName,
		ID:      strfmt.UUID(ids.PointID(d.ID)),
		Vectors: vectors,
		Properties: map[string]interface{}{
			"chunk_id":          d.ID,
			"text":              d.Text,
			"chat_id":           d.ChatID,
			"chat_name":         d.GroupName,
			"sender":            d.Sender,
			"sender_is_me":      d.SenderIsMe,
			"participants":      d.Participants,
			"participant_count": d.ParticipantCount,
			"is_dm":             d.IsDM,
			"is_group_chat":     d.IsGroupChat,
			"year":              d.Year,
			"month":             d.Month,
			"day_of_week":       d.DayOfWeek,
			"hour_of_day":       d.HourOfDay,
			"has_attachment":    d.HasAttachment,
			"has_image":         d.HasImage,
			"start_ts":          d.StartTs,
			"end_ts":            d.EndTs,
			"message_count":     d.MessageCount,
		},
	}
}

// GetDocument fetches one stored document by chunk hash.
func (s *Store) GetDocument(ctx context.Context, chunkID string) (*ResultDoc, error) {
	where := filters.Where().
		WithPath([]string{"chunk_id"}).
		WithOperator(filters.Equal).
		WithValueString(chunkID)

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(resultFields()...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", ErrStoreUnavailable, err)
	}
	hits, err := parseResults(result)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return &hits[0].Document, nil
}

// ChatDocuments fetches a chat's stored documents, newest first. The
// chat may be named by its platform id or its display name.
func (s *Store) ChatDocuments(ctx context.Context, chat string, limit int) ([]ResultDoc, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	where := filters.Where().
		WithOperator(filters.Or).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().WithPath([]string{"chat_id"}).
				WithOperator(filters.Equal).WithValueString(chat),
			filters.Where().WithPath([]string{"chat_name"}).
				WithOperator(filters.Equal).WithValueString(chat),
		})

	result, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(resultFields()...).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"start_ts"}, Order: graphql.Desc}).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chat documents: %v", ErrStoreUnavailable, err)
	}
	hits, err := parseResults(result)
	if err != nil {
		return nil, err
	}
	docs := make([]ResultDoc, len(hits))
	for i, h := range hits {
		docs[i] = h.Document
	}
	return docs, nil
}

// DocumentExists reports whether the chunk hash has a stored document.
func (s *Store) DocumentExists(ctx context.Context, chunkID string) (bool, error) {
	exists, err := s.client.Data().Checker().
		WithClassName(ClassName).
		WithID(ids.PointID(chunkID)).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: existence check: %v", ErrStoreUnavailable, err)
	}
	return exists, nil
}

// GetStats returns the document count.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: aggregate: %v", ErrStoreUnavailable, err)
	}
	return Stats{DocumentCount: parseAggregateCount(result), ClassName: ClassName}, nil
}
