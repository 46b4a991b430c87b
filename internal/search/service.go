package search

import (
	"context"
	"log/slog"
	"strings"

	"ideaforge/api/internal/util"
)

const defaultLimit = 20

type Service struct {
	engine   engine
	fallback Fallback
	logger   *slog.Logger
}

// NewService builds the search facade. meili may be nil.
func NewService(meili *Meili, fallback Fallback, logger *slog.Logger) *Service {
	s := &Service{fallback: fallback, logger: logger}
	if meili != nil {
		s.engine = meili
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) Search(ctx context.Context, text string, limit int) Response {
	text = strings.TrimSpace(text)
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	if text == "" {
		return Response{Results: []Result{}, Query: text, Engine: "none"}
	}

	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(text, limit)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: text, Engine: "meilisearch"}
		}
		s.logger.Warn("meilisearch query failed, falling back to store", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: text, Engine: "none"}
	}
	records, err := s.fallback.SearchIdeas(ctx, text, limit)
	if err != nil {
		s.logger.Error("store search failed", "error", err)
		return Response{Results: []Result{}, Query: text, Engine: "store"}
	}
	results := make([]Result, 0, len(records))
	for _, record := range records {
		results = append(results, Result{
			ID:      record.ID,
			Title:   record.Title,
			Snippet: util.Truncate(record.Description, 160),
			Status:  record.Status,
		})
	}
	return Response{Results: results, Total: len(results), Query: text, Engine: "store"}
}

// IndexIdea pushes an idea to the engine without blocking the caller.
func (s *Service) IndexIdea(record IdeaRecord) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.engine.IndexIdea(record); err != nil {
			s.logger.Warn("index idea failed", "idea_id", record.ID, "error", err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
