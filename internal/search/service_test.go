package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeEngine struct {
	mu      sync.Mutex
	healthy bool
	err     error
	results []Result
	indexed []IdeaRecord
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) Search(string, int) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakeEngine) IndexIdea(record IdeaRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
	return nil
}

func (f *fakeEngine) indexedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed)
}

type fakeFallback struct {
	calls   int
	records []IdeaRecord
	err     error
}

func (f *fakeFallback) SearchIdeas(context.Context, string, int) ([]IdeaRecord, error) {
	f.calls++
	return f.records, f.err
}

func TestSearchPrefersHealthyEngine(t *testing.T) {
	fallback := &fakeFallback{}
	s := NewService(nil, fallback, nil)
	s.engine = &fakeEngine{healthy: true, results: []Result{{ID: "idea_1"}}}

	resp := s.Search(context.Background(), "tides", 10)
	if resp.Engine != "meilisearch" || len(resp.Results) != 1 || fallback.calls != 0 {
		t.Fatalf("unexpected response: %+v (fallback calls %d)", resp, fallback.calls)
	}
}

func TestSearchFallsBackWhenEngineFails(t *testing.T) {
	fallback := &fakeFallback{records: []IdeaRecord{{ID: "idea_2", Title: "Kelp farm", Description: strings.Repeat("x", 400), Status: "voting"}}}
	s := NewService(nil, fallback, nil)
	s.engine = &fakeEngine{healthy: true, err: errors.New("timeout")}

	resp := s.Search(context.Background(), "kelp", 0)
	if resp.Engine != "store" || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got := len([]rune(resp.Results[0].Snippet)); got > 160 {
		t.Fatalf("snippet not truncated: %d runes", got)
	}
}

func TestSearchBlankQuery(t *testing.T) {
	fallback := &fakeFallback{}
	resp := NewService(nil, fallback, nil).Search(context.Background(), "   ", 10)
	if len(resp.Results) != 0 || fallback.calls != 0 {
		t.Fatalf("blank query should not search: %+v", resp)
	}
}

func TestIndexIdeaSkipsUnhealthyEngine(t *testing.T) {
	engine := &fakeEngine{healthy: false}
	s := NewService(nil, nil, nil)
	s.engine = engine
	s.IndexIdea(IdeaRecord{ID: "idea_1"})

	engine.healthy = true
	s.IndexIdea(IdeaRecord{ID: "idea_2"})

	deadline := time.Now().Add(2 * time.Second)
	for engine.indexedCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if engine.indexedCount() != 1 || engine.indexed[0].ID != "idea_2" {
		t.Fatalf("unexpected indexed records: %+v", engine.indexed)
	}
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"idea_1"`),
		"title":      json.RawMessage(`"Tidal battery"`),
		"status":     json.RawMessage(`"voting"`),
		"_formatted": json.RawMessage(`{"title":"<mark>Tidal</mark> battery","description":""}`),
	}
	got := hitToResult(hit)
	if got.ID != "idea_1" || got.Title != "<mark>Tidal</mark> battery" || got.Status != "voting" {
		t.Fatalf("unexpected result: %+v", got)
	}
}
