// Package search finds ideas by free text. Meilisearch answers when it is
// reachable; otherwise the query falls through to the store's own search.
package search

import "context"

// IdeaRecord is the indexed shape of an idea.
type IdeaRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	AuthorID    string `json:"authorId"`
}

type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Status  string `json:"status"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

type engine interface {
	Healthy() bool
	Search(text string, limit int) ([]Result, int, error)
	IndexIdea(record IdeaRecord) error
}

// Fallback is the store-backed search used when no engine is healthy.
type Fallback interface {
	SearchIdeas(ctx context.Context, text string, limit int) ([]IdeaRecord, error)
}
