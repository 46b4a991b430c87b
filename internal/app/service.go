package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ideaforge/api/internal/archive"
	"ideaforge/api/internal/auth"
	"ideaforge/api/internal/feed"
	"ideaforge/api/internal/metrics"
	"ideaforge/api/internal/repohost"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/tally"
)

type dataStore interface {
	Ping(context.Context) error
	CreateAgent(context.Context, store.Agent) error
	GetAgent(context.Context, string) (store.Agent, error)
	CreateIdea(context.Context, store.Idea) error
	GetIdea(context.Context, string) (store.Idea, error)
	TransitionIdeaStatus(ctx context.Context, ideaID, from, to string) (bool, error)
	LinkIdeaProject(context.Context, store.IdeaLink) (bool, error)
	SearchIdeas(ctx context.Context, query string, limit int) ([]store.Idea, error)
	UpsertVote(context.Context, store.Vote) (store.Vote, error)
	ListVotes(context.Context, string) ([]store.Vote, error)
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	GetProjectByIdea(context.Context, string) (store.Project, error)
	FindProjectByRepo(context.Context, string) (store.Project, error)
	IncrementProjectCounter(ctx context.Context, projectID string, counter store.Counter, delta int64) error
	TransitionProjectStatus(ctx context.Context, projectID, from, to string) (bool, error)
	InsertContributor(context.Context, store.Contributor) error
	InsertActivity(context.Context, store.ActivityEvent) (store.ActivityEvent, error)
	ListActivity(context.Context, int) ([]store.ActivityEvent, error)
}

type ideaSearch interface {
	Search(ctx context.Context, text string, limit int) search.Response
	IndexIdea(record search.IdeaRecord)
}

// Deps are the collaborators a Service is built from. Only Store and Host
// are required.
type Deps struct {
	Store         dataStore
	Host          repohost.Host
	Thresholds    tally.Config
	WebhookURL    string
	WebhookSecret string
	AuthWindow    time.Duration
	Feed          feed.Publisher
	Search        ideaSearch
	Archive       archive.Archiver
	Metrics       *metrics.Registry
	Logger        *slog.Logger
}

type Service struct {
	store         dataStore
	host          repohost.Host
	thresholds    tally.Config
	webhookURL    string
	webhookSecret string
	verifier      *auth.Verifier
	feed          feed.Publisher
	search        ideaSearch
	archive       archive.Archiver
	metrics       *metrics.Registry
	logger        *slog.Logger
	now           func() time.Time
	background    sync.WaitGroup
}

func New(deps Deps) *Service {
	s := &Service{
		store:         deps.Store,
		host:          deps.Host,
		thresholds:    deps.Thresholds,
		webhookURL:    deps.WebhookURL,
		webhookSecret: deps.WebhookSecret,
		feed:          deps.Feed,
		search:        deps.Search,
		archive:       deps.Archive,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		now:           time.Now,
	}
	if s.thresholds == (tally.Config{}) {
		s.thresholds = tally.DefaultConfig()
	}
	if s.feed == nil {
		s.feed = feed.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.search == nil {
		s.search = search.NewService(nil, searchFallback{store: s.store}, s.logger)
	}
	s.verifier = auth.NewVerifier(agentKeys{store: s.store}, deps.AuthWindow)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Metrics() *metrics.Registry {
	return s.metrics
}

// Wait blocks until detached provisioning runs have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) detach(name string, fn func(context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(context.Background())
	}()
}

// record appends an activity event and fans it out. The store write is the
// source of truth; feed errors are logged only.
func (s *Service) record(ctx context.Context, event store.ActivityEvent) (store.ActivityEvent, error) {
	saved, err := s.store.InsertActivity(ctx, event)
	if err != nil {
		return store.ActivityEvent{}, fmt.Errorf("record %s: %w", event.Type, err)
	}
	if err := s.feed.Publish(ctx, saved); err != nil {
		s.logger.Warn("activity fan-out failed", "type", saved.Type, "event_id", saved.ID, "error", err)
	}
	return saved, nil
}

func (s *Service) ListActivity(ctx context.Context, limit int) ([]store.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return s.store.ListActivity(ctx, limit)
}

// reindex pushes the idea's current row to the search engine.
func (s *Service) reindex(ctx context.Context, ideaID string) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		s.logger.Warn("reindex skipped", "idea_id", ideaID, "error", err)
		return
	}
	s.search.IndexIdea(ideaRecord(idea))
}

// VerifyRequest runs the authentication gate against a signed request.
func (s *Service) VerifyRequest(ctx context.Context, req auth.Request) (auth.Identity, error) {
	return s.verifier.Verify(ctx, req)
}

type agentKeys struct {
	store dataStore
}

func (k agentKeys) AgentPublicKey(ctx context.Context, agentID string) (string, error) {
	agent, err := k.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", auth.ErrUnknownAgent
	}
	if err != nil {
		return "", err
	}
	return agent.PublicKey, nil
}

type searchFallback struct {
	store dataStore
}

func (f searchFallback) SearchIdeas(ctx context.Context, text string, limit int) ([]search.IdeaRecord, error) {
	ideas, err := f.store.SearchIdeas(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	records := make([]search.IdeaRecord, 0, len(ideas))
	for _, idea := range ideas {
		records = append(records, ideaRecord(idea))
	}
	return records, nil
}

// SearchFallback adapts a store to the search package's fallback interface.
func SearchFallback(s dataStore) search.Fallback {
	return searchFallback{store: s}
}

func ideaRecord(idea store.Idea) search.IdeaRecord {
	return search.IdeaRecord{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Status:      idea.Status,
		AuthorID:    idea.AuthorID,
	}
}
