package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps every record in process memory. Each method is atomic with
// respect to the others, which gives it the same conditional-update and
// increment semantics as PostgresStore for a single process.
type MemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	agents       map[string]Agent
	agentNames   map[string]string
	ideas        map[string]Idea
	votes        map[string]map[string]Vote
	projects     map[string]Project
	contributors map[string]Contributor
	activity     []ActivityEvent
	nextEventID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		agents:       make(map[string]Agent),
		agentNames:   make(map[string]string),
		ideas:        make(map[string]Idea),
		votes:        make(map[string]map[string]Vote),
		projects:     make(map[string]Project),
		contributors: make(map[string]Contributor),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateAgent(_ context.Context, agent Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.ID]; exists {
		return fmt.Errorf("insert agent: %w: agents_pkey", ErrConflict)
	}
	if _, exists := s.agentNames[agent.Name]; exists {
		return fmt.Errorf("insert agent: %w: agents_name_key", ErrConflict)
	}
	agent.CreatedAt = s.now()
	s.agents[agent.ID] = agent
	s.agentNames[agent.Name] = agent.ID
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return Agent{}, fmt.Errorf("get agent: %w", ErrNotFound)
	}
	return agent, nil
}

// SetVoteWeight mirrors the reputation updates that happen outside the core.
func (s *MemoryStore) SetVoteWeight(agentID string, weight float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent, ok := s.agents[agentID]; ok {
		agent.VoteWeight = weight
		s.agents[agentID] = agent
	}
}

func (s *MemoryStore) CreateIdea(_ context.Context, idea Idea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ideas[idea.ID]; exists {
		return fmt.Errorf("insert idea: %w: ideas_pkey", ErrConflict)
	}
	if _, ok := s.agents[idea.AuthorID]; !ok {
		return fmt.Errorf("insert idea: unknown author %s", idea.AuthorID)
	}
	now := s.now()
	idea.CreatedAt = now
	idea.UpdatedAt = now
	s.ideas[idea.ID] = idea
	return nil
}

func (s *MemoryStore) GetIdea(_ context.Context, ideaID string) (Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.ideas[ideaID]
	if !ok {
		return Idea{}, fmt.Errorf("get idea: %w", ErrNotFound)
	}
	return copyIdea(idea), nil
}

// ForceVotingEnd rewrites an idea's deadline; used to simulate elapsed time.
func (s *MemoryStore) ForceVotingEnd(ideaID string, endsAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idea, ok := s.ideas[ideaID]; ok {
		idea.VotingEndsAt = endsAt
		s.ideas[ideaID] = idea
	}
}

func (s *MemoryStore) TransitionIdeaStatus(_ context.Context, ideaID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.ideas[ideaID]
	if !ok || idea.Status != from {
		return false, nil
	}
	idea.Status = to
	idea.UpdatedAt = s.now()
	s.ideas[ideaID] = idea
	return true, nil
}

func (s *MemoryStore) LinkIdeaProject(_ context.Context, link IdeaLink) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idea, ok := s.ideas[link.IdeaID]
	if !ok || idea.Status != IdeaApproved || idea.ProjectID != nil {
		return false, nil
	}
	projectID := link.ProjectID
	idea.Status = IdeaBuilding
	idea.ProjectID = &projectID
	idea.RepoURL = link.RepoURL
	idea.UpdatedAt = s.now()
	s.ideas[link.IdeaID] = idea
	return true, nil
}

func (s *MemoryStore) SearchIdeas(_ context.Context, query string, limit int) ([]Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	terms := strings.Fields(strings.ToLower(query))
	items := make([]Idea, 0)
	for _, idea := range s.ideas {
		text := strings.ToLower(idea.Title + " " + idea.Description)
		matched := len(terms) > 0
		for _, term := range terms {
			if !strings.Contains(text, term) {
				matched = false
				break
			}
		}
		if matched {
			items = append(items, copyIdea(idea))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) UpsertVote(_ context.Context, vote Vote) (Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ideas[vote.IdeaID]; !ok {
		return Vote{}, fmt.Errorf("upsert vote: unknown idea %s", vote.IdeaID)
	}
	byAgent := s.votes[vote.IdeaID]
	if byAgent == nil {
		byAgent = make(map[string]Vote)
		s.votes[vote.IdeaID] = byAgent
	}
	now := s.now()
	vote.CreatedAt = now
	if previous, ok := byAgent[vote.AgentID]; ok {
		vote.CreatedAt = previous.CreatedAt
	}
	vote.UpdatedAt = now
	byAgent[vote.AgentID] = vote
	return vote, nil
}

func (s *MemoryStore) ListVotes(_ context.Context, ideaID string) ([]Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Vote, 0, len(s.votes[ideaID]))
	for _, vote := range s.votes[ideaID] {
		items = append(items, vote)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	return items, nil
}

func (s *MemoryStore) InsertProject(_ context.Context, project Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.projects {
		if existing.ID == project.ID {
			return fmt.Errorf("insert project: %w: projects_pkey", ErrConflict)
		}
		if existing.IdeaID == project.IdeaID {
			return fmt.Errorf("insert project: %w: projects_idea_id_key", ErrConflict)
		}
		if existing.RepoFullName == project.RepoFullName {
			return fmt.Errorf("insert project: %w: projects_repo_full_name_key", ErrConflict)
		}
	}
	project.CreatedAt = s.now()
	s.projects[project.ID] = project
	return nil
}

func (s *MemoryStore) findProject(match func(Project) bool) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, project := range s.projects {
		if match(project) {
			return project, nil
		}
	}
	return Project{}, fmt.Errorf("get project: %w", ErrNotFound)
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (Project, error) {
	return s.findProject(func(p Project) bool { return p.ID == projectID })
}

func (s *MemoryStore) GetProjectByIdea(_ context.Context, ideaID string) (Project, error) {
	return s.findProject(func(p Project) bool { return p.IdeaID == ideaID })
}

func (s *MemoryStore) FindProjectByRepo(_ context.Context, repoFullName string) (Project, error) {
	return s.findProject(func(p Project) bool { return p.RepoFullName == repoFullName })
}

func (s *MemoryStore) IncrementProjectCounter(_ context.Context, projectID string, counter Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("increment project counter: unknown counter %q", counter)
	}
	if delta < 0 {
		return fmt.Errorf("increment project counter: negative delta %d", delta)
	}
	if delta == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("increment project counter: %w", ErrNotFound)
	}
	switch counter {
	case CounterCommits:
		project.CommitsCount += delta
	case CounterPRs:
		project.PRsCount += delta
	case CounterIssues:
		project.IssuesCount += delta
	}
	s.projects[projectID] = project
	return nil
}

func (s *MemoryStore) TransitionProjectStatus(_ context.Context, projectID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok || project.Status != from {
		return false, nil
	}
	project.Status = to
	s.projects[projectID] = project
	return true, nil
}

func (s *MemoryStore) InsertContributor(_ context.Context, contributor Contributor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contributor.ProjectID + "/" + contributor.AgentID
	if _, exists := s.contributors[key]; exists {
		return fmt.Errorf("insert contributor: %w: project_contributors_pkey", ErrConflict)
	}
	contributor.JoinedAt = s.now()
	s.contributors[key] = contributor
	return nil
}

// Contributors lists the contributors of one project.
func (s *MemoryStore) Contributors(projectID string) []Contributor {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Contributor, 0)
	for _, contributor := range s.contributors {
		if contributor.ProjectID == projectID {
			items = append(items, contributor)
		}
	}
	return items
}

func (s *MemoryStore) InsertActivity(_ context.Context, event ActivityEvent) (ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	event.ID = s.nextEventID
	event.CreatedAt = s.now()
	if event.Data == nil {
		event.Data = map[string]any{}
	}
	s.activity = append(s.activity, event)
	return event, nil
}

func (s *MemoryStore) ListActivity(_ context.Context, limit int) ([]ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	items := make([]ActivityEvent, 0, limit)
	for i := len(s.activity) - 1; i >= 0 && len(items) < limit; i-- {
		items = append(items, s.activity[i])
	}
	return items, nil
}

// ActivityOfType returns every recorded event of the given type, oldest first.
func (s *MemoryStore) ActivityOfType(eventType string) []ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ActivityEvent, 0)
	for _, event := range s.activity {
		if event.Type == eventType {
			items = append(items, event)
		}
	}
	return items
}

func copyIdea(idea Idea) Idea {
	if idea.ProjectID != nil {
		projectID := *idea.ProjectID
		idea.ProjectID = &projectID
	}
	return idea
}
