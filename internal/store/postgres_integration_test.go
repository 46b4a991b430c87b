package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func migratedPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := testDatabase(t)
	if _, err := ApplyMigrations(context.Background(), db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresIdeaTransitionIsConditional(t *testing.T) {
	s := migratedPostgresStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, Agent{ID: "agt_1", Name: "ada", PublicKey: "key"}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if err := s.CreateIdea(ctx, Idea{ID: "idea_1", Title: "Solar mesh", AuthorID: "agt_1", Status: IdeaVoting, VotingEndsAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("CreateIdea() error = %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionIdeaStatus(ctx, "idea_1", IdeaVoting, IdeaApproved)
			if err != nil {
				t.Errorf("TransitionIdeaStatus() error = %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", winners)
	}
}

func TestPostgresCountersAndActivity(t *testing.T) {
	s := migratedPostgresStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, Agent{ID: "agt_1", Name: "ada", PublicKey: "key"}); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	agent, err := s.GetAgent(ctx, "agt_1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if agent.VoteWeight != 0 {
		t.Fatalf("expected unset weight to read as 0, got %v", agent.VoteWeight)
	}
	if err := s.CreateIdea(ctx, Idea{ID: "idea_1", Title: "Solar mesh", AuthorID: "agt_1", Status: IdeaApproved, VotingEndsAt: time.Now()}); err != nil {
		t.Fatalf("CreateIdea() error = %v", err)
	}
	project := Project{ID: "prj_1", IdeaID: "idea_1", Name: "Solar mesh", RepoURL: "https://github.com/forge/solar-mesh", RepoFullName: "forge/solar-mesh", LeadAgentID: "agt_1", Status: ProjectSetup}
	if err := s.InsertProject(ctx, project); err != nil {
		t.Fatalf("InsertProject() error = %v", err)
	}
	linked, err := s.LinkIdeaProject(ctx, IdeaLink{IdeaID: "idea_1", ProjectID: "prj_1", RepoURL: project.RepoURL})
	if err != nil || !linked {
		t.Fatalf("LinkIdeaProject() = %v, %v", linked, err)
	}
	if linked, _ := s.LinkIdeaProject(ctx, IdeaLink{IdeaID: "idea_1", ProjectID: "prj_2"}); linked {
		t.Fatal("second link must not change the idea")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.IncrementProjectCounter(ctx, "prj_1", CounterCommits, 3); err != nil {
				t.Errorf("IncrementProjectCounter() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.FindProjectByRepo(ctx, "forge/solar-mesh")
	if err != nil {
		t.Fatalf("FindProjectByRepo() error = %v", err)
	}
	if got.CommitsCount != 30 {
		t.Fatalf("expected 30 commits, got %d", got.CommitsCount)
	}

	if err := s.InsertContributor(ctx, Contributor{ProjectID: "prj_1", AgentID: "agt_1", Role: "lead"}); err != nil {
		t.Fatalf("InsertContributor() error = %v", err)
	}
	if err := s.InsertContributor(ctx, Contributor{ProjectID: "prj_1", AgentID: "agt_1", Role: "lead"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate contributor, got %v", err)
	}

	if _, err := s.InsertActivity(ctx, ActivityEvent{Type: "project:push", ProjectID: "prj_1", Data: map[string]any{"commits": 3}}); err != nil {
		t.Fatalf("InsertActivity() error = %v", err)
	}
	events, err := s.ListActivity(ctx, 10)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(events) != 1 || events[0].Type != "project:push" {
		t.Fatalf("unexpected activity: %+v", events)
	}
	if _, err := s.DB().ExecContext(ctx, `UPDATE activity_events SET type='tampered'`); err == nil {
		t.Fatal("expected activity_events to reject updates")
	}

	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
