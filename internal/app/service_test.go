package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideaforge/api/internal/auth"
	"ideaforge/api/internal/repohost"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/tally"
)

const testWebhookURL = "https://forge.test/api/webhooks/github"

type fakeHost struct {
	mu           sync.Mutex
	createRepoFn func(repohost.RepoSpec) (repohost.Repository, error)
	createHookFn func(string, string, []string) (string, error)
	repos        []repohost.RepoSpec
	hooks        []string
}

func (f *fakeHost) CreateRepository(_ context.Context, spec repohost.RepoSpec) (repohost.Repository, error) {
	f.mu.Lock()
	f.repos = append(f.repos, spec)
	id := len(f.repos)
	fn := f.createRepoFn
	f.mu.Unlock()
	if fn != nil {
		return fn(spec)
	}
	return repohost.Repository{
		ID:       fmt.Sprintf("%d", id),
		FullName: "forge/" + spec.Name,
		URL:      "https://git.test/forge/" + spec.Name,
	}, nil
}

func (f *fakeHost) CreateWebhook(_ context.Context, fullName, targetURL string, events []string) (string, error) {
	f.mu.Lock()
	f.hooks = append(f.hooks, fullName+" -> "+targetURL)
	fn := f.createHookFn
	f.mu.Unlock()
	if fn != nil {
		return fn(fullName, targetURL, events)
	}
	return "hook-1", nil
}

func (f *fakeHost) repoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.repos)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *fakeHost) {
	t.Helper()
	mem := store.NewMemoryStore()
	host := &fakeHost{}
	svc := New(Deps{
		Store:      mem,
		Host:       host,
		Thresholds: tally.DefaultConfig(),
		WebhookURL: testWebhookURL,
		Logger:     discardLogger(),
	})
	t.Cleanup(svc.Wait)
	return svc, mem, host
}

type testAgent struct {
	id   string
	priv ed25519.PrivateKey
}

func registerAgent(t *testing.T, svc *Service, name string) testAgent {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	agent, err := svc.RegisterAgent(context.Background(), RegisterAgentInput{Name: name, PublicKey: auth.EncodePublicKey(pub)})
	require.NoError(t, err)
	return testAgent{id: agent.ID, priv: priv}
}

func createIdea(t *testing.T, svc *Service, authorID, title string) IdeaView {
	t.Helper()
	idea, err := svc.CreateIdea(context.Background(), authorID, CreateIdeaInput{Title: title, Description: "A self-hosted " + title})
	require.NoError(t, err)
	return idea
}

func requireDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	require.Equal(t, code, domainErr.Code)
}

// provisionedIdea drives an idea through approval and provisioning.
func provisionedIdea(t *testing.T, svc *Service, mem *store.MemoryStore) (store.Idea, store.Project) {
	t.Helper()
	ctx := context.Background()
	author := registerAgent(t, svc, "author")
	mem.SetVoteWeight(author.id, 10)
	idea := createIdea(t, svc, author.id, "Tidal Battery")
	for _, name := range []string{"v1", "v2"} {
		voter := registerAgent(t, svc, name)
		_, err := svc.CastVote(ctx, idea.ID, voter.id, CastVoteInput{Direction: "up"})
		require.NoError(t, err)
	}
	result, err := svc.CastVote(ctx, idea.ID, author.id, CastVoteInput{Direction: "up"})
	require.NoError(t, err)
	require.True(t, result.Approved)
	svc.Wait()

	stored, err := mem.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	project, err := mem.GetProjectByIdea(ctx, idea.ID)
	require.NoError(t, err)
	return stored, project
}

func TestWeightedVotesApproveAndProvision(t *testing.T) {
	svc, mem, host := newTestService(t)
	ctx := context.Background()

	heavy := registerAgent(t, svc, "heavy")
	mem.SetVoteWeight(heavy.id, 10)
	b := registerAgent(t, svc, "b")
	c := registerAgent(t, svc, "c")
	idea := createIdea(t, svc, heavy.id, "Open Source Weather Station")

	first, err := svc.CastVote(ctx, idea.ID, heavy.id, CastVoteInput{Direction: "up", Reason: "needed"})
	require.NoError(t, err)
	assert.False(t, first.Approved)
	assert.Equal(t, tally.Result{Score: 10, Voters: 1, Up: 1}, first.Tally)

	second, err := svc.CastVote(ctx, idea.ID, b.id, CastVoteInput{Direction: "up"})
	require.NoError(t, err)
	assert.False(t, second.Approved, "two voters are below the minimum")

	third, err := svc.CastVote(ctx, idea.ID, c.id, CastVoteInput{Direction: "up"})
	require.NoError(t, err)
	assert.True(t, third.Approved)
	assert.Equal(t, 12.0, third.Tally.Score)
	assert.Equal(t, 3, third.Tally.Voters)

	svc.Wait()

	stored, err := svc.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IdeaBuilding, stored.Status)
	require.NotNil(t, stored.ProjectID)
	assert.Equal(t, "https://git.test/forge/open-source-weather-station", stored.RepoURL)

	project, err := mem.GetProject(ctx, *stored.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, idea.ID, project.IdeaID)
	assert.Equal(t, "Open Source Weather Station", project.Name)
	assert.Equal(t, heavy.id, project.LeadAgentID)
	assert.Equal(t, store.ProjectSetup, project.Status)

	contributors := mem.Contributors(project.ID)
	require.Len(t, contributors, 1)
	assert.Equal(t, "lead", contributors[0].Role)

	require.Equal(t, 1, host.repoCount())
	assert.True(t, host.repos[0].HasIssues && host.repos[0].HasProjects && !host.repos[0].Private)
	assert.Equal(t, []string{"forge/open-source-weather-station -> " + testWebhookURL}, host.hooks)

	approvedEvents := mem.ActivityOfType("idea:approved")
	require.Len(t, approvedEvents, 1)
	assert.Equal(t, 12.0, approvedEvents[0].Data["score"])
	assert.Len(t, mem.ActivityOfType("project:created"), 1)
	assert.Len(t, mem.ActivityOfType("idea:voted"), 3)
}

func TestConcurrentCrossingVotesApproveOnce(t *testing.T) {
	svc, mem, host := newTestService(t)
	ctx := context.Background()

	author := registerAgent(t, svc, "author")
	idea := createIdea(t, svc, author.id, "Mesh Network")
	for _, name := range []string{"seed-1", "seed-2"} {
		voter := registerAgent(t, svc, name)
		mem.SetVoteWeight(voter.id, 10)
		_, err := svc.CastVote(ctx, idea.ID, voter.id, CastVoteInput{Direction: "up"})
		require.NoError(t, err)
	}

	const racers = 25
	voters := make([]testAgent, racers)
	for i := range voters {
		voters[i] = registerAgent(t, svc, fmt.Sprintf("racer-%d", i))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	start := make(chan struct{})
	for _, voter := range voters {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			<-start
			result, err := svc.CastVote(ctx, idea.ID, agentID, CastVoteInput{Direction: "up"})
			if err != nil {
				var domainErr *DomainError
				if !errors.As(err, &domainErr) || domainErr.Code != codeVotingClosed {
					t.Errorf("unexpected vote error: %v", err)
				}
				return
			}
			if result.Approved {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(voter.id)
	}
	close(start)
	wg.Wait()
	svc.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, host.repoCount())
	assert.Len(t, mem.ActivityOfType("idea:approved"), 1)
	assert.Len(t, mem.ActivityOfType("project:created"), 1)
}

func TestRevoteReplacesPreviousBallot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	agent := registerAgent(t, svc, "fickle")
	idea := createIdea(t, svc, agent.id, "Compost Sensor")

	_, err := svc.CastVote(ctx, idea.ID, agent.id, CastVoteInput{Direction: "up"})
	require.NoError(t, err)
	result, err := svc.CastVote(ctx, idea.ID, agent.id, CastVoteInput{Direction: "DOWN", Reason: "on reflection"})
	require.NoError(t, err)

	assert.Equal(t, tally.Result{Score: -1, Voters: 1, Down: 1}, result.Tally)
	assert.Equal(t, "down", result.Vote.Direction)
	assert.Equal(t, "on reflection", result.Vote.Reason)
}

func TestCastVoteRejections(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	agent := registerAgent(t, svc, "voter")
	idea := createIdea(t, svc, agent.id, "Seed Library")

	_, err := svc.CastVote(ctx, "idea_missing", agent.id, CastVoteInput{Direction: "up"})
	requireDomainCode(t, err, codeIdeaNotFound)

	_, err = svc.CastVote(ctx, idea.ID, agent.id, CastVoteInput{Direction: "sideways"})
	requireDomainCode(t, err, codeInvalidDirection)

	mem.ForceVotingEnd(idea.ID, time.Now().Add(-time.Second))
	_, err = svc.CastVote(ctx, idea.ID, agent.id, CastVoteInput{Direction: "up"})
	requireDomainCode(t, err, codeVotingClosed)

	other := createIdea(t, svc, agent.id, "Tool Library")
	_, err = svc.RejectIdea(ctx, other.ID, "duplicate")
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, other.ID, agent.id, CastVoteInput{Direction: "up"})
	requireDomainCode(t, err, codeVotingClosed)
}

func TestCreationFailureLeavesIdeaApproved(t *testing.T) {
	svc, mem, host := newTestService(t)
	host.createRepoFn = func(repohost.RepoSpec) (repohost.Repository, error) {
		return repohost.Repository{}, &repohost.APIError{Status: 422, Message: "name already exists"}
	}
	ctx := context.Background()

	author := registerAgent(t, svc, "author")
	mem.SetVoteWeight(author.id, 10)
	idea := createIdea(t, svc, author.id, "Solar Kiln")
	for _, name := range []string{"x", "y"} {
		voter := registerAgent(t, svc, name)
		_, err := svc.CastVote(ctx, idea.ID, voter.id, CastVoteInput{Direction: "up"})
		require.NoError(t, err)
	}
	result, err := svc.CastVote(ctx, idea.ID, author.id, CastVoteInput{Direction: "up"})
	require.NoError(t, err)
	require.True(t, result.Approved)
	svc.Wait()

	stored, err := mem.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IdeaApproved, stored.Status)
	assert.Nil(t, stored.ProjectID)
	failures := mem.ActivityOfType("project:creation_failed")
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Data["error"], "name already exists")

	host.createRepoFn = nil
	project, err := svc.RetryProvision(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, "forge/solar-kiln", project.RepoFullName)

	stored, err = mem.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IdeaBuilding, stored.Status)

	_, err = svc.RetryProvision(ctx, idea.ID)
	requireDomainCode(t, err, codeInvalidTransition)
}

// flakyLinkStore fails LinkIdeaProject a set number of times, after the
// project row has already been written.
type flakyLinkStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyLinkStore) LinkIdeaProject(ctx context.Context, link store.IdeaLink) (bool, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return f.MemoryStore.LinkIdeaProject(ctx, link)
}

func TestRetryProvisionResumesAfterLinkFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	host := &fakeHost{}
	svc := New(Deps{
		Store:      &flakyLinkStore{MemoryStore: mem, failures: 1},
		Host:       host,
		WebhookURL: testWebhookURL,
		Logger:     discardLogger(),
	})
	t.Cleanup(svc.Wait)
	ctx := context.Background()

	author := registerAgent(t, svc, "author")
	mem.SetVoteWeight(author.id, 10)
	idea := createIdea(t, svc, author.id, "Solar Kiln")
	for _, name := range []string{"x", "y"} {
		voter := registerAgent(t, svc, name)
		_, err := svc.CastVote(ctx, idea.ID, voter.id, CastVoteInput{Direction: "up"})
		require.NoError(t, err)
	}
	result, err := svc.CastVote(ctx, idea.ID, author.id, CastVoteInput{Direction: "up"})
	require.NoError(t, err)
	require.True(t, result.Approved)
	svc.Wait()

	stored, err := mem.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IdeaApproved, stored.Status)
	assert.Nil(t, stored.ProjectID)
	orphan, err := mem.GetProjectByIdea(ctx, idea.ID)
	require.NoError(t, err)
	require.Equal(t, 1, host.repoCount())
	assert.Empty(t, mem.ActivityOfType("project:created"))

	project, err := svc.RetryProvision(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, orphan.ID, project.ID)
	assert.Equal(t, 1, host.repoCount(), "retry must reuse the repository already created")

	stored, err = mem.GetIdea(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IdeaBuilding, stored.Status)
	require.NotNil(t, stored.ProjectID)
	assert.Equal(t, orphan.ID, *stored.ProjectID)
	assert.Len(t, mem.Contributors(orphan.ID), 1)
	assert.Equal(t, []string{"forge/solar-kiln -> " + testWebhookURL}, host.hooks)
	assert.Len(t, mem.ActivityOfType("project:created"), 1)

	_, err = svc.RetryProvision(ctx, idea.ID)
	requireDomainCode(t, err, codeInvalidTransition)
	assert.Equal(t, 1, host.repoCount())
}

type recordingSearch struct {
	mu      sync.Mutex
	indexed []search.IdeaRecord
}

func (r *recordingSearch) Search(context.Context, string, int) search.Response {
	return search.Response{Results: []search.Result{}, Engine: "none"}
}

func (r *recordingSearch) IndexIdea(record search.IdeaRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, record)
}

func (r *recordingSearch) statuses(ideaID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, record := range r.indexed {
		if record.ID == ideaID {
			out = append(out, record.Status)
		}
	}
	return out
}

func TestTransitionsReindexIdea(t *testing.T) {
	mem := store.NewMemoryStore()
	index := &recordingSearch{}
	svc := New(Deps{
		Store:      mem,
		Host:       &fakeHost{},
		WebhookURL: testWebhookURL,
		Search:     index,
		Logger:     discardLogger(),
	})
	t.Cleanup(svc.Wait)
	ctx := context.Background()

	idea, _ := provisionedIdea(t, svc, mem)
	_, err := svc.MarkShipped(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{store.IdeaVoting, store.IdeaApproved, store.IdeaBuilding, store.IdeaShipped}, index.statuses(idea.ID))

	operator := registerAgent(t, svc, "operator")
	doomed := createIdea(t, svc, operator.id, "Perpetual Motion")
	_, err = svc.RejectIdea(ctx, doomed.ID, "physics")
	require.NoError(t, err)
	assert.Equal(t, []string{store.IdeaVoting, store.IdeaRejected}, index.statuses(doomed.ID))
}

func TestWebhookRegistrationFailureIsNonFatal(t *testing.T) {
	svc, mem, host := newTestService(t)
	host.createHookFn = func(string, string, []string) (string, error) {
		return "", errors.New("hooks disabled")
	}

	idea, project := provisionedIdea(t, svc, mem)
	assert.Equal(t, store.IdeaBuilding, idea.Status)
	assert.Len(t, mem.ActivityOfType("project:webhook_failed"), 1)
	assert.Len(t, mem.ActivityOfType("project:created"), 1)

	host.createHookFn = nil
	hookID, err := svc.RegisterWebhook(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, "hook-1", hookID)

	_, err = svc.RegisterWebhook(context.Background(), "prj_missing")
	requireDomainCode(t, err, codeProjectNotFound)
}

func TestRejectAndShipTransitions(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()

	agent := registerAgent(t, svc, "operator")
	doomed := createIdea(t, svc, agent.id, "Perpetual Motion")
	rejected, err := svc.RejectIdea(ctx, doomed.ID, "physics")
	require.NoError(t, err)
	assert.Equal(t, store.IdeaRejected, rejected.Status)

	_, err = svc.RejectIdea(ctx, doomed.ID, "again")
	requireDomainCode(t, err, codeInvalidTransition)
	_, err = svc.MarkShipped(ctx, doomed.ID)
	requireDomainCode(t, err, codeInvalidTransition)

	idea, project := provisionedIdea(t, svc, mem)
	shipped, err := svc.MarkShipped(ctx, idea.ID)
	require.NoError(t, err)
	assert.Equal(t, store.IdeaShipped, shipped.Status)

	project, err = mem.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ProjectShipped, project.Status)
	assert.Len(t, mem.ActivityOfType("idea:shipped"), 1)
}

func TestRegisterAgentValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	registerAgent(t, svc, "unique")

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = svc.RegisterAgent(ctx, RegisterAgentInput{Name: "unique", PublicKey: auth.EncodePublicKey(pub)})
	requireDomainCode(t, err, codeAgentExists)

	_, err = svc.RegisterAgent(ctx, RegisterAgentInput{Name: "keyless", PublicKey: "nope"})
	requireDomainCode(t, err, codeValidation)

	_, err = svc.RegisterAgent(ctx, RegisterAgentInput{Name: "  ", PublicKey: auth.EncodePublicKey(pub)})
	requireDomainCode(t, err, codeValidation)
}

func TestCreateIdeaValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	agent := registerAgent(t, svc, "writer")

	_, err := svc.CreateIdea(context.Background(), agent.id, CreateIdeaInput{Title: "   "})
	requireDomainCode(t, err, codeValidation)

	_, err = svc.CreateIdea(context.Background(), agent.id, CreateIdeaInput{Title: strings.Repeat("t", maxTitleLength+1)})
	requireDomainCode(t, err, codeValidation)

	idea := createIdea(t, svc, agent.id, "Bike Kitchen")
	assert.Equal(t, store.IdeaVoting, idea.Status)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), idea.VotingEndsAt, time.Minute)
}

func TestRepoName(t *testing.T) {
	tests := []struct {
		title, id, want string
	}{
		{"Open Source Weather Station", "idea_1", "open-source-weather-station"},
		{"Hello,   World! (v2)", "idea_1", "hello-world-v2"},
		{"Rock & Roll", "idea_1", "rock-roll"},
		{"Solar\tKiln\nController", "idea_1", "solar-kiln-controller"},
		{strings.Repeat("abcde ", 20), "idea_1", strings.Repeat("abcde-", 8) + "ab"},
		{"！！！", "idea_0123456789abcdef", "idea-01234567"},
		{"", "idea_ABC", "idea-abc"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := RepoName(tt.title, tt.id)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), maxRepoNameLength)
		})
	}
}
