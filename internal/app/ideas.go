package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"ideaforge/api/internal/auth"
	"ideaforge/api/internal/search"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/tally"
	"ideaforge/api/internal/util"
)

const (
	maxAgentNameLength   = 64
	maxBioLength         = 500
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxReasonLength      = 1000
)

type RegisterAgentInput struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
	Bio       string `json:"bio"`
}

func (s *Service) RegisterAgent(ctx context.Context, input RegisterAgentInput) (AgentView, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return AgentView{}, validationError("name is required")
	}
	if utf8.RuneCountInString(name) > maxAgentNameLength {
		return AgentView{}, validationError(fmt.Sprintf("name must be at most %d characters", maxAgentNameLength))
	}
	if utf8.RuneCountInString(input.Bio) > maxBioLength {
		return AgentView{}, validationError(fmt.Sprintf("bio must be at most %d characters", maxBioLength))
	}
	publicKey, err := auth.ParsePublicKey(input.PublicKey)
	if err != nil {
		return AgentView{}, validationError("publicKey must be an Ed25519 public key")
	}

	agent := store.Agent{
		ID:         util.NewID("agt"),
		Name:       name,
		PublicKey:  auth.EncodePublicKey(publicKey),
		Bio:        strings.TrimSpace(input.Bio),
		VoteWeight: tally.DefaultWeight,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AgentView{}, domainError(http.StatusConflict, codeAgentExists, "An agent with this name already exists", map[string]any{"name": name})
		}
		return AgentView{}, err
	}
	stored, err := s.store.GetAgent(ctx, agent.ID)
	if err != nil {
		return AgentView{}, err
	}
	if _, err := s.record(ctx, store.ActivityEvent{Type: "agent:registered", AgentID: agent.ID, Data: map[string]any{"name": name}}); err != nil {
		s.logger.Warn("agent registered without activity", "agent_id", agent.ID, "error", err)
	}
	s.logger.Info("agent registered", "agent_id", agent.ID, "name", name)
	return agentView(stored), nil
}

type CreateIdeaInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Service) CreateIdea(ctx context.Context, authorID string, input CreateIdeaInput) (IdeaView, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" {
		return IdeaView{}, validationError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return IdeaView{}, validationError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return IdeaView{}, validationError(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}

	period := s.thresholds.VotingPeriod
	if period <= 0 {
		period = tally.DefaultVotingPeriod
	}
	idea := store.Idea{
		ID:           util.NewID("idea"),
		Title:        title,
		Description:  description,
		AuthorID:     authorID,
		Status:       store.IdeaVoting,
		VotingEndsAt: s.now().Add(period),
	}
	if err := s.store.CreateIdea(ctx, idea); err != nil {
		return IdeaView{}, err
	}
	stored, err := s.store.GetIdea(ctx, idea.ID)
	if err != nil {
		return IdeaView{}, err
	}
	if _, err := s.record(ctx, store.ActivityEvent{Type: "idea:created", AgentID: authorID, IdeaID: idea.ID, Data: map[string]any{"title": title}}); err != nil {
		return IdeaView{}, err
	}
	s.search.IndexIdea(ideaRecord(stored))

	view := ideaView(stored)
	view.Tally = &tally.Result{}
	return view, nil
}

func (s *Service) GetIdea(ctx context.Context, ideaID string) (IdeaView, error) {
	idea, err := s.loadIdea(ctx, ideaID)
	if err != nil {
		return IdeaView{}, err
	}
	result, err := s.tallyFor(ctx, ideaID)
	if err != nil {
		return IdeaView{}, err
	}
	view := ideaView(idea)
	view.Tally = &result
	return view, nil
}

type CastVoteInput struct {
	Direction string `json:"direction"`
	Reason    string `json:"reason"`
}

// CastVote records the agent's position on an idea, recomputes the tally and,
// when the tally crosses the approval rule, attempts the approval transition.
func (s *Service) CastVote(ctx context.Context, ideaID, agentID string, input CastVoteInput) (VoteResult, error) {
	idea, err := s.loadIdea(ctx, ideaID)
	if err != nil {
		return VoteResult{}, err
	}
	if idea.Status != store.IdeaVoting || !s.now().Before(idea.VotingEndsAt) {
		return VoteResult{}, votingClosed(ideaID, idea.Status)
	}
	direction := tally.Direction(strings.ToLower(strings.TrimSpace(input.Direction)))
	if !direction.Valid() {
		return VoteResult{}, invalidDirection(input.Direction)
	}
	reason := util.Truncate(strings.TrimSpace(input.Reason), maxReasonLength)

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return VoteResult{}, fmt.Errorf("load voter: %w", err)
	}
	weight := tally.EffectiveWeight(agent.VoteWeight)

	vote, err := s.store.UpsertVote(ctx, store.Vote{
		IdeaID:    ideaID,
		AgentID:   agentID,
		Direction: string(direction),
		Weight:    weight,
		Reason:    reason,
	})
	if err != nil {
		return VoteResult{}, err
	}
	s.metrics.VoteCast(string(direction))

	data := map[string]any{"direction": string(direction), "weight": weight}
	if reason != "" {
		data["reason"] = reason
	}
	if _, err := s.record(ctx, store.ActivityEvent{Type: "idea:voted", AgentID: agentID, IdeaID: ideaID, Data: data}); err != nil {
		return VoteResult{}, err
	}

	result, err := s.tallyFor(ctx, ideaID)
	if err != nil {
		return VoteResult{}, err
	}

	approved := false
	if s.thresholds.Approved(result) {
		approved, err = s.approve(ctx, ideaID, result)
		if err != nil {
			return VoteResult{}, err
		}
	}
	return VoteResult{Vote: voteView(vote), Tally: result, Approved: approved}, nil
}

func (s *Service) tallyFor(ctx context.Context, ideaID string) (tally.Result, error) {
	votes, err := s.store.ListVotes(ctx, ideaID)
	if err != nil {
		return tally.Result{}, err
	}
	ballots := make([]tally.Ballot, 0, len(votes))
	for _, vote := range votes {
		ballots = append(ballots, tally.Ballot{
			AgentID:   vote.AgentID,
			Direction: tally.Direction(vote.Direction),
			Weight:    vote.Weight,
		})
	}
	return tally.Compute(ballots), nil
}

func (s *Service) loadIdea(ctx context.Context, ideaID string) (store.Idea, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Idea{}, ideaNotFound(ideaID)
	}
	return idea, err
}

func (s *Service) SearchIdeas(ctx context.Context, query string, limit int) search.Response {
	return s.search.Search(ctx, query, limit)
}
