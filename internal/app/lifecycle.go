package app

import (
	"context"
	"errors"

	"ideaforge/api/internal/store"
	"ideaforge/api/internal/tally"
)

// Legal idea transitions. rejected and shipped are terminal. approved to
// building is taken only by LinkIdeaProject during provisioning.
var ideaTransitions = map[string][]string{
	store.IdeaVoting:   {store.IdeaApproved, store.IdeaRejected},
	store.IdeaApproved: {store.IdeaBuilding},
	store.IdeaBuilding: {store.IdeaShipped},
}

func canTransition(from, to string) bool {
	for _, next := range ideaTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition is a conditional update; false means another writer moved the
// idea first or it was never in from.
func (s *Service) transition(ctx context.Context, ideaID, from, to string) (bool, error) {
	if !canTransition(from, to) {
		return false, invalidTransition(ideaID, from, to)
	}
	ok, err := s.store.TransitionIdeaStatus(ctx, ideaID, from, to)
	if err != nil {
		return false, err
	}
	if ok {
		s.metrics.Transition(from, to)
		s.reindex(ctx, ideaID)
	}
	return ok, nil
}

// approve moves voting to approved. Only the caller that wins the
// conditional update records the event and starts provisioning.
func (s *Service) approve(ctx context.Context, ideaID string, result tally.Result) (bool, error) {
	won, err := s.transition(ctx, ideaID, store.IdeaVoting, store.IdeaApproved)
	if err != nil || !won {
		return false, err
	}
	s.metrics.IdeaApproved()
	s.logger.Info("idea approved", "idea_id", ideaID, "score", result.Score, "voters", result.Voters)
	if _, err := s.record(ctx, store.ActivityEvent{
		Type:   "idea:approved",
		IdeaID: ideaID,
		Data:   map[string]any{"score": result.Score, "voters": result.Voters},
	}); err != nil {
		s.logger.Error("approval event not recorded", "idea_id", ideaID, "error", err)
	}

	s.detach("provision", func(ctx context.Context) {
		if _, err := s.provision(ctx, ideaID); err != nil {
			s.logger.Warn("provisioning did not complete", "idea_id", ideaID, "error", err)
		}
	})
	return true, nil
}

func (s *Service) RejectIdea(ctx context.Context, ideaID, reason string) (IdeaView, error) {
	idea, err := s.loadIdea(ctx, ideaID)
	if err != nil {
		return IdeaView{}, err
	}
	ok, err := s.transition(ctx, ideaID, idea.Status, store.IdeaRejected)
	if err != nil {
		return IdeaView{}, err
	}
	if !ok {
		current, _ := s.loadIdea(ctx, ideaID)
		return IdeaView{}, invalidTransition(ideaID, current.Status, store.IdeaRejected)
	}
	data := map[string]any{}
	if reason != "" {
		data["reason"] = reason
	}
	if _, err := s.record(ctx, store.ActivityEvent{Type: "idea:rejected", IdeaID: ideaID, Data: data}); err != nil {
		return IdeaView{}, err
	}
	return s.GetIdea(ctx, ideaID)
}

// MarkShipped closes out a building idea and its project.
func (s *Service) MarkShipped(ctx context.Context, ideaID string) (IdeaView, error) {
	idea, err := s.loadIdea(ctx, ideaID)
	if err != nil {
		return IdeaView{}, err
	}
	ok, err := s.transition(ctx, ideaID, idea.Status, store.IdeaShipped)
	if err != nil {
		return IdeaView{}, err
	}
	if !ok {
		current, _ := s.loadIdea(ctx, ideaID)
		return IdeaView{}, invalidTransition(ideaID, current.Status, store.IdeaShipped)
	}

	project, err := s.store.GetProjectByIdea(ctx, ideaID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("shipped idea has no project", "idea_id", ideaID)
	case err != nil:
		return IdeaView{}, err
	default:
		for _, from := range []string{store.ProjectActive, store.ProjectSetup} {
			moved, err := s.store.TransitionProjectStatus(ctx, project.ID, from, store.ProjectShipped)
			if err != nil {
				return IdeaView{}, err
			}
			if moved {
				break
			}
		}
	}

	if _, err := s.record(ctx, store.ActivityEvent{Type: "idea:shipped", IdeaID: ideaID, ProjectID: project.ID, Data: map[string]any{}}); err != nil {
		return IdeaView{}, err
	}
	return s.GetIdea(ctx, ideaID)
}
