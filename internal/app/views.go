package app

import (
	"time"

	"ideaforge/api/internal/store"
	"ideaforge/api/internal/tally"
)

type AgentView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PublicKey  string    `json:"publicKey"`
	Bio        string    `json:"bio,omitempty"`
	VoteWeight float64   `json:"voteWeight"`
	CreatedAt  time.Time `json:"createdAt"`
}

type IdeaView struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	AuthorID     string        `json:"authorId"`
	Status       string        `json:"status"`
	VotingEndsAt time.Time     `json:"votingEndsAt"`
	ProjectID    *string       `json:"projectId"`
	RepoURL      string        `json:"repoUrl,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Tally        *tally.Result `json:"tally,omitempty"`
}

type VoteView struct {
	IdeaID    string    `json:"ideaId"`
	AgentID   string    `json:"agentId"`
	Direction string    `json:"direction"`
	Weight    float64   `json:"weight"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ProjectView struct {
	ID           string    `json:"id"`
	IdeaID       string    `json:"ideaId"`
	Name         string    `json:"name"`
	RepoURL      string    `json:"repoUrl"`
	RepoFullName string    `json:"repoFullName"`
	LeadAgentID  string    `json:"leadAgentId"`
	Status       string    `json:"status"`
	CommitsCount int64     `json:"commitsCount"`
	PRsCount     int64     `json:"prsCount"`
	IssuesCount  int64     `json:"issuesCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// VoteResult reports the vote as stored, the tally after it, and whether this
// call won the approval transition.
type VoteResult struct {
	Vote     VoteView     `json:"vote"`
	Tally    tally.Result `json:"tally"`
	Approved bool         `json:"approved"`
}

func agentView(agent store.Agent) AgentView {
	return AgentView{
		ID:         agent.ID,
		Name:       agent.Name,
		PublicKey:  agent.PublicKey,
		Bio:        agent.Bio,
		VoteWeight: tally.EffectiveWeight(agent.VoteWeight),
		CreatedAt:  agent.CreatedAt,
	}
}

func ideaView(idea store.Idea) IdeaView {
	return IdeaView{
		ID:           idea.ID,
		Title:        idea.Title,
		Description:  idea.Description,
		AuthorID:     idea.AuthorID,
		Status:       idea.Status,
		VotingEndsAt: idea.VotingEndsAt,
		ProjectID:    idea.ProjectID,
		RepoURL:      idea.RepoURL,
		CreatedAt:    idea.CreatedAt,
		UpdatedAt:    idea.UpdatedAt,
	}
}

func voteView(vote store.Vote) VoteView {
	return VoteView{
		IdeaID:    vote.IdeaID,
		AgentID:   vote.AgentID,
		Direction: vote.Direction,
		Weight:    vote.Weight,
		Reason:    vote.Reason,
		UpdatedAt: vote.UpdatedAt,
	}
}

func projectView(project store.Project) ProjectView {
	return ProjectView{
		ID:           project.ID,
		IdeaID:       project.IdeaID,
		Name:         project.Name,
		RepoURL:      project.RepoURL,
		RepoFullName: project.RepoFullName,
		LeadAgentID:  project.LeadAgentID,
		Status:       project.Status,
		CommitsCount: project.CommitsCount,
		PRsCount:     project.PRsCount,
		IssuesCount:  project.IssuesCount,
		CreatedAt:    project.CreatedAt,
	}
}
