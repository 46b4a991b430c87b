package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const (
	IdeaVoting   = "voting"
	IdeaApproved = "approved"
	IdeaRejected = "rejected"
	IdeaBuilding = "building"
	IdeaShipped  = "shipped"
)

const (
	ProjectSetup   = "setup"
	ProjectActive  = "active"
	ProjectShipped = "shipped"
)

type Agent struct {
	ID         string
	Name       string
	PublicKey  string
	Bio        string
	VoteWeight float64
	CreatedAt  time.Time
}

type Idea struct {
	ID           string
	Title        string
	Description  string
	AuthorID     string
	Status       string
	VotingEndsAt time.Time
	ProjectID    *string
	RepoURL      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Vote struct {
	IdeaID    string
	AgentID   string
	Direction string
	Weight    float64
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Project struct {
	ID           string
	IdeaID       string
	Name         string
	RepoURL      string
	RepoFullName string
	LeadAgentID  string
	Status       string
	CommitsCount int64
	PRsCount     int64
	IssuesCount  int64
	CreatedAt    time.Time
}

type Contributor struct {
	ProjectID string
	AgentID   string
	Role      string
	JoinedAt  time.Time
}

type ActivityEvent struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	AgentID   string         `json:"agentId,omitempty"`
	IdeaID    string         `json:"ideaId,omitempty"`
	ProjectID string         `json:"projectId,omitempty"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Counter names a project statistic that only grows by atomic increments.
type Counter string

const (
	CounterCommits Counter = "commits_count"
	CounterPRs     Counter = "prs_count"
	CounterIssues  Counter = "issues_count"
)

func (c Counter) Valid() bool {
	switch c {
	case CounterCommits, CounterPRs, CounterIssues:
		return true
	default:
		return false
	}
}

// IdeaLink is the provisioning result written onto an approved idea.
type IdeaLink struct {
	IdeaID    string
	ProjectID string
	RepoURL   string
}
