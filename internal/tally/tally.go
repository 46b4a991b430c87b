// Package tally computes weighted idea scores and decides when an idea has
// enough support to be approved.
package tally

import "time"

const (
	DefaultThreshold    = 10.0
	DefaultMinVoters    = 3
	DefaultVotingPeriod = 48 * time.Hour
	DefaultWeight       = 1.0
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// Config is fixed at construction; callers hold it by value.
type Config struct {
	Threshold    float64
	MinVoters    int
	VotingPeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		MinVoters:    DefaultMinVoters,
		VotingPeriod: DefaultVotingPeriod,
	}
}

// Ballot is the latest position of one agent on one idea.
type Ballot struct {
	AgentID   string
	Direction Direction
	Weight    float64
}

type Result struct {
	Score  float64 `json:"score"`
	Voters int     `json:"voters"`
	Up     int     `json:"up"`
	Down   int     `json:"down"`
}

// Compute sums the ballots. If an agent appears more than once, only its last
// ballot counts.
func Compute(ballots []Ballot) Result {
	latest := make(map[string]Ballot, len(ballots))
	order := make([]string, 0, len(ballots))
	for _, ballot := range ballots {
		if _, seen := latest[ballot.AgentID]; !seen {
			order = append(order, ballot.AgentID)
		}
		latest[ballot.AgentID] = ballot
	}

	var result Result
	for _, agentID := range order {
		ballot := latest[agentID]
		switch ballot.Direction {
		case Up:
			result.Score += ballot.Weight
			result.Up++
		case Down:
			result.Score -= ballot.Weight
			result.Down++
		default:
			continue
		}
		result.Voters++
	}
	return result
}

// Approved reports whether r meets both the score and voter thresholds.
func (c Config) Approved(r Result) bool {
	return r.Score >= c.Threshold && r.Voters >= c.MinVoters
}

// EffectiveWeight applies the default to an unset weight.
func EffectiveWeight(weight float64) float64 {
	if weight <= 0 {
		return DefaultWeight
	}
	return weight
}
