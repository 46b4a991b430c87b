package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, public_key, bio, vote_weight)
		VALUES ($1, $2, $3, $4, $5)
	`, agent.ID, agent.Name, agent.PublicKey, agent.Bio, nullFloat(agent.VoteWeight))
	if err != nil {
		return fmt.Errorf("insert agent: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	var agent Agent
	var weight sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, public_key, bio, vote_weight, created_at
		FROM agents
		WHERE id=$1
	`, agentID).Scan(&agent.ID, &agent.Name, &agent.PublicKey, &agent.Bio, &weight, &agent.CreatedAt)
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", translate(err))
	}
	agent.VoteWeight = weight.Float64
	return agent, nil
}

func (s *PostgresStore) CreateIdea(ctx context.Context, idea Idea) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ideas (id, title, description, author_id, status, voting_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, idea.ID, idea.Title, idea.Description, idea.AuthorID, idea.Status, idea.VotingEndsAt)
	if err != nil {
		return fmt.Errorf("insert idea: %w", translate(err))
	}
	return nil
}

const ideaColumns = `id, title, description, author_id, status, voting_ends_at, project_id, repo_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(row rowScanner) (Idea, error) {
	var idea Idea
	var projectID sql.NullString
	err := row.Scan(&idea.ID, &idea.Title, &idea.Description, &idea.AuthorID, &idea.Status,
		&idea.VotingEndsAt, &projectID, &idea.RepoURL, &idea.CreatedAt, &idea.UpdatedAt)
	if err != nil {
		return Idea{}, err
	}
	if projectID.Valid {
		idea.ProjectID = &projectID.String
	}
	return idea, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	idea, err := scanIdea(s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, ideaID))
	if err != nil {
		return Idea{}, fmt.Errorf("get idea: %w", translate(err))
	}
	return idea, nil
}

// TransitionIdeaStatus moves an idea from one status to another only if it is
// still in the expected status. The boolean reports whether a row changed.
func (s *PostgresStore) TransitionIdeaStatus(ctx context.Context, ideaID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ideas
		SET status=$3, updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, ideaID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition idea: %w", err)
	}
	return changed(result)
}

// LinkIdeaProject attaches a provisioned project to an approved idea that has
// no project yet and moves it to building.
func (s *PostgresStore) LinkIdeaProject(ctx context.Context, link IdeaLink) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ideas
		SET status='building', project_id=$2, repo_url=$3, updated_at=NOW()
		WHERE id=$1 AND status='approved' AND project_id IS NULL
	`, link.IdeaID, link.ProjectID, link.RepoURL)
	if err != nil {
		return false, fmt.Errorf("link idea project: %w", err)
	}
	return changed(result)
}

func (s *PostgresStore) SearchIdeas(ctx context.Context, query string, limit int) ([]Idea, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ideaColumns+`
		FROM ideas
		WHERE to_tsvector('english', title || ' ' || description) @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(to_tsvector('english', title || ' ' || description), plainto_tsquery('english', $1)) DESC, created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search ideas: %w", err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, idea)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertVote(ctx context.Context, vote Vote) (Vote, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO votes (idea_id, agent_id, direction, weight, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idea_id, agent_id) DO UPDATE
		SET direction=EXCLUDED.direction, weight=EXCLUDED.weight, reason=EXCLUDED.reason, updated_at=NOW()
		RETURNING created_at, updated_at
	`, vote.IdeaID, vote.AgentID, vote.Direction, vote.Weight, vote.Reason).Scan(&vote.CreatedAt, &vote.UpdatedAt)
	if err != nil {
		return Vote{}, fmt.Errorf("upsert vote: %w", translate(err))
	}
	return vote, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, ideaID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idea_id, agent_id, direction, weight, reason, created_at, updated_at
		FROM votes
		WHERE idea_id=$1
		ORDER BY updated_at ASC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var vote Vote
		if err := rows.Scan(&vote.IdeaID, &vote.AgentID, &vote.Direction, &vote.Weight, &vote.Reason, &vote.CreatedAt, &vote.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		items = append(items, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, idea_id, name, repo_url, repo_full_name, lead_agent_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, project.ID, project.IdeaID, project.Name, project.RepoURL, project.RepoFullName, project.LeadAgentID, project.Status)
	if err != nil {
		return fmt.Errorf("insert project: %w", translate(err))
	}
	return nil
}

const projectColumns = `id, idea_id, name, repo_url, repo_full_name, lead_agent_id, status, commits_count, prs_count, issues_count, created_at`

func (s *PostgresStore) getProjectWhere(ctx context.Context, where string, arg string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+where, arg).Scan(
		&p.ID, &p.IdeaID, &p.Name, &p.RepoURL, &p.RepoFullName, &p.LeadAgentID, &p.Status,
		&p.CommitsCount, &p.PRsCount, &p.IssuesCount, &p.CreatedAt,
	)
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", translate(err))
	}
	return p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	return s.getProjectWhere(ctx, "id=$1", projectID)
}

func (s *PostgresStore) GetProjectByIdea(ctx context.Context, ideaID string) (Project, error) {
	return s.getProjectWhere(ctx, "idea_id=$1", ideaID)
}

func (s *PostgresStore) FindProjectByRepo(ctx context.Context, repoFullName string) (Project, error) {
	return s.getProjectWhere(ctx, "repo_full_name=$1", repoFullName)
}

// IncrementProjectCounter applies delta inside the UPDATE so concurrent
// deliveries never overwrite each other.
func (s *PostgresStore) IncrementProjectCounter(ctx context.Context, projectID string, counter Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("increment project counter: unknown counter %q", counter)
	}
	if delta < 0 {
		return fmt.Errorf("increment project counter: negative delta %d", delta)
	}
	if delta == 0 {
		return nil
	}
	column := string(counter)
	result, err := s.db.ExecContext(ctx, `UPDATE projects SET `+column+`=`+column+`+$2 WHERE id=$1`, projectID, delta)
	if err != nil {
		return fmt.Errorf("increment project counter: %w", err)
	}
	ok, err := changed(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("increment project counter: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) TransitionProjectStatus(ctx context.Context, projectID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE projects SET status=$3 WHERE id=$1 AND status=$2`, projectID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition project: %w", err)
	}
	return changed(result)
}

func (s *PostgresStore) InsertContributor(ctx context.Context, contributor Contributor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_contributors (project_id, agent_id, role)
		VALUES ($1, $2, $3)
	`, contributor.ProjectID, contributor.AgentID, contributor.Role)
	if err != nil {
		return fmt.Errorf("insert contributor: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, event ActivityEvent) (ActivityEvent, error) {
	if event.Data == nil {
		event.Data = map[string]any{}
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return ActivityEvent{}, fmt.Errorf("marshal activity data: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO activity_events (type, agent_id, idea_id, project_id, data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id, created_at
	`, event.Type, nullString(event.AgentID), nullString(event.IdeaID), nullString(event.ProjectID), string(payload)).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return ActivityEvent{}, fmt.Errorf("insert activity: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, limit int) ([]ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, agent_id, idea_id, project_id, data, created_at
		FROM activity_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityEvent, 0)
	for rows.Next() {
		var item ActivityEvent
		var agentID, ideaID, projectID sql.NullString
		var payload []byte
		if err := rows.Scan(&item.ID, &item.Type, &agentID, &ideaID, &projectID, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		item.AgentID = agentID.String
		item.IdeaID = ideaID.String
		item.ProjectID = projectID.String
		item.Data = map[string]any{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &item.Data); err != nil {
				return nil, fmt.Errorf("decode activity data: %w", err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

func changed(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}

func nullFloat(value float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: value, Valid: value > 0}
}
