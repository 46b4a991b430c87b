package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ideaforge/api/internal/repohost"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/util"
)

const (
	maxRepoNameLength    = 50
	maxRepoDescription   = 350
	leadContributorRole  = "lead"
	fallbackRepoIDPrefix = 8
)

var (
	repoNameDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	repoNameSpaces     = regexp.MustCompile(`\s+`)
	repoNameUsable     = regexp.MustCompile(`[a-z0-9]`)
)

// RepoName derives a repository name from an idea title. Titles with nothing
// usable fall back to idea-<id prefix>.
func RepoName(title, ideaID string) string {
	name := strings.ToLower(title)
	name = repoNameDisallowed.ReplaceAllString(name, "")
	name = repoNameSpaces.ReplaceAllString(name, "-")
	if len(name) > maxRepoNameLength {
		name = name[:maxRepoNameLength]
	}
	if !repoNameUsable.MatchString(name) {
		suffix := ideaID
		if _, rest, ok := strings.Cut(ideaID, "_"); ok {
			suffix = rest
		}
		if len(suffix) > fallbackRepoIDPrefix {
			suffix = suffix[:fallbackRepoIDPrefix]
		}
		name = "idea-" + strings.ToLower(suffix)
	}
	return name
}

// provision creates the repository and project for an approved idea. Every
// failure leaves the idea approved; nothing here rolls back the approval.
func (s *Service) provision(ctx context.Context, ideaID string) (store.Project, error) {
	idea, err := s.loadIdea(ctx, ideaID)
	if err != nil {
		return store.Project{}, err
	}
	if idea.Status != store.IdeaApproved || idea.ProjectID != nil {
		return store.Project{}, invalidTransition(ideaID, idea.Status, store.IdeaBuilding)
	}

	// An existing project row means an earlier run stopped after the insert;
	// resume at the link step with it.
	project, err := s.store.GetProjectByIdea(ctx, ideaID)
	switch {
	case err == nil:
		s.logger.Info("resuming provisioning with existing project", "idea_id", ideaID, "project_id", project.ID, "repo", project.RepoFullName)
	case errors.Is(err, store.ErrNotFound):
		project, err = s.createProject(ctx, idea)
		if err != nil {
			return store.Project{}, err
		}
	default:
		return store.Project{}, fmt.Errorf("load project for idea: %w", err)
	}

	linked, err := s.store.LinkIdeaProject(ctx, store.IdeaLink{IdeaID: idea.ID, ProjectID: project.ID, RepoURL: project.RepoURL})
	if err != nil {
		return store.Project{}, fmt.Errorf("link idea to project: %w", err)
	}
	if !linked {
		s.logger.Warn("idea already linked, abandoning provisioning", "idea_id", ideaID, "project_id", project.ID)
		return store.Project{}, invalidTransition(ideaID, store.IdeaApproved, store.IdeaBuilding)
	}
	s.metrics.Transition(store.IdeaApproved, store.IdeaBuilding)
	s.reindex(ctx, idea.ID)

	if err := s.addContributor(ctx, project.ID, idea.AuthorID, leadContributorRole); err != nil {
		s.logger.Warn("lead contributor not added", "project_id", project.ID, "agent_id", idea.AuthorID, "error", err)
	}

	s.registerWebhook(ctx, project)

	s.metrics.Provisioned("created")
	s.logger.Info("project provisioned", "idea_id", ideaID, "project_id", project.ID, "repo", project.RepoFullName)
	if _, err := s.record(ctx, store.ActivityEvent{
		Type:      "project:created",
		AgentID:   idea.AuthorID,
		IdeaID:    idea.ID,
		ProjectID: project.ID,
		Data:      map[string]any{"repoUrl": project.RepoURL, "repoFullName": project.RepoFullName},
	}); err != nil {
		s.logger.Error("project creation not recorded", "project_id", project.ID, "error", err)
	}
	return s.store.GetProject(ctx, project.ID)
}

// createProject creates the repository and records its project row in setup.
func (s *Service) createProject(ctx context.Context, idea store.Idea) (store.Project, error) {
	repo, err := s.host.CreateRepository(ctx, repohost.RepoSpec{
		Name:        RepoName(idea.Title, idea.ID),
		Description: util.Truncate(idea.Description, maxRepoDescription),
		Private:     false,
		HasIssues:   true,
		HasProjects: true,
	})
	if err != nil {
		s.metrics.Provisioned("creation_failed")
		s.logger.Error("repository creation failed", "idea_id", idea.ID, "error", err)
		if _, recErr := s.record(ctx, store.ActivityEvent{
			Type:   "project:creation_failed",
			IdeaID: idea.ID,
			Data:   map[string]any{"error": err.Error()},
		}); recErr != nil {
			s.logger.Error("creation failure not recorded", "idea_id", idea.ID, "error", recErr)
		}
		return store.Project{}, fmt.Errorf("create repository: %w", err)
	}

	project := store.Project{
		ID:           util.NewID("prj"),
		IdeaID:       idea.ID,
		Name:         idea.Title,
		RepoURL:      repo.URL,
		RepoFullName: repo.FullName,
		LeadAgentID:  idea.AuthorID,
		Status:       store.ProjectSetup,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		s.logger.Error("project insert failed", "idea_id", idea.ID, "repo", repo.FullName, "error", err)
		return store.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (s *Service) addContributor(ctx context.Context, projectID, agentID, role string) error {
	err := s.store.InsertContributor(ctx, store.Contributor{ProjectID: projectID, AgentID: agentID, Role: role})
	if errors.Is(err, store.ErrConflict) {
		return duplicateContributor(projectID, agentID)
	}
	return err
}

// registerWebhook is non-fatal: a failure is logged and recorded.
func (s *Service) registerWebhook(ctx context.Context, project store.Project) (string, error) {
	hookID, err := s.host.CreateWebhook(ctx, project.RepoFullName, s.webhookURL, repohost.DefaultEvents)
	if err != nil {
		s.metrics.Provisioned("webhook_failed")
		s.logger.Warn("webhook registration failed", "project_id", project.ID, "repo", project.RepoFullName, "error", err)
		if _, recErr := s.record(ctx, store.ActivityEvent{
			Type:      "project:webhook_failed",
			IdeaID:    project.IdeaID,
			ProjectID: project.ID,
			Data:      map[string]any{"error": err.Error()},
		}); recErr != nil {
			s.logger.Error("webhook failure not recorded", "project_id", project.ID, "error", recErr)
		}
		return "", err
	}
	s.logger.Info("webhook registered", "project_id", project.ID, "hook_id", hookID)
	return hookID, nil
}

// RetryProvision reruns provisioning for an approved idea that never got a
// project, typically after project:creation_failed.
func (s *Service) RetryProvision(ctx context.Context, ideaID string) (ProjectView, error) {
	project, err := s.provision(ctx, ideaID)
	if err != nil {
		return ProjectView{}, err
	}
	return projectView(project), nil
}

// RegisterWebhook re-registers the reconciler webhook on a project's repository.
func (s *Service) RegisterWebhook(ctx context.Context, projectID string) (string, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", projectNotFound(projectID)
	}
	if err != nil {
		return "", err
	}
	hookID, err := s.registerWebhook(ctx, project)
	if err != nil {
		return "", fmt.Errorf("register webhook: %w", err)
	}
	if _, err := s.record(ctx, store.ActivityEvent{
		Type:      "project:webhook_registered",
		IdeaID:    project.IdeaID,
		ProjectID: project.ID,
		Data:      map[string]any{"hookId": hookID},
	}); err != nil {
		return "", err
	}
	return hookID, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (ProjectView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return ProjectView{}, projectNotFound(projectID)
	}
	if err != nil {
		return ProjectView{}, err
	}
	return projectView(project), nil
}
