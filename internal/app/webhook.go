package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ideaforge/api/internal/archive"
	"ideaforge/api/internal/store"
	"ideaforge/api/internal/util"
)

const maxCommentBody = 200

// Webhook outcomes, also used as metric labels.
const (
	WebhookApplied     = "applied"
	WebhookIgnored     = "ignored"
	WebhookUnknownRepo = "unknown_repo"
)

type githubUser struct {
	Login string `json:"login"`
}

type webhookPayload struct {
	Action     string `json:"action"`
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []json.RawMessage `json:"commits"`
	Pusher  struct {
		Name string `json:"name"`
	} `json:"pusher"`
	PullRequest *struct {
		Number int        `json:"number"`
		Title  string     `json:"title"`
		User   githubUser `json:"user"`
	} `json:"pull_request"`
	Issue *struct {
		Number int        `json:"number"`
		Title  string     `json:"title"`
		User   githubUser `json:"user"`
	} `json:"issue"`
	Comment *struct {
		Body string     `json:"body"`
		User githubUser `json:"user"`
	} `json:"comment"`
}

var reconciledEvents = map[string]bool{
	"push":          true,
	"pull_request":  true,
	"issues":        true,
	"issue_comment": true,
}

// HandleWebhookEvent applies one repository event to its project. Counters
// move by atomic increments, so a redelivered event counts again.
func (s *Service) HandleWebhookEvent(ctx context.Context, eventType string, payload []byte) (string, error) {
	if !reconciledEvents[eventType] {
		return WebhookIgnored, nil
	}
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookIgnored, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	fullName := body.Repository.FullName
	if fullName == "" {
		return WebhookIgnored, nil
	}
	project, err := s.store.FindProjectByRepo(ctx, fullName)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("webhook for unknown repository", "event", eventType, "repo", fullName)
		return WebhookUnknownRepo, nil
	}
	if err != nil {
		return "", err
	}

	var event store.ActivityEvent
	switch eventType {
	case "push":
		commits := int64(len(body.Commits))
		if err := s.store.IncrementProjectCounter(ctx, project.ID, store.CounterCommits, commits); err != nil {
			return "", err
		}
		event = store.ActivityEvent{Type: "project:push", Data: map[string]any{
			"commits": commits,
			"ref":     body.Ref,
			"pusher":  body.Pusher.Name,
		}}
	case "pull_request":
		if body.PullRequest == nil {
			return WebhookIgnored, nil
		}
		if body.Action == "opened" {
			if err := s.store.IncrementProjectCounter(ctx, project.ID, store.CounterPRs, 1); err != nil {
				return "", err
			}
		}
		event = store.ActivityEvent{Type: "project:pr_" + body.Action, Data: map[string]any{
			"prNumber": body.PullRequest.Number,
			"title":    body.PullRequest.Title,
			"author":   body.PullRequest.User.Login,
		}}
	case "issues":
		if body.Issue == nil {
			return WebhookIgnored, nil
		}
		if body.Action == "opened" {
			if err := s.store.IncrementProjectCounter(ctx, project.ID, store.CounterIssues, 1); err != nil {
				return "", err
			}
		}
		event = store.ActivityEvent{Type: "project:issue_" + body.Action, Data: map[string]any{
			"issueNumber": body.Issue.Number,
			"title":       body.Issue.Title,
			"author":      body.Issue.User.Login,
		}}
	case "issue_comment":
		if body.Comment == nil {
			return WebhookIgnored, nil
		}
		issueNumber := 0
		if body.Issue != nil {
			issueNumber = body.Issue.Number
		}
		event = store.ActivityEvent{Type: "project:comment", Data: map[string]any{
			"issueNumber": issueNumber,
			"author":      body.Comment.User.Login,
			"body":        util.Truncate(body.Comment.Body, maxCommentBody),
		}}
	}

	if _, err := s.store.TransitionProjectStatus(ctx, project.ID, store.ProjectSetup, store.ProjectActive); err != nil {
		s.logger.Warn("project activation failed", "project_id", project.ID, "error", err)
	}

	event.IdeaID = project.IdeaID
	event.ProjectID = project.ID
	if _, err := s.record(ctx, event); err != nil {
		return "", err
	}
	return WebhookApplied, nil
}

// VerifyWebhookSignature checks X-Hub-Signature-256 when a secret is
// configured. Without a secret every delivery is accepted.
func (s *Service) VerifyWebhookSignature(body []byte, header string) bool {
	if s.webhookSecret == "" {
		return true
	}
	given, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	decoded, err := hex.DecodeString(given)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

type WebhookDelivery struct {
	ID        string
	EventType string
	Signature string
	Body      []byte
}

// ReceiveWebhook is the acknowledged-always entry point used by the HTTP
// endpoint. Only deliveries that pass the signature check are archived and
// applied; errors are logged and counted, never returned.
func (s *Service) ReceiveWebhook(ctx context.Context, delivery WebhookDelivery) string {
	if !s.VerifyWebhookSignature(delivery.Body, delivery.Signature) {
		s.metrics.WebhookEvent(delivery.EventType, "bad_signature")
		s.logger.Warn("webhook signature mismatch", "delivery_id", delivery.ID, "event", delivery.EventType)
		return "bad_signature"
	}

	if s.archive != nil {
		key, err := s.archive.Store(ctx, archive.Delivery{
			ID:         delivery.ID,
			EventType:  delivery.EventType,
			Body:       delivery.Body,
			ReceivedAt: s.now(),
		})
		if err != nil {
			s.logger.Warn("webhook archive failed", "delivery_id", delivery.ID, "error", err)
		} else {
			s.logger.Debug("webhook archived", "delivery_id", delivery.ID, "key", key)
		}
	}

	outcome, err := s.HandleWebhookEvent(ctx, delivery.EventType, delivery.Body)
	if err != nil {
		s.metrics.WebhookEvent(delivery.EventType, "error")
		s.logger.Error("webhook processing failed", "delivery_id", delivery.ID, "event", delivery.EventType, "error", err)
		return "error"
	}
	s.metrics.WebhookEvent(delivery.EventType, outcome)
	return outcome
}
