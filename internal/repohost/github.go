package repohost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// GitHub talks to the GitHub REST API. Repositories are created under org
// when set, otherwise under the token's user.
type GitHub struct {
	client  *http.Client
	baseURL string
	org     string
	secret  string
}

func NewGitHub(token, org, baseURL, webhookSecret string) *GitHub {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: 30 * time.Second})
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHub{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		org:     strings.TrimSpace(org),
		secret:  webhookSecret,
	}
}

type createRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	HasIssues   bool   `json:"has_issues"`
	HasProjects bool   `json:"has_projects"`
	AutoInit    bool   `json:"auto_init"`
}

type createRepoResponse struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

func (g *GitHub) CreateRepository(ctx context.Context, spec RepoSpec) (Repository, error) {
	path := "/user/repos"
	if g.org != "" {
		path = "/orgs/" + url.PathEscape(g.org) + "/repos"
	}
	var created createRepoResponse
	err := g.do(ctx, http.MethodPost, path, createRepoRequest{
		Name:        spec.Name,
		Description: spec.Description,
		Private:     spec.Private,
		HasIssues:   spec.HasIssues,
		HasProjects: spec.HasProjects,
		AutoInit:    true,
	}, &created)
	if err != nil {
		return Repository{}, fmt.Errorf("create repository %s: %w", spec.Name, err)
	}
	return Repository{
		ID:       strconv.FormatInt(created.ID, 10),
		FullName: created.FullName,
		URL:      created.HTMLURL,
	}, nil
}

type hookConfig struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Secret      string `json:"secret,omitempty"`
}

type createHookRequest struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Events []string   `json:"events"`
	Config hookConfig `json:"config"`
}

func (g *GitHub) CreateWebhook(ctx context.Context, fullName, targetURL string, events []string) (string, error) {
	var created struct {
		ID int64 `json:"id"`
	}
	err := g.do(ctx, http.MethodPost, "/repos/"+fullName+"/hooks", createHookRequest{
		Name:   "web",
		Active: true,
		Events: events,
		Config: hookConfig{URL: targetURL, ContentType: "json", Secret: g.secret},
	}, &created)
	if err != nil {
		return "", fmt.Errorf("create webhook on %s: %w", fullName, err)
	}
	return strconv.FormatInt(created.ID, 10), nil
}

func (g *GitHub) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
