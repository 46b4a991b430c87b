package repohost

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGitHubCreateRepositoryUnderOrg(t *testing.T) {
	var got createRepoRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orgs/forge/repos" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42,"full_name":"forge/tidal","html_url":"https://github.com/forge/tidal"}`))
	}))
	defer server.Close()

	host := NewGitHub("secret-token", "forge", server.URL, "")
	repo, err := host.CreateRepository(context.Background(), RepoSpec{Name: "tidal", Description: "tides", HasIssues: true})
	if err != nil {
		t.Fatalf("CreateRepository() error = %v", err)
	}
	if repo.ID != "42" || repo.FullName != "forge/tidal" || repo.URL != "https://github.com/forge/tidal" {
		t.Fatalf("unexpected repository: %+v", repo)
	}
	if got.Name != "tidal" || !got.HasIssues || !got.AutoInit {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestGitHubCreateRepositoryForUserWithoutOrg(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/repos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":7,"full_name":"me/x","html_url":"https://github.com/me/x"}`))
	}))
	defer server.Close()

	if _, err := NewGitHub("t", "", server.URL, "").CreateRepository(context.Background(), RepoSpec{Name: "x"}); err != nil {
		t.Fatalf("CreateRepository() error = %v", err)
	}
}

func TestGitHubCreateWebhook(t *testing.T) {
	var got createHookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/forge/tidal/hooks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":991}`))
	}))
	defer server.Close()

	host := NewGitHub("t", "forge", server.URL, "hook-secret")
	id, err := host.CreateWebhook(context.Background(), "forge/tidal", "https://forge.test/api/webhooks/github", DefaultEvents)
	if err != nil {
		t.Fatalf("CreateWebhook() error = %v", err)
	}
	if id != "991" {
		t.Fatalf("hook id = %q", id)
	}
	if got.Name != "web" || !got.Active || got.Config.ContentType != "json" || got.Config.Secret != "hook-secret" {
		t.Fatalf("unexpected hook request: %+v", got)
	}
	if len(got.Events) != 4 {
		t.Fatalf("events = %v", got.Events)
	}
}

func TestGitHubErrorsCarryStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"name already exists on this account"}`))
	}))
	defer server.Close()

	_, err := NewGitHub("t", "forge", server.URL, "").CreateRepository(context.Background(), RepoSpec{Name: "tidal"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Message != "name already exists on this account" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
