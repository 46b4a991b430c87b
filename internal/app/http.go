package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ideaforge/api/internal/auth"
	"ideaforge/api/internal/store"
)

const (
	maxSignedBody  = 1 << 20
	maxWebhookBody = 5 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNoContent, map[string]any{})
	})
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.service.Metrics().Handler())

	r.Post("/api/agents", s.handleRegisterAgent)
	r.With(s.requireAgent).Post("/api/ideas", s.handleCreateIdea)
	r.Get("/api/ideas/search", s.handleSearchIdeas)
	r.Get("/api/ideas/{ideaID}", s.handleGetIdea)
	r.With(s.requireAgent).Post("/api/ideas/{ideaID}/votes", s.handleCastVote)
	r.Get("/api/projects/{projectID}", s.handleGetProject)
	r.Get("/api/activity", s.handleActivity)
	r.Post("/api/webhooks/github", s.handleWebhook)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var body RegisterAgentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	agent, err := s.service.RegisterAgent(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"agent": agent})
}

func (s *HTTPServer) handleCreateIdea(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var body CreateIdeaInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	idea, err := s.service.CreateIdea(r.Context(), identity.AgentID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"idea": idea})
}

func (s *HTTPServer) handleGetIdea(w http.ResponseWriter, r *http.Request) {
	idea, err := s.service.GetIdea(r.Context(), chi.URLParam(r, "ideaID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"idea": idea})
}

func (s *HTTPServer) handleCastVote(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	var body CastVoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.CastVote(r.Context(), chi.URLParam(r, "ideaID"), identity.AgentID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSearchIdeas(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, s.service.SearchIdeas(r.Context(), r.URL.Query().Get("q"), limit))
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusUnprocessableEntity, codeValidation, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	events, err := s.service.ListActivity(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleWebhook always acknowledges; processing outcomes only show up in
// logs, metrics and the activity feed.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.service.logger.Warn("webhook body unreadable", "request_id", requestIDFrom(r.Context()), "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	eventType := strings.TrimSpace(r.Header.Get("X-Event-Type"))
	if eventType == "" {
		eventType = strings.TrimSpace(r.Header.Get("X-GitHub-Event"))
	}
	s.service.ReceiveWebhook(r.Context(), WebhookDelivery{
		ID:        r.Header.Get("X-GitHub-Delivery"),
		EventType: eventType,
		Signature: r.Header.Get("X-Hub-Signature-256"),
		Body:      body,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type identityKey struct{}

// requireAgent runs the authentication gate. The body is buffered for the
// signature and restored for the handler.
func (s *HTTPServer) requireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			read, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "Unreadable body", nil)
				return
			}
			body = read
			_ = r.Body.Close()
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		identity, err := s.service.VerifyRequest(r.Context(), auth.Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Body:      body,
			AgentID:   r.Header.Get(auth.HeaderAgentID),
			Signature: r.Header.Get(auth.HeaderSignature),
			Timestamp: r.Header.Get(auth.HeaderTimestamp),
		})
		if err != nil {
			status, code, message, _ := mapError(err)
			s.service.metrics.AuthFailure(code)
			writeError(w, status, code, message, nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

func identityFrom(ctx context.Context) auth.Identity {
	identity, _ := ctx.Value(identityKey{}).(auth.Identity)
	return identity
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.logger.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.service.metrics.ObserveHTTP(r.Method, route, writer.status, elapsed)
		s.service.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Agent-Id, X-Agent-Signature, X-Agent-Timestamp")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return http.StatusUnauthorized, "MISSING_CREDENTIALS", "Signature headers are required", nil
	case errors.Is(err, auth.ErrStaleRequest):
		return http.StatusUnauthorized, "STALE_REQUEST", "Request timestamp is outside the accepted window", nil
	case errors.Is(err, auth.ErrUnknownAgent):
		return http.StatusUnauthorized, "UNKNOWN_AGENT", "Unknown agent", nil
	case errors.Is(err, auth.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE", "Signature does not match", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
