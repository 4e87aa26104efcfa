// Package http exposes the dashboard read models over a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
	"github.com/naka-gawa/pr-dashboard/internal/metrics"
	"github.com/naka-gawa/pr-dashboard/internal/usecase"
)

// Service is the use case surface the handlers consume.
type Service interface {
	RefreshRepository(ctx context.Context, owner, repo string, days int, force bool) usecase.RefreshResult
	PullRequests(ctx context.Context, owner, repo string, days int) ([]domain.PullRequest, error)
	Issues(ctx context.Context, owner, repo string, days int) ([]domain.Issue, error)
	Summary(ctx context.Context, owner, repo string, days int) (metrics.Summary, error)
	FourKeys(ctx context.Context, owner, repo string, days int) (metrics.FourKeys, error)
	Blockers(ctx context.Context, owner, repo string, days int) (map[string]int, error)
	Actions(ctx context.Context, owner, repo string, days int) (map[string][]metrics.UserAction, error)
	Freshness(ctx context.Context, owner, repo string) (usecase.Freshness, error)
	ClearCache(ctx context.Context, owner, repo string) (int64, error)
}

// Handlers serves the dashboard API for a configured set of repositories.
type Handlers struct {
	service     Service
	repos       []domain.Repository
	defaultDays int
	logger      *log.Logger
}

func NewHandlers(service Service, repos []domain.Repository, defaultDays int, logger *log.Logger) *Handlers {
	return &Handlers{service: service, repos: repos, defaultDays: defaultDays, logger: logger}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errorResp(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// writeResult maps use case errors onto HTTP statuses. A never-fetched
// repository is a 404 so clients can tell it apart from an empty window.
func (h *Handlers) writeResult(w http.ResponseWriter, v interface{}, err error) {
	switch {
	case errors.Is(err, usecase.ErrNoCache):
		errorResp(w, http.StatusNotFound, "no_cache", "no cached data, run fetch first")
	case err != nil:
		h.logger.Printf("request failed: %v", err)
		errorResp(w, http.StatusInternalServerError, "internal", err.Error())
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

// days resolves the lookback window from the query string, falling back to
// the configured default on absent or malformed values.
func (h *Handlers) days(r *http.Request) int {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return h.defaultDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return h.defaultDays
	}
	return days
}

func repoParams(r *http.Request) (string, string) {
	return chi.URLParam(r, "owner"), chi.URLParam(r, "repo")
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Repositories lists the configured repositories with cache freshness.
func (h *Handlers) Repositories(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		domain.Repository
		Freshness usecase.Freshness `json:"freshness"`
	}
	entries := make([]entry, 0, len(h.repos))
	for _, repo := range h.repos {
		fresh, err := h.service.Freshness(r.Context(), repo.Owner, repo.Repo)
		if err != nil {
			h.logger.Printf("freshness lookup failed for %s/%s: %v", repo.Owner, repo.Repo, err)
		}
		entries = append(entries, entry{Repository: repo, Freshness: fresh})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) PullRequests(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	prs, err := h.service.PullRequests(r.Context(), owner, repo, h.days(r))
	h.writeResult(w, prs, err)
}

func (h *Handlers) Issues(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	issues, err := h.service.Issues(r.Context(), owner, repo, h.days(r))
	h.writeResult(w, issues, err)
}

func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	summary, err := h.service.Summary(r.Context(), owner, repo, h.days(r))
	h.writeResult(w, summary, err)
}

func (h *Handlers) FourKeys(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	fk, err := h.service.FourKeys(r.Context(), owner, repo, h.days(r))
	h.writeResult(w, fk, err)
}

func (h *Handlers) Blockers(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	blockers, err := h.service.Blockers(r.Context(), owner, repo, h.days(r))
	h.writeResult(w, blockers, err)
}

func (h *Handlers) Actions(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	actions, err := h.service.Actions(r.Context(), owner, repo, h.days(r))
	h.writeResult(w, actions, err)
}

func (h *Handlers) Freshness(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	fresh, err := h.service.Freshness(r.Context(), owner, repo)
	h.writeResult(w, fresh, err)
}

// Refresh triggers a synchronous fetch for one repository. The response
// always carries the per-repository status; a fetch failure maps to 502.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	force := r.URL.Query().Get("force") == "true"
	result := h.service.RefreshRepository(r.Context(), owner, repo, h.days(r), force)

	body := map[string]interface{}{
		"owner":  result.Owner,
		"repo":   result.Repo,
		"status": result.Status,
		"count":  result.Count,
	}
	if result.Err != nil {
		body["message"] = result.Err.Error()
		writeJSON(w, http.StatusBadGateway, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	owner, repo := repoParams(r)
	deleted, err := h.service.ClearCache(r.Context(), owner, repo)
	if err != nil {
		h.logger.Printf("cache clear failed for %s/%s: %v", owner, repo, err)
		errorResp(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
