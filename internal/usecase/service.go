// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
	"github.com/naka-gawa/pr-dashboard/internal/gateway"
	"github.com/naka-gawa/pr-dashboard/internal/metrics"
)

// ErrNoCache is returned by read paths when a repository was never fetched.
// It is distinct from an empty result for a fetched repository.
var ErrNoCache = errors.New("no cached data, run fetch first")

// refreshConcurrency bounds parallel repository refreshes so a long
// repository list does not burn through the API quota at once.
const refreshConcurrency = 4

// Store is the persistence the service depends on.
type Store interface {
	SavePullRequests(ctx context.Context, owner, repo string, prs []domain.PullRequest) error
	SaveIssues(ctx context.Context, owner, repo string, issues []domain.Issue) error
	LoadPullRequests(ctx context.Context, owner, repo string, maxAge time.Duration) ([]domain.PullRequest, error)
	LoadIssues(ctx context.Context, owner, repo string, maxAge time.Duration) ([]domain.Issue, error)
	PullRequestCacheInfo(ctx context.Context, owner, repo string) (*domain.CacheInfo, error)
	IssueCacheInfo(ctx context.Context, owner, repo string) (*domain.CacheInfo, error)
	Token(ctx context.Context, owner, repo string) (*domain.ConditionalToken, error)
	SaveToken(ctx context.Context, owner, repo string, token *domain.ConditionalToken) error
	SaveStat(ctx context.Context, owner, repo, statType, statKey string, value interface{}) error
	LoadStat(ctx context.Context, owner, repo, statType, statKey string, maxAge time.Duration, dest interface{}) (bool, error)
	Clear(ctx context.Context, owner, repo string) (int64, error)
}

// RefreshStatus classifies the outcome of one repository refresh.
type RefreshStatus string

const (
	StatusUpdated   RefreshStatus = "updated"
	StatusUnchanged RefreshStatus = "unchanged"
	StatusEmpty     RefreshStatus = "empty"
	StatusError     RefreshStatus = "error"
)

// RefreshResult is the per-repository outcome of a refresh pass.
type RefreshResult struct {
	Owner  string        `json:"owner"`
	Repo   string        `json:"repo"`
	Status RefreshStatus `json:"status"`
	Count  int           `json:"count"`
	Err    error         `json:"-"`
}

// Freshness reports how current the cached snapshots are.
type Freshness struct {
	PullRequests *domain.CacheInfo        `json:"pull_requests"`
	Issues       *domain.CacheInfo        `json:"issues"`
	Token        *domain.ConditionalToken `json:"token,omitempty"`
}

// Service orchestrates fetching, caching and metric computation. Cached
// records survive API failures, so readers keep working on stale data.
type Service struct {
	fetcher    gateway.Fetcher
	store      Store
	logger     *log.Logger
	staleHours float64
	statTTL    time.Duration
	now        func() time.Time
}

// NewService creates a new Service instance. staleHours tunes the blocker
// inference and statTTL the aggregated-stat memoization window.
func NewService(fetcher gateway.Fetcher, store Store, logger *log.Logger, staleHours float64, statTTL time.Duration) *Service {
	if staleHours <= 0 {
		staleHours = metrics.DefaultStaleHours
	}
	return &Service{
		fetcher:    fetcher,
		store:      store,
		logger:     logger,
		staleHours: staleHours,
		statTTL:    statTTL,
		now:        time.Now,
	}
}

func (s *Service) cutoff(days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return s.now().AddDate(0, 0, -days)
}

// RefreshRepository fetches one repository and updates the cache. Unless
// force is set, the stored conditional token is offered to the API so an
// unchanged repository costs a single cheap request.
func (s *Service) RefreshRepository(ctx context.Context, owner, repo string, days int, force bool) RefreshResult {
	result := RefreshResult{Owner: owner, Repo: repo}

	var token *domain.ConditionalToken
	if !force {
		var err error
		token, err = s.store.Token(ctx, owner, repo)
		if err != nil {
			s.logger.Printf("token lookup failed for %s/%s, fetching unconditionally: %v", owner, repo, err)
			token = nil
		}
	}

	fetched, err := s.fetcher.FetchPullRequests(ctx, owner, repo, s.cutoff(days), token)
	if err != nil {
		result.Status = StatusError
		result.Err = err
		return result
	}
	if fetched.Token != nil {
		if err := s.store.SaveToken(ctx, owner, repo, fetched.Token); err != nil {
			s.logger.Printf("failed to save conditional token for %s/%s: %v", owner, repo, err)
		}
	}

	if !fetched.Modified {
		result.Status = StatusUnchanged
		if info, err := s.store.PullRequestCacheInfo(ctx, owner, repo); err == nil && info != nil {
			result.Count = info.Count
		}
		return result
	}
	if len(fetched.PullRequests) == 0 {
		result.Status = StatusEmpty
		return result
	}

	if err := s.store.SavePullRequests(ctx, owner, repo, fetched.PullRequests); err != nil {
		result.Status = StatusError
		result.Err = err
		return result
	}

	// Issues ride along with the refresh; a failure there degrades the
	// issue views but must not fail the whole pass.
	issues, err := s.fetcher.FetchIssues(ctx, owner, repo, s.cutoff(days))
	switch {
	case err != nil:
		s.logger.Printf("issue fetch failed for %s/%s: %v", owner, repo, err)
	case len(issues) > 0:
		if err := s.store.SaveIssues(ctx, owner, repo, issues); err != nil {
			s.logger.Printf("failed to save issues for %s/%s: %v", owner, repo, err)
		}
	}

	result.Status = StatusUpdated
	result.Count = len(fetched.PullRequests)
	return result
}

// RefreshAll refreshes every repository concurrently. Each repository gets
// its own result; one failing never aborts the others.
func (s *Service) RefreshAll(ctx context.Context, repos []domain.Repository, days int, force bool) []RefreshResult {
	results := make([]RefreshResult, len(repos))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(refreshConcurrency)
	for i, r := range repos {
		i, r := i, r
		eg.Go(func() error {
			results[i] = s.RefreshRepository(egCtx, r.Owner, r.Repo, days, force)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// PullRequests returns cached pull requests created within the last days
// (all of them when days <= 0), newest-first.
func (s *Service) PullRequests(ctx context.Context, owner, repo string, days int) ([]domain.PullRequest, error) {
	prs, err := s.store.LoadPullRequests(ctx, owner, repo, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached pull requests for %s/%s: %w", owner, repo, err)
	}
	if len(prs) == 0 {
		info, err := s.store.PullRequestCacheInfo(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, ErrNoCache
		}
		return []domain.PullRequest{}, nil
	}

	cutoff := s.cutoff(days)
	if cutoff.IsZero() {
		return prs, nil
	}
	filtered := make([]domain.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if !pr.CreatedAt.Before(cutoff) {
			filtered = append(filtered, pr)
		}
	}
	return filtered, nil
}

// Issues returns cached issues created within the last days, newest-first.
func (s *Service) Issues(ctx context.Context, owner, repo string, days int) ([]domain.Issue, error) {
	issues, err := s.store.LoadIssues(ctx, owner, repo, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached issues for %s/%s: %w", owner, repo, err)
	}
	if len(issues) == 0 {
		// Zero issues is normal for many repositories; only a repository
		// with no pull request cache either counts as never fetched.
		prInfo, err := s.store.PullRequestCacheInfo(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		issueInfo, err := s.store.IssueCacheInfo(ctx, owner, repo)
		if err != nil {
			return nil, err
		}
		if prInfo == nil && issueInfo == nil {
			return nil, ErrNoCache
		}
		return []domain.Issue{}, nil
	}

	cutoff := s.cutoff(days)
	if cutoff.IsZero() {
		return issues, nil
	}
	filtered := make([]domain.Issue, 0, len(issues))
	for _, issue := range issues {
		if !issue.CreatedAt.Before(cutoff) {
			filtered = append(filtered, issue)
		}
	}
	return filtered, nil
}

// FourKeys computes the DORA view over the window, memoized through the
// aggregated stats table under the window key.
func (s *Service) FourKeys(ctx context.Context, owner, repo string, days int) (metrics.FourKeys, error) {
	key := statKey(days)
	var fk metrics.FourKeys
	ok, err := s.store.LoadStat(ctx, owner, repo, "fourkeys", key, s.statTTL, &fk)
	if err != nil {
		s.logger.Printf("fourkeys stat lookup failed for %s/%s: %v", owner, repo, err)
	}
	if ok {
		return fk, nil
	}

	prs, err := s.PullRequests(ctx, owner, repo, days)
	if err != nil {
		return metrics.FourKeys{}, err
	}
	fk = metrics.Compute(prs)
	if err := s.store.SaveStat(ctx, owner, repo, "fourkeys", key, fk); err != nil {
		s.logger.Printf("failed to memoize fourkeys for %s/%s: %v", owner, repo, err)
	}
	return fk, nil
}

// Summary computes the aggregate pull request view, memoized like FourKeys.
func (s *Service) Summary(ctx context.Context, owner, repo string, days int) (metrics.Summary, error) {
	key := statKey(days)
	var summary metrics.Summary
	ok, err := s.store.LoadStat(ctx, owner, repo, "summary", key, s.statTTL, &summary)
	if err != nil {
		s.logger.Printf("summary stat lookup failed for %s/%s: %v", owner, repo, err)
	}
	if ok {
		return summary, nil
	}

	prs, err := s.PullRequests(ctx, owner, repo, days)
	if err != nil {
		return metrics.Summary{}, err
	}
	summary = metrics.Summarize(prs, s.staleHours)
	if err := s.store.SaveStat(ctx, owner, repo, "summary", key, summary); err != nil {
		s.logger.Printf("failed to memoize summary for %s/%s: %v", owner, repo, err)
	}
	return summary, nil
}

// Blockers counts open pull requests per inferred blocker.
func (s *Service) Blockers(ctx context.Context, owner, repo string, days int) (map[string]int, error) {
	prs, err := s.PullRequests(ctx, owner, repo, days)
	if err != nil {
		return nil, err
	}
	return metrics.CountBlockers(prs, s.staleHours), nil
}

// Actions groups open pull requests by the user whose action is required.
func (s *Service) Actions(ctx context.Context, owner, repo string, days int) (map[string][]metrics.UserAction, error) {
	prs, err := s.PullRequests(ctx, owner, repo, days)
	if err != nil {
		return nil, err
	}
	return metrics.BuildActionSummary(prs), nil
}

// Freshness reports cache coverage and the stored conditional token.
func (s *Service) Freshness(ctx context.Context, owner, repo string) (Freshness, error) {
	prInfo, err := s.store.PullRequestCacheInfo(ctx, owner, repo)
	if err != nil {
		return Freshness{}, err
	}
	issueInfo, err := s.store.IssueCacheInfo(ctx, owner, repo)
	if err != nil {
		return Freshness{}, err
	}
	token, err := s.store.Token(ctx, owner, repo)
	if err != nil {
		return Freshness{}, err
	}
	return Freshness{PullRequests: prInfo, Issues: issueInfo, Token: token}, nil
}

// ClearCache drops every cached row for one repository and returns the
// number of item rows removed.
func (s *Service) ClearCache(ctx context.Context, owner, repo string) (int64, error) {
	return s.store.Clear(ctx, owner, repo)
}

func statKey(days int) string {
	return fmt.Sprintf("%dd", days)
}
