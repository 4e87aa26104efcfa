// Package export writes the dashboard read models as static JSON documents
// so the pages can be hosted without a running server.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
	"github.com/naka-gawa/pr-dashboard/internal/metrics"
	"github.com/naka-gawa/pr-dashboard/internal/usecase"
)

// Source is the read surface the exporter consumes.
type Source interface {
	PullRequests(ctx context.Context, owner, repo string, days int) ([]domain.PullRequest, error)
	Issues(ctx context.Context, owner, repo string, days int) ([]domain.Issue, error)
	Freshness(ctx context.Context, owner, repo string) (usecase.Freshness, error)
}

// Exporter writes one directory of JSON documents per run.
type Exporter struct {
	source     Source
	repos      []domain.Repository
	staleHours float64
	logger     *log.Logger
	now        func() time.Time
}

func NewExporter(source Source, repos []domain.Repository, staleHours float64, logger *log.Logger) *Exporter {
	if staleHours <= 0 {
		staleHours = metrics.DefaultStaleHours
	}
	return &Exporter{
		source:     source,
		repos:      repos,
		staleHours: staleHours,
		logger:     logger,
		now:        time.Now,
	}
}

// repoPullRequest annotates a snapshot with its origin so the combined
// documents stay filterable per repository.
type repoPullRequest struct {
	domain.PullRequest
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

type repoIssue struct {
	domain.Issue
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// Export writes config.json, prs.json, issues.json, cache_info.json,
// analytics.json and fourkeys.json into dir. Repositories that were never
// fetched are skipped with a warning rather than failing the run.
func (e *Exporter) Export(ctx context.Context, dir string, days int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	generated := e.now().UTC()

	var allPRs []repoPullRequest
	var allIssues []repoIssue
	type repoInfo struct {
		Owner     string     `json:"owner"`
		Repo      string     `json:"repo"`
		Count     int        `json:"count"`
		LastFetch *time.Time `json:"lastFetch"`
	}
	var infos []repoInfo

	for _, repo := range e.repos {
		prs, err := e.source.PullRequests(ctx, repo.Owner, repo.Repo, days)
		if errors.Is(err, usecase.ErrNoCache) {
			e.logger.Printf("skipping %s/%s: never fetched", repo.Owner, repo.Repo)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load pull requests for %s/%s: %w", repo.Owner, repo.Repo, err)
		}
		for _, pr := range prs {
			allPRs = append(allPRs, repoPullRequest{PullRequest: pr, Owner: repo.Owner, Repo: repo.Repo})
		}

		issues, err := e.source.Issues(ctx, repo.Owner, repo.Repo, days)
		if err != nil && !errors.Is(err, usecase.ErrNoCache) {
			return fmt.Errorf("failed to load issues for %s/%s: %w", repo.Owner, repo.Repo, err)
		}
		for _, issue := range issues {
			allIssues = append(allIssues, repoIssue{Issue: issue, Owner: repo.Owner, Repo: repo.Repo})
		}

		fresh, err := e.source.Freshness(ctx, repo.Owner, repo.Repo)
		if err != nil {
			return fmt.Errorf("failed to load freshness for %s/%s: %w", repo.Owner, repo.Repo, err)
		}
		info := repoInfo{Owner: repo.Owner, Repo: repo.Repo}
		if fresh.PullRequests != nil {
			info.Count = fresh.PullRequests.Count
			last := fresh.PullRequests.LatestFetch
			info.LastFetch = &last
		}
		infos = append(infos, info)
		e.logger.Printf("collected %d pull requests and %d issues from %s/%s", len(prs), len(issues), repo.Owner, repo.Repo)
	}

	if allPRs == nil {
		allPRs = []repoPullRequest{}
	}
	if allIssues == nil {
		allIssues = []repoIssue{}
	}
	if infos == nil {
		infos = []repoInfo{}
	}

	plain := make([]domain.PullRequest, 0, len(allPRs))
	for _, pr := range allPRs {
		plain = append(plain, pr.PullRequest)
	}

	docs := map[string]interface{}{
		"config.json": map[string]interface{}{
			"repositories":     e.repos,
			"primaryRepoIndex": 0,
			"lastGenerated":    generated,
			"version":          "1.0.0",
		},
		"prs.json":    allPRs,
		"issues.json": allIssues,
		"cache_info.json": map[string]interface{}{
			"lastUpdate":     generated,
			"totalPRs":       len(allPRs),
			"repositories":   len(e.repos),
			"repositoryInfo": infos,
		},
		"analytics.json": map[string]interface{}{
			"generated": generated,
			"summary":   metrics.Summarize(plain, e.staleHours),
		},
		"fourkeys.json": map[string]interface{}{
			"generated": generated,
			"metrics":   metrics.Compute(plain),
		},
	}
	for name, doc := range docs {
		if err := writeDoc(dir, name, doc); err != nil {
			return err
		}
	}
	e.logger.Printf("exported %d documents to %s", len(docs), dir)
	return nil
}

func writeDoc(dir, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
