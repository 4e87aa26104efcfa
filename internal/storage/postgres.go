// Package storage persists fetched snapshots and derived stats in Postgres.
// Records are stored as JSONB keyed by (owner, repo, number) so a re-fetch
// replaces items in place without growing the tables.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

// Store is a Postgres-backed cache for pull requests, issues, conditional
// tokens and aggregated stats.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

// Open connects to the database, verifies the connection and applies any
// pending migrations.
func Open(databaseURL string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an existing connection without running migrations.
func NewStore(db *sql.DB, logger *log.Logger) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SavePullRequests upserts the given snapshots in one transaction. The
// fetched_at stamp is shared across the batch.
func (s *Store) SavePullRequests(ctx context.Context, owner, repo string, prs []domain.PullRequest) error {
	return s.saveItems(ctx, owner, repo, "pr_cache", "pr_number", len(prs), func(i int) (int, []byte, error) {
		data, err := json.Marshal(prs[i])
		return prs[i].Number, data, err
	})
}

// SaveIssues upserts the given issue snapshots in one transaction.
func (s *Store) SaveIssues(ctx context.Context, owner, repo string, issues []domain.Issue) error {
	return s.saveItems(ctx, owner, repo, "issue_cache", "issue_number", len(issues), func(i int) (int, []byte, error) {
		data, err := json.Marshal(issues[i])
		return issues[i].Number, data, err
	})
}

func (s *Store) saveItems(ctx context.Context, owner, repo, table, numberCol string, count int, item func(i int) (int, []byte, error)) error {
	if count == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (owner, repo, %s, data, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner, repo, %s)
		DO UPDATE SET data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at`,
		table, numberCol, numberCol)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert for %s: %w", table, err)
	}
	defer stmt.Close()

	fetchedAt := s.now()
	for i := 0; i < count; i++ {
		number, data, err := item(i)
		if err != nil {
			return fmt.Errorf("failed to encode item %d for %s: %w", number, table, err)
		}
		if _, err := stmt.ExecContext(ctx, owner, repo, number, data, fetchedAt); err != nil {
			return fmt.Errorf("failed to upsert item %d into %s: %w", number, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", table, err)
	}
	s.logger.Printf("saved %d rows into %s for %s/%s", count, table, owner, repo)
	return nil
}

// LoadPullRequests returns cached snapshots newest-first. A positive maxAge
// drops rows fetched earlier than now-maxAge; zero or negative loads all.
func (s *Store) LoadPullRequests(ctx context.Context, owner, repo string, maxAge time.Duration) ([]domain.PullRequest, error) {
	rows, err := s.loadRows(ctx, owner, repo, "pr_cache", "pr_number", maxAge)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []domain.PullRequest
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan pr_cache row: %w", err)
		}
		var pr domain.PullRequest
		if err := json.Unmarshal(data, &pr); err != nil {
			return nil, fmt.Errorf("failed to decode cached pull request: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

// LoadIssues returns cached issue snapshots newest-first.
func (s *Store) LoadIssues(ctx context.Context, owner, repo string, maxAge time.Duration) ([]domain.Issue, error) {
	rows, err := s.loadRows(ctx, owner, repo, "issue_cache", "issue_number", maxAge)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []domain.Issue
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan issue_cache row: %w", err)
		}
		var issue domain.Issue
		if err := json.Unmarshal(data, &issue); err != nil {
			return nil, fmt.Errorf("failed to decode cached issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *Store) loadRows(ctx context.Context, owner, repo, table, numberCol string, maxAge time.Duration) (*sql.Rows, error) {
	if maxAge > 0 {
		query := fmt.Sprintf(
			"SELECT data FROM %s WHERE owner = $1 AND repo = $2 AND fetched_at >= $3 ORDER BY %s DESC",
			table, numberCol)
		return s.db.QueryContext(ctx, query, owner, repo, s.now().Add(-maxAge))
	}
	query := fmt.Sprintf(
		"SELECT data FROM %s WHERE owner = $1 AND repo = $2 ORDER BY %s DESC",
		table, numberCol)
	return s.db.QueryContext(ctx, query, owner, repo)
}

// PullRequestCacheInfo reports cache coverage for one repository. A nil
// result means the repository has never been fetched.
func (s *Store) PullRequestCacheInfo(ctx context.Context, owner, repo string) (*domain.CacheInfo, error) {
	return s.cacheInfo(ctx, owner, repo, "pr_cache")
}

// IssueCacheInfo is PullRequestCacheInfo for the issue cache.
func (s *Store) IssueCacheInfo(ctx context.Context, owner, repo string) (*domain.CacheInfo, error) {
	return s.cacheInfo(ctx, owner, repo, "issue_cache")
}

func (s *Store) cacheInfo(ctx context.Context, owner, repo, table string) (*domain.CacheInfo, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*), MAX(fetched_at), MIN(fetched_at) FROM %s WHERE owner = $1 AND repo = $2", table)
	var count int
	var latest, oldest sql.NullTime
	err := s.db.QueryRowContext(ctx, query, owner, repo).Scan(&count, &latest, &oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s info: %w", table, err)
	}
	if count == 0 {
		return nil, nil
	}
	return &domain.CacheInfo{
		Count:       count,
		LatestFetch: latest.Time,
		OldestFetch: oldest.Time,
	}, nil
}

// Token returns the stored conditional token for a repository, or nil when
// none was recorded yet.
func (s *Store) Token(ctx context.Context, owner, repo string) (*domain.ConditionalToken, error) {
	var token domain.ConditionalToken
	err := s.db.QueryRowContext(ctx,
		"SELECT etag, last_modified, checked_at FROM etag_cache WHERE owner = $1 AND repo = $2",
		owner, repo,
	).Scan(&token.ETag, &token.LastModified, &token.CheckedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query etag_cache: %w", err)
	}
	return &token, nil
}

// SaveToken upserts the conditional token for a repository.
func (s *Store) SaveToken(ctx context.Context, owner, repo string, token *domain.ConditionalToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO etag_cache (owner, repo, etag, last_modified, checked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner, repo)
		DO UPDATE SET etag = EXCLUDED.etag, last_modified = EXCLUDED.last_modified, checked_at = EXCLUDED.checked_at`,
		owner, repo, token.ETag, token.LastModified, token.CheckedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert etag_cache: %w", err)
	}
	return nil
}

// SaveStat memoizes a computed stat as JSON under (statType, statKey).
func (s *Store) SaveStat(ctx context.Context, owner, repo, statType, statKey string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode stat %s/%s: %w", statType, statKey, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aggregated_stats (owner, repo, stat_type, stat_key, data, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner, repo, stat_type, stat_key)
		DO UPDATE SET data = EXCLUDED.data, computed_at = EXCLUDED.computed_at`,
		owner, repo, statType, statKey, data, s.now())
	if err != nil {
		return fmt.Errorf("failed to upsert aggregated_stats: %w", err)
	}
	return nil
}

// LoadStat decodes a memoized stat into dest. It reports false when the stat
// is missing or older than maxAge (a non-positive maxAge never expires).
func (s *Store) LoadStat(ctx context.Context, owner, repo, statType, statKey string, maxAge time.Duration, dest interface{}) (bool, error) {
	var data []byte
	var computedAt time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT data, computed_at FROM aggregated_stats WHERE owner = $1 AND repo = $2 AND stat_type = $3 AND stat_key = $4",
		owner, repo, statType, statKey,
	).Scan(&data, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query aggregated_stats: %w", err)
	}
	if maxAge > 0 && computedAt.Before(s.now().Add(-maxAge)) {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode stat %s/%s: %w", statType, statKey, err)
	}
	return true, nil
}

// Clear removes every cached row for a repository, tokens and stats
// included, and returns the number of item rows deleted.
func (s *Store) Clear(ctx context.Context, owner, repo string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var deleted int64
	for _, table := range []string{"pr_cache", "issue_cache"} {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE owner = $1 AND repo = $2", table), owner, repo)
		if err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count deleted rows in %s: %w", table, err)
		}
		deleted += n
	}
	for _, table := range []string{"etag_cache", "aggregated_stats"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE owner = $1 AND repo = $2", table), owner, repo); err != nil {
			return 0, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit clear: %w", err)
	}
	s.logger.Printf("cleared %d cached items for %s/%s", deleted, owner, repo)
	return deleted, nil
}
