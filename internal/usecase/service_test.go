package usecase

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
	"github.com/naka-gawa/pr-dashboard/internal/gateway"
	"github.com/naka-gawa/pr-dashboard/internal/metrics"
)

// mockFetcher is a mock implementation of the gateway.Fetcher interface.
type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPullRequests(ctx context.Context, owner, repo string, cutoff time.Time, token *domain.ConditionalToken) (gateway.FetchResult, error) {
	args := m.Called(ctx, owner, repo, cutoff, token)
	return args.Get(0).(gateway.FetchResult), args.Error(1)
}

func (m *mockFetcher) FetchIssues(ctx context.Context, owner, repo string, cutoff time.Time) ([]domain.Issue, error) {
	args := m.Called(ctx, owner, repo, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Issue), args.Error(1)
}

// mockStore is a mock implementation of the Store interface.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) SavePullRequests(ctx context.Context, owner, repo string, prs []domain.PullRequest) error {
	return m.Called(ctx, owner, repo, prs).Error(0)
}

func (m *mockStore) SaveIssues(ctx context.Context, owner, repo string, issues []domain.Issue) error {
	return m.Called(ctx, owner, repo, issues).Error(0)
}

func (m *mockStore) LoadPullRequests(ctx context.Context, owner, repo string, maxAge time.Duration) ([]domain.PullRequest, error) {
	args := m.Called(ctx, owner, repo, maxAge)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PullRequest), args.Error(1)
}

func (m *mockStore) LoadIssues(ctx context.Context, owner, repo string, maxAge time.Duration) ([]domain.Issue, error) {
	args := m.Called(ctx, owner, repo, maxAge)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Issue), args.Error(1)
}

func (m *mockStore) PullRequestCacheInfo(ctx context.Context, owner, repo string) (*domain.CacheInfo, error) {
	args := m.Called(ctx, owner, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CacheInfo), args.Error(1)
}

func (m *mockStore) IssueCacheInfo(ctx context.Context, owner, repo string) (*domain.CacheInfo, error) {
	args := m.Called(ctx, owner, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CacheInfo), args.Error(1)
}

func (m *mockStore) Token(ctx context.Context, owner, repo string) (*domain.ConditionalToken, error) {
	args := m.Called(ctx, owner, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConditionalToken), args.Error(1)
}

func (m *mockStore) SaveToken(ctx context.Context, owner, repo string, token *domain.ConditionalToken) error {
	return m.Called(ctx, owner, repo, token).Error(0)
}

func (m *mockStore) SaveStat(ctx context.Context, owner, repo, statType, statKey string, value interface{}) error {
	return m.Called(ctx, owner, repo, statType, statKey, value).Error(0)
}

func (m *mockStore) LoadStat(ctx context.Context, owner, repo, statType, statKey string, maxAge time.Duration, dest interface{}) (bool, error) {
	args := m.Called(ctx, owner, repo, statType, statKey, maxAge, dest)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Clear(ctx context.Context, owner, repo string) (int64, error) {
	args := m.Called(ctx, owner, repo)
	return args.Get(0).(int64), args.Error(1)
}

func newTestService(fetcher *mockFetcher, store *mockStore) *Service {
	return NewService(fetcher, store, log.New(io.Discard, "", 0), metrics.DefaultStaleHours, time.Hour)
}

func openPR(number int, createdAt time.Time) domain.PullRequest {
	return domain.PullRequest{Number: number, State: domain.StateOpen, CreatedAt: createdAt}
}

func TestRefreshRepository_Updated(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	now := time.Now()
	prs := []domain.PullRequest{openPR(2, now), openPR(1, now)}
	issues := []domain.Issue{{Number: 3}}
	token := &domain.ConditionalToken{ETag: `W/"x"`, CheckedAt: now}

	store.On("Token", mock.Anything, "org", "repo").Return(nil, nil)
	fetcher.On("FetchPullRequests", mock.Anything, "org", "repo", mock.Anything, (*domain.ConditionalToken)(nil)).
		Return(gateway.FetchResult{PullRequests: prs, Token: token, Modified: true}, nil)
	store.On("SaveToken", mock.Anything, "org", "repo", token).Return(nil)
	store.On("SavePullRequests", mock.Anything, "org", "repo", prs).Return(nil)
	fetcher.On("FetchIssues", mock.Anything, "org", "repo", mock.Anything).Return(issues, nil)
	store.On("SaveIssues", mock.Anything, "org", "repo", issues).Return(nil)

	result := svc.RefreshRepository(context.Background(), "org", "repo", 30, false)

	assert.Equal(t, StatusUpdated, result.Status)
	assert.Equal(t, 2, result.Count)
	assert.NoError(t, result.Err)
	store.AssertExpectations(t)
	fetcher.AssertExpectations(t)
}

func TestRefreshRepository_NotModified(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	stored := &domain.ConditionalToken{ETag: `W/"x"`}
	refreshed := &domain.ConditionalToken{ETag: `W/"x"`, CheckedAt: time.Now()}

	store.On("Token", mock.Anything, "org", "repo").Return(stored, nil)
	fetcher.On("FetchPullRequests", mock.Anything, "org", "repo", mock.Anything, stored).
		Return(gateway.FetchResult{Token: refreshed, Modified: false}, nil)
	store.On("SaveToken", mock.Anything, "org", "repo", refreshed).Return(nil)
	store.On("PullRequestCacheInfo", mock.Anything, "org", "repo").
		Return(&domain.CacheInfo{Count: 17}, nil)

	result := svc.RefreshRepository(context.Background(), "org", "repo", 30, false)

	assert.Equal(t, StatusUnchanged, result.Status)
	assert.Equal(t, 17, result.Count)
	store.AssertNotCalled(t, "SavePullRequests", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	fetcher.AssertNotCalled(t, "FetchIssues", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshRepository_Empty(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	store.On("Token", mock.Anything, "org", "repo").Return(nil, nil)
	fetcher.On("FetchPullRequests", mock.Anything, "org", "repo", mock.Anything, (*domain.ConditionalToken)(nil)).
		Return(gateway.FetchResult{Modified: true}, nil)

	result := svc.RefreshRepository(context.Background(), "org", "repo", 30, false)

	assert.Equal(t, StatusEmpty, result.Status)
	assert.Zero(t, result.Count)
	store.AssertNotCalled(t, "SavePullRequests", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshRepository_FetchError(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	fetchErr := errors.New("github api error")
	store.On("Token", mock.Anything, "org", "repo").Return(nil, nil)
	fetcher.On("FetchPullRequests", mock.Anything, "org", "repo", mock.Anything, (*domain.ConditionalToken)(nil)).
		Return(gateway.FetchResult{}, fetchErr)

	result := svc.RefreshRepository(context.Background(), "org", "repo", 30, false)

	assert.Equal(t, StatusError, result.Status)
	assert.ErrorIs(t, result.Err, fetchErr)
}

func TestRefreshRepository_ForceSkipsToken(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	fetcher.On("FetchPullRequests", mock.Anything, "org", "repo", mock.Anything, (*domain.ConditionalToken)(nil)).
		Return(gateway.FetchResult{Modified: true}, nil)

	result := svc.RefreshRepository(context.Background(), "org", "repo", 30, true)

	assert.Equal(t, StatusEmpty, result.Status)
	store.AssertNotCalled(t, "Token", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshRepository_IssueFailureIsNotFatal(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	prs := []domain.PullRequest{openPR(1, time.Now())}
	store.On("Token", mock.Anything, "org", "repo").Return(nil, nil)
	fetcher.On("FetchPullRequests", mock.Anything, "org", "repo", mock.Anything, (*domain.ConditionalToken)(nil)).
		Return(gateway.FetchResult{PullRequests: prs, Modified: true}, nil)
	store.On("SavePullRequests", mock.Anything, "org", "repo", prs).Return(nil)
	fetcher.On("FetchIssues", mock.Anything, "org", "repo", mock.Anything).
		Return(nil, errors.New("issue query failed"))

	result := svc.RefreshRepository(context.Background(), "org", "repo", 30, false)

	assert.Equal(t, StatusUpdated, result.Status)
	assert.Equal(t, 1, result.Count)
	assert.NoError(t, result.Err)
}

func TestRefreshAll(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	repos := []domain.Repository{
		{Owner: "org", Repo: "good"},
		{Owner: "org", Repo: "bad"},
	}
	store.On("Token", mock.Anything, "org", mock.Anything).Return(nil, nil)
	fetcher.On("FetchPullRequests", mock.Anything, "org", "good", mock.Anything, (*domain.ConditionalToken)(nil)).
		Return(gateway.FetchResult{PullRequests: []domain.PullRequest{openPR(1, time.Now())}, Modified: true}, nil)
	store.On("SavePullRequests", mock.Anything, "org", "good", mock.Anything).Return(nil)
	fetcher.On("FetchIssues", mock.Anything, "org", "good", mock.Anything).Return([]domain.Issue{}, nil)
	fetcher.On("FetchPullRequests", mock.Anything, "org", "bad", mock.Anything, (*domain.ConditionalToken)(nil)).
		Return(gateway.FetchResult{}, errors.New("boom"))

	results := svc.RefreshAll(context.Background(), repos, 30, false)

	require.Len(t, results, 2)
	assert.Equal(t, "good", results[0].Repo)
	assert.Equal(t, StatusUpdated, results[0].Status)
	assert.Equal(t, "bad", results[1].Repo)
	assert.Equal(t, StatusError, results[1].Status)
}

func TestPullRequests_NoCache(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	store.On("LoadPullRequests", mock.Anything, "org", "repo", time.Duration(0)).Return(nil, nil)
	store.On("PullRequestCacheInfo", mock.Anything, "org", "repo").Return(nil, nil)

	_, err := svc.PullRequests(context.Background(), "org", "repo", 30)
	assert.ErrorIs(t, err, ErrNoCache)
}

func TestPullRequests_EmptyButFetched(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	store.On("LoadPullRequests", mock.Anything, "org", "repo", time.Duration(0)).Return(nil, nil)
	store.On("PullRequestCacheInfo", mock.Anything, "org", "repo").Return(&domain.CacheInfo{Count: 0}, nil)

	prs, err := svc.PullRequests(context.Background(), "org", "repo", 30)
	require.NoError(t, err)
	assert.Empty(t, prs)
	assert.NotNil(t, prs)
}

func TestPullRequests_FiltersByWindow(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	now := time.Now()
	cached := []domain.PullRequest{
		openPR(3, now.AddDate(0, 0, -5)),
		openPR(2, now.AddDate(0, 0, -20)),
		openPR(1, now.AddDate(0, 0, -100)),
	}
	store.On("LoadPullRequests", mock.Anything, "org", "repo", time.Duration(0)).Return(cached, nil)

	prs, err := svc.PullRequests(context.Background(), "org", "repo", 30)
	require.NoError(t, err)
	require.Len(t, prs, 2)
	assert.Equal(t, 3, prs[0].Number)
	assert.Equal(t, 2, prs[1].Number)

	all, err := svc.PullRequests(context.Background(), "org", "repo", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFourKeys_MemoizedStatSkipsRecompute(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	cached := metrics.FourKeys{MergedCount: 9, DeploymentFrequency: 3}
	store.On("LoadStat", mock.Anything, "org", "repo", "fourkeys", "30d", time.Hour, mock.Anything).
		Run(func(args mock.Arguments) {
			*(args.Get(6).(*metrics.FourKeys)) = cached
		}).
		Return(true, nil)

	fk, err := svc.FourKeys(context.Background(), "org", "repo", 30)
	require.NoError(t, err)
	assert.Equal(t, 9, fk.MergedCount)
	store.AssertNotCalled(t, "LoadPullRequests", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "SaveStat", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFourKeys_ComputesAndMemoizesOnMiss(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	now := time.Now()
	merged := now.Add(-24 * time.Hour)
	prs := []domain.PullRequest{{
		Number: 1, State: domain.StateMerged, Title: "feature",
		CreatedAt: merged.Add(-48 * time.Hour), MergedAt: &merged,
	}}
	store.On("LoadStat", mock.Anything, "org", "repo", "fourkeys", "30d", time.Hour, mock.Anything).
		Return(false, nil)
	store.On("LoadPullRequests", mock.Anything, "org", "repo", time.Duration(0)).Return(prs, nil)
	store.On("SaveStat", mock.Anything, "org", "repo", "fourkeys", "30d", mock.Anything).Return(nil)

	fk, err := svc.FourKeys(context.Background(), "org", "repo", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, fk.MergedCount)
	store.AssertExpectations(t)
}

func TestSummary_NoCachePropagates(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	store.On("LoadStat", mock.Anything, "org", "repo", "summary", "30d", time.Hour, mock.Anything).
		Return(false, nil)
	store.On("LoadPullRequests", mock.Anything, "org", "repo", time.Duration(0)).Return(nil, nil)
	store.On("PullRequestCacheInfo", mock.Anything, "org", "repo").Return(nil, nil)

	_, err := svc.Summary(context.Background(), "org", "repo", 30)
	assert.ErrorIs(t, err, ErrNoCache)
}

func TestFreshness(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	prInfo := &domain.CacheInfo{Count: 4}
	token := &domain.ConditionalToken{ETag: `W/"x"`}
	store.On("PullRequestCacheInfo", mock.Anything, "org", "repo").Return(prInfo, nil)
	store.On("IssueCacheInfo", mock.Anything, "org", "repo").Return(nil, nil)
	store.On("Token", mock.Anything, "org", "repo").Return(token, nil)

	fresh, err := svc.Freshness(context.Background(), "org", "repo")
	require.NoError(t, err)
	assert.Equal(t, prInfo, fresh.PullRequests)
	assert.Nil(t, fresh.Issues)
	assert.Equal(t, token, fresh.Token)
}

func TestClearCache(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockStore)
	svc := newTestService(fetcher, store)

	store.On("Clear", mock.Anything, "org", "repo").Return(int64(12), nil)

	deleted, err := svc.ClearCache(context.Background(), "org", "repo")
	require.NoError(t, err)
	assert.EqualValues(t, 12, deleted)
}
