package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

var testNow = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

// setupTestGateway creates a GitHubGateway that communicates with a mock
// HTTP server and reports a fixed wall clock.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	gateway := &GitHubGateway{
		httpClient:    server.Client(),
		graphqlClient: githubv4.NewEnterpriseClient(server.URL, server.Client()),
		endpoint:      server.URL,
		logger:        log.New(io.Discard, "", 0),
		now:           func() time.Time { return testNow },
	}
	return gateway, server
}

func prNodeJSON(number int, createdAt time.Time) string {
	return fmt.Sprintf(`{
		"number": %d, "title": "change %d", "url": "https://example.com/pr/%d",
		"state": "OPEN", "isDraft": false, "createdAt": %q,
		"author": {"login": "alice"},
		"labels": {"nodes": []}, "comments": {"totalCount": 0},
		"reviewThreads": {"totalCount": 0, "nodes": []},
		"reviewRequests": {"nodes": []}, "reviews": {"nodes": []},
		"commits": {"nodes": []}, "files": {"nodes": []},
		"projectItems": {"nodes": []}
	}`, number, number, number, createdAt.Format(time.RFC3339))
}

func prPageJSON(hasNextPage bool, endCursor string, nodes ...string) string {
	joined := ""
	for i, n := range nodes {
		if i > 0 {
			joined += ","
		}
		joined += n
	}
	return fmt.Sprintf(`{"data":{"repository":{"pullRequests":{
		"pageInfo":{"hasNextPage":%t,"endCursor":%q},
		"nodes":[%s]}}}}`, hasNextPage, endCursor, joined)
}

func TestFetchPullRequests_StopsAtCutoff(t *testing.T) {
	requests := 0
	page := prPageJSON(true, "cursor-1",
		prNodeJSON(103, testNow.AddDate(0, 0, -3)),
		prNodeJSON(105, testNow.AddDate(0, 0, -5)),
		prNodeJSON(108, testNow.AddDate(0, 0, -8)),
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, page)
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	cutoff := testNow.AddDate(0, 0, -7)
	result, err := gateway.FetchPullRequests(context.Background(), "org", "repo", cutoff, nil)
	require.NoError(t, err)

	// The third node predates the cutoff, so it is dropped and the next
	// page is never requested despite hasNextPage being true.
	assert.Equal(t, 1, requests)
	require.Len(t, result.PullRequests, 2)
	assert.Equal(t, 103, result.PullRequests[0].Number)
	assert.Equal(t, 105, result.PullRequests[1].Number)
	assert.True(t, result.Modified)
}

func TestFetchPullRequests_FollowsCursors(t *testing.T) {
	var cursors []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		cursors = append(cursors, string(body))
		if len(cursors) == 1 {
			fmt.Fprint(w, prPageJSON(true, "cursor-1", prNodeJSON(2, testNow.AddDate(0, 0, -1))))
			return
		}
		fmt.Fprint(w, prPageJSON(false, "", prNodeJSON(1, testNow.AddDate(0, 0, -2))))
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	result, err := gateway.FetchPullRequests(context.Background(), "org", "repo", time.Time{}, nil)
	require.NoError(t, err)

	require.Len(t, cursors, 2)
	assert.Contains(t, cursors[0], `"cursor":null`)
	assert.Contains(t, cursors[1], `"cursor":"cursor-1"`)
	require.Len(t, result.PullRequests, 2)
	assert.Equal(t, []int{2, 1}, []int{result.PullRequests[0].Number, result.PullRequests[1].Number})
}

func TestFetchPullRequests_NotModified(t *testing.T) {
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, `W/"abc"`, r.Header.Get("If-None-Match"))
		assert.Equal(t, "Mon, 03 Jun 2024 10:00:00 GMT", r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	token := &domain.ConditionalToken{
		ETag:         `W/"abc"`,
		LastModified: "Mon, 03 Jun 2024 10:00:00 GMT",
		CheckedAt:    testNow.Add(-2 * time.Hour),
	}
	result, err := gateway.FetchPullRequests(context.Background(), "org", "repo", time.Time{}, token)
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	assert.False(t, result.Modified)
	assert.Empty(t, result.PullRequests)
	require.NotNil(t, result.Token)
	assert.Equal(t, token.ETag, result.Token.ETag)
	assert.Equal(t, testNow, result.Token.CheckedAt)
}

func TestFetchPullRequests_CapturesValidators(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only the first page carries conditional headers back.
		w.Header().Set("ETag", `W/"fresh"`)
		w.Header().Set("Last-Modified", "Mon, 03 Jun 2024 11:00:00 GMT")
		fmt.Fprint(w, prPageJSON(false, "", prNodeJSON(1, testNow.Add(-time.Hour))))
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	result, err := gateway.FetchPullRequests(context.Background(), "org", "repo", time.Time{}, nil)
	require.NoError(t, err)

	require.NotNil(t, result.Token)
	assert.Equal(t, `W/"fresh"`, result.Token.ETag)
	assert.Equal(t, "Mon, 03 Jun 2024 11:00:00 GMT", result.Token.LastModified)
	assert.Equal(t, testNow, result.Token.CheckedAt)
}

func TestFetchPullRequests_GraphQLErrors(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[
			{"message":"Something went wrong","path":["repository","pullRequests"]},
			{"message":"Field error","path":["repository","pullRequests","nodes",0]}
		]}`)
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	_, err := gateway.FetchPullRequests(context.Background(), "org", "repo", time.Time{}, nil)
	require.Error(t, err)

	var gqlErr *GraphQLError
	require.ErrorAs(t, err, &gqlErr)
	assert.Contains(t, err.Error(), "Something went wrong(repository.pullRequests)")
	assert.Contains(t, err.Error(), "Field error(repository.pullRequests.nodes.0)")
}

func TestFetchPullRequests_RepositoryNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"repository":null}}`)
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	_, err := gateway.FetchPullRequests(context.Background(), "org", "missing", time.Time{}, nil)
	require.Error(t, err)

	var nfErr *NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "org", nfErr.Owner)
	assert.Equal(t, "missing", nfErr.Repo)
}

func TestFetchPullRequests_UnexpectedStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	_, err := gateway.FetchPullRequests(context.Background(), "org", "repo", time.Time{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestFetchIssues(t *testing.T) {
	created := testNow.AddDate(0, 0, -10)
	merged := created.Add(30 * time.Hour)
	response := fmt.Sprintf(`{"data":{"repository":{"issues":{
		"pageInfo":{"hasNextPage":false,"endCursor":""},
		"nodes":[{
			"number":7,"title":"Crash on load","url":"https://example.com/issues/7","state":"CLOSED",
			"createdAt":%q,"closedAt":%q,"updatedAt":%q,
			"author":{"login":"alice"},
			"assignees":{"nodes":[{"login":"bob"}]},
			"labels":{"nodes":[{"name":"bug"}]},
			"comments":{"totalCount":2},
			"milestone":{"title":"v1.0","dueOn":null,"state":"OPEN"},
			"projectItems":{"nodes":[{
				"project":{"title":"Roadmap"},
				"fieldValues":{"nodes":[{"name":"In Progress","field":{"name":"Status"}}]}
			}]},
			"timelineItems":{"nodes":[{
				"__typename":"ConnectedEvent",
				"createdAt":%q,
				"subject":{"number":12,"title":"fix crash","state":"MERGED","url":"https://example.com/pr/12","mergedAt":%q}
			}]}
		}]}}}}`,
		created.Format(time.RFC3339), merged.Format(time.RFC3339), merged.Format(time.RFC3339),
		created.Add(time.Hour).Format(time.RFC3339), merged.Format(time.RFC3339))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, response)
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	issues, err := gateway.FetchIssues(context.Background(), "org", "repo", time.Time{})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	issue := issues[0]
	assert.Equal(t, 7, issue.Number)
	assert.Equal(t, "CLOSED", issue.State)
	assert.Equal(t, []string{"bob"}, issue.Assignees)
	assert.Equal(t, []string{"bug"}, issue.Labels)
	require.NotNil(t, issue.Milestone)
	assert.Equal(t, "v1.0", issue.Milestone.Title)
	assert.Equal(t, []string{"Roadmap"}, issue.Projects)
	require.NotNil(t, issue.ProjectStatus)
	assert.Equal(t, "In Progress", *issue.ProjectStatus)
	require.Len(t, issue.LinkedPRs, 1)
	assert.Equal(t, 12, issue.LinkedPRs[0].Number)
	assert.Equal(t, "ConnectedEvent", issue.LinkedPRs[0].EventType)
	require.NotNil(t, issue.CycleTimeHours)
	assert.InDelta(t, 30, *issue.CycleTimeHours, 1e-9)
	require.NotNil(t, issue.FirstMergedPR)
	assert.Equal(t, 12, *issue.FirstMergedPR)
}

func TestFetchIssues_CutoffStopsPaging(t *testing.T) {
	requests := 0
	issueJSON := func(number int, createdAt time.Time) string {
		return fmt.Sprintf(`{
			"number":%d,"title":"issue","url":"https://example.com/issues/%d","state":"OPEN",
			"createdAt":%q,"closedAt":null,"updatedAt":null,
			"author":null,"assignees":{"nodes":[]},"labels":{"nodes":[]},
			"comments":{"totalCount":0},"milestone":null,
			"projectItems":{"nodes":[]},"timelineItems":{"nodes":[]}
		}`, number, number, createdAt.Format(time.RFC3339))
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprintf(w, `{"data":{"repository":{"issues":{
			"pageInfo":{"hasNextPage":true,"endCursor":"c1"},
			"nodes":[%s,%s]}}}}`,
			issueJSON(4, testNow.AddDate(0, 0, -2)),
			issueJSON(3, testNow.AddDate(0, 0, -20)))
	})
	gateway, server := setupTestGateway(t, handler)
	defer server.Close()

	issues, err := gateway.FetchIssues(context.Background(), "org", "repo", testNow.AddDate(0, 0, -7))
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	require.Len(t, issues, 1)
	assert.Equal(t, 4, issues[0].Number)
}

func TestNewGitHubGateway_RequiresToken(t *testing.T) {
	_, err := NewGitHubGateway("", "", log.New(io.Discard, "", 0))
	assert.Error(t, err)
}

func TestNormalizeEndpoint(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{"", "https://api.github.com/graphql"},
		{"  ", "https://api.github.com/graphql"},
		{"https://ghe.example.com/api", "https://ghe.example.com/api/graphql"},
		{"https://ghe.example.com/api/", "https://ghe.example.com/api/graphql"},
		{"https://ghe.example.com/api/graphql", "https://ghe.example.com/api/graphql"},
		{"https://ghe.example.com/api/graphql/", "https://ghe.example.com/api/graphql"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, normalizeEndpoint(tc.raw), "raw=%q", tc.raw)
	}
}
