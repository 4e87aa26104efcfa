// Package gateway talks to the GitHub GraphQL API, abstracting pagination,
// rate limiting and conditional requests away from the callers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

const (
	defaultEndpoint = "https://api.github.com/graphql"

	// maxPages bounds a single fetch; at 30 nodes per page this covers
	// the 1500 most recent items, which is plenty for the default window.
	maxPages = 50
)

// FetchResult is the outcome of one pull request fetch. Modified is false
// when the server answered 304 Not Modified; PullRequests is empty then and
// the caller should keep serving its cached snapshots.
type FetchResult struct {
	PullRequests []domain.PullRequest
	Token        *domain.ConditionalToken
	Modified     bool
}

// Fetcher defines the behavior of a gateway for fetching repository data
// from GitHub.
type Fetcher interface {
	FetchPullRequests(ctx context.Context, owner, repo string, cutoff time.Time, token *domain.ConditionalToken) (FetchResult, error)
	FetchIssues(ctx context.Context, owner, repo string, cutoff time.Time) ([]domain.Issue, error)
}

// NotFoundError reports a repository the API cannot resolve, either because
// it does not exist or because the token cannot see it.
type NotFoundError struct {
	Owner string
	Repo  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("repository not found or inaccessible: %s/%s", e.Owner, e.Repo)
}

// GraphQLError aggregates the errors array of a GraphQL response. Each
// message carries its dotted result path when the API provides one.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql errors: " + strings.Join(e.Messages, " | ")
}

type graphQLErrorNode struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path"`
}

func newGraphQLError(errs []graphQLErrorNode) *GraphQLError {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		parts := make([]string, 0, len(e.Path))
		for _, p := range e.Path {
			parts = append(parts, fmt.Sprint(p))
		}
		msgs = append(msgs, fmt.Sprintf("%s(%s)", e.Message, strings.Join(parts, ".")))
	}
	return &GraphQLError{Messages: msgs}
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
// Pull requests go through a raw GraphQL POST so the response headers are
// available for conditional requests; issues use the typed client.
type GitHubGateway struct {
	httpClient    *http.Client
	graphqlClient *githubv4.Client
	endpoint      string
	logger        *log.Logger
	now           func() time.Time
}

// NewGitHubGateway is a constructor that creates a new instance of
// GitHubGateway. An empty endpoint selects the public API.
func NewGitHubGateway(token, endpoint string, logger *log.Logger) (Fetcher, error) {
	if token == "" {
		return nil, errors.New("github token is not set")
	}
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &rateLimitTransport{
			base: &retryTransport{
				base: &oauth2.Transport{
					Base:   rateLimitWaiter,
					Source: ts,
				},
				logger: logger,
			},
			logger: logger,
			now:    time.Now,
			sleep:  time.Sleep,
		},
	}

	resolved := normalizeEndpoint(endpoint)
	var graphqlClient *githubv4.Client
	if resolved == defaultEndpoint {
		graphqlClient = githubv4.NewClient(httpClient)
	} else {
		graphqlClient = githubv4.NewEnterpriseClient(resolved, httpClient)
	}
	return &GitHubGateway{
		httpClient:    httpClient,
		graphqlClient: graphqlClient,
		endpoint:      resolved,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// normalizeEndpoint resolves the GraphQL endpoint from a configured base
// URL. Trailing slashes are stripped and a missing /graphql path appended so
// both "https://ghe.example.com/api" and the full URL work.
func normalizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultEndpoint
	}
	base := strings.TrimRight(raw, "/")
	if !strings.HasSuffix(base, "graphql") {
		base += "/graphql"
	}
	return base
}

type prResponse struct {
	Data struct {
		Repository *struct {
			PullRequests struct {
				PageInfo pageInfo `json:"pageInfo"`
				Nodes    []prNode `json:"nodes"`
			} `json:"pullRequests"`
		} `json:"repository"`
	} `json:"data"`
	Errors []graphQLErrorNode `json:"errors"`
}

// FetchPullRequests pages through pull requests newest-first, stopping at the
// first node created before cutoff. The conditional token, when given, is
// sent on the first page only; a 304 answer short-circuits the whole fetch.
func (g *GitHubGateway) FetchPullRequests(ctx context.Context, owner, repo string, cutoff time.Time, token *domain.ConditionalToken) (FetchResult, error) {
	g.logger.Printf("Fetching pull requests for %s/%s...", owner, repo)

	var all []domain.PullRequest
	var cursor *string
	var newToken *domain.ConditionalToken

	for pages := 0; pages < maxPages; pages++ {
		var cond *domain.ConditionalToken
		if pages == 0 {
			cond = token
		}
		resp, err := g.post(ctx, pullRequestQuery, owner, repo, cursor, cond)
		if err != nil {
			return FetchResult{}, fmt.Errorf("failed to query pull requests for %s/%s: %w", owner, repo, err)
		}

		if pages == 0 {
			if resp.StatusCode == http.StatusNotModified {
				drainAndClose(resp)
				g.logger.Printf("  %s/%s not modified since last fetch", owner, repo)
				refreshed := *token
				refreshed.CheckedAt = g.now()
				return FetchResult{Token: &refreshed, Modified: false}, nil
			}
			etag := resp.Header.Get("ETag")
			lastModified := resp.Header.Get("Last-Modified")
			if etag != "" || lastModified != "" {
				newToken = &domain.ConditionalToken{
					ETag:         etag,
					LastModified: lastModified,
					CheckedAt:    g.now(),
				}
			}
		}

		if resp.StatusCode != http.StatusOK {
			drainAndClose(resp)
			return FetchResult{}, fmt.Errorf("pull request query for %s/%s returned status %d", owner, repo, resp.StatusCode)
		}

		var parsed prResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		drainAndClose(resp)
		if err != nil {
			return FetchResult{}, fmt.Errorf("failed to decode pull request response: %w", err)
		}
		if len(parsed.Errors) > 0 {
			return FetchResult{}, newGraphQLError(parsed.Errors)
		}
		if parsed.Data.Repository == nil {
			return FetchResult{}, &NotFoundError{Owner: owner, Repo: repo}
		}

		prs := parsed.Data.Repository.PullRequests
		quitEarly := false
		for _, node := range prs.Nodes {
			if !cutoff.IsZero() && node.CreatedAt.Before(cutoff) {
				quitEarly = true
				break
			}
			all = append(all, normalizePullRequest(node, g.now()))
		}
		if quitEarly || !prs.PageInfo.HasNextPage {
			break
		}
		endCursor := prs.PageInfo.EndCursor
		cursor = &endCursor
		g.logger.Println("  Fetching next page of pull requests...")
	}

	g.logger.Printf("Completed fetching %d pull requests for %s/%s.", len(all), owner, repo)
	return FetchResult{PullRequests: all, Token: newToken, Modified: true}, nil
}

func (g *GitHubGateway) post(ctx context.Context, query, owner, repo string, cursor *string, token *domain.ConditionalToken) (*http.Response, error) {
	payload := struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}{
		Query:     query,
		Variables: map[string]interface{}{"owner": owner, "name": repo, "cursor": cursor},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != nil {
		if token.ETag != "" {
			req.Header.Set("If-None-Match", token.ETag)
		}
		if token.LastModified != "" {
			req.Header.Set("If-Modified-Since", token.LastModified)
		}
	}
	return g.httpClient.Do(req)
}

type prRefFragment struct {
	Number   githubv4.Int
	Title    githubv4.String
	State    githubv4.String
	URL      githubv4.URI
	MergedAt *githubv4.DateTime
}

type prRefSubject struct {
	PullRequest prRefFragment `graphql:"... on PullRequest"`
}

type timelineItem struct {
	Typename  string `graphql:"__typename"`
	Connected struct {
		CreatedAt githubv4.DateTime
		Subject   prRefSubject
	} `graphql:"... on ConnectedEvent"`
	Disconnected struct {
		CreatedAt githubv4.DateTime
		Subject   prRefSubject
	} `graphql:"... on DisconnectedEvent"`
	CrossReferenced struct {
		CreatedAt githubv4.DateTime
		Source    prRefSubject
	} `graphql:"... on CrossReferencedEvent"`
}

type projectFieldValue struct {
	SingleSelect struct {
		Name  githubv4.String
		Field struct {
			SingleSelectField struct {
				Name githubv4.String
			} `graphql:"... on ProjectV2SingleSelectField"`
		}
	} `graphql:"... on ProjectV2ItemFieldSingleSelectValue"`
	Text struct {
		Text  githubv4.String
		Field struct {
			Field struct {
				Name githubv4.String
			} `graphql:"... on ProjectV2Field"`
		}
	} `graphql:"... on ProjectV2ItemFieldTextValue"`
}

type issueNode struct {
	Number    githubv4.Int
	Title     githubv4.String
	URL       githubv4.URI `graphql:"url"`
	State     githubv4.String
	CreatedAt githubv4.DateTime
	ClosedAt  githubv4.DateTime
	UpdatedAt githubv4.DateTime
	Author    *struct {
		Login githubv4.String
	}
	Assignees struct {
		Nodes []struct {
			Login githubv4.String
		}
	} `graphql:"assignees(first: 10)"`
	Labels struct {
		Nodes []struct {
			Name githubv4.String
		}
	} `graphql:"labels(first: 50)"`
	Comments struct {
		TotalCount githubv4.Int
	}
	Milestone *struct {
		Title githubv4.String
		DueOn *githubv4.DateTime
		State githubv4.String
	}
	ProjectItems struct {
		Nodes []struct {
			Project struct {
				Title githubv4.String
			}
			FieldValues struct {
				Nodes []projectFieldValue
			} `graphql:"fieldValues(first: 10)"`
		}
	} `graphql:"projectItems(first: 10)"`
	TimelineItems struct {
		Nodes []timelineItem
	} `graphql:"timelineItems(first: 100, itemTypes: [CONNECTED_EVENT, DISCONNECTED_EVENT, CROSS_REFERENCED_EVENT])"`
}

type issuesQuery struct {
	Repository *struct {
		Issues struct {
			PageInfo struct {
				HasNextPage githubv4.Boolean
				EndCursor   githubv4.String
			}
			Nodes []issueNode
		} `graphql:"issues(first: 30, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}, states: [OPEN, CLOSED])"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// FetchIssues pages through issues newest-first with the same cutoff
// early-termination as pull requests. Issues have no conditional tokens; the
// GraphQL endpoint does not emit validators for this query shape.
func (g *GitHubGateway) FetchIssues(ctx context.Context, owner, repo string, cutoff time.Time) ([]domain.Issue, error) {
	g.logger.Printf("Fetching issues for %s/%s...", owner, repo)

	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"cursor": (*githubv4.String)(nil),
	}
	var all []domain.Issue

	for pages := 0; pages < maxPages; pages++ {
		var q issuesQuery
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return nil, fmt.Errorf("failed to query issues for %s/%s: %w", owner, repo, err)
		}
		if q.Repository == nil {
			return nil, &NotFoundError{Owner: owner, Repo: repo}
		}

		issues := q.Repository.Issues
		quitEarly := false
		for _, node := range issues.Nodes {
			if !cutoff.IsZero() && node.CreatedAt.Before(cutoff) {
				quitEarly = true
				break
			}
			all = append(all, normalizeIssue(node, g.now()))
		}
		if quitEarly || !bool(issues.PageInfo.HasNextPage) {
			break
		}
		variables["cursor"] = githubv4.NewString(issues.PageInfo.EndCursor)
		g.logger.Println("  Fetching next page of issues...")
	}

	g.logger.Printf("Completed fetching %d issues for %s/%s.", len(all), owner, repo)
	return all, nil
}
