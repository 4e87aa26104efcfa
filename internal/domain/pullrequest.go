// Package domain contains the core data structures for the dashboard.
// JSON field names follow the upstream GraphQL contract because cached
// snapshots and static exports are consumed by the presentation layer as-is.
package domain

import (
	"sort"
	"time"
)

// PullRequestState is the lifecycle state reported by GitHub.
type PullRequestState string

const (
	StateOpen   PullRequestState = "OPEN"
	StateClosed PullRequestState = "CLOSED"
	StateMerged PullRequestState = "MERGED"
)

// ReviewState is the outcome of a single review submission.
type ReviewState string

const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewCommented        ReviewState = "COMMENTED"
	ReviewDismissed        ReviewState = "DISMISSED"
	ReviewPending          ReviewState = "PENDING"
)

// Review is one review submission. A reviewer may submit many over time;
// the current state per reviewer is resolved by LatestReviews.
type Review struct {
	State     ReviewState `json:"state"`
	Author    *string     `json:"author"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ThreadComment is a single non-minimized comment inside a review thread.
type ThreadComment struct {
	Author    *string   `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReviewThread is a conversation attached to a diff location.
type ReviewThread struct {
	IsResolved    bool            `json:"isResolved"`
	IsOutdated    bool            `json:"isOutdated"`
	ResolvedBy    *string         `json:"resolvedBy"`
	Comments      []ThreadComment `json:"comments"`
	TotalComments int             `json:"totalComments"`
}

// PullRequest is a flat snapshot of one pull request. Records are immutable
// once cached; a re-fetch replaces the whole record (upsert by number).
//
// Invariant: StateMerged implies MergedAt != nil, StateClosed implies
// ClosedAt != nil, StateOpen implies both nil.
type PullRequest struct {
	Number                int              `json:"number"`
	Title                 string           `json:"title"`
	URL                   string           `json:"url"`
	State                 PullRequestState `json:"state"`
	IsDraft               bool             `json:"isDraft"`
	ReviewDecision        *string          `json:"reviewDecision"`
	Mergeable             *string          `json:"mergeable"`
	MergeStateStatus      *string          `json:"mergeStateStatus"`
	ChecksState           *string          `json:"checks_state"`
	RequestedReviewers    int              `json:"requested_reviewers"`
	RequestedReviewerList []string         `json:"requested_reviewers_list"`
	Reviews               []Review         `json:"review_details"`
	UnresolvedThreads     int              `json:"unresolved_threads"`
	Threads               []ReviewThread   `json:"thread_details"`
	Author                *string          `json:"author"`
	CreatedAt             time.Time        `json:"createdAt"`
	ClosedAt              *time.Time       `json:"closedAt"`
	MergedAt              *time.Time       `json:"mergedAt"`
	AgeHours              float64          `json:"age_hours"`
	Labels                []string         `json:"labels"`
	CommentsCount         int              `json:"comments_count"`
	ReviewThreads         int              `json:"review_threads"`
	ChangesRequested      int              `json:"changes_requested"`
	Approvals             int              `json:"approvals"`
	Additions             int              `json:"additions"`
	Deletions             int              `json:"deletions"`
	ChangedFiles          int              `json:"changedFiles"`
	Files                 []string         `json:"files"`
	Projects              []string         `json:"projects"`
	BaseRefName           *string          `json:"baseRefName"`
	HeadRefName           *string          `json:"headRefName"`
}

// AuthorLogin returns the author handle, or "" for deleted accounts.
func (pr PullRequest) AuthorLogin() string {
	if pr.Author == nil {
		return ""
	}
	return *pr.Author
}

// LatestReviews resolves each reviewer's current review state: all their
// submissions are scanned in timestamp-descending order and the first one
// wins. Reviews without an author are skipped.
func (pr PullRequest) LatestReviews() map[string]ReviewState {
	sorted := make([]Review, len(pr.Reviews))
	copy(sorted, pr.Reviews)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	latest := make(map[string]ReviewState)
	for _, rv := range sorted {
		if rv.Author == nil {
			continue
		}
		if _, seen := latest[*rv.Author]; !seen {
			latest[*rv.Author] = rv.State
		}
	}
	return latest
}
