package metrics

import (
	"strings"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

// Blocker labels produced by InferBlocker.
const (
	BlockerDraft            = "Draft"
	BlockerChangesRequested = "Changes requested"
	BlockerChecksFailing    = "Checks failing"
	BlockerChecksPending    = "Checks pending"
	BlockerMergeConflict    = "Merge conflict"
	BlockerWaitingForReview = "Waiting for review"
	BlockerNoReviewer       = "No reviewer"
	BlockerReadyToMerge     = "Ready to merge"
	BlockerStale            = "Stale"
	BlockerUnknown          = "Unknown"
)

// DefaultStaleHours is the age threshold for the staleness fallback.
const DefaultStaleHours = 168.0

// InferBlocker classifies why an open pull request is not moving. Rules are
// evaluated in fixed priority order and only the first match applies, so
// definite blockers win over mere staleness. Returns "" for non-open PRs.
func InferBlocker(pr domain.PullRequest, staleHours float64) string {
	if pr.State != domain.StateOpen {
		return ""
	}
	if pr.IsDraft {
		return BlockerDraft
	}
	if strDeref(pr.ReviewDecision) == "CHANGES_REQUESTED" || pr.ChangesRequested > 0 {
		return BlockerChangesRequested
	}
	switch strings.ToUpper(strDeref(pr.ChecksState)) {
	case "FAILURE", "FAILED":
		return BlockerChecksFailing
	case "PENDING", "EXPECTED":
		return BlockerChecksPending
	}
	if strDeref(pr.Mergeable) == "CONFLICTING" || oneOf(strDeref(pr.MergeStateStatus), "DIRTY", "BEHIND", "BLOCKED") {
		return BlockerMergeConflict
	}
	if strDeref(pr.ReviewDecision) == "REVIEW_REQUIRED" {
		if pr.RequestedReviewers > 0 {
			return BlockerWaitingForReview
		}
		return BlockerNoReviewer
	}
	age := pr.AgeHours
	if strDeref(pr.Mergeable) == "MERGEABLE" || oneOf(strDeref(pr.MergeStateStatus), "CLEAN", "UNSTABLE", "HAS_HOOKS") {
		if age < staleHours {
			return BlockerReadyToMerge
		}
		return BlockerStale
	}
	if age >= staleHours {
		return BlockerStale
	}
	return BlockerUnknown
}

// CountBlockers tallies blocker labels across the open subset of prs.
func CountBlockers(prs []domain.PullRequest, staleHours float64) map[string]int {
	counts := make(map[string]int)
	for _, pr := range prs {
		if b := InferBlocker(pr, staleHours); b != "" {
			counts[b]++
		}
	}
	return counts
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func oneOf(s string, values ...string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}
