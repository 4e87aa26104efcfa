package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

// Action identifies who must act next on a pull request.
type Action string

const (
	ActionAuthor       Action = "author"
	ActionReviewers    Action = "reviewers"
	ActionReadyToMerge Action = "ready_to_merge"
	ActionNone         Action = "none"
	ActionUnknown      Action = "unknown"
)

// ActionInfo is the result of DetermineActionOwner.
type ActionInfo struct {
	Action     Action   `json:"action"`
	WaitingFor []string `json:"waiting_for"`
	Reason     string   `json:"reason"`
}

// UserAction is one entry in a per-user action queue.
type UserAction struct {
	PR   domain.PullRequest `json:"pr"`
	Info ActionInfo         `json:"action_info"`
	Role string             `json:"role"`
}

// DetermineActionOwner decides who must act next on an open pull request.
// Rules apply in priority order:
//
//  1. any reviewer's latest review is CHANGES_REQUESTED -> author
//  2. unresolved review threads -> author
//  3. requested-but-silent reviewers, plus reviewers whose latest review is
//     only COMMENTED -> those reviewers
//  4. at least one approval and nobody pending -> ready to merge (author)
//  5. no reviewers requested and none ever reviewed -> author
//  6. anything else -> unknown
func DetermineActionOwner(pr domain.PullRequest) ActionInfo {
	if pr.State != domain.StateOpen {
		return ActionInfo{Action: ActionNone, WaitingFor: []string{}, Reason: fmt.Sprintf("PR is %s", pr.State)}
	}

	latest := pr.LatestReviews()
	authorWaiting := []string{}
	if pr.Author != nil {
		authorWaiting = []string{*pr.Author}
	}

	var changesBy []string
	for reviewer, state := range latest {
		if state == domain.ReviewChangesRequested {
			changesBy = append(changesBy, reviewer)
		}
	}
	if len(changesBy) > 0 {
		sort.Strings(changesBy)
		return ActionInfo{
			Action:     ActionAuthor,
			WaitingFor: authorWaiting,
			Reason:     fmt.Sprintf("changes requested (by: %s)", strings.Join(changesBy, ", ")),
		}
	}

	if pr.UnresolvedThreads > 0 {
		return ActionInfo{
			Action:     ActionAuthor,
			WaitingFor: authorWaiting,
			Reason:     fmt.Sprintf("unresolved conversations (%d)", pr.UnresolvedThreads),
		}
	}

	var waiting []string
	for _, reviewer := range pr.RequestedReviewerList {
		if _, reviewed := latest[reviewer]; !reviewed {
			waiting = append(waiting, reviewer)
		}
	}
	var commented []string
	for reviewer, state := range latest {
		if state == domain.ReviewCommented && !oneOf(reviewer, waiting...) {
			commented = append(commented, reviewer)
		}
	}
	sort.Strings(commented)
	waiting = append(waiting, commented...)
	if len(waiting) > 0 {
		return ActionInfo{
			Action:     ActionReviewers,
			WaitingFor: waiting,
			Reason:     fmt.Sprintf("waiting for review (%d reviewers)", len(waiting)),
		}
	}

	approvals := 0
	for _, state := range latest {
		if state == domain.ReviewApproved {
			approvals++
		}
	}
	if approvals > 0 {
		return ActionInfo{
			Action:     ActionReadyToMerge,
			WaitingFor: authorWaiting,
			Reason:     fmt.Sprintf("ready to merge (%d approvals)", approvals),
		}
	}

	if len(pr.RequestedReviewerList) == 0 && len(latest) == 0 {
		return ActionInfo{
			Action:     ActionAuthor,
			WaitingFor: authorWaiting,
			Reason:     "no review requested",
		}
	}

	return ActionInfo{Action: ActionUnknown, WaitingFor: []string{}, Reason: "unclassified state"}
}

// BuildActionSummary groups open pull requests by the user whose action is
// required, tagging each entry with the user's role on that PR.
func BuildActionSummary(prs []domain.PullRequest) map[string][]UserAction {
	summary := make(map[string][]UserAction)
	for _, pr := range prs {
		if pr.State != domain.StateOpen {
			continue
		}
		info := DetermineActionOwner(pr)
		for _, user := range info.WaitingFor {
			role := "reviewer"
			if user == pr.AuthorLogin() {
				role = "author"
			}
			summary[user] = append(summary[user], UserAction{PR: pr, Info: info, Role: role})
		}
	}
	return summary
}
