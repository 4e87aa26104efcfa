package gateway

import (
	"strings"
	"time"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

type actorNode struct {
	Login string `json:"login"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// prNode mirrors one pull request node of pullRequestQuery.
type prNode struct {
	Number           int        `json:"number"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	State            string     `json:"state"`
	IsDraft          bool       `json:"isDraft"`
	CreatedAt        time.Time  `json:"createdAt"`
	ClosedAt         *time.Time `json:"closedAt"`
	MergedAt         *time.Time `json:"mergedAt"`
	Author           *actorNode `json:"author"`
	BaseRefName      *string    `json:"baseRefName"`
	HeadRefName      *string    `json:"headRefName"`
	Additions        int        `json:"additions"`
	Deletions        int        `json:"deletions"`
	ChangedFiles     int        `json:"changedFiles"`
	ReviewDecision   *string    `json:"reviewDecision"`
	Mergeable        *string    `json:"mergeable"`
	MergeStateStatus *string    `json:"mergeStateStatus"`
	Labels           struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Comments struct {
		TotalCount int `json:"totalCount"`
	} `json:"comments"`
	ReviewThreads struct {
		TotalCount int `json:"totalCount"`
		Nodes      []struct {
			IsResolved bool       `json:"isResolved"`
			IsOutdated bool       `json:"isOutdated"`
			ResolvedBy *actorNode `json:"resolvedBy"`
			Comments   struct {
				TotalCount int `json:"totalCount"`
				Nodes      []struct {
					Author      *actorNode `json:"author"`
					Body        string     `json:"body"`
					CreatedAt   time.Time  `json:"createdAt"`
					IsMinimized bool       `json:"isMinimized"`
				} `json:"nodes"`
			} `json:"comments"`
		} `json:"nodes"`
	} `json:"reviewThreads"`
	ReviewRequests struct {
		Nodes []struct {
			RequestedReviewer *struct {
				Typename string `json:"__typename"`
				Login    string `json:"login"`
				Name     string `json:"name"`
			} `json:"requestedReviewer"`
		} `json:"nodes"`
	} `json:"reviewRequests"`
	Reviews struct {
		Nodes []struct {
			State     string     `json:"state"`
			Author    *actorNode `json:"author"`
			CreatedAt time.Time  `json:"createdAt"`
		} `json:"nodes"`
	} `json:"reviews"`
	Commits struct {
		Nodes []struct {
			Commit struct {
				StatusCheckRollup *struct {
					State string `json:"state"`
				} `json:"statusCheckRollup"`
			} `json:"commit"`
		} `json:"nodes"`
	} `json:"commits"`
	Files struct {
		Nodes []struct {
			Path string `json:"path"`
		} `json:"nodes"`
	} `json:"files"`
	ProjectItems struct {
		Nodes []struct {
			Project struct {
				Title string `json:"title"`
			} `json:"project"`
		} `json:"nodes"`
	} `json:"projectItems"`
}

func actorLogin(a *actorNode) *string {
	if a == nil {
		return nil
	}
	login := a.Login
	return &login
}

// normalizePullRequest flattens one GraphQL node into a domain record. Age is
// anchored at merge or close time for finished PRs so re-fetching a stale
// cache does not inflate their age.
func normalizePullRequest(n prNode, now time.Time) domain.PullRequest {
	end := now
	switch {
	case n.MergedAt != nil:
		end = *n.MergedAt
	case n.ClosedAt != nil:
		end = *n.ClosedAt
	}
	ageHours := end.Sub(n.CreatedAt).Hours()

	reviews := make([]domain.Review, 0, len(n.Reviews.Nodes))
	changesRequested, approvals := 0, 0
	for _, rv := range n.Reviews.Nodes {
		switch domain.ReviewState(rv.State) {
		case domain.ReviewChangesRequested:
			changesRequested++
		case domain.ReviewApproved:
			approvals++
		}
		reviews = append(reviews, domain.Review{
			State:     domain.ReviewState(rv.State),
			Author:    actorLogin(rv.Author),
			CreatedAt: rv.CreatedAt,
		})
	}

	var checksState *string
	if len(n.Commits.Nodes) > 0 {
		if roll := n.Commits.Nodes[len(n.Commits.Nodes)-1].Commit.StatusCheckRollup; roll != nil {
			state := roll.State
			checksState = &state
		}
	}

	requestedReviewers := make([]string, 0, len(n.ReviewRequests.Nodes))
	for _, rr := range n.ReviewRequests.Nodes {
		reviewer := rr.RequestedReviewer
		if reviewer == nil {
			continue
		}
		if reviewer.Typename == "User" {
			requestedReviewers = append(requestedReviewers, reviewer.Login)
		} else {
			requestedReviewers = append(requestedReviewers, "team:"+reviewer.Name)
		}
	}

	unresolved := 0
	threads := make([]domain.ReviewThread, 0, len(n.ReviewThreads.Nodes))
	for _, thread := range n.ReviewThreads.Nodes {
		if !thread.IsResolved && !thread.IsOutdated {
			unresolved++
		}
		comments := make([]domain.ThreadComment, 0, len(thread.Comments.Nodes))
		for _, c := range thread.Comments.Nodes {
			if c.IsMinimized {
				continue
			}
			comments = append(comments, domain.ThreadComment{
				Author:    actorLogin(c.Author),
				Body:      c.Body,
				CreatedAt: c.CreatedAt,
			})
		}
		if len(comments) == 0 {
			continue
		}
		threads = append(threads, domain.ReviewThread{
			IsResolved:    thread.IsResolved,
			IsOutdated:    thread.IsOutdated,
			ResolvedBy:    actorLogin(thread.ResolvedBy),
			Comments:      comments,
			TotalComments: thread.Comments.TotalCount,
		})
	}

	labels := make([]string, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, l.Name)
	}
	files := make([]string, 0, len(n.Files.Nodes))
	for _, f := range n.Files.Nodes {
		files = append(files, f.Path)
	}
	projects := make([]string, 0, len(n.ProjectItems.Nodes))
	for _, pi := range n.ProjectItems.Nodes {
		projects = append(projects, pi.Project.Title)
	}

	return domain.PullRequest{
		Number:                n.Number,
		Title:                 n.Title,
		URL:                   n.URL,
		State:                 domain.PullRequestState(n.State),
		IsDraft:               n.IsDraft,
		ReviewDecision:        n.ReviewDecision,
		Mergeable:             n.Mergeable,
		MergeStateStatus:      n.MergeStateStatus,
		ChecksState:           checksState,
		RequestedReviewers:    len(n.ReviewRequests.Nodes),
		RequestedReviewerList: requestedReviewers,
		Reviews:               reviews,
		UnresolvedThreads:     unresolved,
		Threads:               threads,
		Author:                actorLogin(n.Author),
		CreatedAt:             n.CreatedAt,
		ClosedAt:              n.ClosedAt,
		MergedAt:              n.MergedAt,
		AgeHours:              ageHours,
		Labels:                labels,
		CommentsCount:         n.Comments.TotalCount,
		ReviewThreads:         n.ReviewThreads.TotalCount,
		ChangesRequested:      changesRequested,
		Approvals:             approvals,
		Additions:             n.Additions,
		Deletions:             n.Deletions,
		ChangedFiles:          n.ChangedFiles,
		Files:                 files,
		Projects:              projects,
		BaseRefName:           n.BaseRefName,
		HeadRefName:           n.HeadRefName,
	}
}

// normalizeIssue flattens one typed GraphQL issue node. Cycle time is the
// smallest creation-to-merge span across linked pull requests.
func normalizeIssue(n issueNode, now time.Time) domain.Issue {
	end := now
	var closedAt, updatedAt *time.Time
	if !n.ClosedAt.IsZero() {
		t := n.ClosedAt.Time
		closedAt = &t
		end = t
	}
	if !n.UpdatedAt.IsZero() {
		t := n.UpdatedAt.Time
		updatedAt = &t
	}
	ageHours := end.Sub(n.CreatedAt.Time).Hours()

	var author *string
	if n.Author != nil {
		login := string(n.Author.Login)
		author = &login
	}

	assignees := make([]string, 0, len(n.Assignees.Nodes))
	for _, a := range n.Assignees.Nodes {
		assignees = append(assignees, string(a.Login))
	}
	labels := make([]string, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, string(l.Name))
	}

	var milestone *domain.Milestone
	if n.Milestone != nil {
		milestone = &domain.Milestone{
			Title: string(n.Milestone.Title),
			State: string(n.Milestone.State),
		}
		if n.Milestone.DueOn != nil {
			t := n.Milestone.DueOn.Time
			milestone.DueOn = &t
		}
	}

	projects := make([]string, 0, len(n.ProjectItems.Nodes))
	var projectStatus *string
	for _, pi := range n.ProjectItems.Nodes {
		projects = append(projects, string(pi.Project.Title))
		for _, fv := range pi.FieldValues.Nodes {
			if name, ok := projectStatusValue(fv); ok {
				status := name
				projectStatus = &status
			}
		}
	}

	linked := make([]domain.LinkedPR, 0, len(n.TimelineItems.Nodes))
	for _, item := range n.TimelineItems.Nodes {
		var ref prRefFragment
		var eventAt time.Time
		switch item.Typename {
		case "ConnectedEvent":
			ref = item.Connected.Subject.PullRequest
			eventAt = item.Connected.CreatedAt.Time
		case "DisconnectedEvent":
			ref = item.Disconnected.Subject.PullRequest
			eventAt = item.Disconnected.CreatedAt.Time
		case "CrossReferencedEvent":
			ref = item.CrossReferenced.Source.PullRequest
			eventAt = item.CrossReferenced.CreatedAt.Time
		default:
			continue
		}
		if ref.Number == 0 {
			continue
		}
		lp := domain.LinkedPR{
			Number:    int(ref.Number),
			Title:     string(ref.Title),
			State:     string(ref.State),
			URL:       ref.URL.String(),
			EventType: item.Typename,
		}
		if !eventAt.IsZero() {
			t := eventAt
			lp.EventTime = &t
		}
		if ref.MergedAt != nil {
			t := ref.MergedAt.Time
			lp.MergedAt = &t
		}
		linked = append(linked, lp)
	}

	var cycleTime *float64
	var firstMerged *int
	for _, lp := range linked {
		if lp.MergedAt == nil {
			continue
		}
		cycle := lp.MergedAt.Sub(n.CreatedAt.Time).Hours()
		if cycleTime == nil || cycle < *cycleTime {
			c, num := cycle, lp.Number
			cycleTime = &c
			firstMerged = &num
		}
	}

	return domain.Issue{
		Number:         int(n.Number),
		Title:          string(n.Title),
		URL:            n.URL.String(),
		State:          string(n.State),
		Author:         author,
		CreatedAt:      n.CreatedAt.Time,
		ClosedAt:       closedAt,
		UpdatedAt:      updatedAt,
		AgeHours:       ageHours,
		Labels:         labels,
		CommentsCount:  int(n.Comments.TotalCount),
		Assignees:      assignees,
		Milestone:      milestone,
		Projects:       projects,
		ProjectStatus:  projectStatus,
		LinkedPRs:      linked,
		LinkedPRCount:  len(linked),
		CycleTimeHours: cycleTime,
		FirstMergedPR:  firstMerged,
	}
}

// projectStatusValue extracts a status-like project field value. Field names
// are matched loosely because boards name the column differently per team.
func projectStatusValue(fv projectFieldValue) (string, bool) {
	switch {
	case fv.SingleSelect.Name != "":
		if isStatusField(string(fv.SingleSelect.Field.SingleSelectField.Name)) {
			return string(fv.SingleSelect.Name), true
		}
	case fv.Text.Text != "":
		if isStatusField(string(fv.Text.Field.Field.Name)) {
			return string(fv.Text.Text), true
		}
	}
	return "", false
}

func isStatusField(name string) bool {
	switch strings.ToLower(name) {
	case "status", "state", "ステータス":
		return true
	}
	return false
}
