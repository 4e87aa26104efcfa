package domain

import "time"

// Milestone is the milestone an issue is attached to, if any.
type Milestone struct {
	Title string     `json:"title"`
	DueOn *time.Time `json:"dueOn"`
	State string     `json:"state"`
}

// LinkedPR is a pull request associated with an issue, derived from
// connect/disconnect/cross-reference timeline events.
type LinkedPR struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	URL       string     `json:"url"`
	MergedAt  *time.Time `json:"mergedAt"`
	EventType string     `json:"eventType"`
	EventTime *time.Time `json:"eventTime"`
}

// Issue is a flat snapshot of one issue. CycleTimeHours measures issue
// creation to the earliest linked-PR merge; nil when no linked PR merged.
type Issue struct {
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	URL            string     `json:"url"`
	State          string     `json:"state"`
	Author         *string    `json:"author"`
	CreatedAt      time.Time  `json:"createdAt"`
	ClosedAt       *time.Time `json:"closedAt"`
	UpdatedAt      *time.Time `json:"updatedAt"`
	AgeHours       float64    `json:"age_hours"`
	Labels         []string   `json:"labels"`
	CommentsCount  int        `json:"comments_count"`
	Assignees      []string   `json:"assignees"`
	Milestone      *Milestone `json:"milestone"`
	Projects       []string   `json:"projects"`
	ProjectStatus  *string    `json:"project_status"`
	LinkedPRs      []LinkedPR `json:"linked_prs"`
	LinkedPRCount  int        `json:"linked_pr_count"`
	CycleTimeHours *float64   `json:"cycle_time_hours"`
	FirstMergedPR  *int       `json:"first_merged_pr"`
}
