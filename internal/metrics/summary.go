package metrics

import (
	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

// Summary is the aggregate view of a pull request window, the numbers the
// analytics pages chart.
type Summary struct {
	TotalPRs  int `json:"total_prs"`
	OpenPRs   int `json:"open_prs"`
	MergedPRs int `json:"merged_prs"`
	ClosedPRs int `json:"closed_prs"`
	DraftPRs  int `json:"draft_prs"`

	// MergeRate is merged / (merged + closed-without-merge).
	MergeRate float64 `json:"merge_rate"`

	MedianOpenAgeHours       float64 `json:"median_open_age_hours"`
	MedianMergeHours         float64 `json:"median_merge_hours"`
	MedianMergeBusinessHours float64 `json:"median_merge_business_hours"`
	MedianAdditions          float64 `json:"median_additions"`
	MedianDeletions          float64 `json:"median_deletions"`
	MedianChangedFiles       float64 `json:"median_changed_files"`

	Blockers map[string]int `json:"blockers"`
}

// Summarize computes the aggregate view over a set of pull requests.
// staleHours feeds the blocker inference for open PRs.
func Summarize(prs []domain.PullRequest, staleHours float64) Summary {
	s := Summary{
		TotalPRs: len(prs),
		Blockers: CountBlockers(prs, staleHours),
	}

	var openAges, mergeHours, mergeBizHours []float64
	var additions, deletions, changedFiles []float64
	for _, pr := range prs {
		switch pr.State {
		case domain.StateOpen:
			s.OpenPRs++
			if pr.IsDraft {
				s.DraftPRs++
			}
			openAges = append(openAges, pr.AgeHours)
		case domain.StateMerged:
			s.MergedPRs++
			if pr.MergedAt != nil {
				mergeHours = append(mergeHours, pr.MergedAt.Sub(pr.CreatedAt).Hours())
				mergeBizHours = append(mergeBizHours, BusinessHours(pr.CreatedAt, *pr.MergedAt))
			}
		case domain.StateClosed:
			s.ClosedPRs++
		}
		additions = append(additions, float64(pr.Additions))
		deletions = append(deletions, float64(pr.Deletions))
		changedFiles = append(changedFiles, float64(pr.ChangedFiles))
	}

	if done := s.MergedPRs + s.ClosedPRs; done > 0 {
		s.MergeRate = float64(s.MergedPRs) / float64(done)
	}
	s.MedianOpenAgeHours = median(openAges)
	s.MedianMergeHours = median(mergeHours)
	s.MedianMergeBusinessHours = median(mergeBizHours)
	s.MedianAdditions = median(additions)
	s.MedianDeletions = median(deletions)
	s.MedianChangedFiles = median(changedFiles)
	return s
}

// median tolerates empty samples, reporting zero instead of an error.
func median(sample []float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	m, err := stats.Median(sample)
	if err != nil {
		return 0
	}
	return m
}
