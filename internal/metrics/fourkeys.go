package metrics

import (
	"math"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/pr-dashboard/internal/domain"
)

// Level is a DORA four-tier performance classification.
type Level string

const (
	LevelElite  Level = "Elite"
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"
)

// Metric names accepted by Classify.
type Metric string

const (
	MetricDeploymentFrequency Metric = "deployment_frequency"
	MetricLeadTime            Metric = "lead_time"
	MetricChangeFailureRate   Metric = "change_failure_rate"
	MetricMTTR                Metric = "mttr"
)

// FailureKeywords mark a merged PR as a "failure" for the change-failure
// heuristic when any of them appears in the title or labels. This is a proxy
// for real incident data, not a ground-truth signal.
var FailureKeywords = []string{"revert", "hotfix", "urgent", "fix", "rollback", "emergency", "critical"}

// FourKeys holds the DORA four-key metrics over merged pull requests.
// MergedCount is the sample size; a zero sample produces zero-valued metrics
// and callers must not treat the levels as meaningful in that case.
type FourKeys struct {
	DeploymentFrequency      float64 `json:"deployment_frequency"`
	DeploymentFrequencyLevel Level   `json:"deployment_frequency_level"`
	LeadTimeDays             float64 `json:"lead_time_days"`
	LeadTimeLevel            Level   `json:"lead_time_level"`
	ChangeFailureRate        float64 `json:"change_failure_rate"`
	ChangeFailureRateLevel   Level   `json:"change_failure_rate_level"`
	MTTRHours                float64 `json:"mttr_hours"`
	MTTRLevel                Level   `json:"mttr_level"`
	MergedCount              int     `json:"merged_count"`
	FailureCount             int     `json:"failure_count"`
}

// Classify maps a metric value to its DORA level using fixed thresholds.
// Classification depends only on the value, never on the sample size.
func Classify(metric Metric, value float64) Level {
	switch metric {
	case MetricDeploymentFrequency: // deploys per week
		switch {
		case value >= 7:
			return LevelElite
		case value >= 1:
			return LevelHigh
		case value >= 0.25:
			return LevelMedium
		default:
			return LevelLow
		}
	case MetricLeadTime: // days
		switch {
		case value < 1:
			return LevelElite
		case value < 7:
			return LevelHigh
		case value < 30:
			return LevelMedium
		default:
			return LevelLow
		}
	case MetricChangeFailureRate: // percent
		switch {
		case value <= 15:
			return LevelElite
		case value <= 30:
			return LevelHigh
		case value <= 45:
			return LevelMedium
		default:
			return LevelLow
		}
	case MetricMTTR: // hours
		switch {
		case value < 1:
			return LevelElite
		case value < 24:
			return LevelHigh
		case value < 168:
			return LevelMedium
		default:
			return LevelLow
		}
	}
	return LevelLow
}

// IsFailure reports whether a PR matches the failure keyword heuristic
// (case-insensitive substring over title and labels).
func IsFailure(pr domain.PullRequest) bool {
	title := strings.ToLower(pr.Title)
	labels := strings.ToLower(strings.Join(pr.Labels, ","))
	for _, kw := range FailureKeywords {
		if strings.Contains(title, kw) || strings.Contains(labels, kw) {
			return true
		}
	}
	return false
}

// Compute derives the four keys from a set of pull requests. Only merged
// PRs with a merge timestamp participate. Lead time and MTTR use the median,
// not the mean; deployment frequency divides by at least one week.
func Compute(prs []domain.PullRequest) FourKeys {
	var merged []domain.PullRequest
	for _, pr := range prs {
		if pr.State == domain.StateMerged && pr.MergedAt != nil {
			merged = append(merged, pr)
		}
	}

	fk := FourKeys{MergedCount: len(merged)}

	if len(merged) > 0 {
		first, last := *merged[0].MergedAt, *merged[0].MergedAt
		var leadDays, leadHours []float64
		var failureHours []float64
		for _, pr := range merged {
			m := *pr.MergedAt
			if m.Before(first) {
				first = m
			}
			if m.After(last) {
				last = m
			}
			hours := m.Sub(pr.CreatedAt).Hours()
			leadHours = append(leadHours, hours)
			leadDays = append(leadDays, hours/24)
			if IsFailure(pr) {
				fk.FailureCount++
				failureHours = append(failureHours, hours)
			}
		}

		spanDays := int(last.Sub(first) / (24 * time.Hour))
		weeks := math.Max(float64(spanDays)/7, 1)
		fk.DeploymentFrequency = float64(len(merged)) / weeks

		if md, err := stats.Median(leadDays); err == nil {
			fk.LeadTimeDays = md
		}
		fk.ChangeFailureRate = float64(fk.FailureCount) / float64(len(merged)) * 100
		if len(failureHours) > 0 {
			if mh, err := stats.Median(failureHours); err == nil {
				fk.MTTRHours = mh
			}
		}
	}

	fk.DeploymentFrequencyLevel = Classify(MetricDeploymentFrequency, fk.DeploymentFrequency)
	fk.LeadTimeLevel = Classify(MetricLeadTime, fk.LeadTimeDays)
	fk.ChangeFailureRateLevel = Classify(MetricChangeFailureRate, fk.ChangeFailureRate)
	fk.MTTRLevel = Classify(MetricMTTR, fk.MTTRHours)
	return fk
}
