package analytics

import (
	"time"

	"github.com/therapy-match-server/internal/domain"
)

// ComputeMetrics turns a match history summary into performance metrics.
// An empty summary yields all-zero metrics except satisfaction, which is
// computed independently of the algorithm filter.
func ComputeMetrics(summary domain.MatchSummary, averageSatisfaction float64) domain.MatchingMetrics {
	metrics := domain.MatchingMetrics{
		TotalRecommendations:     summary.Total,
		SuccessfulMatches:        summary.Successful,
		AverageSatisfactionScore: averageSatisfaction,
	}
	if summary.Total == 0 {
		return metrics
	}

	total := float64(summary.Total)
	metrics.AverageMatchScore = summary.ScoreSum / total
	metrics.ClickThroughRate = float64(summary.Viewed) / total * 100
	metrics.ConversionRate = float64(summary.Successful) / total * 100
	return metrics
}

// windowOf converts optional bounds into a TimeWindow. Zero times are open.
func windowOf(start, end time.Time) domain.TimeWindow {
	var window domain.TimeWindow
	if !start.IsZero() {
		s := start.UTC()
		window.Start = &s
	}
	if !end.IsZero() {
		e := end.UTC()
		window.End = &e
	}
	return window
}
