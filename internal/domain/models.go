package domain

import (
	"fmt"
	"time"
)

// DefaultAlgorithmVersion tags recommendation batches produced by the
// advanced matching scorer.
const DefaultAlgorithmVersion = "advanced_v1.0"

// DefaultAnalysisVersion tags stored compatibility analyses.
const DefaultAnalysisVersion = "1.0"

// MatchHistory is one persisted row per (client, therapist, batch).
// WasViewed, WasContacted and BecameClient only ever move from false to true.
type MatchHistory struct {
	ID                   string     `json:"id"`
	BatchID              string     `json:"batch_id"`
	ClientID             string     `json:"client_id"`
	TherapistID          string     `json:"therapist_id"`
	TotalScore           int        `json:"total_score"`
	ConditionScore       int        `json:"condition_score"`
	ApproachScore        int        `json:"approach_score"`
	ExperienceScore      int        `json:"experience_score"`
	ReviewScore          int        `json:"review_score"`
	LogisticsScore       int        `json:"logistics_score"`
	PrimaryMatches       []string   `json:"primary_matches"`
	SecondaryMatches     []string   `json:"secondary_matches"`
	ApproachMatches      []string   `json:"approach_matches"`
	RecommendationRank   int        `json:"recommendation_rank"`
	TotalRecommendations int        `json:"total_recommendations"`
	AlgorithmVersion     string     `json:"algorithm_version"`
	WasViewed            bool       `json:"was_viewed"`
	ViewedAt             *time.Time `json:"viewed_at,omitempty"`
	WasContacted         bool       `json:"was_contacted"`
	ContactedAt          *time.Time `json:"contacted_at,omitempty"`
	BecameClient         bool       `json:"became_client"`
	BecameClientAt       *time.Time `json:"became_client_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// ClientCompatibility caches the latest compatibility analysis per pair.
type ClientCompatibility struct {
	ClientID        string                `json:"client_id"`
	TherapistID     string                `json:"therapist_id"`
	OverallScore    int                   `json:"overall_score"`
	Analysis        CompatibilityAnalysis `json:"analysis"`
	AnalysisVersion string                `json:"analysis_version"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// FeedbackInput is what a client submits about a recommendation.
// Ratings are 1-5; zero means not provided.
type FeedbackInput struct {
	RelevanceRating     int    `json:"relevance_rating"`
	AccuracyRating      int    `json:"accuracy_rating"`
	HelpfulnessRating   int    `json:"helpfulness_rating"`
	OverallSatisfaction int    `json:"overall_satisfaction"`
	Comments            string `json:"comments,omitempty"`
	SelectedTherapist   bool   `json:"selected_therapist"`
}

// Validate checks that every provided rating is within 1-5.
func (f FeedbackInput) Validate() error {
	ratings := []struct {
		field string
		value int
	}{
		{"relevance_rating", f.RelevanceRating},
		{"accuracy_rating", f.AccuracyRating},
		{"helpfulness_rating", f.HelpfulnessRating},
		{"overall_satisfaction", f.OverallSatisfaction},
	}
	for _, r := range ratings {
		if r.value != 0 && (r.value < 1 || r.value > 5) {
			return NewValidationError(r.field, fmt.Sprintf("rating must be between 1 and 5, got %d", r.value), r.value)
		}
	}
	return nil
}

// RecommendationFeedback is a persisted feedback submission, linked to the
// most recent match history row for the pair when one exists.
type RecommendationFeedback struct {
	ID             string  `json:"id"`
	ClientID       string  `json:"client_id"`
	TherapistID    string  `json:"therapist_id"`
	MatchHistoryID *string `json:"match_history_id,omitempty"`
	FeedbackInput
	CreatedAt time.Time `json:"created_at"`
}

// MatchingMetrics aggregates algorithm performance over a window.
type MatchingMetrics struct {
	TotalRecommendations     int     `json:"total_recommendations"`
	SuccessfulMatches        int     `json:"successful_matches"`
	AverageMatchScore        float64 `json:"average_match_score"`
	ClickThroughRate         float64 `json:"click_through_rate"`
	ConversionRate           float64 `json:"conversion_rate"`
	AverageSatisfactionScore float64 `json:"average_satisfaction_score"`
}

// MatchSummary is the raw aggregate a store computes over match history.
type MatchSummary struct {
	Total      int
	Viewed     int
	Contacted  int
	Successful int
	ScoreSum   float64
}

// AlgorithmPerformance is an append-only snapshot of metrics for one
// algorithm name and version over a time window.
type AlgorithmPerformance struct {
	ID               string          `json:"id"`
	AlgorithmName    string          `json:"algorithm_name"`
	AlgorithmVersion string          `json:"algorithm_version"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	Metrics          MatchingMetrics `json:"metrics"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TherapistPerformance counts successful matches per therapist.
type TherapistPerformance struct {
	TherapistID       string `json:"therapist_id"`
	TherapistName     string `json:"therapist_name,omitempty"`
	SuccessfulMatches int    `json:"successful_matches"`
}

// MatchingInsights are raw aggregates for offline analysis.
type MatchingInsights struct {
	SuccessfulConditionMatches [][]string  `json:"successful_condition_matches"`
	SuccessfulApproachMatches  [][]string  `json:"successful_approach_matches"`
	ScoreDistribution          map[int]int `json:"score_distribution"`
}

// TimeWindow bounds analytics queries. Nil bounds are open.
type TimeWindow struct {
	Start *time.Time
	End   *time.Time
}
