package domain

// ScoreBreakdown holds the five rounded sub-scores, each in [0, 100].
type ScoreBreakdown struct {
	ConditionMatch           int `json:"condition_match"`
	ApproachCompatibility    int `json:"approach_compatibility"`
	ExperienceAndSuccess     int `json:"experience_and_success"`
	ReviewsAndRatings        int `json:"reviews_and_ratings"`
	AvailabilityAndLogistics int `json:"availability_and_logistics"`
}

// MatchExplanation records what drove a score so it can be shown to the client.
type MatchExplanation struct {
	PrimaryMatches   []string           `json:"primary_matches"`
	SecondaryMatches []string           `json:"secondary_matches"`
	ApproachMatches  []string           `json:"approach_matches"`
	ExperienceYears  int                `json:"experience_years"`
	AverageRating    float64            `json:"average_rating"`
	TotalReviews     int                `json:"total_reviews"`
	SuccessRates     map[string]float64 `json:"success_rates"`
}

// TherapistScore is the ranked output for one client/therapist pair.
// It is built once per scoring call and never mutated afterwards.
type TherapistScore struct {
	TherapistID      string           `json:"therapist_id"`
	TherapistName    string           `json:"therapist_name,omitempty"`
	TotalScore       int              `json:"total_score"`
	Breakdown        ScoreBreakdown   `json:"breakdown"`
	MatchExplanation MatchExplanation `json:"match_explanation"`
	WeightProfile    WeightProfile    `json:"weight_profile,omitempty"`
}
