package service

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapy-match-server/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

func newTestScorer() *MatchingScorer {
	tables := DefaultScoringTables()
	return NewMatchingScorer(newTestLogger(), NewConditionProfileBuilder(tables), tables)
}

// depressionClient is a client with severe depression who prefers CBT.
func depressionClient() *domain.Client {
	return &domain.Client{
		ID: "client-1",
		PreAssessment: &domain.ClinicalProfile{
			Conditions: map[string]string{"Depression": "Severe"},
			Completed:  true,
		},
		Preferences: []domain.Preference{
			{Key: "therapyApproaches", Value: `["Cognitive Behavioral Therapy (CBT)"]`},
			{Key: "province", Value: "Ontario"},
			{Key: "maxHourlyRate", Value: 150.0},
			{Key: "languagePreference", Value: `["English"]`},
		},
	}
}

func approvedReviews(ratings ...int) []domain.Review {
	reviews := make([]domain.Review, 0, len(ratings))
	for _, r := range ratings {
		reviews = append(reviews, domain.Review{Rating: r, Status: domain.ReviewApproved})
	}
	return reviews
}

// depressionTherapist matches depressionClient on every factor.
func depressionTherapist() *domain.Therapist {
	return &domain.Therapist{
		ID:                    "therapist-1",
		User:                  &domain.TherapistUser{ID: "user-1", Name: "Dr. Rivera"},
		Expertise:             []string{"Depression"},
		Approaches:            []string{"Cognitive Behavioral Therapy (CBT)"},
		YearsOfExperience:     8,
		TreatmentSuccessRates: map[string]float64{"Depression": 85},
		Reviews:               approvedReviews(5, 5, 5),
		LanguagesOffered:      []string{"English"},
		HourlyRate:            120,
		Province:              "Ontario",
	}
}

func TestMatchingScorer_EndToEnd(t *testing.T) {
	scorer := newTestScorer()

	score, err := scorer.Score(depressionClient(), depressionTherapist(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.ScoreBreakdown{
		ConditionMatch:           35,
		ApproachCompatibility:    100,
		ExperienceAndSuccess:     75,
		ReviewsAndRatings:        100,
		AvailabilityAndLogistics: 100,
	}, score.Breakdown)
	assert.Equal(t, 82, score.TotalScore)
	assert.GreaterOrEqual(t, score.TotalScore, 80)
	assert.Less(t, score.TotalScore, 90)

	assert.Contains(t, score.MatchExplanation.PrimaryMatches, "Depression")
	assert.Equal(t, []string{"Cognitive Behavioral Therapy (CBT)"}, score.MatchExplanation.ApproachMatches)
	assert.Equal(t, 8, score.MatchExplanation.ExperienceYears)
	assert.Equal(t, 5.0, score.MatchExplanation.AverageRating)
	assert.Equal(t, 3, score.MatchExplanation.TotalReviews)
	assert.Equal(t, map[string]float64{"Depression": 85}, score.MatchExplanation.SuccessRates)
	assert.Equal(t, "Dr. Rivera", score.TherapistName)
}

func TestMatchingScorer_Preconditions(t *testing.T) {
	scorer := newTestScorer()

	t.Run("Nil_PreAssessment", func(t *testing.T) {
		client := depressionClient()
		client.PreAssessment = nil

		score, err := scorer.Score(client, depressionTherapist(), nil)
		require.Error(t, err)
		assert.Nil(t, score)
		assert.True(t, errors.Is(err, domain.ErrNoValidPreAssessment))

		var matchErr *domain.MatchError
		require.True(t, errors.As(err, &matchErr))
		assert.Equal(t, domain.ErrCodeNoPreAssessment, matchErr.Code)
		assert.Equal(t, "client-1", matchErr.ClientID)
	})

	t.Run("Incomplete_PreAssessment", func(t *testing.T) {
		client := depressionClient()
		client.PreAssessment.Completed = false

		_, err := scorer.Score(client, depressionTherapist(), nil)
		assert.ErrorIs(t, err, domain.ErrNoValidPreAssessment)
	})

	t.Run("Nil_Preferences", func(t *testing.T) {
		client := depressionClient()
		client.Preferences = nil

		_, err := scorer.Score(client, depressionTherapist(), nil)
		assert.ErrorIs(t, err, domain.ErrNoPreferences)
		assert.True(t, domain.IsPreconditionError(err))
	})

	t.Run("Missing_Therapist_User", func(t *testing.T) {
		therapist := depressionTherapist()
		therapist.User = nil

		_, err := scorer.Score(depressionClient(), therapist, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTherapistUser)

		var matchErr *domain.MatchError
		require.True(t, errors.As(err, &matchErr))
		assert.Equal(t, domain.ErrCodeInvalidTherapist, matchErr.Code)
		assert.Equal(t, "therapist-1", matchErr.TherapistID)
	})

	t.Run("Empty_Preferences_Are_Valid", func(t *testing.T) {
		client := depressionClient()
		client.Preferences = []domain.Preference{}

		_, err := scorer.Score(client, depressionTherapist(), nil)
		assert.NoError(t, err)
	})
}

func TestMatchingScorer_ScoresStayInRange(t *testing.T) {
	scorer := newTestScorer()
	client := depressionClient()

	therapists := map[string]*domain.Therapist{
		"empty_optional_fields": {ID: "t-empty", User: &domain.TherapistUser{ID: "u"}},
		"full_match":            depressionTherapist(),
		"everything_mismatched": {
			ID:               "t-bad",
			User:             &domain.TherapistUser{ID: "u"},
			LanguagesOffered: []string{"French"},
			HourlyRate:       400,
			Province:         "Quebec",
			Reviews:          approvedReviews(1),
		},
		"overqualified": {
			ID:                     "t-max",
			User:                   &domain.TherapistUser{ID: "u"},
			Expertise:              []string{"Depression", "Major Depression"},
			IllnessSpecializations: []string{"Depression"},
			Approaches:             []string{"CBT", "DBT", "EMDR", "ACT", "IPT", "MBCT", "Exposure Therapy", "Psychodynamic Therapy", "Gestalt", "Narrative", "Art Therapy"},
			YearsOfExperience:      40,
			TreatmentSuccessRates:  map[string]float64{"Depression": 150},
			Reviews:                approvedReviews(5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5),
		},
	}

	for name, therapist := range therapists {
		t.Run(name, func(t *testing.T) {
			score, err := scorer.Score(client, therapist, nil)
			require.NoError(t, err)

			for _, v := range []int{
				score.TotalScore,
				score.Breakdown.ConditionMatch,
				score.Breakdown.ApproachCompatibility,
				score.Breakdown.ExperienceAndSuccess,
				score.Breakdown.ReviewsAndRatings,
				score.Breakdown.AvailabilityAndLogistics,
			} {
				assert.GreaterOrEqual(t, v, 0)
				assert.LessOrEqual(t, v, 100)
			}
		})
	}
}

func TestMatchingScorer_ConditionMatch(t *testing.T) {
	scorer := newTestScorer()

	t.Run("Zero_Overlap", func(t *testing.T) {
		therapist := depressionTherapist()
		therapist.Expertise = []string{"Insomnia", "Eating Disorders"}

		score, err := scorer.Score(depressionClient(), therapist, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, score.Breakdown.ConditionMatch)
		assert.Empty(t, score.MatchExplanation.PrimaryMatches)
		assert.Empty(t, score.MatchExplanation.SecondaryMatches)
	})

	t.Run("Secondary_Condition_From_Specializations", func(t *testing.T) {
		client := depressionClient()
		client.PreAssessment.Conditions = map[string]string{"Anxiety": "Moderate", "Stress": "Minimal"}
		therapist := depressionTherapist()
		therapist.Expertise = nil
		therapist.IllnessSpecializations = []string{"Generalized Anxiety"}

		score, err := scorer.Score(client, therapist, nil)
		require.NoError(t, err)
		// 15 x 3/5 + 5 bonus
		assert.Equal(t, 14, score.Breakdown.ConditionMatch)
		assert.Equal(t, []string{"Anxiety"}, score.MatchExplanation.SecondaryMatches)
	})

	t.Run("Expertise_Bonus_Caps", func(t *testing.T) {
		client := depressionClient()
		client.PreAssessment.Conditions = map[string]string{
			"Depression": "Severe",
			"Anxiety":    "Extreme",
			"PTSD":       "Very Severe",
			"Insomnia":   "High",
			"OCD":        "Moderately Severe",
		}
		therapist := depressionTherapist()
		therapist.Expertise = []string{"Depression", "Anxiety", "PTSD", "Insomnia", "OCD"}

		score, err := scorer.Score(client, therapist, nil)
		require.NoError(t, err)
		assert.Equal(t, 100, score.Breakdown.ConditionMatch)
		assert.Len(t, score.MatchExplanation.PrimaryMatches, 5)
	})
}

func TestMatchingScorer_ApproachCompatibility(t *testing.T) {
	scorer := newTestScorer()

	tests := []struct {
		name        string
		preferences []domain.Preference
		approaches  []string
		used        []string
		expected    int
	}{
		{
			name:       "No_Therapist_Approaches",
			approaches: nil,
			expected:   0,
		},
		{
			name:       "Evidence_Based_Without_Preferences",
			approaches: []string{"CBT", "DBT"},
			used:       []string{"EMDR", "Art Therapy"},
			// 3 evidence-based x 20 + 4 approaches x 2
			expected: 68,
		},
		{
			name:       "Evidence_Based_Caps_At_80",
			approaches: []string{"CBT", "DBT", "EMDR", "ACT", "IPT", "MBCT"},
			// 80 + 12
			expected: 92,
		},
		{
			name:       "Generic_Approach_Earns_No_Modality_Credit",
			approaches: []string{"Therapy"},
			// diversity bonus only
			expected: 2,
		},
		{
			name:        "Half_Of_Preferences_Matched",
			preferences: []domain.Preference{{Key: "preferred_approaches", Value: []any{"CBT", "Psychodynamic"}}},
			approaches:  []string{"Cognitive Behavioral Therapy (CBT)"},
			// 50 + 2
			expected: 52,
		},
		{
			name:        "Preferences_Without_Overlap",
			preferences: []domain.Preference{{Key: "therapyApproaches", Value: "Psychodynamic"}},
			approaches:  []string{"CBT", "DBT", "EMDR"},
			expected:    6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := depressionClient()
			client.Preferences = tt.preferences
			if client.Preferences == nil {
				client.Preferences = []domain.Preference{}
			}
			therapist := depressionTherapist()
			therapist.Approaches = tt.approaches
			therapist.TherapeuticApproachesUsedList = tt.used

			score, err := scorer.Score(client, therapist, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, score.Breakdown.ApproachCompatibility)
		})
	}
}

func TestMatchingScorer_ExperienceCurve(t *testing.T) {
	scorer := newTestScorer()
	client := depressionClient()

	experienceFor := func(years int) int {
		therapist := depressionTherapist()
		therapist.YearsOfExperience = years
		therapist.TreatmentSuccessRates = nil
		score, err := scorer.Score(client, therapist, nil)
		require.NoError(t, err)
		return score.Breakdown.ExperienceAndSuccess
	}

	two, seven, fifteen := experienceFor(2), experienceFor(7), experienceFor(15)
	assert.Equal(t, 16, two)
	assert.Equal(t, 52, seven)
	assert.Equal(t, 80, fifteen)
	assert.Greater(t, seven, two)
	assert.Greater(t, fifteen, seven)
	assert.Less(t, fifteen-seven, seven-two, "gain should diminish after year 10")

	assert.Equal(t, 90, experienceFor(30), "tenure bonus caps at 20")
}

func TestMatchingScorer_PracticeStartDate(t *testing.T) {
	scorer := newTestScorer()
	scorer.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	start := time.Date(2014, 9, 1, 0, 0, 0, 0, time.UTC)
	therapist := depressionTherapist()
	therapist.YearsOfExperience = 3
	therapist.PracticeStartDate = &start
	therapist.TreatmentSuccessRates = nil

	score, err := scorer.Score(depressionClient(), therapist, nil)
	require.NoError(t, err)
	assert.Equal(t, 11, score.MatchExplanation.ExperienceYears)
	assert.Equal(t, 72, score.Breakdown.ExperienceAndSuccess)

	// Stated years win when larger than tenure.
	therapist.YearsOfExperience = 20
	score, err = scorer.Score(depressionClient(), therapist, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, score.MatchExplanation.ExperienceYears)
}

func TestMatchingScorer_Reviews(t *testing.T) {
	scorer := newTestScorer()

	tests := []struct {
		name     string
		reviews  []domain.Review
		expected int
	}{
		{name: "No_Reviews", reviews: nil, expected: 50},
		{
			name: "Only_Unapproved_Reviews",
			reviews: []domain.Review{
				{Rating: 5, Status: domain.ReviewPending},
				{Rating: 1, Status: domain.ReviewRejected},
			},
			expected: 50,
		},
		// (75 + 4) x 0.8
		{name: "Low_Sample_Penalty", reviews: approvedReviews(4, 4), expected: 63},
		// 50 + 8
		{name: "Average_Three", reviews: approvedReviews(3, 3, 3, 3), expected: 58},
		{name: "Capped", reviews: approvedReviews(5, 5, 5, 5, 5), expected: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			therapist := depressionTherapist()
			therapist.Reviews = tt.reviews

			score, err := scorer.Score(depressionClient(), therapist, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, score.Breakdown.ReviewsAndRatings)
		})
	}
}

func TestMatchingScorer_Logistics(t *testing.T) {
	scorer := newTestScorer()

	t.Run("Defaults_Only", func(t *testing.T) {
		client := depressionClient()
		client.Preferences = []domain.Preference{}
		therapist := depressionTherapist()
		therapist.LanguagesOffered = nil

		score, err := scorer.Score(client, therapist, nil)
		require.NoError(t, err)
		assert.Equal(t, 100, score.Breakdown.AvailabilityAndLogistics)
	})

	tests := []struct {
		name     string
		mutate   func(c *domain.Client, t *domain.Therapist)
		expected int
	}{
		{
			name:     "Province_Mismatch",
			mutate:   func(c *domain.Client, t *domain.Therapist) { t.Province = "Quebec" },
			expected: 70,
		},
		{
			name:     "Province_Case_Insensitive",
			mutate:   func(c *domain.Client, t *domain.Therapist) { t.Province = "ONTARIO" },
			expected: 100,
		},
		{
			name:     "Over_Budget",
			mutate:   func(c *domain.Client, t *domain.Therapist) { t.HourlyRate = 200 },
			expected: 60,
		},
		{
			name: "Insurance_Mismatch",
			mutate: func(c *domain.Client, t *domain.Therapist) {
				c.Preferences = append(c.Preferences, domain.Preference{Key: "insuranceTypes", Value: `["Blue Cross"]`})
				t.AcceptsInsurance = true
				t.AcceptedInsuranceTypes = []string{"Sun Life"}
			},
			expected: 80,
		},
		{
			name: "Insurance_Ignored_When_Therapist_Does_Not_Accept",
			mutate: func(c *domain.Client, t *domain.Therapist) {
				c.Preferences = append(c.Preferences, domain.Preference{Key: "insuranceTypes", Value: `["Blue Cross"]`})
				t.AcceptsInsurance = false
			},
			expected: 100,
		},
		{
			name:     "Language_Mismatch",
			mutate:   func(c *domain.Client, t *domain.Therapist) { t.LanguagesOffered = []string{"French"} },
			expected: 75,
		},
		{
			name: "Floors_At_Zero",
			mutate: func(c *domain.Client, t *domain.Therapist) {
				c.Preferences = append(c.Preferences, domain.Preference{Key: "insurance", Value: "Blue Cross"})
				t.Province = "Quebec"
				t.HourlyRate = 300
				t.AcceptsInsurance = true
				t.LanguagesOffered = []string{"French"}
			},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := depressionClient()
			therapist := depressionTherapist()
			tt.mutate(client, therapist)

			score, err := scorer.Score(client, therapist, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, score.Breakdown.AvailabilityAndLogistics)
		})
	}
}

func TestMatchingScorer_CustomWeights(t *testing.T) {
	scorer := newTestScorer()
	weights := domain.HighUrgencyWeights()

	score, err := scorer.Score(depressionClient(), depressionTherapist(), &weights)
	require.NoError(t, err)
	// 35x.35 + 100x.20 + 75x.25 + 100x.10 + 100x.10
	assert.Equal(t, 71, score.TotalScore)
}
