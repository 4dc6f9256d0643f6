package domain

import (
	"fmt"
	"math"
)

// WeightSumTolerance is the allowed floating error when checking that a
// weight profile sums to 1.0.
const WeightSumTolerance = 0.01

// MatchingWeights weights the five sub-scores of the advanced matching scorer.
type MatchingWeights struct {
	ConditionMatch           float64 `json:"condition_match" mapstructure:"condition_match"`
	ApproachCompatibility    float64 `json:"approach_compatibility" mapstructure:"approach_compatibility"`
	ExperienceAndSuccess     float64 `json:"experience_and_success" mapstructure:"experience_and_success"`
	ReviewsAndRatings        float64 `json:"reviews_and_ratings" mapstructure:"reviews_and_ratings"`
	AvailabilityAndLogistics float64 `json:"availability_and_logistics" mapstructure:"availability_and_logistics"`
}

// ExtendedMatchingWeights is the eight-factor weight schema. The three extra
// factors are accepted in configuration but no scorer consumes them yet.
type ExtendedMatchingWeights struct {
	MatchingWeights         `mapstructure:",squash"`
	EngagementCompatibility float64 `json:"engagement_compatibility" mapstructure:"engagement_compatibility"`
	PerformanceMatch        float64 `json:"performance_match" mapstructure:"performance_match"`
	PreferenceMatch         float64 `json:"preference_match" mapstructure:"preference_match"`
}

// WeightProfile names one of the selectable weight profiles.
type WeightProfile string

const (
	WeightProfileDefault       WeightProfile = "default"
	WeightProfileHighUrgency   WeightProfile = "high_urgency"
	WeightProfileLowEngagement WeightProfile = "low_engagement"
	WeightProfileNewClient     WeightProfile = "new_client"
)

// WeightProfiles maps profile names to weights. It is plain data so it can be
// loaded from configuration.
type WeightProfiles map[WeightProfile]MatchingWeights

// Sum returns the total of the five weights.
func (w MatchingWeights) Sum() float64 {
	return w.ConditionMatch + w.ApproachCompatibility + w.ExperienceAndSuccess +
		w.ReviewsAndRatings + w.AvailabilityAndLogistics
}

// Validate checks that no weight is negative and that they sum to 1.0.
func (w MatchingWeights) Validate() error {
	for name, v := range map[string]float64{
		"condition_match":            w.ConditionMatch,
		"approach_compatibility":     w.ApproachCompatibility,
		"experience_and_success":     w.ExperienceAndSuccess,
		"reviews_and_ratings":        w.ReviewsAndRatings,
		"availability_and_logistics": w.AvailabilityAndLogistics,
	} {
		if v < 0 {
			return NewValidationError(name, "weight must not be negative", v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > WeightSumTolerance {
		return NewValidationError("weights", fmt.Sprintf("weights must sum to 1.0, got %.3f", sum), sum)
	}
	return nil
}

// Sum returns the total of all eight weights.
func (w ExtendedMatchingWeights) Sum() float64 {
	return w.MatchingWeights.Sum() + w.EngagementCompatibility + w.PerformanceMatch + w.PreferenceMatch
}

// Validate checks that the eight weights sum to 1.0.
func (w ExtendedMatchingWeights) Validate() error {
	if sum := w.Sum(); math.Abs(sum-1.0) > WeightSumTolerance {
		return NewValidationError("weights", fmt.Sprintf("weights must sum to 1.0, got %.3f", sum), sum)
	}
	return nil
}

// DefaultMatchingWeights returns the weights used when no context applies.
func DefaultMatchingWeights() MatchingWeights {
	return MatchingWeights{
		ConditionMatch:           0.20,
		ApproachCompatibility:    0.25,
		ExperienceAndSuccess:     0.20,
		ReviewsAndRatings:        0.15,
		AvailabilityAndLogistics: 0.20,
	}
}

// HighUrgencyWeights favours clinical fit and experience over logistics.
func HighUrgencyWeights() MatchingWeights {
	return MatchingWeights{
		ConditionMatch:           0.35,
		ApproachCompatibility:    0.20,
		ExperienceAndSuccess:     0.25,
		ReviewsAndRatings:        0.10,
		AvailabilityAndLogistics: 0.10,
	}
}

// LowEngagementWeights favours low-friction logistics and preferred approaches.
func LowEngagementWeights() MatchingWeights {
	return MatchingWeights{
		ConditionMatch:           0.15,
		ApproachCompatibility:    0.25,
		ExperienceAndSuccess:     0.15,
		ReviewsAndRatings:        0.15,
		AvailabilityAndLogistics: 0.30,
	}
}

// NewClientWeights leans on social proof for clients without history.
func NewClientWeights() MatchingWeights {
	return MatchingWeights{
		ConditionMatch:           0.20,
		ApproachCompatibility:    0.20,
		ExperienceAndSuccess:     0.15,
		ReviewsAndRatings:        0.25,
		AvailabilityAndLogistics: 0.20,
	}
}

// DefaultWeightProfiles returns a fresh copy of the four built-in profiles.
func DefaultWeightProfiles() WeightProfiles {
	return WeightProfiles{
		WeightProfileDefault:       DefaultMatchingWeights(),
		WeightProfileHighUrgency:   HighUrgencyWeights(),
		WeightProfileLowEngagement: LowEngagementWeights(),
		WeightProfileNewClient:     NewClientWeights(),
	}
}

// SelectWeightProfile picks a profile from client context.
// Urgency wins over engagement, which wins over new-client status.
func SelectWeightProfile(urgency UrgencyLevel, engagement EngagementLevel, isNewClient bool) WeightProfile {
	switch {
	case urgency.IsUrgent():
		return WeightProfileHighUrgency
	case engagement.IsLow():
		return WeightProfileLowEngagement
	case isNewClient:
		return WeightProfileNewClient
	default:
		return WeightProfileDefault
	}
}

// Get returns the named profile, falling back to the default profile and
// finally to the compiled-in defaults.
func (p WeightProfiles) Get(name WeightProfile) MatchingWeights {
	if w, ok := p[name]; ok {
		return w
	}
	if w, ok := p[WeightProfileDefault]; ok {
		return w
	}
	return DefaultMatchingWeights()
}

// Select resolves the weights for a client.
func (p WeightProfiles) Select(client *Client) (WeightProfile, MatchingWeights) {
	if client == nil {
		return WeightProfileDefault, p.Get(WeightProfileDefault)
	}
	name := SelectWeightProfile(client.UrgencyLevel, client.EngagementLevel, client.IsNewClient)
	return name, p.Get(name)
}

// Validate validates every profile.
func (p WeightProfiles) Validate() error {
	for name, w := range p {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("weight profile %s: %w", name, err)
		}
	}
	return nil
}
