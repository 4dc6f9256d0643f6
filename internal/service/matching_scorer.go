package service

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
)

// Scoring constants for the advanced matching algorithm.
const (
	primaryConditionPoints   = 30.0
	secondaryConditionPoints = 15.0
	maxSeverityWeight        = 5.0
	expertiseBonusPerMatch   = 5.0
	maxExpertiseBonus        = 20.0

	evidenceBasedPoints    = 20.0
	maxEvidenceBasedScore  = 80.0
	diversityBonusPerEntry = 2.0
	maxDiversityBonus      = 20.0

	successRateFactor = 0.2

	neutralReviewScore     = 50.0
	reviewCountBonus       = 2.0
	maxReviewCountBonus    = 20.0
	lowSampleReviewCount   = 3
	lowSampleReviewPenalty = 0.8

	provinceMismatchPenalty  = 30.0
	overBudgetPenalty        = 40.0
	insuranceMismatchPenalty = 20.0
	languageMismatchPenalty  = 25.0
)

// MatchingScorer computes the five-factor advanced match score for a
// client/therapist pair. It holds no per-call state and is safe for
// concurrent use.
type MatchingScorer struct {
	logger  *logrus.Logger
	builder domain.ProfileBuilder
	tables  *ScoringTables
	now     func() time.Time
}

// NewMatchingScorer creates a new matching scorer
func NewMatchingScorer(logger *logrus.Logger, builder domain.ProfileBuilder, tables *ScoringTables) *MatchingScorer {
	if tables == nil {
		tables = DefaultScoringTables()
	}
	if builder == nil {
		builder = NewConditionProfileBuilder(tables)
	}
	return &MatchingScorer{
		logger:  logger,
		builder: builder,
		tables:  tables,
		now:     time.Now,
	}
}

// Score checks the preconditions, builds the client's condition profile and
// scores the therapist. Nil weights select the default profile.
func (s *MatchingScorer) Score(client *domain.Client, therapist *domain.Therapist, weights *domain.MatchingWeights) (*domain.TherapistScore, error) {
	profile, err := s.BuildProfile(client)
	if err != nil {
		return nil, err
	}
	return s.ScoreProfile(profile, therapist, weights)
}

// BuildProfile runs the client preconditions and returns the profile. Callers
// scoring many therapists for one client build it once.
func (s *MatchingScorer) BuildProfile(client *domain.Client) (*domain.UserConditionProfile, error) {
	clientID := ""
	if client != nil {
		clientID = client.ID
	}

	profile, err := s.builder.Build(client)
	switch {
	case err == nil:
		return profile, nil
	case errors.Is(err, domain.ErrNoValidPreAssessment):
		return nil, domain.NewMatchError(domain.ErrCodeNoPreAssessment, err, clientID, "")
	case errors.Is(err, domain.ErrNoPreferences):
		return nil, domain.NewMatchError(domain.ErrCodeNoPreferences, err, clientID, "")
	default:
		return nil, domain.NewMatchError(domain.ErrCodeInvalidInput, err, clientID, "")
	}
}

// ScoreProfile scores a therapist against an already built profile.
func (s *MatchingScorer) ScoreProfile(profile *domain.UserConditionProfile, therapist *domain.Therapist, weights *domain.MatchingWeights) (*domain.TherapistScore, error) {
	if profile == nil {
		return nil, domain.NewMatchError(domain.ErrCodeInvalidInput, errors.New("condition profile is required"), "", "")
	}
	if !therapist.HasValidUser() {
		therapistID := ""
		if therapist != nil {
			therapistID = therapist.ID
		}
		return nil, domain.NewMatchError(domain.ErrCodeInvalidTherapist, domain.ErrInvalidTherapistUser, profile.ClientID, therapistID)
	}

	w := domain.DefaultMatchingWeights()
	if weights != nil {
		w = *weights
	}

	therapistConditions := mergeUnique(therapist.Expertise, therapist.IllnessSpecializations)
	therapistApproaches := mergeUnique(therapist.Approaches, therapist.TherapeuticApproachesUsedList)

	condition, primaryMatches, secondaryMatches := s.conditionScore(profile, therapistConditions)
	approach, approachMatches := s.approachScore(profile, therapistApproaches)
	experience, years, successRates := s.experienceScore(profile, therapist)
	reviews, avgRating, reviewCount := s.reviewScore(therapist.Reviews)
	logistics := s.logisticsScore(profile, therapist)

	total := condition*w.ConditionMatch +
		approach*w.ApproachCompatibility +
		experience*w.ExperienceAndSuccess +
		reviews*w.ReviewsAndRatings +
		logistics*w.AvailabilityAndLogistics

	score := &domain.TherapistScore{
		TherapistID:   therapist.ID,
		TherapistName: therapist.DisplayName(),
		TotalScore:    roundScore(total),
		Breakdown: domain.ScoreBreakdown{
			ConditionMatch:           roundScore(condition),
			ApproachCompatibility:    roundScore(approach),
			ExperienceAndSuccess:     roundScore(experience),
			ReviewsAndRatings:        roundScore(reviews),
			AvailabilityAndLogistics: roundScore(logistics),
		},
		MatchExplanation: domain.MatchExplanation{
			PrimaryMatches:   primaryMatches,
			SecondaryMatches: secondaryMatches,
			ApproachMatches:  approachMatches,
			ExperienceYears:  years,
			AverageRating:    math.Round(avgRating*100) / 100,
			TotalReviews:     reviewCount,
			SuccessRates:     successRates,
		},
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":    profile.ClientID,
		"therapist_id": therapist.ID,
		"total_score":  score.TotalScore,
	}).Debug("Scored therapist")

	return score, nil
}

// conditionScore rewards therapists whose expertise covers the client's
// conditions, scaled by severity.
func (s *MatchingScorer) conditionScore(profile *domain.UserConditionProfile, therapistConditions []string) (float64, []string, []string) {
	primary := []string{}
	secondary := []string{}
	score := 0.0

	for _, c := range profile.PrimaryConditions {
		if matchesAny(c.Name, therapistConditions) {
			primary = append(primary, c.Name)
			score += primaryConditionPoints * float64(c.SeverityWeight) / maxSeverityWeight
		}
	}
	for _, c := range profile.SecondaryConditions {
		if matchesAny(c.Name, therapistConditions) {
			secondary = append(secondary, c.Name)
			score += secondaryConditionPoints * float64(c.SeverityWeight) / maxSeverityWeight
		}
	}

	matched := len(primary) + len(secondary)
	if matched == 0 {
		return 0, primary, secondary
	}
	score += math.Min(float64(matched)*expertiseBonusPerMatch, maxExpertiseBonus)
	return clampScore(score), primary, secondary
}

// approachScore compares modalities. Without stated preferences the therapist
// is scored against the evidence-based list instead.
func (s *MatchingScorer) approachScore(profile *domain.UserConditionProfile, therapistApproaches []string) (float64, []string) {
	matches := []string{}
	if len(therapistApproaches) == 0 {
		return 0, matches
	}

	var score float64
	if len(profile.PreferredApproaches) > 0 {
		for _, preferred := range profile.PreferredApproaches {
			if matchesAny(preferred, therapistApproaches) {
				matches = append(matches, preferred)
			}
		}
		score = float64(len(matches)) / float64(len(profile.PreferredApproaches)) * 100
	} else {
		for _, approach := range therapistApproaches {
			if matchesAny(approach, s.tables.evidenceBasedApproaches) {
				matches = append(matches, approach)
			}
		}
		score = math.Min(float64(len(matches))*evidenceBasedPoints, maxEvidenceBasedScore)
	}

	score += math.Min(float64(len(therapistApproaches))*diversityBonusPerEntry, maxDiversityBonus)
	return clampScore(score), matches
}

// experienceScore applies the tenure curve plus a bonus from the therapist's
// stated success rates for the client's conditions.
func (s *MatchingScorer) experienceScore(profile *domain.UserConditionProfile, therapist *domain.Therapist) (float64, int, map[string]float64) {
	years := s.effectiveYears(therapist)

	var score float64
	switch {
	case years <= 5:
		score = float64(years) * 8
	case years <= 10:
		score = 40 + float64(years-5)*6
	default:
		score = 70 + math.Min(float64(years-10)*2, 20)
	}

	rates := make(map[string]float64)
	var sum float64
	for _, c := range profile.AllConditions() {
		rate, ok := lookupSuccessRate(therapist.TreatmentSuccessRates, c.Name)
		if !ok {
			continue
		}
		rates[c.Name] = rate
		sum += rate
	}
	if len(rates) > 0 {
		score += sum / float64(len(rates)) * successRateFactor
	}

	return clampScore(score), years, rates
}

// effectiveYears is the larger of the stated experience and the full years
// since the practice start date.
func (s *MatchingScorer) effectiveYears(therapist *domain.Therapist) int {
	years := therapist.YearsOfExperience
	if therapist.PracticeStartDate != nil {
		now := s.now()
		start := *therapist.PracticeStartDate
		since := now.Year() - start.Year()
		if now.Before(start.AddDate(since, 0, 0)) {
			since--
		}
		if since > years {
			years = since
		}
	}
	if years < 0 {
		return 0
	}
	return years
}

func lookupSuccessRate(rates map[string]float64, condition string) (float64, bool) {
	if rate, ok := rates[condition]; ok {
		return math.Max(0, math.Min(rate, 100)), true
	}
	for name, rate := range rates {
		if termsMatch(name, condition) {
			return math.Max(0, math.Min(rate, 100)), true
		}
	}
	return 0, false
}

// reviewScore only counts approved reviews.
func (s *MatchingScorer) reviewScore(reviews []domain.Review) (float64, float64, int) {
	var sum float64
	count := 0
	for _, r := range reviews {
		if r.Status != domain.ReviewApproved {
			continue
		}
		sum += float64(r.Rating)
		count++
	}
	if count == 0 {
		return neutralReviewScore, 0, 0
	}

	avg := sum / float64(count)
	score := (avg-1)/4*100 + math.Min(float64(count)*reviewCountBonus, maxReviewCountBonus)
	if count < lowSampleReviewCount {
		score *= lowSampleReviewPenalty
	}
	return clampScore(score), avg, count
}

// logisticsScore starts at 100 and subtracts a penalty per unmet constraint.
func (s *MatchingScorer) logisticsScore(profile *domain.UserConditionProfile, therapist *domain.Therapist) float64 {
	score := 100.0
	logistics := profile.Logistics

	if logistics.Province != "" && !strings.EqualFold(strings.TrimSpace(logistics.Province), strings.TrimSpace(therapist.Province)) {
		score -= provinceMismatchPenalty
	}
	if logistics.MaxHourlyRate > 0 && logistics.MaxHourlyRate < therapist.HourlyRate {
		score -= overBudgetPenalty
	}
	if len(logistics.InsuranceTypes) > 0 && therapist.AcceptsInsurance &&
		overlapCount(logistics.InsuranceTypes, therapist.AcceptedInsuranceTypes) == 0 {
		score -= insuranceMismatchPenalty
	}
	if overlapCount(clientLanguages(profile), therapistLanguages(therapist)) == 0 {
		score -= languageMismatchPenalty
	}

	return clampScore(score)
}

func clientLanguages(profile *domain.UserConditionProfile) []string {
	if len(profile.Demographics.LanguagePreference) == 0 {
		return []string{domain.DefaultLanguage}
	}
	return profile.Demographics.LanguagePreference
}

func therapistLanguages(therapist *domain.Therapist) []string {
	langs := mergeUnique(therapist.LanguagesOffered)
	if len(langs) == 0 {
		return []string{domain.DefaultLanguage}
	}
	return langs
}

func roundScore(v float64) int {
	return int(math.Round(clampScore(v)))
}
