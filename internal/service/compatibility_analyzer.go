package service

import (
	"math"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
)

// Baselines and thresholds of the compatibility analysis.
const (
	baseCommunicationScore = 70.0
	basePersonalityScore   = 70.0
	baseCulturalScore      = 80.0
	baseFormatScore        = 70.0
	schedulingScore        = 80.0

	durationMatchScore      = 90.0
	durationMismatchScore   = 60.0
	durationNeutralScore    = 80.0
	durationToleranceMin    = 10
	frequencyStatedScore    = 85.0
	frequencyNeutralScore   = 80.0
	openPreferenceScore     = 90.0
	specificPreferenceScore = 75.0

	strengthThreshold       = 80
	concernThreshold        = 60
	recommendationThreshold = 70
)

// Canned factor strings.
const (
	StrengthFormat        = "Session format aligns well with your preferences"
	StrengthCommunication = "Therapist's approach matches your preferred communication style"
	StrengthPersonality   = "Therapeutic style is well suited to your needs"
	StrengthLanguage      = "Therapist offers your preferred language"

	ConcernCommunication = "Communication style may not match your preferences"
	ConcernFormat        = "Session format may not fully meet your needs"
	ConcernLanguage      = "Limited overlap in preferred languages"

	RecommendPersonality = "Discuss communication and personality preferences in your first session"
	RecommendSession     = "Confirm session format, length and frequency before booking"
	RecommendDemographic = "Ask about language and cultural considerations during the consultation"
)

// communicationFamilies maps a communication style to the modalities that
// suit it.
var communicationFamilies = map[string][]string{
	"direct":     {"CBT", "Cognitive Behavioral", "DBT", "Dialectical Behavior", "Solution-Focused"},
	"gentle":     {"Person-Centered", "Client-Centered", "Humanistic", "Mindfulness"},
	"structured": {"CBT", "Cognitive Behavioral", "DBT", "Dialectical Behavior", "Exposure", "EMDR"},
	"flexible":   {"Integrative", "Eclectic", "Psychodynamic"},
}

var (
	cbtApproaches        = []string{"CBT", "Cognitive Behavioral"}
	emdrApproaches       = []string{"EMDR", "Eye Movement Desensitization"}
	iptApproaches        = []string{"IPT", "Interpersonal"}
	structuredApproaches = []string{"CBT", "Cognitive Behavioral", "ERP", "Exposure"}
	behavioralApproaches = []string{"Behavioral", "Behavioural", "Behavior", "ABA"}
	warmApproaches       = []string{"Person-Centered", "Client-Centered"}
	spiritualApproaches  = []string{"Spiritual Therapy", "Spiritual", "Faith-Based"}
)

// CompatibilityAnalyzer produces the advisory three-dimension compatibility
// analysis. It never fails: missing data falls back to neutral scores.
type CompatibilityAnalyzer struct {
	logger  *logrus.Logger
	builder domain.ProfileBuilder
}

// NewCompatibilityAnalyzer creates a new compatibility analyzer
func NewCompatibilityAnalyzer(logger *logrus.Logger, builder domain.ProfileBuilder) *CompatibilityAnalyzer {
	if builder == nil {
		builder = NewConditionProfileBuilder(nil)
	}
	return &CompatibilityAnalyzer{
		logger:  logger,
		builder: builder,
	}
}

// Analyze computes the compatibility analysis for a client/therapist pair.
func (a *CompatibilityAnalyzer) Analyze(client *domain.Client, therapist *domain.Therapist) *domain.CompatibilityAnalysis {
	if therapist == nil {
		therapist = &domain.Therapist{}
	}
	profile := a.builder.BuildPartial(client)
	approaches := mergeUnique(therapist.Approaches, therapist.TherapeuticApproachesUsedList)

	personality := a.personalityCompatibility(profile, therapist, approaches)
	session := a.sessionCompatibility(profile, therapist)
	demographic := a.demographicCompatibility(profile, therapist, approaches)

	overall := 0.4*float64(personality.OverallCompatibility) +
		0.3*float64(session.OverallCompatibility) +
		0.3*float64(demographic.OverallCompatibility)

	analysis := &domain.CompatibilityAnalysis{
		TherapistID:               therapist.ID,
		PersonalityCompatibility:  personality,
		SessionCompatibility:      session,
		DemographicCompatibility:  demographic,
		OverallCompatibilityScore: roundScore(overall),
	}
	analysis.CompatibilityFactors = compatibilityFactors(analysis)

	a.logger.WithFields(logrus.Fields{
		"client_id":     profile.ClientID,
		"therapist_id":  therapist.ID,
		"overall_score": analysis.OverallCompatibilityScore,
	}).Debug("Analyzed compatibility")

	return analysis
}

func (a *CompatibilityAnalyzer) personalityCompatibility(profile *domain.UserConditionProfile, therapist *domain.Therapist, approaches []string) domain.PersonalityCompatibility {
	communication := communicationStyleScore(profile, approaches)
	personality := personalityMatchScore(profile, approaches)
	cultural := culturalCompatibilityScore(profile, therapist, approaches)

	return domain.PersonalityCompatibility{
		CommunicationStyle:    roundScore(communication),
		PersonalityMatch:      roundScore(personality),
		CulturalCompatibility: roundScore(cultural),
		OverallCompatibility:  roundScore(0.4*communication + 0.4*personality + 0.2*cultural),
	}
}

func communicationStyleScore(profile *domain.UserConditionProfile, approaches []string) float64 {
	score := baseCommunicationScore

	for _, style := range profile.CommunicationStyle {
		words := termTokens(style)
		for name, family := range communicationFamilies {
			if slices.Contains(words, name) && offersAny(approaches, family) {
				score += 20
			}
		}
	}

	if hasCondition(profile, "anxiety") && offersAny(approaches, cbtApproaches) {
		score += 10
	}
	if (hasCondition(profile, "ptsd") || hasCondition(profile, "trauma")) && offersAny(approaches, emdrApproaches) {
		score += 15
	}
	if hasCondition(profile, "depression") && offersAny(approaches, iptApproaches) {
		score += 10
	}

	return math.Min(score, 100)
}

func personalityMatchScore(profile *domain.UserConditionProfile, approaches []string) float64 {
	score := basePersonalityScore

	if hasCondition(profile, "social anxiety") && prefers(profile.PersonalityPreferences, "calm") {
		score += 15
	}
	if (hasCondition(profile, "ocd") || hasCondition(profile, "obsessive")) && offersAny(approaches, structuredApproaches) {
		score += 20
	}
	if (hasCondition(profile, "adhd") || hasCondition(profile, "attention deficit")) && offersAny(approaches, behavioralApproaches) {
		score += 15
	}
	if prefers(profile.PersonalityPreferences, "warm") && offersAny(approaches, warmApproaches) {
		score += 15
	}

	return math.Min(score, 100)
}

// culturalCompatibilityScore is shared by the personality and demographic
// dimensions.
func culturalCompatibilityScore(profile *domain.UserConditionProfile, therapist *domain.Therapist, approaches []string) float64 {
	score := baseCulturalScore

	shared := overlapCount(clientLanguages(profile), therapistLanguages(therapist))
	switch {
	case shared == 0:
		score -= 30
	case shared >= 2:
		score += 10
	}

	offersSpiritual := offersAny(approaches, spiritualApproaches)
	switch spiritualStance(profile.Demographics.SpiritualPreference) {
	case spiritualWanted:
		if offersSpiritual {
			score += 15
		} else {
			score -= 15
		}
	case spiritualSecular:
		if offersSpiritual {
			score -= 20
		}
	}

	return clampScore(score)
}

type spiritualPreference int

const (
	spiritualIndifferent spiritualPreference = iota
	spiritualWanted
	spiritualSecular
)

func spiritualStance(pref string) spiritualPreference {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "", "any", "no preference", "not important", "doesn't matter":
		return spiritualIndifferent
	case "none", "no", "secular", "non-spiritual", "not spiritual", "false":
		return spiritualSecular
	default:
		return spiritualWanted
	}
}

func (a *CompatibilityAnalyzer) sessionCompatibility(profile *domain.UserConditionProfile, therapist *domain.Therapist) domain.SessionCompatibility {
	format := formatScore(profile.SessionPreferences, therapist)
	duration := durationScore(profile.SessionPreferences.Duration, therapist.PreferredSessionLength)
	frequency := frequencyNeutralScore
	if profile.SessionPreferences.Frequency != "" {
		frequency = frequencyStatedScore
	}

	return domain.SessionCompatibility{
		FormatMatch:          roundScore(format),
		DurationMatch:        roundScore(duration),
		FrequencyMatch:       roundScore(frequency),
		SchedulingMatch:      roundScore(schedulingScore),
		OverallCompatibility: roundScore(0.3*format + 0.2*duration + 0.2*frequency + 0.3*schedulingScore),
	}
}

// formatScore only evaluates list-valued format preferences; a scalar value
// keeps the neutral baseline.
func formatScore(prefs domain.SessionPreferences, therapist *domain.Therapist) float64 {
	score := baseFormatScore
	if prefs.Format == nil {
		return score
	}

	wantsOnline := prefers(prefs.Format, "online", "virtual", "video", "remote", "telehealth")
	wantsInPerson := prefers(prefs.Format, "in-person", "in person", "inperson", "office", "face")

	if wantsOnline && therapist.ProvidedOnlineTherapyBefore {
		score += 15
	}
	if wantsInPerson {
		score += 15
	}
	if wantsOnline && !wantsInPerson && !therapist.ComfortableUsingVideoConferencing {
		score -= 25
	}
	return clampScore(score)
}

func durationScore(preferred int, lengths []int) float64 {
	if preferred <= 0 {
		return durationNeutralScore
	}
	for _, l := range lengths {
		diff := l - preferred
		if diff < 0 {
			diff = -diff
		}
		if diff <= durationToleranceMin {
			return durationMatchScore
		}
	}
	return durationMismatchScore
}

func (a *CompatibilityAnalyzer) demographicCompatibility(profile *domain.UserConditionProfile, therapist *domain.Therapist, approaches []string) domain.DemographicCompatibility {
	age := openOrSpecificScore(profile.Demographics.AgeRange)
	gender := openOrSpecificScore(profile.Demographics.GenderPreference)
	language := languageCompatibilityScore(profile, therapist)
	culture := culturalCompatibilityScore(profile, therapist, approaches)

	return domain.DemographicCompatibility{
		AgeCompatibility:      roundScore(age),
		GenderCompatibility:   roundScore(gender),
		LanguageCompatibility: roundScore(language),
		CulturalBackground:    roundScore(culture),
		OverallCompatibility:  roundScore(0.2*age + 0.3*gender + 0.3*language + 0.2*culture),
	}
}

// openOrSpecificScore scores age and gender preferences. Therapist
// demographics are not part of the record, so a specific preference can
// only be scored as neutral.
func openOrSpecificScore(pref string) float64 {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case "", "any", "no preference", "none":
		return openPreferenceScore
	default:
		return specificPreferenceScore
	}
}

func languageCompatibilityScore(profile *domain.UserConditionProfile, therapist *domain.Therapist) float64 {
	wanted := clientLanguages(profile)
	shared := overlapCount(wanted, therapistLanguages(therapist))
	if shared == 0 {
		return 20
	}
	return 20 + float64(shared)/float64(len(wanted))*80
}

func compatibilityFactors(analysis *domain.CompatibilityAnalysis) domain.CompatibilityFactors {
	p := analysis.PersonalityCompatibility
	s := analysis.SessionCompatibility
	d := analysis.DemographicCompatibility

	factors := domain.CompatibilityFactors{
		Strengths:       []string{},
		Concerns:        []string{},
		Recommendations: []string{},
	}

	if s.FormatMatch >= strengthThreshold {
		factors.Strengths = append(factors.Strengths, StrengthFormat)
	}
	if p.CommunicationStyle >= strengthThreshold {
		factors.Strengths = append(factors.Strengths, StrengthCommunication)
	}
	if p.PersonalityMatch >= strengthThreshold {
		factors.Strengths = append(factors.Strengths, StrengthPersonality)
	}
	if d.LanguageCompatibility >= strengthThreshold {
		factors.Strengths = append(factors.Strengths, StrengthLanguage)
	}

	if p.CommunicationStyle < concernThreshold {
		factors.Concerns = append(factors.Concerns, ConcernCommunication)
	}
	if s.FormatMatch < concernThreshold {
		factors.Concerns = append(factors.Concerns, ConcernFormat)
	}
	if d.LanguageCompatibility < concernThreshold {
		factors.Concerns = append(factors.Concerns, ConcernLanguage)
	}

	if p.OverallCompatibility < recommendationThreshold {
		factors.Recommendations = append(factors.Recommendations, RecommendPersonality)
	}
	if s.OverallCompatibility < recommendationThreshold {
		factors.Recommendations = append(factors.Recommendations, RecommendSession)
	}
	if d.OverallCompatibility < recommendationThreshold {
		factors.Recommendations = append(factors.Recommendations, RecommendDemographic)
	}

	return factors
}

func hasCondition(profile *domain.UserConditionProfile, keyword string) bool {
	for _, c := range profile.AllConditions() {
		if strings.Contains(strings.ToLower(c.Name), keyword) {
			return true
		}
	}
	return false
}

// prefers reports whether any stated value contains one of the keywords.
func prefers(values []string, keywords ...string) bool {
	for _, v := range values {
		lower := strings.ToLower(v)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
	}
	return false
}

func offersAny(approaches, family []string) bool {
	for _, f := range family {
		if matchesAny(f, approaches) {
			return true
		}
	}
	return false
}
