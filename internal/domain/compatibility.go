package domain

// PersonalityCompatibility scores how the therapist's style fits the client.
type PersonalityCompatibility struct {
	CommunicationStyle    int `json:"communication_style"`
	PersonalityMatch      int `json:"personality_match"`
	CulturalCompatibility int `json:"cultural_compatibility"`
	OverallCompatibility  int `json:"overall_compatibility"`
}

// SessionCompatibility scores session logistics.
type SessionCompatibility struct {
	FormatMatch          int `json:"format_match"`
	DurationMatch        int `json:"duration_match"`
	FrequencyMatch       int `json:"frequency_match"`
	SchedulingMatch      int `json:"scheduling_match"`
	OverallCompatibility int `json:"overall_compatibility"`
}

// DemographicCompatibility scores demographic preferences.
type DemographicCompatibility struct {
	AgeCompatibility      int `json:"age_compatibility"`
	GenderCompatibility   int `json:"gender_compatibility"`
	LanguageCompatibility int `json:"language_compatibility"`
	CulturalBackground    int `json:"cultural_background"`
	OverallCompatibility  int `json:"overall_compatibility"`
}

// CompatibilityFactors are human-readable notes derived from the scores.
type CompatibilityFactors struct {
	Strengths       []string `json:"strengths"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

// CompatibilityAnalysis is the advisory output of the compatibility analyzer.
type CompatibilityAnalysis struct {
	TherapistID               string                   `json:"therapist_id"`
	PersonalityCompatibility  PersonalityCompatibility `json:"personality_compatibility"`
	SessionCompatibility      SessionCompatibility     `json:"session_compatibility"`
	DemographicCompatibility  DemographicCompatibility `json:"demographic_compatibility"`
	OverallCompatibilityScore int                      `json:"overall_compatibility_score"`
	CompatibilityFactors      CompatibilityFactors     `json:"compatibility_factors"`
}
