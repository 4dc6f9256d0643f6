package domain

// DefaultLanguage is assumed on both sides when no language is stated.
const DefaultLanguage = "English"

// ConditionEntry is one classified condition with its severity weight (0-5).
type ConditionEntry struct {
	Name           string `json:"name"`
	Severity       string `json:"severity"`
	SeverityWeight int    `json:"severity_weight"`
}

// SessionPreferences holds the client's stated session format, length and cadence.
// Format is only set when the stored value was a list; a scalar value is kept
// in FormatRaw.
type SessionPreferences struct {
	Format    []string `json:"format,omitempty"`
	FormatRaw string   `json:"format_raw,omitempty"`
	Duration  int      `json:"duration,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
}

// DemographicPreferences holds what the client asked for in a therapist.
type DemographicPreferences struct {
	AgeRange            string   `json:"age_range,omitempty"`
	GenderPreference    string   `json:"gender_preference,omitempty"`
	LanguagePreference  []string `json:"language_preference"`
	CulturalPreference  string   `json:"cultural_preference,omitempty"`
	SpiritualPreference string   `json:"spiritual_preference,omitempty"`
}

// LogisticsPreferences holds budget, region and insurance constraints.
type LogisticsPreferences struct {
	MaxHourlyRate  float64  `json:"max_hourly_rate,omitempty"`
	Province       string   `json:"province,omitempty"`
	InsuranceTypes []string `json:"insurance_types,omitempty"`
}

// UserConditionProfile is derived from a client record for every scoring call.
// Each assessed condition lands in exactly one of PrimaryConditions (weight >= 4)
// or SecondaryConditions (weight 2-3); lower weights are dropped.
type UserConditionProfile struct {
	ClientID               string                 `json:"client_id"`
	PrimaryConditions      []ConditionEntry       `json:"primary_conditions"`
	SecondaryConditions    []ConditionEntry       `json:"secondary_conditions"`
	PreferredApproaches    []string               `json:"preferred_approaches"`
	SessionPreferences     SessionPreferences     `json:"session_preferences"`
	Demographics           DemographicPreferences `json:"demographics"`
	Logistics              LogisticsPreferences   `json:"logistics"`
	CommunicationStyle     []string               `json:"communication_style,omitempty"`
	PersonalityPreferences []string               `json:"personality_preferences,omitempty"`
}

// AllConditions returns primary followed by secondary conditions.
func (p *UserConditionProfile) AllConditions() []ConditionEntry {
	all := make([]ConditionEntry, 0, len(p.PrimaryConditions)+len(p.SecondaryConditions))
	all = append(all, p.PrimaryConditions...)
	return append(all, p.SecondaryConditions...)
}
