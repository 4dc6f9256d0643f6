package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/therapy-match-server/internal/domain"
)

// Recognised preference keys after normalisation (lowercase, no separators).
const (
	prefApproaches    = "approaches"
	prefFormat        = "sessionformat"
	prefDuration      = "sessionduration"
	prefFrequency     = "sessionfrequency"
	prefAge           = "agerange"
	prefGender        = "genderpreference"
	prefLanguages     = "languagepreference"
	prefMaxRate       = "maxhourlyrate"
	prefProvince      = "province"
	prefInsurance     = "insurancetypes"
	prefCommunication = "communicationstyle"
	prefPersonality   = "personalitypreferences"
	prefCultural      = "culturalpreferences"
	prefSpiritual     = "spiritualpreference"
)

var preferenceAliases = map[string]string{
	"therapyapproaches":      prefApproaches,
	"preferredapproaches":    prefApproaches,
	"sessionformat":          prefFormat,
	"sessionduration":        prefDuration,
	"sessionfrequency":       prefFrequency,
	"agerange":               prefAge,
	"agepreference":          prefAge,
	"genderpreference":       prefGender,
	"languagepreference":     prefLanguages,
	"languages":              prefLanguages,
	"maxhourlyrate":          prefMaxRate,
	"budget":                 prefMaxRate,
	"province":               prefProvince,
	"location":               prefProvince,
	"insurancetypes":         prefInsurance,
	"insurance":              prefInsurance,
	"communicationstyle":     prefCommunication,
	"personalitypreferences": prefPersonality,
	"therapistpersonality":   prefPersonality,
	"culturalpreferences":    prefCultural,
	"spiritualpreference":    prefSpiritual,
	"spirituality":           prefSpiritual,
}

// ConditionProfileBuilder converts client records into condition profiles.
// The same builder is shared by the matching scorer and the compatibility
// analyzer so both read preferences the same way.
type ConditionProfileBuilder struct {
	tables *ScoringTables
}

// NewConditionProfileBuilder creates a builder. A nil tables argument selects
// the built-in tables.
func NewConditionProfileBuilder(tables *ScoringTables) *ConditionProfileBuilder {
	if tables == nil {
		tables = DefaultScoringTables()
	}
	return &ConditionProfileBuilder{tables: tables}
}

// Build returns the profile for a client that satisfies the scoring
// preconditions: a completed assessment and a preference collection.
func (b *ConditionProfileBuilder) Build(client *domain.Client) (*domain.UserConditionProfile, error) {
	if !client.HasValidAssessment() {
		return nil, domain.ErrNoValidPreAssessment
	}
	if client.Preferences == nil {
		return nil, domain.ErrNoPreferences
	}
	return b.BuildPartial(client), nil
}

// BuildPartial builds whatever profile the available data allows.
func (b *ConditionProfileBuilder) BuildPartial(client *domain.Client) *domain.UserConditionProfile {
	profile := &domain.UserConditionProfile{
		PrimaryConditions:   []domain.ConditionEntry{},
		SecondaryConditions: []domain.ConditionEntry{},
		PreferredApproaches: []string{},
		Demographics: domain.DemographicPreferences{
			LanguagePreference: []string{domain.DefaultLanguage},
		},
	}
	if client == nil {
		return profile
	}
	profile.ClientID = client.ID

	if client.PreAssessment != nil {
		b.classifyConditions(profile, client.PreAssessment.Conditions)
	}
	for _, pref := range client.Preferences {
		applyPreference(profile, pref)
	}
	return profile
}

func (b *ConditionProfileBuilder) classifyConditions(profile *domain.UserConditionProfile, conditions map[string]string) {
	names := make([]string, 0, len(conditions))
	for name := range conditions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		severity := conditions[name]
		entry := domain.ConditionEntry{
			Name:           name,
			Severity:       severity,
			SeverityWeight: b.tables.SeverityWeight(severity),
		}
		switch {
		case entry.SeverityWeight >= 4:
			profile.PrimaryConditions = append(profile.PrimaryConditions, entry)
		case entry.SeverityWeight >= 2:
			profile.SecondaryConditions = append(profile.SecondaryConditions, entry)
		}
	}
}

func applyPreference(profile *domain.UserConditionProfile, pref domain.Preference) {
	key, ok := preferenceAliases[normalizePreferenceKey(pref.Key)]
	if !ok {
		return
	}
	value := decodePreferenceValue(pref.Value)

	switch key {
	case prefApproaches:
		profile.PreferredApproaches = mergeUnique(toStringList(value))
	case prefFormat:
		if list, isList := value.([]any); isList {
			profile.SessionPreferences.Format = toStringList(list)
		} else {
			profile.SessionPreferences.FormatRaw = toString(value)
		}
	case prefDuration:
		profile.SessionPreferences.Duration = int(math.Round(toFloat(value)))
	case prefFrequency:
		profile.SessionPreferences.Frequency = toString(value)
	case prefAge:
		profile.Demographics.AgeRange = toString(value)
	case prefGender:
		profile.Demographics.GenderPreference = toString(value)
	case prefLanguages:
		if langs := mergeUnique(toStringList(value)); len(langs) > 0 {
			profile.Demographics.LanguagePreference = langs
		}
	case prefMaxRate:
		profile.Logistics.MaxHourlyRate = toFloat(value)
	case prefProvince:
		profile.Logistics.Province = toString(value)
	case prefInsurance:
		profile.Logistics.InsuranceTypes = mergeUnique(toStringList(value))
	case prefCommunication:
		profile.CommunicationStyle = mergeUnique(toStringList(value))
	case prefPersonality:
		profile.PersonalityPreferences = mergeUnique(toStringList(value))
	case prefCultural:
		profile.Demographics.CulturalPreference = toString(value)
	case prefSpiritual:
		profile.Demographics.SpiritualPreference = toString(value)
	}
}

func normalizePreferenceKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(key)))
}

// decodePreferenceValue decodes JSON-array strings. Anything that fails to
// decode is returned unchanged.
func decodePreferenceValue(v any) any {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return v
	}
	var list []any
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return s
	}
	return list
}

func toStringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := toString(val); s != "" {
			return []string{s}
		}
		return nil
	}
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		if len(val) == 0 {
			return ""
		}
		return toString(val[0])
	case []string:
		if len(val) == 0 {
			return ""
		}
		return strings.TrimSpace(val[0])
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case json.Number:
		f, _ := val.Float64()
		return f
	case []any:
		if len(val) == 0 {
			return 0
		}
		return toFloat(val[0])
	case string:
		return parseLeadingNumber(val)
	default:
		return 0
	}
}

// parseLeadingNumber reads values such as "150", "$150.50" or "60 minutes".
func parseLeadingNumber(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimLeft(s, "$€£ ")
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return f
}
