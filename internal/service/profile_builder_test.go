package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapy-match-server/internal/domain"
)

func TestScoringTables_SeverityWeight(t *testing.T) {
	tables := DefaultScoringTables()

	tests := []struct {
		label    string
		expected int
	}{
		{"Minimal", 1},
		{"mild", 2},
		{"Moderate", 3},
		{"Moderately Severe", 4},
		{"moderately  severe", 4},
		{"Severe", 5},
		{"Very Severe", 5},
		{"EXTREME", 5},
		{"Low", 2},
		{"High", 4},
		{"Substantial", 4},
		{"Subclinical", 1},
		{"Subthreshold", 2},
		{"Clinical", 4},
		{"Positive", 4},
		{"Negative", 0},
		{"None", 0},
		{"Unheard Of", UnknownSeverityWeight},
		{"", UnknownSeverityWeight},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.expected, tables.SeverityWeight(tt.label))
		})
	}
}

func TestScoringTables_AreCopied(t *testing.T) {
	weights := map[string]int{"Severe": 5}
	approaches := []string{"CBT"}
	tables := NewScoringTables(weights, approaches)

	weights["Severe"] = 1
	approaches[0] = "changed"

	assert.Equal(t, 5, tables.SeverityWeight("severe"))
	assert.Equal(t, []string{"CBT"}, tables.EvidenceBasedApproaches())
}

func TestTermsMatch(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"CBT", "Cognitive Behavioral Therapy (CBT)", true},
		{"Depression", "depression", true},
		{"Anxiety", "Generalized Anxiety Disorder", true},
		{"Mindfulness", "Mindfulness-Based Cognitive Therapy (MBCT)", true},
		{"ACT", "Interactive Play Therapy", false},
		{"Art Therapy", "Exposure Therapy", false},
		{"Therapy", "Cognitive Behavioral Therapy (CBT)", false},
		{"Disorder", "Generalized Anxiety Disorder", false},
		{"Therapy", "therapy", true},
		{"", "CBT", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, termsMatch(tt.a, tt.b))
			assert.Equal(t, tt.expected, termsMatch(tt.b, tt.a))
		})
	}
}

func TestConditionProfileBuilder_Build(t *testing.T) {
	builder := NewConditionProfileBuilder(nil)

	t.Run("Classifies_Conditions", func(t *testing.T) {
		client := &domain.Client{
			ID: "client-1",
			PreAssessment: &domain.ClinicalProfile{
				Conditions: map[string]string{
					"Depression": "Severe",
					"Anxiety":    "Moderate",
					"Insomnia":   "Mild",
					"Stress":     "Minimal",
					"Psychosis":  "Negative",
					"OCD":        "Moderately Severe",
				},
				Completed: true,
			},
			Preferences: []domain.Preference{},
		}

		profile, err := builder.Build(client)
		require.NoError(t, err)

		assert.Equal(t, "client-1", profile.ClientID)
		assert.Equal(t, []domain.ConditionEntry{
			{Name: "Depression", Severity: "Severe", SeverityWeight: 5},
			{Name: "OCD", Severity: "Moderately Severe", SeverityWeight: 4},
		}, profile.PrimaryConditions)
		assert.Equal(t, []domain.ConditionEntry{
			{Name: "Anxiety", Severity: "Moderate", SeverityWeight: 3},
			{Name: "Insomnia", Severity: "Mild", SeverityWeight: 2},
		}, profile.SecondaryConditions)
		assert.Len(t, profile.AllConditions(), 4)
		assert.Equal(t, []string{domain.DefaultLanguage}, profile.Demographics.LanguagePreference)
	})

	t.Run("Missing_Assessment", func(t *testing.T) {
		_, err := builder.Build(&domain.Client{Preferences: []domain.Preference{}})
		assert.ErrorIs(t, err, domain.ErrNoValidPreAssessment)

		_, err = builder.Build(nil)
		assert.ErrorIs(t, err, domain.ErrNoValidPreAssessment)
	})

	t.Run("Missing_Preferences", func(t *testing.T) {
		_, err := builder.Build(&domain.Client{
			PreAssessment: &domain.ClinicalProfile{Completed: true},
		})
		assert.ErrorIs(t, err, domain.ErrNoPreferences)
	})
}

func TestConditionProfileBuilder_Preferences(t *testing.T) {
	builder := NewConditionProfileBuilder(nil)

	client := &domain.Client{
		ID:            "client-2",
		PreAssessment: &domain.ClinicalProfile{Completed: true},
		Preferences: []domain.Preference{
			{Key: "therapy_approaches", Value: `["CBT", "DBT", "cbt"]`},
			{Key: "Session Format", Value: `["online", "in-person"]`},
			{Key: "sessionDuration", Value: "50 minutes"},
			{Key: "session-frequency", Value: "weekly"},
			{Key: "ageRange", Value: "30-45"},
			{Key: "genderPreference", Value: "female"},
			{Key: "languages", Value: `["English","French"]`},
			{Key: "budget", Value: "$140"},
			{Key: "location", Value: "Ontario"},
			{Key: "insurance", Value: `["Blue Cross"]`},
			{Key: "communicationStyle", Value: "direct"},
			{Key: "therapistPersonality", Value: `["warm", "calm"]`},
			{Key: "culturalPreferences", Value: "LGBTQ+ affirming"},
			{Key: "spirituality", Value: "Christian"},
			{Key: "favouriteColour", Value: "blue"},
		},
	}

	profile := builder.BuildPartial(client)

	assert.Equal(t, []string{"CBT", "DBT"}, profile.PreferredApproaches)
	assert.Equal(t, []string{"online", "in-person"}, profile.SessionPreferences.Format)
	assert.Empty(t, profile.SessionPreferences.FormatRaw)
	assert.Equal(t, 50, profile.SessionPreferences.Duration)
	assert.Equal(t, "weekly", profile.SessionPreferences.Frequency)
	assert.Equal(t, "30-45", profile.Demographics.AgeRange)
	assert.Equal(t, "female", profile.Demographics.GenderPreference)
	assert.Equal(t, []string{"English", "French"}, profile.Demographics.LanguagePreference)
	assert.Equal(t, 140.0, profile.Logistics.MaxHourlyRate)
	assert.Equal(t, "Ontario", profile.Logistics.Province)
	assert.Equal(t, []string{"Blue Cross"}, profile.Logistics.InsuranceTypes)
	assert.Equal(t, []string{"direct"}, profile.CommunicationStyle)
	assert.Equal(t, []string{"warm", "calm"}, profile.PersonalityPreferences)
	assert.Equal(t, "LGBTQ+ affirming", profile.Demographics.CulturalPreference)
	assert.Equal(t, "Christian", profile.Demographics.SpiritualPreference)
}

func TestConditionProfileBuilder_LenientDecoding(t *testing.T) {
	builder := NewConditionProfileBuilder(nil)

	t.Run("Malformed_JSON_Falls_Back_To_Raw_String", func(t *testing.T) {
		client := &domain.Client{
			Preferences: []domain.Preference{
				{Key: "therapyApproaches", Value: `[CBT, DBT`},
			},
		}
		profile := builder.BuildPartial(client)
		assert.Equal(t, []string{"[CBT, DBT"}, profile.PreferredApproaches)
	})

	t.Run("Scalar_Format_Is_Kept_Raw", func(t *testing.T) {
		client := &domain.Client{
			Preferences: []domain.Preference{
				{Key: "sessionFormat", Value: "online"},
			},
		}
		profile := builder.BuildPartial(client)
		assert.Nil(t, profile.SessionPreferences.Format)
		assert.Equal(t, "online", profile.SessionPreferences.FormatRaw)
	})

	t.Run("Empty_Language_List_Keeps_Default", func(t *testing.T) {
		client := &domain.Client{
			Preferences: []domain.Preference{
				{Key: "languagePreference", Value: `[]`},
			},
		}
		profile := builder.BuildPartial(client)
		assert.Equal(t, []string{domain.DefaultLanguage}, profile.Demographics.LanguagePreference)
	})

	t.Run("Nil_Client", func(t *testing.T) {
		profile := builder.BuildPartial(nil)
		require.NotNil(t, profile)
		assert.Empty(t, profile.PrimaryConditions)
		assert.Equal(t, []string{domain.DefaultLanguage}, profile.Demographics.LanguagePreference)
	})
}
