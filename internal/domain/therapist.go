package domain

import "time"

// TherapistUser is the identity record linked to a therapist profile.
type TherapistUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Review is a client review of a therapist.
type Review struct {
	ID        string       `json:"id,omitempty"`
	Rating    int          `json:"rating"`
	Status    ReviewStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Therapist is the therapist record supplied by the persistence collaborator.
// Every list and map field is optional; scoring treats missing values as empty.
type Therapist struct {
	ID                                string             `json:"id"`
	User                              *TherapistUser     `json:"user,omitempty"`
	Expertise                         []string           `json:"expertise,omitempty"`
	IllnessSpecializations            []string           `json:"illness_specializations,omitempty"`
	Approaches                        []string           `json:"approaches,omitempty"`
	TherapeuticApproachesUsedList     []string           `json:"therapeutic_approaches_used_list,omitempty"`
	TreatmentSuccessRates             map[string]float64 `json:"treatment_success_rates,omitempty"`
	YearsOfExperience                 int                `json:"years_of_experience,omitempty"`
	PracticeStartDate                 *time.Time         `json:"practice_start_date,omitempty"`
	LanguagesOffered                  []string           `json:"languages_offered,omitempty"`
	HourlyRate                        float64            `json:"hourly_rate,omitempty"`
	Province                          string             `json:"province,omitempty"`
	AcceptedInsuranceTypes            []string           `json:"accepted_insurance_types,omitempty"`
	AcceptsInsurance                  bool               `json:"accepts_insurance"`
	ProvidedOnlineTherapyBefore       bool               `json:"provided_online_therapy_before"`
	ComfortableUsingVideoConferencing bool               `json:"comfortable_using_video_conferencing"`
	PreferredSessionLength            []int              `json:"preferred_session_length,omitempty"`
	Reviews                           []Review           `json:"reviews,omitempty"`
}

// HasValidUser reports whether the therapist has usable identity information.
func (t *Therapist) HasValidUser() bool {
	return t != nil && t.User != nil && t.User.ID != ""
}

// DisplayName returns the linked user's name, or an empty string.
func (t *Therapist) DisplayName() string {
	if t == nil || t.User == nil {
		return ""
	}
	return t.User.Name
}
