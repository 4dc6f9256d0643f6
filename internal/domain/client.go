package domain

import "time"

// ClinicalProfile is a client's completed clinical pre-assessment.
// Conditions maps a condition name to its severity label ("Mild", "Severe", ...).
type ClinicalProfile struct {
	Conditions  map[string]string `json:"conditions"`
	TotalScore  float64           `json:"total_score"`
	Completed   bool              `json:"completed"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Preference is an opaque key/value pair stored with the client record.
// String values that start with "[" may hold a JSON-encoded array.
type Preference struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Client is the client record supplied by the persistence collaborator.
// A nil Preferences slice means the preference collection is missing, which
// is different from an empty collection.
type Client struct {
	ID              string           `json:"id"`
	PreAssessment   *ClinicalProfile `json:"pre_assessment,omitempty"`
	Preferences     []Preference     `json:"preferences"`
	IsNewClient     bool             `json:"is_new_client"`
	UrgencyLevel    UrgencyLevel     `json:"urgency_level,omitempty"`
	EngagementLevel EngagementLevel  `json:"engagement_level,omitempty"`
	CreatedAt       time.Time        `json:"created_at,omitempty"`
}

// HasValidAssessment reports whether the client carries a completed assessment.
func (c *Client) HasValidAssessment() bool {
	return c != nil && c.PreAssessment != nil && c.PreAssessment.Completed
}
