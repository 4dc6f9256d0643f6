// Package domain contains the core entities of the therapist matching engine:
// client and therapist records consumed from the persistence collaborator,
// the derived condition profile, weight profiles, score/compatibility results
// and the analytics records written back after a recommendation.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ReviewStatus is the moderation state of a therapist review.
// Only APPROVED reviews contribute to scoring.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// UrgencyLevel describes how quickly a client needs care.
type UrgencyLevel string

const (
	UrgencyLow      UrgencyLevel = "low"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyCritical UrgencyLevel = "critical"
)

// EngagementLevel describes how engaged a client has been with the platform.
type EngagementLevel string

const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

// EngagementEvent is a downstream event tracked against a recommendation.
type EngagementEvent string

const (
	EventViewed       EngagementEvent = "viewed"
	EventContacted    EngagementEvent = "contacted"
	EventBecameClient EngagementEvent = "became_client"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidReviewStatus = errors.New("invalid review status")
	ErrInvalidEvent        = errors.New("invalid engagement event")
)

// IsValid reports whether the status is one of the known moderation states.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return true
	default:
		return false
	}
}

// ParseReviewStatus parses a case-insensitive review status.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	status := ReviewStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidReviewStatus, s)
	}
	return status, nil
}

// IsUrgent reports whether the urgency level should switch scoring to the
// high-urgency weight profile.
func (u UrgencyLevel) IsUrgent() bool {
	switch UrgencyLevel(strings.ToLower(string(u))) {
	case UrgencyHigh, UrgencyCritical:
		return true
	default:
		return false
	}
}

// IsLow reports whether the engagement level is low.
func (e EngagementLevel) IsLow() bool {
	return EngagementLevel(strings.ToLower(string(e))) == EngagementLow
}

// IsValid reports whether the event is one of the tracked engagement events.
func (e EngagementEvent) IsValid() bool {
	switch e {
	case EventViewed, EventContacted, EventBecameClient:
		return true
	default:
		return false
	}
}

// ParseEngagementEvent maps route/action names onto engagement events.
func ParseEngagementEvent(s string) (EngagementEvent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "view", "viewed":
		return EventViewed, nil
	case "contact", "contacted":
		return EventContacted, nil
	case "success", "became_client", "became-client":
		return EventBecameClient, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidEvent, s)
	}
}
