// Package analytics records recommendation batches, engagement events,
// compatibility analyses and client feedback, and aggregates them into
// algorithm performance metrics.
package analytics

import (
	"context"
	"io"
	"time"

	"github.com/therapy-match-server/internal/domain"
)

// Store defines the persistence operations the recorder needs.
type Store interface {
	// InsertMatchHistory inserts a batch of rows. Rows that violate the
	// (client, therapist, batch) uniqueness constraint are skipped.
	// Returns the number of rows actually inserted.
	InsertMatchHistory(ctx context.Context, rows []*domain.MatchHistory) (int, error)

	// UpsertCompatibility stores the latest analysis for a pair.
	UpsertCompatibility(ctx context.Context, record *domain.ClientCompatibility) error

	// GetCompatibility returns the stored analysis for a pair, or nil.
	GetCompatibility(ctx context.Context, clientID, therapistID string) (*domain.ClientCompatibility, error)

	// MarkEngagement flips the event flag to true on rows for the pair where
	// it is still false. Returns the number of rows changed.
	MarkEngagement(ctx context.Context, clientID, therapistID string, event domain.EngagementEvent, at time.Time) (int64, error)

	// LatestMatchHistoryID returns the newest history row id for the pair, or nil.
	LatestMatchHistoryID(ctx context.Context, clientID, therapistID string) (*string, error)

	// InsertFeedback stores a feedback submission.
	InsertFeedback(ctx context.Context, feedback *domain.RecommendationFeedback) error

	// SummarizeMatchHistory aggregates history rows for one algorithm version.
	SummarizeMatchHistory(ctx context.Context, algorithmVersion string, window domain.TimeWindow) (*domain.MatchSummary, error)

	// AverageSatisfaction averages provided overall satisfaction ratings.
	AverageSatisfaction(ctx context.Context, window domain.TimeWindow) (float64, error)

	// InsertPerformanceSnapshot appends a metrics snapshot.
	InsertPerformanceSnapshot(ctx context.Context, snapshot *domain.AlgorithmPerformance) error

	// ListPerformanceSnapshots returns snapshots for an algorithm, newest first.
	ListPerformanceSnapshots(ctx context.Context, algorithmName string) ([]*domain.AlgorithmPerformance, error)

	// TopTherapists counts successful matches per therapist, highest first.
	TopTherapists(ctx context.Context, limit int, window domain.TimeWindow) ([]domain.TherapistPerformance, error)

	// SuccessfulMatchLists returns the condition and approach match lists of
	// rows that became client relationships.
	SuccessfulMatchLists(ctx context.Context, window domain.TimeWindow) (conditions [][]string, approaches [][]string, err error)

	// ScoreHistogram counts history rows per total score.
	ScoreHistogram(ctx context.Context, window domain.TimeWindow) (map[int]int, error)

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string                           `json:"version"`
	ExportedAt time.Time                        `json:"exported_at"`
	Count      int                              `json:"count"`
	Feedback   []*domain.RecommendationFeedback `json:"feedback"`
}

// exportVersion is written into every FeedbackExport.
const exportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// engagementColumns maps an event to its flag and timestamp columns.
func engagementColumns(event domain.EngagementEvent) (flag, at string, ok bool) {
	switch event {
	case domain.EventViewed:
		return "was_viewed", "viewed_at", true
	case domain.EventContacted:
		return "was_contacted", "contacted_at", true
	case domain.EventBecameClient:
		return "became_client", "became_client_at", true
	default:
		return "", "", false
	}
}
