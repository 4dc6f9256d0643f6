package analytics

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/therapy-match-server/internal/domain"
)

// TherapistDirectory resolves therapist identity for analytics reports.
type TherapistDirectory interface {
	GetTherapist(ctx context.Context, id string) (*domain.Therapist, error)
}

// Recorder is the best-effort analytics side channel. Writes are queued and
// applied by a single background worker; reads go straight to the store.
// No method returns a store failure to the caller except ExportFeedback.
type Recorder struct {
	store     Store
	logger    *logrus.Logger
	breaker   *gobreaker.CircuitBreaker
	directory TherapistDirectory
	config    domain.AnalyticsConfig
	now       func() time.Time

	tasks   chan task
	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	wg      sync.WaitGroup
}

type task struct {
	name   string
	ctx    context.Context
	fields logrus.Fields
	run    func(ctx context.Context) error
}

// RecorderOption configures optional Recorder collaborators.
type RecorderOption func(*Recorder)

// WithTherapistDirectory enriches top-therapist reports with names.
func WithTherapistDirectory(directory TherapistDirectory) RecorderOption {
	return func(r *Recorder) {
		r.directory = directory
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a recorder. Call Start to begin applying writes.
func NewRecorder(store Store, logger *logrus.Logger, config domain.AnalyticsConfig, opts ...RecorderOption) *Recorder {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.BreakerMaxRequests == 0 {
		config.BreakerMaxRequests = 3
	}
	if config.BreakerInterval == 0 {
		config.BreakerInterval = 60 * time.Second
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 30 * time.Second
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}

	r := &Recorder{
		store:  store,
		logger: logger,
		config: config,
		now:    time.Now,
		tasks:  make(chan task, config.QueueSize),
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analytics-store",
		MaxRequests: config.BreakerMaxRequests,
		Interval:    config.BreakerInterval,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from,
				"to_state":        to,
			}).Warn("Circuit breaker state changed")
		},
	})

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the background worker. Calling it more than once is a no-op.
func (r *Recorder) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for t := range r.tasks {
			r.execute(t)
		}
	}()
}

// Stop stops accepting writes and waits for queued writes to finish or ctx to
// expire. Without a running worker the queue is drained on the caller.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.tasks)
	r.mu.Unlock()

	if !r.started.Load() {
		for t := range r.tasks {
			r.execute(t)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analytics recorder did not drain: %w", ctx.Err())
	}
}

// Pending returns the number of queued writes.
func (r *Recorder) Pending() int {
	return len(r.tasks)
}

// BreakerState reports the store circuit breaker state.
func (r *Recorder) BreakerState() string {
	return r.breaker.State().String()
}

func (r *Recorder) enqueue(ctx context.Context, name string, fields logrus.Fields, run func(ctx context.Context) error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	logger := r.logger.WithFields(fields).WithField("operation", name)
	if r.closed {
		logger.Warn("Analytics recorder stopped, dropping event")
		return
	}

	t := task{
		name:   name,
		ctx:    context.WithoutCancel(ctx),
		fields: fields,
		run:    run,
	}

	select {
	case r.tasks <- t:
	default:
		logger.Warn("Analytics queue full, dropping event")
	}
}

func (r *Recorder) execute(t task) {
	logger := r.logger.WithFields(t.fields).WithField("operation", t.name)
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithField("panic", rec).Error("Analytics write panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(t.ctx, r.config.WriteTimeout)
	defer cancel()

	if err := r.guard(func() error { return t.run(ctx) }); err != nil {
		logger.WithError(err).Warn("Analytics write failed")
		return
	}
	logger.Debug("Analytics write applied")
}

// guard runs fn through the store circuit breaker.
func (r *Recorder) guard(fn func() error) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// TrackRecommendation records one ranked batch. Rows carry 1-indexed ranks
// in the order given and share a freshly generated batch id.
func (r *Recorder) TrackRecommendation(ctx context.Context, clientID string, scores []domain.TherapistScore, algorithmVersion string) {
	if len(scores) == 0 {
		return
	}
	if algorithmVersion == "" {
		algorithmVersion = domain.DefaultAlgorithmVersion
	}

	batchID := uuid.NewString()
	createdAt := r.now().UTC()
	rows := make([]*domain.MatchHistory, 0, len(scores))
	for i, score := range scores {
		rows = append(rows, &domain.MatchHistory{
			ID:                   uuid.NewString(),
			BatchID:              batchID,
			ClientID:             clientID,
			TherapistID:          score.TherapistID,
			TotalScore:           score.TotalScore,
			ConditionScore:       score.Breakdown.ConditionMatch,
			ApproachScore:        score.Breakdown.ApproachCompatibility,
			ExperienceScore:      score.Breakdown.ExperienceAndSuccess,
			ReviewScore:          score.Breakdown.ReviewsAndRatings,
			LogisticsScore:       score.Breakdown.AvailabilityAndLogistics,
			PrimaryMatches:       append([]string(nil), score.MatchExplanation.PrimaryMatches...),
			SecondaryMatches:     append([]string(nil), score.MatchExplanation.SecondaryMatches...),
			ApproachMatches:      append([]string(nil), score.MatchExplanation.ApproachMatches...),
			RecommendationRank:   i + 1,
			TotalRecommendations: len(scores),
			AlgorithmVersion:     algorithmVersion,
			CreatedAt:            createdAt,
		})
	}

	fields := logrus.Fields{
		"client_id":         clientID,
		"batch_id":          batchID,
		"algorithm_version": algorithmVersion,
		"batch_size":        len(rows),
	}
	r.enqueue(ctx, "track_recommendation", fields, func(ctx context.Context) error {
		inserted, err := r.store.InsertMatchHistory(ctx, rows)
		if err != nil {
			return err
		}
		if inserted < len(rows) {
			r.logger.WithFields(fields).WithField("inserted", inserted).Debug("Skipped duplicate match history rows")
		}
		return nil
	})
}

// TrackCompatibilityAnalysis upserts the latest analysis for the pair.
func (r *Recorder) TrackCompatibilityAnalysis(ctx context.Context, clientID, therapistID string, analysis *domain.CompatibilityAnalysis, analysisVersion string) {
	if analysis == nil {
		return
	}
	if analysisVersion == "" {
		analysisVersion = domain.DefaultAnalysisVersion
	}

	record := &domain.ClientCompatibility{
		ClientID:        clientID,
		TherapistID:     therapistID,
		OverallScore:    analysis.OverallCompatibilityScore,
		Analysis:        *analysis,
		AnalysisVersion: analysisVersion,
		UpdatedAt:       r.now().UTC(),
	}

	fields := logrus.Fields{"client_id": clientID, "therapist_id": therapistID}
	r.enqueue(ctx, "track_compatibility", fields, func(ctx context.Context) error {
		return r.store.UpsertCompatibility(ctx, record)
	})
}

// TrackEngagement marks an engagement event on the pair's history rows.
// Rows already carrying the flag are left untouched.
func (r *Recorder) TrackEngagement(ctx context.Context, clientID, therapistID string, event domain.EngagementEvent) {
	fields := logrus.Fields{"client_id": clientID, "therapist_id": therapistID, "event": event}
	if !event.IsValid() {
		r.logger.WithFields(fields).Warn("Ignoring unknown engagement event")
		return
	}

	at := r.now().UTC()
	r.enqueue(ctx, "track_engagement", fields, func(ctx context.Context) error {
		updated, err := r.store.MarkEngagement(ctx, clientID, therapistID, event, at)
		if err != nil {
			return err
		}
		if updated == 0 {
			r.logger.WithFields(fields).Debug("No unmarked match history rows for engagement")
		}
		return nil
	})
}

// TrackRecommendationView marks the pair as viewed.
func (r *Recorder) TrackRecommendationView(ctx context.Context, clientID, therapistID string) {
	r.TrackEngagement(ctx, clientID, therapistID, domain.EventViewed)
}

// TrackTherapistContact marks the pair as contacted.
func (r *Recorder) TrackTherapistContact(ctx context.Context, clientID, therapistID string) {
	r.TrackEngagement(ctx, clientID, therapistID, domain.EventContacted)
}

// TrackSuccessfulMatch marks the pair as an established client relationship.
func (r *Recorder) TrackSuccessfulMatch(ctx context.Context, clientID, therapistID string) {
	r.TrackEngagement(ctx, clientID, therapistID, domain.EventBecameClient)
}

// RecordRecommendationFeedback stores feedback linked to the most recent
// match history row for the pair, when one exists.
func (r *Recorder) RecordRecommendationFeedback(ctx context.Context, clientID, therapistID string, input domain.FeedbackInput) {
	fields := logrus.Fields{"client_id": clientID, "therapist_id": therapistID}
	if err := input.Validate(); err != nil {
		r.logger.WithFields(fields).WithError(err).Warn("Ignoring invalid recommendation feedback")
		return
	}

	feedback := &domain.RecommendationFeedback{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		TherapistID:   therapistID,
		FeedbackInput: input,
		CreatedAt:     r.now().UTC(),
	}

	r.enqueue(ctx, "record_feedback", fields, func(ctx context.Context) error {
		historyID, err := r.store.LatestMatchHistoryID(ctx, clientID, therapistID)
		if err != nil {
			return err
		}
		feedback.MatchHistoryID = historyID
		return r.store.InsertFeedback(ctx, feedback)
	})
}

// StorePerformanceSnapshot appends a metrics snapshot for an algorithm.
func (r *Recorder) StorePerformanceSnapshot(ctx context.Context, algorithmName, algorithmVersion string, start, end time.Time, metrics domain.MatchingMetrics) {
	snapshot := &domain.AlgorithmPerformance{
		ID:               uuid.NewString(),
		AlgorithmName:    algorithmName,
		AlgorithmVersion: algorithmVersion,
		PeriodStart:      start.UTC(),
		PeriodEnd:        end.UTC(),
		Metrics:          metrics,
		CreatedAt:        r.now().UTC(),
	}

	fields := logrus.Fields{"algorithm_name": algorithmName, "algorithm_version": algorithmVersion}
	r.enqueue(ctx, "store_snapshot", fields, func(ctx context.Context) error {
		return r.store.InsertPerformanceSnapshot(ctx, snapshot)
	})
}

// GetAlgorithmPerformance aggregates match history for one algorithm within
// the window. Zero bounds are open. Failures yield zero metrics.
func (r *Recorder) GetAlgorithmPerformance(ctx context.Context, algorithmName string, start, end time.Time) domain.MatchingMetrics {
	window := windowOf(start, end)

	var summary *domain.MatchSummary
	var satisfaction float64
	err := r.guard(func() error {
		var err error
		summary, err = r.store.SummarizeMatchHistory(ctx, algorithmName, window)
		if err != nil {
			return err
		}
		satisfaction, err = r.store.AverageSatisfaction(ctx, window)
		return err
	})
	if err != nil {
		r.logger.WithError(err).WithField("algorithm_name", algorithmName).Warn("Failed to compute algorithm performance")
		return domain.MatchingMetrics{}
	}

	return ComputeMetrics(*summary, satisfaction)
}

// ListPerformanceSnapshots returns stored snapshots, newest first.
func (r *Recorder) ListPerformanceSnapshots(ctx context.Context, algorithmName string) []*domain.AlgorithmPerformance {
	var snapshots []*domain.AlgorithmPerformance
	err := r.guard(func() error {
		var err error
		snapshots, err = r.store.ListPerformanceSnapshots(ctx, algorithmName)
		return err
	})
	if err != nil {
		r.logger.WithError(err).WithField("algorithm_name", algorithmName).Warn("Failed to list performance snapshots")
		return []*domain.AlgorithmPerformance{}
	}
	if snapshots == nil {
		snapshots = []*domain.AlgorithmPerformance{}
	}
	return snapshots
}

// GetTopPerformingTherapists returns therapists ordered by successful
// matches, enriched with names when a directory is configured.
func (r *Recorder) GetTopPerformingTherapists(ctx context.Context, limit int, start, end time.Time) []domain.TherapistPerformance {
	if limit <= 0 {
		limit = 10
	}

	var top []domain.TherapistPerformance
	err := r.guard(func() error {
		var err error
		top, err = r.store.TopTherapists(ctx, limit, windowOf(start, end))
		return err
	})
	if err != nil {
		r.logger.WithError(err).Warn("Failed to load top performing therapists")
		return []domain.TherapistPerformance{}
	}
	if top == nil {
		return []domain.TherapistPerformance{}
	}

	if r.directory != nil {
		for i := range top {
			therapist, err := r.directory.GetTherapist(ctx, top[i].TherapistID)
			if err != nil {
				r.logger.WithError(err).WithField("therapist_id", top[i].TherapistID).Debug("Therapist identity unavailable")
				continue
			}
			top[i].TherapistName = therapist.DisplayName()
		}
	}
	return top
}

// GetMatchingInsights returns raw aggregates of successful matches and the
// score distribution. Each part is read independently; a failed part is empty.
func (r *Recorder) GetMatchingInsights(ctx context.Context, start, end time.Time) domain.MatchingInsights {
	window := windowOf(start, end)
	insights := domain.MatchingInsights{
		SuccessfulConditionMatches: [][]string{},
		SuccessfulApproachMatches:  [][]string{},
		ScoreDistribution:          map[int]int{},
	}

	err := r.guard(func() error {
		conditions, approaches, err := r.store.SuccessfulMatchLists(ctx, window)
		if err != nil {
			return err
		}
		insights.SuccessfulConditionMatches = conditions
		insights.SuccessfulApproachMatches = approaches
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Warn("Failed to load successful match lists")
	}

	err = r.guard(func() error {
		histogram, err := r.store.ScoreHistogram(ctx, window)
		if err != nil {
			return err
		}
		insights.ScoreDistribution = histogram
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Warn("Failed to load score distribution")
	}

	return insights
}

// GetStoredCompatibility returns the cached analysis for a pair, or nil.
func (r *Recorder) GetStoredCompatibility(ctx context.Context, clientID, therapistID string) *domain.ClientCompatibility {
	var record *domain.ClientCompatibility
	err := r.guard(func() error {
		var err error
		record, err = r.store.GetCompatibility(ctx, clientID, therapistID)
		return err
	})
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"client_id":    clientID,
			"therapist_id": therapistID,
		}).Warn("Failed to load stored compatibility")
		return nil
	}
	return record
}

// ExportFeedback writes all feedback as JSON. The export is an explicit
// download rather than tracking, so after logging it still reports failure.
func (r *Recorder) ExportFeedback(ctx context.Context, writer io.Writer) error {
	err := r.guard(func() error {
		return r.store.ExportJSON(ctx, writer)
	})
	if err != nil {
		r.logger.WithError(err).Warn("Failed to export recommendation feedback")
		return fmt.Errorf("failed to export feedback: %w", err)
	}
	return nil
}
