package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/therapy-match-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL analytics store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL analytics store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, maxOpen, maxIdle int, maxLifetime time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// pgWhere appends the window bounds on column to conds using numbered
// placeholders that continue after args.
func pgWhere(column string, window domain.TimeWindow, conds []string, args []interface{}) (string, []interface{}) {
	if window.Start != nil {
		args = append(args, *window.Start)
		conds = append(conds, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if window.End != nil {
		args = append(args, *window.End)
		conds = append(conds, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// InsertMatchHistory inserts all rows in one transaction. Conflicting rows
// are skipped with ON CONFLICT DO NOTHING.
func (s *PostgresStore) InsertMatchHistory(ctx context.Context, rows []*domain.MatchHistory) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO match_history (
			id, batch_id, client_id, therapist_id, total_score,
			condition_score, approach_score, experience_score, review_score, logistics_score,
			primary_matches, secondary_matches, approach_matches,
			recommendation_rank, total_recommendations, algorithm_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (client_id, therapist_id, batch_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, row := range rows {
		result, err := stmt.ExecContext(ctx,
			row.ID, row.BatchID, row.ClientID, row.TherapistID, row.TotalScore,
			row.ConditionScore, row.ApproachScore, row.ExperienceScore, row.ReviewScore, row.LogisticsScore,
			pq.Array(nonNil(row.PrimaryMatches)),
			pq.Array(nonNil(row.SecondaryMatches)),
			pq.Array(nonNil(row.ApproachMatches)),
			row.RecommendationRank, row.TotalRecommendations, row.AlgorithmVersion, row.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert match history: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

// UpsertCompatibility stores the latest analysis for a pair.
func (s *PostgresStore) UpsertCompatibility(ctx context.Context, record *domain.ClientCompatibility) error {
	analysis, err := json.Marshal(record.Analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	query := `
		INSERT INTO client_compatibility (
			client_id, therapist_id, overall_score, analysis, analysis_version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_id, therapist_id) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			analysis = EXCLUDED.analysis,
			analysis_version = EXCLUDED.analysis_version,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ClientID,
		record.TherapistID,
		record.OverallScore,
		analysis,
		record.AnalysisVersion,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert compatibility: %w", err)
	}
	return nil
}

// GetCompatibility returns the stored analysis for a pair, or nil.
func (s *PostgresStore) GetCompatibility(ctx context.Context, clientID, therapistID string) (*domain.ClientCompatibility, error) {
	query := `
		SELECT client_id, therapist_id, overall_score, analysis, analysis_version, updated_at
		FROM client_compatibility
		WHERE client_id = $1 AND therapist_id = $2
	`

	record := &domain.ClientCompatibility{}
	var analysis []byte

	err := s.db.QueryRowContext(ctx, query, clientID, therapistID).Scan(
		&record.ClientID, &record.TherapistID, &record.OverallScore,
		&analysis, &record.AnalysisVersion, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compatibility: %w", err)
	}

	if err := json.Unmarshal(analysis, &record.Analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return record, nil
}

// MarkEngagement flips the event flag where it is still false.
func (s *PostgresStore) MarkEngagement(ctx context.Context, clientID, therapistID string, event domain.EngagementEvent, at time.Time) (int64, error) {
	flag, atColumn, ok := engagementColumns(event)
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidEvent, event)
	}

	query := fmt.Sprintf(`
		UPDATE match_history SET %[1]s = TRUE, %[2]s = $1
		WHERE client_id = $2 AND therapist_id = $3 AND %[1]s = FALSE
	`, flag, atColumn)

	result, err := s.db.ExecContext(ctx, query, at, clientID, therapistID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark %s: %w", event, err)
	}
	return result.RowsAffected()
}

// LatestMatchHistoryID returns the newest history row id for the pair.
func (s *PostgresStore) LatestMatchHistoryID(ctx context.Context, clientID, therapistID string) (*string, error) {
	query := `
		SELECT id FROM match_history
		WHERE client_id = $1 AND therapist_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var id string
	err := s.db.QueryRowContext(ctx, query, clientID, therapistID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest match history: %w", err)
	}
	return &id, nil
}

// InsertFeedback stores a feedback submission.
func (s *PostgresStore) InsertFeedback(ctx context.Context, feedback *domain.RecommendationFeedback) error {
	query := `
		INSERT INTO recommendation_feedback (
			id, client_id, therapist_id, match_history_id,
			relevance_rating, accuracy_rating, helpfulness_rating, overall_satisfaction,
			comments, selected_therapist, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		feedback.ID,
		feedback.ClientID,
		feedback.TherapistID,
		sql.NullString{String: derefString(feedback.MatchHistoryID), Valid: feedback.MatchHistoryID != nil},
		feedback.RelevanceRating,
		feedback.AccuracyRating,
		feedback.HelpfulnessRating,
		feedback.OverallSatisfaction,
		feedback.Comments,
		feedback.SelectedTherapist,
		feedback.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SummarizeMatchHistory aggregates history rows for one algorithm version.
func (s *PostgresStore) SummarizeMatchHistory(ctx context.Context, algorithmVersion string, window domain.TimeWindow) (*domain.MatchSummary, error) {
	where, args := pgWhere("created_at", window, []string{"algorithm_version = $1"}, []interface{}{algorithmVersion})

	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE was_viewed),
			COUNT(*) FILTER (WHERE was_contacted),
			COUNT(*) FILTER (WHERE became_client),
			COALESCE(SUM(total_score), 0)
		FROM match_history` + where

	summary := &domain.MatchSummary{}
	var scoreSum int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.Total, &summary.Viewed, &summary.Contacted, &summary.Successful, &scoreSum,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize match history: %w", err)
	}
	summary.ScoreSum = float64(scoreSum)
	return summary, nil
}

// AverageSatisfaction averages provided overall satisfaction ratings.
func (s *PostgresStore) AverageSatisfaction(ctx context.Context, window domain.TimeWindow) (float64, error) {
	where, args := pgWhere("created_at", window, []string{"overall_satisfaction > 0"}, nil)

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT AVG(overall_satisfaction)::float8 FROM recommendation_feedback"+where, args...,
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to average satisfaction: %w", err)
	}
	return avg.Float64, nil
}

// InsertPerformanceSnapshot appends a metrics snapshot.
func (s *PostgresStore) InsertPerformanceSnapshot(ctx context.Context, snapshot *domain.AlgorithmPerformance) error {
	query := `
		INSERT INTO algorithm_performance (
			id, algorithm_name, algorithm_version, period_start, period_end,
			total_recommendations, successful_matches, average_match_score,
			click_through_rate, conversion_rate, average_satisfaction_score, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	m := snapshot.Metrics
	err := s.db.QueryRowContext(ctx, query,
		snapshot.ID,
		snapshot.AlgorithmName,
		snapshot.AlgorithmVersion,
		snapshot.PeriodStart,
		snapshot.PeriodEnd,
		m.TotalRecommendations,
		m.SuccessfulMatches,
		m.AverageMatchScore,
		m.ClickThroughRate,
		m.ConversionRate,
		m.AverageSatisfactionScore,
		snapshot.CreatedAt,
	).Scan(&snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert performance snapshot: %w", err)
	}
	return nil
}

// ListPerformanceSnapshots returns snapshots for an algorithm, newest first.
func (s *PostgresStore) ListPerformanceSnapshots(ctx context.Context, algorithmName string) ([]*domain.AlgorithmPerformance, error) {
	query := `
		SELECT id, algorithm_name, algorithm_version, period_start, period_end,
			total_recommendations, successful_matches, average_match_score,
			click_through_rate, conversion_rate, average_satisfaction_score, created_at
		FROM algorithm_performance
		WHERE algorithm_name = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, algorithmName)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.AlgorithmPerformance
	for rows.Next() {
		p := &domain.AlgorithmPerformance{}
		err := rows.Scan(
			&p.ID, &p.AlgorithmName, &p.AlgorithmVersion, &p.PeriodStart, &p.PeriodEnd,
			&p.Metrics.TotalRecommendations, &p.Metrics.SuccessfulMatches, &p.Metrics.AverageMatchScore,
			&p.Metrics.ClickThroughRate, &p.Metrics.ConversionRate, &p.Metrics.AverageSatisfactionScore, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// TopTherapists counts successful matches per therapist, highest first.
func (s *PostgresStore) TopTherapists(ctx context.Context, limit int, window domain.TimeWindow) ([]domain.TherapistPerformance, error) {
	where, args := pgWhere("created_at", window, []string{"became_client = TRUE"}, nil)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT therapist_id, COUNT(*) AS successes
		FROM match_history%s
		GROUP BY therapist_id
		ORDER BY successes DESC, therapist_id ASC
		LIMIT $%d`, where, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top therapists: %w", err)
	}
	defer rows.Close()

	var result []domain.TherapistPerformance
	for rows.Next() {
		var p domain.TherapistPerformance
		if err := rows.Scan(&p.TherapistID, &p.SuccessfulMatches); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// SuccessfulMatchLists returns match lists of rows that became clients.
func (s *PostgresStore) SuccessfulMatchLists(ctx context.Context, window domain.TimeWindow) ([][]string, [][]string, error) {
	where, args := pgWhere("created_at", window, []string{"became_client = TRUE"}, nil)

	rows, err := s.db.QueryContext(ctx,
		"SELECT primary_matches, approach_matches FROM match_history"+where+" ORDER BY created_at", args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query successful matches: %w", err)
	}
	defer rows.Close()

	conditions := [][]string{}
	approaches := [][]string{}
	for rows.Next() {
		var c, a []string
		if err := rows.Scan(pq.Array(&c), pq.Array(&a)); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		conditions = append(conditions, nonNil(c))
		approaches = append(approaches, nonNil(a))
	}
	return conditions, approaches, rows.Err()
}

// ScoreHistogram counts history rows per total score.
func (s *PostgresStore) ScoreHistogram(ctx context.Context, window domain.TimeWindow) (map[int]int, error) {
	where, args := pgWhere("created_at", window, nil, nil)

	rows, err := s.db.QueryContext(ctx,
		"SELECT total_score, COUNT(*) FROM match_history"+where+" GROUP BY total_score", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query score histogram: %w", err)
	}
	defer rows.Close()

	histogram := make(map[int]int)
	for rows.Next() {
		var score, count int
		if err := rows.Scan(&score, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		histogram[score] = count
	}
	return histogram, rows.Err()
}

// ListFeedback returns feedback entries with pagination, newest first.
func (s *PostgresStore) ListFeedback(ctx context.Context, limit, offset int) ([]*domain.RecommendationFeedback, error) {
	query := `
		SELECT id, client_id, therapist_id, match_history_id,
			relevance_rating, accuracy_rating, helpfulness_rating, overall_satisfaction,
			comments, selected_therapist, created_at
		FROM recommendation_feedback
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var result []*domain.RecommendationFeedback
	for rows.Next() {
		fb := &domain.RecommendationFeedback{}
		var matchHistoryID sql.NullString

		err := rows.Scan(
			&fb.ID, &fb.ClientID, &fb.TherapistID, &matchHistoryID,
			&fb.RelevanceRating, &fb.AccuracyRating, &fb.HelpfulnessRating, &fb.OverallSatisfaction,
			&fb.Comments, &fb.SelectedTherapist, &fb.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if matchHistoryID.Valid {
			id := matchHistoryID.String
			fb.MatchHistoryID = &id
		}
		result = append(result, fb)
	}

	return result, rows.Err()
}

// ExportJSON exports all feedback to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.ListFeedback(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	return writeExport(writer, all)
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
