package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/therapy-match-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
// Timestamps are stored as unix milliseconds, lists and analyses as JSON text.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite analytics store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS match_history (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		therapist_id TEXT NOT NULL,
		total_score INTEGER NOT NULL,
		condition_score INTEGER NOT NULL DEFAULT 0,
		approach_score INTEGER NOT NULL DEFAULT 0,
		experience_score INTEGER NOT NULL DEFAULT 0,
		review_score INTEGER NOT NULL DEFAULT 0,
		logistics_score INTEGER NOT NULL DEFAULT 0,
		primary_matches TEXT NOT NULL DEFAULT '[]',
		secondary_matches TEXT NOT NULL DEFAULT '[]',
		approach_matches TEXT NOT NULL DEFAULT '[]',
		recommendation_rank INTEGER NOT NULL,
		total_recommendations INTEGER NOT NULL,
		algorithm_version TEXT NOT NULL,
		was_viewed INTEGER NOT NULL DEFAULT 0,
		viewed_at INTEGER,
		was_contacted INTEGER NOT NULL DEFAULT 0,
		contacted_at INTEGER,
		became_client INTEGER NOT NULL DEFAULT 0,
		became_client_at INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE(client_id, therapist_id, batch_id)
	);

	CREATE INDEX IF NOT EXISTS idx_match_history_pair ON match_history(client_id, therapist_id);
	CREATE INDEX IF NOT EXISTS idx_match_history_algorithm ON match_history(algorithm_version, created_at);

	CREATE TABLE IF NOT EXISTS client_compatibility (
		client_id TEXT NOT NULL,
		therapist_id TEXT NOT NULL,
		overall_score INTEGER NOT NULL,
		analysis TEXT NOT NULL,
		analysis_version TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (client_id, therapist_id)
	);

	CREATE TABLE IF NOT EXISTS recommendation_feedback (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		therapist_id TEXT NOT NULL,
		match_history_id TEXT,
		relevance_rating INTEGER NOT NULL DEFAULT 0,
		accuracy_rating INTEGER NOT NULL DEFAULT 0,
		helpfulness_rating INTEGER NOT NULL DEFAULT 0,
		overall_satisfaction INTEGER NOT NULL DEFAULT 0,
		comments TEXT DEFAULT '',
		selected_therapist INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON recommendation_feedback(created_at);

	CREATE TABLE IF NOT EXISTS algorithm_performance (
		id TEXT PRIMARY KEY,
		algorithm_name TEXT NOT NULL,
		algorithm_version TEXT NOT NULL,
		period_start INTEGER NOT NULL,
		period_end INTEGER NOT NULL,
		total_recommendations INTEGER NOT NULL,
		successful_matches INTEGER NOT NULL,
		average_match_score REAL NOT NULL,
		click_through_rate REAL NOT NULL,
		conversion_rate REAL NOT NULL,
		average_satisfaction_score REAL NOT NULL,
		created_at INTEGER NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}

// sqliteWhere appends the window bounds on column to conds and renders a
// WHERE clause. Returns an empty clause when there are no conditions.
func sqliteWhere(column string, window domain.TimeWindow, conds []string, args []interface{}) (string, []interface{}) {
	if window.Start != nil {
		conds = append(conds, column+" >= ?")
		args = append(args, window.Start.UnixMilli())
	}
	if window.End != nil {
		conds = append(conds, column+" <= ?")
		args = append(args, window.End.UnixMilli())
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	list := []string{}
	if raw == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// InsertMatchHistory inserts all rows in one transaction, ignoring duplicates.
func (s *SQLiteStore) InsertMatchHistory(ctx context.Context, rows []*domain.MatchHistory) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO match_history (
			id, batch_id, client_id, therapist_id, total_score,
			condition_score, approach_score, experience_score, review_score, logistics_score,
			primary_matches, secondary_matches, approach_matches,
			recommendation_rank, total_recommendations, algorithm_version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, row := range rows {
		primary, err := encodeList(row.PrimaryMatches)
		if err != nil {
			return 0, fmt.Errorf("failed to encode primary matches: %w", err)
		}
		secondary, err := encodeList(row.SecondaryMatches)
		if err != nil {
			return 0, fmt.Errorf("failed to encode secondary matches: %w", err)
		}
		approaches, err := encodeList(row.ApproachMatches)
		if err != nil {
			return 0, fmt.Errorf("failed to encode approach matches: %w", err)
		}

		result, err := stmt.ExecContext(ctx,
			row.ID, row.BatchID, row.ClientID, row.TherapistID, row.TotalScore,
			row.ConditionScore, row.ApproachScore, row.ExperienceScore, row.ReviewScore, row.LogisticsScore,
			primary, secondary, approaches,
			row.RecommendationRank, row.TotalRecommendations, row.AlgorithmVersion, row.CreatedAt.UnixMilli(),
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
func (s *SQLiteStore) UpsertCompatibility(ctx context.Context, record *domain.ClientCompatibility) error {
	analysis, err := json.Marshal(record.Analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO client_compatibility (
			client_id, therapist_id, overall_score, analysis, analysis_version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, therapist_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			analysis = excluded.analysis,
			analysis_version = excluded.analysis_version,
			updated_at = excluded.updated_at
	`,
		record.ClientID,
		record.TherapistID,
		record.OverallScore,
		string(analysis),
		record.AnalysisVersion,
		record.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert compatibility: %w", err)
	}
	return nil
}

// GetCompatibility returns the stored analysis for a pair, or nil.
func (s *SQLiteStore) GetCompatibility(ctx context.Context, clientID, therapistID string) (*domain.ClientCompatibility, error) {
	record := &domain.ClientCompatibility{}
	var analysis string
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, therapist_id, overall_score, analysis, analysis_version, updated_at
		FROM client_compatibility
		WHERE client_id = ? AND therapist_id = ?
	`, clientID, therapistID).Scan(
		&record.ClientID, &record.TherapistID, &record.OverallScore,
		&analysis, &record.AnalysisVersion, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compatibility: %w", err)
	}

	if err := json.Unmarshal([]byte(analysis), &record.Analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	record.UpdatedAt = millisToTime(updatedAt)
	return record, nil
}

// MarkEngagement flips the event flag where it is still false.
func (s *SQLiteStore) MarkEngagement(ctx context.Context, clientID, therapistID string, event domain.EngagementEvent, at time.Time) (int64, error) {
	flag, atColumn, ok := engagementColumns(event)
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidEvent, event)
	}

	query := fmt.Sprintf(`
		UPDATE match_history SET %[1]s = 1, %[2]s = ?
		WHERE client_id = ? AND therapist_id = ? AND %[1]s = 0
	`, flag, atColumn)

	result, err := s.db.ExecContext(ctx, query, at.UnixMilli(), clientID, therapistID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark %s: %w", event, err)
	}
	return result.RowsAffected()
}

// LatestMatchHistoryID returns the newest history row id for the pair.
func (s *SQLiteStore) LatestMatchHistoryID(ctx context.Context, clientID, therapistID string) (*string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM match_history
		WHERE client_id = ? AND therapist_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, clientID, therapistID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest match history: %w", err)
	}
	return &id, nil
}

// InsertFeedback stores a feedback submission.
func (s *SQLiteStore) InsertFeedback(ctx context.Context, feedback *domain.RecommendationFeedback) error {
	var matchHistoryID interface{}
	if feedback.MatchHistoryID != nil {
		matchHistoryID = *feedback.MatchHistoryID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendation_feedback (
			id, client_id, therapist_id, match_history_id,
			relevance_rating, accuracy_rating, helpfulness_rating, overall_satisfaction,
			comments, selected_therapist, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		feedback.ID,
		feedback.ClientID,
		feedback.TherapistID,
		matchHistoryID,
		feedback.RelevanceRating,
		feedback.AccuracyRating,
		feedback.HelpfulnessRating,
		feedback.OverallSatisfaction,
		feedback.Comments,
		feedback.SelectedTherapist,
		feedback.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// SummarizeMatchHistory aggregates history rows for one algorithm version.
func (s *SQLiteStore) SummarizeMatchHistory(ctx context.Context, algorithmVersion string, window domain.TimeWindow) (*domain.MatchSummary, error) {
	where, args := sqliteWhere("created_at", window, []string{"algorithm_version = ?"}, []interface{}{algorithmVersion})

	var total, viewed, contacted, successful, scoreSum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(was_viewed), 0),
			COALESCE(SUM(was_contacted), 0),
			COALESCE(SUM(became_client), 0),
			COALESCE(SUM(total_score), 0)
		FROM match_history`+where, args...,
	).Scan(&total, &viewed, &contacted, &successful, &scoreSum)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize match history: %w", err)
	}

	return &domain.MatchSummary{
		Total:      int(total),
		Viewed:     int(viewed),
		Contacted:  int(contacted),
		Successful: int(successful),
		ScoreSum:   float64(scoreSum),
	}, nil
}

// AverageSatisfaction averages provided overall satisfaction ratings.
func (s *SQLiteStore) AverageSatisfaction(ctx context.Context, window domain.TimeWindow) (float64, error) {
	where, args := sqliteWhere("created_at", window, []string{"overall_satisfaction > 0"}, nil)

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		"SELECT AVG(overall_satisfaction) FROM recommendation_feedback"+where, args...,
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to average satisfaction: %w", err)
	}
	return avg.Float64, nil
}

// InsertPerformanceSnapshot appends a metrics snapshot.
func (s *SQLiteStore) InsertPerformanceSnapshot(ctx context.Context, snapshot *domain.AlgorithmPerformance) error {
	m := snapshot.Metrics
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO algorithm_performance (
			id, algorithm_name, algorithm_version, period_start, period_end,
			total_recommendations, successful_matches, average_match_score,
			click_through_rate, conversion_rate, average_satisfaction_score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snapshot.ID,
		snapshot.AlgorithmName,
		snapshot.AlgorithmVersion,
		snapshot.PeriodStart.UnixMilli(),
		snapshot.PeriodEnd.UnixMilli(),
		m.TotalRecommendations,
		m.SuccessfulMatches,
		m.AverageMatchScore,
		m.ClickThroughRate,
		m.ConversionRate,
		m.AverageSatisfactionScore,
		snapshot.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert performance snapshot: %w", err)
	}
	return nil
}

// ListPerformanceSnapshots returns snapshots for an algorithm, newest first.
func (s *SQLiteStore) ListPerformanceSnapshots(ctx context.Context, algorithmName string) ([]*domain.AlgorithmPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, algorithm_name, algorithm_version, period_start, period_end,
			total_recommendations, successful_matches, average_match_score,
			click_through_rate, conversion_rate, average_satisfaction_score, created_at
		FROM algorithm_performance
		WHERE algorithm_name = ?
		ORDER BY created_at DESC
	`, algorithmName)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.AlgorithmPerformance
	for rows.Next() {
		p := &domain.AlgorithmPerformance{}
		var start, end, created int64
		err := rows.Scan(
			&p.ID, &p.AlgorithmName, &p.AlgorithmVersion, &start, &end,
			&p.Metrics.TotalRecommendations, &p.Metrics.SuccessfulMatches, &p.Metrics.AverageMatchScore,
			&p.Metrics.ClickThroughRate, &p.Metrics.ConversionRate, &p.Metrics.AverageSatisfactionScore, &created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		p.PeriodStart = millisToTime(start)
		p.PeriodEnd = millisToTime(end)
		p.CreatedAt = millisToTime(created)
		result = append(result, p)
	}
	return result, rows.Err()
}

// TopTherapists counts successful matches per therapist, highest first.
func (s *SQLiteStore) TopTherapists(ctx context.Context, limit int, window domain.TimeWindow) ([]domain.TherapistPerformance, error) {
	where, args := sqliteWhere("created_at", window, []string{"became_client = 1"}, nil)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT therapist_id, COUNT(*) AS successes
		FROM match_history`+where+`
		GROUP BY therapist_id
		ORDER BY successes DESC, therapist_id ASC
		LIMIT ?`, args...)
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
func (s *SQLiteStore) SuccessfulMatchLists(ctx context.Context, window domain.TimeWindow) ([][]string, [][]string, error) {
	where, args := sqliteWhere("created_at", window, []string{"became_client = 1"}, nil)

	rows, err := s.db.QueryContext(ctx,
		"SELECT primary_matches, approach_matches FROM match_history"+where+" ORDER BY created_at", args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query successful matches: %w", err)
	}
	defer rows.Close()

	conditions := [][]string{}
	approaches := [][]string{}
	for rows.Next() {
		var rawConditions, rawApproaches string
		if err := rows.Scan(&rawConditions, &rawApproaches); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		c, err := decodeList(rawConditions)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode condition matches: %w", err)
		}
		a, err := decodeList(rawApproaches)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode approach matches: %w", err)
		}
		conditions = append(conditions, c)
		approaches = append(approaches, a)
	}
	return conditions, approaches, rows.Err()
}

// ScoreHistogram counts history rows per total score.
func (s *SQLiteStore) ScoreHistogram(ctx context.Context, window domain.TimeWindow) (map[int]int, error) {
	where, args := sqliteWhere("created_at", window, nil, nil)

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

func scanFeedback(s scanner) (*domain.RecommendationFeedback, error) {
	fb := &domain.RecommendationFeedback{}
	var matchHistoryID sql.NullString
	var createdAt int64

	err := s.Scan(
		&fb.ID, &fb.ClientID, &fb.TherapistID, &matchHistoryID,
		&fb.RelevanceRating, &fb.AccuracyRating, &fb.HelpfulnessRating, &fb.OverallSatisfaction,
		&fb.Comments, &fb.SelectedTherapist, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if matchHistoryID.Valid {
		id := matchHistoryID.String
		fb.MatchHistoryID = &id
	}
	fb.CreatedAt = millisToTime(createdAt)
	return fb, nil
}

// ListFeedback returns feedback entries with pagination, newest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, limit, offset int) ([]*domain.RecommendationFeedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, therapist_id, match_history_id,
			relevance_rating, accuracy_rating, helpfulness_rating, overall_satisfaction,
			comments, selected_therapist, created_at
		FROM recommendation_feedback
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*domain.RecommendationFeedback
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, fb)
	}
	return result, rows.Err()
}

// ExportJSON exports all feedback to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.ListFeedback(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}
	return writeExport(writer, all)
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func writeExport(writer io.Writer, feedback []*domain.RecommendationFeedback) error {
	if feedback == nil {
		feedback = []*domain.RecommendationFeedback{}
	}
	export := &FeedbackExport{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(feedback),
		Feedback:   feedback,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
