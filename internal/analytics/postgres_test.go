package analytics

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapy-match-server/internal/domain"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	store, err := NewPostgresStore(nil)
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestPostgresStore_InsertMatchHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	rows := []*domain.MatchHistory{
		historyRow("h1", "batch-1", "client-1", "t1", 82, now),
		historyRow("h2", "batch-1", "client-1", "t2", 64, now),
	}

	t.Run("Skips_Conflicting_Rows", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		mock.ExpectBegin()
		prep := mock.ExpectPrepare(regexp.QuoteMeta("ON CONFLICT (client_id, therapist_id, batch_id) DO NOTHING"))
		prep.ExpectExec().
			WithArgs("h1", "batch-1", "client-1", "t1", 82, 82, 0, 0, 0, 0,
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				1, 1, domain.DefaultAlgorithmVersion, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		inserted, err := store.InsertMatchHistory(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 1, inserted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rolls_Back_On_Error", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		mock.ExpectBegin()
		prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO match_history"))
		prep.ExpectExec().WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := store.InsertMatchHistory(ctx, rows)
		assert.ErrorContains(t, err, "connection reset")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_UpsertCompatibility(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	updatedAt := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (client_id, therapist_id) DO UPDATE SET")).
		WithArgs("client-1", "t1", 75, sqlmock.AnyArg(), domain.DefaultAnalysisVersion, updatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertCompatibility(context.Background(), &domain.ClientCompatibility{
		ClientID:        "client-1",
		TherapistID:     "t1",
		OverallScore:    75,
		AnalysisVersion: domain.DefaultAnalysisVersion,
		UpdatedAt:       updatedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompatibility(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("FROM client_compatibility WHERE client_id = $1 AND therapist_id = $2")

	t.Run("Found", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)
		updatedAt := time.Now().UTC()

		mock.ExpectQuery(query).
			WithArgs("client-1", "t1").
			WillReturnRows(sqlmock.NewRows([]string{"client_id", "therapist_id", "overall_score", "analysis", "analysis_version", "updated_at"}).
				AddRow("client-1", "t1", 81, []byte(`{"therapist_id":"t1","overall_compatibility_score":81}`), "1.0", updatedAt))

		record, err := store.GetCompatibility(ctx, "client-1", "t1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, 81, record.OverallScore)
		assert.Equal(t, 81, record.Analysis.OverallCompatibilityScore)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		mock.ExpectQuery(query).WithArgs("client-1", "t9").WillReturnError(sql.ErrNoRows)

		record, err := store.GetCompatibility(ctx, "client-1", "t9")
		require.NoError(t, err)
		assert.Nil(t, record)
	})
}

func TestPostgresStore_MarkEngagement(t *testing.T) {
	ctx := context.Background()
	at := time.Now().UTC()

	tests := []struct {
		event domain.EngagementEvent
		query string
	}{
		{domain.EventViewed, "UPDATE match_history SET was_viewed = TRUE, viewed_at = $1 WHERE client_id = $2 AND therapist_id = $3 AND was_viewed = FALSE"},
		{domain.EventContacted, "UPDATE match_history SET was_contacted = TRUE, contacted_at = $1"},
		{domain.EventBecameClient, "UPDATE match_history SET became_client = TRUE, became_client_at = $1"},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			store, mock := newMockPostgresStore(t)

			mock.ExpectExec(regexp.QuoteMeta(tt.query)).
				WithArgs(at, "client-1", "t1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			updated, err := store.MarkEngagement(ctx, "client-1", "t1", tt.event, at)
			require.NoError(t, err)
			assert.Equal(t, int64(1), updated)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("Unknown_Event", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		_, err := store.MarkEngagement(ctx, "client-1", "t1", domain.EngagementEvent("booked"), at)
		assert.ErrorIs(t, err, domain.ErrInvalidEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Feedback(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockPostgresStore(t)
	createdAt := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM match_history WHERE client_id = $1 AND therapist_id = $2 ORDER BY created_at DESC")).
		WithArgs("client-1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("h-latest"))

	historyID, err := store.LatestMatchHistoryID(ctx, "client-1", "t1")
	require.NoError(t, err)
	require.NotNil(t, historyID)
	assert.Equal(t, "h-latest", *historyID)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recommendation_feedback")).
		WithArgs("fb-1", "client-1", "t1", "h-latest", 5, 4, 3, 4, "helpful", true, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.InsertFeedback(ctx, &domain.RecommendationFeedback{
		ID:             "fb-1",
		ClientID:       "client-1",
		TherapistID:    "t1",
		MatchHistoryID: historyID,
		FeedbackInput: domain.FeedbackInput{
			RelevanceRating:     5,
			AccuracyRating:      4,
			HelpfulnessRating:   3,
			OverallSatisfaction: 4,
			Comments:            "helpful",
			SelectedTherapist:   true,
		},
		CreatedAt: createdAt,
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recommendation_feedback")).
		WithArgs("fb-2", "client-1", "t9", nil, 0, 0, 0, 2, "", false, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.InsertFeedback(ctx, &domain.RecommendationFeedback{
		ID:            "fb-2",
		ClientID:      "client-1",
		TherapistID:   "t9",
		FeedbackInput: domain.FeedbackInput{OverallSatisfaction: 2},
		CreatedAt:     createdAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SummarizeMatchHistory(t *testing.T) {
	ctx := context.Background()
	columns := []string{"total", "viewed", "contacted", "successful", "score_sum"}

	t.Run("Open_Window", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("FROM match_history WHERE algorithm_version = $1")).
			WithArgs(domain.DefaultAlgorithmVersion).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(4, 2, 1, 1, 300))

		summary, err := store.SummarizeMatchHistory(ctx, domain.DefaultAlgorithmVersion, domain.TimeWindow{})
		require.NoError(t, err)
		assert.Equal(t, domain.MatchSummary{Total: 4, Viewed: 2, Contacted: 1, Successful: 1, ScoreSum: 300}, *summary)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Bounded_Window", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)
		end := time.Now().UTC()
		start := end.Add(-24 * time.Hour)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE algorithm_version = $1 AND created_at >= $2 AND created_at <= $3")).
			WithArgs(domain.DefaultAlgorithmVersion, start, end).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(0, 0, 0, 0, 0))

		summary, err := store.SummarizeMatchHistory(ctx, domain.DefaultAlgorithmVersion, domain.TimeWindow{Start: &start, End: &end})
		require.NoError(t, err)
		assert.Zero(t, summary.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_AverageSatisfaction(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM recommendation_feedback WHERE overall_satisfaction > 0")).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))

	avg, err := store.AverageSatisfaction(context.Background(), domain.TimeWindow{})
	require.NoError(t, err)
	assert.Zero(t, avg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TopTherapists(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	start := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE became_client = TRUE AND created_at >= $1 GROUP BY therapist_id ORDER BY successes DESC, therapist_id ASC LIMIT $2")).
		WithArgs(start, 5).
		WillReturnRows(sqlmock.NewRows([]string{"therapist_id", "successes"}).
			AddRow("t1", 3).
			AddRow("t2", 1))

	top, err := store.TopTherapists(context.Background(), 5, domain.TimeWindow{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, []domain.TherapistPerformance{
		{TherapistID: "t1", SuccessfulMatches: 3},
		{TherapistID: "t2", SuccessfulMatches: 1},
	}, top)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insights(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT primary_matches, approach_matches FROM match_history WHERE became_client = TRUE")).
		WillReturnRows(sqlmock.NewRows([]string{"primary_matches", "approach_matches"}).
			AddRow("{Depression,Anxiety}", "{CBT}").
			AddRow("{}", "{}"))

	conditions, approaches, err := store.SuccessfulMatchLists(ctx, domain.TimeWindow{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Depression", "Anxiety"}, {}}, conditions)
	assert.Equal(t, [][]string{{"CBT"}, {}}, approaches)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT total_score, COUNT(*) FROM match_history GROUP BY total_score")).
		WillReturnRows(sqlmock.NewRows([]string{"total_score", "count"}).
			AddRow(82, 3).
			AddRow(64, 1))

	histogram, err := store.ScoreHistogram(ctx, domain.TimeWindow{})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{82: 3, 64: 1}, histogram)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PerformanceSnapshot(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	snapshot := &domain.AlgorithmPerformance{
		ID:               "snap-1",
		AlgorithmName:    "advanced",
		AlgorithmVersion: domain.DefaultAlgorithmVersion,
		PeriodStart:      now.Add(-time.Hour),
		PeriodEnd:        now,
		Metrics:          domain.MatchingMetrics{TotalRecommendations: 10, ClickThroughRate: 40},
		CreatedAt:        now,
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO algorithm_performance")).
		WithArgs("snap-1", "advanced", domain.DefaultAlgorithmVersion, snapshot.PeriodStart, snapshot.PeriodEnd,
			10, 0, 0.0, 40.0, 0.0, 0.0, now).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	err := store.InsertPerformanceSnapshot(context.Background(), snapshot)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
