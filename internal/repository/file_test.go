package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapy-match-server/internal/domain"
)

const clientFixture = `[
  {
    "id": "client-1",
    "pre_assessment": {"conditions": {"depression": "moderate"}, "total_score": 42, "completed": true},
    "preferences": [{"key": "preferred_language", "value": "English"}],
    "urgency_level": "high"
  },
  {"id": ""}
]`

const therapistFixture = `[
  {"id": "t2", "user": {"id": "u2", "name": "Dr. Two"}, "approaches": ["CBT"]},
  {"id": "t1", "user": {"id": "u1", "name": "Dr. One"}, "years_of_experience": 7,
   "reviews": [{"rating": 5, "status": "APPROVED"}]},
  {"id": "t3"}
]`

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func writeFixtures(t *testing.T, clients, therapists string) string {
	t.Helper()
	dir := t.TempDir()
	if clients != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, clientsFile), []byte(clients), 0644))
	}
	if therapists != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, therapistsFile), []byte(therapists), 0644))
	}
	return dir
}

func TestFileRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := NewFileRepository(writeFixtures(t, clientFixture, therapistFixture), newTestLogger())
	require.NoError(t, err)

	t.Run("Get_Client", func(t *testing.T) {
		client, err := repo.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.True(t, client.HasValidAssessment())
		assert.Equal(t, "moderate", client.PreAssessment.Conditions["depression"])
		assert.Equal(t, domain.UrgencyHigh, client.UrgencyLevel)
		require.Len(t, client.Preferences, 1)
		assert.Equal(t, "English", client.Preferences[0].Value)
	})

	t.Run("Missing_Client", func(t *testing.T) {
		_, err := repo.GetClient(ctx, "nobody")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Get_Therapist", func(t *testing.T) {
		therapist, err := repo.GetTherapist(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "Dr. One", therapist.DisplayName())
		assert.Equal(t, 7, therapist.YearsOfExperience)
		require.Len(t, therapist.Reviews, 1)
		assert.Equal(t, domain.ReviewApproved, therapist.Reviews[0].Status)

		_, err = repo.GetTherapist(ctx, "t9")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("List_All_In_ID_Order", func(t *testing.T) {
		therapists, err := repo.ListTherapists(ctx, nil)
		require.NoError(t, err)
		require.Len(t, therapists, 3)
		assert.Equal(t, "t1", therapists[0].ID)
		assert.Equal(t, "t2", therapists[1].ID)
		assert.Equal(t, "t3", therapists[2].ID)
	})

	t.Run("List_Subset_Ignores_Unknown_And_Duplicates", func(t *testing.T) {
		therapists, err := repo.ListTherapists(ctx, []string{"t2", "missing", "t2", "t1"})
		require.NoError(t, err)
		require.Len(t, therapists, 2)
		assert.Equal(t, "t1", therapists[0].ID)
		assert.Equal(t, "t2", therapists[1].ID)
	})
}

func TestFileRepository_MissingFilesAreEmpty(t *testing.T) {
	repo, err := NewFileRepository(writeFixtures(t, "", ""), newTestLogger())
	require.NoError(t, err)

	therapists, err := repo.ListTherapists(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, therapists)
}

func TestFileRepository_MalformedFixture(t *testing.T) {
	_, err := NewFileRepository(writeFixtures(t, "{not json", ""), newTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), clientsFile)
}

func TestFileRepository_Reload(t *testing.T) {
	dir := writeFixtures(t, "", `[{"id": "t1"}]`)
	repo, err := NewFileRepository(dir, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, therapistsFile), []byte(`[{"id": "t1"}, {"id": "t2"}]`), 0644))
	require.NoError(t, repo.Reload())

	therapists, err := repo.ListTherapists(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, therapists, 2)
}
