// Package repository loads client and therapist records for the matching
// engine, from Postgres or from JSON fixture files.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
)

// ClientRepository handles client data persistence
type ClientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *pgxpool.Pool, logger *logrus.Logger) *ClientRepository {
	return &ClientRepository{
		db:  db,
		log: logger,
	}
}

// Save inserts or replaces a client record.
func (r *ClientRepository) Save(ctx context.Context, client *domain.Client) error {
	var preAssessment []byte
	if client.PreAssessment != nil {
		data, err := json.Marshal(client.PreAssessment)
		if err != nil {
			return fmt.Errorf("encoding pre-assessment: %w", err)
		}
		preAssessment = data
	}

	preferences := client.Preferences
	if preferences == nil {
		preferences = []domain.Preference{}
	}
	prefData, err := json.Marshal(preferences)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}

	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO clients (
			id, pre_assessment, preferences, is_new_client, urgency_level, engagement_level, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			pre_assessment = EXCLUDED.pre_assessment,
			preferences = EXCLUDED.preferences,
			is_new_client = EXCLUDED.is_new_client,
			urgency_level = EXCLUDED.urgency_level,
			engagement_level = EXCLUDED.engagement_level`

	_, err = r.db.Exec(ctx, query,
		client.ID,
		preAssessment,
		prefData,
		client.IsNewClient,
		string(client.UrgencyLevel),
		string(client.EngagementLevel),
		createdAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"client_id": client.ID,
			"error":     err,
		}).Error("Failed to save client")
		return fmt.Errorf("saving client: %w", err)
	}

	return nil
}

// GetClient retrieves a client by ID
func (r *ClientRepository) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	query := `
		SELECT id, pre_assessment, preferences, is_new_client, urgency_level, engagement_level, created_at
		FROM clients
		WHERE id = $1`

	var (
		client               domain.Client
		preAssessment, prefs []byte
		urgency, engagement  string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&client.ID,
		&preAssessment,
		&prefs,
		&client.IsNewClient,
		&urgency,
		&engagement,
		&client.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client %s not found: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"client_id": id,
			"error":     err,
		}).Error("Failed to get client by ID")
		return nil, fmt.Errorf("getting client by ID: %w", err)
	}

	if len(preAssessment) > 0 {
		var profile domain.ClinicalProfile
		if err := json.Unmarshal(preAssessment, &profile); err != nil {
			return nil, fmt.Errorf("decoding pre-assessment for client %s: %w", id, err)
		}
		client.PreAssessment = &profile
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &client.Preferences); err != nil {
			return nil, fmt.Errorf("decoding preferences for client %s: %w", id, err)
		}
	}
	client.UrgencyLevel = domain.UrgencyLevel(urgency)
	client.EngagementLevel = domain.EngagementLevel(engagement)

	return &client, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
