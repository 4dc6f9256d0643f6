package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/therapy-match-server/internal/domain"
)

const therapistColumns = `
	id, user_id, display_name, email,
	expertise, illness_specializations, approaches, therapeutic_approaches_used_list,
	treatment_success_rates, years_of_experience, practice_start_date,
	languages_offered, hourly_rate, province, accepted_insurance_types, accepts_insurance,
	provided_online_therapy_before, comfortable_using_video_conferencing, preferred_session_length`

// TherapistRepository handles therapist and review persistence
type TherapistRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewTherapistRepository creates a new therapist repository
func NewTherapistRepository(db *pgxpool.Pool, logger *logrus.Logger) *TherapistRepository {
	return &TherapistRepository{
		db:  db,
		log: logger,
	}
}

// Save inserts or replaces a therapist together with its reviews.
func (r *TherapistRepository) Save(ctx context.Context, therapist *domain.Therapist) error {
	rates := therapist.TreatmentSuccessRates
	if rates == nil {
		rates = map[string]float64{}
	}
	rateData, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("encoding success rates: %w", err)
	}

	var userID *string
	var name, email string
	if therapist.User != nil {
		if therapist.User.ID != "" {
			userID = &therapist.User.ID
		}
		name = therapist.User.Name
		email = therapist.User.Email
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO therapists (` + therapistColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			expertise = EXCLUDED.expertise,
			illness_specializations = EXCLUDED.illness_specializations,
			approaches = EXCLUDED.approaches,
			therapeutic_approaches_used_list = EXCLUDED.therapeutic_approaches_used_list,
			treatment_success_rates = EXCLUDED.treatment_success_rates,
			years_of_experience = EXCLUDED.years_of_experience,
			practice_start_date = EXCLUDED.practice_start_date,
			languages_offered = EXCLUDED.languages_offered,
			hourly_rate = EXCLUDED.hourly_rate,
			province = EXCLUDED.province,
			accepted_insurance_types = EXCLUDED.accepted_insurance_types,
			accepts_insurance = EXCLUDED.accepts_insurance,
			provided_online_therapy_before = EXCLUDED.provided_online_therapy_before,
			comfortable_using_video_conferencing = EXCLUDED.comfortable_using_video_conferencing,
			preferred_session_length = EXCLUDED.preferred_session_length`

	_, err = tx.Exec(ctx, query,
		therapist.ID,
		userID,
		name,
		email,
		nonNilStrings(therapist.Expertise),
		nonNilStrings(therapist.IllnessSpecializations),
		nonNilStrings(therapist.Approaches),
		nonNilStrings(therapist.TherapeuticApproachesUsedList),
		rateData,
		therapist.YearsOfExperience,
		therapist.PracticeStartDate,
		nonNilStrings(therapist.LanguagesOffered),
		therapist.HourlyRate,
		therapist.Province,
		nonNilStrings(therapist.AcceptedInsuranceTypes),
		therapist.AcceptsInsurance,
		therapist.ProvidedOnlineTherapyBefore,
		therapist.ComfortableUsingVideoConferencing,
		toInt32s(therapist.PreferredSessionLength),
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"therapist_id": therapist.ID,
			"error":        err,
		}).Error("Failed to save therapist")
		return fmt.Errorf("saving therapist: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM therapist_reviews WHERE therapist_id = $1`, therapist.ID); err != nil {
		return fmt.Errorf("clearing reviews: %w", err)
	}
	for i, review := range therapist.Reviews {
		id := review.ID
		if id == "" {
			id = fmt.Sprintf("%s-review-%d", therapist.ID, i+1)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO therapist_reviews (id, therapist_id, rating, status, created_at)
			VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
			id, therapist.ID, review.Rating, string(review.Status), nullTime(review.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("saving review %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing therapist: %w", err)
	}
	return nil
}

// GetTherapist retrieves a therapist and its reviews by ID
func (r *TherapistRepository) GetTherapist(ctx context.Context, id string) (*domain.Therapist, error) {
	query := `SELECT ` + therapistColumns + ` FROM therapists WHERE id = $1`

	therapist, err := scanTherapist(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("therapist %s not found: %w", id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"therapist_id": id,
			"error":        err,
		}).Error("Failed to get therapist by ID")
		return nil, fmt.Errorf("getting therapist by ID: %w", err)
	}

	if err := r.attachReviews(ctx, []*domain.Therapist{therapist}); err != nil {
		return nil, err
	}
	return therapist, nil
}

// ListTherapists returns the therapists with the given IDs, or every
// therapist when ids is empty. Unknown IDs are ignored.
func (r *TherapistRepository) ListTherapists(ctx context.Context, ids []string) ([]*domain.Therapist, error) {
	query := `SELECT ` + therapistColumns + ` FROM therapists`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing therapists: %w", err)
	}
	defer rows.Close()

	var therapists []*domain.Therapist
	for rows.Next() {
		therapist, err := scanTherapist(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning therapist: %w", err)
		}
		therapists = append(therapists, therapist)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating therapists: %w", err)
	}

	if err := r.attachReviews(ctx, therapists); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"requested": len(ids),
		"found":     len(therapists),
	}).Debug("Loaded candidate therapists")

	return therapists, nil
}

// attachReviews loads reviews for all therapists in one query.
func (r *TherapistRepository) attachReviews(ctx context.Context, therapists []*domain.Therapist) error {
	if len(therapists) == 0 {
		return nil
	}

	byID := make(map[string]*domain.Therapist, len(therapists))
	ids := make([]string, 0, len(therapists))
	for _, t := range therapists {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, therapist_id, rating, status, created_at
		FROM therapist_reviews
		WHERE therapist_id = ANY($1)
		ORDER BY created_at, id`, ids)
	if err != nil {
		return fmt.Errorf("loading reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			review      domain.Review
			therapistID string
			status      string
		)
		if err := rows.Scan(&review.ID, &therapistID, &review.Rating, &status, &review.CreatedAt); err != nil {
			return fmt.Errorf("scanning review: %w", err)
		}
		review.Status = domain.ReviewStatus(status)
		if t, ok := byID[therapistID]; ok {
			t.Reviews = append(t.Reviews, review)
		}
	}
	return rows.Err()
}

func scanTherapist(row pgx.Row) (*domain.Therapist, error) {
	var (
		t              domain.Therapist
		userID         *string
		name, email    string
		rates          []byte
		sessionLengths []int32
	)
	err := row.Scan(
		&t.ID,
		&userID,
		&name,
		&email,
		&t.Expertise,
		&t.IllnessSpecializations,
		&t.Approaches,
		&t.TherapeuticApproachesUsedList,
		&rates,
		&t.YearsOfExperience,
		&t.PracticeStartDate,
		&t.LanguagesOffered,
		&t.HourlyRate,
		&t.Province,
		&t.AcceptedInsuranceTypes,
		&t.AcceptsInsurance,
		&t.ProvidedOnlineTherapyBefore,
		&t.ComfortableUsingVideoConferencing,
		&sessionLengths,
	)
	if err != nil {
		return nil, err
	}

	if userID != nil {
		t.User = &domain.TherapistUser{ID: *userID, Name: name, Email: email}
	}
	if len(rates) > 0 {
		if err := json.Unmarshal(rates, &t.TreatmentSuccessRates); err != nil {
			return nil, fmt.Errorf("decoding success rates for therapist %s: %w", t.ID, err)
		}
	}
	for _, n := range sessionLengths {
		t.PreferredSessionLength = append(t.PreferredSessionLength, int(n))
	}
	return &t, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toInt32s(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}
