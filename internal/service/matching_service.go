package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/therapy-match-server/internal/domain"
)

// Tracker receives finished recommendation batches and compatibility
// analyses. Implementations must not block or fail the caller.
type Tracker interface {
	TrackRecommendation(ctx context.Context, clientID string, scores []domain.TherapistScore, algorithmVersion string)
	TrackCompatibilityAnalysis(ctx context.Context, clientID, therapistID string, analysis *domain.CompatibilityAnalysis, analysisVersion string)
}

// RankingCache stores ranked batches for repeated requests.
type RankingCache interface {
	GetRanking(ctx context.Context, key string) ([]domain.TherapistScore, bool, error)
	SetRanking(ctx context.Context, key string, scores []domain.TherapistScore, ttl time.Duration) error
}

// MatchingServiceConfig tunes the orchestration around the scorers.
type MatchingServiceConfig struct {
	AlgorithmVersion string
	MaxConcurrency   int
	DefaultLimit     int
	CacheTTL         time.Duration
	WeightProfiles   domain.WeightProfiles
}

// MatchRequest asks for ranked therapists for one client.
type MatchRequest struct {
	ClientID     string               `json:"client_id"`
	TherapistIDs []string             `json:"therapist_ids,omitempty"`
	Limit        int                  `json:"limit,omitempty"`
	Profile      domain.WeightProfile `json:"weight_profile,omitempty"`
}

// MatchResult is one ranked batch.
type MatchResult struct {
	ClientID         string                  `json:"client_id"`
	AlgorithmVersion string                  `json:"algorithm_version"`
	WeightProfile    domain.WeightProfile    `json:"weight_profile"`
	Scores           []domain.TherapistScore `json:"scores"`
	Skipped          []string                `json:"skipped,omitempty"`
	Cached           bool                    `json:"cached"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

// MatchingService ranks therapists for a client and hands finished batches to
// the analytics tracker.
type MatchingService struct {
	logger     *logrus.Logger
	scorer     *MatchingScorer
	analyzer   *CompatibilityAnalyzer
	clients    domain.ClientRepository
	therapists domain.TherapistRepository
	tracker    Tracker
	cache      RankingCache
	config     MatchingServiceConfig
}

// NewMatchingService creates a new matching service. cache may be nil.
func NewMatchingService(
	logger *logrus.Logger,
	scorer *MatchingScorer,
	analyzer *CompatibilityAnalyzer,
	clients domain.ClientRepository,
	therapists domain.TherapistRepository,
	tracker Tracker,
	cache RankingCache,
	config MatchingServiceConfig,
) *MatchingService {
	if config.AlgorithmVersion == "" {
		config.AlgorithmVersion = domain.DefaultAlgorithmVersion
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 10
	}
	if config.WeightProfiles == nil {
		config.WeightProfiles = domain.DefaultWeightProfiles()
	}

	return &MatchingService{
		logger:     logger,
		scorer:     scorer,
		analyzer:   analyzer,
		clients:    clients,
		therapists: therapists,
		tracker:    tracker,
		cache:      cache,
		config:     config,
	}
}

// FindMatches loads the client and candidate therapists, ranks them and
// records the batch. Tracking happens after the result is final and cannot
// change it.
func (s *MatchingService) FindMatches(ctx context.Context, req MatchRequest) (*MatchResult, error) {
	startTime := time.Now()
	if strings.TrimSpace(req.ClientID) == "" {
		return nil, domain.NewMatchError(domain.ErrCodeInvalidInput, errors.New("client id is required"), "", "")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client %s: %w", req.ClientID, err)
	}

	profileName, _ := s.selectWeights(client, req.Profile)
	key := rankingKey(req.ClientID, s.config.AlgorithmVersion, profileName, req.TherapistIDs, limit)
	if cached := s.cachedRanking(ctx, key); cached != nil {
		// A cached batch is still a batch shown to the client.
		if s.tracker != nil {
			s.tracker.TrackRecommendation(ctx, req.ClientID, cached, s.config.AlgorithmVersion)
		}
		return &MatchResult{
			ClientID:         req.ClientID,
			AlgorithmVersion: s.config.AlgorithmVersion,
			WeightProfile:    profileName,
			Scores:           cached,
			Cached:           true,
			GeneratedAt:      time.Now().UTC(),
		}, nil
	}

	therapists, err := s.therapists.ListTherapists(ctx, req.TherapistIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load therapists: %w", err)
	}

	result, err := s.RankTherapists(ctx, client, therapists, limit, req.Profile)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRanking(ctx, key, result.Scores, s.config.CacheTTL); err != nil {
			s.logger.WithError(err).WithField("client_id", req.ClientID).Warn("Failed to cache ranking")
		}
	}
	if s.tracker != nil && len(result.Scores) > 0 {
		s.tracker.TrackRecommendation(ctx, req.ClientID, result.Scores, s.config.AlgorithmVersion)
	}

	s.logger.WithFields(logrus.Fields{
		"client_id":       req.ClientID,
		"weight_profile":  result.WeightProfile,
		"candidates":      len(therapists),
		"returned":        len(result.Scores),
		"skipped":         len(result.Skipped),
		"processing_time": time.Since(startTime),
	}).Info("Therapist matching completed")

	return result, nil
}

// RankTherapists scores every therapist in parallel and returns the best
// limit results, highest score first with ties ordered by therapist ID.
// Client precondition failures abort the ranking; therapists without valid
// identity information are skipped.
func (s *MatchingService) RankTherapists(ctx context.Context, client *domain.Client, therapists []*domain.Therapist, limit int, override domain.WeightProfile) (*MatchResult, error) {
	profile, err := s.scorer.BuildProfile(client)
	if err != nil {
		return nil, err
	}
	profileName, weights := s.selectWeights(client, override)

	scores := make([]*domain.TherapistScore, len(therapists))
	skipped := make([]bool, len(therapists))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrency)
	for i, therapist := range therapists {
		i, therapist := i, therapist
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := s.scorer.ScoreProfile(profile, therapist, &weights)
			if errors.Is(err, domain.ErrInvalidTherapistUser) {
				skipped[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			score.WeightProfile = profileName
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to score therapists: %w", err)
	}

	result := &MatchResult{
		ClientID:         profile.ClientID,
		AlgorithmVersion: s.config.AlgorithmVersion,
		WeightProfile:    profileName,
		Scores:           make([]domain.TherapistScore, 0, len(therapists)),
		GeneratedAt:      time.Now().UTC(),
	}
	for i, score := range scores {
		if skipped[i] {
			id := ""
			if therapists[i] != nil {
				id = therapists[i].ID
			}
			result.Skipped = append(result.Skipped, id)
			s.logger.WithFields(logrus.Fields{
				"client_id":    profile.ClientID,
				"therapist_id": id,
			}).Warn("Skipping therapist without valid user information")
			continue
		}
		if score != nil {
			result.Scores = append(result.Scores, *score)
		}
	}

	SortScores(result.Scores)
	if limit > 0 && len(result.Scores) > limit {
		result.Scores = result.Scores[:limit]
	}
	return result, nil
}

// AnalyzeCompatibility runs the compatibility analyzer for a pair and queues
// the result for the compatibility cache.
func (s *MatchingService) AnalyzeCompatibility(ctx context.Context, clientID, therapistID string) (*domain.CompatibilityAnalysis, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client %s: %w", clientID, err)
	}
	therapist, err := s.therapists.GetTherapist(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("failed to load therapist %s: %w", therapistID, err)
	}

	analysis := s.analyzer.Analyze(client, therapist)
	if s.tracker != nil {
		s.tracker.TrackCompatibilityAnalysis(ctx, clientID, therapistID, analysis, domain.DefaultAnalysisVersion)
	}
	return analysis, nil
}

func (s *MatchingService) selectWeights(client *domain.Client, override domain.WeightProfile) (domain.WeightProfile, domain.MatchingWeights) {
	if override != "" {
		if w, ok := s.config.WeightProfiles[override]; ok {
			return override, w
		}
		s.logger.WithField("weight_profile", override).Warn("Unknown weight profile requested, selecting from client context")
	}
	return s.config.WeightProfiles.Select(client)
}

func (s *MatchingService) cachedRanking(ctx context.Context, key string) []domain.TherapistScore {
	if s.cache == nil {
		return nil
	}
	scores, ok, err := s.cache.GetRanking(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("cache_key", key).Warn("Failed to read cached ranking")
		return nil
	}
	if !ok {
		return nil
	}
	return scores
}

// SortScores orders scores by total score descending, then therapist ID.
func SortScores(scores []domain.TherapistScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].TotalScore != scores[j].TotalScore {
			return scores[i].TotalScore > scores[j].TotalScore
		}
		return scores[i].TherapistID < scores[j].TherapistID
	})
}

// rankingKey identifies a ranked batch: match:<client>:<version>:<digest>.
// The digest covers the weight profile, the candidate set and the limit.
func rankingKey(clientID, version string, profile domain.WeightProfile, therapistIDs []string, limit int) string {
	ids := make([]string, len(therapistIDs))
	copy(ids, therapistIDs)
	sort.Strings(ids)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s", profile, limit, strings.Join(ids, ","))
	return fmt.Sprintf("match:%s:%s:%s", clientID, version, hex.EncodeToString(h.Sum(nil))[:16])
}
