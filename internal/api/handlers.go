package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/therapy-match-server/internal/domain"
	"github.com/therapy-match-server/internal/service"
)

// matchRequestBody is the body of POST /clients/:clientId/matches.
type matchRequestBody struct {
	TherapistIDs  []string `json:"therapist_ids"`
	Limit         int      `json:"limit"`
	WeightProfile string   `json:"weight_profile"`
}

func (s *Server) handleFindMatches(c *gin.Context) {
	var body matchRequestBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			s.respondError(c, domain.NewValidationError("body", "invalid JSON: "+err.Error(), nil))
			return
		}
	}
	if body.Limit < 0 {
		s.respondError(c, domain.NewValidationError("limit", "must not be negative", body.Limit))
		return
	}

	result, err := s.deps.Matcher.FindMatches(c.Request.Context(), service.MatchRequest{
		ClientID:     c.Param("clientId"),
		TherapistIDs: body.TherapistIDs,
		Limit:        body.Limit,
		Profile:      domain.WeightProfile(strings.TrimSpace(body.WeightProfile)),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleInvalidateMatches(c *gin.Context) {
	if s.deps.Cache == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := s.deps.Cache.InvalidateClient(c.Request.Context(), c.Param("clientId")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCompatibility(c *gin.Context) {
	analysis, err := s.deps.Matcher.AnalyzeCompatibility(c.Request.Context(), c.Param("clientId"), c.Param("therapistId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleStoredCompatibility(c *gin.Context) {
	record := s.deps.Analytics.GetStoredCompatibility(c.Request.Context(), c.Param("clientId"), c.Param("therapistId"))
	if record == nil {
		s.respondError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleEngagement records a downstream event. Tracking is best effort, so
// the response is always 202 once the event is accepted.
func (s *Server) handleEngagement(event domain.EngagementEvent) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientID, therapistID := c.Param("clientId"), c.Param("therapistId")

		switch event {
		case domain.EventViewed:
			s.deps.Analytics.TrackRecommendationView(ctx, clientID, therapistID)
		case domain.EventContacted:
			s.deps.Analytics.TrackTherapistContact(ctx, clientID, therapistID)
		case domain.EventBecameClient:
			s.deps.Analytics.TrackSuccessfulMatch(ctx, clientID, therapistID)
		}

		c.JSON(http.StatusAccepted, gin.H{
			"client_id":    clientID,
			"therapist_id": therapistID,
			"event":        event,
		})
	}
}

func (s *Server) handleFeedback(c *gin.Context) {
	var input domain.FeedbackInput
	if err := c.ShouldBindJSON(&input); err != nil {
		s.respondError(c, domain.NewValidationError("body", "invalid JSON: "+err.Error(), nil))
		return
	}
	if err := input.Validate(); err != nil {
		s.respondError(c, err)
		return
	}

	clientID, therapistID := c.Param("clientId"), c.Param("therapistId")
	s.deps.Analytics.RecordRecommendationFeedback(c.Request.Context(), clientID, therapistID, input)

	c.JSON(http.StatusAccepted, gin.H{
		"client_id":    clientID,
		"therapist_id": therapistID,
		"status":       "accepted",
	})
}
