package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therapy-match-server/internal/domain"
)

// snapshotRequest is the body of POST /analytics/snapshots.
type snapshotRequest struct {
	AlgorithmName    string    `json:"algorithm_name"`
	AlgorithmVersion string    `json:"algorithm_version"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
}

// parseWindow reads optional RFC 3339 start and end query parameters.
func parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	var start, end time.Time
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, domain.NewValidationError("start", "must be an RFC 3339 timestamp", v)
		}
		start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, domain.NewValidationError("end", "must be an RFC 3339 timestamp", v)
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, domain.NewValidationError("end", "must not be before start", c.Query("end"))
	}
	return start, end, nil
}

func (s *Server) handlePerformance(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	version := c.DefaultQuery("algorithm_version", s.deps.AlgorithmVersion)

	metrics := s.deps.Analytics.GetAlgorithmPerformance(c.Request.Context(), version, start, end)
	c.JSON(http.StatusOK, gin.H{
		"algorithm_version": version,
		"metrics":           metrics,
	})
}

// handleCreateSnapshot computes metrics for the period and queues them as a
// performance snapshot.
func (s *Server) handleCreateSnapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", "invalid JSON: "+err.Error(), nil))
		return
	}
	if req.AlgorithmName == "" {
		s.respondError(c, domain.NewValidationError("algorithm_name", "is required", nil))
		return
	}
	if req.AlgorithmVersion == "" {
		req.AlgorithmVersion = s.deps.AlgorithmVersion
	}
	if req.PeriodEnd.IsZero() {
		req.PeriodEnd = time.Now().UTC()
	}
	if req.PeriodEnd.Before(req.PeriodStart) {
		s.respondError(c, domain.NewValidationError("period_end", "must not be before period_start", req.PeriodEnd))
		return
	}

	ctx := c.Request.Context()
	metrics := s.deps.Analytics.GetAlgorithmPerformance(ctx, req.AlgorithmVersion, req.PeriodStart, req.PeriodEnd)
	s.deps.Analytics.StorePerformanceSnapshot(ctx, req.AlgorithmName, req.AlgorithmVersion, req.PeriodStart, req.PeriodEnd, metrics)

	c.JSON(http.StatusAccepted, gin.H{
		"algorithm_name":    req.AlgorithmName,
		"algorithm_version": req.AlgorithmVersion,
		"period_start":      req.PeriodStart,
		"period_end":        req.PeriodEnd,
		"metrics":           metrics,
	})
}

func (s *Server) handleListSnapshots(c *gin.Context) {
	snapshots := s.deps.Analytics.ListPerformanceSnapshots(c.Request.Context(), c.Query("algorithm_name"))
	c.JSON(http.StatusOK, gin.H{
		"count":     len(snapshots),
		"snapshots": snapshots,
	})
}

func (s *Server) handleTopTherapists(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	limit := 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			s.respondError(c, domain.NewValidationError("limit", "must be between 1 and 100", v))
			return
		}
		limit = n
	}

	top := s.deps.Analytics.GetTopPerformingTherapists(c.Request.Context(), limit, start, end)
	c.JSON(http.StatusOK, gin.H{"therapists": top})
}

func (s *Server) handleInsights(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.deps.Analytics.GetMatchingInsights(c.Request.Context(), start, end))
}

func (s *Server) handleExportFeedback(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.deps.Analytics.ExportFeedback(c.Request.Context(), &buf); err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="feedback-export.json"`)
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}
