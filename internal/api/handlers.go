package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/progress-analytics-server/internal/domain"
)

type resolveRequest struct {
	Note string `json:"note"`
}

type batchRequest struct {
	Measurements []domain.MeasurementInput `json:"measurements" binding:"required,min=1,dive"`
}

func (s *Server) handleRecordMeasurement(c *gin.Context) {
	var in domain.MeasurementInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "invalid measurement body", err)
		return
	}

	result, err := s.service.RecordMeasurement(c.Request.Context(), c.Param("subject_id"), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleRecordBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid batch body", err)
		return
	}

	result, err := s.service.RecordBatch(c.Request.Context(), c.Param("subject_id"), req.Measurements)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleListMeasurements(c *gin.Context) {
	var kind *domain.MetricKind
	if raw := c.Query("metric"); raw != "" {
		k := domain.MetricKind(raw)
		if !k.IsValid() {
			s.badRequest(c, "unknown metric", domain.NewValidationError("metric", "unknown metric kind", raw))
			return
		}
		kind = &k
	}

	var r domain.TimeRange
	for name, dst := range map[string]*time.Time{"from": &r.From, "to": &r.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.badRequest(c, "invalid "+name+" timestamp", err)
			return
		}
		*dst = t
	}

	points, err := s.service.Measurements(c.Request.Context(), c.Param("subject_id"), kind, r)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"measurements": nonNil(points), "count": len(points)})
}

func (s *Server) handleTrends(c *gin.Context) {
	days, ok := s.lookbackDays(c)
	if !ok {
		return
	}

	trends, err := s.service.Trends(c.Request.Context(), c.Param("subject_id"), days)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": c.Param("subject_id"), "trends": nonNil(trends)})
}

func (s *Server) handleSummary(c *gin.Context) {
	days, ok := s.lookbackDays(c)
	if !ok {
		return
	}

	summary, err := s.service.Summary(c.Request.Context(), c.Param("subject_id"), days)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleListAlerts(c *gin.Context) {
	alerts, err := s.service.UnresolvedAlerts(c.Request.Context(), c.Param("subject_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts":       nonNil(alerts),
		"count":        len(alerts),
		"max_severity": domain.MaxSeverity(alerts),
	})
}

func (s *Server) handleAcknowledgeAlert(c *gin.Context) {
	alertID := c.Param("alert_id")
	if err := s.service.AcknowledgeAlert(c.Request.Context(), alertID); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "acknowledged": true})
}

func (s *Server) handleResolveAlert(c *gin.Context) {
	var req resolveRequest
	// an empty body resolves without a note
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "invalid resolve body", err)
			return
		}
	}

	alertID := c.Param("alert_id")
	if err := s.service.ResolveAlert(c.Request.Context(), alertID, req.Note); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "resolved": true})
}

// lookbackDays parses ?days=. Absent means the service default.
func (s *Server) lookbackDays(c *gin.Context) (int, bool) {
	raw := c.Query("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		s.badRequest(c, "days must be a positive integer", domain.NewValidationError("days", "must be a positive integer", raw))
		return 0, false
	}
	return days, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
