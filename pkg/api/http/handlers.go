package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/msgflow/internal/application/orchestrator"
	"github.com/aescanero/msgflow/internal/application/workers"
	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/aescanero/msgflow/pkg/flowdef"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FlowSubmitResponse represents a flow submission response
type FlowSubmitResponse struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// FlowListResponse lists active flows and stored runs
type FlowListResponse struct {
	Active []domain.FlowSnapshot `json:"active"`
	Runs   []string              `json:"runs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	workersStatus := "ok"
	code := http.StatusOK
	status := "healthy"
	if s.health != nil && !s.health.IsHealthy() {
		workersStatus = "degraded"
		code = http.StatusServiceUnavailable
		status = "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"workers": workersStatus,
		},
	})
}

// handleSubmitFlow accepts a JSON or YAML flow definition
func (s *Server) handleSubmitFlow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	def, err := flowdef.Parse(body)
	if err != nil {
		s.logger.Warn("invalid flow definition", zap.Error(err))
		s.abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	sessionID, err := s.manager.SubmitFlow(c.Request.Context(), def.Steps, def.FlowContext())
	if err != nil {
		s.logger.Error("failed to submit flow", zap.Error(err))
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, FlowSubmitResponse{
		SessionID:   sessionID,
		Status:      string(orchestrator.FlowStatusQueued),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListFlows lists active flows and stored run ids
func (s *Server) handleListFlows(c *gin.Context) {
	active := s.registry.GetAllActiveFlows()
	snaps := make([]domain.FlowSnapshot, 0, len(active))
	for _, fc := range active {
		snaps = append(snaps, fc.Snapshot())
	}

	runs, err := s.manager.ListRuns(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if runs == nil {
		runs = []string{}
	}

	c.JSON(http.StatusOK, FlowListResponse{Active: snaps, Runs: runs})
}

// handleGetFlow returns the status and context of a flow
func (s *Server) handleGetFlow(c *gin.Context) {
	view, err := s.manager.GetFlow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// handleGetResult returns the stored run of a finished flow
func (s *Server) handleGetResult(c *gin.Context) {
	run, err := s.manager.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// handleGetEvents returns the mirrored event history of a session
func (s *Server) handleGetEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "UNAVAILABLE",
				Message: "event history requires Redis",
			},
		})
		return
	}

	sessionID := c.Param("id")
	records, err := s.events.History(c.Request.Context(), sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     records,
	})
}

// handleStopFlow stops a queued or running flow
func (s *Server) handleStopFlow(c *gin.Context) {
	sessionID := c.Param("id")

	if err := s.manager.StopFlow(sessionID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"status":     orchestrator.FlowStatusStopped,
	})
}

// handleDeleteFlow removes the stored run of a finished flow
func (s *Server) handleDeleteFlow(c *gin.Context) {
	if err := s.manager.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handleStatistics returns aggregates over the active flows
func (s *Server) handleStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.GetFlowStatistics())
}

// writeError maps engine errors to HTTP status codes
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrFlowNotFound):
		s.abortWithError(c, http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, orchestrator.ErrInvalidFlow):
		s.abortWithError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err)
	case errors.Is(err, domain.ErrDuplicateSession):
		s.abortWithError(c, http.StatusConflict, "DUPLICATE_SESSION", err)
	case errors.Is(err, orchestrator.ErrFlowInProgress):
		s.abortWithError(c, http.StatusConflict, "IN_PROGRESS", err)
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrPoolClosed):
		s.abortWithError(c, http.StatusServiceUnavailable, "UNAVAILABLE", err)
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
	}
}

func (s *Server) abortWithError(c *gin.Context, code int, errCode string, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error: ErrorDetail{
			Code:    errCode,
			Message: err.Error(),
		},
	})
}
