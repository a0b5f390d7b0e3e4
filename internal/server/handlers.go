package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudgate/internal/decision"
	"github.com/mbd888/fraudgate/internal/features"
	"github.com/mbd888/fraudgate/internal/logging"
	"github.com/mbd888/fraudgate/internal/pipeline"
	"github.com/mbd888/fraudgate/internal/scoring"
	"github.com/mbd888/fraudgate/internal/validation"
)

const (
	maxBatchSize       = 100
	defaultSenderLimit = 50
	maxSenderListLimit = 500
)

// decideRequest is a transaction plus an optional wall-clock timestamp.
// The timestamp only feeds the is_weekend feature; everything else the
// deriver needs travels in the transaction itself.
type decideRequest struct {
	features.Transaction
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (r *decideRequest) refTime() time.Time {
	if r.Timestamp != nil {
		return *r.Timestamp
	}
	return time.Time{}
}

// errorResponse maps domain sentinel errors onto HTTP statuses.
func errorResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, features.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_input",
			"message": err.Error(),
		})
	case errors.Is(err, decision.ErrInvalidThreshold):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_thresholds",
			"message": err.Error(),
		})
	case errors.Is(err, scoring.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "scoring_unavailable",
			"message": "Fraud scoring is temporarily unavailable",
		})
	case errors.Is(err, decision.ErrInvalidScore):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "invalid_score",
			"message": "Scorer returned an out-of-range fraud score",
		})
	default:
		logging.L(c.Request.Context()).Error("unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}
}

// POST /v1/decisions
func (s *Server) decideHandler(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body: " + err.Error(),
		})
		return
	}

	req.SenderID = validation.SanitizeVPA(req.SenderID)
	req.ReceiverID = validation.SanitizeVPA(req.ReceiverID)
	req.DeviceID = validation.SanitizeString(req.DeviceID, validation.MaxStringLength)

	d, err := s.pipe.Evaluate(c.Request.Context(), &req.Transaction, req.refTime())
	if err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, d)
}

// POST /v1/decisions/batch
func (s *Server) decideBatchHandler(c *gin.Context) {
	var req struct {
		Transactions []decideRequest `json:"transactions" binding:"required"`
		Timestamp    *time.Time      `json:"timestamp,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "transactions must not be empty",
		})
		return
	}
	if len(req.Transactions) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_too_large",
			"message": "At most " + strconv.Itoa(maxBatchSize) + " transactions per batch",
		})
		return
	}

	ref := time.Time{}
	if req.Timestamp != nil {
		ref = *req.Timestamp
	}

	txs := make([]*features.Transaction, len(req.Transactions))
	for i := range req.Transactions {
		r := &req.Transactions[i]
		r.SenderID = validation.SanitizeVPA(r.SenderID)
		r.ReceiverID = validation.SanitizeVPA(r.ReceiverID)
		r.DeviceID = validation.SanitizeString(r.DeviceID, validation.MaxStringLength)
		txs[i] = &r.Transaction
	}

	results := s.pipe.EvaluateBatch(c.Request.Context(), txs, ref)

	succeeded := 0
	for _, r := range results {
		if r.Error == "" {
			succeeded++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     len(results),
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	})
}

// GET /v1/decisions/sender/:id
func (s *Server) senderDecisionsHandler(c *gin.Context) {
	senderID := validation.SanitizeVPA(c.Param("id"))
	if !validation.IsValidVPA(senderID) && !validation.IsValidID(senderID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_sender_id",
			"message": "Sender ID has an invalid format",
		})
		return
	}

	limit := defaultSenderLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSenderListLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be between 1 and " + strconv.Itoa(maxSenderListLimit),
			})
			return
		}
		limit = n
	}

	decisions, err := s.store.ListBySender(c.Request.Context(), senderID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("list decisions failed", "sender_id", senderID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list decisions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sender_id": senderID,
		"count":     len(decisions),
		"decisions": decisions,
	})
}

// GET /v1/thresholds
func (s *Server) getThresholdsHandler(c *gin.Context) {
	th := s.pipe.Thresholds()
	c.JSON(http.StatusOK, gin.H{
		"allow_max": th.AllowMax,
		"block_min": th.BlockMin,
	})
}

// PUT /v1/thresholds
func (s *Server) updateThresholdsHandler(c *gin.Context) {
	var req struct {
		AllowMax *float64 `json:"allow_max" binding:"required"`
		BlockMin *float64 `json:"block_min" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "allow_max and block_min are required",
		})
		return
	}

	th := decision.Thresholds{AllowMax: *req.AllowMax, BlockMin: *req.BlockMin}
	if err := s.pipe.UpdateThresholds(th); err != nil {
		errorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allow_max": th.AllowMax,
		"block_min": th.BlockMin,
		"status":    "updated",
	})
}

// GET /v1/model/info
func (s *Server) modelInfoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipe.Info())
}

// GET /v1/transactions/sample
func (s *Server) sampleTransactionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, pipeline.SampleTransaction())
}

// GET /
func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "fraudgate",
		"version": Version,
		"scorer":  s.scorer.Name(),
		"stream":  s.feedHub.Stats(),
	})
}

// GET /health
func (s *Server) healthHandler(c *gin.Context) {
	allHealthy, results := s.checks.CheckAll(c.Request.Context())

	status := http.StatusOK
	overall := "healthy"
	if !allHealthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"version": Version,
		"checks":  results,
	})
}

// GET /health/live
func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// GET /health/ready
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// deriveForHealth derives the sample vector for the scorer health check.
func deriveForHealth(tx *features.Transaction) (*features.Vector, error) {
	return features.Derive(tx, time.Now())
}
