package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/detection"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/ingest"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
	"github.com/Dragonit3/ChimeraScan-sub000/internal/storage"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) analyze(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := ingest.DecodeEvent(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started := time.Now()
	result, err := s.detector.AnalyzeTransaction(c.Request.Context(), tx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AnalysisErrors.Inc()
		}
		status := http.StatusInternalServerError
		if errors.Is(err, detection.ErrInvalidTransaction) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.observe(result, time.Since(started))
	c.JSON(http.StatusOK, result)
}

type batchRequest struct {
	Transactions []*models.TransactionEvent `json:"transactions" binding:"required"`
}

func (s *Server) analyzeBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Transactions) == 0 || len(req.Transactions) > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch must hold between 1 and 1000 transactions"})
		return
	}

	started := time.Now()
	results, err := s.detector.AnalyzeBatch(c.Request.Context(), req.Transactions)
	if err != nil {
		if s.metrics != nil {
			s.metrics.AnalysisErrors.Inc()
		}
		status := http.StatusInternalServerError
		if errors.Is(err, detection.ErrInvalidTransaction) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	elapsed := time.Since(started)
	for _, result := range results {
		s.observe(result, elapsed/time.Duration(len(results)))
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) observe(result *models.DetectionResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.TransactionsAnalyzed.Inc()
	s.metrics.AnalysisDuration.Observe(elapsed.Seconds())
	s.metrics.RiskScores.Observe(result.RiskScore)
	if result.IsSuspicious {
		s.metrics.SuspiciousDetected.Inc()
	}
	for _, alert := range result.Alerts {
		s.metrics.AlertsGenerated.WithLabelValues(alert.RuleName).Inc()
	}
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.detector.Stats())
}

func (s *Server) rules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active_rules": s.detector.ActiveRules()})
}

func (s *Server) reloadRules(c *gin.Context) {
	if s.loadRules == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rule reloading not configured"})
		return
	}
	set, err := s.loadRules()
	if err != nil {
		// the loader returns the fallback set alongside the error; apply
		// it and surface the degradation
		s.detector.Reload(set)
		c.JSON(http.StatusOK, gin.H{
			"active_rules": s.detector.ActiveRules(),
			"warning":      err.Error(),
		})
		return
	}
	s.detector.Reload(set)
	c.JSON(http.StatusOK, gin.H{"active_rules": s.detector.ActiveRules()})
}

func (s *Server) listAlerts(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert storage not configured"})
		return
	}
	filter := storage.AlertFilter{
		Status:   c.Query("status"),
		Severity: c.Query("severity"),
		RuleName: c.Query("rule"),
	}
	alerts, err := s.store.Alerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

type statusRequest struct {
	Status models.AlertStatus `json:"status" binding:"required"`
}

func (s *Server) updateAlertStatus(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert storage not configured"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Status {
	case models.AlertStatusPending, models.AlertStatusReviewed, models.AlertStatusResolved, models.AlertStatusFalsePositive:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown alert status"})
		return
	}
	err := s.store.UpdateAlertStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}

type blacklistRequest struct {
	Address string `json:"address" binding:"required"`
	Reason  string `json:"reason"`
}

func (s *Server) listBlacklist(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}
	entries, err := s.store.ListBlacklist(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) addBlacklist(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.AddBlacklistEntry(c.Request.Context(), req.Address, req.Reason, "api"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.denylist != nil {
		if err := s.denylist.Publish(c.Request.Context(), req.Address); err != nil && s.logger != nil {
			s.logger.Sugar().Warnw("denylist publish failed", "address", req.Address, "error", err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"address": req.Address})
}

func (s *Server) removeBlacklist(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}
	address := c.Param("address")
	if err := s.store.RemoveBlacklistEntry(c.Request.Context(), address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.denylist != nil {
		if err := s.denylist.Retract(c.Request.Context(), address); err != nil && s.logger != nil {
			s.logger.Sugar().Warnw("denylist retract failed", "address", address, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"address": address})
}
