package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	lockAutoEntry = "auto-entry"
	lockStops     = "stops"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleAutoEntryRun triggers one admission pass. Runs are serialized by a
// Redis lock: a second trigger while a pass is in flight gets 409 rather
// than a concurrent run.
func (s *Server) handleAutoEntryRun(c *gin.Context) {
	if s.autoEntry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auto-entry not configured"})
		return
	}

	token := uuid.New().String()
	acquired, err := s.lock.Acquire(c.Request.Context(), lockAutoEntry, token, s.config.LockTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !acquired {
		c.JSON(http.StatusConflict, gin.H{"error": "run_in_progress"})
		return
	}
	defer func() {
		if err := s.lock.Release(c.Request.Context(), lockAutoEntry, token); err != nil {
			s.log.Warn().Err(err).Msg("failed to release auto-entry run lock")
		}
	}()

	result, err := s.autoEntry.Run(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("auto-entry run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleStopsRun triggers one stop-lifecycle pass, serialized the same way.
func (s *Server) handleStopsRun(c *gin.Context) {
	if s.stops == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stop manager not configured"})
		return
	}

	token := uuid.New().String()
	acquired, err := s.lock.Acquire(c.Request.Context(), lockStops, token, s.config.LockTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !acquired {
		c.JSON(http.StatusConflict, gin.H{"error": "run_in_progress"})
		return
	}
	defer func() {
		if err := s.lock.Release(c.Request.Context(), lockStops, token); err != nil {
			s.log.Warn().Err(err).Msg("failed to release stops run lock")
		}
	}()

	result, err := s.stops.Run(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("stops run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if result.Failed() {
		// Partial failures still return the full result; the status code
		// lets dumb schedulers alert without parsing the body.
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

// handleGuardrailState reports the circuit state for a trading day.
// Defaults to today (UTC) when no day query parameter is given.
func (s *Server) handleGuardrailState(c *gin.Context) {
	day := c.Query("day")
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}

	state, err := s.guardrail.State(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"day":             state.Day,
		"failures":        state.Failures,
		"disabled":        state.Disabled(),
		"disabled_reason": state.DisabledReason,
		"last_failure":    state.LastFailure,
	})
}

// handleGuardrailReset clears the failure counter and disable flag for a day.
// Manual override for an operator who has reviewed the failures.
func (s *Server) handleGuardrailReset(c *gin.Context) {
	day := c.Query("day")
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}

	if err := s.guardrail.Reset(c.Request.Context(), day); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.log.Info().Str("day", day).Msg("guardrail manually reset")
	c.JSON(http.StatusOK, gin.H{"status": "reset", "day": day})
}
