package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"attendance/internal/auth"
	"attendance/internal/checkin"
	"attendance/internal/config"
	"attendance/internal/events"
	"attendance/internal/metrics"
	"attendance/internal/qr"
	"attendance/internal/session"
	"attendance/internal/stats"
)

// Handler carries the wired components behind the HTTP surface.
type Handler struct {
	cfg       config.App
	manager   *session.Manager
	sessions  *session.Repository
	validator *checkin.Validator
	records   *checkin.Repository
	agg       *stats.Aggregator
	broker    events.Broker
	log       zerolog.Logger
}

// NewHandler wires the API handler.
func NewHandler(cfg config.App, manager *session.Manager, sessions *session.Repository,
	validator *checkin.Validator, records *checkin.Repository, agg *stats.Aggregator,
	broker events.Broker, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		manager:   manager,
		sessions:  sessions,
		validator: validator,
		records:   records,
		agg:       agg,
		broker:    broker,
		log:       log,
	}
}

// registerDevice issues a device-bound student token. Faculty tokens come
// from the identity provider, which shares the signing key.
func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		DeviceID  string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := auth.Issue(req.StudentID, auth.RoleStudent, req.DeviceID, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	h.log.Debug().Str("student_id", req.StudentID).Str("device_id", req.DeviceID).Msg("device bound to student token")

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *Handler) activateSession(c *gin.Context) {
	sessionID := c.Param("id")
	var req struct {
		TTLSeconds int `json:"ttl_seconds"`
	}
	_ = c.ShouldBindJSON(&req)

	tok, err := h.manager.Activate(c.Request.Context(), sessionID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.respondError(c, err)
		return
	}
	metrics.TokensIssuedTotal.Inc()

	c.JSON(http.StatusOK, gin.H{
		"token_id":   tok.ID,
		"secret":     tok.Secret,
		"issued_at":  tok.IssuedAt,
		"expires_at": tok.ExpiresAt,
		"qr_url":     "/v1/sessions/" + sessionID + "/qr",
	})
}

// issueToken force-mints a fresh token, e.g. after the prior one expired
// mid-class.
func (h *Handler) issueToken(c *gin.Context) {
	sessionID := c.Param("id")
	var req struct {
		TTLSeconds int `json:"ttl_seconds"`
	}
	_ = c.ShouldBindJSON(&req)

	tok, err := h.manager.IssueToken(c.Request.Context(), sessionID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.respondError(c, err)
		return
	}
	metrics.TokensIssuedTotal.Inc()

	c.JSON(http.StatusCreated, gin.H{
		"token_id":   tok.ID,
		"secret":     tok.Secret,
		"issued_at":  tok.IssuedAt,
		"expires_at": tok.ExpiresAt,
	})
}

func (h *Handler) sessionQR(c *gin.Context) {
	sessionID := c.Param("id")
	tok, err := h.sessions.LiveToken(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if tok == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live token; activate the session first"})
		return
	}

	png, err := qr.EncodePNG(h.cfg.CheckinBaseURL, tok.Secret, qrSize(c.Query("size")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// qrSize parses the size query param, clamped so a request cannot force an
// oversized render.
func qrSize(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultQRSize
	}
	if n < minQRSize {
		return minQRSize
	}
	if n > maxQRSize {
		return maxQRSize
	}
	return n
}

func (h *Handler) checkIn(c *gin.Context) {
	var req struct {
		Token    string           `json:"token" binding:"required"`
		Evidence checkin.Evidence `json:"evidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := auth.ClaimsFrom(c)
	rec, err := h.validator.CheckIn(c.Request.Context(), req.Token, claims.Subject, claims.Device, req.Evidence)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) markAttendance(c *gin.Context) {
	sessionID := c.Param("id")
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		Status    string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := auth.ClaimsFrom(c)
	rec, err := h.validator.Mark(c.Request.Context(), sessionID, req.StudentID, req.Status, claims.Subject)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *Handler) endSession(c *gin.Context) {
	swept, err := h.manager.End(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "swept_absent": swept})
}

func (h *Handler) cancelSession(c *gin.Context) {
	if err := h.manager.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// listRecords is the reconcile endpoint for reconnecting stream subscribers.
func (h *Handler) listRecords(c *gin.Context) {
	limit, offset := 200, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	recs, err := h.records.ListBySession(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) streamSession(c *gin.Context) {
	sessionID := c.Param("id")
	h.stream(c, events.SessionTopic(sessionID), "/v1/sessions/"+sessionID+"/records")
}

func (h *Handler) streamStudent(c *gin.Context) {
	studentID := c.Param("id")
	claims := auth.ClaimsFrom(c)
	if claims.Role == auth.RoleStudent && claims.Subject != studentID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot watch another student's stream"})
		return
	}
	h.stream(c, events.StudentTopic(studentID), "/v1/students/"+studentID+"/stats")
}

// stream serves a topic over SSE. Delivery is at-least-once and best-effort;
// the opening resync event tells clients where to reconcile after a drop.
func (h *Handler) stream(c *gin.Context, topic, resyncURL string) {
	ch, release, err := h.broker.Subscribe(c.Request.Context(), topic)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}
	defer release()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("resync", gin.H{"url": resyncURL})
	c.Writer.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("record", evt)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) studentStats(c *gin.Context) {
	studentID := c.Param("id")
	courseID := c.Query("course_id")
	if courseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "course_id required"})
		return
	}

	claims := auth.ClaimsFrom(c)
	if claims.Role == auth.RoleStudent && claims.Subject != studentID {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot read another student's stats"})
		return
	}

	var from, to time.Time
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = parsed
	}

	st, err := h.agg.GetStats(c.Request.Context(), studentID, courseID, from, to)
	if err != nil {
		// Missing course or student surfaces as an empty aggregate, never a crash.
		h.log.Error().Err(err).Str("student_id", studentID).Str("course_id", courseID).Msg("stats read failed")
		c.JSON(http.StatusOK, gin.H{"stat": nil, "note": "no data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stat": st})
}

// respondError maps domain errors onto HTTP responses with machine-readable
// reasons so the scanning client can render a specific message.
func (h *Handler) respondError(c *gin.Context, err error) {
	var rej *checkin.Rejection
	if errors.As(err, &rej) {
		status := http.StatusUnprocessableEntity
		switch rej {
		case checkin.ErrTokenNotFound:
			status = http.StatusNotFound
		case checkin.ErrTokenExpired:
			status = http.StatusGone
		case checkin.ErrSessionNotActive:
			status = http.StatusConflict
		case checkin.ErrNotEnrolled, checkin.ErrNotOwner, checkin.ErrDeviceMismatch:
			status = http.StatusForbidden
		case checkin.ErrBadStatus:
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": rej.Message, "reason": rej.Reason})
		return
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "reason": "not_found"})
	case errors.Is(err, session.ErrTerminalState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "terminal_state"})
	case errors.Is(err, session.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "invalid_state"})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
