package httpapi

import (
	"github.com/gin-gonic/gin"

	"attendance/internal/auth"
)

// Register mounts the versioned API. Lifecycle and marking routes require the
// faculty role; scanning and personal reads require any authenticated caller.
// rateLimit runs after auth so it can key on the caller, not just the IP.
func (h *Handler) Register(r *gin.Engine, rateLimit gin.HandlerFunc) {
	r.POST("/v1/devices/register", h.registerDevice)

	authed := r.Group("/v1", auth.RequireAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer), rateLimit)

	authed.POST("/checkins", h.checkIn)
	authed.GET("/students/:id/stream", h.streamStudent)
	authed.GET("/students/:id/stats", h.studentStats)

	faculty := authed.Group("", auth.RequireRole(auth.RoleFaculty))
	faculty.POST("/sessions/:id/activate", h.activateSession)
	faculty.POST("/sessions/:id/token", h.issueToken)
	faculty.GET("/sessions/:id/qr", h.sessionQR)
	faculty.POST("/sessions/:id/records", h.markAttendance)
	faculty.GET("/sessions/:id/records", h.listRecords)
	faculty.GET("/sessions/:id/stream", h.streamSession)
	faculty.POST("/sessions/:id/end", h.endSession)
	faculty.POST("/sessions/:id/cancel", h.cancelSession)
}
