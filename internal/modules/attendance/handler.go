package attendance

import (
	"errors"
	"strconv"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/middleware"
	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/audit"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc      *Service
	auditSvc *audit.Service
}

func NewHandler(svc *Service, auditSvc *audit.Service) *Handler {
	return &Handler{svc: svc, auditSvc: auditSvc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, teacherMW, studentMW gin.HandlerFunc) {
	g := rg.Group("/attendance")

	t := g.Group("", teacherMW)
	t.POST("/create-session", h.createSession)
	t.GET("/generate-qr/:id", h.generateQR)
	t.POST("/session/:id/end", h.endSession)
	t.GET("/session/:id/stats", h.stats)
	t.GET("/report", h.report)
	t.GET("/audit/logs", h.auditLogs)
	t.GET("/security/status", h.securityStatus)

	st := g.Group("", studentMW)
	st.POST("/mark", h.mark)
}

func requestMeta(c *gin.Context) RequestMeta {
	return RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// POST /attendance/create-session
func (h *Handler) createSession(c *gin.Context) {
	var dto CreateSessionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	session, err := h.svc.CreateSession(middleware.CurrentUserID(c), &dto, requestMeta(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.Created(c, gin.H{"message": "session created successfully", "session": session})
}

// GET /attendance/generate-qr/:id
func (h *Handler) generateQR(c *gin.Context) {
	result, err := h.svc.GenerateQR(middleware.CurrentUserID(c), c.Param("id"), requestMeta(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{
		"qr_code":    result.QRCode,
		"qr_data":    result.QRData,
		"expires_at": result.ExpiresAt,
		"session_id": result.SessionID,
		"subject":    result.Subject,
		"security_features": gin.H{
			"signed":             true,
			"time_limited":       true,
			"expires_in_seconds": int(h.svc.tokens.TTL().Seconds()),
		},
	})
}

// POST /attendance/mark
func (h *Handler) mark(c *gin.Context) {
	var dto MarkDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result, err := h.svc.Mark(middleware.CurrentUserID(c), &dto, requestMeta(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{
		"message":    "attendance marked successfully",
		"attendance": result.Attendance,
		"session": gin.H{
			"subject": result.Subject,
			"date":    result.SessionDate,
		},
		"security_verified": gin.H{
			"qr_code":              true,
			"wifi":                 result.WiFiVerified,
			"student_registration": true,
		},
		"wifi_location": result.WiFiLocation,
	})
}

// POST /attendance/session/:id/end
func (h *Handler) endSession(c *gin.Context) {
	session, err := h.svc.EndSession(middleware.CurrentUserID(c), c.Param("id"), requestMeta(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"message": "session ended successfully", "session": session})
}

// GET /attendance/session/:id/stats
func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.Stats(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, stats)
}

// GET /attendance/report?session_id=&branch=&subject=&division=
func (h *Handler) report(c *gin.Context) {
	teacherID := middleware.CurrentUserID(c)

	if sessionID := c.Query("session_id"); sessionID != "" {
		report, err := h.svc.SessionReport(teacherID, sessionID, c.Query("division"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		response.OK(c, report)
		return
	}

	report, err := h.svc.FilteredReport(teacherID, ReportFilter{
		Branch:   c.Query("branch"),
		Subject:  c.Query("subject"),
		Division: c.Query("division"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	response.OK(c, gin.H{"report": report})
}

// GET /attendance/audit/logs?session_id=&event_type=&hours=
func (h *Handler) auditLogs(c *gin.Context) {
	filter := audit.ListFilter{
		UserID:    middleware.CurrentUserID(c),
		EventType: models.AuditEventType(c.Query("event_type")),
		Limit:     1000,
	}
	if sid := c.Query("session_id"); sid != "" {
		filter.SessionID = &sid
	}

	logs, err := h.auditSvc.List(filter)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	summary, err := h.auditSvc.Summarize(filter.SessionID, queryWindow(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}

	response.OK(c, gin.H{
		"audit_logs":       logs,
		"security_summary": summary,
		"total_logs":       len(logs),
	})
}

// GET /attendance/security/status
func (h *Handler) securityStatus(c *gin.Context) {
	summary, err := h.auditSvc.Summarize(nil, 24*time.Hour)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	failures, err := h.auditSvc.RecentFailures(time.Hour, 10)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{
		"security_status": "active",
		"summary":         summary,
		"recent_failures": failures,
		"alerts":          summary.SecurityAlerts,
		"last_updated":    time.Now().UTC(),
	})
}

func queryWindow(c *gin.Context) time.Duration {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// respondError maps pipeline rejections onto the HTTP surface; anything
// that is not a RejectError is a transient storage problem and is
// surfaced as retryable.
func (h *Handler) respondError(c *gin.Context, err error) {
	var rej *RejectError
	if !errors.As(err, &rej) {
		response.ServiceUnavailable(c, "temporary failure, please retry")
		return
	}
	switch rej.Kind {
	case KindNotFound:
		response.NotFoundMsg(c, string(rej.Reason))
	case KindConflict:
		response.Conflict(c, string(rej.Reason))
	case KindAuthFailure:
		if rej.Reason == ReasonUnauthorized || rej.Reason == ReasonNetworkRejected {
			msg := string(rej.Reason)
			if rej.Detail != "" {
				msg = msg + ": " + rej.Detail
			}
			response.ForbiddenMsg(c, msg)
			return
		}
		response.BadRequest(c, string(rej.Reason))
	default:
		response.BadRequest(c, string(rej.Reason))
	}
}
