package teacher

import (
	"errors"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/middleware"
	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/pagination"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DashboardStats summarizes a teacher's sessions.
type DashboardStats struct {
	TotalSessions  int64                 `json:"total_sessions"`
	ActiveSessions int64                 `json:"active_sessions"`
	TotalMarked    int64                 `json:"total_marked"`
	RecentSessions []models.SessionModel `json:"recent_sessions"`
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) Profile(teacherID string) (*models.TeacherModel, error) {
	var t models.TeacherModel
	err := s.db.First(&t, "id = ?", teacherID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &t, err
}

// Sessions lists the teacher's sessions, newest first.
func (s *Service) Sessions(teacherID string, q pagination.Query) ([]models.SessionModel, response.Pagination, error) {
	tx := s.db.Model(&models.SessionModel{}).
		Where("teacher_id = ?", teacherID).
		Order("session_date DESC, start_time DESC")
	var sessions []models.SessionModel
	pag, err := pagination.Paginate(tx, q, &sessions)
	return sessions, pag, err
}

// SessionAttendance lists who marked themselves present in one session.
func (s *Service) SessionAttendance(teacherID, sessionDBID string) ([]models.AttendanceModel, error) {
	var session models.SessionModel
	err := s.db.Where("id = ? AND teacher_id = ?", sessionDBID, teacherID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []models.AttendanceModel
	err = s.db.Where("session_id = ?", session.ID).Order("marked_at").Find(&records).Error
	return records, err
}

func (s *Service) Stats(teacherID string) (*DashboardStats, error) {
	stats := &DashboardStats{}

	err := s.db.Model(&models.SessionModel{}).
		Where("teacher_id = ?", teacherID).
		Count(&stats.TotalSessions).Error
	if err != nil {
		return nil, err
	}

	err = s.db.Model(&models.SessionModel{}).
		Where("teacher_id = ? AND is_active = ?", teacherID, true).
		Count(&stats.ActiveSessions).Error
	if err != nil {
		return nil, err
	}

	err = s.db.Model(&models.AttendanceModel{}).
		Where("teacher_id = ?", teacherID).
		Count(&stats.TotalMarked).Error
	if err != nil {
		return nil, err
	}

	err = s.db.Model(&models.SessionModel{}).
		Where("teacher_id = ? AND session_date >= ?", teacherID, time.Now().AddDate(0, 0, -7)).
		Order("session_date DESC").
		Limit(5).
		Find(&stats.RecentSessions).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, teacherMW gin.HandlerFunc) {
	g := rg.Group("/teacher", teacherMW)

	g.GET("/profile", h.profile)
	g.GET("/sessions", h.sessions)
	g.GET("/session/:id/attendance", h.sessionAttendance)
	g.GET("/dashboard/stats", h.stats)
}

// GET /teacher/profile
func (h *Handler) profile(c *gin.Context) {
	t, err := h.svc.Profile(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if t == nil {
		response.NotFoundMsg(c, "teacher not found")
		return
	}
	response.OK(c, t)
}

// GET /teacher/sessions
func (h *Handler) sessions(c *gin.Context) {
	sessions, pag, err := h.svc.Sessions(middleware.CurrentUserID(c), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, sessions, pag)
}

// GET /teacher/session/:id/attendance
func (h *Handler) sessionAttendance(c *gin.Context) {
	records, err := h.svc.SessionAttendance(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if records == nil {
		response.NotFoundMsg(c, "session not found")
		return
	}
	response.OK(c, records)
}

// GET /teacher/dashboard/stats
func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.Stats(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, stats)
}
