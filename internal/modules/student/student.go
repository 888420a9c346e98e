package student

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/middleware"
	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/pagination"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AttendanceEntry is one row in a student's own attendance history.
type AttendanceEntry struct {
	Subject     string    `json:"subject"`
	SessionDate time.Time `json:"session_date"`
	Status      string    `json:"status"`
	MarkedAt    time.Time `json:"marked_at"`
}

// DashboardStats summarizes a student's overall attendance.
type DashboardStats struct {
	TotalSessions        int64   `json:"total_sessions"`
	AttendedSessions     int64   `json:"attended_sessions"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) Profile(studentID string) (*models.StudentModel, error) {
	var st models.StudentModel
	err := s.db.First(&st, "id = ?", studentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &st, err
}

func (s *Service) attendanceQuery(studentID, subject string) *gorm.DB {
	tx := s.db.Table("attendance").
		Select(`sessions.subject, sessions.session_date, attendance.status, attendance.marked_at`).
		Joins("JOIN sessions ON sessions.id = attendance.session_id").
		Where("attendance.student_id = ?", studentID).
		Order("sessions.session_date DESC")
	if subject != "" {
		tx = tx.Where("sessions.subject = ?", subject)
	}
	return tx
}

// History returns the student's markings, optionally filtered by subject.
func (s *Service) History(studentID, subject string, q pagination.Query) ([]AttendanceEntry, response.Pagination, error) {
	var entries []AttendanceEntry
	pag, err := pagination.Paginate(s.attendanceQuery(studentID, subject), q, &entries)
	return entries, pag, err
}

// Stats computes the student's attended share over the sessions their
// cohort ran since they enrolled.
func (s *Service) Stats(studentID string) (*DashboardStats, error) {
	var st models.StudentModel
	if err := s.db.First(&st, "id = ?", studentID).Error; err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}

	var total int64
	err := s.db.Model(&models.SessionModel{}).
		Where("branch = ? AND semester = ?", st.Branch, st.Semester).
		Count(&total).Error
	if err != nil {
		return nil, err
	}

	var attended int64
	err = s.db.Model(&models.AttendanceModel{}).
		Where("student_id = ? AND status = ?", studentID, models.AttendancePresent).
		Count(&attended).Error
	if err != nil {
		return nil, err
	}

	pct := 0.0
	if total > 0 {
		pct = float64(attended) / float64(total) * 100
	}
	return &DashboardStats{
		TotalSessions:        total,
		AttendedSessions:     attended,
		AttendancePercentage: pct,
	}, nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, studentMW gin.HandlerFunc) {
	g := rg.Group("/student", studentMW)

	g.GET("/profile", h.profile)
	g.GET("/attendance", h.attendance)
	g.GET("/attendance/subject/:subject", h.attendanceBySubject)
	g.GET("/dashboard/stats", h.stats)
}

// GET /student/profile
func (h *Handler) profile(c *gin.Context) {
	st, err := h.svc.Profile(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if st == nil {
		response.NotFoundMsg(c, "student not found")
		return
	}
	response.OK(c, st)
}

// GET /student/attendance
func (h *Handler) attendance(c *gin.Context) {
	h.listHistory(c, "")
}

// GET /student/attendance/subject/:subject
func (h *Handler) attendanceBySubject(c *gin.Context) {
	h.listHistory(c, c.Param("subject"))
}

func (h *Handler) listHistory(c *gin.Context, subject string) {
	entries, pag, err := h.svc.History(middleware.CurrentUserID(c), subject, pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, entries, pag)
}

// GET /student/dashboard/stats
func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.Stats(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, stats)
}
