package audit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// highFailureShare is the alerting threshold on the failed-event ratio.
const highFailureShare = 0.1

// Event is one security-relevant occurrence to append to the trail.
type Event struct {
	Type          models.AuditEventType
	UserID        string
	UserType      models.UserType
	SessionID     *string
	Details       map[string]interface{}
	Success       bool
	FailureReason string
	IPAddress     string
	UserAgent     string
}

// Service appends to and queries the audit trail.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

// Record appends an event. It never fails its caller: audit logging must
// not abort the operation it describes, so write errors only go to the
// diagnostic log.
func (s *Service) Record(e Event) {
	var details string
	if e.Details != nil {
		if raw, err := json.Marshal(e.Details); err == nil {
			details = string(raw)
		}
	}

	row := models.AuditLogModel{
		EventType:     e.Type,
		UserID:        e.UserID,
		UserType:      e.UserType,
		SessionID:     e.SessionID,
		Details:       details,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		Success:       e.Success,
		FailureReason: e.FailureReason,
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.log.Warn("audit write failed",
			zap.String("event_type", string(e.Type)),
			zap.Error(err),
		)
	}
}

// ListFilter narrows List results. Nil/zero fields are ignored.
type ListFilter struct {
	UserID    string
	SessionID *string
	EventType models.AuditEventType
	Limit     int
}

// List returns audit events, newest first.
func (s *Service) List(f ListFilter) ([]models.AuditLogModel, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	tx := s.db.Model(&models.AuditLogModel{}).Order("created_at DESC").Limit(limit)
	if f.UserID != "" {
		tx = tx.Where("user_id = ?", f.UserID)
	}
	if f.SessionID != nil {
		tx = tx.Where("session_id = ?", *f.SessionID)
	}
	if f.EventType != "" {
		tx = tx.Where("event_type = ?", f.EventType)
	}

	var logs []models.AuditLogModel
	err := tx.Find(&logs).Error
	return logs, err
}

// TypeBreakdown holds per-event-type counters.
type TypeBreakdown struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Summary is the security rollup over a time window.
type Summary struct {
	TotalEvents      int                                     `json:"total_events"`
	SuccessfulEvents int                                     `json:"successful_events"`
	FailedEvents     int                                     `json:"failed_events"`
	SuccessRate      float64                                 `json:"success_rate"`
	EventTypes       map[models.AuditEventType]TypeBreakdown `json:"event_types"`
	SecurityAlerts   []string                                `json:"security_alerts"`
	TimePeriodHours  int                                     `json:"time_period_hours"`
	GeneratedAt      time.Time                               `json:"generated_at"`
}

// Summarize aggregates events over the trailing window, with a
// high-failure-rate alert and a count of unauthorized-access attempts.
func (s *Service) Summarize(sessionID *string, window time.Duration) (*Summary, error) {
	since := time.Now().Add(-window)

	tx := s.db.Model(&models.AuditLogModel{}).Where("created_at >= ?", since)
	if sessionID != nil {
		tx = tx.Where("session_id = ?", *sessionID)
	}

	var logs []models.AuditLogModel
	if err := tx.Find(&logs).Error; err != nil {
		return nil, err
	}

	summary := &Summary{
		EventTypes:      map[models.AuditEventType]TypeBreakdown{},
		SecurityAlerts:  []string{},
		TimePeriodHours: int(window.Hours()),
		GeneratedAt:     time.Now().UTC(),
	}

	unauthorized := 0
	for _, l := range logs {
		summary.TotalEvents++
		bd := summary.EventTypes[l.EventType]
		bd.Total++
		if l.Success {
			summary.SuccessfulEvents++
			bd.Successful++
		} else {
			summary.FailedEvents++
			bd.Failed++
		}
		summary.EventTypes[l.EventType] = bd
		if l.EventType == models.AuditUnauthorizedAccess {
			unauthorized++
		}
	}

	if summary.TotalEvents > 0 {
		summary.SuccessRate = float64(summary.SuccessfulEvents) / float64(summary.TotalEvents) * 100
	}
	if float64(summary.FailedEvents) > float64(summary.TotalEvents)*highFailureShare {
		summary.SecurityAlerts = append(summary.SecurityAlerts, "High failure rate detected")
	}
	if unauthorized > 0 {
		summary.SecurityAlerts = append(summary.SecurityAlerts,
			pluralize(unauthorized, "unauthorized access attempt"))
	}

	return summary, nil
}

// RecentFailures returns the latest failed events inside the window.
func (s *Service) RecentFailures(window time.Duration, limit int) ([]models.AuditLogModel, error) {
	if limit <= 0 {
		limit = 10
	}
	var logs []models.AuditLogModel
	err := s.db.Model(&models.AuditLogModel{}).
		Where("created_at >= ? AND success = ?", time.Now().Add(-window), false).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
