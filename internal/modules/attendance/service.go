package attendance

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/config"
	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/audit"
	"gorm.io/gorm"
)

// RejectKind classifies a rejection for callers, following the error
// taxonomy: input problems, authorization/security failures, idempotency
// conflicts, and missing resources.
type RejectKind int

const (
	KindInput RejectKind = iota
	KindAuthFailure
	KindConflict
	KindNotFound
)

// RejectError is a caller-visible rejection of a marking or issuance
// attempt. Storage failures are not RejectErrors; they wrap through as
// ordinary errors and are retryable.
type RejectError struct {
	Reason RejectReason
	Kind   RejectKind
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail != "" {
		return string(e.Reason) + ": " + e.Detail
	}
	return string(e.Reason)
}

func reject(reason RejectReason, kind RejectKind) *RejectError {
	return &RejectError{Reason: reason, Kind: kind}
}

// RequestMeta carries client metadata into audit rows.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Service owns attendance sessions and the marking pipeline.
type Service struct {
	db       *gorm.DB
	tokens   *TokenService
	audit    *audit.Service
	wifiMode string
}

func NewService(db *gorm.DB, tokens *TokenService, auditSvc *audit.Service, wifiMode string) *Service {
	return &Service{db: db, tokens: tokens, audit: auditSvc, wifiMode: wifiMode}
}

type CreateSessionDTO struct {
	Subject       string `json:"subject"        binding:"required"`
	Branch        string `json:"branch"         binding:"required"`
	Semester      int    `json:"semester"       binding:"required"`
	Division      string `json:"division"`
	TotalStudents int    `json:"total_students" binding:"required"`
}

// CreateSession opens a new attendance session owned by the teacher.
func (s *Service) CreateSession(teacherID string, dto *CreateSessionDTO, meta RequestMeta) (*models.SessionModel, error) {
	code, err := newSessionCode()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := models.SessionModel{
		SessionID:     code,
		TeacherID:     teacherID,
		Subject:       dto.Subject,
		Branch:        dto.Branch,
		Semester:      dto.Semester,
		Division:      dto.Division,
		SessionDate:   now.Truncate(24 * time.Hour),
		StartTime:     now,
		IsActive:      true,
		TotalStudents: dto.TotalStudents,
	}
	if err := s.db.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.audit.Record(audit.Event{
		Type:      models.AuditSessionCreated,
		UserID:    teacherID,
		UserType:  models.UserTypeTeacher,
		SessionID: &session.ID,
		Details:   map[string]interface{}{"subject": dto.Subject, "branch": dto.Branch, "semester": dto.Semester},
		Success:   true,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})
	return &session, nil
}

// QRResult is what the teacher's screen needs to display a live code.
type QRResult struct {
	QRCode    string    `json:"qr_code"`
	QRData    string    `json:"qr_data"`
	ExpiresAt time.Time `json:"expires_at"`
	SessionID string    `json:"session_id"`
	Subject   string    `json:"subject"`
}

// GenerateQR mints a fresh credential for the session and rotates it in,
// which immediately invalidates any previously issued code.
func (s *Service) GenerateQR(teacherID, sessionDBID string, meta RequestMeta) (*QRResult, error) {
	var session models.SessionModel
	err := s.db.Where("id = ? AND teacher_id = ?", sessionDBID, teacherID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reject(ReasonSessionNotFound, KindNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !session.IsActive {
		return nil, reject(ReasonSessionClosed, KindInput)
	}

	now := time.Now()
	bundle, expiresAt, err := s.tokens.Mint(teacherID, session.SessionID, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}
	credential, err := bundle.Credential()
	if err != nil {
		return nil, fmt.Errorf("serialize credential: %w", err)
	}

	// Rotation: the session row is the single authority for the live token.
	err = s.db.Model(&session).Updates(map[string]interface{}{
		"qr_token":           bundle.Token,
		"token_generated_at": now,
		"token_expires_at":   expiresAt,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("rotate token: %w", err)
	}

	s.audit.Record(audit.Event{
		Type:      models.AuditQRGenerated,
		UserID:    teacherID,
		UserType:  models.UserTypeTeacher,
		SessionID: &session.ID,
		Details: map[string]interface{}{
			"qr_token":   bundle.Token[:16] + "...",
			"expires_at": expiresAt.Format(time.RFC3339),
		},
		Success:   true,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})

	image, err := RenderQRCode(credential)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}

	return &QRResult{
		QRCode:    image,
		QRData:    credential,
		ExpiresAt: expiresAt,
		SessionID: session.SessionID,
		Subject:   session.Subject,
	}, nil
}

type MarkDTO struct {
	QRData    string   `json:"qr_data"`
	WiFiSSID  string   `json:"wifi_ssid"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// MarkResult reports a successful commit.
type MarkResult struct {
	Attendance   *models.AttendanceModel `json:"attendance"`
	Subject      string                  `json:"subject"`
	SessionDate  time.Time               `json:"session_date"`
	WiFiVerified bool                    `json:"wifi_verified"`
	WiFiLocation string                  `json:"wifi_location,omitempty"`
}

// Mark runs the full authorization pipeline for one redemption attempt:
// credential validation against the live session token, session state,
// idempotency, cohort authorization, network advisory, then an atomic
// commit of the presence record plus the present-count increment. Every
// step's outcome is audited.
func (s *Service) Mark(studentID string, dto *MarkDTO, meta RequestMeta) (*MarkResult, error) {
	if dto.QRData == "" {
		s.auditScan(studentID, nil, models.AuditInvalidQR, string(ReasonMissingInput), meta)
		return nil, reject(ReasonMissingInput, KindInput)
	}

	payload := ParsePayload(dto.QRData)
	if payload == nil {
		s.auditScan(studentID, nil, models.AuditInvalidQR, string(ReasonInvalidFormat), meta)
		return nil, reject(ReasonInvalidFormat, KindInput)
	}

	var session models.SessionModel
	err := s.db.First(&session, "id = ?", payload.SessionDBID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.auditScan(studentID, nil, models.AuditInvalidQR, string(ReasonSessionNotFound), meta)
		return nil, reject(ReasonSessionNotFound, KindNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if _, reason := s.tokens.Validate(dto.QRData, session.QRToken, session.TokenExpiresAt); reason != ReasonNone {
		event := models.AuditInvalidQR
		if reason == ReasonExpired {
			event = models.AuditQRExpired
		}
		s.auditScan(studentID, &session.ID, event, string(reason), meta)
		return nil, reject(reason, KindAuthFailure)
	}

	s.audit.Record(audit.Event{
		Type:      models.AuditQRScanned,
		UserID:    studentID,
		UserType:  models.UserTypeStudent,
		SessionID: &session.ID,
		Success:   true,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})

	if !session.IsActive {
		s.auditScan(studentID, &session.ID, models.AuditInvalidQR, string(ReasonSessionClosed), meta)
		return nil, reject(ReasonSessionClosed, KindInput)
	}

	// Fast-path duplicate check. The unique constraint inside the commit
	// transaction remains the real guard against concurrent submissions.
	var existing int64
	err = s.db.Model(&models.AttendanceModel{}).
		Where("student_id = ? AND session_id = ?", studentID, session.ID).
		Count(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if existing > 0 {
		s.auditMarking(studentID, &session.ID, false, string(ReasonDuplicateMarking), meta)
		return nil, reject(ReasonDuplicateMarking, KindConflict)
	}

	var student models.StudentModel
	err = s.db.First(&student, "id = ?", studentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.audit.Record(audit.Event{
			Type:          models.AuditUnauthorizedAccess,
			UserID:        studentID,
			UserType:      models.UserTypeStudent,
			SessionID:     &session.ID,
			Details:       map[string]interface{}{"reason": "student record not found"},
			Success:       false,
			FailureReason: "Unauthorized access attempt",
			IPAddress:     meta.IP,
			UserAgent:     meta.UserAgent,
		})
		return nil, reject(ReasonUnauthorized, KindAuthFailure)
	}
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}

	if rejectErr := s.checkCohort(&student, &session, meta); rejectErr != nil {
		return nil, rejectErr
	}

	wifiVerified, wifiLocation, err := s.checkNetwork(studentID, &session, dto.WiFiSSID, meta)
	if err != nil {
		return nil, err
	}

	record := models.AttendanceModel{
		StudentID: studentID,
		SessionID: session.ID,
		TeacherID: session.TeacherID,
		MarkedAt:  time.Now(),
		Status:    models.AttendancePresent,
		Latitude:  dto.Latitude,
		Longitude: dto.Longitude,
		IPAddress: meta.IP,
	}

	err = s.commit(&record, session.ID)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost the race to another submission from the same student.
		s.auditMarking(studentID, &session.ID, false, string(ReasonDuplicateMarking), meta)
		return nil, reject(ReasonDuplicateMarking, KindConflict)
	}
	if err != nil {
		s.auditMarking(studentID, &session.ID, false, err.Error(), meta)
		return nil, fmt.Errorf("commit attendance: %w", err)
	}

	s.auditMarking(studentID, &session.ID, true, "", meta)

	return &MarkResult{
		Attendance:   &record,
		Subject:      session.Subject,
		SessionDate:  session.SessionDate,
		WiFiVerified: wifiVerified,
		WiFiLocation: wifiLocation,
	}, nil
}

// commit inserts the presence record and bumps the session counter as one
// atomic unit. Either both happen or neither does.
func (s *Service) commit(record *models.AttendanceModel, sessionID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		res := tx.Model(&models.SessionModel{}).
			Where("id = ?", sessionID).
			UpdateColumn("present_count", gorm.Expr("present_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("session disappeared during commit")
		}
		return nil
	})
}

func (s *Service) checkCohort(student *models.StudentModel, session *models.SessionModel, meta RequestMeta) *RejectError {
	mismatch := ""
	details := map[string]interface{}{}
	detail := ""

	switch {
	case student.Branch != session.Branch:
		mismatch = "branch"
		details["student_branch"] = student.Branch
		details["session_branch"] = session.Branch
		detail = fmt.Sprintf("this session is for %s branch, but you are registered in %s branch",
			session.Branch, student.Branch)
	case student.Semester != session.Semester:
		mismatch = "semester"
		details["student_semester"] = student.Semester
		details["session_semester"] = session.Semester
		detail = fmt.Sprintf("this session is for semester %d, but you are in semester %d",
			session.Semester, student.Semester)
	case session.Division != "" && student.Division != session.Division:
		mismatch = "division"
		details["student_division"] = student.Division
		details["session_division"] = session.Division
		detail = fmt.Sprintf("this session is for division %s, but you are in division %s",
			session.Division, student.Division)
	default:
		return nil
	}

	details["reason"] = mismatch + " mismatch"
	s.audit.Record(audit.Event{
		Type:          models.AuditUnauthorizedAccess,
		UserID:        student.ID,
		UserType:      models.UserTypeStudent,
		SessionID:     &session.ID,
		Details:       details,
		Success:       false,
		FailureReason: "Unauthorized access attempt",
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
	})
	return &RejectError{Reason: ReasonUnauthorized, Kind: KindAuthFailure, Detail: detail}
}

// checkNetwork runs the network advisory step. A mismatch blocks only in
// strict mode; a missing SSID never blocks, because clients cannot always
// read the network name. A registry read failure is returned as an
// ordinary error, never skipped: in strict mode skipping would fail open.
func (s *Service) checkNetwork(studentID string, session *models.SessionModel, ssid string, meta RequestMeta) (bool, string, error) {
	var networks []models.WiFiNetworkModel
	err := s.db.Where("branch = ? AND is_active = ?", session.Branch, true).Find(&networks).Error
	if err != nil {
		return false, "", fmt.Errorf("load networks: %w", err)
	}
	if len(networks) == 0 {
		s.auditWiFi(studentID, &session.ID, ssid, true, "wifi check skipped - no networks configured", meta)
		return false, "", nil
	}

	if ssid == "" {
		s.auditWiFi(studentID, &session.ID, ssid, true, "wifi check skipped - ssid not provided", meta)
		return false, "", nil
	}

	for _, n := range networks {
		if n.SSID == ssid {
			s.auditWiFi(studentID, &session.ID, ssid, true, "", meta)
			return true, n.Location, nil
		}
	}

	if s.wifiMode == config.WiFiStrict {
		s.auditWiFi(studentID, &session.ID, ssid, false, "unauthorized wifi network", meta)
		return false, "", &RejectError{
			Reason: ReasonNetworkRejected,
			Kind:   KindAuthFailure,
			Detail: fmt.Sprintf("network %q is not authorized for branch %s", ssid, session.Branch),
		}
	}

	s.auditWiFi(studentID, &session.ID, ssid, false, "unauthorized wifi network (warning only - not blocking)", meta)
	return false, "", nil
}

// EndSession closes the session and wipes its token, so no outstanding
// credential can ever validate again.
func (s *Service) EndSession(teacherID, sessionDBID string, meta RequestMeta) (*models.SessionModel, error) {
	var session models.SessionModel
	err := s.db.Where("id = ? AND teacher_id = ?", sessionDBID, teacherID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reject(ReasonSessionNotFound, KindNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := time.Now()
	err = s.db.Model(&session).Updates(map[string]interface{}{
		"is_active":          false,
		"end_time":           now,
		"qr_token":           nil,
		"token_generated_at": nil,
		"token_expires_at":   nil,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	session.IsActive = false
	session.EndTime = &now
	session.QRToken = nil
	session.TokenGeneratedAt = nil
	session.TokenExpiresAt = nil

	s.audit.Record(audit.Event{
		Type:      models.AuditSessionEnded,
		UserID:    teacherID,
		UserType:  models.UserTypeTeacher,
		SessionID: &session.ID,
		Success:   true,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})
	return &session, nil
}

// SessionStats is the live headcount view for one session.
type SessionStats struct {
	Session              *models.SessionModel `json:"session"`
	PresentCount         int64                `json:"present_count"`
	TotalStudents        int                  `json:"total_students"`
	AttendancePercentage float64              `json:"attendance_percentage"`
	IsActive             bool                 `json:"is_active"`
}

// Stats recounts presence records rather than trusting the cached counter.
func (s *Service) Stats(teacherID, sessionDBID string) (*SessionStats, error) {
	var session models.SessionModel
	err := s.db.Where("id = ? AND teacher_id = ?", sessionDBID, teacherID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reject(ReasonSessionNotFound, KindNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var present int64
	err = s.db.Model(&models.AttendanceModel{}).
		Where("session_id = ? AND status = ?", session.ID, models.AttendancePresent).
		Count(&present).Error
	if err != nil {
		return nil, fmt.Errorf("count attendance: %w", err)
	}

	pct := 0.0
	if session.TotalStudents > 0 {
		pct = float64(present) / float64(session.TotalStudents) * 100
	}
	return &SessionStats{
		Session:              &session,
		PresentCount:         present,
		TotalStudents:        session.TotalStudents,
		AttendancePercentage: pct,
		IsActive:             session.IsActive,
	}, nil
}

func (s *Service) auditScan(studentID string, sessionID *string, event models.AuditEventType, failure string, meta RequestMeta) {
	s.audit.Record(audit.Event{
		Type:          event,
		UserID:        studentID,
		UserType:      models.UserTypeStudent,
		SessionID:     sessionID,
		Success:       false,
		FailureReason: failure,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
	})
}

func (s *Service) auditMarking(studentID string, sessionID *string, success bool, failure string, meta RequestMeta) {
	s.audit.Record(audit.Event{
		Type:          models.AuditAttendanceMarked,
		UserID:        studentID,
		UserType:      models.UserTypeStudent,
		SessionID:     sessionID,
		Success:       success,
		FailureReason: failure,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
	})
}

func (s *Service) auditWiFi(studentID string, sessionID *string, ssid string, success bool, note string, meta RequestMeta) {
	event := models.AuditWiFiVerified
	if !success {
		event = models.AuditWiFiFailed
	}
	s.audit.Record(audit.Event{
		Type:          event,
		UserID:        studentID,
		UserType:      models.UserTypeStudent,
		SessionID:     sessionID,
		Details:       map[string]interface{}{"wifi_ssid": ssid},
		Success:       success,
		FailureReason: note,
		IPAddress:     meta.IP,
		UserAgent:     meta.UserAgent,
	})
}

func newSessionCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return "SES" + time.Now().Format("20060102") + hex.EncodeToString(buf[:]), nil
}
