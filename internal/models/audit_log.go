package models

// AuditEventType is the closed set of security-relevant events.
type AuditEventType string

const (
	AuditQRGenerated        AuditEventType = "QR_GENERATED"
	AuditQRScanned          AuditEventType = "QR_SCANNED"
	AuditAttendanceMarked   AuditEventType = "ATTENDANCE_MARKED"
	AuditQRExpired          AuditEventType = "QR_EXPIRED"
	AuditInvalidQR          AuditEventType = "INVALID_QR"
	AuditUnauthorizedAccess AuditEventType = "UNAUTHORIZED_ACCESS"
	AuditSessionCreated     AuditEventType = "SESSION_CREATED"
	AuditSessionEnded       AuditEventType = "SESSION_ENDED"
	AuditWiFiVerified       AuditEventType = "WIFI_VERIFIED"
	AuditWiFiFailed         AuditEventType = "WIFI_FAILED"
)

// UserType distinguishes the two actor kinds in audit rows and JWT claims.
type UserType string

const (
	UserTypeStudent UserType = "student"
	UserTypeTeacher UserType = "teacher"
)

// AuditLogModel is an append-only audit trail row. Rows are never updated
// or deleted.
type AuditLogModel struct {
	Base
	EventType     AuditEventType `json:"event_type"     gorm:"size:30;index;not null"`
	UserID        string         `json:"user_id"        gorm:"type:char(36);index"`
	UserType      UserType       `json:"user_type"      gorm:"size:10"`
	SessionID     *string        `json:"session_id"     gorm:"type:char(36);index"`
	Details       string         `json:"details"        gorm:"type:text"`
	IPAddress     string         `json:"ip_address"     gorm:"size:45"`
	UserAgent     string         `json:"user_agent"     gorm:"size:500"`
	// No column default here: the recorder always sets Success explicitly,
	// and a default tag would make GORM drop the false value on insert.
	Success       bool           `json:"success"`
	FailureReason string         `json:"failure_reason" gorm:"size:500"`
}

func (AuditLogModel) TableName() string { return "audit_logs" }
