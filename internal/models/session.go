package models

import "time"

// SessionModel is a single attendance session. QRToken and TokenExpiresAt
// hold the currently valid credential; issuing a new one overwrites both,
// which is what invalidates every previously handed-out QR code.
// PresentCount mirrors the number of attendance rows for the session and is
// only ever changed inside the marking transaction.
type SessionModel struct {
	Base
	SessionID        string     `json:"session_id"         gorm:"size:50;uniqueIndex;not null"`
	TeacherID        string     `json:"teacher_id"         gorm:"type:char(36);index;not null"`
	Subject          string     `json:"subject"            gorm:"size:100;not null"`
	Branch           string     `json:"branch"             gorm:"size:50;not null"`
	Semester         int        `json:"semester"           gorm:"not null"`
	Division         string     `json:"division"           gorm:"size:20"`
	SessionDate      time.Time  `json:"session_date"       gorm:"not null"`
	StartTime        time.Time  `json:"start_time"         gorm:"not null"`
	EndTime          *time.Time `json:"end_time"`
	QRToken          *string    `json:"-"                  gorm:"size:100"`
	TokenGeneratedAt *time.Time `json:"-"`
	TokenExpiresAt   *time.Time `json:"-"`
	IsActive         bool       `json:"is_active"          gorm:"default:true"`
	TotalStudents    int        `json:"total_students"     gorm:"default:0"`
	PresentCount     int        `json:"present_count"      gorm:"default:0"`
}

func (SessionModel) TableName() string { return "sessions" }
