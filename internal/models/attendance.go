package models

import "time"

// AttendanceStatus is the recorded presence state.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "Present"
	AttendanceAbsent  AttendanceStatus = "Absent"
	AttendanceLate    AttendanceStatus = "Late"
)

// AttendanceModel is one presence record. The composite unique index on
// (student_id, session_id) is the authority for at-most-one marking per
// student per session; concurrent submissions race on it, not on a
// read-then-insert check.
type AttendanceModel struct {
	Base
	StudentID string           `json:"student_id" gorm:"type:char(36);not null;uniqueIndex:idx_student_session"`
	SessionID string           `json:"session_id" gorm:"type:char(36);not null;uniqueIndex:idx_student_session;index"`
	TeacherID string           `json:"teacher_id" gorm:"type:char(36);index;not null"`
	MarkedAt  time.Time        `json:"marked_at"  gorm:"not null"`
	Status    AttendanceStatus `json:"status"     gorm:"size:10;default:'Present'"`
	Latitude  *float64         `json:"latitude"`
	Longitude *float64         `json:"longitude"`
	IPAddress string           `json:"ip_address" gorm:"size:45"`
}

func (AttendanceModel) TableName() string { return "attendance" }
