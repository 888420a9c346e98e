package attendance

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"gorm.io/gorm"
)

// ReportRow is one student line in a session report, covering presentees
// and absentees alike.
type ReportRow struct {
	SessionID    string     `json:"session_id"`
	Subject      string     `json:"subject"`
	Branch       string     `json:"branch"`
	Semester     int        `json:"semester"`
	Division     string     `json:"division,omitempty"`
	SessionDate  time.Time  `json:"session_date"`
	StudentID    string     `json:"student_id"`
	StudentName  string     `json:"student_name"`
	StudentEmail string     `json:"student_email"`
	Status       string     `json:"status"`
	MarkedAt     *time.Time `json:"marked_at"`
}

// ReportSummary totals a session report.
type ReportSummary struct {
	TotalStudents        int     `json:"total_students"`
	Present              int     `json:"present"`
	Absent               int     `json:"absent"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// SessionReport is the full roster view for one session.
type SessionReport struct {
	Report  []ReportRow          `json:"report"`
	Summary ReportSummary        `json:"summary"`
	Session *models.SessionModel `json:"session_info"`
}

// SessionReport builds the roster report for a session owned by the
// teacher: every cohort student appears, marked Present or Absent.
func (s *Service) SessionReport(teacherID, sessionDBID, divisionFilter string) (*SessionReport, error) {
	var session models.SessionModel
	err := s.db.Where("id = ? AND teacher_id = ?", sessionDBID, teacherID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, reject(ReasonSessionNotFound, KindNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	division := session.Division
	if division == "" {
		division = divisionFilter
	}

	studentsQ := s.db.Where("branch = ? AND semester = ?", session.Branch, session.Semester)
	if division != "" {
		studentsQ = studentsQ.Where("division = ?", division)
	}
	var students []models.StudentModel
	if err := studentsQ.Find(&students).Error; err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}

	var records []models.AttendanceModel
	if err := s.db.Where("session_id = ?", session.ID).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	byStudent := make(map[string]*models.AttendanceModel, len(records))
	for i := range records {
		byStudent[records[i].StudentID] = &records[i]
	}

	report := make([]ReportRow, 0, len(students))
	present := 0
	for _, st := range students {
		row := ReportRow{
			SessionID:    session.SessionID,
			Subject:      session.Subject,
			Branch:       session.Branch,
			Semester:     session.Semester,
			Division:     division,
			SessionDate:  session.SessionDate,
			StudentID:    st.StudentID,
			StudentName:  st.FullName,
			StudentEmail: st.Email,
			Status:       string(models.AttendanceAbsent),
		}
		if rec, ok := byStudent[st.ID]; ok {
			row.Status = string(rec.Status)
			markedAt := rec.MarkedAt
			row.MarkedAt = &markedAt
			present++
		}
		report = append(report, row)
	}
	sort.Slice(report, func(i, j int) bool { return report[i].StudentID < report[j].StudentID })

	pct := 0.0
	if len(students) > 0 {
		pct = float64(present) / float64(len(students)) * 100
	}

	return &SessionReport{
		Report: report,
		Summary: ReportSummary{
			TotalStudents:        len(students),
			Present:              present,
			Absent:               len(students) - present,
			AttendancePercentage: pct,
		},
		Session: &session,
	}, nil
}

// ReportFilter narrows the cross-session report.
type ReportFilter struct {
	Branch   string
	Subject  string
	Division string
}

// FilteredReport lists every marking across the teacher's sessions that
// matches the filter, newest sessions first.
func (s *Service) FilteredReport(teacherID string, f ReportFilter) ([]ReportRow, error) {
	tx := s.db.Table("attendance").
		Select(`sessions.session_id, sessions.subject, sessions.branch, sessions.semester,
			sessions.division, sessions.session_date,
			students.student_id, students.full_name AS student_name, students.email AS student_email,
			attendance.status, attendance.marked_at`).
		Joins("JOIN sessions ON sessions.id = attendance.session_id").
		Joins("JOIN students ON students.id = attendance.student_id").
		Where("sessions.teacher_id = ?", teacherID).
		Order("sessions.session_date DESC")
	if f.Branch != "" {
		tx = tx.Where("sessions.branch = ?", f.Branch)
	}
	if f.Subject != "" {
		tx = tx.Where("sessions.subject = ?", f.Subject)
	}
	if f.Division != "" {
		tx = tx.Where("sessions.division = ?", f.Division)
	}

	var rows []struct {
		SessionID    string
		Subject      string
		Branch       string
		Semester     int
		Division     string
		SessionDate  time.Time
		StudentID    string
		StudentName  string
		StudentEmail string
		Status       string
		MarkedAt     time.Time
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("report query: %w", err)
	}

	report := make([]ReportRow, len(rows))
	for i, r := range rows {
		markedAt := r.MarkedAt
		report[i] = ReportRow{
			SessionID:    r.SessionID,
			Subject:      r.Subject,
			Branch:       r.Branch,
			Semester:     r.Semester,
			Division:     r.Division,
			SessionDate:  r.SessionDate,
			StudentID:    r.StudentID,
			StudentName:  r.StudentName,
			StudentEmail: r.StudentEmail,
			Status:       r.Status,
			MarkedAt:     &markedAt,
		}
	}
	return report, nil
}
