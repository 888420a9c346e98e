package attendance

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/config"
	"github.com/Tahursm/attendance-through-qr-code/internal/database"
	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/audit"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("resolve sql db: %v", err)
	}
	// A pooled second connection would see its own empty :memory: database.
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newMarkingService(t *testing.T, db *gorm.DB, wifiMode string) *Service {
	t.Helper()
	tokens, err := NewTokenService("test-secret", 5*time.Second)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return NewService(db, tokens, audit.NewService(db, zap.NewNop()), wifiMode)
}

func seedTeacher(t *testing.T, db *gorm.DB) *models.TeacherModel {
	t.Helper()
	teacher := models.TeacherModel{
		TeacherID: "T001",
		Email:     "teacher@example.edu",
		FullName:  "Test Teacher",
		Branch:    "CS",
	}
	if err := db.Create(&teacher).Error; err != nil {
		t.Fatalf("seed teacher: %v", err)
	}
	return &teacher
}

func seedStudent(t *testing.T, db *gorm.DB, n int, branch string, semester int, division string) *models.StudentModel {
	t.Helper()
	student := models.StudentModel{
		StudentID: fmt.Sprintf("S%03d", n),
		Email:     fmt.Sprintf("student%d@example.edu", n),
		FullName:  fmt.Sprintf("Student %d", n),
		Branch:    branch,
		Semester:  semester,
		Division:  division,
	}
	if err := db.Create(&student).Error; err != nil {
		t.Fatalf("seed student: %v", err)
	}
	return &student
}

func openSession(t *testing.T, svc *Service, teacherID string) *models.SessionModel {
	t.Helper()
	session, err := svc.CreateSession(teacherID, &CreateSessionDTO{
		Subject:       "Algorithms",
		Branch:        "CS",
		Semester:      4,
		Division:      "A",
		TotalStudents: 60,
	}, RequestMeta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func liveCredential(t *testing.T, svc *Service, teacherID, sessionDBID string) string {
	t.Helper()
	result, err := svc.GenerateQR(teacherID, sessionDBID, RequestMeta{})
	if err != nil {
		t.Fatalf("GenerateQR: %v", err)
	}
	return result.QRData
}

func auditCount(t *testing.T, db *gorm.DB, eventType models.AuditEventType, success bool) int64 {
	t.Helper()
	var n int64
	err := db.Model(&models.AuditLogModel{}).
		Where("event_type = ? AND success = ?", eventType, success).
		Count(&n).Error
	if err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	return n
}

func reloadSession(t *testing.T, db *gorm.DB, id string) *models.SessionModel {
	t.Helper()
	var session models.SessionModel
	if err := db.First(&session, "id = ?", id).Error; err != nil {
		t.Fatalf("reload session: %v", err)
	}
	return &session
}

func wantReason(t *testing.T, err error, reason RejectReason, kind RejectKind) {
	t.Helper()
	var re *RejectError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want RejectError %q", err, reason)
	}
	if re.Reason != reason {
		t.Fatalf("reason = %q, want %q", re.Reason, reason)
	}
	if re.Kind != kind {
		t.Fatalf("kind = %d, want %d", re.Kind, kind)
	}
}

func TestCreateSessionOpensActiveSession(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)

	session := openSession(t, svc, teacher.ID)
	if !session.IsActive {
		t.Fatal("new session is not active")
	}
	if len(session.SessionID) == 0 || session.SessionID[:3] != "SES" {
		t.Fatalf("session code = %q", session.SessionID)
	}
	if n := auditCount(t, db, models.AuditSessionCreated, true); n != 1 {
		t.Fatalf("session-created audit rows = %d, want 1", n)
	}
}

func TestGenerateQRRotatesLiveToken(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)

	first, err := svc.GenerateQR(teacher.ID, session.ID, RequestMeta{})
	if err != nil {
		t.Fatalf("first GenerateQR: %v", err)
	}
	second, err := svc.GenerateQR(teacher.ID, session.ID, RequestMeta{})
	if err != nil {
		t.Fatalf("second GenerateQR: %v", err)
	}
	if first.QRData == second.QRData {
		t.Fatal("rotation produced identical credentials")
	}

	stored := reloadSession(t, db, session.ID)
	if stored.QRToken == nil {
		t.Fatal("no live token after rotation")
	}
	if payload := ParsePayload(second.QRData); payload == nil || payload.SessionDBID != session.ID {
		t.Fatalf("credential not bound to session: %+v", payload)
	}
	if n := auditCount(t, db, models.AuditQRGenerated, true); n != 2 {
		t.Fatalf("qr-generated audit rows = %d, want 2", n)
	}
}

func TestGenerateQRRejectsForeignTeacher(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)

	_, err := svc.GenerateQR("someone-else", session.ID, RequestMeta{})
	wantReason(t, err, ReasonSessionNotFound, KindNotFound)
}

func TestMarkCommitsAttendance(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	result, err := svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{IP: "10.0.0.2"})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if result.Attendance.Status != models.AttendancePresent {
		t.Fatalf("status = %q", result.Attendance.Status)
	}
	if result.Subject != "Algorithms" {
		t.Fatalf("subject = %q", result.Subject)
	}

	if stored := reloadSession(t, db, session.ID); stored.PresentCount != 1 {
		t.Fatalf("present_count = %d, want 1", stored.PresentCount)
	}
	if n := auditCount(t, db, models.AuditAttendanceMarked, true); n != 1 {
		t.Fatalf("marked audit rows = %d, want 1", n)
	}
	if n := auditCount(t, db, models.AuditQRScanned, true); n != 1 {
		t.Fatalf("scanned audit rows = %d, want 1", n)
	}
}

func TestMarkRejectsSecondAttempt(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	if _, err := svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{}); err != nil {
		t.Fatalf("first Mark: %v", err)
	}
	_, err := svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{})
	wantReason(t, err, ReasonDuplicateMarking, KindConflict)

	if stored := reloadSession(t, db, session.ID); stored.PresentCount != 1 {
		t.Fatalf("present_count = %d after duplicate, want 1", stored.PresentCount)
	}
}

func TestMarkCountsDistinctStudents(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	for i := 1; i <= 3; i++ {
		student := seedStudent(t, db, i, "CS", 4, "A")
		if _, err := svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{}); err != nil {
			t.Fatalf("Mark student %d: %v", i, err)
		}
	}

	if stored := reloadSession(t, db, session.ID); stored.PresentCount != 3 {
		t.Fatalf("present_count = %d, want 3", stored.PresentCount)
	}
	stats, err := svc.Stats(teacher.ID, session.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PresentCount != 3 {
		t.Fatalf("stats present = %d, want 3", stats.PresentCount)
	}
	if stats.AttendancePercentage != 5.0 {
		t.Fatalf("percentage = %v, want 5.0", stats.AttendancePercentage)
	}
}

func TestMarkRejectsMissingAndMalformedInput(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	student := seedStudent(t, db, 1, "CS", 4, "A")

	_, err := svc.Mark(student.ID, &MarkDTO{}, RequestMeta{})
	wantReason(t, err, ReasonMissingInput, KindInput)

	_, err = svc.Mark(student.ID, &MarkDTO{QRData: "not a credential"}, RequestMeta{})
	wantReason(t, err, ReasonInvalidFormat, KindInput)

	if n := auditCount(t, db, models.AuditInvalidQR, false); n != 2 {
		t.Fatalf("invalid-qr audit rows = %d, want 2", n)
	}
}

func TestMarkRejectsRotatedOutCredential(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")

	old := liveCredential(t, svc, teacher.ID, session.ID)
	liveCredential(t, svc, teacher.ID, session.ID) // rotation

	_, err := svc.Mark(student.ID, &MarkDTO{QRData: old}, RequestMeta{})
	wantReason(t, err, ReasonStaleOrInvalidToken, KindAuthFailure)
}

func TestMarkRejectsExpiredCredential(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	past := time.Now().Add(-time.Minute)
	err := db.Model(&models.SessionModel{}).
		Where("id = ?", session.ID).
		UpdateColumn("token_expires_at", past).Error
	if err != nil {
		t.Fatalf("force expiry: %v", err)
	}

	_, err = svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{})
	wantReason(t, err, ReasonExpired, KindAuthFailure)
	if n := auditCount(t, db, models.AuditQRExpired, false); n != 1 {
		t.Fatalf("qr-expired audit rows = %d, want 1", n)
	}
}

func TestMarkRejectsCohortMismatch(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	cases := []struct {
		name     string
		branch   string
		semester int
		division string
	}{
		{"branch", "ME", 4, "A"},
		{"semester", "CS", 6, "A"},
		{"division", "CS", 4, "B"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			student := seedStudent(t, db, i+1, tc.branch, tc.semester, tc.division)
			_, err := svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{})
			wantReason(t, err, ReasonUnauthorized, KindAuthFailure)
		})
	}

	if n := auditCount(t, db, models.AuditUnauthorizedAccess, false); n != 3 {
		t.Fatalf("unauthorized audit rows = %d, want 3", n)
	}
	if stored := reloadSession(t, db, session.ID); stored.PresentCount != 0 {
		t.Fatalf("present_count = %d, want 0", stored.PresentCount)
	}
}

func TestMarkNetworkAdvisoryNeverBlocks(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	network := models.WiFiNetworkModel{
		SSID:      "CampusNet",
		Location:  "Building A",
		Branch:    "CS",
		IsActive:  true,
		CreatedBy: teacher.ID,
	}
	if err := db.Create(&network).Error; err != nil {
		t.Fatalf("seed network: %v", err)
	}

	result, err := svc.Mark(student.ID, &MarkDTO{QRData: credential, WiFiSSID: "SomeHotspot"}, RequestMeta{})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if result.WiFiVerified {
		t.Fatal("mismatched network reported as verified")
	}
	if n := auditCount(t, db, models.AuditWiFiFailed, false); n != 1 {
		t.Fatalf("wifi-failed audit rows = %d, want 1", n)
	}
}

func TestMarkNetworkStrictBlocksMismatch(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiStrict)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	network := models.WiFiNetworkModel{
		SSID:      "CampusNet",
		Location:  "Building A",
		Branch:    "CS",
		IsActive:  true,
		CreatedBy: teacher.ID,
	}
	if err := db.Create(&network).Error; err != nil {
		t.Fatalf("seed network: %v", err)
	}

	rogue := seedStudent(t, db, 1, "CS", 4, "A")
	_, err := svc.Mark(rogue.ID, &MarkDTO{QRData: credential, WiFiSSID: "SomeHotspot"}, RequestMeta{})
	wantReason(t, err, ReasonNetworkRejected, KindAuthFailure)

	onNet := seedStudent(t, db, 2, "CS", 4, "A")
	result, err := svc.Mark(onNet.ID, &MarkDTO{QRData: credential, WiFiSSID: "CampusNet"}, RequestMeta{})
	if err != nil {
		t.Fatalf("Mark on authorized network: %v", err)
	}
	if !result.WiFiVerified || result.WiFiLocation != "Building A" {
		t.Fatalf("wifi result = %v %q", result.WiFiVerified, result.WiFiLocation)
	}

	// No SSID reported never blocks, even in strict mode.
	noSSID := seedStudent(t, db, 3, "CS", 4, "A")
	if _, err := svc.Mark(noSSID.ID, &MarkDTO{QRData: credential}, RequestMeta{}); err != nil {
		t.Fatalf("Mark without ssid: %v", err)
	}
}

func TestMarkTranslatesCommitConflict(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	// A soft-deleted record is invisible to the pre-check but still held
	// by the unique index, which is exactly the window a concurrent
	// submission exploits: the commit itself must catch the conflict.
	ghost := models.AttendanceModel{
		StudentID: student.ID,
		SessionID: session.ID,
		TeacherID: teacher.ID,
		MarkedAt:  time.Now(),
		Status:    models.AttendancePresent,
	}
	if err := db.Create(&ghost).Error; err != nil {
		t.Fatalf("seed conflicting record: %v", err)
	}
	if err := db.Delete(&ghost).Error; err != nil {
		t.Fatalf("soft-delete conflicting record: %v", err)
	}

	_, err := svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{})
	wantReason(t, err, ReasonDuplicateMarking, KindConflict)

	if stored := reloadSession(t, db, session.ID); stored.PresentCount != 0 {
		t.Fatalf("present_count = %d after rolled-back commit, want 0", stored.PresentCount)
	}
	if n := auditCount(t, db, models.AuditAttendanceMarked, false); n != 1 {
		t.Fatalf("failed-marking audit rows = %d, want 1", n)
	}
}

func TestMarkSurfacesRegistryStorageFault(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiStrict)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	if err := db.Migrator().DropTable(&models.WiFiNetworkModel{}); err != nil {
		t.Fatalf("drop networks table: %v", err)
	}

	// A registry read failure must not degrade into "no networks
	// configured": that would skip enforcement. The error surfaces as
	// retryable instead of a rejection, and nothing is committed.
	_, err := svc.Mark(student.ID, &MarkDTO{QRData: credential, WiFiSSID: "CampusNet"}, RequestMeta{})
	if err == nil {
		t.Fatal("Mark committed despite registry storage failure")
	}
	var re *RejectError
	if errors.As(err, &re) {
		t.Fatalf("error = %v, want a plain storage error, not a rejection", re)
	}

	var marked int64
	if err := db.Model(&models.AttendanceModel{}).Count(&marked).Error; err != nil {
		t.Fatalf("count attendance: %v", err)
	}
	if marked != 0 {
		t.Fatalf("attendance rows = %d, want 0", marked)
	}
}

func TestMarkUnknownStudentIsAudited(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	_, err := svc.Mark("no-such-student", &MarkDTO{QRData: credential}, RequestMeta{})
	wantReason(t, err, ReasonUnauthorized, KindAuthFailure)

	if n := auditCount(t, db, models.AuditUnauthorizedAccess, false); n != 1 {
		t.Fatalf("unauthorized audit rows = %d, want 1", n)
	}
}

func TestEndSessionInvalidatesCredential(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")
	credential := liveCredential(t, svc, teacher.ID, session.ID)

	ended, err := svc.EndSession(teacher.ID, session.ID, RequestMeta{})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.IsActive || ended.QRToken != nil || ended.EndTime == nil {
		t.Fatalf("session not fully closed: %+v", ended)
	}

	_, err = svc.Mark(student.ID, &MarkDTO{QRData: credential}, RequestMeta{})
	wantReason(t, err, ReasonStaleOrInvalidToken, KindAuthFailure)

	_, err = svc.GenerateQR(teacher.ID, session.ID, RequestMeta{})
	wantReason(t, err, ReasonSessionClosed, KindInput)
}

func TestCommitTranslatesDuplicateKey(t *testing.T) {
	db := newTestDB(t)
	svc := newMarkingService(t, db, config.WiFiAdvisory)
	teacher := seedTeacher(t, db)
	session := openSession(t, svc, teacher.ID)
	student := seedStudent(t, db, 1, "CS", 4, "A")

	record := func() *models.AttendanceModel {
		return &models.AttendanceModel{
			StudentID: student.ID,
			SessionID: session.ID,
			TeacherID: teacher.ID,
			MarkedAt:  time.Now(),
			Status:    models.AttendancePresent,
		}
	}

	if err := svc.commit(record(), session.ID); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	err := svc.commit(record(), session.ID)
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("second commit error = %v, want gorm.ErrDuplicatedKey", err)
	}
	if stored := reloadSession(t, db, session.ID); stored.PresentCount != 1 {
		t.Fatalf("present_count = %d after failed commit, want 1", stored.PresentCount)
	}
}
