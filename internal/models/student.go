package models

// StudentModel is an enrolled student. Branch/Semester/Division form the
// cohort that must match a session before attendance can be marked.
type StudentModel struct {
	Base
	StudentID string `json:"student_id" gorm:"size:20;uniqueIndex;not null"`
	Email     string `json:"email"      gorm:"size:100;uniqueIndex;not null"`
	FullName  string `json:"full_name"  gorm:"size:100;not null"`
	Branch    string `json:"branch"     gorm:"size:50;index;not null"`
	Semester  int    `json:"semester"   gorm:"not null"`
	Division  string `json:"division"   gorm:"size:20"`
	Year      int    `json:"year"`
	Phone     string `json:"phone"      gorm:"size:15"`
}

func (StudentModel) TableName() string { return "students" }

// TeacherModel is an instructor who owns attendance sessions.
type TeacherModel struct {
	Base
	TeacherID   string `json:"teacher_id"  gorm:"size:20;uniqueIndex;not null"`
	Email       string `json:"email"       gorm:"size:100;uniqueIndex;not null"`
	FullName    string `json:"full_name"   gorm:"size:100;not null"`
	Branch      string `json:"branch"      gorm:"size:50;not null"`
	Designation string `json:"designation" gorm:"size:50"`
	Phone       string `json:"phone"       gorm:"size:15"`
}

func (TeacherModel) TableName() string { return "teachers" }
