package app

import (
	"net/http"
	"time"

	"github.com/Tahursm/attendance-through-qr-code/internal/middleware"
	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/attendance"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/audit"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/student"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/teacher"
	"github.com/Tahursm/attendance-through-qr-code/internal/modules/wifi"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/redis"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(tokenSvc *attendance.TokenService, rc *redis.Client) {
	auditSvc := audit.NewService(a.db, a.logger)
	attendanceSvc := attendance.NewService(a.db, tokenSvc, auditSvc, a.cfg.WiFiEnforcement)

	attendanceHandler := attendance.NewHandler(attendanceSvc, auditSvc)
	wifiHandler := wifi.NewHandler(wifi.NewService(a.db))
	studentHandler := student.NewHandler(student.NewService(a.db))
	teacherHandler := teacher.NewHandler(teacher.NewService(a.db))

	teacherMW := middleware.Auth(models.UserTypeTeacher)
	studentMW := middleware.Auth(models.UserTypeStudent)

	api := a.router.Group("/api")
	if rc != nil {
		// OptionalAuth first, so the limiter can see who is asking.
		api.Use(middleware.OptionalAuth(), middleware.RateLimit(rc.Raw()))
	}

	// GET /api/health
	api.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	attendanceHandler.RegisterRoutes(api, teacherMW, studentMW)
	wifiHandler.RegisterRoutes(api, teacherMW)
	studentHandler.RegisterRoutes(api, studentMW)
	teacherHandler.RegisterRoutes(api, teacherMW)

	a.router.NoRoute(func(c *gin.Context) {
		response.NotFoundMsg(c, "route not found")
	})
	a.router.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	a.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "attendance-qr", "status": "ok"})
	})
}
