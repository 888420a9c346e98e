package middleware

import (
	"strings"

	"github.com/Tahursm/attendance-through-qr-code/internal/models"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/jwt"
	"github.com/Tahursm/attendance-through-qr-code/internal/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextKeyUserID   = "user_id"
	ContextKeyUserType = "user_type"
)

// Auth returns a middleware that enforces JWT authentication and, when
// userType is non-empty, restricts the route to that actor kind. The kind
// check runs here, before any handler logic, so an actor of the wrong kind
// never reaches the pipeline.
func Auth(userType models.UserType) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := jwt.Parse(extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		if userType != "" && claims.UserType != userType {
			response.ForbiddenMsg(c, "this endpoint requires "+string(userType)+" access")
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUserType, string(claims.UserType))
		c.Next()
	}
}

// OptionalAuth populates the actor identity when a valid token is present
// but never rejects the request. It runs ahead of the rate limiter so
// authenticated traffic can be exempted; route-level Auth still does the
// enforcement.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := jwt.Parse(extractToken(c)); err == nil {
			c.Set(ContextKeyUserID, claims.UserID)
			c.Set(ContextKeyUserType, string(claims.UserType))
		}
		c.Next()
	}
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(string)
	return id
}

// CurrentUserType extracts the authenticated actor kind from context.
func CurrentUserType(c *gin.Context) models.UserType {
	v, _ := c.Get(ContextKeyUserType)
	t, _ := v.(string)
	return models.UserType(t)
}

// IsAuthenticated returns true if the request has a valid auth token.
func IsAuthenticated(c *gin.Context) bool {
	return CurrentUserID(c) != ""
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
