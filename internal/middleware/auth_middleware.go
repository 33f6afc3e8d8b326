package middleware

import (
	"net/http"
	"strings"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/Evg-Mazay/rsoi-curse/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestorContextKey is the key used to store the caller in Gin context
const RequestorContextKey = "requestor"

// AuthMiddleware creates a middleware that validates bearer tokens and stores
// the caller as a models.RequestorContext
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authorization header is required")
			return
		}

		// Check Bearer token format
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Invalid authorization header format. Expected: Bearer <token>")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			unauthorized(c, "Token cannot be empty")
			return
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
			}).WithError(err).Warn("AUTH FAILED: invalid token")
			unauthorized(c, "Invalid or expired token")
			return
		}

		requestor := models.RequestorContext{
			UserID:    claims.UserID,
			IsAdmin:   claims.IsAdmin(),
			IsService: claims.IsService(),
		}
		c.Set(RequestorContextKey, requestor)
		if claims.IsService() {
			c.Set("client_id", claims.ClientID)
		} else {
			c.Set("user_id", claims.UserID)
		}

		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role
func RequireAdmin() gin.HandlerFunc {
	return requireRole(func(r models.RequestorContext) bool { return r.IsAdmin }, "Admin role required")
}

// RequireService rejects callers that are not backend services
func RequireService() gin.HandlerFunc {
	return requireRole(func(r models.RequestorContext) bool { return r.IsService }, "Service token required")
}

func requireRole(allowed func(models.RequestorContext) bool, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestor, exists := GetRequestor(c)
		if !exists {
			unauthorized(c, "Requestor not found. Auth middleware may not be applied.")
			return
		}
		if !allowed(requestor) {
			c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{
				Error:   models.KindForbidden,
				Message: message,
			})
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   models.KindUnauthorized,
		Message: message,
	})
}

// GetRequestor retrieves the caller from Gin context
func GetRequestor(c *gin.Context) (models.RequestorContext, bool) {
	value, exists := c.Get(RequestorContextKey)
	if !exists {
		return models.RequestorContext{}, false
	}

	requestor, ok := value.(models.RequestorContext)
	if !ok {
		return models.RequestorContext{}, false
	}

	return requestor, true
}
