package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"imagegate/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const currentUserContextKey = "current-user"

// AuthMiddleware verifies the bearer token and loads the user fresh, so
// the balance and role seen by handlers are current.
func (h *HTTPHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			Unauthorized(c, "missing bearer token")
			return
		}

		claims, err := h.authManager.ParseToken(token)
		if err != nil {
			logrus.WithError(err).Warn("jwt_rejected")
			ErrorResponse(c, http.StatusUnauthorized, ErrCodeSessionExpired, "token invalid or expired")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		user, err := h.repo.GetUserByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ErrorResponse(c, http.StatusUnauthorized, ErrCodeUserNotFound, "user not found")
				return
			}
			logrus.WithError(err).WithField("user_id", claims.UserID).Error("load_user_failed")
			InternalError(c, "failed to verify user")
			return
		}
		if !user.IsActive {
			ErrorResponse(c, http.StatusForbidden, ErrCodeUserDisabled, "account disabled")
			return
		}

		c.Set(currentUserContextKey, user)
		c.Next()
	}
}

// RequireAdmin 管理员权限守卫
func (h *HTTPHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.IsAdmin() {
			Forbidden(c, "admin privileges required")
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user loaded by AuthMiddleware.
func CurrentUser(c *gin.Context) *entity.DbUser {
	value, exists := c.Get(currentUserContextKey)
	if !exists {
		return nil
	}
	user, _ := value.(*entity.DbUser)
	return user
}
