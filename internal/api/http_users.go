package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"imagegate/internal/auth"
	"imagegate/internal/credit"
	"imagegate/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func (h *HTTPHandler) ListUsers(c *gin.Context) {
	var query entity.UserQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	users, meta, err := h.repo.ListUsers(ctx, &query)
	if err != nil {
		logrus.WithError(err).Error("list_users_failed")
		InternalError(c, "failed to load users")
		return
	}

	response := entity.UserListResponse{
		Users: make([]entity.UserSummary, 0, len(users)),
		Meta:  meta,
	}
	for idx := range users {
		response.Users = append(response.Users, makeUserSummary(&users[idx]))
	}
	c.JSON(http.StatusOK, response)
}

// CreateUser opens an account with an optional opening balance. Only a
// super admin may create admins.
func (h *HTTPHandler) CreateUser(c *gin.Context) {
	requestUser := CurrentUser(c)

	var req entity.UserCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	role := sanitizeRole(req.Role)
	if role == "" {
		BadRequest(c, ErrCodeInvalidRequest, "invalid role")
		return
	}
	if role == entity.UserRoleAdmin && !requestUser.IsSuperAdmin() {
		Forbidden(c, "only super admin can create admin users")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			BadRequest(c, ErrCodeInvalidRequest, err.Error())
			return
		}
		logrus.WithError(err).Error("hash_password_failed")
		InternalError(c, "failed to create user")
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	user := &entity.DbUser{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		Role:         role,
		IsActive:     isActive,
		Credits:      req.Credits,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			BadRequest(c, ErrCodeEmailExists, "email already registered")
			return
		}
		logrus.WithError(err).Error("create_user_failed")
		InternalError(c, "failed to create user")
		return
	}
	logrus.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"role":       user.Role,
		"credits":    user.Credits,
		"created_by": requestUser.ID,
	}).Info("user_created")
	c.JSON(http.StatusCreated, makeUserSummary(user))
}

// AdjustCredits grants ("add", may be negative, floors at zero) or
// overwrites ("set") a user's balance.
func (h *HTTPHandler) AdjustCredits(c *gin.Context) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, ErrCodeInvalidRequest, "invalid user id")
		return
	}
	var req entity.CreditAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	userID := uint(id)
	var balance int
	switch req.Mode {
	case "add":
		balance, err = h.credits.Grant(ctx, userID, req.Amount)
	default:
		err = h.credits.Set(ctx, userID, req.Amount)
		balance = req.Amount
	}
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, ErrCodeUserNotFound, "user not found")
		case errors.Is(err, credit.ErrInvalidAmount):
			BadRequest(c, ErrCodeInvalidRequest, err.Error())
		default:
			logrus.WithError(err).WithField("user_id", userID).Error("adjust_credits_failed")
			InternalError(c, "failed to adjust credits")
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"mode":     req.Mode,
		"amount":   req.Amount,
		"balance":  balance,
		"admin_id": CurrentUser(c).ID,
	}).Info("credits_adjusted")

	target, err := h.repo.GetUserByID(ctx, userID)
	isAdmin := err == nil && target.IsAdmin()
	c.JSON(http.StatusOK, entity.CreditBalanceResponse{UserID: userID, Credits: balance, IsAdmin: isAdmin})
}

// MyCredits 当前用户余额
func (h *HTTPHandler) MyCredits(c *gin.Context) {
	user := CurrentUser(c)
	c.JSON(http.StatusOK, entity.CreditBalanceResponse{
		UserID:  user.ID,
		Credits: user.Credits,
		IsAdmin: user.IsAdmin(),
	})
}

func sanitizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", entity.UserRoleUser:
		return entity.UserRoleUser
	case entity.UserRoleAdmin:
		return entity.UserRoleAdmin
	default:
		return ""
	}
}
