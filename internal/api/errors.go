package api

import (
	"errors"
	"net/http"

	"imagegate/internal/credit"
	"imagegate/internal/llm"
	"imagegate/internal/quota"
	"imagegate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 错误码定义
const (
	// 通用
	ErrCodeInvalidRequest = "ERR_INVALID_REQUEST"
	ErrCodeUnauthorized   = "ERR_UNAUTHORIZED"
	ErrCodeForbidden      = "ERR_FORBIDDEN"
	ErrCodeNotFound       = "ERR_NOT_FOUND"
	ErrCodeInternalError  = "ERR_INTERNAL_ERROR"
	ErrCodeRateLimited    = "ERR_RATE_LIMITED"

	// 认证
	ErrCodeInvalidCredentials = "ERR_INVALID_CREDENTIALS"
	ErrCodeEmailExists        = "ERR_EMAIL_EXISTS"
	ErrCodeRegistrationClosed = "ERR_REGISTRATION_CLOSED"
	ErrCodeUserDisabled       = "ERR_USER_DISABLED"
	ErrCodeSessionExpired     = "ERR_SESSION_EXPIRED"
	ErrCodeUserNotFound       = "ERR_USER_NOT_FOUND"

	// 服务商与计费
	ErrCodeProviderNotFound      = "ERR_PROVIDER_NOT_FOUND"
	ErrCodeProviderDisabled      = "ERR_PROVIDER_DISABLED"
	ErrCodeProviderUnavailable   = "ERR_PROVIDER_UNAVAILABLE"
	ErrCodeCapabilityUnsupported = "ERR_CAPABILITY_UNSUPPORTED"
	ErrCodeInsufficientCredits   = "ERR_INSUFFICIENT_CREDITS"
	ErrCodeDailyQuotaExceeded    = "ERR_DAILY_QUOTA_EXCEEDED"
	ErrCodeGenerationFailed      = "ERR_GENERATION_FAILED"
)

// APIError 统一的 API 错误响应结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func ErrorResponse(c *gin.Context, status int, code string, message string) {
	c.AbortWithStatusJSON(status, APIError{Code: code, Message: message})
}

func ErrorResponseWithDetails(c *gin.Context, status int, code string, message string, details any) {
	c.AbortWithStatusJSON(status, APIError{Code: code, Message: message, Details: details})
}

func BadRequest(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusBadRequest, code, message)
}

func Unauthorized(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

func NotFound(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusNotFound, code, message)
}

func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// InvalidPayload 无效的请求体
func InvalidPayload(c *gin.Context) {
	ErrorResponse(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
}

// respondServiceError maps an image operation failure onto the envelope.
// Vendor bodies stay in the log.
func respondServiceError(c *gin.Context, err error) {
	var (
		insufficient *credit.InsufficientCreditsError
		limit        *quota.LimitError
	)
	switch {
	case errors.As(err, &insufficient):
		ErrorResponseWithDetails(c, http.StatusPaymentRequired, ErrCodeInsufficientCredits, "insufficient credits",
			gin.H{"balance": insufficient.Balance, "required": insufficient.Required})
	case errors.As(err, &limit):
		ErrorResponseWithDetails(c, http.StatusTooManyRequests, ErrCodeDailyQuotaExceeded, "daily image limit reached",
			gin.H{"api_type": limit.APIType, "used": limit.Used, "limit": limit.Limit})
	case errors.Is(err, service.ErrRateLimited):
		ErrorResponse(c, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests, slow down")
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, llm.ErrInvalidParams):
		BadRequest(c, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, service.ErrProviderNotFound):
		NotFound(c, ErrCodeProviderNotFound, "provider not found")
	case errors.Is(err, service.ErrProviderDisabled):
		ErrorResponse(c, http.StatusServiceUnavailable, ErrCodeProviderDisabled, "provider disabled")
	case errors.Is(err, llm.ErrMissingCredential):
		ErrorResponse(c, http.StatusServiceUnavailable, ErrCodeProviderUnavailable, "provider is not configured")
	case errors.Is(err, llm.ErrUnsupported):
		var capErr *llm.CapabilityError
		if errors.As(err, &capErr) {
			ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeCapabilityUnsupported, "operation not supported by provider",
				gin.H{"api_type": capErr.Provider, "operation": capErr.Operation.String()})
			return
		}
		BadRequest(c, ErrCodeCapabilityUnsupported, "operation not supported by provider")
	case errors.Is(err, service.ErrGenerationFailed):
		ErrorResponse(c, http.StatusBadGateway, ErrCodeGenerationFailed, service.ErrGenerationFailed.Error())
	default:
		logrus.WithError(err).Error("image_operation_unexpected_error")
		InternalError(c, "internal error")
	}
}
