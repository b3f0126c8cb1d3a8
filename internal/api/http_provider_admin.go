package api

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"imagegate/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var providerIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func normaliseProviderID(raw string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return "", errors.New("服务商 ID 不能为空")
	}
	if !providerIDPattern.MatchString(trimmed) {
		return "", errors.New("服务商 ID 只能包含小写字母、数字、连字符或下划线")
	}
	return trimmed, nil
}

func (h *HTTPHandler) AdminListProviders(c *gin.Context) {
	providers, err := h.repo.ListProviderConfigs(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("list_providers_failed")
		InternalError(c, "加载服务商列表失败")
		return
	}

	views := make([]entity.ProviderConfigSummary, 0, len(providers))
	for _, provider := range providers {
		views = append(views, provider.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"providers": views})
}

// UpdateProvider patches a provider row and drops it from the config
// cache so the next operation sees the change.
func (h *HTTPHandler) UpdateProvider(c *gin.Context) {
	apiType, err := normaliseProviderID(c.Param("api_type"))
	if err != nil {
		BadRequest(c, ErrCodeInvalidRequest, err.Error())
		return
	}

	var payload entity.ProviderConfigUpdateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		InvalidPayload(c)
		return
	}
	if payload.Name != nil {
		trimmed := strings.TrimSpace(*payload.Name)
		if trimmed == "" {
			BadRequest(c, ErrCodeInvalidRequest, "名称不能为空")
			return
		}
		payload.Name = &trimmed
	}
	for _, field := range []*string{payload.APIURL, payload.APIKey, payload.Model} {
		if field != nil {
			*field = strings.TrimSpace(*field)
		}
	}
	if payload.UserDailyLimit != nil && *payload.UserDailyLimit < 0 {
		BadRequest(c, ErrCodeInvalidRequest, "user_daily_limit must not be negative")
		return
	}

	updates := payload.ToUpdates().ToMap()
	if len(updates) == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "无更新内容"})
		return
	}

	ctx := c.Request.Context()
	if err := h.repo.UpdateProviderConfig(ctx, apiType, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, ErrCodeProviderNotFound, "provider not found")
			return
		}
		logrus.WithError(err).WithField("api_type", apiType).Error("update_provider_failed")
		InternalError(c, "更新服务商失败")
		return
	}
	if h.providers != nil {
		h.providers.Invalidate(apiType)
	}

	provider, err := h.repo.GetProviderConfig(ctx, apiType)
	if err != nil {
		logrus.WithError(err).WithField("api_type", apiType).Error("reload_provider_failed")
		InternalError(c, "加载服务商失败")
		return
	}
	logrus.WithFields(logrus.Fields{
		"api_type": apiType,
		"admin_id": CurrentUser(c).ID,
	}).Info("provider_updated")
	c.JSON(http.StatusOK, gin.H{"provider": provider.Summary()})
}
