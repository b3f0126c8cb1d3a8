package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"imagegate/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (h *HTTPHandler) GenerateImage(c *gin.Context) {
	var req entity.GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}
	user := CurrentUser(c)
	resp, err := h.images.Generate(c.Request.Context(), user, req)
	h.respondImage(c, resp, err)
}

func (h *HTTPHandler) UpscaleImage(c *gin.Context) {
	var req entity.UpscaleImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}
	user := CurrentUser(c)
	resp, err := h.images.Upscale(c.Request.Context(), user, req)
	h.respondImage(c, resp, err)
}

func (h *HTTPHandler) ExtendImage(c *gin.Context) {
	var req entity.ExtendImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}
	user := CurrentUser(c)
	resp, err := h.images.Extend(c.Request.Context(), user, req)
	h.respondImage(c, resp, err)
}

func (h *HTTPHandler) SplitImage(c *gin.Context) {
	var req entity.SplitImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}
	user := CurrentUser(c)
	resp, err := h.images.Split(c.Request.Context(), user, req)
	h.respondImage(c, resp, err)
}

func (h *HTTPHandler) LayerSplitImage(c *gin.Context) {
	var req entity.LayerSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		InvalidPayload(c)
		return
	}
	user := CurrentUser(c)
	resp, err := h.images.LayerSplit(c.Request.Context(), user, req)
	h.respondImage(c, resp, err)
}

// ListImages 当前用户的生成记录，新的在前
func (h *HTTPHandler) ListImages(c *gin.Context) {
	var query entity.ImageResultQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		BadRequest(c, ErrCodeInvalidRequest, "invalid query parameters")
		return
	}
	query.UserID = CurrentUser(c).ID
	query.APIType = strings.ToLower(strings.TrimSpace(query.APIType))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	results, meta, err := h.repo.ListImageResults(ctx, &query)
	if err != nil {
		logrus.WithError(err).Error("list_image_results_failed")
		InternalError(c, "failed to load image history")
		return
	}
	c.JSON(http.StatusOK, entity.ImageResultListResponse{Results: results, Meta: meta})
}

func (h *HTTPHandler) respondImage(c *gin.Context, resp *entity.ImageOperationResponse, err error) {
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
