package api

import (
	"context"
	"strings"
	"time"

	"imagegate/internal/auth"
	"imagegate/internal/config"
	"imagegate/internal/entity"
	"imagegate/internal/model"

	"github.com/gin-gonic/gin"
)

// ImageOperations is the orchestration surface the image routes call.
// *service.ImageService implements it.
type ImageOperations interface {
	Generate(ctx context.Context, user *entity.DbUser, req entity.GenerateImageRequest) (*entity.ImageOperationResponse, error)
	Upscale(ctx context.Context, user *entity.DbUser, req entity.UpscaleImageRequest) (*entity.ImageOperationResponse, error)
	Extend(ctx context.Context, user *entity.DbUser, req entity.ExtendImageRequest) (*entity.ImageOperationResponse, error)
	Split(ctx context.Context, user *entity.DbUser, req entity.SplitImageRequest) (*entity.ImageOperationResponse, error)
	LayerSplit(ctx context.Context, user *entity.DbUser, req entity.LayerSplitRequest) (*entity.ImageOperationResponse, error)
}

// CreditAdmin adjusts balances. *credit.Ledger implements it.
type CreditAdmin interface {
	Balance(ctx context.Context, userID uint) (int, error)
	Grant(ctx context.Context, userID uint, amount int) (int, error)
	Set(ctx context.Context, userID uint, amount int) error
}

// ProviderCache is told when an admin edits a provider row.
type ProviderCache interface {
	Invalidate(apiType string)
}

// HTTPHandler HTTP 请求处理器
type HTTPHandler struct {
	cfg         config.Config
	repo        model.Repository
	authManager *auth.Manager
	images      ImageOperations
	credits     CreditAdmin
	providers   ProviderCache
}

func NewHTTPHandler(cfg config.Config, repo model.Repository, images ImageOperations, credits CreditAdmin, providers ProviderCache) (*HTTPHandler, error) {
	expiry := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
	authManager, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, expiry)
	if err != nil {
		return nil, err
	}
	return &HTTPHandler{
		cfg:         cfg,
		repo:        repo,
		authManager: authManager,
		images:      images,
		credits:     credits,
		providers:   providers,
	}, nil
}

// RegisterRoutes mounts every /api route on r.
func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	apiGroup := r.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.GET("/status", h.AuthStatus)
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.GET("/me", h.AuthMiddleware(), h.Me)

	protected := apiGroup.Group("")
	protected.Use(h.AuthMiddleware())
	protected.GET("/me/credits", h.MyCredits)
	protected.GET("/images", h.ListImages)

	imageGroup := protected.Group("/image")
	imageGroup.POST("/generate", h.GenerateImage)
	imageGroup.POST("/upscale", h.UpscaleImage)
	imageGroup.POST("/extend", h.ExtendImage)
	imageGroup.POST("/split", h.SplitImage)
	imageGroup.POST("/layer-split", h.LayerSplitImage)

	userAdmin := protected.Group("/users")
	userAdmin.Use(h.RequireAdmin())
	userAdmin.GET("", h.ListUsers)
	userAdmin.POST("", h.CreateUser)
	userAdmin.POST("/:id/credits", h.AdjustCredits)

	providerAdmin := protected.Group("/providers")
	providerAdmin.Use(h.RequireAdmin())
	providerAdmin.GET("", h.AdminListProviders)
	providerAdmin.PATCH("/:api_type", h.UpdateProvider)
}

// PublicPrefix returns the local route prefix for stored files, or "" when
// results are served from an absolute URL.
func PublicPrefix(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		trimmed = "/uploads"
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return ""
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}
