package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"imagegate/internal/api"
	"imagegate/internal/config"
	"imagegate/internal/credit"
	"imagegate/internal/janitor"
	"imagegate/internal/llm"
	"imagegate/internal/metrics"
	"imagegate/internal/model"
	"imagegate/internal/quota"
	"imagegate/internal/service"
	"imagegate/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// 初始化配置
	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.WithError(err).Error("Failed to parse config")
		return
	}

	// 初始化logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	repo, err := model.InitRepository(&cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise repository")
		return
	}
	if err := model.SeedDefaultProviders(context.Background(), repo, cfg); err != nil {
		logrus.WithError(err).Warn("failed to seed default providers")
	}

	store, err := storage.NewStorage(cfg)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise storage")
		return
	}
	scratch := storage.NewScratch(cfg.ScratchDir)
	media, err := llm.NewMediaService(store, scratch, llm.MediaOptions{
		PublicBase:       cfg.StoragePublicBaseURL,
		ProxyURL:         cfg.OutboundProxyURL,
		WatermarkEnabled: cfg.WatermarkEnabled,
		WatermarkText:    cfg.WatermarkText,
	})
	if err != nil {
		logrus.WithError(err).Error("failed to initialise media service")
		return
	}

	retry := llm.DefaultRetryPolicy()
	layers := llm.NewLayerClient(cfg.LayerAPIURL, cfg.LayerAPIKey, cfg.LayerModel, media, retry)
	adapters := llm.NewRegistry(media, retry, layers)

	ledger := credit.NewLedger(repo)
	providers := service.NewProviderRegistry(repo, cfg.ProviderCacheTTL)
	images := service.NewImageService(repo, providers, adapters, ledger, quota.NewTracker(repo), service.Options{
		FallbackEnabled:   cfg.FallbackEnabled,
		DailyQuotaEnabled: cfg.DailyQuotaEnabled,
		ProviderOrder:     cfg.ProviderOrder,
		Timeout:           cfg.OperationTimeout,
		Limiter:           service.NewUserRateLimiter(cfg.RateLimitPerMinute),
	})

	httpHandler, err := api.NewHTTPHandler(cfg, repo, images, ledger, providers)
	if err != nil {
		logrus.WithError(err).Error("failed to initialise http handler")
		return
	}

	// 设置Gin模式
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// 添加中间件
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig(cfg.CORSAllowOrigins)))
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	metrics.Register()
	r.GET("/metrics", metrics.Handler())

	httpHandler.RegisterRoutes(r)

	if localProvider, ok := store.(storage.LocalBaseDirProvider); ok {
		if prefix := api.PublicPrefix(cfg.StoragePublicBaseURL); prefix != "" {
			r.Static(prefix, localProvider.LocalBaseDir())
		}
	}

	sweeper := janitor.New(scratch, cfg.ScratchMaxAge, cfg.JanitorSchedule)
	if err := sweeper.Start(); err != nil {
		logrus.WithError(err).Error("failed to start scratch janitor")
		return
	}

	serverHost := fmt.Sprintf("0.0.0.0:%s", cfg.HTTPPort)
	logrus.WithField("host", serverHost).Info("服务器启动")
	// 创建HTTP服务器
	httpServer := &http.Server{
		Addr:         serverHost,
		Handler:      r,
		ReadTimeout:  900 * time.Second,
		WriteTimeout: 900 * time.Second,
		IdleTimeout:  1200 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("服务器启动失败")
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http_shutdown_failed")
	}
	sweeper.Stop(shutdownCtx)
}

func corsConfig(origins []string) cors.Config {
	conf := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	// "*" 与具体来源不能混用
	if len(origins) == 0 {
		conf.AllowAllOrigins = true
		return conf
	}
	for _, origin := range origins {
		if origin == "*" {
			conf.AllowAllOrigins = true
			return conf
		}
	}
	conf.AllowOrigins = origins
	conf.AllowCredentials = true
	return conf
}

// LoggingMiddleware 日志记录中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
			"size":      c.Writer.Size(),
			"client_ip": c.ClientIP(),
		}).Info("http_request")
	}
}
