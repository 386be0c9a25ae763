// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-binder/internal/api"
	"github.com/yourusername/pdf-binder/internal/cache"
	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/jobs"
	"github.com/yourusername/pdf-binder/internal/pdf"
	"github.com/yourusername/pdf-binder/internal/roster"
	"github.com/yourusername/pdf-binder/internal/session"
	"github.com/yourusername/pdf-binder/internal/storage"
)

const (
	rosterBasePath = "/api/roster"
	sweepInterval  = time.Minute
)

// app はルーティングに必要な依存関係をまとめたものです。
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *roster.Registry
	sessions   *session.Manager
	pdfService *pdf.Service
	renderer   *pdf.Renderer
	previews   *cache.PreviewStore
	rosters    *api.RosterHandler
	jobs       *jobs.Manager
}

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定
	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		logger.Error("failed to generate session key", "error", err)
		os.Exit(1)
	}
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   session.MaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(session.CookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンとジョブIDを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "X-Job-Id", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	// ルーティングの設定
	setupRoutes(router, a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.registry.Run(ctx, sweepInterval, func(removed, released int) {
		if released > 0 {
			logger.Warn("stale merges released", "count", released)
		}
		if removed > 0 {
			logger.Info("idle workspaces removed", "count", removed)
		}
	})
	if a.jobs != nil {
		a.jobs.StartWorkers()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "async", cfg.AsyncEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down server", "error", err)
	}
	if a.jobs != nil {
		if err := a.jobs.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down workers", "error", err)
		}
	}
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	workStore, err := storage.NewLocal(filepath.Join(cfg.WorkDir, "jobs"))
	if err != nil {
		return nil, err
	}
	pdfService, err := pdf.NewService(cfg, workStore, logger.With("component", "pdf"))
	if err != nil {
		return nil, err
	}

	registry := roster.NewRegistry(roster.Options{
		MaxFiles:    cfg.MaxFiles,
		MaxFileSize: cfg.MaxFileSize,
		PageCounter: pdfService.CountPages,
		// 完了通知のない結合はジョブの保持期限で打ち切る
		MaxMergeDuration: jobTTL(cfg),
	}, time.Duration(cfg.WorkspaceIdleMinutes)*time.Minute)

	var (
		previews    *cache.PreviewStore
		renderCache pdf.PreviewCache
	)
	if cfg.CacheRedisURL != "" {
		opt, err := redis.ParseURL(cfg.CacheRedisURL)
		if err != nil {
			return nil, err
		}
		previews = cache.NewPreviewStore(redis.NewClient(opt), jobTTL(cfg), logger.With("component", "cache"))
		renderCache = previews
		// キャッシュは任意なので、接続できなくても起動は続ける
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := previews.Ping(pingCtx); err != nil {
			logger.Warn("preview cache unreachable", "error", err)
		}
		cancel()
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		registry:   registry,
		sessions:   session.NewManager(cfg, registry, logger.With("component", "session")),
		pdfService: pdfService,
		renderer:   pdf.NewRenderer(cfg, renderCache, logger.With("component", "render")),
		previews:   previews,
		rosters:    api.NewRosterHandler(cfg, rosterBasePath, logger.With("component", "roster")),
	}

	if cfg.AsyncEnabled() {
		manager, err := setupJobs(cfg, pdfService, registry, logger)
		if err != nil {
			return nil, err
		}
		a.jobs = manager
	}
	return a, nil
}

// sessionSecret はクッキー署名鍵を返します。
// 未設定の場合（ローカル開発）は起動ごとにランダムな鍵を生成します。
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	logger.Warn("SESSION_SECRET is not set; using an ephemeral key")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
// プレビューキャッシュは任意のため、到達できなくても status は ok のままです。
func (a *app) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": "pdf-binder-api",
		"version": "0.1.0",
	}
	if a.previews != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := a.previews.Ping(ctx); err != nil {
			a.logger.Warn("preview cache ping failed", "error", err)
			body["cache"] = "unavailable"
		} else {
			body["cache"] = "ok"
		}
	}
	c.JSON(http.StatusOK, body)
}

// setupRoutes は API グループとセッション周りの配線を行います。
func setupRoutes(router *gin.Engine, a *app) {
	router.GET("/health", a.handleHealth)

	apiGroup := router.Group("/api")
	{
		// ワークスペース開始時はセッション未生成なので CSRF 検証は不要
		apiGroup.POST("/session", a.sessions.Start)

		protected := apiGroup.Group("")
		protected.Use(a.sessions.RequireWorkspace(), a.sessions.VerifyCSRF())
		{
			protected.DELETE("/session", a.sessions.End)

			rosterRoutes := protected.Group("/roster")
			{
				rosterRoutes.GET("", a.rosters.View)
				rosterRoutes.DELETE("", a.rosters.Clear)
				rosterRoutes.POST("/files", a.rosters.Ingest)
				rosterRoutes.DELETE("/files/:position", a.rosters.Remove)
				rosterRoutes.POST("/files/:position/up", a.rosters.MoveUp)
				rosterRoutes.POST("/files/:position/down", a.rosters.MoveDown)
				rosterRoutes.POST("/files/:position/rotate", a.rosters.Rotate)
				rosterRoutes.POST("/swap", a.rosters.Swap)
				rosterRoutes.PUT("/order", a.rosters.Reorder)
				rosterRoutes.POST("/move", a.rosters.Move)

				rosterRoutes.GET("/files/:id/thumbnail", pdf.ThumbnailHandler(a.renderer, a.cfg.ThumbnailWidth))
				rosterRoutes.GET("/files/:id/preview", pdf.PreviewHandler(a.renderer, a.cfg.PreviewScale))

				rosterRoutes.POST("/merge", pdf.MergeHandler(a.pdfService, a.handlerOptions()))
			}

			if a.jobs != nil {
				protected.GET("/jobs/:id", jobStatusHandler(a.jobs))
				protected.GET("/jobs/:id/download", jobOwnerOnly(a.pdfService), pdf.ResultDownloadHandler(a.pdfService))
			}
		}
	}
}

func (a *app) handlerOptions() pdf.HandlerOptions {
	opts := pdf.HandlerOptions{
		AsyncThresholdBytes: a.cfg.AsyncThresholdBytes,
		AsyncThresholdPages: a.cfg.AsyncThresholdPages,
		DownloadPrefix:      a.cfg.DownloadPrefix,
		Logger:              a.logger.With("component", "merge"),
	}
	if a.jobs != nil {
		opts.Scheduler = &pdfJobScheduler{manager: a.jobs}
	}
	return opts
}
