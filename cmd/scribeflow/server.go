// Package main provides the ScribeFlow server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/api/handlers"
	"github.com/scribeflow/scribeflow/broadcast"
	"github.com/scribeflow/scribeflow/config"
	"github.com/scribeflow/scribeflow/internal/authctx"
	"github.com/scribeflow/scribeflow/internal/cache"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/internal/metrics"
	"github.com/scribeflow/scribeflow/internal/server"
	"github.com/scribeflow/scribeflow/internal/telemetry"
	"github.com/scribeflow/scribeflow/quota"
	"github.com/scribeflow/scribeflow/registry"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	cfg, configPath := loadConfig("serve", args)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting ScribeFlow API",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Database not available", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Error("Database auto-migrate failed", zap.Error(err))
	}

	srv := NewServer(cfg, configPath, logger, db)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()

	if otelProviders != nil {
		_ = otelProviders.Shutdown(context.Background())
	}
	logger.Info("ScribeFlow stopped")
}

// Server 是 ScribeFlow 的 API 服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	db         *gorm.DB

	httpManager    *server.Manager
	metricsManager *server.Manager

	registry *registry.Registry
	cache    *cache.Manager
	hub      *broadcast.Hub
	relay    *broadcast.RedisRelay
	wsrelay  *broadcast.WSRelay
	quota    *quota.Manager

	healthHandler     *handlers.HealthHandler
	uploadHandler     *handlers.UploadHandler
	taskHandler       *handlers.TaskHandler
	transcriptHandler *handlers.TranscriptHandler
	summaryHandler    *handlers.SummaryHandler
	quotaHandler      *handlers.QuotaHandler
	progressHandler   *handlers.ProgressHandler

	metricsCollector *metrics.Collector

	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	relayCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, db *gorm.DB) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		db:         db,
	}
}

// Start 启动所有服务
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("scribeflow", s.logger)

	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// initComponents 初始化注册表、缓存、配额与进度广播
func (s *Server) initComponents() error {
	s.registry = registry.New()
	registerProviders(s.registry, s.cfg, s.logger)

	cacheManager, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}, s.logger)
	if err != nil {
		s.logger.Warn("Redis not available, progress relay and cost fast index disabled", zap.Error(err))
	} else {
		s.cache = cacheManager
	}

	s.quota = quota.NewManager(s.db)
	s.hub = broadcast.NewHub()
	s.wsrelay = broadcast.NewWSRelay(s.hub, nil, s.logger)

	// worker 进程发布的进度经 Redis 转发进本进程 hub
	if s.cache != nil {
		s.relay = broadcast.NewRedisRelay(s.cache.Client(), s.hub, s.logger)
		ctx, cancel := context.WithCancel(context.Background())
		s.relayCancel = cancel
		go func() {
			if err := s.relay.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("progress relay stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	sqlDB, err := s.db.DB()
	if err == nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		}))
	}
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", s.cache.Ping))
	}

	sourceStorage, err := resolveSourceStorage(s.registry, s.cfg.Providers)
	if err != nil {
		return err
	}

	s.uploadHandler = handlers.NewUploadHandler(s.db, sourceStorage, s.logger)
	s.taskHandler = handlers.NewTaskHandler(s.db, s.logger)
	s.transcriptHandler = handlers.NewTranscriptHandler(s.db, s.logger)
	s.summaryHandler = handlers.NewSummaryHandler(s.db, s.logger)
	s.quotaHandler = handlers.NewQuotaHandler(s.quota, s.logger)
	s.progressHandler = handlers.NewProgressHandler(s.db, s.hub, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// initHotReloadManager 初始化配置热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)
	return nil
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康与版本
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 上传与任务
	mux.HandleFunc("POST /api/v1/uploads/presign", s.uploadHandler.HandlePresign)
	mux.HandleFunc("POST /api/v1/tasks", s.taskHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/tasks", s.taskHandler.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.taskHandler.HandleGet(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.taskHandler.HandleDelete(w, r, r.PathValue("id"))
	})

	// 转写与摘要
	mux.HandleFunc("GET /api/v1/tasks/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		s.transcriptHandler.HandleGet(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/v1/tasks/{id}/summaries", func(w http.ResponseWriter, r *http.Request) {
		s.summaryHandler.HandleList(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/v1/tasks/{id}/visualizations", func(w http.ResponseWriter, r *http.Request) {
		s.summaryHandler.HandleGenerateVisualization(w, r, r.PathValue("id"))
	})

	// 进度流：SSE 与 WebSocket
	mux.HandleFunc("GET /api/v1/tasks/{id}/progress", func(w http.ResponseWriter, r *http.Request) {
		s.progressHandler.HandleStream(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/v1/tasks/{id}/progress/ws", func(w http.ResponseWriter, r *http.Request) {
		s.wsrelay.ServeTask(w, r, r.PathValue("id"))
	})

	// 配额
	mux.HandleFunc("GET /api/v1/quotas", s.quotaHandler.HandleQuery)
	mux.HandleFunc("POST /api/v1/quotas/refresh", s.quotaHandler.HandleRefresh)

	// 配置管理 API（热更新）
	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
	}

	// 中间件链
	verifier := authctx.NewVerifier(os.Getenv("SCRIBEFLOW_JWT_SECRET"), s.logger)
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rlCtx := context.Background()
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rlCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		BearerAuth(verifier, skipAuthPaths),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}
	if s.relayCancel != nil {
		s.relayCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
