package main

// @title ViralIndex Backend API
// @version 0.9.1
// @description ViralIndex 后端 API 文档
// @contact.name API Support
// @contact.email support@example.com
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 使用格式：Bearer {token}，数据 API 传密钥，控制台传 JWT
// @securityDefinitions.apikey IngestToken
// @in header
// @name X-Ingest-Token
// @description 摄入接口的服务间令牌

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"viralindex/backend/internal/auth"
	"viralindex/backend/internal/config"
	"viralindex/backend/internal/health"
	"viralindex/backend/internal/logger"
	"viralindex/backend/internal/monitoring"
	"viralindex/backend/internal/ratelimit"
	"viralindex/backend/internal/service"
	"viralindex/backend/internal/storage/memory"
	httptransport "viralindex/backend/internal/transport/http"
	"viralindex/backend/internal/websocket"
)

// main 是纯内存模式的程序入口（仅用于本地开发和接口联调）。
//
// 不连数据库和 Redis，重启即丢数据；摄入事件直接投递到
// 本进程的 WebSocket Hub。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	logCfg := logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()
	log.Info("starting viralindex API server",
		zap.String("version", "0.9.1"),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层（内存存储）
	store := memory.NewStore()
	log.Info("using memory storage")

	// 初始化监控
	metrics := monitoring.NewMetrics()
	probes := health.NewProbes(store, metrics.Registry(), log)
	healthChecker := monitoring.NewHealthChecker(store, log, "0.9.1", "development")
	alertManager := monitoring.NewAlertManager(log)

	// 网关限流器
	limiter := ratelimit.NewLimiter(cfg.RateLimit, store)

	// 初始化认证
	jwtManager := auth.NewJWTManager(&cfg.JWT)
	authService := auth.NewAuthService(store, store, jwtManager)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	// 初始化服务层
	apiKeyService := service.NewAPIKeyService(store)
	planService := service.NewPlanService(store)
	adminService := service.NewAdminService(store)
	alertService := service.NewAlertService(store, cfg.Alerts)
	healthChecker.ObserveAlertQueue(alertService.DeliveryQueue())
	catalogService := service.NewCatalogService(store, nil)

	// 创建 WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, metrics, log)

	ingestService := service.NewIngestService(store, alertService, wsHub)

	// 创建 HTTP 路由
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		AuthService:    authService,
		APIKeyService:  apiKeyService,
		PlanService:    planService,
		CatalogService: catalogService,
		AlertService:   alertService,
		IngestService:  ingestService,
		AdminService:   adminService,
		Limiter:        limiter,
		Store:          store,
		Metrics:        metrics,
		HealthChecker:  healthChecker,
		AlertManager:   alertManager,
		Probes:         probes,
		WebSocketHub:   wsHub,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 告警投递协程池
	alertService.Start(ctx)

	// 启动 WebSocket Hub
	go func() {
		log.Info("starting WebSocket hub")
		wsHub.Run(ctx)
	}()

	// 启动 HTTP 服务器
	go func() {
		log.Info("API server listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server stopped cleanly")
	}

	alertService.Stop()
}
