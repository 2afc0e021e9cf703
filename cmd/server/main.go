package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"viralindex/backend/internal/auth"
	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/health"
	"viralindex/backend/internal/logger"
	"viralindex/backend/internal/monitoring"
	"viralindex/backend/internal/ratelimit"
	"viralindex/backend/internal/service"
	"viralindex/backend/internal/smtp"
	"viralindex/backend/internal/storage"
	"viralindex/backend/internal/storage/hybrid"
	"viralindex/backend/internal/storage/memory"
	sqlstore "viralindex/backend/internal/storage/sql"
	httptransport "viralindex/backend/internal/transport/http"
	"viralindex/backend/internal/websocket"
)

// version 随版本发布更新
const version = "0.9.1"

// connectionStats 由支持连接池统计的存储实现
type connectionStats interface {
	ConnectionStats() (dbConns, redisConns int)
}

// main 启动网关、控制台 API 与实时推送合一的服务。
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
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.FilePath,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting viralindex server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store

	// 根据配置选择存储类型
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = initializeDatabaseStorage(cfg, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		// 内存存储，仅用于开发环境
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	probes := health.NewProbes(store, metrics.Registry(), log)

	env := "production"
	if cfg.Log.Development {
		env = "development"
	}
	healthChecker := monitoring.NewHealthChecker(store, log, version, env)

	// 初始化运维告警（区别于用户的 webhook 告警规则）
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	if cfg.Alerts.OpsWebhookURL != "" {
		alertManager.AddReceiver(monitoring.NewWebhookAlertReceiver(cfg.Alerts.OpsWebhookURL, log))
	}
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0)) // 512MB
	alertManager.AddRule(monitoring.DatabaseConnectionRule(store))
	alertManager.AddRule(monitoring.RateLimitStoreRule(store))

	log.Info("monitoring system initialized")

	// 网关限流器，计数器落在存储层
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

	// 投递队列积压纳入健康报告和运维告警
	healthChecker.ObserveAlertQueue(alertService.DeliveryQueue())
	alertManager.AddRule(monitoring.DeliveryBacklogRule(alertService.DeliveryQueue()))

	// 报表查询直连 SQL，绕过 ORM；内存模式下没有报表能力
	reporter := newReporter(cfg, log)
	catalogService := service.NewCatalogService(store, reporter)

	// 创建 WebSocket Hub，复用 CORS 的允许来源列表
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, metrics, log)

	ingestService := service.NewIngestService(store, alertService, wsHub)

	// 每日摘要邮件（可选）
	var digestService *service.DigestService
	if cfg.Digest.Enabled {
		digestService = service.NewDigestService(store, smtp.NewMailer(&cfg.Digest))
		log.Info("daily digest enabled",
			zap.String("smtp_host", cfg.Digest.Host),
			zap.Int("send_hour_utc", cfg.Digest.SendHour),
		)
	}

	// 创建默认管理员用户（仅用于开发测试）
	if cfg.Log.Development {
		createDefaultAdmin(store, log)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
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

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 告警投递协程池
	alertService.Start(groupCtx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 实时事件转发 goroutine
	//
	// 混合存储下摄入方通过 Redis 发布事件，每个实例订阅频道并
	// 转发给本实例的 WebSocket 客户端。内存存储不支持订阅，
	// 摄入服务会直接投递到 Hub，无需转发。
	if pubsub, ok := store.SubscribeFeedEvents().(*goredis.PubSub); ok {
		group.Go(func() error {
			defer pubsub.Close()
			log.Info("starting feed relay")

			ch := pubsub.Channel()
			for {
				select {
				case <-groupCtx.Done():
					log.Info("feed relay stopped")
					return nil
				case msg, open := <-ch:
					if !open {
						log.Warn("feed subscription closed")
						return nil
					}
					var event domain.FeedEvent
					if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
						log.Warn("invalid feed event payload", zap.Error(err))
						continue
					}
					wsHub.BroadcastFeedEvent(&event)
				}
			}
		})
	}

	// 定时重试失败的告警投递 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		log.Info("starting alert retry task", zap.Duration("interval", 5*time.Minute))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("alert retry task stopped")
				return nil
			case <-ticker.C:
				if err := alertService.RetryPendingDeliveries(); err != nil {
					log.Error("failed to retry alert deliveries", zap.Error(err))
				}
			}
		}
	})

	// 每日摘要调度 goroutine
	if digestService != nil {
		group.Go(func() error {
			// 半小时检查一次，到达发送小时且当天未发送时触发
			ticker := time.NewTicker(30 * time.Minute)
			defer ticker.Stop()

			log.Info("starting digest scheduler", zap.Int("send_hour_utc", cfg.Digest.SendHour))

			var lastSent string
			for {
				select {
				case <-groupCtx.Done():
					log.Info("digest scheduler stopped")
					return nil
				case <-ticker.C:
					now := time.Now().UTC()
					today := now.Format("2006-01-02")
					if now.Hour() != cfg.Digest.SendHour || lastSent == today {
						continue
					}
					// 失败不在当天重试，避免部分收件人重复收信
					lastSent = today
					if err := digestService.SendDaily(groupCtx); err != nil {
						log.Error("daily digest failed", zap.String("date", today), zap.Error(err))
					} else {
						log.Info("daily digest sent", zap.String("date", today))
					}
				}
			}
		})
	}

	// 运行状态指标 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime(time.Since(startTime))
				if cs, ok := store.(connectionStats); ok {
					dbConns, redisConns := cs.ConnectionStats()
					metrics.UpdateDatabaseConnections(dbConns)
					metrics.UpdateRedisConnections(redisConns)
				}
			}
		}
	})

	// 监控服务 goroutine
	group.Go(func() error {
		log.Info("starting monitoring services")
		alertManager.StartMonitoring(groupCtx, 1*time.Minute)
		return nil
	})

	// 周期性健康巡检 goroutine
	group.Go(func() error {
		healthChecker.StartPeriodicHealthCheck(groupCtx, 5*time.Minute)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("server stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	// 等待在途的告警投递完成后再断开存储
	alertService.Stop()
	catalogService.Close()
	if err := store.Close(); err != nil {
		log.Warn("store close warning", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeDatabaseStorage 初始化数据库存储
func initializeDatabaseStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	log.Info("initializing database storage",
		zap.String("database_type", cfg.Database.Type),
		zap.String("redis_address", cfg.Redis.Address),
	)

	// 使用混合存储（SQL + Redis）
	store, err := hybrid.NewStoreWithType(cfg.Database.Type, cfg.Database.DSN, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid store: %w", err)
	}

	log.Info("database storage initialized successfully",
		zap.String("database_type", cfg.Database.Type),
	)

	return store, nil
}

// newReporter 创建报表查询实例，数据库未配置时返回 nil
//
// 报表不可用不阻塞启动，历史区间与 CSV 导出会降级为空结果。
func newReporter(cfg *config.Config, log *zap.Logger) *sqlstore.Reporter {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		return nil
	}

	driver := cfg.Database.Type
	if driver == "postgresql" {
		driver = "postgres"
	}

	reporter, err := sqlstore.NewReporter(
		driver,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Warn("failed to initialize report queries, continuing without them", zap.Error(err))
		return nil
	}

	log.Info("report queries initialized", zap.String("driver", driver))
	return reporter
}

// createDefaultAdmin 创建默认管理员用户（仅用于开发测试）
func createDefaultAdmin(store storage.Store, log *zap.Logger) {
	email := "admin@viralindex.local"
	password := "Admin123456!"
	username := "admin"

	// 检查管理员是否已存在
	if _, err := store.GetUserByEmail(email); err == nil {
		log.Info("默认管理员用户已存在，跳过创建", zap.String("email", email))
		return
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		log.Error("无法哈希密码", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:              "super-admin-001",
		Email:           email,
		Username:        username,
		PasswordHash:    hashedPassword,
		Role:            domain.RoleSuper,
		Tier:            domain.TierEnterprise,
		IsActive:        true,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := store.CreateUser(user); err != nil {
		log.Error("创建默认管理员失败", zap.Error(err))
		return
	}

	log.Warn("默认管理员用户已创建（仅用于开发环境）",
		zap.String("email", email),
		zap.String("password", password),
		zap.String("role", string(domain.RoleSuper)),
	)
}
