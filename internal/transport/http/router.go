package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"viralindex/backend/internal/auth"
	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
	healthprobe "viralindex/backend/internal/health"
	"viralindex/backend/internal/middleware"
	"viralindex/backend/internal/monitoring"
	"viralindex/backend/internal/ratelimit"
	"viralindex/backend/internal/service"
	"viralindex/backend/internal/storage"
	"viralindex/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	AuthService    *auth.AuthService
	APIKeyService  *service.APIKeyService
	PlanService    *service.PlanService
	CatalogService *service.CatalogService
	AlertService   *service.AlertService
	IngestService  *service.IngestService
	AdminService   *service.AdminService
	Limiter        *ratelimit.Limiter
	Store          storage.Store
	Metrics        *monitoring.Metrics
	HealthChecker  *monitoring.HealthChecker // 详细健康报告（管理端）
	AlertManager   *monitoring.AlertManager  // 运维告警（管理端）
	Probes         *healthprobe.Probes       // 存活/就绪探针
	WebSocketHub   *websocket.Hub            // 实时推送，可为 nil
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
//
// 路由分为四块：/v1 是对外数据 API，整组过请求网关；/api 是
// 控制台 API，走 JWT；/internal/ingest 是服务间推送，走共享
// 令牌；其余是探针和文档。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	mon := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	// 使用自定义中间件替代默认中间件
	router.Use(mon.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(mon.HTTPMetrics())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Disposition",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"X-Total-Rows",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService, deps.Logger)
	apiKeyHandler := NewAPIKeyHandler(deps.APIKeyService)
	planHandler := NewPlanHandler(deps.PlanService, deps.Limiter)
	catalogHandler := NewCatalogHandler(deps.CatalogService, deps.Metrics, deps.Logger)
	alertHandler := NewAlertHandler(deps.AlertService)
	ingestHandler := NewIngestHandler(deps.IngestService, deps.Metrics, deps.Config.Ingest.Token, deps.Logger)
	adminHandler := NewAdminHandler(deps.AdminService, deps.HealthChecker, deps.AlertManager)

	// 创建中间件
	gate := middleware.NewGate(deps.APIKeyService, deps.PlanService, deps.Limiter, deps.Store, deps.Logger)
	jwtAuth := middleware.NewJWTAuth(deps.AuthService, deps.Logger)
	adminAuth := middleware.NewAdminAuth(deps.AuthService)
	loginLimit := middleware.LoginRateLimit(deps.Config.Auth.LoginRatePerMinute, deps.Config.Auth.LoginBurst, deps.Logger)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 探针与指标
	router.GET("/live", gin.WrapF(deps.Probes.LiveEndpoint))
	router.GET("/ready", gin.WrapF(deps.Probes.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// ========== 数据 API（/v1） ==========
	// 整组过请求网关：API Key 认证、套餐解析、滑动窗口限流。
	v1 := router.Group("/v1")
	v1.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	v1.Use(gate.Handle())
	v1.Use(mon.GatewayMetrics())
	{
		v1.GET("/models", catalogHandler.ListModels)
		v1.GET("/models/:slug", catalogHandler.GetModel)
		v1.GET("/leaderboard", catalogHandler.Leaderboard)

		// pro 及以上
		v1.GET("/models/:slug/history", middleware.RequireTier(domain.TierPro), catalogHandler.ScoreHistory)
		v1.GET("/signals", middleware.RequireTier(domain.TierPro), catalogHandler.ListSignals)

		// enterprise 专属
		v1.GET("/export/scores.csv", middleware.RequireTier(domain.TierEnterprise), catalogHandler.ExportScores)

		// 实时推送
		if deps.WebSocketHub != nil {
			v1.GET("/feed", websocket.HandleFeed(deps.WebSocketHub))
		}
	}

	// ========== 控制台 API（/api） ==========
	api := router.Group("/api")
	api.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	api.Use(mon.BusinessMetrics())
	{
		// 认证入口
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", loginLimit, authHandler.Register)
			authRoutes.POST("/login", loginLimit, authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.POST("/logout", authHandler.Logout)

			authRoutes.GET("/profile", jwtAuth.RequireAuth(), authHandler.Profile)
			authRoutes.PUT("/password", jwtAuth.RequireAuth(), authHandler.ChangePassword)
			authRoutes.PUT("/digest", jwtAuth.RequireAuth(), authHandler.UpdateDigestOptIn)
		}

		// API Key 管理
		keyRoutes := api.Group("/keys")
		keyRoutes.Use(jwtAuth.RequireAuth())
		{
			keyRoutes.POST("", apiKeyHandler.IssueAPIKey)
			keyRoutes.GET("", apiKeyHandler.ListAPIKeys)
			keyRoutes.GET("/:id", apiKeyHandler.GetAPIKey)
			keyRoutes.DELETE("/:id", apiKeyHandler.RevokeAPIKey)
		}

		// 套餐信息
		api.GET("/plan", jwtAuth.RequireAuth(), planHandler.GetPlan)

		// 告警规则
		alertRoutes := api.Group("/alerts")
		alertRoutes.Use(jwtAuth.RequireAuth())
		{
			alertRoutes.POST("/rules", alertHandler.CreateRule)
			alertRoutes.GET("/rules", alertHandler.ListRules)
			alertRoutes.GET("/rules/:id", alertHandler.GetRule)
			alertRoutes.PATCH("/rules/:id", alertHandler.UpdateRule)
			alertRoutes.DELETE("/rules/:id", alertHandler.DeleteRule)
			alertRoutes.GET("/rules/:id/deliveries", alertHandler.ListDeliveries)
		}

		// 管理端
		adminRoutes := api.Group("/admin")
		adminRoutes.Use(jwtAuth.RequireAuth())
		{
			adminRoutes.GET("/users", adminAuth.RequireAdmin(), adminHandler.ListUsers)
			adminRoutes.GET("/users/:id", adminAuth.RequireAdmin(), adminHandler.GetUser)
			adminRoutes.PATCH("/users/:id", adminAuth.RequireAdmin(), adminHandler.UpdateUser)
			adminRoutes.DELETE("/users/:id", adminAuth.RequireSuper(), adminHandler.DeleteUser) // 超级管理员才能删除用户

			adminRoutes.GET("/stats", adminAuth.RequireAdmin(), adminHandler.GetStatistics)
			adminRoutes.GET("/usage", adminAuth.RequireAdmin(), adminHandler.GetUsageStatistics)
			adminRoutes.GET("/health", adminAuth.RequireAdmin(), adminHandler.GetHealthReport)
			adminRoutes.GET("/alerts", adminAuth.RequireAdmin(), adminHandler.ListAlerts)
		}
	}

	// ========== 服务间推送（/internal/ingest） ==========
	ingestRoutes := router.Group("/internal/ingest")
	ingestRoutes.Use(middleware.BodySizeLimit(middleware.IngestBodyLimit))
	ingestRoutes.Use(ingestHandler.RequireToken())
	{
		ingestRoutes.POST("/models", ingestHandler.PushModels)
		ingestRoutes.POST("/scores", ingestHandler.PushScores)
		ingestRoutes.POST("/signals", ingestHandler.PushSignals)
	}

	return router
}
