package storage

import (
	"errors"
	"time"

	"viralindex/backend/internal/domain"
)

var (
	// ErrModelNotFound 模型未找到错误
	ErrModelNotFound = errors.New("model not found")
	// ErrScoreNotFound 分数未找到错误
	ErrScoreNotFound = errors.New("score not found")
	// ErrAlertRuleNotFound 告警规则未找到错误
	ErrAlertRuleNotFound = errors.New("alert rule not found")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	GetUserByUsername(username string) (*domain.User, error)
	UpdateUser(user *domain.User) error
	UpdateLastLogin(userID string) error
	ListDigestRecipients() ([]domain.User, error) // 订阅了每日摘要的活跃用户
}

// AdminRepository 定义管理员数据存取操作。
type AdminRepository interface {
	ListUsers(page, pageSize int, search string, role *domain.UserRole, tier *domain.UserTier, isActive *bool) ([]domain.User, int, error)
	DeleteUser(userID string) error
	DeleteAPIKeysByUserID(userID string) error
	DeleteAlertRulesByUserID(userID string) error
	GetSystemStatistics() (*domain.SystemStatistics, error)
}

// APIKeyRepository 定义 API Key 数据存取操作。
//
// 验证路径只按哈希查询，明文 key 不落库。
type APIKeyRepository interface {
	SaveAPIKey(apiKey *domain.APIKey) error
	GetAPIKey(id string) (*domain.APIKey, error)
	GetAPIKeyByHash(hash string) (*domain.APIKey, error)
	ListAPIKeysByUserID(userID string) ([]*domain.APIKey, error)
	CountActiveAPIKeysByUserID(userID string) (int, error)
	DeactivateAPIKey(id string) error
	UpdateAPIKeyLastUsed(id string) error
}

// CatalogRepository 定义模型、每日分数与信号的存取操作。
//
// 分数与信号按 (model, date) 幂等写入，ingest 重放不会产生重复行。
type CatalogRepository interface {
	SaveModel(model *domain.Model) error
	GetModel(id string) (*domain.Model, error)
	GetModelBySlug(slug string) (*domain.Model, error)
	ListModels(activeOnly bool) ([]domain.Model, error)

	SaveDailyScore(score *domain.DailyScore) error
	GetLatestScore(modelID string) (*domain.DailyScore, error)
	ListScores(modelID, from, to string) ([]domain.DailyScore, error)
	ListScoresByDate(date string) ([]domain.DailyScore, error)
	LatestScoreDate() (string, error)
	GetLeaderboard(date string, limit int) ([]domain.LeaderboardEntry, error)

	SaveSignal(signal *domain.Signal) error
	ListSignalsByDate(date, modelID string) ([]domain.Signal, error)
}

// AlertRepository 定义告警规则与投递记录的存取操作。
type AlertRepository interface {
	SaveAlertRule(rule *domain.AlertRule) error
	GetAlertRule(id string) (*domain.AlertRule, error)
	ListAlertRulesByUserID(userID string) ([]*domain.AlertRule, error)
	ListActiveAlertRules() ([]*domain.AlertRule, error)
	CountActiveAlertRulesByUserID(userID string) (int, error)
	DeleteAlertRule(id string) error

	RecordAlertDelivery(delivery *domain.AlertDelivery) error
	ListAlertDeliveries(ruleID string, limit int) ([]domain.AlertDelivery, error)
	GetPendingAlertDeliveries(limit int) ([]domain.AlertDelivery, error)
}

// JWTRepository 定义 JWT 黑名单操作。
type JWTRepository interface {
	AddToBlacklist(jti string, ttl time.Duration) error
	IsBlacklisted(jti string) (bool, error)
}

// RateLimitRepository 定义限流计数操作。
//
// IncrementRateLimit 必须原子地完成自增与窗口过期设置，并在同一次
// 往返里返回计数值与窗口剩余时长；过期只在计数首次创建时设置，
// 后续自增不得刷新窗口。
type RateLimitRepository interface {
	IncrementRateLimit(key string, window time.Duration) (int64, time.Duration, error)
	GetRateLimit(key string) (int64, error)
}

// PlanCacheRepository 定义套餐解析结果的短 TTL 缓存操作。
type PlanCacheRepository interface {
	CachePlan(userID string, tier domain.UserTier, ttl time.Duration) error
	GetCachedPlan(userID string) (domain.UserTier, error)
	DeleteCachedPlan(userID string) error
}

// StatsRepository 定义用量计数操作（尽力而为，不参与限流判定）。
type StatsRepository interface {
	IncrementUsage(date string, tier domain.UserTier, blocked bool) error
	GetUsageStatistics(date string) (*domain.UsageStatistics, error)
}

// FeedRepository 定义实时事件的发布订阅操作。
type FeedRepository interface {
	PublishFeedEvent(event *domain.FeedEvent) error
	SubscribeFeedEvents() interface{}
}

// Store 定义完整的存储接口。
type Store interface {
	UserRepository
	AdminRepository
	APIKeyRepository
	CatalogRepository
	AlertRepository
	JWTRepository
	RateLimitRepository
	PlanCacheRepository
	StatsRepository
	FeedRepository

	// 工具方法
	Close() error
	Health() error
}
