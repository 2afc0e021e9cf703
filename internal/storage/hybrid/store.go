package hybrid

import (
	"fmt"
	"time"

	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage/postgres"
	"viralindex/backend/internal/storage/redis"
)

// 各类读缓存的过期时间。
//
// 榜单与模型缓存同时受本地缓存叠加，两级相加必须
// 控制在 60 秒以内。
const (
	leaderboardCacheTTL = 45 * time.Second
	modelCacheTTL       = 45 * time.Second
	statisticsCacheTTL  = 5 * time.Minute
)

// Store 混合存储实现，结合关系型数据库和 Redis
type Store struct {
	db    *postgres.Store
	redis *redis.Cache
}

// NewStore 创建混合存储实例 (PostgreSQL)
func NewStore(dsn string, redisCfg *config.RedisConfig) (*Store, error) {
	return NewStoreWithType("postgres", dsn, redisCfg)
}

// NewStoreWithType 创建混合存储实例（指定数据库类型）
func NewStoreWithType(dbType, dsn string, redisCfg *config.RedisConfig) (*Store, error) {
	var dbStore *postgres.Store
	var err error

	// 根据数据库类型创建存储
	switch dbType {
	case "mysql":
		dbStore, err = postgres.NewMySQLStore(dsn)
	case "postgres", "postgresql":
		dbStore, err = postgres.NewStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", dbType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// 初始化 Redis
	redisCache, err := redis.NewCache(redisCfg)
	if err != nil {
		dbStore.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return &Store{
		db:    dbStore,
		redis: redisCache,
	}, nil
}

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	return s.db.CreateUser(user)
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	// 认证路径需要最新状态，不走缓存
	return s.db.GetUserByID(id)
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	return s.db.GetUserByEmail(email)
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	return s.db.GetUserByUsername(username)
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(user *domain.User) error {
	if err := s.db.UpdateUser(user); err != nil {
		return err
	}

	// 等级可能已变化，清掉套餐缓存
	s.redis.DeleteCachedPlan(user.ID)

	return nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	return s.db.UpdateLastLogin(userID)
}

// ListDigestRecipients 列出订阅每日摘要的活跃用户
func (s *Store) ListDigestRecipients() ([]domain.User, error) {
	return s.db.ListDigestRecipients()
}

// ========== Admin Repository ==========

// ListUsers 列出用户（支持分页和过滤）
func (s *Store) ListUsers(page, pageSize int, search string, role *domain.UserRole, tier *domain.UserTier, isActive *bool) ([]domain.User, int, error) {
	return s.db.ListUsers(page, pageSize, search, role, tier, isActive)
}

// DeleteUser 删除用户及其关联数据
func (s *Store) DeleteUser(userID string) error {
	if err := s.db.DeleteUser(userID); err != nil {
		return err
	}

	// 清掉套餐缓存
	s.redis.DeleteCachedPlan(userID)

	return nil
}

// DeleteAPIKeysByUserID 删除用户的所有API Key
func (s *Store) DeleteAPIKeysByUserID(userID string) error {
	return s.db.DeleteAPIKeysByUserID(userID)
}

// DeleteAlertRulesByUserID 删除用户的所有告警规则
func (s *Store) DeleteAlertRulesByUserID(userID string) error {
	return s.db.DeleteAlertRulesByUserID(userID)
}

// GetSystemStatistics 获取系统统计信息
func (s *Store) GetSystemStatistics() (*domain.SystemStatistics, error) {
	// 先尝试从 Redis 获取
	if stats, err := s.redis.GetCachedStatistics(); err == nil {
		return stats, nil
	}

	// 从数据库获取
	stats, err := s.db.GetSystemStatistics()
	if err != nil {
		return nil, err
	}

	// 缓存到 Redis
	s.redis.CacheStatistics(stats, statisticsCacheTTL)

	return stats, nil
}

// ========== API Key Repository ==========

// SaveAPIKey 保存API Key
func (s *Store) SaveAPIKey(apiKey *domain.APIKey) error {
	return s.db.SaveAPIKey(apiKey)
}

// GetAPIKey 根据ID获取API Key
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	return s.db.GetAPIKey(id)
}

// GetAPIKeyByHash 根据密钥哈希获取API Key
func (s *Store) GetAPIKeyByHash(hash string) (*domain.APIKey, error) {
	// 吊销必须立即生效，验证路径不走缓存
	return s.db.GetAPIKeyByHash(hash)
}

// ListAPIKeysByUserID 列出用户的所有API Key
func (s *Store) ListAPIKeysByUserID(userID string) ([]*domain.APIKey, error) {
	return s.db.ListAPIKeysByUserID(userID)
}

// CountActiveAPIKeysByUserID 统计用户当前有效的API Key数量
func (s *Store) CountActiveAPIKeysByUserID(userID string) (int, error) {
	return s.db.CountActiveAPIKeysByUserID(userID)
}

// DeactivateAPIKey 吊销API Key
func (s *Store) DeactivateAPIKey(id string) error {
	return s.db.DeactivateAPIKey(id)
}

// UpdateAPIKeyLastUsed 更新API Key最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(id string) error {
	return s.db.UpdateAPIKeyLastUsed(id)
}

// ========== Catalog Repository ==========

// SaveModel 保存模型
func (s *Store) SaveModel(model *domain.Model) error {
	if err := s.db.SaveModel(model); err != nil {
		return err
	}

	// 模型信息已变化，清掉 slug 缓存
	s.redis.DeleteCachedModel(model.Slug)

	return nil
}

// GetModel 根据ID获取模型
func (s *Store) GetModel(id string) (*domain.Model, error) {
	return s.db.GetModel(id)
}

// GetModelBySlug 根据slug获取模型
func (s *Store) GetModelBySlug(slug string) (*domain.Model, error) {
	// 先尝试从 Redis 获取
	if model, err := s.redis.GetCachedModel(slug); err == nil {
		return model, nil
	}

	// 从数据库获取
	model, err := s.db.GetModelBySlug(slug)
	if err != nil {
		return nil, err
	}

	// 缓存到 Redis
	s.redis.CacheModel(model, modelCacheTTL)

	return model, nil
}

// ListModels 列出模型
func (s *Store) ListModels(activeOnly bool) ([]domain.Model, error) {
	// 列表查询不缓存
	return s.db.ListModels(activeOnly)
}

// SaveDailyScore 保存每日分数
func (s *Store) SaveDailyScore(score *domain.DailyScore) error {
	if err := s.db.SaveDailyScore(score); err != nil {
		return err
	}

	// 当日榜单已变化，清掉榜单缓存
	s.redis.DeleteCachedLeaderboard(score.Date)

	return nil
}

// GetLatestScore 获取模型最近一日的分数
func (s *Store) GetLatestScore(modelID string) (*domain.DailyScore, error) {
	return s.db.GetLatestScore(modelID)
}

// ListScores 列出模型在时间范围内的分数
func (s *Store) ListScores(modelID, from, to string) ([]domain.DailyScore, error) {
	return s.db.ListScores(modelID, from, to)
}

// ListScoresByDate 列出某日全部模型的分数
func (s *Store) ListScoresByDate(date string) ([]domain.DailyScore, error) {
	return s.db.ListScoresByDate(date)
}

// LatestScoreDate 返回全表最新的分数日期
func (s *Store) LatestScoreDate() (string, error) {
	return s.db.LatestScoreDate()
}

// GetLeaderboard 获取某日榜单
func (s *Store) GetLeaderboard(date string, limit int) ([]domain.LeaderboardEntry, error) {
	// 先尝试从 Redis 获取（缓存保存完整榜单，按需截断）
	if entries, err := s.redis.GetCachedLeaderboard(date); err == nil {
		if limit > 0 && limit < len(entries) {
			entries = entries[:limit]
		}
		return entries, nil
	}

	// 从数据库获取完整榜单
	entries, err := s.db.GetLeaderboard(date, 0)
	if err != nil {
		return nil, err
	}

	// 缓存到 Redis
	s.redis.CacheLeaderboard(date, entries, leaderboardCacheTTL)

	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	return entries, nil
}

// SaveSignal 保存信号
func (s *Store) SaveSignal(signal *domain.Signal) error {
	return s.db.SaveSignal(signal)
}

// ListSignalsByDate 列出某日的信号
func (s *Store) ListSignalsByDate(date, modelID string) ([]domain.Signal, error) {
	return s.db.ListSignalsByDate(date, modelID)
}

// ========== Alert Repository ==========

// SaveAlertRule 保存告警规则
func (s *Store) SaveAlertRule(rule *domain.AlertRule) error {
	return s.db.SaveAlertRule(rule)
}

// GetAlertRule 根据ID获取告警规则
func (s *Store) GetAlertRule(id string) (*domain.AlertRule, error) {
	return s.db.GetAlertRule(id)
}

// ListAlertRulesByUserID 列出用户的所有告警规则
func (s *Store) ListAlertRulesByUserID(userID string) ([]*domain.AlertRule, error) {
	return s.db.ListAlertRulesByUserID(userID)
}

// ListActiveAlertRules 列出所有启用中的告警规则
func (s *Store) ListActiveAlertRules() ([]*domain.AlertRule, error) {
	return s.db.ListActiveAlertRules()
}

// CountActiveAlertRulesByUserID 统计用户启用中的告警规则数量
func (s *Store) CountActiveAlertRulesByUserID(userID string) (int, error) {
	return s.db.CountActiveAlertRulesByUserID(userID)
}

// DeleteAlertRule 删除告警规则
func (s *Store) DeleteAlertRule(id string) error {
	return s.db.DeleteAlertRule(id)
}

// RecordAlertDelivery 记录投递结果
func (s *Store) RecordAlertDelivery(delivery *domain.AlertDelivery) error {
	return s.db.RecordAlertDelivery(delivery)
}

// ListAlertDeliveries 获取规则的投递记录
func (s *Store) ListAlertDeliveries(ruleID string, limit int) ([]domain.AlertDelivery, error) {
	return s.db.ListAlertDeliveries(ruleID, limit)
}

// GetPendingAlertDeliveries 认领到期的待重试投递
func (s *Store) GetPendingAlertDeliveries(limit int) ([]domain.AlertDelivery, error) {
	return s.db.GetPendingAlertDeliveries(limit)
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将 JWT 添加到黑名单
func (s *Store) AddToBlacklist(jti string, ttl time.Duration) error {
	// 只使用 Redis 存储黑名单
	return s.redis.AddToBlacklist(jti, ttl)
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (s *Store) IsBlacklisted(jti string) (bool, error) {
	// 只从 Redis 检查黑名单
	return s.redis.IsBlacklisted(jti)
}

// ========== 限流 ==========

// IncrementRateLimit 原子自增限流计数并返回窗口剩余时长
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, time.Duration, error) {
	// 只使用 Redis 进行限流，多实例共享同一计数
	return s.redis.IncrementRateLimit(key, window)
}

// GetRateLimit 获取限流计数
func (s *Store) GetRateLimit(key string) (int64, error) {
	// 只从 Redis 获取限流计数
	return s.redis.GetRateLimit(key)
}

// ========== 套餐缓存 ==========

// CachePlan 缓存套餐解析结果
func (s *Store) CachePlan(userID string, tier domain.UserTier, ttl time.Duration) error {
	// 只使用 Redis 缓存套餐
	return s.redis.CachePlan(userID, tier, ttl)
}

// GetCachedPlan 获取缓存的套餐
func (s *Store) GetCachedPlan(userID string) (domain.UserTier, error) {
	// 只从 Redis 获取套餐缓存
	return s.redis.GetCachedPlan(userID)
}

// DeleteCachedPlan 删除套餐缓存
func (s *Store) DeleteCachedPlan(userID string) error {
	// 只从 Redis 删除套餐缓存
	return s.redis.DeleteCachedPlan(userID)
}

// ========== 用量统计 ==========

// IncrementUsage 累加某日某等级的请求计数
func (s *Store) IncrementUsage(date string, tier domain.UserTier, blocked bool) error {
	// 只使用 Redis 计数
	return s.redis.IncrementUsage(date, tier, blocked)
}

// GetUsageStatistics 获取某日的用量统计
func (s *Store) GetUsageStatistics(date string) (*domain.UsageStatistics, error) {
	// 只从 Redis 获取用量统计
	return s.redis.GetUsageStatistics(date)
}

// ========== 发布订阅 ==========

// PublishFeedEvent 发布实时事件
func (s *Store) PublishFeedEvent(event *domain.FeedEvent) error {
	// 使用 Redis 发布订阅
	return s.redis.PublishFeedEvent(event)
}

// SubscribeFeedEvents 订阅实时事件
func (s *Store) SubscribeFeedEvents() interface{} {
	// 使用 Redis 发布订阅
	return s.redis.SubscribeFeedEvents()
}

// ========== 工具方法 ==========

// Close 关闭存储连接
func (s *Store) Close() error {
	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		return err
	}

	// 关闭 Redis 连接
	return s.redis.Close()
}

// Health 健康检查，数据库和 Redis 任一不可用即失败
func (s *Store) Health() error {
	if err := s.db.Health(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := s.redis.Health(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	return nil
}

// ConnectionStats 返回数据库与 Redis 当前打开的连接数
func (s *Store) ConnectionStats() (dbConns, redisConns int) {
	return s.db.OpenConnections(), s.redis.OpenConnections()
}
