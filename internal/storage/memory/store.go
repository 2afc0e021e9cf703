package memory

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"viralindex/backend/internal/domain"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailExists    = errors.New("email already exists")
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// Store 使用内存保存全部网关数据，主要用于开发验证与测试。
type Store struct {
	mu sync.RWMutex

	users      map[string]*domain.User // userID -> user
	byEmail    map[string]string       // email -> userID
	byUsername map[string]string       // username -> userID

	apiKeys   map[string]*domain.APIKey // apiKeyID -> apiKey
	byKeyHash map[string]string         // keyHash -> apiKeyID

	// 榜单数据
	models  map[string]*domain.Model                 // modelID -> model
	bySlug  map[string]string                        // slug -> modelID
	scores  map[string]map[string]*domain.DailyScore // modelID -> date -> score
	signals map[string]*domain.Signal                // modelID:date:type -> signal

	// 告警
	alertRules map[string]*domain.AlertRule        // ruleID -> rule
	deliveries map[string][]*domain.AlertDelivery  // 投递记录（按规则 ID）
	retryQueue []*domain.AlertDelivery             // 重试队列

	// JWT 黑名单
	blacklist map[string]time.Time // jti -> 过期时间

	// 套餐缓存
	planCache map[string]*planCacheEntry

	// 用量计数
	usage map[string]*usageEntry // date -> 当日计数

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time // 下次清理过期速率限制的时间
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// planCacheEntry 套餐缓存条目
type planCacheEntry struct {
	Tier      domain.UserTier
	ExpiresAt time.Time
}

// usageEntry 单日用量计数
type usageEntry struct {
	ByTier  map[domain.UserTier]int
	Blocked int
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:             make(map[string]*domain.User),
		byEmail:           make(map[string]string),
		byUsername:        make(map[string]string),
		apiKeys:           make(map[string]*domain.APIKey),
		byKeyHash:         make(map[string]string),
		models:            make(map[string]*domain.Model),
		bySlug:            make(map[string]string),
		scores:            make(map[string]map[string]*domain.DailyScore),
		signals:           make(map[string]*domain.Signal),
		alertRules:        make(map[string]*domain.AlertRule),
		deliveries:        make(map[string][]*domain.AlertDelivery),
		retryQueue:        make([]*domain.AlertDelivery, 0),
		blacklist:         make(map[string]time.Time),
		planCache:         make(map[string]*planCacheEntry),
		usage:             make(map[string]*usageEntry),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
	}
}

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 检查邮箱是否已存在
	if _, exists := s.byEmail[user.Email]; exists {
		return ErrEmailExists
	}

	// 检查用户名是否已存在（用户名不区分大小写）
	if user.Username != "" {
		if _, exists := s.byUsername[strings.ToLower(user.Username)]; exists {
			return ErrEmailExists
		}
	}

	if user.ID == "" {
		return errors.New("user ID is required")
	}

	// 如果时间戳为零值，则设置为当前时间
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	if user.Username != "" {
		s.byUsername[strings.ToLower(user.Username)] = user.ID
	}

	return nil
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}

	user, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	return user, nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return ErrUserNotFound
	}

	user.UpdatedAt = time.Now().UTC()
	oldUsername := ""
	for username, id := range s.byUsername {
		if id == user.ID {
			oldUsername = username
			break
		}
	}

	newUsername := strings.ToLower(user.Username)
	if oldUsername != "" && oldUsername != newUsername {
		delete(s.byUsername, oldUsername)
		if _, exists := s.byUsername[newUsername]; exists {
			return ErrEmailExists
		}
	}

	s.users[user.ID] = user
	if user.Username != "" {
		s.byUsername[newUsername] = user.ID
	}

	return nil
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now

	return nil
}

// ListDigestRecipients 列出订阅每日摘要的活跃用户
func (s *Store) ListDigestRecipients() ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.User, 0)
	for _, user := range s.users {
		if user.IsActive && user.DigestOptIn {
			result = append(result, *user)
		}
	}
	return result, nil
}

// ========== API Key Repository ==========

// SaveAPIKey 保存API Key
func (s *Store) SaveAPIKey(apiKey *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apiKeys[apiKey.ID] = apiKey
	s.byKeyHash[apiKey.KeyHash] = apiKey.ID

	return nil
}

// GetAPIKey 根据ID获取API Key
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apiKey, ok := s.apiKeys[id]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}

	return apiKey, nil
}

// GetAPIKeyByHash 根据哈希获取API Key
func (s *Store) GetAPIKeyByHash(hash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKeyHash[hash]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}

	apiKey, ok := s.apiKeys[id]
	if !ok {
		return nil, ErrAPIKeyNotFound
	}

	return apiKey, nil
}

// ListAPIKeysByUserID 列出用户的所有API Key
func (s *Store) ListAPIKeysByUserID(userID string) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*domain.APIKey, 0)
	for _, apiKey := range s.apiKeys {
		if apiKey.UserID == userID {
			keys = append(keys, apiKey)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})

	return keys, nil
}

// CountActiveAPIKeysByUserID 统计用户的有效API Key数量
func (s *Store) CountActiveAPIKeysByUserID(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, apiKey := range s.apiKeys {
		if apiKey.UserID == userID && apiKey.IsActive {
			count++
		}
	}

	return count, nil
}

// DeactivateAPIKey 吊销API Key（记录保留）
func (s *Store) DeactivateAPIKey(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apiKey, ok := s.apiKeys[id]
	if !ok {
		return ErrAPIKeyNotFound
	}

	apiKey.IsActive = false

	return nil
}

// UpdateAPIKeyLastUsed 更新API Key最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apiKey, ok := s.apiKeys[id]
	if !ok {
		return ErrAPIKeyNotFound
	}

	now := time.Now()
	apiKey.LastUsedAt = &now

	return nil
}

// ========== Admin Repository ==========

// ListUsers 列出用户（支持分页和过滤）
func (s *Store) ListUsers(page, pageSize int, search string, role *domain.UserRole, tier *domain.UserTier, isActive *bool) ([]domain.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// 收集所有符合条件的用户
	filtered := make([]domain.User, 0)
	for _, user := range s.users {
		// 搜索过滤
		if search != "" {
			if !containsIgnoreCase(user.Email, search) && !containsIgnoreCase(user.Username, search) {
				continue
			}
		}

		// 角色过滤
		if role != nil && user.Role != *role {
			continue
		}

		// 等级过滤
		if tier != nil && user.Tier != *tier {
			continue
		}

		// 激活状态过滤
		if isActive != nil && user.IsActive != *isActive {
			continue
		}

		filtered = append(filtered, *user)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)

	// 分页处理
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	if start > total {
		start = total
	}

	return filtered[start:end], total, nil
}

// DeleteUser 删除用户
func (s *Store) DeleteUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}

	delete(s.users, userID)
	delete(s.byEmail, user.Email)
	if user.Username != "" {
		delete(s.byUsername, strings.ToLower(user.Username))
	}

	return nil
}

// DeleteAPIKeysByUserID 删除用户的所有API Key
func (s *Store) DeleteAPIKeysByUserID(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, apiKey := range s.apiKeys {
		if apiKey.UserID == userID {
			delete(s.byKeyHash, apiKey.KeyHash)
			delete(s.apiKeys, id)
		}
	}

	return nil
}

// DeleteAlertRulesByUserID 删除用户的所有告警规则
func (s *Store) DeleteAlertRulesByUserID(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rule := range s.alertRules {
		if rule.UserID == userID {
			delete(s.alertRules, id)
			delete(s.deliveries, id)
		}
	}

	return nil
}

// GetSystemStatistics 获取系统统计信息
func (s *Store) GetSystemStatistics() (*domain.SystemStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.SystemStatistics{
		TotalUsers:  len(s.users),
		TotalModels: len(s.models),
		UsersByTier: make(map[domain.UserTier]int),
		UsersByRole: make(map[domain.UserRole]int),
	}

	// 统计用户信息
	for _, user := range s.users {
		if user.IsActive {
			stats.ActiveUsers++
		}
		stats.UsersByTier[user.Tier]++
		stats.UsersByRole[user.Role]++
	}

	// 统计API Key
	for _, apiKey := range s.apiKeys {
		stats.TotalAPIKeys++
		if apiKey.IsActive {
			stats.ActiveAPIKeys++
		}
	}

	// 统计告警规则
	for _, rule := range s.alertRules {
		if rule.IsActive {
			stats.ActiveRules++
		}
	}

	return stats, nil
}

// containsIgnoreCase 不区分大小写的字符串包含检查
func containsIgnoreCase(s, substr string) bool {
	s = strings.ToLower(s)
	substr = strings.ToLower(substr)
	return strings.Contains(s, substr)
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将 JWT 添加到黑名单
func (s *Store) AddToBlacklist(jti string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[jti] = time.Now().Add(ttl)

	return nil
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (s *Store) IsBlacklisted(jti string) (bool, error) {
	s.mu.RLock()
	expiresAt, ok := s.blacklist[jti]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		s.mu.Lock()
		delete(s.blacklist, jti)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// ========== 限流 ==========

// IncrementRateLimit 增加限流计数，返回计数值与窗口剩余时长。
//
// 过期时间只在窗口首个请求时设置，之后的自增不刷新窗口。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// 清理过期的速率限制条目（每5分钟清理一次）
	if now.After(s.rateLimitsCleanup) {
		for k, v := range s.rateLimits {
			if now.After(v.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	// 获取或创建速率限制条目
	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		// 创建新窗口
		entry = &rateLimitEntry{
			Count:     1,
			ExpiresAt: now.Add(window),
		}
		s.rateLimits[key] = entry
		return 1, window, nil
	}

	// 增加计数
	entry.Count++
	return entry.Count, entry.ExpiresAt.Sub(now), nil
}

// GetRateLimit 获取限流计数
func (s *Store) GetRateLimit(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.rateLimits[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		return 0, nil
	}

	return entry.Count, nil
}

// ========== 套餐缓存 ==========

// CachePlan 缓存解析后的套餐等级
func (s *Store) CachePlan(userID string, tier domain.UserTier, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.planCache[userID] = &planCacheEntry{
		Tier:      tier,
		ExpiresAt: time.Now().Add(ttl),
	}

	return nil
}

// GetCachedPlan 获取缓存的套餐等级
func (s *Store) GetCachedPlan(userID string) (domain.UserTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.planCache[userID]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return "", errors.New("plan not found in cache")
	}

	return entry.Tier, nil
}

// DeleteCachedPlan 删除缓存的套餐等级
func (s *Store) DeleteCachedPlan(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.planCache, userID)

	return nil
}

// ========== 用量计数 ==========

// IncrementUsage 累加当日请求计数
func (s *Store) IncrementUsage(date string, tier domain.UserTier, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.usage[date]
	if !ok {
		entry = &usageEntry{ByTier: make(map[domain.UserTier]int)}
		s.usage[date] = entry
	}

	entry.ByTier[tier]++
	if blocked {
		entry.Blocked++
	}

	return nil
}

// GetUsageStatistics 获取某日的用量统计
func (s *Store) GetUsageStatistics(date string) (*domain.UsageStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.UsageStatistics{
		Date:           date,
		RequestsByTier: make(map[domain.UserTier]int),
	}

	entry, ok := s.usage[date]
	if !ok {
		return stats, nil
	}

	for tier, count := range entry.ByTier {
		stats.RequestsByTier[tier] = count
	}
	stats.Blocked = entry.Blocked

	return stats, nil
}

// ========== 发布订阅 ==========

// PublishFeedEvent 发布实时事件
func (s *Store) PublishFeedEvent(event *domain.FeedEvent) error {
	// 内存存储不支持发布订阅，返回错误
	return errors.New("pub/sub not supported in memory storage")
}

// SubscribeFeedEvents 订阅实时事件
func (s *Store) SubscribeFeedEvents() interface{} {
	// 内存存储不支持发布订阅，返回 nil
	return nil
}

// ========== 工具方法 ==========

// Close 关闭存储连接
func (s *Store) Close() error {
	// 内存存储不需要关闭连接
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	// 内存存储总是健康的
	return nil
}
