package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
)

// usageRetention 用量计数的保留时长
const usageRetention = 90 * 24 * time.Hour

// feedChannel 实时事件的发布频道
const feedChannel = "feed:events"

// incrWindowScript 原子地自增计数并在窗口首个请求时设置过期，
// 返回 {计数值, 剩余毫秒}。过期只设置一次，后续自增不会顺延窗口。
var incrWindowScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// Cache Redis 缓存实现
type Cache struct {
	rdb *goredis.Client
	ctx context.Context
}

// NewCache 创建 Redis 缓存实例
func NewCache(cfg *config.RedisConfig) (*Cache, error) {
	rdb, err := dial(cfg)
	if err != nil {
		return nil, err
	}

	return &Cache{
		rdb: rdb,
		ctx: context.Background(),
	}, nil
}

// ========== 榜单缓存 ==========

// CacheLeaderboard 缓存某日榜单
func (c *Cache) CacheLeaderboard(date string, entries []domain.LeaderboardEntry, ttl time.Duration) error {
	key := fmt.Sprintf("leaderboard:%s", date)
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedLeaderboard 获取缓存的某日榜单
func (c *Cache) GetCachedLeaderboard(date string) ([]domain.LeaderboardEntry, error) {
	key := fmt.Sprintf("leaderboard:%s", date)
	data, err := c.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("leaderboard not found in cache")
		}
		return nil, err
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// DeleteCachedLeaderboard 删除缓存的某日榜单
func (c *Cache) DeleteCachedLeaderboard(date string) error {
	key := fmt.Sprintf("leaderboard:%s", date)
	return c.rdb.Del(c.ctx, key).Err()
}

// CacheModel 缓存模型信息（按 slug）
func (c *Cache) CacheModel(model *domain.Model, ttl time.Duration) error {
	key := fmt.Sprintf("model:%s", model.Slug)
	data, err := json.Marshal(model)
	if err != nil {
		return err
	}
	return c.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedModel 获取缓存的模型信息
func (c *Cache) GetCachedModel(slug string) (*domain.Model, error) {
	key := fmt.Sprintf("model:%s", slug)
	data, err := c.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("model not found in cache")
		}
		return nil, err
	}

	var model domain.Model
	if err := json.Unmarshal([]byte(data), &model); err != nil {
		return nil, err
	}

	return &model, nil
}

// DeleteCachedModel 删除缓存的模型信息
func (c *Cache) DeleteCachedModel(slug string) error {
	key := fmt.Sprintf("model:%s", slug)
	return c.rdb.Del(c.ctx, key).Err()
}

// CacheStatistics 缓存系统统计信息
func (c *Cache) CacheStatistics(stats *domain.SystemStatistics, ttl time.Duration) error {
	key := "system:statistics"
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.rdb.Set(c.ctx, key, data, ttl).Err()
}

// GetCachedStatistics 获取缓存的系统统计信息
func (c *Cache) GetCachedStatistics() (*domain.SystemStatistics, error) {
	key := "system:statistics"
	data, err := c.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, fmt.Errorf("statistics not found in cache")
		}
		return nil, err
	}

	var stats domain.SystemStatistics
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将 JWT 添加到黑名单
func (c *Cache) AddToBlacklist(jti string, ttl time.Duration) error {
	key := fmt.Sprintf("blacklist:%s", jti)
	return c.rdb.Set(c.ctx, key, "1", ttl).Err()
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (c *Cache) IsBlacklisted(jti string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", jti)
	_, err := c.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ========== 限流缓存 ==========

// IncrementRateLimit 增加限流计数，返回计数值与窗口剩余时长。
//
// 自增与首次过期设置在同一脚本内完成，同一窗口内并发自增
// 不会丢计数，也不会把窗口往后顺延。
func (c *Cache) IncrementRateLimit(key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrWindowScript.Run(c.ctx, c.rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	count, _ := vals[0].(int64)
	ttlMillis, _ := vals[1].(int64)

	ttl := time.Duration(ttlMillis) * time.Millisecond
	if ttl < 0 {
		// PTTL 对无过期键返回负值，极端情况下兜底为完整窗口
		ttl = window
	}

	return count, ttl, nil
}

// GetRateLimit 获取限流计数
func (c *Cache) GetRateLimit(key string) (int64, error) {
	data, err := c.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(data, 10, 64)
}

// ========== 套餐缓存 ==========

// CachePlan 缓存解析后的套餐等级
func (c *Cache) CachePlan(userID string, tier domain.UserTier, ttl time.Duration) error {
	key := fmt.Sprintf("plan:%s", userID)
	return c.rdb.Set(c.ctx, key, string(tier), ttl).Err()
}

// GetCachedPlan 获取缓存的套餐等级
func (c *Cache) GetCachedPlan(userID string) (domain.UserTier, error) {
	key := fmt.Sprintf("plan:%s", userID)
	tier, err := c.rdb.Get(c.ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", fmt.Errorf("plan not found in cache")
		}
		return "", err
	}
	return domain.UserTier(tier), nil
}

// DeleteCachedPlan 删除缓存的套餐等级
func (c *Cache) DeleteCachedPlan(userID string) error {
	key := fmt.Sprintf("plan:%s", userID)
	return c.rdb.Del(c.ctx, key).Err()
}

// ========== 用量计数 ==========

// IncrementUsage 累加当日请求计数（哈希字段按等级划分）
func (c *Cache) IncrementUsage(date string, tier domain.UserTier, blocked bool) error {
	key := fmt.Sprintf("usage:%s", date)

	if err := c.rdb.HIncrBy(c.ctx, key, string(tier), 1).Err(); err != nil {
		return err
	}
	if blocked {
		if err := c.rdb.HIncrBy(c.ctx, key, "blocked", 1).Err(); err != nil {
			return err
		}
	}

	return c.rdb.Expire(c.ctx, key, usageRetention).Err()
}

// GetUsageStatistics 获取某日的用量统计
func (c *Cache) GetUsageStatistics(date string) (*domain.UsageStatistics, error) {
	key := fmt.Sprintf("usage:%s", date)
	fields, err := c.rdb.HGetAll(c.ctx, key).Result()
	if err != nil {
		return nil, err
	}

	stats := &domain.UsageStatistics{
		Date:           date,
		RequestsByTier: make(map[domain.UserTier]int),
	}

	for field, raw := range fields {
		count, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if field == "blocked" {
			stats.Blocked = count
			continue
		}
		stats.RequestsByTier[domain.UserTier(field)] = count
	}

	return stats, nil
}

// ========== 发布订阅 ==========

// PublishFeedEvent 发布实时事件
func (c *Cache) PublishFeedEvent(event *domain.FeedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.rdb.Publish(c.ctx, feedChannel, data).Err()
}

// SubscribeFeedEvents 订阅实时事件
func (c *Cache) SubscribeFeedEvents() *goredis.PubSub {
	return c.rdb.Subscribe(c.ctx, feedChannel)
}

// ========== 工具方法 ==========

// Delete 删除键
func (c *Cache) Delete(key string) error {
	return c.rdb.Del(c.ctx, key).Err()
}

// Health 检查 Redis 连接
func (c *Cache) Health() error {
	return c.rdb.Ping(c.ctx).Err()
}

// OpenConnections 返回连接池当前的连接总数
func (c *Cache) OpenConnections() int {
	return int(c.rdb.PoolStats().TotalConns)
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.rdb.Close()
}
