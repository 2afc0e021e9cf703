package ratelimit

import (
	"fmt"
	"time"

	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
)

// 计数键前缀，避免与其它 Redis 键混用
const keyPrefix = "ratelimit:"

// Counter 共享存储需要提供的原子计数原语。
//
// 实现必须在一次往返内完成自增、读数和首次过期设置，
// 见 storage.RateLimitRepository。
type Counter interface {
	IncrementRateLimit(key string, window time.Duration) (int64, time.Duration, error)
}

// Decision 单次限流判定的结果
type Decision struct {
	Allowed   bool  // 是否放行
	Limit     int   // 当前等级的窗口上限
	Remaining int   // 本窗口剩余额度
	ResetAt   int64 // 窗口重置时间（Unix 毫秒）
}

// Limiter 固定窗口限流器。
//
// 自身无状态，计数全部落在共享存储里，可以任意水平扩展。
type Limiter struct {
	counter Counter
	window  time.Duration
	limits  map[domain.UserTier]int
	enabled bool
}

// NewLimiter 创建限流器
func NewLimiter(cfg config.RateLimitConfig, counter Counter) *Limiter {
	return &Limiter{
		counter: counter,
		window:  cfg.Window,
		limits: map[domain.UserTier]int{
			domain.TierFree:       cfg.Free,
			domain.TierPro:        cfg.Pro,
			domain.TierEnterprise: cfg.Enterprise,
		},
		enabled: cfg.Enabled,
	}
}

// LimitFor 返回等级对应的窗口上限，未知等级按 free 处理
func (l *Limiter) LimitFor(tier domain.UserTier) int {
	if limit, ok := l.limits[tier]; ok {
		return limit
	}
	return l.limits[domain.TierFree]
}

// Window 返回计数窗口长度
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Check 对 identifier 做一次计数并判定是否放行。
//
// 自增和过期设置在共享存储里原子完成，同一 identifier 的并发
// 请求不会超发；达到上限后本窗口内的请求一律拒绝。
func (l *Limiter) Check(identifier string, tier domain.UserTier) (*Decision, error) {
	limit := l.LimitFor(tier)

	if !l.enabled {
		return &Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   time.Now().Add(l.window).UnixMilli(),
		}, nil
	}

	count, ttl, err := l.counter.IncrementRateLimit(keyPrefix+identifier, l.window)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Limit:   limit,
		ResetAt: time.Now().Add(ttl).UnixMilli(),
	}

	if count > int64(limit) {
		decision.Allowed = false
		decision.Remaining = 0
	} else {
		decision.Allowed = true
		decision.Remaining = limit - int(count)
	}

	return decision, nil
}

// Identifier 推导限流分区键。
//
// pro 及以上的已认证调用方按 "{tier}:{ownerId}" 分桶，免费和
// 匿名流量一律按来源 IP 分桶，空 IP 回退到本机占位地址。
func Identifier(tier domain.UserTier, ownerID, clientIP string) string {
	if ownerID != "" && domain.TierAtLeast(tier, domain.TierPro) {
		return fmt.Sprintf("%s:%s", tier, ownerID)
	}

	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	return fmt.Sprintf("ip:%s", clientIP)
}

// RetryAfterSeconds 由重置时间换算 Retry-After 秒数（向上取整，最小 0）
func RetryAfterSeconds(resetAt int64, now time.Time) int {
	millis := resetAt - now.UnixMilli()
	if millis <= 0 {
		return 0
	}
	return int((millis + 999) / 1000)
}
