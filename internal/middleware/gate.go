package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/ratelimit"
	"viralindex/backend/internal/service"
)

// 网关在验证之后写入的信任头。
// 入站请求里出现的同名头一律先剥离，只有网关自己能写。
const (
	HeaderGatewayUserID = "X-Gateway-User-ID"
	HeaderGatewayTier   = "X-Gateway-Tier"
)

// gatewayHeaders 剥离与回写共用同一份清单
var gatewayHeaders = []string{
	HeaderGatewayUserID,
	HeaderGatewayTier,
}

// UsageRecorder 按日累计请求量，尽力而为，不参与放行判定
type UsageRecorder interface {
	IncrementUsage(date string, tier domain.UserTier, blocked bool) error
}

// Gate 公开 API 的入口网关。
//
// 把密钥验证、套餐解析和限流串成一条管线：
// 无凭证按 free 放行，凭证无效直接拒绝，超限返回 429。
type Gate struct {
	apiKeys *service.APIKeyService
	plans   *service.PlanService
	limiter *ratelimit.Limiter
	usage   UsageRecorder
	log     *zap.Logger
}

// NewGate 创建入口网关，usage 可以为 nil
func NewGate(apiKeys *service.APIKeyService, plans *service.PlanService, limiter *ratelimit.Limiter, usage UsageRecorder, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		apiKeys: apiKeys,
		plans:   plans,
		limiter: limiter,
		usage:   usage,
		log:     log,
	}
}

// Handle 逐请求执行网关管线
func (g *Gate) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 调用方自带的信任头不可信，进门先剥掉
		stripGatewayHeaders(c)

		var user *domain.User
		tier := domain.TierFree

		token, present := bearerToken(c)
		if present {
			// 格式不对的值不值得一次存储查询
			if !service.ValidAPIKeyShape(token) {
				writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Malformed authorization header")
				return
			}

			verified, err := g.apiKeys.VerifyAPIKey(token)
			if err != nil {
				// 密钥不存在、已吊销、账号停用对外不可区分
				writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			}

			user = verified
			tier = g.plans.Resolve(user.ID)
		}

		ownerID := ""
		if user != nil {
			ownerID = user.ID
		}
		identifier := ratelimit.Identifier(tier, ownerID, c.ClientIP())

		decision, err := g.limiter.Check(identifier, tier)
		if err != nil {
			// 计数存储不可用：付费层拒绝，免费和匿名放行整窗额度
			if domain.TierAtLeast(tier, domain.TierPro) {
				g.log.Error("rate limit store unavailable",
					zap.String("identifier", identifier),
					zap.Error(err),
				)
				writeError(c, http.StatusInternalServerError, "INTERNAL", "Rate limit check failed")
				return
			}

			g.log.Warn("rate limit store unavailable, allowing free tier request",
				zap.String("identifier", identifier),
				zap.Error(err),
			)
			limit := g.limiter.LimitFor(tier)
			decision = &ratelimit.Decision{
				Allowed:   true,
				Limit:     limit,
				Remaining: limit,
				ResetAt:   time.Now().Add(g.limiter.Window()).UnixMilli(),
			}
		}

		setRateLimitHeaders(c, decision)
		g.recordUsage(tier, !decision.Allowed)

		if !decision.Allowed {
			c.Header("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(decision.ResetAt, time.Now())))
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			return
		}

		// 只有网关验证过的身份才写进信任头
		c.Request.Header.Set(HeaderGatewayTier, string(tier))
		if user != nil {
			c.Request.Header.Set(HeaderGatewayUserID, user.ID)
			c.Set("userID", user.ID)
			c.Set("user", user)
		}
		c.Set("tier", tier)

		c.Next()
	}
}

// RequireTier 要求调用方达到指定套餐等级。
//
// 只读网关（或登录态中间件）写入的等级，不看请求自带的任何字段。
func RequireTier(min domain.UserTier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !domain.TierAtLeast(TierFromContext(c), min) {
			writeError(c, http.StatusForbidden, "FORBIDDEN",
				fmt.Sprintf("This endpoint requires the %s plan or higher", min))
			return
		}
		c.Next()
	}
}

// TierFromContext 读取已验证的调用方等级，缺省按 free 处理
func TierFromContext(c *gin.Context) domain.UserTier {
	value, exists := c.Get("tier")
	if !exists {
		return domain.TierFree
	}
	tier, ok := value.(domain.UserTier)
	if !ok || !domain.ValidTier(tier) {
		return domain.TierFree
	}
	return tier
}

// stripGatewayHeaders 剥离入站请求里的信任头
func stripGatewayHeaders(c *gin.Context) {
	for _, name := range gatewayHeaders {
		c.Request.Header.Del(name)
	}
}

// bearerToken 取出 Authorization 里的 Bearer 值。
//
// 第二个返回值表示头是否存在：头缺失走匿名流量，
// 头存在但解析不出值按格式错误处理。
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true
	}

	return strings.TrimSpace(parts[1]), true
}

// setRateLimitHeaders 回写限流遥测头，放行和 429 都带
func setRateLimitHeaders(c *gin.Context, d *ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt, 10))
}

func (g *Gate) recordUsage(tier domain.UserTier, blocked bool) {
	if g.usage == nil {
		return
	}
	date := time.Now().UTC().Format("2006-01-02")
	go func() {
		_ = g.usage.IncrementUsage(date, tier, blocked)
	}()
}

// writeError 输出统一的错误响应体
func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
	c.Abort()
}
