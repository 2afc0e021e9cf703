package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/ratelimit"
	"viralindex/backend/internal/service"
	"viralindex/backend/internal/storage/memory"
)

// probeResponse 下游处理器观察到的请求状态
type probeResponse struct {
	Tier       string `json:"tier"`
	UserHeader string `json:"userHeader"`
	TierHeader string `json:"tierHeader"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// failingCounter 模拟计数存储不可用
type failingCounter struct{}

func (failingCounter) IncrementRateLimit(key string, window time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func newGateRouter(t *testing.T, store *memory.Store, cfg config.RateLimitConfig, counter ratelimit.Counter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if counter == nil {
		counter = store
	}
	gate := NewGate(
		service.NewAPIKeyService(store),
		service.NewPlanService(store),
		ratelimit.NewLimiter(cfg, counter),
		store,
		zap.NewNop(),
	)

	router := gin.New()
	router.Use(gate.Handle())
	router.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, probeResponse{
			Tier:       string(TierFromContext(c)),
			UserHeader: c.GetHeader(HeaderGatewayUserID),
			TierHeader: c.GetHeader(HeaderGatewayTier),
		})
	})
	router.GET("/pro", RequireTier(domain.TierPro), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func defaultGateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:    true,
		Window:     time.Minute,
		Free:       3,
		Pro:        30,
		Enterprise: 300,
	}
}

// seedProKey 创建一个 pro 用户并签发密钥，返回明文
func seedProKey(t *testing.T, store *memory.Store) (*domain.User, string) {
	t.Helper()

	user := &domain.User{
		ID:       "user-pro",
		Email:    "pro@example.com",
		Username: "pro",
		Role:     domain.RoleUser,
		Tier:     domain.TierPro,
		IsActive: true,
	}
	require.NoError(t, store.CreateUser(user))

	_, plaintext, err := service.NewAPIKeyService(store).IssueAPIKey(service.IssueAPIKeyInput{
		UserID: user.ID,
		Name:   "test",
	})
	require.NoError(t, err)

	return user, plaintext
}

func doRequest(router *gin.Engine, path, authorization string, spoofed map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	for name, value := range spoofed {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGate_AnonymousRequest(t *testing.T) {
	store := memory.NewStore()
	router := newGateRouter(t, store, defaultGateConfig(), nil)

	rec := doRequest(router, "/probe", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var probe probeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &probe))
	assert.Equal(t, "free", probe.Tier)
	assert.Equal(t, "free", probe.TierHeader)
	assert.Empty(t, probe.UserHeader)

	// 放行响应也带限流遥测头
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))

	reset, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, time.Now().UnixMilli())
}

func TestGate_StripsSpoofedHeaders(t *testing.T) {
	store := memory.NewStore()
	router := newGateRouter(t, store, defaultGateConfig(), nil)

	spoofed := map[string]string{
		HeaderGatewayUserID: "intruder",
		HeaderGatewayTier:   "enterprise",
	}

	rec := doRequest(router, "/probe", "", spoofed)
	require.Equal(t, http.StatusOK, rec.Code)

	// 伪造的信任头被剥离，等级头由网关重写
	var probe probeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &probe))
	assert.Empty(t, probe.UserHeader)
	assert.Equal(t, "free", probe.TierHeader)

	// 限流额度也按 free 算，不按伪造的 enterprise
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))

	// 伪造的等级骗不过套餐门槛
	rec = doRequest(router, "/pro", "", spoofed)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGate_RateLimitExceeded(t *testing.T) {
	store := memory.NewStore()
	cfg := defaultGateConfig()
	cfg.Free = 2
	router := newGateRouter(t, store, cfg, nil)

	for i := 0; i < 2; i++ {
		rec := doRequest(router, "/probe", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(router, "/probe", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Retry-After 不超过窗口长度
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
}

func TestGate_MalformedAuthorization(t *testing.T) {
	store := memory.NewStore()
	router := newGateRouter(t, store, defaultGateConfig(), nil)

	cases := []struct {
		name  string
		value string
	}{
		{"非 Bearer 方案", "Basic dXNlcjpwYXNz"},
		{"缺少密钥值", "Bearer"},
		{"密钥格式错误", "Bearer not-a-key"},
		{"前缀错误", "Bearer xx_0123456789012345678901234567890123456789012345678"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(router, "/probe", tc.value, nil)

			require.Equal(t, http.StatusUnauthorized, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
		})
	}
}

func TestGate_InvalidAPIKey(t *testing.T) {
	store := memory.NewStore()
	router := newGateRouter(t, store, defaultGateConfig(), nil)

	// 格式正确但不存在的密钥
	unknown := "Bearer vx_000000000000000000000000000000000000000000000000"
	rec := doRequest(router, "/probe", unknown, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	assert.Equal(t, "Invalid API key", body.Error.Message)
}

func TestGate_RevokedKeyRejectedImmediately(t *testing.T) {
	store := memory.NewStore()
	router := newGateRouter(t, store, defaultGateConfig(), nil)
	user, plaintext := seedProKey(t, store)

	rec := doRequest(router, "/probe", "Bearer "+plaintext, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	keys, err := store.ListAPIKeysByUserID(user.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NoError(t, service.NewAPIKeyService(store).RevokeAPIKey(user.ID, keys[0].ID))

	rec = doRequest(router, "/probe", "Bearer "+plaintext, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_AuthenticatedRequest(t *testing.T) {
	store := memory.NewStore()
	router := newGateRouter(t, store, defaultGateConfig(), nil)
	user, plaintext := seedProKey(t, store)

	rec := doRequest(router, "/probe", "Bearer "+plaintext, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// 验证过的身份写入信任头
	var probe probeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &probe))
	assert.Equal(t, "pro", probe.Tier)
	assert.Equal(t, "pro", probe.TierHeader)
	assert.Equal(t, user.ID, probe.UserHeader)

	// pro 等级使用自己的上限
	assert.Equal(t, "30", rec.Header().Get("X-RateLimit-Limit"))

	// 套餐门槛放行
	rec = doRequest(router, "/pro", "Bearer "+plaintext, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_PaidTierBucketsByOwner(t *testing.T) {
	store := memory.NewStore()
	cfg := defaultGateConfig()
	cfg.Pro = 2
	router := newGateRouter(t, store, cfg, nil)
	_, plaintext := seedProKey(t, store)

	// 同一持有者从不同来源 IP 消耗同一个配额桶
	addrs := []string{"10.0.0.1:1000", "10.0.0.2:1000", "10.0.0.3:1000"}
	statuses := make([]int, 0, len(addrs))
	for _, addr := range addrs {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+plaintext)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}

func TestGate_CounterUnavailable(t *testing.T) {
	t.Run("免费流量放行整窗额度", func(t *testing.T) {
		store := memory.NewStore()
		router := newGateRouter(t, store, defaultGateConfig(), failingCounter{})

		rec := doRequest(router, "/probe", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("付费流量直接拒绝", func(t *testing.T) {
		store := memory.NewStore()
		router := newGateRouter(t, store, defaultGateConfig(), failingCounter{})
		_, plaintext := seedProKey(t, store)

		rec := doRequest(router, "/probe", "Bearer "+plaintext, nil)

		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "INTERNAL", body.Error.Code)
	})
}

func TestRequireTier(t *testing.T) {
	store := memory.NewStore()
	router := newGateRouter(t, store, defaultGateConfig(), nil)

	// 匿名调用方达不到 pro 门槛
	rec := doRequest(router, "/pro", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body.Error.Code)
	assert.Contains(t, body.Error.Message, "pro")
}

func TestGate_RecordsDailyUsage(t *testing.T) {
	store := memory.NewStore()
	cfg := defaultGateConfig()
	cfg.Free = 1
	router := newGateRouter(t, store, cfg, nil)

	rec := doRequest(router, "/probe", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, "/probe", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// 用量异步落账
	date := time.Now().UTC().Format("2006-01-02")
	require.Eventually(t, func() bool {
		stats, err := store.GetUsageStatistics(date)
		if err != nil {
			return false
		}
		return stats.RequestsByTier[domain.TierFree] == 2 && stats.Blocked == 1
	}, time.Second, 10*time.Millisecond)
}
