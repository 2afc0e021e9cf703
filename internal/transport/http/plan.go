package httptransport

import (
	"github.com/gin-gonic/gin"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/ratelimit"
	"viralindex/backend/internal/service"
)

// PlanHandler 套餐信息处理器
type PlanHandler struct {
	plans   *service.PlanService
	limiter *ratelimit.Limiter
}

// NewPlanHandler 创建套餐处理器
func NewPlanHandler(plans *service.PlanService, limiter *ratelimit.Limiter) *PlanHandler {
	return &PlanHandler{
		plans:   plans,
		limiter: limiter,
	}
}

// GetPlan godoc
// @Summary 获取当前套餐
// @Description 获取当前用户的订阅等级、配额与可用能力
// @Tags Plan
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Router /api/plan [get]
func (h *PlanHandler) GetPlan(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	tier := h.plans.Resolve(userID.(string))
	window := h.limiter.Window()

	Success(c, gin.H{
		"tier": tier,
		"rateLimit": gin.H{
			"limit":         h.limiter.LimitFor(tier),
			"windowSeconds": int(window.Seconds()),
		},
		"features": domain.FeaturesForTier(tier),
	})
}
