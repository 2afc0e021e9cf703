package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/service"
)

// alertSecretWarning 签名密钥只在创建响应里出现一次
const alertSecretWarning = "This is the only time the signing secret is shown. Use it to verify webhook payload signatures."

// AlertHandler 告警规则处理器
type AlertHandler struct {
	alerts *service.AlertService
}

// NewAlertHandler 创建告警处理器
func NewAlertHandler(alerts *service.AlertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

type createAlertRuleRequest struct {
	ModelSlug  string                `json:"modelSlug"`
	Condition  domain.AlertCondition `json:"condition" binding:"required"`
	Threshold  float64               `json:"threshold"`
	SignalType domain.SignalType     `json:"signalType"`
	TargetURL  string                `json:"targetUrl" binding:"required"`
}

type updateAlertRuleRequest struct {
	TargetURL string   `json:"targetUrl"`
	Threshold *float64 `json:"threshold"`
	IsActive  *bool    `json:"isActive"`
}

type createdAlertRuleResponse struct {
	Rule    *domain.AlertRule `json:"rule"`
	Secret  string            `json:"secret"`
	Warning string            `json:"warning"`
}

// CreateRule godoc
// @Summary 创建告警规则
// @Description 创建 webhook 告警规则，返回仅展示一次的签名密钥。
// @Description 需要 pro 及以上订阅，pro 有规则数量上限。
// @Tags Alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createAlertRuleRequest true "规则内容"
// @Success 201 {object} createdAlertRuleResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/alerts/rules [post]
func (h *AlertHandler) CreateRule(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	var req createAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	rule, secret, err := h.alerts.CreateRule(service.CreateAlertRuleInput{
		UserID:     userID.(string),
		ModelSlug:  req.ModelSlug,
		Condition:  req.Condition,
		Threshold:  req.Threshold,
		SignalType: req.SignalType,
		TargetURL:  req.TargetURL,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, createdAlertRuleResponse{
		Rule:    rule,
		Secret:  secret,
		Warning: alertSecretWarning,
	})
}

// ListRules godoc
// @Summary 获取告警规则列表
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Router /api/alerts/rules [get]
func (h *AlertHandler) ListRules(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	rules, err := h.alerts.ListRules(userID.(string))
	if err != nil {
		RespondError(c, err)
		return
	}

	if rules == nil {
		rules = []*domain.AlertRule{}
	}

	Success(c, gin.H{
		"items": rules,
		"count": len(rules),
	})
}

// GetRule godoc
// @Summary 获取告警规则详情
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param id path string true "规则ID"
// @Success 200 {object} domain.AlertRule
// @Failure 404 {object} ErrorResponse
// @Router /api/alerts/rules/{id} [get]
func (h *AlertHandler) GetRule(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	rule, err := h.alerts.GetRule(userID.(string), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, rule)
}

// UpdateRule godoc
// @Summary 更新告警规则
// @Description 更新目标地址、阈值或启停状态
// @Tags Alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "规则ID"
// @Param request body updateAlertRuleRequest true "更新内容"
// @Success 200 {object} domain.AlertRule
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/alerts/rules/{id} [patch]
func (h *AlertHandler) UpdateRule(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	var req updateAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	rule, err := h.alerts.UpdateRule(userID.(string), c.Param("id"), service.UpdateAlertRuleInput{
		TargetURL: req.TargetURL,
		Threshold: req.Threshold,
		IsActive:  req.IsActive,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, rule)
}

// DeleteRule godoc
// @Summary 删除告警规则
// @Description 删除规则及其投递记录
// @Tags Alerts
// @Security BearerAuth
// @Param id path string true "规则ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /api/alerts/rules/{id} [delete]
func (h *AlertHandler) DeleteRule(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	if err := h.alerts.DeleteRule(userID.(string), c.Param("id")); err != nil {
		RespondError(c, err)
		return
	}

	NoContent(c)
}

// ListDeliveries godoc
// @Summary 获取投递记录
// @Description 获取规则最近的 webhook 投递记录
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param id path string true "规则ID"
// @Param limit query int false "返回条数" default(20)
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /api/alerts/rules/{id}/deliveries [get]
func (h *AlertHandler) ListDeliveries(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	deliveries, err := h.alerts.ListDeliveries(userID.(string), c.Param("id"), limit)
	if err != nil {
		RespondError(c, err)
		return
	}

	if deliveries == nil {
		deliveries = []domain.AlertDelivery{}
	}

	Success(c, gin.H{
		"items": deliveries,
		"count": len(deliveries),
	})
}
