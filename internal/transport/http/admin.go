package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/monitoring"
	"viralindex/backend/internal/service"
)

// AdminHandler 管理 API 处理器
type AdminHandler struct {
	adminService  *service.AdminService
	healthChecker *monitoring.HealthChecker
	alerts        *monitoring.AlertManager
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(adminService *service.AdminService, healthChecker *monitoring.HealthChecker, alerts *monitoring.AlertManager) *AdminHandler {
	return &AdminHandler{
		adminService:  adminService,
		healthChecker: healthChecker,
		alerts:        alerts,
	}
}

// ========== 用户管理 ==========

// ListUsers godoc
// @Summary 获取用户列表
// @Description 获取系统中的用户列表（需要管理员权限）
// @Tags Admin
// @Produce json
// @Param page query int false "页码" default(1)
// @Param pageSize query int false "每页数量" default(20)
// @Param search query string false "搜索关键词（邮箱/用户名）"
// @Param role query string false "角色过滤（user/admin/super）"
// @Param tier query string false "等级过滤（free/pro/enterprise）"
// @Param isActive query bool false "激活状态过滤"
// @Success 200 {object} service.ListUsersOutput
// @Failure 403 {object} ErrorResponse
// @Router /api/admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	// 解析可选过滤参数
	var role *domain.UserRole
	if r := c.Query("role"); r != "" {
		roleVal := domain.UserRole(r)
		role = &roleVal
	}

	var tier *domain.UserTier
	if t := c.Query("tier"); t != "" {
		tierVal := domain.UserTier(t)
		tier = &tierVal
	}

	var isActive *bool
	if a := c.Query("isActive"); a != "" {
		active := a == "true"
		isActive = &active
	}

	result, err := h.adminService.ListUsers(service.ListUsersInput{
		Page:     page,
		PageSize: pageSize,
		Search:   c.Query("search"),
		Role:     role,
		Tier:     tier,
		IsActive: isActive,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, result)
}

// GetUser godoc
// @Summary 获取用户详情
// @Description 获取指定用户的详细信息（需要管理员权限）
// @Tags Admin
// @Produce json
// @Param id path string true "用户ID"
// @Success 200 {object} domain.User
// @Failure 404 {object} ErrorResponse
// @Router /api/admin/users/{id} [get]
func (h *AdminHandler) GetUser(c *gin.Context) {
	user, err := h.adminService.GetUser(c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, user)
}

// UpdateUserRequest 更新用户请求
type UpdateUserRequest struct {
	Role            *domain.UserRole `json:"role,omitempty"`
	Tier            *domain.UserTier `json:"tier,omitempty"`
	IsActive        *bool            `json:"isActive,omitempty"`
	IsEmailVerified *bool            `json:"isEmailVerified,omitempty"`
}

// UpdateUser godoc
// @Summary 更新用户信息
// @Description 更新用户的角色、订阅等级或状态（需要管理员权限）。
// @Description 等级变更立即反映到网关的配额解析。
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "用户ID"
// @Param request body UpdateUserRequest true "更新内容"
// @Success 200 {object} domain.User
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/admin/users/{id} [patch]
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	operatorID := c.GetString("userID")

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	user, err := h.adminService.UpdateUser(service.UpdateUserInput{
		UserID:          c.Param("id"),
		Role:            req.Role,
		Tier:            req.Tier,
		IsActive:        req.IsActive,
		IsEmailVerified: req.IsEmailVerified,
		OperatorID:      operatorID,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, user)
}

// DeleteUser godoc
// @Summary 删除用户
// @Description 删除用户及其所有数据（需要超级管理员权限）
// @Tags Admin
// @Param id path string true "用户ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/admin/users/{id} [delete]
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	operatorID := c.GetString("userID")

	if err := h.adminService.DeleteUser(c.Param("id"), operatorID); err != nil {
		RespondError(c, err)
		return
	}

	NoContent(c)
}

// ========== 统计信息 ==========

// GetStatistics godoc
// @Summary 获取系统统计
// @Description 获取用户、模型与密钥的总量统计（需要管理员权限）
// @Tags Admin
// @Produce json
// @Success 200 {object} domain.SystemStatistics
// @Router /api/admin/stats [get]
func (h *AdminHandler) GetStatistics(c *gin.Context) {
	stats, err := h.adminService.GetStatistics()
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, stats)
}

// GetUsageStatistics godoc
// @Summary 获取网关用量
// @Description 获取某日各订阅等级的请求量（需要管理员权限）
// @Tags Admin
// @Produce json
// @Param date query string false "日期（YYYY-MM-DD，默认今天 UTC）"
// @Success 200 {object} domain.UsageStatistics
// @Failure 400 {object} ErrorResponse
// @Router /api/admin/usage [get]
func (h *AdminHandler) GetUsageStatistics(c *gin.Context) {
	stats, err := h.adminService.GetUsageStatistics(c.Query("date"))
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, stats)
}

// GetHealthReport godoc
// @Summary 获取健康报告
// @Description 获取各依赖组件的详细健康状态（需要管理员权限）
// @Tags Admin
// @Produce json
// @Success 200 {object} monitoring.HealthReport
// @Router /api/admin/health [get]
func (h *AdminHandler) GetHealthReport(c *gin.Context) {
	Success(c, h.healthChecker.CheckHealth())
}

// ListAlerts godoc
// @Summary 获取运维告警
// @Description 获取当前未恢复的运维告警（需要管理员权限）
// @Tags Admin
// @Produce json
// @Success 200 {array} monitoring.Alert
// @Router /api/admin/alerts [get]
func (h *AdminHandler) ListAlerts(c *gin.Context) {
	Success(c, h.alerts.ActiveAlerts())
}
