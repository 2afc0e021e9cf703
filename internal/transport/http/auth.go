package httptransport

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"viralindex/backend/internal/auth"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.AuthService
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.AuthService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"` // 邮箱或用户名
	Password   string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type digestOptInRequest struct {
	OptIn *bool `json:"optIn" binding:"required"`
}

// Register 处理用户注册请求
// @Summary 用户注册
// @Description 创建新用户账户，返回用户信息和认证令牌
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body registerRequest true "注册信息"
// @Success 201 {object} auth.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	resp, err := h.authService.Register(auth.RegisterInput{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Username: strings.TrimSpace(req.Username),
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	h.log.Info("user registered",
		zap.String("user_id", resp.User.ID),
		zap.String("email", resp.User.Email),
	)

	Created(c, resp)
}

// Login 处理用户登录请求
// @Summary 用户登录
// @Description 使用邮箱或用户名登录，返回认证令牌
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录信息"
// @Success 200 {object} auth.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	resp, err := h.authService.Login(auth.LoginInput{
		Identifier: strings.TrimSpace(req.Identifier),
		Password:   req.Password,
	})
	if err != nil {
		h.log.Warn("login failed",
			zap.String("identifier", req.Identifier),
			zap.String("ip", c.ClientIP()),
		)
		RespondError(c, err)
		return
	}

	Success(c, resp)
}

// Refresh 处理令牌换发请求
// @Summary 刷新令牌
// @Description 用刷新令牌换发新的令牌对，旧刷新令牌随即作废
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} auth.TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	tokens, err := h.authService.RefreshToken(req.RefreshToken)
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, tokens)
}

// Logout 处理登出请求
// @Summary 登出
// @Description 拉黑当前访问令牌与可选的刷新令牌
// @Tags Auth
// @Accept json
// @Security BearerAuth
// @Param request body logoutRequest false "刷新令牌"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	accessToken := bearerFromHeader(c)
	if accessToken == "" {
		Unauthorized(c, "Authentication required")
		return
	}

	// 请求体可选
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.authService.Logout(accessToken, req.RefreshToken); err != nil {
		RespondError(c, err)
		return
	}

	NoContent(c)
}

// Profile 返回当前用户信息
// @Summary 当前用户信息
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.User
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/profile [get]
func (h *AuthHandler) Profile(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	user, err := h.authService.GetUserByID(userID.(string))
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, user)
}

// ChangePassword 修改密码
// @Summary 修改密码
// @Tags Auth
// @Accept json
// @Security BearerAuth
// @Param request body changePasswordRequest true "新旧密码"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/password [put]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body")
		return
	}

	if err := h.authService.ChangePassword(userID.(string), req.OldPassword, req.NewPassword); err != nil {
		RespondError(c, err)
		return
	}

	NoContent(c)
}

// UpdateDigestOptIn 更新每日摘要邮件订阅
// @Summary 订阅或退订每日摘要
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body digestOptInRequest true "订阅开关"
// @Success 200 {object} domain.User
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/auth/digest [put]
func (h *AuthHandler) UpdateDigestOptIn(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		Unauthorized(c, "Authentication required")
		return
	}

	var req digestOptInRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OptIn == nil {
		BadRequest(c, "Invalid request body")
		return
	}

	user, err := h.authService.UpdateDigestOptIn(userID.(string), *req.OptIn)
	if err != nil {
		RespondError(c, err)
		return
	}

	Success(c, user)
}

// bearerFromHeader 取出 Authorization 里的 Bearer 值
func bearerFromHeader(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
