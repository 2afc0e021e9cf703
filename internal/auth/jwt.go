package auth

import (
	"time"

	"viralindex/backend/internal/auth/jwt"
	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
)

// JWTManager JWT管理器包装
type JWTManager struct {
	manager *jwt.Manager
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	manager := jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.AccessExpiry, cfg.RefreshExpiry)
	return &JWTManager{manager: manager}
}

// TokenResponse 令牌响应
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Claims 验证后的令牌声明
type Claims struct {
	UserID    string
	Email     string
	Role      domain.UserRole
	Tier      domain.UserTier
	TokenType string
	JTI       string
	ExpiresAt time.Time
}

// GenerateTokens 为用户生成令牌对
func (j *JWTManager) GenerateTokens(user *domain.User) (*TokenResponse, error) {
	tokenPair, err := j.manager.GenerateTokenPair(user.ID, user.Email, string(user.Role), string(user.Tier))
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    tokenPair.ExpiresIn,
	}, nil
}

// ValidateAccessToken 验证访问令牌
func (j *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := j.manager.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}
	return fromJWTClaims(claims), nil
}

// ValidateToken 验证任意类型的令牌
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := j.manager.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return fromJWTClaims(claims), nil
}

func fromJWTClaims(c *jwt.Claims) *Claims {
	claims := &Claims{
		UserID:    c.UserID,
		Email:     c.Email,
		Role:      domain.UserRole(c.Role),
		Tier:      domain.UserTier(c.Tier),
		TokenType: c.TokenType,
		JTI:       c.ID,
	}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	return claims
}

// TokenBlacklist 令牌黑名单
type TokenBlacklist interface {
	AddToBlacklist(jti string, ttl time.Duration) error
	IsBlacklisted(jti string) (bool, error)
}

// AuthService 认证服务包装
//
// 把用户校验、令牌签发和黑名单串成完整的登录态流程。
type AuthService struct {
	service    *Service
	jwtManager *JWTManager
	blacklist  TokenBlacklist
}

// NewAuthService 创建认证服务
func NewAuthService(userRepo UserRepository, blacklist TokenBlacklist, jwtManager *JWTManager) *AuthService {
	service := NewService(userRepo)
	return &AuthService{
		service:    service,
		jwtManager: jwtManager,
		blacklist:  blacklist,
	}
}

// AuthResponse 认证响应
type AuthResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int64        `json:"expiresIn"`
}

// Register 用户注册
func (a *AuthService) Register(input RegisterInput) (*AuthResponse, error) {
	user, err := a.service.Register(input)
	if err != nil {
		return nil, err
	}
	return a.issueTokens(user)
}

// Login 用户登录
func (a *AuthService) Login(input LoginInput) (*AuthResponse, error) {
	user, err := a.service.Login(input)
	if err != nil {
		return nil, err
	}
	return a.issueTokens(user)
}

func (a *AuthService) issueTokens(user *domain.User) (*AuthResponse, error) {
	tokens, err := a.jwtManager.GenerateTokens(user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		ExpiresIn:    tokens.ExpiresIn,
	}, nil
}

// ValidateAccessToken 验证访问令牌并检查黑名单
//
// 黑名单查询失败时放行。访问令牌有效期短，存储抖动不应
// 打断所有登录态请求。
func (a *AuthService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := a.jwtManager.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}

	if blacklisted, err := a.blacklist.IsBlacklisted(claims.JTI); err == nil && blacklisted {
		return nil, jwt.ErrInvalidToken
	}

	return claims, nil
}

// RefreshToken 用刷新令牌换发新的令牌对
//
// 声明里的角色与等级可能已过时，从存储取最新的用户状态签发。
// 旧刷新令牌随即拉黑，一次一换。
func (a *AuthService) RefreshToken(refreshToken string) (*TokenResponse, error) {
	claims, err := a.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != jwt.TokenTypeRefresh {
		return nil, jwt.ErrInvalidToken
	}

	if blacklisted, err := a.blacklist.IsBlacklisted(claims.JTI); err == nil && blacklisted {
		return nil, jwt.ErrInvalidToken
	}

	user, err := a.service.GetUserByID(claims.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	tokens, err := a.jwtManager.GenerateTokens(user)
	if err != nil {
		return nil, err
	}

	// 旧刷新令牌作废
	if ttl := time.Until(claims.ExpiresAt); ttl > 0 {
		_ = a.blacklist.AddToBlacklist(claims.JTI, ttl)
	}

	return tokens, nil
}

// Logout 登出，把令牌按剩余有效期拉黑
func (a *AuthService) Logout(accessToken, refreshToken string) error {
	if err := a.blacklistToken(accessToken); err != nil {
		return err
	}
	if refreshToken != "" {
		return a.blacklistToken(refreshToken)
	}
	return nil
}

func (a *AuthService) blacklistToken(tokenString string) error {
	claims, err := a.jwtManager.ValidateToken(tokenString)
	if err != nil {
		// 已过期或非法的令牌无需拉黑
		return nil
	}

	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return a.blacklist.AddToBlacklist(claims.JTI, ttl)
}

// GetUserByID 根据ID获取用户
func (a *AuthService) GetUserByID(userID string) (*domain.User, error) {
	return a.service.GetUserByID(userID)
}

// ChangePassword 修改密码
func (a *AuthService) ChangePassword(userID, oldPassword, newPassword string) error {
	return a.service.ChangePassword(userID, oldPassword, newPassword)
}

// UpdateDigestOptIn 更新每日摘要订阅开关
func (a *AuthService) UpdateDigestOptIn(userID string, optIn bool) (*domain.User, error) {
	return a.service.UpdateDigestOptIn(userID, optIn)
}
