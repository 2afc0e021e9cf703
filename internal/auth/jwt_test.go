package auth

import (
	"testing"
	"time"

	"viralindex/backend/internal/auth/jwt"
	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() *domain.User {
	return &domain.User{
		ID:       "user-1",
		Email:    "test@example.com",
		Role:     domain.RoleUser,
		Tier:     domain.TierPro,
		IsActive: true,
	}
}

func TestJWTManager_GenerateTokens(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:        "test-secret-test-secret-test-secret",
		Issuer:        "test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	manager := NewJWTManager(cfg)

	tokens, err := manager.GenerateTokens(testUser())
	require.NoError(t, err)

	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.NotEqual(t, tokens.AccessToken, tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(15*60), tokens.ExpiresIn) // 15 minutes in seconds
}

func TestJWTManager_ValidateAccessToken(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:        "test-secret-test-secret-test-secret",
		Issuer:        "test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	manager := NewJWTManager(cfg)

	tokens, err := manager.GenerateTokens(testUser())
	require.NoError(t, err)

	claims, err := manager.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, domain.RoleUser, claims.Role)
	assert.Equal(t, domain.TierPro, claims.Tier)
	assert.Equal(t, jwt.TokenTypeAccess, claims.TokenType)
	assert.NotEmpty(t, claims.JTI)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
}

func TestJWTManager_ValidateAccessToken_RejectsRefreshToken(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:        "test-secret-test-secret-test-secret",
		Issuer:        "test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	manager := NewJWTManager(cfg)

	tokens, err := manager.GenerateTokens(testUser())
	require.NoError(t, err)

	// 刷新令牌不能当访问令牌用
	_, err = manager.ValidateAccessToken(tokens.RefreshToken)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)

	// 但可以通过 ValidateToken 验证
	claims, err := manager.ValidateToken(tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, jwt.TokenTypeRefresh, claims.TokenType)
}

func TestJWTManager_ValidateToken_Expired(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:        "test-secret-test-secret-test-secret",
		Issuer:        "test",
		AccessExpiry:  -1 * time.Minute, // already expired
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	manager := NewJWTManager(cfg)

	tokens, err := manager.GenerateTokens(testUser())
	require.NoError(t, err)

	_, err = manager.ValidateAccessToken(tokens.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrExpiredToken)
}

func TestJWTManager_ValidateToken_WrongSecret(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:        "test-secret-test-secret-test-secret",
		Issuer:        "test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	manager := NewJWTManager(cfg)

	tokens, err := manager.GenerateTokens(testUser())
	require.NoError(t, err)

	otherCfg := &config.JWTConfig{
		Secret:        "other-secret-other-secret-other-secret",
		Issuer:        "test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	other := NewJWTManager(otherCfg)

	_, err = other.ValidateAccessToken(tokens.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestJWTManager_ValidateToken_Garbage(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:        "test-secret-test-secret-test-secret",
		Issuer:        "test",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}
	manager := NewJWTManager(cfg)

	_, err := manager.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)

	_, err = manager.ValidateToken("")
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}
