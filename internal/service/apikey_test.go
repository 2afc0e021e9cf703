package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage/memory"
)

func seedUser(t *testing.T, store *memory.Store, id string) *domain.User {
	t.Helper()
	user := &domain.User{
		ID:       id,
		Email:    id + "@example.com",
		Username: id,
		Role:     domain.RoleUser,
		Tier:     domain.TierPro,
		IsActive: true,
	}
	require.NoError(t, store.CreateUser(user))
	return user
}

func TestAPIKeyService_IssueAPIKey(t *testing.T) {
	store := memory.NewStore()
	service := NewAPIKeyService(store)
	seedUser(t, store, "user-1")

	t.Run("签发成功并只返回一次明文", func(t *testing.T) {
		apiKey, plaintext, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "ci"})

		require.NoError(t, err)
		require.NotNil(t, apiKey)
		assert.True(t, strings.HasPrefix(plaintext, "vx_"))
		assert.Len(t, plaintext, 51)
		assert.True(t, ValidAPIKeyShape(plaintext))
		assert.Equal(t, plaintext[:15], apiKey.KeyPrefix)
		assert.True(t, apiKey.IsActive)

		// 存储层只有摘要，没有明文
		stored, err := store.GetAPIKey(apiKey.ID)
		require.NoError(t, err)
		assert.Len(t, stored.KeyHash, 64)
		assert.NotContains(t, stored.KeyHash, plaintext)
	})

	t.Run("两次签发生成不同的密钥", func(t *testing.T) {
		_, first, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "a"})
		require.NoError(t, err)
		_, second, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "b"})
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})

	t.Run("用户不存在时拒绝签发", func(t *testing.T) {
		_, _, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "missing", Name: "x"})

		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestAPIKeyService_IssueAPIKey_LimitReached(t *testing.T) {
	store := memory.NewStore()
	service := NewAPIKeyService(store)
	seedUser(t, store, "user-1")

	issued := make([]*domain.APIKey, 0, domain.MaxActiveAPIKeys)
	for i := 0; i < domain.MaxActiveAPIKeys; i++ {
		apiKey, _, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "key"})
		require.NoError(t, err)
		issued = append(issued, apiKey)
	}

	// 达到上限后直接拒绝，不挤掉旧密钥
	_, _, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "overflow"})
	assert.ErrorIs(t, err, ErrAPIKeyLimitReached)

	keys, err := service.ListAPIKeys("user-1")
	require.NoError(t, err)
	assert.Len(t, keys, domain.MaxActiveAPIKeys)

	// 吊销一个后可以再次签发
	require.NoError(t, service.RevokeAPIKey("user-1", issued[0].ID))

	_, _, err = service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "replacement"})
	assert.NoError(t, err)
}

func TestAPIKeyService_RevokeAPIKey(t *testing.T) {
	store := memory.NewStore()
	service := NewAPIKeyService(store)
	seedUser(t, store, "user-1")
	seedUser(t, store, "user-2")

	apiKey, _, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "ci"})
	require.NoError(t, err)

	t.Run("其他用户不能吊销", func(t *testing.T) {
		err := service.RevokeAPIKey("user-2", apiKey.ID)

		assert.ErrorIs(t, err, ErrPermissionDenied)
	})

	t.Run("吊销后记录保留但不再有效", func(t *testing.T) {
		err := service.RevokeAPIKey("user-1", apiKey.ID)
		require.NoError(t, err)

		stored, err := service.GetAPIKey(apiKey.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
	})

	t.Run("重复吊销幂等返回成功", func(t *testing.T) {
		err := service.RevokeAPIKey("user-1", apiKey.ID)

		assert.NoError(t, err)
	})

	t.Run("吊销不存在的密钥失败", func(t *testing.T) {
		err := service.RevokeAPIKey("user-1", "missing")

		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})
}

func TestAPIKeyService_VerifyAPIKey(t *testing.T) {
	store := memory.NewStore()
	service := NewAPIKeyService(store)
	user := seedUser(t, store, "user-1")

	apiKey, plaintext, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "ci"})
	require.NoError(t, err)

	t.Run("有效密钥返回关联用户", func(t *testing.T) {
		verified, err := service.VerifyAPIKey(plaintext)

		require.NoError(t, err)
		assert.Equal(t, user.ID, verified.ID)
		assert.Equal(t, user.Tier, verified.Tier)
	})

	t.Run("未知密钥返回统一错误", func(t *testing.T) {
		_, err := service.VerifyAPIKey("vx_" + strings.Repeat("0", 48))

		assert.ErrorIs(t, err, ErrAPIKeyInvalid)
	})

	t.Run("已吊销的密钥立即失效", func(t *testing.T) {
		require.NoError(t, service.RevokeAPIKey("user-1", apiKey.ID))

		_, err := service.VerifyAPIKey(plaintext)
		assert.ErrorIs(t, err, ErrAPIKeyInvalid)
	})

	t.Run("属主被停用后密钥失效", func(t *testing.T) {
		_, secondPlaintext, err := service.IssueAPIKey(IssueAPIKeyInput{UserID: "user-1", Name: "second"})
		require.NoError(t, err)

		stored, err := store.GetUserByID("user-1")
		require.NoError(t, err)
		stored.IsActive = false
		require.NoError(t, store.UpdateUser(stored))

		_, err = service.VerifyAPIKey(secondPlaintext)
		assert.ErrorIs(t, err, ErrAPIKeyInvalid)
	})
}

func TestValidAPIKeyShape(t *testing.T) {
	valid := "vx_" + strings.Repeat("aB3", 16)
	assert.True(t, ValidAPIKeyShape(valid))

	cases := []struct {
		name string
		key  string
	}{
		{"空字符串", ""},
		{"前缀错误", "xx_" + strings.Repeat("a", 48)},
		{"长度不足", "vx_" + strings.Repeat("a", 47)},
		{"长度超出", "vx_" + strings.Repeat("a", 49)},
		{"包含非法字符", "vx_" + strings.Repeat("a", 47) + "!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, ValidAPIKeyShape(tc.key))
		})
	}
}
