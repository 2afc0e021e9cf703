package memory

import (
	"testing"
	"time"

	"viralindex/backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UserOperations(t *testing.T) {
	store := NewStore()

	// Test CreateUser
	user := &domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		Username:     "Alice",
		PasswordHash: "hashed",
		Role:         domain.RoleUser,
		Tier:         domain.TierFree,
		IsActive:     true,
	}
	err := store.CreateUser(user)
	require.NoError(t, err)
	assert.False(t, user.CreatedAt.IsZero())

	// Test GetUserByID
	retrieved, err := store.GetUserByID("user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", retrieved.Email)

	// Test GetUserByEmail
	retrieved, err = store.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", retrieved.ID)

	// Test GetUserByUsername (case-insensitive lookup)
	retrieved, err = store.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", retrieved.ID)

	retrieved, err = store.GetUserByUsername("ALICE")
	require.NoError(t, err)
	assert.Equal(t, "user-1", retrieved.ID)

	// Test UpdateUser
	retrieved.Tier = domain.TierPro
	err = store.UpdateUser(retrieved)
	require.NoError(t, err)

	updated, err := store.GetUserByID("user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, updated.Tier)

	// Test UpdateLastLogin
	err = store.UpdateLastLogin("user-1")
	require.NoError(t, err)

	updated, err = store.GetUserByID("user-1")
	require.NoError(t, err)
	require.NotNil(t, updated.LastLoginAt)

	// Unknown user
	_, err = store.GetUserByID("missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = store.GetUserByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStore_UserOperations_Duplicates(t *testing.T) {
	store := NewStore()

	err := store.CreateUser(&domain.User{
		ID:       "user-1",
		Email:    "alice@example.com",
		Username: "alice",
	})
	require.NoError(t, err)

	// Same email is rejected
	err = store.CreateUser(&domain.User{
		ID:       "user-2",
		Email:    "alice@example.com",
		Username: "other",
	})
	assert.ErrorIs(t, err, ErrEmailExists)

	// Same username (different case) is rejected
	err = store.CreateUser(&domain.User{
		ID:       "user-3",
		Email:    "carol@example.com",
		Username: "Alice",
	})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestMemoryStore_DigestRecipients(t *testing.T) {
	store := NewStore()

	users := []*domain.User{
		{ID: "u1", Email: "a@example.com", Username: "a", IsActive: true, DigestOptIn: true},
		{ID: "u2", Email: "b@example.com", Username: "b", IsActive: true, DigestOptIn: false},
		{ID: "u3", Email: "c@example.com", Username: "c", IsActive: false, DigestOptIn: true},
	}
	for _, u := range users {
		require.NoError(t, store.CreateUser(u))
	}

	// Only active users that opted in are returned
	recipients, err := store.ListDigestRecipients()
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "a@example.com", recipients[0].Email)
}

func TestMemoryStore_APIKeyOperations(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	// Test SaveAPIKey
	apiKey := &domain.APIKey{
		ID:        "key-1",
		UserID:    "user-1",
		KeyHash:   "hash-1",
		KeyPrefix: "vi_abc",
		Name:      "ci",
		IsActive:  true,
		CreatedAt: now,
	}
	err := store.SaveAPIKey(apiKey)
	require.NoError(t, err)

	// Test GetAPIKey
	retrieved, err := store.GetAPIKey("key-1")
	require.NoError(t, err)
	assert.Equal(t, "vi_abc", retrieved.KeyPrefix)

	// Test GetAPIKeyByHash
	retrieved, err = store.GetAPIKeyByHash("hash-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", retrieved.ID)

	_, err = store.GetAPIKeyByHash("unknown-hash")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)

	// Test ListAPIKeysByUserID (newest first)
	second := &domain.APIKey{
		ID:        "key-2",
		UserID:    "user-1",
		KeyHash:   "hash-2",
		KeyPrefix: "vi_def",
		IsActive:  true,
		CreatedAt: now.Add(time.Minute),
	}
	require.NoError(t, store.SaveAPIKey(second))

	keys, err := store.ListAPIKeysByUserID("user-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "key-2", keys[0].ID)
	assert.Equal(t, "key-1", keys[1].ID)

	// Test CountActiveAPIKeysByUserID
	count, err := store.CountActiveAPIKeysByUserID("user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Test DeactivateAPIKey keeps the record but drops it from the active count
	err = store.DeactivateAPIKey("key-1")
	require.NoError(t, err)

	retrieved, err = store.GetAPIKey("key-1")
	require.NoError(t, err)
	assert.False(t, retrieved.IsActive)

	count, err = store.CountActiveAPIKeysByUserID("user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Test UpdateAPIKeyLastUsed
	err = store.UpdateAPIKeyLastUsed("key-2")
	require.NoError(t, err)

	retrieved, err = store.GetAPIKey("key-2")
	require.NoError(t, err)
	require.NotNil(t, retrieved.LastUsedAt)
}

func TestMemoryStore_ListUsers(t *testing.T) {
	store := NewStore()
	base := time.Now().UTC()

	users := []*domain.User{
		{ID: "u1", Email: "alice@example.com", Username: "alice", Role: domain.RoleUser, Tier: domain.TierFree, IsActive: true, CreatedAt: base},
		{ID: "u2", Email: "bob@example.com", Username: "bob", Role: domain.RoleUser, Tier: domain.TierPro, IsActive: true, CreatedAt: base.Add(time.Minute)},
		{ID: "u3", Email: "carol@example.com", Username: "carol", Role: domain.RoleAdmin, Tier: domain.TierPro, IsActive: false, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, u := range users {
		require.NoError(t, store.CreateUser(u))
	}

	// No filters, newest first
	page, total, err := store.ListUsers(1, 10, "", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 3)
	assert.Equal(t, "u3", page[0].ID)

	// Pagination
	page, total, err = store.ListUsers(2, 2, "", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "u1", page[0].ID)

	// Search matches email or username, case-insensitive
	page, total, err = store.ListUsers(1, 10, "BOB", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "u2", page[0].ID)

	// Tier filter
	tier := domain.TierPro
	_, total, err = store.ListUsers(1, 10, "", nil, &tier, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// Role filter
	role := domain.RoleAdmin
	page, total, err = store.ListUsers(1, 10, "", &role, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "u3", page[0].ID)

	// Active filter
	active := true
	_, total, err = store.ListUsers(1, 10, "", nil, nil, &active)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestMemoryStore_DeleteUserCascade(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.CreateUser(&domain.User{ID: "u1", Email: "alice@example.com", Username: "alice"}))
	require.NoError(t, store.SaveAPIKey(&domain.APIKey{ID: "k1", UserID: "u1", KeyHash: "h1", IsActive: true}))
	require.NoError(t, store.SaveAlertRule(&domain.AlertRule{ID: "r1", UserID: "u1", Condition: domain.AlertScoreAbove, Threshold: 90}))

	// Test DeleteUser releases the email and username indexes
	err := store.DeleteUser("u1")
	require.NoError(t, err)

	_, err = store.GetUserByEmail("alice@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.GetUserByUsername("alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	// Test DeleteAPIKeysByUserID
	err = store.DeleteAPIKeysByUserID("u1")
	require.NoError(t, err)

	_, err = store.GetAPIKeyByHash("h1")
	assert.ErrorIs(t, err, ErrAPIKeyNotFound)

	// Test DeleteAlertRulesByUserID
	err = store.DeleteAlertRulesByUserID("u1")
	require.NoError(t, err)

	rules, err := store.ListAlertRulesByUserID("u1")
	require.NoError(t, err)
	assert.Empty(t, rules)

	// Deleting an unknown user fails
	err = store.DeleteUser("missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStore_SystemStatistics(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.CreateUser(&domain.User{ID: "u1", Email: "a@example.com", Username: "a", Role: domain.RoleUser, Tier: domain.TierFree, IsActive: true}))
	require.NoError(t, store.CreateUser(&domain.User{ID: "u2", Email: "b@example.com", Username: "b", Role: domain.RoleAdmin, Tier: domain.TierPro, IsActive: false}))
	require.NoError(t, store.SaveAPIKey(&domain.APIKey{ID: "k1", UserID: "u1", KeyHash: "h1", IsActive: true}))
	require.NoError(t, store.SaveAPIKey(&domain.APIKey{ID: "k2", UserID: "u1", KeyHash: "h2", IsActive: false}))
	require.NoError(t, store.SaveModel(&domain.Model{ID: "m1", Slug: "chatgpt", Name: "ChatGPT", IsActive: true}))
	require.NoError(t, store.SaveAlertRule(&domain.AlertRule{ID: "r1", UserID: "u1", Condition: domain.AlertScoreAbove, Threshold: 90, IsActive: true}))

	stats, err := store.GetSystemStatistics()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, 2, stats.TotalAPIKeys)
	assert.Equal(t, 1, stats.ActiveAPIKeys)
	assert.Equal(t, 1, stats.TotalModels)
	assert.Equal(t, 1, stats.ActiveRules)
	assert.Equal(t, 1, stats.UsersByTier[domain.TierFree])
	assert.Equal(t, 1, stats.UsersByTier[domain.TierPro])
	assert.Equal(t, 1, stats.UsersByRole[domain.RoleAdmin])
}

func TestMemoryStore_BlacklistOperations(t *testing.T) {
	store := NewStore()

	// Test AddToBlacklist
	err := store.AddToBlacklist("jti-1", time.Minute)
	require.NoError(t, err)

	blacklisted, err := store.IsBlacklisted("jti-1")
	require.NoError(t, err)
	assert.True(t, blacklisted)

	// Unknown token is not blacklisted
	blacklisted, err = store.IsBlacklisted("jti-unknown")
	require.NoError(t, err)
	assert.False(t, blacklisted)

	// Expired entries fall out of the blacklist
	err = store.AddToBlacklist("jti-2", -time.Second)
	require.NoError(t, err)

	blacklisted, err = store.IsBlacklisted("jti-2")
	require.NoError(t, err)
	assert.False(t, blacklisted)
}

func TestMemoryStore_RateLimitOperations(t *testing.T) {
	store := NewStore()
	window := time.Minute

	// First increment opens the window
	count, ttl, err := store.IncrementRateLimit("ratelimit:ip:1.2.3.4", window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, window, ttl)

	// Later increments do not extend the window
	count, ttl, err = store.IncrementRateLimit("ratelimit:ip:1.2.3.4", window)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, window)

	// Test GetRateLimit
	count, err = store.GetRateLimit("ratelimit:ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.GetRateLimit("ratelimit:ip:9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStore_RateLimitWindowReset(t *testing.T) {
	store := NewStore()
	window := 20 * time.Millisecond // Very short window

	count, _, err := store.IncrementRateLimit("ratelimit:user:u1", window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	time.Sleep(30 * time.Millisecond)

	// Expired window reads as zero
	count, err = store.GetRateLimit("ratelimit:user:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Next increment starts a fresh window
	count, ttl, err := store.IncrementRateLimit("ratelimit:user:u1", window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, window, ttl)
}

func TestMemoryStore_PlanCacheOperations(t *testing.T) {
	store := NewStore()

	// Test CachePlan / GetCachedPlan
	err := store.CachePlan("user-1", domain.TierPro, time.Minute)
	require.NoError(t, err)

	tier, err := store.GetCachedPlan("user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, tier)

	// Cache miss
	_, err = store.GetCachedPlan("user-unknown")
	assert.Error(t, err)

	// Expired entries behave like a miss
	err = store.CachePlan("user-2", domain.TierFree, -time.Second)
	require.NoError(t, err)

	_, err = store.GetCachedPlan("user-2")
	assert.Error(t, err)

	// Test DeleteCachedPlan
	err = store.DeleteCachedPlan("user-1")
	require.NoError(t, err)

	_, err = store.GetCachedPlan("user-1")
	assert.Error(t, err)
}

func TestMemoryStore_UsageOperations(t *testing.T) {
	store := NewStore()
	date := "2026-03-01"

	require.NoError(t, store.IncrementUsage(date, domain.TierFree, false))
	require.NoError(t, store.IncrementUsage(date, domain.TierFree, true))
	require.NoError(t, store.IncrementUsage(date, domain.TierPro, false))

	stats, err := store.GetUsageStatistics(date)
	require.NoError(t, err)
	assert.Equal(t, date, stats.Date)
	assert.Equal(t, 2, stats.RequestsByTier[domain.TierFree])
	assert.Equal(t, 1, stats.RequestsByTier[domain.TierPro])
	assert.Equal(t, 1, stats.Blocked)

	// A day without traffic returns zero counts
	stats, err = store.GetUsageStatistics("2026-03-02")
	require.NoError(t, err)
	assert.Empty(t, stats.RequestsByTier)
	assert.Equal(t, 0, stats.Blocked)
}

func TestMemoryStore_FeedOperations(t *testing.T) {
	store := NewStore()

	// Memory storage has no pub/sub backend
	err := store.PublishFeedEvent(&domain.FeedEvent{Type: "score", ModelSlug: "chatgpt"})
	assert.Error(t, err)

	assert.Nil(t, store.SubscribeFeedEvents())
}

func TestMemoryStore_Health(t *testing.T) {
	store := NewStore()

	assert.NoError(t, store.Health())
	assert.NoError(t, store.Close())
}
