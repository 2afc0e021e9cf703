package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected bool
	}{
		{"Valid email", "test@example.com", true},
		{"Valid email with subdomain", "user@mail.example.com", true},
		{"Valid email with numbers", "user123@example.com", true},
		{"Valid email with dots", "user.name@example.com", true},
		{"Valid email with plus", "user+tag@example.com", true},
		{"Invalid email - no @", "testexample.com", false},
		{"Invalid email - no domain", "test@", false},
		{"Invalid email - no local part", "@example.com", false},
		{"Invalid email - multiple @", "test@@example.com", false},
		{"Invalid email - empty", "", false},
		{"Invalid email - spaces", "test @example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateEmail(tt.email)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		expected bool
	}{
		{"Valid username", "testuser", true},
		{"Valid username with numbers", "user123", true},
		{"Valid username with underscore", "test_user", true},
		{"Valid username with dash", "test-user", true},
		{"Valid minimum length", "abc", true},
		{"Valid maximum length", "abcdefghijklmnopqrstuvwxyz123456", true},
		{"Invalid - too short", "ab", false},
		{"Invalid - too long", "abcdefghijklmnopqrstuvwxyz1234567", false},
		{"Invalid - empty", "", false},
		{"Invalid - spaces", "test user", false},
		{"Invalid - special characters", "test@user", false},
		{"Invalid - starts with number", "123user", false},
		{"Invalid - starts with dash", "-testuser", false},
		{"Invalid - starts with underscore", "_testuser", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateUsername(tt.username) == nil
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		name     string
		slug     string
		expected bool
	}{
		{"Valid slug", "chatgpt", true},
		{"Valid slug with dash", "gemini-pro", true},
		{"Valid slug with numbers", "llama3", true},
		{"Valid single letter", "q", true},
		{"Invalid - empty", "", false},
		{"Invalid - uppercase", "ChatGPT", false},
		{"Invalid - starts with number", "3llama", false},
		{"Invalid - starts with dash", "-gemini", false},
		{"Invalid - spaces", "chat gpt", false},
		{"Invalid - underscore", "chat_gpt", false},
		{"Invalid - special characters", "chatgpt!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateSlug(tt.slug) == nil
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		expected bool
	}{
		{"Valid date", "2025-06-01", true},
		{"Valid leap day", "2024-02-29", true},
		{"Invalid - empty", "", false},
		{"Invalid - wrong order", "01-06-2025", false},
		{"Invalid - no dashes", "20250601", false},
		{"Invalid - bad month", "2025-13-01", false},
		{"Invalid - bad day", "2025-02-30", false},
		{"Invalid - trailing text", "2025-06-01T00:00:00Z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateDate(tt.date) == nil
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTierAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		tier     UserTier
		min      UserTier
		expected bool
	}{
		{"Free meets free", TierFree, TierFree, true},
		{"Free below pro", TierFree, TierPro, false},
		{"Pro meets pro", TierPro, TierPro, true},
		{"Pro below enterprise", TierPro, TierEnterprise, false},
		{"Enterprise meets pro", TierEnterprise, TierPro, true},
		{"Enterprise meets enterprise", TierEnterprise, TierEnterprise, true},
		{"Unknown tier treated as free", UserTier("platinum"), TierPro, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TierAtLeast(tt.tier, tt.min))
		})
	}
}

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name     string
		user     *User
		expected bool
	}{
		{
			"Valid user",
			&User{
				Username: "testuser",
				Email:    "test@example.com",
				Role:     RoleUser,
			},
			true,
		},
		{
			"Valid user without username",
			&User{
				Email: "test@example.com",
				Role:  RoleUser,
			},
			true,
		},
		{
			"Invalid username",
			&User{
				Username: "ab", // too short
				Email:    "test@example.com",
				Role:     RoleUser,
			},
			false,
		},
		{
			"Invalid email",
			&User{
				Username: "testuser",
				Email:    "invalid-email",
				Role:     RoleUser,
			},
			false,
		},
		{
			"Invalid role",
			&User{
				Username: "testuser",
				Email:    "test@example.com",
				Role:     "invalid-role",
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if tt.expected {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
