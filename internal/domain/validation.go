package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrUsernameTooShort = errors.New("username too short (min 3 chars)")
	ErrUsernameTooLong  = errors.New("username too long (max 32 chars)")
	ErrInvalidUsername  = errors.New("invalid username format")
	ErrInvalidSlug      = errors.New("invalid model slug")
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
)

// 验证常量
const (
	MaxEmailLength = 254 // RFC 5322 整个邮箱地址最大长度

	MinUsernameLength = 3
	MaxUsernameLength = 32

	MaxSlugLength = 100
)

// 正则表达式
var (
	// 模型 slug：小写字母开头，小写字母/数字/连字符
	slugRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

	// 用户名验证（必须以字母开头）
	usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*[a-zA-Z0-9]$|^[a-zA-Z]$`)
)

// ValidateEmail 验证注册邮箱格式
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > MaxEmailLength {
		return false
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// ValidateUsername 验证用户名
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateSlug 验证模型 slug
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > MaxSlugLength {
		return ErrInvalidSlug
	}
	if !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}

// ValidateDate 验证 YYYY-MM-DD 日期串
func ValidateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return ErrInvalidDate
	}
	return nil
}

// Validate 用户实体校验
func (u *User) Validate() error {
	if u.Username != "" {
		if err := ValidateUsername(u.Username); err != nil {
			return err
		}
	}
	if !ValidateEmail(u.Email) {
		return ErrInvalidEmail
	}
	if u.Role != RoleUser && u.Role != RoleAdmin && u.Role != RoleSuper {
		return errors.New("invalid role")
	}
	return nil
}
