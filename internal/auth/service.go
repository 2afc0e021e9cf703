package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"viralindex/backend/internal/domain"
)

var (
	// ErrInvalidEmail 无效的邮箱格式
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrInvalidPassword 密码不符合要求
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidUsername 用户名不符合要求
	ErrInvalidUsername = errors.New("invalid username")
	// ErrEmailExists 邮箱已存在
	ErrEmailExists = errors.New("email already exists")
	// ErrUsernameExists 用户名已存在
	ErrUsernameExists = errors.New("username already exists")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserInactive 用户已被禁用
	ErrUserInactive = errors.New("user is inactive")
)

// 密码长度上限对齐 bcrypt 的 72 字节输入限制，超长拒绝而不是静默截断
const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// UserRepository 用户存储接口
type UserRepository interface {
	CreateUser(user *domain.User) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	GetUserByUsername(username string) (*domain.User, error)
	UpdateUser(user *domain.User) error
	UpdateLastLogin(userID string) error
}

// Service 账号服务，负责注册登录和账号资料的修改
type Service struct {
	users UserRepository
}

// NewService 创建账号服务
func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

// RegisterInput 注册输入
type RegisterInput struct {
	Email    string
	Password string
	Username string
}

// LoginInput 登录输入
type LoginInput struct {
	Identifier string
	Password   string
}

// Register 创建账号。新账号是免费档的普通用户，邮箱统一小写落库，
// 用户名可选，填了就要符合格式且未被占用。
func (s *Service) Register(input RegisterInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)

	if !domain.ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	if username != "" {
		if err := domain.ValidateUsername(username); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUsername, err)
		}
	}

	if existing, err := s.users.GetUserByEmail(email); err == nil && existing != nil {
		return nil, ErrEmailExists
	}
	if username != "" {
		if existing, err := s.users.GetUserByUsername(username); err == nil && existing != nil {
			return nil, ErrUsernameExists
		}
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:              uuid.New().String(),
		Email:           email,
		Username:        username,
		PasswordHash:    hash,
		Role:            domain.RoleUser,
		Tier:            domain.TierFree,
		IsActive:        true,
		IsEmailVerified: false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.users.CreateUser(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Login 校验凭证。标识符带 @ 按邮箱查找，否则按用户名查找。
func (s *Service) Login(input LoginInput) (*domain.User, error) {
	identifier := strings.ToLower(strings.TrimSpace(input.Identifier))

	var (
		user *domain.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetUserByEmail(identifier)
	} else {
		user, err = s.users.GetUserByUsername(identifier)
	}
	if err != nil {
		// 账号不存在和密码错误对外不作区分
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	// 最后登录时间只作展示，失败不影响登录
	_ = s.users.UpdateLastLogin(user.ID)

	return user, nil
}

// GetUserByID 根据 ID 获取用户
func (s *Service) GetUserByID(userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ChangePassword 校验旧密码后更换新密码
func (s *Service) ChangePassword(userID, oldPassword, newPassword string) error {
	user, err := s.users.GetUserByID(userID)
	if err != nil {
		return ErrUserNotFound
	}

	if !CheckPassword(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()
	return s.users.UpdateUser(user)
}

// UpdateDigestOptIn 更新每日摘要订阅开关
func (s *Service) UpdateDigestOptIn(userID string, optIn bool) (*domain.User, error) {
	user, err := s.users.GetUserByID(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user.DigestOptIn = optIn
	user.UpdatedAt = time.Now().UTC()
	if err := s.users.UpdateUser(user); err != nil {
		return nil, err
	}

	return user, nil
}

// ValidatePassword 校验密码长度
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidPassword, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrInvalidPassword, maxPasswordLength)
	}
	return nil
}

// HashPassword 生成密码哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码与哈希是否匹配
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
