package service

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"viralindex/backend/internal/auth"
	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

var (
	// ErrUnauthorized 未授权访问
	ErrUnauthorized = errors.New("unauthorized access")
	// ErrInsufficientPermission 权限不足
	ErrInsufficientPermission = errors.New("insufficient permissions")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrCannotModifySelf 不能修改自己
	ErrCannotModifySelf = errors.New("cannot modify self")
	// ErrCannotModifySuper 不能修改超级管理员
	ErrCannotModifySuper = errors.New("cannot modify super admin")
	// ErrInvalidRole 非法的用户角色
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidTier 非法的订阅等级
	ErrInvalidTier = errors.New("invalid tier")
)

// AdminService 管理服务
type AdminService struct {
	store storage.Store
}

// NewAdminService 创建管理服务
func NewAdminService(store storage.Store) *AdminService {
	return &AdminService{
		store: store,
	}
}

// ListUsersInput 列出用户的输入参数
type ListUsersInput struct {
	Page     int
	PageSize int
	Search   string // 搜索关键词（邮箱/用户名）
	Role     *domain.UserRole
	Tier     *domain.UserTier
	IsActive *bool
}

// ListUsersOutput 列出用户的输出结果
type ListUsersOutput struct {
	Users      []domain.User `json:"users"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalPages int           `json:"totalPages"`
}

// ListUsers 列出所有用户（需要管理员权限）
func (s *AdminService) ListUsers(input ListUsersInput) (*ListUsersOutput, error) {
	// 设置默认分页
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.PageSize <= 0 {
		input.PageSize = 20
	}
	if input.PageSize > 100 {
		input.PageSize = 100
	}

	// 获取用户列表
	users, total, err := s.store.ListUsers(input.Page, input.PageSize, input.Search, input.Role, input.Tier, input.IsActive)
	if err != nil {
		return nil, err
	}

	totalPages := (total + input.PageSize - 1) / input.PageSize

	return &ListUsersOutput{
		Users:      users,
		Total:      total,
		Page:       input.Page,
		PageSize:   input.PageSize,
		TotalPages: totalPages,
	}, nil
}

// GetUser 获取用户详情（需要管理员权限）
func (s *AdminService) GetUser(userID string) (*domain.User, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateUserInput 更新用户的输入参数
type UpdateUserInput struct {
	UserID          string
	Role            *domain.UserRole
	Tier            *domain.UserTier
	IsActive        *bool
	IsEmailVerified *bool
	OperatorID      string // 操作者ID
}

// UpdateUser 更新用户信息（需要管理员权限）
//
// 等级变更走这里。混合存储会顺带清掉套餐缓存，新等级
// 在下一次解析时生效。
func (s *AdminService) UpdateUser(input UpdateUserInput) (*domain.User, error) {
	// 不能修改自己
	if input.UserID == input.OperatorID {
		return nil, ErrCannotModifySelf
	}

	// 获取目标用户
	user, err := s.store.GetUserByID(input.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	// 获取操作者
	operator, err := s.store.GetUserByID(input.OperatorID)
	if err != nil {
		return nil, ErrUnauthorized
	}

	// 不能修改超级管理员（除非自己也是超级管理员）
	if user.Role == domain.RoleSuper && operator.Role != domain.RoleSuper {
		return nil, ErrCannotModifySuper
	}

	// 更新字段
	if input.Role != nil {
		// 只有超级管理员才能设置角色
		if operator.Role != domain.RoleSuper {
			return nil, ErrInsufficientPermission
		}
		switch *input.Role {
		case domain.RoleUser, domain.RoleAdmin, domain.RoleSuper:
			user.Role = *input.Role
		default:
			return nil, ErrInvalidRole
		}
	}

	if input.Tier != nil {
		if !domain.ValidTier(*input.Tier) {
			return nil, ErrInvalidTier
		}
		user.Tier = *input.Tier
	}

	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	if input.IsEmailVerified != nil {
		user.IsEmailVerified = *input.IsEmailVerified
	}

	user.UpdatedAt = time.Now().UTC()

	// 保存更新
	if err := s.store.UpdateUser(user); err != nil {
		return nil, err
	}

	return user, nil
}

// DeleteUser 删除用户（需要超级管理员权限）
//
// 级联删除该用户的 API Key 与告警规则。
func (s *AdminService) DeleteUser(userID, operatorID string) error {
	// 不能删除自己
	if userID == operatorID {
		return ErrCannotModifySelf
	}

	// 获取目标用户
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return ErrUserNotFound
	}

	// 不能删除超级管理员
	if user.Role == domain.RoleSuper {
		return ErrCannotModifySuper
	}

	return s.store.DeleteUser(userID)
}

// GetStatistics 获取系统统计（需要管理员权限）
func (s *AdminService) GetStatistics() (*domain.SystemStatistics, error) {
	stats, err := s.store.GetSystemStatistics()
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetUsageStatistics 获取某日网关用量（需要管理员权限）
//
// date 为空取今天（UTC）。计数是尽力而为的，仅用于观察流量，
// 不参与限流判定。
func (s *AdminService) GetUsageStatistics(date string) (*domain.UsageStatistics, error) {
	if date == "" {
		date = time.Now().UTC().Format(dateLayout)
	} else if !validDate(date) {
		return nil, ErrInvalidDate
	}
	return s.store.GetUsageStatistics(date)
}

// CreateAdminUserInput 创建管理员用户的输入参数
type CreateAdminUserInput struct {
	Email    string
	Password string
	Username string
	Role     domain.UserRole
}

// CreateAdminUser 创建管理员用户（供初始化工具使用）
func (s *AdminService) CreateAdminUser(input CreateAdminUserInput) (*domain.User, error) {
	if !domain.ValidateEmail(input.Email) {
		return nil, auth.ErrInvalidEmail
	}
	if err := auth.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	// 检查邮箱是否已存在
	if _, err := s.store.GetUserByEmail(input.Email); err == nil {
		return nil, auth.ErrEmailExists
	}

	// 加密密码
	hashedPassword, err := auth.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:              uuid.New().String(),
		Email:           input.Email,
		Username:        input.Username,
		PasswordHash:    hashedPassword,
		Role:            input.Role,
		Tier:            domain.TierFree,
		IsActive:        true,
		IsEmailVerified: true, // 管理员默认邮箱已验证
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// 保存用户
	if err := s.store.CreateUser(user); err != nil {
		return nil, err
	}

	return user, nil
}
