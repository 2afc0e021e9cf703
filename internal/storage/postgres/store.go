package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"viralindex/backend/internal/domain"
)

var (
	ErrUserNotFound   = fmt.Errorf("user not found")
	ErrEmailExists    = fmt.Errorf("email already exists")
	ErrAPIKeyNotFound = fmt.Errorf("api key not found")
)

// Store PostgreSQL 存储实现
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	// 配置 GORM
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	// 连接数据库
	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}

	// 自动迁移数据库表
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.APIKey{},
		&domain.Model{},
		&domain.DailyScore{},
		&domain.Signal{},
		&domain.AlertRule{},
		&domain.AlertDelivery{},
	)
}

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(user *domain.User) error {
	// 检查邮箱是否已存在
	var existingUser domain.User
	err := s.db.Where("email = ?", user.Email).First(&existingUser).Error
	if err == nil {
		return ErrEmailExists
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	// 生成ID
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	return s.db.Create(user).Error
}

// GetUserByID 根据ID获取用户
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	var user domain.User
	err := s.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail 根据邮箱获取用户
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	var user domain.User
	err := s.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername 根据用户名获取用户
func (s *Store) GetUserByUsername(username string) (*domain.User, error) {
	var user domain.User
	err := s.db.Where("lower(username) = ?", strings.ToLower(username)).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户信息
func (s *Store) UpdateUser(user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()
	return s.db.Save(user).Error
}

// UpdateLastLogin 更新用户最后登录时间
func (s *Store) UpdateLastLogin(userID string) error {
	now := time.Now().UTC()
	return s.db.Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_at": now,
			"updated_at":    now,
		}).Error
}

// ListDigestRecipients 列出订阅每日摘要的活跃用户
func (s *Store) ListDigestRecipients() ([]domain.User, error) {
	var users []domain.User
	err := s.db.
		Where("is_active = ? AND digest_opt_in = ?", true, true).
		Order("email").
		Find(&users).Error
	return users, err
}

// ========== API Key Repository ==========

// SaveAPIKey 保存API Key
func (s *Store) SaveAPIKey(apiKey *domain.APIKey) error {
	if apiKey.ID == "" {
		apiKey.ID = uuid.New().String()
	}

	if apiKey.CreatedAt.IsZero() {
		apiKey.CreatedAt = time.Now().UTC()
	}

	return s.db.Create(apiKey).Error
}

// GetAPIKey 根据ID获取API Key
func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	var apiKey domain.APIKey
	err := s.db.Where("id = ?", id).First(&apiKey).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &apiKey, nil
}

// GetAPIKeyByHash 根据密钥哈希获取API Key
func (s *Store) GetAPIKeyByHash(hash string) (*domain.APIKey, error) {
	var apiKey domain.APIKey
	err := s.db.Where("key_hash = ?", hash).First(&apiKey).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &apiKey, nil
}

// ListAPIKeysByUserID 列出用户的所有API Key
func (s *Store) ListAPIKeysByUserID(userID string) ([]*domain.APIKey, error) {
	var apiKeys []*domain.APIKey
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&apiKeys).Error
	return apiKeys, err
}

// CountActiveAPIKeysByUserID 统计用户当前有效的API Key数量
func (s *Store) CountActiveAPIKeysByUserID(userID string) (int, error) {
	var count int64
	err := s.db.Model(&domain.APIKey{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return int(count), err
}

// DeactivateAPIKey 吊销API Key（记录保留）
func (s *Store) DeactivateAPIKey(id string) error {
	result := s.db.Model(&domain.APIKey{}).
		Where("id = ?", id).
		Update("is_active", false)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// MySQL 在值未变化时也报告 0 行，需区分记录不存在
		var count int64
		if err := s.db.Model(&domain.APIKey{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrAPIKeyNotFound
		}
	}

	return nil
}

// UpdateAPIKeyLastUsed 更新API Key最后使用时间
func (s *Store) UpdateAPIKeyLastUsed(id string) error {
	now := time.Now().UTC()
	result := s.db.Model(&domain.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", now)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ========== Admin Repository ==========

// ListUsers 列出用户（支持分页和过滤）
func (s *Store) ListUsers(page, pageSize int, search string, role *domain.UserRole, tier *domain.UserTier, isActive *bool) ([]domain.User, int, error) {
	query := s.db.Model(&domain.User{})

	// 搜索过滤
	if search != "" {
		searchPattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(username) LIKE ?", searchPattern, searchPattern)
	}

	// 角色过滤
	if role != nil {
		query = query.Where("role = ?", *role)
	}

	// 等级过滤
	if tier != nil {
		query = query.Where("tier = ?", *tier)
	}

	// 激活状态过滤
	if isActive != nil {
		query = query.Where("is_active = ?", *isActive)
	}

	// 获取总数
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	var users []domain.User
	offset := (page - 1) * pageSize
	err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&users).Error

	return users, int(total), err
}

// DeleteUser 删除用户及其全部关联数据
func (s *Store) DeleteUser(userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// 删除用户的API Key
		if err := s.DeleteAPIKeysByUserID(userID); err != nil {
			return err
		}

		// 删除用户的告警规则及投递记录
		if err := s.DeleteAlertRulesByUserID(userID); err != nil {
			return err
		}

		// 删除用户
		return tx.Where("id = ?", userID).Delete(&domain.User{}).Error
	})
}

// DeleteAPIKeysByUserID 删除用户的所有API Key
func (s *Store) DeleteAPIKeysByUserID(userID string) error {
	return s.db.Where("user_id = ?", userID).Delete(&domain.APIKey{}).Error
}

// DeleteAlertRulesByUserID 删除用户的所有告警规则及投递记录
func (s *Store) DeleteAlertRulesByUserID(userID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// 查找用户的所有规则
		var rules []domain.AlertRule
		if err := tx.Where("user_id = ?", userID).Find(&rules).Error; err != nil {
			return err
		}

		// 删除每条规则的投递记录
		for _, rule := range rules {
			if err := tx.Where("rule_id = ?", rule.ID).Delete(&domain.AlertDelivery{}).Error; err != nil {
				return err
			}
		}

		// 删除规则
		return tx.Where("user_id = ?", userID).Delete(&domain.AlertRule{}).Error
	})
}

// GetSystemStatistics 获取系统统计信息
func (s *Store) GetSystemStatistics() (*domain.SystemStatistics, error) {
	stats := &domain.SystemStatistics{
		UsersByTier: make(map[domain.UserTier]int),
		UsersByRole: make(map[domain.UserRole]int),
	}

	// 用户统计
	var totalUsers, activeUsers int64
	if err := s.db.Model(&domain.User{}).Count(&totalUsers).Error; err != nil {
		return nil, err
	}
	stats.TotalUsers = int(totalUsers)

	if err := s.db.Model(&domain.User{}).Where("is_active = ?", true).Count(&activeUsers).Error; err != nil {
		return nil, err
	}
	stats.ActiveUsers = int(activeUsers)

	// API Key 统计
	var totalKeys, activeKeys int64
	if err := s.db.Model(&domain.APIKey{}).Count(&totalKeys).Error; err != nil {
		return nil, err
	}
	stats.TotalAPIKeys = int(totalKeys)

	if err := s.db.Model(&domain.APIKey{}).Where("is_active = ?", true).Count(&activeKeys).Error; err != nil {
		return nil, err
	}
	stats.ActiveAPIKeys = int(activeKeys)

	// 模型与规则统计
	var totalModels, activeRules int64
	if err := s.db.Model(&domain.Model{}).Count(&totalModels).Error; err != nil {
		return nil, err
	}
	stats.TotalModels = int(totalModels)

	if err := s.db.Model(&domain.AlertRule{}).Where("is_active = ?", true).Count(&activeRules).Error; err != nil {
		return nil, err
	}
	stats.ActiveRules = int(activeRules)

	// 按等级统计用户
	var tierStats []struct {
		Tier  domain.UserTier `json:"tier"`
		Count int             `json:"count"`
	}
	if err := s.db.Model(&domain.User{}).Select("tier, COUNT(*) as count").Group("tier").Scan(&tierStats).Error; err != nil {
		return nil, err
	}
	for _, stat := range tierStats {
		stats.UsersByTier[stat.Tier] = stat.Count
	}

	// 按角色统计用户
	var roleStats []struct {
		Role  domain.UserRole `json:"role"`
		Count int             `json:"count"`
	}
	if err := s.db.Model(&domain.User{}).Select("role, COUNT(*) as count").Group("role").Scan(&roleStats).Error; err != nil {
		return nil, err
	}
	for _, stat := range roleStats {
		stats.UsersByRole[stat.Role] = stat.Count
	}

	return stats, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// OpenConnections 返回连接池当前打开的连接数
func (s *Store) OpenConnections() int {
	sqlDB, err := s.db.DB()
	if err != nil {
		return 0
	}
	return sqlDB.Stats().OpenConnections
}
