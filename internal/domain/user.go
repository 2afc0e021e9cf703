package domain

import "time"

// UserTier 订阅等级
type UserTier string

const (
	TierFree       UserTier = "free"
	TierPro        UserTier = "pro"
	TierEnterprise UserTier = "enterprise"
)

// UserRole 用户角色
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
	RoleSuper UserRole = "super" // 超级管理员
)

// tierRank 等级排序（用于最低等级校验）
var tierRank = map[UserTier]int{
	TierFree:       0,
	TierPro:        1,
	TierEnterprise: 2,
}

// ValidTier 判断是否为合法等级
func ValidTier(t UserTier) bool {
	_, ok := tierRank[t]
	return ok
}

// TierAtLeast 判断 t 是否达到最低等级 min
//
// 未知等级按 free 处理。
func TierAtLeast(t, min UserTier) bool {
	return tierRank[t] >= tierRank[min]
}

// User 表示注册用户的业务实体
//
// Tier 只由计费方或管理员变更，网关侧只读。
type User struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email           string     `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Username        string     `json:"username,omitempty" gorm:"type:varchar(100)"`
	PasswordHash    string     `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	Role            UserRole   `json:"role" gorm:"type:varchar(20);default:'user';index"`
	Tier            UserTier   `json:"tier" gorm:"type:varchar(20);default:'free';index"`
	IsActive        bool       `json:"isActive" gorm:"default:true"`
	IsEmailVerified bool       `json:"isEmailVerified" gorm:"default:false"`
	DigestOptIn     bool       `json:"digestOptIn" gorm:"default:false"` // 是否订阅每日摘要邮件
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

// IsAdmin 判断用户是否为管理员
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuper
}

// IsSuper 判断用户是否为超级管理员
func (u *User) IsSuper() bool {
	return u.Role == RoleSuper
}

// TierFeatures 各等级可用的产品能力
type TierFeatures struct {
	Tier          UserTier `json:"tier"`
	ScoreHistory  bool     `json:"scoreHistory"`  // 历史分数查询
	Signals       bool     `json:"signals"`       // 信号查询
	AlertRules    bool     `json:"alertRules"`    // 告警规则
	CSVExport     bool     `json:"csvExport"`     // CSV 导出
	MaxAlertRules int      `json:"maxAlertRules"` // 告警规则上限，-1 表示无限制
}

// FeaturesForTier 返回各等级的默认能力
func FeaturesForTier(tier UserTier) TierFeatures {
	switch tier {
	case TierPro:
		return TierFeatures{
			Tier:          TierPro,
			ScoreHistory:  true,
			Signals:       true,
			AlertRules:    true,
			CSVExport:     false,
			MaxAlertRules: 20,
		}
	case TierEnterprise:
		return TierFeatures{
			Tier:          TierEnterprise,
			ScoreHistory:  true,
			Signals:       true,
			AlertRules:    true,
			CSVExport:     true,
			MaxAlertRules: -1, // 无限制
		}
	default: // TierFree
		return TierFeatures{
			Tier:          TierFree,
			ScoreHistory:  false,
			Signals:       false,
			AlertRules:    false,
			CSVExport:     false,
			MaxAlertRules: 0,
		}
	}
}
