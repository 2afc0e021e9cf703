package domain

import "time"

// MaxActiveAPIKeys 每个用户的最大有效密钥数
const MaxActiveAPIKeys = 5

// APIKey API密钥实体
//
// 明文只在签发响应里出现一次，之后任何读路径只暴露
// KeyPrefix；KeyHash 是验证时唯一比对的内容。
// 吊销只是置 IsActive=false，记录保留用于审计。
type APIKey struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID     string     `json:"userId" gorm:"type:varchar(36);index;not null"`
	KeyHash    string     `json:"-" gorm:"column:key_hash;type:varchar(64);uniqueIndex;not null"` // SHA-256 十六进制摘要
	KeyPrefix  string     `json:"keyPrefix" gorm:"type:varchar(20);not null"`                     // 明文前15位，用于列表展示
	Name       string     `json:"name" gorm:"type:varchar(100)"` // 密钥名称/描述
	IsActive   bool       `json:"isActive"`                      // 吊销后为 false
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"` // 最后验证成功时间，尽力而为
}
