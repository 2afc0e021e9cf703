package domain

import "time"

// AlertCondition 告警规则条件类型
type AlertCondition string

const (
	AlertScoreAbove AlertCondition = "score_above" // 分数高于阈值
	AlertScoreBelow AlertCondition = "score_below" // 分数低于阈值
	AlertOnSignal   AlertCondition = "signal"      // 检测到信号
)

// ValidAlertCondition 判断是否为已知条件类型
func ValidAlertCondition(c AlertCondition) bool {
	switch c {
	case AlertScoreAbove, AlertScoreBelow, AlertOnSignal:
		return true
	}
	return false
}

// AlertRule 用户配置的告警规则。
//
// ModelID 为空表示匹配全部模型。Secret 用于对投递 payload
// 计算 HMAC-SHA256 签名，创建后不可读出。
type AlertRule struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      string         `json:"userId" gorm:"type:varchar(36);index;not null"`
	ModelID     string         `json:"modelId,omitempty" gorm:"type:varchar(36);index"`
	Condition   AlertCondition `json:"condition" gorm:"type:varchar(20);not null"`
	Threshold   float64        `json:"threshold"`                           // score_above/score_below 的阈值
	SignalType  SignalType     `json:"signalType,omitempty" gorm:"type:varchar(40)"` // signal 条件可限定类型，空为全部
	TargetURL   string         `json:"targetUrl" gorm:"type:varchar(500);not null"`
	Secret      string         `json:"-" gorm:"type:varchar(255)"`
	IsActive    bool           `json:"isActive" gorm:"default:true"`
	LastError   string         `json:"lastError,omitempty" gorm:"type:text"`
	LastSuccess *time.Time     `json:"lastSuccess,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// AlertEvent 一次规则命中产生的事件 payload。
type AlertEvent struct {
	ID        string         `json:"id"`
	RuleID    string         `json:"ruleId"`
	Condition AlertCondition `json:"condition"`
	ModelSlug string         `json:"modelSlug"`
	Date      string         `json:"date"`
	Score     float64        `json:"score,omitempty"`
	Signal    *Signal        `json:"signal,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertDelivery 一次 webhook 投递的结果记录。
type AlertDelivery struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RuleID     string     `json:"ruleId" gorm:"type:varchar(36);index;not null"`
	Payload    string     `json:"payload" gorm:"type:text"`  // JSON payload
	StatusCode int        `json:"statusCode"`                // HTTP 状态码
	Response   string     `json:"response" gorm:"type:text"` // 响应内容，截断保存
	Duration   int64      `json:"duration"`                  // 请求耗时（毫秒）
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`
	Attempts   int        `json:"attempts"`
	NextRetry  *time.Time `json:"nextRetry,omitempty" gorm:"index"` // 为空表示不再重试
	CreatedAt  time.Time  `json:"createdAt"`
}
