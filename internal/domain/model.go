package domain

import "time"

// Model 表示榜单上的一个 AI 模型。
//
// 数据由 ETL 协作方维护，本服务只读写 IsActive 以外的字段
// 时一律通过 ingest 接口。
type Model struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Slug      string    `json:"slug" gorm:"type:varchar(100);uniqueIndex;not null"` // 如 chatgpt、gemini
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Vendor    string    `json:"vendor" gorm:"type:varchar(255)"` // 厂商
	IsActive  bool      `json:"isActive" gorm:"default:true;index"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScoreComponents 综合指数的各分量（0-100）
type ScoreComponents struct {
	Market    float64 `json:"market"`    // 市场热度
	News      float64 `json:"news"`      // 新闻声量
	Community float64 `json:"community"` // 社区讨论
	Dev       float64 `json:"dev"`       // 开发者采用
	Quality   float64 `json:"quality"`   // 模型质量
}

// DailyScore 某模型某日的病毒式传播指数。
//
// 分数由 ETL 离线计算后推送进来，服务内不做任何指数运算。
type DailyScore struct {
	ID         string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ModelID    string          `json:"modelId" gorm:"type:varchar(36);index:idx_scores_model_date,unique;not null"`
	Date       string          `json:"date" gorm:"type:varchar(10);index:idx_scores_model_date,unique;index;not null"` // YYYY-MM-DD
	Score      float64         `json:"score"`                                 // 综合指数 0-100
	Components ScoreComponents `json:"components" gorm:"serializer:json;type:json"` // 分量明细
	Rank       int             `json:"rank"`                                  // 当日排名，1 为最高
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// SignalType 信号类型
type SignalType string

const (
	SignalDivergence       SignalType = "divergence"        // 分量背离
	SignalMomentumBreakout SignalType = "momentum_breakout" // 动量突破
	SignalQualityBacked    SignalType = "quality_backed"    // 质量支撑
)

// ValidSignalType 判断是否为已知信号类型
func ValidSignalType(t SignalType) bool {
	switch t {
	case SignalDivergence, SignalMomentumBreakout, SignalQualityBacked:
		return true
	}
	return false
}

// Signal ETL 检测出的结构性信号。
type Signal struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ModelID   string     `json:"modelId" gorm:"type:varchar(36);index:idx_signals_model_date_type,unique;not null"`
	Date      string     `json:"date" gorm:"type:varchar(10);index:idx_signals_model_date_type,unique;index;not null"` // YYYY-MM-DD
	Type      SignalType `json:"type" gorm:"column:signal_type;type:varchar(40);index:idx_signals_model_date_type,unique;not null"`
	Direction string     `json:"direction" gorm:"type:varchar(10)"` // up / down
	Magnitude float64    `json:"magnitude"`                         // 信号强度
	Summary   string     `json:"summary" gorm:"type:text"`          // 人类可读描述
	CreatedAt time.Time  `json:"createdAt"`
}

// LeaderboardEntry 榜单条目（最新一日的分数 + 模型信息）
type LeaderboardEntry struct {
	Model Model      `json:"model"`
	Score DailyScore `json:"score"`
}

// ScoreExportRow CSV 导出的一行（模型信息 + 当日分数与分量展开）
type ScoreExportRow struct {
	Slug       string
	Name       string
	Date       string
	Score      float64
	Components ScoreComponents
	Rank       int
}

// FeedEvent 推送给实时订阅方的更新事件。
//
// Type 为 score 时携带 Score，signal 时携带 Signal。
type FeedEvent struct {
	Type      string      `json:"type"` // score / signal
	ModelSlug string      `json:"modelSlug"`
	Date      string      `json:"date"`
	Score     *DailyScore `json:"score,omitempty"`
	Signal    *Signal     `json:"signal,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
