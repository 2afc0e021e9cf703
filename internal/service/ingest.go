package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

// FeedBroadcaster 进程内的实时推送出口
type FeedBroadcaster interface {
	BroadcastFeedEvent(event *domain.FeedEvent)
}

// IngestService ETL 推送服务
//
// 接收协作方离线计算好的模型、分数与信号，按 (model, date)
// 幂等落库。分数落库后顺带评估告警规则、发布实时事件，两者
// 都是尽力而为，失败不影响摄入结果。
type IngestService struct {
	store  storage.Store
	alerts *AlertService
	feed   FeedBroadcaster
}

// NewIngestService 创建 ETL 推送服务
//
// 参数:
//   - store: 存储后端
//   - alerts: 告警服务，分数与信号落库后触发评估
//   - feed: 进程内推送出口，存储层不支持发布订阅时的退路，可为 nil
func NewIngestService(store storage.Store, alerts *AlertService, feed FeedBroadcaster) *IngestService {
	return &IngestService{
		store:  store,
		alerts: alerts,
		feed:   feed,
	}
}

// IngestResult 批量推送结果
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Rejected []string `json:"rejected,omitempty"` // 被拒绝条目的 slug
}

// IngestModelEntry 单个模型条目
type IngestModelEntry struct {
	Slug     string `json:"slug" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Vendor   string `json:"vendor"`
	IsActive *bool  `json:"isActive"`
}

// PushModels 批量维护模型目录
//
// slug 已存在则更新，不存在则创建。
func (s *IngestService) PushModels(entries []IngestModelEntry) (*IngestResult, error) {
	result := &IngestResult{}

	for _, entry := range entries {
		if entry.Slug == "" || entry.Name == "" {
			result.Rejected = append(result.Rejected, entry.Slug)
			continue
		}

		now := time.Now().UTC()

		model, err := s.store.GetModelBySlug(entry.Slug)
		switch {
		case err == nil:
			model.Name = entry.Name
			model.Vendor = entry.Vendor
			if entry.IsActive != nil {
				model.IsActive = *entry.IsActive
			}
			model.UpdatedAt = now
		case errors.Is(err, storage.ErrModelNotFound):
			active := true
			if entry.IsActive != nil {
				active = *entry.IsActive
			}
			model = &domain.Model{
				ID:        uuid.New().String(),
				Slug:      entry.Slug,
				Name:      entry.Name,
				Vendor:    entry.Vendor,
				IsActive:  active,
				CreatedAt: now,
				UpdatedAt: now,
			}
		default:
			return nil, fmt.Errorf("lookup model %s: %w", entry.Slug, err)
		}

		if err := s.store.SaveModel(model); err != nil {
			return nil, fmt.Errorf("save model %s: %w", entry.Slug, err)
		}
		result.Accepted++
	}

	return result, nil
}

// IngestScoreEntry 单条分数
type IngestScoreEntry struct {
	Slug       string                 `json:"slug" binding:"required"`
	Score      float64                `json:"score"`
	Components domain.ScoreComponents `json:"components"`
	Rank       int                    `json:"rank"`
}

// IngestScoresInput 分数批量推送
type IngestScoresInput struct {
	Date   string             `json:"date" binding:"required"`
	Scores []IngestScoreEntry `json:"scores" binding:"required,min=1"`
}

// PushScores 批量写入某日分数
//
// 未识别的 slug 与越界分数进入 Rejected，不中断其余条目；
// 存储故障则整体失败，ETL 侧按幂等语义重放即可。
func (s *IngestService) PushScores(input IngestScoresInput) (*IngestResult, error) {
	if !validDate(input.Date) {
		return nil, ErrInvalidDate
	}

	result := &IngestResult{}

	for _, entry := range input.Scores {
		if entry.Score < 0 || entry.Score > 100 {
			result.Rejected = append(result.Rejected, entry.Slug)
			continue
		}

		model, err := s.store.GetModelBySlug(entry.Slug)
		if err != nil {
			result.Rejected = append(result.Rejected, entry.Slug)
			continue
		}

		score := &domain.DailyScore{
			ModelID:    model.ID,
			Date:       input.Date,
			Score:      entry.Score,
			Components: entry.Components,
			Rank:       entry.Rank,
		}
		if err := s.store.SaveDailyScore(score); err != nil {
			return nil, fmt.Errorf("save score for %s: %w", entry.Slug, err)
		}
		result.Accepted++

		// 评估与推送不影响摄入结果
		_ = s.alerts.EvaluateScore(model, score)
		s.publish(&domain.FeedEvent{
			Type:      "score",
			ModelSlug: model.Slug,
			Date:      input.Date,
			Score:     score,
			Timestamp: time.Now().UTC(),
		})
	}

	return result, nil
}

// IngestSignalEntry 单条信号
type IngestSignalEntry struct {
	Slug      string            `json:"slug" binding:"required"`
	Type      domain.SignalType `json:"type" binding:"required"`
	Direction string            `json:"direction"`
	Magnitude float64           `json:"magnitude"`
	Summary   string            `json:"summary"`
}

// IngestSignalsInput 信号批量推送
type IngestSignalsInput struct {
	Date    string              `json:"date" binding:"required"`
	Signals []IngestSignalEntry `json:"signals" binding:"required,min=1"`
}

// PushSignals 批量写入某日信号
func (s *IngestService) PushSignals(input IngestSignalsInput) (*IngestResult, error) {
	if !validDate(input.Date) {
		return nil, ErrInvalidDate
	}

	result := &IngestResult{}

	for _, entry := range input.Signals {
		if !domain.ValidSignalType(entry.Type) {
			result.Rejected = append(result.Rejected, entry.Slug)
			continue
		}
		if entry.Direction != "" && entry.Direction != "up" && entry.Direction != "down" {
			result.Rejected = append(result.Rejected, entry.Slug)
			continue
		}

		model, err := s.store.GetModelBySlug(entry.Slug)
		if err != nil {
			result.Rejected = append(result.Rejected, entry.Slug)
			continue
		}

		signal := &domain.Signal{
			ModelID:   model.ID,
			Date:      input.Date,
			Type:      entry.Type,
			Direction: entry.Direction,
			Magnitude: entry.Magnitude,
			Summary:   entry.Summary,
		}
		if err := s.store.SaveSignal(signal); err != nil {
			return nil, fmt.Errorf("save signal for %s: %w", entry.Slug, err)
		}
		result.Accepted++

		_ = s.alerts.EvaluateSignal(model, signal)
		s.publish(&domain.FeedEvent{
			Type:      "signal",
			ModelSlug: model.Slug,
			Date:      input.Date,
			Signal:    signal,
			Timestamp: time.Now().UTC(),
		})
	}

	return result, nil
}

// publish 发布实时事件
//
// 优先走存储层的发布订阅（跨实例），内存模式不支持时
// 退化为进程内直发。
func (s *IngestService) publish(event *domain.FeedEvent) {
	if err := s.store.PublishFeedEvent(event); err != nil {
		if s.feed != nil {
			s.feed.BroadcastFeedEvent(event)
		}
	}
}
