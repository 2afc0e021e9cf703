package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

// ========== Catalog Repository ==========

// SaveModel 保存模型（ID 相同视为更新）
func (s *Store) SaveModel(model *domain.Model) error {
	if model.ID == "" {
		return fmt.Errorf("model ID is required")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		// 检查 slug 是否被其他模型占用
		var existing domain.Model
		err := tx.Where("slug = ? AND id != ?", model.Slug, model.ID).First(&existing).Error
		if err == nil {
			return fmt.Errorf("model slug already exists")
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		now := time.Now().UTC()
		if model.CreatedAt.IsZero() {
			model.CreatedAt = now
		}
		model.UpdatedAt = now

		return tx.Save(model).Error
	})
}

// GetModel 根据ID获取模型
func (s *Store) GetModel(id string) (*domain.Model, error) {
	var model domain.Model
	err := s.db.Where("id = ?", id).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrModelNotFound
		}
		return nil, err
	}
	return &model, nil
}

// GetModelBySlug 根据slug获取模型
func (s *Store) GetModelBySlug(slug string) (*domain.Model, error) {
	var model domain.Model
	err := s.db.Where("slug = ?", slug).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrModelNotFound
		}
		return nil, err
	}
	return &model, nil
}

// ListModels 列出模型，activeOnly 为 true 时只返回上架模型
func (s *Store) ListModels(activeOnly bool) ([]domain.Model, error) {
	query := s.db.Model(&domain.Model{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var models []domain.Model
	err := query.Order("slug").Find(&models).Error
	return models, err
}

// SaveDailyScore 保存每日分数，同一 (model, date) 重复写入按覆盖处理
func (s *Store) SaveDailyScore(score *domain.DailyScore) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// 检查模型是否存在
		var model domain.Model
		if err := tx.Where("id = ?", score.ModelID).First(&model).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return storage.ErrModelNotFound
			}
			return err
		}

		if score.ID == "" {
			score.ID = uuid.New().String()
		}

		now := time.Now().UTC()
		if score.CreatedAt.IsZero() {
			score.CreatedAt = now
		}
		score.UpdatedAt = now

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "components", "rank", "updated_at"}),
		}).Create(score).Error
	})
}

// GetLatestScore 获取模型最近一日的分数
func (s *Store) GetLatestScore(modelID string) (*domain.DailyScore, error) {
	var score domain.DailyScore
	err := s.db.Where("model_id = ?", modelID).Order("date DESC").First(&score).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrScoreNotFound
		}
		return nil, err
	}
	return &score, nil
}

// ListScores 列出模型在时间范围内的分数，from/to 为空表示不限
func (s *Store) ListScores(modelID, from, to string) ([]domain.DailyScore, error) {
	query := s.db.Where("model_id = ?", modelID)
	if from != "" {
		query = query.Where("date >= ?", from)
	}
	if to != "" {
		query = query.Where("date <= ?", to)
	}

	var scores []domain.DailyScore
	err := query.Order("date ASC").Find(&scores).Error
	return scores, err
}

// ListScoresByDate 列出某日全部模型的分数（按分数降序）
func (s *Store) ListScoresByDate(date string) ([]domain.DailyScore, error) {
	var scores []domain.DailyScore
	err := s.db.Where("date = ?", date).Order("score DESC, model_id").Find(&scores).Error
	return scores, err
}

// LatestScoreDate 返回全表最新的分数日期
func (s *Store) LatestScoreDate() (string, error) {
	var latest sql.NullString
	row := s.db.Model(&domain.DailyScore{}).Select("MAX(date)").Row()
	if err := row.Scan(&latest); err != nil {
		return "", err
	}
	if !latest.Valid || latest.String == "" {
		return "", storage.ErrScoreNotFound
	}
	return latest.String, nil
}

// GetLeaderboard 获取某日榜单（只含上架模型，按分数降序）
func (s *Store) GetLeaderboard(date string, limit int) ([]domain.LeaderboardEntry, error) {
	var scores []domain.DailyScore
	query := s.db.Table("daily_scores").
		Select("daily_scores.*").
		Joins("JOIN models ON models.id = daily_scores.model_id").
		Where("daily_scores.date = ? AND models.is_active = ?", date, true).
		Order("daily_scores.score DESC, models.slug")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&scores).Error; err != nil {
		return nil, err
	}

	if len(scores) == 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	// 批量取回模型信息
	modelIDs := make([]string, 0, len(scores))
	for _, score := range scores {
		modelIDs = append(modelIDs, score.ModelID)
	}

	var models []domain.Model
	if err := s.db.Where("id IN ?", modelIDs).Find(&models).Error; err != nil {
		return nil, err
	}

	modelByID := make(map[string]domain.Model, len(models))
	for _, model := range models {
		modelByID[model.ID] = model
	}

	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for _, score := range scores {
		model, ok := modelByID[score.ModelID]
		if !ok {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			Model: model,
			Score: score,
		})
	}

	return entries, nil
}

// SaveSignal 保存信号，同一 (model, date, type) 重复写入按覆盖处理
func (s *Store) SaveSignal(signal *domain.Signal) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// 检查模型是否存在
		var model domain.Model
		if err := tx.Where("id = ?", signal.ModelID).First(&model).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return storage.ErrModelNotFound
			}
			return err
		}

		if signal.ID == "" {
			signal.ID = uuid.New().String()
		}
		if signal.CreatedAt.IsZero() {
			signal.CreatedAt = time.Now().UTC()
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model_id"}, {Name: "date"}, {Name: "signal_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"direction", "magnitude", "summary"}),
		}).Create(signal).Error
	})
}

// ListSignalsByDate 列出某日的信号，modelID 非空时只看单个模型
func (s *Store) ListSignalsByDate(date, modelID string) ([]domain.Signal, error) {
	query := s.db.Where("date = ?", date)
	if modelID != "" {
		query = query.Where("model_id = ?", modelID)
	}

	var signals []domain.Signal
	err := query.Order("model_id, signal_type").Find(&signals).Error
	return signals, err
}
