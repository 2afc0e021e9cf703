package memory

import (
	"errors"
	"sort"
	"time"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

// ========== Catalog Repository ==========

// SaveModel 保存模型（按 ID 幂等写入）
func (s *Store) SaveModel(model *domain.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if model.ID == "" {
		return errors.New("model ID is required")
	}

	// slug 不能被其他模型占用
	if existingID, ok := s.bySlug[model.Slug]; ok && existingID != model.ID {
		return errors.New("model slug already exists")
	}

	now := time.Now().UTC()
	if existing, ok := s.models[model.ID]; ok {
		// 更新时保留创建时间，清理旧 slug 索引
		model.CreatedAt = existing.CreatedAt
		if existing.Slug != model.Slug {
			delete(s.bySlug, existing.Slug)
		}
	} else if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now

	s.models[model.ID] = model
	s.bySlug[model.Slug] = model.ID

	return nil
}

// GetModel 根据 ID 获取模型
func (s *Store) GetModel(id string) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	model, ok := s.models[id]
	if !ok {
		return nil, storage.ErrModelNotFound
	}

	return model, nil
}

// GetModelBySlug 根据 slug 获取模型
func (s *Store) GetModelBySlug(slug string) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySlug[slug]
	if !ok {
		return nil, storage.ErrModelNotFound
	}

	model, ok := s.models[id]
	if !ok {
		return nil, storage.ErrModelNotFound
	}

	return model, nil
}

// ListModels 返回全部模型的快照
func (s *Store) ListModels(activeOnly bool) ([]domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Model, 0, len(s.models))
	for _, model := range s.models {
		if activeOnly && !model.IsActive {
			continue
		}
		result = append(result, *model)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Slug < result[j].Slug
	})

	return result, nil
}

// SaveDailyScore 保存每日分数（按 model+date 幂等写入）
func (s *Store) SaveDailyScore(score *domain.DailyScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[score.ModelID]; !ok {
		return storage.ErrModelNotFound
	}

	byDate, ok := s.scores[score.ModelID]
	if !ok {
		byDate = make(map[string]*domain.DailyScore)
		s.scores[score.ModelID] = byDate
	}

	now := time.Now().UTC()
	if existing, ok := byDate[score.Date]; ok {
		// 重放覆盖旧值，保留原始 ID 与创建时间
		score.ID = existing.ID
		score.CreatedAt = existing.CreatedAt
	} else if score.CreatedAt.IsZero() {
		score.CreatedAt = now
	}
	score.UpdatedAt = now

	byDate[score.Date] = score

	return nil
}

// GetLatestScore 获取模型最近一日的分数
func (s *Store) GetLatestScore(modelID string) (*domain.DailyScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate, ok := s.scores[modelID]
	if !ok || len(byDate) == 0 {
		return nil, storage.ErrScoreNotFound
	}

	var latest *domain.DailyScore
	for _, score := range byDate {
		if latest == nil || score.Date > latest.Date {
			latest = score
		}
	}

	return latest, nil
}

// ListScores 获取模型在 [from, to] 区间内的分数，按日期升序
func (s *Store) ListScores(modelID, from, to string) ([]domain.DailyScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DailyScore, 0)
	for date, score := range s.scores[modelID] {
		if from != "" && date < from {
			continue
		}
		if to != "" && date > to {
			continue
		}
		result = append(result, *score)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})

	return result, nil
}

// ListScoresByDate 获取某日全部模型的分数，按分数降序
func (s *Store) ListScoresByDate(date string) ([]domain.DailyScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DailyScore, 0)
	for _, byDate := range s.scores {
		if score, ok := byDate[date]; ok {
			result = append(result, *score)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].ModelID < result[j].ModelID
	})

	return result, nil
}

// LatestScoreDate 返回有分数数据的最近日期
func (s *Store) LatestScoreDate() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := ""
	for _, byDate := range s.scores {
		for date := range byDate {
			if date > latest {
				latest = date
			}
		}
	}

	if latest == "" {
		return "", storage.ErrScoreNotFound
	}

	return latest, nil
}

// GetLeaderboard 获取某日榜单（仅含激活模型），按分数降序
func (s *Store) GetLeaderboard(date string, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.LeaderboardEntry, 0)
	for modelID, byDate := range s.scores {
		score, ok := byDate[date]
		if !ok {
			continue
		}
		model, ok := s.models[modelID]
		if !ok || !model.IsActive {
			continue
		}
		result = append(result, domain.LeaderboardEntry{
			Model: *model,
			Score: *score,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score.Score != result[j].Score.Score {
			return result[i].Score.Score > result[j].Score.Score
		}
		return result[i].Model.Slug < result[j].Model.Slug
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// SaveSignal 保存信号（按 model+date+type 幂等写入）
func (s *Store) SaveSignal(signal *domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[signal.ModelID]; !ok {
		return storage.ErrModelNotFound
	}

	key := signalKey(signal.ModelID, signal.Date, signal.Type)
	if existing, ok := s.signals[key]; ok {
		signal.ID = existing.ID
		signal.CreatedAt = existing.CreatedAt
	} else if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}

	s.signals[key] = signal

	return nil
}

// ListSignalsByDate 获取某日的信号，modelID 为空表示全部模型
func (s *Store) ListSignalsByDate(date, modelID string) ([]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Signal, 0)
	for _, signal := range s.signals {
		if signal.Date != date {
			continue
		}
		if modelID != "" && signal.ModelID != modelID {
			continue
		}
		result = append(result, *signal)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ModelID != result[j].ModelID {
			return result[i].ModelID < result[j].ModelID
		}
		return result[i].Type < result[j].Type
	})

	return result, nil
}

// signalKey 信号的组合索引键
func signalKey(modelID, date string, signalType domain.SignalType) string {
	return modelID + ":" + date + ":" + string(signalType)
}
