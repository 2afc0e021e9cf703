package service

import (
	"errors"
	"sort"
	"time"

	"viralindex/backend/internal/cache"
	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
	sqlstore "viralindex/backend/internal/storage/sql"
)

var (
	ErrModelNotFound    = errors.New("model not found")
	ErrInvalidDate      = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidDateRange = errors.New("invalid date range")
)

const (
	dateLayout = "2006-01-02"

	// catalogCacheTTL 进程内缓存时间。
	// 与共享缓存叠加后的最大陈旧度必须控制在 60 秒以内。
	catalogCacheTTL = 15 * time.Second

	defaultHistoryDays = 30
	maxHistoryDays     = 365
	maxExportRangeDays = 366
)

// CatalogService 榜单读取服务
//
// 模型目录、每日分数、信号的查询入口，榜单等热点读
// 挡一层进程内缓存。不做任何指数计算，分数全部来自 ingest。
type CatalogService struct {
	store    storage.Store
	local    *cache.LocalCache
	reporter *sqlstore.Reporter
}

// NewCatalogService 创建榜单读取服务
//
// 参数:
//   - store: 存储后端
//   - reporter: 导出专用的直连查询通道，可为 nil（退化为逐日扫描）
func NewCatalogService(store storage.Store, reporter *sqlstore.Reporter) *CatalogService {
	return &CatalogService{
		store:    store,
		local:    cache.NewLocalCache(256, catalogCacheTTL),
		reporter: reporter,
	}
}

// Close 释放本地缓存资源
func (s *CatalogService) Close() {
	s.local.Stop()
}

// ListModels 列出所有活跃模型
func (s *CatalogService) ListModels() ([]domain.Model, error) {
	if v, ok := s.local.Get("models:active"); ok {
		if models, ok := v.([]domain.Model); ok {
			return models, nil
		}
	}

	models, err := s.store.ListModels(true)
	if err != nil {
		return nil, err
	}

	s.local.Set("models:active", models, 0)
	return models, nil
}

// GetModelBySlug 按slug获取模型
func (s *CatalogService) GetModelBySlug(slug string) (*domain.Model, error) {
	model, err := s.store.GetModelBySlug(slug)
	if err != nil {
		if errors.Is(err, storage.ErrModelNotFound) {
			return nil, ErrModelNotFound
		}
		return nil, err
	}
	return model, nil
}

// Leaderboard 获取某日榜单
//
// date 为空时取最新有分数的日期。整张榜单进缓存，limit 在
// 缓存之后截取，避免不同 limit 的请求各自回源。
//
// 参数:
//   - date: 日期（YYYY-MM-DD），空串表示最新
//   - limit: 返回条数上限，0 表示全部
//
// 返回值:
//   - []domain.LeaderboardEntry: 按分数降序的榜单
//   - string: 实际使用的日期，无任何分数时为空串
//   - error: 错误信息
func (s *CatalogService) Leaderboard(date string, limit int) ([]domain.LeaderboardEntry, string, error) {
	var err error
	if date == "" {
		date, err = s.latestDate()
		if err != nil {
			return nil, "", err
		}
		if date == "" {
			return []domain.LeaderboardEntry{}, "", nil
		}
	} else if !validDate(date) {
		return nil, "", ErrInvalidDate
	}

	key := "leaderboard:" + date
	if v, ok := s.local.Get(key); ok {
		if entries, ok := v.([]domain.LeaderboardEntry); ok {
			return topEntries(entries, limit), date, nil
		}
	}

	entries, err := s.store.GetLeaderboard(date, 0)
	if err != nil {
		return nil, "", err
	}

	s.local.Set(key, entries, 0)
	return topEntries(entries, limit), date, nil
}

// ScoreHistory 获取模型最近days天的分数历史
//
// 参数:
//   - slug: 模型slug
//   - days: 窗口天数，0 取默认30天，上限365天
//
// 返回值:
//   - *domain.Model: 模型信息
//   - []domain.DailyScore: 按日期升序的分数
//   - error: 错误信息
func (s *CatalogService) ScoreHistory(slug string, days int) (*domain.Model, []domain.DailyScore, error) {
	model, err := s.GetModelBySlug(slug)
	if err != nil {
		return nil, nil, err
	}

	if days <= 0 {
		days = defaultHistoryDays
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}

	now := time.Now().UTC()
	to := now.Format(dateLayout)
	from := now.AddDate(0, 0, -(days - 1)).Format(dateLayout)

	scores, err := s.store.ListScores(model.ID, from, to)
	if err != nil {
		return nil, nil, err
	}

	return model, scores, nil
}

// ListSignals 列出某日的信号
//
// 参数:
//   - date: 日期（YYYY-MM-DD），空串表示最新分数日期
//   - slug: 模型slug，空串表示全部模型
//
// 返回值:
//   - []domain.Signal: 信号列表
//   - string: 实际使用的日期
//   - error: 错误信息
func (s *CatalogService) ListSignals(date, slug string) ([]domain.Signal, string, error) {
	var err error
	if date == "" {
		date, err = s.latestDate()
		if err != nil {
			return nil, "", err
		}
		if date == "" {
			return []domain.Signal{}, "", nil
		}
	} else if !validDate(date) {
		return nil, "", ErrInvalidDate
	}

	modelID := ""
	if slug != "" {
		model, err := s.GetModelBySlug(slug)
		if err != nil {
			return nil, "", err
		}
		modelID = model.ID
	}

	signals, err := s.store.ListSignalsByDate(date, modelID)
	if err != nil {
		return nil, "", err
	}

	return signals, date, nil
}

// ResolveExportRange 补全并校验导出日期区间
//
// to 为空取最新分数日期，from 为空取 to（单日导出）。
// 区间最长 maxExportRangeDays 天。
//
// 返回值:
//   - string: 起始日期
//   - string: 结束日期，无任何分数时两者均为空串
//   - error: 错误信息
func (s *CatalogService) ResolveExportRange(from, to string) (string, string, error) {
	if to == "" {
		latest, err := s.latestDate()
		if err != nil {
			return "", "", err
		}
		if latest == "" {
			return "", "", nil
		}
		to = latest
	} else if !validDate(to) {
		return "", "", ErrInvalidDate
	}

	if from == "" {
		from = to
	} else if !validDate(from) {
		return "", "", ErrInvalidDate
	}

	start, _ := time.Parse(dateLayout, from)
	end, _ := time.Parse(dateLayout, to)
	if start.After(end) {
		return "", "", ErrInvalidDateRange
	}
	if end.Sub(start) > maxExportRangeDays*24*time.Hour {
		return "", "", ErrInvalidDateRange
	}

	return from, to, nil
}

// CountExportRows 预估导出行数
//
// 只有直连查询通道可用时才能预估，否则返回 -1。
func (s *CatalogService) CountExportRows(from, to string) int {
	if s.reporter == nil {
		return -1
	}
	n, err := s.reporter.CountScores(from, to)
	if err != nil {
		return -1
	}
	return n
}

// ExportScores 流式导出区间内所有活跃模型的分数
//
// 行按 (日期, slug) 排序，逐行回调 fn，fn 返回错误时中断导出。
// 有直连查询通道时单条 SQL 流式读取，否则按日扫描存储接口。
//
// 参数:
//   - from: 起始日期（YYYY-MM-DD），必填
//   - to: 结束日期（YYYY-MM-DD），必填
//   - fn: 行回调
//
// 返回值:
//   - error: 错误信息
func (s *CatalogService) ExportScores(from, to string, fn func(domain.ScoreExportRow) error) error {
	if !validDate(from) || !validDate(to) {
		return ErrInvalidDate
	}

	start, _ := time.Parse(dateLayout, from)
	end, _ := time.Parse(dateLayout, to)
	if start.After(end) || end.Sub(start) > maxExportRangeDays*24*time.Hour {
		return ErrInvalidDateRange
	}

	if s.reporter != nil {
		return s.reporter.StreamScores(from, to, fn)
	}

	models, err := s.store.ListModels(true)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		scores, err := s.store.ListScoresByDate(d.Format(dateLayout))
		if err != nil {
			return err
		}

		// 存储层按分数降序返回，导出统一按 slug 排序保证稳定
		sort.Slice(scores, func(i, j int) bool {
			return byID[scores[i].ModelID].Slug < byID[scores[j].ModelID].Slug
		})

		for i := range scores {
			model, ok := byID[scores[i].ModelID]
			if !ok {
				// 非活跃模型不导出
				continue
			}
			row := domain.ScoreExportRow{
				Slug:       model.Slug,
				Name:       model.Name,
				Date:       scores[i].Date,
				Score:      scores[i].Score,
				Components: scores[i].Components,
				Rank:       scores[i].Rank,
			}
			if err := fn(row); err != nil {
				return err
			}
		}
	}

	return nil
}

// latestDate 解析最新有分数的日期，没有任何分数时返回空串
func (s *CatalogService) latestDate() (string, error) {
	date, err := s.store.LatestScoreDate()
	if err != nil {
		if errors.Is(err, storage.ErrScoreNotFound) {
			return "", nil
		}
		return "", err
	}
	return date, nil
}

// validDate 校验 YYYY-MM-DD 格式
func validDate(date string) bool {
	_, err := time.Parse(dateLayout, date)
	return err == nil
}

// topEntries 截取榜单前limit条，limit为0时返回全部
func topEntries(entries []domain.LeaderboardEntry, limit int) []domain.LeaderboardEntry {
	if limit > 0 && limit < len(entries) {
		return entries[:limit]
	}
	return entries
}
