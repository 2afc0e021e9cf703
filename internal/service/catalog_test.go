package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage/memory"
)

func newTestCatalogService(t *testing.T, store *memory.Store) *CatalogService {
	t.Helper()

	service := NewCatalogService(store, nil)
	t.Cleanup(service.Close)
	return service
}

func seedScore(t *testing.T, store *memory.Store, modelID, date string, score float64) {
	t.Helper()

	require.NoError(t, store.SaveDailyScore(&domain.DailyScore{
		ModelID: modelID,
		Date:    date,
		Score:   score,
		Components: domain.ScoreComponents{
			Market: score, News: score, Community: score, Dev: score, Quality: score,
		},
	}))
}

func TestCatalogService_Leaderboard(t *testing.T) {
	store := memory.NewStore()
	service := newTestCatalogService(t, store)

	seedModel(t, store, "m1", "chatgpt")
	seedModel(t, store, "m2", "gemini")
	seedScore(t, store, "m1", "2026-03-01", 80)
	seedScore(t, store, "m2", "2026-03-01", 90)
	seedScore(t, store, "m1", "2026-03-02", 85)

	t.Run("日期为空时取最新分数日期", func(t *testing.T) {
		entries, date, err := service.Leaderboard("", 0)

		require.NoError(t, err)
		assert.Equal(t, "2026-03-02", date)
		require.Len(t, entries, 1)
		assert.Equal(t, "chatgpt", entries[0].Model.Slug)
	})

	t.Run("指定日期按分数降序", func(t *testing.T) {
		entries, date, err := service.Leaderboard("2026-03-01", 0)

		require.NoError(t, err)
		assert.Equal(t, "2026-03-01", date)
		require.Len(t, entries, 2)
		assert.Equal(t, "gemini", entries[0].Model.Slug)
		assert.Equal(t, "chatgpt", entries[1].Model.Slug)
	})

	t.Run("limit 截取前 N 条", func(t *testing.T) {
		entries, _, err := service.Leaderboard("2026-03-01", 1)

		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "gemini", entries[0].Model.Slug)
	})

	t.Run("非法日期被拒绝", func(t *testing.T) {
		_, _, err := service.Leaderboard("03/01/2026", 0)

		assert.ErrorIs(t, err, ErrInvalidDate)
	})

	t.Run("没有任何分数时返回空榜单", func(t *testing.T) {
		empty := newTestCatalogService(t, memory.NewStore())

		entries, date, err := empty.Leaderboard("", 0)

		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Empty(t, date)
	})
}

func TestCatalogService_LeaderboardCaching(t *testing.T) {
	store := memory.NewStore()
	service := newTestCatalogService(t, store)

	seedModel(t, store, "m1", "chatgpt")
	seedScore(t, store, "m1", "2026-03-01", 80)

	entries, _, err := service.Leaderboard("2026-03-01", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// 缓存窗口内绕过存储，直接写库的新分数暂时不可见
	seedModel(t, store, "m2", "gemini")
	seedScore(t, store, "m2", "2026-03-01", 95)

	entries, _, err = service.Leaderboard("2026-03-01", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCatalogService_ScoreHistory(t *testing.T) {
	store := memory.NewStore()
	service := newTestCatalogService(t, store)
	seedModel(t, store, "m1", "chatgpt")

	today := time.Now().UTC().Format("2006-01-02")
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	seedScore(t, store, "m1", yesterday, 80)
	seedScore(t, store, "m1", today, 85)

	t.Run("默认窗口按日期升序", func(t *testing.T) {
		model, scores, err := service.ScoreHistory("chatgpt", 0)

		require.NoError(t, err)
		assert.Equal(t, "chatgpt", model.Slug)
		require.Len(t, scores, 2)
		assert.Equal(t, yesterday, scores[0].Date)
		assert.Equal(t, today, scores[1].Date)
	})

	t.Run("窗口只含最近 N 天", func(t *testing.T) {
		_, scores, err := service.ScoreHistory("chatgpt", 1)

		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, today, scores[0].Date)
	})

	t.Run("未知模型返回错误", func(t *testing.T) {
		_, _, err := service.ScoreHistory("missing", 0)

		assert.ErrorIs(t, err, ErrModelNotFound)
	})
}

func TestCatalogService_ListSignals(t *testing.T) {
	store := memory.NewStore()
	service := newTestCatalogService(t, store)

	seedModel(t, store, "m1", "chatgpt")
	seedModel(t, store, "m2", "gemini")
	seedScore(t, store, "m1", "2026-03-01", 80)
	require.NoError(t, store.SaveSignal(&domain.Signal{
		ModelID: "m1", Date: "2026-03-01", Type: domain.SignalDivergence, Direction: "down",
	}))
	require.NoError(t, store.SaveSignal(&domain.Signal{
		ModelID: "m2", Date: "2026-03-01", Type: domain.SignalQualityBacked, Direction: "up",
	}))

	t.Run("日期为空时取最新分数日期", func(t *testing.T) {
		signals, date, err := service.ListSignals("", "")

		require.NoError(t, err)
		assert.Equal(t, "2026-03-01", date)
		assert.Len(t, signals, 2)
	})

	t.Run("按模型过滤", func(t *testing.T) {
		signals, _, err := service.ListSignals("2026-03-01", "gemini")

		require.NoError(t, err)
		require.Len(t, signals, 1)
		assert.Equal(t, domain.SignalQualityBacked, signals[0].Type)
	})

	t.Run("未知模型返回错误", func(t *testing.T) {
		_, _, err := service.ListSignals("2026-03-01", "missing")

		assert.ErrorIs(t, err, ErrModelNotFound)
	})

	t.Run("非法日期被拒绝", func(t *testing.T) {
		_, _, err := service.ListSignals("2026/03/01", "")

		assert.ErrorIs(t, err, ErrInvalidDate)
	})
}

func TestCatalogService_ResolveExportRange(t *testing.T) {
	store := memory.NewStore()
	service := newTestCatalogService(t, store)

	seedModel(t, store, "m1", "chatgpt")
	seedScore(t, store, "m1", "2026-03-05", 80)

	t.Run("区间为空时取最新分数日期单日导出", func(t *testing.T) {
		from, to, err := service.ResolveExportRange("", "")

		require.NoError(t, err)
		assert.Equal(t, "2026-03-05", from)
		assert.Equal(t, "2026-03-05", to)
	})

	t.Run("只给结束日期时单日导出", func(t *testing.T) {
		from, to, err := service.ResolveExportRange("", "2026-03-01")

		require.NoError(t, err)
		assert.Equal(t, "2026-03-01", from)
		assert.Equal(t, "2026-03-01", to)
	})

	t.Run("显式区间原样返回", func(t *testing.T) {
		from, to, err := service.ResolveExportRange("2026-03-01", "2026-03-05")

		require.NoError(t, err)
		assert.Equal(t, "2026-03-01", from)
		assert.Equal(t, "2026-03-05", to)
	})

	t.Run("起始晚于结束被拒绝", func(t *testing.T) {
		_, _, err := service.ResolveExportRange("2026-03-06", "2026-03-05")

		assert.ErrorIs(t, err, ErrInvalidDateRange)
	})

	t.Run("超长区间被拒绝", func(t *testing.T) {
		_, _, err := service.ResolveExportRange("2024-01-01", "2026-03-05")

		assert.ErrorIs(t, err, ErrInvalidDateRange)
	})

	t.Run("非法日期被拒绝", func(t *testing.T) {
		_, _, err := service.ResolveExportRange("yesterday", "2026-03-05")
		assert.ErrorIs(t, err, ErrInvalidDate)

		_, _, err = service.ResolveExportRange("2026-03-01", "tomorrow")
		assert.ErrorIs(t, err, ErrInvalidDate)
	})

	t.Run("没有任何分数时返回空区间", func(t *testing.T) {
		empty := newTestCatalogService(t, memory.NewStore())

		from, to, err := empty.ResolveExportRange("", "")

		require.NoError(t, err)
		assert.Empty(t, from)
		assert.Empty(t, to)
	})
}

func TestCatalogService_ExportScores(t *testing.T) {
	store := memory.NewStore()
	service := newTestCatalogService(t, store)

	seedModel(t, store, "m1", "gemini")
	seedModel(t, store, "m2", "chatgpt")
	retired := &domain.Model{ID: "m3", Slug: "retired", Name: "retired", IsActive: false}
	require.NoError(t, store.SaveModel(retired))

	seedScore(t, store, "m1", "2026-03-01", 80)
	seedScore(t, store, "m2", "2026-03-01", 90)
	seedScore(t, store, "m3", "2026-03-01", 99)
	seedScore(t, store, "m1", "2026-03-02", 82)

	t.Run("按日期和 slug 排序且不含非活跃模型", func(t *testing.T) {
		rows := make([]domain.ScoreExportRow, 0)
		err := service.ExportScores("2026-03-01", "2026-03-02", func(row domain.ScoreExportRow) error {
			rows = append(rows, row)
			return nil
		})

		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "chatgpt", rows[0].Slug)
		assert.Equal(t, "2026-03-01", rows[0].Date)
		assert.Equal(t, "gemini", rows[1].Slug)
		assert.Equal(t, "2026-03-01", rows[1].Date)
		assert.Equal(t, "gemini", rows[2].Slug)
		assert.Equal(t, "2026-03-02", rows[2].Date)
		assert.Equal(t, 90.0, rows[0].Components.Market)
	})

	t.Run("回调报错时中断导出", func(t *testing.T) {
		boom := errors.New("client went away")
		seen := 0
		err := service.ExportScores("2026-03-01", "2026-03-02", func(domain.ScoreExportRow) error {
			seen++
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, seen)
	})

	t.Run("非法参数被拒绝", func(t *testing.T) {
		noop := func(domain.ScoreExportRow) error { return nil }

		assert.ErrorIs(t, service.ExportScores("", "2026-03-01", noop), ErrInvalidDate)
		assert.ErrorIs(t, service.ExportScores("2026-03-02", "2026-03-01", noop), ErrInvalidDateRange)
	})
}

func TestCatalogService_CountExportRows(t *testing.T) {
	store := memory.NewStore()
	service := newTestCatalogService(t, store)

	// 没有直连查询通道时无法预估
	assert.Equal(t, -1, service.CountExportRows("2026-03-01", "2026-03-02"))
}
