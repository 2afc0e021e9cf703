package service

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage/memory"
)

// feedRecorder 记录退化直发的实时事件
type feedRecorder struct {
	mu     sync.Mutex
	events []*domain.FeedEvent
}

func (r *feedRecorder) BroadcastFeedEvent(event *domain.FeedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *feedRecorder) snapshot() []*domain.FeedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.FeedEvent(nil), r.events...)
}

func newTestIngestService(t *testing.T, store *memory.Store) (*IngestService, *feedRecorder) {
	t.Helper()

	feed := &feedRecorder{}
	return NewIngestService(store, newTestAlertService(t, store), feed), feed
}

func TestIngestService_PushModels(t *testing.T) {
	store := memory.NewStore()
	service, _ := newTestIngestService(t, store)

	t.Run("新模型默认活跃", func(t *testing.T) {
		result, err := service.PushModels([]IngestModelEntry{
			{Slug: "chatgpt", Name: "ChatGPT", Vendor: "OpenAI"},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Accepted)
		assert.Empty(t, result.Rejected)

		model, err := store.GetModelBySlug("chatgpt")
		require.NoError(t, err)
		assert.NotEmpty(t, model.ID)
		assert.Equal(t, "ChatGPT", model.Name)
		assert.Equal(t, "OpenAI", model.Vendor)
		assert.True(t, model.IsActive)
	})

	t.Run("slug 已存在时原地更新", func(t *testing.T) {
		before, err := store.GetModelBySlug("chatgpt")
		require.NoError(t, err)

		inactive := false
		result, err := service.PushModels([]IngestModelEntry{
			{Slug: "chatgpt", Name: "ChatGPT 5", Vendor: "OpenAI", IsActive: &inactive},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Accepted)

		after, err := store.GetModelBySlug("chatgpt")
		require.NoError(t, err)
		assert.Equal(t, before.ID, after.ID)
		assert.Equal(t, "ChatGPT 5", after.Name)
		assert.False(t, after.IsActive)
	})

	t.Run("缺少必填字段的条目被拒绝", func(t *testing.T) {
		result, err := service.PushModels([]IngestModelEntry{
			{Slug: "", Name: "Nameless"},
			{Slug: "gemini", Name: ""},
			{Slug: "claude", Name: "Claude"},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Accepted)
		assert.Equal(t, []string{"", "gemini"}, result.Rejected)
	})
}

func TestIngestService_PushScores(t *testing.T) {
	store := memory.NewStore()
	service, feed := newTestIngestService(t, store)

	seedModel(t, store, "m1", "chatgpt")
	seedModel(t, store, "m2", "gemini")

	t.Run("混合批次逐条判定", func(t *testing.T) {
		result, err := service.PushScores(IngestScoresInput{
			Date: "2026-03-01",
			Scores: []IngestScoreEntry{
				{Slug: "chatgpt", Score: 88.5, Components: domain.ScoreComponents{Market: 90}, Rank: 1},
				{Slug: "gemini", Score: 120.5},
				{Slug: "unknown", Score: 50},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Accepted)
		assert.Equal(t, []string{"gemini", "unknown"}, result.Rejected)

		scores, err := store.ListScores("m1", "2026-03-01", "2026-03-01")
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, 88.5, scores[0].Score)
		assert.Equal(t, 90.0, scores[0].Components.Market)
	})

	t.Run("同日重放覆盖而不是追加", func(t *testing.T) {
		result, err := service.PushScores(IngestScoresInput{
			Date:   "2026-03-01",
			Scores: []IngestScoreEntry{{Slug: "chatgpt", Score: 91}},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Accepted)

		scores, err := store.ListScores("m1", "2026-03-01", "2026-03-01")
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, 91.0, scores[0].Score)
	})

	t.Run("负分被拒绝", func(t *testing.T) {
		result, err := service.PushScores(IngestScoresInput{
			Date:   "2026-03-02",
			Scores: []IngestScoreEntry{{Slug: "chatgpt", Score: -0.5}},
		})

		require.NoError(t, err)
		assert.Zero(t, result.Accepted)
		assert.Equal(t, []string{"chatgpt"}, result.Rejected)
	})

	t.Run("非法日期整体拒绝", func(t *testing.T) {
		_, err := service.PushScores(IngestScoresInput{
			Date:   "03-01-2026",
			Scores: []IngestScoreEntry{{Slug: "chatgpt", Score: 50}},
		})

		assert.ErrorIs(t, err, ErrInvalidDate)
	})

	t.Run("落库条目产生实时事件", func(t *testing.T) {
		events := feed.snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, "score", events[0].Type)
		assert.Equal(t, "chatgpt", events[0].ModelSlug)
		assert.Equal(t, "2026-03-01", events[0].Date)
		require.NotNil(t, events[0].Score)
		assert.Equal(t, 88.5, events[0].Score.Score)
	})
}

func TestIngestService_PushScoresTriggersAlerts(t *testing.T) {
	store := memory.NewStore()
	alerts := newTestAlertService(t, store)
	service := NewIngestService(store, alerts, nil)

	seedUser(t, store, "pro-user")
	seedModel(t, store, "m1", "chatgpt")
	sink, server := newWebhookSink(t, http.StatusOK)

	_, _, err := alerts.CreateRule(CreateAlertRuleInput{
		UserID:    "pro-user",
		Condition: domain.AlertScoreAbove,
		Threshold: 90,
		TargetURL: server.URL,
	})
	require.NoError(t, err)

	result, err := service.PushScores(IngestScoresInput{
		Date:   "2026-03-01",
		Scores: []IngestScoreEntry{{Slug: "chatgpt", Score: 95.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "score_above", sink.last().event)
}

func TestIngestService_PushSignals(t *testing.T) {
	store := memory.NewStore()
	service, feed := newTestIngestService(t, store)

	seedModel(t, store, "m1", "chatgpt")

	t.Run("混合批次逐条判定", func(t *testing.T) {
		result, err := service.PushSignals(IngestSignalsInput{
			Date: "2026-03-01",
			Signals: []IngestSignalEntry{
				{Slug: "chatgpt", Type: domain.SignalDivergence, Direction: "up", Magnitude: 4.2, Summary: "social buzz outpacing quality"},
				{Slug: "chatgpt", Type: "weird"},
				{Slug: "chatgpt", Type: domain.SignalDivergence, Direction: "sideways"},
				{Slug: "unknown", Type: domain.SignalDivergence},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Accepted)
		assert.Equal(t, []string{"chatgpt", "chatgpt", "unknown"}, result.Rejected)

		signals, err := store.ListSignalsByDate("2026-03-01", "m1")
		require.NoError(t, err)
		require.Len(t, signals, 1)
		assert.Equal(t, domain.SignalDivergence, signals[0].Type)
		assert.Equal(t, "up", signals[0].Direction)
		assert.Equal(t, 4.2, signals[0].Magnitude)
	})

	t.Run("非法日期整体拒绝", func(t *testing.T) {
		_, err := service.PushSignals(IngestSignalsInput{
			Date:    "2026/03/01",
			Signals: []IngestSignalEntry{{Slug: "chatgpt", Type: domain.SignalDivergence}},
		})

		assert.ErrorIs(t, err, ErrInvalidDate)
	})

	t.Run("落库条目产生实时事件", func(t *testing.T) {
		events := feed.snapshot()
		require.Len(t, events, 1)
		assert.Equal(t, "signal", events[0].Type)
		assert.Equal(t, "chatgpt", events[0].ModelSlug)
		require.NotNil(t, events[0].Signal)
		assert.Equal(t, domain.SignalDivergence, events[0].Signal.Type)
	})
}
