package monitoring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingReceiver struct {
	mu     sync.Mutex
	events []Alert
}

func (r *recordingReceiver) SendAlert(alert *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *alert)
	return nil
}

func (r *recordingReceiver) snapshot() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.events...)
}

func TestAlertManager_FireAndResolve(t *testing.T) {
	am := NewAlertManager(zap.NewNop())
	rec := &recordingReceiver{}
	am.AddReceiver(rec)

	firing := true
	am.AddRule(AlertRule{
		ID:        "test_rule",
		Name:      "Test Rule",
		Condition: func() bool { return firing },
		Level:     AlertLevelWarning,
		Component: "test",
		Message:   "something is off",
		Cooldown:  time.Hour,
	})

	am.CheckRules()
	active := am.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "test_rule", active[0].ID)
	assert.Equal(t, "Test Rule", active[0].Title)
	assert.False(t, active[0].Resolved)
	require.Len(t, rec.snapshot(), 1)

	// 冷却期内持续触发不重复通知
	am.CheckRules()
	assert.Len(t, rec.snapshot(), 1)
	assert.Len(t, am.ActiveAlerts(), 1)

	// 条件恢复后解除，并把解除事件通知一次
	firing = false
	am.CheckRules()
	assert.Empty(t, am.ActiveAlerts())

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.True(t, events[1].Resolved)
	require.NotNil(t, events[1].ResolvedAt)

	// 解除之后再触发是一条新告警
	firing = true
	am.CheckRules()
	require.Len(t, am.ActiveAlerts(), 1)
	assert.Len(t, rec.snapshot(), 3)
}

func TestAlertManager_ZeroCooldownRenotifies(t *testing.T) {
	am := NewAlertManager(zap.NewNop())
	rec := &recordingReceiver{}
	am.AddReceiver(rec)

	am.AddRule(AlertRule{
		ID:        "noisy_rule",
		Name:      "Noisy Rule",
		Condition: func() bool { return true },
		Level:     AlertLevelInfo,
		Component: "test",
		Message:   "still going",
	})

	am.CheckRules()
	am.CheckRules()

	// 每轮都重复通知，但活跃告警只有一条
	assert.Len(t, rec.snapshot(), 2)
	assert.Len(t, am.ActiveAlerts(), 1)
}

type fakeQueue struct {
	depth    int
	capacity int
}

func (q fakeQueue) Depth() int { return q.depth }
func (q fakeQueue) Cap() int   { return q.capacity }

func TestDeliveryBacklogRule(t *testing.T) {
	assert.True(t, DeliveryBacklogRule(fakeQueue{depth: 8, capacity: 10}).Condition())
	assert.True(t, DeliveryBacklogRule(fakeQueue{depth: 10, capacity: 10}).Condition())
	assert.False(t, DeliveryBacklogRule(fakeQueue{depth: 7, capacity: 10}).Condition())
	assert.False(t, DeliveryBacklogRule(fakeQueue{depth: 0, capacity: 0}).Condition())
}
