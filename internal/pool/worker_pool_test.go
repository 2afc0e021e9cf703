package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_DrainsQueuedTasksOnStop(t *testing.T) {
	p := NewWorkerPool(2, 16)
	p.Start(context.Background())

	var done atomic.Int64
	for i := 0; i < 10; i++ {
		p.Submit(func() { done.Add(1) })
	}
	p.Stop()

	assert.Equal(t, int64(10), done.Load())
}

func TestWorkerPool_TrySubmit(t *testing.T) {
	p := NewWorkerPool(1, 2)

	// 未启动时任务只进队列
	require.True(t, p.TrySubmit(func() {}))
	require.True(t, p.TrySubmit(func() {}))
	assert.False(t, p.TrySubmit(func() {}))

	assert.Equal(t, 2, p.Depth())
	assert.Equal(t, 2, p.Cap())

	p.Start(context.Background())
	p.Stop()
	assert.Zero(t, p.Depth())
}

func TestWorkerPool_SurvivesPanickingTask(t *testing.T) {
	p := NewWorkerPool(1, 4)
	p.Start(context.Background())

	var done atomic.Int64
	p.Submit(func() { panic("boom") })
	p.Submit(func() { done.Add(1) })
	p.Stop()

	assert.Equal(t, int64(1), done.Load())
}
