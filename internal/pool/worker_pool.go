package pool

import (
	"context"
	"sync"
)

// WorkerPool 固定大小的后台任务协程池
//
// 投递类任务的执行器：生产方把闭包排进队列，固定数量的
// 工作协程顺序消费。队列长度就是允许的积压上限。
type WorkerPool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - size: 工作协程数
//   - queueSize: 任务队列长度
func NewWorkerPool(size, queueSize int) *WorkerPool {
	return &WorkerPool{
		size:  size,
		tasks: make(chan func(), queueSize),
	}
}

// Start 启动工作协程
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Submit 提交任务，队列满时阻塞等待空位
func (p *WorkerPool) Submit(task func()) {
	p.tasks <- task
}

// TrySubmit 提交任务，队列满时立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Depth 当前排队中的任务数
func (p *WorkerPool) Depth() int {
	return len(p.tasks)
}

// Cap 任务队列容量
func (p *WorkerPool) Cap() int {
	return cap(p.tasks)
}

// Stop 关闭队列并等待已入队任务执行完
func (p *WorkerPool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}

// run 工作协程主循环
func (p *WorkerPool) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			safeRun(task)
		}
	}
}

// safeRun 单个任务的 panic 不能带垮整个池子
func safeRun(task func()) {
	defer func() {
		_ = recover()
	}()
	task()
}
