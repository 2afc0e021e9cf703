package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"viralindex/backend/internal/storage"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck 健康检查
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
}

// HealthReport 健康报告
type HealthReport struct {
	Status      HealthStatus  `json:"status"`
	Timestamp   time.Time     `json:"timestamp"`
	Uptime      time.Duration `json:"uptime"`
	Checks      []HealthCheck `json:"checks"`
	Version     string        `json:"version"`
	Environment string        `json:"environment"`
}

// DeliveryQueue 告警投递队列的积压读数
type DeliveryQueue interface {
	Depth() int
	Cap() int
}

// HealthChecker 健康检查器
type HealthChecker struct {
	store      storage.Store
	logger     *zap.Logger
	startTime  time.Time
	version    string
	env        string
	alertQueue DeliveryQueue
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger, version, env string) *HealthChecker {
	return &HealthChecker{
		store:     store,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
		env:       env,
	}
}

// ObserveAlertQueue 把告警投递队列纳入健康检查
func (hc *HealthChecker) ObserveAlertQueue(queue DeliveryQueue) {
	hc.alertQueue = queue
}

// CheckHealth 执行健康检查
func (hc *HealthChecker) CheckHealth() *HealthReport {
	report := &HealthReport{
		Timestamp:   time.Now(),
		Uptime:      time.Since(hc.startTime),
		Version:     hc.version,
		Environment: hc.env,
		Checks:      make([]HealthCheck, 0),
	}

	// 执行各项健康检查
	checks := []func() HealthCheck{
		hc.checkDatabase,
		hc.checkRateLimitStore,
		hc.checkMemory,
		hc.checkSystem,
	}
	if hc.alertQueue != nil {
		checks = append(checks, hc.checkAlertQueue)
	}

	overallStatus := HealthStatusHealthy

	for _, check := range checks {
		healthCheck := check()
		report.Checks = append(report.Checks, healthCheck)

		// 确定整体状态
		switch healthCheck.Status {
		case HealthStatusUnhealthy:
			overallStatus = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overallStatus != HealthStatusUnhealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}

	report.Status = overallStatus
	return report
}

// checkDatabase 检查数据库连接
func (hc *HealthChecker) checkDatabase() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "database",
		LastChecked: start,
	}

	// 检查数据库连接
	if err := hc.store.Health(); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("Database connection failed: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "Database connection is healthy"
	}

	check.Duration = time.Since(start)
	return check
}

// checkRateLimitStore 检查限流计数存储
func (hc *HealthChecker) checkRateLimitStore() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "rate_limit_store",
		LastChecked: start,
	}

	// 计数存储挂掉时付费层会被拒绝，状态降级
	if _, err := hc.store.GetRateLimit("health:probe"); err != nil {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("Rate limit store issue: %v", err)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = "Rate limit store is healthy"
	}

	check.Duration = time.Since(start)
	return check
}

// checkAlertQueue 检查告警投递队列积压
func (hc *HealthChecker) checkAlertQueue() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "alert_queue",
		LastChecked: start,
	}

	depth, capacity := hc.alertQueue.Depth(), hc.alertQueue.Cap()
	check.Message = fmt.Sprintf("Delivery backlog %d of %d", depth, capacity)

	// 队列接近满载时 webhook 投递会开始丢弃
	if capacity > 0 && depth*5 >= capacity*4 {
		check.Status = HealthStatusDegraded
	} else {
		check.Status = HealthStatusHealthy
	}

	check.Duration = time.Since(start)
	return check
}

// checkMemory 检查内存使用
func (hc *HealthChecker) checkMemory() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "memory",
		LastChecked: start,
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// 计算内存使用率
	memoryUsageMB := float64(m.Alloc) / 1024 / 1024
	memoryLimitMB := 1024.0 // 1GB 限制

	if memoryUsageMB > memoryLimitMB {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("High memory usage: %.2f MB", memoryUsageMB)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Memory usage: %.2f MB", memoryUsageMB)
	}

	check.Duration = time.Since(start)
	return check
}

// checkSystem 检查系统状态
func (hc *HealthChecker) checkSystem() HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        "system",
		LastChecked: start,
	}

	// 检查 Goroutine 数量
	numGoroutines := runtime.NumGoroutine()
	if numGoroutines > 1000 {
		check.Status = HealthStatusDegraded
		check.Message = fmt.Sprintf("High goroutine count: %d", numGoroutines)
	} else {
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("Goroutines: %d", numGoroutines)
	}

	check.Duration = time.Since(start)
	return check
}

// StartPeriodicHealthCheck 启动定期健康检查
func (hc *HealthChecker) StartPeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := hc.CheckHealth()

			// 记录健康状态
			if report.Status == HealthStatusUnhealthy {
				hc.logger.Error("System health check failed",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			} else if report.Status == HealthStatusDegraded {
				hc.logger.Warn("System health check degraded",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			} else {
				hc.logger.Debug("System health check passed",
					zap.String("status", string(report.Status)),
					zap.Duration("uptime", report.Uptime),
				)
			}
		}
	}
}
