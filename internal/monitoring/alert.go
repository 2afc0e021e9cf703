package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"viralindex/backend/internal/storage"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 一条运维告警。告警 ID 就是规则 ID，同一条规则在恢复
// 之前不会产生第二条记录。
type Alert struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Level      AlertLevel `json:"level"`
	Component  string     `json:"component"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AlertRule 告警规则。Condition 周期性求值，返回 true 触发告警，
// 恢复为 false 时告警自动解除。Cooldown 是持续触发期间重复通知
// 的最小间隔。
type AlertRule struct {
	ID        string
	Name      string
	Condition func() bool
	Level     AlertLevel
	Component string
	Message   string
	Cooldown  time.Duration
}

// AlertReceiver 告警接收端
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertManager 周期性评估规则，把触发和解除事件推给接收端
type AlertManager struct {
	mu        sync.Mutex
	rules     []AlertRule
	active    map[string]*Alert
	lastSent  map[string]time.Time
	receivers []AlertReceiver
	logger    *zap.Logger
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	return &AlertManager{
		active:   make(map[string]*Alert),
		lastSent: make(map[string]time.Time),
		logger:   logger,
	}
}

// AddReceiver 添加告警接收端
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// ActiveAlerts 当前未恢复的告警，按触发时间排序
func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	alerts := make([]Alert, 0, len(am.active))
	for _, alert := range am.active {
		alerts = append(alerts, *alert)
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
	return alerts
}

// CheckRules 评估一轮所有规则
func (am *AlertManager) CheckRules() {
	am.mu.Lock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.Unlock()

	for _, rule := range rules {
		if rule.Condition() {
			am.fire(rule)
		} else {
			am.clear(rule)
		}
	}
}

// fire 触发告警，已触发的按 Cooldown 决定是否重复通知
func (am *AlertManager) fire(rule AlertRule) {
	am.mu.Lock()
	alert, firing := am.active[rule.ID]
	if firing && time.Since(am.lastSent[rule.ID]) < rule.Cooldown {
		am.mu.Unlock()
		return
	}
	if !firing {
		alert = &Alert{
			ID:        rule.ID,
			Title:     rule.Name,
			Message:   rule.Message,
			Level:     rule.Level,
			Component: rule.Component,
			Timestamp: time.Now().UTC(),
		}
		am.active[rule.ID] = alert
	}
	am.lastSent[rule.ID] = time.Now()
	snapshot := *alert
	receivers := am.snapshotReceivers()
	am.mu.Unlock()

	if !firing {
		am.logger.Warn("ops alert firing",
			zap.String("alert_id", rule.ID),
			zap.String("level", string(rule.Level)),
			zap.String("component", rule.Component),
		)
	}
	am.dispatch(&snapshot, receivers)
}

// clear 条件恢复后解除告警并通知一次
func (am *AlertManager) clear(rule AlertRule) {
	am.mu.Lock()
	alert, firing := am.active[rule.ID]
	if !firing {
		am.mu.Unlock()
		return
	}
	delete(am.active, rule.ID)
	delete(am.lastSent, rule.ID)

	now := time.Now().UTC()
	alert.Resolved = true
	alert.ResolvedAt = &now
	snapshot := *alert
	receivers := am.snapshotReceivers()
	am.mu.Unlock()

	am.logger.Info("ops alert resolved", zap.String("alert_id", rule.ID))
	am.dispatch(&snapshot, receivers)
}

func (am *AlertManager) snapshotReceivers() []AlertReceiver {
	receivers := make([]AlertReceiver, len(am.receivers))
	copy(receivers, am.receivers)
	return receivers
}

func (am *AlertManager) dispatch(alert *Alert, receivers []AlertReceiver) {
	for _, receiver := range receivers {
		if err := receiver.SendAlert(alert); err != nil {
			am.logger.Error("failed to deliver ops alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
}

// StartMonitoring 启动评估循环。启动时立即评估一轮，之后按
// interval 周期执行，ctx 取消后退出。
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	am.CheckRules()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// ========== 内置告警规则 ==========

// HighMemoryUsageRule 高内存使用告警规则
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Condition: func() bool {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Alloc)/1024/1024 > thresholdMB
		},
		Level:     AlertLevelWarning,
		Component: "memory",
		Message:   fmt.Sprintf("Heap usage exceeds %.0f MB", thresholdMB),
		Cooldown:  5 * time.Minute,
	}
}

// DatabaseConnectionRule 存储连接告警规则
func DatabaseConnectionRule(store storage.Store) AlertRule {
	return AlertRule{
		ID:   "database_connection",
		Name: "Database Connection",
		Condition: func() bool {
			return store.Health() != nil
		},
		Level:     AlertLevelCritical,
		Component: "database",
		Message:   "Primary store health check failing",
		Cooldown:  1 * time.Minute,
	}
}

// DeliveryBacklogRule 告警投递队列积压告警规则。
//
// 队列长期接近满载说明投递跟不上摄入，之后新触发的
// webhook 会被直接记为失败。
func DeliveryBacklogRule(queue DeliveryQueue) AlertRule {
	return AlertRule{
		ID:   "alert_delivery_backlog",
		Name: "Alert Delivery Backlog",
		Condition: func() bool {
			capacity := queue.Cap()
			return capacity > 0 && queue.Depth()*5 >= capacity*4
		},
		Level:     AlertLevelWarning,
		Component: "alerts",
		Message:   "Alert delivery queue is above 80% capacity",
		Cooldown:  5 * time.Minute,
	}
}

// RateLimitStoreRule 限流存储告警规则。
//
// 计数存储不可达时付费层请求会被拒绝，需要第一时间知道。
func RateLimitStoreRule(store storage.Store) AlertRule {
	return AlertRule{
		ID:   "rate_limit_store",
		Name: "Rate Limit Store",
		Condition: func() bool {
			_, err := store.GetRateLimit("health:probe")
			return err != nil
		},
		Level:     AlertLevelCritical,
		Component: "rate_limit",
		Message:   "Rate limit store unreachable, paid tier requests are being rejected",
		Cooldown:  1 * time.Minute,
	}
}

// ========== 告警接收端实现 ==========

// LogAlertReceiver 把告警写进结构化日志
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收端
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 按告警级别写日志
func (r *LogAlertReceiver) SendAlert(alert *Alert) error {
	msg := "ALERT"
	if alert.Resolved {
		msg = "ALERT RESOLVED"
	}
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}

	switch alert.Level {
	case AlertLevelCritical:
		r.logger.Error(msg, fields...)
	case AlertLevelWarning:
		r.logger.Warn(msg, fields...)
	default:
		r.logger.Info(msg, fields...)
	}
	return nil
}

// WebhookAlertReceiver 把告警推送到运维 webhook
type WebhookAlertReceiver struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookAlertReceiver 创建 webhook 告警接收端
func NewWebhookAlertReceiver(url string, logger *zap.Logger) *WebhookAlertReceiver {
	return &WebhookAlertReceiver{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// SendAlert 发送告警到 webhook
func (r *WebhookAlertReceiver) SendAlert(alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}

	r.logger.Debug("alert sent to webhook",
		zap.String("url", r.url),
		zap.String("alert_id", alert.ID),
		zap.String("level", string(alert.Level)),
	)
	return nil
}
