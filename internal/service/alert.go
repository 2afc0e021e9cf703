package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"viralindex/backend/internal/cache"
	"viralindex/backend/internal/config"
	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/pool"
	"viralindex/backend/internal/security"
	"viralindex/backend/internal/storage"
)

var (
	ErrAlertRuleNotFound     = errors.New("alert rule not found")
	ErrAlertsNotAllowed      = errors.New("alert rules not available on current plan")
	ErrAlertRuleLimitReached = errors.New("alert rule limit reached")
	ErrInvalidAlertRule      = errors.New("invalid alert rule")
)

const (
	// maxDeliveryAttempts 单个事件的最大投递次数（含首次）
	maxDeliveryAttempts = 5
	// maxResponseBytes 投递响应的保存上限
	maxResponseBytes = 4 << 10

	activeRulesKey = "alerts:active"
)

// AlertService 告警服务
//
// 规则的增删改查、摄入时的规则评估、webhook 投递与重试。
// 投递走协程池异步执行，评估路径不等待网络。
type AlertService struct {
	store      storage.Store
	httpClient *http.Client
	targets    security.WebhookTargetPolicy
	workers    *pool.WorkerPool
	rules      *cache.LocalCache
}

// NewAlertService 创建告警服务
func NewAlertService(store storage.Store, cfg config.AlertsConfig) *AlertService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	return &AlertService{
		store: store,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		targets: security.WebhookTargetPolicy{AllowPrivate: cfg.AllowPrivateTargets},
		workers: pool.NewWorkerPool(workers, queueSize),
		rules:   cache.NewLocalCache(4, 30*time.Second),
	}
}

// Start 启动投递协程池
func (s *AlertService) Start(ctx context.Context) {
	s.workers.Start(ctx)
}

// DeliveryQueue 暴露投递队列的积压读数，供监控侧观察
func (s *AlertService) DeliveryQueue() *pool.WorkerPool {
	return s.workers
}

// Stop 停止投递协程池，等待在途投递完成
func (s *AlertService) Stop() {
	s.workers.Stop()
	s.rules.Stop()
}

// CreateAlertRuleInput 创建告警规则的输入参数
type CreateAlertRuleInput struct {
	UserID     string
	ModelSlug  string // 空串表示匹配全部模型
	Condition  domain.AlertCondition
	Threshold  float64
	SignalType domain.SignalType // 仅 signal 条件有效，空为全部类型
	TargetURL  string
}

// CreateRule 创建告警规则
//
// 告警能力按套餐开放，free 等级不可用，pro 有规则数量上限。
// 签名密钥只在这里返回一次。
//
// 返回值:
//   - *domain.AlertRule: 创建的规则
//   - string: 签名密钥，调用方展示一次后即丢弃
//   - error: 错误信息
func (s *AlertService) CreateRule(input CreateAlertRuleInput) (*domain.AlertRule, string, error) {
	user, err := s.store.GetUserByID(input.UserID)
	if err != nil {
		return nil, "", ErrUserNotFound
	}

	features := domain.FeaturesForTier(user.Tier)
	if !features.AlertRules {
		return nil, "", ErrAlertsNotAllowed
	}
	if features.MaxAlertRules >= 0 {
		count, err := s.store.CountActiveAlertRulesByUserID(input.UserID)
		if err != nil {
			return nil, "", err
		}
		if count >= features.MaxAlertRules {
			return nil, "", ErrAlertRuleLimitReached
		}
	}

	if !domain.ValidAlertCondition(input.Condition) {
		return nil, "", fmt.Errorf("%w: unknown condition %q", ErrInvalidAlertRule, input.Condition)
	}
	if err := s.validateTargetURL(input.TargetURL); err != nil {
		return nil, "", err
	}

	// 信号类型只对 signal 条件有意义
	signalType := domain.SignalType("")
	if input.Condition == domain.AlertOnSignal && input.SignalType != "" {
		if !domain.ValidSignalType(input.SignalType) {
			return nil, "", fmt.Errorf("%w: unknown signal type %q", ErrInvalidAlertRule, input.SignalType)
		}
		signalType = input.SignalType
	}

	modelID := ""
	if input.ModelSlug != "" {
		model, err := s.store.GetModelBySlug(input.ModelSlug)
		if err != nil {
			return nil, "", ErrModelNotFound
		}
		modelID = model.ID
	}

	secret := generateAlertSecret()
	now := time.Now().UTC()

	rule := &domain.AlertRule{
		ID:         uuid.New().String(),
		UserID:     input.UserID,
		ModelID:    modelID,
		Condition:  input.Condition,
		Threshold:  input.Threshold,
		SignalType: signalType,
		TargetURL:  input.TargetURL,
		Secret:     secret,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.SaveAlertRule(rule); err != nil {
		return nil, "", err
	}

	s.rules.Delete(activeRulesKey)
	return rule, secret, nil
}

// GetRule 获取告警规则详情
func (s *AlertService) GetRule(userID, id string) (*domain.AlertRule, error) {
	rule, err := s.store.GetAlertRule(id)
	if err != nil {
		return nil, ErrAlertRuleNotFound
	}
	if rule.UserID != userID {
		return nil, ErrPermissionDenied
	}
	return rule, nil
}

// ListRules 列出用户的所有告警规则
func (s *AlertService) ListRules(userID string) ([]*domain.AlertRule, error) {
	return s.store.ListAlertRulesByUserID(userID)
}

// UpdateAlertRuleInput 更新告警规则的输入参数
type UpdateAlertRuleInput struct {
	TargetURL string
	Threshold *float64
	IsActive  *bool
}

// UpdateRule 更新告警规则
func (s *AlertService) UpdateRule(userID, id string, input UpdateAlertRuleInput) (*domain.AlertRule, error) {
	rule, err := s.store.GetAlertRule(id)
	if err != nil {
		return nil, ErrAlertRuleNotFound
	}
	if rule.UserID != userID {
		return nil, ErrPermissionDenied
	}

	if input.TargetURL != "" {
		if err := s.validateTargetURL(input.TargetURL); err != nil {
			return nil, err
		}
		rule.TargetURL = input.TargetURL
	}
	if input.Threshold != nil {
		rule.Threshold = *input.Threshold
	}
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveAlertRule(rule); err != nil {
		return nil, err
	}

	s.rules.Delete(activeRulesKey)
	return rule, nil
}

// DeleteRule 删除告警规则及其投递记录
func (s *AlertService) DeleteRule(userID, id string) error {
	rule, err := s.store.GetAlertRule(id)
	if err != nil {
		return ErrAlertRuleNotFound
	}
	if rule.UserID != userID {
		return ErrPermissionDenied
	}

	if err := s.store.DeleteAlertRule(id); err != nil {
		return err
	}

	s.rules.Delete(activeRulesKey)
	return nil
}

// ListDeliveries 获取规则的投递记录
func (s *AlertService) ListDeliveries(userID, ruleID string, limit int) ([]domain.AlertDelivery, error) {
	rule, err := s.store.GetAlertRule(ruleID)
	if err != nil {
		return nil, ErrAlertRuleNotFound
	}
	if rule.UserID != userID {
		return nil, ErrPermissionDenied
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListAlertDeliveries(ruleID, limit)
}

// EvaluateScore 用一条新分数评估所有活跃规则
//
// 命中的规则生成事件并交给协程池投递，本方法不等待网络。
func (s *AlertService) EvaluateScore(model *domain.Model, score *domain.DailyScore) error {
	rules, err := s.activeRules()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if rule.ModelID != "" && rule.ModelID != model.ID {
			continue
		}

		hit := false
		switch rule.Condition {
		case domain.AlertScoreAbove:
			hit = score.Score > rule.Threshold
		case domain.AlertScoreBelow:
			hit = score.Score < rule.Threshold
		}
		if !hit {
			continue
		}

		event := domain.AlertEvent{
			ID:        uuid.New().String(),
			RuleID:    rule.ID,
			Condition: rule.Condition,
			ModelSlug: model.Slug,
			Date:      score.Date,
			Score:     score.Score,
			Timestamp: time.Now().UTC(),
		}
		s.enqueue(rule, event)
	}

	return nil
}

// EvaluateSignal 用一条新信号评估所有活跃规则
func (s *AlertService) EvaluateSignal(model *domain.Model, signal *domain.Signal) error {
	rules, err := s.activeRules()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if rule.Condition != domain.AlertOnSignal {
			continue
		}
		if rule.ModelID != "" && rule.ModelID != model.ID {
			continue
		}
		if rule.SignalType != "" && rule.SignalType != signal.Type {
			continue
		}

		event := domain.AlertEvent{
			ID:        uuid.New().String(),
			RuleID:    rule.ID,
			Condition: rule.Condition,
			ModelSlug: model.Slug,
			Date:      signal.Date,
			Signal:    signal,
			Timestamp: time.Now().UTC(),
		}
		s.enqueue(rule, event)
	}

	return nil
}

// RetryPendingDeliveries 重试到期的失败投递
//
// 由定时器周期调用。取出的记录已被存储层认领，本轮再失败会以
// 新记录与更长的退避间隔重新排期，最多 maxDeliveryAttempts 次。
func (s *AlertService) RetryPendingDeliveries() error {
	deliveries, err := s.store.GetPendingAlertDeliveries(10)
	if err != nil {
		return err
	}

	for _, delivery := range deliveries {
		rule, err := s.store.GetAlertRule(delivery.RuleID)
		if err != nil {
			// 规则已删除
			continue
		}
		if !rule.IsActive {
			continue
		}

		var event domain.AlertEvent
		if err := json.Unmarshal([]byte(delivery.Payload), &event); err != nil {
			continue
		}

		attempt := delivery.Attempts + 1
		snapshot := *rule
		s.workers.Submit(func() {
			s.deliver(&snapshot, event, attempt)
		})
	}

	return nil
}

// activeRules 取活跃规则，挡一层短缓存避免每条分数都查库
func (s *AlertService) activeRules() ([]*domain.AlertRule, error) {
	if v, ok := s.rules.Get(activeRulesKey); ok {
		if rules, ok := v.([]*domain.AlertRule); ok {
			return rules, nil
		}
	}

	rules, err := s.store.ListActiveAlertRules()
	if err != nil {
		return nil, err
	}

	s.rules.Set(activeRulesKey, rules, 0)
	return rules, nil
}

// enqueue 把命中事件交给协程池投递
//
// 队列满时不阻塞评估路径，记录一条待重试的投递让定时器补发。
func (s *AlertService) enqueue(rule *domain.AlertRule, event domain.AlertEvent) {
	snapshot := *rule
	submitted := s.workers.TrySubmit(func() {
		s.deliver(&snapshot, event, 1)
	})
	if submitted {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = s.store.RecordAlertDelivery(&domain.AlertDelivery{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Payload:   string(payload),
		Success:   false,
		Error:     "delivery queue full",
		Attempts:  1,
		NextRetry: nextRetryAt(1),
	})
}

// deliver 执行一次 webhook 投递并记录结果
func (s *AlertService) deliver(rule *domain.AlertRule, event domain.AlertEvent, attempt int) {
	delivery := &domain.AlertDelivery{
		ID:       uuid.New().String(),
		RuleID:   rule.ID,
		Attempts: attempt,
	}

	// 序列化 payload
	payload, err := json.Marshal(event)
	if err != nil {
		delivery.Success = false
		delivery.Error = fmt.Sprintf("failed to marshal payload: %v", err)
		_ = s.store.RecordAlertDelivery(delivery)
		return
	}
	delivery.Payload = string(payload)

	// 生成签名
	signature := signAlertPayload(payload, rule.Secret)

	// 发送 HTTP 请求
	startTime := time.Now()
	req, err := http.NewRequest(http.MethodPost, rule.TargetURL, bytes.NewReader(payload))
	if err != nil {
		delivery.Success = false
		delivery.Error = fmt.Sprintf("failed to create request: %v", err)
		delivery.Duration = time.Since(startTime).Milliseconds()
		_ = s.store.RecordAlertDelivery(delivery)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Signature", signature)
	req.Header.Set("X-Alert-Event", string(event.Condition))
	req.Header.Set("X-Alert-Delivery-ID", delivery.ID)

	resp, err := s.httpClient.Do(req)
	delivery.Duration = time.Since(startTime).Milliseconds()

	if err != nil {
		delivery.Success = false
		delivery.Error = fmt.Sprintf("failed to send request: %v", err)
		if attempt < maxDeliveryAttempts {
			delivery.NextRetry = nextRetryAt(attempt)
		}
		_ = s.store.RecordAlertDelivery(delivery)
		return
	}
	defer resp.Body.Close()

	delivery.StatusCode = resp.StatusCode

	// 读取响应，截断保存
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	delivery.Response = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		delivery.Success = true
	} else {
		delivery.Success = false
		delivery.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, delivery.Response)
		if attempt < maxDeliveryAttempts {
			delivery.NextRetry = nextRetryAt(attempt)
		}
	}

	_ = s.store.RecordAlertDelivery(delivery)
}

// validateTargetURL 按策略校验投递地址
func (s *AlertService) validateTargetURL(raw string) error {
	if err := s.targets.Check(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAlertRule, err)
	}
	return nil
}

// generateAlertSecret 生成签名密钥
func generateAlertSecret() string {
	return uuid.New().String()
}

// signAlertPayload 生成 HMAC-SHA256 签名
func signAlertPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// nextRetryAt 计算下次重试时间（指数退避）
func nextRetryAt(attempts int) *time.Time {
	// 重试间隔：1分钟、5分钟、15分钟、1小时、6小时
	intervals := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		1 * time.Hour,
		6 * time.Hour,
	}

	index := attempts - 1
	if index >= len(intervals) {
		return nil // 不再重试
	}

	nextRetry := time.Now().Add(intervals[index])
	return &nextRetry
}
