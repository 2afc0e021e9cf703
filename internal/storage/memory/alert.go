package memory

import (
	"sort"
	"time"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

// ========== Alert Repository ==========

// SaveAlertRule 保存告警规则（新建或更新）
func (s *Store) SaveAlertRule(rule *domain.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.alertRules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	s.alertRules[rule.ID] = rule

	return nil
}

// GetAlertRule 根据 ID 获取告警规则
func (s *Store) GetAlertRule(id string) (*domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.alertRules[id]
	if !ok {
		return nil, storage.ErrAlertRuleNotFound
	}

	return rule, nil
}

// ListAlertRulesByUserID 列出用户的全部告警规则
func (s *Store) ListAlertRulesByUserID(userID string) ([]*domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AlertRule, 0)
	for _, rule := range s.alertRules {
		if rule.UserID == userID {
			result = append(result, rule)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// ListActiveAlertRules 列出所有启用中的告警规则
func (s *Store) ListActiveAlertRules() ([]*domain.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AlertRule, 0)
	for _, rule := range s.alertRules {
		if rule.IsActive {
			result = append(result, rule)
		}
	}

	return result, nil
}

// CountActiveAlertRulesByUserID 统计用户启用中的规则数量
func (s *Store) CountActiveAlertRulesByUserID(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rule := range s.alertRules {
		if rule.UserID == userID && rule.IsActive {
			count++
		}
	}

	return count, nil
}

// DeleteAlertRule 删除告警规则
func (s *Store) DeleteAlertRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alertRules[id]; !ok {
		return storage.ErrAlertRuleNotFound
	}

	delete(s.alertRules, id)
	delete(s.deliveries, id)

	return nil
}

// RecordAlertDelivery 记录一次投递结果
func (s *Store) RecordAlertDelivery(delivery *domain.AlertDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now()
	}

	// 存储投递记录
	if s.deliveries[delivery.RuleID] == nil {
		s.deliveries[delivery.RuleID] = make([]*domain.AlertDelivery, 0)
	}
	s.deliveries[delivery.RuleID] = append(s.deliveries[delivery.RuleID], delivery)

	// 限制最多保存 100 条记录
	if len(s.deliveries[delivery.RuleID]) > 100 {
		s.deliveries[delivery.RuleID] = s.deliveries[delivery.RuleID][1:]
	}

	// 如果需要重试，加入重试队列
	if !delivery.Success && delivery.NextRetry != nil {
		s.retryQueue = append(s.retryQueue, delivery)
	}

	// 更新规则状态
	rule := s.alertRules[delivery.RuleID]
	if rule != nil {
		if delivery.Success {
			now := time.Now()
			rule.LastSuccess = &now
			rule.LastError = ""
		} else {
			rule.LastError = delivery.Error
		}
		rule.UpdatedAt = time.Now()
	}

	return nil
}

// ListAlertDeliveries 获取最近的投递记录（新到旧）
func (s *Store) ListAlertDeliveries(ruleID string, limit int) ([]domain.AlertDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deliveries := s.deliveries[ruleID]
	if deliveries == nil {
		return []domain.AlertDelivery{}, nil
	}

	// 返回最近的 N 条记录
	start := 0
	if len(deliveries) > limit {
		start = len(deliveries) - limit
	}

	result := make([]domain.AlertDelivery, 0, limit)
	for i := len(deliveries) - 1; i >= start; i-- {
		result = append(result, *deliveries[i])
	}

	return result, nil
}

// GetPendingAlertDeliveries 取出到期待重试的投递
func (s *Store) GetPendingAlertDeliveries(limit int) ([]domain.AlertDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	result := make([]domain.AlertDelivery, 0)
	newQueue := make([]*domain.AlertDelivery, 0)

	for _, delivery := range s.retryQueue {
		if delivery.NextRetry != nil && delivery.NextRetry.Before(now) {
			// 可以重试
			if len(result) < limit {
				result = append(result, *delivery)
			} else {
				newQueue = append(newQueue, delivery)
			}
		} else {
			// 还未到重试时间
			newQueue = append(newQueue, delivery)
		}
	}

	s.retryQueue = newQueue
	return result, nil
}
