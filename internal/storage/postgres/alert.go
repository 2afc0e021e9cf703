package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

// ========== Alert Repository ==========

// SaveAlertRule 保存告警规则（ID 相同视为更新）
func (s *Store) SaveAlertRule(rule *domain.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	return s.db.Save(rule).Error
}

// GetAlertRule 根据ID获取告警规则
func (s *Store) GetAlertRule(id string) (*domain.AlertRule, error) {
	var rule domain.AlertRule
	err := s.db.Where("id = ?", id).First(&rule).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, storage.ErrAlertRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ListAlertRulesByUserID 列出用户的所有告警规则
func (s *Store) ListAlertRulesByUserID(userID string) ([]*domain.AlertRule, error) {
	var rules []*domain.AlertRule
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&rules).Error
	return rules, err
}

// ListActiveAlertRules 列出所有启用中的告警规则
func (s *Store) ListActiveAlertRules() ([]*domain.AlertRule, error) {
	var rules []*domain.AlertRule
	err := s.db.Where("is_active = ?", true).Find(&rules).Error
	return rules, err
}

// CountActiveAlertRulesByUserID 统计用户启用中的告警规则数量
func (s *Store) CountActiveAlertRulesByUserID(userID string) (int, error) {
	var count int64
	err := s.db.Model(&domain.AlertRule{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return int(count), err
}

// DeleteAlertRule 删除告警规则及其投递记录
func (s *Store) DeleteAlertRule(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// 删除投递记录
		if err := tx.Where("rule_id = ?", id).Delete(&domain.AlertDelivery{}).Error; err != nil {
			return err
		}

		// 删除规则
		result := tx.Where("id = ?", id).Delete(&domain.AlertRule{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrAlertRuleNotFound
		}

		return nil
	})
}

// RecordAlertDelivery 记录投递结果并刷新规则的最近状态
func (s *Store) RecordAlertDelivery(delivery *domain.AlertDelivery) error {
	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now().UTC()
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(delivery).Error; err != nil {
			return err
		}

		// 刷新规则的最近投递状态
		updates := map[string]interface{}{}
		if delivery.Success {
			updates["last_success"] = delivery.CreatedAt
			updates["last_error"] = ""
		} else {
			updates["last_error"] = delivery.Error
		}

		return tx.Model(&domain.AlertRule{}).
			Where("id = ?", delivery.RuleID).
			Updates(updates).Error
	})
}

// ListAlertDeliveries 获取规则的投递记录（新到旧）
func (s *Store) ListAlertDeliveries(ruleID string, limit int) ([]domain.AlertDelivery, error) {
	var deliveries []domain.AlertDelivery
	err := s.db.
		Where("rule_id = ?", ruleID).
		Order("created_at DESC").
		Limit(limit).
		Find(&deliveries).Error
	return deliveries, err
}

// GetPendingAlertDeliveries 认领到期的待重试投递
//
// 取出即认领：被取走的记录会清空 next_retry，重试产生的
// 新投递记录自带下一次的重试时间。
func (s *Store) GetPendingAlertDeliveries(limit int) ([]domain.AlertDelivery, error) {
	var deliveries []domain.AlertDelivery

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("success = ? AND next_retry IS NOT NULL AND next_retry <= ?", false, time.Now().UTC()).
			Order("next_retry ASC").
			Limit(limit).
			Find(&deliveries).Error; err != nil {
			return err
		}

		if len(deliveries) == 0 {
			return nil
		}

		ids := make([]string, 0, len(deliveries))
		for _, delivery := range deliveries {
			ids = append(ids, delivery.ID)
		}

		return tx.Model(&domain.AlertDelivery{}).
			Where("id IN ?", ids).
			Update("next_retry", nil).Error
	})

	return deliveries, err
}
