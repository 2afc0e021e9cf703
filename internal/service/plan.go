package service

import (
	"time"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/storage"
)

// planCacheTTL 套餐解析结果的缓存时间
//
// 等级变更最迟在这个窗口后生效；管理端写路径会主动清缓存，
// 通常立即生效。
const planCacheTTL = 30 * time.Second

// PlanService 套餐解析服务
//
// 把持有者ID解析成订阅等级，给限流和功能门槛用。
// 解析永远有结果：查不到用户、存储故障、等级非法一律按 free 处理，
// 宁可少给配额也不放大故障。
type PlanService struct {
	store storage.Store
}

// NewPlanService 创建套餐解析服务
func NewPlanService(store storage.Store) *PlanService {
	return &PlanService{
		store: store,
	}
}

// Resolve 解析持有者的订阅等级
//
// 参数:
//   - ownerID: 持有者ID，空串视为匿名
//
// 返回值:
//   - domain.UserTier: 解析出的等级，任何失败都返回 free
func (s *PlanService) Resolve(ownerID string) domain.UserTier {
	if ownerID == "" {
		return domain.TierFree
	}

	// 先查缓存
	if tier, err := s.store.GetCachedPlan(ownerID); err == nil && domain.ValidTier(tier) {
		return tier
	}

	user, err := s.store.GetUserByID(ownerID)
	if err != nil {
		// 解析失败按 free 处理，但不写缓存，避免把瞬时故障钉住30秒
		return domain.TierFree
	}

	tier := user.Tier
	if !user.IsActive || !domain.ValidTier(tier) {
		tier = domain.TierFree
	}

	// 回填缓存，失败不影响本次解析
	_ = s.store.CachePlan(ownerID, tier, planCacheTTL)

	return tier
}
