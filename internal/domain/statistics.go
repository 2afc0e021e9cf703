package domain

// SystemStatistics 系统统计信息
type SystemStatistics struct {
	TotalUsers    int              `json:"totalUsers"`
	ActiveUsers   int              `json:"activeUsers"`
	TotalAPIKeys  int              `json:"totalApiKeys"`
	ActiveAPIKeys int              `json:"activeApiKeys"`
	TotalModels   int              `json:"totalModels"`
	ActiveRules   int              `json:"activeRules"`
	UsersByTier   map[UserTier]int `json:"usersByTier"`
	UsersByRole   map[UserRole]int `json:"usersByRole"`
}

// UsageStatistics 某日各等级的请求量（来自网关计数，尽力而为）
type UsageStatistics struct {
	Date           string           `json:"date"` // YYYY-MM-DD
	RequestsByTier map[UserTier]int `json:"requestsByTier"`
	Blocked        int              `json:"blocked"` // 被限流拒绝的请求数
}
