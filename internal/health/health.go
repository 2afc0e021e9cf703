package health

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"viralindex/backend/internal/storage"
)

// Probes 进程存活与就绪探针。
//
// 存活探针只看进程自身，后端依赖挂掉不应触发重启，
// 所以数据库和限流存储都挂在就绪探针上。
type Probes struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewProbes 创建健康检查器。
//
// registry 不为 nil 时探针结果同时以指标形式暴露。
func NewProbes(store storage.Store, registry prometheus.Registerer, logger *zap.Logger) *Probes {
	var handler healthcheck.Handler
	if registry != nil {
		handler = healthcheck.NewMetricsHandler(registry, "viralindex")
	} else {
		handler = healthcheck.NewHandler()
	}

	hc := &Probes{
		health: handler,
		store:  store,
		logger: logger,
	}

	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *Probes) addChecks() {
	// 存活：goroutine 数量异常通常意味着泄漏
	hc.health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(2000))

	// 就绪：主存储可达
	hc.health.AddReadinessCheck("store", func() error {
		return hc.store.Health()
	})

	// 就绪：限流计数存储可达
	hc.health.AddReadinessCheck("rate-limit-store", func() error {
		_, err := hc.store.GetRateLimit("health:probe")
		return err
	})
}

// Handler 返回健康检查处理器，挂载 /live 与 /ready
func (hc *Probes) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活探针入口
func (hc *Probes) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪探针入口
func (hc *Probes) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}
