package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 网关指标
	GatewayRequests *prometheus.CounterVec

	// 榜单与写入指标
	ScoresIngested  prometheus.Counter
	SignalsIngested prometheus.Counter
	ModelsActive    prometheus.Gauge
	ExportRows      prometheus.Counter

	// 告警投递指标
	AlertDeliveries *prometheus.CounterVec

	// 账号与密钥指标
	UsersRegistered prometheus.Counter
	APIKeysIssued   prometheus.Counter
	APIKeysRevoked  prometheus.Counter

	// WebSocket 指标
	WSConnections prometheus.Gauge
	WSEventsSent  prometheus.Counter

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge
	RedisConnections    prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标，注册到独立的 Registry 上
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viralindex_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "viralindex_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "viralindex_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "viralindex_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 网关指标，outcome 为 allowed/rate_limited/unauthorized
		GatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viralindex_gateway_requests_total",
				Help: "Gateway requests by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),

		// 榜单与写入指标
		ScoresIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_scores_ingested_total",
				Help: "Total number of daily scores accepted by the ingest API",
			},
		),

		SignalsIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_signals_ingested_total",
				Help: "Total number of trend signals accepted by the ingest API",
			},
		),

		ModelsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viralindex_models_active",
				Help: "Number of active models on the leaderboard",
			},
		),

		ExportRows: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_export_rows_total",
				Help: "Total number of rows streamed by CSV exports",
			},
		),

		// 告警投递指标
		AlertDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viralindex_alert_deliveries_total",
				Help: "Alert webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),

		// 账号与密钥指标
		UsersRegistered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_users_registered_total",
				Help: "Total number of users registered",
			},
		),

		APIKeysIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_api_keys_issued_total",
				Help: "Total number of API keys issued",
			},
		),

		APIKeysRevoked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_api_keys_revoked_total",
				Help: "Total number of API keys revoked",
			},
		),

		// WebSocket 指标
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viralindex_ws_connections",
				Help: "Number of open WebSocket connections",
			},
		),

		WSEventsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_ws_events_sent_total",
				Help: "Total number of events pushed to WebSocket clients",
			},
		),

		// 系统指标
		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viralindex_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viralindex_database_connections",
				Help: "Number of acquired database connections",
			},
		),

		RedisConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "viralindex_redis_connections",
				Help: "Number of open Redis connections",
			},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viralindex_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "viralindex_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// Registry 返回指标注册表，健康检查的指标也挂在上面
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordGatewayRequest 记录网关判定结果
func (m *Metrics) RecordGatewayRequest(tier string, status int) {
	if tier == "" {
		tier = "anonymous"
	}

	outcome := "allowed"
	switch status {
	case http.StatusTooManyRequests:
		outcome = "rate_limited"
	case http.StatusUnauthorized:
		outcome = "unauthorized"
	}

	m.GatewayRequests.WithLabelValues(tier, outcome).Inc()
}

// AddScoresIngested 累计写入的分数条数
func (m *Metrics) AddScoresIngested(n int) {
	if n > 0 {
		m.ScoresIngested.Add(float64(n))
	}
}

// AddSignalsIngested 累计写入的信号条数
func (m *Metrics) AddSignalsIngested(n int) {
	if n > 0 {
		m.SignalsIngested.Add(float64(n))
	}
}

// AddExportRows 累计导出的行数
func (m *Metrics) AddExportRows(n int) {
	if n > 0 {
		m.ExportRows.Add(float64(n))
	}
}

// UpdateModelsActive 更新活跃模型数
func (m *Metrics) UpdateModelsActive(count int) {
	m.ModelsActive.Set(float64(count))
}

// RecordAlertDelivery 记录一次告警投递结果
func (m *Metrics) RecordAlertDelivery(delivered bool) {
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	m.AlertDeliveries.WithLabelValues(outcome).Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	m.UsersRegistered.Inc()
}

// RecordAPIKeyIssued 记录密钥签发
func (m *Metrics) RecordAPIKeyIssued() {
	m.APIKeysIssued.Inc()
}

// RecordAPIKeyRevoked 记录密钥吊销
func (m *Metrics) RecordAPIKeyRevoked() {
	m.APIKeysRevoked.Inc()
}

// WSConnectionOpened 记录 WebSocket 连接建立
func (m *Metrics) WSConnectionOpened() {
	m.WSConnections.Inc()
}

// WSConnectionClosed 记录 WebSocket 连接断开
func (m *Metrics) WSConnectionClosed() {
	m.WSConnections.Dec()
}

// RecordWSEvent 记录一次 WebSocket 推送
func (m *Metrics) RecordWSEvent() {
	m.WSEventsSent.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// UpdateRedisConnections 更新 Redis 连接数
func (m *Metrics) UpdateRedisConnections(count int) {
	m.RedisConnections.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
