// Package metrics 拆分路由服务的Prometheus指标
// 每个实例持有独立的Registry，测试中可以并行创建互不干扰
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "split_router"

// Metrics 服务指标集合
// 所有方法对nil接收者安全，未启用监控时直接传nil即可
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec   // 分片决策，按决策路径
	thresholdCache  *prometheus.CounterVec   // 阈值缓存命中/未命中/失败
	quoteCache      *prometheus.CounterVec   // 报价缓存命中/未命中
	quoterRequests  *prometheus.CounterVec   // 报价服务调用，按接口和结果
	quoterDuration  *prometheus.HistogramVec // 报价服务耗时
	batchItems      *prometheus.CounterVec   // 批量项结果
	httpRequests    *prometheus.CounterVec   // HTTP请求数
	httpDuration    *prometheus.HistogramVec // HTTP请求耗时
	amountOutErrors prometheus.Counter       // 不可执行结果数
}

// New 创建并注册全部指标
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_count_decisions_total",
			Help:      "Part-count decisions grouped by outcome.",
		}, []string{"outcome"}),
		thresholdCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_cache_lookups_total",
			Help:      "Threshold cache lookups grouped by result.",
		}, []string{"result"}),
		quoteCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_cache_lookups_total",
			Help:      "Quote result cache lookups grouped by result.",
		}, []string{"result"}),
		quoterRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quoter_requests_total",
			Help:      "Calls to the remote quoting service.",
		}, []string{"endpoint", "status"}),
		quoterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quoter_request_duration_seconds",
			Help:      "Latency of remote quoting service calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items grouped by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the API.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		amountOutErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_out_errors_total",
			Help:      "Swap results flagged as not executable.",
		}),
	}

	registry.MustRegister(
		m.decisions, m.thresholdCache, m.quoteCache,
		m.quoterRequests, m.quoterDuration, m.batchItems,
		m.httpRequests, m.httpDuration, m.amountOutErrors,
	)
	return m
}

// Registry 返回底层Registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision 记录一次分片决策
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObserveThresholdLookup 记录阈值缓存查询: hit / miss / error
func (m *Metrics) ObserveThresholdLookup(result string) {
	if m == nil {
		return
	}
	m.thresholdCache.WithLabelValues(result).Inc()
}

// ObserveQuoteCache 记录报价缓存查询
func (m *Metrics) ObserveQuoteCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.quoteCache.WithLabelValues(result).Inc()
}

// ObserveQuoterCall 记录一次报价服务调用
func (m *Metrics) ObserveQuoterCall(endpoint string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.quoterRequests.WithLabelValues(endpoint, status).Inc()
	m.quoterDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveBatchItem 记录批量项结果
func (m *Metrics) ObserveBatchItem(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.batchItems.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest 记录HTTP请求
func (m *Metrics) ObserveHTTPRequest(route, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObserveAmountOutError 记录不可执行结果
func (m *Metrics) ObserveAmountOutError() {
	if m == nil {
		return
	}
	m.amountOutErrors.Inc()
}
