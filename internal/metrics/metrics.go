// Package metrics 导出轮询与投递相关的 Prometheus 指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/iabetor/snswatch/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 一组指标及其注册表。nil 的 *Metrics 可以安全调用，所有方法为空操作。
type Metrics struct {
	registry   *prometheus.Registry
	cycles     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	commits    *prometheus.CounterVec
	lastCommit *prometheus.GaugeVec
}

// New 创建使用独立注册表的指标集合。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snswatch_cycles_total",
			Help: "Number of completed check cycles by source and final state",
		}, []string{"source", "state"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snswatch_deliveries_total",
			Help: "Number of delivery attempts by source and result",
		}, []string{"source", "result"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snswatch_commits_total",
			Help: "Number of dedup records written by source",
		}, []string{"source"}),
		lastCommit: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "snswatch_last_commit_timestamp_seconds",
			Help: "Unix time of the last successful dedup commit by source",
		}, []string{"source"}),
	}
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle 记录一次轮询的最终状态。
func (m *Metrics) ObserveCycle(source, state string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(source, state).Inc()
}

// ObserveDelivery 记录一次投递尝试，result 为 "ok" 或失败类别。
func (m *Metrics) ObserveDelivery(source, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(source, result).Inc()
}

// ObserveCommit 记录一次成功写入的去重记录。
func (m *Metrics) ObserveCommit(source string, at time.Time) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(source).Inc()
	m.lastCommit.WithLabelValues(source).Set(float64(at.Unix()))
}

// Serve 在 addr 上提供 /metrics，直到 ctx 结束。
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("[metrics] 指标服务监听于 %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
