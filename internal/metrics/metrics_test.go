package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveCycle("youtube", "Committed")
	m.ObserveCycle("youtube", "Committed")
	m.ObserveCycle("youtube", "Skipped")
	m.ObserveDelivery("youtube", "ok")
	m.ObserveDelivery("youtube", "forbidden")
	m.ObserveCommit("youtube", time.Unix(1700000000, 0))

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("youtube", "Committed")); got != 2 {
		t.Errorf("Committed 计数应为 2，实际 %v", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("youtube", "forbidden")); got != 1 {
		t.Errorf("forbidden 计数应为 1，实际 %v", got)
	}
	if got := testutil.ToFloat64(m.commits.WithLabelValues("youtube")); got != 1 {
		t.Errorf("commit 计数应为 1，实际 %v", got)
	}
	if got := testutil.ToFloat64(m.lastCommit.WithLabelValues("youtube")); got != 1700000000 {
		t.Errorf("最后提交时间不匹配: %v", got)
	}

	if n := testutil.CollectAndCount(m.cycles); n != 2 {
		t.Errorf("cycles 应有 2 个序列，实际 %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("a", "b")
	m.ObserveDelivery("a", "ok")
	m.ObserveCommit("a", time.Now())
	if m.Registry() != nil {
		t.Error("nil Metrics 的 Registry 应为 nil")
	}
}
