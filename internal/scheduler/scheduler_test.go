package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iabetor/snswatch/internal/checker"
	"github.com/iabetor/snswatch/internal/feed"
)

type fakeChecker struct {
	mu       sync.Mutex
	calls    map[string]int
	inflight map[string]int
	maxPar   map[string]int
	panicOn  string
	delay    time.Duration
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{
		calls:    make(map[string]int),
		inflight: make(map[string]int),
		maxPar:   make(map[string]int),
	}
}

func (f *fakeChecker) Check(ctx context.Context, src feed.TrackedSource) checker.Result {
	f.mu.Lock()
	f.calls[src.Key]++
	f.inflight[src.Key]++
	if f.inflight[src.Key] > f.maxPar[src.Key] {
		f.maxPar[src.Key] = f.inflight[src.Key]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight[src.Key]--
		f.mu.Unlock()
	}()

	if src.Key == f.panicOn {
		panic("check exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return checker.Result{State: checker.StateSkipped}
}

func (f *fakeChecker) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func sources(keys ...string) []feed.TrackedSource {
	out := make([]feed.TrackedSource, 0, len(keys))
	for _, k := range keys {
		out = append(out, feed.TrackedSource{Kind: feed.KindVideo, Key: k, URL: "https://example.com/" + k})
	}
	return out
}

// waitFor 轮询 cond 直到为真或超时。
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestStartOnlyOnce(t *testing.T) {
	s := New(newFakeChecker(), sources("a"), time.Hour)
	if s.State() != StateNotStarted {
		t.Fatalf("初始状态应为 NotStarted，实际 %s", s.State())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	defer s.Stop()

	if s.State() != StateRunning {
		t.Errorf("状态应为 Running，实际 %s", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotStartable) {
		t.Errorf("第二次 Start 应返回 ErrNotStartable，实际 %v", err)
	}
}

func TestImmediateFirstRun(t *testing.T) {
	fc := newFakeChecker()
	s := New(fc, sources("a", "b", "c"), time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	defer s.Stop()

	ok := waitFor(t, 2*time.Second, func() bool {
		return fc.count("a") == 1 && fc.count("b") == 1 && fc.count("c") == 1
	})
	if !ok {
		t.Errorf("每个订阅源应立即检查一次: a=%d b=%d c=%d", fc.count("a"), fc.count("b"), fc.count("c"))
	}
}

func TestPanicDoesNotStopOtherSources(t *testing.T) {
	fc := newFakeChecker()
	fc.panicOn = "bad"
	s := New(fc, sources("bad", "good"), time.Second)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}
	defer s.Stop()

	ok := waitFor(t, 5*time.Second, func() bool {
		return fc.count("bad") >= 2 && fc.count("good") >= 2
	})
	if !ok {
		t.Errorf("panic 之后两个订阅源都应继续执行: bad=%d good=%d", fc.count("bad"), fc.count("good"))
	}
}

func TestNoOverlappingCycles(t *testing.T) {
	fc := newFakeChecker()
	fc.delay = 1500 * time.Millisecond
	s := New(fc, sources("slow"), time.Second)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start 失败: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return fc.count("slow") >= 2 })
	s.Stop()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.maxPar["slow"] != 1 {
		t.Errorf("同一订阅源最多只能有一轮在执行，实际 %d", fc.maxPar["slow"])
	}
}

func TestRunWhenReady(t *testing.T) {
	fc := newFakeChecker()
	s := New(fc, sources("a"), time.Hour)
	ready := make(chan struct{})

	var done atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.RunWhenReady(context.Background(), ready)
		done.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	if done.Load() || s.State() != StateNotStarted || fc.count("a") != 0 {
		t.Fatal("就绪之前不应启动")
	}

	close(ready)
	if err := <-errCh; err != nil {
		t.Fatalf("RunWhenReady 失败: %v", err)
	}
	defer s.Stop()
	if s.State() != StateRunning {
		t.Errorf("就绪后状态应为 Running，实际 %s", s.State())
	}
}

func TestRunWhenReadyCanceled(t *testing.T) {
	s := New(newFakeChecker(), sources("a"), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.RunWhenReady(ctx, make(chan struct{})); !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled，实际 %v", err)
	}
	if s.State() != StateNotStarted {
		t.Errorf("取消后不应启动，实际 %s", s.State())
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := New(newFakeChecker(), sources("a"), time.Hour)
	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("状态应为 Stopped，实际 %s", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotStartable) {
		t.Errorf("停止后不应再启动，实际 %v", err)
	}
}
