// Package scheduler 按固定间隔为每个订阅源运行一次更新检查。
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iabetor/snswatch/internal/checker"
	"github.com/iabetor/snswatch/internal/feed"
	"github.com/iabetor/snswatch/internal/logger"
	"github.com/robfig/cron/v3"
)

// State 调度器状态。
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

var ErrNotStartable = errors.New("调度器只能启动一次")

// Checker 执行单个订阅源的一次检查。
type Checker interface {
	Check(ctx context.Context, src feed.TrackedSource) checker.Result
}

// Scheduler 为每个订阅源注册一个独立的周期任务。
// 同一订阅源的检查不会重叠：超时的一轮会推迟下一轮，而不是并行执行。
type Scheduler struct {
	checker  Checker
	sources  []feed.TrackedSource
	interval time.Duration

	mu     sync.Mutex
	state  State
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建调度器，interval 小于等于 0 时使用 5 分钟。
func New(c Checker, sources []feed.TrackedSource, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		checker:  c,
		sources:  sources,
		interval: interval,
	}
}

// State 返回当前状态。
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start 注册所有订阅源的任务并立即执行第一轮检查。只能成功调用一次。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted {
		return ErrNotStartable
	}

	cl := cronLogger{}
	chain := cron.NewChain(cron.Recover(cl), cron.DelayIfStillRunning(cl))
	s.cron = cron.New(cron.WithLogger(cl))
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, src := range s.sources {
		job := chain.Then(s.job(src))
		s.cron.Schedule(cron.Every(s.interval), job)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}

	s.cron.Start()
	s.state = StateRunning
	logger.Infof("[scheduler] 已启动 %d 个订阅源的检查任务，间隔 %s", len(s.sources), s.interval)
	return nil
}

// RunWhenReady 等待投递端就绪后启动调度器。ctx 先结束时返回 ctx 的错误。
func (s *Scheduler) RunWhenReady(ctx context.Context, ready <-chan struct{}) error {
	logger.Infof("[scheduler] 等待投递端就绪...")
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Start(ctx)
}

// Stop 停止调度并等待正在执行的检查结束。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Infof("[scheduler] 已停止")
}

func (s *Scheduler) job(src feed.TrackedSource) cron.Job {
	return cron.FuncJob(func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		res := s.checker.Check(s.ctx, src)
		logger.Debugf("[scheduler] %s: 本轮结束 %s，耗时 %s", src.Key, res.State, time.Since(start).Round(time.Millisecond))
	})
}

// cronLogger 把 cron 的内部日志转到全局 logger。
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugw("[cron] "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorw("[cron] "+msg, append(keysAndValues, "error", err)...)
}
