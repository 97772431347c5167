// Package checker 实现单个订阅源的一次更新检查：
// 抓取 → 提取标识 → 与去重记录比较 → 投递 → 投递成功后提交记录。
package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iabetor/snswatch/internal/dedup"
	"github.com/iabetor/snswatch/internal/feed"
	"github.com/iabetor/snswatch/internal/logger"
	"github.com/iabetor/snswatch/internal/metrics"
	"github.com/iabetor/snswatch/internal/notify"
)

var (
	ErrUnknownKind  = errors.New("未知的订阅源类型")
	ErrFetch        = errors.New("抓取订阅源失败")
	ErrEmptyFeed    = errors.New("订阅源为空")
	ErrNoIdentifier = errors.New("条目没有可用标识")
	ErrNoDelivery   = errors.New("没有任何目标投递成功")
	ErrCommit       = errors.New("写入去重记录失败")
)

// Fetcher 订阅源抓取端，返回的条目最新在前。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Entry, error)
}

// Result 一次检查的结果。
type Result struct {
	State     State
	ID        string
	Delivered int
	Failed    int
	Err       error
}

// Checker 更新检查器。不同订阅源可以并发调用 Check，
// 同一订阅源的检查不能重叠（由调度器保证）。
type Checker struct {
	fetcher Fetcher
	sink    notify.Sink
	store   dedup.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option 配置 Checker。
type Option func(*Checker)

// WithMetrics 设置指标收集。
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// New 创建检查器。
func New(fetcher Fetcher, sink notify.Sink, store dedup.Store, opts ...Option) *Checker {
	c := &Checker{
		fetcher: fetcher,
		sink:    sink,
		store:   store,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check 对 src 执行一次检查。任何失败都在内部记录日志并体现在 Result 中，不会 panic。
func (c *Checker) Check(ctx context.Context, src feed.TrackedSource) (res Result) {
	cy := &cycle{source: src.Key, id: uuid.NewString()[:8]}
	defer func() {
		res.State = cy.current
		c.metrics.ObserveCycle(src.Key, res.State.String())
	}()
	logger.Debugf("[checker] %s(%s): 开始检查 %s", src.Key, cy.id, src.URL)

	policy, ok := PolicyFor(src.Kind)
	if !ok {
		logger.Errorf("[checker] %s(%s): 未知的订阅源类型 %v", src.Key, cy.id, src.Kind)
		cy.transition(StateSkipped)
		return Result{Err: fmt.Errorf("%w: %v", ErrUnknownKind, src.Kind)}
	}

	entries, err := c.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		logger.Warnf("[checker] %s(%s): 抓取 %s 失败: %v", src.Key, cy.id, src.URL, err)
		cy.transition(StateSkipped)
		return Result{Err: fmt.Errorf("%w: %w", ErrFetch, err)}
	}
	if len(entries) == 0 {
		logger.Infof("[checker] %s(%s): 订阅源为空或加载失败", src.Key, cy.id)
		cy.transition(StateSkipped)
		return Result{Err: ErrEmptyFeed}
	}
	cy.transition(StateFetched)

	latest := entries[0]
	id, ok := feed.ExtractID(latest, src.Kind)
	if !ok {
		logger.Warnf("[checker] %s(%s): 无法从最新条目中提取标识", src.Key, cy.id)
		cy.transition(StateSkipped)
		return Result{Err: ErrNoIdentifier}
	}
	cy.transition(StateExtracted)

	last := c.store.Load(ctx, src.Key)
	if id == last {
		logger.Debugf("[checker] %s(%s): 没有新内容 (%s)", src.Key, cy.id, id)
		cy.transition(StateSkipped)
		return Result{ID: id}
	}
	cy.transition(StateCompared)

	logger.Infof("[checker] %s(%s): 检测到新的 %s 内容: %s", src.Key, cy.id, policy.Label, id)
	n := policy.Notification(policy.Resolve(id, latest, src, c.now))

	cy.transition(StateDelivering)
	res = Result{ID: id}
	res.Delivered, res.Failed = c.deliver(ctx, src, cy, policy, n)

	if res.Delivered == 0 {
		logger.Warnf("[checker] %s(%s): %s 通知没有发送到任何频道，不更新记录", src.Key, cy.id, policy.Label)
		cy.transition(StateDeliveryFailed)
		res.Err = ErrNoDelivery
		return res
	}

	if err := c.store.Commit(ctx, src.Key, id); err != nil {
		logger.Errorf("[checker] %s(%s): 已投递但写入记录失败，下一轮可能重复通知: %v", src.Key, cy.id, err)
		cy.transition(StateCommitFailed)
		res.Err = fmt.Errorf("%w: %w", ErrCommit, err)
		return res
	}
	c.metrics.ObserveCommit(src.Key, c.now())
	cy.transition(StateCommitted)
	return res
}

// deliver 向所有匹配的目标投递，单个目标失败不影响其余目标。
func (c *Checker) deliver(ctx context.Context, src feed.TrackedSource, cy *cycle, p Policy, n notify.Notification) (delivered, failed int) {
	dests, err := c.sink.Resolve(ctx, src.Channel)
	if err != nil {
		logger.Warnf("[checker] %s(%s): 查找频道 %q 失败: %v", src.Key, cy.id, src.Channel, err)
		return 0, 0
	}
	if len(dests) == 0 {
		logger.Warnf("[checker] %s(%s): 没有找到名为 %q 的频道", src.Key, cy.id, src.Channel)
		return 0, 0
	}

	for _, dst := range dests {
		if err := c.send(ctx, dst, n); err != nil {
			kind := notify.KindOf(err)
			switch kind {
			case notify.Forbidden:
				logger.Warnf("[checker] %s(%s): 权限错误，无法在 %s 发送 %s 更新: %v", src.Key, cy.id, dst, p.Label, err)
			case notify.Transport:
				logger.Warnf("[checker] %s(%s): 网络错误，无法在 %s 发送 %s 更新: %v", src.Key, cy.id, dst, p.Label, err)
			default:
				logger.Warnf("[checker] %s(%s): 发送 %s 更新到 %s 时发生未知错误: %v", src.Key, cy.id, p.Label, dst, err)
			}
			c.metrics.ObserveDelivery(src.Key, kind.String())
			failed++
			continue
		}
		logger.Infof("[checker] %s(%s): 已发送 %s 更新到 %s", src.Key, cy.id, p.Label, dst)
		c.metrics.ObserveDelivery(src.Key, "ok")
		delivered++
	}
	return delivered, failed
}

// send 调用投递端，把 panic 转为 Unknown 类别的 DeliveryError。
func (c *Checker) send(ctx context.Context, dst notify.Destination, n notify.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &notify.DeliveryError{Kind: notify.Unknown, Dest: dst, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.sink.Send(ctx, dst, n)
}
