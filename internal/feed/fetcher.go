package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/iabetor/snswatch/internal/logger"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent    = "Mozilla/5.0"
	defaultFetchTimeout = 15 * time.Second
	defaultRetryWait    = 500 * time.Millisecond
	maxRetryWait        = 10 * time.Second
)

// FetcherConfig 抓取器配置。
type FetcherConfig struct {
	UserAgent   string
	Timeout     time.Duration
	Retries     int           // 首次失败后的最大重试次数
	MinInterval time.Duration // 两次请求之间的最小间隔，所有订阅源共享
}

// Fetcher 负责抓取并解析订阅源。并发安全。
type Fetcher struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
	retries   int
	retryWait time.Duration
	limiter   *rate.Limiter
}

// StatusError 订阅源返回了非 200 状态码。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// NewFetcher 创建订阅源抓取器。
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		parser:    gofeed.NewParser(),
		userAgent: cfg.UserAgent,
		retries:   cfg.Retries,
		retryWait: defaultRetryWait,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Fetch 抓取 url 对应的订阅源，按 Feed 原有顺序（最新在前）返回条目。
// 网络错误和 5xx/429 会按指数退避重试，其余错误直接返回。
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	var parsed *gofeed.Feed
	op := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		feed, err := f.parseFeed(ctx, url)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		parsed = feed
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.retryWait
	b.MaxInterval = maxRetryWait
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.retries)), ctx)

	notify := func(err error, wait time.Duration) {
		logger.Debugf("[feed] 抓取 %s 失败，%s 后重试: %v", url, wait, err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, FromItem(parsed, item))
	}
	return entries, nil
}

// parseFeed 请求并解析 Feed URL。
func (f *Fetcher) parseFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, &parseError{err: err}
	}
	return feed, nil
}

type parseError struct{ err error }

func (e *parseError) Error() string { return "解析 Feed 失败: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var pe *parseError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
