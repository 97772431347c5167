package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iabetor/snswatch/internal/dedup"
	"github.com/iabetor/snswatch/internal/feed"
	"github.com/iabetor/snswatch/internal/metrics"
	"github.com/iabetor/snswatch/internal/notify"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeFetcher struct {
	entries []feed.Entry
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]feed.Entry, error) {
	f.calls++
	return f.entries, f.err
}

type fakeSink struct {
	mu         sync.Mutex
	dests      []notify.Destination
	resolveErr error
	fail       map[string]error // Destination.ID → 错误
	panicOn    string
	sent       []notify.Notification
	sentTo     []string
}

func (s *fakeSink) Resolve(_ context.Context, _ string) ([]notify.Destination, error) {
	return s.dests, s.resolveErr
}

func (s *fakeSink) Send(_ context.Context, dst notify.Destination, n notify.Notification) error {
	if dst.ID == s.panicOn {
		panic("boom")
	}
	if err, ok := s.fail[dst.ID]; ok {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	s.sentTo = append(s.sentTo, dst.ID)
	return nil
}

// countingStore 内存去重记录，统计写入次数。
type countingStore struct {
	mu        sync.Mutex
	records   map[string]string
	commits   int
	commitErr error
}

func newCountingStore() *countingStore {
	return &countingStore{records: make(map[string]string)}
}

func (s *countingStore) Load(_ context.Context, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key]
}

func (s *countingStore) Commit(_ context.Context, key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		return dedup.ErrEmptyID
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	s.records[key] = id
	s.commits++
	return nil
}

var (
	videoSource = feed.TrackedSource{Kind: feed.KindVideo, Name: "NMIXX", URL: "https://example.com/yt", Key: "youtube", Channel: "announcements"}
	microSource = feed.TrackedSource{Kind: feed.KindMicro, Name: "NMIXX", URL: "https://example.com/tw", Key: "twitter", Channel: "announcements"}
	fixedNow    = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
)

func oneDest() []notify.Destination {
	return []notify.Destination{{ID: "a", Guild: "G1", Channel: "announcements"}}
}

func forbidden(id string) error {
	return &notify.DeliveryError{
		Kind: notify.Forbidden,
		Dest: notify.Destination{ID: id},
		Err:  errors.New("missing permissions"),
	}
}

func TestCheck_FirstRunDeliversAndCommits(t *testing.T) {
	published := time.Date(2026, 2, 19, 8, 0, 0, 0, time.UTC)
	f := &fakeFetcher{entries: []feed.Entry{{
		Title:           "MV Teaser",
		Link:            "https://www.youtube.com/watch?v=v123",
		Summary:         "new video",
		VideoID:         "v123",
		PublishedParsed: &published,
		Thumbnails:      []string{"https://i.ytimg.com/vi/v123/hqdefault.jpg"},
		FeedTitle:       "NMIXX Official",
	}}}
	sink := &fakeSink{dests: oneDest()}
	store := newCountingStore()

	res := New(f, sink, store, WithClock(fixedNow)).Check(context.Background(), videoSource)

	if res.State != StateCommitted {
		t.Fatalf("期望 Committed，实际 %s (err=%v)", res.State, res.Err)
	}
	if res.ID != "v123" || res.Delivered != 1 || res.Failed != 0 {
		t.Errorf("结果不匹配: %+v", res)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("期望 1 条通知，实际 %d", len(sink.sent))
	}
	n := sink.sent[0]
	if n.Title != "[YouTube 更新] MV Teaser" {
		t.Errorf("标题不匹配: %q", n.Title)
	}
	if n.URL != "https://www.youtube.com/watch?v=v123" {
		t.Errorf("链接不匹配: %q", n.URL)
	}
	if !n.Timestamp.Equal(published) {
		t.Errorf("时间不匹配: %v", n.Timestamp)
	}
	if n.ImageURL != "https://i.ytimg.com/vi/v123/hqdefault.jpg" {
		t.Errorf("图片不匹配: %q", n.ImageURL)
	}
	if got := store.Load(context.Background(), "youtube"); got != "v123" {
		t.Errorf("记录应为 v123，实际 %q", got)
	}
}

func TestCheck_UnchangedIsSkipped(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{VideoID: "v123", Link: "https://www.youtube.com/watch?v=v123"}}}
	sink := &fakeSink{dests: oneDest()}
	store := newCountingStore()
	store.records["youtube"] = "v123"

	res := New(f, sink, store).Check(context.Background(), videoSource)

	if res.State != StateSkipped || res.Err != nil {
		t.Errorf("期望无错误的 Skipped，实际 %s (err=%v)", res.State, res.Err)
	}
	if len(sink.sent) != 0 {
		t.Errorf("不应发送通知，实际 %d", len(sink.sent))
	}
	if store.commits != 0 {
		t.Errorf("不应写入记录，实际 %d 次", store.commits)
	}
}

func TestCheck_NoIdentifier(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{Title: "no link"}}}
	sink := &fakeSink{dests: oneDest()}
	store := newCountingStore()

	res := New(f, sink, store).Check(context.Background(), videoSource)

	if res.State != StateSkipped || !errors.Is(res.Err, ErrNoIdentifier) {
		t.Errorf("期望 Skipped/ErrNoIdentifier，实际 %s (err=%v)", res.State, res.Err)
	}
	if len(sink.sent) != 0 || store.commits != 0 {
		t.Errorf("不应有通知或写入: sent=%d commits=%d", len(sink.sent), store.commits)
	}
}

func TestCheck_PartialFailureStillCommits(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{Title: "hello", Link: "https://x.com/nmixx/status/1"}}}
	sink := &fakeSink{
		dests: []notify.Destination{
			{ID: "a", Guild: "G1", Channel: "announcements"},
			{ID: "b", Guild: "G2", Channel: "announcements"},
		},
		fail: map[string]error{"a": forbidden("a")},
	}
	store := newCountingStore()

	res := New(f, sink, store).Check(context.Background(), microSource)

	if res.State != StateCommitted {
		t.Fatalf("期望 Committed，实际 %s (err=%v)", res.State, res.Err)
	}
	if res.Delivered != 1 || res.Failed != 1 {
		t.Errorf("期望 1 成功 1 失败，实际 %+v", res)
	}
	if len(sink.sentTo) != 1 || sink.sentTo[0] != "b" {
		t.Errorf("应只投递到 b，实际 %v", sink.sentTo)
	}
	if store.commits != 1 {
		t.Errorf("期望恰好一次写入，实际 %d", store.commits)
	}
}

func TestCheck_AllDeliveriesFailKeepsRecord(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{Title: "hello", Link: "https://x.com/nmixx/status/2"}}}
	sink := &fakeSink{dests: oneDest(), fail: map[string]error{"a": forbidden("a")}}
	store := newCountingStore()
	store.records["twitter"] = "https://x.com/nmixx/status/1"
	c := New(f, sink, store)

	res := c.Check(context.Background(), microSource)
	if res.State != StateDeliveryFailed || !errors.Is(res.Err, ErrNoDelivery) {
		t.Fatalf("期望 DeliveryFailed，实际 %s (err=%v)", res.State, res.Err)
	}
	if got := store.Load(context.Background(), "twitter"); got != "https://x.com/nmixx/status/1" {
		t.Errorf("记录不应改变，实际 %q", got)
	}

	// 恢复后下一轮重新检测到同一条目并投递
	sink.fail = nil
	res = c.Check(context.Background(), microSource)
	if res.State != StateCommitted {
		t.Fatalf("恢复后期望 Committed，实际 %s", res.State)
	}
	if len(sink.sent) != 1 {
		t.Errorf("期望 1 条通知，实际 %d", len(sink.sent))
	}
}

func TestCheck_NoDestinations(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{Link: "https://x.com/nmixx/status/1"}}}
	store := newCountingStore()

	res := New(f, &fakeSink{}, store).Check(context.Background(), microSource)
	if res.State != StateDeliveryFailed {
		t.Errorf("期望 DeliveryFailed，实际 %s", res.State)
	}
	if store.commits != 0 {
		t.Errorf("不应写入记录")
	}
}

func TestCheck_ResolveErrorCountsAsNoDestinations(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{Link: "https://x.com/nmixx/status/1"}}}
	sink := &fakeSink{resolveErr: errors.New("not ready")}
	store := newCountingStore()

	res := New(f, sink, store).Check(context.Background(), microSource)
	if res.State != StateDeliveryFailed || store.commits != 0 {
		t.Errorf("期望 DeliveryFailed 且无写入，实际 %s commits=%d", res.State, store.commits)
	}
}

func TestCheck_FetchErrorAndEmptyFeed(t *testing.T) {
	store := newCountingStore()
	sink := &fakeSink{dests: oneDest()}

	res := New(&fakeFetcher{err: errors.New("timeout")}, sink, store).Check(context.Background(), videoSource)
	if res.State != StateSkipped || !errors.Is(res.Err, ErrFetch) {
		t.Errorf("抓取失败应为 Skipped/ErrFetch，实际 %s (err=%v)", res.State, res.Err)
	}

	res = New(&fakeFetcher{}, sink, store).Check(context.Background(), videoSource)
	if res.State != StateSkipped || !errors.Is(res.Err, ErrEmptyFeed) {
		t.Errorf("空订阅源应为 Skipped/ErrEmptyFeed，实际 %s (err=%v)", res.State, res.Err)
	}
	if len(sink.sent) != 0 || store.commits != 0 {
		t.Errorf("不应有通知或写入")
	}
}

func TestCheck_UnknownKind(t *testing.T) {
	f := &fakeFetcher{}
	src := videoSource
	src.Kind = feed.Kind(42)

	res := New(f, &fakeSink{}, newCountingStore()).Check(context.Background(), src)
	if !errors.Is(res.Err, ErrUnknownKind) {
		t.Errorf("期望 ErrUnknownKind，实际 %v", res.Err)
	}
	if f.calls != 0 {
		t.Errorf("未知类型不应抓取")
	}
}

func TestCheck_CommitFailure(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{VideoID: "v9"}}}
	sink := &fakeSink{dests: oneDest()}
	store := newCountingStore()
	store.commitErr = errors.New("disk full")

	res := New(f, sink, store).Check(context.Background(), videoSource)
	if res.State != StateCommitFailed || !errors.Is(res.Err, ErrCommit) {
		t.Errorf("期望 CommitFailed/ErrCommit，实际 %s (err=%v)", res.State, res.Err)
	}
	if res.Delivered != 1 {
		t.Errorf("投递应已成功")
	}
}

func TestCheck_PanicInSendIsIsolated(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{Link: "https://x.com/nmixx/status/1"}}}
	sink := &fakeSink{
		dests: []notify.Destination{
			{ID: "a", Guild: "G1", Channel: "announcements"},
			{ID: "b", Guild: "G2", Channel: "announcements"},
		},
		panicOn: "a",
	}
	store := newCountingStore()

	res := New(f, sink, store).Check(context.Background(), microSource)
	if res.State != StateCommitted || res.Failed != 1 || res.Delivered != 1 {
		t.Errorf("期望 panic 的目标计为失败，实际 %+v", res)
	}
}

func TestCheck_IdempotentAcrossCycles(t *testing.T) {
	f := &fakeFetcher{entries: []feed.Entry{{VideoID: "v1"}}}
	sink := &fakeSink{dests: oneDest()}
	store := newCountingStore()
	c := New(f, sink, store)

	for i := 0; i < 3; i++ {
		c.Check(context.Background(), videoSource)
	}
	if len(sink.sent) != 1 || store.commits != 1 {
		t.Errorf("同一条目只应通知一次: sent=%d commits=%d", len(sink.sent), store.commits)
	}

	f.entries = []feed.Entry{{VideoID: "v2"}, {VideoID: "v1"}}
	c.Check(context.Background(), videoSource)
	if len(sink.sent) != 2 || store.Load(context.Background(), "youtube") != "v2" {
		t.Errorf("新条目应触发通知: sent=%d", len(sink.sent))
	}
}

func TestCheck_WithFileStore(t *testing.T) {
	store, err := dedup.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore 失败: %v", err)
	}
	f := &fakeFetcher{entries: []feed.Entry{{VideoID: "v123"}}}
	sink := &fakeSink{dests: oneDest()}

	c := New(f, sink, store)
	c.Check(context.Background(), videoSource)
	res := c.Check(context.Background(), videoSource)

	if res.State != StateSkipped {
		t.Errorf("第二轮应跳过，实际 %s", res.State)
	}
	if len(sink.sent) != 1 {
		t.Errorf("期望 1 条通知，实际 %d", len(sink.sent))
	}
}

func TestCheck_SourcesAreIndependent(t *testing.T) {
	store := newCountingStore()
	sink := &fakeSink{dests: oneDest()}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		src := microSource
		src.Key = fmt.Sprintf("src%d", i)
		f := &fakeFetcher{entries: []feed.Entry{{Link: fmt.Sprintf("https://x.com/a/status/%d", i)}}}
		wg.Add(1)
		go func() {
			defer wg.Done()
			New(f, sink, store).Check(context.Background(), src)
		}()
	}
	wg.Wait()

	if store.commits != 5 {
		t.Errorf("期望 5 次写入，实际 %d", store.commits)
	}
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("src%d", i)
		if got := store.records[key]; got != fmt.Sprintf("https://x.com/a/status/%d", i) {
			t.Errorf("%s 记录不匹配: %q", key, got)
		}
	}
}

func TestCheck_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	f := &fakeFetcher{entries: []feed.Entry{{Link: "https://x.com/nmixx/status/1"}}}
	sink := &fakeSink{
		dests: []notify.Destination{{ID: "a"}, {ID: "b"}},
		fail:  map[string]error{"a": forbidden("a")},
	}
	c := New(f, sink, newCountingStore(), WithMetrics(m))

	c.Check(context.Background(), microSource)
	c.Check(context.Background(), microSource)

	if n, err := testutil.GatherAndCount(m.Registry(), "snswatch_cycles_total"); err != nil || n != 2 {
		t.Errorf("期望 Committed 和 Skipped 两个序列，实际 %d (err=%v)", n, err)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "snswatch_deliveries_total"); err != nil || n != 2 {
		t.Errorf("期望 ok 和 forbidden 两个序列，实际 %d (err=%v)", n, err)
	}
}
