package notify

import (
	"context"

	"github.com/iabetor/snswatch/internal/logger"
)

// LogSink 只把通知写入日志的投递端，用于 dry-run。
// 每个频道名称都解析为一个虚拟目标，因此去重记录照常提交。
type LogSink struct {
	ready chan struct{}
}

// NewLogSink 创建日志投递端，立即就绪。
func NewLogSink() *LogSink {
	ready := make(chan struct{})
	close(ready)
	return &LogSink{ready: ready}
}

// Ready 返回已关闭的 channel。
func (s *LogSink) Ready() <-chan struct{} { return s.ready }

// Resolve 返回一个虚拟目标。
func (s *LogSink) Resolve(_ context.Context, channelName string) ([]Destination, error) {
	return []Destination{{ID: "dry-run", Guild: "dry-run", Channel: channelName}}, nil
}

// Send 记录通知内容。
func (s *LogSink) Send(_ context.Context, dst Destination, n Notification) error {
	logger.Infow("[notify] dry-run 通知",
		"destination", dst.String(),
		"title", n.Title,
		"url", n.URL,
		"author", n.Author,
		"image", n.ImageURL,
		"timestamp", n.Timestamp,
		"footer", n.Footer,
		"description", n.Description,
	)
	return nil
}
