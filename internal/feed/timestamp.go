package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/iabetor/snswatch/internal/logger"
)

// ResolveTime 返回条目的发布时间（UTC），永不失败：
// 先用解析器给出的时间，再宽松解析原始文本（无时区时按 UTC），
// 最后退回到 now() 并记录日志。
func ResolveTime(e Entry, now func() time.Time) time.Time {
	if e.PublishedParsed != nil && !e.PublishedParsed.IsZero() {
		return e.PublishedParsed.UTC()
	}

	if raw := strings.TrimSpace(e.Published); raw != "" {
		t, err := parseLoose(raw)
		if err == nil {
			return t.UTC()
		}
		logger.Debugf("[feed] 无法解析发布时间 %q: %v", raw, err)
	}

	title := e.Title
	if title == "" {
		title = "N/A"
	}
	logger.Warnf("[feed] 条目 %q 没有可用的发布时间，使用当前时间", title)
	return now().UTC()
}

// parseLoose 包装 dateparse，把它可能出现的 panic 转为错误。
func parseLoose(raw string) (t time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dateparse panic: %v", r)
		}
	}()
	return dateparse.ParseIn(raw, time.UTC)
}
