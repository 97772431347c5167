// Package dedup 持久化每个订阅源最后一次成功通知的条目标识。
package dedup

import (
	"context"
	"errors"
	"regexp"
)

// ErrEmptyID 试图写入空标识。
var ErrEmptyID = errors.New("拒绝写入空标识")

// ErrInvalidKey 存储键包含非法字符。
var ErrInvalidKey = errors.New("非法的存储键")

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidKey 报告 key 能否用作存储键（文件名或主键）。
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Store 去重记录存储。每个订阅源一条记录，互不影响。
//
// Load 在记录不存在或已损坏时返回空字符串（损坏会记录日志）。
// Commit 对空标识拒绝写入并返回 ErrEmptyID；写入必须是原子的，
// 进程崩溃后记录只能是旧值或新值。
type Store interface {
	Load(ctx context.Context, key string) string
	Commit(ctx context.Context, key, id string) error
}
