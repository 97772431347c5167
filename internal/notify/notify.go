// Package notify 定义通知内容和投递目标，并提供 Discord 与日志两种实现。
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Notification 投递给消息平台的通知内容。
type Notification struct {
	Title       string
	URL         string
	Color       int
	Description string
	Author      string
	AuthorIcon  string
	ImageURL    string
	Timestamp   time.Time
	Footer      string
}

// Destination 一个具体的投递目标（某个服务器下的某个频道）。
type Destination struct {
	ID      string
	Guild   string
	Channel string
}

func (d Destination) String() string {
	return d.Guild + "/" + d.Channel
}

// Sink 投递端。
//
// Resolve 按频道名称找出所有匹配的目标，可能为空。
// Send 向单个目标投递，失败时返回 *DeliveryError。
type Sink interface {
	Resolve(ctx context.Context, channelName string) ([]Destination, error)
	Send(ctx context.Context, dst Destination, n Notification) error
}

// FailureKind 投递失败的类别。
type FailureKind int

const (
	Unknown FailureKind = iota
	Forbidden
	Transport
)

var failureNames = [...]string{
	"unknown",
	"forbidden",
	"transport",
}

func (k FailureKind) String() string {
	if int(k) < len(failureNames) {
		return failureNames[k]
	}
	return "unknown"
}

// DeliveryError 单个目标投递失败。
type DeliveryError struct {
	Kind FailureKind
	Dest Destination
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("投递到 %s 失败 (%s): %v", e.Dest, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// KindOf 返回 err 的失败类别，非 DeliveryError 视为 Unknown。
func KindOf(err error) FailureKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return Unknown
}
