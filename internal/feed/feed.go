// Package feed 提供订阅源模型、条目抽取和内容抓取功能。
package feed

import (
	"fmt"
	"strings"
	"time"
)

// Kind 订阅源类型。
type Kind int

const (
	// KindVideo 视频频道（YouTube）。
	KindVideo Kind = iota + 1
	// KindImage 图片分享账号（Instagram）。
	KindImage
	// KindMicro 微博客账号（Twitter / X）。
	KindMicro
)

var kindNames = map[Kind]string{
	KindVideo: "video",
	KindImage: "image",
	KindMicro: "micro",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind 解析配置中的类型名称，支持平台别名。
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "youtube":
		return KindVideo, nil
	case "image", "instagram":
		return KindImage, nil
	case "micro", "twitter", "x":
		return KindMicro, nil
	}
	return 0, fmt.Errorf("未知的订阅源类型: %q", s)
}

// TrackedSource 一个被轮询的订阅源，启动时由配置创建，之后不再修改。
type TrackedSource struct {
	Kind    Kind
	Name    string // 日志和作者兜底使用的显示名
	URL     string
	Key     string // 去重记录的存储键
	Channel string // 投递目标的频道名称
}

// Enclosure 条目附件。
type Enclosure struct {
	URL  string
	Type string
}

// Media media:content 元素。
type Media struct {
	URL    string
	Medium string
	Type   string
}

// Entry 单次轮询中读取到的一条 Feed 条目。
// 字符串字段为空表示该字段不存在。
type Entry struct {
	Title           string
	Link            string
	Summary         string
	Content         string
	Author          string
	Published       string     // 原始发布时间文本
	PublishedParsed *time.Time // 解析器已解析出的发布时间
	VideoID         string     // yt:videoId
	Thumbnails      []string   // media:thumbnail
	Media           []Media
	Enclosures      []Enclosure

	FeedTitle string
	FeedImage string
}

// Markup 返回条目的正文原文，优先 summary，其次 content。
func (e Entry) Markup() string {
	if e.Summary != "" {
		return e.Summary
	}
	return e.Content
}
