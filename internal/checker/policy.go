package checker

import (
	"strings"
	"time"

	"github.com/iabetor/snswatch/internal/feed"
	"github.com/iabetor/snswatch/internal/notify"
	"github.com/iabetor/snswatch/internal/sanitize"
	"github.com/samber/lo"
)

// ImageSource 图片来源。
type ImageSource int

const (
	ImageThumbnail    ImageSource = iota // media:thumbnail
	ImageMediaContent                    // media:content medium="image"
	ImageEnclosure                       // type 为 image/* 的 enclosure
	ImageInline                          // 正文中的第一个 <img>
)

// Policy 某一类订阅源的渲染规则。
type Policy struct {
	Kind       feed.Kind
	Label      string // 平台名称，用于标题前缀和页脚
	Color      int
	BodyBudget int // 正文最大字符数
	ImageOrder []ImageSource

	title  func(e feed.Entry) string
	body   func(e feed.Entry) string // 返回未清理的正文
	author func(e feed.Entry, src feed.TrackedSource) string
	icon   func(e feed.Entry) string
}

// Update 一次检查中解析出的新条目。
type Update struct {
	ID          string
	Link        string
	Title       string
	Body        string
	Author      string
	AuthorIcon  string
	PublishedAt time.Time
	ImageURL    string
}

var policies = map[feed.Kind]Policy{
	feed.KindVideo: {
		Kind:       feed.KindVideo,
		Label:      "YouTube",
		Color:      0xFF0000,
		BodyBudget: 500,
		ImageOrder: []ImageSource{ImageThumbnail},
		title: func(e feed.Entry) string {
			if e.Title == "" {
				return "無標題影片"
			}
			return e.Title
		},
		body: func(e feed.Entry) string {
			if e.Summary == "" {
				return "無描述"
			}
			return e.Summary
		},
		author: func(e feed.Entry, _ feed.TrackedSource) string {
			return firstNonEmpty(e.Author, e.FeedTitle, "YouTube Channel")
		},
		icon: func(e feed.Entry) string { return e.FeedImage },
	},
	feed.KindImage: {
		Kind:       feed.KindImage,
		Label:      "Instagram",
		Color:      0xE1306C,
		BodyBudget: 300,
		ImageOrder: []ImageSource{ImageEnclosure, ImageInline},
		body: func(e feed.Entry) string {
			return firstNonEmpty(e.Summary, e.Title)
		},
		author: func(e feed.Entry, _ feed.TrackedSource) string {
			name := firstNonEmpty(e.Author, e.FeedTitle, "Instagram")
			if i := strings.Index(name, "Instagram feed for @"); i >= 0 {
				if handle := strings.TrimSpace(name[i+len("Instagram feed for @"):]); handle != "" {
					return handle
				}
			}
			return name
		},
	},
	feed.KindMicro: {
		Kind:       feed.KindMicro,
		Label:      "Twitter",
		Color:      0x1DA1F2,
		BodyBudget: 300,
		ImageOrder: []ImageSource{ImageMediaContent, ImageEnclosure, ImageInline},
		// 推文内容在 title 中
		body: func(e feed.Entry) string { return e.Title },
		author: func(e feed.Entry, src feed.TrackedSource) string {
			name := firstNonEmpty(e.Author, src.Name, src.Key)
			if len(name) > 2 && strings.HasPrefix(name, "(") && strings.HasSuffix(name, ")") {
				name = name[1 : len(name)-1]
			}
			return name
		},
	},
}

// PolicyFor 返回 kind 对应的渲染规则。
func PolicyFor(kind feed.Kind) (Policy, bool) {
	p, ok := policies[kind]
	return p, ok
}

// Resolve 从条目构建 Update。
func (p Policy) Resolve(id string, e feed.Entry, src feed.TrackedSource, now func() time.Time) Update {
	u := Update{
		ID:          id,
		Link:        e.Link,
		Body:        sanitize.Truncate(sanitize.Text(p.body(e)), p.BodyBudget),
		Author:      p.author(e, src),
		PublishedAt: feed.ResolveTime(e, now),
		ImageURL:    p.image(e),
	}
	if p.title != nil {
		u.Title = p.title(e)
	}
	if p.icon != nil {
		u.AuthorIcon = p.icon(e)
	}
	if u.Link == "" && p.Kind == feed.KindVideo && e.VideoID != "" {
		u.Link = "https://www.youtube.com/watch?v=" + e.VideoID
	}
	return u
}

// Notification 把 Update 渲染为通知。
func (p Policy) Notification(u Update) notify.Notification {
	title := "[" + p.Label + " 更新]"
	if u.Title != "" {
		title += " " + u.Title
	}
	return notify.Notification{
		Title:       title,
		URL:         u.Link,
		Color:       p.Color,
		Description: u.Body,
		Author:      u.Author,
		AuthorIcon:  u.AuthorIcon,
		ImageURL:    u.ImageURL,
		Timestamp:   u.PublishedAt,
		Footer:      p.Label + " 更新通知",
	}
}

func (p Policy) image(e feed.Entry) string {
	for _, src := range p.ImageOrder {
		switch src {
		case ImageThumbnail:
			if len(e.Thumbnails) > 0 {
				return e.Thumbnails[0]
			}
		case ImageMediaContent:
			if m, ok := lo.Find(e.Media, func(m feed.Media) bool {
				return m.URL != "" && (m.Medium == "image" || strings.HasPrefix(m.Type, "image/"))
			}); ok {
				return m.URL
			}
		case ImageEnclosure:
			if enc, ok := lo.Find(e.Enclosures, func(enc feed.Enclosure) bool {
				return enc.URL != "" && strings.HasPrefix(enc.Type, "image/")
			}); ok {
				return enc.URL
			}
		case ImageInline:
			if u, ok := sanitize.FirstImage(e.Markup()); ok {
				return u
			}
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
