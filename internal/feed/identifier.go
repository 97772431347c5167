package feed

import (
	"net/url"
	"strings"
)

// ExtractID 按订阅源类型提取条目的稳定标识。
//
//	video: yt:videoId → 链接中的 v 参数 → 链接本身
//	image / micro: 链接（permalink）
//
// 返回 false 表示条目没有可用标识，本轮应跳过。
func ExtractID(e Entry, kind Kind) (string, bool) {
	link := strings.TrimSpace(e.Link)
	switch kind {
	case KindVideo:
		if id := strings.TrimSpace(e.VideoID); id != "" {
			return id, true
		}
		if link == "" {
			return "", false
		}
		if id := videoIDFromLink(link); id != "" {
			return id, true
		}
		return link, true
	case KindImage, KindMicro:
		if link == "" {
			return "", false
		}
		return link, true
	}
	return "", false
}

func videoIDFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get("v"))
}
