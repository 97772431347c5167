// Package sanitize 把条目中的 HTML 转为适合通知展示的纯文本。
package sanitize

import (
	"errors"
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker 截断后追加的标记。
const Marker = " ..."

// Text 剥离 HTML 标签（忽略 script/style 内容），解码实体并合并空白。
// 解析失败时原样返回输入。
func Text(raw string) string {
	if raw == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(raw))
	var parts []string
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return raw
			}
			return strings.Join(parts, " ")
		case html.StartTagToken:
			if isRawText(z) {
				skip++
			}
		case html.EndTagToken:
			if isRawText(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func isRawText(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	a := atom.Lookup(name)
	return a == atom.Script || a == atom.Style
}

// FirstImage 返回 HTML 中第一个带 src 的 img 标签地址。
func FirstImage(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return "", false
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if atom.Lookup(name) != atom.Img || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "src" && strings.TrimSpace(string(val)) != "" {
				return strings.TrimSpace(string(val)), true
			}
			if !more {
				break
			}
		}
	}
}

// Truncate 把 text 截断到 maxLen 个字符（按 rune 计算）。
// 优先在最后一个空白处截断；若这样会丢掉超过 20% 的长度，则直接硬截断。
// 截断后的结果追加 Marker。maxLen <= 0 时非空文本只剩 Marker。
func Truncate(text string, maxLen int) string {
	if text == "" {
		return ""
	}
	if maxLen <= 0 {
		return Marker
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	cut := runes[:maxLen]
	out := cut
	for i := len(cut) - 1; i >= 0; i-- {
		if unicode.IsSpace(cut[i]) {
			out = cut[:i]
			break
		}
	}
	if float64(len(out)) < float64(maxLen)*0.8 {
		out = cut
	}
	return string(out) + Marker
}
