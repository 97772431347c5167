package feed

import (
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/samber/lo"
)

// FromItem 将 gofeed 条目转换为 Entry。feed 可以为 nil。
func FromItem(f *gofeed.Feed, item *gofeed.Item) Entry {
	e := Entry{
		Title:           strings.TrimSpace(item.Title),
		Link:            strings.TrimSpace(item.Link),
		Summary:         item.Description,
		Content:         item.Content,
		Published:       item.Published,
		PublishedParsed: item.PublishedParsed,
	}
	if e.Link == "" && len(item.Links) > 0 {
		e.Link = strings.TrimSpace(item.Links[0])
	}
	if e.Published == "" {
		e.Published = item.Updated
	}
	if e.PublishedParsed == nil {
		e.PublishedParsed = item.UpdatedParsed
	}

	if item.Author != nil && item.Author.Name != "" {
		e.Author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = item.Authors[0].Name
	}

	if f != nil {
		e.FeedTitle = f.Title
		if f.Image != nil {
			e.FeedImage = f.Image.URL
		}
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		e.Enclosures = append(e.Enclosures, Enclosure{URL: enc.URL, Type: enc.Type})
	}

	e.VideoID = strings.TrimSpace(firstValue(item.Extensions["yt"], "videoId"))

	media := item.Extensions["media"]
	e.collectMedia(media)
	// YouTube 把缩略图和描述放在 media:group 中
	for _, group := range media["group"] {
		e.collectMedia(group.Children)
		if e.Summary == "" {
			e.Summary = firstValue(group.Children, "description")
		}
	}

	if item.Image != nil && item.Image.URL != "" && !lo.Contains(e.Thumbnails, item.Image.URL) {
		e.Thumbnails = append(e.Thumbnails, item.Image.URL)
	}
	return e
}

func (e *Entry) collectMedia(children map[string][]ext.Extension) {
	for _, thumb := range children["thumbnail"] {
		if u := thumb.Attrs["url"]; u != "" {
			e.Thumbnails = append(e.Thumbnails, u)
		}
	}
	for _, c := range children["content"] {
		if u := c.Attrs["url"]; u != "" {
			e.Media = append(e.Media, Media{URL: u, Medium: c.Attrs["medium"], Type: c.Attrs["type"]})
		}
	}
}

func firstValue(children map[string][]ext.Extension, name string) string {
	for _, v := range children[name] {
		if v.Value != "" {
			return v.Value
		}
	}
	return ""
}
