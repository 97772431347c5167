package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/iabetor/snswatch/internal/logger"
)

// guildLoadTimeout Ready 之后等待服务器数据加载的最长时间。
const guildLoadTimeout = 15 * time.Second

// Discord 基于 discordgo 的投递端。
// 所有 Guild 的数据加载完成（或超时）后 Ready() 返回的 channel 被关闭。
type Discord struct {
	session *discordgo.Session

	mu        sync.Mutex
	pending   map[string]bool
	ready     chan struct{}
	readyOnce sync.Once
}

// NewDiscord 创建 Discord 投递端，需调用 Open 才会连接。
func NewDiscord(token string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("Discord token 为空")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("创建 Discord 会话失败: %w", err)
	}
	// 只需要知道机器人所在的服务器和频道
	s.Identify.Intents = discordgo.IntentsGuilds
	s.SyncEvents = true

	d := &Discord{
		session: s,
		pending: make(map[string]bool),
		ready:   make(chan struct{}),
	}
	s.AddHandler(d.onReady)
	s.AddHandler(d.onGuildCreate)
	s.AddHandler(d.onGuildDelete)
	return d, nil
}

// Open 建立网关连接。
func (d *Discord) Open() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("连接 Discord 失败: %w", err)
	}
	return nil
}

// Close 关闭网关连接。
func (d *Discord) Close() error {
	return d.session.Close()
}

// Ready 返回在投递端可用时关闭的 channel。
func (d *Discord) Ready() <-chan struct{} {
	return d.ready
}

func (d *Discord) markReady() {
	d.readyOnce.Do(func() {
		logger.Info("[discord] 服务器数据已就绪")
		close(d.ready)
	})
}

func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	logger.Infof("[discord] 已登录为 %s (%s)，正在监控 %d 个服务器", r.User.Username, r.User.ID, len(r.Guilds))

	d.mu.Lock()
	for _, g := range r.Guilds {
		if g.Unavailable {
			d.pending[g.ID] = true
		}
	}
	empty := len(d.pending) == 0
	d.mu.Unlock()

	if empty {
		d.markReady()
		return
	}
	time.AfterFunc(guildLoadTimeout, d.markReady)
}

func (d *Discord) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	d.mu.Lock()
	_, wasPending := d.pending[g.ID]
	delete(d.pending, g.ID)
	empty := len(d.pending) == 0
	d.mu.Unlock()

	if !wasPending {
		logger.Infof("[discord] 已加入新的服务器: %s (%s)", g.Name, g.ID)
	}
	if wasPending && empty {
		d.markReady()
	}
}

func (d *Discord) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		logger.Warnf("[discord] 服务器暂时不可用: %s", g.ID)
		return
	}
	name := g.ID
	if g.BeforeDelete != nil {
		name = g.BeforeDelete.Name
	}
	logger.Infof("[discord] 已离开服务器: %s (%s)", name, g.ID)
}

// Resolve 在每个服务器中找第一个名称为 channelName 的文字频道。
func (d *Discord) Resolve(_ context.Context, channelName string) ([]Destination, error) {
	st := d.session.State
	st.RLock()
	defer st.RUnlock()
	return findTextChannels(st.Guilds, channelName), nil
}

func findTextChannels(guilds []*discordgo.Guild, name string) []Destination {
	var out []Destination
	for _, g := range guilds {
		for _, ch := range g.Channels {
			if isTextChannel(ch) && ch.Name == name {
				out = append(out, Destination{ID: ch.ID, Guild: g.Name, Channel: ch.Name})
				break
			}
		}
	}
	return out
}

// isTextChannel 文字频道和公告频道都可以发送消息。
func isTextChannel(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews
}

// Send 以 embed 形式发送通知。
func (d *Discord) Send(ctx context.Context, dst Destination, n Notification) error {
	_, err := d.session.ChannelMessageSendEmbed(dst.ID, Embed(n), discordgo.WithContext(ctx))
	if err != nil {
		return &DeliveryError{Kind: classify(err), Dest: dst, Err: err}
	}
	return nil
}

// Embed 把通知渲染为 Discord embed。
func Embed(n Notification) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       n.Title,
		URL:         n.URL,
		Color:       n.Color,
		Description: n.Description,
	}
	if !n.Timestamp.IsZero() {
		e.Timestamp = n.Timestamp.UTC().Format(time.RFC3339)
	}
	if n.Author != "" {
		e.Author = &discordgo.MessageEmbedAuthor{Name: n.Author, IconURL: n.AuthorIcon}
	}
	if n.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: n.ImageURL}
	}
	if n.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer}
	}
	return e
}

func classify(err error) FailureKind {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden {
			return Forbidden
		}
		return Transport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transport
	}
	return Unknown
}
