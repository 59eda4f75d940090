// Package youtubenotifs announces new uploads on YouTube channels.
package youtubenotifs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/module_manager"
	"github.com/jirwin/daybreak/pkg/notify"
)

const Name = "YouTubeNotifs"

type moduleConfig struct {
	UpdateInterval int   `mapstructure:"update_interval"`
	Threads        int64 `mapstructure:"threads"`
	FetchTimeout   int   `mapstructure:"fetch_timeout"`
	Depth          int64 `mapstructure:"depth"`
	Offset         int   `mapstructure:"offset"`
}

func defaultModuleConfig() moduleConfig {
	return moduleConfig{
		UpdateInterval: 600,
		Threads:        4,
		FetchTimeout:   10,
		Depth:          5,
		Offset:         1,
	}
}

func (c moduleConfig) pollerConfig() notify.Config {
	return notify.Config{
		Name:         "youtube",
		Interval:     time.Duration(c.UpdateInterval) * time.Second,
		Concurrency:  c.Threads,
		FetchTimeout: time.Duration(c.FetchTimeout) * time.Second,
	}
}

type guildConfig struct {
	NotificationsChannelID string                             `mapstructure:"notifications_channel_id"`
	RoleID                 string                             `mapstructure:"role_id"`
	Channels               []string                           `mapstructure:"channels"`
	Publish                bool                               `mapstructure:"publish"`
	Format                 discord_manager.AnnouncementFormat `mapstructure:"format"`
}

func (g guildConfig) tracks(channelID string) bool {
	for _, c := range g.Channels {
		if c == channelID {
			return true
		}
	}
	return false
}

// Upload is a single new video on a tracked channel.
type Upload struct {
	ChannelTitle string
	Video        Video
}

type Announcer interface {
	Announce(chanID string, msg *discordgo.MessageSend, publish bool) (*discordgo.Message, error)
}

type notifier struct {
	l         *zap.Logger
	c         moduleConfig
	configs   *config.Resolver
	fetcher   UploadsFetcher
	announcer Announcer
}

func (n *notifier) guilds() (map[string]guildConfig, error) {
	return config.DecodeGuilds[guildConfig](n.configs, Name)
}

func (n *notifier) channels(ctx context.Context) ([]string, error) {
	guilds, err := n.guilds()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, g := range guilds {
		for _, c := range g.Channels {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)

	return out, nil
}

func (n *notifier) fetch(ctx context.Context, channelID string) (Uploads, error) {
	return n.fetcher.FetchUploads(ctx, channelID, n.c.Depth)
}

func (n *notifier) diff(channelID string, prev, next Uploads) []Upload {
	byID := make(map[string]Video, len(next.Videos))
	for _, v := range next.Videos {
		byID[v.ID] = v
	}

	var out []Upload
	for _, id := range notify.NewItems(prev.IDs(), next.IDs(), n.c.Offset) {
		out = append(out, Upload{ChannelTitle: next.ChannelTitle, Video: byID[id]})
	}
	return out
}

func keywords(roleID string, u Upload) map[string]string {
	role := ""
	if roleID != "" {
		role = fmt.Sprintf("<@&%s>", roleID)
	}

	return map[string]string{
		"role_mention":        role,
		"channel_name":        u.ChannelTitle,
		"video_title":         u.Video.Title,
		"video_url":           u.Video.URL(),
		"video_thumbnail_url": u.Video.ThumbnailURL,
		"video_description":   u.Video.Description,
		"video_publish_date":  u.Video.PublishedAt,
	}
}

func (n *notifier) announce(ctx context.Context, channelID string, u Upload) error {
	guilds, err := n.guilds()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(guilds))
	for id := range guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs error
	for _, id := range ids {
		g := guilds[id]
		if !g.tracks(channelID) || g.NotificationsChannelID == "" {
			continue
		}

		msg, err := discord_manager.BuildAnnouncement(g.Format, keywords(g.RoleID, u))
		if err != nil {
			n.l.Error("invalid announcement format", zap.String("guild", id), zap.Error(err))
			continue
		}
		if _, err := n.announcer.Announce(g.NotificationsChannelID, msg, g.Publish); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("guild %s: %w", id, err))
			continue
		}
		n.l.Info("announced upload", zap.String("guild", id), zap.String("video", u.Video.ID))
	}

	return errs
}

func (n *notifier) hooks() notify.Hooks[Uploads, Upload] {
	return notify.Hooks[Uploads, Upload]{
		Keys:     n.channels,
		Fetch:    n.fetch,
		Diff:     n.diff,
		Announce: n.announce,
	}
}

type youtubeNotifs struct{}

func (y *youtubeNotifs) GetName() string {
	return Name
}

func (y *youtubeNotifs) Start(ctx context.Context, helper module_manager.ModuleHelper) error {
	t, err := helper.ModuleConfig()
	if err != nil {
		return err
	}
	mc := defaultModuleConfig()
	if err := t.Decode(&mc); err != nil {
		return err
	}

	c, err := NewConfig()
	if err != nil {
		return err
	}
	fetcher, err := newYouTubeFetcher(ctx, c)
	if err != nil {
		return err
	}

	n := &notifier{
		l:         helper.Logger(),
		c:         mc,
		configs:   helper.Configs(),
		fetcher:   fetcher,
		announcer: helper.Discord(),
	}

	poller, err := notify.New(mc.pollerConfig(), helper.Logger(), helper.Clock(), n.hooks(), helper.SnapshotStore("youtube"))
	if err != nil {
		return err
	}
	helper.Go(poller.Run)

	return nil
}

func Register() module_manager.Module {
	return &youtubeNotifs{}
}
