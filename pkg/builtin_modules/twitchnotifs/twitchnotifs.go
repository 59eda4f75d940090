// Package twitchnotifs announces Twitch channels going live.
package twitchnotifs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/httpclient"
	"github.com/jirwin/daybreak/pkg/module_manager"
	"github.com/jirwin/daybreak/pkg/notify"
)

const Name = "TwitchNotifs"

type moduleConfig struct {
	UpdateInterval int   `mapstructure:"update_interval"`
	Threads        int64 `mapstructure:"threads"`
	FetchTimeout   int   `mapstructure:"fetch_timeout"`
}

func (c moduleConfig) pollerConfig() notify.Config {
	pc := notify.Config{
		Name:         "twitch",
		Interval:     60 * time.Second,
		Concurrency:  4,
		FetchTimeout: 10 * time.Second,
	}
	if c.UpdateInterval > 0 {
		pc.Interval = time.Duration(c.UpdateInterval) * time.Second
	}
	if c.Threads > 0 {
		pc.Concurrency = c.Threads
	}
	if c.FetchTimeout > 0 {
		pc.FetchTimeout = time.Duration(c.FetchTimeout) * time.Second
	}
	return pc
}

type guildConfig struct {
	NotificationsChannelID string                             `mapstructure:"notifications_channel_id"`
	RoleID                 string                             `mapstructure:"role_id"`
	Channels               []string                           `mapstructure:"channels"`
	Publish                bool                               `mapstructure:"publish"`
	Format                 discord_manager.AnnouncementFormat `mapstructure:"format"`
}

func (g guildConfig) tracks(login string) bool {
	for _, c := range g.Channels {
		if strings.EqualFold(c, login) {
			return true
		}
	}
	return false
}

// Announcer is the part of the gateway the notifier sends through.
type Announcer interface {
	Announce(chanID string, msg *discordgo.MessageSend, publish bool) (*discordgo.Message, error)
}

type notifier struct {
	l         *zap.Logger
	configs   *config.Resolver
	fetcher   StreamFetcher
	announcer Announcer
}

func (n *notifier) guilds() (map[string]guildConfig, error) {
	return config.DecodeGuilds[guildConfig](n.configs, Name)
}

// channels lists every Twitch login tracked by at least one guild.
func (n *notifier) channels(ctx context.Context) ([]string, error) {
	guilds, err := n.guilds()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, g := range guilds {
		for _, c := range g.Channels {
			login := strings.ToLower(strings.TrimSpace(c))
			if login == "" {
				continue
			}
			if _, ok := seen[login]; ok {
				continue
			}
			seen[login] = struct{}{}
			out = append(out, login)
		}
	}
	sort.Strings(out)

	return out, nil
}

func (n *notifier) fetch(ctx context.Context, login string) (Stream, error) {
	return n.fetcher.FetchStream(ctx, login)
}

// wentLive reports the offline to live transition.
func wentLive(login string, prev, next Stream) []Stream {
	if next.Live && !prev.Live {
		return []Stream{next}
	}
	return nil
}

func keywords(roleID string, s Stream) map[string]string {
	role := ""
	if roleID != "" {
		role = fmt.Sprintf("<@&%s>", roleID)
	}
	name := s.UserName
	if name == "" {
		name = s.Login
	}

	return map[string]string{
		"role_mention":         role,
		"channel_name":         name,
		"stream_url":           "https://twitch.tv/" + s.Login,
		"stream_title":         s.Title,
		"stream_thumbnail_url": s.Thumbnail(640, 360),
		"stream_language":      s.Language,
		"stream_start_date":    s.StartedAt.UTC().Format("2006-01-02 15:04:05-07:00"),
		"stream_game_name":     s.GameName,
		"stream_tags":          strings.Join(s.Tags, ", "),
		"stream_nsfw":          strconv.FormatBool(s.IsMature),
	}
}

// announce posts the stream to every guild tracking it.
func (n *notifier) announce(ctx context.Context, login string, s Stream) error {
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
		if !g.tracks(login) {
			continue
		}
		if g.NotificationsChannelID == "" {
			n.l.Warn("guild has no notifications channel", zap.String("guild", id))
			continue
		}

		// a broken format will not fix itself by retrying
		msg, err := discord_manager.BuildAnnouncement(g.Format, keywords(g.RoleID, s))
		if err != nil {
			n.l.Error("invalid announcement format", zap.String("guild", id), zap.Error(err))
			continue
		}
		if _, err := n.announcer.Announce(g.NotificationsChannelID, msg, g.Publish); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("guild %s: %w", id, err))
			continue
		}
		n.l.Info("announced stream", zap.String("guild", id), zap.String("channel", login))
	}

	return errs
}

func (n *notifier) hooks() notify.Hooks[Stream, Stream] {
	return notify.Hooks[Stream, Stream]{
		Keys:     n.channels,
		Fetch:    n.fetch,
		Diff:     wentLive,
		Announce: n.announce,
	}
}

type twitchNotifs struct{}

func (t *twitchNotifs) GetName() string {
	return Name
}

func (t *twitchNotifs) Start(ctx context.Context, helper module_manager.ModuleHelper) error {
	mc, err := config.DecodeModule[moduleConfig](helper.Configs(), Name)
	if err != nil {
		return err
	}

	c, err := NewConfig()
	if err != nil {
		return err
	}

	hc, err := httpclient.NewConfig()
	if err != nil {
		return err
	}

	pc := mc.pollerConfig()
	fetcher, err := newHelixFetcher(ctx, c, httpclient.New(hc, helper.Logger()), twitchEndpoints, pc.FetchTimeout)
	if err != nil {
		return err
	}

	n := &notifier{
		l:         helper.Logger(),
		configs:   helper.Configs(),
		fetcher:   fetcher,
		announcer: helper.Discord(),
	}

	poller, err := notify.New(pc, helper.Logger(), helper.Clock(), n.hooks(), helper.SnapshotStore("twitch"))
	if err != nil {
		return err
	}
	helper.Go(poller.Run)

	return nil
}

func Register() module_manager.Module {
	return &twitchNotifs{}
}
