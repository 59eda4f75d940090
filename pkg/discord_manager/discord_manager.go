package discord_manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Config struct {
	ApiKey string
	Debug  bool
}

func NewConfig() (Config, error) {
	c := Config{}

	apiKey := os.Getenv("DISCORD_API_KEY")
	if apiKey == "" {
		return Config{}, fmt.Errorf("DISCORD_API_KEY must be set")
	}
	c.ApiKey = apiKey

	if os.Getenv("DISCORD_DEBUG") != "" {
		c.Debug = true
	}

	return c, nil
}

type discordState struct {
	sync.RWMutex

	BotID    string
	AppID    string
	OwnerIDs map[string]struct{}
	Guilds   map[string]*discordgo.Guild
	Channels map[string]*discordgo.Channel
}

func newDiscordState() *discordState {
	return &discordState{
		OwnerIDs: make(map[string]struct{}),
		Guilds:   make(map[string]*discordgo.Guild),
		Channels: make(map[string]*discordgo.Channel),
	}
}

type Manager interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
	Stop()
	AddHandler(handler interface{}) func()
	GetBotId() string
	Guilds() []*discordgo.Guild
	GetGuild(guildID string) (*discordgo.Guild, error)
	GetChannel(chanID string) (*discordgo.Channel, error)
	Say(chanID string, text string) (*discordgo.Message, error)
	Announce(chanID string, msg *discordgo.MessageSend, publish bool) (*discordgo.Message, error)
	Respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error
	FollowUp(i *discordgo.Interaction, params *discordgo.WebhookParams) (*discordgo.Message, error)
	SyncCommands(commands []*discordgo.ApplicationCommand) error
	Latency() time.Duration
	IsOwner(userID string) bool
	Session() *discordgo.Session
}

type ManagerImpl struct {
	l       *zap.Logger
	c       Config
	session *discordgo.Session
	state   *discordState
	ctx     context.Context
	cancel  context.CancelFunc
}

func (m *ManagerImpl) Done() <-chan struct{} {
	return m.ctx.Done()
}

func (m *ManagerImpl) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if err := m.session.Close(); err != nil {
		m.l.Error("error closing discord session", zap.Error(err))
	}
}

func (m *ManagerImpl) Session() *discordgo.Session {
	return m.session
}

// AddHandler registers a discordgo event handler and returns its remover.
func (m *ManagerImpl) AddHandler(handler interface{}) func() {
	return m.session.AddHandler(handler)
}

func (m *ManagerImpl) updateGuild(g *discordgo.Guild) {
	m.state.Lock()
	defer m.state.Unlock()

	m.state.Guilds[g.ID] = g
	for _, c := range g.Channels {
		m.state.Channels[c.ID] = c
	}
}

func (m *ManagerImpl) removeGuild(guildID string) {
	m.state.Lock()
	defer m.state.Unlock()

	delete(m.state.Guilds, guildID)
	for id, c := range m.state.Channels {
		if c.GuildID == guildID {
			delete(m.state.Channels, id)
		}
	}
}

func (m *ManagerImpl) updateChannel(c *discordgo.Channel) {
	m.state.Lock()
	defer m.state.Unlock()

	m.state.Channels[c.ID] = c
}

func (m *ManagerImpl) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildCreate) {
		m.updateGuild(e.Guild)
	})
	m.session.AddHandler(func(s *discordgo.Session, e *discordgo.GuildDelete) {
		m.removeGuild(e.Guild.ID)
	})
	m.session.AddHandler(func(s *discordgo.Session, e *discordgo.ChannelCreate) {
		m.updateChannel(e.Channel)
	})
	m.session.AddHandler(func(s *discordgo.Session, e *discordgo.ChannelUpdate) {
		m.updateChannel(e.Channel)
	})

	if err := m.session.Open(); err != nil {
		m.l.Error("Unable to open gateway session", zap.Error(err))
		return err
	}

	app, err := m.session.Application("@me")
	if err != nil {
		m.l.Error("Unable to fetch application", zap.Error(err))
		return err
	}

	m.state.Lock()
	defer m.state.Unlock()

	m.state.BotID = m.session.State.User.ID
	m.state.AppID = app.ID
	if app.Owner != nil {
		m.state.OwnerIDs[app.Owner.ID] = struct{}{}
	}
	if app.Team != nil {
		for _, member := range app.Team.Members {
			if member.User != nil {
				m.state.OwnerIDs[member.User.ID] = struct{}{}
			}
		}
	}

	m.l.Info("connected to gateway", zap.String("bot_id", m.state.BotID))

	return nil
}

// GetBotId returns the user ID of the bot.
func (m *ManagerImpl) GetBotId() string {
	m.state.RLock()
	defer m.state.RUnlock()

	return m.state.BotID
}

// IsOwner reports whether userID owns the bot application.
func (m *ManagerImpl) IsOwner(userID string) bool {
	m.state.RLock()
	defer m.state.RUnlock()

	_, ok := m.state.OwnerIDs[userID]
	return ok
}

// Guilds returns the cached guilds ordered by ID.
func (m *ManagerImpl) Guilds() []*discordgo.Guild {
	m.state.RLock()
	defer m.state.RUnlock()

	out := make([]*discordgo.Guild, 0, len(m.state.Guilds))
	for _, g := range m.state.Guilds {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (m *ManagerImpl) GetGuild(guildID string) (*discordgo.Guild, error) {
	m.state.RLock()
	g, ok := m.state.Guilds[guildID]
	m.state.RUnlock()
	if ok {
		return g, nil
	}

	g, err := m.session.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("Guild(%s) not found: %w", guildID, err)
	}
	m.updateGuild(g)

	return g, nil
}

// GetChannel returns a channel from the cache, falling back to the API.
func (m *ManagerImpl) GetChannel(chanID string) (*discordgo.Channel, error) {
	m.state.RLock()
	c, ok := m.state.Channels[chanID]
	m.state.RUnlock()
	if ok {
		return c, nil
	}

	c, err := m.session.Channel(chanID)
	if err != nil {
		return nil, fmt.Errorf("Channel(%s) not found: %w", chanID, err)
	}
	m.updateChannel(c)

	return c, nil
}

func (m *ManagerImpl) Say(chanID string, text string) (*discordgo.Message, error) {
	return m.session.ChannelMessageSend(chanID, text)
}

// Announce sends msg to the channel and, if publish is set and the channel is
// an announcement channel, crossposts it to followers.
func (m *ManagerImpl) Announce(chanID string, msg *discordgo.MessageSend, publish bool) (*discordgo.Message, error) {
	sent, err := m.session.ChannelMessageSendComplex(chanID, msg)
	if err != nil {
		return nil, err
	}

	if !publish {
		return sent, nil
	}

	c, err := m.GetChannel(chanID)
	if err != nil {
		m.l.Warn("unable to resolve channel for publishing", zap.String("channel", chanID), zap.Error(err))
		return sent, nil
	}
	if c.Type != discordgo.ChannelTypeGuildNews {
		return sent, nil
	}

	if _, err := m.session.ChannelMessageCrosspost(chanID, sent.ID); err != nil {
		m.l.Warn("unable to publish announcement", zap.String("channel", chanID), zap.Error(err))
	}

	return sent, nil
}

func (m *ManagerImpl) Respond(i *discordgo.Interaction, resp *discordgo.InteractionResponse) error {
	return m.session.InteractionRespond(i, resp)
}

func (m *ManagerImpl) FollowUp(i *discordgo.Interaction, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	return m.session.FollowupMessageCreate(i, true, params)
}

// SyncCommands replaces the bot's global application commands.
func (m *ManagerImpl) SyncCommands(commands []*discordgo.ApplicationCommand) error {
	m.state.RLock()
	appID := m.state.AppID
	m.state.RUnlock()

	if appID == "" {
		return errors.New("gateway not started")
	}

	synced, err := m.session.ApplicationCommandBulkOverwrite(appID, "", commands)
	if err != nil {
		return err
	}

	m.l.Info("synced application commands", zap.Int("count", len(synced)))
	return nil
}

func (m *ManagerImpl) Latency() time.Duration {
	return m.session.HeartbeatLatency()
}

func New(l *zap.Logger, c Config, httpClient *http.Client) (*ManagerImpl, error) {
	session, err := discordgo.New("Bot " + c.ApiKey)
	if err != nil {
		return nil, err
	}
	session.Client = httpClient
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages
	if c.Debug {
		session.LogLevel = discordgo.LogDebug
	}

	m := &ManagerImpl{
		l:       l.Named("discord-manager"),
		c:       c,
		session: session,
		state:   newDiscordState(),
		ctx:     context.Background(),
	}

	return m, nil
}
