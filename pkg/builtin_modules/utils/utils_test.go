package utils

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/data_store/sqlite"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/module_manager"
)

var testGuild = &discordgo.Guild{
	ID:      "100",
	OwnerID: "9",
	Roles: []*discordgo.Role{
		{ID: "admin", Position: 10},
		{ID: "bot", Position: 8},
		{ID: "mod", Position: 5},
		{ID: "member", Position: 1},
	},
}

func member(id string, roles ...string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Username: "user" + id}, Roles: roles}
}

type fakeDiscord struct {
	discord_manager.Manager
}

func (f *fakeDiscord) GetGuild(guildID string) (*discordgo.Guild, error) {
	if guildID != testGuild.ID {
		return nil, errors.New("unknown guild")
	}
	return testGuild, nil
}

func (f *fakeDiscord) GetBotId() string {
	return "2"
}

func (f *fakeDiscord) Latency() time.Duration {
	return 42 * time.Millisecond
}

type fakeModerator struct {
	mu       sync.Mutex
	members  map[string]*discordgo.Member
	banned   []string
	kicked   []string
	notified []string
	banErr   error
}

func newFakeModerator() *fakeModerator {
	return &fakeModerator{members: map[string]*discordgo.Member{
		"1": member("1", "mod"),
		"2": member("2", "bot"),
		"3": member("3", "member"),
		"4": member("4", "admin"),
		"9": member("9"),
	}}
}

func (f *fakeModerator) Member(guildID, userID string) (*discordgo.Member, error) {
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return nil, errors.New("unknown member")
}

func (f *fakeModerator) Kick(guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, userID)
	return nil
}

func (f *fakeModerator) Ban(guildID, userID, reason string, deleteDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banErr != nil {
		return f.banErr
	}
	f.banned = append(f.banned, userID)
	return nil
}

func (f *fakeModerator) Timeout(guildID, userID string, until time.Time, reason string) error {
	return nil
}

func (f *fakeModerator) Notify(userID string, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, embed.Title)
	return nil
}

type fakeHelper struct {
	module_manager.ModuleHelper
	configs *config.Resolver
}

func (h *fakeHelper) ModuleConfig() (*config.Tree, error) {
	return h.configs.LoadModuleConfig(Name)
}

func (h *fakeHelper) GuildConfig(guildID string) (*config.Tree, bool, error) {
	return h.configs.ResolveGuild(guildID, Name)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

type testEnv struct {
	u         *utilsModule
	moderator *fakeModerator
	helper    *fakeHelper
	clock     clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "modules", "Utils.json"), `{"max_warn_count": 5, "warn_reset_days": 30}`)
	writeFile(t, filepath.Join(dir, "guilds", "100", "Utils.json"), `{"max_warn_count": 2}`)

	a := sqlite.NewAdapter(sqlite.Config{VarDir: t.TempDir()}, zap.NewNop(), Name)
	t.Cleanup(func() { _ = a.Close() })
	h, err := a.Connect(context.Background())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	moderator := newFakeModerator()
	return &testEnv{
		u: &utilsModule{
			l:         zap.NewNop(),
			clock:     clock,
			discord:   &fakeDiscord{},
			moderator: moderator,
			warns:     &warnStore{h: h},
			resetDays: 30,
		},
		moderator: moderator,
		helper:    &fakeHelper{configs: config.New(config.Config{ConfigsDir: dir}, zap.NewNop())},
		clock:     clock,
	}
}

func (e *testEnv) msg(guildID string, caller *discordgo.Member, perms int64, opts ...*discordgo.ApplicationCommandInteractionDataOption) *module_manager.CommandMsg {
	caller.Permissions = perms
	return &module_manager.CommandMsg{
		Helper: e.helper,
		Interaction: &discordgo.Interaction{
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: guildID,
			Member:  caller,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    "warn",
				Options: opts,
			},
		},
	}
}

func userOpt(id string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: id}
}

func TestHasPrivilege(t *testing.T) {
	tests := []struct {
		name   string
		caller *discordgo.Member
		target *discordgo.Member
		want   bool
	}{
		{"higher role", member("1", "mod"), member("3", "member"), true},
		{"equal role", member("1", "mod"), member("5", "mod"), false},
		{"lower role", member("1", "mod"), member("4", "admin"), false},
		{"owner caller", member("9"), member("4", "admin"), true},
		{"owner target", member("4", "admin"), member("9"), false},
		{"no roles", member("6"), member("7"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasPrivilege(testGuild, tt.caller, tt.target))
		})
	}
}

func TestTimeoutDuration(t *testing.T) {
	assert.Equal(t, 60*time.Second, timeoutDuration(0, 0, 0, 0, 0))
	assert.Equal(t, 90*time.Second, timeoutDuration(30, 1, 0, 0, 0))
	assert.Equal(t, 8*24*time.Hour+time.Hour, timeoutDuration(0, 0, 1, 1, 1))
}

func TestWarn_BansAtGuildLimit(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	resp := e.u.warn(ctx, e.msg("100", member("1", "mod"), discordgo.PermissionBanMembers, userOpt("3")))
	require.NoError(t, resp.Err)
	assert.Equal(t, "User <@3> was given a warning. Current warn count: 1", resp.Embeds[0].Description)
	assert.Empty(t, e.moderator.banned)
	assert.Equal(t, []string{"You have been given a warning. Current warn count: 1"}, e.moderator.notified)

	resp = e.u.warn(ctx, e.msg("100", member("1", "mod"), discordgo.PermissionBanMembers, userOpt("3")))
	require.NoError(t, resp.Err)
	assert.Equal(t, "User <@3> had exceeded the number of warns, and was banned from the server", resp.Embeds[0].Description)
	assert.Equal(t, []string{"3"}, e.moderator.banned)
}

func TestWarn_Silent(t *testing.T) {
	e := newTestEnv(t)

	silent := &discordgo.ApplicationCommandInteractionDataOption{Name: "silent", Type: discordgo.ApplicationCommandOptionBoolean, Value: true}
	resp := e.u.warn(context.Background(), e.msg("100", member("1", "mod"), discordgo.PermissionBanMembers, userOpt("3"), silent))
	require.NoError(t, resp.Err)
	assert.Empty(t, e.moderator.notified)
}

func TestMaxWarnCount_FallsBackToModule(t *testing.T) {
	e := newTestEnv(t)

	n, err := e.u.maxWarnCount(e.msg("100", member("1"), 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.u.maxWarnCount(e.msg("200", member("1"), 0))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestWarn_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		caller *discordgo.Member
		perms  int64
		target string
		detail string
	}{
		{"caller lacks permission", member("1", "mod"), discordgo.PermissionSendMessages, "3", ""},
		{"target outranks caller", member("5", "member"), discordgo.PermissionBanMembers, "1", "User <@1> has higher or equal privilege"},
		{"target outranks bot", member("1", "mod"), discordgo.PermissionBanMembers, "4", "User <@4> has higher or equal privilege. Bot is missing permissions"},
		{"target is owner", member("4", "admin"), discordgo.PermissionAdministrator, "9", "User <@9> has higher or equal privilege. Bot is missing permissions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			resp := e.u.warn(context.Background(), e.msg("100", tt.caller, tt.perms, userOpt(tt.target)))
			require.NotNil(t, resp)

			var mpe *module_manager.MissingPermissionsError
			require.True(t, errors.As(resp.Err, &mpe))
			assert.Equal(t, []string{"Ban Members"}, mpe.Permissions)
			assert.Equal(t, tt.detail, mpe.Detail)
			assert.Empty(t, e.moderator.banned)
		})
	}
}

func TestWarn_ForbiddenBan(t *testing.T) {
	e := newTestEnv(t)
	e.moderator.banErr = &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp := e.u.warn(ctx, e.msg("100", member("1", "mod"), discordgo.PermissionBanMembers, userOpt("3")))
		if i == 0 {
			require.NoError(t, resp.Err)
			continue
		}
		var mpe *module_manager.MissingPermissionsError
		require.True(t, errors.As(resp.Err, &mpe))
		assert.Equal(t, "Bot is missing permissions", mpe.Detail)
	}
}

func TestWarnResets(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.u.warns.warn(ctx, "100", "3", e.clock.Now())
	require.NoError(t, err)
	_, err = e.u.warns.warn(ctx, "100", "4", e.clock.Now().Add(20*24*time.Hour))
	require.NoError(t, err)

	n, err := e.u.warns.resetExpired(ctx, e.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.u.runWarnResets(runCtx)
	}()

	e.clock.Advance(31 * 24 * time.Hour)
	assert.Eventually(t, func() bool {
		e.clock.Advance(warnResetInterval)
		c, err := e.u.warns.count(ctx, "100", "3")
		return err == nil && c == 0
	}, 5*time.Second, 10*time.Millisecond)

	c, err := e.u.warns.count(ctx, "100", "4")
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	cancel()
	<-done
}

func TestLatency(t *testing.T) {
	e := newTestEnv(t)
	resp := e.u.latency(context.Background(), e.msg("100", member("1"), 0))
	require.Len(t, resp.Embeds, 1)
	assert.Equal(t, "Bots latency is 42.0000 ms", resp.Embeds[0].Description)
	assert.True(t, resp.Ephemeral)
}
