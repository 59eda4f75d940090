// Package utils holds the moderation commands: warn, kick, ban and timeout.
package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/discord_manager"
	"github.com/jirwin/daybreak/pkg/module_manager"
)

const (
	Name = "Utils"

	defaultReason       = "bad behaviour"
	defaultMaxWarnCount = 3
	defaultResetDays    = 30
	warnResetInterval   = 5 * time.Minute

	colorGreen      = 0x2ecc71
	colorBrandGreen = 0x57f287
	colorRed        = 0xe74c3c
)

var (
	permModerate int64 = discordgo.PermissionModerateMembers
	permKick     int64 = discordgo.PermissionKickMembers
	permBan      int64 = discordgo.PermissionBanMembers
)

type utilsModule struct {
	l         *zap.Logger
	clock     clockwork.Clock
	discord   discord_manager.Manager
	moderator Moderator
	warns     *warnStore
	resetDays int
}

func (u *utilsModule) GetName() string {
	return Name
}

func (u *utilsModule) Start(ctx context.Context, helper module_manager.ModuleHelper) error {
	u.l = helper.Logger()
	u.clock = helper.Clock()
	u.discord = helper.Discord()
	u.moderator = &sessionModerator{s: helper.Discord().Session()}

	t, err := helper.ModuleConfig()
	if err != nil {
		return err
	}
	u.resetDays, err = t.Int("warn_reset_days")
	if config.IsMissingAttribute(err) {
		u.resetDays, err = defaultResetDays, nil
	}
	if err != nil {
		return err
	}

	h, err := helper.Database().Connect(ctx)
	if err != nil {
		return err
	}
	u.warns = &warnStore{h: h}

	var guildIDs []string
	for _, g := range u.discord.Guilds() {
		guildIDs = append(guildIDs, g.ID)
	}
	if err := u.warns.ensureTables(ctx, guildIDs); err != nil {
		return err
	}

	helper.Go(u.runWarnResets)

	return nil
}

func (u *utilsModule) runWarnResets(ctx context.Context) {
	ticker := u.clock.NewTicker(warnResetInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			u.resetWarns(ctx, u.clock.Now())
		}
	}
}

func (u *utilsModule) resetWarns(ctx context.Context, now time.Time) {
	cutoff := now.Add(-time.Duration(u.resetDays) * 24 * time.Hour)
	n, err := u.warns.resetExpired(ctx, cutoff)
	if err != nil {
		u.l.Error("unable to reset warns", zap.Error(err))
		return
	}
	if n > 0 {
		u.l.Info("reset expired warns", zap.Int64("users", n))
	}
}

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    true,
	}
}

func reasonOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: description,
	}
}

func intOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
	}
}

func (u *utilsModule) GetCommands() []module_manager.Command {
	noDM := false
	return []module_manager.Command{
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:        "latency",
			Description: "shows bots latency",
		}, u.latency),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "btimeout",
			Description:              "timeouts a user",
			DefaultMemberPermissions: &permModerate,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user to timeout"),
				intOption("seconds", "how many seconds to timeout for"),
				intOption("minutes", "how many minutes to timeout for"),
				intOption("hours", "how many hours to timeout for"),
				intOption("days", "how many days to timeout for"),
				intOption("weeks", "how many weeks to timeout for"),
				reasonOption("reason for a timeout (default is 'bad behaviour')"),
			},
		}, u.timeout),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "bkick",
			Description:              "kicks a user",
			DefaultMemberPermissions: &permKick,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user to kick"),
				reasonOption("reason for a kick (default is 'bad behaviour')"),
			},
		}, u.kick),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "bban",
			Description:              "bans a user",
			DefaultMemberPermissions: &permBan,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user to ban"),
				intOption("days", "messages that will be deleted within this time"),
				reasonOption("reason for a ban (default is 'bad behaviour')"),
			},
		}, u.ban),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "warn",
			Description:              "warns user",
			DefaultMemberPermissions: &permBan,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user to warn"),
				reasonOption("reason for a warn (default is 'bad behaviour')"),
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "silent",
					Description: "silently warn a user (default is False)",
				},
			},
		}, u.warn),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "warns",
			Description:              "shows how many warns a user has",
			DefaultMemberPermissions: &permBan,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user to look up"),
			},
		}, u.warnCount),
	}
}

func success(description string) *module_manager.CommandResp {
	return &module_manager.CommandResp{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Success!",
			Description: description,
			Color:       colorGreen,
		}},
		Ephemeral: true,
	}
}

func (u *utilsModule) latency(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	ms := float64(u.discord.Latency()) / float64(time.Millisecond)
	return &module_manager.CommandResp{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Latency",
			Description: fmt.Sprintf("Bots latency is %.4f ms", ms),
			Color:       colorBrandGreen,
		}},
		Ephemeral: true,
	}
}

// target resolves the user option and checks that both the bot and the caller outrank it.
func (u *utilsModule) target(msg *module_manager.CommandMsg, perm int64) (*discordgo.Member, error) {
	if err := module_manager.RequirePermissions(msg, perm); err != nil {
		return nil, err
	}
	userID, err := optUser(msg, "user")
	if err != nil {
		return nil, err
	}

	guildID := msg.GuildID()
	guild, err := u.discord.GetGuild(guildID)
	if err != nil {
		return nil, err
	}
	bot, err := u.moderator.Member(guildID, u.discord.GetBotId())
	if err != nil {
		return nil, err
	}
	target, err := u.moderator.Member(guildID, userID)
	if err != nil {
		return nil, &module_manager.UserInputError{Message: "User is not a member of this server"}
	}

	names := module_manager.PermissionNames(perm)
	if !hasPrivilege(guild, bot, target) {
		return nil, &module_manager.MissingPermissionsError{
			Permissions: names,
			Detail:      fmt.Sprintf("User %s has higher or equal privilege. Bot is missing permissions", mention(userID)),
		}
	}
	if !hasPrivilege(guild, msg.Interaction.Member, target) {
		return nil, &module_manager.MissingPermissionsError{
			Permissions: names,
			Detail:      fmt.Sprintf("User %s has higher or equal privilege", mention(userID)),
		}
	}

	return target, nil
}

// forbidden turns a 403 from the API into a missing permission error.
func forbidden(err error, perm int64) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusForbidden {
		return &module_manager.MissingPermissionsError{
			Permissions: module_manager.PermissionNames(perm),
			Detail:      "Bot is missing permissions",
		}
	}
	return err
}

func (u *utilsModule) notify(userID string, embed *discordgo.MessageEmbed) {
	if err := u.moderator.Notify(userID, embed); err != nil {
		u.l.Debug("unable to notify user", zap.String("user", userID), zap.Error(err))
	}
}

func userEmbed(msg *module_manager.CommandMsg, title, reason string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: title,
		Color: colorRed,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reason", Value: reason, Inline: true},
		},
	}
	if caller := msg.User(); caller != nil {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: caller.Username, IconURL: caller.AvatarURL("")}
	}
	return embed
}

func (u *utilsModule) timeout(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	target, err := u.target(msg, discordgo.PermissionModerateMembers)
	if err != nil {
		return module_manager.Fail(err)
	}
	userID := target.User.ID
	reason := optString(msg, "reason", defaultReason)
	d := timeoutDuration(
		optInt(msg, "seconds"),
		optInt(msg, "minutes"),
		optInt(msg, "hours"),
		optInt(msg, "days"),
		optInt(msg, "weeks"),
	)

	if err := u.moderator.Timeout(msg.GuildID(), userID, u.clock.Now().Add(d), reason); err != nil {
		return module_manager.Fail(forbidden(err, discordgo.PermissionModerateMembers))
	}

	embed := userEmbed(msg, "Timeout!", reason)
	embed.Description = "You were put on a timeout"
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Duration", Value: d.String()})
	u.notify(userID, embed)

	return success(fmt.Sprintf("User %s was put on a timeout", mention(userID)))
}

func (u *utilsModule) kick(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	target, err := u.target(msg, discordgo.PermissionKickMembers)
	if err != nil {
		return module_manager.Fail(err)
	}
	userID := target.User.ID
	reason := optString(msg, "reason", defaultReason)

	// the DM has to go out while the user still shares a server with the bot
	u.notify(userID, userEmbed(msg, "You were kicked from the server", reason))

	if err := u.moderator.Kick(msg.GuildID(), userID, reason); err != nil {
		return module_manager.Fail(forbidden(err, discordgo.PermissionKickMembers))
	}

	return success(fmt.Sprintf("User %s was kicked from the server", mention(userID)))
}

func (u *utilsModule) ban(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	target, err := u.target(msg, discordgo.PermissionBanMembers)
	if err != nil {
		return module_manager.Fail(err)
	}
	userID := target.User.ID
	reason := optString(msg, "reason", defaultReason)
	days := int(optInt(msg, "days"))
	if days < 0 || days > 7 {
		return module_manager.Fail(&module_manager.UserInputError{Message: "days must be between 0 and 7"})
	}

	u.notify(userID, userEmbed(msg, "You were banned from the server", reason))

	if err := u.moderator.Ban(msg.GuildID(), userID, reason, days); err != nil {
		return module_manager.Fail(forbidden(err, discordgo.PermissionBanMembers))
	}

	return success(fmt.Sprintf("User %s was banned from the server", mention(userID)))
}

func (u *utilsModule) maxWarnCount(msg *module_manager.CommandMsg) (int, error) {
	t, ok, err := msg.Helper.GuildConfig(msg.GuildID())
	if err != nil {
		return 0, err
	}
	if !ok {
		if t, err = msg.Helper.ModuleConfig(); err != nil {
			return 0, err
		}
	}
	n, err := t.Int("max_warn_count")
	if config.IsMissingAttribute(err) {
		return defaultMaxWarnCount, nil
	}
	return n, err
}

func (u *utilsModule) warn(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	target, err := u.target(msg, discordgo.PermissionBanMembers)
	if err != nil {
		return module_manager.Fail(err)
	}
	userID := target.User.ID
	guildID := msg.GuildID()
	reason := optString(msg, "reason", defaultReason)

	maxWarns, err := u.maxWarnCount(msg)
	if err != nil {
		return module_manager.Fail(err)
	}

	count, err := u.warns.warn(ctx, guildID, userID, u.clock.Now())
	if err != nil {
		return module_manager.Fail(err)
	}

	if count >= maxWarns {
		u.notify(userID, userEmbed(msg, "You exceeded the number of warns; You have been banned", reason))
		if err := u.moderator.Ban(guildID, userID, reason, 0); err != nil {
			return module_manager.Fail(forbidden(err, discordgo.PermissionBanMembers))
		}
		return success(fmt.Sprintf("User %s had exceeded the number of warns, and was banned from the server", mention(userID)))
	}

	if !optBool(msg, "silent") {
		u.notify(userID, userEmbed(msg, fmt.Sprintf("You have been given a warning. Current warn count: %d", count), reason))
	}

	return success(fmt.Sprintf("User %s was given a warning. Current warn count: %d", mention(userID), count))
}

func (u *utilsModule) warnCount(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	if err := module_manager.RequirePermissions(msg, discordgo.PermissionBanMembers); err != nil {
		return module_manager.Fail(err)
	}
	userID, err := optUser(msg, "user")
	if err != nil {
		return module_manager.Fail(err)
	}

	count, err := u.warns.count(ctx, msg.GuildID(), userID)
	if err != nil {
		return module_manager.Fail(err)
	}

	return &module_manager.CommandResp{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Warns",
			Description: fmt.Sprintf("User %s has %d warn(s)", mention(userID), count),
			Color:       colorGreen,
		}},
		Ephemeral: true,
	}
}

func Register() module_manager.Module {
	return &utilsModule{}
}
