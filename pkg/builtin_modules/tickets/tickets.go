// Package tickets lets members report other members into private moderation threads.
package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/data_store/sqlite"
	"github.com/jirwin/daybreak/pkg/module_manager"
)

const (
	Name = "Tickets"

	defaultMaxTicketCount = 3

	statusOpen   = 0
	statusClosed = 1

	colorGreen  = 0x2ecc71
	colorOrange = 0xe67e22
)

const reportsDDL = `CREATE TABLE IF NOT EXISTS reports (
	TicketThreadId INTEGER PRIMARY KEY,
	TicketCreatorId INTEGER,
	TicketReportedId INTEGER,
	TicketCreationDate INTEGER,
	TicketStatus INTEGER DEFAULT 0
);`

var errNotEnabled = &module_manager.CommandError{Message: "Please contact your server administrator to enable `/report` feature"}

type guildConfig struct {
	TicketsChannel  string   `mapstructure:"tickets_channel"`
	ModerationRoles []string `mapstructure:"moderation_roles"`
}

type tickets struct {
	l        *zap.Logger
	clock    clockwork.Clock
	h        *sqlite.Handle
	threads  Threads
	guilds   func(guildID string) (*discordgo.Guild, error)
	maxCount int
}

func (t *tickets) GetName() string {
	return Name
}

func (t *tickets) Start(ctx context.Context, helper module_manager.ModuleHelper) error {
	t.l = helper.Logger()
	t.clock = helper.Clock()
	t.threads = &sessionThreads{s: helper.Discord().Session()}
	t.guilds = helper.Discord().GetGuild

	mc, err := helper.ModuleConfig()
	if err != nil {
		return err
	}
	t.maxCount, err = mc.Int("max_ticket_count")
	if config.IsMissingAttribute(err) {
		t.maxCount, err = defaultMaxTicketCount, nil
	}
	if err != nil {
		return err
	}

	t.h, err = helper.Database().Connect(ctx)
	if err != nil {
		return err
	}

	return t.h.Cursor(ctx, func(cur *sqlite.Cursor) error {
		_, err := cur.Exec(ctx, reportsDDL)
		return err
	})
}

func (t *tickets) GetCommands() []module_manager.Command {
	noDM := false
	return []module_manager.Command{
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:         "report",
			Description:  "reports user",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "reason for the report",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "user that will be reported",
					Required:    true,
				},
			},
		}, t.report),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:         "report-close",
			Description:  "closes the report",
			DMPermission: &noDM,
		}, t.reportClose),
	}
}

func snowflake(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", id)
	}
	return v, nil
}

// displayName prefers the resolved member nickname, then the username.
func displayName(msg *module_manager.CommandMsg, userID string) string {
	data := msg.Interaction.ApplicationCommandData()
	if data.Resolved != nil {
		if m, ok := data.Resolved.Members[userID]; ok && m.Nick != "" {
			return m.Nick
		}
		if u, ok := data.Resolved.Users[userID]; ok && u.Username != "" {
			return u.Username
		}
	}
	return userID
}

func threadName(reported, reportedID, reason string) string {
	short := reason
	if len([]rune(short)) > 16 {
		short = string([]rune(short)[:16])
	}
	suffix := ""
	if len([]rune(reason)) >= 16 {
		suffix = "..."
	}
	return fmt.Sprintf("Report on '%s/%s' for '%s%s'", reported, reportedID, short, suffix)
}

func (t *tickets) guildConfig(msg *module_manager.CommandMsg) (guildConfig, error) {
	var gc guildConfig
	tree, ok, err := msg.Helper.GuildConfig(msg.GuildID())
	if err != nil {
		return gc, err
	}
	if !ok {
		return gc, errNotEnabled
	}
	if err := tree.Decode(&gc); err != nil {
		return gc, err
	}
	if gc.TicketsChannel == "" {
		return gc, errNotEnabled
	}
	return gc, nil
}

// pingRoles mentions the configured moderation roles that still exist in the guild.
func (t *tickets) pingRoles(guildID string, roleIDs []string) string {
	known := map[string]bool{}
	if g, err := t.guilds(guildID); err == nil {
		for _, r := range g.Roles {
			known[r.ID] = true
		}
	} else {
		for _, id := range roleIDs {
			known[id] = true
		}
	}

	var mentions []string
	for _, id := range roleIDs {
		if known[id] {
			mentions = append(mentions, fmt.Sprintf("<@&%s>", id))
		}
	}
	return strings.Join(mentions, "; ")
}

func (t *tickets) report(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	caller := msg.User()
	if msg.Interaction.Member == nil || caller == nil {
		return module_manager.Fail(&module_manager.CommandError{Message: "This command can only be used in a server."})
	}

	opts := msg.Options()
	userOpt, ok := opts["user"]
	if !ok {
		return module_manager.Fail(&module_manager.UserInputError{Message: "A user is required"})
	}
	reportedID := userOpt.UserValue(nil).ID
	reason := ""
	if r, ok := opts["reason"]; ok {
		reason = r.StringValue()
	}

	if reportedID == caller.ID {
		return module_manager.Fail(&module_manager.UserInputError{Message: "Cannot report yourself"})
	}

	creator, err := snowflake(caller.ID)
	if err != nil {
		return module_manager.Fail(err)
	}
	reported, err := snowflake(reportedID)
	if err != nil {
		return module_manager.Fail(err)
	}

	gc, err := t.guildConfig(msg)
	if err != nil {
		return module_manager.Fail(err)
	}

	var thread *discordgo.Channel
	created := t.clock.Now().Unix()
	err = t.h.Cursor(ctx, func(cur *sqlite.Cursor) error {
		var open int
		err := cur.QueryRow(ctx, "SELECT COUNT(*) FROM reports WHERE TicketCreatorId = ? AND TicketStatus = ?", creator, statusOpen).Scan(&open)
		if err != nil {
			return err
		}
		if open >= t.maxCount {
			return &module_manager.CommandError{Message: "Maximum number of tickets reached"}
		}

		thread, err = t.threads.CreatePrivateThread(
			gc.TicketsChannel,
			threadName(displayName(msg, reportedID), reportedID, reason),
			fmt.Sprintf("Report of '%s' by '%s'", displayName(msg, reportedID), caller.Username),
		)
		if err != nil {
			t.l.Warn("unable to create ticket thread", zap.String("channel", gc.TicketsChannel), zap.Error(err))
			return errNotEnabled
		}
		threadID, err := snowflake(thread.ID)
		if err != nil {
			return err
		}

		_, err = cur.Exec(ctx, "INSERT INTO reports VALUES (?, ?, ?, ?, ?)", threadID, creator, reported, created, statusOpen)
		return err
	})
	if err != nil {
		return module_manager.Fail(err)
	}

	if err := t.threads.AddMember(thread.ID, caller.ID); err != nil {
		t.l.Warn("unable to add reporter to thread", zap.String("thread", thread.ID), zap.Error(err))
	}

	err = t.threads.Send(thread.ID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title: "Ticket #" + thread.ID,
			Description: fmt.Sprintf("Ticket ID: %s\nTicket Creator: <@%s>\nReported User: <@%s>\nReport Reason: %s\nTicket Creation Date: <t:%d:D>",
				thread.ID, caller.ID, reportedID, reason, created),
			Color: colorOrange,
		}},
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
	if err != nil {
		t.l.Warn("unable to post ticket details", zap.String("thread", thread.ID), zap.Error(err))
	}

	if ping := t.pingRoles(msg.GuildID(), gc.ModerationRoles); ping != "" {
		err := t.threads.Send(thread.ID, &discordgo.MessageSend{
			Content: "Moderation team: " + ping,
			AllowedMentions: &discordgo.MessageAllowedMentions{
				Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles},
			},
		})
		if err != nil {
			t.l.Warn("unable to ping moderators", zap.String("thread", thread.ID), zap.Error(err))
		}
	}

	return &module_manager.CommandResp{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Success!",
			Description: fmt.Sprintf("Your ticket was successfully created;\nYou can add any additional information about the report in <#%s>", thread.ID),
			Color:       colorGreen,
		}},
		Ephemeral: true,
	}
}

func (t *tickets) reportClose(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	caller := msg.User()
	member := msg.Interaction.Member
	if member == nil || caller == nil {
		return module_manager.Fail(&module_manager.CommandError{Message: "This command can only be used in a server."})
	}

	threadID := msg.Interaction.ChannelID
	tid, err := snowflake(threadID)
	if err != nil {
		return module_manager.Fail(&module_manager.UserInputError{Message: "Wrong channel"})
	}

	var reason string
	err = t.h.Cursor(ctx, func(cur *sqlite.Cursor) error {
		var creator int64
		err := cur.QueryRow(ctx, "SELECT TicketCreatorId FROM reports WHERE TicketThreadId = ?", tid).Scan(&creator)
		if errors.Is(err, sql.ErrNoRows) {
			return &module_manager.UserInputError{Message: "Wrong channel"}
		}
		if err != nil {
			return err
		}

		if strconv.FormatInt(creator, 10) != caller.ID {
			if err := module_manager.RequirePermissions(msg, discordgo.PermissionManageThreads); err != nil {
				return err
			}
			reason = "Closed by administrator"
		} else {
			reason = "Closed by user"
		}

		if _, err := cur.Exec(ctx, "UPDATE reports SET TicketStatus = ? WHERE TicketThreadId = ?", statusClosed, tid); err != nil {
			return err
		}
		return t.threads.Lock(threadID, reason)
	})
	if err != nil {
		return module_manager.Fail(err)
	}

	return &module_manager.CommandResp{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Success!",
			Description: fmt.Sprintf("Ticket #%s closed;\nReason: '%s'", threadID, reason),
			Color:       colorGreen,
		}},
	}
}

func Register() module_manager.Module {
	return &tickets{}
}
