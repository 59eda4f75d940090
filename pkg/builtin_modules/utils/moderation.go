package utils

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Moderator performs moderation actions against a guild.
type Moderator interface {
	Member(guildID, userID string) (*discordgo.Member, error)
	Kick(guildID, userID, reason string) error
	Ban(guildID, userID, reason string, deleteDays int) error
	Timeout(guildID, userID string, until time.Time, reason string) error
	// Notify sends a direct message. Failures are not fatal to the caller.
	Notify(userID string, embed *discordgo.MessageEmbed) error
}

type sessionModerator struct {
	s *discordgo.Session
}

func (m *sessionModerator) Member(guildID, userID string) (*discordgo.Member, error) {
	if mem, err := m.s.State.Member(guildID, userID); err == nil {
		return mem, nil
	}
	return m.s.GuildMember(guildID, userID)
}

func (m *sessionModerator) Kick(guildID, userID, reason string) error {
	return m.s.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (m *sessionModerator) Ban(guildID, userID, reason string, deleteDays int) error {
	return m.s.GuildBanCreateWithReason(guildID, userID, reason, deleteDays)
}

func (m *sessionModerator) Timeout(guildID, userID string, until time.Time, reason string) error {
	return m.s.GuildMemberTimeout(guildID, userID, &until, discordgo.WithAuditLogReason(reason))
}

func (m *sessionModerator) Notify(userID string, embed *discordgo.MessageEmbed) error {
	ch, err := m.s.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = m.s.ChannelMessageSendEmbed(ch.ID, embed)
	return err
}

func topRolePosition(g *discordgo.Guild, m *discordgo.Member) int {
	positions := make(map[string]int, len(g.Roles))
	for _, r := range g.Roles {
		positions[r.ID] = r.Position
	}

	top := 0
	for _, id := range m.Roles {
		if p, ok := positions[id]; ok && p > top {
			top = p
		}
	}
	return top
}

func memberID(m *discordgo.Member) string {
	if m == nil || m.User == nil {
		return ""
	}
	return m.User.ID
}

// hasPrivilege reports whether caller outranks target. The guild owner outranks
// everyone and can never be a target.
func hasPrivilege(g *discordgo.Guild, caller, target *discordgo.Member) bool {
	if memberID(target) == g.OwnerID {
		return false
	}
	if memberID(caller) == g.OwnerID {
		return true
	}
	return topRolePosition(g, caller) > topRolePosition(g, target)
}

// timeoutDuration sums the duration options. Anything under 100ms becomes a minute.
func timeoutDuration(seconds, minutes, hours, days, weeks int64) time.Duration {
	d := time.Duration(seconds)*time.Second +
		time.Duration(minutes)*time.Minute +
		time.Duration(hours)*time.Hour +
		time.Duration(days)*24*time.Hour +
		time.Duration(weeks)*7*24*time.Hour
	if d < 100*time.Millisecond {
		d = 60 * time.Second
	}
	return d
}

func mention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}
