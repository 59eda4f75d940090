// Package memberships makes sure every member of a configured guild holds its member role.
package memberships

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jirwin/daybreak/pkg/module_manager"
)

const (
	Name = "Memberships"

	sweepConcurrency = 5
	pageSize         = 1000
)

// Members is the member access the module needs from the gateway.
type Members interface {
	List(guildID string) ([]*discordgo.Member, error)
	AddRole(guildID, userID, roleID string) error
}

type sessionMembers struct {
	s *discordgo.Session
}

func (m *sessionMembers) List(guildID string) ([]*discordgo.Member, error) {
	var out []*discordgo.Member
	after := ""
	for {
		page, err := m.s.GuildMembers(guildID, after, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (m *sessionMembers) AddRole(guildID, userID, roleID string) error {
	return m.s.GuildMemberRoleAdd(guildID, userID, roleID)
}

type memberships struct {
	l       *zap.Logger
	members Members
	guilds  func() []*discordgo.Guild
	// memberRole returns the guild's configured member role, or "" when the guild is not configured.
	memberRole func(guildID string) (string, error)
}

func (m *memberships) GetName() string {
	return Name
}

func (m *memberships) Start(ctx context.Context, helper module_manager.ModuleHelper) error {
	m.l = helper.Logger()
	m.members = &sessionMembers{s: helper.Discord().Session()}
	m.guilds = helper.Discord().Guilds
	m.memberRole = func(guildID string) (string, error) {
		t, ok, err := helper.GuildConfig(guildID)
		if err != nil || !ok {
			return "", err
		}
		role, err := t.String("member_role")
		if err != nil {
			return "", err
		}
		return role, nil
	}

	helper.Go(m.sweep)

	return nil
}

func hasRole(member *discordgo.Member, roleID string) bool {
	for _, r := range member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func (m *memberships) grant(guildID string, member *discordgo.Member, roleID string) {
	if member.User == nil || member.User.Bot || hasRole(member, roleID) {
		return
	}
	if err := m.members.AddRole(guildID, member.User.ID, roleID); err != nil {
		m.l.Warn("unable to grant membership",
			zap.String("guild", guildID),
			zap.String("user", member.User.ID),
			zap.Error(err),
		)
	}
}

// sweep checks every member of every configured guild.
func (m *memberships) sweep(ctx context.Context) {
	sem := semaphore.NewWeighted(sweepConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, g := range m.guilds() {
		roleID, err := m.memberRole(g.ID)
		if err != nil {
			m.l.Error("invalid memberships config", zap.String("guild", g.ID), zap.Error(err))
			continue
		}
		if roleID == "" {
			m.l.Warn("memberships not configured", zap.String("guild", g.Name), zap.String("guild_id", g.ID))
			continue
		}

		members, err := m.members.List(g.ID)
		if err != nil {
			m.l.Error("unable to list members", zap.String("guild", g.ID), zap.Error(err))
			continue
		}

		for _, member := range members {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(guildID string, member *discordgo.Member) {
				defer wg.Done()
				defer sem.Release(1)
				m.grant(guildID, member, roleID)
			}(g.ID, member)
		}
	}
}

func (m *memberships) GetHooks() []module_manager.Hook {
	return []module_manager.Hook{
		module_manager.MakeHook(func(ctx context.Context, hookChan <-chan *module_manager.HookMsg) {
			for {
				select {
				case msg := <-hookChan:
					if msg.MemberAdd == nil || msg.MemberAdd.Member == nil {
						continue
					}
					m.onJoin(msg.MemberAdd.Member)
				case <-ctx.Done():
					return
				}
			}
		}),
	}
}

func (m *memberships) onJoin(member *discordgo.Member) {
	roleID, err := m.memberRole(member.GuildID)
	if err != nil {
		m.l.Error("invalid memberships config", zap.String("guild", member.GuildID), zap.Error(err))
		return
	}
	if roleID == "" {
		return
	}
	m.grant(member.GuildID, member, roleID)
}

func Register() module_manager.Module {
	return &memberships{}
}
