package module_manager

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (m *ManagerImpl) handleMessageCreate(s *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Author == nil || e.Author.ID == m.discord.GetBotId() {
		return
	}
	m.dispatchHooks(&HookMsg{Message: e})
}

func (m *ManagerImpl) handleGuildMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	m.dispatchHooks(&HookMsg{MemberAdd: e})
}

// dispatchHooks sends an event to all registered hooks. A hook that does not
// accept the event in time misses it.
func (m *ManagerImpl) dispatchHooks(event *HookMsg) {
	m.mu.RLock()
	hooks := make([]*registeredHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.RUnlock()

	for _, h := range hooks {
		helper := m.helperFor(h.Module)
		if helper == nil {
			continue
		}

		msg := &HookMsg{
			Helper:    helper,
			Message:   event.Message,
			MemberAdd: event.MemberAdd,
		}

		timer := m.clock.NewTimer(commandTimeout)
		select {
		case h.Hook.Channel() <- msg:
			timer.Stop()
		case <-timer.Chan():
			m.l.Warn("hook did not accept event in time", zap.String("module", h.Module))
		case <-helper.ctx.Done():
			timer.Stop()
		}
	}
}
