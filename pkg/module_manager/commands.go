package module_manager

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	commandTimeout = 2500 * time.Millisecond
	// interaction tokens expire after 15 minutes
	followUpTimeout = 14 * time.Minute
)

func (m *ManagerImpl) handleInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return
	}
	go m.dispatchCommand(ic.Interaction)
}

// getCommand returns the registeredCommand for the provided command name
func (m *ManagerImpl) getCommand(name string) *registeredCommand {
	if name == "" {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if cmd, ok := m.commands[name]; ok {
		return cmd
	}

	return nil
}

func (m *ManagerImpl) helperFor(module string) *moduleHelper {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lm, ok := m.running[module]
	if !ok {
		return nil
	}
	return lm.helper
}

func (m *ManagerImpl) lookupCommand(name string) (*registeredCommand, *moduleHelper) {
	rc := m.getCommand(name)
	if rc == nil {
		return nil, nil
	}
	return rc, m.helperFor(rc.Module)
}

// dispatchCommand sends an invocation to the module that registered it and
// answers the interaction with whatever the module replies. A reply that is
// not ready in time is delivered as a follow-up to a deferred response.
func (m *ManagerImpl) dispatchCommand(i *discordgo.Interaction) {
	name := i.ApplicationCommandData().Name
	l := m.l.With(zap.String("command", name))

	rc, helper := m.lookupCommand(name)
	if (rc == nil || helper == nil) && m.awaitReloads() {
		rc, helper = m.lookupCommand(name)
	}
	if rc == nil || helper == nil {
		l.Warn("received unknown command")
		m.deliver(i, nil, &CommandResp{Err: &CommandError{Message: "This command is not available right now."}}, false)
		return
	}

	msg := &CommandMsg{
		Helper:       helper,
		Interaction:  i,
		responseChan: make(chan *CommandResp, 1),
	}

	sendTimer := m.clock.NewTimer(commandTimeout)
	select {
	case rc.Command.Channel() <- msg:
		sendTimer.Stop()
	case <-sendTimer.Chan():
		l.Warn("command did not accept invocation in time")
		m.deliver(i, msg, &CommandResp{Err: &CommandError{Message: "This command is busy, try again shortly."}}, false)
		return
	case <-m.ctx.Done():
		return
	}

	replyTimer := m.clock.NewTimer(commandTimeout)
	select {
	case resp := <-msg.responseChan:
		replyTimer.Stop()
		m.deliver(i, msg, resp, false)
		return
	case <-replyTimer.Chan():
	case <-m.ctx.Done():
		return
	}

	err := m.discord.Respond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		l.Error("unable to defer response", zap.Error(err))
	}

	followUpTimer := m.clock.NewTimer(followUpTimeout)
	defer followUpTimer.Stop()
	select {
	case resp := <-msg.responseChan:
		m.deliver(i, msg, resp, true)
	case <-followUpTimer.Chan():
		l.Error("command never replied")
		m.deliver(i, msg, &CommandResp{Err: fmt.Errorf("command %s timed out", name)}, true)
	case <-m.ctx.Done():
	}
}

// deliver renders resp, running errors through the error responder.
func (m *ManagerImpl) deliver(i *discordgo.Interaction, msg *CommandMsg, resp *CommandResp, deferred bool) {
	name := i.ApplicationCommandData().Name

	if resp == nil {
		commandsTotal.WithLabelValues(name, "handled").Inc()
		return
	}

	if resp.Err != nil {
		commandsTotal.WithLabelValues(name, "error").Inc()
		resp = m.respondToError(msg, resp.Err)
	} else {
		commandsTotal.WithLabelValues(name, "ok").Inc()
	}

	var flags discordgo.MessageFlags
	if resp.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	if !deferred {
		err := m.discord.Respond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: resp.Text,
				Embeds:  resp.Embeds,
				Flags:   flags,
			},
		})
		if err != nil {
			m.l.Error("error responding to command", zap.String("command", name), zap.Error(err))
		}
		return
	}

	_, err := m.discord.FollowUp(i, &discordgo.WebhookParams{
		Content: resp.Text,
		Embeds:  resp.Embeds,
		Flags:   flags,
	})
	if err != nil {
		m.l.Error("error sending follow-up", zap.String("command", name), zap.Error(err))
	}
}

func (m *ManagerImpl) respondToError(msg *CommandMsg, err error) *CommandResp {
	m.mu.RLock()
	responder := m.errorResponder
	m.mu.RUnlock()

	if responder != nil {
		if resp := responder(msg, err); resp != nil {
			return resp
		}
	}

	m.l.Error("unhandled command error", zap.Error(err))
	return &CommandResp{Text: "Unexpected error!", Ephemeral: true}
}
