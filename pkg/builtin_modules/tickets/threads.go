package tickets

import (
	"github.com/bwmarrin/discordgo"
)

// Threads is the thread management the tickets module needs from the gateway.
type Threads interface {
	CreatePrivateThread(channelID, name, reason string) (*discordgo.Channel, error)
	AddMember(threadID, userID string) error
	Lock(threadID, reason string) error
	Send(channelID string, msg *discordgo.MessageSend) error
}

type sessionThreads struct {
	s *discordgo.Session
}

func (t *sessionThreads) CreatePrivateThread(channelID, name, reason string) (*discordgo.Channel, error) {
	return t.s.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: 10080,
		Type:                discordgo.ChannelTypeGuildPrivateThread,
	}, discordgo.WithAuditLogReason(reason))
}

func (t *sessionThreads) AddMember(threadID, userID string) error {
	return t.s.ThreadMemberAdd(threadID, userID)
}

func (t *sessionThreads) Lock(threadID, reason string) error {
	locked := true
	_, err := t.s.ChannelEditComplex(threadID, &discordgo.ChannelEdit{Locked: &locked}, discordgo.WithAuditLogReason(reason))
	return err
}

func (t *sessionThreads) Send(channelID string, msg *discordgo.MessageSend) error {
	_, err := t.s.ChannelMessageSendComplex(channelID, msg)
	return err
}
