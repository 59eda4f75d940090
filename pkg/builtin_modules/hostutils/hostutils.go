// Package hostutils holds commands reserved for the bot owner.
package hostutils

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/config"
	"github.com/jirwin/daybreak/pkg/module_manager"
)

const Name = "HostUtils"

type guildConfig struct {
	BotAnnouncements string `mapstructure:"bot_announcements"`
}

type Sayer interface {
	Say(chanID string, text string) (*discordgo.Message, error)
	IsOwner(userID string) bool
}

type hostUtils struct{}

func (h *hostUtils) GetName() string {
	return Name
}

func (h *hostUtils) GetCommands() []module_manager.Command {
	return []module_manager.Command{
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:        "make-announce",
			Description: "sends a message to every server's bot announcements channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "announcement text",
					Required:    true,
				},
			},
		}, func(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
			return makeAnnounce(msg, msg.Helper.Logger(), msg.Helper.Configs(), msg.Helper.Discord())
		}),
	}
}

func makeAnnounce(msg *module_manager.CommandMsg, l *zap.Logger, configs *config.Resolver, sayer Sayer) *module_manager.CommandResp {
	user := msg.User()
	if user == nil || !sayer.IsOwner(user.ID) {
		return module_manager.Fail(&module_manager.MissingPermissionsError{Permissions: []string{"bot_owner"}})
	}

	opt, ok := msg.Options()["message"]
	if !ok || opt.StringValue() == "" {
		return module_manager.Fail(&module_manager.UserInputError{Message: "A message is required"})
	}
	text := opt.StringValue()

	guilds, err := config.DecodeGuilds[guildConfig](configs, Name)
	if err != nil {
		return module_manager.Fail(err)
	}
	ids := make([]string, 0, len(guilds))
	for id := range guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sent := 0
	for _, id := range ids {
		channel := guilds[id].BotAnnouncements
		if channel == "" {
			continue
		}
		if _, err := sayer.Say(channel, text); err != nil {
			l.Warn("unable to post announcement", zap.String("guild", id), zap.Error(err))
			continue
		}
		sent++
	}

	return &module_manager.CommandResp{
		Text:      fmt.Sprintf("Announcement sent to %d server(s)", sent),
		Ephemeral: true,
	}
}

func Register() module_manager.Module {
	return &hostUtils{}
}
