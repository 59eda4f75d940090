package utils

import (
	"github.com/bwmarrin/discordgo"

	"github.com/jirwin/daybreak/pkg/module_manager"
)

func optString(msg *module_manager.CommandMsg, name, def string) string {
	if opt, ok := msg.Options()[name]; ok && opt.Type == discordgo.ApplicationCommandOptionString {
		return opt.StringValue()
	}
	return def
}

func optInt(msg *module_manager.CommandMsg, name string) int64 {
	if opt, ok := msg.Options()[name]; ok && opt.Type == discordgo.ApplicationCommandOptionInteger {
		return opt.IntValue()
	}
	return 0
}

func optBool(msg *module_manager.CommandMsg, name string) bool {
	if opt, ok := msg.Options()[name]; ok && opt.Type == discordgo.ApplicationCommandOptionBoolean {
		return opt.BoolValue()
	}
	return false
}

func optUser(msg *module_manager.CommandMsg, name string) (string, error) {
	opt, ok := msg.Options()[name]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionUser {
		return "", &module_manager.UserInputError{Message: "A user is required"}
	}
	return opt.UserValue(nil).ID, nil
}
