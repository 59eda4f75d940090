// Package exceptionhandler renders every failed command as a red embed.
package exceptionhandler

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/module_manager"
)

const (
	Name = "ExceptionHandler"

	colorRed = 0xe74c3c
	// embeds hold at most 25 fields
	maxFields = 25
)

type exceptionHandler struct {
	helper module_manager.ModuleHelper
}

func (e *exceptionHandler) GetName() string {
	return Name
}

func (e *exceptionHandler) Start(ctx context.Context, helper module_manager.ModuleHelper) error {
	e.helper = helper
	helper.SetErrorResponder(NewResponder(helper.Logger()))
	return nil
}

func (e *exceptionHandler) Stop(ctx context.Context) error {
	e.helper.SetErrorResponder(nil)
	return nil
}

// NewResponder builds the error responder. Unexpected errors are logged with l.
func NewResponder(l *zap.Logger) module_manager.ErrorResponder {
	return func(msg *module_manager.CommandMsg, err error) *module_manager.CommandResp {
		embed := &discordgo.MessageEmbed{Color: colorRed}

		var (
			mpe *module_manager.MissingPermissionsError
			uie *module_manager.UserInputError
			ce  *module_manager.CommandError
			le  *module_manager.LifecycleError
		)
		switch {
		case errors.As(err, &mpe):
			embed.Title = "MissingPermissions"
			info := mpe.Detail
			if info == "" {
				info = strings.Join(mpe.Permissions, "; ")
			}
			embed.Description = "Additional information: " + info
			perms := mpe.Permissions
			if len(perms) > maxFields {
				perms = perms[:maxFields]
			}
			for _, p := range perms {
				embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Missing permission:", Value: p})
			}

		case errors.As(err, &uie):
			embed.Title = "UserInputError"
			embed.Description = uie.Message

		case errors.As(err, &ce):
			embed.Title = "CommandError"
			embed.Description = ce.Message

		case errors.As(err, &le):
			embed.Title = "ModuleLifecycleError"
			embed.Description = le.Error()

		default:
			fields := []zap.Field{zap.Error(err)}
			if msg != nil && msg.Interaction != nil {
				fields = append(fields, zap.String("command", msg.Interaction.ApplicationCommandData().Name))
			}
			l.Warn("unexpected error while handling command", fields...)
			embed.Title = "Unexpected error!"
			embed.Description = "Unhandled exception had occurred, please contact the bot owner"
		}

		return &module_manager.CommandResp{
			Embeds:    []*discordgo.MessageEmbed{embed},
			Ephemeral: true,
		}
	}
}

func Register() module_manager.Module {
	return &exceptionHandler{}
}
