// Package core is the host module. It owns the module lifecycle commands and can never be unloaded.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/module_manager"
)

const Name = "Core"

var (
	colorGreen = 0x2ecc71

	adminPermission int64 = discordgo.PermissionAdministrator
)

type core struct{}

func (c *core) GetName() string {
	return Name
}

func moduleOption() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "module",
			Description: "name of the module",
			Required:    true,
		},
	}
}

func (c *core) GetCommands() []module_manager.Command {
	return []module_manager.Command{
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "module-load",
			Description:              "loads a module",
			DefaultMemberPermissions: &adminPermission,
			Options:                  moduleOption(),
		}, loadCommand),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "module-unload",
			Description:              "unloads a module",
			DefaultMemberPermissions: &adminPermission,
			Options:                  moduleOption(),
		}, unloadCommand),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "module-reload",
			Description:              "reloads a module",
			DefaultMemberPermissions: &adminPermission,
			Options:                  moduleOption(),
		}, reloadCommand),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:                     "module-list",
			Description:              "lists modules and their status",
			DefaultMemberPermissions: &adminPermission,
		}, listCommand),
		module_manager.MakeCommandFunc(&discordgo.ApplicationCommand{
			Name:        "bot-sync",
			Description: "sync command tree",
		}, syncCommand),
	}
}

// moduleArg validates the module option against the registry.
func moduleArg(msg *module_manager.CommandMsg) (string, error) {
	if err := module_manager.RequirePermissions(msg, discordgo.PermissionAdministrator); err != nil {
		return "", err
	}

	opt, ok := msg.Options()["module"]
	if !ok {
		return "", &module_manager.UserInputError{Message: "A module name is required"}
	}
	name := opt.StringValue()
	if !msg.Helper.Registry().IsPresent(name) {
		return "", &module_manager.CommandError{Message: "Module with this name doesn't exist"}
	}
	return name, nil
}

// lifecycleMessage turns registry failures into the message shown to the user.
func lifecycleMessage(err error) error {
	switch {
	case errors.Is(err, module_manager.ErrNotFound):
		return &module_manager.CommandError{Message: "Module with this name doesn't exist"}
	case errors.Is(err, module_manager.ErrAlreadyLoaded):
		return &module_manager.CommandError{Message: "Module with this name is already loaded"}
	case errors.Is(err, module_manager.ErrNotLoaded):
		return &module_manager.CommandError{Message: "Module with this name is not loaded"}
	case errors.Is(err, module_manager.ErrStaticModule):
		return &module_manager.CommandError{Message: "Static modules cannot be unloaded"}
	default:
		return err
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

func loadCommand(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	name, err := moduleArg(msg)
	if err != nil {
		return module_manager.Fail(err)
	}

	registry := msg.Helper.Registry()
	if err := registry.Load(ctx, name); err != nil {
		return module_manager.Fail(lifecycleMessage(err))
	}
	if err := registry.SyncCommands(); err != nil {
		msg.Helper.Logger().Error("unable to sync commands", zap.Error(err))
	}

	return success(fmt.Sprintf("Module '%s' is now loaded", name))
}

func unloadCommand(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	name, err := moduleArg(msg)
	if err != nil {
		return module_manager.Fail(err)
	}

	registry := msg.Helper.Registry()
	if err := registry.Unload(ctx, name); err != nil {
		return module_manager.Fail(lifecycleMessage(err))
	}
	if err := registry.SyncCommands(); err != nil {
		msg.Helper.Logger().Error("unable to sync commands", zap.Error(err))
	}

	return success(fmt.Sprintf("Module '%s' was unloaded", name))
}

func reloadCommand(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	name, err := moduleArg(msg)
	if err != nil {
		return module_manager.Fail(err)
	}

	registry := msg.Helper.Registry()
	if name == registry.HostModule() {
		// Reloading the host tears down this goroutine, so it runs detached.
		l := msg.Helper.Logger()
		go func() {
			if err := registry.ReloadSelf(context.Background()); err != nil {
				l.Error("self reload finished with errors", zap.Error(err))
			}
		}()
		return success("Reloading all modules")
	}

	if err := registry.Reload(ctx, name); err != nil {
		return module_manager.Fail(lifecycleMessage(err))
	}
	if err := registry.SyncCommands(); err != nil {
		msg.Helper.Logger().Error("unable to sync commands", zap.Error(err))
	}

	return success(fmt.Sprintf("Module '%s' was reloaded", name))
}

// ListEmbed renders module descriptors the way module-list shows them.
func ListEmbed(modules []module_manager.ModuleDescriptor) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "Module list", Color: colorGreen}
	for _, d := range modules {
		name := d.Name
		status := "❌ inactive"
		if d.Running {
			status = "✅ active"
			if d.Static {
				name += " [STATIC]"
			}
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: status})
	}
	return embed
}

func listCommand(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	if err := module_manager.RequirePermissions(msg, discordgo.PermissionAdministrator); err != nil {
		return module_manager.Fail(err)
	}

	return &module_manager.CommandResp{
		Embeds:    []*discordgo.MessageEmbed{ListEmbed(msg.Helper.Registry().List())},
		Ephemeral: true,
	}
}

func syncCommand(ctx context.Context, msg *module_manager.CommandMsg) *module_manager.CommandResp {
	user := msg.User()
	if user == nil || !msg.Helper.Discord().IsOwner(user.ID) {
		return module_manager.Fail(&module_manager.MissingPermissionsError{Permissions: []string{"bot_owner"}})
	}

	if err := msg.Helper.Registry().SyncCommands(); err != nil {
		return module_manager.Fail(err)
	}
	msg.Helper.Logger().Info("Command tree synced")

	return success("Command tree synced")
}

func Register() module_manager.Module {
	return &core{}
}
