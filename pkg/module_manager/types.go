package module_manager

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Module is the interface every module implements. Capabilities are added by
// implementing the optional interfaces below.
type Module interface {
	GetName() string
}

// StartModule is started on load. Background work belongs in ModuleHelper.Go so
// it is stopped on unload.
type StartModule interface {
	Module
	Start(ctx context.Context, helper ModuleHelper) error
}

// StopModule is given a chance to clean up on unload.
type StopModule interface {
	Module
	Stop(ctx context.Context) error
}

type CommandModule interface {
	Module
	GetCommands() []Command
}

type HookModule interface {
	Module
	GetHooks() []Hook
}

// Factory builds a fresh module instance. Every load gets a new instance.
type Factory func() Module

// Manifest maps module names to their factories.
type Manifest map[string]Factory

// Command is the interface that modules implement for application commands.
// Commands only receive messages when a user invokes them.
type Command interface {
	GetName() string
	Definition() *discordgo.ApplicationCommand
	Channel() chan<- *CommandMsg
	Run(ctx context.Context)
}

// registeredCommand is a struct used internally to represent a command that a module has registered
type registeredCommand struct {
	Module  string
	Command Command
}

type command struct {
	def     *discordgo.ApplicationCommand
	channel chan *CommandMsg
	runFunc func(ctx context.Context, cmdChan <-chan *CommandMsg)
}

func (c *command) GetName() string {
	return c.def.Name
}

func (c *command) Definition() *discordgo.ApplicationCommand {
	return c.def
}

// Channel returns the channel that the manager writes incoming invocations to
func (c *command) Channel() chan<- *CommandMsg {
	return c.channel
}

// Run executes the commands runFunc with the provided context
func (c *command) Run(ctx context.Context) {
	c.runFunc(ctx, c.channel)
}

// MakeCommand is a helper function that accepts a command definition and a runFunc, and returns a Command.
func MakeCommand(def *discordgo.ApplicationCommand, runFn func(ctx context.Context, cmdChan <-chan *CommandMsg)) Command {
	return &command{
		def:     def,
		runFunc: runFn,
		channel: make(chan *CommandMsg),
	}
}

// CommandMsg is the struct that is passed to a commands channel as it is activated.
type CommandMsg struct {
	Helper      ModuleHelper
	Interaction *discordgo.Interaction

	responseChan chan *CommandResp
}

// Reply returns the channel to write the command response to. A nil response
// means the module answered the interaction itself.
func (c *CommandMsg) Reply() chan<- *CommandResp {
	return c.responseChan
}

// Options returns the invocation's options keyed by name.
func (c *CommandMsg) Options() map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	if c.Interaction == nil || c.Interaction.Type != discordgo.InteractionApplicationCommand {
		return out
	}
	for _, opt := range c.Interaction.ApplicationCommandData().Options {
		out[opt.Name] = opt
	}
	return out
}

func (c *CommandMsg) GuildID() string {
	return c.Interaction.GuildID
}

// User returns the invoking user, in a guild or a DM.
func (c *CommandMsg) User() *discordgo.User {
	if c.Interaction.Member != nil && c.Interaction.Member.User != nil {
		return c.Interaction.Member.User
	}
	return c.Interaction.User
}

// CommandResp is the struct that is used to respond to a command.
type CommandResp struct {
	Text      string
	Embeds    []*discordgo.MessageEmbed
	Ephemeral bool
	Err       error
}

// Hook is the interface that a module can implement to create a hook.
//
// Hooks receive every message and member join the bot sees so modules can react accordingly.
type Hook interface {
	Channel() chan<- *HookMsg
	Run(ctx context.Context)
}

// HookMsg carries exactly one of its event fields.
type HookMsg struct {
	Helper    ModuleHelper
	Message   *discordgo.MessageCreate
	MemberAdd *discordgo.GuildMemberAdd
}

// registeredHook is the struct used internally to represent a registered hook.
type registeredHook struct {
	Module string
	Hook   Hook
}

type hook struct {
	channel chan *HookMsg
	runFunc func(ctx context.Context, hookChan <-chan *HookMsg)
}

// Channel returns the channel for the manager to write HookMsg objects to.
func (h *hook) Channel() chan<- *HookMsg {
	return h.channel
}

// Run executes the hook's runFunc with the provided context.
func (h *hook) Run(ctx context.Context) {
	h.runFunc(ctx, h.channel)
}

// MakeHook is a helper function that accepts a runFunc and returns a Hook
func MakeHook(runFunc func(ctx context.Context, hookChan <-chan *HookMsg)) Hook {
	return &hook{
		channel: make(chan *HookMsg),
		runFunc: runFunc,
	}
}

// ModuleDescriptor describes a module as seen by the registry.
type ModuleDescriptor struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Running bool   `json:"running"`
	Static  bool   `json:"static"`
	Queued  bool   `json:"queued"`
}

// ErrorResponder renders a failed command into the response the user sees.
type ErrorResponder func(msg *CommandMsg, err error) *CommandResp

// MakeCommandFunc builds a Command that answers each invocation with the result of fn, one at a time.
func MakeCommandFunc(def *discordgo.ApplicationCommand, fn func(ctx context.Context, msg *CommandMsg) *CommandResp) Command {
	return MakeCommand(def, func(ctx context.Context, cmdChan <-chan *CommandMsg) {
		for {
			select {
			case msg := <-cmdChan:
				msg.Reply() <- callCommand(ctx, fn, msg)
			case <-ctx.Done():
				return
			}
		}
	})
}

// Fail wraps err into a response routed through the error responder.
func Fail(err error) *CommandResp {
	return &CommandResp{Err: err}
}

func callCommand(ctx context.Context, fn func(ctx context.Context, msg *CommandMsg) *CommandResp, msg *CommandMsg) (resp *CommandResp) {
	defer func() {
		if r := recover(); r != nil {
			resp = Fail(fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx, msg)
}
