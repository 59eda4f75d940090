package module_manager

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyLoaded = errors.New("module already loaded")
	ErrNotLoaded     = errors.New("module not loaded")
	ErrNotFound      = errors.New("module not found")
	ErrStaticModule  = errors.New("module is static")
)

// LifecycleError is returned by load, unload and reload.
type LifecycleError struct {
	Op     string
	Module string
	Err    error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Module, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// CommandError is a failure whose message is safe to show to the user.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// UserInputError reports bad command arguments.
type UserInputError struct {
	Message string
}

func (e *UserInputError) Error() string {
	return e.Message
}

// MissingPermissionsError names the permissions the caller (or the bot) lacks.
// Detail optionally says who lacks them and why.
type MissingPermissionsError struct {
	Permissions []string
	Detail      string
}

func (e *MissingPermissionsError) Error() string {
	msg := "missing permissions: " + strings.Join(e.Permissions, ", ")
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func lifecycleErr(op, module string, err error) error {
	return &LifecycleError{Op: op, Module: module, Err: err}
}
