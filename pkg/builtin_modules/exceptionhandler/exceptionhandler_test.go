package exceptionhandler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jirwin/daybreak/pkg/module_manager"
)

func TestResponder(t *testing.T) {
	respond := NewResponder(zap.NewNop())

	manyPerms := make([]string, 30)
	for i := range manyPerms {
		manyPerms[i] = fmt.Sprintf("perm-%d", i)
	}

	tests := []struct {
		name        string
		err         error
		title       string
		description string
		fields      int
	}{
		{
			name:        "missing permissions",
			err:         &module_manager.MissingPermissionsError{Permissions: []string{"Ban Members"}},
			title:       "MissingPermissions",
			description: "Additional information: Ban Members",
			fields:      1,
		},
		{
			name:        "missing permissions with detail",
			err:         &module_manager.MissingPermissionsError{Permissions: []string{"Ban Members"}, Detail: "Bot is missing permissions"},
			title:       "MissingPermissions",
			description: "Additional information: Bot is missing permissions",
			fields:      1,
		},
		{
			name:   "field limit",
			err:    &module_manager.MissingPermissionsError{Permissions: manyPerms},
			title:  "MissingPermissions",
			fields: 25,
		},
		{
			name:        "user input",
			err:         &module_manager.UserInputError{Message: "Cannot report yourself"},
			title:       "UserInputError",
			description: "Cannot report yourself",
		},
		{
			name:        "wrapped command error",
			err:         fmt.Errorf("report: %w", &module_manager.CommandError{Message: "Maximum number of tickets reached"}),
			title:       "CommandError",
			description: "Maximum number of tickets reached",
		},
		{
			name:        "lifecycle",
			err:         &module_manager.LifecycleError{Op: "load", Module: "Utils", Err: module_manager.ErrAlreadyLoaded},
			title:       "ModuleLifecycleError",
			description: "load Utils: module already loaded",
		},
		{
			name:        "unexpected",
			err:         errors.New("boom"),
			title:       "Unexpected error!",
			description: "Unhandled exception had occurred, please contact the bot owner",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := respond(nil, tt.err)
			require.NotNil(t, resp)
			assert.True(t, resp.Ephemeral)
			require.Len(t, resp.Embeds, 1)

			embed := resp.Embeds[0]
			assert.Equal(t, colorRed, embed.Color)
			assert.Equal(t, tt.title, embed.Title)
			if tt.description != "" {
				assert.Equal(t, tt.description, embed.Description)
			}
			assert.Len(t, embed.Fields, tt.fields)
		})
	}
}
