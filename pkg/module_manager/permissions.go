package module_manager

import (
	"github.com/bwmarrin/discordgo"
)

var permissionNames = []struct {
	bit  int64
	name string
}{
	{discordgo.PermissionAdministrator, "Administrator"},
	{discordgo.PermissionManageGuild, "Manage Server"},
	{discordgo.PermissionManageRoles, "Manage Roles"},
	{discordgo.PermissionManageChannels, "Manage Channels"},
	{discordgo.PermissionManageMessages, "Manage Messages"},
	{discordgo.PermissionManageThreads, "Manage Threads"},
	{discordgo.PermissionKickMembers, "Kick Members"},
	{discordgo.PermissionBanMembers, "Ban Members"},
	{discordgo.PermissionModerateMembers, "Timeout Members"},
	{discordgo.PermissionSendMessages, "Send Messages"},
	{discordgo.PermissionViewChannel, "View Channel"},
}

// PermissionNames lists the names of the bits set in perms.
func PermissionNames(perms int64) []string {
	var out []string
	for _, p := range permissionNames {
		if perms&p.bit == p.bit {
			out = append(out, p.name)
		}
	}
	return out
}

// RequirePermissions fails with a *MissingPermissionsError unless the invoking
// member holds every bit in perms. Administrators hold all permissions.
func RequirePermissions(msg *CommandMsg, perms int64) error {
	member := msg.Interaction.Member
	if member == nil {
		return &CommandError{Message: "This command can only be used in a server."}
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return nil
	}

	missing := perms &^ member.Permissions
	if missing == 0 {
		return nil
	}
	return &MissingPermissionsError{Permissions: PermissionNames(missing)}
}
