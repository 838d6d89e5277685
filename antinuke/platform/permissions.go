package platform

import (
	"strings"
)

// Permission bitfield, using the platform's wire values.
type Permissions int64

const (
	PermKickMembers    Permissions = 1 << 1
	PermBanMembers     Permissions = 1 << 2
	PermAdministrator  Permissions = 1 << 3
	PermManageChannels Permissions = 1 << 4
	PermManageGuild    Permissions = 1 << 5
	PermViewAuditLog   Permissions = 1 << 7
	PermViewChannel    Permissions = 1 << 10
	PermManageRoles    Permissions = 1 << 28
	PermManageWebhooks Permissions = 1 << 29
)

// Permissions which allow an account holding them to damage a server.
var DangerousPermissions = []Permissions{
	PermAdministrator,
	PermBanMembers,
	PermKickMembers,
	PermManageChannels,
	PermManageGuild,
	PermManageRoles,
	PermManageWebhooks,
}

var permissionNames = map[Permissions]string{
	PermKickMembers:    "KICK_MEMBERS",
	PermBanMembers:     "BAN_MEMBERS",
	PermAdministrator:  "ADMINISTRATOR",
	PermManageChannels: "MANAGE_CHANNELS",
	PermManageGuild:    "MANAGE_GUILD",
	PermViewAuditLog:   "VIEW_AUDIT_LOG",
	PermViewChannel:    "VIEW_CHANNEL",
	PermManageRoles:    "MANAGE_ROLES",
	PermManageWebhooks: "MANAGE_WEBHOOKS",
}

// Checks whether all bits of `q` are granted. Administrator implies every permission.
func (p Permissions) Has(q Permissions) bool {
	if p&PermAdministrator != 0 {
		return true
	}
	return p&q == q
}

// Like Has, but without the administrator override.
func (p Permissions) HasExact(q Permissions) bool {
	return p&q == q
}

// Returns true if any of the dangerous permissions are granted.
func (p Permissions) Dangerous() bool {
	for _, d := range DangerousPermissions {
		if p.Has(d) {
			return true
		}
	}
	return false
}

func (p Permissions) String() string {
	var names []string
	for _, perm := range []Permissions{PermKickMembers, PermBanMembers, PermAdministrator, PermManageChannels, PermManageGuild, PermViewAuditLog, PermViewChannel, PermManageRoles, PermManageWebhooks} {
		if p&perm != 0 {
			names = append(names, permissionNames[perm])
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}
