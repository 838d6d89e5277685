package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/guildwarden/warden/antinuke/platform"
)

// An actor-less change notification from the platform. Which optional fields are populated depends on Kind.
type Event struct {
	Kind       Kind
	ServerID   string
	ObservedAt time.Time

	// subject of the change: banned/kicked/updated user, or the channel or role ID
	TargetID string

	// ban, unban, kick, bot add
	User *platform.User
	// bot add, member role update (state after the change)
	Member *platform.Member

	Channel       *platform.Channel
	ChannelBefore *platform.Channel

	Role       *platform.Role
	RoleBefore *platform.Role

	// member role update: roles granted by this change
	AddedRoles []platform.Role
}

func (e *Event) Validate() error {
	if _, ok := e.Kind.Info(); !ok {
		return fmt.Errorf("unknown event kind: %d", e.Kind)
	}
	if e.ServerID == "" {
		return fmt.Errorf("event missing server ID")
	}
	if e.TargetID == "" {
		return fmt.Errorf("event missing target ID")
	}
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("event missing timestamp")
	}
	return nil
}

// Expected audit entry target, or empty string when the kind does not match on target.
func (e *Event) ExpectedTarget() string {
	info, _ := e.Kind.Info()
	if !info.ExpectTarget {
		return ""
	}
	return e.TargetID
}

// Permissions whose grant through a role is treated as an escalation.
const EscalationPermissions = platform.PermBanMembers | platform.PermKickMembers | platform.PermManageGuild |
	platform.PermManageChannels | platform.PermManageRoles | platform.PermManageWebhooks

// Permissions which, newly allowed through a channel overwrite, mark a channel update as suspicious.
const OverwriteEscalationPermissions = platform.PermAdministrator | platform.PermManageChannels | platform.PermManageGuild |
	platform.PermManageRoles | platform.PermManageWebhooks

// Words which, newly introduced into a channel name, suggest a phishing or impersonation rename.
var SuspiciousChannelWords = []string{
	"admin",
	"announcement",
	"important",
	"security",
	"verification",
	"alert",
	"nitro",
	"free",
	"giveaway",
	"moderator",
	"mod",
	"staff",
}

// Reports whether an event is worth attributing. Organic changes are filtered here, before any audit lookup.
func (e *Event) Significant() bool {
	switch e.Kind {
	case KindBotAdd:
		return e.User != nil && e.User.Bot
	case KindRoleUpdate:
		return RoleEscalated(e.RoleBefore, e.Role)
	case KindChannelUpdate:
		return ChannelTampered(e.ServerID, e.ChannelBefore, e.Channel)
	case KindMemberRoleUpdate:
		return len(e.DangerousAddedRoles()) > 0
	default:
		return true
	}
}

// Roles in AddedRoles which carry a dangerous permission.
func (e *Event) DangerousAddedRoles() []platform.Role {
	var out []platform.Role
	for _, r := range e.AddedRoles {
		if r.Permissions.Dangerous() {
			out = append(out, r)
		}
	}
	return out
}

// True if administrator was newly granted, or permissions changed and the new set includes an escalation permission.
func RoleEscalated(before, after *platform.Role) bool {
	if before == nil || after == nil {
		return false
	}
	if after.Permissions.HasExact(platform.PermAdministrator) && !before.Permissions.HasExact(platform.PermAdministrator) {
		return true
	}
	if before.Permissions == after.Permissions {
		return false
	}
	return after.Permissions&EscalationPermissions != 0
}

// True if the update hid the channel from @everyone, opened an escalation through an overwrite, or renamed the channel to
// something suspicious.
func ChannelTampered(guildID string, before, after *platform.Channel) bool {
	if before == nil || after == nil {
		return false
	}

	oldEveryone, _ := before.Overwrite(guildID)
	newEveryone, _ := after.Overwrite(guildID)
	if newEveryone.Deny.HasExact(platform.PermViewChannel) && !oldEveryone.Deny.HasExact(platform.PermViewChannel) {
		return true
	}

	for _, ow := range after.Overwrites {
		prev, _ := before.Overwrite(ow.ID)
		added := ow.Allow &^ prev.Allow
		if added&OverwriteEscalationPermissions != 0 {
			return true
		}
	}

	if before.Name != after.Name {
		oldName := strings.ToLower(before.Name)
		newName := strings.ToLower(after.Name)
		for _, w := range SuspiciousChannelWords {
			if strings.Contains(newName, w) && !strings.Contains(oldName, w) {
				return true
			}
		}
	}
	return false
}
