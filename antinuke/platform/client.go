package platform

import (
	"context"
)

// The set of platform operations the anti-nuke core consumes. Every method is a single outbound call;
// callers are expected to route them through the dispatcher.
type Client interface {
	// Identity of the account this system runs as.
	SelfID() string

	Guild(ctx context.Context, guildID string) (*Guild, error)
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
	// Returns (nil, nil) if the user is not a member of the guild.
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	GuildMembers(ctx context.Context, guildID string, limit int) ([]Member, error)
	// Most recent audit entry of the given action, or (nil, nil) if there is none.
	LatestAuditEntry(ctx context.Context, guildID string, action AuditAction) (*AuditEntry, error)

	BanMember(ctx context.Context, guildID, userID, reason string) error
	UnbanMember(ctx context.Context, guildID, userID, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error

	CreateRole(ctx context.Context, guildID string, role Role, reason string) (*Role, error)
	DeleteRole(ctx context.Context, guildID, roleID, reason string) error
	SetRolePermissions(ctx context.Context, guildID, roleID string, perms Permissions, reason string) error

	CreateChannel(ctx context.Context, guildID string, ch Channel, reason string) (*Channel, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
	RenameChannel(ctx context.Context, channelID, name, reason string) error
	// Re-syncs a channel's permission overwrites with its parent category.
	LockChannelPermissions(ctx context.Context, guildID, channelID, reason string) error
	// Replaces a channel's permission overwrites.
	SetChannelOverwrites(ctx context.Context, channelID string, overwrites []Overwrite, reason string) error

	SendDirectMessage(ctx context.Context, userID, content string) error
}
