package platform

import (
	"time"
)

// Kind of administrative action recorded in a server's audit trail. Values match the platform's wire values.
type AuditAction int

const (
	AuditChannelCreate    AuditAction = 10
	AuditChannelUpdate    AuditAction = 11
	AuditChannelDelete    AuditAction = 12
	AuditMemberKick       AuditAction = 20
	AuditMemberBanAdd     AuditAction = 22
	AuditMemberBanRemove  AuditAction = 23
	AuditMemberRoleUpdate AuditAction = 25
	AuditBotAdd           AuditAction = 28
	AuditRoleCreate       AuditAction = 30
	AuditRoleUpdate       AuditAction = 31
	AuditRoleDelete       AuditAction = 32
)

func (a AuditAction) String() string {
	switch a {
	case AuditChannelCreate:
		return "CHANNEL_CREATE"
	case AuditChannelUpdate:
		return "CHANNEL_UPDATE"
	case AuditChannelDelete:
		return "CHANNEL_DELETE"
	case AuditMemberKick:
		return "MEMBER_KICK"
	case AuditMemberBanAdd:
		return "MEMBER_BAN_ADD"
	case AuditMemberBanRemove:
		return "MEMBER_BAN_REMOVE"
	case AuditMemberRoleUpdate:
		return "MEMBER_ROLE_UPDATE"
	case AuditBotAdd:
		return "BOT_ADD"
	case AuditRoleCreate:
		return "ROLE_CREATE"
	case AuditRoleUpdate:
		return "ROLE_UPDATE"
	case AuditRoleDelete:
		return "ROLE_DELETE"
	default:
		return "UNKNOWN"
	}
}

// A single audit trail entry.
type AuditEntry struct {
	ID         string
	Action     AuditAction
	ExecutorID string
	TargetID   string
	CreatedAt  time.Time
}

type Guild struct {
	ID      string
	Name    string
	OwnerID string
}

type User struct {
	ID       string
	Username string
	Bot      bool
}

type Member struct {
	User    User
	RoleIDs []string
}

type Role struct {
	ID          string
	Name        string
	Position    int
	Permissions Permissions
	Color       int
	Hoist       bool
	Mentionable bool
	// set for roles managed by an integration; these can not be recreated
	Managed bool
}

const (
	OverwriteRole   = 0
	OverwriteMember = 1
)

type Overwrite struct {
	ID    string
	Type  int
	Allow Permissions
	Deny  Permissions
}

type Channel struct {
	ID       string
	GuildID  string
	Name     string
	Type     int
	ParentID string
	Position int
	Topic    string
	NSFW     bool
	// true when the channel's overwrites are synced with its parent category
	PermissionsLocked bool
	Overwrites        []Overwrite
}

// Reports whether two overwrite lists grant the same permissions, ignoring order.
func SameOverwrites(a, b []Overwrite) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]Overwrite, len(b))
	for _, ow := range b {
		byID[ow.ID] = ow
	}
	for _, ow := range a {
		if other, ok := byID[ow.ID]; !ok || other != ow {
			return false
		}
	}
	return true
}

// Returns the overwrite with the given ID, if present.
func (c *Channel) Overwrite(id string) (Overwrite, bool) {
	for _, o := range c.Overwrites {
		if o.ID == id {
			return o, true
		}
	}
	return Overwrite{}, false
}
