package event

import (
	"github.com/guildwarden/warden/antinuke/platform"
)

// Category of monitored change. Thresholds are configured per action kind.
type ActionKind string

const (
	ActionBan              ActionKind = "ban"
	ActionUnban            ActionKind = "unban"
	ActionKick             ActionKind = "kick"
	ActionBotAdd           ActionKind = "bot_add"
	ActionChannelCreate    ActionKind = "channel_create"
	ActionChannelDelete    ActionKind = "channel_delete"
	ActionChannelUpdate    ActionKind = "channel_update"
	ActionRoleCreate       ActionKind = "role_create"
	ActionRoleDelete       ActionKind = "role_delete"
	ActionRoleUpdate       ActionKind = "role_update"
	ActionMemberRoleUpdate ActionKind = "member_role_update"
)

var AllActionKinds = []ActionKind{
	ActionBan,
	ActionUnban,
	ActionKick,
	ActionBotAdd,
	ActionChannelCreate,
	ActionChannelDelete,
	ActionChannelUpdate,
	ActionRoleCreate,
	ActionRoleDelete,
	ActionRoleUpdate,
	ActionMemberRoleUpdate,
}

func (a ActionKind) Valid() bool {
	for _, k := range AllActionKinds {
		if a == k {
			return true
		}
	}
	return false
}

// Variant tag of a change event.
type Kind int

const (
	KindUnknown Kind = iota
	KindMemberBan
	KindMemberUnban
	KindMemberKick
	KindBotAdd
	KindChannelCreate
	KindChannelDelete
	KindChannelUpdate
	KindRoleCreate
	KindRoleDelete
	KindRoleUpdate
	KindMemberRoleUpdate
)

// Static per-variant data: which audit trail entries attribute the change, whether the entry's target must match the
// event's subject, and whether the first occurrence is actionable.
type KindInfo struct {
	Name   string
	Action ActionKind
	Audit  platform.AuditAction
	// audit entry target must equal the event's target
	ExpectTarget bool
	// first occurrence is actionable; the sliding-window detector is bypassed
	ZeroThreshold bool
}

var kindTable = map[Kind]KindInfo{
	KindMemberBan:        {Name: "member-ban", Action: ActionBan, Audit: platform.AuditMemberBanAdd},
	KindMemberUnban:      {Name: "member-unban", Action: ActionUnban, Audit: platform.AuditMemberBanRemove},
	KindMemberKick:       {Name: "member-kick", Action: ActionKick, Audit: platform.AuditMemberKick, ExpectTarget: true},
	KindBotAdd:           {Name: "bot-add", Action: ActionBotAdd, Audit: platform.AuditBotAdd, ZeroThreshold: true},
	KindChannelCreate:    {Name: "channel-create", Action: ActionChannelCreate, Audit: platform.AuditChannelCreate},
	KindChannelDelete:    {Name: "channel-delete", Action: ActionChannelDelete, Audit: platform.AuditChannelDelete},
	KindChannelUpdate:    {Name: "channel-update", Action: ActionChannelUpdate, Audit: platform.AuditChannelUpdate, ZeroThreshold: true},
	KindRoleCreate:       {Name: "role-create", Action: ActionRoleCreate, Audit: platform.AuditRoleCreate},
	KindRoleDelete:       {Name: "role-delete", Action: ActionRoleDelete, Audit: platform.AuditRoleDelete},
	KindRoleUpdate:       {Name: "role-update", Action: ActionRoleUpdate, Audit: platform.AuditRoleUpdate, ZeroThreshold: true},
	KindMemberRoleUpdate: {Name: "member-role-update", Action: ActionMemberRoleUpdate, Audit: platform.AuditMemberRoleUpdate, ExpectTarget: true, ZeroThreshold: true},
}

// Returns static metadata for the kind. Unknown kinds return the zero value and false.
func (k Kind) Info() (KindInfo, bool) {
	info, ok := kindTable[k]
	return info, ok
}

func (k Kind) String() string {
	info, ok := kindTable[k]
	if !ok {
		return "unknown"
	}
	return info.Name
}

func (k Kind) Action() ActionKind {
	return kindTable[k].Action
}

func (k Kind) ZeroThreshold() bool {
	return kindTable[k].ZeroThreshold
}
