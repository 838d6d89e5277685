package platform

// Position of the member's highest role. The implicit @everyone role (same ID as the guild) counts as position 0, so members
// with no roles return 0.
func HighestPosition(m *Member, roles []Role) int {
	if m == nil {
		return 0
	}
	byID := make(map[string]Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	highest := 0
	for _, rid := range m.RoleIDs {
		r, ok := byID[rid]
		if !ok {
			continue
		}
		if r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}

// Effective guild-level permissions of a member: the union of @everyone and every assigned role. The guild owner holds
// every permission.
func MemberPermissions(g *Guild, m *Member, roles []Role) Permissions {
	if m == nil {
		return 0
	}
	if g != nil && g.OwnerID == m.User.ID {
		return PermAdministrator
	}
	var perms Permissions
	held := make(map[string]bool, len(m.RoleIDs)+1)
	for _, rid := range m.RoleIDs {
		held[rid] = true
	}
	if g != nil {
		held[g.ID] = true
	}
	for _, r := range roles {
		if held[r.ID] {
			perms |= r.Permissions
		}
	}
	return perms
}

// Looks up a role by ID in a role list.
func FindRole(roles []Role, id string) (Role, bool) {
	for _, r := range roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}
