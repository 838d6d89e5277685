package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/guildwarden/warden/antinuke/platform"
)

func toGuild(g *discordgo.Guild) *platform.Guild {
	return &platform.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}
}

func toUser(u *discordgo.User) *platform.User {
	if u == nil {
		return nil
	}
	return &platform.User{ID: u.ID, Username: u.Username, Bot: u.Bot}
}

func toMember(m *discordgo.Member) *platform.Member {
	if m == nil || m.User == nil {
		return nil
	}
	roles := make([]string, len(m.Roles))
	copy(roles, m.Roles)
	return &platform.Member{User: *toUser(m.User), RoleIDs: roles}
}

func toRole(r *discordgo.Role) *platform.Role {
	if r == nil {
		return nil
	}
	return &platform.Role{
		ID:          r.ID,
		Name:        r.Name,
		Position:    r.Position,
		Permissions: platform.Permissions(r.Permissions),
		Color:       r.Color,
		Hoist:       r.Hoist,
		Mentionable: r.Mentionable,
		Managed:     r.Managed,
	}
}

func toOverwrites(in []*discordgo.PermissionOverwrite) []platform.Overwrite {
	out := make([]platform.Overwrite, 0, len(in))
	for _, ow := range in {
		if ow == nil {
			continue
		}
		out = append(out, platform.Overwrite{
			ID:    ow.ID,
			Type:  int(ow.Type),
			Allow: platform.Permissions(ow.Allow),
			Deny:  platform.Permissions(ow.Deny),
		})
	}
	return out
}

func fromOverwrites(in []platform.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, ow := range in {
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    ow.ID,
			Type:  discordgo.PermissionOverwriteType(ow.Type),
			Allow: int64(ow.Allow),
			Deny:  int64(ow.Deny),
		})
	}
	return out
}

// Converts a channel. `parent` may be nil; when given, PermissionsLocked reports whether the overwrites match it.
func toChannel(c *discordgo.Channel, parent *discordgo.Channel) *platform.Channel {
	if c == nil {
		return nil
	}
	ch := &platform.Channel{
		ID:         c.ID,
		GuildID:    c.GuildID,
		Name:       c.Name,
		Type:       int(c.Type),
		ParentID:   c.ParentID,
		Position:   c.Position,
		Topic:      c.Topic,
		NSFW:       c.NSFW,
		Overwrites: toOverwrites(c.PermissionOverwrites),
	}
	if parent != nil {
		ch.PermissionsLocked = platform.SameOverwrites(ch.Overwrites, toOverwrites(parent.PermissionOverwrites))
	}
	return ch
}

// Creation payload for recreating a channel from a snapshot.
func channelCreateData(ch platform.Channel) discordgo.GuildChannelCreateData {
	return discordgo.GuildChannelCreateData{
		Name:                 ch.Name,
		Type:                 discordgo.ChannelType(ch.Type),
		Topic:                ch.Topic,
		Position:             ch.Position,
		PermissionOverwrites: fromOverwrites(ch.Overwrites),
		ParentID:             ch.ParentID,
		NSFW:                 ch.NSFW,
	}
}

func roleParams(r platform.Role) *discordgo.RoleParams {
	perms := int64(r.Permissions)
	color := r.Color
	hoist := r.Hoist
	mentionable := r.Mentionable
	return &discordgo.RoleParams{
		Name:        r.Name,
		Color:       &color,
		Hoist:       &hoist,
		Permissions: &perms,
		Mentionable: &mentionable,
	}
}

// Role IDs present in `after` but not in `before`.
func addedRoleIDs(before, after []string) []string {
	had := make(map[string]bool, len(before))
	for _, id := range before {
		had[id] = true
	}
	var out []string
	for _, id := range after {
		if !had[id] {
			out = append(out, id)
		}
	}
	return out
}
