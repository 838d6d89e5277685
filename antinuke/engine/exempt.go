package engine

import (
	"context"
	"fmt"

	"github.com/guildwarden/warden/antinuke/cachestore"
	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/platform"
	"github.com/guildwarden/warden/antinuke/setstore"
)

// Computed fresh for every evaluation; never cached.
type ExemptionContext struct {
	ActorID  string
	ServerID string
	IsSelf   bool
	// server owner, or one of the configured owners
	IsOwner       bool
	IsWhitelisted bool
}

func (x ExemptionContext) Exempt() bool {
	return x.IsSelf || x.IsOwner || x.IsWhitelisted
}

func (x ExemptionContext) Reason() string {
	switch {
	case x.IsSelf:
		return "self"
	case x.IsOwner:
		return "owner"
	case x.IsWhitelisted:
		return "whitelisted"
	default:
		return ""
	}
}

func (eng *Engine) Exemption(ctx context.Context, actor, server string) (ExemptionContext, error) {
	x := ExemptionContext{
		ActorID:  actor,
		ServerID: server,
		IsSelf:   actor == eng.Client.SelfID(),
	}
	if x.IsSelf {
		return x, nil
	}

	wl, err := eng.Sets.InSet(ctx, setstore.SetWhitelist, actor)
	if err != nil {
		return x, fmt.Errorf("checking whitelist: %w", err)
	}
	x.IsWhitelisted = wl

	owner, err := eng.Sets.InSet(ctx, setstore.SetOwners, actor)
	if err != nil {
		return x, fmt.Errorf("checking owners: %w", err)
	}
	if owner || x.IsWhitelisted {
		x.IsOwner = owner
		return x, nil
	}

	g, err := eng.guild(ctx, server)
	if err != nil {
		return x, err
	}
	x.IsOwner = g.OwnerID == actor
	return x, nil
}

// Guild metadata, from the snapshot cache when present.
func (eng *Engine) guild(ctx context.Context, server string) (*platform.Guild, error) {
	if eng.Cache != nil {
		g, err := cachestore.GetGuild(ctx, eng.Cache, server)
		if err != nil {
			eng.Logger.Warn("guild snapshot read failed", "server", server, "err", err)
		} else if g != nil {
			return g, nil
		}
	}
	g, err := dispatch.Call(ctx, eng.Dispatcher, "guild/"+server, func(ctx context.Context) (*platform.Guild, error) {
		return eng.Client.Guild(ctx, server)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching guild %s: %w", server, err)
	}
	if eng.Cache != nil {
		if err := cachestore.PutGuild(ctx, eng.Cache, g); err != nil {
			eng.Logger.Warn("guild snapshot write failed", "server", server, "err", err)
		}
	}
	return g, nil
}

// Live standing of this system on a server: its membership, effective permissions, and highest role position.
type selfStanding struct {
	Guild    *platform.Guild
	Roles    []platform.Role
	Member   *platform.Member
	Perms    platform.Permissions
	Position int
}

func (eng *Engine) standing(ctx context.Context, server string) (*selfStanding, error) {
	g, err := eng.guild(ctx, server)
	if err != nil {
		return nil, err
	}
	roles, err := dispatch.Call(ctx, eng.Dispatcher, "roles/"+server, func(ctx context.Context) ([]platform.Role, error) {
		return eng.Client.GuildRoles(ctx, server)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching roles: %w", err)
	}
	me, err := eng.member(ctx, server, eng.Client.SelfID())
	if err != nil {
		return nil, err
	}
	if me == nil {
		return nil, fmt.Errorf("not a member of server %s", server)
	}
	return &selfStanding{
		Guild:    g,
		Roles:    roles,
		Member:   me,
		Perms:    platform.MemberPermissions(g, me, roles),
		Position: platform.HighestPosition(me, roles),
	}, nil
}

func (eng *Engine) member(ctx context.Context, server, user string) (*platform.Member, error) {
	m, err := dispatch.Call(ctx, eng.Dispatcher, "member/"+server, func(ctx context.Context) (*platform.Member, error) {
		return eng.Client.Member(ctx, server, user)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching member %s: %w", user, err)
	}
	return m, nil
}

// Hierarchy guard: reports whether this system out-ranks `target` on the server. Equal positions do not out-rank.
// Evaluated at punishment time, against live role state.
func (eng *Engine) CanOutrank(ctx context.Context, server string, target *platform.Member) (bool, error) {
	st, err := eng.standing(ctx, server)
	if err != nil {
		return false, err
	}
	return st.outranks(target), nil
}

func (st *selfStanding) outranks(target *platform.Member) bool {
	return platform.HighestPosition(target, st.Roles) < st.Position
}
