package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/guildwarden/warden/antinuke/cachestore"
	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/platform"
)

// Receives translated change events. Must not block for long; the gateway read loop waits on it.
type Sink func(ev *event.Event)

// Subscribes to gateway events, keeps entity snapshots current in the cache, and translates the changes the anti-nuke
// core watches into event.Event values.
type Gateway struct {
	Session *discordgo.Session
	Cache   cachestore.CacheStore
	Logger  *slog.Logger
	Sink    Sink

	removeHandlers []func()
}

func NewGateway(logger *slog.Logger, client *Client, cache cachestore.CacheStore, sink Sink) *Gateway {
	return &Gateway{
		Session: client.Session,
		Cache:   cache,
		Logger:  logger.With("component", "gateway"),
		Sink:    sink,
	}
}

// Registers handlers and opens the websocket connection.
func (g *Gateway) Start() error {
	s := g.Session
	g.removeHandlers = append(g.removeHandlers,
		s.AddHandler(g.onGuildCreate),
		s.AddHandler(g.onGuildUpdate),
		s.AddHandler(g.onBanAdd),
		s.AddHandler(g.onBanRemove),
		s.AddHandler(g.onMemberAdd),
		s.AddHandler(g.onMemberRemove),
		s.AddHandler(g.onMemberUpdate),
		s.AddHandler(g.onChannelCreate),
		s.AddHandler(g.onChannelUpdate),
		s.AddHandler(g.onChannelDelete),
		s.AddHandler(g.onRoleCreate),
		s.AddHandler(g.onRoleUpdate),
		s.AddHandler(g.onRoleDelete),
	)
	if err := s.Open(); err != nil {
		return fmt.Errorf("opening gateway connection: %w", err)
	}
	g.Logger.Info("gateway connected")
	return nil
}

func (g *Gateway) Close() error {
	for _, remove := range g.removeHandlers {
		remove()
	}
	g.removeHandlers = nil
	return g.Session.Close()
}

func (g *Gateway) emit(ev *event.Event) {
	if ev == nil || g.Sink == nil {
		return
	}
	g.Sink(ev)
}

func (g *Gateway) snapshotChannel(ctx context.Context, ch *platform.Channel) {
	if g.Cache == nil || ch == nil {
		return
	}
	if err := cachestore.PutChannel(ctx, g.Cache, ch); err != nil {
		g.Logger.Warn("writing channel snapshot", "channel", ch.ID, "err", err)
	}
}

func (g *Gateway) snapshotRole(ctx context.Context, guildID string, r *platform.Role) {
	if g.Cache == nil || r == nil {
		return
	}
	if err := cachestore.PutRole(ctx, g.Cache, guildID, r); err != nil {
		g.Logger.Warn("writing role snapshot", "role", r.ID, "err", err)
	}
}

// Parent category from the state cache, if known.
func (g *Gateway) parentOf(c *discordgo.Channel) *discordgo.Channel {
	if c == nil || c.ParentID == "" || g.Session.State == nil {
		return nil
	}
	parent, err := g.Session.State.Channel(c.ParentID)
	if err != nil {
		return nil
	}
	return parent
}

func (g *Gateway) onGuildCreate(s *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil || g.Cache == nil {
		return
	}
	ctx := context.Background()
	if err := cachestore.PutGuild(ctx, g.Cache, toGuild(e.Guild)); err != nil {
		g.Logger.Warn("writing guild snapshot", "server", e.Guild.ID, "err", err)
	}
	for _, r := range e.Guild.Roles {
		g.snapshotRole(ctx, e.Guild.ID, toRole(r))
	}
	parents := make(map[string]*discordgo.Channel)
	for _, c := range e.Guild.Channels {
		parents[c.ID] = c
	}
	for _, c := range e.Guild.Channels {
		ch := toChannel(c, parents[c.ParentID])
		ch.GuildID = e.Guild.ID
		g.snapshotChannel(ctx, ch)
	}
	g.Logger.Info("guild available", "server", e.Guild.ID, "roles", len(e.Guild.Roles), "channels", len(e.Guild.Channels))
}

func (g *Gateway) onGuildUpdate(s *discordgo.Session, e *discordgo.GuildUpdate) {
	if e.Guild == nil || g.Cache == nil {
		return
	}
	if err := cachestore.PutGuild(context.Background(), g.Cache, toGuild(e.Guild)); err != nil {
		g.Logger.Warn("writing guild snapshot", "server", e.Guild.ID, "err", err)
	}
}

func (g *Gateway) onBanAdd(s *discordgo.Session, e *discordgo.GuildBanAdd) {
	g.emit(banEvent(event.KindMemberBan, e.GuildID, e.User, time.Now()))
}

func (g *Gateway) onBanRemove(s *discordgo.Session, e *discordgo.GuildBanRemove) {
	g.emit(banEvent(event.KindMemberUnban, e.GuildID, e.User, time.Now()))
}

func (g *Gateway) onMemberAdd(s *discordgo.Session, e *discordgo.GuildMemberAdd) {
	g.emit(memberAddEvent(e.Member, time.Now()))
}

func (g *Gateway) onMemberRemove(s *discordgo.Session, e *discordgo.GuildMemberRemove) {
	g.emit(memberRemoveEvent(e.Member, time.Now()))
}

func (g *Gateway) onMemberUpdate(s *discordgo.Session, e *discordgo.GuildMemberUpdate) {
	if e.BeforeUpdate == nil {
		g.Logger.Debug("member update without previous state", "server", e.GuildID)
		return
	}
	ctx := context.Background()
	g.emit(memberRoleUpdateEvent(e.Member, e.BeforeUpdate, time.Now(), func(roleID string) *platform.Role {
		return g.lookupRole(ctx, e.GuildID, roleID)
	}))
}

func (g *Gateway) lookupRole(ctx context.Context, guildID, roleID string) *platform.Role {
	if g.Session.State != nil {
		if r, err := g.Session.State.Role(guildID, roleID); err == nil {
			return toRole(r)
		}
	}
	if g.Cache != nil {
		if r, err := cachestore.GetRole(ctx, g.Cache, guildID, roleID); err == nil && r != nil {
			return r
		}
	}
	return nil
}

func (g *Gateway) onChannelCreate(s *discordgo.Session, e *discordgo.ChannelCreate) {
	ch := toChannel(e.Channel, g.parentOf(e.Channel))
	if ch == nil || ch.GuildID == "" {
		return
	}
	g.snapshotChannel(context.Background(), ch)
	g.emit(channelEvent(event.KindChannelCreate, ch, nil, time.Now()))
}

func (g *Gateway) onChannelUpdate(s *discordgo.Session, e *discordgo.ChannelUpdate) {
	ctx := context.Background()
	after := toChannel(e.Channel, g.parentOf(e.Channel))
	if after == nil || after.GuildID == "" {
		return
	}
	// the update payload carries only the new state
	var before *platform.Channel
	if g.Cache != nil {
		cached, err := cachestore.GetChannel(ctx, g.Cache, after.ID)
		if err != nil {
			g.Logger.Warn("reading channel snapshot", "channel", after.ID, "err", err)
		}
		before = cached
	}
	ev := channelEvent(event.KindChannelUpdate, after, before, time.Now())
	// keep the pre-change snapshot until the change has been judged
	g.emit(ev)
	g.snapshotChannel(ctx, after)
}

func (g *Gateway) onChannelDelete(s *discordgo.Session, e *discordgo.ChannelDelete) {
	ctx := context.Background()
	ch := toChannel(e.Channel, nil)
	if ch == nil || ch.GuildID == "" {
		return
	}
	// the delete payload lacks category sync state; prefer the snapshot when there is one
	if g.Cache != nil {
		if cached, err := cachestore.GetChannel(ctx, g.Cache, ch.ID); err == nil && cached != nil {
			ch = cached
		}
	}
	g.emit(channelEvent(event.KindChannelDelete, ch, nil, time.Now()))
}

func (g *Gateway) onRoleCreate(s *discordgo.Session, e *discordgo.GuildRoleCreate) {
	if e.GuildRole == nil {
		return
	}
	r := toRole(e.Role)
	g.snapshotRole(context.Background(), e.GuildID, r)
	g.emit(roleEvent(event.KindRoleCreate, e.GuildID, r, nil, time.Now()))
}

func (g *Gateway) onRoleUpdate(s *discordgo.Session, e *discordgo.GuildRoleUpdate) {
	if e.GuildRole == nil {
		return
	}
	ctx := context.Background()
	after := toRole(e.Role)
	var before *platform.Role
	if g.Cache != nil && after != nil {
		cached, err := cachestore.GetRole(ctx, g.Cache, e.GuildID, after.ID)
		if err != nil {
			g.Logger.Warn("reading role snapshot", "role", after.ID, "err", err)
		}
		before = cached
	}
	g.emit(roleEvent(event.KindRoleUpdate, e.GuildID, after, before, time.Now()))
	g.snapshotRole(ctx, e.GuildID, after)
}

func (g *Gateway) onRoleDelete(s *discordgo.Session, e *discordgo.GuildRoleDelete) {
	// the engine reads the deleted role's snapshot from the cache
	g.emit(&event.Event{
		Kind:       event.KindRoleDelete,
		ServerID:   e.GuildID,
		ObservedAt: time.Now(),
		TargetID:   e.RoleID,
	})
}

func banEvent(kind event.Kind, guildID string, u *discordgo.User, now time.Time) *event.Event {
	if u == nil {
		return nil
	}
	return &event.Event{
		Kind:       kind,
		ServerID:   guildID,
		ObservedAt: now,
		TargetID:   u.ID,
		User:       toUser(u),
	}
}

// Only bot joins are of interest.
func memberAddEvent(m *discordgo.Member, now time.Time) *event.Event {
	if m == nil || m.User == nil || !m.User.Bot {
		return nil
	}
	return &event.Event{
		Kind:       event.KindBotAdd,
		ServerID:   m.GuildID,
		ObservedAt: now,
		TargetID:   m.User.ID,
		User:       toUser(m.User),
		Member:     toMember(m),
	}
}

// A member removal may be a kick or a voluntary leave; attribution against the kick audit entry tells them apart.
func memberRemoveEvent(m *discordgo.Member, now time.Time) *event.Event {
	if m == nil || m.User == nil {
		return nil
	}
	return &event.Event{
		Kind:       event.KindMemberKick,
		ServerID:   m.GuildID,
		ObservedAt: now,
		TargetID:   m.User.ID,
		User:       toUser(m.User),
	}
}

func memberRoleUpdateEvent(after, before *discordgo.Member, now time.Time, lookup func(roleID string) *platform.Role) *event.Event {
	if after == nil || before == nil || after.User == nil {
		return nil
	}
	added := addedRoleIDs(before.Roles, after.Roles)
	if len(added) == 0 {
		return nil
	}
	ev := &event.Event{
		Kind:       event.KindMemberRoleUpdate,
		ServerID:   after.GuildID,
		ObservedAt: now,
		TargetID:   after.User.ID,
		User:       toUser(after.User),
		Member:     toMember(after),
	}
	for _, id := range added {
		if r := lookup(id); r != nil {
			ev.AddedRoles = append(ev.AddedRoles, *r)
		}
	}
	return ev
}

func channelEvent(kind event.Kind, after, before *platform.Channel, now time.Time) *event.Event {
	if after == nil {
		return nil
	}
	return &event.Event{
		Kind:          kind,
		ServerID:      after.GuildID,
		ObservedAt:    now,
		TargetID:      after.ID,
		Channel:       after,
		ChannelBefore: before,
	}
}

func roleEvent(kind event.Kind, guildID string, after, before *platform.Role, now time.Time) *event.Event {
	if after == nil {
		return nil
	}
	return &event.Event{
		Kind:       kind,
		ServerID:   guildID,
		ObservedAt: now,
		TargetID:   after.ID,
		Role:       after,
		RoleBefore: before,
	}
}
