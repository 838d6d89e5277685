package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/guildwarden/warden/antinuke/platform"
)

// Maximum page size of the member list endpoint.
const memberPageSize = 1000

// Implements platform.Client on top of the discordgo REST API. The library's own rate-limit retries are disabled;
// rate limits surface as dispatch.RateLimitError and are handled by the dispatcher.
type Client struct {
	Session *discordgo.Session
	Logger  *slog.Logger

	selfID string
}

var _ platform.Client = (*Client)(nil)

func NewClient(ctx context.Context, logger *slog.Logger, token string) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.ShouldRetryOnRateLimit = false
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildBans

	me, err := s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetching own identity: %w", err)
	}
	logger.Info("authenticated", "user", me.Username, "id", me.ID)
	return &Client{Session: s, Logger: logger, selfID: me.ID}, nil
}

func (c *Client) SelfID() string {
	return c.selfID
}

func (c *Client) Guild(ctx context.Context, guildID string) (*platform.Guild, error) {
	g, err := c.Session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, convertError(err)
	}
	return toGuild(g), nil
}

func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]platform.Role, error) {
	roles, err := c.Session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, convertError(err)
	}
	out := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, *toRole(r))
	}
	return out, nil
}

func (c *Client) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	m, err := c.Session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, convertError(err)
	}
	return toMember(m), nil
}

func (c *Client) GuildMembers(ctx context.Context, guildID string, limit int) ([]platform.Member, error) {
	var out []platform.Member
	after := ""
	for limit <= 0 || len(out) < limit {
		page := memberPageSize
		if limit > 0 && limit-len(out) < page {
			page = limit - len(out)
		}
		members, err := c.Session.GuildMembers(guildID, after, page, discordgo.WithContext(ctx))
		if err != nil {
			return nil, convertError(err)
		}
		for _, m := range members {
			if pm := toMember(m); pm != nil {
				out = append(out, *pm)
				after = m.User.ID
			}
		}
		if len(members) < page {
			break
		}
	}
	return out, nil
}

func (c *Client) LatestAuditEntry(ctx context.Context, guildID string, action platform.AuditAction) (*platform.AuditEntry, error) {
	log, err := c.Session.GuildAuditLog(guildID, "", "", int(action), 1, discordgo.WithContext(ctx))
	if err != nil {
		return nil, convertError(err)
	}
	if log == nil || len(log.AuditLogEntries) == 0 {
		return nil, nil
	}
	e := log.AuditLogEntries[0]
	created, err := discordgo.SnowflakeTimestamp(e.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing audit entry ID %q: %w", e.ID, err)
	}
	return &platform.AuditEntry{
		ID:         e.ID,
		Action:     action,
		ExecutorID: e.UserID,
		TargetID:   e.TargetID,
		CreatedAt:  created,
	}, nil
}

func (c *Client) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return convertError(c.Session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (c *Client) UnbanMember(ctx context.Context, guildID, userID, reason string) error {
	return convertError(c.Session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return convertError(c.Session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return convertError(c.Session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) CreateRole(ctx context.Context, guildID string, role platform.Role, reason string) (*platform.Role, error) {
	r, err := c.Session.GuildRoleCreate(guildID, roleParams(role), discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return nil, convertError(err)
	}
	return toRole(r), nil
}

func (c *Client) DeleteRole(ctx context.Context, guildID, roleID, reason string) error {
	return convertError(c.Session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *Client) SetRolePermissions(ctx context.Context, guildID, roleID string, perms platform.Permissions, reason string) error {
	p := int64(perms)
	_, err := c.Session.GuildRoleEdit(guildID, roleID, &discordgo.RoleParams{Permissions: &p}, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return convertError(err)
}

func (c *Client) CreateChannel(ctx context.Context, guildID string, ch platform.Channel, reason string) (*platform.Channel, error) {
	created, err := c.Session.GuildChannelCreateComplex(guildID, channelCreateData(ch), discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return nil, convertError(err)
	}
	return toChannel(created, nil), nil
}

func (c *Client) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := c.Session.ChannelDelete(channelID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return convertError(err)
}

func (c *Client) RenameChannel(ctx context.Context, channelID, name, reason string) error {
	_, err := c.Session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return convertError(err)
}

func (c *Client) LockChannelPermissions(ctx context.Context, guildID, channelID, reason string) error {
	ch, err := c.Session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return convertError(err)
	}
	if ch.ParentID == "" {
		return nil
	}
	parent, err := c.Session.Channel(ch.ParentID, discordgo.WithContext(ctx))
	if err != nil {
		return convertError(err)
	}
	edit := &discordgo.ChannelEdit{PermissionOverwrites: parent.PermissionOverwrites}
	_, err = c.Session.ChannelEdit(channelID, edit, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return convertError(err)
}

func (c *Client) SetChannelOverwrites(ctx context.Context, channelID string, overwrites []platform.Overwrite, reason string) error {
	edit := &discordgo.ChannelEdit{PermissionOverwrites: fromOverwrites(overwrites)}
	_, err := c.Session.ChannelEdit(channelID, edit, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return convertError(err)
}

func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) error {
	dm, err := c.Session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return convertError(err)
	}
	_, err = c.Session.ChannelMessageSend(dm.ID, content, discordgo.WithContext(ctx))
	return convertError(err)
}
