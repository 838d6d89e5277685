package discord

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitHeaders(t *testing.T) {
	assert := assert.New(t)

	h := http.Header{}
	h.Set("Retry-After", "3")
	h.Set("X-RateLimit-Reset-After", "1.25")
	h.Set("X-RateLimit-Scope", "user")
	wait, global := rateLimitHeaders(h)
	assert.Equal(1250*time.Millisecond, wait)
	assert.False(global)

	h = http.Header{}
	h.Set("Retry-After", "bogus")
	h.Set("X-RateLimit-Scope", "global")
	wait, global = rateLimitHeaders(h)
	assert.Equal(time.Duration(0), wait)
	assert.True(global)
}

func TestConvertError(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(convertError(nil))

	rl := &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 1500 * time.Millisecond},
		URL:             "https://discord.com/api/v9/guilds/1/bans/2",
	}}
	var rle *dispatch.RateLimitError
	require.True(t, errors.As(convertError(rl), &rle))
	assert.Equal(1500*time.Millisecond, rle.RetryAfter)
	assert.False(rle.Global)

	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	assert.ErrorIs(convertError(forbidden), dispatch.ErrPermanent)

	tooMany := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	assert.True(errors.As(convertError(tooMany), &rle))
	assert.Equal(time.Duration(0), rle.RetryAfter)
	assert.False(rle.Global)

	globalLimit := &discordgo.RESTError{Response: &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header: http.Header{
			"Retry-After":        []string{"2"},
			"X-Ratelimit-Global": []string{"true"},
		},
	}}
	require.True(t, errors.As(convertError(globalLimit), &rle))
	assert.Equal(2*time.Second, rle.RetryAfter)
	assert.True(rle.Global)

	unavailable := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	converted := convertError(unavailable)
	assert.False(errors.Is(converted, dispatch.ErrPermanent))
	assert.False(errors.As(converted, &rle))

	notFound := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	assert.True(isNotFound(notFound))
	assert.False(isNotFound(forbidden))
	assert.False(isNotFound(errors.New("boom")))
}

func TestToChannelPermissionsLocked(t *testing.T) {
	assert := assert.New(t)

	overwrites := []*discordgo.PermissionOverwrite{
		{ID: "1", Type: discordgo.PermissionOverwriteTypeRole, Deny: int64(platform.PermViewChannel)},
		{ID: "2", Type: discordgo.PermissionOverwriteTypeMember, Allow: int64(platform.PermManageChannels)},
	}
	parent := &discordgo.Channel{ID: "10", PermissionOverwrites: overwrites}
	synced := &discordgo.Channel{ID: "11", GuildID: "g", Name: "general", ParentID: "10", PermissionOverwrites: overwrites[:]}

	ch := toChannel(synced, parent)
	assert.True(ch.PermissionsLocked)
	assert.Equal("general", ch.Name)
	require.Equal(t, 2, len(ch.Overwrites))
	assert.Equal(platform.OverwriteMember, ch.Overwrites[1].Type)

	diverged := &discordgo.Channel{ID: "12", ParentID: "10", PermissionOverwrites: overwrites[:1]}
	assert.False(toChannel(diverged, parent).PermissionsLocked)
	assert.False(toChannel(synced, nil).PermissionsLocked)
	assert.Nil(toChannel(nil, nil))
}

func TestSnapshotPayloads(t *testing.T) {
	assert := assert.New(t)

	ch := platform.Channel{
		Name:       "general",
		Type:       0,
		ParentID:   "10",
		Topic:      "hi",
		Position:   3,
		Overwrites: []platform.Overwrite{{ID: "1", Deny: platform.PermViewChannel}},
	}
	data := channelCreateData(ch)
	assert.Equal("general", data.Name)
	assert.Equal("10", data.ParentID)
	assert.Equal(3, data.Position)
	require.Equal(t, 1, len(data.PermissionOverwrites))
	assert.Equal(int64(platform.PermViewChannel), data.PermissionOverwrites[0].Deny)

	params := roleParams(platform.Role{Name: "helpers", Color: 0xff, Hoist: true, Permissions: platform.PermKickMembers})
	assert.Equal("helpers", params.Name)
	assert.Equal(0xff, *params.Color)
	assert.True(*params.Hoist)
	assert.False(*params.Mentionable)
	assert.Equal(int64(platform.PermKickMembers), *params.Permissions)
}

func TestAddedRoleIDs(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"3"}, addedRoleIDs([]string{"1", "2"}, []string{"2", "3", "1"}))
	assert.Empty(addedRoleIDs([]string{"1", "2"}, []string{"1"}))
	assert.Equal([]string{"1"}, addedRoleIDs(nil, []string{"1"}))
}

func TestEventTranslation(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	human := &discordgo.User{ID: "5", Username: "human"}
	bot := &discordgo.User{ID: "6", Username: "bot", Bot: true}

	ev := banEvent(event.KindMemberBan, "g", human, now)
	require.NotNil(t, ev)
	assert.NoError(ev.Validate())
	assert.Equal("5", ev.TargetID)
	assert.Nil(banEvent(event.KindMemberBan, "g", nil, now))

	assert.Nil(memberAddEvent(&discordgo.Member{GuildID: "g", User: human}, now))
	ev = memberAddEvent(&discordgo.Member{GuildID: "g", User: bot}, now)
	require.NotNil(t, ev)
	assert.Equal(event.KindBotAdd, ev.Kind)
	assert.True(ev.Significant())

	ev = memberRemoveEvent(&discordgo.Member{GuildID: "g", User: human}, now)
	require.NotNil(t, ev)
	assert.Equal(event.KindMemberKick, ev.Kind)
	assert.Equal("5", ev.ExpectedTarget())
}

func TestMemberRoleUpdateTranslation(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	roles := map[string]*platform.Role{
		"r1": {ID: "r1", Name: "member", Permissions: platform.PermViewChannel},
		"r2": {ID: "r2", Name: "mod", Permissions: platform.PermBanMembers},
	}
	lookup := func(id string) *platform.Role { return roles[id] }
	user := &discordgo.User{ID: "5"}

	before := &discordgo.Member{GuildID: "g", User: user, Roles: []string{"r1"}}
	after := &discordgo.Member{GuildID: "g", User: user, Roles: []string{"r1", "r2", "missing"}}
	ev := memberRoleUpdateEvent(after, before, now, lookup)
	require.NotNil(t, ev)
	assert.Equal(event.KindMemberRoleUpdate, ev.Kind)
	require.Equal(t, 1, len(ev.AddedRoles))
	assert.Equal("r2", ev.AddedRoles[0].ID)
	assert.True(ev.Significant())

	// removals alone are not reported
	assert.Nil(memberRoleUpdateEvent(before, after, now, lookup))
}

func TestChannelAndRoleTranslation(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	before := &platform.Channel{ID: "c", GuildID: "g", Name: "general"}
	after := &platform.Channel{ID: "c", GuildID: "g", Name: "free-nitro"}
	ev := channelEvent(event.KindChannelUpdate, after, before, now)
	require.NotNil(t, ev)
	assert.Equal("g", ev.ServerID)
	assert.True(ev.Significant())
	assert.Nil(channelEvent(event.KindChannelCreate, nil, nil, now))

	ev = roleEvent(event.KindRoleUpdate, "g",
		&platform.Role{ID: "r", Permissions: platform.PermAdministrator},
		&platform.Role{ID: "r"}, now)
	require.NotNil(t, ev)
	assert.True(ev.Significant())
	assert.Nil(roleEvent(event.KindRoleCreate, "g", nil, nil, now))
}
