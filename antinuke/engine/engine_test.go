package engine

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/guildwarden/warden/antinuke/cachestore"
	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/outcomestore"
	"github.com/guildwarden/warden/antinuke/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channelDeleteEvent(id, name string) *event.Event {
	return &event.Event{
		Kind:       event.KindChannelDelete,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   id,
		Channel:    &platform.Channel{ID: id, GuildID: TestGuildID, Name: name},
	}
}

func botAddEvent() *event.Event {
	return &event.Event{
		Kind:       event.KindBotAdd,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   TestBotAccountID,
		User:       &platform.User{ID: TestBotAccountID, Username: "nukebot", Bot: true},
		Member:     &platform.Member{User: platform.User{ID: TestBotAccountID, Bot: true}},
	}
}

func TestEngineChannelDeletionScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Detector.Thresholds.Limits[event.ActionChannelDelete] = 5
	f.Engine.Detector.Thresholds.Window = 60 * time.Second

	for i := 1; i <= 5; i++ {
		id := strconv.Itoa(400000000000000100 + i)
		f.Audit(platform.AuditChannelDelete, TestAttackerID, id)
		f.Engine.Handle(ctx, channelDeleteEvent(id, "chan-"+strconv.Itoa(i)))

		out := f.LastOutcome()
		require.NotNil(t, out)
		assert.Equal(i, out.Count)
		assert.True(out.ReversalAttempted)
		assert.True(out.ReversalSucceeded)
		if i < 5 {
			assert.Equal(outcomestore.StatusRecovered, out.Status)
			assert.False(out.Punished)
			assert.Empty(f.Client.CallsTo("BanMember"))
		}
	}

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusPunished, out.Status)
	assert.True(out.Punished)
	bans := f.Client.CallsTo("BanMember")
	require.Equal(t, 1, len(bans))
	assert.Equal(TestAttackerID, bans[0].Target)
	// every deleted channel was recreated, breach or not
	assert.Equal(5, len(f.Client.CallsTo("CreateChannel")))
}

func TestEngineBelowThresholdOnlyLooksUpAudit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Config.AutoRecovery = false
	f.Engine.Detector.Thresholds.Limits[event.ActionChannelDelete] = 5

	for i := 1; i <= 3; i++ {
		id := strconv.Itoa(400000000000000100 + i)
		f.Audit(platform.AuditChannelDelete, TestAttackerID, id)
		f.Engine.Handle(ctx, channelDeleteEvent(id, "chan"))
		assert.Equal(outcomestore.StatusBelowThreshold, f.LastOutcome().Status)
	}

	assert.Equal(0, f.Client.WriteCount())
	for _, call := range f.Client.Calls {
		assert.Equal("LatestAuditEntry", call.Method)
	}
	assert.Equal(3, len(f.Client.Calls))
	assert.Empty(f.Notifier.Outcomes)
}

func TestEngineExemptActorsNeverPunished(t *testing.T) {
	ctx := context.Background()

	for _, actor := range []string{TestOwnerID, TestSelfID, TestTrustedID, TestBotOwnerID} {
		t.Run(actor, func(t *testing.T) {
			assert := assert.New(t)
			f := EngineTestFixture()
			f.Engine.Detector.Thresholds.Limits[event.ActionChannelDelete] = 1

			f.Audit(platform.AuditBotAdd, actor, TestBotAccountID)
			f.Engine.Handle(ctx, botAddEvent())
			f.Audit(platform.AuditChannelDelete, actor, TestChannelID)
			f.Engine.Handle(ctx, channelDeleteEvent(TestChannelID, "general"))

			assert.Equal(0, f.Client.WriteCount())
			for _, o := range f.Outcomes.All() {
				assert.Equal(outcomestore.StatusTrusted, o.Status)
				assert.False(o.Punished)
			}
			assert.Equal(2, len(f.Outcomes.All()))
		})
	}
}

func TestEngineHierarchyGuard(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Audit(platform.AuditBotAdd, TestAdminID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())

	out := f.LastOutcome()
	require.NotNil(t, out)
	assert.Equal(outcomestore.StatusHierarchy, out.Status)
	assert.False(out.Punished)
	assert.Empty(f.Client.CallsTo("BanMember"))
	// damage control still runs: the bot is removed
	kicks := f.Client.CallsTo("KickMember")
	require.Equal(t, 1, len(kicks))
	assert.Equal(TestBotAccountID, kicks[0].Target)
	assert.True(out.ReversalSucceeded)
}

func TestEngineHierarchyEqualPosition(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: TestAttackerID}, RoleIDs: []string{TestBotRoleID}})
	f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())

	assert.Equal(outcomestore.StatusHierarchy, f.LastOutcome().Status)
	assert.Empty(f.Client.CallsTo("BanMember"))
}

func TestEngineCapabilityDenied(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	roles := FixtureRoles()
	for i := range roles {
		if roles[i].ID == TestBotRoleID {
			roles[i].Permissions &^= platform.PermBanMembers
		}
	}
	f.Client.Roles[TestGuildID] = roles

	f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusCapabilityDenied, out.Status)
	assert.Empty(f.Client.CallsTo("BanMember"))
	assert.Equal(1, len(f.Notifier.Outcomes))

	// kick mode only needs kick permission
	f.Engine.Config.Punishment = PunishKick
	f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())
	assert.Equal(outcomestore.StatusPunished, f.LastOutcome().Status)
	kicked := false
	for _, c := range f.Client.CallsTo("KickMember") {
		if c.Target == TestAttackerID {
			kicked = true
		}
	}
	assert.True(kicked)
}

func TestEngineAttributionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("stale", func(t *testing.T) {
		f := EngineTestFixture()
		f.Client.SetAudit(TestGuildID, platform.AuditEntry{
			Action:     platform.AuditBotAdd,
			ExecutorID: TestAttackerID,
			TargetID:   TestBotAccountID,
			CreatedAt:  time.Now().Add(-6 * time.Second),
		})
		f.Engine.Handle(ctx, botAddEvent())
		assert.Nil(t, f.LastOutcome())
		assert.Equal(t, 0, f.Client.WriteCount())
	})

	t.Run("missing", func(t *testing.T) {
		f := EngineTestFixture()
		f.Engine.Handle(ctx, botAddEvent())
		assert.Nil(t, f.LastOutcome())
	})

	t.Run("target-mismatch", func(t *testing.T) {
		f := EngineTestFixture()
		f.Audit(platform.AuditMemberKick, TestAttackerID, TestAdminID)
		f.Engine.Handle(ctx, &event.Event{
			Kind:       event.KindMemberKick,
			ServerID:   TestGuildID,
			ObservedAt: time.Now(),
			TargetID:   TestVictimID,
			User:       &platform.User{ID: TestVictimID},
		})
		assert.Nil(t, f.LastOutcome())
	})

	t.Run("fetch-error", func(t *testing.T) {
		f := EngineTestFixture()
		f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
		f.Client.Errors["LatestAuditEntry"] = errors.New("missing access")
		f.Engine.Handle(ctx, botAddEvent())
		assert.Nil(t, f.LastOutcome())
		assert.Equal(t, 0, f.Client.WriteCount())
		// transient failures were retried by the dispatcher
		assert.Equal(t, 3, len(f.Client.CallsTo("LatestAuditEntry")))
	})
}

func TestResolveActor(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Audit(platform.AuditMemberKick, TestAttackerID, TestVictimID)

	actor, err := f.Engine.ResolveActor(ctx, TestGuildID, platform.AuditMemberKick, TestVictimID)
	assert.NoError(err)
	assert.Equal(TestAttackerID, actor)

	actor, err = f.Engine.ResolveActor(ctx, TestGuildID, platform.AuditMemberKick, "")
	assert.NoError(err)
	assert.Equal(TestAttackerID, actor)

	_, err = f.Engine.ResolveActor(ctx, TestGuildID, platform.AuditMemberKick, TestAdminID)
	assert.ErrorIs(err, ErrNoMatch)
	assert.False(errors.Is(err, ErrAuditFetch))

	f.Engine.Now = func() time.Time { return time.Now().Add(5 * time.Second) }
	_, err = f.Engine.ResolveActor(ctx, TestGuildID, platform.AuditMemberKick, TestVictimID)
	assert.ErrorIs(err, ErrNoMatch)

	f.Engine.Now = nil
	f.Client.Errors["LatestAuditEntry"] = errors.New("boom")
	_, err = f.Engine.ResolveActor(ctx, TestGuildID, platform.AuditMemberKick, TestVictimID)
	assert.ErrorIs(err, ErrNoMatch)
	assert.ErrorIs(err, ErrAuditFetch)
}

func TestEngineUnprotectedServer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	ev := botAddEvent()
	ev.ServerID = "200000000000000999"
	f.Engine.Handle(ctx, ev)
	assert.Empty(f.Client.Calls)
	assert.Nil(f.LastOutcome())
}

func TestEngineInsignificantChange(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Handle(ctx, &event.Event{
		Kind:       event.KindRoleUpdate,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   TestPlainRoleID,
		RoleBefore: &platform.Role{ID: TestPlainRoleID, Name: "member", Permissions: platform.PermViewChannel},
		Role:       &platform.Role{ID: TestPlainRoleID, Name: "members", Permissions: platform.PermViewChannel},
	})
	assert.Empty(f.Client.Calls)
}

func TestEngineRoleUpdateReversal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Audit(platform.AuditRoleUpdate, TestAttackerID, TestPlainRoleID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:       event.KindRoleUpdate,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   TestPlainRoleID,
		RoleBefore: &platform.Role{ID: TestPlainRoleID, Permissions: platform.PermViewChannel},
		Role:       &platform.Role{ID: TestPlainRoleID, Permissions: platform.PermViewChannel | platform.PermAdministrator},
	})

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusPunished, out.Status)
	assert.Equal(0, out.Threshold)
	restores := f.Client.CallsTo("SetRolePermissions")
	require.Equal(t, 1, len(restores))
	assert.Equal(TestPlainRoleID, restores[0].Target)
	assert.Equal(strconv.FormatInt(int64(platform.PermViewChannel), 10), restores[0].Detail)
	assert.True(out.ReversalSucceeded)
}

func TestEngineMemberRoleUpdateReversal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	roles := FixtureRoles()
	mod, _ := platform.FindRole(roles, TestModRoleID)
	plain, _ := platform.FindRole(roles, TestPlainRoleID)

	f.Audit(platform.AuditMemberRoleUpdate, TestAttackerID, TestVictimID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:       event.KindMemberRoleUpdate,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   TestVictimID,
		Member:     &platform.Member{User: platform.User{ID: TestVictimID}, RoleIDs: []string{TestPlainRoleID, TestModRoleID}},
		AddedRoles: []platform.Role{mod, plain},
	})

	assert.Equal(outcomestore.StatusPunished, f.LastOutcome().Status)
	removed := f.Client.CallsTo("RemoveMemberRole")
	require.Equal(t, 1, len(removed))
	assert.Equal(TestVictimID, removed[0].Target)
	assert.Equal(TestModRoleID, removed[0].Detail)
}

func TestEngineBanReversal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Detector.Thresholds.Limits[event.ActionBan] = 1
	f.Audit(platform.AuditMemberBanAdd, TestAttackerID, TestVictimID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:       event.KindMemberBan,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   TestVictimID,
		User:       &platform.User{ID: TestVictimID},
	})

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusPunished, out.Status)
	unbans := f.Client.CallsTo("UnbanMember")
	require.Equal(t, 1, len(unbans))
	assert.Equal(TestVictimID, unbans[0].Target)
	assert.Equal(1, len(f.Notifier.Outcomes))
}

func TestEngineChannelUpdateReversal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Audit(platform.AuditChannelUpdate, TestAttackerID, TestChannelID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:          event.KindChannelUpdate,
		ServerID:      TestGuildID,
		ObservedAt:    time.Now(),
		TargetID:      TestChannelID,
		ChannelBefore: &platform.Channel{ID: TestChannelID, Name: "general", ParentID: TestCategoryID, PermissionsLocked: true},
		Channel:       &platform.Channel{ID: TestChannelID, Name: "free-nitro", ParentID: TestCategoryID},
	})

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusPunished, out.Status)
	renames := f.Client.CallsTo("RenameChannel")
	require.Equal(t, 1, len(renames))
	assert.Equal("general", renames[0].Detail)
	assert.Equal(1, len(f.Client.CallsTo("LockChannelPermissions")))
	assert.True(out.ReversalSucceeded)
}

func TestEngineChannelUpdateKeepsUnsyncedOverwrites(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	private := []platform.Overwrite{
		{ID: TestGuildID, Type: platform.OverwriteRole, Deny: platform.PermViewChannel},
	}
	f := EngineTestFixture()
	f.Audit(platform.AuditChannelUpdate, TestAttackerID, TestChannelID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:          event.KindChannelUpdate,
		ServerID:      TestGuildID,
		ObservedAt:    time.Now(),
		TargetID:      TestChannelID,
		ChannelBefore: &platform.Channel{ID: TestChannelID, Name: "staff", ParentID: TestCategoryID, Overwrites: private},
		Channel:       &platform.Channel{ID: TestChannelID, Name: "free-nitro", ParentID: TestCategoryID, Overwrites: private},
	})

	out := f.LastOutcome()
	assert.True(out.ReversalSucceeded)
	assert.Equal(1, len(f.Client.CallsTo("RenameChannel")))
	// a channel that was never synced with its category must not be synced now
	assert.Empty(f.Client.CallsTo("LockChannelPermissions"))
	assert.Empty(f.Client.CallsTo("SetChannelOverwrites"))
}

func TestEngineChannelUpdateRestoresOverwrites(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Audit(platform.AuditChannelUpdate, TestAttackerID, TestChannelID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:       event.KindChannelUpdate,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   TestChannelID,
		ChannelBefore: &platform.Channel{ID: TestChannelID, Name: "staff", ParentID: TestCategoryID, Overwrites: []platform.Overwrite{
			{ID: TestGuildID, Type: platform.OverwriteRole, Deny: platform.PermViewChannel},
		}},
		Channel: &platform.Channel{ID: TestChannelID, Name: "free-nitro", ParentID: TestCategoryID},
	})

	out := f.LastOutcome()
	assert.True(out.ReversalSucceeded)
	assert.Empty(f.Client.CallsTo("LockChannelPermissions"))
	restores := f.Client.CallsTo("SetChannelOverwrites")
	require.Equal(t, 1, len(restores))
	assert.Equal(TestChannelID, restores[0].Target)
	assert.Equal("1", restores[0].Detail)
}

func TestEngineReversalFailureIsContained(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Client.Errors["RenameChannel"] = errors.New("missing permissions")
	f.Audit(platform.AuditChannelUpdate, TestAttackerID, TestChannelID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:          event.KindChannelUpdate,
		ServerID:      TestGuildID,
		ObservedAt:    time.Now(),
		TargetID:      TestChannelID,
		ChannelBefore: &platform.Channel{ID: TestChannelID, Name: "general", ParentID: TestCategoryID, PermissionsLocked: true},
		Channel:       &platform.Channel{ID: TestChannelID, Name: "staff-alert", ParentID: TestCategoryID},
	})

	out := f.LastOutcome()
	assert.True(out.Punished)
	assert.True(out.ReversalAttempted)
	assert.False(out.ReversalSucceeded)
	// the permission re-lock is still attempted
	assert.Equal(1, len(f.Client.CallsTo("LockChannelPermissions")))
}

func TestEngineRoleDeleteRecoveryFromSnapshot(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	deleted := &platform.Role{ID: "300000000000000099", Name: "helpers", Position: 3, Permissions: platform.PermViewChannel}
	require.NoError(t, cachestore.PutRole(ctx, f.Cache, TestGuildID, deleted))

	f.Audit(platform.AuditRoleDelete, TestAttackerID, deleted.ID)
	f.Engine.Handle(ctx, &event.Event{
		Kind:       event.KindRoleDelete,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   deleted.ID,
	})

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusRecovered, out.Status)
	creates := f.Client.CallsTo("CreateRole")
	require.Equal(t, 1, len(creates))
	assert.Equal("helpers", creates[0].Target)

	gone, err := cachestore.GetRole(ctx, f.Cache, TestGuildID, deleted.ID)
	assert.NoError(err)
	assert.Nil(gone)

	// recovery disabled per entity type
	f.Engine.Config.RecoverRoles = false
	f.Audit(platform.AuditRoleDelete, TestAttackerID, "300000000000000098")
	f.Engine.Handle(ctx, &event.Event{
		Kind:       event.KindRoleDelete,
		ServerID:   TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   "300000000000000098",
		Role:       &platform.Role{ID: "300000000000000098", Name: "other"},
	})
	assert.Equal(1, len(f.Client.CallsTo("CreateRole")))
	assert.False(f.LastOutcome().ReversalAttempted)
}

func TestEngineLogOnlyMode(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Config.Punishment = PunishNone
	f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusLogOnly, out.Status)
	assert.False(out.Punished)
	assert.Empty(f.Client.CallsTo("BanMember"))
	// the bot is still removed
	assert.Equal(1, len(f.Client.CallsTo("KickMember")))
}

func TestEnginePunishmentQuota(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Engine.Config.PunishQuotaPerHour = 1
	second := "100000000000000009"
	f.Client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: second}, RoleIDs: []string{TestModRoleID}})

	f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())
	assert.Equal(outcomestore.StatusPunished, f.LastOutcome().Status)

	f.Audit(platform.AuditBotAdd, second, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())
	assert.Equal(outcomestore.StatusQuota, f.LastOutcome().Status)
	assert.Equal(1, len(f.Client.CallsTo("BanMember")))
}

func TestEnginePunishmentExhaustsRetries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	f.Client.Errors["BanMember"] = errors.New("internal server error")
	f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())

	out := f.LastOutcome()
	assert.Equal(outcomestore.StatusPunishFailed, out.Status)
	assert.False(out.Punished)
	assert.NotEmpty(out.Detail)
	// one attempt plus two retries, and no re-decision
	assert.Equal(3, len(f.Client.CallsTo("BanMember")))
}

func TestEngineActorAlreadyGone(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	delete(f.Client.Members[TestGuildID], TestAttackerID)
	f.Audit(platform.AuditBotAdd, TestAttackerID, TestBotAccountID)
	f.Engine.Handle(ctx, botAddEvent())

	assert.Equal(outcomestore.StatusUnresolved, f.LastOutcome().Status)
	assert.Empty(f.Client.CallsTo("BanMember"))
}

type panicSets struct{}

func (panicSets) InSet(ctx context.Context, name, val string) (bool, error) {
	panic("set store exploded")
}

func (panicSets) Members(ctx context.Context, name string) ([]string, error) {
	panic("set store exploded")
}

func TestEngineRecoversPanics(t *testing.T) {
	f := EngineTestFixture()
	f.Engine.Sets = panicSets{}
	assert.NotPanics(t, func() {
		f.Engine.Handle(context.Background(), botAddEvent())
	})
}

func TestEngineInvalidEvent(t *testing.T) {
	assert := assert.New(t)

	f := EngineTestFixture()
	f.Engine.Handle(context.Background(), &event.Event{Kind: event.KindBotAdd, ServerID: TestGuildID})
	assert.Empty(f.Client.Calls)
}
