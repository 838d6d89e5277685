package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guildwarden/warden/antinuke/cachestore"
	"github.com/guildwarden/warden/antinuke/detector"
	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/outcomestore"
	"github.com/guildwarden/warden/antinuke/platform"
	"github.com/guildwarden/warden/antinuke/setstore"
	"github.com/guildwarden/warden/antinuke/windowstore"
)

// Identifiers used by EngineTestFixture.
const (
	TestGuildID      = "200000000000000001"
	TestSelfID       = "100000000000000001"
	TestOwnerID      = "100000000000000002"
	TestAttackerID   = "100000000000000003"
	TestTrustedID    = "100000000000000004"
	TestBotOwnerID   = "100000000000000005"
	TestAdminID      = "100000000000000006"
	TestBotRoleID    = "300000000000000001"
	TestModRoleID    = "300000000000000002"
	TestAdminRoleID  = "300000000000000003"
	TestPlainRoleID  = "300000000000000004"
	TestChannelID    = "400000000000000001"
	TestCategoryID   = "400000000000000002"
	TestVictimID     = "100000000000000007"
	TestBotAccountID = "100000000000000008"
)

// Records notifications, for use in tests.
type RecordingNotifier struct {
	mu       sync.Mutex
	Outcomes []ActionOutcome
	Texts    []string
}

func (n *RecordingNotifier) NotifyOutcome(ctx context.Context, o *ActionOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Outcomes = append(n.Outcomes, *o)
	return nil
}

func (n *RecordingNotifier) NotifyText(ctx context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Texts = append(n.Texts, msg)
	return nil
}

type TestFixture struct {
	Engine   *Engine
	Client   *platform.MockClient
	Outcomes *outcomestore.MemOutcomeStore
	Notifier *RecordingNotifier
	Sets     *setstore.MemSetStore
	Cache    *cachestore.MemCacheStore
}

func FixtureRoles() []platform.Role {
	return []platform.Role{
		{ID: TestGuildID, Name: "@everyone", Position: 0, Permissions: platform.PermViewChannel},
		{ID: TestPlainRoleID, Name: "member", Position: 1, Permissions: platform.PermViewChannel},
		{ID: TestModRoleID, Name: "mod", Position: 5, Permissions: platform.PermBanMembers | platform.PermManageChannels | platform.PermManageRoles},
		{ID: TestBotRoleID, Name: "warden", Position: 10, Permissions: platform.PermBanMembers | platform.PermKickMembers |
			platform.PermViewAuditLog | platform.PermManageRoles | platform.PermManageChannels | platform.PermManageGuild},
		{ID: TestAdminRoleID, Name: "admin", Position: 20, Permissions: platform.PermAdministrator},
	}
}

// Engine wired to in-memory stores and a mock platform client: one protected guild with an owner, this system holding a
// mid-ranked role, a lower-ranked attacker, a whitelisted account, and a higher-ranked admin.
func EngineTestFixture() *TestFixture {
	client := platform.NewMockClient(TestSelfID)
	guild := platform.Guild{ID: TestGuildID, Name: "test server", OwnerID: TestOwnerID}
	client.InsertGuild(guild, FixtureRoles())
	client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: TestSelfID, Username: "warden", Bot: true}, RoleIDs: []string{TestBotRoleID}})
	client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: TestOwnerID, Username: "owner"}})
	client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: TestAttackerID, Username: "attacker"}, RoleIDs: []string{TestModRoleID}})
	client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: TestTrustedID, Username: "trusted"}, RoleIDs: []string{TestModRoleID}})
	client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: TestAdminID, Username: "admin"}, RoleIDs: []string{TestAdminRoleID}})
	client.InsertMember(TestGuildID, platform.Member{User: platform.User{ID: TestVictimID, Username: "victim"}, RoleIDs: []string{TestPlainRoleID}})

	sets := setstore.NewMemSetStore()
	sets.Add(setstore.SetProtected, TestGuildID)
	sets.Add(setstore.SetWhitelist, TestTrustedID)
	sets.Add(setstore.SetOwners, TestBotOwnerID)

	cache := cachestore.NewMemCacheStore(100, time.Hour)
	_ = cachestore.PutGuild(context.Background(), cache, &guild)

	logger := slog.Default()
	disp := dispatch.NewDispatcher(logger, dispatch.Options{
		RetryLimit:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	det := detector.NewDetector(logger, windowstore.NewMemWindowStore(), detector.Thresholds{
		Limits: map[event.ActionKind]int{},
		Window: time.Minute,
	})
	outcomes := outcomestore.NewMemOutcomeStore()
	notifier := &RecordingNotifier{}

	eng := &Engine{
		Logger:     logger,
		Client:     client,
		Dispatcher: disp,
		Detector:   det,
		Sets:       sets,
		Cache:      cache,
		Outcomes:   outcomes,
		Notifier:   notifier,
		Config:     DefaultConfig(),
	}
	return &TestFixture{
		Engine:   eng,
		Client:   client,
		Outcomes: outcomes,
		Notifier: notifier,
		Sets:     sets,
		Cache:    cache,
	}
}

// Sets the latest audit entry of the given action, timestamped now.
func (f *TestFixture) Audit(action platform.AuditAction, executor, target string) {
	f.Client.SetAudit(TestGuildID, platform.AuditEntry{
		ID:         "500000000000000001",
		Action:     action,
		ExecutorID: executor,
		TargetID:   target,
		CreatedAt:  time.Now(),
	})
}

// Most recent outcome, or nil.
func (f *TestFixture) LastOutcome() *ActionOutcome {
	all := f.Outcomes.All()
	if len(all) == 0 {
		return nil
	}
	o := all[len(all)-1]
	return &o
}
