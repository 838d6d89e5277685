package platform

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// Single outbound call recorded by MockClient.
type MockCall struct {
	Method string
	Guild  string
	Target string
	Detail string
}

// A fake platform client, for use in tests. Reads are served from the exported maps; writes are recorded in Calls and applied
// to the maps where that is meaningful.
type MockClient struct {
	mu *sync.Mutex

	Self    string
	Guilds  map[string]Guild
	Roles   map[string][]Role
	Members map[string]map[string]Member
	// latest audit entry per guild and action
	Audit map[string]map[AuditAction]AuditEntry

	// errors to return, keyed by method name
	Errors map[string]error
	// number of failures to inject before Errors stops applying, keyed by method name. Zero means always fail.
	ErrorCount map[string]int

	Calls []MockCall

	nextID int
}

var _ Client = (*MockClient)(nil)

func NewMockClient(selfID string) *MockClient {
	return &MockClient{
		mu:         &sync.Mutex{},
		Self:       selfID,
		Guilds:     make(map[string]Guild),
		Roles:      make(map[string][]Role),
		Members:    make(map[string]map[string]Member),
		Audit:      make(map[string]map[AuditAction]AuditEntry),
		Errors:     make(map[string]error),
		ErrorCount: make(map[string]int),
		nextID:     900000000000000000,
	}
}

func (c *MockClient) InsertGuild(g Guild, roles []Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Guilds[g.ID] = g
	c.Roles[g.ID] = roles
	if _, ok := c.Members[g.ID]; !ok {
		c.Members[g.ID] = make(map[string]Member)
	}
}

func (c *MockClient) InsertMember(guildID string, m Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Members[guildID]; !ok {
		c.Members[guildID] = make(map[string]Member)
	}
	c.Members[guildID][m.User.ID] = m
}

func (c *MockClient) SetAudit(guildID string, e AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Audit[guildID]; !ok {
		c.Audit[guildID] = make(map[AuditAction]AuditEntry)
	}
	c.Audit[guildID][e.Action] = e
}

// Returns the calls recorded for the given method.
func (c *MockClient) CallsTo(method string) []MockCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []MockCall
	for _, call := range c.Calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// Returns the number of recorded calls which mutate platform state or send messages.
func (c *MockClient) WriteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.Calls {
		switch call.Method {
		case "Guild", "GuildRoles", "Member", "GuildMembers", "LatestAuditEntry":
		default:
			n++
		}
	}
	return n
}

// must be called with lock held
func (c *MockClient) record(method, guild, target, detail string) error {
	c.Calls = append(c.Calls, MockCall{Method: method, Guild: guild, Target: target, Detail: detail})
	err, ok := c.Errors[method]
	if !ok {
		return nil
	}
	if n, limited := c.ErrorCount[method]; limited && n > 0 {
		if n == 1 {
			delete(c.Errors, method)
			delete(c.ErrorCount, method)
		} else {
			c.ErrorCount[method] = n - 1
		}
	}
	return err
}

func (c *MockClient) newID() string {
	c.nextID++
	return strconv.Itoa(c.nextID)
}

func (c *MockClient) SelfID() string {
	return c.Self
}

func (c *MockClient) Guild(ctx context.Context, guildID string) (*Guild, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("Guild", guildID, "", ""); err != nil {
		return nil, err
	}
	g, ok := c.Guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("unknown guild: %s", guildID)
	}
	return &g, nil
}

func (c *MockClient) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("GuildRoles", guildID, "", ""); err != nil {
		return nil, err
	}
	out := make([]Role, len(c.Roles[guildID]))
	copy(out, c.Roles[guildID])
	return out, nil
}

func (c *MockClient) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("Member", guildID, userID, ""); err != nil {
		return nil, err
	}
	m, ok := c.Members[guildID][userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (c *MockClient) GuildMembers(ctx context.Context, guildID string, limit int) ([]Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("GuildMembers", guildID, "", ""); err != nil {
		return nil, err
	}
	var out []Member
	for _, m := range c.Members[guildID] {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *MockClient) LatestAuditEntry(ctx context.Context, guildID string, action AuditAction) (*AuditEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("LatestAuditEntry", guildID, "", action.String()); err != nil {
		return nil, err
	}
	e, ok := c.Audit[guildID][action]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *MockClient) BanMember(ctx context.Context, guildID, userID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("BanMember", guildID, userID, reason); err != nil {
		return err
	}
	delete(c.Members[guildID], userID)
	return nil
}

func (c *MockClient) UnbanMember(ctx context.Context, guildID, userID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record("UnbanMember", guildID, userID, reason)
}

func (c *MockClient) KickMember(ctx context.Context, guildID, userID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("KickMember", guildID, userID, reason); err != nil {
		return err
	}
	delete(c.Members[guildID], userID)
	return nil
}

func (c *MockClient) RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("RemoveMemberRole", guildID, userID, roleID); err != nil {
		return err
	}
	m, ok := c.Members[guildID][userID]
	if !ok {
		return nil
	}
	kept := m.RoleIDs[:0:0]
	for _, rid := range m.RoleIDs {
		if rid != roleID {
			kept = append(kept, rid)
		}
	}
	m.RoleIDs = kept
	c.Members[guildID][userID] = m
	return nil
}

func (c *MockClient) CreateRole(ctx context.Context, guildID string, role Role, reason string) (*Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("CreateRole", guildID, role.Name, reason); err != nil {
		return nil, err
	}
	role.ID = c.newID()
	c.Roles[guildID] = append(c.Roles[guildID], role)
	return &role, nil
}

func (c *MockClient) DeleteRole(ctx context.Context, guildID, roleID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("DeleteRole", guildID, roleID, reason); err != nil {
		return err
	}
	roles := c.Roles[guildID]
	for i, r := range roles {
		if r.ID == roleID {
			c.Roles[guildID] = append(roles[:i:i], roles[i+1:]...)
			break
		}
	}
	return nil
}

func (c *MockClient) SetRolePermissions(ctx context.Context, guildID, roleID string, perms Permissions, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("SetRolePermissions", guildID, roleID, strconv.FormatInt(int64(perms), 10)); err != nil {
		return err
	}
	for i, r := range c.Roles[guildID] {
		if r.ID == roleID {
			c.Roles[guildID][i].Permissions = perms
		}
	}
	return nil
}

func (c *MockClient) CreateChannel(ctx context.Context, guildID string, ch Channel, reason string) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.record("CreateChannel", guildID, ch.Name, reason); err != nil {
		return nil, err
	}
	ch.ID = c.newID()
	ch.GuildID = guildID
	return &ch, nil
}

func (c *MockClient) DeleteChannel(ctx context.Context, channelID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record("DeleteChannel", "", channelID, reason)
}

func (c *MockClient) RenameChannel(ctx context.Context, channelID, name, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record("RenameChannel", "", channelID, name)
}

func (c *MockClient) LockChannelPermissions(ctx context.Context, guildID, channelID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record("LockChannelPermissions", guildID, channelID, reason)
}

func (c *MockClient) SetChannelOverwrites(ctx context.Context, channelID string, overwrites []Overwrite, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record("SetChannelOverwrites", "", channelID, strconv.Itoa(len(overwrites)))
}

func (c *MockClient) SendDirectMessage(ctx context.Context, userID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record("SendDirectMessage", "", userID, content)
}
