package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/platform"
	"github.com/guildwarden/warden/antinuke/setstore"

	"golang.org/x/time/rate"
)

// Without these, punishment is impossible.
var CriticalPermissions = []platform.Permissions{
	platform.PermBanMembers,
	platform.PermKickMembers,
}

// Without these, attribution or reversal is degraded.
var ImportantPermissions = []platform.Permissions{
	platform.PermViewAuditLog,
	platform.PermManageRoles,
	platform.PermManageChannels,
	platform.PermManageGuild,
}

const (
	// hierarchy is only judged on servers with more sampled members than this
	hierarchyMinMembers = 5
	hierarchyMaxRatio   = 0.7
	healthMemberSample  = 1000
)

type HealthReport struct {
	ServerID         string
	Administrator    bool
	MissingCritical  []platform.Permissions
	MissingImportant []platform.Permissions
	// human members sampled, excluding the owner
	Members   int
	Outranked int
}

func (r *HealthReport) OutrankedRatio() float64 {
	if r.Members == 0 {
		return 0
	}
	return float64(r.Outranked) / float64(r.Members)
}

func (r *HealthReport) HierarchyProblem() bool {
	return r.Members > hierarchyMinMembers && r.OutrankedRatio() > hierarchyMaxRatio
}

// Stable, human-readable issue descriptions; used to detect new and resolved issues between sweeps.
func (r *HealthReport) Issues() []string {
	var out []string
	for _, p := range r.MissingCritical {
		out = append(out, "missing critical permission "+p.String())
	}
	for _, p := range r.MissingImportant {
		out = append(out, "missing permission "+p.String())
	}
	if r.HierarchyProblem() {
		out = append(out, "role too low: most members rank at or above this bot")
	}
	sort.Strings(out)
	return out
}

// Checks permissions and role hierarchy of this system on one server.
func (eng *Engine) CheckHealth(ctx context.Context, server string) (*HealthReport, error) {
	st, err := eng.standing(ctx, server)
	if err != nil {
		return nil, err
	}
	rep := &HealthReport{
		ServerID:      server,
		Administrator: st.Perms.HasExact(platform.PermAdministrator),
	}
	if !rep.Administrator {
		for _, p := range CriticalPermissions {
			if !st.Perms.Has(p) {
				rep.MissingCritical = append(rep.MissingCritical, p)
			}
		}
		for _, p := range ImportantPermissions {
			if !st.Perms.Has(p) {
				rep.MissingImportant = append(rep.MissingImportant, p)
			}
		}
	}

	members, err := dispatch.Call(ctx, eng.Dispatcher, "members/"+server, func(ctx context.Context) ([]platform.Member, error) {
		return eng.Client.GuildMembers(ctx, server, healthMemberSample)
	})
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	for _, m := range members {
		if m.User.Bot || m.User.ID == st.Guild.OwnerID || m.User.ID == eng.Client.SelfID() {
			continue
		}
		rep.Members++
		if !st.outranks(&m) {
			rep.Outranked++
		}
	}

	healthMissingCritical.WithLabelValues(server).Set(float64(len(rep.MissingCritical)))
	healthMissingImportant.WithLabelValues(server).Set(float64(len(rep.MissingImportant)))
	healthOutrankedRatio.WithLabelValues(server).Set(rep.OutrankedRatio())
	return rep, nil
}

// Periodically checks every protected server, reporting issues when they appear and again when they are resolved.
type HealthMonitor struct {
	Engine   *Engine
	Logger   *slog.Logger
	Interval time.Duration
	// paces server checks within a sweep; each check lists members
	Limiter *rate.Limiter

	mu   sync.Mutex
	last map[string]map[string]bool
}

func NewHealthMonitor(eng *Engine, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		Engine:   eng,
		Logger:   eng.Logger.With("component", "health"),
		Interval: interval,
		Limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
		last:     make(map[string]map[string]bool),
	}
}

// Sweeps immediately, then every Interval until the context is canceled.
func (m *HealthMonitor) Run(ctx context.Context) error {
	m.Sweep(ctx)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func (m *HealthMonitor) Sweep(ctx context.Context) {
	servers, err := m.Engine.Sets.Members(ctx, setstore.SetProtected)
	if err != nil {
		m.Logger.Error("listing protected servers", "err", err)
		return
	}
	sort.Strings(servers)
	for _, server := range servers {
		if err := m.Limiter.Wait(ctx); err != nil {
			return
		}
		rep, err := m.Engine.CheckHealth(ctx, server)
		if err != nil {
			m.Logger.Error("health check failed", "server", server, "err", err)
			continue
		}
		m.report(ctx, rep)
	}
}

func (m *HealthMonitor) report(ctx context.Context, rep *HealthReport) {
	current := make(map[string]bool)
	for _, issue := range rep.Issues() {
		current[issue] = true
	}

	m.mu.Lock()
	prev := m.last[rep.ServerID]
	m.last[rep.ServerID] = current
	m.mu.Unlock()

	var added, resolved []string
	for issue := range current {
		if !prev[issue] {
			added = append(added, issue)
		}
	}
	for issue := range prev {
		if !current[issue] {
			resolved = append(resolved, issue)
		}
	}
	sort.Strings(added)
	sort.Strings(resolved)

	logger := m.Logger.With("server", rep.ServerID)
	for _, issue := range added {
		logger.Warn("health issue detected", "issue", issue)
	}
	for _, issue := range resolved {
		logger.Info("health issue resolved", "issue", issue)
	}
	if m.Engine.Notifier == nil || (len(added) == 0 && len(resolved) == 0) {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Anti-Nuke health check for server `%s`\n", rep.ServerID)
	for _, issue := range added {
		fmt.Fprintf(&b, "❌ %s\n", issue)
	}
	for _, issue := range resolved {
		fmt.Fprintf(&b, "✅ resolved: %s\n", issue)
	}
	if err := m.Engine.Notifier.NotifyText(ctx, b.String()); err != nil {
		notifyErrorCount.Inc()
		logger.Error("failed to deliver health notification", "err", err)
	}
}
