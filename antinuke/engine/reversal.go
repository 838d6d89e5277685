package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guildwarden/warden/antinuke/cachestore"
	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/platform"

	"github.com/hashicorp/go-multierror"
)

const reversalReason = "Anti-nuke: reverting unauthorized change"

// Single best-effort pass undoing the change which triggered a breach. Failures are logged and never retried beyond the
// dispatcher's own retries. Deletions are handled by recoverDeletion instead.
func (eng *Engine) reverse(ctx context.Context, logger *slog.Logger, ev *event.Event, out *ActionOutcome) {
	ctx, span := tracer.Start(ctx, "reverse")
	defer span.End()

	server := ev.ServerID
	var err error
	switch ev.Kind {
	case event.KindMemberBan:
		err = eng.Dispatcher.Execute(ctx, "unban/"+server, func(ctx context.Context) error {
			return eng.Client.UnbanMember(ctx, server, ev.TargetID, reversalReason)
		})
	case event.KindMemberUnban:
		err = eng.Dispatcher.Execute(ctx, "ban/"+server, func(ctx context.Context) error {
			return eng.Client.BanMember(ctx, server, ev.TargetID, "Anti-nuke: reverting unauthorized unban")
		})
	case event.KindMemberKick:
		// kicks can not be undone; let the member know they may rejoin
		msg := fmt.Sprintf("You were removed from a server during an unauthorized mass-kick by <@%s>. The account responsible has been dealt with and you are welcome to rejoin.", out.ActorID)
		err = eng.Dispatcher.Execute(ctx, "dm/"+ev.TargetID, func(ctx context.Context) error {
			return eng.Client.SendDirectMessage(ctx, ev.TargetID, msg)
		})
	case event.KindBotAdd:
		err = eng.Dispatcher.Execute(ctx, "kick/"+server, func(ctx context.Context) error {
			return eng.Client.KickMember(ctx, server, ev.TargetID, "Anti-nuke: unauthorized bot")
		})
	case event.KindChannelCreate:
		err = eng.Dispatcher.Execute(ctx, "channel/"+server, func(ctx context.Context) error {
			return eng.Client.DeleteChannel(ctx, ev.TargetID, reversalReason)
		})
		if err == nil && eng.Cache != nil {
			_ = cachestore.PurgeChannel(ctx, eng.Cache, ev.TargetID)
		}
	case event.KindChannelUpdate:
		err = eng.restoreChannel(ctx, ev)
	case event.KindRoleCreate:
		err = eng.Dispatcher.Execute(ctx, "role/"+server, func(ctx context.Context) error {
			return eng.Client.DeleteRole(ctx, server, ev.TargetID, reversalReason)
		})
		if err == nil && eng.Cache != nil {
			_ = cachestore.PurgeRole(ctx, eng.Cache, server, ev.TargetID)
		}
	case event.KindRoleUpdate:
		err = eng.restoreRolePermissions(ctx, ev)
	case event.KindMemberRoleUpdate:
		err = eng.stripDangerousRoles(ctx, ev)
	default:
		return
	}

	out.ReversalAttempted = true
	if err != nil {
		logger.Error("reversal failed", "err", err)
		reversalCount.WithLabelValues(ev.Kind.String(), "failed").Inc()
		out.ReversalSucceeded = false
		if out.Detail == "" {
			out.Detail = "reversal: " + err.Error()
		}
		return
	}
	logger.Info("reversed change")
	reversalCount.WithLabelValues(ev.Kind.String(), "ok").Inc()
	out.ReversalSucceeded = true
}

func (eng *Engine) restoreChannel(ctx context.Context, ev *event.Event) error {
	before, after := ev.ChannelBefore, ev.Channel
	if before == nil || after == nil {
		return fmt.Errorf("missing channel state for %s", ev.TargetID)
	}
	route := "channel/" + ev.ServerID
	var result *multierror.Error
	if before.Name != after.Name {
		err := eng.Dispatcher.Execute(ctx, route, func(ctx context.Context) error {
			return eng.Client.RenameChannel(ctx, ev.TargetID, before.Name, reversalReason)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("restoring name: %w", err))
		}
	}
	switch {
	case before.ParentID != "" && before.PermissionsLocked && !after.PermissionsLocked:
		err := eng.Dispatcher.Execute(ctx, route, func(ctx context.Context) error {
			return eng.Client.LockChannelPermissions(ctx, ev.ServerID, ev.TargetID, reversalReason)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("locking permissions: %w", err))
		}
	case !platform.SameOverwrites(before.Overwrites, after.Overwrites):
		// an unsynced channel gets its own previous overwrites back
		err := eng.Dispatcher.Execute(ctx, route, func(ctx context.Context) error {
			return eng.Client.SetChannelOverwrites(ctx, ev.TargetID, before.Overwrites, reversalReason)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("restoring overwrites: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (eng *Engine) restoreRolePermissions(ctx context.Context, ev *event.Event) error {
	before := ev.RoleBefore
	if before == nil && eng.Cache != nil {
		cached, err := cachestore.GetRole(ctx, eng.Cache, ev.ServerID, ev.TargetID)
		if err != nil {
			return err
		}
		before = cached
	}
	if before == nil {
		return fmt.Errorf("no previous state for role %s", ev.TargetID)
	}
	return eng.Dispatcher.Execute(ctx, "role/"+ev.ServerID, func(ctx context.Context) error {
		return eng.Client.SetRolePermissions(ctx, ev.ServerID, ev.TargetID, before.Permissions, reversalReason)
	})
}

func (eng *Engine) stripDangerousRoles(ctx context.Context, ev *event.Event) error {
	var result *multierror.Error
	for _, r := range ev.DangerousAddedRoles() {
		roleID := r.ID
		err := eng.Dispatcher.Execute(ctx, "member-role/"+ev.ServerID, func(ctx context.Context) error {
			return eng.Client.RemoveMemberRole(ctx, ev.ServerID, ev.TargetID, roleID, reversalReason)
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("removing role %s: %w", roleID, err))
		}
	}
	return result.ErrorOrNil()
}

// Recreates a deleted channel or role from its last snapshot, when recovery is enabled for that entity type. Returns
// (succeeded, attempted).
func (eng *Engine) recoverDeletion(ctx context.Context, logger *slog.Logger, ev *event.Event) (bool, bool) {
	switch ev.Kind {
	case event.KindChannelDelete:
		if !eng.Config.recoverChannels() {
			return false, false
		}
		return eng.recoverChannel(ctx, logger, ev), true
	case event.KindRoleDelete:
		if !eng.Config.recoverRoles() {
			return false, false
		}
		return eng.recoverRole(ctx, logger, ev), true
	default:
		return false, false
	}
}

func (eng *Engine) recoverChannel(ctx context.Context, logger *slog.Logger, ev *event.Event) bool {
	snap := ev.Channel
	if snap == nil && eng.Cache != nil {
		cached, err := cachestore.GetChannel(ctx, eng.Cache, ev.TargetID)
		if err != nil {
			logger.Warn("reading channel snapshot", "err", err)
		}
		snap = cached
	}
	if snap == nil {
		logger.Warn("no snapshot of deleted channel, cannot recover")
		recoveryCount.WithLabelValues("channel", "no-snapshot").Inc()
		return false
	}

	created, err := dispatch.Call(ctx, eng.Dispatcher, "channel/"+ev.ServerID, func(ctx context.Context) (*platform.Channel, error) {
		return eng.Client.CreateChannel(ctx, ev.ServerID, *snap, "Anti-nuke: recovering deleted channel")
	})
	if err != nil {
		logger.Error("recreating deleted channel", "err", err)
		recoveryCount.WithLabelValues("channel", "failed").Inc()
		return false
	}
	logger.Info("recreated deleted channel", "name", snap.Name, "newChannel", created.ID)
	recoveryCount.WithLabelValues("channel", "ok").Inc()
	if eng.Cache != nil {
		_ = cachestore.PurgeChannel(ctx, eng.Cache, ev.TargetID)
		if err := cachestore.PutChannel(ctx, eng.Cache, created); err != nil {
			logger.Warn("writing channel snapshot", "err", err)
		}
	}
	return true
}

func (eng *Engine) recoverRole(ctx context.Context, logger *slog.Logger, ev *event.Event) bool {
	snap := ev.Role
	if snap == nil && eng.Cache != nil {
		cached, err := cachestore.GetRole(ctx, eng.Cache, ev.ServerID, ev.TargetID)
		if err != nil {
			logger.Warn("reading role snapshot", "err", err)
		}
		snap = cached
	}
	if snap == nil {
		logger.Warn("no snapshot of deleted role, cannot recover")
		recoveryCount.WithLabelValues("role", "no-snapshot").Inc()
		return false
	}
	if snap.Managed {
		logger.Info("deleted role was integration-managed, not recreating", "name", snap.Name)
		return false
	}

	created, err := dispatch.Call(ctx, eng.Dispatcher, "role/"+ev.ServerID, func(ctx context.Context) (*platform.Role, error) {
		return eng.Client.CreateRole(ctx, ev.ServerID, *snap, "Anti-nuke: recovering deleted role")
	})
	if err != nil {
		logger.Error("recreating deleted role", "err", err)
		recoveryCount.WithLabelValues("role", "failed").Inc()
		return false
	}
	logger.Info("recreated deleted role", "name", snap.Name, "newRole", created.ID)
	recoveryCount.WithLabelValues("role", "ok").Inc()
	if eng.Cache != nil {
		_ = cachestore.PurgeRole(ctx, eng.Cache, ev.ServerID, ev.TargetID)
		if err := cachestore.PutRole(ctx, eng.Cache, ev.ServerID, created); err != nil {
			logger.Warn("writing role snapshot", "err", err)
		}
	}
	return true
}
