package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/outcomestore"
	"github.com/guildwarden/warden/antinuke/platform"

	"github.com/RussellLuo/slidingwindow"
)

func punishReason(out *ActionOutcome) string {
	if out.Threshold == 0 {
		return fmt.Sprintf("Anti-nuke: unauthorized %s", out.Kind)
	}
	return fmt.Sprintf("Anti-nuke: %s threshold exceeded (%d/%d)", out.Kind, out.Count, out.Threshold)
}

// Guards and executes the configured punishment against the actor. Every abort sets a distinct outcome status; nothing
// is returned.
func (eng *Engine) punish(ctx context.Context, logger *slog.Logger, ev *event.Event, out *ActionOutcome) {
	ctx, span := tracer.Start(ctx, "punish")
	defer span.End()

	server := ev.ServerID
	actor := out.ActorID

	target, err := eng.member(ctx, server, actor)
	if err != nil {
		logger.Error("resolving actor for punishment", "err", err)
		out.Status = outcomestore.StatusUnresolved
		out.Detail = err.Error()
		return
	}
	if target == nil {
		logger.Warn("actor is no longer a member, skipping punishment")
		out.Status = outcomestore.StatusUnresolved
		return
	}

	st, err := eng.standing(ctx, server)
	if err != nil {
		logger.Error("resolving own standing", "err", err)
		out.Status = outcomestore.StatusUnresolved
		out.Detail = err.Error()
		return
	}
	if actor == st.Guild.OwnerID || actor == eng.Client.SelfID() {
		logger.Warn("refusing to punish server owner or self")
		out.Status = outcomestore.StatusProtectedTarget
		return
	}

	mode := eng.Config.Punishment
	var needed platform.Permissions
	switch mode {
	case PunishBan:
		needed = platform.PermBanMembers
	case PunishKick:
		needed = platform.PermKickMembers
	default:
		logger.Warn("threshold breached, punishment disabled", "count", out.Count, "threshold", out.Threshold)
		out.Status = outcomestore.StatusLogOnly
		return
	}

	if !st.Perms.Has(needed) {
		logger.Error("missing permission for punishment", "mode", mode, "needed", needed.String())
		out.Status = outcomestore.StatusCapabilityDenied
		out.Detail = fmt.Sprintf("missing %s", needed)
		return
	}

	if !st.outranks(target) {
		logger.Warn("actor ranks at or above this system, cannot punish",
			"actorPosition", platform.HighestPosition(target, st.Roles), "ownPosition", st.Position)
		out.Status = outcomestore.StatusHierarchy
		return
	}

	if !eng.allowPunishment(server) {
		logger.Warn("CIRCUIT BREAKER: punishment quota exhausted", "quota", eng.Config.PunishQuotaPerHour)
		out.Status = outcomestore.StatusQuota
		return
	}

	reason := punishReason(out)
	switch mode {
	case PunishBan:
		err = eng.Dispatcher.Execute(ctx, "ban/"+server, func(ctx context.Context) error {
			return eng.Client.BanMember(ctx, server, actor, reason)
		})
	case PunishKick:
		err = eng.Dispatcher.Execute(ctx, "kick/"+server, func(ctx context.Context) error {
			return eng.Client.KickMember(ctx, server, actor, reason)
		})
	}
	if err != nil {
		logger.Error("punishment failed", "mode", mode, "err", err)
		out.Status = outcomestore.StatusPunishFailed
		out.Detail = err.Error()
		return
	}

	logger.Warn("punished actor", "mode", mode, "count", out.Count, "threshold", out.Threshold)
	punishmentCount.WithLabelValues(string(mode)).Inc()
	out.Punished = true
	out.Status = outcomestore.StatusPunished
}

func quotaWindow() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

// Per-server circuit breaker on punishments, so a misconfiguration can not ban a whole server.
func (eng *Engine) allowPunishment(server string) bool {
	quota := eng.Config.PunishQuotaPerHour
	if quota <= 0 {
		return true
	}
	eng.quotaMu.Lock()
	defer eng.quotaMu.Unlock()
	if eng.quotas == nil {
		eng.quotas = make(map[string]*slidingwindow.Limiter)
	}
	lim, ok := eng.quotas[server]
	if !ok {
		lim, _ = slidingwindow.NewLimiter(time.Hour, int64(quota), quotaWindow)
		eng.quotas[server] = lim
	}
	return lim.Allow()
}
