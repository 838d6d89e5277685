package engine

import (
	"context"
	"log/slog"

	"github.com/guildwarden/warden/antinuke/outcomestore"
)

// Outcomes which are worth telling a human about.
func notable(o *ActionOutcome) bool {
	switch o.Status {
	case outcomestore.StatusTrusted, outcomestore.StatusBelowThreshold:
		return false
	default:
		return true
	}
}

// Records the outcome, logs a canonical line, and fans out notifications.
func (eng *Engine) emit(ctx context.Context, logger *slog.Logger, out *ActionOutcome) {
	if out.CreatedAt.IsZero() {
		out.CreatedAt = eng.now()
	}
	outcomeCount.WithLabelValues(out.Kind, string(out.Status)).Inc()

	logger.Info("action outcome",
		"status", out.Status,
		"count", out.Count,
		"threshold", out.Threshold,
		"punished", out.Punished,
		"reversalAttempted", out.ReversalAttempted,
		"reversalSucceeded", out.ReversalSucceeded,
	)

	if eng.Outcomes != nil {
		if err := eng.Outcomes.Save(ctx, out); err != nil {
			logger.Error("failed to persist outcome", "err", err)
		}
	}
	if eng.Notifier != nil && notable(out) {
		if err := eng.Notifier.NotifyOutcome(ctx, out); err != nil {
			notifyErrorCount.Inc()
			logger.Error("failed to deliver outcome notification", "err", err)
		}
	}
}
