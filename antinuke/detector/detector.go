package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/windowstore"
)

// Threshold applied to action kinds with no configured limit.
const DefaultLimit = 3

// Per action kind limits, plus the one window shared by every kind.
type Thresholds struct {
	Limits map[event.ActionKind]int
	Window time.Duration
}

func (t Thresholds) Limit(kind event.ActionKind) int {
	if n, ok := t.Limits[kind]; ok && n > 0 {
		return n
	}
	return DefaultLimit
}

type Verdict struct {
	Count     int
	Threshold int
	Breached  bool
}

// Sliding-window abuse detector. Counters are independent per (kind, server); there is no cross-kind aggregation.
type Detector struct {
	Logger     *slog.Logger
	Store      windowstore.WindowStore
	Thresholds Thresholds
	// clock, replaceable in tests
	Now func() time.Time
}

func NewDetector(logger *slog.Logger, store windowstore.WindowStore, thresholds Thresholds) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		Logger:     logger.With("component", "detector"),
		Store:      store,
		Thresholds: thresholds,
		Now:        time.Now,
	}
}

// Records one occurrence of `kind` by `actor` on `server`, and reports whether the actor's count within the window has
// reached the kind's threshold. A breach is `count >= threshold`.
func (d *Detector) RecordAndCheck(ctx context.Context, kind event.ActionKind, actor, server string) (Verdict, error) {
	limit := d.Thresholds.Limit(kind)
	count, err := d.Store.RecordAndCount(ctx, string(kind), server, actor, d.Now(), d.Thresholds.Window)
	if err != nil {
		return Verdict{Threshold: limit}, fmt.Errorf("recording %s by %s: %w", kind, actor, err)
	}
	v := Verdict{
		Count:     count,
		Threshold: limit,
		Breached:  count >= limit,
	}
	if v.Breached {
		detectorBreachCount.WithLabelValues(string(kind)).Inc()
	}
	d.Logger.Debug("recorded action", "kind", kind, "actor", actor, "server", server, "count", count, "threshold", limit)
	return v, nil
}

// Current count of `kind` by `actor` on `server` within the window, without recording.
func (d *Detector) Count(ctx context.Context, kind event.ActionKind, actor, server string) (int, error) {
	return d.Store.Count(ctx, string(kind), server, actor, d.Now(), d.Thresholds.Window)
}
