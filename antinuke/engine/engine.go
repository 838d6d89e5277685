package engine

import (
	"context"
	"errors"
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

	"github.com/RussellLuo/slidingwindow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("warden")

type ActionOutcome = outcomestore.ActionOutcome

// Runtime for attributing change events, deciding on mitigation, and recording outcomes.
//
// Several fields must be non-nil: Logger, Client, Dispatcher, Detector, Sets. Cache, Outcomes, and Notifier are optional.
type Engine struct {
	Logger     *slog.Logger
	Client     platform.Client
	Dispatcher *dispatch.Dispatcher
	Detector   *detector.Detector
	Sets       setstore.SetStore
	Cache      cachestore.CacheStore
	Outcomes   outcomestore.OutcomeStore
	Notifier   Notifier
	Config     Config
	// clock, replaceable in tests
	Now func() time.Time

	quotaMu sync.Mutex
	quotas  map[string]*slidingwindow.Limiter
}

func (eng *Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now()
	}
	return time.Now()
}

// Handles one change event end to end: attribution, exemption, detection, punishment, reversal, and outcome emission.
// Never returns an error and never panics; every failure is contained to this event.
func (eng *Engine) Handle(ctx context.Context, ev *event.Event) {
	// similar to an HTTP server, we want to recover any panics from event handling
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("anti-nuke event handling exception", "err", r, "server", ev.ServerID, "kind", ev.Kind.String())
			eventErrorCount.WithLabelValues(ev.Kind.String()).Inc()
		}
	}()

	start := time.Now()
	ctx, span := tracer.Start(ctx, "Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("server", ev.ServerID),
		attribute.String("kind", ev.Kind.String()),
		attribute.String("target", ev.TargetID),
	)

	kind := ev.Kind.String()
	eventProcessCount.WithLabelValues(kind).Inc()
	defer func() {
		eventProcessDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	logger := eng.Logger.With("server", ev.ServerID, "kind", kind, "target", ev.TargetID)

	if err := ev.Validate(); err != nil {
		logger.Error("invalid event", "err", err)
		eventErrorCount.WithLabelValues(kind).Inc()
		return
	}
	protected, err := eng.Sets.InSet(ctx, setstore.SetProtected, ev.ServerID)
	if err != nil {
		logger.Error("checking protected servers", "err", err)
		eventErrorCount.WithLabelValues(kind).Inc()
		return
	}
	if !protected {
		logger.Debug("ignoring event from unprotected server")
		return
	}
	if !ev.Significant() {
		logger.Debug("ignoring insignificant change")
		return
	}

	info, _ := ev.Kind.Info()

	// 1. attribution
	actor, err := eng.ResolveActor(ctx, ev.ServerID, info.Audit, ev.ExpectedTarget())
	if err != nil {
		if errors.Is(err, ErrAuditFetch) {
			logger.Error("attribution failed", "err", err)
			eventErrorCount.WithLabelValues(kind).Inc()
		} else {
			logger.Debug("unattributed change", "reason", err)
		}
		attributionFailureCount.WithLabelValues(kind).Inc()
		return
	}
	logger = logger.With("actor", actor)
	span.SetAttributes(attribute.String("actor", actor))

	out := &ActionOutcome{
		ServerID:   ev.ServerID,
		ActorID:    actor,
		TargetID:   ev.TargetID,
		Kind:       string(info.Action),
		EventKind:  kind,
		PunishMode: string(eng.Config.Punishment),
	}

	// 2. exemption
	ex, err := eng.Exemption(ctx, actor, ev.ServerID)
	if err != nil {
		logger.Error("exemption check failed", "err", err)
		eventErrorCount.WithLabelValues(kind).Inc()
		return
	}
	if ex.Exempt() {
		logger.Info("trusted actor, skipping", "reason", ex.Reason())
		out.Status = outcomestore.StatusTrusted
		out.Detail = ex.Reason()
		eng.emit(ctx, logger, out)
		return
	}

	// 3. detection
	breached := true
	if info.ZeroThreshold {
		out.Count = 1
		out.Threshold = 0
	} else {
		v, err := eng.Detector.RecordAndCheck(ctx, info.Action, actor, ev.ServerID)
		if err != nil {
			logger.Error("detector failed", "err", err)
			eventErrorCount.WithLabelValues(kind).Inc()
			return
		}
		out.Count = v.Count
		out.Threshold = v.Threshold
		breached = v.Breached
	}

	// deletions are recovered on every occurrence, breach or not
	if ok, attempted := eng.recoverDeletion(ctx, logger, ev); attempted {
		out.ReversalAttempted = true
		out.ReversalSucceeded = ok
	}

	if !breached {
		logger.Info("threshold not met", "count", out.Count, "threshold", out.Threshold)
		out.Status = outcomestore.StatusBelowThreshold
		if out.ReversalAttempted && out.ReversalSucceeded {
			out.Status = outcomestore.StatusRecovered
		}
		eng.emit(ctx, logger, out)
		return
	}

	// 4-8. guards and punishment
	eng.punish(ctx, logger, ev, out)

	// 9. reversal
	eng.reverse(ctx, logger, ev, out)

	// 10. outcome
	eng.emit(ctx, logger, out)
}
