package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guildwarden/warden/antinuke/dispatch"
	"github.com/guildwarden/warden/antinuke/platform"
)

// Change could not be attributed to an actor. Callers treat it as organic and take no action.
var ErrNoMatch = errors.New("no matching audit entry")

// Wrapped together with ErrNoMatch when the audit trail could not be read at all.
var ErrAuditFetch = errors.New("audit log fetch failed")

// Resolves the actor responsible for a change from the most recent audit trail entry of the given kind. The entry must be
// at most AuditMaxAge old, and when `expectedTarget` is non-empty its target must match.
//
// Returns an error wrapping ErrNoMatch on any failure.
func (eng *Engine) ResolveActor(ctx context.Context, server string, action platform.AuditAction, expectedTarget string) (string, error) {
	entry, err := dispatch.Call(ctx, eng.Dispatcher, "audit/"+server, func(ctx context.Context) (*platform.AuditEntry, error) {
		return eng.Client.LatestAuditEntry(ctx, server, action)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w: %w", ErrNoMatch, ErrAuditFetch, err)
	}
	if entry == nil {
		return "", fmt.Errorf("%w: no %s entries", ErrNoMatch, action)
	}

	maxAge := eng.Config.AuditMaxAge
	if maxAge <= 0 {
		maxAge = DefaultAuditMaxAge
	}
	age := eng.now().Sub(entry.CreatedAt)
	if age > maxAge {
		return "", fmt.Errorf("%w: latest %s entry is stale (%s)", ErrNoMatch, action, age.Round(time.Millisecond))
	}
	if expectedTarget != "" && entry.TargetID != expectedTarget {
		return "", fmt.Errorf("%w: latest %s entry targets %s, not %s", ErrNoMatch, action, entry.TargetID, expectedTarget)
	}
	if entry.ExecutorID == "" {
		return "", fmt.Errorf("%w: %s entry has no executor", ErrNoMatch, action)
	}
	return entry.ExecutorID, nil
}
