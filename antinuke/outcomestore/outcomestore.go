package outcomestore

import (
	"context"
	"time"
)

// Terminal status of handling one change event.
type Status string

const (
	// actor is exempt
	StatusTrusted Status = "trusted"
	// recorded, but below the threshold
	StatusBelowThreshold Status = "below-threshold"
	// target member could not be resolved (already left, or fetch failed)
	StatusUnresolved Status = "unresolved"
	// target is the server owner or this system
	StatusProtectedTarget Status = "protected-target"
	// punishment mode requires a permission the system lacks
	StatusCapabilityDenied Status = "capability-denied"
	// target ranks at or above the system
	StatusHierarchy Status = "hierarchy"
	// per-server punishment quota exhausted
	StatusQuota Status = "quota"
	// punishment call failed after dispatcher retries
	StatusPunishFailed Status = "punish-failed"
	StatusPunished     Status = "punished"
	// breach detected with punishment mode "none"
	StatusLogOnly Status = "log-only"
	// no breach, but a deleted entity was recreated
	StatusRecovered Status = "recovered"
)

// Record of one handled event, consumed by logging and notification.
type ActionOutcome struct {
	ServerID  string
	ActorID   string
	TargetID  string
	Kind      string
	EventKind string
	Status    Status

	Count     int
	Threshold int

	Punished          bool
	PunishMode        string
	ReversalAttempted bool
	ReversalSucceeded bool

	// error or explanation, empty on clean success
	Detail    string
	CreatedAt time.Time
}

type OutcomeStore interface {
	Save(ctx context.Context, o *ActionOutcome) error
	// most recent first
	ListByServer(ctx context.Context, serverID string, limit int) ([]ActionOutcome, error)
	CountPunishments(ctx context.Context, serverID string, since time.Time) (int, error)
}
