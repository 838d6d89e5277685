package outcomestore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Database row for an ActionOutcome.
type OutcomeRecord struct {
	gorm.Model
	ServerID          string `gorm:"index:idx_outcome_server_created,priority:1"`
	ActorID           string `gorm:"index"`
	TargetID          string
	Kind              string
	EventKind         string
	Status            string
	Count             int
	Threshold         int
	Punished          bool
	PunishMode        string
	ReversalAttempted bool
	ReversalSucceeded bool
	Detail            string
	OccurredAt        time.Time `gorm:"index:idx_outcome_server_created,priority:2"`
}

func (OutcomeRecord) TableName() string {
	return "action_outcomes"
}

// SQL-backed action ledger (sqlite or postgres through gorm).
type GormOutcomeStore struct {
	db *gorm.DB
}

var _ OutcomeStore = (*GormOutcomeStore)(nil)

// Wraps a database handle, creating or migrating the outcome table.
func NewGormOutcomeStore(db *gorm.DB) (*GormOutcomeStore, error) {
	if err := db.AutoMigrate(&OutcomeRecord{}); err != nil {
		return nil, fmt.Errorf("migrating outcome table: %w", err)
	}
	return &GormOutcomeStore{db: db}, nil
}

func toRecord(o *ActionOutcome) *OutcomeRecord {
	at := o.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return &OutcomeRecord{
		ServerID:          o.ServerID,
		ActorID:           o.ActorID,
		TargetID:          o.TargetID,
		Kind:              o.Kind,
		EventKind:         o.EventKind,
		Status:            string(o.Status),
		Count:             o.Count,
		Threshold:         o.Threshold,
		Punished:          o.Punished,
		PunishMode:        o.PunishMode,
		ReversalAttempted: o.ReversalAttempted,
		ReversalSucceeded: o.ReversalSucceeded,
		Detail:            o.Detail,
		OccurredAt:        at,
	}
}

func (r *OutcomeRecord) outcome() ActionOutcome {
	return ActionOutcome{
		ServerID:          r.ServerID,
		ActorID:           r.ActorID,
		TargetID:          r.TargetID,
		Kind:              r.Kind,
		EventKind:         r.EventKind,
		Status:            Status(r.Status),
		Count:             r.Count,
		Threshold:         r.Threshold,
		Punished:          r.Punished,
		PunishMode:        r.PunishMode,
		ReversalAttempted: r.ReversalAttempted,
		ReversalSucceeded: r.ReversalSucceeded,
		Detail:            r.Detail,
		CreatedAt:         r.OccurredAt,
	}
}

func (s *GormOutcomeStore) Save(ctx context.Context, o *ActionOutcome) error {
	if err := s.db.WithContext(ctx).Create(toRecord(o)).Error; err != nil {
		return fmt.Errorf("saving outcome: %w", err)
	}
	return nil
}

func (s *GormOutcomeStore) ListByServer(ctx context.Context, serverID string, limit int) ([]ActionOutcome, error) {
	var rows []OutcomeRecord
	q := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("occurred_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	out := make([]ActionOutcome, len(rows))
	for i := range rows {
		out[i] = rows[i].outcome()
	}
	return out, nil
}

func (s *GormOutcomeStore) CountPunishments(ctx context.Context, serverID string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&OutcomeRecord{}).
		Where("server_id = ? AND punished = ? AND occurred_at >= ?", serverID, true, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("counting punishments: %w", err)
	}
	return int(n), nil
}
