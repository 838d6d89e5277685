package windowstore

import (
	"context"
	"time"
)

// Timestamped per-actor action history, keyed by (action kind, server).
//
// Implementations must perform RecordAndCount atomically: no other call for the same key may observe or modify the
// history between the append and the count.
type WindowStore interface {
	// Appends an occurrence by `actor` at `at`, drops every record with `at - timestamp >= window`, and returns how many
	// remaining records belong to `actor` (including the one just added).
	RecordAndCount(ctx context.Context, kind, server, actor string, at time.Time, window time.Duration) (int, error)
	// Like RecordAndCount, without appending.
	Count(ctx context.Context, kind, server, actor string, at time.Time, window time.Duration) (int, error)
}

func historyKey(kind, server string) string {
	return kind + "/" + server
}
