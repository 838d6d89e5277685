package main

import (
	"context"
	"log/slog"

	"github.com/guildwarden/warden/antinuke/event"

	"github.com/gammazero/workerpool"
	"github.com/spaolacci/murmur3"
)

// Fans gateway events out to a fixed set of single-worker pools, sharded by server. Events of one server are handled in
// arrival order; different servers proceed in parallel.
//
// Handlers run under a context that keeps the parent's values but is never cancelled, so events still queued at shutdown
// are fully handled by Drain.
type Consumer struct {
	logger *slog.Logger
	handle func(ctx context.Context, ev *event.Event)
	ctx    context.Context
	shards []*workerpool.WorkerPool
}

func NewConsumer(ctx context.Context, logger *slog.Logger, shards int, handle func(ctx context.Context, ev *event.Event)) *Consumer {
	if shards < 1 {
		shards = 1
	}
	c := &Consumer{
		logger: logger.With("component", "consumer"),
		handle: handle,
		ctx:    context.WithoutCancel(ctx),
		shards: make([]*workerpool.WorkerPool, shards),
	}
	for i := range c.shards {
		c.shards[i] = workerpool.New(1)
	}
	return c
}

func (c *Consumer) shardFor(server string) int {
	return int(murmur3.Sum32([]byte(server)) % uint32(len(c.shards)))
}

// Enqueues an event. Never blocks on event handling.
func (c *Consumer) Submit(ev *event.Event) {
	eventsReceived.WithLabelValues(ev.Kind.String()).Inc()
	idx := c.shardFor(ev.ServerID)
	eventsQueued.Inc()
	c.shards[idx].Submit(func() {
		eventsQueued.Dec()
		c.handle(c.ctx, ev)
	})
}

// Waits for every queued event to be handled, then stops the workers.
func (c *Consumer) Drain() {
	c.logger.Info("draining event queue")
	for _, p := range c.shards {
		p.StopWait()
	}
}
