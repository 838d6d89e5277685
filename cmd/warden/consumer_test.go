package main

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/guildwarden/warden/antinuke/engine"
	"github.com/guildwarden/warden/antinuke/event"
	"github.com/guildwarden/warden/antinuke/outcomestore"
	"github.com/guildwarden/warden/antinuke/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerPreservesPerServerOrder(t *testing.T) {
	assert := assert.New(t)

	var mu sync.Mutex
	seen := make(map[string][]string)
	handle := func(ctx context.Context, ev *event.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.ServerID] = append(seen[ev.ServerID], ev.TargetID)
	}

	c := NewConsumer(context.Background(), slog.Default(), 4, handle)
	servers := []string{"200000000000000001", "200000000000000002", "200000000000000003"}
	for i := 0; i < 50; i++ {
		for _, s := range servers {
			c.Submit(&event.Event{Kind: event.KindChannelDelete, ServerID: s, TargetID: strconv.Itoa(i), ObservedAt: time.Now()})
		}
	}
	c.Drain()

	for _, s := range servers {
		got := seen[s]
		assert.Equal(50, len(got))
		for i, id := range got {
			assert.Equal(strconv.Itoa(i), id)
		}
	}
}

func TestConsumerShardIsStable(t *testing.T) {
	c := NewConsumer(context.Background(), slog.Default(), 0, func(ctx context.Context, ev *event.Event) {})
	defer c.Drain()
	assert.Equal(t, 1, len(c.shards))
	assert.Equal(t, 0, c.shardFor("200000000000000001"))

	c2 := NewConsumer(context.Background(), slog.Default(), 16, func(ctx context.Context, ev *event.Event) {})
	defer c2.Drain()
	assert.Equal(t, c2.shardFor("200000000000000001"), c2.shardFor("200000000000000001"))
}

func TestConsumerDrainAfterShutdown(t *testing.T) {
	assert := assert.New(t)

	f := engine.EngineTestFixture()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(ctx, slog.Default(), 2, f.Engine.Handle)

	f.Audit(platform.AuditBotAdd, engine.TestAttackerID, engine.TestBotAccountID)
	cancel()
	c.Submit(&event.Event{
		Kind:       event.KindBotAdd,
		ServerID:   engine.TestGuildID,
		ObservedAt: time.Now(),
		TargetID:   engine.TestBotAccountID,
		User:       &platform.User{ID: engine.TestBotAccountID, Username: "nukebot", Bot: true},
		Member:     &platform.Member{User: platform.User{ID: engine.TestBotAccountID, Bot: true}},
	})
	c.Drain()

	out := f.LastOutcome()
	require.NotNil(t, out)
	assert.Equal(outcomestore.StatusPunished, out.Status)
	kickedBot := false
	for _, call := range f.Client.CallsTo("KickMember") {
		if call.Target == engine.TestBotAccountID {
			kickedBot = true
		}
	}
	assert.True(kickedBot)
}
