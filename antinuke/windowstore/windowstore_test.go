package windowstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func testWindowStoreBasics(t *testing.T, ws WindowStore) {
	assert := assert.New(t)
	ctx := context.Background()

	window := time.Minute
	t0 := time.Now()

	c, err := ws.Count(ctx, "channel_delete", "g1", "u1", t0, window)
	assert.NoError(err)
	assert.Equal(0, c)

	for i := 1; i <= 3; i++ {
		c, err = ws.RecordAndCount(ctx, "channel_delete", "g1", "u1", t0.Add(time.Duration(i)*time.Second), window)
		assert.NoError(err)
		assert.Equal(i, c)
	}

	// other actors, kinds, and servers are counted independently
	c, err = ws.RecordAndCount(ctx, "channel_delete", "g1", "u2", t0.Add(4*time.Second), window)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = ws.RecordAndCount(ctx, "role_delete", "g1", "u1", t0.Add(4*time.Second), window)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = ws.RecordAndCount(ctx, "channel_delete", "g2", "u1", t0.Add(4*time.Second), window)
	assert.NoError(err)
	assert.Equal(1, c)

	// the first record expires exactly one window after it was added
	c, err = ws.Count(ctx, "channel_delete", "g1", "u1", t0.Add(time.Second+window), window)
	assert.NoError(err)
	assert.Equal(2, c)

	c, err = ws.Count(ctx, "channel_delete", "g1", "u1", t0.Add(4*time.Second+window), window)
	assert.NoError(err)
	assert.Equal(0, c)
}

func TestMemWindowStoreBasics(t *testing.T) {
	testWindowStoreBasics(t, NewMemWindowStore())
}

func TestMemWindowStorePrunesOnRead(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ws := NewMemWindowStore()
	t0 := time.Now()
	window := 10 * time.Second
	for i := 0; i < 5; i++ {
		_, err := ws.RecordAndCount(ctx, "ban", "g1", "u1", t0, window)
		assert.NoError(err)
	}
	// duplicates at the same instant are retained
	assert.Equal(5, ws.Len("ban", "g1"))

	_, err := ws.Count(ctx, "ban", "g1", "u2", t0.Add(window+time.Millisecond), window)
	assert.NoError(err)
	assert.Equal(0, ws.Len("ban", "g1"))
}

func TestMemWindowStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	ws := NewMemWindowStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				_, err := ws.RecordAndCount(ctx, "kick", "g1", "u1", now, time.Hour)
				assert.NoError(err)
			}
		}()
	}
	wg.Wait()

	c, err := ws.Count(ctx, "kick", "g1", "u1", now, time.Hour)
	assert.NoError(err)
	assert.Equal(1000, c)
}

func TestRedisWindowStoreBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")

	ws, err := NewRedisWindowStore("redis://localhost:6379/0")
	if err != nil {
		t.Fail()
	}
	testWindowStoreBasics(t, ws)
}

func TestRedisWindowStoreSharesClient(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()

	ws := NewRedisWindowStoreFromClient(rdb)
	assert.Same(t, rdb, ws.Client)
}

func TestRedisWindowStoreSharedClientBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	if err != nil {
		t.Fail()
	}
	testWindowStoreBasics(t, NewRedisWindowStoreFromClient(redis.NewClient(opt)))
}
