package windowstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisWindowPrefix string = "window/"

// Histories are stored as sorted sets scored by millisecond timestamp. Members are "<actor>/<unix-nanos>/<seq>" so that
// repeated actions by one actor at the same instant are all retained.
type RedisWindowStore struct {
	Client *redis.Client
	seq    atomic.Uint64
}

var _ WindowStore = (*RedisWindowStore)(nil)

func NewRedisWindowStore(redisURL string) (*RedisWindowStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return NewRedisWindowStoreFromClient(rdb), nil
}

// Builds a window store on an existing client, sharing its connection pool.
func NewRedisWindowStoreFromClient(rdb *redis.Client) *RedisWindowStore {
	return &RedisWindowStore{
		Client: rdb,
	}
}

func redisCutoff(at time.Time, window time.Duration) string {
	return strconv.FormatInt(at.Add(-window).UnixMilli(), 10)
}

func countMembers(members []string, actor string) int {
	prefix := actor + "/"
	n := 0
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func (s *RedisWindowStore) RecordAndCount(ctx context.Context, kind, server, actor string, at time.Time, window time.Duration) (int, error) {
	key := redisWindowPrefix + historyKey(kind, server)
	member := fmt.Sprintf("%s/%d/%d", actor, at.UnixNano(), s.seq.Add(1))

	// append, prune, and read back in a single MULTI/EXEC
	var rng *redis.StringSliceCmd
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		pipe.ZRemRangeByScore(ctx, key, "-inf", redisCutoff(at, window))
		rng = pipe.ZRange(ctx, key, 0, -1)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recording action history: %w", err)
	}
	return countMembers(rng.Val(), actor), nil
}

func (s *RedisWindowStore) Count(ctx context.Context, kind, server, actor string, at time.Time, window time.Duration) (int, error) {
	key := redisWindowPrefix + historyKey(kind, server)

	var rng *redis.StringSliceCmd
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", redisCutoff(at, window))
		rng = pipe.ZRange(ctx, key, 0, -1)
		return nil
	})
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("reading action history: %w", err)
	}
	return countMembers(rng.Val(), actor), nil
}
