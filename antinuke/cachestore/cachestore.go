package cachestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guildwarden/warden/antinuke/platform"
)

// String cache with a fixed TTL and purging. Values are JSON-encoded snapshots.
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

const (
	CacheGuild   = "guild"
	CacheRole    = "role"
	CacheChannel = "channel"
)

// Returns the cached value decoded as T, or nil if there is no entry.
func GetJSON[T any](ctx context.Context, cs CacheStore, name, key string) (*T, error) {
	raw, err := cs.Get(ctx, name, key)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decoding cached %s %s: %w", name, key, err)
	}
	return &v, nil
}

func SetJSON[T any](ctx context.Context, cs CacheStore, name, key string, v *T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return cs.Set(ctx, name, key, string(b))
}

func PutGuild(ctx context.Context, cs CacheStore, g *platform.Guild) error {
	return SetJSON(ctx, cs, CacheGuild, g.ID, g)
}

func GetGuild(ctx context.Context, cs CacheStore, guildID string) (*platform.Guild, error) {
	return GetJSON[platform.Guild](ctx, cs, CacheGuild, guildID)
}

func roleKey(guildID, roleID string) string {
	return guildID + "/" + roleID
}

// Stores the latest known state of a role, for recreation after deletion and reversal of updates.
func PutRole(ctx context.Context, cs CacheStore, guildID string, r *platform.Role) error {
	return SetJSON(ctx, cs, CacheRole, roleKey(guildID, r.ID), r)
}

func GetRole(ctx context.Context, cs CacheStore, guildID, roleID string) (*platform.Role, error) {
	return GetJSON[platform.Role](ctx, cs, CacheRole, roleKey(guildID, roleID))
}

func PurgeRole(ctx context.Context, cs CacheStore, guildID, roleID string) error {
	return cs.Purge(ctx, CacheRole, roleKey(guildID, roleID))
}

func PutChannel(ctx context.Context, cs CacheStore, ch *platform.Channel) error {
	return SetJSON(ctx, cs, CacheChannel, ch.ID, ch)
}

func GetChannel(ctx context.Context, cs CacheStore, channelID string) (*platform.Channel, error) {
	return GetJSON[platform.Channel](ctx, cs, CacheChannel, channelID)
}

func PurgeChannel(ctx context.Context, cs CacheStore, channelID string) error {
	return cs.Purge(ctx, CacheChannel, channelID)
}
