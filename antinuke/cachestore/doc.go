// Component for caching platform entity snapshots (roles, channels) as JSON strings, with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// Snapshots are written whenever the platform reports an entity's state, and read back to recreate deleted entities or
// restore tampered ones.
package cachestore
