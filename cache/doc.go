// Package cache provides the flat key/value store that sits behind every
// (layer, category) cache, with several backend implementations and a
// type-safe generic accessor.
//
// # Service Interface
//
// The [Service] interface defines five operations: [Service.Put],
// [Service.Get], [Service.Remove], [Service.Clear] and [Service.Drop]. Keys are
// the hex digests produced by the cachekey package. The last write for a key
// wins. A dropped store answers every call with [ErrDropped].
//
// Values are typed [any] because Go does not allow generic methods on
// interfaces. Type safety is provided by the package-level [Get] function.
//
// # Implementations
//
//   - [NewInMemory]: map guarded by a mutex. Values are stored as-is, so
//     mutations to stored pointers are visible through the cache.
//
//   - [NewLRU]: bounded in-process store built on
//     [github.com/hashicorp/golang-lru/v2]. When the store is full the least
//     recently used entry is evicted.
//
//   - [NewRedis]: values are serialized to msgpack and stored under
//     "<prefix>:<layer>:<category>:<key>". [Service.Clear] scans the scope
//     prefix. The caller owns the redis client.
//
//   - [NewSQLite]: values are serialized to msgpack and stored as BLOBs in a
//     table shared by every scope. Use [OpenSQLite] to open the database.
//
//   - [NewComposite]: chains stores in order. Get returns the first hit and
//     back-fills the faster tiers in front of it.
//
//   - [NewNoop]: never stores anything. Useful to disable a category.
//
// Serializing backends return []byte from Get; [Get] unmarshals those with
// msgpack so callers see the same typed value from every backend.
//
// # Factories
//
// A [Factory] creates one store per [category.Scope]. [NewFactory] builds a
// factory from a backend type name such as "memory" or "redis".
package cache
