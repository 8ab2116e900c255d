// Package storage provides the bucket stores behind the admission engine.
//
// # Overview
//
// A Store resolves token buckets and sliding windows by key. There are two
// implementations:
//
//   - LocalStore: buckets in an expiring in-process LRU (default, fallback)
//   - RedisStore: buckets in Redis hashes updated by Lua scripts, shared by
//     every instance
//
// FailoverStore composes the two behind a Guard (the circuit breaker). While
// the guard admits calls, buckets live in Redis; when it rejects them, or a
// call fails, the same key is served from the LocalStore.
//
// # Usage
//
//	local := storage.NewLocalStore(storage.LocalStoreConfig{TTL: time.Minute})
//	remote := storage.NewRedisStore(redisClient, storage.RedisStoreConfig{})
//	store := storage.NewFailoverStore(storage.FailoverConfig{
//	    Local:  local,
//	    Remote: remote,
//	    Guard:  cb,
//	})
//
//	key := storage.BucketKey("user", "u-42", "payment.transfer")
//	used, err := store.Bucket(key, cfg).TryConsume(ctx, 1)
//
// # Thread Safety
//
// All stores are safe for concurrent use. Local consumes are atomic per
// bucket; Redis consumes are atomic per key on the server.
package storage
