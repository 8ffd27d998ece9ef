// Package coherent implements maps with a local in-process cache that stays
// coherent with a shared remote store while other clients write to it.
//
// Components:
//   - Store: the remote store proxy (Redis, Olric or in-memory). It assigns
//     every write a per-key version that only ever grows, across deletes too.
//   - LocalCache: bounded key -> (value, version) cache over a Provider
//     (LRU by default, Ristretto, BigCache).
//   - SyncStrategy: what a local write broadcasts and what an inbound event
//     does to the cache (Update, Invalidate, None). Decide is the pure rule.
//   - ReconnectionPolicy: what happens to the cache after the coherence
//     channel was lost and came back (None keeps it, Clean flushes it).
//
// Channel layout per map m:
//
//	{m}:coherence  - batches of version-stamped update/invalidate events
//
// Ordering rule:
//
//	an event is applied only if its version is newer than anything the
//	cache knows for that key; duplicates and late arrivals are no-ops.
//
// Typical use:
//
//	m, err := coherent.NewMap(ctx, coherent.Options[User]{
//		Name:  "users",
//		Store: redisstore.New(rdb, redisstore.Options{}),
//		Codec: codec.JSON[User]{},
//	})
//	defer m.Close(ctx)
//	_ = m.Put(ctx, "u1", User{Name: "Ada"})
//	u, ok, err := m.Get(ctx, "u1")
package coherent
