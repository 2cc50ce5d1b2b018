package ephemeral

import "context"

// Store is a low-latency key-path store for transient, frequently
// updated data: presence, voice state, signaling. Values are opaque
// JSON blobs. The last Publish for a given path wins; no ordering is
// guaranteed across independent paths, and no durability is guaranteed
// across restarts.
//
// Subscribe callbacks fire once immediately with the current value (nil
// if the path is absent) and again on every subsequent change; a delete
// is delivered as nil. The returned unsubscribe func is synchronous and
// idempotent: once it returns, no further callbacks are delivered.
//
// A network partition does not surface as an error; callbacks simply
// stop firing. Consumers must detect dead peers by entry timestamps,
// never by channel liveness.
type Store interface {
	Publish(ctx context.Context, path string, value []byte) error
	Subscribe(path string, fn func(value []byte)) (unsubscribe func())
	// SubscribeCollection delivers the full current snapshot of every
	// path under prefix, immediately and on every change beneath it.
	SubscribeCollection(prefix string, fn func(snapshot map[string][]byte)) (unsubscribe func())
	Remove(ctx context.Context, path string) error
	// RemoveOnDisconnect registers best-effort server-side cleanup of
	// path when this client goes away without calling Remove. It is a
	// fallback only: graceful shutdown must still call Remove, since
	// the cleanup window can lag by tens of seconds.
	RemoveOnDisconnect(path string)
}
