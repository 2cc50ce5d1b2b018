package ephemeral

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "eph:"
	// keyTTL is the server-side reaper: keys a dead client never removed
	// expire on their own. Readers still apply their own staleness
	// filter since an expired key publishes no tombstone.
	keyTTL = 60 * time.Second
)

// RedisStore backs the ephemeral contract with Redis: values live in
// keys, change fan-out rides pub/sub on a channel named after the key.
type RedisStore struct {
	log *log.Logger
	rdb *redis.Client

	mu      sync.Mutex
	cleanup map[string]struct{}
	closed  bool
}

func NewRedisStore(logger *log.Logger, addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{
		log:     logger,
		rdb:     rdb,
		cleanup: make(map[string]struct{}),
	}, nil
}

func channelFor(path string) string {
	return keyPrefix + path
}

func (r *RedisStore) Publish(ctx context.Context, path string, value []byte) error {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, keyPrefix+path, value, keyTTL)
	pipe.Publish(ctx, channelFor(path), value)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Remove(ctx context.Context, path string) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, keyPrefix+path)
	// empty payload is the delete tombstone
	pipe.Publish(ctx, channelFor(path), "")
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) RemoveOnDisconnect(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanup[path] = struct{}{}
}

// Close removes every path registered via RemoveOnDisconnect and shuts
// down the client. Graceful-stop callers should already have removed
// their own paths; this is the fallback sweep.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	paths := make([]string, 0, len(r.cleanup))
	for p := range r.cleanup {
		paths = append(paths, p)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range paths {
		if err := r.Remove(ctx, p); err != nil {
			r.log.Printf("ephemeral: disconnect cleanup of %q: %v", p, err)
		}
	}
	return r.rdb.Close()
}

func (r *RedisStore) Subscribe(path string, fn func([]byte)) func() {
	sub := &subscription{fn: fn}
	ps := r.rdb.Subscribe(context.Background(), channelFor(path))

	cur, err := r.rdb.Get(context.Background(), keyPrefix+path).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Printf("ephemeral: initial get %q: %v", path, err)
		}
		cur = nil
	}
	sub.deliver(cur)

	go func() {
		for msg := range ps.Channel() {
			if msg.Payload == "" {
				sub.deliver(nil)
				continue
			}
			sub.deliver([]byte(msg.Payload))
		}
	}()

	return func() {
		sub.stop()
		ps.Close()
	}
}

func (r *RedisStore) SubscribeCollection(prefix string, fn func(map[string][]byte)) func() {
	sub := &collSubscription{prefix: prefix, fn: fn}
	ps := r.rdb.PSubscribe(context.Background(), channelFor(prefix)+"*")

	cache := r.scanPrefix(prefix)
	sub.deliver(copySnapshot(cache))

	go func() {
		var mu sync.Mutex
		for msg := range ps.Channel() {
			path := strings.TrimPrefix(msg.Channel, keyPrefix)
			mu.Lock()
			if msg.Payload == "" {
				delete(cache, path)
			} else {
				cache[path] = []byte(msg.Payload)
			}
			snap := copySnapshot(cache)
			mu.Unlock()
			sub.deliver(snap)
		}
	}()

	return func() {
		sub.stop()
		ps.Close()
	}
}

func (r *RedisStore) scanPrefix(prefix string) map[string][]byte {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := make(map[string][]byte)
	iter := r.rdb.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := r.rdb.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		snap[strings.TrimPrefix(key, keyPrefix)] = val
	}
	if err := iter.Err(); err != nil {
		r.log.Printf("ephemeral: scan %q: %v", prefix, err)
	}
	return snap
}

func copySnapshot(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
