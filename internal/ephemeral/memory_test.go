package ephemeral

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_SubscribeFiresImmediately(t *testing.T) {
	t.Run("absent path fires with nil", func(t *testing.T) {
		store := NewMemoryStore()

		var got [][]byte
		unsub := store.Subscribe("a/b", func(v []byte) {
			got = append(got, v)
		})
		defer unsub()

		assert.Len(t, got, 1, "expected one immediate callback")
		assert.Nil(t, got[0], "expected nil for absent path")
	})

	t.Run("existing path fires with current value", func(t *testing.T) {
		store := NewMemoryStore()
		assert.NoError(t, store.Publish(context.Background(), "a/b", []byte("v1")))

		var got [][]byte
		unsub := store.Subscribe("a/b", func(v []byte) {
			got = append(got, v)
		})
		defer unsub()

		assert.Len(t, got, 1)
		assert.Equal(t, []byte("v1"), got[0])
	})
}

func TestMemoryStore_PublishAndRemove(t *testing.T) {
	store := NewMemoryStore()

	var got [][]byte
	unsub := store.Subscribe("a/b", func(v []byte) {
		got = append(got, v)
	})
	defer unsub()

	assert.NoError(t, store.Publish(context.Background(), "a/b", []byte("v1")))
	assert.NoError(t, store.Publish(context.Background(), "a/b", []byte("v2")))
	assert.NoError(t, store.Remove(context.Background(), "a/b"))

	assert.Equal(t, [][]byte{nil, []byte("v1"), []byte("v2"), nil}, got,
		"expected initial nil, both values, then delete tombstone")
}

func TestMemoryStore_RemoveIsIdempotent(t *testing.T) {
	store := NewMemoryStore()

	var calls int
	unsub := store.Subscribe("a/b", func([]byte) { calls++ })
	defer unsub()

	assert.NoError(t, store.Remove(context.Background(), "a/b"))
	assert.NoError(t, store.Remove(context.Background(), "a/b"))
	assert.Equal(t, 1, calls, "removing an absent path must not fire callbacks")
}

func TestMemoryStore_UnsubscribeIdempotentAndFinal(t *testing.T) {
	store := NewMemoryStore()

	var calls int
	unsub := store.Subscribe("a/b", func([]byte) { calls++ })
	assert.Equal(t, 1, calls)

	unsub()
	assert.NotPanics(t, unsub, "second unsubscribe must not panic")

	assert.NoError(t, store.Publish(context.Background(), "a/b", []byte("late")))
	assert.Equal(t, 1, calls, "no callback may be delivered after unsubscribe")
}

func TestMemoryStore_SubscribeCollection(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, store.Publish(ctx, "ws/cursors/u1", []byte("a")))
	assert.NoError(t, store.Publish(ctx, "ws/other/x", []byte("unrelated")))

	var snaps []map[string][]byte
	unsub := store.SubscribeCollection("ws/cursors/", func(s map[string][]byte) {
		snaps = append(snaps, s)
	})
	defer unsub()

	assert.Len(t, snaps, 1)
	assert.Equal(t, map[string][]byte{"ws/cursors/u1": []byte("a")}, snaps[0],
		"initial snapshot must exclude paths outside the prefix")

	assert.NoError(t, store.Publish(ctx, "ws/cursors/u2", []byte("b")))
	assert.NoError(t, store.Remove(ctx, "ws/cursors/u1"))

	assert.Len(t, snaps, 3)
	assert.Equal(t, map[string][]byte{"ws/cursors/u2": []byte("b")}, snaps[2],
		"removed path must disappear from the snapshot")
}

func TestMemoryStore_RemoveOnDisconnect(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, store.Publish(ctx, "ws/cursors/u1", []byte("a")))
	assert.NoError(t, store.Publish(ctx, "ws/cursors/u2", []byte("b")))
	store.RemoveOnDisconnect("ws/cursors/u1")

	var last map[string][]byte
	unsub := store.SubscribeCollection("ws/cursors/", func(s map[string][]byte) {
		last = s
	})
	defer unsub()

	assert.NoError(t, store.Close())
	assert.NotContains(t, last, "ws/cursors/u1", "registered path must be cleaned up on disconnect")
	assert.Contains(t, last, "ws/cursors/u2", "unregistered path must survive disconnect")

	assert.NoError(t, store.Close(), "close must be idempotent")
}
