package filesession

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/testutil"
	"github.com/codecollab-dev/syncengine/internal/types"
)

// recordingStore wraps a MemoryStore and counts content updates.
type recordingStore struct {
	*durable.MemoryStore

	mu      sync.Mutex
	updates []string
	failt   error
}

func (r *recordingStore) UpdateFileContent(fileId, content, updatedBy string) error {
	r.mu.Lock()
	if r.failt != nil {
		err := r.failt
		r.mu.Unlock()
		return err
	}
	r.updates = append(r.updates, content)
	r.mu.Unlock()
	return r.MemoryStore.UpdateFileContent(fileId, content, updatedBy)
}

func (r *recordingStore) updateLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.updates))
	copy(out, r.updates)
	return out
}

func newTestFile(t *testing.T, store durable.Store, content string) types.FileSnapshot {
	f, err := store.CreateFile(durable.CreateFileParams{WorkspaceId: "ws1", Name: "main.go"})
	require.NoError(t, err)
	if content != "" {
		require.NoError(t, store.UpdateFileContent(f.Id, content, "seed"))
	}
	return f
}

func newTestSession(t *testing.T, store durable.Store, fileId, userId string, opts ...Option) *Session {
	opts = append([]Option{WithDebounceWindow(50 * time.Millisecond)}, opts...)
	return NewSession(testutil.TestLogger(t), store, testutil.NopStats{},
		types.Identity{UserId: userId, DisplayName: userId}, fileId, opts...)
}

func TestSession_OpenLoadsContent(t *testing.T) {
	store := &recordingStore{MemoryStore: durable.NewMemoryStore()}
	f := newTestFile(t, store, "hello")

	sess := newTestSession(t, store, f.Id, "alice")
	require.NoError(t, sess.Open())
	defer sess.Close()

	assert.Equal(t, "hello", sess.Content())
	assert.Equal(t, StateLoaded, sess.State())

	assert.Error(t, sess.Open(), "opening an already-open session must fail")
}

// raceyOpenStore fires a concurrent write the moment the initial load
// returns, landing in the window between load and subscription.
type raceyOpenStore struct {
	*durable.MemoryStore

	once    sync.Once
	written chan struct{}
}

func (r *raceyOpenStore) GetFile(fileId string) (types.FileSnapshot, error) {
	snap, err := r.MemoryStore.GetFile(fileId)
	r.once.Do(func() {
		go func() {
			defer close(r.written)
			_ = r.MemoryStore.UpdateFileContent(fileId, "landed mid-open", "bob")
		}()
	})
	return snap, err
}

func TestSession_OpenSeesWriteRacingTheLoad(t *testing.T) {
	inner := durable.NewMemoryStore()
	store := &raceyOpenStore{MemoryStore: inner, written: make(chan struct{})}
	f := newTestFile(t, inner, "stale")

	sess := newTestSession(t, store, f.Id, "alice")
	require.NoError(t, sess.Open())
	defer sess.Close()

	<-store.written
	assert.Eventually(t, func() bool {
		return sess.Content() == "landed mid-open"
	}, time.Second, 5*time.Millisecond,
		"a write racing the open must reach the buffer, not be dropped")
}

func TestSession_OpenMissingFile(t *testing.T) {
	store := durable.NewMemoryStore()
	sess := newTestSession(t, store, "nope", "alice")
	err := sess.Open()
	require.Error(t, err)
	assert.ErrorIs(t, err, durable.ErrNotFound)
}

func TestSession_DebounceCoalescing(t *testing.T) {
	store := &recordingStore{MemoryStore: durable.NewMemoryStore()}
	f := newTestFile(t, store, "")

	sess := newTestSession(t, store, f.Id, "alice")
	require.NoError(t, sess.Open())
	defer sess.Close()

	// burst of edits inside the window
	for _, content := range []string{"a", "ab", "abc", "abcd"} {
		require.NoError(t, sess.LocalEdit(content))
		assert.Equal(t, content, sess.Content(), "local edits apply optimistically")
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, StateEditing, sess.State())
	assert.Empty(t, store.updateLog(), "no persist may happen while the burst is live")

	assert.Eventually(t, func() bool {
		return len(store.updateLog()) == 1
	}, time.Second, 5*time.Millisecond, "expected exactly one persist after the quiet period")

	assert.Equal(t, []string{"abcd"}, store.updateLog(), "persist must carry the final edit of the burst")
	assert.Equal(t, StateLoaded, sess.State())
}

func TestSession_LastWriterWins(t *testing.T) {
	store := &recordingStore{MemoryStore: durable.NewMemoryStore()}
	f := newTestFile(t, store, "A")

	var remote1 []string
	sess1 := newTestSession(t, store, f.Id, "alice", WithRemoteHandler(func(c string) {
		remote1 = append(remote1, c)
	}))
	sess2 := newTestSession(t, store, f.Id, "bob")

	require.NoError(t, sess1.Open())
	defer sess1.Close()
	require.NoError(t, sess2.Open())
	defer sess2.Close()

	require.NoError(t, sess1.LocalEdit("B"))
	assert.Eventually(t, func() bool { return len(store.updateLog()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sess2.LocalEdit("C"))
	assert.Eventually(t, func() bool { return len(store.updateLog()) == 2 }, time.Second, 5*time.Millisecond)

	final, err := store.GetFile(f.Id)
	require.NoError(t, err)
	assert.Equal(t, "C", final.Content, "the write that lands last is durable")

	assert.Equal(t, "C", sess1.Content(), "session 1's B is silently replaced")
	assert.Contains(t, remote1, "C", "session 1 must be notified of the remote overwrite")
	assert.Equal(t, "C", sess2.Content())
}

func TestSession_RemoteIdenticalContentIgnored(t *testing.T) {
	store := durable.NewMemoryStore()
	f := newTestFile(t, store, "same")

	var remoteCalls int
	sess := newTestSession(t, store, f.Id, "alice", WithRemoteHandler(func(string) {
		remoteCalls++
	}))
	require.NoError(t, sess.Open())
	defer sess.Close()

	// another writer persists identical bytes
	require.NoError(t, store.UpdateFileContent(f.Id, "same", "bob"))
	assert.Zero(t, remoteCalls, "byte-identical remote content must not be re-applied")
}

func TestSession_RemoteWinsOverPendingDebounce(t *testing.T) {
	store := &recordingStore{MemoryStore: durable.NewMemoryStore()}
	f := newTestFile(t, store, "")

	var remote []string
	sess := newTestSession(t, store, f.Id, "alice", WithRemoteHandler(func(c string) {
		remote = append(remote, c)
	}))
	require.NoError(t, sess.Open())
	defer sess.Close()

	require.NoError(t, sess.LocalEdit("local unsent"))

	// remote write arrives while the debounce is still pending
	require.NoError(t, store.UpdateFileContent(f.Id, "remote", "bob"))
	assert.Equal(t, "remote", sess.Content(), "remote always wins on arrival")
	assert.Equal(t, []string{"remote"}, remote)

	// the already-armed persist still fires with the captured local
	// content and becomes the newest durable write
	assert.Eventually(t, func() bool {
		final, err := store.GetFile(f.Id)
		return err == nil && final.Content == "local unsent"
	}, time.Second, 5*time.Millisecond)
}

func TestSession_PersistFailureKeepsBuffer(t *testing.T) {
	store := &recordingStore{MemoryStore: durable.NewMemoryStore()}
	f := newTestFile(t, store, "orig")

	var gotErr error
	sess := newTestSession(t, store, f.Id, "alice", WithErrorHandler(func(err error) {
		gotErr = err
	}))
	require.NoError(t, sess.Open())
	defer sess.Close()

	store.mu.Lock()
	store.failt = errors.New("connection reset")
	store.mu.Unlock()

	require.NoError(t, sess.LocalEdit("edited"))

	assert.Eventually(t, func() bool { return gotErr != nil }, time.Second, 5*time.Millisecond,
		"persist failure must surface through the error handler")
	assert.Equal(t, "edited", sess.Content(), "buffer is not rolled back on persist failure")
	assert.Equal(t, StateLoaded, sess.State())
}

func TestSession_CloseCancelsPendingPersist(t *testing.T) {
	store := &recordingStore{MemoryStore: durable.NewMemoryStore()}
	f := newTestFile(t, store, "")

	sess := newTestSession(t, store, f.Id, "alice")
	require.NoError(t, sess.Open())

	require.NoError(t, sess.LocalEdit("unsaved"))
	sess.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, store.updateLog(), "closing must cancel the pending debounce")
	assert.Equal(t, StateIdle, sess.State())

	assert.NotPanics(t, sess.Close, "double close must be safe")
	assert.Error(t, sess.LocalEdit("x"), "edits after close must be rejected")
}

func TestSession_FlushPersistsImmediately(t *testing.T) {
	store := &recordingStore{MemoryStore: durable.NewMemoryStore()}
	f := newTestFile(t, store, "")

	sess := newTestSession(t, store, f.Id, "alice", WithDebounceWindow(time.Hour))
	require.NoError(t, sess.Open())
	defer sess.Close()

	require.NoError(t, sess.LocalEdit("final"))
	sess.Flush()

	assert.Equal(t, []string{"final"}, store.updateLog())
	assert.Equal(t, StateLoaded, sess.State())

	sess.Flush()
	assert.Len(t, store.updateLog(), 1, "flush without pending edits must not persist again")
}
