package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/codecollab-dev/syncengine/internal/ephemeral"
	"github.com/codecollab-dev/syncengine/internal/testutil"
	"github.com/codecollab-dev/syncengine/internal/types"
)

func newTestTracker(t *testing.T, store ephemeral.Store, userId string) *Tracker {
	tr := NewTracker(testutil.TestLogger(t), store, testutil.NopStats{}, "ws1", types.Identity{
		UserId:      userId,
		DisplayName: "user " + userId,
	})
	// tests publish in tight loops
	tr.limiter = rate.NewLimiter(rate.Inf, 1)
	return tr
}

func TestTracker_SelfFiltering(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	ctx := context.Background()

	a := newTestTracker(t, store, "alice")
	b := newTestTracker(t, store, "bob")
	a.StartTracking()
	b.StartTracking()

	var last map[string]types.PeerPresence
	unsub := a.SubscribeToAll(func(peers map[string]types.PeerPresence) {
		last = peers
	})
	defer unsub()

	require.NoError(t, a.UpdatePosition(ctx, 1, 2))
	require.NoError(t, b.UpdatePosition(ctx, 3, 4))

	assert.NotContains(t, last, "alice", "subscriber must never see its own entry")
	require.Contains(t, last, "bob")
	assert.Equal(t, 3.0, last["bob"].X)
	assert.Equal(t, 4.0, last["bob"].Y)
	assert.NotEmpty(t, last["bob"].Color, "peers carry the publisher's session color")
}

func TestTracker_StalenessExpiry(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	b := newTestTracker(t, store, "bob")
	b.StartTracking()
	b.nowFunc = func() time.Time { return now.Add(-StaleAfter - time.Second) }
	require.NoError(t, b.UpdatePosition(ctx, 1, 1))

	c := newTestTracker(t, store, "carol")
	c.StartTracking()
	c.nowFunc = func() time.Time { return now }
	require.NoError(t, c.UpdatePosition(ctx, 2, 2))

	a := newTestTracker(t, store, "alice")
	a.nowFunc = func() time.Time { return now }

	var last map[string]types.PeerPresence
	unsub := a.SubscribeToAll(func(peers map[string]types.PeerPresence) {
		last = peers
	})
	defer unsub()

	assert.NotContains(t, last, "bob", "entry older than the threshold must be excluded even without a delete")
	assert.Contains(t, last, "carol", "fresh entry must be included")
}

func TestTracker_CleanDisconnect(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	ctx := context.Background()

	b := newTestTracker(t, store, "bob")
	b.StartTracking()
	require.NoError(t, b.UpdatePosition(ctx, 5, 5))

	a := newTestTracker(t, store, "alice")
	var last map[string]types.PeerPresence
	unsub := a.SubscribeToAll(func(peers map[string]types.PeerPresence) {
		last = peers
	})
	defer unsub()

	require.Contains(t, last, "bob", "expected bob present before stop")

	require.NoError(t, b.StopTracking(ctx))
	assert.NotContains(t, last, "bob", "expected bob absent after stopTracking")

	assert.NoError(t, b.StopTracking(ctx), "stopping twice must be a no-op")
}

func TestTracker_UpdatePositionBeforeStartIsNoop(t *testing.T) {
	store := ephemeral.NewMemoryStore()

	b := newTestTracker(t, store, "bob")
	require.NoError(t, b.UpdatePosition(context.Background(), 1, 1))

	a := newTestTracker(t, store, "alice")
	var last map[string]types.PeerPresence
	unsub := a.SubscribeToAll(func(peers map[string]types.PeerPresence) {
		last = peers
	})
	defer unsub()

	assert.Empty(t, last, "no position may be published before StartTracking")
}

func TestTracker_VoiceState(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	ctx := context.Background()

	b := newTestTracker(t, store, "bob")
	require.NoError(t, b.JoinVoice(ctx))

	a := newTestTracker(t, store, "alice")
	var last map[string]types.VoiceParticipant
	unsub := a.SubscribeVoice(func(participants map[string]types.VoiceParticipant) {
		last = participants
	})
	defer unsub()

	require.Contains(t, last, "bob")
	assert.True(t, last["bob"].IsMuted, "participants join muted")

	require.NoError(t, b.SetMuted(ctx, false))
	assert.False(t, last["bob"].IsMuted)

	require.NoError(t, b.LeaveVoice(ctx))
	assert.NotContains(t, last, "bob")
}

func TestTracker_VoiceIndependentOfCursor(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	ctx := context.Background()

	b := newTestTracker(t, store, "bob")
	b.StartTracking()
	require.NoError(t, b.UpdatePosition(ctx, 1, 1))
	require.NoError(t, b.JoinVoice(ctx))

	a := newTestTracker(t, store, "alice")
	var cursors map[string]types.PeerPresence
	var voice map[string]types.VoiceParticipant
	unsubCursors := a.SubscribeToAll(func(p map[string]types.PeerPresence) { cursors = p })
	defer unsubCursors()
	unsubVoice := a.SubscribeVoice(func(p map[string]types.VoiceParticipant) { voice = p })
	defer unsubVoice()

	require.NoError(t, b.StopTracking(ctx))

	assert.NotContains(t, cursors, "bob", "cursor removed")
	assert.Contains(t, voice, "bob", "voice entry must survive cursor removal")
}

func Test_randomColor(t *testing.T) {
	c := randomColor()
	assert.Len(t, c, 7)
	assert.Equal(t, byte('#'), c[0])
}
