package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codecollab-dev/syncengine/internal/ephemeral"
	"github.com/codecollab-dev/syncengine/internal/stats"
	"github.com/codecollab-dev/syncengine/internal/types"
)

// StaleAfter is the window beyond which a peer entry with no fresh
// UpdatedAt is treated as dead, whether or not it was ever removed.
// Delete-on-disconnect is best effort; this filter is the guarantee.
const StaleAfter = 30 * time.Second

// cursorRate bounds how often pointer moves are pushed to the store.
// Raw pointer-move frequency is effectively unbounded and no delivery
// order is guaranteed anyway, so dropping intermediate positions is
// safe.
var cursorRate = rate.Limit(25)

// Tracker publishes this session's live attributes (cursor position,
// voice/mute state) and builds merged views of all peers' attributes.
// One Tracker per (workspace, user) session.
type Tracker struct {
	log      *log.Logger
	store    ephemeral.Store
	provider stats.StatsProvider

	workspaceId string
	identity    types.Identity
	color       string
	limiter     *rate.Limiter
	nowFunc     func() time.Time

	mu       sync.Mutex
	tracking bool
	inVoice  bool
	muted    bool
}

func NewTracker(logger *log.Logger, store ephemeral.Store, provider stats.StatsProvider, workspaceId string, identity types.Identity) *Tracker {
	return &Tracker{
		log:         logger,
		store:       store,
		provider:    provider,
		workspaceId: workspaceId,
		identity:    identity,
		color:       randomColor(),
		limiter:     rate.NewLimiter(cursorRate, 1),
		nowFunc:     time.Now,
	}
}

// randomColor draws a display color once per session. Collisions across
// peers are acceptable display nondeterminism.
func randomColor() string {
	return fmt.Sprintf("#%06x", rand.Intn(0xffffff+1))
}

func (t *Tracker) Color() string { return t.color }

// StartTracking registers disconnect cleanup for this session's paths.
// Positions are not published until the first UpdatePosition, matching
// pointer-driven publishing.
func (t *Tracker) StartTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tracking {
		return
	}
	t.tracking = true
	t.store.RemoveOnDisconnect(types.CursorPath(t.workspaceId, t.identity.UserId))
}

// UpdatePosition publishes the current cursor position. Store failures
// are non-fatal: the next pointer move retries naturally.
func (t *Tracker) UpdatePosition(ctx context.Context, x, y float64) error {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if !t.limiter.Allow() {
		return nil
	}

	p := types.PeerPresence{
		UserId:      t.identity.UserId,
		DisplayName: t.identity.DisplayName,
		Color:       t.color,
		X:           x,
		Y:           y,
		UpdatedAt:   t.nowFunc(),
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if err := t.store.Publish(ctx, types.CursorPath(t.workspaceId, t.identity.UserId), raw); err != nil {
		t.log.Printf("presence: publish cursor for %q: %v", t.identity.UserId, err)
		return err
	}

	t.provider.Incr(stats.PresenceUpdates)
	return nil
}

// StopTracking removes this session's cursor explicitly. The disconnect
// hook registered at start remains as fallback but must not be relied
// on: without this call a ghost cursor can linger for the full
// staleness window.
func (t *Tracker) StopTracking(ctx context.Context) error {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return nil
	}
	t.tracking = false
	t.mu.Unlock()

	if err := t.store.Remove(ctx, types.CursorPath(t.workspaceId, t.identity.UserId)); err != nil {
		t.log.Printf("presence: remove cursor for %q: %v", t.identity.UserId, err)
		return err
	}
	return nil
}

// SubscribeToAll delivers the merged cursor map of all peers. The
// caller's own entry and entries older than StaleAfter are filtered on
// every rebuild; each entry's own UpdatedAt decides staleness, never
// arrival order.
func (t *Tracker) SubscribeToAll(fn func(peers map[string]types.PeerPresence)) func() {
	return t.store.SubscribeCollection(types.CursorPrefix(t.workspaceId), func(snapshot map[string][]byte) {
		peers := make(map[string]types.PeerPresence)
		cutoff := t.nowFunc().Add(-StaleAfter)
		for path, raw := range snapshot {
			var p types.PeerPresence
			if err := json.Unmarshal(raw, &p); err != nil {
				t.log.Printf("presence: bad cursor entry at %q: %v", path, err)
				continue
			}
			if p.UserId == t.identity.UserId {
				continue
			}
			if p.UpdatedAt.Before(cutoff) {
				continue
			}
			peers[p.UserId] = p
		}
		fn(peers)
	})
}

// JoinVoice publishes this session's voice participant entry and
// registers its disconnect cleanup. Sessions join muted.
func (t *Tracker) JoinVoice(ctx context.Context) error {
	t.mu.Lock()
	t.inVoice = true
	t.muted = true
	t.mu.Unlock()

	t.store.RemoveOnDisconnect(types.VoicePath(t.workspaceId, t.identity.UserId))
	return t.publishVoice(ctx)
}

// SetMuted updates the published mute state.
func (t *Tracker) SetMuted(ctx context.Context, muted bool) error {
	t.mu.Lock()
	if !t.inVoice {
		t.mu.Unlock()
		return nil
	}
	t.muted = muted
	t.mu.Unlock()

	return t.publishVoice(ctx)
}

// Heartbeat republishes the voice entry with a fresh timestamp so peers
// don't expire it; callers run this on an interval shorter than
// StaleAfter.
func (t *Tracker) Heartbeat(ctx context.Context) error {
	t.mu.Lock()
	if !t.inVoice {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return t.publishVoice(ctx)
}

func (t *Tracker) publishVoice(ctx context.Context) error {
	t.mu.Lock()
	v := types.VoiceParticipant{
		UserId:      t.identity.UserId,
		DisplayName: t.identity.DisplayName,
		IsMuted:     t.muted,
		UpdatedAt:   t.nowFunc(),
	}
	t.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if err := t.store.Publish(ctx, types.VoicePath(t.workspaceId, t.identity.UserId), raw); err != nil {
		t.log.Printf("presence: publish voice state for %q: %v", t.identity.UserId, err)
		return err
	}

	t.provider.Incr(stats.PresenceUpdates)
	return nil
}

// LeaveVoice removes this session's voice entry explicitly.
func (t *Tracker) LeaveVoice(ctx context.Context) error {
	t.mu.Lock()
	if !t.inVoice {
		t.mu.Unlock()
		return nil
	}
	t.inVoice = false
	t.mu.Unlock()

	if err := t.store.Remove(ctx, types.VoicePath(t.workspaceId, t.identity.UserId)); err != nil {
		t.log.Printf("presence: remove voice state for %q: %v", t.identity.UserId, err)
		return err
	}
	return nil
}

// SubscribeVoice delivers the merged voice participant map, filtered
// the same way as SubscribeToAll: no self entry, no stale entries.
func (t *Tracker) SubscribeVoice(fn func(participants map[string]types.VoiceParticipant)) func() {
	return t.store.SubscribeCollection(types.VoicePrefix(t.workspaceId), func(snapshot map[string][]byte) {
		participants := make(map[string]types.VoiceParticipant)
		cutoff := t.nowFunc().Add(-StaleAfter)
		for path, raw := range snapshot {
			var v types.VoiceParticipant
			if err := json.Unmarshal(raw, &v); err != nil {
				t.log.Printf("presence: bad voice entry at %q: %v", path, err)
				continue
			}
			if v.UserId == t.identity.UserId {
				continue
			}
			if v.UpdatedAt.Before(cutoff) {
				continue
			}
			participants[v.UserId] = v
		}
		fn(participants)
	})
}
