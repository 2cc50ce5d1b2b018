package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codecollab-dev/syncengine/internal/ephemeral"
	"github.com/codecollab-dev/syncengine/internal/stats"
	"github.com/codecollab-dev/syncengine/internal/types"
)

// Relay exchanges connection-negotiation envelopes (offer, answer, ICE
// candidates) between exactly two peers through the ephemeral store.
// Envelopes for a pair travel on two independent directed paths, one
// per direction; the two directions never share a mutable path.
//
// Offers and answers each occupy a single slot per direction (a newer
// offer replaces an unconsumed older one). Candidates are a queue: each
// candidate gets its own keyed entry and is consumed exactly once, in
// send order. Consumed envelopes are removed from the store so a
// reconnecting peer does not replay stale negotiation state.
type Relay struct {
	log      *log.Logger
	store    ephemeral.Store
	provider stats.StatsProvider

	workspaceId string
	userId      string

	// Acknowledged envelopes can reappear in snapshots captured before
	// the ack landed; both maps exist to suppress those replays and stay
	// bounded by the number of peer directions, never by traffic volume.
	mu       sync.Mutex
	consumed map[string]string // slot path -> id of last handled envelope
	candHigh map[string]string // direction prefix -> highest consumed candidate path
}

func NewRelay(logger *log.Logger, store ephemeral.Store, provider stats.StatsProvider, workspaceId, userId string) *Relay {
	r := &Relay{
		log:         logger,
		store:       store,
		provider:    provider,
		workspaceId: workspaceId,
		userId:      userId,
		consumed:    make(map[string]string),
		candHigh:    make(map[string]string),
	}
	return r
}

// candSeq is process-wide so a rebuilt relay for the same direction
// keeps producing rising candidate keys; seeding from the clock keeps
// them rising across process restarts as well.
var candSeq atomic.Uint64

func nextCandSeq() uint64 {
	for {
		cur := candSeq.Load()
		next := cur + 1
		if now := uint64(time.Now().UnixNano()); now > next {
			next = now
		}
		if candSeq.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (r *Relay) SendOffer(ctx context.Context, toUserId string, offer []byte) error {
	return r.send(ctx, toUserId, types.SignalOffer, offer, "offer")
}

func (r *Relay) SendAnswer(ctx context.Context, toUserId string, answer []byte) error {
	return r.send(ctx, toUserId, types.SignalAnswer, answer, "answer")
}

// SendCandidate appends to the per-direction candidate queue. The slot
// key is a zero-padded sequence so lexicographic order is send order,
// with a uuid suffix to keep keys unique.
func (r *Relay) SendCandidate(ctx context.Context, toUserId string, candidate []byte) error {
	slot := fmt.Sprintf("candidates/%020d-%s", nextCandSeq(), uuid.NewString()[:8])
	return r.send(ctx, toUserId, types.SignalCandidate, candidate, slot)
}

func (r *Relay) send(ctx context.Context, toUserId string, kind types.SignalKind, payload []byte, slot string) error {
	env := types.SignalingEnvelope{
		Id:         uuid.NewString(),
		FromUserId: r.userId,
		ToUserId:   toUserId,
		Kind:       kind,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	path := types.SignalPath(r.workspaceId, toUserId, r.userId, slot)
	if err := r.store.Publish(ctx, path, raw); err != nil {
		return fmt.Errorf("send %s to %s: %w", kind, toUserId, err)
	}

	r.provider.Incr(stats.SignalsSent)
	return nil
}

// OnSignal subscribes to this user's inbound signaling tree and invokes
// handler once per envelope, candidates in send order. Each envelope is
// acknowledged (removed from the store) after the handler returns.
func (r *Relay) OnSignal(handler func(env types.SignalingEnvelope)) func() {
	prefix := types.SignalPrefix(r.workspaceId, r.userId)

	return r.store.SubscribeCollection(prefix, func(snapshot map[string][]byte) {
		paths := make([]string, 0, len(snapshot))
		for p := range snapshot {
			paths = append(paths, p)
		}
		// candidate keys sort in send order; offer/answer slots have no
		// ordering requirement between each other
		sort.Strings(paths)

		for _, path := range paths {
			raw := snapshot[path]

			var env types.SignalingEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				r.log.Printf("signaling: bad envelope at %q: %v", path, err)
				r.removeEnvelope(path)
				continue
			}

			if !r.markConsumed(path, env.Id) {
				continue
			}

			r.provider.Incr(stats.SignalsReceived)
			handler(env)
			r.removeEnvelope(path)
		}
	})
}

// markConsumed reports whether the envelope at path is new. Candidate
// paths are never reused, so a per-direction high-water mark suppresses
// replays of everything at or below it. Offer/answer slots are reused;
// there the envelope id distinguishes a fresh envelope from a replay of
// the consumed one in a snapshot captured before its ack. Snapshots
// arrive in capture order, so an id mismatch always means newer.
func (r *Relay) markConsumed(path, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir, key, ok := strings.Cut(path, "/candidates/"); ok {
		if high, seen := r.candHigh[dir]; seen && key <= high {
			return false
		}
		r.candHigh[dir] = key
		return true
	}

	if r.consumed[path] == id {
		return false
	}
	r.consumed[path] = id
	return true
}

func (r *Relay) removeEnvelope(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Remove(ctx, path); err != nil {
		r.log.Printf("signaling: ack %q: %v", path, err)
	}
}

// PeerFromPath extracts the sender user id from an inbound signaling
// path, used when tearing down a departed peer's leftover envelopes.
func PeerFromPath(workspaceId, toUserId, path string) (string, bool) {
	prefix := types.SignalPrefix(workspaceId, toUserId)
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return "", false
	}
	from, _, ok := strings.Cut(rest, "/")
	return from, ok
}
