package workspace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab-dev/syncengine/internal/ephemeral"
	"github.com/codecollab-dev/syncengine/internal/presence"
	"github.com/codecollab-dev/syncengine/internal/signaling"
	"github.com/codecollab-dev/syncengine/internal/testutil"
	"github.com/codecollab-dev/syncengine/internal/types"
)

type fakeConnector struct {
	mu            sync.Mutex
	offeredTo     []string
	closed        []string
	offerPayload  []byte
	answerPayload []byte
	handledOffers map[string][]byte
	answers       map[string][]byte
	candidates    map[string][][]byte
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		offerPayload:  []byte(`{"type":"offer"}`),
		answerPayload: []byte(`{"type":"answer"}`),
		handledOffers: make(map[string][]byte),
		answers:       make(map[string][]byte),
		candidates:    make(map[string][][]byte),
	}
}

func (c *fakeConnector) CreateOffer(_ context.Context, peerId string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offeredTo = append(c.offeredTo, peerId)
	return c.offerPayload, nil
}

func (c *fakeConnector) HandleOffer(_ context.Context, peerId string, offer []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handledOffers[peerId] = offer
	return c.answerPayload, nil
}

func (c *fakeConnector) HandleAnswer(_ context.Context, peerId string, answer []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers[peerId] = answer
	return nil
}

func (c *fakeConnector) AddCandidate(_ context.Context, peerId string, candidate []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates[peerId] = append(c.candidates[peerId], candidate)
	return nil
}

func (c *fakeConnector) ClosePeer(peerId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, peerId)
	return nil
}

func (c *fakeConnector) snapshot() *fakeConnector {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &fakeConnector{
		offeredTo:     append([]string(nil), c.offeredTo...),
		closed:        append([]string(nil), c.closed...),
		handledOffers: make(map[string][]byte, len(c.handledOffers)),
		answers:       make(map[string][]byte, len(c.answers)),
	}
	for k, v := range c.handledOffers {
		snap.handledOffers[k] = v
	}
	for k, v := range c.answers {
		snap.answers[k] = v
	}
	return snap
}

type testSession struct {
	identity  types.Identity
	tracker   *presence.Tracker
	relay     *signaling.Relay
	connector *fakeConnector
	orch      *Orchestrator
}

func newTestSession(t *testing.T, store ephemeral.Store, userId string) *testSession {
	t.Helper()

	identity := types.Identity{UserId: userId, DisplayName: "user " + userId}
	logger := testutil.TestLogger(t)
	tracker := presence.NewTracker(logger, store, testutil.NopStats{}, "ws-1", identity)
	relay := signaling.NewRelay(logger, store, testutil.NopStats{}, "ws-1", userId)
	connector := newFakeConnector()

	return &testSession{
		identity:  identity,
		tracker:   tracker,
		relay:     relay,
		connector: connector,
		orch:      NewOrchestrator(logger, tracker, relay, connector, identity),
	}
}

func drainEvents(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestOrchestrator_OffersToPresentPeer(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	peer := newTestSession(t, store, "bob")
	me := newTestSession(t, store, "alice")

	require.NoError(t, peer.orch.Join(context.Background()))
	require.NoError(t, me.orch.Join(context.Background()))
	defer me.orch.Leave(context.Background())
	defer peer.orch.Leave(context.Background())

	snap := me.connector.snapshot()
	require.Equal(t, []string{"bob"}, snap.offeredTo)

	peerSnap := peer.connector.snapshot()
	assert.Equal(t, me.connector.offerPayload, peerSnap.handledOffers["alice"],
		"peer should have received and handled the offer")
	assert.Equal(t, peer.connector.answerPayload, snap.answers["bob"],
		"answer should have come back to the initiator")
}

func TestOrchestrator_LatecomerIsOffered(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	me := newTestSession(t, store, "alice")

	require.NoError(t, me.orch.Join(context.Background()))
	defer me.orch.Leave(context.Background())

	require.Empty(t, me.connector.snapshot().offeredTo)

	peer := newTestSession(t, store, "carol")
	require.NoError(t, peer.orch.Join(context.Background()))
	defer peer.orch.Leave(context.Background())

	assert.Equal(t, []string{"carol"}, me.connector.snapshot().offeredTo)
}

func TestOrchestrator_PeerDepartureTearsDown(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	peer := newTestSession(t, store, "bob")
	me := newTestSession(t, store, "alice")

	require.NoError(t, peer.orch.Join(context.Background()))
	require.NoError(t, me.orch.Join(context.Background()))
	defer me.orch.Leave(context.Background())

	drainEvents(me.orch.Events())

	peer.orch.Leave(context.Background())

	assert.Equal(t, []string{"bob"}, me.connector.snapshot().closed)

	var sawLeft bool
	for _, ev := range drainEvents(me.orch.Events()) {
		if ev.PeerLeft != nil && ev.PeerLeft.UserId == "bob" {
			sawLeft = true
		}
	}
	assert.True(t, sawLeft, "expected a peer-left event for bob")
}

func TestOrchestrator_EmitsJoinAndRosterEvents(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	me := newTestSession(t, store, "alice")

	require.NoError(t, me.orch.Join(context.Background()))
	defer me.orch.Leave(context.Background())
	drainEvents(me.orch.Events())

	peer := newTestSession(t, store, "bob")
	require.NoError(t, peer.orch.Join(context.Background()))
	defer peer.orch.Leave(context.Background())

	var sawJoin, sawRoster bool
	for _, ev := range drainEvents(me.orch.Events()) {
		if ev.PeerJoined != nil && ev.PeerJoined.UserId == "bob" {
			sawJoin = true
		}
		if _, ok := ev.Participants["bob"]; ok {
			sawRoster = true
		}
	}
	assert.True(t, sawJoin, "expected a peer-joined event for bob")
	assert.True(t, sawRoster, "expected a roster event including bob")
}

func TestOrchestrator_ForwardsCursorUpdates(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	me := newTestSession(t, store, "alice")
	peer := newTestSession(t, store, "bob")

	require.NoError(t, me.orch.Join(context.Background()))
	defer me.orch.Leave(context.Background())
	drainEvents(me.orch.Events())

	peer.tracker.StartTracking()
	require.NoError(t, peer.tracker.UpdatePosition(context.Background(), 12, 34))

	var cursor *types.PeerPresence
	for _, ev := range drainEvents(me.orch.Events()) {
		if p, ok := ev.Cursors["bob"]; ok {
			cursor = &p
		}
	}
	require.NotNil(t, cursor, "expected a cursor event for bob")
	assert.Equal(t, 12.0, cursor.X)
	assert.Equal(t, 34.0, cursor.Y)
}

func TestOrchestrator_RelaysCandidates(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	peer := newTestSession(t, store, "bob")
	me := newTestSession(t, store, "alice")

	require.NoError(t, peer.orch.Join(context.Background()))
	require.NoError(t, me.orch.Join(context.Background()))
	defer me.orch.Leave(context.Background())
	defer peer.orch.Leave(context.Background())

	first := []byte(`{"candidate":"a"}`)
	second := []byte(`{"candidate":"b"}`)
	require.NoError(t, peer.relay.SendCandidate(context.Background(), "alice", first))
	require.NoError(t, peer.relay.SendCandidate(context.Background(), "alice", second))

	me.connector.mu.Lock()
	got := append([][]byte(nil), me.connector.candidates["bob"]...)
	me.connector.mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestOrchestrator_LeaveIsIdempotent(t *testing.T) {
	store := ephemeral.NewMemoryStore()
	me := newTestSession(t, store, "alice")

	require.NoError(t, me.orch.Join(context.Background()))
	me.orch.Leave(context.Background())
	me.orch.Leave(context.Background())

	assert.Empty(t, me.connector.snapshot().closed)
}
