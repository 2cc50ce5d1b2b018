package workspace

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codecollab-dev/syncengine/internal/presence"
	"github.com/codecollab-dev/syncengine/internal/signaling"
	"github.com/codecollab-dev/syncengine/internal/types"
)

// heartbeatInterval keeps this session's voice entry fresh well inside
// the presence staleness window.
const heartbeatInterval = 10 * time.Second

// PeerConnector is the media channel library boundary. The engine owns
// only the negotiation data plane; the media pipeline behind these
// calls is not ours. CreateOffer may return a nil payload when the
// implementation emits its negotiation messages asynchronously through
// its own callback path; the orchestrator then relays nothing and the
// media layer feeds the relay directly.
type PeerConnector interface {
	CreateOffer(ctx context.Context, peerId string) ([]byte, error)
	HandleOffer(ctx context.Context, peerId string, offer []byte) (answer []byte, err error)
	HandleAnswer(ctx context.Context, peerId string, answer []byte) error
	AddCandidate(ctx context.Context, peerId string, candidate []byte) error
	ClosePeer(peerId string) error
}

type Peer struct {
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Event is the single subscription feed the UI layer consumes. Exactly
// one field is set per event.
type Event struct {
	Timestamp    time.Time                         `json:"timestamp"`
	Cursors      map[string]types.PeerPresence     `json:"cursors,omitempty"`
	Participants map[string]types.VoiceParticipant `json:"participants,omitempty"`
	PeerJoined   *Peer                             `json:"peer_joined,omitempty"`
	PeerLeft     *Peer                             `json:"peer_left,omitempty"`
}

// Orchestrator ties the presence tracker and signaling relay together
// for one (workspace, user) session. Roster membership is inferred from
// live voice-participant data, so it inherits the staleness caveats of
// presence: a peer that vanishes without cleanup drops off the roster
// only once its entry expires.
type Orchestrator struct {
	log       *log.Logger
	tracker   *presence.Tracker
	relay     *signaling.Relay
	connector PeerConnector
	identity  types.Identity

	events chan Event

	mu          sync.Mutex
	joined      bool
	peers       map[string]Peer
	unsubVoice  func()
	unsubCursor func()
	unsubSignal func()
	stopBeat    chan struct{}
	beatDone    chan struct{}
}

func NewOrchestrator(logger *log.Logger, tracker *presence.Tracker, relay *signaling.Relay, connector PeerConnector, identity types.Identity) *Orchestrator {
	return &Orchestrator{
		log:       logger,
		tracker:   tracker,
		relay:     relay,
		connector: connector,
		identity:  identity,
		events:    make(chan Event, 256),
		peers:     make(map[string]Peer),
	}
}

// Events is the feed the UI layer consumes. Events are dropped, not
// blocked on, when the consumer falls behind.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Join starts presence tracking and voice participation, subscribes to
// the roster, and initiates signaling toward every peer present now or
// joining later.
func (o *Orchestrator) Join(ctx context.Context) error {
	o.mu.Lock()
	if o.joined {
		o.mu.Unlock()
		return nil
	}
	o.joined = true
	o.stopBeat = make(chan struct{})
	o.beatDone = make(chan struct{})
	o.mu.Unlock()

	o.tracker.StartTracking()
	if err := o.tracker.JoinVoice(ctx); err != nil {
		o.log.Printf("workspace: join voice for %q: %v", o.identity.UserId, err)
	}

	o.unsubSignal = o.relay.OnSignal(o.handleSignal)
	o.unsubVoice = o.tracker.SubscribeVoice(o.handleRoster)
	o.unsubCursor = o.tracker.SubscribeToAll(o.handleCursors)

	go o.heartbeatLoop()

	return nil
}

// Leave stops tracking, closes every established peer connection, and
// unsubscribes from roster and signaling. Safe to call more than once.
func (o *Orchestrator) Leave(ctx context.Context) {
	o.mu.Lock()
	if !o.joined {
		o.mu.Unlock()
		return
	}
	o.joined = false
	peers := o.peers
	o.peers = make(map[string]Peer)
	stopBeat, beatDone := o.stopBeat, o.beatDone
	unsubs := []func(){o.unsubVoice, o.unsubCursor, o.unsubSignal}
	o.unsubVoice, o.unsubCursor, o.unsubSignal = nil, nil, nil
	o.mu.Unlock()

	close(stopBeat)
	<-beatDone

	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}

	for id := range peers {
		if err := o.connector.ClosePeer(id); err != nil {
			o.log.Printf("workspace: close peer %q: %v", id, err)
		}
	}

	if err := o.tracker.LeaveVoice(ctx); err != nil {
		o.log.Printf("workspace: leave voice: %v", err)
	}
	if err := o.tracker.StopTracking(ctx); err != nil {
		o.log.Printf("workspace: stop tracking: %v", err)
	}
}

func (o *Orchestrator) heartbeatLoop() {
	defer close(o.beatDone)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := o.tracker.Heartbeat(ctx); err != nil {
				o.log.Printf("workspace: heartbeat: %v", err)
			}
			cancel()
		case <-o.stopBeat:
			return
		}
	}
}

// handleRoster reconciles the live participant map with known peers:
// new entries get a connection offer, vanished entries (left or
// expired) are torn down.
func (o *Orchestrator) handleRoster(participants map[string]types.VoiceParticipant) {
	var joined, left []Peer

	o.mu.Lock()
	if !o.joined {
		o.mu.Unlock()
		return
	}
	for id, p := range participants {
		if _, ok := o.peers[id]; !ok {
			peer := Peer{UserId: id, DisplayName: p.DisplayName}
			o.peers[id] = peer
			joined = append(joined, peer)
		}
	}
	for id, peer := range o.peers {
		if _, ok := participants[id]; !ok {
			delete(o.peers, id)
			left = append(left, peer)
		}
	}
	o.mu.Unlock()

	for _, peer := range joined {
		o.initiate(peer.UserId)
		o.emit(Event{PeerJoined: &Peer{UserId: peer.UserId, DisplayName: peer.DisplayName}})
	}
	for _, peer := range left {
		if err := o.connector.ClosePeer(peer.UserId); err != nil {
			o.log.Printf("workspace: close peer %q: %v", peer.UserId, err)
		}
		o.emit(Event{PeerLeft: &Peer{UserId: peer.UserId, DisplayName: peer.DisplayName}})
	}

	o.emit(Event{Participants: participants})
}

// initiate creates and relays an offer toward peerId. A dropped direct
// channel is not re-initiated here; the peer has to leave and rejoin
// the roster to retrigger negotiation.
func (o *Orchestrator) initiate(peerId string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := o.connector.CreateOffer(ctx, peerId)
	if err != nil {
		o.log.Printf("workspace: create offer for %q: %v", peerId, err)
		return
	}
	if offer == nil {
		// media layer produces its negotiation messages itself
		return
	}

	if err := o.relay.SendOffer(ctx, peerId, offer); err != nil {
		o.log.Printf("workspace: send offer to %q: %v", peerId, err)
	}
}

func (o *Orchestrator) handleCursors(cursors map[string]types.PeerPresence) {
	o.emit(Event{Cursors: cursors})
}

func (o *Orchestrator) handleSignal(env types.SignalingEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch env.Kind {
	case types.SignalOffer:
		answer, err := o.connector.HandleOffer(ctx, env.FromUserId, env.Payload)
		if err != nil {
			o.log.Printf("workspace: handle offer from %q: %v", env.FromUserId, err)
			return
		}
		if answer == nil {
			return
		}
		if err := o.relay.SendAnswer(ctx, env.FromUserId, answer); err != nil {
			o.log.Printf("workspace: send answer to %q: %v", env.FromUserId, err)
		}
	case types.SignalAnswer:
		if err := o.connector.HandleAnswer(ctx, env.FromUserId, env.Payload); err != nil {
			o.log.Printf("workspace: handle answer from %q: %v", env.FromUserId, err)
		}
	case types.SignalCandidate:
		if err := o.connector.AddCandidate(ctx, env.FromUserId, env.Payload); err != nil {
			o.log.Printf("workspace: add candidate from %q: %v", env.FromUserId, err)
		}
	default:
		o.log.Printf("workspace: unknown signal kind %q from %q", env.Kind, env.FromUserId)
	}
}

func (o *Orchestrator) emit(ev Event) {
	ev.Timestamp = time.Now().UTC()
	select {
	case o.events <- ev:
	default:
		o.log.Println("workspace: event channel full, dropping event")
	}
}
