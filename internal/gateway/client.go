package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/filesession"
	"github.com/codecollab-dev/syncengine/internal/presence"
	"github.com/codecollab-dev/syncengine/internal/signaling"
	"github.com/codecollab-dev/syncengine/internal/types"
	"github.com/codecollab-dev/syncengine/internal/workspace"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	opTimeout = 10 * time.Second
)

// Client is one websocket connection acting on behalf of an
// authenticated user. It holds at most one workspace session and any
// number of open file sessions within it.
type Client struct {
	conn     *websocket.Conn
	gw       *Gateway
	log      *log.Logger
	identity types.Identity
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	ws        *wsSession
	files     map[string]*filesession.Session
	fileRoles map[string]types.Role
}

// wsSession is the per-workspace state built on join and torn down on
// leave or disconnect.
type wsSession struct {
	workspaceId string
	externalId  string
	role        types.Role
	tracker     *presence.Tracker
	relay       *signaling.Relay
	orch        *workspace.Orchestrator
	chatUnsub   func()
	eventsDone  chan struct{}
}

func NewClient(identity types.Identity, conn *websocket.Conn, gw *Gateway, l *log.Logger) *Client {
	return &Client{
		conn:      conn,
		gw:        gw,
		log:       l,
		identity:  identity,
		send:      make(chan *ServerMessage, 256),
		stop:      make(chan struct{}),
		files:     make(map[string]*filesession.Session),
		fileRoles: make(map[string]types.Role),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinWorkspace(msg)
	case msg.Leave != nil:
		c.leaveWorkspace(msg)
	case msg.Cursor != nil:
		c.updateCursor(msg)
	case msg.Voice != nil:
		c.updateVoice(msg)
	case msg.Signal != nil:
		c.relaySignal(msg)
	case msg.OpenFile != nil:
		c.openFile(msg)
	case msg.CloseFile != nil:
		c.closeFile(msg)
	case msg.Edit != nil:
		c.editFile(msg)
	case msg.Chat != nil:
		c.sendChat(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) session() *wsSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

func (c *Client) joinWorkspace(msg *ClientMessage) {
	if c.session() != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ws, err := c.gw.durable.GetWorkspace(msg.Join.WorkspaceId)
	if err != nil {
		c.queueMessage(ErrNotFound(msg.Id, "workspace"))
		return
	}

	member, err := c.gw.durable.GetMember(ws.Id, c.identity.UserId)
	if err != nil {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	tracker := presence.NewTracker(c.log, c.gw.ephemeral, c.gw.provider, ws.Id, c.identity)
	relay := signaling.NewRelay(c.log, c.gw.ephemeral, c.gw.provider, ws.Id, c.identity.UserId)
	orch := workspace.NewOrchestrator(c.log, tracker, relay, &wsConnector{client: c}, c.identity)

	sess := &wsSession{
		workspaceId: ws.Id,
		externalId:  ws.ExternalId,
		role:        member.Role,
		tracker:     tracker,
		relay:       relay,
		orch:        orch,
		eventsDone:  make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := orch.Join(ctx); err != nil {
		c.log.Printf("join workspace %q: %v", ws.ExternalId, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	history, chatUnsub, err := c.gw.chat.Subscribe(ctx, ws.Id, func(m types.Message) {
		msg := m
		c.queueMessage(&ServerMessage{BaseMessage: BaseMessage{Timestamp: Now()}, Chat: &msg})
	})
	if err != nil {
		c.log.Printf("subscribe chat for %q: %v", ws.ExternalId, err)
		orch.Leave(context.Background())
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}
	sess.chatUnsub = chatUnsub

	c.mu.Lock()
	c.ws = sess
	c.mu.Unlock()

	go c.forwardEvents(sess)

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"workspace_id": ws.ExternalId,
		"role":         member.Role,
		"color":        tracker.Color(),
	}))
	for _, m := range history {
		m := m
		c.queueMessage(&ServerMessage{BaseMessage: BaseMessage{Timestamp: Now()}, Chat: &m})
	}
}

// forwardEvents pumps orchestrator events onto the websocket until the
// session ends.
func (c *Client) forwardEvents(sess *wsSession) {
	for {
		select {
		case ev := <-sess.orch.Events():
			c.queueMessage(&ServerMessage{
				BaseMessage:  BaseMessage{Timestamp: ev.Timestamp},
				Cursors:      ev.Cursors,
				Participants: ev.Participants,
				PeerJoined:   ev.PeerJoined,
				PeerLeft:     ev.PeerLeft,
			})
		case <-sess.eventsDone:
			return
		case <-c.stop:
			return
		}
	}
}

func (c *Client) leaveWorkspace(msg *ClientMessage) {
	if !c.teardownSession() {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}
	c.queueMessage(NoErrOK(msg.Id, nil))
}

// teardownSession closes the workspace session and every open file
// session. Reports whether there was a session to tear down.
func (c *Client) teardownSession() bool {
	c.mu.Lock()
	sess := c.ws
	c.ws = nil
	files := c.files
	c.files = make(map[string]*filesession.Session)
	c.fileRoles = make(map[string]types.Role)
	c.mu.Unlock()

	if sess == nil {
		return false
	}

	for _, fs := range files {
		fs.Flush()
		fs.Close()
	}

	close(sess.eventsDone)
	if sess.chatUnsub != nil {
		sess.chatUnsub()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	sess.orch.Leave(ctx)

	return true
}

func (c *Client) updateCursor(msg *ClientMessage) {
	sess := c.session()
	if sess == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := sess.tracker.UpdatePosition(ctx, msg.Cursor.X, msg.Cursor.Y); err != nil {
		c.log.Printf("update cursor: %v", err)
	}
}

func (c *Client) updateVoice(msg *ClientMessage) {
	sess := c.session()
	if sess == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	switch msg.Voice.Action {
	case "mute":
		err = sess.tracker.SetMuted(ctx, true)
	case "unmute":
		err = sess.tracker.SetMuted(ctx, false)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}
	if err != nil {
		c.log.Printf("voice %s: %v", msg.Voice.Action, err)
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

func (c *Client) relaySignal(msg *ClientMessage) {
	sess := c.session()
	if sess == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var err error
	switch msg.Signal.Kind {
	case types.SignalOffer:
		err = sess.relay.SendOffer(ctx, msg.Signal.To, msg.Signal.Payload)
	case types.SignalAnswer:
		err = sess.relay.SendAnswer(ctx, msg.Signal.To, msg.Signal.Payload)
	case types.SignalCandidate:
		err = sess.relay.SendCandidate(ctx, msg.Signal.To, msg.Signal.Payload)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}
	if err != nil {
		c.log.Printf("relay %s to %q: %v", msg.Signal.Kind, msg.Signal.To, err)
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

func (c *Client) openFile(msg *ClientMessage) {
	sess := c.session()
	if sess == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	fileId := msg.OpenFile.FileId
	c.mu.Lock()
	_, open := c.files[fileId]
	c.mu.Unlock()
	if open {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	fs := filesession.NewSession(c.log, c.gw.durable, c.gw.provider, c.identity, fileId,
		filesession.WithRemoteHandler(func(content string) {
			c.queueMessage(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				File:        &FileEvent{FileId: fileId, Content: content},
			})
		}),
		filesession.WithErrorHandler(func(err error) {
			c.log.Printf("file %q persist: %v", fileId, err)
		}),
	)

	if err := fs.Open(); err != nil {
		if err == durable.ErrNotFound {
			c.queueMessage(ErrNotFound(msg.Id, "file"))
		} else {
			c.log.Printf("open file %q: %v", fileId, err)
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	c.mu.Lock()
	c.files[fileId] = fs
	c.fileRoles[fileId] = sess.role
	c.mu.Unlock()

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"file_id": fileId,
		"content": fs.Content(),
	}))
}

func (c *Client) closeFile(msg *ClientMessage) {
	c.mu.Lock()
	fs, ok := c.files[msg.CloseFile.FileId]
	delete(c.files, msg.CloseFile.FileId)
	delete(c.fileRoles, msg.CloseFile.FileId)
	c.mu.Unlock()

	if !ok {
		c.queueMessage(ErrNotFound(msg.Id, "file"))
		return
	}

	fs.Flush()
	fs.Close()
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) editFile(msg *ClientMessage) {
	c.mu.Lock()
	fs, ok := c.files[msg.Edit.FileId]
	role := c.fileRoles[msg.Edit.FileId]
	c.mu.Unlock()

	if !ok {
		c.queueMessage(ErrNotFound(msg.Id, "file"))
		return
	}
	if !role.CanEdit() {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	if err := fs.LocalEdit(msg.Edit.Content); err != nil {
		c.log.Printf("edit file %q: %v", msg.Edit.FileId, err)
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

func (c *Client) sendChat(msg *ClientMessage) {
	sess := c.session()
	if sess == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := c.gw.chat.Send(ctx, sess.workspaceId, c.identity, msg.Chat.Text); err != nil {
		c.log.Printf("send chat: %v", err)
		c.queueMessage(ErrInternalError(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.teardownSession()
	select {
	case c.gw.deRegisterChan <- c:
	case <-c.gw.stop:
	}
	c.stopClient()
}

// wsConnector satisfies the orchestrator's media boundary by
// forwarding negotiation to the browser, where the actual peer
// connections live. All payload production is asynchronous, so every
// producing call returns nil and the browser replies with signal
// messages of its own.
type wsConnector struct {
	client *Client
}

func (w *wsConnector) CreateOffer(_ context.Context, peerId string) ([]byte, error) {
	w.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Negotiate:   &Negotiate{PeerId: peerId},
	})
	return nil, nil
}

func (w *wsConnector) HandleOffer(_ context.Context, peerId string, offer []byte) ([]byte, error) {
	w.forward(peerId, types.SignalOffer, offer)
	return nil, nil
}

func (w *wsConnector) HandleAnswer(_ context.Context, peerId string, answer []byte) error {
	w.forward(peerId, types.SignalAnswer, answer)
	return nil
}

func (w *wsConnector) AddCandidate(_ context.Context, peerId string, candidate []byte) error {
	w.forward(peerId, types.SignalCandidate, candidate)
	return nil
}

func (w *wsConnector) ClosePeer(string) error {
	// peer-left events already notify the browser
	return nil
}

func (w *wsConnector) forward(peerId string, kind types.SignalKind, payload []byte) {
	w.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Signal:      &SignalEvent{From: peerId, Kind: kind, Payload: payload},
	})
}
