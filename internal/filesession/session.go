package filesession

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/stats"
	"github.com/codecollab-dev/syncengine/internal/types"
)

// DebounceWindow is how long a burst of local edits must be quiet
// before the buffer is persisted.
const DebounceWindow = time.Second

type State int

const (
	StateIdle State = iota
	StateLoaded
	StateEditing
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateEditing:
		return "editing"
	case StatePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// Session owns the in-memory content of one open file for one client
// and mediates between optimistic local edits (debounced persistence)
// and remote change notifications. Conflict policy is last-writer-wins
// on whole-file content: concurrent writers clobber each other and the
// write that lands last in the durable store is what every session
// converges on. That is the documented contract, not an accident.
//
// One Session is the sole owner of its file buffer within a process; no
// second Session may open the same file concurrently.
type Session struct {
	log      *log.Logger
	store    durable.Store
	provider stats.StatsProvider
	identity types.Identity

	fileId string
	window time.Duration

	// onRemote fires when a remote change overwrites the buffer.
	onRemote func(content string)
	// onError surfaces non-fatal persistence failures.
	onError func(err error)

	mu          sync.Mutex
	state       State
	buffer      string
	pending     string // content captured when the debounce was armed
	debounce    *time.Timer
	unsubscribe func()
}

type Option func(*Session)

// WithDebounceWindow overrides the persist debounce, mainly for tests.
func WithDebounceWindow(d time.Duration) Option {
	return func(s *Session) { s.window = d }
}

// WithRemoteHandler registers the callback invoked after a remote
// change overwrites the local buffer.
func WithRemoteHandler(fn func(content string)) Option {
	return func(s *Session) { s.onRemote = fn }
}

// WithErrorHandler registers the callback for non-fatal persist errors.
func WithErrorHandler(fn func(err error)) Option {
	return func(s *Session) { s.onError = fn }
}

func NewSession(logger *log.Logger, store durable.Store, provider stats.StatsProvider, identity types.Identity, fileId string, opts ...Option) *Session {
	s := &Session{
		log:      logger,
		store:    store,
		provider: provider,
		identity: identity,
		fileId:   fileId,
		window:   DebounceWindow,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads current content into the buffer and subscribes to remote
// changes for the file.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("file %s already open (state %s)", s.fileId, s.state)
	}

	// Subscribe before the initial read: a write landing in between is
	// either seen by the read or delivered as a notification once the
	// lock is released, so nothing falls in a gap. Notifications that
	// arrive during Open block on the lock and apply afterwards.
	s.unsubscribe = s.store.SubscribeFile(s.fileId, s.handleRemote)

	snap, err := s.store.GetFile(s.fileId)
	if err != nil {
		s.unsubscribe()
		s.unsubscribe = nil
		return fmt.Errorf("load file %s: %w", s.fileId, err)
	}

	s.buffer = snap.Content
	s.state = StateLoaded

	return nil
}

// Content returns the current buffer. The local view is authoritative
// for this client until a newer remote change arrives.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalEdit applies content to the buffer immediately and arms the
// debounce. Each call cancels any pending timer, so only the final edit
// of a burst is persisted.
func (s *Session) LocalEdit(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return fmt.Errorf("file %s not open", s.fileId)
	}

	s.buffer = content
	s.pending = content
	s.state = StateEditing

	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.window, s.persist)

	return nil
}

// Flush persists any pending edit immediately, bypassing the debounce.
// Used on close so a final burst is not lost.
func (s *Session) Flush() {
	s.mu.Lock()
	if s.state != StateEditing {
		s.mu.Unlock()
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.mu.Unlock()

	s.persist()
}

// persist runs on debounce expiry. It writes the content captured at
// the last LocalEdit; a persist already in flight cannot be aborted,
// its result simply becomes the durable store's latest write. The
// buffer is never rolled back on failure.
func (s *Session) persist() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	content := s.pending
	s.state = StatePersisting
	s.mu.Unlock()

	err := s.store.UpdateFileContent(s.fileId, content, s.identity.UserId)

	s.mu.Lock()
	if s.state == StatePersisting {
		s.state = StateLoaded
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Printf("filesession: persist %s: %v", s.fileId, err)
		s.provider.Incr(stats.FilePersistErrors)
		if s.onError != nil {
			s.onError(fmt.Errorf("persist file %s: %w", s.fileId, err))
		}
		return
	}

	s.provider.Incr(stats.FilePersists)
}

// handleRemote applies a remote change notification. A notification
// whose content is byte-identical to the buffer is dropped to avoid
// feedback loops (our own persist echoes back through the store).
// Otherwise the remote content overwrites the buffer immediately, even
// while a debounce is pending: remote always wins on arrival. Unsent
// local keystrokes can vanish here; the pending persist still fires
// with the captured local content and becomes the next durable write.
func (s *Session) handleRemote(snap types.FileSnapshot) {
	s.mu.Lock()
	if s.state == StateIdle || snap.Content == s.buffer {
		s.mu.Unlock()
		return
	}

	s.buffer = snap.Content
	s.mu.Unlock()

	s.provider.Incr(stats.RemoteApplies)
	if s.onRemote != nil {
		s.onRemote(snap.Content)
	}
}

// Close unsubscribes from remote changes, cancels any pending debounce
// without persisting, and returns the session to idle.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}

	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.state = StateIdle
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
