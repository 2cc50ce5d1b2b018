package durable

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/teris-io/shortid"

	"github.com/codecollab-dev/syncengine/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	fileUpdateChannel = "file_update"
	messageChannel    = "workspace_message"
)

// PgStore is the Postgres-backed Store. Change notifications ride
// LISTEN/NOTIFY: mutations call pg_notify with the entity id and a
// single listener goroutine refetches the row and fans it out, so every
// server process observes writes made by any other process.
type PgStore struct {
	log      *log.Logger
	conn     *sql.DB
	listener *pq.Listener

	mu       sync.Mutex
	fileSubs map[string]map[*fileSub]struct{}
	msgSubs  map[string]map[*msgSub]struct{}
	closed   bool
}

type fileSub struct {
	deliverMu sync.Mutex
	stopped   bool
	fn        func(types.FileSnapshot)
}

type msgSub struct {
	deliverMu sync.Mutex
	stopped   bool
	fn        func(types.Message)
}

func NewPgStore(logger *log.Logger, dsn string) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(_ pq.ListenerEventType, err error) {
		if err != nil {
			logger.Println("durable: listener:", err)
		}
	})
	if err := listener.Listen(fileUpdateChannel); err != nil {
		return nil, fmt.Errorf("listen %s: %w", fileUpdateChannel, err)
	}
	if err := listener.Listen(messageChannel); err != nil {
		return nil, fmt.Errorf("listen %s: %w", messageChannel, err)
	}

	s := &PgStore{
		log:      logger,
		conn:     db,
		listener: listener,
		fileSubs: make(map[string]map[*fileSub]struct{}),
		msgSubs:  make(map[string]map[*msgSub]struct{}),
	}

	go s.dispatch()

	return s, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *PgStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.listener.Close(); err != nil {
		s.log.Println("durable: close listener:", err)
	}
	return s.conn.Close()
}

func (s *PgStore) Ping() error {
	return s.conn.Ping()
}

func (s *PgStore) dispatch() {
	for n := range s.listener.Notify {
		if n == nil {
			// reconnect event, subscribers refetch on next notify
			continue
		}

		switch n.Channel {
		case fileUpdateChannel:
			s.dispatchFile(n.Extra)
		case messageChannel:
			s.dispatchMessage(n.Extra)
		}
	}
}

func (s *PgStore) dispatchFile(fileId string) {
	s.mu.Lock()
	subs := make([]*fileSub, 0, len(s.fileSubs[fileId]))
	for sub := range s.fileSubs[fileId] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	snap, err := s.GetFile(fileId)
	if err != nil {
		s.log.Printf("durable: refetch file %q: %v", fileId, err)
		return
	}

	for _, sub := range subs {
		sub.deliver(snap)
	}
}

func (s *PgStore) dispatchMessage(messageId string) {
	msg, err := s.getMessage(messageId)
	if err != nil {
		s.log.Printf("durable: refetch message %q: %v", messageId, err)
		return
	}

	s.mu.Lock()
	subs := make([]*msgSub, 0, len(s.msgSubs[msg.WorkspaceId]))
	for sub := range s.msgSubs[msg.WorkspaceId] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
}

func (s *PgStore) CreateWorkspace(params CreateWorkspaceParams) (types.Workspace, error) {
	externalId, err := shortid.Generate()
	if err != nil {
		return types.Workspace{}, fmt.Errorf("generate external id: %w", err)
	}

	ws := types.Workspace{
		Id:         uuid.NewString(),
		ExternalId: externalId,
		Name:       params.Name,
		OwnerId:    params.OwnerId,
	}

	row := s.conn.QueryRow(`INSERT INTO workspaces (id, external_id, name, owner_id)
		VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		ws.Id, ws.ExternalId, ws.Name, ws.OwnerId)
	if err := row.Scan(&ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return types.Workspace{}, err
	}

	return ws, nil
}

func (s *PgStore) GetWorkspace(externalId string) (types.Workspace, error) {
	var ws types.Workspace
	row := s.conn.QueryRow(`SELECT id, external_id, name, owner_id, created_at, updated_at
		FROM workspaces WHERE external_id = $1`, externalId)
	if err := row.Scan(&ws.Id, &ws.ExternalId, &ws.Name, &ws.OwnerId, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Workspace{}, ErrNotFound
		}
		return types.Workspace{}, err
	}

	return ws, nil
}

func (s *PgStore) DeleteWorkspace(id string) error {
	res, err := s.conn.Exec(`DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) AddMember(member types.Member) error {
	_, err := s.conn.Exec(`INSERT INTO members (workspace_id, user_id, display_name, photo_url, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role, display_name = EXCLUDED.display_name`,
		member.WorkspaceId, member.UserId, member.DisplayName, member.PhotoURL, string(member.Role))
	return err
}

func (s *PgStore) GetMember(workspaceId, userId string) (types.Member, error) {
	var m types.Member
	var role string
	row := s.conn.QueryRow(`SELECT workspace_id, user_id, display_name, photo_url, role, created_at
		FROM members WHERE workspace_id = $1 AND user_id = $2`, workspaceId, userId)
	if err := row.Scan(&m.WorkspaceId, &m.UserId, &m.DisplayName, &m.PhotoURL, &role, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Member{}, ErrNotFound
		}
		return types.Member{}, err
	}
	m.Role = types.Role(role)

	return m, nil
}

func (s *PgStore) ListMembers(workspaceId string) ([]types.Member, error) {
	rows, err := s.conn.Query(`SELECT workspace_id, user_id, display_name, photo_url, role, created_at
		FROM members WHERE workspace_id = $1 ORDER BY created_at`, workspaceId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []types.Member
	for rows.Next() {
		var m types.Member
		var role string
		if err := rows.Scan(&m.WorkspaceId, &m.UserId, &m.DisplayName, &m.PhotoURL, &role, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = types.Role(role)
		members = append(members, m)
	}

	return members, rows.Err()
}

func (s *PgStore) RemoveMember(workspaceId, userId string) error {
	res, err := s.conn.Exec(`DELETE FROM members WHERE workspace_id = $1 AND user_id = $2`, workspaceId, userId)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) CreateFile(params CreateFileParams) (types.FileSnapshot, error) {
	f := types.FileSnapshot{
		Id:          uuid.NewString(),
		WorkspaceId: params.WorkspaceId,
		Name:        params.Name,
		UpdatedBy:   params.CreatedBy,
	}

	row := s.conn.QueryRow(`INSERT INTO files (id, workspace_id, name, updated_by)
		VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		f.Id, f.WorkspaceId, f.Name, f.UpdatedBy)
	if err := row.Scan(&f.CreatedAt, &f.UpdatedAt); err != nil {
		return types.FileSnapshot{}, err
	}

	return f, nil
}

func (s *PgStore) GetFile(fileId string) (types.FileSnapshot, error) {
	var f types.FileSnapshot
	row := s.conn.QueryRow(`SELECT id, workspace_id, name, content, updated_by, created_at, updated_at
		FROM files WHERE id = $1`, fileId)
	if err := row.Scan(&f.Id, &f.WorkspaceId, &f.Name, &f.Content, &f.UpdatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.FileSnapshot{}, ErrNotFound
		}
		return types.FileSnapshot{}, err
	}

	return f, nil
}

func (s *PgStore) ListFiles(workspaceId string) ([]types.FileSnapshot, error) {
	rows, err := s.conn.Query(`SELECT id, workspace_id, name, content, updated_by, created_at, updated_at
		FROM files WHERE workspace_id = $1 ORDER BY name`, workspaceId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []types.FileSnapshot
	for rows.Next() {
		var f types.FileSnapshot
		if err := rows.Scan(&f.Id, &f.WorkspaceId, &f.Name, &f.Content, &f.UpdatedBy, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

// UpdateFileContent replaces the whole file content. Concurrent writers
// are resolved last-write-wins: whichever update commits last is what
// every subscriber converges on.
func (s *PgStore) UpdateFileContent(fileId, content, updatedBy string) error {
	res, err := s.conn.Exec(`UPDATE files SET content = $2, updated_by = $3, updated_at = now() WHERE id = $1`,
		fileId, content, updatedBy)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := s.conn.Exec(`SELECT pg_notify($1, $2)`, fileUpdateChannel, fileId); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (s *PgStore) DeleteFile(fileId string) error {
	res, err := s.conn.Exec(`DELETE FROM files WHERE id = $1`, fileId)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) SubscribeFile(fileId string, fn func(types.FileSnapshot)) func() {
	sub := &fileSub{fn: fn}

	s.mu.Lock()
	if s.fileSubs[fileId] == nil {
		s.fileSubs[fileId] = make(map[*fileSub]struct{})
	}
	s.fileSubs[fileId][sub] = struct{}{}
	s.mu.Unlock()

	return func() {
		sub.deliverMu.Lock()
		sub.stopped = true
		sub.deliverMu.Unlock()

		s.mu.Lock()
		delete(s.fileSubs[fileId], sub)
		s.mu.Unlock()
	}
}

func (s *PgStore) CreateMessage(msg types.Message) (types.Message, error) {
	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}

	row := s.conn.QueryRow(`INSERT INTO messages (id, workspace_id, user_id, name, image_url, text)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		msg.Id, msg.WorkspaceId, msg.UserId, msg.Name, msg.ImageURL, msg.Text)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return types.Message{}, err
	}

	if _, err := s.conn.Exec(`SELECT pg_notify($1, $2)`, messageChannel, msg.Id); err != nil {
		return types.Message{}, fmt.Errorf("notify: %w", err)
	}

	return msg, nil
}

func (s *PgStore) getMessage(messageId string) (types.Message, error) {
	var msg types.Message
	row := s.conn.QueryRow(`SELECT id, workspace_id, user_id, name, image_url, text, created_at
		FROM messages WHERE id = $1`, messageId)
	if err := row.Scan(&msg.Id, &msg.WorkspaceId, &msg.UserId, &msg.Name, &msg.ImageURL, &msg.Text, &msg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrNotFound
		}
		return types.Message{}, err
	}

	return msg, nil
}

func (s *PgStore) ListMessages(workspaceId string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.Query(`SELECT id, workspace_id, user_id, name, image_url, text, created_at
		FROM messages WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT $2`, workspaceId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.Id, &msg.WorkspaceId, &msg.UserId, &msg.Name, &msg.ImageURL, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest-first so LIMIT keeps the latest window;
	// callers expect oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (s *PgStore) ClearMessages(workspaceId string) error {
	_, err := s.conn.Exec(`DELETE FROM messages WHERE workspace_id = $1`, workspaceId)
	return err
}

func (s *PgStore) SubscribeMessages(workspaceId string, fn func(types.Message)) func() {
	sub := &msgSub{fn: fn}

	s.mu.Lock()
	if s.msgSubs[workspaceId] == nil {
		s.msgSubs[workspaceId] = make(map[*msgSub]struct{})
	}
	s.msgSubs[workspaceId][sub] = struct{}{}
	s.mu.Unlock()

	return func() {
		sub.deliverMu.Lock()
		sub.stopped = true
		sub.deliverMu.Unlock()

		s.mu.Lock()
		delete(s.msgSubs[workspaceId], sub)
		s.mu.Unlock()
	}
}

func (f *fileSub) deliver(snap types.FileSnapshot) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	if f.stopped {
		return
	}
	f.fn(snap)
}

func (m *msgSub) deliver(msg types.Message) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	if m.stopped {
		return
	}
	m.fn(msg)
}
