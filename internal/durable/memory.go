package durable

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"github.com/codecollab-dev/syncengine/internal/types"
)

// MemoryStore is a single-process Store for dev mode and tests. It
// applies the same last-write-wins semantics as PgStore and delivers
// change notifications synchronously from the mutating call.
type MemoryStore struct {
	mu         sync.Mutex
	workspaces map[string]types.Workspace
	members    map[string]map[string]types.Member
	files      map[string]types.FileSnapshot
	messages   map[string][]types.Message
	fileSubs   map[string]map[*fileSub]struct{}
	msgSubs    map[string]map[*msgSub]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces: make(map[string]types.Workspace),
		members:    make(map[string]map[string]types.Member),
		files:      make(map[string]types.FileSnapshot),
		messages:   make(map[string][]types.Message),
		fileSubs:   make(map[string]map[*fileSub]struct{}),
		msgSubs:    make(map[string]map[*msgSub]struct{}),
	}
}

func (s *MemoryStore) Ping() error { return nil }

func (s *MemoryStore) CreateWorkspace(params CreateWorkspaceParams) (types.Workspace, error) {
	externalId, err := shortid.Generate()
	if err != nil {
		return types.Workspace{}, err
	}

	now := time.Now().UTC()
	ws := types.Workspace{
		Id:         uuid.NewString(),
		ExternalId: externalId,
		Name:       params.Name,
		OwnerId:    params.OwnerId,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.Id] = ws

	return ws, nil
}

func (s *MemoryStore) GetWorkspace(externalId string) (types.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ws := range s.workspaces {
		if ws.ExternalId == externalId {
			return ws, nil
		}
	}
	return types.Workspace{}, ErrNotFound
}

func (s *MemoryStore) DeleteWorkspace(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[id]; !ok {
		return ErrNotFound
	}
	delete(s.workspaces, id)
	delete(s.members, id)
	for fid, f := range s.files {
		if f.WorkspaceId == id {
			delete(s.files, fid)
		}
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AddMember(member types.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.members[member.WorkspaceId] == nil {
		s.members[member.WorkspaceId] = make(map[string]types.Member)
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	s.members[member.WorkspaceId][member.UserId] = member
	return nil
}

func (s *MemoryStore) GetMember(workspaceId, userId string) (types.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[workspaceId][userId]
	if !ok {
		return types.Member{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) ListMembers(workspaceId string) ([]types.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]types.Member, 0, len(s.members[workspaceId]))
	for _, m := range s.members[workspaceId] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.Before(members[j].CreatedAt) })

	return members, nil
}

func (s *MemoryStore) RemoveMember(workspaceId, userId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[workspaceId][userId]; !ok {
		return ErrNotFound
	}
	delete(s.members[workspaceId], userId)
	return nil
}

func (s *MemoryStore) CreateFile(params CreateFileParams) (types.FileSnapshot, error) {
	now := time.Now().UTC()
	f := types.FileSnapshot{
		Id:          uuid.NewString(),
		WorkspaceId: params.WorkspaceId,
		Name:        params.Name,
		UpdatedBy:   params.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.Id] = f

	return f, nil
}

func (s *MemoryStore) GetFile(fileId string) (types.FileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileId]
	if !ok {
		return types.FileSnapshot{}, ErrNotFound
	}
	return f, nil
}

func (s *MemoryStore) ListFiles(workspaceId string) ([]types.FileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files []types.FileSnapshot
	for _, f := range s.files {
		if f.WorkspaceId == workspaceId {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

func (s *MemoryStore) UpdateFileContent(fileId, content, updatedBy string) error {
	s.mu.Lock()
	f, ok := s.files[fileId]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	f.Content = content
	f.UpdatedBy = updatedBy
	f.UpdatedAt = time.Now().UTC()
	s.files[fileId] = f

	subs := make([]*fileSub, 0, len(s.fileSubs[fileId]))
	for sub := range s.fileSubs[fileId] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(f)
	}
	return nil
}

func (s *MemoryStore) DeleteFile(fileId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileId]; !ok {
		return ErrNotFound
	}
	delete(s.files, fileId)
	return nil
}

func (s *MemoryStore) SubscribeFile(fileId string, fn func(types.FileSnapshot)) func() {
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

func (s *MemoryStore) CreateMessage(msg types.Message) (types.Message, error) {
	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.messages[msg.WorkspaceId] = append(s.messages[msg.WorkspaceId], msg)
	subs := make([]*msgSub, 0, len(s.msgSubs[msg.WorkspaceId]))
	for sub := range s.msgSubs[msg.WorkspaceId] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(msg)
	}
	return msg, nil
}

func (s *MemoryStore) ListMessages(workspaceId string, limit int) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[workspaceId]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)

	return out, nil
}

func (s *MemoryStore) ClearMessages(workspaceId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, workspaceId)
	return nil
}

func (s *MemoryStore) SubscribeMessages(workspaceId string, fn func(types.Message)) func() {
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
