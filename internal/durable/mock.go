package durable

import (
	"github.com/stretchr/testify/mock"

	"github.com/codecollab-dev/syncengine/internal/types"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockStore) CreateWorkspace(params CreateWorkspaceParams) (types.Workspace, error) {
	args := m.Called(params)
	return args.Get(0).(types.Workspace), args.Error(1)
}
func (m *MockStore) GetWorkspace(externalId string) (types.Workspace, error) {
	args := m.Called(externalId)
	return args.Get(0).(types.Workspace), args.Error(1)
}
func (m *MockStore) DeleteWorkspace(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockStore) AddMember(member types.Member) error {
	args := m.Called(member)
	return args.Error(0)
}
func (m *MockStore) GetMember(workspaceId, userId string) (types.Member, error) {
	args := m.Called(workspaceId, userId)
	return args.Get(0).(types.Member), args.Error(1)
}
func (m *MockStore) ListMembers(workspaceId string) ([]types.Member, error) {
	args := m.Called(workspaceId)
	return args.Get(0).([]types.Member), args.Error(1)
}
func (m *MockStore) RemoveMember(workspaceId, userId string) error {
	args := m.Called(workspaceId, userId)
	return args.Error(0)
}
func (m *MockStore) CreateFile(params CreateFileParams) (types.FileSnapshot, error) {
	args := m.Called(params)
	return args.Get(0).(types.FileSnapshot), args.Error(1)
}
func (m *MockStore) GetFile(fileId string) (types.FileSnapshot, error) {
	args := m.Called(fileId)
	return args.Get(0).(types.FileSnapshot), args.Error(1)
}
func (m *MockStore) ListFiles(workspaceId string) ([]types.FileSnapshot, error) {
	args := m.Called(workspaceId)
	return args.Get(0).([]types.FileSnapshot), args.Error(1)
}
func (m *MockStore) UpdateFileContent(fileId, content, updatedBy string) error {
	args := m.Called(fileId, content, updatedBy)
	return args.Error(0)
}
func (m *MockStore) DeleteFile(fileId string) error {
	args := m.Called(fileId)
	return args.Error(0)
}
func (m *MockStore) SubscribeFile(fileId string, fn func(types.FileSnapshot)) func() {
	args := m.Called(fileId, fn)
	if unsub, ok := args.Get(0).(func()); ok {
		return unsub
	}
	return func() {}
}
func (m *MockStore) CreateMessage(msg types.Message) (types.Message, error) {
	args := m.Called(msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockStore) ListMessages(workspaceId string, limit int) ([]types.Message, error) {
	args := m.Called(workspaceId, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockStore) ClearMessages(workspaceId string) error {
	args := m.Called(workspaceId)
	return args.Error(0)
}
func (m *MockStore) SubscribeMessages(workspaceId string, fn func(types.Message)) func() {
	args := m.Called(workspaceId, fn)
	if unsub, ok := args.Get(0).(func()); ok {
		return unsub
	}
	return func() {}
}
