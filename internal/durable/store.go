package durable

import (
	"errors"

	"github.com/codecollab-dev/syncengine/internal/types"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

type CreateWorkspaceParams struct {
	Name    string `json:"name"`
	OwnerId string `json:"-"`
}

type CreateFileParams struct {
	WorkspaceId string `json:"workspace_id"`
	Name        string `json:"name"`
	CreatedBy   string `json:"-"`
}

// Store is the durable document store behind workspaces, members, files
// and chat messages. File and message mutations fan out change
// notifications to subscribers; a subscription fires on every change
// after it is registered (current state is fetched explicitly by the
// caller first). Unsubscribe funcs are synchronous and idempotent.
type Store interface {
	Ping() error

	CreateWorkspace(params CreateWorkspaceParams) (types.Workspace, error)
	GetWorkspace(externalId string) (types.Workspace, error)
	DeleteWorkspace(id string) error

	AddMember(member types.Member) error
	GetMember(workspaceId, userId string) (types.Member, error)
	ListMembers(workspaceId string) ([]types.Member, error)
	RemoveMember(workspaceId, userId string) error

	CreateFile(params CreateFileParams) (types.FileSnapshot, error)
	GetFile(fileId string) (types.FileSnapshot, error)
	ListFiles(workspaceId string) ([]types.FileSnapshot, error)
	UpdateFileContent(fileId, content, updatedBy string) error
	DeleteFile(fileId string) error
	SubscribeFile(fileId string, fn func(types.FileSnapshot)) (unsubscribe func())

	CreateMessage(msg types.Message) (types.Message, error)
	ListMessages(workspaceId string, limit int) ([]types.Message, error)
	ClearMessages(workspaceId string) error
	SubscribeMessages(workspaceId string, fn func(types.Message)) (unsubscribe func())
}
