package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/codecollab-dev/syncengine/internal/durable"
	"github.com/codecollab-dev/syncengine/internal/gateway"
	"github.com/codecollab-dev/syncengine/internal/types"
)

type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

type AddMemberRequest struct {
	WorkspaceId string     `json:"workspace_id"`
	UserId      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	PhotoURL    string     `json:"photo_url"`
	Role        types.Role `json:"role"`
}

type CreateFileRequest struct {
	WorkspaceId string `json:"workspace_id"`
	Name        string `json:"name"`
}

// WorkspaceDetail is the full workspace view returned by GET
// /api/workspaces.
type WorkspaceDetail struct {
	types.Workspace
	Members []types.Member       `json:"members"`
	Files   []types.FileSnapshot `json:"files"`
}

func (s *SyncApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// requireMember resolves the workspace by external id and checks the
// requester's membership, writing the error response itself on failure.
func (s *SyncApp) requireMember(w http.ResponseWriter, r *http.Request, externalId string) (types.Workspace, types.Member, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return types.Workspace{}, types.Member{}, false
	}

	ws, err := s.store.GetWorkspace(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, durable.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return types.Workspace{}, types.Member{}, false
	}

	member, err := s.store.GetMember(ws.Id, identity.UserId)
	if err != nil {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return types.Workspace{}, types.Member{}, false
	}

	return ws, member, true
}

func (s *SyncApp) createWorkspace(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, err := s.store.CreateWorkspace(durable.CreateWorkspaceParams{
		Name:    req.Name,
		OwnerId: identity.UserId,
	})
	if err != nil {
		s.log.Println("create workspace:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.AddMember(types.Member{
		WorkspaceId: ws.Id,
		UserId:      identity.UserId,
		DisplayName: identity.DisplayName,
		PhotoURL:    identity.PhotoURL,
		Role:        types.RoleOwner,
	}); err != nil {
		s.log.Println("add owner member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, ws)
}

func (s *SyncApp) getWorkspace(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, _, ok := s.requireMember(w, r, externalId)
	if !ok {
		return
	}

	members, err := s.store.ListMembers(ws.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	files, err := s.store.ListFiles(ws.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, WorkspaceDetail{
		Workspace: ws,
		Members:   members,
		Files:     files,
	})
}

func (s *SyncApp) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, member, ok := s.requireMember(w, r, externalId)
	if !ok {
		return
	}

	if member.Role != types.RoleOwner {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.DeleteWorkspace(ws.Id); err != nil {
		s.log.Println("delete workspace:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SyncApp) addMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkspaceId == "" || req.UserId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Role == "" {
		req.Role = types.RoleContributor
	}
	if req.Role != types.RoleContributor && req.Role != types.RoleViewer {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, member, ok := s.requireMember(w, r, req.WorkspaceId)
	if !ok {
		return
	}

	if member.Role != types.RoleOwner {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newMember := types.Member{
		WorkspaceId: ws.Id,
		UserId:      req.UserId,
		DisplayName: req.DisplayName,
		PhotoURL:    req.PhotoURL,
		Role:        req.Role,
	}
	if err := s.store.AddMember(newMember); err != nil {
		s.log.Println("add member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, newMember)
}

func (s *SyncApp) removeMember(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("workspace_id")
	userId := r.URL.Query().Get("user_id")
	if externalId == "" || userId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, member, ok := s.requireMember(w, r, externalId)
	if !ok {
		return
	}

	// owners manage membership; anyone may remove themselves
	if member.Role != types.RoleOwner && member.UserId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if userId == ws.OwnerId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.RemoveMember(ws.Id, userId); err != nil {
		s.log.Println("remove member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SyncApp) createFile(w http.ResponseWriter, r *http.Request) {
	var req CreateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkspaceId == "" || req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, member, ok := s.requireMember(w, r, req.WorkspaceId)
	if !ok {
		return
	}

	if !member.Role.CanEdit() {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, err := s.store.CreateFile(durable.CreateFileParams{
		WorkspaceId: ws.Id,
		Name:        req.Name,
		CreatedBy:   member.UserId,
	})
	if err != nil {
		s.log.Println("create file:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, file)
}

func (s *SyncApp) listFiles(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("workspace_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, _, ok := s.requireMember(w, r, externalId)
	if !ok {
		return
	}

	files, err := s.store.ListFiles(ws.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, files)
}

// fileAccess loads the file and checks the requester's membership in
// its workspace.
func (s *SyncApp) fileAccess(w http.ResponseWriter, r *http.Request, fileId string) (types.FileSnapshot, types.Member, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return types.FileSnapshot{}, types.Member{}, false
	}

	file, err := s.store.GetFile(fileId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, durable.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return types.FileSnapshot{}, types.Member{}, false
	}

	member, err := s.store.GetMember(file.WorkspaceId, identity.UserId)
	if err != nil {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return types.FileSnapshot{}, types.Member{}, false
	}

	return file, member, true
}

func (s *SyncApp) getFileContent(w http.ResponseWriter, r *http.Request) {
	fileId := r.URL.Query().Get("id")
	if fileId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, _, ok := s.fileAccess(w, r, fileId)
	if !ok {
		return
	}

	s.writeJson(w, http.StatusOK, file)
}

func (s *SyncApp) deleteFile(w http.ResponseWriter, r *http.Request) {
	fileId := r.URL.Query().Get("id")
	if fileId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, member, ok := s.fileAccess(w, r, fileId)
	if !ok {
		return
	}

	if !member.Role.CanEdit() {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.store.DeleteFile(file.Id); err != nil {
		s.log.Println("delete file:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SyncApp) getMessages(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("workspace_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, _, ok := s.requireMember(w, r, externalId)
	if !ok {
		return
	}

	messages, err := s.chat.History(r.Context(), ws.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *SyncApp) clearMessages(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("workspace_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ws, member, ok := s.requireMember(w, r, externalId)
	if !ok {
		return
	}

	if !member.Role.CanEdit() {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.chat.Clear(r.Context(), ws.Id); err != nil {
		s.log.Println("clear messages:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SyncApp) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := gateway.NewClient(identity, conn, s.gw, s.log)
	s.gw.RegisterChan <- client
	go client.Write()
	go client.Read()
}
