package api

import (
	"encoding/json"
	"net/http"
)

type AssistCodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type AssistChatRequest struct {
	Message string `json:"message"`
}

type DocumentationResponse struct {
	Documentation string `json:"documentation"`
}

type AssistChatResponse struct {
	AiResponse string `json:"ai_response"`
}

// assistEnabled writes a service-unavailable response when no assistant
// is configured.
func (s *SyncApp) assistEnabled(w http.ResponseWriter) bool {
	if s.assist == nil {
		errResp := NewServiceUnavailableError("assistant not configured")
		s.writeJson(w, errResp.StatusCode, errResp)
		return false
	}
	return true
}

func (s *SyncApp) assistDocumentation(w http.ResponseWriter, r *http.Request) {
	if !s.assistEnabled(w) {
		return
	}

	var req AssistCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	doc, err := s.assist.GenerateDocumentation(r.Context(), req.Code, req.Language)
	if err != nil {
		s.log.Println("generate documentation:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, DocumentationResponse{Documentation: doc})
}

func (s *SyncApp) assistAutoComplete(w http.ResponseWriter, r *http.Request) {
	if !s.assistEnabled(w) {
		return
	}

	var req AssistCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	doc, err := s.assist.AutoComplete(r.Context(), req.Code, req.Language)
	if err != nil {
		s.log.Println("auto complete:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, DocumentationResponse{Documentation: doc})
}

func (s *SyncApp) assistFix(w http.ResponseWriter, r *http.Request) {
	if !s.assistEnabled(w) {
		return
	}

	var req AssistCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the original code comes back untouched when nothing usable was
	// produced, so this never 500s on model failure
	res, err := s.assist.FixCode(r.Context(), req.Code)
	if err != nil {
		s.log.Println("fix code:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, res)
}

func (s *SyncApp) assistChat(w http.ResponseWriter, r *http.Request) {
	if !s.assistEnabled(w) {
		return
	}

	var req AssistChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	reply, err := s.assist.ChatResponse(r.Context(), req.Message)
	if err != nil {
		s.log.Println("assist chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, AssistChatResponse{AiResponse: reply})
}
