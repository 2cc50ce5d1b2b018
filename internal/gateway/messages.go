package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/codecollab-dev/syncengine/internal/types"
	"github.com/codecollab-dev/syncengine/internal/workspace"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for everything a connected editor sends.
// Exactly one of the pointer fields is set.
type ClientMessage struct {
	BaseMessage
	Join      *Join         `json:"join,omitempty"`
	Leave     *Leave        `json:"leave,omitempty"`
	Cursor    *CursorUpdate `json:"cursor,omitempty"`
	Voice     *VoiceUpdate  `json:"voice,omitempty"`
	Signal    *Signal       `json:"signal,omitempty"`
	OpenFile  *OpenFile     `json:"open_file,omitempty"`
	CloseFile *CloseFile    `json:"close_file,omitempty"`
	Edit      *Edit         `json:"edit,omitempty"`
	Chat      *ChatSend     `json:"chat,omitempty"`

	client *Client `json:"-"`
}

type Join struct {
	WorkspaceId string `json:"workspace_id"`
}

type Leave struct{}

type CursorUpdate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VoiceUpdate carries a voice-state action: "mute" or "unmute".
type VoiceUpdate struct {
	Action string `json:"action"`
}

type Signal struct {
	To      string           `json:"to"`
	Kind    types.SignalKind `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

type OpenFile struct {
	FileId string `json:"file_id"`
}

type CloseFile struct {
	FileId string `json:"file_id"`
}

type Edit struct {
	FileId  string `json:"file_id"`
	Content string `json:"content"`
}

type ChatSend struct {
	Text string `json:"text"`
}

// ServerMessage is the envelope for everything pushed to a connected
// editor.
type ServerMessage struct {
	BaseMessage
	Response     *Response                         `json:"response,omitempty"`
	Cursors      map[string]types.PeerPresence     `json:"cursors,omitempty"`
	Participants map[string]types.VoiceParticipant `json:"participants,omitempty"`
	PeerJoined   *workspace.Peer                   `json:"peer_joined,omitempty"`
	PeerLeft     *workspace.Peer                   `json:"peer_left,omitempty"`
	Signal       *SignalEvent                      `json:"signal,omitempty"`
	Negotiate    *Negotiate                        `json:"negotiate,omitempty"`
	File         *FileEvent                        `json:"file,omitempty"`
	Chat         *types.Message                    `json:"chat,omitempty"`
}

type SignalEvent struct {
	From    string           `json:"from"`
	Kind    types.SignalKind `json:"kind"`
	Payload json.RawMessage  `json:"payload"`
}

// Negotiate asks the client-side media layer to start negotiation with
// a newly present peer.
type Negotiate struct {
	PeerId string `json:"peer_id"`
}

// FileEvent is a remote change to an open file.
type FileEvent struct {
	FileId  string `json:"file_id"`
	Content string `json:"content"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrNotFound(id int, what string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        what + " not found",
		},
	}
}

func ErrForbidden(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "forbidden",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
