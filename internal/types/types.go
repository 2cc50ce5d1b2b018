package types

import (
	"time"
)

// Identity is the authenticated user for the current session, supplied
// by the identity provider. The engine never mutates it.
type Identity struct {
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// PeerPresence is one user's live cursor state within a workspace.
// Written only by the owning client, merged into a peer map by everyone
// else. Readers treat an entry as expired when UpdatedAt is older than
// the staleness threshold, since delete-on-disconnect is best effort.
type PeerPresence struct {
	UserId      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VoiceParticipant is the audio-state counterpart of PeerPresence,
// published on an independent path so the two can fail independently.
type VoiceParticipant struct {
	UserId      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsMuted     bool      `json:"is_muted"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "iceCandidate"
)

// SignalingEnvelope is a directed connection-negotiation message between
// exactly two peers. Written once by the sender and removed by the
// receiver once consumed.
type SignalingEnvelope struct {
	Id         string     `json:"id"`
	FromUserId string     `json:"from_user_id"`
	ToUserId   string     `json:"to_user_id"`
	Kind       SignalKind `json:"kind"`
	Payload    []byte     `json:"payload"`
	Timestamp  time.Time  `json:"timestamp"`
}

type FileSnapshot struct {
	Id          string    `json:"id"`
	WorkspaceId string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Role string

const (
	RoleOwner       Role = "owner"
	RoleContributor Role = "contributor"
	RoleViewer      Role = "viewer"
)

// CanEdit reports whether the role permits file mutation.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleContributor
}

type Member struct {
	UserId      string    `json:"user_id"`
	WorkspaceId string    `json:"workspace_id"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type Workspace struct {
	Id         string    `json:"id"`
	ExternalId string    `json:"external_id"`
	Name       string    `json:"name"`
	OwnerId    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// BotUserId is the pseudo-user that authors AI replies in chat.
const BotUserId = "AI_BOT"

type Message struct {
	Id          string    `json:"id"`
	WorkspaceId string    `json:"workspace_id"`
	UserId      string    `json:"user_id"`
	Name        string    `json:"name"`
	ImageURL    string    `json:"image_url,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}
