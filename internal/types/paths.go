package types

import "fmt"

// Ephemeral store key paths. The layout mirrors the workspace tree the
// realtime clients attach to: cursors and voice state live under
// independent subtrees so either can be absent without affecting the
// other, and signaling envelopes are keyed receiver-first so a single
// collection subscription covers all of a user's inbound traffic.

func CursorPath(workspaceId, userId string) string {
	return fmt.Sprintf("workspaces/%s/cursors/%s", workspaceId, userId)
}

func CursorPrefix(workspaceId string) string {
	return fmt.Sprintf("workspaces/%s/cursors/", workspaceId)
}

func VoicePath(workspaceId, userId string) string {
	return fmt.Sprintf("workspaces/%s/voice/participants/%s", workspaceId, userId)
}

func VoicePrefix(workspaceId string) string {
	return fmt.Sprintf("workspaces/%s/voice/participants/", workspaceId)
}

func SignalPath(workspaceId, toUserId, fromUserId, slot string) string {
	return fmt.Sprintf("workspaces/%s/voice/signaling/%s/%s/%s", workspaceId, toUserId, fromUserId, slot)
}

func SignalPrefix(workspaceId, toUserId string) string {
	return fmt.Sprintf("workspaces/%s/voice/signaling/%s/", workspaceId, toUserId)
}
