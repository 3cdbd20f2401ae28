// Package gateway exposes the HTTP and WebSocket surface: config CRUD,
// skill execution, and the bidirectional conversation channel.
package gateway

import "github.com/bonk1t/agent-os/internal/domain"

// Frame types exchanged over the conversation channel.
const (
	FrameTypeUserMessage   = "user_message"
	FrameTypeAgentResponse = "agent_response"
)

// Gateway reply strings. These are part of the client surface; keep
// them stable.
const (
	msgTokenMissing   = "Access token not provided"
	msgTokenInvalid   = "Invalid access token"
	msgInvalidType    = "Invalid message type"
	msgEmptyMessage   = "Message not provided"
	msgSessionMissing = "Session not found"
	msgProcessed      = "Message processed successfully"
)

// UserMessagePayload is the body of an inbound user_message frame.
type UserMessagePayload struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// InboundFrame is a client-to-server frame. The bearer credential rides
// on every frame, not just the connection handshake.
type InboundFrame struct {
	Type        string             `json:"type"`
	AccessToken string             `json:"access_token,omitempty"`
	Data        UserMessagePayload `json:"data"`
}

// OutboundFrame is a server-to-client frame. Error replies carry
// status=false and a reason; successful turns carry the session's
// updated message list.
type OutboundFrame struct {
	Type    string            `json:"type"`
	Status  bool              `json:"status"`
	Message string            `json:"message"`
	Data    []*domain.Message `json:"data,omitempty"`
}

func errorFrame(message string) OutboundFrame {
	return OutboundFrame{Type: FrameTypeAgentResponse, Status: false, Message: message}
}
