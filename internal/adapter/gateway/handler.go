package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/bonk1t/agent-os/internal/domain"
)

// HandleFrame processes one inbound frame and produces the reply. Every
// failure becomes an error frame; the connection itself stays open.
func (s *Server) HandleFrame(ctx context.Context, frame InboundFrame) OutboundFrame {
	if frame.AccessToken == "" {
		return errorFrame(msgTokenMissing)
	}
	user, err := s.verifier.Verify(ctx, frame.AccessToken)
	if err != nil {
		return errorFrame(msgTokenInvalid)
	}

	if frame.Type != FrameTypeUserMessage {
		return errorFrame(msgInvalidType)
	}
	if strings.TrimSpace(frame.Data.Content) == "" {
		return errorFrame(msgEmptyMessage)
	}

	messages, err := s.sessions.PostMessage(ctx, frame.Data.SessionID, user.ID, frame.Data.Content)
	if err != nil {
		s.logger.Error("message turn failed", "session_id", frame.Data.SessionID, "user_id", user.ID, "error", err)
		return errorFrame(frameErrorMessage(err))
	}

	return OutboundFrame{
		Type:    FrameTypeAgentResponse,
		Status:  true,
		Message: msgProcessed,
		Data:    messages,
	}
}

// frameErrorMessage maps a turn failure to the string sent to the
// client. Unset provider credentials surface verbatim so the user knows
// which variable to configure.
func frameErrorMessage(err error) string {
	var unset *domain.UnsetVariableError
	if errors.As(err, &unset) {
		return unset.Error()
	}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrForbidden):
		return msgSessionMissing
	case errors.Is(err, domain.ErrNotFound):
		return "Agency not found"
	default:
		return "Something went wrong"
	}
}
