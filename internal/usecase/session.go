package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/bonk1t/agent-os/internal/domain"
)

// SessionManager binds conversation sessions to agencies and executes
// message turns. A session's id equals the id of its main conversation
// thread.
type SessionManager struct {
	sessions domain.SessionStore
	messages domain.MessageStore
	agencies *AgencyManager
	logger   *slog.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(sessions domain.SessionStore, messages domain.MessageStore, agencies *AgencyManager, logger *slog.Logger) *SessionManager {
	return &SessionManager{sessions: sessions, messages: messages, agencies: agencies, logger: logger}
}

// List returns the user's sessions, newest first.
func (m *SessionManager) List(ctx context.Context, userID string) ([]*domain.SessionConfig, error) {
	configs, err := m.sessions.LoadSessionsByUser(ctx, userID)
	if err != nil {
		return nil, domain.WrapOp("SessionManager.List", err)
	}
	return configs, nil
}

// Create opens a session for an agency the user owns: resolve the
// runtime agency, provision its main thread, persist the session record,
// and cache the agency under the session-scoped key. Returns the updated
// session list.
func (m *SessionManager) Create(ctx context.Context, agencyID, userID string) ([]*domain.SessionConfig, error) {
	const op = "SessionManager.Create"

	cfg, err := m.agencies.store.LoadAgency(ctx, agencyID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if cfg.UserID != userID {
		return nil, domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this agency")
	}

	agency, err := m.agencies.GetAgency(ctx, agencyID, "", userID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	threadID, err := agency.EnsureThread(ctx)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	session := &domain.SessionConfig{
		ID:        threadID,
		Name:      cfg.Name,
		UserID:    userID,
		AgencyID:  agencyID,
		ThreadIDs: map[string]string{"main": threadID},
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := m.sessions.SaveSession(ctx, session); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	if _, err := m.agencies.CacheAgency(ctx, agency, agencyID, threadID); err != nil {
		return nil, err
	}

	m.logger.Info("session created", "session_id", threadID, "agency_id", agencyID, "user_id", userID)
	return m.List(ctx, userID)
}

// Delete removes a session after an ownership check.
func (m *SessionManager) Delete(ctx context.Context, sessionID, userID string) error {
	const op = "SessionManager.Delete"
	session, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if session.UserID != userID {
		return domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this session")
	}
	return domain.WrapOp(op, m.sessions.DeleteSession(ctx, sessionID))
}

// Messages returns the full message list for a session the user owns.
func (m *SessionManager) Messages(ctx context.Context, sessionID, userID string) ([]*domain.Message, error) {
	const op = "SessionManager.Messages"
	session, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if session.UserID != userID {
		return nil, domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this session")
	}
	msgs, err := m.messages.LoadMessages(ctx, sessionID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	return msgs, nil
}

// PostMessage executes one conversation turn: persist the user message,
// run the agency completion, persist the reply, and return the session's
// full message list.
func (m *SessionManager) PostMessage(ctx context.Context, sessionID, userID, content string) ([]*domain.Message, error) {
	const op = "SessionManager.PostMessage"

	session, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if session.UserID != userID {
		return nil, domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this session")
	}

	agency, err := m.agencies.GetAgency(ctx, session.AgencyID, sessionID, userID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	now := time.Now().UTC()
	if err := m.messages.SaveMessage(ctx, &domain.Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
		Timestamp: now,
	}); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	reply, err := agency.GetCompletion(ctx, content)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if err := m.messages.SaveMessage(ctx, &domain.Message{
		SessionID: sessionID,
		Role:      "agent",
		Content:   reply,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, domain.WrapOp(op, err)
	}

	if err := m.sessions.TouchSession(ctx, sessionID, time.Now().UTC()); err != nil {
		m.logger.Warn("session touch failed", "session_id", sessionID, "error", err)
	}

	msgs, err := m.messages.LoadMessages(ctx, sessionID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	return msgs, nil
}
