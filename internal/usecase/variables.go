// Package usecase holds the application services: agency/agent/skill
// lifecycle, the runtime cache, sandboxed execution, and sessions.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/bonk1t/agent-os/internal/domain"
	"github.com/bonk1t/agent-os/internal/infra/config"
)

// UserVariableManager resolves named configuration variables for one
// user. Stored values are encrypted at rest; a process environment
// variable of the same name serves as the fallback.
type UserVariableManager struct {
	store      domain.VariableStore
	passphrase string
	logger     *slog.Logger
}

// NewUserVariableManager creates a variable manager. passphrase is the
// key material for at-rest encryption of stored values.
func NewUserVariableManager(store domain.VariableStore, passphrase string, logger *slog.Logger) *UserVariableManager {
	return &UserVariableManager{store: store, passphrase: passphrase, logger: logger}
}

// Get resolves key for userID. Precedence: stored encrypted value, then
// process environment, then *domain.UnsetVariableError.
func (m *UserVariableManager) Get(ctx context.Context, userID, key string) (string, error) {
	stored, err := m.store.GetVariable(ctx, userID, key)
	switch {
	case err == nil && stored != "":
		plain, derr := config.DecryptValue(stored, m.passphrase)
		if derr != nil {
			m.logger.Error("stored variable failed to decrypt", "user_id", userID, "key", key, "error", derr)
			return "", derr
		}
		return plain, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return "", domain.WrapOp("variables.get", err)
	}

	if env := os.Getenv(key); env != "" {
		return env, nil
	}
	return "", &domain.UnsetVariableError{Key: key}
}

// Set encrypts and stores a value for userID.
func (m *UserVariableManager) Set(ctx context.Context, userID, key, value string) error {
	sealed, err := config.EncryptValue(value, m.passphrase)
	if err != nil {
		return domain.WrapOp("variables.set", err)
	}
	return domain.WrapOp("variables.set", m.store.SetVariable(ctx, userID, key, sealed))
}

// scopedResolver adapts the manager to domain.VariableResolver for one
// user, so downstream components never see user ids.
type scopedResolver struct {
	m      *UserVariableManager
	userID string
}

// ResolverFor returns a domain.VariableResolver bound to userID.
func (m *UserVariableManager) ResolverFor(userID string) domain.VariableResolver {
	return &scopedResolver{m: m, userID: userID}
}

func (r *scopedResolver) Resolve(ctx context.Context, key string) (string, error) {
	return r.m.Get(ctx, r.userID, key)
}
