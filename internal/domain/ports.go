package domain

import (
	"context"
	"time"
)

// AgencyStore persists agency configuration records.
// LoadByUserID with an empty user id returns template records.
type AgencyStore interface {
	LoadAgency(ctx context.Context, id string) (*AgencyConfig, error)
	LoadAgenciesByUser(ctx context.Context, userID string) ([]*AgencyConfig, error)
	SaveAgency(ctx context.Context, cfg *AgencyConfig) (string, error)
	DeleteAgency(ctx context.Context, id string) error
}

// AgentStore persists agent flow specs.
type AgentStore interface {
	LoadAgent(ctx context.Context, id string) (*AgentFlowSpec, error)
	LoadAgentsByUser(ctx context.Context, userID string) ([]*AgentFlowSpec, error)
	SaveAgent(ctx context.Context, spec *AgentFlowSpec) (string, error)
	DeleteAgent(ctx context.Context, id string) error
}

// SkillStore persists skill configs. Titles are the natural lookup key.
type SkillStore interface {
	LoadSkill(ctx context.Context, id string) (*SkillConfig, error)
	LoadSkillsByUser(ctx context.Context, userID string) ([]*SkillConfig, error)
	LoadSkillsByTitles(ctx context.Context, titles []string) ([]*SkillConfig, error)
	SaveSkill(ctx context.Context, cfg *SkillConfig) (string, error)
	DeleteSkill(ctx context.Context, id string) error
}

// SessionStore persists session records.
type SessionStore interface {
	LoadSession(ctx context.Context, id string) (*SessionConfig, error)
	LoadSessionsByUser(ctx context.Context, userID string) ([]*SessionConfig, error)
	SaveSession(ctx context.Context, cfg *SessionConfig) (string, error)
	DeleteSession(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists conversation turns.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	LoadMessages(ctx context.Context, sessionID string) ([]*Message, error)
}

// VariableStore persists named per-user configuration variables
// (API keys, endpoints). Values are encrypted by the manager layer.
type VariableStore interface {
	GetVariable(ctx context.Context, userID, key string) (string, error)
	SetVariable(ctx context.Context, userID, key, value string) error
}

// VariableResolver resolves a named variable for one user, failing with
// *UnsetVariableError when no value is available.
type VariableResolver interface {
	Resolve(ctx context.Context, key string) (string, error)
}

// SnapshotCache is the external cache holding sanitized agency runtime
// objects. Implementations expire entries after the TTL given to Set.
// Get returns ErrNotFound for missing or expired keys; any backend fault
// is also surfaced as an error and callers treat it as a miss.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*AgencySnapshot, error)
	Set(ctx context.Context, key string, snap *AgencySnapshot, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ExecutionSpec is a unit of work submitted to the remote sandbox.
type ExecutionSpec struct {
	Code string            // skill source body
	Args map[string]any    // parsed call arguments
	Env  map[string]string // secret environment variables
}

// ExecutionResult is what the sandbox captured.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Sandbox is the opaque remote execution capability. One instance is
// provisioned per Run call and torn down unconditionally afterwards.
type Sandbox interface {
	Run(ctx context.Context, spec ExecutionSpec) (*ExecutionResult, error)
}

// SkillRegistry maps skill names to callable definitions. Lookups may
// fall back to the config store and materialize what they find.
type SkillRegistry interface {
	Schema(ctx context.Context, name string) (SkillSchema, error)
	IsRegistered(name string) bool
	Reload(ctx context.Context) error
}

// TokenVerifier validates a bearer credential and produces the caller
// identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*User, error)
}

// ClientResolver produces a credentialed transport for one user.
type ClientResolver interface {
	ResolveClient(ctx context.Context, vars VariableResolver) (ChatClient, error)
}
