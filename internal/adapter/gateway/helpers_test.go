package gateway

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bonk1t/agent-os/internal/adapter/cache"
	"github.com/bonk1t/agent-os/internal/adapter/skill"
	"github.com/bonk1t/agent-os/internal/adapter/store"
	"github.com/bonk1t/agent-os/internal/domain"
	"github.com/bonk1t/agent-os/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChatClient scripts provider responses so gateway tests never make
// network calls.
type fakeChatClient struct {
	reply    string
	threadID string
	err      error
}

func (c *fakeChatClient) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *fakeChatClient) CreateThread(ctx context.Context) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if c.threadID == "" {
		return "thread-1", nil
	}
	return c.threadID, nil
}

type fakeClientResolver struct {
	client domain.ChatClient
	err    error
}

func (r *fakeClientResolver) ResolveClient(ctx context.Context, vars domain.VariableResolver) (domain.ChatClient, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

// testEnv wires a full gateway against a real SQLite store and in-memory
// cache, with only the provider transport faked.
type testEnv struct {
	srv      *Server
	store    *store.SQLiteStore
	client   *fakeChatClient
	resolver *fakeClientResolver
	sessions *usecase.SessionManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := testLogger()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "gateway_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client := &fakeChatClient{reply: "ack"}
	resolver := &fakeClientResolver{client: client}
	registry := skill.NewRegistry(db, filepath.Join(dir, "skills"), log)

	variables := usecase.NewUserVariableManager(db, "test-passphrase", log)
	agents := usecase.NewAgentManager(db, db, registry, log)
	agencies := usecase.NewAgencyManager(db, cache.NewMemoryCache(), agents, variables, resolver, time.Hour, log)
	skills := usecase.NewSkillManager(db, variables, resolver, usecase.SkillManagerOptions{}, log)
	executor := usecase.NewSkillExecutor(registry, db, variables, resolver, fakeGatewaySandbox{}, usecase.ExecutorOptions{}, log)
	sessions := usecase.NewSessionManager(db, db, agencies, log)

	verifier := NewStaticTokenVerifier(map[string]string{
		"token-u1": "u1",
		"token-u2": "u2",
	})
	srv := NewServer(verifier, Managers{
		Agencies:  agencies,
		Agents:    agents,
		Skills:    skills,
		Sessions:  sessions,
		Executor:  executor,
		Variables: variables,
	}, "127.0.0.1:0", log)

	return &testEnv{srv: srv, store: db, client: client, resolver: resolver, sessions: sessions}
}

type fakeGatewaySandbox struct{}

func (fakeGatewaySandbox) Run(ctx context.Context, spec domain.ExecutionSpec) (*domain.ExecutionResult, error) {
	return &domain.ExecutionResult{Stdout: domain.SkillOutputMarker + "done"}, nil
}

// seedAgency creates an owned agent and agency directly in the store and
// returns the agency id.
func (e *testEnv) seedAgency(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()
	agentID, err := e.store.SaveAgent(ctx, &domain.AgentFlowSpec{
		UserID: userID,
		Name:   "Coordinator (" + userID + ")",
		Model:  "gpt-4o",
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	agencyID, err := e.store.SaveAgency(ctx, &domain.AgencyConfig{
		UserID:    userID,
		Name:      "Research",
		Agents:    []string{agentID},
		MainAgent: agentID,
	})
	if err != nil {
		t.Fatalf("seed agency: %v", err)
	}
	return agencyID
}

// seedSession opens a session for the seeded agency and returns its id.
func (e *testEnv) seedSession(t *testing.T, agencyID, userID string) string {
	t.Helper()
	sessions, err := e.sessions.Create(context.Background(), agencyID, userID)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sessions[0].ID
}
