package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bonk1t/agent-os/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for every persistence port, so a
// single instance can back all the managers the way the SQLite store
// does in production.
type memStore struct {
	mu        sync.Mutex
	agencies  map[string]*domain.AgencyConfig
	agents    map[string]*domain.AgentFlowSpec
	skills    map[string]*domain.SkillConfig
	sessions  map[string]*domain.SessionConfig
	messages  map[string][]*domain.Message
	variables map[string]string // userID/key -> value
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{
		agencies:  map[string]*domain.AgencyConfig{},
		agents:    map[string]*domain.AgentFlowSpec{},
		skills:    map[string]*domain.SkillConfig{},
		sessions:  map[string]*domain.SessionConfig{},
		messages:  map[string][]*domain.Message{},
		variables: map[string]string{},
	}
}

func (s *memStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *memStore) LoadAgency(ctx context.Context, id string) (*domain.AgencyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.agencies[id]
	if !ok {
		return nil, domain.ErrAgencyNotFound
	}
	c := *cfg
	return &c, nil
}

func (s *memStore) LoadAgenciesByUser(ctx context.Context, userID string) ([]*domain.AgencyConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AgencyConfig
	for _, cfg := range s.agencies {
		if cfg.UserID == userID {
			c := *cfg
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) SaveAgency(ctx context.Context, cfg *domain.AgencyConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = s.id("agency")
	}
	c := *cfg
	s.agencies[cfg.ID] = &c
	return cfg.ID, nil
}

func (s *memStore) DeleteAgency(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agencies[id]; !ok {
		return domain.ErrAgencyNotFound
	}
	delete(s.agencies, id)
	return nil
}

func (s *memStore) LoadAgent(ctx context.Context, id string) (*domain.AgentFlowSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	c := *spec
	return &c, nil
}

func (s *memStore) LoadAgentsByUser(ctx context.Context, userID string) ([]*domain.AgentFlowSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AgentFlowSpec
	for _, spec := range s.agents {
		if spec.UserID == userID {
			c := *spec
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) SaveAgent(ctx context.Context, spec *domain.AgentFlowSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.ID == "" {
		spec.ID = s.id("agent")
	}
	c := *spec
	s.agents[spec.ID] = &c
	return spec.ID, nil
}

func (s *memStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return domain.ErrAgentNotFound
	}
	delete(s.agents, id)
	return nil
}

func (s *memStore) LoadSkill(ctx context.Context, id string) (*domain.SkillConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.skills[id]
	if !ok {
		return nil, domain.ErrSkillNotFound
	}
	c := *cfg
	return &c, nil
}

func (s *memStore) LoadSkillsByUser(ctx context.Context, userID string) ([]*domain.SkillConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SkillConfig
	for _, cfg := range s.skills {
		if cfg.UserID == userID {
			c := *cfg
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) LoadSkillsByTitles(ctx context.Context, titles []string) ([]*domain.SkillConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SkillConfig
	for _, title := range titles {
		for _, cfg := range s.skills {
			if cfg.Title == title {
				c := *cfg
				out = append(out, &c)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) SaveSkill(ctx context.Context, cfg *domain.SkillConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = s.id("skill")
	}
	c := *cfg
	s.skills[cfg.ID] = &c
	return cfg.ID, nil
}

func (s *memStore) DeleteSkill(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skills[id]; !ok {
		return domain.ErrSkillNotFound
	}
	delete(s.skills, id)
	return nil
}

func (s *memStore) LoadSession(ctx context.Context, id string) (*domain.SessionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	c := *cfg
	return &c, nil
}

func (s *memStore) LoadSessionsByUser(ctx context.Context, userID string) ([]*domain.SessionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SessionConfig
	for _, cfg := range s.sessions {
		if cfg.UserID == userID {
			c := *cfg
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) SaveSession(ctx context.Context, cfg *domain.SessionConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = s.id("session")
	}
	c := *cfg
	s.sessions[cfg.ID] = &c
	return cfg.ID, nil
}

func (s *memStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *memStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	cfg.UpdatedAt = at
	return nil
}

func (s *memStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *msg
	if m.ID == "" {
		m.ID = s.id("msg")
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], &m)
	return nil
}

func (s *memStore) LoadMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Message(nil), s.messages[sessionID]...), nil
}

func (s *memStore) GetVariable(ctx context.Context, userID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variables[userID+"/"+key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (s *memStore) SetVariable(ctx context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[userID+"/"+key] = value
	return nil
}

// fakeCache records cache traffic and can be forced to fault on Get or
// Set.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*domain.AgencySnapshot
	getErr  error
	setErr  error
	gets    int
	sets    int
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]*domain.AgencySnapshot{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) (*domain.AgencySnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	snap, ok := c.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, snap *domain.AgencySnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = snap
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, key)
	delete(c.entries, key)
	return nil
}

// fakeClient scripts completion and thread-creation responses.
type fakeClient struct {
	completeFn func(ctx context.Context, req domain.CompletionRequest) (string, error)
	threadFn   func(ctx context.Context) (string, error)
	requests   []domain.CompletionRequest
	mu         sync.Mutex
}

func (c *fakeClient) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.completeFn != nil {
		return c.completeFn(ctx, req)
	}
	return "", nil
}

func (c *fakeClient) CreateThread(ctx context.Context) (string, error) {
	if c.threadFn != nil {
		return c.threadFn(ctx)
	}
	return "thread-1", nil
}

// fakeResolver hands out a scripted client, or fails resolution.
type fakeResolver struct {
	client   domain.ChatClient
	err      error
	resolves int
	mu       sync.Mutex
}

func (r *fakeResolver) ResolveClient(ctx context.Context, vars domain.VariableResolver) (domain.ChatClient, error) {
	r.mu.Lock()
	r.resolves++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.client, nil
}

// fakeSandbox scripts execution results.
type fakeSandbox struct {
	runFn func(ctx context.Context, spec domain.ExecutionSpec) (*domain.ExecutionResult, error)
	specs []domain.ExecutionSpec
	mu    sync.Mutex
}

func (s *fakeSandbox) Run(ctx context.Context, spec domain.ExecutionSpec) (*domain.ExecutionResult, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	s.mu.Unlock()
	if s.runFn != nil {
		return s.runFn(ctx, spec)
	}
	return &domain.ExecutionResult{}, nil
}

// fakeRegistry serves schemas from a fixed map.
type fakeRegistry struct {
	schemas map[string]domain.SkillSchema
}

func (r *fakeRegistry) Schema(ctx context.Context, name string) (domain.SkillSchema, error) {
	schema, ok := r.schemas[name]
	if !ok {
		return domain.SkillSchema{}, domain.NewDomainError("registry.get", domain.ErrSkillNotFound, name)
	}
	return schema, nil
}

func (r *fakeRegistry) IsRegistered(name string) bool {
	_, ok := r.schemas[name]
	return ok
}

func (r *fakeRegistry) Reload(ctx context.Context) error { return nil }
