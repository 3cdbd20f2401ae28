package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/bonk1t/agent-os/internal/domain"
	"github.com/bonk1t/agent-os/internal/infra/tracer"
)

// AgencyManager owns get-or-build-or-refresh semantics for runtime
// agencies. Cached snapshots never carry transport handles; a fresh
// client scoped to the calling user is attached on every retrieval.
//
// Two concurrent misses for the same key may both rebuild and both
// write. Rebuilds are idempotent and last writer wins, so the race
// wastes work without corrupting state.
type AgencyManager struct {
	store     domain.AgencyStore
	cache     domain.SnapshotCache
	agents    *AgentManager
	variables *UserVariableManager
	resolver  domain.ClientResolver
	ttl       time.Duration
	logger    *slog.Logger
}

// NewAgencyManager creates an agency manager. ttl bounds how long cached
// snapshots stay valid.
func NewAgencyManager(
	store domain.AgencyStore,
	cache domain.SnapshotCache,
	agents *AgentManager,
	variables *UserVariableManager,
	resolver domain.ClientResolver,
	ttl time.Duration,
	logger *slog.Logger,
) *AgencyManager {
	return &AgencyManager{
		store:     store,
		cache:     cache,
		agents:    agents,
		variables: variables,
		resolver:  resolver,
		ttl:       ttl,
		logger:    logger,
	}
}

// CacheKey composes the cache key for an agency, optionally scoped to a
// session.
func CacheKey(agencyID, sessionID string) string {
	if sessionID != "" {
		return agencyID + "/" + sessionID
	}
	return agencyID
}

// List returns the user's agencies plus templates, newest first.
func (m *AgencyManager) List(ctx context.Context, userID string) ([]*domain.AgencyConfig, error) {
	configs, err := m.store.LoadAgenciesByUser(ctx, userID)
	if err != nil {
		return nil, domain.WrapOp("AgencyManager.List", err)
	}
	templates, err := m.store.LoadAgenciesByUser(ctx, "")
	if err != nil {
		return nil, domain.WrapOp("AgencyManager.List", err)
	}
	configs = append(configs, templates...)
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].UpdatedAt.After(configs[j].UpdatedAt)
	})
	return configs, nil
}

// GetConfig loads an agency config, enforcing template-or-owner
// visibility.
func (m *AgencyManager) GetConfig(ctx context.Context, agencyID, userID string) (*domain.AgencyConfig, error) {
	const op = "AgencyManager.GetConfig"
	cfg, err := m.store.LoadAgency(ctx, agencyID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if !cfg.IsTemplate() && cfg.UserID != userID {
		return nil, domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this agency")
	}
	return cfg, nil
}

// GetAgency resolves the runtime agency for (agencyID, sessionID). A
// cache fault counts as a miss; a miss rebuilds from the config store
// and writes through. The returned object is a fresh copy with the
// caller's transport attached, never shared with other requests.
func (m *AgencyManager) GetAgency(ctx context.Context, agencyID, sessionID, userID string) (*domain.RuntimeAgency, error) {
	const op = "AgencyManager.GetAgency"
	ctx, span := tracer.StartSpan(ctx, "agency.get",
		trace.WithAttributes(tracer.StringAttr("agency.id", agencyID)),
	)
	defer span.End()

	key := CacheKey(agencyID, sessionID)
	snap, err := m.cache.Get(ctx, key)
	if err != nil {
		snap, err = m.Repopulate(ctx, agencyID, sessionID)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp(op, err)
		}
	}

	client, err := m.resolver.ResolveClient(ctx, m.variables.ResolverFor(userID))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}
	tracer.SetOK(span)
	return snap.Restore(client), nil
}

// Repopulate rebuilds the snapshot for (agencyID, sessionID) from the
// config store and writes it through the cache.
func (m *AgencyManager) Repopulate(ctx context.Context, agencyID, sessionID string) (*domain.AgencySnapshot, error) {
	cfg, err := m.store.LoadAgency(ctx, agencyID)
	if err != nil {
		return nil, err
	}

	agentsByName, ordered, err := m.loadAndConstructAgents(ctx, cfg)
	if err != nil {
		return nil, err
	}

	agency := ConstructAgency(cfg, agentsByName, ordered)
	return m.CacheAgency(ctx, agency, agencyID, sessionID)
}

// loadAndConstructAgents builds the agency's member agents in declared
// order. A missing member is logged and skipped so one deleted agent
// does not take the whole agency down.
func (m *AgencyManager) loadAndConstructAgents(ctx context.Context, cfg *domain.AgencyConfig) (map[string]*domain.RuntimeAgent, []*domain.RuntimeAgent, error) {
	byName := make(map[string]*domain.RuntimeAgent, len(cfg.Agents))
	ordered := make([]*domain.RuntimeAgent, 0, len(cfg.Agents))
	for _, agentID := range cfg.Agents {
		agent, _, err := m.agents.Get(ctx, agentID, nil)
		if err != nil {
			m.logger.Error("agency member missing", "agency_id", cfg.ID, "agent_id", agentID, "error", err)
			continue
		}
		byName[agent.Name] = agent
		ordered = append(ordered, agent)
	}
	return byName, ordered, nil
}

// ConstructAgency is a pure function from a config and resolved agents
// to a runtime agency. The main agent leads the topology; secondary
// layers follow in declared order. No main agent, or no members, means
// an empty topology.
func ConstructAgency(cfg *domain.AgencyConfig, agentsByName map[string]*domain.RuntimeAgent, ordered []*domain.RuntimeAgent) *domain.RuntimeAgency {
	agency := &domain.RuntimeAgency{
		Name:               cfg.Name,
		SharedInstructions: cfg.SharedInstructions,
		Agents:             ordered,
	}

	// MainAgent references a member id; chart layers reference names.
	var ceo *domain.RuntimeAgent
	if cfg.MainAgent != "" {
		for _, agent := range ordered {
			if agent.ID == cfg.MainAgent {
				ceo = agent
				break
			}
		}
	}
	if ceo != nil {
		agency.CEO = ceo
		agency.MainRecipients = []*domain.RuntimeAgent{ceo}
		for _, layer := range cfg.Chart {
			runtime := make([]*domain.RuntimeAgent, 0, len(layer.Agents))
			for _, name := range layer.Agents {
				if agent, ok := agentsByName[name]; ok {
					runtime = append(runtime, agent)
				}
			}
			agency.Chart = append(agency.Chart, runtime)
		}
	}
	agency.MainThread = domain.NewThread("", ceo, nil)
	return agency
}

// CacheAgency snapshots the agency and stores it under the composed key.
func (m *AgencyManager) CacheAgency(ctx context.Context, agency *domain.RuntimeAgency, agencyID, sessionID string) (*domain.AgencySnapshot, error) {
	key := CacheKey(agencyID, sessionID)
	snap := agency.Snapshot()
	if err := m.cache.Set(ctx, key, snap, m.ttl); err != nil {
		return nil, domain.WrapOp("AgencyManager.CacheAgency", err)
	}
	return snap, nil
}

// CreateOrUpdate persists an agency config for userID and refreshes its
// sessionless cache entry. Session-scoped entries are left to expire.
func (m *AgencyManager) CreateOrUpdate(ctx context.Context, cfg *domain.AgencyConfig, userID string) (string, error) {
	const op = "AgencyManager.CreateOrUpdate"

	if cfg.IsTemplate() {
		m.logger.Info("creating agency from template", "user_id", userID, "agency", cfg.Name)
		cfg.ID = ""
	}

	if cfg.ID != "" {
		stored, err := m.store.LoadAgency(ctx, cfg.ID)
		if err != nil {
			return "", domain.WrapOp(op, err)
		}
		if stored.UserID != userID {
			return "", domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this agency")
		}
	}

	if err := m.validateMembers(ctx, cfg, userID); err != nil {
		return "", err
	}

	cfg.UserID = userID
	cfg.UpdatedAt = time.Now().UTC()

	id, err := m.store.SaveAgency(ctx, cfg)
	if err != nil {
		return "", domain.WrapOp(op, err)
	}
	if _, err := m.Repopulate(ctx, id, ""); err != nil {
		m.logger.Error("cache refresh after save failed", "agency_id", id, "error", err)
		// A pre-update snapshot must not outlive a failed refresh.
		if err := m.cache.Delete(ctx, CacheKey(id, "")); err != nil {
			return "", domain.WrapOp(op, err)
		}
	}
	return id, nil
}

// validateMembers checks agent ownership, main-agent membership, and
// that every chart reference names a member agent.
func (m *AgencyManager) validateMembers(ctx context.Context, cfg *domain.AgencyConfig, userID string) error {
	const op = "AgencyManager.CreateOrUpdate"

	members := make(map[string]bool, len(cfg.Agents))
	names := make(map[string]bool, len(cfg.Agents))
	for _, agentID := range cfg.Agents {
		spec, err := m.agents.store.LoadAgent(ctx, agentID)
		if err != nil {
			return domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("agent not found: %s", agentID))
		}
		if spec.UserID != userID {
			return domain.NewDomainError(op, domain.ErrForbidden, fmt.Sprintf("you don't have permissions to use agent %s", agentID))
		}
		members[agentID] = true
		names[spec.Name] = true
	}

	if cfg.MainAgent != "" && !members[cfg.MainAgent] {
		return domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("main agent %s is not a member of the agency", cfg.MainAgent))
	}
	for _, layer := range cfg.Chart {
		for _, name := range layer.Agents {
			if !names[name] {
				return domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("chart layer %s references unknown agent %s", layer.Name, name))
			}
		}
	}
	return nil
}

// Delete removes an agency config and purges its sessionless cache
// entry. Session-scoped entries expire on their own.
func (m *AgencyManager) Delete(ctx context.Context, agencyID, userID string) error {
	const op = "AgencyManager.Delete"
	stored, err := m.store.LoadAgency(ctx, agencyID)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if stored.UserID != userID {
		return domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this agency")
	}
	if err := m.store.DeleteAgency(ctx, agencyID); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := m.cache.Delete(ctx, CacheKey(agencyID, "")); err != nil {
		m.logger.Warn("cache purge failed", "agency_id", agencyID, "error", err)
	}
	return nil
}
