package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bonk1t/agent-os/internal/domain"
)

// AgentManager owns the agent lifecycle: listing, construction into
// runtime objects, and the single create-or-update mutation entry point.
type AgentManager struct {
	store      domain.AgentStore
	skillStore domain.SkillStore
	registry   domain.SkillRegistry
	logger     *slog.Logger
}

// NewAgentManager creates an agent manager.
func NewAgentManager(store domain.AgentStore, skillStore domain.SkillStore, registry domain.SkillRegistry, logger *slog.Logger) *AgentManager {
	return &AgentManager{store: store, skillStore: skillStore, registry: registry, logger: logger}
}

// List returns the user's agents plus templates, newest first. With
// ownedOnly set, templates are excluded.
func (m *AgentManager) List(ctx context.Context, userID string, ownedOnly bool) ([]*domain.AgentFlowSpec, error) {
	specs, err := m.store.LoadAgentsByUser(ctx, userID)
	if err != nil {
		return nil, domain.WrapOp("AgentManager.List", err)
	}
	if !ownedOnly {
		templates, err := m.store.LoadAgentsByUser(ctx, "")
		if err != nil {
			return nil, domain.WrapOp("AgentManager.List", err)
		}
		specs = append(specs, templates...)
	}
	sort.SliceStable(specs, func(i, j int) bool {
		return specs[i].UpdatedAt.After(specs[j].UpdatedAt)
	})
	return specs, nil
}

// GetConfig loads an agent spec, enforcing template-or-owner visibility.
func (m *AgentManager) GetConfig(ctx context.Context, agentID, userID string) (*domain.AgentFlowSpec, error) {
	const op = "AgentManager.GetConfig"
	spec, err := m.store.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	if !spec.IsTemplate() && spec.UserID != userID {
		return nil, domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this agent")
	}
	return spec, nil
}

// Get loads a spec and constructs its runtime agent with the given
// transport attached.
func (m *AgentManager) Get(ctx context.Context, agentID string, client domain.ChatClient) (*domain.RuntimeAgent, *domain.AgentFlowSpec, error) {
	spec, err := m.store.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, nil, domain.WrapOp("AgentManager.Get", err)
	}
	agent, err := m.construct(ctx, spec, client)
	if err != nil {
		return nil, nil, err
	}
	return agent, spec, nil
}

// construct resolves the spec's skills through the registry and binds a
// runtime agent. Skill titles were validated at save time, so a registry
// miss here is logged and skipped rather than failing the whole agency.
func (m *AgentManager) construct(ctx context.Context, spec *domain.AgentFlowSpec, client domain.ChatClient) (*domain.RuntimeAgent, error) {
	skills := make([]domain.SkillSchema, 0, len(spec.Skills))
	for _, title := range spec.Skills {
		schema, err := m.registry.Schema(ctx, title)
		if err != nil {
			m.logger.Warn("skill missing at construction time", "agent_id", spec.ID, "skill", title, "error", err)
			continue
		}
		skills = append(skills, schema)
	}
	return domain.NewRuntimeAgent(spec, skills, client), nil
}

// CreateOrUpdate persists an agent spec for userID and returns its id.
// Templates (no owner) always create a fresh record. Updates require
// ownership and keep the stored name; renames are rejected.
func (m *AgentManager) CreateOrUpdate(ctx context.Context, spec *domain.AgentFlowSpec, userID string) (string, error) {
	const op = "AgentManager.CreateOrUpdate"

	if spec.IsTemplate() {
		m.logger.Info("creating agent from template", "user_id", userID, "agent", spec.Name)
		spec.ID = ""
	}

	if spec.ID != "" {
		stored, err := m.store.LoadAgent(ctx, spec.ID)
		if err != nil {
			return "", domain.WrapOp(op, err)
		}
		if stored.UserID != userID {
			return "", domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this agent")
		}
		if spec.Name != stored.Name {
			return "", domain.NewDomainError(op, domain.ErrRenameAttempt, spec.Name)
		}
	}

	spec.UserID = userID
	spec.UpdatedAt = time.Now().UTC()

	if err := m.ValidateSkills(ctx, spec.Skills); err != nil {
		return "", err
	}

	// Agent names are globally unique in the system of record, so the
	// owner's id is folded into the human-readable name.
	suffix := fmt.Sprintf(" (%s)", userID)
	if !strings.HasSuffix(spec.Name, suffix) {
		spec.Name += suffix
	}

	id, err := m.store.SaveAgent(ctx, spec)
	if err != nil {
		return "", domain.WrapOp(op, err)
	}
	return id, nil
}

// Delete removes an agent after an ownership check.
func (m *AgentManager) Delete(ctx context.Context, agentID, userID string) error {
	const op = "AgentManager.Delete"
	spec, err := m.store.LoadAgent(ctx, agentID)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if spec.UserID != userID {
		return domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this agent")
	}
	return domain.WrapOp(op, m.store.DeleteAgent(ctx, agentID))
}

// ValidateSkills checks that every requested skill title has a stored
// config, failing with the exact unsupported subset. Runs before
// construction so unresolved titles never reach the runtime.
func (m *AgentManager) ValidateSkills(ctx context.Context, titles []string) error {
	const op = "AgentManager.ValidateSkills"
	if len(titles) == 0 {
		return nil
	}
	available, err := m.skillStore.LoadSkillsByTitles(ctx, titles)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	found := make(map[string]bool, len(available))
	for _, cfg := range available {
		found[cfg.Title] = true
	}
	var unsupported []string
	seen := map[string]bool{}
	for _, title := range titles {
		if !found[title] && !seen[title] {
			unsupported = append(unsupported, title)
			seen[title] = true
		}
	}
	if len(unsupported) > 0 {
		detail := fmt.Sprintf("some skills are not supported: %s", strings.Join(unsupported, ", "))
		return domain.NewDomainError(op, domain.ErrInvalidInput, detail)
	}
	return nil
}
