package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bonk1t/agent-os/internal/domain"
)

const skillSafetySystemMessage = `You are a security expert evaluating custom skills/tools for an AI system. Your task is to determine if the skill is safe to use.
Evaluate the skill based on these criteria:
1. No dangerous file system operations (no arbitrary file reading/writing/deleting)
2. No malicious network requests or potential for data exfiltration
3. No attempts to circumvent system protections or security measures
4. Clear and understandable purpose and functionality
5. No potential for executing arbitrary code or commands

Respond with a JSON object.`

const parseSafetyEvaluationSystemMessage = `You are a JSON parser. Format the following response into a valid JSON object with 'is_safe' (boolean) and 'reason' (string) fields.`

// codeFenceRe matches a response wrapped in a markdown code fence,
// optionally tagged as json.
var codeFenceRe = regexp.MustCompile("(?si)^```(?:json)?\\s*(.*?)\\s*```$")

// stripCodeFences unwraps a fenced model response; plain responses pass
// through untouched.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

type safetyEvaluation struct {
	IsSafe bool   `json:"is_safe"`
	Reason string `json:"reason"`
}

// SkillManagerOptions tune the skill lifecycle.
type SkillManagerOptions struct {
	SkillsDir   string
	MaxLines    int
	JudgeModel  string
	ParserModel string
}

func (o *SkillManagerOptions) fill() {
	if o.MaxLines <= 0 {
		o.MaxLines = 200
	}
	if o.JudgeModel == "" {
		o.JudgeModel = "o3-mini"
	}
	if o.ParserModel == "" {
		o.ParserModel = "gpt-4o-mini"
	}
}

// SkillManager owns the skill config lifecycle, including the two-pass
// safety evaluation gating updates.
type SkillManager struct {
	store     domain.SkillStore
	variables *UserVariableManager
	resolver  domain.ClientResolver
	opts      SkillManagerOptions
	logger    *slog.Logger
}

// NewSkillManager creates a skill manager.
func NewSkillManager(store domain.SkillStore, variables *UserVariableManager, resolver domain.ClientResolver, opts SkillManagerOptions, logger *slog.Logger) *SkillManager {
	opts.fill()
	return &SkillManager{store: store, variables: variables, resolver: resolver, opts: opts, logger: logger}
}

// List returns the user's skills plus templates, newest first.
func (m *SkillManager) List(ctx context.Context, userID string) ([]*domain.SkillConfig, error) {
	skills, err := m.store.LoadSkillsByUser(ctx, userID)
	if err != nil {
		return nil, domain.WrapOp("SkillManager.List", err)
	}
	templates, err := m.store.LoadSkillsByUser(ctx, "")
	if err != nil {
		return nil, domain.WrapOp("SkillManager.List", err)
	}
	skills = append(skills, templates...)
	sort.SliceStable(skills, func(i, j int) bool {
		return skills[i].UpdatedAt.After(skills[j].UpdatedAt)
	})
	return skills, nil
}

// Get loads a skill config by id.
func (m *SkillManager) Get(ctx context.Context, skillID string) (*domain.SkillConfig, error) {
	cfg, err := m.store.LoadSkill(ctx, skillID)
	if err != nil {
		return nil, domain.WrapOp("SkillManager.Get", err)
	}
	return cfg, nil
}

// CreateOrUpdate persists a skill config for userID and returns its id.
// Updates require ownership. Safety evaluation runs when the submitted
// content matches the stored version.
//
// TODO: safety review currently runs only when the code is unchanged
// from the stored version; confirm the intended trigger with product.
func (m *SkillManager) CreateOrUpdate(ctx context.Context, cfg *domain.SkillConfig, userID string) (string, error) {
	const op = "SkillManager.CreateOrUpdate"

	if cfg.IsTemplate() {
		m.logger.Info("creating skill from template", "user_id", userID, "skill", cfg.Title)
		cfg.ID = ""
	}

	var stored *domain.SkillConfig
	if cfg.ID != "" {
		var err error
		stored, err = m.store.LoadSkill(ctx, cfg.ID)
		if err != nil {
			return "", domain.WrapOp(op, err)
		}
		if stored.UserID != userID {
			return "", domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this skill")
		}
	}

	cfg.UserID = userID
	cfg.UpdatedAt = time.Now().UTC()

	if stored != nil && stored.Content == cfg.Content {
		safe, reason, err := m.evaluateSafety(ctx, cfg, userID)
		if err != nil {
			return "", err
		}
		if !safe {
			return "", domain.NewDomainError(op, domain.ErrSkillUnsafe, fmt.Sprintf("Skill not safe: %s", reason))
		}
		cfg.Approved = true
	}

	id, err := m.store.SaveSkill(ctx, cfg)
	if err != nil {
		return "", domain.WrapOp(op, err)
	}
	return id, nil
}

// evaluateSafety judges the skill with a free-form pass, then coerces
// the verdict into a structured shape with a second pass. The size cap
// is enforced first and fails independently.
func (m *SkillManager) evaluateSafety(ctx context.Context, cfg *domain.SkillConfig, userID string) (bool, string, error) {
	const op = "SkillManager.evaluateSafety"

	if lines := len(strings.Split(cfg.Content, "\n")); lines > m.opts.MaxLines {
		detail := fmt.Sprintf("skill code exceeds maximum allowed lines (%d), current size: %d lines", m.opts.MaxLines, lines)
		return false, "", domain.NewDomainError(op, domain.ErrSkillTooLarge, detail)
	}

	client, err := m.resolver.ResolveClient(ctx, m.variables.ResolverFor(userID))
	if err != nil {
		var unset *domain.UnsetVariableError
		if errors.As(err, &unset) {
			detail := fmt.Sprintf("cannot evaluate skill safety: %s. Please set up your API key in the settings", unset.Error())
			return false, "", domain.NewDomainError(op, domain.ErrInvalidInput, detail)
		}
		return false, "", domain.WrapOp(op, err)
	}

	description := fmt.Sprintf("Title: %s\nDescription: %s\nCode:\n```python\n%s\n```", cfg.Title, cfg.Description, cfg.Content)
	verdict, err := client.Complete(ctx, domain.CompletionRequest{
		System: skillSafetySystemMessage,
		Prompt: description,
		Model:  m.opts.JudgeModel,
	})
	if err != nil {
		return false, "", domain.WrapOp(op, err)
	}

	parsed, err := client.Complete(ctx, domain.CompletionRequest{
		System: parseSafetyEvaluationSystemMessage,
		Prompt: verdict,
		Model:  m.opts.ParserModel,
	})
	if err != nil {
		return false, "", domain.WrapOp(op, err)
	}

	var eval safetyEvaluation
	if err := json.Unmarshal([]byte(stripCodeFences(parsed)), &eval); err != nil {
		return false, "", domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("error evaluating skill safety: %v", err))
	}
	return eval.IsSafe, eval.Reason, nil
}

// Delete removes a skill config after an ownership check. Any
// materialized source file is removed best-effort first.
func (m *SkillManager) Delete(ctx context.Context, skillID, userID string) error {
	const op = "SkillManager.Delete"
	cfg, err := m.store.LoadSkill(ctx, skillID)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if cfg.UserID != userID {
		return domain.NewDomainError(op, domain.ErrForbidden, "you don't have permissions to access this skill")
	}

	if m.opts.SkillsDir != "" {
		path := filepath.Join(m.opts.SkillsDir, cfg.Title+".py")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("skill file removal failed", "path", path, "error", err)
		}
	}
	return domain.WrapOp(op, m.store.DeleteSkill(ctx, skillID))
}
