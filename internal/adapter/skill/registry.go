// Package skill maintains the name-to-definition registry backing
// runtime construction and sandboxed execution.
package skill

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bonk1t/agent-os/internal/domain"
)

// Entry is one registered skill definition.
type Entry struct {
	Schema  domain.SkillSchema
	Builtin bool
	Path    string // materialized source file, empty for builtins
}

// Registry maps skill names to definitions. Lookups read an immutable
// snapshot; every mutation builds a new map and swaps the pointer, so a
// concurrent Reload never exposes a partially populated map.
type Registry struct {
	store  domain.SkillStore
	dir    string
	logger *slog.Logger

	mu   sync.Mutex // serializes snapshot writers
	snap atomic.Pointer[map[string]Entry]
}

// NewRegistry creates a registry seeded with the built-in skills. dir is
// where store-backed skill source gets materialized.
func NewRegistry(store domain.SkillStore, dir string, logger *slog.Logger) *Registry {
	r := &Registry{store: store, dir: dir, logger: logger}
	seed := builtins()
	r.snap.Store(&seed)
	return r
}

func builtins() map[string]Entry {
	entries := map[string]Entry{}
	for name, desc := range map[string]string{
		"CodeInterpreter": "Executes Python code in an isolated interpreter and returns its output.",
		"Retrieval":       "Searches attached documents and returns the most relevant passages.",
	} {
		params, _ := json.Marshal(map[string]any{
			"type":       "object",
			"properties": map[string]any{"input": map[string]string{"type": "string"}},
			"required":   []string{"input"},
		})
		entries[name] = Entry{
			Schema:  domain.SkillSchema{Name: name, Description: desc, Parameters: params},
			Builtin: true,
		}
	}
	return entries
}

// Get resolves a skill by name. On a snapshot miss it falls back to the
// config store by title, materializing a found record before answering.
func (r *Registry) Get(ctx context.Context, name string) (Entry, error) {
	if e, ok := (*r.snap.Load())[name]; ok {
		return e, nil
	}

	configs, err := r.store.LoadSkillsByTitles(ctx, []string{name})
	if err != nil {
		return Entry{}, domain.WrapOp("registry.get", err)
	}
	if len(configs) == 0 {
		return Entry{}, domain.NewDomainError("registry.get", domain.ErrSkillNotFound, name)
	}

	e, err := r.materialize(configs[0])
	if err != nil {
		return Entry{}, err
	}
	r.Register(name, e)
	return e, nil
}

// materialize writes the skill source into the skills dir and builds its
// registry entry.
func (r *Registry) materialize(cfg *domain.SkillConfig) (Entry, error) {
	schema, err := domain.ExtractSchema(cfg.Title, cfg.Description, cfg.Content)
	if err != nil {
		return Entry{}, domain.WrapOp("registry.materialize", err)
	}

	path := filepath.Join(r.dir, cfg.Title+".py")
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Entry{}, domain.WrapOp("registry.materialize", err)
	}
	if err := os.WriteFile(path, []byte(cfg.Content), 0o600); err != nil {
		return Entry{}, domain.WrapOp("registry.materialize", err)
	}
	return Entry{Schema: schema, Path: path}, nil
}

// Schema implements domain.SkillRegistry.
func (r *Registry) Schema(ctx context.Context, name string) (domain.SkillSchema, error) {
	e, err := r.Get(ctx, name)
	if err != nil {
		return domain.SkillSchema{}, err
	}
	return e.Schema, nil
}

// Register adds or replaces an entry under name.
func (r *Registry) Register(name string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.snap.Load()
	next := make(map[string]Entry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[name] = e
	r.snap.Store(&next)
}

// IsRegistered reports whether name is present in the current snapshot.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := (*r.snap.Load())[name]
	return ok
}

// Reload rebuilds the snapshot from the builtins plus a full scan of the
// skills dir. Readers keep serving the previous snapshot until the swap.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := builtins()
	paths, err := filepath.Glob(filepath.Join(r.dir, "*.py"))
	if err != nil {
		return domain.WrapOp("registry.reload", err)
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable skill file", "path", path, "error", err)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(path), ".py")
		schema, err := domain.ExtractSchema(name, "", string(raw))
		if err != nil {
			r.logger.Warn("skipping skill with unparseable schema", "path", path, "error", err)
			continue
		}
		next[name] = Entry{Schema: schema, Path: path}
	}

	r.snap.Store(&next)
	r.logger.Info("skill registry reloaded", "entries", len(next))
	return nil
}

// Names lists the currently registered skill names.
func (r *Registry) Names() []string {
	snap := *r.snap.Load()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	return names
}
