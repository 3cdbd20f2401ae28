// Package store implements the configuration document store on SQLite.
// Records are stored as JSON documents keyed by id with a secondary
// owner index; an empty owner marks a template record.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/bonk1t/agent-os/internal/domain"
)

// SQLiteStore implements every config store interface on one database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open config db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate config db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agencies (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			doc        TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agencies_user ON agencies(user_id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			doc        TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_user ON agents(user_id)`,
		`CREATE TABLE IF NOT EXISTS skills (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			title      TEXT NOT NULL,
			doc        TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_skills_user ON skills(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_skills_title ON skills(title)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			doc        TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			doc        TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS variables (
			user_id TEXT NOT NULL,
			key     TEXT NOT NULL,
			value   TEXT NOT NULL,
			PRIMARY KEY (user_id, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func newID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (s *SQLiteStore) loadDoc(ctx context.Context, table, id string, sentinel error, out any) error {
	var doc string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", table), id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return domain.NewDomainError("store.load", sentinel, id)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(doc), out)
}

func (s *SQLiteStore) loadDocsByUser(ctx context.Context, table, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT doc FROM %s WHERE user_id = ? ORDER BY updated_at DESC", table), userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) deleteRow(ctx context.Context, table, id string, sentinel error) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("store.delete", sentinel, id)
	}
	return nil
}

// --- AgencyStore ---

func (s *SQLiteStore) LoadAgency(ctx context.Context, id string) (*domain.AgencyConfig, error) {
	var cfg domain.AgencyConfig
	if err := s.loadDoc(ctx, "agencies", id, domain.ErrAgencyNotFound, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) LoadAgenciesByUser(ctx context.Context, userID string) ([]*domain.AgencyConfig, error) {
	docs, err := s.loadDocsByUser(ctx, "agencies", userID)
	if err != nil {
		return nil, err
	}
	cfgs := make([]*domain.AgencyConfig, 0, len(docs))
	for _, doc := range docs {
		var cfg domain.AgencyConfig
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, &cfg)
	}
	return cfgs, nil
}

func (s *SQLiteStore) SaveAgency(ctx context.Context, cfg *domain.AgencyConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = newID(time.Now())
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal agency: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agencies (id, user_id, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, doc = excluded.doc, updated_at = excluded.updated_at`,
		cfg.ID, cfg.UserID, string(doc), cfg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return cfg.ID, err
}

func (s *SQLiteStore) DeleteAgency(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "agencies", id, domain.ErrAgencyNotFound)
}

// --- AgentStore ---

func (s *SQLiteStore) LoadAgent(ctx context.Context, id string) (*domain.AgentFlowSpec, error) {
	var spec domain.AgentFlowSpec
	if err := s.loadDoc(ctx, "agents", id, domain.ErrAgentNotFound, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *SQLiteStore) LoadAgentsByUser(ctx context.Context, userID string) ([]*domain.AgentFlowSpec, error) {
	docs, err := s.loadDocsByUser(ctx, "agents", userID)
	if err != nil {
		return nil, err
	}
	specs := make([]*domain.AgentFlowSpec, 0, len(docs))
	for _, doc := range docs {
		var spec domain.AgentFlowSpec
		if err := json.Unmarshal([]byte(doc), &spec); err != nil {
			return nil, err
		}
		specs = append(specs, &spec)
	}
	return specs, nil
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, spec *domain.AgentFlowSpec) (string, error) {
	if spec.ID == "" {
		spec.ID = newID(time.Now())
	}
	doc, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal agent: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, user_id, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, doc = excluded.doc, updated_at = excluded.updated_at`,
		spec.ID, spec.UserID, string(doc), spec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return spec.ID, err
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "agents", id, domain.ErrAgentNotFound)
}

// --- SkillStore ---

func (s *SQLiteStore) LoadSkill(ctx context.Context, id string) (*domain.SkillConfig, error) {
	var cfg domain.SkillConfig
	if err := s.loadDoc(ctx, "skills", id, domain.ErrSkillNotFound, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) LoadSkillsByUser(ctx context.Context, userID string) ([]*domain.SkillConfig, error) {
	docs, err := s.loadDocsByUser(ctx, "skills", userID)
	if err != nil {
		return nil, err
	}
	cfgs := make([]*domain.SkillConfig, 0, len(docs))
	for _, doc := range docs {
		var cfg domain.SkillConfig
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, &cfg)
	}
	return cfgs, nil
}

func (s *SQLiteStore) LoadSkillsByTitles(ctx context.Context, titles []string) ([]*domain.SkillConfig, error) {
	if len(titles) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(titles)), ",")
	args := make([]any, len(titles))
	for i, t := range titles {
		args[i] = t
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT doc FROM skills WHERE title IN (%s)", placeholders), args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cfgs []*domain.SkillConfig
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var cfg domain.SkillConfig
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, &cfg)
	}
	return cfgs, rows.Err()
}

func (s *SQLiteStore) SaveSkill(ctx context.Context, cfg *domain.SkillConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = newID(time.Now())
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal skill: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO skills (id, user_id, title, doc, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, title = excluded.title, doc = excluded.doc, updated_at = excluded.updated_at`,
		cfg.ID, cfg.UserID, cfg.Title, string(doc), cfg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return cfg.ID, err
}

func (s *SQLiteStore) DeleteSkill(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "skills", id, domain.ErrSkillNotFound)
}

// --- SessionStore ---

func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*domain.SessionConfig, error) {
	var cfg domain.SessionConfig
	if err := s.loadDoc(ctx, "sessions", id, domain.ErrSessionNotFound, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) LoadSessionsByUser(ctx context.Context, userID string) ([]*domain.SessionConfig, error) {
	docs, err := s.loadDocsByUser(ctx, "sessions", userID)
	if err != nil {
		return nil, err
	}
	cfgs := make([]*domain.SessionConfig, 0, len(docs))
	for _, doc := range docs {
		var cfg domain.SessionConfig
		if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, &cfg)
	}
	return cfgs, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, cfg *domain.SessionConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = newID(time.Now())
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, doc, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, doc = excluded.doc, updated_at = excluded.updated_at`,
		cfg.ID, cfg.UserID, string(doc), cfg.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return cfg.ID, err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	return s.deleteRow(ctx, "sessions", id, domain.ErrSessionNotFound)
}

func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, doc = json_set(doc, '$.timestamp', ?) WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("store.TouchSession", domain.ErrSessionNotFound, id)
	}
	return nil
}

// --- MessageStore ---

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = newID(time.Now())
	}
	doc, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, doc, created_at) VALUES (?, ?, ?, ?)",
		msg.ID, msg.SessionID, string(doc), msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM messages WHERE session_id = ? ORDER BY created_at", sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(doc), &msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// --- VariableStore ---

func (s *SQLiteStore) GetVariable(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM variables WHERE user_id = ? AND key = ?", userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", domain.NewDomainError("store.GetVariable", domain.ErrNotFound, key)
	}
	return value, err
}

func (s *SQLiteStore) SetVariable(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO variables (user_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
		userID, key, value,
	)
	return err
}
