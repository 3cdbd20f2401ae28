package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonk1t/agent-os/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgencyCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := &domain.AgencyConfig{
		UserID:    "u1",
		Name:      "Research",
		Agents:    []string{"a1", "a2"},
		MainAgent: "a1",
		Chart:     []domain.ChartLayer{{Name: "eng", Agents: []string{"CEO", "Dev"}}},
		UpdatedAt: time.Now().UTC(),
	}
	id, err := s.SaveAgency(ctx, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, id, "a new record gets a generated id")

	loaded, err := s.LoadAgency(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Research", loaded.Name)
	assert.Equal(t, []string{"a1", "a2"}, loaded.Agents)
	assert.Len(t, loaded.Chart, 1)

	// Upsert under the same id.
	loaded.Name = "Research v2"
	same, err := s.SaveAgency(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, id, same)
	again, _ := s.LoadAgency(ctx, id)
	assert.Equal(t, "Research v2", again.Name)

	require.NoError(t, s.DeleteAgency(ctx, id))
	_, err = s.LoadAgency(ctx, id)
	assert.ErrorIs(t, err, domain.ErrAgencyNotFound)
	assert.ErrorIs(t, s.DeleteAgency(ctx, id), domain.ErrAgencyNotFound)
}

func TestLoadByUserSeparatesTemplates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := s.SaveAgent(ctx, &domain.AgentFlowSpec{UserID: "u1", Name: "Mine", UpdatedAt: now})
	require.NoError(t, err)
	_, err = s.SaveAgent(ctx, &domain.AgentFlowSpec{Name: "Template", UpdatedAt: now})
	require.NoError(t, err)
	_, err = s.SaveAgent(ctx, &domain.AgentFlowSpec{UserID: "u2", Name: "Foreign", UpdatedAt: now})
	require.NoError(t, err)

	mine, err := s.LoadAgentsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Mine", mine[0].Name)

	templates, err := s.LoadAgentsByUser(ctx, "")
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "Template", templates[0].Name)
}

func TestLoadSkillsByTitles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"SearchWeb", "Summarize", "Scrape"} {
		_, err := s.SaveSkill(ctx, &domain.SkillConfig{UserID: "u1", Title: title, Content: "pass"})
		require.NoError(t, err)
	}

	found, err := s.LoadSkillsByTitles(ctx, []string{"SearchWeb", "Scrape", "Missing"})
	require.NoError(t, err)
	require.Len(t, found, 2)

	titles := map[string]bool{}
	for _, cfg := range found {
		titles[cfg.Title] = true
	}
	assert.True(t, titles["SearchWeb"] && titles["Scrape"])

	none, err := s.LoadSkillsByTitles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSessionTouch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Add(-time.Hour)
	id, err := s.SaveSession(ctx, &domain.SessionConfig{
		ID: "sess-1", UserID: "u1", AgencyID: "ag-1", UpdatedAt: created,
	})
	require.NoError(t, err)

	touched := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.TouchSession(ctx, id, touched))

	loaded, err := s.LoadSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, loaded.UpdatedAt.After(created), "touch must bump the stored timestamp")

	err = s.TouchSession(ctx, "ghost", touched)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMessagesOrderedByTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	turns := []struct {
		role, content string
		at            time.Time
	}{
		{"user", "first", base},
		{"agent", "second", base.Add(time.Second)},
		{"user", "third", base.Add(2 * time.Second)},
	}
	for _, turn := range turns {
		require.NoError(t, s.SaveMessage(ctx, &domain.Message{
			SessionID: "sess-1", Role: turn.role, Content: turn.content, Timestamp: turn.at,
		}))
	}
	// Another session's traffic must not bleed in.
	require.NoError(t, s.SaveMessage(ctx, &domain.Message{
		SessionID: "sess-2", Role: "user", Content: "other", Timestamp: base,
	}))

	msgs, err := s.LoadMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, turn := range turns {
		assert.Equal(t, turn.content, msgs[i].Content)
	}
}

func TestVariableUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetVariable(ctx, "u1", "KEY")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.SetVariable(ctx, "u1", "KEY", "v1"))
	require.NoError(t, s.SetVariable(ctx, "u1", "KEY", "v2"))

	got, err := s.GetVariable(ctx, "u1", "KEY")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	// Scoped per user.
	_, err = s.GetVariable(ctx, "u2", "KEY")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGeneratedIDsAreUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for range 10 {
		id, err := s.SaveAgent(ctx, &domain.AgentFlowSpec{UserID: "u1", Name: "Bot"})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestDeleteMissingRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		del  func() error
	}{
		{"agent", domain.ErrAgentNotFound, func() error { return s.DeleteAgent(ctx, "ghost") }},
		{"skill", domain.ErrSkillNotFound, func() error { return s.DeleteSkill(ctx, "ghost") }},
		{"session", domain.ErrSessionNotFound, func() error { return s.DeleteSession(ctx, "ghost") }},
	}
	for _, tc := range tests {
		if err := tc.del(); !errors.Is(err, tc.err) {
			t.Errorf("%s delete err = %v, want %v", tc.name, err, tc.err)
		}
	}
}
