package domain

import "time"

// AgencyConfig is the stored description of a multi-agent conversational
// unit. UserID is empty for template records shared by all users.
type AgencyConfig struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id,omitempty"`
	Name               string       `json:"name"`
	Agents             []string     `json:"agents"`     // member agent ids, ordered
	MainAgent          string       `json:"main_agent"` // must be a member of Agents when set
	Chart              []ChartLayer `json:"agency_chart,omitempty"`
	SharedInstructions string       `json:"shared_instructions,omitempty"`
	UpdatedAt          time.Time    `json:"timestamp"`
}

// ChartLayer is one secondary communication layer of an agency chart.
// A slice of layers keeps the declared order stable across serialization,
// which a name-keyed map would not.
type ChartLayer struct {
	Name   string   `json:"name"`
	Agents []string `json:"agents"` // agent names, ordered
}

// AgentFlowSpec is the stored description of a single agent.
// UserID is empty for template records.
type AgentFlowSpec struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Name         string    `json:"name"` // immutable once the id exists
	Description  string    `json:"description,omitempty"`
	Instructions string    `json:"system_message,omitempty"`
	Model        string    `json:"model"`
	Temperature  float64   `json:"temperature"`
	WorkDir      string    `json:"work_dir,omitempty"`
	Skills       []string  `json:"skills,omitempty"` // skill titles
	UpdatedAt    time.Time `json:"timestamp"`
}

// SkillConfig is a stored, user-authored callable unit.
// Title is the natural key used for registry lookups.
type SkillConfig struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"` // source code body
	Approved    bool      `json:"approved,omitempty"`
	UpdatedAt   time.Time `json:"timestamp"`
}

// SessionConfig binds a conversation thread to an agency and its owner.
// The id equals the id of the underlying main conversation thread.
type SessionConfig struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	UserID    string            `json:"user_id"`
	AgencyID  string            `json:"agency_id"`
	ThreadIDs map[string]string `json:"thread_ids,omitempty"` // logical name -> thread id
	UpdatedAt time.Time         `json:"timestamp"`
}

// Message is one conversation turn within a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "agent"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// User is an authenticated caller identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// IsTemplate reports whether the record has no owning user.
func (c *AgencyConfig) IsTemplate() bool  { return c.UserID == "" }
func (c *AgentFlowSpec) IsTemplate() bool { return c.UserID == "" }
func (c *SkillConfig) IsTemplate() bool   { return c.UserID == "" }
