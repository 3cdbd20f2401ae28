package domain

import (
	"context"
	"encoding/json"
)

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	Model       string
	Temperature float64
}

// Completer produces a chat completion. Implementations carry their own
// timeout and retry policy.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ChatClient is the credentialed transport a runtime object needs for
// outbound provider calls. It is injected at construction time and never
// serialized; a fresh client scoped to the calling user is attached on
// every retrieval from the cache.
type ChatClient interface {
	Completer
	// CreateThread provisions a new conversation thread and returns its id.
	CreateThread(ctx context.Context) (string, error)
}

// SkillSchema describes a skill's callable surface for the LLM
// function-calling protocol.
type SkillSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// RuntimeAgent is the live, in-memory reconstruction of an AgentFlowSpec,
// bound to a credentialed transport. It is transient and reconstructable;
// the config store remains the source of truth.
type RuntimeAgent struct {
	ID           string
	Name         string
	Description  string
	Instructions string
	Model        string
	Temperature  float64
	WorkDir      string
	Skills       []SkillSchema

	client ChatClient
}

// NewRuntimeAgent constructs a runtime agent with the given transport.
func NewRuntimeAgent(spec *AgentFlowSpec, skills []SkillSchema, client ChatClient) *RuntimeAgent {
	return &RuntimeAgent{
		ID:           spec.ID,
		Name:         spec.Name,
		Description:  spec.Description,
		Instructions: spec.Instructions,
		Model:        spec.Model,
		Temperature:  spec.Temperature,
		WorkDir:      spec.WorkDir,
		Skills:       skills,
		client:       client,
	}
}

// Client returns the agent's transport.
func (a *RuntimeAgent) Client() ChatClient { return a.client }

// Thread is a conversation thread bound to a recipient agent.
type Thread struct {
	ID        string
	Recipient *RuntimeAgent

	client ChatClient
}

// RuntimeAgency is the live reconstruction of an AgencyConfig: a set of
// runtime agents, the main communication thread, and the chart topology.
type RuntimeAgency struct {
	Name               string
	SharedInstructions string
	Agents             []*RuntimeAgent
	MainRecipients     []*RuntimeAgent
	Chart              [][]*RuntimeAgent // secondary layers, declared order
	CEO                *RuntimeAgent     // coordinating agent, nil when the agency has no main agent
	MainThread         *Thread
}

// GetCompletion executes one conversation turn on the main thread.
func (a *RuntimeAgency) GetCompletion(ctx context.Context, message string) (string, error) {
	recipient := a.MainThread.Recipient
	if recipient == nil {
		recipient = a.CEO
	}
	if recipient == nil || a.MainThread.client == nil {
		return "", NewDomainError("RuntimeAgency.GetCompletion", ErrInvalidInput, "agency has no main agent")
	}
	system := recipient.Instructions
	if a.SharedInstructions != "" {
		system = a.SharedInstructions + "\n\n" + system
	}
	return a.MainThread.client.Complete(ctx, CompletionRequest{
		System:      system,
		Prompt:      message,
		Model:       recipient.Model,
		Temperature: recipient.Temperature,
	})
}

// EnsureThread provisions the main conversation thread if the agency
// does not have one yet, returning its id. The thread id doubles as the
// session id.
func (a *RuntimeAgency) EnsureThread(ctx context.Context) (string, error) {
	if a.MainThread == nil {
		return "", NewDomainError("RuntimeAgency.EnsureThread", ErrInvalidInput, "agency has no main thread")
	}
	if a.MainThread.ID != "" {
		return a.MainThread.ID, nil
	}
	if a.MainThread.client == nil {
		return "", NewDomainError("RuntimeAgency.EnsureThread", ErrInvalidInput, "agency has no transport attached")
	}
	id, err := a.MainThread.client.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	a.MainThread.ID = id
	return id, nil
}

// AgentSnapshot is the serialization view of a RuntimeAgent. It omits the
// transport by construction, so a cached agency can never leak one
// request's credentials into another's cache hit.
type AgentSnapshot struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
	Model        string        `json:"model"`
	Temperature  float64       `json:"temperature"`
	WorkDir      string        `json:"work_dir,omitempty"`
	Skills       []SkillSchema `json:"skills,omitempty"`
}

// ThreadSnapshot references its recipient by agent name so the restored
// thread aliases the same agent object as the agency's member list.
type ThreadSnapshot struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient,omitempty"`
}

// AgencySnapshot is the cacheable view of a RuntimeAgency. Topology is
// stored by agent name; Restore resolves names back to shared pointers.
type AgencySnapshot struct {
	Name               string          `json:"name"`
	SharedInstructions string          `json:"shared_instructions,omitempty"`
	Agents             []AgentSnapshot `json:"agents"`
	MainRecipients     []string        `json:"main_recipients,omitempty"`
	Chart              [][]string      `json:"chart,omitempty"`
	CEO                string          `json:"ceo,omitempty"`
	MainThread         ThreadSnapshot  `json:"main_thread"`
}

// Snapshot strips the agency down to its serializable state. The live
// transport handles are dropped; everything else round-trips.
func (a *RuntimeAgency) Snapshot() *AgencySnapshot {
	s := &AgencySnapshot{
		Name:               a.Name,
		SharedInstructions: a.SharedInstructions,
		Agents:             make([]AgentSnapshot, 0, len(a.Agents)),
	}
	for _, agent := range a.Agents {
		s.Agents = append(s.Agents, AgentSnapshot{
			ID:           agent.ID,
			Name:         agent.Name,
			Description:  agent.Description,
			Instructions: agent.Instructions,
			Model:        agent.Model,
			Temperature:  agent.Temperature,
			WorkDir:      agent.WorkDir,
			Skills:       agent.Skills,
		})
	}
	for _, r := range a.MainRecipients {
		s.MainRecipients = append(s.MainRecipients, r.Name)
	}
	for _, layer := range a.Chart {
		names := make([]string, 0, len(layer))
		for _, agent := range layer {
			names = append(names, agent.Name)
		}
		s.Chart = append(s.Chart, names)
	}
	if a.CEO != nil {
		s.CEO = a.CEO.Name
	}
	if a.MainThread != nil {
		s.MainThread = ThreadSnapshot{ID: a.MainThread.ID}
		if a.MainThread.Recipient != nil {
			s.MainThread.Recipient = a.MainThread.Recipient.Name
		}
	}
	return s
}

// Restore rebuilds a live agency from the snapshot, attaching the given
// transport to every agent and to the main thread. The snapshot itself is
// not mutated and may be restored again with a different client.
func (s *AgencySnapshot) Restore(client ChatClient) *RuntimeAgency {
	a := &RuntimeAgency{
		Name:               s.Name,
		SharedInstructions: s.SharedInstructions,
		Agents:             make([]*RuntimeAgent, 0, len(s.Agents)),
	}
	byName := make(map[string]*RuntimeAgent, len(s.Agents))
	for _, as := range s.Agents {
		agent := &RuntimeAgent{
			ID:           as.ID,
			Name:         as.Name,
			Description:  as.Description,
			Instructions: as.Instructions,
			Model:        as.Model,
			Temperature:  as.Temperature,
			WorkDir:      as.WorkDir,
			Skills:       as.Skills,
			client:       client,
		}
		a.Agents = append(a.Agents, agent)
		byName[agent.Name] = agent
	}
	for _, name := range s.MainRecipients {
		if agent, ok := byName[name]; ok {
			a.MainRecipients = append(a.MainRecipients, agent)
		}
	}
	for _, layer := range s.Chart {
		agents := make([]*RuntimeAgent, 0, len(layer))
		for _, name := range layer {
			if agent, ok := byName[name]; ok {
				agents = append(agents, agent)
			}
		}
		a.Chart = append(a.Chart, agents)
	}
	if s.CEO != "" {
		a.CEO = byName[s.CEO]
	}
	a.MainThread = &Thread{
		ID:        s.MainThread.ID,
		Recipient: byName[s.MainThread.Recipient],
		client:    client,
	}
	return a
}

// NewThread binds a thread id and recipient to a transport. Used when an
// agency is first constructed, before any snapshot round-trip.
func NewThread(id string, recipient *RuntimeAgent, client ChatClient) *Thread {
	return &Thread{ID: id, Recipient: recipient, client: client}
}
