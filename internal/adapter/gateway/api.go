package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bonk1t/agent-os/internal/domain"
)

// apiResponse is the JSON envelope for all REST endpoints.
type apiResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Status: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.ErrorCodeOf(err) {
	case domain.CodeNotFound, domain.CodeAgencyNotFound, domain.CodeAgentNotFound,
		domain.CodeSkillNotFound, domain.CodeSessionNotFound:
		status = http.StatusNotFound
	case domain.CodeForbidden:
		status = http.StatusForbidden
	case domain.CodeInvalidInput, domain.CodeSkillUnsafe, domain.CodeSkillTooLarge:
		status = http.StatusBadRequest
	case domain.CodeAuthInvalid:
		status = http.StatusUnauthorized
	case domain.CodeUpstream, domain.CodeSandboxFailure, domain.CodeModelFailure:
		status = http.StatusBadGateway
	}
	var de *domain.DomainError
	message := err.Error()
	if errors.As(err, &de) && de.Detail != "" {
		message = de.Detail
	}
	writeJSON(w, status, apiResponse{Status: false, Message: message})
}

// authenticate extracts and verifies the bearer credential on a REST
// request.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Status: false, Message: msgTokenMissing})
		return nil, false
	}
	user, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Status: false, Message: msgTokenInvalid})
		return nil, false
	}
	return user, true
}

// --- agency ---

func (s *Server) handleAgencyList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	configs, err := s.agencies.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, configs)
}

func (s *Server) handleAgencyGet(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	cfg, err := s.agencies.GetConfig(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, cfg)
}

func (s *Server) handleAgencySave(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var cfg domain.AgencyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "invalid request body"})
		return
	}
	id, err := s.agencies.CreateOrUpdate(r.Context(), &cfg, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]string{"id": id})
}

func (s *Server) handleAgencyDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.agencies.Delete(r.Context(), r.PathValue("id"), user.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Agency deleted successfully"})
}

// --- agent ---

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	ownedOnly := r.URL.Query().Get("owned_by_user") == "true"
	specs, err := s.agents.List(r.Context(), user.ID, ownedOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, specs)
}

func (s *Server) handleAgentGet(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	spec, err := s.agents.GetConfig(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, spec)
}

func (s *Server) handleAgentSave(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var spec domain.AgentFlowSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "invalid request body"})
		return
	}
	id, err := s.agents.CreateOrUpdate(r.Context(), &spec, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]string{"id": id})
}

func (s *Server) handleAgentDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.agents.Delete(r.Context(), r.PathValue("id"), user.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Agent deleted successfully"})
}

// --- skill ---

func (s *Server) handleSkillList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	skills, err := s.skills.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, skills)
}

func (s *Server) handleSkillGet(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	cfg, err := s.skills.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !cfg.IsTemplate() && cfg.UserID != user.ID {
		writeError(w, domain.NewDomainError("gateway.skill.get", domain.ErrForbidden, "you don't have permissions to access this skill"))
		return
	}
	writeData(w, cfg)
}

func (s *Server) handleSkillSave(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var cfg domain.SkillConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "invalid request body"})
		return
	}
	if _, err := s.skills.CreateOrUpdate(r.Context(), &cfg, user.ID); err != nil {
		writeError(w, err)
		return
	}
	skills, err := s.skills.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Skill " + cfg.Title + " created or updated", Data: skills})
}

func (s *Server) handleSkillDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if err := s.skills.Delete(r.Context(), r.PathValue("id"), user.ID); err != nil {
		writeError(w, err)
		return
	}
	skills, err := s.skills.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Skill configuration deleted", Data: skills})
}

// SkillExecuteRequest is the body of POST /api/skill/execute.
type SkillExecuteRequest struct {
	ID         string `json:"id"`
	UserPrompt string `json:"user_prompt"`
}

func (s *Server) handleSkillExecute(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req SkillExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "invalid request body"})
		return
	}
	cfg, err := s.skills.Get(r.Context(), req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !cfg.IsTemplate() && cfg.UserID != user.ID {
		writeError(w, domain.NewDomainError("gateway.skill.execute", domain.ErrForbidden, "you don't have permissions to access this skill"))
		return
	}
	output, err := s.executor.Execute(r.Context(), cfg.Title, req.UserPrompt, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, output)
}

// --- session ---

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	sessions, err := s.sessions.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, sessions)
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	agencyID := r.URL.Query().Get("agency_id")
	if agencyID == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "agency_id is required"})
		return
	}
	sessions, err := s.sessions.Create(r.Context(), agencyID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, sessions)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "id is required"})
		return
	}
	if err := s.sessions.Delete(r.Context(), id, user.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Session deleted successfully"})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	msgs, err := s.sessions.Messages(r.Context(), r.PathValue("id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, msgs)
}

// --- variables ---

// VariableRequest is the body of PUT /api/variable.
type VariableRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleVariableSet(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req VariableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "invalid request body"})
		return
	}
	if err := s.variables.Set(r.Context(), user.ID, req.Key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: true, Message: "Variable saved"})
}
