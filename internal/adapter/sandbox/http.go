// Package sandbox runs untrusted skill code in a remote code
// interpreter service. Every execution gets a fresh instance that is
// torn down afterwards regardless of outcome.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bonk1t/agent-os/internal/domain"
	"github.com/bonk1t/agent-os/internal/infra/tracer"
)

const maxResponseBytes = 10 * 1024 * 1024

// Option configures the remote interpreter.
type Option func(*Remote)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Remote) { r.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Remote) { r.logger = logger }
}

// Remote implements domain.Sandbox against a code interpreter HTTP API.
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewRemote creates a sandbox bound to the interpreter at baseURL.
func NewRemote(baseURL, apiKey string, opts ...Option) *Remote {
	r := &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// --- interpreter wire types ---

type createResponse struct {
	SandboxID string `json:"sandbox_id"`
}

type execRequest struct {
	Code string            `json:"code"`
	Env  map[string]string `json:"env,omitempty"`
}

type execResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Run implements domain.Sandbox. It provisions an instance, executes the
// program, and tears the instance down before returning.
func (r *Remote) Run(ctx context.Context, spec domain.ExecutionSpec) (*domain.ExecutionResult, error) {
	ctx, span := tracer.StartSpan(ctx, "sandbox.run")
	defer span.End()

	program, err := BuildProgram(spec.Code, spec.Args)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError("sandbox.run", domain.ErrSandboxFailure, err.Error())
	}

	id, err := r.create(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	defer r.destroy(id)

	result, err := r.exec(ctx, id, program, spec.Env)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return result, nil
}

func (r *Remote) create(ctx context.Context) (string, error) {
	var resp createResponse
	if err := r.do(ctx, http.MethodPost, "/sandboxes", nil, &resp); err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	if resp.SandboxID == "" {
		return "", domain.NewDomainError("sandbox.create", domain.ErrSandboxFailure, "interpreter returned no sandbox id")
	}
	return resp.SandboxID, nil
}

func (r *Remote) exec(ctx context.Context, id, program string, env map[string]string) (*domain.ExecutionResult, error) {
	req := execRequest{Code: program, Env: env}
	var resp execResponse
	if err := r.do(ctx, http.MethodPost, "/sandboxes/"+id+"/exec", req, &resp); err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return &domain.ExecutionResult{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
	}, nil
}

// destroy uses a detached context so teardown still happens when the
// caller's context is already cancelled.
func (r *Remote) destroy(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.do(ctx, http.MethodDelete, "/sandboxes/"+id, nil, nil); err != nil {
		r.logger.Warn("sandbox teardown failed", "sandbox_id", id, "error", err)
	}
}

func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: marshal request: %v", domain.ErrSandboxFailure, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrSandboxFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: http request: %v", domain.ErrSandboxFailure, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrSandboxFailure, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("%w: API error %d: %s", domain.ErrSandboxFailure, httpResp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%w: unmarshal response: %v", domain.ErrSandboxFailure, err)
		}
	}
	return nil
}
