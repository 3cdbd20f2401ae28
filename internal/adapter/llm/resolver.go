package llm

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/bonk1t/agent-os/internal/domain"
)

// Variable keys looked up through the caller's variable resolver.
const (
	VarAzureAPIKey   = "AZURE_OPENAI_API_KEY"
	VarAzureVersion  = "OPENAI_API_VERSION"
	VarAzureEndpoint = "AZURE_OPENAI_ENDPOINT"
	VarOpenAIAPIKey  = "OPENAI_API_KEY"
)

// Resolver builds per-user chat clients. Azure credentials take
// precedence, but only when the key, API version, and endpoint all
// resolve; otherwise the plain API key is used.
type Resolver struct {
	opts     Options
	breakers *BreakerGroup
	logger   *slog.Logger
}

// NewResolver creates a client resolver with the given call policy.
// Circuit-breaker state is keyed by credential and shared across
// resolutions, so consecutive failures accumulate even though each
// request gets a freshly built client.
func NewResolver(opts Options, logger *slog.Logger) *Resolver {
	opts.fill()
	return &Resolver{
		opts:     opts,
		breakers: NewBreakerGroup(BreakerSettings{}, logger),
		logger:   logger,
	}
}

// ResolveClient implements domain.ClientResolver.
func (r *Resolver) ResolveClient(ctx context.Context, vars domain.VariableResolver) (domain.ChatClient, error) {
	if azureKey, version, endpoint, ok := r.resolveAzure(ctx, vars); ok {
		api := openai.NewClient(
			azure.WithEndpoint(endpoint, version),
			azure.WithAPIKey(azureKey),
		)
		return r.breakers.Guard("azure:"+azureKey, NewClient(&api, r.opts, r.logger)), nil
	}

	apiKey, err := vars.Resolve(ctx, VarOpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	api := openai.NewClient(option.WithAPIKey(apiKey))
	return r.breakers.Guard("openai:"+apiKey, NewClient(&api, r.opts, r.logger)), nil
}

// resolveAzure reports the Azure credential triple, or ok=false when any
// of the three variables is unset.
func (r *Resolver) resolveAzure(ctx context.Context, vars domain.VariableResolver) (key, version, endpoint string, ok bool) {
	key, err := vars.Resolve(ctx, VarAzureAPIKey)
	if err != nil {
		return "", "", "", false
	}
	version, err = vars.Resolve(ctx, VarAzureVersion)
	if err != nil {
		return "", "", "", false
	}
	endpoint, err = vars.Resolve(ctx, VarAzureEndpoint)
	if err != nil {
		return "", "", "", false
	}
	return key, version, endpoint, true
}
