package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/bonk1t/agent-os/internal/domain"
	"github.com/bonk1t/agent-os/internal/infra/tracer"
)

const argSynthesisSystemMessage = `You are an assistant that responds with JSON only. You are presented with a user prompt and a function specification, and you MUST return the function call parameters in JSON format.
For example, if the function has parameters file_name and file_size, and the user prompt is ` + "```file name is test.txt, and the size is 1MB```" + `, then the function call parameters are {"file_name": "test.txt", "file_size": "1MB"}
The function call parameters must be returned in JSON format.`

const argSynthesisPromptPrefix = "Return the function call parameters in JSON format based on the following user prompt: "

// ExecutorOptions tune skill execution.
type ExecutorOptions struct {
	Model     string  // argument-synthesis model
	PerMinute float64 // execution rate limit
	Burst     int
}

func (o *ExecutorOptions) fill() {
	if o.Model == "" {
		o.Model = "gpt-4o"
	}
	if o.PerMinute <= 0 {
		o.PerMinute = 30
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
}

// SkillExecutor runs a stored skill against a natural-language prompt:
// schema from the registry, source from the store, arguments synthesized
// by a model, execution in the remote sandbox.
type SkillExecutor struct {
	registry  domain.SkillRegistry
	store     domain.SkillStore
	variables *UserVariableManager
	resolver  domain.ClientResolver
	sandbox   domain.Sandbox
	limiter   *rate.Limiter
	compiler  *jsonschema.Compiler
	opts      ExecutorOptions
	logger    *slog.Logger
}

// NewSkillExecutor creates a skill executor.
func NewSkillExecutor(
	registry domain.SkillRegistry,
	store domain.SkillStore,
	variables *UserVariableManager,
	resolver domain.ClientResolver,
	sandbox domain.Sandbox,
	opts ExecutorOptions,
	logger *slog.Logger,
) *SkillExecutor {
	opts.fill()
	return &SkillExecutor{
		registry:  registry,
		store:     store,
		variables: variables,
		resolver:  resolver,
		sandbox:   sandbox,
		limiter:   rate.NewLimiter(rate.Limit(opts.PerMinute/60.0), opts.Burst),
		compiler:  jsonschema.NewCompiler(),
		opts:      opts,
		logger:    logger,
	}
}

// Execute runs skillName for userID. A skill whose registry entry exists
// but whose stored config is gone yields a defined result string rather
// than an error.
func (e *SkillExecutor) Execute(ctx context.Context, skillName, userPrompt, userID string) (string, error) {
	const op = "SkillExecutor.Execute"
	ctx, span := tracer.StartSpan(ctx, "skill.execute",
		trace.WithAttributes(tracer.StringAttr("skill.name", skillName)),
	)
	defer span.End()

	if err := e.limiter.Wait(ctx); err != nil {
		return "", domain.WrapOp(op, err)
	}

	schema, err := e.registry.Schema(ctx, skillName)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp(op, err)
	}

	configs, err := e.store.LoadSkillsByTitles(ctx, []string{skillName})
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp(op, err)
	}
	if len(configs) == 0 {
		// Registry and store can disagree; this is reportable, not fatal.
		e.logger.Warn("skill registered but absent from storage", "skill", skillName)
		return fmt.Sprintf("Error: Skill %s not found in storage", skillName), nil
	}
	cfg := configs[0]

	vars := e.variables.ResolverFor(userID)
	client, err := e.resolver.ResolveClient(ctx, vars)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp(op, err)
	}

	args, err := e.synthesizeArgs(ctx, client, schema, userPrompt)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp(op, err)
	}

	env := map[string]string{}
	if key, kerr := vars.Resolve(ctx, "OPENAI_API_KEY"); kerr == nil {
		env["OPENAI_API_KEY"] = key
	}

	result, err := e.sandbox.Run(ctx, domain.ExecutionSpec{
		Code: cfg.Content,
		Args: args,
		Env:  env,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp(op, err)
	}
	if result.ExitCode != 0 {
		e.logger.Warn("skill exited non-zero", "skill", skillName, "exit_code", result.ExitCode, "stderr", result.Stderr)
	}
	tracer.SetOK(span)
	return domain.ExtractSkillOutput(result.Stdout), nil
}

// synthesizeArgs asks the model to turn the prompt into a call-argument
// object matching the skill's parameter schema, then validates the
// result against that schema before anything reaches the sandbox.
func (e *SkillExecutor) synthesizeArgs(ctx context.Context, client domain.ChatClient, schema domain.SkillSchema, userPrompt string) (map[string]any, error) {
	spec, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("%s\n```\n%s\n```. \nThe function specification:\n```%s```",
		argSynthesisPromptPrefix, userPrompt, spec)

	raw, err := client.Complete(ctx, domain.CompletionRequest{
		System:      argSynthesisSystemMessage,
		Prompt:      prompt,
		Model:       e.opts.Model,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &args); err != nil {
		return nil, domain.NewDomainError("SkillExecutor.synthesizeArgs", domain.ErrInvalidInput,
			fmt.Sprintf("model returned unparseable arguments: %v", err))
	}

	compiled, err := e.compiler.Compile(schema.Parameters)
	if err != nil {
		// An uncompilable parameter schema is a skill-authoring defect,
		// not a caller error; skip validation and let the sandbox decide.
		e.logger.Warn("parameter schema failed to compile", "skill", schema.Name, "error", err)
		return args, nil
	}
	if result := compiled.Validate(args); !result.IsValid() {
		return nil, domain.NewDomainError("SkillExecutor.synthesizeArgs", domain.ErrInvalidInput,
			fmt.Sprintf("synthesized arguments do not match the skill schema: %s", result.Error()))
	}
	return args, nil
}
