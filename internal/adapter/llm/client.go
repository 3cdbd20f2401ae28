// Package llm provides the credentialed OpenAI transport used by runtime
// agencies and by the skill pipeline's completion calls.
package llm

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/bonk1t/agent-os/internal/domain"
	"github.com/bonk1t/agent-os/internal/infra/tracer"
)

// Options configure completion call policy.
type Options struct {
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

func (o *Options) fill() {
	if o.DefaultModel == "" {
		o.DefaultModel = "gpt-4o"
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// Client wraps the OpenAI SDK behind domain.ChatClient. Every completion
// call carries an explicit timeout and a bounded retry count; exhausting
// retries surfaces ErrModelFailure rather than hanging.
type Client struct {
	api    *openai.Client
	opts   Options
	logger *slog.Logger
}

// NewClient builds a Client from an SDK client.
func NewClient(api *openai.Client, opts Options, logger *slog.Logger) *Client {
	opts.fill()
	return &Client{api: api, opts: opts, logger: logger}
}

// Complete implements domain.Completer.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(tracer.StringAttr("llm.model", req.Model)),
	)
	defer span.End()

	model := req.Model
	if model == "" {
		model = c.opts.DefaultModel
	}
	params := openai.ChatCompletionNewParams{
		Model:       model,
		Temperature: openai.Float(req.Temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				tracer.RecordError(span, ctx.Err())
				return "", domain.WrapOp("llm.Complete", ctx.Err())
			case <-time.After(c.opts.RetryDelay * time.Duration(attempt)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		resp, err := c.api.Chat.Completions.New(callCtx, params)
		cancel()
		if err != nil {
			lastErr = err
			c.logger.Warn("completion call failed",
				"model", model, "attempt", attempt+1, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = domain.NewDomainError("llm.Complete", domain.ErrModelFailure, "empty choices")
			continue
		}
		tracer.SetOK(span)
		return resp.Choices[0].Message.Content, nil
	}

	err := domain.NewDomainError("llm.Complete", domain.ErrModelFailure, lastErr.Error())
	tracer.RecordError(span, err)
	return "", err
}

// CreateThread provisions a new conversation thread id. Thread state is
// tracked in the session store, so the id only needs to be unique.
func (c *Client) CreateThread(_ context.Context) (string, error) {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return "thread_" + ulid.MustNew(ulid.Timestamp(t), entropy).String(), nil
}
