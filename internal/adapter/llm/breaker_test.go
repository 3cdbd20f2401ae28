package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bonk1t/agent-os/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedCompleter struct {
	err   error
	calls int
}

func (c *scriptedCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "ok", nil
}

type scriptedClient struct {
	scriptedCompleter
}

func (c *scriptedClient) CreateThread(ctx context.Context) (string, error) {
	return "thread-1", nil
}

func TestBreakerPassesThrough(t *testing.T) {
	next := &scriptedCompleter{}
	b := NewBreakerCompleter(next, BreakerSettings{}, testLogger())

	out, err := b.Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "ok" || next.calls != 1 {
		t.Errorf("out = %q, calls = %d", out, next.calls)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &scriptedCompleter{err: domain.ErrModelFailure}
	b := NewBreakerCompleter(next, BreakerSettings{MaxFailures: 3}, testLogger())
	ctx := context.Background()

	for range 3 {
		if _, err := b.Complete(ctx, domain.CompletionRequest{}); err == nil {
			t.Fatal("expected upstream failure")
		}
	}

	// The circuit is now open; the upstream must not be touched.
	calls := next.calls
	_, err := b.Complete(ctx, domain.CompletionRequest{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("open-circuit err = %v, want ErrUpstreamUnavailable", err)
	}
	if !strings.Contains(err.Error(), "completion circuit open") {
		t.Errorf("err = %v", err)
	}
	if next.calls != calls {
		t.Error("open circuit must shed the call")
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	next := &scriptedCompleter{err: domain.NewDomainError("op", domain.ErrInvalidInput, "bad prompt")}
	b := NewBreakerCompleter(next, BreakerSettings{MaxFailures: 2}, testLogger())
	ctx := context.Background()

	// Invalid input is the caller's fault; it must never trip the breaker.
	for range 10 {
		if _, err := b.Complete(ctx, domain.CompletionRequest{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("err = %v, want the client error surfaced", err)
		}
	}
	if next.calls != 10 {
		t.Errorf("calls = %d, breaker should stay closed", next.calls)
	}
}

func TestBreakerGroupAccumulatesAcrossWrappers(t *testing.T) {
	g := NewBreakerGroup(BreakerSettings{MaxFailures: 3}, testLogger())
	next := &scriptedClient{scriptedCompleter: scriptedCompleter{err: domain.ErrModelFailure}}
	ctx := context.Background()

	// Each wrapper carries one request, the way per-request client
	// resolution does. Failures must still add up.
	for range 3 {
		c := g.Guard("openai:sk-shared", next)
		if _, err := c.Complete(ctx, domain.CompletionRequest{}); err == nil {
			t.Fatal("expected upstream failure")
		}
	}

	calls := next.calls
	c := g.Guard("openai:sk-shared", next)
	_, err := c.Complete(ctx, domain.CompletionRequest{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want the circuit open across wrappers", err)
	}
	if next.calls != calls {
		t.Error("open circuit must shed the call")
	}
}

func TestBreakerGroupIsolatesCredentials(t *testing.T) {
	g := NewBreakerGroup(BreakerSettings{MaxFailures: 1}, testLogger())
	ctx := context.Background()

	failing := &scriptedClient{scriptedCompleter: scriptedCompleter{err: domain.ErrModelFailure}}
	if _, err := g.Guard("openai:sk-bad", failing).Complete(ctx, domain.CompletionRequest{}); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := g.Guard("openai:sk-bad", failing).Complete(ctx, domain.CompletionRequest{}); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want open circuit for the failing credential", err)
	}

	healthy := &scriptedClient{}
	out, err := g.Guard("openai:sk-good", healthy).Complete(ctx, domain.CompletionRequest{})
	if err != nil || out != "ok" {
		t.Errorf("healthy credential = %q, %v; one open circuit must not spill over", out, err)
	}
}

func TestBreakerGroupThreadsBypassCircuit(t *testing.T) {
	g := NewBreakerGroup(BreakerSettings{MaxFailures: 1}, testLogger())
	ctx := context.Background()

	next := &scriptedClient{scriptedCompleter: scriptedCompleter{err: domain.ErrModelFailure}}
	c := g.Guard("openai:sk-unit", next)
	c.Complete(ctx, domain.CompletionRequest{})
	if _, err := c.Complete(ctx, domain.CompletionRequest{}); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want open circuit", err)
	}

	id, err := c.CreateThread(ctx)
	if err != nil || id != "thread-1" {
		t.Errorf("CreateThread = %q, %v; thread provisioning is local and must not be shed", id, err)
	}
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	next := &scriptedCompleter{err: domain.ErrModelFailure}
	b := NewBreakerCompleter(next, BreakerSettings{MaxFailures: 1, Timeout: 20 * time.Millisecond}, testLogger())
	ctx := context.Background()

	if _, err := b.Complete(ctx, domain.CompletionRequest{}); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := b.Complete(ctx, domain.CompletionRequest{}); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want open circuit", err)
	}

	time.Sleep(30 * time.Millisecond)
	next.err = nil

	out, err := b.Complete(ctx, domain.CompletionRequest{})
	if err != nil || out != "ok" {
		t.Errorf("half-open probe = %q, %v; want recovery", out, err)
	}
}
