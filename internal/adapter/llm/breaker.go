package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bonk1t/agent-os/internal/domain"
)

// BreakerSettings tune the completion circuit breaker.
type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func (s *BreakerSettings) fill() {
	if s.Name == "" {
		s.Name = "llm"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
}

// BreakerCompleter guards a Completer with a circuit breaker so a failing
// upstream sheds load instead of stacking timed-out calls.
type BreakerCompleter struct {
	next    domain.Completer
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewBreakerCompleter wraps next with its own circuit breaker. For
// breakers that must outlive a single wrapper, use a BreakerGroup.
func NewBreakerCompleter(next domain.Completer, settings BreakerSettings, logger *slog.Logger) *BreakerCompleter {
	settings.fill()
	return &BreakerCompleter{next: next, breaker: newBreaker(settings, logger), logger: logger}
}

func newBreaker(settings BreakerSettings, logger *slog.Logger) *gobreaker.CircuitBreaker[string] {
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("llm breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			// Client-side mistakes must not count against the upstream.
			return err == nil || errors.Is(err, domain.ErrInvalidInput)
		},
	})
}

// BreakerGroup keeps one circuit breaker per credential. Clients are
// resolved per request, so failure counts must live here, not in the
// short-lived wrappers, or a circuit could never accumulate enough
// consecutive failures to open.
type BreakerGroup struct {
	settings BreakerSettings
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
}

// NewBreakerGroup creates a breaker group with shared settings.
func NewBreakerGroup(settings BreakerSettings, logger *slog.Logger) *BreakerGroup {
	settings.fill()
	return &BreakerGroup{
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
	}
}

// Guard wraps the client's completion path in the breaker registered for
// key, creating it on first use. Thread provisioning stays direct; it is
// local id generation and cannot fail upstream.
func (g *BreakerGroup) Guard(key string, client domain.ChatClient) domain.ChatClient {
	return &guardedClient{
		BreakerCompleter: &BreakerCompleter{next: client, breaker: g.breakerFor(key), logger: g.logger},
		threads:          client,
	}
}

func (g *BreakerGroup) breakerFor(key string) *gobreaker.CircuitBreaker[string] {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = newBreaker(g.settings, g.logger)
		g.breakers[key] = b
	}
	return b
}

type guardedClient struct {
	*BreakerCompleter
	threads domain.ChatClient
}

func (g *guardedClient) CreateThread(ctx context.Context) (string, error) {
	return g.threads.CreateThread(ctx)
}

// Complete implements domain.Completer.
func (b *BreakerCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	out, err := b.breaker.Execute(func() (string, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", domain.NewDomainError("llm.complete", domain.ErrUpstreamUnavailable, "completion circuit open")
		}
		return "", err
	}
	return out, nil
}
