package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/resilience"
)

// Pool bounds how many capability invocations run at once across all sessions
// and uploads, and fails fast through a circuit breaker when the backend is down.
type Pool struct {
	next     Transcriber
	sem      *semaphore.Weighted
	breaker  *resilience.Breaker
	inFlight atomic.Int64
}

// NewPool wraps next with a worker limit. breaker may be nil.
func NewPool(next Transcriber, workers int, breaker *resilience.Breaker) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		next:    next,
		sem:     semaphore.NewWeighted(int64(workers)),
		breaker: breaker,
	}
}

// New builds the configured backend behind a Pool
func New(cfg *config.Config) (*Pool, error) {
	var backend Transcriber
	switch cfg.TranscriberProvider {
	case config.ProviderWhisper:
		backend = NewWhisperClient(cfg)
	case config.ProviderDeepgram:
		backend = NewDeepgramClient(cfg)
	default:
		return nil, fmt.Errorf("unknown transcriber provider %q", cfg.TranscriberProvider)
	}

	breaker := resilience.NewBreaker(resilience.Settings{
		Name:        cfg.TranscriberProvider,
		MaxFailures: cfg.CircuitBreakerMaxFailures,
		CoolDown:    time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			observability.UpdateCircuitBreakerState(name, int(to))
			logger := observability.GetLogger()
			logger.Warn().
				Str("backend", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Transcriber circuit breaker changed state")
		},
	})

	return NewPool(backend, cfg.TranscribeWorkers, breaker), nil
}

// Transcribe waits for a free worker slot (or ctx) and then invokes the backend
func (p *Pool) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	if p.breaker == nil {
		return p.next.Transcribe(ctx, audio, filename)
	}

	var text string
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = p.next.Transcribe(ctx, audio, filename)
		return err
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) && ctx.Err() == nil {
		observability.IncrementCircuitBreakerFailures(p.breaker.Name())
	}
	return text, err
}

// InFlight returns the number of invocations currently running
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// Ready reports whether the backend is accepting calls
func (p *Pool) Ready(ctx context.Context) (bool, error) {
	if p.breaker == nil {
		return true, nil
	}
	if state := p.breaker.State(); state == resilience.StateOpen {
		return false, fmt.Errorf("%s circuit is %s", p.breaker.Name(), state)
	}
	return true, nil
}
