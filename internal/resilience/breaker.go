package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the protected call while the circuit is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a Breaker
type State int

const (
	StateClosed   State = iota // Calls pass through
	StateOpen                  // Calls fail fast until the cool-down expires
	StateHalfOpen              // A limited number of probe calls decide the next state
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker. Zero values get usable defaults.
type Settings struct {
	Name string

	// Consecutive failures that open a closed circuit
	MaxFailures int
	// How long an open circuit rejects calls before probing
	CoolDown time.Duration
	// Probe calls admitted while half-open; that many successes close the circuit
	Probes int

	// Called after every transition, outside the lock
	OnStateChange func(name string, from, to State)
	// Classifies an error returned by the protected call. Defaults to err == nil.
	IsSuccessful func(err error) bool
}

// Counts are cumulative call statistics
type Counts struct {
	Requests            int64
	Failures            int64
	ConsecutiveFailures int
}

// FailureRate returns failed calls as a percentage of all recorded calls
func (c Counts) FailureRate() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Requests) * 100
}

// Breaker stops calling a backend that keeps failing and lets a few probes
// through once the cool-down has passed.
type Breaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	counts    Counts
	openUntil time.Time
	probing   int // probes admitted in the current half-open round
	probesOK  int
}

// NewBreaker creates a closed breaker
func NewBreaker(settings Settings) *Breaker {
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 1
	}
	if settings.Probes <= 0 {
		settings.Probes = 3
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool { return err == nil }
	}
	return &Breaker{settings: settings}
}

// Name returns the protected backend's name
func (b *Breaker) Name() string {
	return b.settings.Name
}

// Execute runs fn unless the circuit is open.
// A call abandoned because ctx ended is neither a success nor a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.abandon()
		return err
	}

	b.record(b.settings.IsSuccessful(err))
	return err
}

// admit decides whether a call may proceed and reserves a probe slot when half-open
func (b *Breaker) admit() bool {
	b.mu.Lock()
	from := b.state
	ok := false

	switch b.state {
	case StateClosed:
		ok = true
	case StateOpen:
		if !time.Now().Before(b.openUntil) {
			b.setState(StateHalfOpen)
			b.probing = 1
			ok = true
		}
	case StateHalfOpen:
		if b.probing < b.settings.Probes {
			b.probing++
			ok = true
		}
	}

	to := b.state
	b.mu.Unlock()

	b.changed(from, to)
	return ok
}

func (b *Breaker) abandon() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probing > 0 {
		b.probing--
	}
	b.mu.Unlock()
}

// record applies the outcome of one finished call
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	from := b.state

	b.counts.Requests++
	if success {
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.probesOK++
			if b.probesOK >= b.settings.Probes {
				b.setState(StateClosed)
			}
		}
	} else {
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		switch b.state {
		case StateClosed:
			if b.counts.ConsecutiveFailures >= b.settings.MaxFailures {
				b.setState(StateOpen)
			}
		case StateHalfOpen:
			b.setState(StateOpen)
		}
	}

	to := b.state
	b.mu.Unlock()

	b.changed(from, to)
}

// setState moves to s and resets the per-state bookkeeping; caller holds mu
func (b *Breaker) setState(s State) {
	b.state = s
	b.probing = 0
	b.probesOK = 0
	switch s {
	case StateOpen:
		b.openUntil = time.Now().Add(b.settings.CoolDown)
	case StateClosed:
		b.counts.ConsecutiveFailures = 0
	}
}

func (b *Breaker) changed(from, to State) {
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

// State returns the current state. An open circuit whose cool-down has
// expired still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a copy of the call statistics
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the circuit and clears its statistics
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.setState(StateClosed)
	b.counts = Counts{}
	b.mu.Unlock()

	b.changed(from, StateClosed)
}
