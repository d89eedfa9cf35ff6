package integrations

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

// ErrBreakerOpen is returned without calling the provider while the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker stops calling a provider after repeated failures and probes it again after a cool-down.
type Breaker struct {
	name             string
	failureThreshold int
	openTimeout      time.Duration
	now              func() time.Time

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

// NewBreaker creates a breaker that opens after 5 consecutive failures for 30 seconds.
func NewBreaker(name string) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
		now:              time.Now,
	}
}

// Name returns the guarded integration type.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open breakers to half-open once the timeout passed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) currentState() BreakerState {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.openTimeout {
		b.state = StateHalfOpen
		b.probing = false
	}
	return b.state
}

// Execute runs fn unless the breaker is open. A panic inside fn counts as a failure and is re-raised.
func (b *Breaker) Execute(fn func() error) (err error) {
	if err := b.before(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.after(false)
			panic(r)
		}
	}()
	err = fn()
	b.after(err == nil)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case StateOpen:
		return ErrBreakerOpen
	case StateHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.state = StateClosed
		b.consecutiveFailures = 0
		b.probing = false
		return
	}
	b.consecutiveFailures++
	if b.state == StateHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
	}
}
