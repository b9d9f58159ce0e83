// Package resilience provides per-(service_type, provider) circuit
// breakers and an exponential-backoff retryer with jitter, wired into
// every vendor call the pipeline makes. Repeated half-open failure
// doubles the open cooldown up to a cap.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/apperr"
)

// State is the breaker's three-value state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls while half-open")
)

// BreakerConfig configures a single breaker.
type BreakerConfig struct {
	Threshold        int           // consecutive failures before opening
	ResetTimeout     time.Duration // cooldown before Open -> HalfOpen
	MaxResetTimeout  time.Duration // cap on the doubling cooldown
	HalfOpenMaxCalls int
	CallTimeout      time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		MaxResetTimeout:  10 * time.Minute,
		HalfOpenMaxCalls: 1,
		CallTimeout:      30 * time.Second,
	}
}

// Breaker is a single per-provider circuit breaker.
type Breaker struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu                sync.RWMutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
	currentCooldown   time.Duration
}

// NewBreaker creates a breaker in the Closed state.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.MaxResetTimeout <= 0 {
		cfg.MaxResetTimeout = 10 * time.Minute
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:             cfg,
		logger:          logger,
		state:           StateClosed,
		currentCooldown: cfg.ResetTimeout,
	}
}

// Call runs fn under the breaker. Only vendor-side failures count toward the
// failure tally: an error that is a non-retryable *apperr.Error (an input,
// permission or format failure) is recorded as a success, so such errors
// never trip the breaker. Any other error, and a call that exceeds
// CallTimeout, counts as a failure.
func (b *Breaker) Call(ctx context.Context, fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() { resultCh <- fn() }()

	select {
	case <-callCtx.Done():
		b.afterCall(false)
		return fmt.Errorf("call timed out: %w", callCtx.Err())
	case err := <-resultCh:
		var ae *apperr.Error
		clientErr := err != nil && errors.As(err, &ae) && !ae.Retryable
		b.afterCall(err == nil || clientErr)
		return err
	}
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) > b.currentCooldown {
			b.setStateLocked(StateHalfOpen)
			b.halfOpenCallCount = 0
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCallCount >= b.cfg.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil
	default:
		return fmt.Errorf("unknown breaker state: %v", b.state)
	}
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.onSuccessLocked()
	} else {
		b.onFailureLocked()
	}
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.setStateLocked(StateClosed)
		b.failureCount = 0
		b.halfOpenCallCount = 0
		b.currentCooldown = b.cfg.ResetTimeout
	}
}

func (b *Breaker) onFailureLocked() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.Threshold {
			b.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		// half-open probe failed: reopen and double the cooldown, capped.
		b.currentCooldown *= 2
		if b.currentCooldown > b.cfg.MaxResetTimeout {
			b.currentCooldown = b.cfg.MaxResetTimeout
		}
		b.setStateLocked(StateOpen)
		b.halfOpenCallCount = 0
	}
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	b.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()), zap.String("to", s.String()))
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker back to Closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.currentCooldown = b.cfg.ResetTimeout
}

// Registry holds one Breaker per (service_type, provider) key, created
// lazily. Reads are lock-free after a key's breaker exists; creation is
// serialized.
type Registry struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry(cfg BreakerConfig, logger *zap.Logger) *Registry {
	return &Registry{cfg: cfg, logger: logger, breakers: make(map[string]*Breaker)}
}

func key(serviceType, provider string) string { return serviceType + ":" + provider }

// Get returns (creating if necessary) the breaker for a (service_type, provider) pair.
func (r *Registry) Get(serviceType, provider string) *Breaker {
	k := key(serviceType, provider)

	r.mu.RLock()
	b, ok := r.breakers[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[k]; ok {
		return b
	}
	b = NewBreaker(r.cfg, r.logger)
	r.breakers[k] = b
	return b
}

// State reports the breaker state for a key without creating one (a
// never-called provider is implicitly Closed).
func (r *Registry) State(serviceType, provider string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.breakers[key(serviceType, provider)]; ok {
		return b.State()
	}
	return StateClosed
}
