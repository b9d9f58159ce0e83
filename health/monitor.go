// Package health maintains a rolling [0,1] health score per
// (service_type, provider): multiplicative decay on consecutive failure,
// additive recovery on success, with breaker state folded in (an open
// breaker forces 0, half-open caps at 0.5).
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/resilience"
)

const (
	decayFactor       = 0.5
	recoveryStep      = 0.2
	halfOpenScoreCap  = 0.5
	initialScore      = 1.0
)

// Prober performs an active health check for one provider.
type Prober func(ctx context.Context) error

// Monitor tracks health scores and optionally runs active probes.
type Monitor struct {
	logger *zap.Logger

	mu     sync.RWMutex
	scores map[string]float64

	probeMu  sync.Mutex
	probes   map[string]Prober
	interval time.Duration
	stopCh   chan struct{}
}

func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		logger: logger.With(zap.String("component", "health_monitor")),
		scores: make(map[string]float64),
		probes: make(map[string]Prober),
	}
}

func key(serviceType, provider string) string { return serviceType + ":" + provider }

// Get returns the current health score, defaulting to 1.0 for an
// unreferenced provider (optimistic until proven otherwise).
func (m *Monitor) Get(serviceType, provider string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.scores[key(serviceType, provider)]; ok {
		return s
	}
	return initialScore
}

// RecordSuccess applies the additive recovery step, capped at 1.0.
func (m *Monitor) RecordSuccess(serviceType, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(serviceType, provider)
	s, ok := m.scores[k]
	if !ok {
		s = initialScore
	}
	s += recoveryStep
	if s > 1.0 {
		s = 1.0
	}
	m.scores[k] = s
}

// RecordFailure applies the multiplicative decay step.
func (m *Monitor) RecordFailure(serviceType, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(serviceType, provider)
	s, ok := m.scores[k]
	if !ok {
		s = initialScore
	}
	s *= decayFactor
	m.scores[k] = s
}

// ApplyBreakerState folds circuit breaker state into the score: Open forces
// 0, HalfOpen caps at 0.5, Closed leaves the passive score untouched.
func (m *Monitor) ApplyBreakerState(serviceType, provider string, state resilience.State) {
	switch state {
	case resilience.StateOpen:
		m.mu.Lock()
		m.scores[key(serviceType, provider)] = 0
		m.mu.Unlock()
	case resilience.StateHalfOpen:
		m.mu.Lock()
		k := key(serviceType, provider)
		if m.scores[k] > halfOpenScoreCap {
			m.scores[k] = halfOpenScoreCap
		}
		m.mu.Unlock()
	}
}

// RegisterProbe attaches an active probe for a provider; StartProbing must
// be called to actually run it on an interval. The default is passive-only
// (no active probing unless configured).
func (m *Monitor) RegisterProbe(serviceType, provider string, probe Prober) {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()
	m.probes[key(serviceType, provider)] = probe
}

// StartProbing runs every registered probe on interval until ctx is done.
func (m *Monitor) StartProbing(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.probeMu.Lock()
	probes := make(map[string]Prober, len(m.probes))
	for k, p := range m.probes {
		probes[k] = p
	}
	m.probeMu.Unlock()

	for k, probe := range probes {
		serviceType, provider := splitKey(k)
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := probe(probeCtx)
		cancel()
		if err != nil {
			m.logger.Warn("active health probe failed",
				zap.String("service_type", serviceType), zap.String("provider", provider), zap.Error(err))
			m.RecordFailure(serviceType, provider)
		} else {
			m.RecordSuccess(serviceType, provider)
		}
	}
}

func splitKey(k string) (string, string) {
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
