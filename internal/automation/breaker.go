package automation

import (
	"sync"
	"time"
)

// BreakerState is the state of one collaborator circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	MaxFailures     int
	ResetTimeout    time.Duration
	HalfOpenMaxReqs int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:     5,
		ResetTimeout:    60 * time.Second,
		HalfOpenMaxReqs: 3,
	}
}

// CircuitBreaker trips after MaxFailures consecutive execution failures and
// lets a few probe calls through once ResetTimeout has elapsed.
type CircuitBreaker struct {
	config       BreakerConfig
	state        BreakerState
	failureCount int
	lastFailTime time.Time
	halfOpenReqs int
	now          func() time.Time
	mutex        sync.Mutex
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return newCircuitBreaker(cfg, time.Now)
}

func newCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.HalfOpenMaxReqs <= 0 {
		cfg.HalfOpenMaxReqs = 1
	}
	return &CircuitBreaker{config: cfg, state: BreakerClosed, now: now}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailTime) > cb.config.ResetTimeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenReqs = 1
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.halfOpenReqs < cb.config.HalfOpenMaxReqs {
			cb.halfOpenReqs++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) OnSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	if cb.state == BreakerHalfOpen {
		cb.state = BreakerClosed
		cb.halfOpenReqs = 0
	}
}

func (cb *CircuitBreaker) OnFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = cb.now()

	switch cb.state {
	case BreakerClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.halfOpenReqs = 0
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.halfOpenReqs = 0
}

// collaboratorKind groups action types by the collaborator they call.
func collaboratorKind(t ActionType) string {
	switch t {
	case ActionSendNotification:
		return "notifier"
	case ActionSendEmail:
		return "mailer"
	case ActionCreateCalendarEvent:
		return "calendar"
	case ActionCreateAuditLog:
		return "audit"
	default:
		return "board"
	}
}

// breakerSet holds one breaker per collaborator kind. A nil set disables
// breaking.
type breakerSet struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	now    func() time.Time
	byKind map[string]*CircuitBreaker
}

func newBreakerSet(cfg BreakerConfig, now func() time.Time) *breakerSet {
	return &breakerSet{cfg: cfg, now: now, byKind: make(map[string]*CircuitBreaker)}
}

func (s *breakerSet) forAction(t ActionType) *CircuitBreaker {
	if s == nil {
		return nil
	}
	kind := collaboratorKind(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.byKind[kind]
	if !ok {
		cb = newCircuitBreaker(s.cfg, s.now)
		s.byKind[kind] = cb
	}
	return cb
}

// States reports the state of every breaker created so far.
func (s *breakerSet) States() map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, cb := range s.byKind {
		out[kind] = cb.State().String()
	}
	return out
}
