package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/cachekit/observe"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the backend recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// StateChange describes a circuit state transition.
type StateChange struct {
	From     State
	To       State
	Failures int
	At       time.Time
}

// Operation is a guarded call that yields a result.
type Operation func(ctx context.Context) (any, error)

// Fallback produces a substitute result when the operation cannot run or
// fails. Passed explicitly per call.
type Fallback func() (any, error)

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long to wait before attempting recovery.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HealthCheckInterval is how often the background task checks for a
	// circuit stuck open and sweeps idle operation metrics. The check
	// forces Open to HalfOpen once the circuit has been open for twice
	// the reset timeout, guarding against a missed lazy state check.
	// Default: 30 seconds
	HealthCheckInterval time.Duration

	// MetricsRetention is how long idle per-operation metrics are kept.
	// Default: 24 hours
	MetricsRetention time.Duration

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// Metrics receives a count for every state transition.
	// Default: no-op.
	Metrics observe.Metrics
}

// CircuitBreaker guards cache operations against a degraded backend.
//
// Trip state is breaker-global: any guarded operation's failures feed a
// single failure counter. Per-operation metrics are kept purely for
// observability and never influence the trip decision.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	probing     bool

	obsMu     sync.RWMutex
	observers []func(StateChange)

	ops sync.Map // operation name -> *opMetrics

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// opMetrics tracks per-operation counters. All fields are atomics so
// recording never takes the breaker lock.
type opMetrics struct {
	total        atomic.Int64
	failures     atomic.Int64
	successes    atomic.Int64
	latencyNanos atomic.Int64
	lastAccess   atomic.Int64 // unix nanos
}

// OperationMetrics is an observability snapshot for one operation name.
type OperationMetrics struct {
	Operation      string
	Total          int64
	Failures       int64
	Successes      int64
	AverageLatency time.Duration
	LastAccess     time.Time
}

// Metrics contains breaker-level statistics.
type Metrics struct {
	State       State
	Failures    int
	LastFailure time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 30 * time.Second
	}
	if config.MetricsRetention <= 0 {
		config.MetricsRetention = 24 * time.Hour
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Metrics == nil {
		config.Metrics = observe.NewNopMetrics()
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs the operation through the circuit breaker.
//
// When the circuit cannot execute (open and the reset timeout has not
// elapsed) the fallback is invoked if provided, else ErrCircuitOpen is
// returned. When the operation fails, the failure is recorded and the
// fallback is invoked if provided, else the error propagates. A failing
// fallback yields a FallbackError carrying both causes.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation string, op Operation, fallback Fallback) (any, error) {
	probe, err := cb.beforeRequest()
	if err != nil {
		return cb.resolve(operation, err, fallback)
	}
	if probe {
		// A panicking probe never reaches afterRequest; release the
		// probe slot or the circuit rejects every call from here on.
		defer func() {
			if r := recover(); r != nil {
				cb.clearProbe()
				panic(r)
			}
		}()
	}

	start := time.Now()
	result, err := op(ctx)
	cb.recordOperation(operation, time.Since(start), err)
	cb.afterRequest(err)

	if err == nil {
		return result, nil
	}
	return cb.resolve(operation, err, fallback)
}

// Do runs a result-less operation through the circuit breaker.
func (cb *CircuitBreaker) Do(ctx context.Context, operation string, op func(context.Context) error, fallback func() error) error {
	var fb Fallback
	if fallback != nil {
		fb = func() (any, error) { return nil, fallback() }
	}
	_, err := cb.Execute(ctx, operation, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	}, fb)
	return err
}

func (cb *CircuitBreaker) resolve(operation string, primary error, fallback Fallback) (any, error) {
	if fallback == nil {
		return nil, primary
	}
	result, err := fallback()
	if err != nil {
		return nil, &FallbackError{Operation: operation, Primary: primary, Fallback: err}
	}
	return result, nil
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	state, change := cb.currentStateLocked()
	cb.mu.Unlock()
	cb.emit(change)
	return state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var change *StateChange
	if cb.state != StateClosed {
		change = &StateChange{From: cb.state, To: StateClosed, At: time.Now()}
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
	cb.mu.Unlock()
	cb.emit(change)
}

// Notify registers an observer for state transitions. Observers are called
// synchronously after the transition and must return quickly.
func (cb *CircuitBreaker) Notify(fn func(StateChange)) {
	if fn == nil {
		return
	}
	cb.obsMu.Lock()
	cb.observers = append(cb.observers, fn)
	cb.obsMu.Unlock()
}

// beforeRequest admits or rejects a call. The probe result reports whether
// this call took the half-open probe slot; a probe that cannot reach
// afterRequest must release the slot via clearProbe.
func (cb *CircuitBreaker) beforeRequest() (probe bool, err error) {
	cb.mu.Lock()
	state, change := cb.currentStateLocked()

	switch state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		// Allow a single probe at a time
		if cb.probing {
			err = ErrCircuitOpen
		} else {
			cb.probing = true
			probe = true
		}
	}
	cb.mu.Unlock()
	cb.emit(change)
	return probe, err
}

func (cb *CircuitBreaker) clearProbe() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) afterRequest(err error) {
	isFailure := cb.config.IsFailure(err)
	now := time.Now()

	cb.mu.Lock()
	var change *StateChange

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = now
			if cb.failures >= cb.config.FailureThreshold {
				change = cb.setStateLocked(StateOpen, now)
			}
		} else if cb.failures > 0 {
			// Failures decay on success rather than hard-resetting
			cb.failures--
		}

	case StateHalfOpen:
		cb.probing = false
		if isFailure {
			// Failed probe, back to open and restart the timeout
			cb.lastFailure = now
			change = cb.setStateLocked(StateOpen, now)
		} else {
			change = cb.setStateLocked(StateClosed, now)
			cb.failures = 0
		}
	}
	cb.mu.Unlock()
	cb.emit(change)
}

// currentStateLocked lazily moves Open to HalfOpen once the reset timeout
// has elapsed. Callers hold cb.mu and must emit the returned change after
// unlocking.
func (cb *CircuitBreaker) currentStateLocked() (State, *StateChange) {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.config.ResetTimeout {
		change := cb.setStateLocked(StateHalfOpen, time.Now())
		return cb.state, change
	}
	return cb.state, nil
}

func (cb *CircuitBreaker) setStateLocked(state State, now time.Time) *StateChange {
	if cb.state == state {
		return nil
	}
	change := &StateChange{From: cb.state, To: state, Failures: cb.failures, At: now}
	cb.state = state
	switch state {
	case StateOpen:
		cb.openedAt = now
	case StateHalfOpen:
		cb.probing = false
	}
	return change
}

func (cb *CircuitBreaker) emit(change *StateChange) {
	if change == nil {
		return
	}
	cb.config.Metrics.RecordBreakerTransition(context.Background(), change.From.String(), change.To.String())
	cb.obsMu.RLock()
	observers := cb.observers
	cb.obsMu.RUnlock()
	for _, fn := range observers {
		fn(*change)
	}
}

func (cb *CircuitBreaker) recordOperation(operation string, latency time.Duration, err error) {
	v, _ := cb.ops.LoadOrStore(operation, &opMetrics{})
	m := v.(*opMetrics)
	m.total.Add(1)
	if cb.config.IsFailure(err) {
		m.failures.Add(1)
	} else {
		m.successes.Add(1)
	}
	m.latencyNanos.Add(int64(latency))
	m.lastAccess.Store(time.Now().UnixNano())
}

// Metrics returns breaker-level statistics.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	state, change := cb.currentStateLocked()
	m := Metrics{
		State:       state,
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
	}
	cb.mu.Unlock()
	cb.emit(change)
	return m
}

// OperationMetrics returns an observability snapshot per operation name.
func (cb *CircuitBreaker) OperationMetrics() []OperationMetrics {
	var out []OperationMetrics
	cb.ops.Range(func(key, value any) bool {
		m := value.(*opMetrics)
		total := m.total.Load()
		om := OperationMetrics{
			Operation:  key.(string),
			Total:      total,
			Failures:   m.failures.Load(),
			Successes:  m.successes.Load(),
			LastAccess: time.Unix(0, m.lastAccess.Load()),
		}
		if total > 0 {
			om.AverageLatency = time.Duration(m.latencyNanos.Load() / total)
		}
		out = append(out, om)
		return true
	})
	return out
}

// Start launches the background health-check task. Idempotent.
func (cb *CircuitBreaker) Start() {
	cb.runMu.Lock()
	defer cb.runMu.Unlock()
	if cb.stop != nil {
		return
	}
	cb.stop = make(chan struct{})
	cb.done = make(chan struct{})
	go cb.run(cb.stop, cb.done)
}

// Stop cancels the background health-check task and waits for it to exit.
// Idempotent.
func (cb *CircuitBreaker) Stop() {
	cb.runMu.Lock()
	defer cb.runMu.Unlock()
	if cb.stop == nil {
		return
	}
	close(cb.stop)
	<-cb.done
	cb.stop = nil
	cb.done = nil
}

func (cb *CircuitBreaker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(cb.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cb.healthCheck()
			cb.sweepMetrics()
		}
	}
}

// healthCheck forces HalfOpen on a circuit stuck open for twice the reset
// timeout.
func (cb *CircuitBreaker) healthCheck() {
	now := time.Now()
	cb.mu.Lock()
	var change *StateChange
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= 2*cb.config.ResetTimeout {
		change = cb.setStateLocked(StateHalfOpen, now)
	}
	cb.mu.Unlock()
	cb.emit(change)
}

// sweepMetrics drops per-operation metrics idle past the retention window.
func (cb *CircuitBreaker) sweepMetrics() {
	cutoff := time.Now().Add(-cb.config.MetricsRetention).UnixNano()
	cb.ops.Range(func(key, value any) bool {
		if value.(*opMetrics).lastAccess.Load() < cutoff {
			cb.ops.Delete(key)
		}
		return true
	})
}
