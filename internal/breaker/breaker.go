// Package breaker implements the circuit-breaker + retry core from spec
// §4.G: one breaker per named circuit ("evm", "ibc", "ibc-transfer",
// "default"), an exponential-backoff-with-jitter retry loop built on
// juju/retry, and a process-wide emergency stop.
package breaker

import (
	"sync"
	"time"

	"github.com/htlcrelay/relayer/internal/log"
)

// State is a circuit breaker's position in the Closed/Open/HalfOpen cycle.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Policy configures one named breaker's trip/cooldown thresholds.
type Policy struct {
	FailureThreshold int           // consecutive failures before tripping open
	Cooldown         time.Duration // time spent open before probing half-open
}

// DefaultPolicy is used for any circuit name not explicitly configured.
var DefaultPolicy = Policy{FailureThreshold: 5, Cooldown: 30 * time.Second}

// circuit is the mutable state of a single named breaker. All mutation
// goes through the Manager's locked methods; nothing outside this file
// touches these fields directly.
type circuit struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	policy              Policy

	// rolling window bookkeeping for Health()'s "error rate > 0.5" check.
	windowStart time.Time
	windowOK    int
	windowErr   int
}

const healthWindow = 5 * time.Minute

// Manager owns every named circuit plus the emergency-stop flag. It is the
// single shared, lock-guarded collaborator every component obtains
// through the service container (spec §9 "Global state").
type Manager struct {
	mu       sync.RWMutex
	circuits map[string]*circuit
	policies map[string]Policy

	stopped bool
}

// NewManager constructs a Manager with the given per-circuit policy
// overrides; circuits not present in policies use DefaultPolicy.
func NewManager(policies map[string]Policy) *Manager {
	return &Manager{
		circuits: make(map[string]*circuit),
		policies: policies,
	}
}

func (m *Manager) circuitFor(name string) *circuit {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.circuits[name]
	if ok {
		return c
	}

	policy, ok := m.policies[name]
	if !ok {
		policy = DefaultPolicy
	}
	c = &circuit{policy: policy, windowStart: time.Now()}
	m.circuits[name] = c
	return c
}

// allow reports whether name currently permits execution, transitioning
// Open -> HalfOpen once the cooldown has elapsed.
func (m *Manager) allow(name string) bool {
	c := m.circuitFor(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Open:
		if time.Since(c.openedAt) >= c.policy.Cooldown {
			c.state = HalfOpen
			log.Breaker.Infof("circuit %q cooldown elapsed, probing half-open", name)
			return true
		}
		return false
	default:
		return true
	}
}

// reportSuccess records a successful call against name, closing the
// circuit if it was half-open.
func (m *Manager) reportSuccess(name string) {
	c := m.circuitFor(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
	if c.state != Closed {
		log.Breaker.Infof("circuit %q closed after successful probe", name)
	}
	c.state = Closed

	c.rollWindow()
	c.windowOK++
}

// reportFailure records a failed call against name, tripping the circuit
// open if the failure threshold is reached (or immediately, if the probe
// call from HalfOpen fails).
func (m *Manager) reportFailure(name string) {
	c := m.circuitFor(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollWindow()
	c.windowErr++

	if c.state == HalfOpen {
		c.state = Open
		c.openedAt = time.Now()
		log.Breaker.Warnf("circuit %q re-opened after failed probe", name)
		return
	}

	c.consecutiveFailures++
	if c.consecutiveFailures >= c.policy.FailureThreshold && c.state == Closed {
		c.state = Open
		c.openedAt = time.Now()
		log.Breaker.Warnf("circuit %q opened after %d consecutive failures",
			name, c.consecutiveFailures)
	}
}

func (c *circuit) rollWindow() {
	if time.Since(c.windowStart) > healthWindow {
		c.windowStart = time.Now()
		c.windowOK = 0
		c.windowErr = 0
	}
}

// StateOf returns the current state of a named circuit, for health
// reporting and the "circuit reset/trip" operator commands.
func (m *Manager) StateOf(name string) State {
	c := m.circuitFor(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ErrorRate returns the fraction of failed calls to name within the
// current rolling health window.
func (m *Manager) ErrorRate(name string) float64 {
	c := m.circuitFor(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.windowOK + c.windowErr
	if total == 0 {
		return 0
	}
	return float64(c.windowErr) / float64(total)
}

// Trip forces a named circuit open, used by the "circuit trip" operator
// command.
func (m *Manager) Trip(name, reason string) {
	c := m.circuitFor(name)
	c.mu.Lock()
	c.state = Open
	c.openedAt = time.Now()
	c.mu.Unlock()
	log.Breaker.Warnf("circuit %q manually tripped: %s", name, reason)
}

// Reset forces a named circuit closed, used by the "circuit reset"
// operator command. name == "all" resets every known circuit.
func (m *Manager) Reset(name string) {
	if name == "all" {
		m.mu.RLock()
		names := make([]string, 0, len(m.circuits))
		for n := range m.circuits {
			names = append(names, n)
		}
		m.mu.RUnlock()
		for _, n := range names {
			m.Reset(n)
		}
		return
	}

	c := m.circuitFor(name)
	c.mu.Lock()
	c.state = Closed
	c.consecutiveFailures = 0
	c.mu.Unlock()
	log.Breaker.Infof("circuit %q manually reset", name)
}

// Names returns every circuit the manager has observed so far.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.circuits))
	for n := range m.circuits {
		names = append(names, n)
	}
	return names
}

// EmergencyStop halts all outbound operations process-wide. Reversed only
// by Resume.
func (m *Manager) EmergencyStop(reason string) {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	log.Breaker.Warnf("EMERGENCY STOP engaged: %s", reason)
}

// Resume clears a prior EmergencyStop.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.stopped = false
	m.mu.Unlock()
	log.Breaker.Infof("emergency stop cleared, resuming operations")
}

// Stopped reports whether EmergencyStop is currently in effect.
func (m *Manager) Stopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// Healthy implements spec §4.G's Health predicate: not stopped, at most
// two breakers open, and no kind's rolling error rate exceeds 0.5.
func (m *Manager) Healthy() bool {
	if m.Stopped() {
		return false
	}

	openCount := 0
	for _, name := range m.Names() {
		if m.StateOf(name) == Open {
			openCount++
		}
		if m.ErrorRate(name) > 0.5 {
			return false
		}
	}
	return openCount <= 2
}
