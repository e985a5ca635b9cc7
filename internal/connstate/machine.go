// Package connstate tracks the realtime connection lifecycle:
// disconnected -> connecting -> connected -> authenticated.
package connstate

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrConnectAborted    = errors.New("connect attempt aborted")
)

// State is the current connection lifecycle phase.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	// StateConnected means the socket is open and the handshake is
	// acked, but the session is not authenticated yet.
	StateConnected
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Machine serializes connection attempts. At most one of connecting,
// connected, authenticated holds at a time; concurrent connect callers
// collapse onto the single in-flight attempt.
type Machine struct {
	mu       sync.Mutex
	state    State
	lastErr  string
	inflight *attempt
}

// attempt is one connect attempt. err is written once before done
// closes, so waiters read it without the machine lock and a later
// attempt can never overwrite the outcome they parked on.
type attempt struct {
	done chan struct{}
	err  error
}

// NewMachine starts in the disconnected state.
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether the session is fully authenticated.
func (m *Machine) Ready() bool {
	return m.State() == StateAuthenticated
}

// Connecting reports whether a connect attempt is in flight.
func (m *Machine) Connecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnecting
}

// LastError returns the human-readable error of the last failed
// attempt, empty when the last attempt succeeded.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// BeginConnect claims the connect entry action.
//
// Returns owner=true when the caller must drive the attempt. When an
// attempt is already in flight, owner is false and wait parks the
// caller on that attempt's outcome. When the socket is already open
// both returns are zero: connect is an immediate no-op.
func (m *Machine) BeginConnect() (owner bool, wait func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateAuthenticated, StateConnected:
		// The socket is already open; connect is an immediate no-op.
		return false, nil
	case StateConnecting:
		parked := m.inflight
		return false, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-parked.done:
				return parked.err
			}
		}
	default:
		m.state = StateConnecting
		m.lastErr = ""
		m.inflight = &attempt{done: make(chan struct{})}
		return true, nil
	}
}

// SetConnected records handshake success and releases waiters parked
// on the attempt. Only valid while connecting.
func (m *Machine) SetConnected() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting {
		return ErrInvalidTransition
	}
	m.state = StateConnected
	m.resolveLocked(nil)
	return nil
}

// SetAuthenticated records login success.
func (m *Machine) SetAuthenticated() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return ErrInvalidTransition
	}
	m.state = StateAuthenticated
	m.lastErr = ""
	m.resolveLocked(nil)
	return nil
}

// Fail lands the machine in disconnected with the given error and
// releases waiters. Used for failed connects and failed logins.
func (m *Machine) Fail(err error) {
	if err == nil {
		err = ErrConnectAborted
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDisconnected
	m.lastErr = err.Error()
	m.resolveLocked(err)
}

// Drop records a socket close. Valid from any state; an in-flight
// connect attempt is resolved as failed.
func (m *Machine) Drop(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDisconnected
	if err != nil {
		m.lastErr = err.Error()
	}
	resolved := err
	if resolved == nil {
		resolved = ErrConnectAborted
	}
	m.resolveLocked(resolved)
}

func (m *Machine) resolveLocked(err error) {
	if m.inflight == nil {
		return
	}
	m.inflight.err = err
	close(m.inflight.done)
	m.inflight = nil
}
