// Package ddp implements the transport session: one websocket
// connection carrying method calls and stream subscriptions as JSON
// frames, with heartbeat, reconnect, and inbound dispatch.
package ddp

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/connstate"
	"main/internal/obs"
	"main/internal/wire"
	"main/pkg/exception"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCallTimeout    = 30 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultReconnectBase  = 500 * time.Millisecond
	defaultMaxReconnects  = 5
	defaultQueueSize      = 1024
)

// Config defines the session runtime configuration.
type Config struct {
	URL                  string
	ConnectTimeout       time.Duration
	CallTimeout          time.Duration
	PingInterval         time.Duration
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	QueueSize            int
	Machine              *connstate.Machine
	Metrics              *obs.Metrics

	// OnAuthenticated fires after every successful login, including
	// re-logins driven by the reconnect loop. Subscription replay
	// hangs off this hook.
	OnAuthenticated func()

	// OnFatal fires when the reconnect attempt cap is exhausted.
	OnFatal func(err error)
}

// CollectionChange is a collection change event broadcast to every
// registered subscription callback. Callbacks filter by collection
// name and payload identity themselves; the transport does not route
// changes to specific subscription ids.
type CollectionChange struct {
	Kind       string
	Collection string
	ID         string
	Fields     []byte
}

// EventHandler consumes broadcast collection changes.
type EventHandler func(change CollectionChange)

type subscription struct {
	id      string
	name    string
	params  []any
	handler EventHandler
}

type callOutcome struct {
	result []byte
	err    error
}

// Session owns the physical connection, the pending call table, and
// the local subscription records.
type Session struct {
	cfg     Config
	machine *connstate.Machine
	metrics *obs.Metrics
	queue   *bus.Queue

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	conn          *websocket.Conn
	gen           uint64
	established   bool
	nextID        uint64
	pending       map[string]chan callOutcome
	subs          map[string]*subscription
	connectAck    chan error
	serverSession string
	token         string
	principalID   string
	closed        bool

	dispatch map[string]func(*wire.Frame)
}

// NewSession builds a session and starts its dispatch loop. The
// session stays usable across reconnects until Close.
func NewSession(cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, exception.ErrInvalidArgument
	}
	if cfg.Machine == nil {
		cfg.Machine = connstate.NewMachine()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnects
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		machine: cfg.Machine,
		metrics: cfg.Metrics,
		queue:   bus.NewQueue(cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan callOutcome),
		subs:    make(map[string]*subscription),
	}
	s.dispatch = s.buildDispatchTable()

	go s.queue.Run(ctx, s.handleEvent)
	return s, nil
}

// Machine exposes the connection state machine.
func (s *Session) Machine() *connstate.Machine {
	return s.machine
}

// PrincipalID returns the authenticated principal's id, empty before
// the first successful login.
func (s *Session) PrincipalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principalID
}

// ServerSession returns the session id handed out by the server's
// handshake acknowledgment.
func (s *Session) ServerSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSession
}

// Connect is idempotent: a no-op when authenticated, and concurrent
// callers collapse onto the single in-flight attempt. It resolves on
// the server's handshake acknowledgment, not on socket open.
func (s *Session) Connect(ctx context.Context) error {
	owner, wait := s.machine.BeginConnect()
	if !owner {
		if wait == nil {
			return nil
		}
		return wait(ctx)
	}

	if err := s.dial(ctx); err != nil {
		s.machine.Fail(err)
		return err
	}
	if err := s.machine.SetConnected(); err != nil {
		logs.Warnf("connect state transition, err: %+v", err)
	}
	return nil
}

// Authenticate resumes an authenticated session with the stored token.
// The socket must already be open; this never dials implicitly.
func (s *Session) Authenticate(ctx context.Context, token, principalID string) error {
	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return exception.ErrNotConnected
	}

	_, err := s.Call(ctx, "login", map[string]any{"resume": token})
	if err != nil {
		// A rejected login lands the whole session in disconnected,
		// socket included.
		s.dropCurrent(nil)
		s.machine.Fail(errors.Wrap(exception.ErrLoginFailed, err.Error()))
		return errors.Wrap(err, "login")
	}

	s.mu.Lock()
	s.token = token
	s.principalID = principalID
	s.mu.Unlock()

	if err := s.machine.SetAuthenticated(); err != nil {
		logs.Warnf("authenticate state transition, err: %+v", err)
	}
	if s.cfg.OnAuthenticated != nil {
		s.cfg.OnAuthenticated()
	}
	return nil
}

// Call issues a method call and blocks until the server's result, the
// call timeout, or ctx cancellation. Each call id has exactly one
// pending entry, removed exactly once.
func (s *Session) Call(ctx context.Context, method string, params ...any) ([]byte, error) {
	encoded, err := wire.EncodeParams(params...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, exception.ErrNotConnected
	}
	id := s.nextIDLocked()
	ch := make(chan callOutcome, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	s.metrics.IncCallIssued()
	frame := &wire.Frame{Msg: wire.MsgMethod, ID: id, Method: method, Params: encoded}
	if err := s.send(frame); err != nil {
		s.takePending(id)
		return nil, errors.Wrap(exception.ErrFailedToSend, err.Error())
	}

	timer := time.NewTimer(s.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case outcome := <-ch:
		return outcome.result, outcome.err
	case <-timer.C:
		s.takePending(id)
		s.metrics.IncCallTimeout()
		return nil, errors.Wrapf(exception.ErrCallTimeout, "method: %s", method)
	case <-ctx.Done():
		s.takePending(id)
		return nil, ctx.Err()
	}
}

// Subscribe registers a subscription record and sends the sub frame.
// Fire and forget: the id returns synchronously, no ack is awaited.
func (s *Session) Subscribe(name string, params []any, handler EventHandler) string {
	s.mu.Lock()
	id := s.nextIDLocked()
	s.subs[id] = &subscription{id: id, name: name, params: params, handler: handler}
	connected := s.conn != nil
	s.mu.Unlock()

	if connected {
		s.sendSub(id, name, params)
	}
	return id
}

// Unsubscribe removes the local record and sends the unsub frame.
// Unknown ids are a no-op.
func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	_, known := s.subs[id]
	delete(s.subs, id)
	connected := s.conn != nil
	s.mu.Unlock()

	if !known || !connected {
		return
	}
	if err := s.send(&wire.Frame{Msg: wire.MsgUnsub, ID: id}); err != nil {
		// No retry: a leaked server-side subscription is replaced
		// wholesale on the next reconnect.
		logs.Debugf("send unsub %s, err: %+v", id, err)
	}
}

// Disconnect drops the live connection without scheduling a
// reconnect. The session stays usable; Connect opens a fresh socket.
func (s *Session) Disconnect() {
	s.dropCurrent(exception.ErrConnectionClose)
}

// Close tears the session down permanently.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.cancel()
	s.queue.Close()
	s.failPending(exception.ErrSessionClosed)
}

func (s *Session) nextIDLocked() string {
	s.nextID++
	return strconv.FormatUint(s.nextID, 10)
}

func (s *Session) takePending(id string) (chan callOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return ch, ok
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan callOutcome)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- callOutcome{err: err}
	}
}

func (s *Session) send(frame *wire.Frame) error {
	payload, err := frame.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return exception.ErrNotConnected
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

func (s *Session) sendSub(id, name string, params []any) {
	encoded, err := wire.EncodeParams(params...)
	if err != nil {
		logs.Errorf("encode sub params %s, err: %+v", name, err)
		return
	}
	s.metrics.IncSubscribeSent()
	if err := s.send(&wire.Frame{Msg: wire.MsgSub, ID: id, Name: name, Params: encoded}); err != nil {
		logs.Debugf("send sub %s, err: %+v", name, err)
	}
}
