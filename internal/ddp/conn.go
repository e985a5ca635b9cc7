package ddp

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/wire"
	"main/pkg/exception"
)

// dial opens the socket, sends the protocol handshake, and resolves
// only on the server's acknowledgment frame.
func (s *Session) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	ack := make(chan error, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return exception.ErrSessionClosed
	}
	s.conn = conn
	s.gen++
	gen := s.gen
	s.connectAck = ack
	s.established = false
	s.mu.Unlock()

	go s.readLoop(conn, gen)

	handshake := &wire.Frame{Msg: wire.MsgConnect, Version: "1", Support: []string{"1"}}
	if err := s.send(handshake); err != nil {
		s.dropConn(gen, err)
		return err
	}

	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		if err != nil {
			s.dropConn(gen, err)
			return err
		}
	case <-timer.C:
		s.dropConn(gen, exception.ErrConnectTimeout)
		return exception.ErrConnectTimeout
	case <-ctx.Done():
		s.dropConn(gen, ctx.Err())
		return ctx.Err()
	}

	go s.pingLoop(gen)
	return nil
}

// Reconnect runs a manually triggered full cycle: transport reconnect
// plus re-authentication with the stored token. Overlapping calls
// collapse onto an in-flight connect attempt.
func (s *Session) Reconnect(ctx context.Context) error {
	owner, wait := s.machine.BeginConnect()
	for !owner {
		if wait != nil {
			return wait(ctx)
		}
		// Authenticated on a connection we no longer trust: tear it
		// down and claim the cycle.
		s.dropCurrent(exception.ErrConnectionClose)
		owner, wait = s.machine.BeginConnect()
	}

	s.dropCurrent(nil)

	if err := s.dial(ctx); err != nil {
		s.machine.Fail(err)
		return err
	}
	if err := s.machine.SetConnected(); err != nil {
		logs.Warnf("reconnect state transition, err: %+v", err)
	}

	s.mu.Lock()
	token, principal := s.token, s.principalID
	s.mu.Unlock()
	if token == "" {
		return nil
	}
	return s.Authenticate(ctx, token, principal)
}

// readLoop pumps inbound frames into the dispatch queue until the
// connection dies.
func (s *Session) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.onConnLost(gen, err)
			return
		}
		frame, derr := wire.DecodeFrame(payload)
		if derr != nil {
			s.metrics.IncFrameDropped()
			logs.Errorf("decode inbound frame, err: %+v", derr)
			continue
		}
		s.metrics.IncFrameIn()
		if perr := s.queue.TryPublish(bus.Event{Frame: frame}); perr != nil {
			if perr == bus.ErrQueueClosed {
				s.metrics.IncQueueClosed()
				return
			}
			s.metrics.IncQueueDrop()
			logs.Warnf("inbound queue full, dropping %s frame", frame.Msg)
		}
	}
}

// pingLoop keeps the connection alive with periodic protocol pings.
func (s *Session) pingLoop(gen uint64) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			stale := s.gen != gen || s.conn == nil
			s.mu.Unlock()
			if stale {
				return
			}
			if err := s.send(&wire.Frame{Msg: wire.MsgPing}); err != nil {
				logs.Debugf("send ping, err: %+v", err)
				return
			}
		}
	}
}

// onConnLost handles an unexpected read failure. Stale generations are
// ignored so a replaced connection cannot tear down its successor.
func (s *Session) onConnLost(gen uint64, cause error) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	established := s.established
	s.established = false
	ack := s.connectAck
	s.connectAck = nil
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	_ = conn.Close()
	if ack != nil {
		ack <- errors.Wrap(cause, "connection lost during handshake")
		return
	}
	if !established {
		return
	}

	logs.Warnf("connection lost, err: %+v", cause)
	s.machine.Drop(exception.ErrConnectionClose)
	s.failPending(exception.ErrConnectionClose)
	go s.reconnectLoop()
}

// dropConn invalidates and closes the connection for gen without
// scheduling a reconnect. Used by failed handshakes and by Reconnect.
func (s *Session) dropConn(gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.established = false
	s.connectAck = nil
	s.gen++
	s.mu.Unlock()
	_ = conn.Close()
	if cause != nil {
		logs.Debugf("drop connection, err: %+v", cause)
	}
}

// dropCurrent closes whatever connection is live, fails pending calls,
// and records the disconnect. No reconnect is scheduled.
func (s *Session) dropCurrent(cause error) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.established = false
	s.connectAck = nil
	s.subs = make(map[string]*subscription)
	if conn != nil {
		s.gen++
	}
	s.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	if cause != nil {
		s.machine.Drop(cause)
	}
	s.failPending(exception.ErrConnectionClose)
}

// reconnectLoop retries a full reconnect cycle with exponential
// backoff, capped at the configured attempt count. After the cap the
// session stops retrying and surfaces a fatal connection error.
func (s *Session) reconnectLoop() {
	lastErr := error(exception.ErrConnectionClose)
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		wait := s.cfg.ReconnectBase << uint(attempt-1)
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.Reconnect(s.ctx); err != nil {
			lastErr = err
			logs.Warnf("reconnect attempt %d/%d, err: %+v", attempt, s.cfg.MaxReconnectAttempts, err)
			continue
		}
		s.metrics.IncReconnect()
		logs.Infof("reconnected after %d attempt(s)", attempt)
		return
	}

	err := errors.Wrap(exception.ErrReconnectFailed, lastErr.Error())
	s.machine.Fail(err)
	logs.Errorf("reconnect attempts exhausted, err: %+v", err)
	if s.cfg.OnFatal != nil {
		s.cfg.OnFatal(err)
	}
}
