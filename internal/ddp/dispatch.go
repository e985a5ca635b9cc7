package ddp

import (
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/wire"
	"main/pkg/exception"
)

func (s *Session) buildDispatchTable() map[string]func(*wire.Frame) {
	ignore := func(*wire.Frame) {}
	return map[string]func(*wire.Frame){
		wire.MsgConnected: s.handleConnected,
		wire.MsgFailed:    s.handleFailed,
		wire.MsgPing:      s.handlePing,
		wire.MsgPong:      ignore,
		wire.MsgResult:    s.handleResult,
		wire.MsgAdded:     s.handleChange,
		wire.MsgChanged:   s.handleChange,
		wire.MsgRemoved:   s.handleChange,
		// Server-side bookkeeping frames the client does not act on.
		"ready":   ignore,
		"nosub":   ignore,
		"updated": ignore,
	}
}

func (s *Session) handleEvent(e bus.Event) {
	if e.Frame == nil {
		return
	}
	handler, ok := s.dispatch[e.Frame.Msg]
	if !ok {
		s.metrics.IncFrameDropped()
		logs.Debugf("unhandled frame kind %q", e.Frame.Msg)
		return
	}
	start := time.Now()
	handler(e.Frame)
	s.metrics.ObserveDispatch(time.Since(start))
}

func (s *Session) handleConnected(f *wire.Frame) {
	s.mu.Lock()
	s.serverSession = f.Session
	s.established = true
	ack := s.connectAck
	s.connectAck = nil
	s.mu.Unlock()
	if ack != nil {
		ack <- nil
	}
}

func (s *Session) handleFailed(*wire.Frame) {
	s.mu.Lock()
	ack := s.connectAck
	s.connectAck = nil
	s.mu.Unlock()
	if ack != nil {
		ack <- exception.ErrConnectRejected
	}
}

func (s *Session) handlePing(f *wire.Frame) {
	if err := s.send(&wire.Frame{Msg: wire.MsgPong, ID: f.ID}); err != nil {
		logs.Debugf("send pong, err: %+v", err)
	}
}

func (s *Session) handleResult(f *wire.Frame) {
	ch, ok := s.takePending(f.ID)
	if !ok {
		// Late result after timeout, or a server bug. Either way the
		// pending entry is gone and must not be re-resolved.
		logs.Debugf("result for unknown call id %q", f.ID)
		return
	}
	if f.Error != nil {
		ch <- callOutcome{err: f.Error}
		return
	}
	ch <- callOutcome{result: f.Result}
}

// handleChange broadcasts a collection change to every registered
// subscription callback. Callbacks filter by collection name and
// payload identity themselves; the wire protocol does not bind changes
// to specific subscription ids, and that looseness is kept on purpose.
func (s *Session) handleChange(f *wire.Frame) {
	change := CollectionChange{
		Kind:       f.Msg,
		Collection: f.Collection,
		ID:         f.ID,
		Fields:     f.Fields,
	}

	// Copy first: a callback may subscribe or unsubscribe re-entrantly.
	s.mu.Lock()
	handlers := make([]EventHandler, 0, len(s.subs))
	for _, sub := range s.subs {
		handlers = append(handlers, sub.handler)
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(change)
	}
}
