// Package chat is the composition root: one Service owns the
// transport session, the subscription registry, the notification
// aggregator, and the read-receipt debouncer, and exposes the surface
// consumers call.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/connstate"
	"main/internal/ddp"
	"main/internal/notify"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/receipt"
	"main/internal/registry"
	"main/internal/wire"
	"main/pkg/exception"
)

const (
	// StreamNotifyUser carries the principal's subscription metadata:
	// authoritative unread snapshots and room-list changes.
	StreamNotifyUser = "stream-notify-user"

	collectionSubscriptionsChanged = "subscriptions-changed"
	collectionRoomsChanged         = "rooms-changed"
)

// markAsReadMethods are tried in order until one succeeds. Backends
// disagree on the method name; a connection failure aborts the walk,
// any other rejection falls through to the next candidate.
var markAsReadMethods = []string{
	"readMessages",
	"rooms/markAsRead",
	"markRoomAsRead",
}

// CredentialStore supplies the resume token and principal id used for
// login. Called on every connect cycle so rotated tokens are picked up.
type CredentialStore interface {
	Credentials() (token, principalID string, err error)
}

// RoomListener receives room-list changes from the principal stream.
type RoomListener interface {
	RoomChanged(change *wire.RoomChange)
}

// MessageCache receives validated room-level messages for rendering.
type MessageCache = registry.MessageCache

// Service wires the transport, registry, aggregator, and debouncer
// into one client. Zero value is not usable; build with New.
type Service struct {
	session    *ddp.Session
	machine    *connstate.Machine
	metrics    *obs.Metrics
	registry   *registry.Registry
	aggregator *notify.Aggregator
	debouncer  *receipt.Debouncer
	creds      CredentialStore
	listener   RoomListener

	// connectMu serializes full connect cycles so concurrent callers
	// share one handshake and one login.
	connectMu sync.Mutex

	mu             sync.Mutex
	principalSubID string
}

// New builds the full client. creds must not be nil; cache and
// listener may be nil when no consumer exists for them.
func New(loaded ops.Loaded, creds CredentialStore, cache MessageCache, listener RoomListener) (*Service, error) {
	if creds == nil {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "nil credential store")
	}

	s := &Service{
		machine:  connstate.NewMachine(),
		metrics:  obs.NewMetrics(),
		creds:    creds,
		listener: listener,
	}

	session, err := ddp.NewSession(ddp.Config{
		URL:                  loaded.Server.URL,
		ConnectTimeout:       loaded.Server.ConnectTimeout,
		CallTimeout:          loaded.Server.CallTimeout,
		PingInterval:         loaded.Server.PingInterval,
		ReconnectBase:        loaded.Server.ReconnectBase,
		MaxReconnectAttempts: loaded.Server.MaxReconnectAttempts,
		QueueSize:            loaded.Server.QueueSize,
		Machine:              s.machine,
		Metrics:              s.metrics,
		OnAuthenticated:      s.onAuthenticated,
		OnFatal: func(err error) {
			logs.Errorf("connection is gone for good, err: %+v", err)
		},
	})
	if err != nil {
		return nil, err
	}
	s.session = session

	s.aggregator = notify.New(nil)
	s.registry = registry.New(session, cache, s.aggregator)
	s.aggregator.BindViewer(s.registry)
	s.debouncer = receipt.New(loaded.Receipt.Debounce, s.markRoomRead, s.backgroundReconnect, s.machine.Connecting)
	return s, nil
}

// Connect opens the socket, completes the protocol handshake, and
// logs in with the stored credentials. Idempotent when already
// authenticated; concurrent callers share one attempt.
func (s *Service) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.machine.Ready() {
		return nil
	}
	if err := s.session.Connect(ctx); err != nil {
		return err
	}
	if s.machine.Ready() {
		return nil
	}

	token, principal, err := s.creds.Credentials()
	if err != nil {
		s.session.Disconnect()
		return errors.Wrap(err, "load credentials")
	}
	return s.session.Authenticate(ctx, token, principal)
}

// Reconnect tears down the live connection and runs a full connect
// cycle, login included.
func (s *Service) Reconnect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	return s.session.Reconnect(ctx)
}

// Disconnect drops the connection without scheduling a reconnect and
// cancels pending read receipts. The service stays usable.
func (s *Service) Disconnect() {
	s.debouncer.StopAll()
	s.session.Disconnect()
}

// Close shuts the service down permanently.
func (s *Service) Close() {
	s.debouncer.StopAll()
	s.session.Close()
}

// State returns the connection lifecycle state.
func (s *Service) State() connstate.State {
	return s.machine.State()
}

// Metrics returns a point-in-time counter snapshot.
func (s *Service) Metrics() obs.Snapshot {
	return s.metrics.Snapshot()
}

// SubscribeRoom registers room-level interest. Callers gate on the
// connection being authenticated; before that this is a no-op.
func (s *Service) SubscribeRoom(roomID string) {
	if !s.machine.Ready() {
		logs.Debugf("subscribe room %s while %s, skipped", roomID, s.machine.State())
		return
	}
	s.registry.SubscribeRoom(roomID)
}

// UnsubscribeRoom drops one room-level ref.
func (s *Service) UnsubscribeRoom(roomID string) {
	s.registry.UnsubscribeRoom(roomID)
}

// SubscribeThread registers interest in one thread, sharing the
// room's transport subscription. No-op before authentication.
func (s *Service) SubscribeThread(roomID, threadID string) {
	if !s.machine.Ready() {
		logs.Debugf("subscribe thread %s/%s while %s, skipped", roomID, threadID, s.machine.State())
		return
	}
	s.registry.SubscribeThread(roomID, threadID)
	s.aggregator.ClearThread(roomID, threadID)
}

// UnsubscribeThread drops one thread ref.
func (s *Service) UnsubscribeThread(roomID, threadID string) {
	s.registry.UnsubscribeThread(roomID, threadID)
}

// MarkRoomAsRead zeroes the room's unread state immediately and
// schedules the debounced network receipt. The optimistic zero is
// never rolled back.
func (s *Service) MarkRoomAsRead(roomID string) {
	s.aggregator.MarkRoomOpened(roomID)
	s.debouncer.MarkRoomAsRead(roomID)
}

// RoomUnread returns the room's unread count.
func (s *Service) RoomUnread(roomID string) int {
	return s.aggregator.RoomUnread(roomID)
}

// RoomAlert returns the room's alert flag.
func (s *Service) RoomAlert(roomID string) bool {
	return s.aggregator.RoomAlert(roomID)
}

// LastMessageAt returns the room's last activity time.
func (s *Service) LastMessageAt(roomID string) time.Time {
	return s.aggregator.LastMessageAt(roomID)
}

// ThreadNotification returns one thread's notification state.
func (s *Service) ThreadNotification(roomID, threadID string) (notify.ThreadNotification, bool) {
	return s.aggregator.ThreadNotification(roomID, threadID)
}

// RoomThreadTotal sums every tracked thread count for the room.
func (s *Service) RoomThreadTotal(roomID string) int {
	return s.aggregator.RoomThreadTotal(roomID)
}

// onAuthenticated runs after every successful login: bind the
// principal, refresh the principal stream, and replay every surviving
// room subscription onto the new connection.
func (s *Service) onAuthenticated() {
	principal := s.session.PrincipalID()
	s.aggregator.SetPrincipal(principal)

	s.mu.Lock()
	stale := s.principalSubID
	s.mu.Unlock()
	if stale != "" {
		// The old id belongs to a dead connection; unsubscribing an
		// unknown id is a no-op there.
		s.session.Unsubscribe(stale)
	}
	id := s.session.Subscribe(StreamNotifyUser, []any{principal, false}, s.principalHandler())
	s.mu.Lock()
	s.principalSubID = id
	s.mu.Unlock()

	s.registry.Replay()
	s.metrics.IncSubReplayed()
}

// principalHandler consumes the principal stream's share of the
// broadcast change stream: authoritative subscription snapshots and
// room-list changes.
func (s *Service) principalHandler() ddp.EventHandler {
	return func(change ddp.CollectionChange) {
		switch change.Collection {
		case collectionSubscriptionsChanged:
			if change.Kind == wire.MsgRemoved {
				return
			}
			update, err := wire.DecodeSubscriptionUpdate(change.Fields)
			if err != nil {
				logs.Errorf("drop malformed subscription update, err: %+v", err)
				return
			}
			s.aggregator.ApplySubscriptionUpdate(update)
		case collectionRoomsChanged:
			if s.listener == nil {
				return
			}
			if change.Kind == wire.MsgRemoved {
				// Removal frames carry no payload beyond the id.
				s.listener.RoomChanged(&wire.RoomChange{Kind: wire.RoomRemoved, RoomID: change.ID})
				return
			}
			rc, err := wire.DecodeRoomChange(change.Kind, change.Fields)
			if err != nil {
				logs.Errorf("drop malformed room change, err: %+v", err)
				return
			}
			s.listener.RoomChanged(rc)
		}
	}
}

// markRoomRead is the debouncer's network call. Candidates are tried
// in order; the first success wins, intermediate rejections are
// swallowed, and a connection failure aborts the walk so the
// debouncer can escalate it.
func (s *Service) markRoomRead(ctx context.Context, roomID string) error {
	var lastErr error
	for _, method := range markAsReadMethods {
		_, err := s.session.Call(ctx, method, roomID)
		if err == nil {
			return nil
		}
		if receipt.IsConnectionError(err) {
			return err
		}
		lastErr = err
	}
	return errors.Wrapf(lastErr, "mark room %s as read", roomID)
}

// backgroundReconnect runs the debouncer's escalation path off the
// timer goroutine.
func (s *Service) backgroundReconnect() {
	if err := s.session.Reconnect(context.Background()); err != nil {
		logs.Warnf("receipt-triggered reconnect, err: %+v", err)
	}
}
