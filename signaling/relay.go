package signaling

import (
	"fmt"
	"log/slog"

	rtcsignal "github.com/damesirelord/WebRTC-single-server"
	"github.com/damesirelord/WebRTC-single-server/internal"
	"github.com/damesirelord/WebRTC-single-server/internal/metrics"
)

// Relay owns the registries and binds connections to them.
// Transports call Connect when a connection is established, Receive for
// every inbound frame and Disconnect once it is gone.
type Relay struct {
	Sessions   *Sessions
	Rooms      *Rooms
	Sender     *Sender
	Dispatcher *Dispatcher

	codec   Codec
	log     *slog.Logger
	metrics *metrics.Metrics
}

// LifecycleError reports a failure inside connect or disconnect bookkeeping.
type LifecycleError struct {
	Op     string
	UserID rtcsignal.UserID
	Cause  any
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("signaling: %s %q: %v", e.Op, e.UserID, e.Cause)
}

// Uses Default logger if log is nil and JSON if codec is nil.
// m may be nil.
func NewRelay(log *slog.Logger, codec Codec, m *metrics.Metrics) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	r := &Relay{
		Sessions: new(Sessions),
		Rooms:    NewRooms(),
		codec:    codec,
		log:      log,
		metrics:  m,
	}
	r.Sender = &Sender{
		sessions: r.Sessions,
		rooms:    r.Rooms,
		codec:    codec,
		log:      log,
		metrics:  m,
	}
	r.Dispatcher = &Dispatcher{
		rooms:   r.Rooms,
		sender:  r.Sender,
		codec:   codec,
		log:     log,
		metrics: m,
	}
	return r
}

func (r *Relay) Codec() Codec { return r.codec }

// Connect registers p as userId's connection, replacing any earlier one.
func (r *Relay) Connect(userId rtcsignal.UserID, p Peer) {
	defer r.recoverLifecycle("connect", userId)

	r.Sessions.Store(userId, p)
	r.metrics.Inc(metrics.ConnectionsOpened)
	r.log.Info("New connection", "user", userId, "connections", r.Sessions.Len())
}

// ConnectGenerated registers p under a freshly generated user id that no
// other connection holds and returns it.
func (r *Relay) ConnectGenerated(p Peer) (userId rtcsignal.UserID) {
	defer func() { r.recoverLifecycle("connect", userId) }()

	userId = internal.GenerateUniqueUserID(func(id rtcsignal.UserID) bool {
		return r.Sessions.StoreNew(id, p)
	})
	r.metrics.Inc(metrics.ConnectionsOpened)
	r.log.Info("New connection", "user", userId, "generated", true, "connections", r.Sessions.Len())
	return userId
}

// Disconnect forgets p and drops userId from every room. If p was already
// superseded by a newer connection for userId, nothing changes: the user is
// still connected. Remaining members are not notified; only an explicit
// leave does that.
func (r *Relay) Disconnect(userId rtcsignal.UserID, p Peer) {
	defer r.recoverLifecycle("disconnect", userId)

	r.metrics.Inc(metrics.ConnectionsClosed)
	if !r.Sessions.DeleteOwned(userId, p) {
		r.log.Info("Superseded connection closed", "user", userId, "connections", r.Sessions.Len())
		return
	}
	rooms := r.Rooms.RemoveMember(userId)
	r.log.Info("Connection closed", "user", userId, "rooms", rooms, "connections", r.Sessions.Len())
}

// TransportError records a transport failure. It does not change any state.
func (r *Relay) TransportError(userId rtcsignal.UserID, err error) {
	r.metrics.Inc(metrics.TransportErrors)
	r.log.Warn("Transport error", "user", userId, "error", err)
}

// Receive dispatches one inbound frame. Bad frames are logged and dropped;
// the connection stays open.
func (r *Relay) Receive(from rtcsignal.UserID, raw []byte) {
	r.metrics.Inc(metrics.MessagesReceived)
	if err := r.Dispatcher.Dispatch(from, raw); err != nil {
		r.log.Warn("Dropping message", "user", from, "error", err)
	}
}

// Shutdown tells every connected user that the relay is going away.
func (r *Relay) Shutdown() {
	r.Sender.BroadcastAll(msgShutdown())
}

func (r *Relay) recoverLifecycle(op string, userId rtcsignal.UserID) {
	v := recover()
	if v == nil {
		return
	}
	err := &LifecycleError{Op: op, UserID: userId, Cause: v}
	r.metrics.Inc(metrics.LifecycleErrors)
	r.log.Error("Connection bookkeeping failed", "user", userId, "error", err)
}
