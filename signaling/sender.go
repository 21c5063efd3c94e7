package signaling

import (
	"log/slog"

	rtcsignal "github.com/damesirelord/WebRTC-single-server"
	"github.com/damesirelord/WebRTC-single-server/internal/metrics"
)

// Sender delivers messages to users through the Session Registry.
// Unreachable users are skipped and send failures are logged, never returned.
type Sender struct {
	sessions *Sessions
	rooms    *Rooms
	codec    Codec
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func (s *Sender) Unicast(userId rtcsignal.UserID, v any) {
	b, ok := s.encode(v)
	if !ok {
		return
	}
	s.send(userId, b)
}

// RoomBroadcast sends v to every member of roomId. Must not be called from
// inside a Rooms.Update callback.
func (s *Sender) RoomBroadcast(roomId rtcsignal.RoomID, v any) {
	members := s.rooms.Members(roomId)
	if len(members) == 0 {
		return
	}
	b, ok := s.encode(v)
	if !ok {
		return
	}
	for _, userId := range members {
		s.send(userId, b)
	}
}

// BroadcastAll sends v to every registered connection, in a room or not.
func (s *Sender) BroadcastAll(v any) {
	b, ok := s.encode(v)
	if !ok {
		return
	}
	for userId := range s.sessions.All() {
		s.send(userId, b)
	}
}

func (s *Sender) encode(v any) ([]byte, bool) {
	b, err := s.codec.Marshal(v)
	if err != nil {
		s.metrics.Inc(metrics.SendErrors)
		s.log.Error("Failed to encode message", "codec", s.codec.Name(), "error", err)
		return nil, false
	}
	return b, true
}

func (s *Sender) send(userId rtcsignal.UserID, b []byte) {
	p, ok := s.sessions.Load(userId)
	if !ok || !p.Open() {
		s.metrics.Inc(metrics.SendSkipped)
		s.log.Debug("Recipient unreachable, skipping", "user", userId)
		return
	}
	if err := p.Send(b); err != nil {
		s.metrics.Inc(metrics.SendErrors)
		s.log.Warn("Failed to send message", "user", userId, "error", err)
		return
	}
	s.log.Debug("Sent message", "user", userId, "bytes", len(b))
}
