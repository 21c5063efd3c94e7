package signaling

import (
	"fmt"
	"log/slog"
	"slices"

	rtcsignal "github.com/damesirelord/WebRTC-single-server"
	"github.com/damesirelord/WebRTC-single-server/internal/metrics"
)

// Dispatcher routes decoded envelopes to the join, leave, p2p and room chat
// handlers. It holds no per-connection state.
type Dispatcher struct {
	rooms   *Rooms
	sender  *Sender
	codec   Codec
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Dispatch decodes raw as an envelope sent by from and handles it.
// Undecodable envelopes and unknown operations are returned as errors and
// leave all state untouched.
func (d *Dispatcher) Dispatch(from rtcsignal.UserID, raw []byte) error {
	var env Envelope
	if err := d.codec.Unmarshal(raw, &env); err != nil {
		d.metrics.Inc(metrics.DecodeErrors)
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	op := ParseOp(env.Handle)
	if op == OpInvalid {
		d.metrics.Inc(metrics.UnknownOps)
		return fmt.Errorf("%w: %q", ErrUnknownOp, env.Handle)
	}
	roomId := env.Data.RoomID
	if roomId == "" {
		d.metrics.Inc(metrics.DecodeErrors)
		return fmt.Errorf("%s: %w", op, ErrMissingRoomID)
	}

	d.log.Debug("Dispatching message", "op", op, "user", from, "room", roomId)
	switch op {
	case OpJoin:
		d.Join(from, roomId)
	case OpLeave:
		d.Leave(from, roomId)
	case OpP2P:
		d.P2P(from, roomId, env.Data.Desc)
	case OpRoomChat:
		if env.Data.ChatMessage == nil {
			d.metrics.Inc(metrics.DecodeErrors)
			return fmt.Errorf("%s: %w", op, ErrMissingChatMessage)
		}
		d.RoomChat(roomId, env.Data.ChatMessage)
	}
	return nil
}

// Join adds userId to roomId unless the room is already at capacity, then
// tells the joiner "joined" and every earlier member "otherjoin".
// A full room only gets the joiner a "full" notice.
func (d *Dispatcher) Join(userId rtcsignal.UserID, roomId rtcsignal.RoomID) {
	joined := false
	err := d.rooms.Update(roomId, func(members []rtcsignal.UserID) []rtcsignal.UserID {
		if len(members) >= rtcsignal.RoomCapacity {
			d.metrics.Inc(metrics.RoomFull)
			d.log.Info("Room is full", "room", roomId, "user", userId)
			d.sender.Unicast(userId, msgFull(roomId, userId))
			return members
		}
		if !slices.Contains(members, userId) {
			members = append(members, userId)
		}
		joined = true
		for _, member := range members {
			if member == userId {
				d.sender.Unicast(member, msgJoined(roomId, userId))
			} else {
				d.sender.Unicast(member, msgOtherJoin(roomId, userId))
			}
		}
		return members
	})
	if err != nil {
		d.log.Error("Join rejected", "room", roomId, "user", userId, "error", err)
		return
	}
	if joined {
		d.log.Info("User joined room", "room", roomId, "user", userId)
	}
}

// Leave notifies every current member ("leaved" to the leaver, "bye" to the
// rest) and then removes userId. Leaving a room you are not in is a no-op.
func (d *Dispatcher) Leave(userId rtcsignal.UserID, roomId rtcsignal.RoomID) {
	left := false
	err := d.rooms.Update(roomId, func(members []rtcsignal.UserID) []rtcsignal.UserID {
		if !slices.Contains(members, userId) {
			return members
		}
		for _, member := range members {
			if member == userId {
				d.sender.Unicast(member, msgLeaved(roomId, userId))
			} else {
				d.sender.Unicast(member, msgBye(roomId, userId))
			}
		}
		left = true
		return slices.DeleteFunc(members, func(m rtcsignal.UserID) bool { return m == userId })
	})
	if err != nil {
		d.log.Error("Leave rejected", "room", roomId, "user", userId, "error", err)
		return
	}
	if left {
		d.log.Info("User left room", "room", roomId, "user", userId)
	}
}

// P2P forwards desc to every member of roomId except from.
// A room that does not exist has no members.
func (d *Dispatcher) P2P(from rtcsignal.UserID, roomId rtcsignal.RoomID, desc any) {
	for _, member := range d.rooms.Members(roomId) {
		if member == from {
			continue
		}
		d.sender.Unicast(member, msgP2P(member, desc))
	}
}

// RoomChat forwards chatMessage unchanged to every member of roomId,
// including the sender.
func (d *Dispatcher) RoomChat(roomId rtcsignal.RoomID, chatMessage any) {
	d.sender.RoomBroadcast(roomId, chatMessage)
}
