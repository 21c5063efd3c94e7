package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	rtcsignal "github.com/damesirelord/WebRTC-single-server"
)

type Op int

const (
	OpInvalid Op = iota
	// Client -> Server {handle: "join", data: {roomId}}
	//
	// Server -> joiner           {type: "joined", roomId, userId}
	// Server -> existing members {type: "otherjoin", roomId, userId}
	// Server -> joiner           {type: "full", roomId, userId} when the room already holds two members.
	OpJoin
	// Client -> Server {handle: "leave", data: {roomId}}
	//
	// Server -> leaver        {type: "leaved", roomId, userId}
	// Server -> other members {type: "bye", roomId, userId}
	OpLeave
	// Client -> Server -> other member {handle: "p2p", data: {roomId, desc}}
	//
	// The other member receives {type: "p2p", userId: <itself>, data: desc}.
	// desc is an SDP offer/answer or ICE candidate and is never inspected.
	OpP2P
	// Client -> Server -> every member {handle: "roomChat", data: {roomId, chatMessage}}
	//
	// chatMessage is delivered as-is, the sender included.
	OpRoomChat
)

func (o Op) String() string {
	switch o {
	case OpJoin:
		return "join"
	case OpLeave:
		return "leave"
	case OpP2P:
		return "p2p"
	case OpRoomChat:
		return "roomChat"
	default:
		return "invalid"
	}
}

// ParseOp maps an envelope handle to an Op. Unknown handles map to OpInvalid.
func ParseOp(handle string) Op {
	switch handle {
	case "join":
		return OpJoin
	case "leave":
		return OpLeave
	case "p2p":
		return OpP2P
	case "roomChat":
		return OpRoomChat
	default:
		return OpInvalid
	}
}

// Reply types sent by the server.
const (
	TypeJoined    = "joined"
	TypeOtherJoin = "otherjoin"
	TypeFull      = "full"
	TypeLeaved    = "leaved"
	TypeBye       = "bye"
	TypeP2P       = "p2p"
	// Server -> Client {type: "connected", userId}
	//
	// Sent first on connections that did not name a user id, so the client
	// learns the id the server generated for it.
	TypeConnected = "connected"
	// Server -> every Client {type: "shutdown", message} before the relay stops.
	TypeShutdown = "shutdown"
)

var (
	ErrDecode             = errors.New("malformed envelope")
	ErrUnknownOp          = errors.New("unknown operation")
	ErrMissingRoomID      = errors.New("missing roomId")
	ErrMissingChatMessage = errors.New("missing chatMessage")
)

// Envelope is what clients send.
type Envelope struct {
	Handle string  `json:"handle" msgpack:"handle"`
	Data   Payload `json:"data" msgpack:"data"`
}

type Payload struct {
	RoomID      rtcsignal.RoomID `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	Desc        any              `json:"desc,omitempty" msgpack:"desc,omitempty"`
	ChatMessage any              `json:"chatMessage,omitempty" msgpack:"chatMessage,omitempty"`
}

// Reply is what the server sends, except for room chat which forwards the
// chat payload itself.
type Reply struct {
	RoomID  rtcsignal.RoomID `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	UserID  rtcsignal.UserID `json:"userId,omitempty" msgpack:"userId,omitempty"`
	Type    string           `json:"type" msgpack:"type"`
	Message string           `json:"message,omitempty" msgpack:"message,omitempty"`
	Data    any              `json:"data,omitempty" msgpack:"data,omitempty"`
}

func msgJoined(roomId rtcsignal.RoomID, joiner rtcsignal.UserID) Reply {
	return Reply{
		RoomID:  roomId,
		UserID:  joiner,
		Type:    TypeJoined,
		Message: fmt.Sprintf("%s joined the room", joiner),
	}
}

func msgOtherJoin(roomId rtcsignal.RoomID, joiner rtcsignal.UserID) Reply {
	r := msgJoined(roomId, joiner)
	r.Type = TypeOtherJoin
	return r
}

func msgFull(roomId rtcsignal.RoomID, joiner rtcsignal.UserID) Reply {
	return Reply{
		RoomID: roomId,
		UserID: joiner,
		Type:   TypeFull,
	}
}

func msgLeaved(roomId rtcsignal.RoomID, leaver rtcsignal.UserID) Reply {
	return Reply{
		RoomID:  roomId,
		UserID:  leaver,
		Type:    TypeLeaved,
		Message: fmt.Sprintf("%s left the room", leaver),
	}
}

func msgBye(roomId rtcsignal.RoomID, leaver rtcsignal.UserID) Reply {
	r := msgLeaved(roomId, leaver)
	r.Type = TypeBye
	return r
}

// userId is the recipient, not the sender.
func msgP2P(target rtcsignal.UserID, desc any) Reply {
	return Reply{
		UserID:  target,
		Type:    TypeP2P,
		Data:    desc,
		Message: "sdp received",
	}
}

func msgConnected(userId rtcsignal.UserID) Reply {
	return Reply{
		UserID: userId,
		Type:   TypeConnected,
	}
}

func msgShutdown() Reply {
	return Reply{
		Type:    TypeShutdown,
		Message: "server shutting down",
	}
}

// Marshal v with codec and write it to conn.
// Error if marshal or write fails.
func WriteMsg(conn *websocket.Conn, codec Codec, v any, timeout time.Duration) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("signaling.writeMsg: failed to marshal %T: %w", v, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err = conn.Write(ctx, codec.MessageType(), b); err != nil {
		return fmt.Errorf("signaling.writeMsg: failed to write %T: %w", v, err)
	}
	return nil
}

// Read one frame from conn and return its raw payload.
func ReadMsg(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	_, b, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("signaling.readMsg: %w", err)
	}
	return b, nil
}
