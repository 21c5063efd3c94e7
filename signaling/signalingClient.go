package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/coder/websocket"
	rtcsignal "github.com/damesirelord/WebRTC-single-server"
)

// Client is a connection to the signaling relay.
type Client struct {
	UserID  rtcsignal.UserID
	conn    *websocket.Conn
	codec   Codec
	log     *slog.Logger
	timeout time.Duration
}

// Dial connects to the relay at baseURL (for example "ws://127.0.0.1:8087").
// An empty userId asks the server to generate one; it is read from the
// server's "connected" message and stored in Client.UserID.
//
// a nil log will use slog.Default(), a nil codec JSON.
func Dial(ctx context.Context, baseURL string, userId rtcsignal.UserID, codec Codec, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	u = u.JoinPath("websocket")
	if userId != "" {
		u = u.JoinPath(string(userId))
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %v: %w", u.String(), err)
	}
	c := &Client{
		UserID:  userId,
		conn:    conn,
		codec:   codec,
		log:     log,
		timeout: 5 * time.Second,
	}
	if userId == "" {
		reply, err := c.ReadReply(ctx)
		if err != nil {
			conn.CloseNow()
			return nil, err
		}
		if reply.Type != TypeConnected || reply.UserID == "" {
			conn.CloseNow()
			return nil, fmt.Errorf("expected %q message, got %q", TypeConnected, reply.Type)
		}
		c.UserID = reply.UserID
	}
	return c, nil
}

func (c *Client) Join(roomId rtcsignal.RoomID) error {
	return c.send(OpJoin, Payload{RoomID: roomId})
}

func (c *Client) Leave(roomId rtcsignal.RoomID) error {
	return c.send(OpLeave, Payload{RoomID: roomId})
}

// SendDesc relays an SDP or ICE payload to the other member of roomId.
func (c *Client) SendDesc(roomId rtcsignal.RoomID, desc any) error {
	return c.send(OpP2P, Payload{RoomID: roomId, Desc: desc})
}

// Chat sends chatMessage to every member of roomId, this client included.
func (c *Client) Chat(roomId rtcsignal.RoomID, chatMessage any) error {
	return c.send(OpRoomChat, Payload{RoomID: roomId, ChatMessage: chatMessage})
}

// SendRaw writes b as a single frame without encoding it.
func (c *Client) SendRaw(b []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.conn.Write(ctx, c.codec.MessageType(), b)
}

func (c *Client) send(op Op, payload Payload) error {
	c.log.Debug("Sending message", "op", op, "room", payload.RoomID)
	return WriteMsg(c.conn, c.codec, Envelope{Handle: op.String(), Data: payload}, c.timeout)
}

// Read returns the next raw message. If ctx expires the connection is closed.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	return ReadMsg(ctx, c.conn)
}

// ReadReply reads the next message and decodes it as a Reply. Room chat
// payloads decode into whatever Reply fields they happen to share.
func (c *Client) ReadReply(ctx context.Context) (Reply, error) {
	b, err := c.Read(ctx)
	if err != nil {
		return Reply{}, err
	}
	var reply Reply
	if err := c.codec.Unmarshal(b, &reply); err != nil {
		return Reply{}, fmt.Errorf("signaling.readReply: failed to unmarshal: %w", err)
	}
	return reply, nil
}

func (c *Client) Codec() Codec { return c.codec }

func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "disconnecting")
}
