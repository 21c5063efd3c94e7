package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/coder/websocket"
	"github.com/shamaton/msgpack/v2"
)

// Codec encodes envelopes and replies for one wire format. A relay uses a
// single codec for every connection so opaque payloads never cross formats.
type Codec interface {
	Name() string
	// MessageType is the websocket frame type carrying encoded messages.
	MessageType() websocket.MessageType
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

// CodecFor returns the codec registered under name ("json" or "msgpack").
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("signaling: unknown wire format %q", name)
	}
}

var errTrailingData = errors.New("trailing data after message")

// JSONCodec sends text frames. Numbers in opaque payloads are decoded as
// json.Number so they are forwarded without float rounding.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) MessageType() websocket.MessageType { return websocket.MessageText }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// MsgpackCodec sends binary frames with structs encoded as maps.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) MessageType() websocket.MessageType { return websocket.MessageBinary }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(b []byte, v any) error {
	return msgpack.Unmarshal(b, v)
}
