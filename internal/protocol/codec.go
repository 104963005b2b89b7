package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

var errNoCodec = errors.New("message has no codec")

// Codec frames Messages on a WebSocket connection.
type Codec interface {
	// Name is the value accepted in the ?codec= query parameter.
	Name() string
	// FrameType is the websocket message type used for frames.
	FrameType() int
	Encode(m *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)

	unmarshal(raw []byte, v any) error
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName resolves a codec name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON, nil
	case CodecMsgpack:
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string   { return CodecJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (c jsonCodec) Decode(data []byte) (*Message, error) {
	var wire struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if wire.Type == "" {
		return nil, errors.New("message missing type")
	}
	raw := []byte(wire.Payload)
	if bytes.Equal(raw, []byte("null")) {
		raw = nil
	}
	return &Message{Type: wire.Type, raw: raw, codec: c}, nil
}

func (jsonCodec) unmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// msgpackCodec reuses the json struct tags so payload structs need one set of tags.
type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return CodecMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c msgpackCodec) Decode(data []byte) (*Message, error) {
	var wire struct {
		Type    string             `json:"type"`
		Payload msgpack.RawMessage `json:"payload,omitempty"`
	}
	if err := c.unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if wire.Type == "" {
		return nil, errors.New("message missing type")
	}
	return &Message{Type: wire.Type, raw: []byte(wire.Payload), codec: c}, nil
}

func (msgpackCodec) unmarshal(raw []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
