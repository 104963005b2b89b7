package protocol

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Opaque is handshake data the server relays verbatim. It always holds a JSON
// document: JSON frames embed it as-is, msgpack frames carry it as a byte
// string, so a relay between clients using different codecs never rewrites it.
type Opaque []byte

// Valid reports whether o holds a well-formed JSON document.
func (o Opaque) Valid() bool {
	return len(o) > 0 && json.Valid(o)
}

func (o Opaque) MarshalJSON() ([]byte, error) {
	if len(o) == 0 {
		return []byte("null"), nil
	}
	return o, nil
}

func (o *Opaque) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = nil
		return nil
	}
	*o = append((*o)[0:0], data...)
	return nil
}

func (o Opaque) EncodeMsgpack(enc *msgpack.Encoder) error {
	if len(o) == 0 {
		return enc.EncodeNil()
	}
	return enc.EncodeBytes(o)
}

func (o *Opaque) DecodeMsgpack(dec *msgpack.Decoder) error {
	b, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	*o = b
	return nil
}

// OpaqueFrom marshals v as JSON handshake data.
func OpaqueFrom(v any) (Opaque, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Opaque(b), nil
}
