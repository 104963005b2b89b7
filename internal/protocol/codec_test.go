package protocol

import (
	"bytes"
	"testing"

	"github.com/gorilla/websocket"
)

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: CodecJSON},
		{name: "json", want: CodecJSON},
		{name: "msgpack", want: CodecMsgpack},
		{name: "cbor", wantErr: true},
	}
	for _, tc := range tests {
		c, err := CodecByName(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("CodecByName(%q): expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("CodecByName(%q): %v", tc.name, err)
		}
		if c.Name() != tc.want {
			t.Fatalf("CodecByName(%q).Name()=%q, want %q", tc.name, c.Name(), tc.want)
		}
	}
	if JSON.FrameType() != websocket.TextMessage {
		t.Fatalf("json frame type=%d, want text", JSON.FrameType())
	}
	if Msgpack.FrameType() != websocket.BinaryMessage {
		t.Fatalf("msgpack frame type=%d, want binary", Msgpack.FrameType())
	}
}

func TestJSONDecodeJoinRoom(t *testing.T) {
	msg, err := JSON.Decode([]byte(`{"type":"join-room","payload":{"roomId":"r1","name":"Ann"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != TypeJoinRoom {
		t.Fatalf("type=%q, want %q", msg.Type, TypeJoinRoom)
	}
	var p JoinRoomPayload
	if err := msg.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.RoomID != "r1" || p.Name != "Ann" {
		t.Fatalf("payload=%+v", p)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := JSON.Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := JSON.Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestEmptyPayloadEncodesAsEmptyList(t *testing.T) {
	b, err := JSON.Encode(NewMessage(TypePendingList, PendingListPayload{Pending: []Member{}}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"type":"pending-list","payload":{"pending":[]}}`
	if string(b) != want {
		t.Fatalf("encoded=%s, want %s", b, want)
	}
}

func TestScreenShareInactiveIsEncoded(t *testing.T) {
	b, err := JSON.Encode(NewMessage(TypeScreenShare, ScreenSharePayload{SessionID: "A", Active: false}))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(b, []byte(`"active":false`)) {
		t.Fatalf("encoded=%s, missing active:false", b)
	}
}

// Handshake data must survive a relay between a JSON client and a msgpack client
// in either direction without being rewritten.
func TestOpaqueSurvivesCrossCodecRelay(t *testing.T) {
	data := Opaque(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)

	fromBrowser, err := JSON.Decode(mustEncode(t, JSON, NewMessage(TypeSignal, SignalPayload{To: "B", Kind: KindOffer, Data: data})))
	if err != nil {
		t.Fatalf("json Decode: %v", err)
	}
	var in SignalPayload
	if err := fromBrowser.DecodePayload(&in); err != nil {
		t.Fatalf("json DecodePayload: %v", err)
	}

	relayed := NewMessage(TypeSignal, SignalPayload{From: "A", Kind: in.Kind, Data: in.Data})
	toCLI, err := Msgpack.Decode(mustEncode(t, Msgpack, relayed))
	if err != nil {
		t.Fatalf("msgpack Decode: %v", err)
	}
	var out SignalPayload
	if err := toCLI.DecodePayload(&out); err != nil {
		t.Fatalf("msgpack DecodePayload: %v", err)
	}
	if out.From != "A" || out.Kind != KindOffer || out.To != "" {
		t.Fatalf("relayed payload=%+v", out)
	}
	if !bytes.Equal(out.Data, data) {
		t.Fatalf("data=%s, want %s", out.Data, data)
	}

	back, err := JSON.Decode(mustEncode(t, JSON, NewMessage(TypeSignal, SignalPayload{From: "B", Kind: KindAnswer, Data: out.Data})))
	if err != nil {
		t.Fatalf("json Decode: %v", err)
	}
	var final SignalPayload
	if err := back.DecodePayload(&final); err != nil {
		t.Fatalf("json DecodePayload: %v", err)
	}
	if !bytes.Equal(final.Data, data) {
		t.Fatalf("data=%s, want %s", final.Data, data)
	}
}

func TestOpaqueValid(t *testing.T) {
	if Opaque(nil).Valid() {
		t.Fatalf("empty opaque reported valid")
	}
	if Opaque(`{"candidate":`).Valid() {
		t.Fatalf("truncated opaque reported valid")
	}
	if !Opaque(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`).Valid() {
		t.Fatalf("well-formed opaque reported invalid")
	}
}

func mustEncode(t *testing.T, c Codec, m *Message) []byte {
	t.Helper()
	b, err := c.Encode(m)
	if err != nil {
		t.Fatalf("%s Encode: %v", c.Name(), err)
	}
	return b
}
