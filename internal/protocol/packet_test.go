package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"testing"
)

var testSessionKey = []byte("0123456789abcdef")

func testKeys(id string, key []byte) KeyResolver {
	return KeyFunc(func(sessionID string) ([]byte, bool) {
		if sessionID == id {
			return key, true
		}
		return nil, false
	})
}

func TestEncodeHeader(t *testing.T) {
	data, err := Encode(BuildHeartbeat(), "S1", testSessionKey)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if data[0] != 'h' || data[1] != 'd' {
		t.Errorf("magic = %q, want \"hd\"", data[0:2])
	}
	if got := int(binary.BigEndian.Uint16(data[2:4])); got != len(data) {
		t.Errorf("length field = %d, want %d", got, len(data))
	}
	if string(data[4:6]) != "dk" {
		t.Errorf("type = %q, want \"dk\"", data[4:6])
	}
	if got := binary.BigEndian.Uint32(data[6:10]); got != crc32.ChecksumIEEE(data[HeaderSize:]) {
		t.Errorf("crc = 0x%08x, want checksum of ciphertext", got)
	}
	if !bytes.HasPrefix(data[10:42], []byte("S1")) {
		t.Errorf("session id field = %q, want prefix S1", data[10:42])
	}
	if (len(data)-HeaderSize)%16 != 0 {
		t.Errorf("ciphertext length %d not a multiple of the AES block size", len(data)-HeaderSize)
	}
}

func TestEncodeDefaultKeyUsesBootstrapType(t *testing.T) {
	for _, key := range [][]byte{nil, DefaultKey} {
		data, err := Encode(BuildHello(), "", key)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if string(data[4:6]) != "pk" {
			t.Errorf("type = %q, want \"pk\"", data[4:6])
		}
		if !bytes.Equal(data[10:42], make([]byte, SessionIDSize)) {
			t.Errorf("bootstrap packet should carry the unset session id, got %q", data[10:42])
		}
	}
}

func TestBootstrapPacketCarriesAssignedSession(t *testing.T) {
	// The relay answers hello with a default-key packet tagged with the new session id.
	data, err := Encode(map[string]any{"cmd": CmdHello, "key": "abc123"}, "S1", nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	pkt, err := Decode(data, nil)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pkt.Type != TypeBootstrap {
		t.Errorf("type = %s, want pk", pkt.Type)
	}
	if pkt.SessionID != "S1" {
		t.Errorf("session id = %q, want S1", pkt.SessionID)
	}
	if pkt.Message.Key != "abc123" {
		t.Errorf("key = %q, want abc123", pkt.Message.Key)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		payload   any
		sessionID string
		key       []byte
		wantType  PacketType
		wantCmd   int
	}{
		{"hello", BuildHello(), "", nil, TypeBootstrap, CmdHello},
		{"login", BuildLogin("user", "5f4dcc3b5aa765d61d8327deb882cf99", "fam1"), "S1", testSessionKey, TypeSession, CmdLogin},
		{"control", BuildControl("user", "D1", "aabbccddeeff", 0, 3, 2, 157288900), "S1", testSessionKey, TypeSession, CmdControl},
		{"ventilation", BuildVentilationStateUpdate("user", "D2", "112233445566", 100), "S1", testSessionKey, TypeSession, CmdStateUpdate},
		{"heartbeat", BuildHeartbeat(), "S1", testSessionKey, TypeSession, CmdHeartbeat},
		{"32 byte session id", BuildHeartbeat(), "0123456789abcdef0123456789abcdef", testSessionKey, TypeSession, CmdHeartbeat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.payload, tt.sessionID, tt.key)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			pkt, err := Decode(data, testKeys(tt.sessionID, tt.key))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if pkt.Type != tt.wantType {
				t.Errorf("type = %s, want %s", pkt.Type, tt.wantType)
			}
			if pkt.Message.Cmd != tt.wantCmd {
				t.Errorf("cmd = %d, want %d", pkt.Message.Cmd, tt.wantCmd)
			}
			if tt.wantType == TypeSession && pkt.SessionID != tt.sessionID {
				t.Errorf("session id = %q, want %q", pkt.SessionID, tt.sessionID)
			}
			if tt.wantType == TypeBootstrap && pkt.SessionID != UnsetSessionID {
				t.Errorf("session id = %q, want unset", pkt.SessionID)
			}
			if int(pkt.Length) != len(data) {
				t.Errorf("length = %d, want %d", pkt.Length, len(data))
			}
		})
	}
}

func TestDecodeControlValues(t *testing.T) {
	data, err := Encode(BuildControl("user", "D1", "aabbccddeeff", 1, 4, 3, 12345), "S1", testSessionKey)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	pkt, err := Decode(data, testKeys("S1", testSessionKey))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	v1, v2, v3, v4 := pkt.Message.Values()
	if v1 != 1 || v2 != 4 || v3 != 3 || v4 != 12345 {
		t.Errorf("values = (%d, %d, %d, %d), want (1, 4, 3, 12345)", v1, v2, v3, v4)
	}
	if pkt.Message.DeviceID != "D1" || pkt.Message.UID != "aabbccddeeff" {
		t.Errorf("device = %q uid = %q", pkt.Message.DeviceID, pkt.Message.UID)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(BuildHeartbeat(), "S1", testSessionKey)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return f(b)
	}

	tests := []struct {
		name    string
		data    []byte
		keys    KeyResolver
		wantErr error
	}{
		{"too short", valid[:10], testKeys("S1", testSessionKey), ErrProtocol},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'x'; return b }), testKeys("S1", testSessionKey), ErrProtocol},
		{"truncated body", valid[:len(valid)-1], testKeys("S1", testSessionKey), ErrProtocol},
		{"length below header", mutate(func(b []byte) []byte { binary.BigEndian.PutUint16(b[2:4], 10); return b }), testKeys("S1", testSessionKey), ErrProtocol},
		{"crc mismatch", mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }), testKeys("S1", testSessionKey), ErrProtocol},
		{"unknown type", mutate(func(b []byte) []byte { b[4] = 'z'; return b }), testKeys("S1", testSessionKey), ErrProtocol},
		{"unknown session", valid, testKeys("S2", testSessionKey), ErrDecryption},
		{"nil resolver", valid, nil, ErrDecryption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.keys)
			if err == nil {
				t.Fatal("Decode() error = nil, want error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeMissingCmd(t *testing.T) {
	data, err := Encode(map[string]any{"status": 0}, "S1", testSessionKey)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := Decode(data, testKeys("S1", testSessionKey)); !errors.Is(err, ErrProtocol) {
		t.Errorf("Decode() error = %v, want ErrProtocol", err)
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	if _, err := Encode(BuildHeartbeat(), "", testSessionKey); !errors.Is(err, ErrProtocol) {
		t.Errorf("empty session id: error = %v, want ErrProtocol", err)
	}
	long := string(bytes.Repeat([]byte("x"), SessionIDSize+1))
	if _, err := Encode(BuildHeartbeat(), long, testSessionKey); !errors.Is(err, ErrProtocol) {
		t.Errorf("long session id: error = %v, want ErrProtocol", err)
	}
	if _, err := Encode(BuildHeartbeat(), "S1", []byte("short")); !errors.Is(err, ErrDecryption) {
		t.Errorf("bad key size: error = %v, want ErrDecryption", err)
	}
}

func TestReadPacket(t *testing.T) {
	first, _ := Encode(BuildHello(), "", nil)
	second, _ := Encode(BuildHeartbeat(), "S1", testSessionKey)
	stream := bytes.NewReader(append(append([]byte(nil), first...), second...))

	got, err := ReadPacket(stream)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if !bytes.Equal(got, first) {
		t.Error("first packet mismatch")
	}

	got, err = ReadPacket(stream)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if !bytes.Equal(got, second) {
		t.Error("second packet mismatch")
	}

	if _, err := ReadPacket(stream); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket() at end error = %v, want io.EOF", err)
	}
}

func TestReadPacketTruncatedBody(t *testing.T) {
	data, _ := Encode(BuildHeartbeat(), "S1", testSessionKey)
	_, err := ReadPacket(bytes.NewReader(data[:len(data)-3]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadPacket() error = %v, want io.ErrUnexpectedEOF", err)
	}
	if errors.Is(err, ErrProtocol) {
		t.Error("I/O failures must not be reported as ErrProtocol")
	}
}

func TestPKCS7(t *testing.T) {
	for n := 0; n <= 33; n++ {
		data := bytes.Repeat([]byte{0xAB}, n)
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 || len(padded) <= n {
			t.Fatalf("pad(%d) length = %d", n, len(padded))
		}
		out, err := pkcs7Unpad(padded, 16)
		if err != nil {
			t.Fatalf("unpad(%d) error = %v", n, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("unpad(pad(%d bytes)) mismatch", n)
		}
	}

	if _, err := pkcs7Unpad([]byte{1, 2, 3, 0}, 16); !errors.Is(err, ErrDecryption) {
		t.Errorf("zero pad byte: error = %v, want ErrDecryption", err)
	}
	if _, err := pkcs7Unpad([]byte{1, 2, 3, 2}, 16); !errors.Is(err, ErrDecryption) {
		t.Errorf("inconsistent padding: error = %v, want ErrDecryption", err)
	}
}
