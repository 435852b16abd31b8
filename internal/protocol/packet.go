package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Packet header layout (all multi-byte fields big-endian)
//
//	[0-1]   "hd"          Magic
//	[2-3]   length        Total packet length including header (uint16)
//	[4-5]   "pk" / "dk"   Packet type, selects the cipher key
//	[6-9]   crc32         IEEE CRC32 of the ciphertext
//	[10-41] session id    32 ASCII bytes, all zero before a session exists
//	[42+]   ciphertext    AES-ECB encrypted JSON payload
const (
	HeaderSize    = 42
	SessionIDSize = 32
	MaxPacketSize = 0xFFFF

	offsetLength  = 2
	offsetType    = 4
	offsetCRC     = 6
	offsetSession = 10
)

// PacketType tags which key encrypts the payload.
type PacketType [2]byte

var (
	// TypeBootstrap packets are encrypted with DefaultKey.
	TypeBootstrap = PacketType{'p', 'k'}
	// TypeSession packets are encrypted with the negotiated session key.
	TypeSession = PacketType{'d', 'k'}

	magic = [2]byte{'h', 'd'}
)

func (t PacketType) String() string {
	return string(t[:])
}

// DefaultKey encrypts the anonymous hello exchange.
var DefaultKey = []byte("khggd54865SNJHGF")

// UnsetSessionID is carried in bootstrap packets before the relay assigned a session.
var UnsetSessionID = string(make([]byte, SessionIDSize))

var (
	// ErrProtocol marks malformed packets: bad magic/type, length or CRC mismatch, bad JSON.
	ErrProtocol = errors.New("protocol error")
	// ErrDecryption marks packets whose key cannot be resolved or whose ciphertext is invalid.
	ErrDecryption = errors.New("decryption error")
)

// KeyResolver looks up the negotiated key for a session id.
type KeyResolver interface {
	Key(sessionID string) ([]byte, bool)
}

// KeyFunc adapts a function to KeyResolver.
type KeyFunc func(sessionID string) ([]byte, bool)

// Key implements KeyResolver.
func (f KeyFunc) Key(sessionID string) ([]byte, bool) {
	return f(sessionID)
}

// Packet is a decoded relay packet.
type Packet struct {
	Type      PacketType
	SessionID string
	Length    uint16
	Payload   []byte   // decrypted JSON
	Message   *Message // parsed payload
}

// IsDefaultKey reports whether key is nil or equal to DefaultKey.
func IsDefaultKey(key []byte) bool {
	return len(key) == 0 || bytes.Equal(key, DefaultKey)
}

// Encode marshals payload to JSON, encrypts it and prepends the header.
// A nil or default key produces a bootstrap packet; an empty sessionID then
// becomes the unset session id. Any other key produces a session packet
// tagged with sessionID.
func Encode(payload any, sessionID string, key []byte) ([]byte, error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ptype := TypeSession
	if IsDefaultKey(key) {
		ptype = TypeBootstrap
		key = DefaultKey
		if sessionID == "" {
			sessionID = UnsetSessionID
		}
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id for session packet", ErrProtocol)
	}
	if len(sessionID) > SessionIDSize {
		return nil, fmt.Errorf("%w: session id too long: %d bytes (max %d)", ErrProtocol, len(sessionID), SessionIDSize)
	}

	ciphertext, err := encryptECB(key, plain)
	if err != nil {
		return nil, err
	}

	total := HeaderSize + len(ciphertext)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: packet too large: %d bytes (max %d)", ErrProtocol, total, MaxPacketSize)
	}

	packet := make([]byte, total)
	copy(packet[0:2], magic[:])
	binary.BigEndian.PutUint16(packet[offsetLength:], uint16(total))
	copy(packet[offsetType:offsetType+2], ptype[:])
	binary.BigEndian.PutUint32(packet[offsetCRC:], crc32.ChecksumIEEE(ciphertext))
	copy(packet[offsetSession:HeaderSize], sessionID)
	copy(packet[HeaderSize:], ciphertext)

	return packet, nil
}

// ParseLength validates the header magic and returns the declared total length.
func ParseLength(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, fmt.Errorf("%w: header too short: %d bytes (need %d)", ErrProtocol, len(header), HeaderSize)
	}
	if header[0] != magic[0] || header[1] != magic[1] {
		return 0, fmt.Errorf("%w: bad magic 0x%02x%02x", ErrProtocol, header[0], header[1])
	}
	length := int(binary.BigEndian.Uint16(header[offsetLength:]))
	if length < HeaderSize {
		return 0, fmt.Errorf("%w: declared length %d shorter than header", ErrProtocol, length)
	}
	return length, nil
}

// Decode validates, decrypts and parses a complete packet. Bootstrap packets
// always use DefaultKey; session packets resolve their key through keys.
func Decode(data []byte, keys KeyResolver) (*Packet, error) {
	length, err := ParseLength(data)
	if err != nil {
		return nil, err
	}
	if length != len(data) {
		return nil, fmt.Errorf("%w: length mismatch: header says %d, got %d", ErrProtocol, length, len(data))
	}

	var ptype PacketType
	copy(ptype[:], data[offsetType:offsetType+2])
	sessionID := trimSessionID(data[offsetSession:HeaderSize])
	ciphertext := data[HeaderSize:]

	if crc := crc32.ChecksumIEEE(ciphertext); crc != binary.BigEndian.Uint32(data[offsetCRC:]) {
		return nil, fmt.Errorf("%w: crc mismatch: computed 0x%08x, header 0x%08x",
			ErrProtocol, crc, binary.BigEndian.Uint32(data[offsetCRC:]))
	}

	var key []byte
	switch ptype {
	case TypeBootstrap:
		key = DefaultKey
	case TypeSession:
		var ok bool
		if keys != nil {
			key, ok = keys.Key(sessionID)
		}
		if !ok || len(key) == 0 {
			return nil, fmt.Errorf("%w: no key for session %q", ErrDecryption, sessionID)
		}
	default:
		return nil, fmt.Errorf("%w: unknown packet type %q", ErrProtocol, ptype.String())
	}

	plain, err := decryptECB(key, ciphertext)
	if err != nil {
		return nil, err
	}

	msg, err := ParseMessage(plain)
	if err != nil {
		return nil, err
	}

	return &Packet{
		Type:      ptype,
		SessionID: sessionID,
		Length:    uint16(length),
		Payload:   plain,
		Message:   msg,
	}, nil
}

// ReadPacket reads exactly one packet (header then body) from r.
// I/O errors are returned unwrapped from ErrProtocol so callers can tell
// a broken stream from a malformed packet.
func ReadPacket(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read packet header: %w", err)
	}

	length, err := ParseLength(header)
	if err != nil {
		return nil, err
	}

	packet := make([]byte, length)
	copy(packet, header)
	if _, err := io.ReadFull(r, packet[HeaderSize:]); err != nil {
		return nil, fmt.Errorf("failed to read packet body: %w", err)
	}
	return packet, nil
}

// trimSessionID drops the zero padding of the fixed-size session id field.
func trimSessionID(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	if len(b) == 0 {
		return UnsetSessionID
	}
	return string(b)
}

// String returns a debug representation of the packet
func (p *Packet) String() string {
	cmd := -1
	if p.Message != nil {
		cmd = p.Message.Cmd
	}
	return fmt.Sprintf("Packet{type=%s, session=%q, length=%d, cmd=%d}",
		p.Type, p.SessionID, p.Length, cmd)
}
