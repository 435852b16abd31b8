// Package protocol implements the Orvibo cloud relay packet format.
//
// Every packet exchanged with the relay is a fixed 42-byte header followed by
// an AES encrypted JSON object. The package frames and unframes packets,
// selects the cipher key from the packet type and builds the command payloads
// the client sends.
//
// # Packet Format
//
//   - Magic: "hd" (2 bytes)
//   - Total length including header: uint16, big-endian
//   - Packet type: "pk" (default key) or "dk" (session key)
//   - CRC32 (IEEE) of the ciphertext: uint32, big-endian
//   - Session id: 32 bytes, zero padded
//   - Ciphertext: AES-ECB, PKCS#7 padded JSON
//
// # Keys
//
// The anonymous hello exchange is encrypted with DefaultKey. The hello
// response carries the session key, and every later packet is a "dk" packet
// encrypted with it. Decode resolves that key through a KeyResolver keyed by
// the session id found in the header.
//
// # Usage Example
//
//	data, err := protocol.Encode(protocol.BuildHello(), "", nil)
//	if err != nil {
//	    return err
//	}
//	_, err = conn.Write(data)
//
//	raw, err := protocol.ReadPacket(conn)
//	if err != nil {
//	    return err
//	}
//	pkt, err := protocol.Decode(raw, store)
//	if err != nil {
//	    return err // errors.Is(err, protocol.ErrProtocol) / ErrDecryption
//	}
//	fmt.Println(pkt.Message.Cmd)
//
// # Error Handling
//
// Malformed headers, length or CRC mismatches and payloads without a cmd
// field wrap ErrProtocol. Unresolvable keys and bad ciphertext wrap
// ErrDecryption. Both are per-packet errors: the stream stays usable.
//
// # Thread Safety
//
// Encoding and decoding are stateless. Request serials come from an atomic
// counter and are safe to generate concurrently.
package protocol
