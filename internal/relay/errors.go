package relay

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/muurk/orvibo-relay/internal/protocol"
)

// ErrorKind represents the category of a relay failure
type ErrorKind int

const (
	// KindConnect covers dial, TLS and handshake failures.
	KindConnect ErrorKind = iota
	// KindProtocol marks a malformed packet. The packet is dropped.
	KindProtocol
	// KindDecryption marks a packet whose key is unknown or wrong. The packet is dropped.
	KindDecryption
	// KindSend marks a failed socket write. The connection is rebuilt.
	KindSend
	// KindUnknownDevice marks a device id or UID missing from the catalog.
	KindUnknownDevice
	// KindAuth marks a login rejected by the relay.
	KindAuth
)

// ConnectSubtype narrows down KindConnect errors
type ConnectSubtype int

const (
	ConnectGeneral ConnectSubtype = iota
	ConnectTimeout
	ConnectRefused
	ConnectDNS
	ConnectTLS
	ConnectHostUnreachable
	ConnectNetworkUnreachable
	ConnectNoSessionKey
)

// String returns a human-readable name for the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "Connect Error"
	case KindProtocol:
		return "Protocol Error"
	case KindDecryption:
		return "Decryption Error"
	case KindSend:
		return "Send Error"
	case KindUnknownDevice:
		return "Unknown Device"
	case KindAuth:
		return "Authentication Error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

var (
	// ErrConnectExhausted is returned by ConnectAndLogin once every attempt failed.
	ErrConnectExhausted = errors.New("relay: connect attempts exhausted")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("relay: client closed")
	// ErrNotConnected is returned when a write finds no live connection.
	ErrNotConnected = errors.New("relay: not connected")
)

// Error is a classified relay failure.
type Error struct {
	Kind    ErrorKind
	Subtype ConnectSubtype
	Op      string // operation, e.g. "dial", "hello", "write"
	Addr    string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Addr != "" {
		fmt.Fprintf(&b, " %s", e.Addr)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassifyConnectError wraps a dial or handshake error with its subtype.
func ClassifyConnectError(op, addr string, err error) *Error {
	if err == nil {
		return nil
	}

	e := &Error{Kind: KindConnect, Subtype: ConnectGeneral, Op: op, Addr: addr, Err: err}

	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var recordErr tls.RecordHeaderError

	switch {
	case os.IsTimeout(err) || errors.Is(err, os.ErrDeadlineExceeded):
		e.Subtype = ConnectTimeout
	case errors.As(err, &dnsErr):
		e.Subtype = ConnectDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Subtype = ConnectRefused
	case errors.Is(err, syscall.EHOSTUNREACH):
		e.Subtype = ConnectHostUnreachable
	case errors.Is(err, syscall.ENETUNREACH):
		e.Subtype = ConnectNetworkUnreachable
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr), errors.As(err, &recordErr):
		e.Subtype = ConnectTLS
	}

	return e
}

// classifyPacketError maps codec errors to their relay kind.
func classifyPacketError(err error) *Error {
	switch {
	case errors.Is(err, protocol.ErrDecryption):
		return &Error{Kind: KindDecryption, Op: "decode", Err: err}
	default:
		return &Error{Kind: KindProtocol, Op: "decode", Err: err}
	}
}

// IsConnectError checks if an error is a connect error
func IsConnectError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindConnect
}

// IsSendError checks if an error is a send error
func IsSendError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindSend
}

// IsAuthError checks if an error is a login rejection
func IsAuthError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuth
}

// TroubleshootingHint returns user-facing advice for a connect failure.
func TroubleshootingHint(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		if errors.Is(err, ErrConnectExhausted) {
			return "Could not establish a relay session. Run with --log-level debug for per-attempt errors."
		}
		return "An unexpected error occurred. Please try again."
	}

	switch e.Kind {
	case KindConnect:
		switch e.Subtype {
		case ConnectTimeout:
			return strings.Join([]string{
				"The relay did not respond in time.",
				"Troubleshooting:",
				"  • Check your internet connection",
				"  • Verify the relay host and port in the config file",
				"  • Try increasing session.connect_timeout",
			}, "\n")
		case ConnectDNS:
			return strings.Join([]string{
				"Could not resolve the relay hostname.",
				"Troubleshooting:",
				"  • Check your network DNS settings",
				"  • Verify relay.host in the config file",
			}, "\n")
		case ConnectRefused:
			return "The relay refused the connection. Verify relay.port in the config file."
		case ConnectTLS:
			return strings.Join([]string{
				"The TLS handshake with the relay failed.",
				"Troubleshooting:",
				"  • Check tls.cert, tls.key and tls.ca point at the vendor certificates",
				"  • Verify relay.server_name matches the relay certificate",
			}, "\n")
		case ConnectNoSessionKey:
			return "The relay did not answer the hello request. The service may be unavailable."
		default:
			return "Network communication with the relay failed. Check your connection."
		}
	case KindAuth:
		return strings.Join([]string{
			"The relay rejected the login.",
			"Troubleshooting:",
			"  • Check account.username and the password",
			"  • Verify account.family_id",
		}, "\n")
	default:
		return "An error occurred. Please check the error message for details."
	}
}
