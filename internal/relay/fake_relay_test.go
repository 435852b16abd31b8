package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/orvibo-relay/internal/catalog"
	"github.com/muurk/orvibo-relay/internal/devstate"
	"github.com/muurk/orvibo-relay/internal/protocol"
	"github.com/stretchr/testify/require"
)

// fakeRelay answers hello and login on in-memory sockets and records every
// other message it receives.
type fakeRelay struct {
	sessionID string
	key       []byte

	rejectLogin bool
	ignoreHello bool
	dialErr     error

	dials    atomic.Int32
	received chan *protocol.Message

	mu   sync.Mutex
	conn net.Conn
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		sessionID: "S1",
		key:       []byte("0123456789abcdef"),
		received:  make(chan *protocol.Message, 64),
	}
}

func (f *fakeRelay) dial(ctx context.Context) (net.Conn, error) {
	f.dials.Add(1)
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	client, server := net.Pipe()

	f.mu.Lock()
	f.conn = server
	f.mu.Unlock()

	go f.serve(server)
	return client, nil
}

func (f *fakeRelay) keys() protocol.KeyResolver {
	return protocol.KeyFunc(func(id string) ([]byte, bool) {
		if id == f.sessionID {
			return f.key, true
		}
		return nil, false
	})
}

func (f *fakeRelay) serve(conn net.Conn) {
	defer conn.Close()
	for {
		raw, err := protocol.ReadPacket(conn)
		if err != nil {
			return
		}
		pkt, err := protocol.Decode(raw, f.keys())
		if err != nil {
			continue
		}

		switch pkt.Message.Cmd {
		case protocol.CmdHello:
			if f.ignoreHello {
				continue
			}
			reply, _ := protocol.Encode(map[string]any{
				"cmd":    protocol.CmdHello,
				"status": 0,
				"key":    string(f.key),
			}, f.sessionID, nil)
			if _, err := conn.Write(reply); err != nil {
				return
			}
		case protocol.CmdLogin:
			f.record(pkt.Message)
			resp := map[string]any{"cmd": protocol.CmdLogin, "status": 0, "userId": "u-42"}
			if f.rejectLogin {
				resp = map[string]any{"cmd": protocol.CmdLogin, "status": 12, "msg": "wrong password"}
			}
			reply, err := protocol.Encode(resp, f.sessionID, f.key)
			if err != nil {
				// an unusable session key leaves the login unanswered
				continue
			}
			if _, err := conn.Write(reply); err != nil {
				return
			}
		default:
			f.record(pkt.Message)
		}
	}
}

func (f *fakeRelay) record(msg *protocol.Message) {
	select {
	case f.received <- msg:
	default:
	}
}

// push writes a session packet to the current connection.
func (f *fakeRelay) push(t *testing.T, payload any) {
	t.Helper()
	data, err := protocol.Encode(payload, f.sessionID, f.key)
	require.NoError(t, err)
	f.pushRaw(t, data)
}

func (f *fakeRelay) pushRaw(t *testing.T, data []byte) {
	t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	require.NotNil(t, conn)

	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Write(data)
	require.NoError(t, err)
}

// pushBroken writes data that the client is expected to reject by closing
// the socket, so the write error is ignored.
func (f *fakeRelay) pushBroken(data []byte) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Write(data)
}

// drop closes the current server side connection.
func (f *fakeRelay) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

// waitFor returns the next recorded message with the given command.
func (f *fakeRelay) waitFor(t *testing.T, cmd int) *protocol.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-f.received:
			if msg.Cmd == cmd {
				return msg
			}
		case <-deadline:
			t.Fatalf("relay did not receive %s", protocol.CommandName(cmd))
			return nil
		}
	}
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Device{
		{ID: "D1", UID: "aabbccddeeff", Name: "Living room AC", Type: devstate.TypeAirConditioner},
		{ID: "D2", UID: "112233445566", Name: "Fresh air", Type: devstate.TypeVentilation},
		{ID: "D3", UID: "665544332211", Name: "Hall light", Type: devstate.TypeSwitch},
		{ID: "D4", Name: "No UID", Type: devstate.TypeSwitch},
	})
}

func testOptions(f *fakeRelay) Options {
	return Options{
		Addr:                 "relay.test:10002",
		Dial:                 f.dial,
		Username:             "user@example.com",
		PasswordMD5:          "5f4dcc3b5aa765d61d8327deb882cf99",
		FamilyID:             "fam-1",
		Catalog:              testCatalog(),
		HeartbeatInterval:    time.Hour,
		RetryInterval:        10 * time.Millisecond,
		MaxReconnectAttempts: 3,
		HelloGrace:           time.Second,
		ConnectTimeout:       time.Second,
		WriteTimeout:         time.Second,
		SendRetryDelay:       10 * time.Millisecond,
		DisconnectWait:       time.Second,
	}
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var errDialRefused = errors.New("connection refused")
