package relay

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/muurk/orvibo-relay/internal/protocol"
)

func TestErrorKindPredicates(t *testing.T) {
	send := fmt.Errorf("dispatch: %w", &Error{Kind: KindSend, Op: "write control", Err: errors.New("broken pipe")})
	assert.True(t, IsSendError(send))
	assert.False(t, IsConnectError(send))
	assert.False(t, IsAuthError(send))
	assert.Equal(t, "Send Error: write control: broken pipe", errors.Unwrap(send).Error())

	assert.False(t, IsSendError(errors.New("plain")))
	assert.Equal(t, "ErrorKind(42)", ErrorKind(42).String())
}

func TestClassifyPacketError(t *testing.T) {
	e := classifyPacketError(fmt.Errorf("%w: no key for session", protocol.ErrDecryption))
	assert.Equal(t, KindDecryption, e.Kind)

	e = classifyPacketError(fmt.Errorf("%w: bad magic", protocol.ErrProtocol))
	assert.Equal(t, KindProtocol, e.Kind)
	assert.ErrorIs(t, e, protocol.ErrProtocol)
}

func TestTroubleshootingHintExhausted(t *testing.T) {
	err := fmt.Errorf("%w after %d attempts: %w", ErrConnectExhausted, 3, errors.New("eof"))
	assert.Contains(t, TroubleshootingHint(err), "--log-level debug")

	auth := &Error{Kind: KindAuth, Op: "login"}
	assert.Contains(t, TroubleshootingHint(auth), "account.username")
}
