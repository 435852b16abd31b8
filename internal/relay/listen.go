package relay

import (
	"errors"
	"time"

	"github.com/muurk/orvibo-relay/internal/devstate"
	"github.com/muurk/orvibo-relay/internal/logging"
	"github.com/muurk/orvibo-relay/internal/protocol"
	"go.uber.org/zap"
)

// listen reads packets from gen until its socket fails or it is cancelled.
// A read failure or an unframeable header on a live generation schedules a
// reconnect; cancellation does not. Packets that decode badly inside a
// valid frame are dropped.
func (c *Client) listen(gen *generation) {
	defer c.tasks.Done()
	defer gen.wg.Done()

	logging.Debug("Listen loop started", zap.Uint64("generation", gen.id))
	defer logging.Debug("Listen loop stopped", zap.Uint64("generation", gen.id))

	for {
		_ = gen.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		raw, err := protocol.ReadPacket(gen.conn)
		if err != nil {
			if gen.ctx.Err() != nil {
				return
			}
			readErr := &Error{Kind: KindConnect, Op: "read", Addr: c.opts.Addr, Err: err}
			// A bad header leaves the stream position unknown, so the
			// socket is rebuilt rather than resynchronised.
			if errors.Is(err, protocol.ErrProtocol) {
				readErr = &Error{Kind: KindProtocol, Op: "read header", Addr: c.opts.Addr, Err: err}
			}
			logging.Warn("Relay read failed",
				zap.Uint64("generation", gen.id),
				zap.Error(readErr),
			)
			gen.fail(readErr)
			c.scheduleReconnect(gen, readErr)
			return
		}

		pkt, err := protocol.Decode(raw, c.store)
		if err != nil {
			logging.Warn("Dropping relay packet",
				zap.Uint64("generation", gen.id),
				zap.Error(classifyPacketError(err)),
			)
			logging.LogRawBytes("dropped packet", raw)
			continue
		}

		c.touch()
		logging.LogPacket("recv", pkt.Message.Cmd, pkt.SessionID, raw)

		if !c.handle(gen, pkt) {
			return
		}
	}
}

// handle dispatches one decoded packet. It returns false when the
// generation was cancelled while the packet was being delivered.
func (c *Client) handle(gen *generation, pkt *protocol.Packet) bool {
	msg := pkt.Message

	switch msg.Cmd {
	case protocol.CmdHello:
		c.handleHello(gen, pkt)
	case protocol.CmdLogin:
		c.handleLogin(gen, msg)
	case protocol.CmdControl:
		c.handleControl(msg)
	case protocol.CmdStateUpdate:
		return c.handleStateUpdate(gen, msg)
	case protocol.CmdHandshake, protocol.CmdHeartbeat:
		// acknowledgements carry nothing the client needs
	default:
		logging.Warn("Unknown relay command",
			zap.Int("cmd", msg.Cmd),
			zap.Any("payload", msg.Raw),
		)
	}
	return true
}

func (c *Client) handleHello(gen *generation, pkt *protocol.Packet) {
	key := pkt.Message.Key
	sessionID := pkt.SessionID

	if key == "" {
		logging.Warn("Hello response without session key", zap.Int("status", pkt.Message.Status))
		return
	}
	if sessionID == "" || sessionID == protocol.UnsetSessionID {
		logging.Warn("Hello response without session id")
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.sessionID = sessionID
	c.sessionKey = []byte(key)
	c.mu.Unlock()

	c.store.Put(sessionID, []byte(key))
	gen.helloOnce.Do(func() { close(gen.helloCh) })

	logging.Debug("Relay session created", zap.String("session_id", sessionID))

	if c.opts.OnSessionID != nil {
		c.opts.OnSessionID(sessionID)
	}
}

func (c *Client) handleLogin(gen *generation, msg *protocol.Message) {
	res := loginResult{msg: msg.Msg}
	if msg.Has("userId") {
		res.ok = true
		res.userID = string(msg.UserID)
	} else {
		logging.Error("Relay login failed",
			zap.Int("status", msg.Status),
			zap.String("msg", msg.Msg),
		)
	}

	select {
	case gen.loginCh <- res:
	default:
		// a second response for the same socket is only logged
		logging.Debug("Unexpected login response", zap.Bool("ok", res.ok))
	}
}

func (c *Client) handleControl(msg *protocol.Message) {
	if !msg.Has("uid") && !msg.Has("deviceId") {
		logging.Warn("Device control failed",
			zap.Int("status", msg.Status),
			zap.String("msg", msg.Msg),
		)
		return
	}

	name := ""
	if msg.DeviceID != "" {
		name = c.opts.Catalog.NameByDeviceID(msg.DeviceID)
	}
	if name == "" && msg.UID != "" {
		name = c.opts.Catalog.NameByDeviceID(c.opts.Catalog.DeviceIDByUID(msg.UID))
	}

	logging.Debug("Device control acknowledged",
		zap.String("device_id", msg.DeviceID),
		zap.String("uid", msg.UID),
		zap.String("name", name),
		zap.Int("status", msg.Status),
	)
}

// handleStateUpdate forwards push notifications for known devices to the
// Updates channel. It blocks while the channel is full so no accepted
// update is lost, and gives up only when the generation is cancelled.
func (c *Client) handleStateUpdate(gen *generation, msg *protocol.Message) bool {
	if !bool(msg.RespByAcc) {
		logging.Debug("Ignoring state update not pushed by account",
			zap.String("device_id", msg.DeviceID),
			zap.String("uid", msg.UID),
		)
		return true
	}

	deviceID := msg.DeviceID
	if deviceID == "" {
		deviceID = c.opts.Catalog.DeviceIDByUID(msg.UID)
		if deviceID == "" {
			logging.Warn("Dropping state update for unknown UID",
				zap.Error(&Error{Kind: KindUnknownDevice, Op: "state update", Err: errors.New("no device for uid " + msg.UID)}),
			)
			return true
		}
	}

	if !c.opts.Catalog.IsKnownDeviceID(deviceID) {
		logging.Warn("Dropping state update for unknown device",
			zap.Error(&Error{Kind: KindUnknownDevice, Op: "state update", Err: errors.New("unknown device " + deviceID)}),
		)
		return true
	}

	v1, v2, v3, v4 := msg.Values()
	update := StatusUpdate{
		DeviceID: deviceID,
		Raw:      devstate.Raw{Value1: v1, Value2: v2, Value3: v3, Value4: v4},
		Received: time.Now(),
	}

	logging.Debug("Device state pushed",
		zap.String("device_id", deviceID),
		zap.String("name", c.opts.Catalog.NameByDeviceID(deviceID)),
		zap.Int("value1", v1),
		zap.Int("value2", v2),
		zap.Int("value3", v3),
		zap.Int("value4", v4),
	)

	select {
	case c.updates <- update:
		return true
	case <-gen.ctx.Done():
		return false
	}
}
