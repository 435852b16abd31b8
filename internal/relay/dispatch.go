package relay

import (
	"context"

	"github.com/muurk/orvibo-relay/internal/devstate"
	"github.com/muurk/orvibo-relay/internal/logging"
	"github.com/muurk/orvibo-relay/internal/protocol"
	"go.uber.org/zap"
)

// SendControl sends a control command. state is value1 (0 turns the device
// on). It reports whether the command was written; delivery is at most once.
func (c *Client) SendControl(ctx context.Context, deviceID, uid string, state, value2, value3, value4 int) bool {
	if uid == "" {
		logging.Warn("Device has no UID, not sending control", zap.String("device_id", deviceID))
		return false
	}
	payload := protocol.BuildControl(c.opts.Username, deviceID, uid, state, value2, value3, value4)
	return c.dispatch(ctx, deviceID, protocol.CmdControl, payload)
}

// SendStateUpdateAirConditioner sends all four air conditioner values.
func (c *Client) SendStateUpdateAirConditioner(ctx context.Context, deviceID string, value1, value2, value3, value4 int) bool {
	uid := c.opts.Catalog.UIDByDeviceID(deviceID)
	if uid == "" {
		logging.Warn("Device has no UID, not sending state update", zap.String("device_id", deviceID))
		return false
	}
	payload := protocol.BuildAirConditionerStateUpdate(c.opts.Username, deviceID, uid, value1, value2, value3, value4)
	return c.dispatch(ctx, deviceID, protocol.CmdStateUpdate, payload)
}

// SendStateUpdateVentilation sends a ventilation preset (value1 only).
func (c *Client) SendStateUpdateVentilation(ctx context.Context, deviceID string, value1 int) bool {
	uid := c.opts.Catalog.UIDByDeviceID(deviceID)
	if uid == "" {
		logging.Warn("Device has no UID, not sending state update", zap.String("device_id", deviceID))
		return false
	}
	payload := protocol.BuildVentilationStateUpdate(c.opts.Username, deviceID, uid, value1)
	return c.dispatch(ctx, deviceID, protocol.CmdStateUpdate, payload)
}

// TurnOn switches a device on through the control command.
func (c *Client) TurnOn(ctx context.Context, deviceID string) bool {
	return c.SendControl(ctx, deviceID, c.opts.Catalog.UIDByDeviceID(deviceID), devstate.PowerOn, 0, 0, 0)
}

// TurnOff switches a device off through the control command.
func (c *Client) TurnOff(ctx context.Context, deviceID string) bool {
	return c.SendControl(ctx, deviceID, c.opts.Catalog.UIDByDeviceID(deviceID), devstate.PowerOff, 0, 0, 0)
}

// ControlAirConditioner sends all four values through the control command.
func (c *Client) ControlAirConditioner(ctx context.Context, deviceID string, value1, value2, value3, value4 int) bool {
	state := devstate.PowerOn
	if value1 == devstate.PowerOff {
		state = devstate.PowerOff
	}
	return c.SendControl(ctx, deviceID, c.opts.Catalog.UIDByDeviceID(deviceID), state, value2, value3, value4)
}

// ControlVentilation sends a ventilation preset through the control command.
func (c *Client) ControlVentilation(ctx context.Context, deviceID string, value1 int) bool {
	return c.SendControl(ctx, deviceID, c.opts.Catalog.UIDByDeviceID(deviceID), value1, 0, 0, 0)
}

// dispatch makes sure the session is up, then writes payload under the
// session key. While the session is not authenticated it retries up to
// MaxReconnectAttempts times, SendRetryDelay apart.
func (c *Client) dispatch(ctx context.Context, deviceID string, cmd int, payload any) bool {
	if err := c.ConnectAndLogin(ctx); err != nil {
		logging.Warn("Relay unavailable, command not sent",
			zap.String("device_id", deviceID),
			zap.String("cmd", protocol.CommandName(cmd)),
			zap.Error(err),
		)
		return false
	}

	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		if gen, ok := c.authenticated(); ok {
			if err := c.send(gen, cmd, payload, true); err != nil {
				msg := "Command send failed"
				if IsSendError(err) {
					msg = "Command lost with the connection, reconnect scheduled"
				}
				logging.Warn(msg,
					zap.String("device_id", deviceID),
					zap.String("cmd", protocol.CommandName(cmd)),
					zap.Error(err),
				)
				return false
			}
			logging.Debug("Command sent",
				zap.String("device_id", deviceID),
				zap.String("cmd", protocol.CommandName(cmd)),
			)
			return true
		}

		logging.Warn("Relay session not authenticated, retrying",
			zap.String("device_id", deviceID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", c.opts.SendRetryDelay),
		)
		if !sleepCtx(ctx, c.opts.SendRetryDelay) {
			return false
		}
	}

	logging.Warn("Command not sent, session never authenticated",
		zap.String("device_id", deviceID),
		zap.String("cmd", protocol.CommandName(cmd)),
	)
	return false
}
