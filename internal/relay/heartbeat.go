package relay

import (
	"time"

	"github.com/muurk/orvibo-relay/internal/logging"
	"github.com/muurk/orvibo-relay/internal/protocol"
	"go.uber.org/zap"
)

// heartbeat keeps an authenticated generation alive. A failed send is
// retried after HeartbeatRetryDelay; a broken socket cancels the generation,
// which ends the loop.
func (c *Client) heartbeat(gen *generation) {
	defer c.tasks.Done()
	defer gen.wg.Done()

	logging.Debug("Heartbeat started",
		zap.Uint64("generation", gen.id),
		zap.Duration("interval", c.opts.HeartbeatInterval),
	)

	wait := c.opts.HeartbeatInterval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-gen.ctx.Done():
			timer.Stop()
			logging.Debug("Heartbeat stopped", zap.Uint64("generation", gen.id))
			return
		case <-timer.C:
		}

		if err := c.send(gen, protocol.CmdHeartbeat, protocol.BuildHeartbeat(), true); err != nil {
			logging.Warn("Heartbeat send failed",
				zap.Uint64("generation", gen.id),
				zap.Error(err),
			)
			wait = c.opts.HeartbeatRetryDelay
			continue
		}
		wait = c.opts.HeartbeatInterval
	}
}
