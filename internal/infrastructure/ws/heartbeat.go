package ws

import (
	"context"

	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// sweep terminates connections that never answered the last probe and
// probes the rest.
func (c *Core) sweep() {
	_, span := c.tracer.Start(context.Background(), "relay.sweep")
	defer span.End()

	expired, probed := c.registry.Sweep()
	span.SetAttributes(
		attribute.Int("relay.expired", len(expired)),
		attribute.Int("relay.probed", len(probed)),
	)

	for _, p := range expired {
		p.Conn.Terminate()
	}
	for _, p := range expired {
		c.logger.Info(logging.Relay, logging.Heartbeat, "connection missed heartbeat", map[logging.ExtraKey]any{
			logging.ConnID: p.ID,
		})
		c.disconnect(p.ID, metrics.CauseHeartbeat)
	}

	for _, p := range probed {
		if err := p.Conn.Ping(); err != nil {
			c.logger.Debug(logging.Relay, logging.Heartbeat, "probe failed", map[logging.ExtraKey]any{
				logging.ConnID:       p.ID,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}
