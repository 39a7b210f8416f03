package ws

import (
	"encoding/json"

	"github.com/hilthontt/roomrelay/internal/domain"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/metrics"
)

type delivery int

const (
	deliverySkipped delivery = iota
	deliverySent
	deliveryEvicted
)

// deliver queues data on conn unless conn is closed or already holds more
// than MaxBufferedBytes, in which case it is closed with 1008.
func (c *Core) deliver(id ConnID, conn Conn, data []byte) delivery {
	if !conn.IsOpen() {
		return deliverySkipped
	}

	if buffered := conn.BufferedAmount(); buffered > c.cfg.MaxBufferedBytes {
		c.logger.Warn(logging.Relay, logging.Backpressure, "evicting slow consumer", map[logging.ExtraKey]any{
			logging.ConnID: id,
			"Buffered":     buffered,
		})
		conn.Close(ClosePolicyViolation, reasonTooSlow)
		return deliveryEvicted
	}

	if err := conn.Send(data); err != nil {
		c.logger.Debug(logging.Relay, logging.Backpressure, "send failed", map[logging.ExtraKey]any{
			logging.ConnID:       id,
			logging.ErrorMessage: err.Error(),
		})
		return deliverySkipped
	}
	return deliverySent
}

func (c *Core) sendTo(id ConnID, conn Conn, msg *WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorf("ws: encode %s envelope: %v", msg.Type, err)
		return
	}
	if c.deliver(id, conn, data) == deliveryEvicted {
		c.disconnect(id, metrics.CauseTooSlow)
	}
}

// broadcast encodes msg once and delivers the same bytes to every member.
// Members evicted along the way are cleaned up after the fan-out.
func (c *Core) broadcast(members []domain.Member, msg *WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorf("ws: encode %s envelope: %v", msg.Type, err)
		return
	}

	recipients := make([]ConnID, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, ConnID(m.ConnID))
	}

	var evicted []ConnID
	sent := 0
	for _, id := range recipients {
		e, ok := c.registry.Get(id)
		if !ok {
			continue
		}
		switch c.deliver(id, e.conn, data) {
		case deliverySent:
			sent++
		case deliveryEvicted:
			evicted = append(evicted, id)
		}
	}
	c.metrics.AddRecipients(sent)

	for _, id := range evicted {
		c.disconnect(id, metrics.CauseTooSlow)
	}
}
