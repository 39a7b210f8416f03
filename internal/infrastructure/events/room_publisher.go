package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hilthontt/roomrelay/internal/infrastructure/contracts"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
)

const publishTimeout = 5 * time.Second

// Publisher receives room lifecycle events from the relay. Implementations
// must not block.
type Publisher interface {
	Publish(routingKey string, event contracts.RoomEvent)
}

type NopPublisher struct{}

func (NopPublisher) Publish(string, contracts.RoomEvent) {}

// Broker is the subset of messaging.RabbitMQ the publisher needs.
type Broker interface {
	PublishMessage(ctx context.Context, routingKey string, body []byte) error
}

type outgoing struct {
	routingKey string
	event      contracts.RoomEvent
}

type RoomPublisher struct {
	broker Broker
	queue  chan outgoing
	logger logging.Logger
	onDrop func()
}

func NewRoomPublisher(broker Broker, queueSize int, logger logging.Logger, onDrop func()) *RoomPublisher {
	if onDrop == nil {
		onDrop = func() {}
	}
	return &RoomPublisher{
		broker: broker,
		queue:  make(chan outgoing, queueSize),
		logger: logger,
		onDrop: onDrop,
	}
}

// Publish enqueues the event, dropping it when the queue is full.
func (p *RoomPublisher) Publish(routingKey string, event contracts.RoomEvent) {
	select {
	case p.queue <- outgoing{routingKey: routingKey, event: event}:
	default:
		p.onDrop()
		p.logger.Warn(logging.RabbitMQ, logging.ExternalService, "lifecycle event dropped", map[logging.ExtraKey]any{
			logging.RoomID: event.RoomID,
			logging.Reason: "queue full",
		})
	}
}

// Run forwards queued events to the broker until ctx is cancelled, then
// flushes what is still queued within publishTimeout. Cancel ctx only after
// the relay has stopped publishing.
func (p *RoomPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush(context.WithoutCancel(ctx))
			return
		case out := <-p.queue:
			p.send(ctx, out)
		}
	}
}

func (p *RoomPublisher) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	for {
		select {
		case out := <-p.queue:
			if ctx.Err() != nil {
				p.logger.Warn(logging.RabbitMQ, logging.Shutdown, "lifecycle events abandoned", map[logging.ExtraKey]any{
					"Pending": len(p.queue) + 1,
				})
				return
			}
			p.send(ctx, out)
		default:
			return
		}
	}
}

func (p *RoomPublisher) send(ctx context.Context, out outgoing) {
	body, err := json.Marshal(out.event)
	if err != nil {
		p.logger.Error(logging.RabbitMQ, logging.ExternalService, "failed to encode lifecycle event", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.broker.PublishMessage(ctx, out.routingKey, body); err != nil {
		p.logger.Error(logging.RabbitMQ, logging.ExternalService, "failed to publish lifecycle event", map[logging.ExtraKey]any{
			logging.RoomID:       out.event.RoomID,
			logging.ErrorMessage: err.Error(),
		})
	}
}
