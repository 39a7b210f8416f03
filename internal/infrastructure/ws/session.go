package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hilthontt/roomrelay/internal/domain"
	"github.com/hilthontt/roomrelay/internal/infrastructure/contracts"
	"github.com/hilthontt/roomrelay/internal/infrastructure/logging"
	"github.com/hilthontt/roomrelay/internal/infrastructure/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	reasonRateLimited    = "Rate limit exceeded"
	reasonInvalidJSON    = "Invalid JSON"
	reasonInvalidMessage = "Invalid message"
	reasonInternal       = "Internal error"
)

var rejectionReasons = []struct {
	err    error
	reason string
}{
	{domain.ErrAlreadyJoined, "Already joined"},
	{domain.ErrMissingFields, "Missing fields"},
	{domain.ErrInvalidRoomOrName, "Invalid room or name"},
	{domain.ErrServerFull, "Server full"},
	{domain.ErrWrongPassword, "Wrong password"},
	{domain.ErrRoomFull, "Room full"},
	{domain.ErrNameTaken, "Name taken"},
	{domain.ErrNotInRoom, "Not in a room"},
	{domain.ErrEmptyMessage, "Empty message"},
	{domain.ErrMessageTooLong, "Message too long"},
	{domain.ErrInvalidFile, "Invalid file"},
}

func reasonFor(err error) string {
	for _, r := range rejectionReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return reasonInternal
}

func (c *Core) handleMessage(id ConnID, data []byte) {
	e, ok := c.registry.Get(id)
	if !ok {
		return
	}

	if !c.limiter.Admit(&e.rate) {
		c.reject(id, e.conn, reasonRateLimited)
		return
	}

	if len(data) > c.cfg.MaxFrameSize {
		c.logger.Warn(logging.Relay, logging.Protocol, "frame too large", map[logging.ExtraKey]any{
			logging.ConnID: id,
			"Size":         len(data),
		})
		e.conn.Close(CloseMessageTooBig, reasonTooLarge)
		c.disconnect(id, metrics.CauseTooLarge)
		return
	}

	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			c.reject(id, e.conn, reasonInvalidJSON)
		} else {
			c.reject(id, e.conn, reasonInvalidMessage)
		}
		return
	}
	if msg.Type == "" || !isObject(msg.Payload) {
		c.reject(id, e.conn, reasonInvalidMessage)
		return
	}

	switch msg.Type {
	case TypeJoin:
		c.metrics.IncInbound(TypeJoin)
		c.handleJoin(id, e.conn, msg.Payload)
	case TypeChat:
		c.metrics.IncInbound(TypeChat)
		c.handleChat(id, e.conn, msg.Payload)
	default:
		c.metrics.IncInbound("unknown")
		c.logger.Debug(logging.Relay, logging.Protocol, "unknown message type ignored", map[logging.ExtraKey]any{
			logging.ConnID: id,
			"Type":         msg.Type,
		})
	}
}

func (c *Core) handleJoin(id ConnID, conn Conn, payload json.RawMessage) {
	_, span := c.tracer.Start(context.Background(), "relay.join")
	defer span.End()
	span.SetAttributes(attribute.String("relay.conn_id", string(id)))

	var req joinRequest
	_ = json.Unmarshal(payload, &req)

	res, err := c.rooms.Join(id, scalarText(req.RoomID), scalarText(req.Name), scalarText(req.Password))
	if err != nil {
		reason := reasonFor(err)
		span.SetStatus(codes.Error, reason)
		c.reject(id, conn, reason)
		return
	}

	span.SetAttributes(
		attribute.String("relay.room_id", res.Room.ID),
		attribute.Bool("relay.room_created", res.Created),
	)

	c.syncGauges()
	c.logger.Info(logging.Relay, logging.Join, "member joined", map[logging.ExtraKey]any{
		logging.ConnID: id,
		logging.RoomID: res.Room.ID,
		logging.Member: res.Member.Name,
	})

	at := domain.FormatTimestamp(c.now())
	if res.Created {
		c.publisher.Publish(contracts.EventRoomCreated, contracts.RoomEvent{RoomID: res.Room.ID, Member: res.Member.Name, Count: res.Room.Len(), At: at})
	}
	c.publisher.Publish(contracts.EventMemberJoined, contracts.RoomEvent{RoomID: res.Room.ID, Member: res.Member.Name, Count: res.Room.Len(), At: at})

	c.broadcast(res.Room.Members, NewRoomInfo(res.Room))
}

func (c *Core) handleChat(id ConnID, conn Conn, payload json.RawMessage) {
	_, span := c.tracer.Start(context.Background(), "relay.chat")
	defer span.End()
	span.SetAttributes(attribute.String("relay.conn_id", string(id)))

	var req chatRequest
	_ = json.Unmarshal(payload, &req)

	msg, room, err := c.rooms.Chat(id, scalarText(req.Message), req.File)
	if err != nil {
		reason := reasonFor(err)
		span.SetStatus(codes.Error, reason)
		c.reject(id, conn, reason)
		return
	}

	span.SetAttributes(
		attribute.String("relay.room_id", room.ID),
		attribute.Int("relay.recipients", room.Len()),
		attribute.Bool("relay.has_file", msg.File != nil),
	)

	c.broadcast(room.Members, NewChat(msg))
}

func (c *Core) reject(id ConnID, conn Conn, reason string) {
	c.metrics.IncRejection(reason)
	c.logger.Debug(logging.Relay, logging.Protocol, "request rejected", map[logging.ExtraKey]any{
		logging.ConnID: id,
		logging.Reason: reason,
	})
	c.sendTo(id, conn, NewError(reason))
}

// disconnect forgets id and removes it from its room. Later calls for the
// same id do nothing.
func (c *Core) disconnect(id ConnID, cause string) {
	if !c.registry.Unregister(id) {
		return
	}
	c.metrics.IncDisconnect(cause)

	_, span := c.tracer.Start(context.Background(), "relay.leave")
	defer span.End()
	span.SetAttributes(
		attribute.String("relay.conn_id", string(id)),
		attribute.String("relay.cause", cause),
	)

	res, ok := c.rooms.Leave(id)
	c.syncGauges()
	if !ok {
		c.logger.Debug(logging.Relay, logging.Leave, "connection closed outside a room", map[logging.ExtraKey]any{
			logging.ConnID: id,
			logging.Reason: cause,
		})
		return
	}

	span.SetAttributes(attribute.String("relay.room_id", res.Room.ID))
	c.logger.Info(logging.Relay, logging.Leave, "member left", map[logging.ExtraKey]any{
		logging.ConnID: id,
		logging.RoomID: res.Room.ID,
		logging.Member: res.Member.Name,
		logging.Reason: cause,
	})

	at := domain.FormatTimestamp(c.now())
	c.publisher.Publish(contracts.EventMemberLeft, contracts.RoomEvent{RoomID: res.Room.ID, Member: res.Member.Name, Count: res.Room.Len(), At: at})
	if res.Deleted {
		c.publisher.Publish(contracts.EventRoomDeleted, contracts.RoomEvent{RoomID: res.Room.ID, At: at})
		return
	}

	c.broadcast(res.Room.Members, NewRoomInfo(res.Room))
}
