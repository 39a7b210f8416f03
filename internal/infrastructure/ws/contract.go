package ws

import (
	"bytes"
	"encoding/json"

	"github.com/hilthontt/roomrelay/internal/domain"
)

type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

type RoomInfoPayload struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

func NewRoomInfo(room *domain.Room) *WSMessage {
	return &WSMessage{
		Type: TypeRoomInfo,
		Payload: RoomInfoPayload{
			Users: room.Names(),
			Count: room.Len(),
		},
	}
}

func NewChat(msg domain.ChatMessage) *WSMessage {
	return &WSMessage{
		Type:    TypeChat,
		Payload: msg,
	}
}

func NewError(reason string) *WSMessage {
	return &WSMessage{
		Type:    TypeError,
		Message: reason,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinRequest struct {
	RoomID   json.RawMessage `json:"roomId"`
	Name     json.RawMessage `json:"name"`
	Password json.RawMessage `json:"password"`
}

type chatRequest struct {
	Message json.RawMessage `json:"message"`
	File    json.RawMessage `json:"file"`
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// scalarText renders a JSON string, number or boolean as text. Absent, null,
// objects and arrays yield "".
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[':
		return ""
	default:
		return string(raw)
	}
}
