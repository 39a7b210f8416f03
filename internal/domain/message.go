package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultSenderName = "Anonymous"
	TimestampLayout   = "2006-01-02T15:04:05.000Z"
)

var (
	ErrNotInRoom      = errors.New("not in a room")
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")
	ErrInvalidFile    = errors.New("invalid file")
)

// FilePayload is an attachment relayed verbatim. Size is the client's own
// claim about the decoded content and is not checked against Data.
type FilePayload struct {
	Name string  `json:"name"`
	Type string  `json:"type"`
	Size float64 `json:"size"`
	Data string  `json:"data"`
}

type ChatMessage struct {
	Sender    string       `json:"sender"`
	Message   string       `json:"message"`
	File      *FilePayload `json:"file,omitempty"`
	Timestamp string       `json:"timestamp"`
}

func NewChatMessage(sender, text string, file *FilePayload, now time.Time) ChatMessage {
	if sender == "" {
		sender = DefaultSenderName
	}
	return ChatMessage{
		Sender:    sender,
		Message:   text,
		File:      file,
		Timestamp: FormatTimestamp(now),
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ValidateChat checks the text of an outgoing chat message. Blank text is
// allowed when an attachment was supplied. Length is measured on the
// untrimmed text.
func ValidateChat(text string, hasFile bool, maxLen int) error {
	if strings.TrimSpace(text) == "" && !hasFile {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxLen {
		return ErrMessageTooLong
	}
	return nil
}

type rawFile struct {
	Name *string  `json:"name"`
	Type *string  `json:"type"`
	Size *float64 `json:"size"`
	Data *string  `json:"data"`
}

// HasFile reports whether raw carries an attachment. Absent, null, false,
// zero and the empty string count as no attachment.
func HasFile(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", "false", `""`:
		return false
	}
	if c := trimmed[0]; c == '-' || (c >= '0' && c <= '9') {
		var n float64
		if err := json.Unmarshal([]byte(trimmed), &n); err == nil && n == 0 {
			return false
		}
	}
	return true
}

// ParseFile decodes an attachment. A missing attachment (see HasFile) yields
// nil. Every field must be present with the right JSON type and the declared
// size must not exceed maxSize. Data is opaque.
func ParseFile(raw json.RawMessage, maxSize float64) (*FilePayload, error) {
	if !HasFile(raw) {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed[0] != '{' {
		return nil, ErrInvalidFile
	}

	var f rawFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, ErrInvalidFile
	}
	if f.Name == nil || f.Type == nil || f.Size == nil || f.Data == nil {
		return nil, ErrInvalidFile
	}
	if *f.Size > maxSize {
		return nil, ErrInvalidFile
	}

	return &FilePayload{
		Name: *f.Name,
		Type: *f.Type,
		Size: *f.Size,
		Data: *f.Data,
	}, nil
}
