package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrAlreadyJoined     = errors.New("already joined")
	ErrMissingFields     = errors.New("missing fields")
	ErrInvalidRoomOrName = errors.New("invalid room or name")
	ErrServerFull        = errors.New("server full")
	ErrWrongPassword     = errors.New("wrong password")
	ErrRoomFull          = errors.New("room full")
	ErrNameTaken         = errors.New("name taken")
)

// Room is a named group of members. The password is fixed by whoever creates
// the room and lives exactly as long as the room does.
type Room struct {
	ID       string   `json:"id"`
	Password string   `json:"-"`
	Members  []Member `json:"members"`
}

func NewRoom(id, password string) *Room {
	return &Room{
		ID:       id,
		Password: password,
		Members:  make([]Member, 0, 4),
	}
}

// CheckPassword reports whether password admits the caller. Rooms created
// without a password admit everyone.
func (r *Room) CheckPassword(password string) bool {
	if r.Password == "" {
		return true
	}
	return r.Password == password
}

// HasName compares names case-insensitively.
func (r *Room) HasName(name string) bool {
	for _, m := range r.Members {
		if strings.EqualFold(m.Name, name) {
			return true
		}
	}
	return false
}

func (r *Room) AddMember(m Member, maxMembers int) error {
	if len(r.Members) >= maxMembers {
		return ErrRoomFull
	}
	if r.HasName(m.Name) {
		return ErrNameTaken
	}
	r.Members = append(r.Members, m)
	return nil
}

func (r *Room) RemoveMember(connID string) (Member, bool) {
	for i, m := range r.Members {
		if m.ConnID == connID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return m, true
		}
	}
	return Member{}, false
}

func (r *Room) FindMember(connID string) (Member, bool) {
	for _, m := range r.Members {
		if m.ConnID == connID {
			return m, true
		}
	}
	return Member{}, false
}

// Names lists member names in join order.
func (r *Room) Names() []string {
	names := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		names = append(names, m.Name)
	}
	return names
}

func (r *Room) Len() int {
	return len(r.Members)
}

func (r *Room) IsEmpty() bool {
	return len(r.Members) == 0
}

// Normalize trims surrounding white space and keeps at most maxLen runes.
func Normalize(value string, maxLen int) string {
	trimmed := strings.TrimSpace(value)
	if utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}
	return string([]rune(trimmed)[:maxLen])
}
