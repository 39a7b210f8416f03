package ws

import (
	"encoding/json"
	"time"

	"github.com/hilthontt/roomrelay/internal/domain"
	"github.com/hilthontt/roomrelay/internal/infrastructure/ratelimiter"
)

type RoomLimits struct {
	MaxRooms          int
	MaxMembersPerRoom int
	MaxRoomIDLength   int
	MaxNameLength     int
	MaxMessageLength  int
	MaxFileSize       float64
}

func DefaultRoomLimits() RoomLimits {
	return RoomLimits{
		MaxRooms:          1000,
		MaxMembersPerRoom: 50,
		MaxRoomIDLength:   50,
		MaxNameLength:     20,
		MaxMessageLength:  10_000,
		MaxFileSize:       2 * 1024 * 1024,
	}
}

type JoinResult struct {
	Room    *domain.Room
	Member  domain.Member
	Created bool
}

type LeaveResult struct {
	Room    *domain.Room
	Member  domain.Member
	Deleted bool
}

// RoomManager holds every live room and which room each connection is in.
// A connection is in at most one room. Like the Registry it belongs to the
// Core loop.
type RoomManager struct {
	rooms    map[string]*domain.Room
	memberOf map[ConnID]string
	limits   RoomLimits
	now      ratelimiter.Clock
}

func NewRoomManager(limits RoomLimits, clock ratelimiter.Clock) *RoomManager {
	if clock == nil {
		clock = time.Now
	}
	return &RoomManager{
		rooms:    make(map[string]*domain.Room),
		memberOf: make(map[ConnID]string),
		limits:   limits,
		now:      clock,
	}
}

// Join puts id into roomID under name, creating the room (and fixing its
// password) when it does not exist yet.
func (rm *RoomManager) Join(id ConnID, roomID, name, password string) (JoinResult, error) {
	if _, joined := rm.memberOf[id]; joined {
		return JoinResult{}, domain.ErrAlreadyJoined
	}
	if roomID == "" || name == "" {
		return JoinResult{}, domain.ErrMissingFields
	}

	roomID = domain.Normalize(roomID, rm.limits.MaxRoomIDLength)
	name = domain.Normalize(name, rm.limits.MaxNameLength)
	if roomID == "" || name == "" {
		return JoinResult{}, domain.ErrInvalidRoomOrName
	}

	member := domain.NewMember(string(id), name)

	room, exists := rm.rooms[roomID]
	if !exists {
		if len(rm.rooms) >= rm.limits.MaxRooms {
			return JoinResult{}, domain.ErrServerFull
		}
		room = domain.NewRoom(roomID, password)
		if err := room.AddMember(member, rm.limits.MaxMembersPerRoom); err != nil {
			return JoinResult{}, err
		}
		rm.rooms[roomID] = room
		rm.memberOf[id] = roomID
		return JoinResult{Room: room, Member: member, Created: true}, nil
	}

	if !room.CheckPassword(password) {
		return JoinResult{}, domain.ErrWrongPassword
	}
	if err := room.AddMember(member, rm.limits.MaxMembersPerRoom); err != nil {
		return JoinResult{}, err
	}
	rm.memberOf[id] = roomID

	return JoinResult{Room: room, Member: member}, nil
}

// Leave removes id from its room, deleting the room when it empties. It
// reports false when id was not in a room.
func (rm *RoomManager) Leave(id ConnID) (LeaveResult, bool) {
	roomID, ok := rm.memberOf[id]
	if !ok {
		return LeaveResult{}, false
	}
	delete(rm.memberOf, id)

	room, ok := rm.rooms[roomID]
	if !ok {
		return LeaveResult{}, false
	}

	member, _ := room.RemoveMember(string(id))
	res := LeaveResult{Room: room, Member: member}
	if room.IsEmpty() {
		delete(rm.rooms, roomID)
		res.Deleted = true
	}

	return res, true
}

// Chat validates a message from id and builds the envelope to relay to the
// sender's room. The sender name always comes from the room membership.
func (rm *RoomManager) Chat(id ConnID, text string, rawFile json.RawMessage) (domain.ChatMessage, *domain.Room, error) {
	room, ok := rm.RoomOf(id)
	if !ok {
		return domain.ChatMessage{}, nil, domain.ErrNotInRoom
	}

	if err := domain.ValidateChat(text, domain.HasFile(rawFile), rm.limits.MaxMessageLength); err != nil {
		return domain.ChatMessage{}, nil, err
	}

	file, err := domain.ParseFile(rawFile, rm.limits.MaxFileSize)
	if err != nil {
		return domain.ChatMessage{}, nil, err
	}

	sender := domain.DefaultSenderName
	if m, ok := room.FindMember(string(id)); ok {
		sender = m.Name
	}

	return domain.NewChatMessage(sender, text, file, rm.now()), room, nil
}

func (rm *RoomManager) RoomOf(id ConnID) (*domain.Room, bool) {
	roomID, ok := rm.memberOf[id]
	if !ok {
		return nil, false
	}
	room, ok := rm.rooms[roomID]
	return room, ok
}

func (rm *RoomManager) GetRoom(roomID string) (*domain.Room, bool) {
	r, ok := rm.rooms[roomID]
	return r, ok
}

func (rm *RoomManager) Len() int {
	return len(rm.rooms)
}
