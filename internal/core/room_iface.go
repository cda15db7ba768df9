package core

import "github.com/avelov/meetspace/internal/domain"

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}

// MemberDTO is a read-only view for APIs and the wire (no transport fields).
// IsHost is true for the earliest-inserted member still present.
type MemberDTO struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"username"`
	IsHost   bool          `json:"isHost"`
}

// RoomService is the core-facing API of a room.
// It owns the ordered membership sequence but never touches transport
// resources. Host equals the first element at all times.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	// MembersSnapshot preserves insertion order; no re-sorting ever.
	MembersSnapshot() []MemberDTO
	MemberIDs() []SessionID
	Has(sid SessionID) bool

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	// Broadcast fans data out to every member except exclude
	// (empty exclude means everyone).
	Broadcast(exclude SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
