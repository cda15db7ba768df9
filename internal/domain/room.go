package domain

type RoomID string

// Room is created on first join and destroyed when the last member leaves.
type Room struct {
	ID RoomID
}
