package domain

import (
	"strconv"
	"time"
)

// ChatMessage is the formatted room chat message as clients receive it.
// Field names are part of the wire contract.
type ChatMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	SenderID  UserID `json:"senderId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	RoomID    RoomID `json:"roomId"`
}

// NewChatMessage fills server-assigned fields. The id is unix millis,
// the timestamp falls back to RFC3339 now when the client sent none.
func NewChatMessage(sender *User, roomID RoomID, text, timestamp string) ChatMessage {
	now := time.Now()
	if timestamp == "" {
		timestamp = now.Format(time.RFC3339)
	}
	return ChatMessage{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		Sender:    sender.Username,
		SenderID:  sender.ID,
		Text:      text,
		Timestamp: timestamp,
		RoomID:    roomID,
	}
}
