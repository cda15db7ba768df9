package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/core"
	"github.com/avelov/meetspace/internal/domain"
)

// Event is the server-initiated message envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func EncodeEvent(event string, payload any) (core.Frame, error) {
	return json.Marshal(Event{Type: event, Data: payload})
}

// Broadcaster computes recipient sets for state-change notifications and
// hands each recipient's frame to its signal connection. All notifications
// are room-scoped: a session outside the originating room never gets one.
// No persistent state of its own.
type Broadcaster struct {
	Registry *Registry
	Rooms    core.RoomManager
}

// ToRoom fans event out to every member of roomID except exclude
// (empty exclude means everyone). Returns delivery stats so the caller
// can apply backpressure policy.
func (b *Broadcaster) ToRoom(roomID domain.RoomID, exclude core.SessionID, event string, payload any) core.PublishResult {
	room, ok := b.Rooms.Get(roomID)
	if !ok {
		return core.PublishResult{}
	}
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcast").Str("event", event).Msg("encode event")
		return core.PublishResult{}
	}
	return room.Broadcast(exclude, frame)
}

// ToSession sends event directly to one session, independent of rooms.
func (b *Broadcaster) ToSession(sid core.SessionID, event string, payload any) {
	sess, ok := b.Registry.GetSession(sid)
	if !ok {
		return
	}
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcast").Str("event", event).Msg("encode event")
		return
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.broadcast").Str("sid", string(sid)).Str("event", event).Msg("direct send dropped")
	}
}
