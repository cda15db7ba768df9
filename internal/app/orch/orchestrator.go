// Package orch composes registry, rooms, media state and broadcast fan-out
// into the operations the signaling boundary calls.
package orch

import (
	"github.com/avelov/meetspace/internal/app"
	"github.com/avelov/meetspace/internal/core"
)

// Server-initiated event names. Part of the wire contract.
const (
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventRoomUsers         = "room-users"
	EventMessage           = "message"
	EventNewProducer       = "newProducer"
	EventProducerClosed    = "producerClosed"
	EventExistingProducers = "existingProducers"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Media    *app.MediaState
	Cast     *app.Broadcaster
	Policy   app.Policy
}

// announceProducersClosed broadcasts producerClosed for each closed producer
// to the rest of sid's current room.
func (o *Orchestrator) announceProducersClosed(sid core.SessionID, closed []app.ProducerAd) {
	if len(closed) == 0 {
		return
	}
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return
	}
	for _, p := range closed {
		res := o.Cast.ToRoom(roomID, sid, EventProducerClosed, app.ProducerAd{ProducerID: p.ProducerID})
		o.applyBackpressure(room, res)
	}
}

// applyBackpressure runs the policy over broadcast drop stats. A kicked
// member goes through full teardown, same as a disconnect.
func (o *Orchestrator) applyBackpressure(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.Registry.Cancel(slow)
			o.OnDisconnect(slow)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}
