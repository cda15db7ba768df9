package orch

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/app"
	"github.com/avelov/meetspace/internal/core"
	"github.com/avelov/meetspace/internal/domain"
)

// JoinResult feeds the join-room ack and the existingProducers snapshot.
type JoinResult struct {
	RoomID    domain.RoomID
	Users     []core.MemberDTO
	Producers []app.ProducerAd
}

// Join adds sid to roomID, creating the room on first join. Joining while a
// member of a different room is a conflict: the caller must leave first.
// Rejoining the current room is a no-op that re-acks a fresh snapshot.
// Existing members learn about the newcomer, everyone (joiner included)
// gets the updated ordered member list.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID, username string) (JoinResult, error) {
	if current, ok := o.Registry.RoomOf(sid); ok && current != roomID {
		return JoinResult{}, fmt.Errorf("join %s: member of %s: %w", roomID, current, core.ErrAlreadyInRoom)
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return JoinResult{}, fmt.Errorf("join %s: %w", roomID, core.ErrNotFound)
	}
	if username != "" {
		if err := o.Registry.UpdateUsername(sid, username); err != nil {
			return JoinResult{}, err
		}
	}

	room := o.Rooms.GetOrCreate(roomID)
	fresh := !room.Has(sid)
	room.AddMember(sid, sess)
	o.Registry.SetRoom(sid, roomID)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("joined room")

	user, _ := o.Registry.User(sid)
	if fresh {
		res := o.Cast.ToRoom(roomID, sid, EventUserJoined, user)
		o.applyBackpressure(room, res)
	}
	res := o.Cast.ToRoom(roomID, "", EventRoomUsers, room.MembersSnapshot())
	o.applyBackpressure(room, res)

	return JoinResult{
		RoomID:    roomID,
		Users:     room.MembersSnapshot(),
		Producers: o.ProducersInRoom(sid),
	}, nil
}

// ProducersInRoom lists producers owned by the other members of sid's current
// room, the set a joiner can immediately consume.
func (o *Orchestrator) ProducersInRoom(sid core.SessionID) []app.ProducerAd {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil
	}
	return o.Media.ProducersVisibleTo(room.MemberIDs(), sid)
}

// Leave removes sid from its room without dropping the connection. Media
// resources go down the same teardown path as a disconnect; the session can
// re-join and re-create transports afterwards. Idempotent: not being in a
// room is a no-op with no broadcast.
func (o *Orchestrator) Leave(sid core.SessionID) {
	o.teardown(sid)
	o.Media.Register(sid) // fresh bookkeeping for a future re-join
}

// OnDisconnect runs the full teardown and unbinds the session. Once started
// it runs to completion.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.teardown(sid)
	o.Registry.Unbind(sid)
}

// teardown order matters: producers are closed and announced while the room
// association still resolves, then membership goes. Listeners therefore
// always learn producerClosed before the member vanishes from room-users.
func (o *Orchestrator) teardown(sid core.SessionID) {
	roomID, inRoom := o.Registry.RoomOf(sid)

	closed := o.Media.CloseSession(sid)
	o.announceProducersClosed(sid, closed)

	if !inRoom {
		return
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		o.Registry.ClearRoom(sid)
		return
	}
	room.RemoveMember(sid)
	o.Registry.ClearRoom(sid)

	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
		log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room destroyed")
		return
	}
	if user, ok := o.Registry.User(sid); ok {
		o.Cast.ToRoom(roomID, sid, EventUserLeft, user)
	}
	// The updated list carries the new host flag implicitly.
	res := o.Cast.ToRoom(roomID, sid, EventRoomUsers, room.MembersSnapshot())
	o.applyBackpressure(room, res)
}

// Chat formats and fans out a room chat message, sender included. A missing
// roomId falls back to the sender's current room.
func (o *Orchestrator) Chat(sid core.SessionID, text string, roomID domain.RoomID, timestamp string) (domain.ChatMessage, error) {
	user, ok := o.Registry.User(sid)
	if !ok {
		return domain.ChatMessage{}, fmt.Errorf("chat: %w", core.ErrNotFound)
	}
	if roomID == "" {
		current, ok := o.Registry.RoomOf(sid)
		if !ok {
			return domain.ChatMessage{}, fmt.Errorf("chat: no room joined: %w", core.ErrStateConflict)
		}
		roomID = current
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok || !room.Has(sid) {
		return domain.ChatMessage{}, fmt.Errorf("chat to room %s: %w", roomID, core.ErrNotFound)
	}

	msg := domain.NewChatMessage(user, roomID, text, timestamp)
	res := o.Cast.ToRoom(roomID, "", EventMessage, msg)
	o.applyBackpressure(room, res)
	return msg, nil
}
