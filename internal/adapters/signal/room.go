package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/app/orch"
	"github.com/avelov/meetspace/internal/core"
	"github.com/avelov/meetspace/internal/domain"
)

func (ctl *SignalWSController) handleJoinRoom(
	sid core.SessionID,
	token string,
	conn *WsSignalConn,
	env envelope,
) {
	var p struct {
		RoomID   string `json:"roomId"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join-room payload")
		ctl.sendError(conn, env.ReqID, errMalformedPayload)
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", p.RoomID).Msg("join-room")
	res, err := ctl.Orch.Join(sid, domain.RoomID(p.RoomID), p.Username)
	if err != nil {
		ctl.sendError(conn, env.ReqID, err)
		return
	}
	ctl.Orch.Registry.RememberName(token, p.Username)

	ctl.sendAck(conn, env.ReqID, struct {
		RoomID string           `json:"roomId"`
		Users  []core.MemberDTO `json:"users"`
	}{RoomID: string(res.RoomID), Users: res.Users})

	// Producers already live in the room, so the joiner can consume them.
	ctl.sendEvent(conn, orch.EventExistingProducers, res.Producers)
}

// handleLeave leaves the current room without dropping the connection.
func (ctl *SignalWSController) handleLeave(
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
	ctl.sendAck(conn, env.ReqID, map[string]any{"left": true})
}

func (ctl *SignalWSController) handleMessage(
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) {
	var p struct {
		Text      string `json:"text"`
		RoomID    string `json:"roomId"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendError(conn, env.ReqID, errMalformedPayload)
		return
	}
	if user, ok := ctl.Orch.Registry.User(sid); ok && !ctl.Limiter.Allow(user.ID) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("chat rate limited")
		return
	}

	// The sender is part of the room broadcast, so no separate ack needed.
	if _, err := ctl.Orch.Chat(sid, p.Text, domain.RoomID(p.RoomID), p.Timestamp); err != nil {
		ctl.sendError(conn, env.ReqID, err)
	}
}
