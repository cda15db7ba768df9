package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/core"
)

// errMalformedPayload covers requests whose data blob cannot be decoded or
// misses required fields. Not part of the taxonomy: it reports through the
// generic internal-error code, the same path a panicking handler takes.
var errMalformedPayload = errors.New("malformed payload")

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			// Closing here unblocks readPump's pending read; a canceled
			// session must not linger until the pong deadline expires.
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump serializes all requests from one session: a slow engine call
// blocks only this connection, never another session's pump. Its exit is
/// the disconnect: teardown runs to completion before the pump goroutine
// finishes.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, token string, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, sid, token, c, data)
		}
	}
}

// envelope frames every client request. Event names and the payload field
// names inside data are the wire contract; the envelope itself is ours.
type envelope struct {
	Type  string          `json:"type"`
	ReqID int64           `json:"reqId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, token string, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	// A panicking handler answers the requester and nobody else.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Any("panic", r).Msg("handler panic")
			ctl.sendError(c, env.ReqID, core.ErrEngineFailure)
		}
	}()

	switch env.Type {
	case "join-room":
		ctl.handleJoinRoom(sid, token, c, env)
	case "leave":
		ctl.handleLeave(sid, c, env)
	case "message":
		ctl.handleMessage(sid, c, env)
	case "createTransport":
		ctl.handleCreateTransport(ctx, sid, c, env)
	case "connectTransport":
		ctl.handleConnectTransport(ctx, sid, c, env)
	case "produce":
		ctl.handleProduce(ctx, sid, c, env)
	case "consume":
		ctl.handleConsume(ctx, sid, c, env)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ackPayload struct {
	Type  string     `json:"type"`
	ReqID int64      `json:"reqId"`
	Data  any        `json:"data,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

func (ctl *SignalWSController) sendAck(c *WsSignalConn, reqID int64, data any) {
	ctl.sendJSON(c, ackPayload{Type: "ack", ReqID: reqID, Data: data})
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, reqID int64, err error) {
	ctl.sendJSON(c, ackPayload{Type: "ack", ReqID: reqID, Error: &wireError{
		Code:    core.ErrorCode(err),
		Message: err.Error(),
	}})
}

func (ctl *SignalWSController) sendEvent(c *WsSignalConn, event string, payload any) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: event, Data: payload})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
