package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/core"
)

func (ctl *SignalWSController) handleCreateTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) {
	var p struct {
		Sender bool `json:"sender"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad createTransport payload")
		ctl.sendError(conn, env.ReqID, errMalformedPayload)
		return
	}

	info, err := ctl.Orch.CreateTransport(ctx, sid, p.Sender)
	if err != nil {
		ctl.sendError(conn, env.ReqID, err)
		return
	}
	// The descriptor goes back engine-provided, unchanged.
	ctl.sendAck(conn, env.ReqID, info)
}

func (ctl *SignalWSController) handleConnectTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) {
	var p struct {
		TransportID    string          `json:"transportId"`
		DTLSParameters json.RawMessage `json:"dtlsParameters"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || p.TransportID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad connectTransport payload")
		ctl.sendError(conn, env.ReqID, errMalformedPayload)
		return
	}

	if err := ctl.Orch.ConnectTransport(ctx, sid, p.TransportID, p.DTLSParameters); err != nil {
		ctl.sendError(conn, env.ReqID, err)
		return
	}
	ctl.sendAck(conn, env.ReqID, nil)
}

func (ctl *SignalWSController) handleProduce(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) {
	var p struct {
		TransportID   string          `json:"transportId"`
		Kind          string          `json:"kind"`
		RTPParameters json.RawMessage `json:"rtpParameters"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || p.TransportID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad produce payload")
		ctl.sendError(conn, env.ReqID, errMalformedPayload)
		return
	}

	info, err := ctl.Orch.Produce(ctx, sid, p.TransportID, p.Kind, p.RTPParameters)
	if err != nil {
		ctl.sendError(conn, env.ReqID, err)
		return
	}
	ctl.sendAck(conn, env.ReqID, info)
}

func (ctl *SignalWSController) handleConsume(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env envelope,
) {
	var p struct {
		ProducerID      string          `json:"producerId"`
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ProducerID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad consume payload")
		ctl.sendError(conn, env.ReqID, errMalformedPayload)
		return
	}

	res, err := ctl.Orch.Consume(ctx, sid, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		ctl.sendError(conn, env.ReqID, err)
		return
	}
	ctl.sendAck(conn, env.ReqID, res)
}
