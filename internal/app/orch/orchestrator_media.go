package orch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/app"
	"github.com/avelov/meetspace/internal/core"
)

// CreateTransport brokers an engine transport for sid. Producers that rode
// on a superseded send transport are announced closed to the room, even when
// the replacing engine call failed.
func (o *Orchestrator) CreateTransport(ctx context.Context, sid core.SessionID, sender bool) (core.TransportInfo, error) {
	direction := core.DirectionRecv
	if sender {
		direction = core.DirectionSend
	}
	info, closed, err := o.Media.CreateTransport(ctx, sid, direction)
	o.announceProducersClosed(sid, closed)
	if err != nil {
		return core.TransportInfo{}, err
	}
	return info, nil
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, transportID string, dtlsParameters json.RawMessage) error {
	return o.Media.ConnectTransport(ctx, sid, transportID, dtlsParameters)
}

// Produce registers a producer on sid's send transport and announces it to
// every other member of sid's current room. The producer itself is excluded
// from the announcement.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, transportID, kind string, rtpParameters json.RawMessage) (core.ProducerInfo, error) {
	roomID, _ := o.Registry.RoomOf(sid)
	info, err := o.Media.Produce(ctx, sid, roomID, transportID, kind, rtpParameters)
	if err != nil {
		return core.ProducerInfo{}, err
	}

	if room, ok := o.Rooms.Get(roomID); ok {
		res := o.Cast.ToRoom(roomID, sid, EventNewProducer, app.ProducerAd{ProducerID: info.ID, Kind: kind})
		o.applyBackpressure(room, res)
	}
	return info, nil
}

// ConsumeResult is everything the consume ack carries: the consumer itself
// plus the recv transport parameters the client needs to wire it up.
type ConsumeResult struct {
	ID             string          `json:"id"`
	ProducerID     string          `json:"producerId"`
	Kind           string          `json:"kind"`
	RTPParameters  json.RawMessage `json:"rtpParameters"`
	Type           string          `json:"type"`
	TransportID    string          `json:"transportId"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, producerID string, rtpCapabilities json.RawMessage) (ConsumeResult, error) {
	info, transport, err := o.Media.Consume(ctx, sid, producerID, rtpCapabilities)
	if err != nil {
		return ConsumeResult{}, err
	}
	return ConsumeResult{
		ID:             info.ID,
		ProducerID:     info.ProducerID,
		Kind:           info.Kind,
		RTPParameters:  info.RTPParameters,
		Type:           info.Type,
		TransportID:    transport.ID,
		ICEParameters:  transport.ICEParameters,
		ICECandidates:  transport.ICECandidates,
		DTLSParameters: transport.DTLSParameters,
	}, nil
}

// RouterRtpCapabilities proxies the engine capabilities for the connect
// handshake; false when media is degraded.
func (o *Orchestrator) RouterRtpCapabilities() (json.RawMessage, bool) {
	caps, ok := o.Media.Engine.RouterRtpCapabilities()
	if !ok {
		log.Debug().Str("module", "orch").Msg("engine down, skipping rtp capabilities")
	}
	return caps, ok
}
