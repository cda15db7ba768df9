package core

import (
	"context"
	"encoding/json"
)

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// TransportInfo is the engine-provided connection descriptor. The parameter
// blobs are passed to clients unchanged; the coordinator never inspects them.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type ProducerInfo struct {
	ID string `json:"id"`
}

type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	Type          string          `json:"type"`
}

// MediaEngine is the boundary to the external media-routing engine.
// Every call is individually fallible with a bounded timeout; failures map
// onto the core error taxonomy and never tear the caller's session down.
type MediaEngine interface {
	// RouterRtpCapabilities reports the router capabilities, false when the
	// engine never came up.
	RouterRtpCapabilities() (json.RawMessage, bool)

	CreateTransport(ctx context.Context, direction TransportDirection) (TransportInfo, error)
	ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage) (ProducerInfo, error)
	Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error)
	Resume(ctx context.Context, consumerID string) error
	// CloseResource is idempotent: closing an already-closed id is not an error.
	CloseResource(ctx context.Context, resourceID string) error

	// Dead is closed when the underlying engine dies unrecoverably.
	// Router state cannot be rebuilt in place; the process must exit.
	Dead() <-chan struct{}
}
