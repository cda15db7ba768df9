package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/core"
	"github.com/avelov/meetspace/internal/domain"
)

type transportState int

const (
	transportNew transportState = iota
	transportConnecting
	transportConnected
	transportFailed
)

type transportRec struct {
	info      core.TransportInfo
	direction core.TransportDirection
	state     transportState
}

type mediaSession struct {
	send      *transportRec
	recv      *transportRec
	producers map[string]string // producer id -> kind
	consumers map[string]string // consumer id -> source producer id
}

type producerRec struct {
	owner core.SessionID
	kind  string
}

// ProducerAd is the wire shape of producer announcements
// (newProducer, producerClosed, existingProducers).
type ProducerAd struct {
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind,omitempty"`
}

// MediaState owns per-session transport/producer/consumer bookkeeping.
// Sessions exclusively own their resources by id; the producer index is the
// only cross-session lookup and it always carries the ownership
// back-reference, never a bare id set.
//
// Engine calls happen outside the lock: they are slow and must not stall
// other sessions. Every commit after an engine call re-checks the session is
// still registered; a session torn down mid-flight gets its freshly created
// engine resource closed instead of registered.
type MediaState struct {
	Engine core.MediaEngine

	mu        sync.Mutex
	sessions  map[core.SessionID]*mediaSession
	producers map[string]*producerRec
}

func NewMediaState(engine core.MediaEngine) *MediaState {
	return &MediaState{
		Engine:    engine,
		sessions:  make(map[core.SessionID]*mediaSession),
		producers: make(map[string]*producerRec),
	}
}

// Register installs empty bookkeeping for a new session.
func (m *MediaState) Register(sid core.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sid]; ok {
		return
	}
	m.sessions[sid] = &mediaSession{
		producers: make(map[string]string),
		consumers: make(map[string]string),
	}
}

// CreateTransport brokers a new engine transport for sid. A prior transport
// of the same direction is superseded: engine-closed exactly once and
// dropped from the maps, together with everything that rode on it. Dropped
// producers are returned so the caller can announce producerClosed to the
// room. On engine failure the session ends up with no transport for that
// direction at all.
func (m *MediaState) CreateTransport(ctx context.Context, sid core.SessionID, direction core.TransportDirection) (core.TransportInfo, []ProducerAd, error) {
	info, err := m.Engine.CreateTransport(ctx, direction)

	m.mu.Lock()
	sess, live := m.sessions[sid]
	var old *transportRec
	var dropped []ProducerAd
	var staleConsumers []string
	if live {
		var next *transportRec
		if err == nil {
			next = &transportRec{info: info, direction: direction}
		}
		old, dropped, staleConsumers = m.swapTransport(sess, direction, next)
	}
	m.mu.Unlock()

	for _, p := range dropped {
		m.closeQuietly(p.ProducerID, "producer on superseded transport")
	}
	for _, cid := range staleConsumers {
		m.closeQuietly(cid, "consumer on superseded transport")
	}
	if old != nil {
		m.closeQuietly(old.info.ID, "superseded transport")
	}
	if err != nil {
		return core.TransportInfo{}, dropped, fmt.Errorf("create %s transport: %w", direction, err)
	}
	if !live {
		// Session torn down while the engine call was in flight.
		m.closeQuietly(info.ID, "transport for dead session")
		return core.TransportInfo{}, nil, fmt.Errorf("create %s transport: session closed: %w", direction, core.ErrNotFound)
	}
	log.Info().Str("module", "app.media").Str("sid", string(sid)).Str("direction", string(direction)).Str("transport", info.ID).Msg("transport created")
	return info, dropped, nil
}

// swapTransport installs next for the given direction and returns the
// superseded record plus what rode on it: a superseded send transport takes
// its producers with it (and the consumers of other sessions sourced from
// them), a superseded recv transport takes the session's consumers. The
// caller engine-closes everything returned. Caller holds m.mu.
func (m *MediaState) swapTransport(sess *mediaSession, direction core.TransportDirection, next *transportRec) (*transportRec, []ProducerAd, []string) {
	var old *transportRec
	var dropped []ProducerAd
	var stale []string
	switch direction {
	case core.DirectionSend:
		old, sess.send = sess.send, next
		if old == nil {
			break
		}
		for id, kind := range sess.producers {
			dropped = append(dropped, ProducerAd{ProducerID: id, Kind: kind})
			delete(sess.producers, id)
			delete(m.producers, id)
			for _, other := range m.sessions {
				for cid, pid := range other.consumers {
					if pid == id {
						delete(other.consumers, cid)
						stale = append(stale, cid)
					}
				}
			}
		}
	case core.DirectionRecv:
		old, sess.recv = sess.recv, next
		if old == nil {
			break
		}
		for cid := range sess.consumers {
			delete(sess.consumers, cid)
			stale = append(stale, cid)
		}
	}
	return old, dropped, stale
}

// ConnectTransport finishes the DTLS handshake for a transport owned by sid.
// A transport id belonging to another session is indistinguishable from an
// unknown one: NotFound either way.
func (m *MediaState) ConnectTransport(ctx context.Context, sid core.SessionID, transportID string, dtlsParameters json.RawMessage) error {
	m.mu.Lock()
	rec := m.ownedTransport(sid, transportID)
	if rec == nil {
		m.mu.Unlock()
		return fmt.Errorf("connect transport %s: %w", transportID, core.ErrNotFound)
	}
	rec.state = transportConnecting
	m.mu.Unlock()

	err := m.Engine.ConnectTransport(ctx, transportID, dtlsParameters)

	m.mu.Lock()
	// The record may have been superseded meanwhile; update only if present.
	if rec := m.ownedTransport(sid, transportID); rec != nil {
		if err != nil {
			rec.state = transportFailed
		} else {
			rec.state = transportConnected
		}
	}
	m.mu.Unlock()

	if err != nil {
		// The session stays up; the client may recreate the transport.
		return fmt.Errorf("connect transport %s: %w", transportID, err)
	}
	return nil
}

func (m *MediaState) ownedTransport(sid core.SessionID, transportID string) *transportRec {
	sess, ok := m.sessions[sid]
	if !ok {
		return nil
	}
	if sess.send != nil && sess.send.info.ID == transportID {
		return sess.send
	}
	if sess.recv != nil && sess.recv.info.ID == transportID {
		return sess.recv
	}
	return nil
}

// Produce registers a new producer on the session's send transport.
// Producing without a room context is rejected before touching the engine.
func (m *MediaState) Produce(ctx context.Context, sid core.SessionID, roomID domain.RoomID, transportID, kind string, rtpParameters json.RawMessage) (core.ProducerInfo, error) {
	if roomID == "" {
		return core.ProducerInfo{}, fmt.Errorf("produce: no room joined: %w", core.ErrStateConflict)
	}

	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if !ok || sess.send == nil || sess.send.info.ID != transportID {
		m.mu.Unlock()
		return core.ProducerInfo{}, fmt.Errorf("produce on transport %s: not the send transport: %w", transportID, core.ErrNotFound)
	}
	m.mu.Unlock()

	info, err := m.Engine.Produce(ctx, transportID, kind, rtpParameters)
	if err != nil {
		return core.ProducerInfo{}, fmt.Errorf("produce %s: %w", kind, err)
	}

	m.mu.Lock()
	sess, ok = m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		// Disconnect won the race: the engine resource has no owner now.
		m.closeQuietly(info.ID, "producer for dead session")
		return core.ProducerInfo{}, fmt.Errorf("produce %s: session closed: %w", kind, core.ErrNotFound)
	}
	sess.producers[info.ID] = kind
	m.producers[info.ID] = &producerRec{owner: sid, kind: kind}
	m.mu.Unlock()

	log.Info().Str("module", "app.media").Str("sid", string(sid)).Str("producer", info.ID).Str("kind", kind).Msg("producer registered")
	return info, nil
}

// Consume creates a consumer on the session's recv transport sourced from
// producerID and resumes it, so callers never manage a separate resume step.
// Returns the consumer descriptor plus the recv transport descriptor the
// ack needs. Consuming one's own producer is allowed.
func (m *MediaState) Consume(ctx context.Context, sid core.SessionID, producerID string, rtpCapabilities json.RawMessage) (core.ConsumerInfo, core.TransportInfo, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if !ok || sess.recv == nil {
		m.mu.Unlock()
		return core.ConsumerInfo{}, core.TransportInfo{}, fmt.Errorf("consume: no recv transport: %w", core.ErrNotFound)
	}
	if _, ok := m.producers[producerID]; !ok {
		m.mu.Unlock()
		return core.ConsumerInfo{}, core.TransportInfo{}, fmt.Errorf("consume producer %s: %w", producerID, core.ErrNotFound)
	}
	transport := *sess.recv
	m.mu.Unlock()

	info, err := m.Engine.Consume(ctx, transport.info.ID, producerID, rtpCapabilities)
	if err != nil {
		return core.ConsumerInfo{}, core.TransportInfo{}, fmt.Errorf("consume producer %s: %w", producerID, err)
	}
	if err := m.Engine.Resume(ctx, info.ID); err != nil {
		m.closeQuietly(info.ID, "consumer that failed to resume")
		return core.ConsumerInfo{}, core.TransportInfo{}, fmt.Errorf("resume consumer %s: %w", info.ID, err)
	}

	m.mu.Lock()
	sess, ok = m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		m.closeQuietly(info.ID, "consumer for dead session")
		return core.ConsumerInfo{}, core.TransportInfo{}, fmt.Errorf("consume producer %s: session closed: %w", producerID, core.ErrNotFound)
	}
	sess.consumers[info.ID] = producerID
	m.mu.Unlock()

	log.Info().Str("module", "app.media").Str("sid", string(sid)).Str("consumer", info.ID).Str("producer", producerID).Msg("consumer registered")
	return info, transport.info, nil
}

// ProducersVisibleTo lists producers owned by the given sessions, for the
// existingProducers snapshot on room entry. exclude filters nothing when
// empty.
func (m *MediaState) ProducersVisibleTo(members []core.SessionID, exclude core.SessionID) []ProducerAd {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ProducerAd{}
	for _, sid := range members {
		if sid == exclude {
			continue
		}
		sess, ok := m.sessions[sid]
		if !ok {
			continue
		}
		for id, kind := range sess.producers {
			out = append(out, ProducerAd{ProducerID: id, Kind: kind})
		}
	}
	return out
}

// CloseSession tears down everything sid owns: producers first (returned so
// the caller can announce producerClosed while room membership still
// resolves), then both transports, then consumer entries, including
// consumers of other sessions that referenced the closed producers.
// Best-effort: individual engine close failures are logged, never aborting
// the remaining steps.
func (m *MediaState) CloseSession(sid core.SessionID) []ProducerAd {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, sid)

	closed := make([]ProducerAd, 0, len(sess.producers))
	orphans := []string{}
	for id, kind := range sess.producers {
		closed = append(closed, ProducerAd{ProducerID: id, Kind: kind})
		delete(m.producers, id)
		// A producer's closure closes every consumer referencing it.
		for _, other := range m.sessions {
			for cid, pid := range other.consumers {
				if pid == id {
					delete(other.consumers, cid)
					orphans = append(orphans, cid)
				}
			}
		}
	}
	transports := []string{}
	if sess.send != nil {
		transports = append(transports, sess.send.info.ID)
	}
	if sess.recv != nil {
		transports = append(transports, sess.recv.info.ID)
	}
	m.mu.Unlock()

	for _, p := range closed {
		m.closeQuietly(p.ProducerID, "producer on teardown")
	}
	for _, cid := range orphans {
		m.closeQuietly(cid, "consumer of closed producer")
	}
	for _, tid := range transports {
		m.closeQuietly(tid, "transport on teardown")
	}

	log.Info().Str("module", "app.media").Str("sid", string(sid)).
		Int("producers", len(closed)).Int("orphan_consumers", len(orphans)).Int("transports", len(transports)).
		Msg("session media closed")
	return closed
}

// closeQuietly is the best-effort engine close used by teardown and
// compensating cleanup. Teardown is not cancellable once started, so it
// carries its own context.
func (m *MediaState) closeQuietly(resourceID, what string) {
	if err := m.Engine.CloseResource(context.Background(), resourceID); err != nil {
		log.Warn().Err(err).Str("module", "app.media").Str("resource", resourceID).Msgf("closing %s", what)
	}
}
