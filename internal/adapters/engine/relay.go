package engine

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type trackState int32

const (
	trackPaused trackState = iota // consumers start paused until resumed
	trackOk
	trackDelete
)

// outTrack is a single outgoing track feeding one consumer.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func (ot *outTrack) getState() trackState { return trackState(ot.state.Load()) }
func (ot *outTrack) set(s trackState)     { ot.state.Store(int32(s)) }

// relay pumps RTP from one producer's remote track into all consumer tracks.
type relay struct {
	src *webrtc.TrackRemote

	mu   sync.RWMutex
	outs map[string]*outTrack // consumer id -> out track

	cancel context.CancelFunc
}

// loop reads RTP packets from the source track and forwards them out.
func (r *relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*outTrack, len(r.outs))
	maps.Copy(snapshot, r.outs)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for cid, ot := range snapshot {
		switch ot.getState() {
		case trackDelete:
			dirty = append(dirty, cid)
		case trackPaused:
		case trackOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", cid).Msg("relay write RTP error, marking out track as delete")
				ot.set(trackDelete)
				dirty = append(dirty, cid)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cid := range dirty {
		delete(r.outs, cid)
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outs {
		ot.set(trackDelete)
	}
}

// relayHub owns one relay per active producer plus the consumer index.
type relayHub struct {
	mu         sync.RWMutex
	relays     map[string]*relay // producer id -> relay
	byConsumer map[string]string // consumer id -> producer id
}

func newRelayHub() *relayHub {
	return &relayHub{
		relays:     make(map[string]*relay),
		byConsumer: make(map[string]string),
	}
}

func (h *relayHub) start(ctx context.Context, producerID string, src *webrtc.TrackRemote) {
	logger := log.With().Str("module", "engine.relay").Str("producer", producerID).Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	rel := &relay{src: src, outs: make(map[string]*outTrack), cancel: cancel}

	h.mu.Lock()
	if old, ok := h.relays[producerID]; ok {
		logger.Info().Msg("replacing existing relay")
		old.markAllDelete()
		old.cancel()
	}
	h.relays[producerID] = rel
	h.mu.Unlock()

	go rel.loop(relayCtx, &logger)
}

// subscribe attaches a paused out track for consumerID to producerID's relay.
func (h *relayHub) subscribe(producerID, consumerID string, track *webrtc.TrackLocalStaticRTP) bool {
	h.mu.Lock()
	rel, ok := h.relays[producerID]
	if ok {
		h.byConsumer[consumerID] = producerID
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	rel.mu.Lock()
	rel.outs[consumerID] = &outTrack{track: track}
	rel.mu.Unlock()
	return true
}

// resume unpauses a consumer's out track.
func (h *relayHub) resume(consumerID string) bool {
	h.mu.RLock()
	producerID, ok := h.byConsumer[consumerID]
	var rel *relay
	if ok {
		rel, ok = h.relays[producerID]
	}
	h.mu.RUnlock()
	if !ok {
		return false
	}
	rel.mu.RLock()
	ot, ok := rel.outs[consumerID]
	rel.mu.RUnlock()
	if !ok {
		return false
	}
	ot.set(trackOk)
	return true
}

func (h *relayHub) unsubscribe(consumerID string) {
	h.mu.Lock()
	producerID, ok := h.byConsumer[consumerID]
	delete(h.byConsumer, consumerID)
	var rel *relay
	if ok {
		rel, ok = h.relays[producerID]
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	rel.mu.RLock()
	ot, ok := rel.outs[consumerID]
	rel.mu.RUnlock()
	if ok {
		ot.set(trackDelete)
	}
}

func (h *relayHub) stop(producerID string) {
	h.mu.Lock()
	rel, ok := h.relays[producerID]
	if ok {
		delete(h.relays, producerID)
	}
	for cid, pid := range h.byConsumer {
		if pid == producerID {
			delete(h.byConsumer, cid)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	rel.markAllDelete()
	rel.cancel()
}
