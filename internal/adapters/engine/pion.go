package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/core"
)

// Config for the in-process pion engine.
type Config struct {
	RTCMinPort  uint16
	RTCMaxPort  uint16
	STUNServers []string
}

type pionTransport struct {
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	started  bool
}

type pionProducer struct {
	transportID string
	kind        string
	receiver    *webrtc.RTPReceiver
	cancel      context.CancelFunc
}

type pionConsumer struct {
	transportID string
	producerID  string
	sender      *webrtc.RTPSender
}

// Pion is a Driver backed by pion/webrtc's ORTC API, which natively speaks
// the ICE/DTLS parameter shapes the signaling contract carries. It plays the
// role the worker+router pair plays in an out-of-process engine; since it
// lives in-process it can only die with the process, but the Dead channel
// still honors the boundary contract.
type Pion struct {
	cfg  Config
	api  *webrtc.API
	caps json.RawMessage

	relays *relayHub
	dead   chan struct{}

	mu         sync.Mutex
	transports map[string]*pionTransport
	producers  map[string]*pionProducer
	consumers  map[string]*pionConsumer
}

func NewPion(cfg Config) *Pion {
	return &Pion{
		cfg:        cfg,
		relays:     newRelayHub(),
		dead:       make(chan struct{}),
		transports: make(map[string]*pionTransport),
		producers:  make(map[string]*pionProducer),
		consumers:  make(map[string]*pionConsumer),
	}
}

func (d *Pion) Init(ctx context.Context) error {
	me := &webrtc.MediaEngine{}
	for _, c := range routerCodecs {
		if err := me.RegisterCodec(c.params, c.kind); err != nil {
			return fmt.Errorf("register codec %s: %w", c.params.MimeType, err)
		}
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = newPionLoggerFactory()
	// The engine answers connectivity checks as a lite agent; clients drive
	// ICE, matching the connect payload that carries DTLS parameters only.
	se.SetLite(true)
	if d.cfg.RTCMinPort > 0 && d.cfg.RTCMaxPort >= d.cfg.RTCMinPort {
		if err := se.SetEphemeralUDPPortRange(d.cfg.RTCMinPort, d.cfg.RTCMaxPort); err != nil {
			return fmt.Errorf("udp port range: %w", err)
		}
	}

	caps, err := json.Marshal(routerCapabilities())
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	d.api = webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se))
	d.caps = caps
	log.Info().Str("module", "engine.pion").Uint16("min_port", d.cfg.RTCMinPort).Uint16("max_port", d.cfg.RTCMaxPort).Msg("pion engine up")
	return nil
}

func (d *Pion) RouterRtpCapabilities() json.RawMessage { return d.caps }

func (d *Pion) Dead() <-chan struct{} { return d.dead }

func (d *Pion) CreateTransport(direction core.TransportDirection) (core.TransportInfo, error) {
	var servers []webrtc.ICEServer
	for _, u := range d.cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	gatherer, err := d.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: servers})
	if err != nil {
		return core.TransportInfo{}, fmt.Errorf("new gatherer: %w", err)
	}

	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return core.TransportInfo{}, fmt.Errorf("gather: %w", err)
	}
	<-done

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return core.TransportInfo{}, fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return core.TransportInfo{}, fmt.Errorf("ice candidates: %w", err)
	}

	ice := d.api.NewICETransport(gatherer)
	dtls, err := d.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return core.TransportInfo{}, fmt.Errorf("new dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return core.TransportInfo{}, fmt.Errorf("dtls parameters: %w", err)
	}

	info := core.TransportInfo{ID: uuid.NewString()}
	if info.ICEParameters, err = json.Marshal(iceParams); err != nil {
		return core.TransportInfo{}, err
	}
	if info.ICECandidates, err = json.Marshal(candidates); err != nil {
		return core.TransportInfo{}, err
	}
	if info.DTLSParameters, err = json.Marshal(dtlsParams); err != nil {
		return core.TransportInfo{}, err
	}

	d.mu.Lock()
	d.transports[info.ID] = &pionTransport{gatherer: gatherer, ice: ice, dtls: dtls}
	d.mu.Unlock()

	log.Debug().Str("module", "engine.pion").Str("transport", info.ID).Str("direction", string(direction)).Msg("transport created")
	return info, nil
}

func (d *Pion) ConnectTransport(transportID string, dtlsParameters json.RawMessage) error {
	d.mu.Lock()
	t, ok := d.transports[transportID]
	d.mu.Unlock()
	if !ok {
		return errors.New("unknown transport")
	}
	if t.started {
		return errors.New("transport already connected")
	}

	var remote webrtc.DTLSParameters
	if err := json.Unmarshal(dtlsParameters, &remote); err != nil {
		return fmt.Errorf("decode dtls parameters: %w", err)
	}

	// Lite agent: the remote peer initiates checks, we only answer them.
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, webrtc.ICEParameters{}, &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(remote); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}

	d.mu.Lock()
	t.started = true
	d.mu.Unlock()
	return nil
}

func (d *Pion) Produce(transportID, kind string, rtpParameters json.RawMessage) (core.ProducerInfo, error) {
	d.mu.Lock()
	t, ok := d.transports[transportID]
	d.mu.Unlock()
	if !ok {
		return core.ProducerInfo{}, errors.New("unknown transport")
	}

	codecType := webrtc.NewRTPCodecType(kind)
	if codecType == 0 {
		return core.ProducerInfo{}, fmt.Errorf("unknown media kind %q", kind)
	}

	var params struct {
		Encodings []struct {
			SSRC uint32 `json:"ssrc"`
		} `json:"encodings"`
	}
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return core.ProducerInfo{}, fmt.Errorf("decode rtp parameters: %w", err)
	}
	if len(params.Encodings) == 0 {
		return core.ProducerInfo{}, errors.New("rtp parameters carry no encodings")
	}

	receiver, err := d.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return core.ProducerInfo{}, fmt.Errorf("new receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(params.Encodings[0].SSRC)},
		}},
	})
	if err != nil {
		return core.ProducerInfo{}, fmt.Errorf("receive: %w", err)
	}

	id := uuid.NewString()
	relayCtx, cancel := context.WithCancel(context.Background())
	d.relays.start(relayCtx, id, receiver.Track())

	d.mu.Lock()
	d.producers[id] = &pionProducer{transportID: transportID, kind: kind, receiver: receiver, cancel: cancel}
	d.mu.Unlock()

	log.Debug().Str("module", "engine.pion").Str("producer", id).Str("kind", kind).Msg("producer created")
	return core.ProducerInfo{ID: id}, nil
}

func (d *Pion) Consume(transportID, producerID string, rtpCapabilities json.RawMessage) (core.ConsumerInfo, error) {
	d.mu.Lock()
	t, tok := d.transports[transportID]
	p, pok := d.producers[producerID]
	d.mu.Unlock()
	if !tok {
		return core.ConsumerInfo{}, errors.New("unknown transport")
	}
	if !pok {
		return core.ConsumerInfo{}, errors.New("unknown producer")
	}

	capability, err := codecCapability(p.kind)
	if err != nil {
		return core.ConsumerInfo{}, err
	}
	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(capability, id, "meetspace")
	if err != nil {
		return core.ConsumerInfo{}, fmt.Errorf("new local track: %w", err)
	}
	sender, err := d.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return core.ConsumerInfo{}, fmt.Errorf("new sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return core.ConsumerInfo{}, fmt.Errorf("send: %w", err)
	}
	if !d.relays.subscribe(producerID, id, track) {
		_ = sender.Stop()
		return core.ConsumerInfo{}, errors.New("producer relay gone")
	}

	rtpParams, err := json.Marshal(sendParams)
	if err != nil {
		return core.ConsumerInfo{}, err
	}

	d.mu.Lock()
	d.consumers[id] = &pionConsumer{transportID: transportID, producerID: producerID, sender: sender}
	d.mu.Unlock()

	log.Debug().Str("module", "engine.pion").Str("consumer", id).Str("producer", producerID).Msg("consumer created")
	return core.ConsumerInfo{
		ID:            id,
		ProducerID:    producerID,
		Kind:          p.kind,
		RTPParameters: rtpParams,
		Type:          "simple",
	}, nil
}

func (d *Pion) Resume(consumerID string) error {
	d.mu.Lock()
	_, ok := d.consumers[consumerID]
	d.mu.Unlock()
	if !ok {
		return errors.New("unknown consumer")
	}
	if !d.relays.resume(consumerID) {
		return errors.New("consumer relay gone")
	}
	return nil
}

// CloseResource closes whatever owns the id: transport, producer or
// consumer. An unknown id means it's already gone; that is not an error.
func (d *Pion) CloseResource(resourceID string) error {
	d.mu.Lock()
	if t, ok := d.transports[resourceID]; ok {
		delete(d.transports, resourceID)
		d.mu.Unlock()
		if err := t.dtls.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "engine.pion").Str("transport", resourceID).Msg("dtls stop")
		}
		if err := t.ice.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "engine.pion").Str("transport", resourceID).Msg("ice stop")
		}
		return nil
	}
	if p, ok := d.producers[resourceID]; ok {
		delete(d.producers, resourceID)
		d.mu.Unlock()
		d.relays.stop(resourceID)
		p.cancel()
		if err := p.receiver.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "engine.pion").Str("producer", resourceID).Msg("receiver stop")
		}
		return nil
	}
	if c, ok := d.consumers[resourceID]; ok {
		delete(d.consumers, resourceID)
		d.mu.Unlock()
		d.relays.unsubscribe(resourceID)
		if err := c.sender.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "engine.pion").Str("consumer", resourceID).Msg("sender stop")
		}
		return nil
	}
	d.mu.Unlock()
	return nil
}
