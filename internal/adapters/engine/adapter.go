// Package engine adapts the media-routing engine behind a narrow
// request/response boundary with bounded timeouts. The coordinator never
// talks to the engine directly.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/core"
)

// Driver is the raw engine. Calls may be slow; the Adapter wraps them with
// correlation ids and deadlines. CloseResource must be idempotent.
type Driver interface {
	Init(ctx context.Context) error
	RouterRtpCapabilities() json.RawMessage
	CreateTransport(direction core.TransportDirection) (core.TransportInfo, error)
	ConnectTransport(transportID string, dtlsParameters json.RawMessage) error
	Produce(transportID, kind string, rtpParameters json.RawMessage) (core.ProducerInfo, error)
	Consume(transportID, producerID string, rtpCapabilities json.RawMessage) (core.ConsumerInfo, error)
	Resume(consumerID string) error
	CloseResource(resourceID string) error
	Dead() <-chan struct{}
}

// Adapter implements core.MediaEngine over a Driver.
//
// Every operation fails fast with EngineUnavailable until Init succeeds, so
// signaling (rooms, chat) keeps working when media never came up. A call
// that outlives its deadline reports Timeout to the caller; the in-flight
// driver work is abandoned, nothing gets registered and the client re-issues
// the request.
type Adapter struct {
	drv     Driver
	timeout time.Duration
	ready   atomic.Bool
}

func New(drv Driver, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{drv: drv, timeout: timeout}
}

// Init brings the underlying engine (worker + router equivalent) up once at
// process start.
func (a *Adapter) Init(ctx context.Context) error {
	if err := a.drv.Init(ctx); err != nil {
		log.Error().Err(err).Str("module", "engine").Msg("engine init failed, media features degraded")
		return fmt.Errorf("engine init: %w", err)
	}
	a.ready.Store(true)
	log.Info().Str("module", "engine").Msg("engine initialized")
	return nil
}

func (a *Adapter) RouterRtpCapabilities() (json.RawMessage, bool) {
	if !a.ready.Load() {
		return nil, false
	}
	return a.drv.RouterRtpCapabilities(), true
}

func (a *Adapter) Dead() <-chan struct{} { return a.drv.Dead() }

// call runs one driver operation as a correlated request/reply with the
// adapter's deadline. lateID extracts the created resource id from a reply
// that arrives after the caller already gave up, so the orphan can be
// engine-closed; nil for operations that create nothing.
func call[T any](a *Adapter, ctx context.Context, op string, fn func() (T, error), lateID func(T) string) (T, error) {
	var zero T
	if !a.ready.Load() {
		return zero, fmt.Errorf("%s: %w", op, core.ErrEngineUnavailable)
	}
	corr := uuid.NewString()[:8]
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type reply struct {
		v   T
		err error
	}
	ch := make(chan reply, 1)
	start := time.Now()
	go func() {
		v, err := fn()
		ch <- reply{v, err}
	}()

	select {
	case <-ctx.Done():
		log.Warn().Str("module", "engine").Str("corr", corr).Str("op", op).Dur("elapsed", time.Since(start)).Msg("engine call timed out")
		// The driver may still finish and create a resource nobody owns.
		go func() {
			r := <-ch
			if r.err != nil || lateID == nil {
				return
			}
			if id := lateID(r.v); id != "" {
				log.Warn().Str("module", "engine").Str("corr", corr).Str("op", op).Str("resource", id).Msg("closing resource created after timeout")
				_ = a.drv.CloseResource(id)
			}
		}()
		return zero, fmt.Errorf("%s: %w", op, core.ErrTimeout)
	case r := <-ch:
		if r.err != nil {
			log.Error().Err(r.err).Str("module", "engine").Str("corr", corr).Str("op", op).Msg("engine call failed")
			return zero, fmt.Errorf("%s: %v: %w", op, r.err, core.ErrEngineFailure)
		}
		log.Debug().Str("module", "engine").Str("corr", corr).Str("op", op).Dur("elapsed", time.Since(start)).Msg("engine call ok")
		return r.v, nil
	}
}

func (a *Adapter) CreateTransport(ctx context.Context, direction core.TransportDirection) (core.TransportInfo, error) {
	return call(a, ctx, "createTransport", func() (core.TransportInfo, error) {
		return a.drv.CreateTransport(direction)
	}, func(t core.TransportInfo) string { return t.ID })
}

func (a *Adapter) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	_, err := call(a, ctx, "connectTransport", func() (struct{}, error) {
		return struct{}{}, a.drv.ConnectTransport(transportID, dtlsParameters)
	}, nil)
	return err
}

func (a *Adapter) Produce(ctx context.Context, transportID, kind string, rtpParameters json.RawMessage) (core.ProducerInfo, error) {
	return call(a, ctx, "produce", func() (core.ProducerInfo, error) {
		return a.drv.Produce(transportID, kind, rtpParameters)
	}, func(p core.ProducerInfo) string { return p.ID })
}

func (a *Adapter) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (core.ConsumerInfo, error) {
	return call(a, ctx, "consume", func() (core.ConsumerInfo, error) {
		return a.drv.Consume(transportID, producerID, rtpCapabilities)
	}, func(c core.ConsumerInfo) string { return c.ID })
}

func (a *Adapter) Resume(ctx context.Context, consumerID string) error {
	_, err := call(a, ctx, "resume", func() (struct{}, error) {
		return struct{}{}, a.drv.Resume(consumerID)
	}, nil)
	return err
}

func (a *Adapter) CloseResource(ctx context.Context, resourceID string) error {
	_, err := call(a, ctx, "close", func() (struct{}, error) {
		return struct{}{}, a.drv.CloseResource(resourceID)
	}, nil)
	return err
}
