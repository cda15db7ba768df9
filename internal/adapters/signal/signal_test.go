package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelov/meetspace/internal/app"
	"github.com/avelov/meetspace/internal/app/orch"
	"github.com/avelov/meetspace/internal/core"
)

// idleEngine satisfies the engine boundary for tests that never reach it.
type idleEngine struct {
	dead chan struct{}
}

func newIdleEngine() *idleEngine { return &idleEngine{dead: make(chan struct{})} }

func (e *idleEngine) RouterRtpCapabilities() (json.RawMessage, bool) {
	return json.RawMessage(`{"codecs":[]}`), true
}

func (e *idleEngine) CreateTransport(_ context.Context, _ core.TransportDirection) (core.TransportInfo, error) {
	return core.TransportInfo{ID: "tr-1"}, nil
}

func (e *idleEngine) ConnectTransport(_ context.Context, _ string, _ json.RawMessage) error {
	return nil
}

func (e *idleEngine) Produce(_ context.Context, _, _ string, _ json.RawMessage) (core.ProducerInfo, error) {
	return core.ProducerInfo{ID: "pr-1"}, nil
}

func (e *idleEngine) Consume(_ context.Context, _, producerID string, _ json.RawMessage) (core.ConsumerInfo, error) {
	return core.ConsumerInfo{ID: "co-1", ProducerID: producerID}, nil
}

func (e *idleEngine) Resume(_ context.Context, _ string) error        { return nil }
func (e *idleEngine) CloseResource(_ context.Context, _ string) error { return nil }
func (e *idleEngine) Dead() <-chan struct{}                           { return e.dead }

func newController() *SignalWSController {
	reg := app.NewRegistry()
	rooms := app.NewRoomManager()
	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Media:    app.NewMediaState(newIdleEngine()),
		Cast:     &app.Broadcaster{Registry: reg, Rooms: rooms},
		Policy:   app.SimplePolicy{},
	}
	return NewSignalWSController(o, 32768, 0)
}

func recvAck(t *testing.T, conn *WsSignalConn) ackPayload {
	t.Helper()
	select {
	case frame := <-conn.send:
		var ack ackPayload
		require.NoError(t, json.Unmarshal(frame, &ack))
		return ack
	default:
		t.Fatal("no frame queued")
		return ackPayload{}
	}
}

func TestMalformedPayloadReportsGenericCode(t *testing.T) {
	ctl := newController()
	conn := &WsSignalConn{send: make(chan core.Frame, 4)}

	for _, raw := range []string{
		`{"type":"join-room","reqId":1,"data":{"roomId":""}}`,
		`{"type":"join-room","reqId":2,"data":"not an object"}`,
		`{"type":"connectTransport","reqId":3,"data":{}}`,
		`{"type":"produce","reqId":4,"data":{"kind":"audio"}}`,
		`{"type":"consume","reqId":5,"data":{}}`,
	} {
		ctl.handleSignal(context.Background(), "s1", "", conn, []byte(raw))
		ack := recvAck(t, conn)
		require.NotNil(t, ack.Error, raw)
		assert.Equal(t, "ENGINE_FAILURE", ack.Error.Code, raw)
	}
}

func TestUnknownTransportReportsNotFound(t *testing.T) {
	ctl := newController()
	ctl.Orch.Media.Register("s1")
	conn := &WsSignalConn{send: make(chan core.Frame, 4)}

	raw := `{"type":"connectTransport","reqId":9,"data":{"transportId":"tr-ghost","dtlsParameters":{}}}`
	ctl.handleSignal(context.Background(), "s1", "", conn, []byte(raw))

	ack := recvAck(t, conn)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "NOT_FOUND", ack.Error.Code)
	assert.Equal(t, int64(9), ack.ReqID)
}

func TestCanceledSessionClosesConnection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctl := newController()

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The first frame carries the session id.
	var hello struct {
		Type string `json:"type"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connection-ack", hello.Type)

	require.True(t, ctl.Orch.Registry.Cancel(core.SessionID(hello.Data.ID)))

	// The server must drop the socket promptly, not sit out a read deadline.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	start := time.Now()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}
