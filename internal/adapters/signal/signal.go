package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avelov/meetspace/internal/app/orch"
	"github.com/avelov/meetspace/internal/core"
	"github.com/avelov/meetspace/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *ChatRateLimiter

	readLimit  int64
	pingPeriod time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, readLimit int64, pingPeriod time.Duration) *SignalWSController {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &SignalWSController{
		Orch:       o,
		Limiter:    NewChatRateLimiter(10, defaultChatWindow),
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds a fresh session. The session
// id lives exactly as long as this connection; the client token cookie only
// seeds the remembered display name across reconnects.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}
	pongWait := ctl.pingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}

	user, err := domain.NewUser(domain.UserID(sid), ctl.Orch.Registry.RememberedName(token))
	if err != nil {
		// Remembered name no longer valid; fall back to the placeholder.
		user, _ = domain.NewUser(domain.UserID(sid), "")
	}
	meta := domain.NewMember(user)
	sess := core.NewMemberSession(meta, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.Bind(sid, user, sess, cancel)
	ctl.Orch.Media.Register(sid)

	ctl.sendEvent(conn, "connection-ack", connectionAck{ID: user.ID, Status: "connected"})
	if caps, ok := ctl.Orch.RouterRtpCapabilities(); ok {
		ctl.sendEvent(conn, "routerRtpCapabilities", caps)
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, token, conn)
}

type connectionAck struct {
	ID     domain.UserID `json:"id"`
	Status string        `json:"status"`
}
