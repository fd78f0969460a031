package signal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/app/orch"
	"github.com/dkeye/sigrelay/internal/app/throttle"
	"github.com/dkeye/sigrelay/internal/core"
	"github.com/dkeye/sigrelay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Gate admits and releases connections per source address.
type Gate interface {
	Admit(source string, id domain.ConnID) error
	Release(source string, id domain.ConnID)
}

type Options struct {
	ReadLimit  int64
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	SendBuffer int
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return o
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	Gate Gate

	opts     Options
	upgrader websocket.Upgrader
}

func NewSignalWSController(o *orch.Orchestrator, gate Gate, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Orch: o,
		Gate: gate,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// WsSignalConn is a core.Peer over a gorilla websocket. Writes go through a
// bounded queue drained by writePump; reads happen on the caller of Receive.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	opts Options

	mu        sync.RWMutex
	closed    bool
	closeCode core.CloseCode
	reason    string
}

func newWsSignalConn(ws *websocket.Conn, opts Options) *WsSignalConn {
	c := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, opts.SendBuffer),
		opts: opts,
	}
	ws.SetReadLimit(opts.ReadLimit)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})
	return c
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close drops the transport without a close frame. Used for kicks.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// CloseWith flushes queued frames, then sends a close frame with code and
// reason. The transport is torn down after WriteWait at the latest.
func (c *WsSignalConn) CloseWith(code core.CloseCode, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeCode = code
	c.reason = reason
	close(c.send)
	c.mu.Unlock()

	time.AfterFunc(c.opts.WriteWait, func() { _ = c.conn.Close() })
}

// Receive returns the next text or binary frame. ctx cancellation and its
// deadline interrupt the read; otherwise the pong deadline applies.
func (c *WsSignalConn) Receive(ctx context.Context) (core.Frame, error) {
	deadline := time.Now().Add(c.opts.PongWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The socket deadline can fire before the ctx timer does.
		var ne net.Error
		if d, ok := ctx.Deadline(); ok && errors.As(err, &ne) && ne.Timeout() && !time.Now().Before(d) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return data, nil
}

func (c *WsSignalConn) closeFrame() (core.CloseCode, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeCode, c.reason
}

// HandleSignal upgrades the request and serves it until the peer leaves.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("room_id"))
	source := c.ClientIP()
	connID := domain.ConnID(uuid.NewString())
	logger := log.With().
		Str("module", "signal").
		Str("conn", string(connID)).
		Str("room", string(roomID)).
		Str("source", source).
		Logger()

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	if err := ctl.Gate.Admit(source, connID); err != nil {
		code, reason := core.ClosePolicyViolation, "IP blocked due to security violations"
		if errors.Is(err, throttle.ErrTooManyConnections) {
			code, reason = core.CloseTryAgainLater, "Too many connections"
		}
		logger.Warn().Err(err).Msg("connection refused")
		writeClose(ws, code, reason, ctl.opts.WriteWait)
		return
	}
	defer ctl.Gate.Release(source, connID)

	conn := newWsSignalConn(ws, ctl.opts)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctl.writePump(ctx, conn)
	}()

	logger.Info().Msg("new WS connection")
	ctl.Orch.Serve(ctx, conn, connID, roomID, source)

	// Serve always closes the peer; wait for the final frames to flush.
	select {
	case <-done:
	case <-time.After(ctl.opts.WriteWait):
		_ = ws.Close()
	}
	logger.Info().Msg("WS connection finished")
}

func writeClose(ws *websocket.Conn, code core.CloseCode, reason string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(int(code), reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	_ = ws.Close()
}
