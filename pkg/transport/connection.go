package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	ErrNotAccepted     = errors.New("transport: connection not accepted")
	ErrAlreadyAccepted = errors.New("transport: connection already accepted")
	ErrClosed          = errors.New("transport: connection closed")
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, handleID uuid.UUID, msg []byte)

type OnCloseHandler func(handleID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
	PingTimeout time.Duration
}

// Connection is a single, thread-safe WebSocket connection. It starts out
// pending: Accept performs the HTTP upgrade, after which Run starts the pumps.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	w http.ResponseWriter
	r *http.Request

	onMessage MessageHandler
	onClose   OnCloseHandler
	handlerMu sync.RWMutex

	accepted  atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

// NewPending prepares a connection for the request without upgrading it yet.
func NewPending(parentCtx context.Context, wg *sync.WaitGroup, w http.ResponseWriter, r *http.Request, config ConnectionConfig, logger *slog.Logger) *Connection {
	c := newConnection(parentCtx, wg, nil, config, logger)
	c.w = w
	c.r = r
	return c
}

// NewConnection wraps an already accepted websocket.
func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	c := newConnection(parentCtx, wg, conn, config, logger)
	c.onMessage = onMessage
	c.onClose = onClose
	if conn != nil {
		c.accepted.Store(true)
	}
	return c
}

func newConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	return &Connection{
		id:     id,
		conn:   conn,
		logger: logger.With(slog.String("handleID", id.String())),
		config: config,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		wg:     wg,
	}
}

// Accept performs the websocket handshake for a pending connection.
func (c *Connection) Accept(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.accepted.Load() {
		return ErrAlreadyAccepted
	}
	if c.w == nil || c.r == nil {
		return ErrNotAccepted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wsConn, err := websocket.Accept(c.w, c.r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	c.conn = wsConn
	c.w, c.r = nil, nil
	c.accepted.Store(true)
	return nil
}

// Connected reports whether the websocket has been accepted and not closed.
func (c *Connection) Connected(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !c.accepted.Load() || c.closed.Load() {
		return false, nil
	}
	select {
	case <-c.ctx.Done():
		return false, nil
	default:
	}
	return true, nil
}

// Ping round-trips a websocket ping. Requires the read pump to be running.
func (c *Connection) Ping(ctx context.Context) error {
	if !c.accepted.Load() || c.conn == nil {
		return ErrNotAccepted
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if c.config.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.PingTimeout)
		defer cancel()
	}
	return c.conn.Ping(ctx)
}

func (c *Connection) Run() {
	c.wg.Add(1)
	go c.readPump()
	go c.writePump()
	go func() {
		<-c.done
		c.wg.Done()
	}()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := c.readContext()
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			readErr = err
			cancelRead()
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			c.logger.Error("Connection readpump failed", slog.Any("error", err))
			readErr = err
			return
		}
		c.handlerMu.RLock()
		handler := c.onMessage
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(c.ctx, c.id, message)
		}
	}
}

func (c *Connection) readContext() (context.Context, context.CancelFunc) {
	if c.config.ReadTimeout <= 0 {
		return context.WithCancel(c.ctx)
	}
	return context.WithTimeout(c.ctx, c.config.ReadTimeout)
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for the client. It is safe for concurrent use and
// drops the message when the connection is gone.
func (c *Connection) Send(message []byte) {
	select {
	case c.send <- message:
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
	}
}

// Close shuts down the connection and its resources. Safe to call more than
// once and before Accept.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
		c.handlerMu.RLock()
		onClose := c.onClose
		c.handlerMu.RUnlock()
		if onClose != nil {
			onClose(c.id, err)
		}
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the transport-level handle identifier. It is distinct from the
// registry connection id.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.handlerMu.Lock()
	c.onMessage = handler
	c.handlerMu.Unlock()
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.handlerMu.Lock()
	c.onClose = handler
	c.handlerMu.Unlock()
}
