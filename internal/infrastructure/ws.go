package infra

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebsocketOption options for websocket endpoints
type WebsocketOption struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration // deadline of a single write
	PongWait         time.Duration // connection is dead after this long without a pong
	CheckOrigin      func(r *http.Request) bool
}

// Websocket upgrades echo requests into heartbeat probed connections
type Websocket struct {
	upgrader     websocket.Upgrader
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
}

// NewWebsocket create a Websocket
func NewWebsocket(options ...*WebsocketOption) *Websocket {
	option := &WebsocketOption{
		HandshakeTimeout: 3 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         30 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if len(options) > 0 {
		custom := options[0]
		if custom.HandshakeTimeout > 0 {
			option.HandshakeTimeout = custom.HandshakeTimeout
		}
		if custom.WriteWait > 0 {
			option.WriteWait = custom.WriteWait
		}
		if custom.PongWait > 0 {
			option.PongWait = custom.PongWait
		}
		if custom.CheckOrigin != nil {
			option.CheckOrigin = custom.CheckOrigin
		}
	}
	return &Websocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      option.CheckOrigin,
			HandshakeTimeout: option.HandshakeTimeout,
		},
		writeWait:    option.WriteWait,
		pongWait:     option.PongWait,
		pingInterval: option.PongWait * 9 / 10,
	}
}

// Conn websocket connection safe for concurrent writers
type Conn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// ReadJSON read the next message into v
func (c *Conn) ReadJSON(v interface{}) error {
	return c.conn.ReadJSON(v)
}

// WriteJSON write v as one text message
func (c *Conn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(v)
}

// CloseWith send a close frame with code and reason, then close
func (c *Conn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.writeWait))
	c.mu.Unlock()
	return c.Close()
}

// Close close the connection and stop its heartbeat
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done closed once the connection is closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// IsClosed whether err means the peer went away
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		websocket.IsUnexpectedCloseError(err)
}

// WithHeartbeat wrap handler function with heartbeat probe. handler owns the
// connection until it returns, then the connection is closed.
func (ws *Websocket) WithHeartbeat(handler func(c echo.Context, conn *Conn) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := ws.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// upgrader already replied with an HTTP error
			return nil
		}

		conn := &Conn{conn: raw, writeWait: ws.writeWait, done: make(chan struct{})}
		raw.SetReadDeadline(time.Now().Add(ws.pongWait))
		raw.SetPongHandler(func(string) error {
			return raw.SetReadDeadline(time.Now().Add(ws.pongWait))
		})
		go ws.heartbeatRoutine(conn)

		defer conn.Close()
		return handler(c, conn)
	}
}

func (ws *Websocket) heartbeatRoutine(conn *Conn) {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}
