package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pingchat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 256
	maxFrameSize   = 1 << 20
)

var ErrAlreadyConnected = errors.New("channel already connected")

// Handler receives the raw data of one inbound event. Handlers run on the
// channel's read goroutine, one at a time, in delivery order.
type Handler func(data json.RawMessage)

type Options struct {
	URL    string
	Header http.Header
	// MaxAttempts caps reconnection attempts after a failed dial or a
	// dropped connection.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Dialer          *websocket.Dialer
}

// Channel is a single event connection to the backend. It owns reconnection;
// callers only see connect, connect_error and disconnect.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	send     chan []byte
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewChannel(opts Options) *Channel {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Channel{
		opts:     opts,
		dialer:   dialer,
		logger:   log.With().Str("component", "websocket").Logger(),
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for event, replacing any earlier one.
func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[event]; ok {
		c.logger.Debug().Str("event", event).Msg("replacing handler")
	}
	c.handlers[event] = h
}

// Connect starts the connection loop for userID and returns immediately.
// Identity is announced with user-login every time a connection opens.
func (c *Channel) Connect(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
			c.cancel()
		default:
			return ErrAlreadyConnected
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, userID, c.done)
	return nil
}

// Connected reports whether a connection is currently open.
func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.send != nil
}

// Send queues one outbound event. It returns false without doing anything
// when the connection is not open.
func (c *Channel) Send(event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("failed to marshal payload")
		return false
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("failed to marshal envelope")
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.send == nil {
		c.logger.Debug().Str("event", event).Msg("not connected, dropping")
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Str("event", event).Msg("send queue full, dropping")
		return false
	}
}

// Close stops reconnecting, closes the connection and waits for the loop to
// exit. It must not be called from a Handler.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Channel) run(ctx context.Context, userID int64, done chan struct{}) {
	defer close(done)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Str("url", c.opts.URL).Msg("giving up on connection")
				c.dispatch(models.EventConnectError, errorData(err))
			}
			return
		}

		c.serve(ctx, conn, userID)
		c.dispatch(models.EventDisconnect, nil)
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialInterval
	eb.MaxInterval = c.opts.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.MaxAttempts)), ctx)

	var conn *websocket.Conn
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		cn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("dial failed")
			return err
		}
		conn = cn
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn, userID int64) {
	send := make(chan []byte, sendBufferSize)
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, send)
	}()

	c.logger.Info().Str("url", c.opts.URL).Int64("user_id", userID).Msg("connected")
	c.Send(models.EventUserLogin, userID)
	c.dispatch(models.EventConnect, nil)

	c.readPump(conn)

	c.mu.Lock()
	close(send)
	c.send = nil
	c.mu.Unlock()
	<-writerDone
	conn.Close()
	c.logger.Info().Msg("disconnected")
}

func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.logger.Warn().Err(err).Msg("error unmarshaling frame")
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Channel) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Channel) dispatch(event string, data json.RawMessage) {
	c.mu.RLock()
	h, ok := c.handlers[event]
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug().Str("event", event).Msg("no handler")
		return
	}
	h(data)
}

func errorData(err error) json.RawMessage {
	data, _ := json.Marshal(err.Error())
	return data
}
