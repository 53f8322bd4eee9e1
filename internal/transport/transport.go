// Package transport is the client-side adapter over the broker connection.
//
// It hides which wire carried the frames: a websocket when one can be
// established, an HTTP long-poll session otherwise. Subscriptions and sends
// are fire-and-forget; no delivery acknowledgment is surfaced to callers, and
// nothing is replayed after a connection is lost.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	v1 "handoff/contracts/support/v1"
)

const (
	defaultSendQueue    = 64
	defaultWriteTimeout = 5 * time.Second
	connectTimeout      = 10 * time.Second
)

// Config describes how to reach the broker.
type Config struct {
	// URL is the broker base endpoint, e.g. "ws://localhost:8080".
	URL string

	// BearerToken, when non-empty, is attached to the connect handshake.
	// Its absence never prevents connecting.
	BearerToken string

	// DisableFallback turns off the long-poll fallback; dial errors then
	// surface directly.
	DisableFallback bool

	Logger *slog.Logger
}

// link is one established wire, either websocket or long-poll.
type link interface {
	readFrame(ctx context.Context) (v1.Frame, error)
	writeFrame(ctx context.Context, f v1.Frame) error
	close() error
}

// Conn is one logical full-duplex connection to the broker.
type Conn struct {
	log  *slog.Logger
	link link

	sessionID string
	agent     bool
	agentName string

	out chan v1.Frame

	mu       sync.Mutex
	handlers map[string]func(v1.Frame)

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Dial connects to the broker. It tries the websocket endpoint first and, when
// that fails and fallback is enabled, opens a long-poll session instead.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var (
		lnk       link
		connected v1.Frame
		err       error
	)

	lnk, connected, err = dialWS(dialCtx, cfg)
	if err != nil {
		if cfg.DisableFallback {
			return nil, fmt.Errorf("dial websocket: %w", err)
		}
		log.Info("transport.ws.fallback", "err", err)

		lnk, connected, err = dialLongPoll(dialCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("dial long-poll: %w", err)
		}
	}

	var body v1.ConnectedBody
	if decodeErr := decodeBody(connected.Body, &body); decodeErr != nil || body.SessionID == "" {
		_ = lnk.close()
		return nil, errors.New("transport: malformed connected frame")
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &Conn{
		log:       log,
		link:      lnk,
		sessionID: body.SessionID,
		agent:     body.Agent,
		agentName: body.AgentName,
		out:       make(chan v1.Frame, defaultSendQueue),
		handlers:  make(map[string]func(v1.Frame)),
		ctx:       connCtx,
		cancel:    connCancel,
	}

	go c.writeLoop()
	go c.readLoop()

	log.Info("transport.connected", "session_id", c.sessionID, "agent", c.agent)
	return c, nil
}

// SessionID returns the broker-assigned session id.
func (c *Conn) SessionID() string { return c.sessionID }

// Agent reports whether the broker recognized this connection as an agent.
func (c *Conn) Agent() bool { return c.agent }

// AgentName returns the directory name for agent connections.
func (c *Conn) AgentName() string { return c.agentName }

// Done is closed when the connection is gone, for whatever reason.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Subscribe registers a handler for frames on a destination.
//
// The handler runs on the connection's single dispatch goroutine; handlers run
// to completion before the next frame is delivered, so handler code needs no
// internal synchronization against other frames from the same connection.
func (c *Conn) Subscribe(destination string, handler func(v1.Frame)) *Subscription {
	c.mu.Lock()
	c.handlers[destination] = handler
	c.mu.Unlock()

	c.send(v1.Frame{
		V:           v1.Version,
		Type:        v1.TypeSubscribe,
		ID:          newFrameID(),
		Destination: destination,
		TS:          time.Now().UTC(),
	})

	return &Subscription{conn: c, destination: destination}
}

// Send publishes a body to a destination. Fire-and-forget: when the outbound
// queue is full or the connection is closed, the frame is dropped with a log.
func (c *Conn) Send(destination string, body []byte) {
	f := v1.Frame{
		V:           v1.Version,
		Type:        v1.TypeSend,
		ID:          newFrameID(),
		Destination: destination,
		TS:          time.Now().UTC(),
		Body:        body,
	}
	c.send(f)
}

// Close tears the connection down (idempotent).
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.link.close()
		c.log.Info("transport.closed", "session_id", c.sessionID)
	})
}

func (c *Conn) send(f v1.Frame) {
	select {
	case <-c.ctx.Done():
		c.log.Warn("transport.send.dropped", "reason", "closed", "destination", f.Destination)
		return
	default:
	}

	select {
	case c.out <- f:
	default:
		c.log.Warn("transport.send.dropped", "reason", "queue full", "destination", f.Destination)
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.out:
			wctx, cancel := context.WithTimeout(c.ctx, defaultWriteTimeout)
			err := c.link.writeFrame(wctx, f)
			cancel()
			if err != nil {
				c.log.Warn("transport.write.fail", "err", err)
				c.Close()
				return
			}
		}
	}
}

// readLoop is the single dispatch goroutine: inbound frames are handed to the
// destination's handler one at a time, in arrival order.
func (c *Conn) readLoop() {
	for {
		f, err := c.link.readFrame(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.log.Warn("transport.read.fail", "err", err)
			}
			c.Close()
			return
		}

		switch f.Type {
		case v1.TypeMessage:
			c.mu.Lock()
			handler := c.handlers[f.Destination]
			c.mu.Unlock()
			if handler != nil {
				handler(f)
			}
		case v1.TypeError:
			var body v1.ErrorBody
			_ = decodeBody(f.Body, &body)
			c.log.Warn("transport.broker.error", "code", body.Code, "message", body.Message)
		case v1.TypeConnected:
			// Session already established; duplicate confirmations are ignored.
		default:
			c.log.Warn("transport.frame.unexpected", "type", f.Type)
		}
	}
}

// Subscription is a handle for one destination subscription.
type Subscription struct {
	conn        *Conn
	destination string
	once        sync.Once
}

// Destination returns the subscribed destination.
func (s *Subscription) Destination() string { return s.destination }

// Unsubscribe removes the handler and tells the broker. Idempotent and safe to
// call repeatedly; failures are swallowed, since an unsubscribe that never
// reaches the broker only costs some discarded frames.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.handlers, s.destination)
		s.conn.mu.Unlock()

		s.conn.send(v1.Frame{
			V:           v1.Version,
			Type:        v1.TypeUnsubscribe,
			ID:          newFrameID(),
			Destination: s.destination,
			TS:          time.Now().UTC(),
		})
	})
}

// ---- shared helpers ----

// toHTTPBase converts a broker URL to its HTTP form for long-poll requests.
func toHTTPBase(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	default:
		return raw
	}
}

func bearerHeader(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	return "Bearer " + token
}
