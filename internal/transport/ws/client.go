// Package ws implements the persistent websocket channel to the session
// server: automatic reconnection with exponential backoff, an ordered inbound
// event stream, and an at-least-once outbound queue. It carries no game
// semantics; decoded events are handed to the state machine as-is.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quizizz-client/internal/protocol"
)

// Status reports transport connectivity changes.
type Status int

const (
	StatusConnected Status = iota
	StatusReconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("transport closed")
	// ErrQueueFull is returned when the outbound queue cannot accept more messages.
	ErrQueueFull = errors.New("outbound queue full")
)

// Options configures a Client. Zero values fall back to the default reconnect
// policy (1s..5s backoff, 5 attempts).
type Options struct {
	URL            string
	Logger         zerolog.Logger
	Dialer         *websocket.Dialer
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds consecutive failed dials before Run gives up.
	MaxAttempts int
	QueueSize   int
}

// Client is a reconnecting websocket client. Run owns the connection; Emit
// may be called from any goroutine.
type Client struct {
	opts   Options
	log    zerolog.Logger
	events chan protocol.Event
	status chan Status

	outbound chan []byte
	pending  [][]byte // unacknowledged writes, re-sent first after reconnect

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a client for the given websocket URL.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	return &Client{
		opts:     opts,
		log:      opts.Logger,
		events:   make(chan protocol.Event, 32),
		status:   make(chan Status, 4),
		outbound: make(chan []byte, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Events returns the ordered inbound event stream. The channel closes when
// Run returns.
func (c *Client) Events() <-chan protocol.Event { return c.events }

// Statuses returns connectivity change notifications.
func (c *Client) Statuses() <-chan Status { return c.status }

// Emit encodes and queues one outbound event. Delivery is at least once:
// messages survive reconnects and are retried until written.
func (c *Client) Emit(eventType string, payload any) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the client; Run unwinds and closes both channels.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run dials the server and pumps messages until the context is cancelled,
// Close is called, or reconnection attempts are exhausted.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer close(c.status)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			c.pushStatus(StatusDisconnected)
			return err
		}
		c.pushStatus(StatusConnected)

		err = c.pump(ctx, conn)
		_ = conn.Close()

		select {
		case <-c.done:
			return nil
		default:
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("connection lost, reconnecting")
		c.pushStatus(StatusReconnecting)
	}
}

// dial attempts to connect, backing off exponentially between failures.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialBackoff
	bo.MaxInterval = c.opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 0; ; attempt++ {
		select {
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			return conn, nil
		}
		if attempt+1 >= c.opts.MaxAttempts {
			return nil, err
		}

		wait := bo.NextBackOff()
		c.log.Debug().Err(err).Dur("wait", wait).Msg("dial failed")
		select {
		case <-c.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// pump runs the read and write loops for one connection and returns the
// first error.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	// Closing the connection unblocks the read loop when the context or
	// write side fails first.
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-gctx.Done():
		case <-c.done:
		case <-closed:
		}
		_ = conn.Close()
	}()

	g.Go(func() error { return c.readLoop(conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	return g.Wait()
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownEvent) {
				c.log.Debug().Err(err).Msg("dropping unknown event")
				continue
			}
			c.log.Warn().Err(err).Msg("dropping malformed event")
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return ErrClosed
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	// Re-send anything a previous connection failed to deliver.
	for len(c.pending) > 0 {
		frame := c.pending[0]
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
		c.pending = c.pending[1:]
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case frame := <-c.outbound:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.pending = append(c.pending, frame)
				return err
			}
		}
	}
}

// pushStatus never blocks; a stale unread status is replaced by the newest.
func (c *Client) pushStatus(s Status) {
	select {
	case c.status <- s:
	default:
		select {
		case <-c.status:
		default:
		}
		c.status <- s
	}
}
