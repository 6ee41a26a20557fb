// Package stream consumes the server's patrol lifecycle WebSocket and
// projects it down to the boolean "a run is actively streaming" plus the
// start/progress/complete/error callbacks the controller needs. The transport
// details stay in here.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType classifies a lifecycle frame.
type EventType string

const (
	// EventStart indicates a patrol run began
	EventStart EventType = "start"
	// EventProgress carries phase/tool/token updates during a run
	EventProgress EventType = "progress"
	// EventComplete indicates a patrol run finished
	EventComplete EventType = "complete"
	// EventError indicates a patrol run failed
	EventError EventType = "error"
)

// Event is one lifecycle frame from the server.
type Event struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"run_id,omitempty"`
	Phase       string    `json:"phase,omitempty"`
	CurrentTool string    `json:"current_tool,omitempty"`
	TokenCount  int       `json:"token_count,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// Handlers receive lifecycle events. Nil handlers are skipped.
type Handlers struct {
	OnStart    func(Event)
	OnProgress func(Event)
	OnComplete func(Event)
	OnError    func(Event)
}

// Config holds stream consumer settings.
type Config struct {
	// URL is the ws:// or wss:// endpoint for the patrol lifecycle stream
	URL string
	// Token is the bearer token sent on the handshake (empty disables)
	Token string
	// HandshakeTimeout bounds the WebSocket dial
	HandshakeTimeout time.Duration
	// ReconnectMin and ReconnectMax bound the reconnect backoff
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// DefaultConfig returns stream defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReconnectMin:     time.Second,
		ReconnectMax:     30 * time.Second,
	}
}

// Consumer maintains the lifecycle stream connection and tracks whether a run
// is actively streaming. Active is a run-level projection, not a
// connection-level one: it turns on at a start (or first progress) frame and
// off at complete, error, or loss of the connection.
type Consumer struct {
	cfg Config

	mu       sync.Mutex
	handlers Handlers
	active   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a stream consumer. Handlers may be set later with SetHandlers
// but must be in place before Start.
func New(cfg Config) *Consumer {
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = def.ReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = def.ReconnectMax
	}
	return &Consumer{cfg: cfg}
}

// SetHandlers installs the lifecycle callbacks.
func (c *Consumer) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

// Active reports whether a patrol run is currently streaming events.
func (c *Consumer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start begins the connect/read/reconnect loop in a background goroutine.
// It returns an error only on misconfiguration; connection failures are
// retried with backoff until Close or ctx cancellation.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("stream: no URL configured")
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("stream: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Close tears down the connection and stops the reconnect loop. Idempotent.
// Cancellation reaches an in-flight read through the per-connection watcher
// in run, so Close never races a dial that is still completing.
func (c *Consumer) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	backoff := c.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "patrol stream: connect failed: %v\n", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.ReconnectMax {
				backoff = c.cfg.ReconnectMax
			}
			continue
		}

		backoff = c.cfg.ReconnectMin

		// Gorilla reads do not take a context, so a watcher closes the
		// connection on cancellation to unblock the read loop.
		connDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-connDone:
			}
		}()

		c.readLoop(conn)
		close(connDone)

		// The connection is gone; any in-flight run is no longer observable
		// through this channel, so the activity projection drops with it.
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		conn.Close()
	}
}

func (c *Consumer) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Consumer) readLoop(conn *websocket.Conn) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		c.dispatch(ev)
	}
}

func (c *Consumer) dispatch(ev Event) {
	c.mu.Lock()
	switch ev.Type {
	case EventStart, EventProgress:
		c.active = true
	case EventComplete, EventError:
		c.active = false
	}
	h := c.handlers
	c.mu.Unlock()

	switch ev.Type {
	case EventStart:
		if h.OnStart != nil {
			h.OnStart(ev)
		}
	case EventProgress:
		if h.OnProgress != nil {
			h.OnProgress(ev)
		}
	case EventComplete:
		if h.OnComplete != nil {
			h.OnComplete(ev)
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(ev)
		}
	}
}
