package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer upgrades incoming connections and feeds them events written to
// the send channel. Closing the drop channel closes the active connection.
type wsServer struct {
	t    *testing.T
	srv  *httptest.Server
	send chan Event
	drop chan struct{}
	auth chan string
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{
		t:    t,
		send: make(chan Event, 16),
		drop: make(chan struct{}),
		auth: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.auth <- r.Header.Get("Authorization"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			select {
			case ev := <-s.send:
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-s.drop:
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func collectEvents(c *Consumer) <-chan Event {
	ch := make(chan Event, 16)
	push := func(ev Event) { ch <- ev }
	c.SetHandlers(Handlers{OnStart: push, OnProgress: push, OnComplete: push, OnError: push})
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	select {
	case ev := <-ch:
		require.Equal(t, want, ev.Type)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", want)
		return Event{}
	}
}

func TestConsumer_LifecycleEventsAndActivity(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url(), Token: "sekrit"})
	events := collectEvents(c)

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.Equal(t, "Bearer sekrit", <-srv.auth)
	assert.False(t, c.Active())

	srv.send <- Event{Type: EventStart, RunID: "run-7"}
	ev := waitEvent(t, events, EventStart)
	assert.Equal(t, "run-7", ev.RunID)
	assert.True(t, c.Active())

	srv.send <- Event{Type: EventProgress, Phase: "investigating", CurrentTool: "get_logs", TokenCount: 512}
	ev = waitEvent(t, events, EventProgress)
	assert.Equal(t, "investigating", ev.Phase)
	assert.Equal(t, 512, ev.TokenCount)
	assert.True(t, c.Active())

	srv.send <- Event{Type: EventComplete, RunID: "run-7"}
	waitEvent(t, events, EventComplete)
	assert.False(t, c.Active())
}

func TestConsumer_ErrorEventClearsActivity(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url()})
	events := collectEvents(c)

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	srv.send <- Event{Type: EventStart}
	waitEvent(t, events, EventStart)
	require.True(t, c.Active())

	srv.send <- Event{Type: EventError, Message: "provider unavailable"}
	ev := waitEvent(t, events, EventError)
	assert.Equal(t, "provider unavailable", ev.Message)
	assert.False(t, c.Active())
}

func TestConsumer_DisconnectClearsActivity(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url(), ReconnectMin: time.Hour, ReconnectMax: time.Hour})
	events := collectEvents(c)

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	srv.send <- Event{Type: EventStart}
	waitEvent(t, events, EventStart)
	require.True(t, c.Active())

	// The connection drops mid-run without complete/error: the run is no
	// longer observable through this channel, so activity falls back to
	// the other signals.
	close(srv.drop)
	require.Eventually(t, func() bool { return !c.Active() }, 2*time.Second, 10*time.Millisecond)
}

func TestConsumer_StartRequiresURL(t *testing.T) {
	c := New(Config{})
	assert.Error(t, c.Start(context.Background()))
}

func TestConsumer_DoubleStartRejected(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url()})
	c.SetHandlers(Handlers{})

	require.NoError(t, c.Start(context.Background()))
	defer c.Close()
	assert.Error(t, c.Start(context.Background()))
}

func TestConsumer_CloseRightAfterStartReturnsPromptly(t *testing.T) {
	// Close can race the dial: the connection may be established after Close
	// starts tearing down, leaving a read loop blocked on a conn nobody
	// closes. Close must still return promptly.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer slow.Close()

	for _, delay := range []time.Duration{0, 10 * time.Millisecond, 30 * time.Millisecond} {
		c := New(Config{URL: "ws" + strings.TrimPrefix(slow.URL, "http")})
		c.SetHandlers(Handlers{})
		require.NoError(t, c.Start(context.Background()))

		time.Sleep(delay)
		closed := make(chan struct{})
		go func() {
			c.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatalf("Close hung with delay %s", delay)
		}
	}
}

func TestConsumer_CloseIsIdempotent(t *testing.T) {
	srv := newWSServer(t)
	c := New(Config{URL: srv.url()})
	c.SetHandlers(Handlers{})

	require.NoError(t, c.Start(context.Background()))
	c.Close()
	c.Close()
}
