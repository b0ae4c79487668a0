package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pingchat/internal/fakebackend"
	"pingchat/internal/models"
)

const waitFor = 3 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// counter records how often each event was dispatched.
type counter struct {
	mu     sync.Mutex
	counts map[string]int
	last   map[string]json.RawMessage
}

func watch(c *Channel, events ...string) *counter {
	r := &counter{counts: make(map[string]int), last: make(map[string]json.RawMessage)}
	for _, ev := range events {
		ev := ev
		c.On(ev, func(data json.RawMessage) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.counts[ev]++
			r.last[ev] = data
		})
	}
	return r
}

func (r *counter) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[event]
}

func newServer(t *testing.T) *fakebackend.Server {
	t.Helper()
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	return srv
}

func newChannel(t *testing.T, url string) *Channel {
	t.Helper()
	c := NewChannel(Options{
		URL:             url,
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

func nextFrame(t *testing.T, srv *fakebackend.Server) fakebackend.Frame {
	t.Helper()
	select {
	case f := <-srv.Frames():
		return f
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return fakebackend.Frame{}
	}
}

func TestConnectAnnouncesUser(t *testing.T) {
	srv := newServer(t)
	c := newChannel(t, srv.SocketURL())
	events := watch(c, models.EventConnect)

	require.NoError(t, c.Connect(context.Background(), 7))

	f := nextFrame(t, srv)
	assert.Equal(t, models.EventUserLogin, f.Event)
	assert.JSONEq(t, "7", string(f.Data))
	require.Eventually(t, func() bool { return events.count(models.EventConnect) == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, c.Connected())
	assert.ErrorIs(t, c.Connect(context.Background(), 7), ErrAlreadyConnected)
}

func TestSendWhileDisconnected(t *testing.T) {
	c := NewChannel(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.False(t, c.Connected())
	assert.False(t, c.Send(models.EventTyping, models.TypingEvent{From: 1, To: 2}))
}

func TestSendReachesBackend(t *testing.T) {
	srv := newServer(t)
	c := newChannel(t, srv.SocketURL())
	require.NoError(t, c.Connect(context.Background(), 1))
	require.Equal(t, models.EventUserLogin, nextFrame(t, srv).Event)

	require.True(t, c.Send(models.EventTyping, models.TypingEvent{From: 1, To: 2, IsTyping: true}))

	f := nextFrame(t, srv)
	assert.Equal(t, models.EventTyping, f.Event)
	assert.Equal(t, int64(1), f.UserID)
	var ev models.TypingEvent
	require.NoError(t, json.Unmarshal(f.Data, &ev))
	assert.True(t, ev.IsTyping)
}

func TestLastHandlerWins(t *testing.T) {
	srv := newServer(t)
	c := newChannel(t, srv.SocketURL())

	var mu sync.Mutex
	var first, second int
	c.On(models.EventUserTyping, func(json.RawMessage) { mu.Lock(); first++; mu.Unlock() })
	c.On(models.EventUserTyping, func(json.RawMessage) { mu.Lock(); second++; mu.Unlock() })

	require.NoError(t, c.Connect(context.Background(), 4))
	require.Eventually(t, func() bool { return srv.Online(4) }, waitFor, 5*time.Millisecond)
	require.True(t, srv.Push(4, models.EventUserTyping, models.PeerTypingEvent{UserID: 5, IsTyping: true}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return second == 1
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, first)
}

func TestReconnectAnnouncesAgain(t *testing.T) {
	srv := newServer(t)
	c := newChannel(t, srv.SocketURL())
	events := watch(c, models.EventConnect, models.EventDisconnect)

	require.NoError(t, c.Connect(context.Background(), 9))
	require.Equal(t, models.EventUserLogin, nextFrame(t, srv).Event)
	require.Eventually(t, func() bool { return events.count(models.EventConnect) == 1 }, waitFor, 5*time.Millisecond)

	srv.DropConnections()

	f := nextFrame(t, srv)
	assert.Equal(t, models.EventUserLogin, f.Event)
	assert.JSONEq(t, "9", string(f.Data))
	require.Eventually(t, func() bool { return events.count(models.EventConnect) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, events.count(models.EventDisconnect))
}

func TestConnectErrorAfterRetries(t *testing.T) {
	c := NewChannel(Options{
		URL:             "ws://127.0.0.1:1/ws",
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	events := watch(c, models.EventConnectError, models.EventConnect)

	require.NoError(t, c.Connect(context.Background(), 1))
	require.Eventually(t, func() bool { return events.count(models.EventConnectError) == 1 }, waitFor, 5*time.Millisecond)

	events.mu.Lock()
	var reason string
	require.NoError(t, json.Unmarshal(events.last[models.EventConnectError], &reason))
	events.mu.Unlock()
	assert.NotEmpty(t, reason)
	assert.Zero(t, events.count(models.EventConnect))
	assert.False(t, c.Connected())

	// a finished loop can be started again
	require.Eventually(t, func() bool { return c.Connect(context.Background(), 1) == nil }, waitFor, 5*time.Millisecond)
}

func TestCloseStopsReconnecting(t *testing.T) {
	srv := newServer(t)
	c := newChannel(t, srv.SocketURL())
	events := watch(c, models.EventConnect, models.EventDisconnect)

	require.NoError(t, c.Connect(context.Background(), 3))
	require.Eventually(t, func() bool { return events.count(models.EventConnect) == 1 }, waitFor, 5*time.Millisecond)

	c.Close()

	assert.False(t, c.Connected())
	assert.Equal(t, 1, events.count(models.EventDisconnect))
	require.Eventually(t, func() bool { return !srv.Online(3) }, waitFor, 5*time.Millisecond)
	assert.False(t, c.Send(models.EventTyping, models.TypingEvent{}))
	assert.Equal(t, 1, events.count(models.EventConnect))
}

func TestContextCancelStopsLoop(t *testing.T) {
	srv := newServer(t)
	c := newChannel(t, srv.SocketURL())
	events := watch(c, models.EventConnect, models.EventConnectError)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx, 2))
	require.Eventually(t, func() bool { return events.count(models.EventConnect) == 1 }, waitFor, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !c.Connected() }, waitFor, 5*time.Millisecond)
	assert.Zero(t, events.count(models.EventConnectError))
}
