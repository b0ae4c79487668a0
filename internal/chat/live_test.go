package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pingchat/internal/api"
	"pingchat/internal/db"
	"pingchat/internal/fakebackend"
	"pingchat/internal/websocket"
)

const waitFor = 3 * time.Second

// liveApp wires an App against the in-process backend with a real session
// database and websocket channel.
func liveApp(t *testing.T, srv *fakebackend.Server) (*App, *db.DB) {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	channel := websocket.NewChannel(websocket.Options{
		URL:             srv.SocketURL(),
		MaxAttempts:     3,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
	})
	app := New(store, api.NewClient(srv.URL, 5*time.Second), channel, nil, Options{TypingIdle: time.Minute})
	t.Cleanup(func() { _ = app.Logout() })
	return app, store
}

func TestLiveConversation(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	aliceID := srv.AddUser("alice", "pw")
	bobID := srv.AddUser("bob", "pw")
	carolID := srv.AddUser("carol", "pw")
	ctx := context.Background()

	alice, aliceStore := liveApp(t, srv)
	_, err := alice.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Online(aliceID) }, waitFor, 5*time.Millisecond)

	saved, err := aliceStore.Restore()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, aliceID, saved.ID)
	exp, ok := saved.TokenExpiry()
	require.True(t, ok, "the session keeps the issued token")
	assert.True(t, exp.After(time.Now()))

	bob, _ := liveApp(t, srv)
	_, err = bob.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Online(bobID) }, waitFor, 5*time.Millisecond)

	c, ok := bob.Directory().Get(aliceID)
	require.True(t, ok)
	assert.True(t, c.IsOnline)
	require.Eventually(t, func() bool {
		c, _ := alice.Directory().Get(bobID)
		return c.IsOnline
	}, waitFor, 5*time.Millisecond, "alice hears bob come online")

	require.NoError(t, alice.Open(ctx, bobID))
	require.NoError(t, bob.Open(ctx, aliceID))

	// typing indicator travels both ways through the backend
	alice.Typing()
	require.Eventually(t, bob.PeerTyping, waitFor, 5*time.Millisecond)

	_, err = alice.Compose("hi")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(bob.Cache().Messages(aliceID)) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "hi", bob.Cache().Messages(aliceID)[0].Text)
	require.Eventually(t, func() bool { return !bob.PeerTyping() }, waitFor, 5*time.Millisecond)
	c, _ = bob.Directory().Get(aliceID)
	assert.Zero(t, c.Unread)

	require.NoError(t, bob.Open(ctx, carolID))
	_, err = alice.Compose("again")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, _ := bob.Directory().Get(aliceID)
		return c.Unread == 1
	}, waitFor, 5*time.Millisecond)

	// reopening loads the stored history and clears the counter
	require.NoError(t, bob.Open(ctx, aliceID))
	c, _ = bob.Directory().Get(aliceID)
	assert.Zero(t, c.Unread)
	assert.Len(t, bob.Cache().Messages(aliceID), 2)

	require.NoError(t, alice.Logout())
	require.Eventually(t, func() bool {
		c, _ := bob.Directory().Get(aliceID)
		return !c.IsOnline
	}, waitFor, 5*time.Millisecond, "bob hears alice leave")

	saved, err = aliceStore.Restore()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestLiveRestoredSession(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	aliceID := srv.AddUser("alice", "pw")
	srv.AddUser("bob", "pw")

	app, store := liveApp(t, srv)
	_, err := app.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Online(aliceID) }, waitFor, 5*time.Millisecond)

	// a second client over the same database starts already signed in
	channel := websocket.NewChannel(websocket.Options{URL: srv.SocketURL(), InitialInterval: 10 * time.Millisecond})
	again := New(store, api.NewClient(srv.URL, 5*time.Second), channel, nil, Options{})
	t.Cleanup(channel.Close)

	user, err := again.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.Len(t, again.Directory().All(), 1)
}
