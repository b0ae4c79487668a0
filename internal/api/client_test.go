package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pingchat/internal/fakebackend"
	"pingchat/internal/models"
)

func newTestClient(t *testing.T) (*Client, *fakebackend.Server) {
	t.Helper()
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second), srv
}

func TestRegisterThenLogin(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, "alice", "secret"))

	user, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotZero(t, user.ID)
}

func TestRegisterDuplicate(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddUser("alice", "x")

	err := c.Register(context.Background(), "alice", "secret")
	require.Error(t, err)
	assert.True(t, IsBackend(err))
	assert.Contains(t, err.Error(), "username already exists")
}

func TestLoginBadCredentials(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddUser("alice", "secret")

	_, err := c.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, IsBackend(err))
}

func TestLoginCarriesTopLevelToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"token":"abc","user":{"id":3,"username":"carol"}}`))
	}))
	defer srv.Close()

	user, err := NewClient(srv.URL, time.Second).Login(context.Background(), "carol", "pw")
	require.NoError(t, err)
	assert.Equal(t, "abc", user.Token)
}

func TestContactsAndMessages(t *testing.T) {
	c, srv := newTestClient(t)
	alice := srv.AddUser("alice", "pw")
	bob := srv.AddUser("bob", "pw")
	carol := srv.AddUser("carol", "pw")
	srv.Seed(models.Message{From: bob, To: alice, Text: "hey", Time: "9:05"})
	srv.Seed(models.Message{From: alice, To: bob, Text: "yo", Time: "9:06"})
	srv.Seed(models.Message{From: carol, To: bob, Text: "other thread"})

	contacts, err := c.Contacts(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "bob", contacts[0].Username)
	assert.Equal(t, "carol", contacts[1].Username)

	msgs, err := c.Messages(context.Background(), alice, bob)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hey", msgs[0].Text)
	assert.Equal(t, models.MessageID("1"), msgs[0].ID)
	assert.Equal(t, "yo", msgs[1].Text)
}

func TestBackendFailure(t *testing.T) {
	c, srv := newTestClient(t)
	srv.FailAll = true

	_, err := c.Contacts(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsBackend(err))
	assert.Contains(t, err.Error(), "unavailable")
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Messages(context.Background(), 1, 2)
	require.Error(t, err)
	assert.False(t, IsBackend(err))
}

func TestSetTokenSendsBearer(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"users":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	c.SetToken("tok")
	_, err := c.Contacts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", <-got)
}

func TestNonJSONErrorIsNotBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	_, err := c.Login(context.Background(), "alice", "pw")
	require.Error(t, err)
	assert.False(t, IsBackend(err))
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	err = c.Register(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	_, err = c.Contacts(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	_, err = c.Messages(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestLoginTokenIsAcceptedLater(t *testing.T) {
	c, srv := newTestClient(t)
	alice := srv.AddUser("alice", "secret")
	srv.AddUser("bob", "secret")

	user, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	_, ok := user.TokenExpiry()
	require.True(t, ok)

	c.SetToken(user.Token)
	contacts, err := c.Contacts(context.Background(), alice)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)

	c.SetToken("forged")
	_, err = c.Contacts(context.Background(), alice)
	require.Error(t, err)
	assert.True(t, IsBackend(err))
	assert.Contains(t, err.Error(), "invalid token")
}
