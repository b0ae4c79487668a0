package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pingchat/internal/chat"
	"pingchat/internal/config"
	"pingchat/internal/fakebackend"
	"pingchat/internal/models"
)

func TestThreadPrintsOnlyNewMessages(t *testing.T) {
	var buf bytes.Buffer
	v := newTermView(&buf)
	v.Session(&models.User{ID: 1, Username: "alice"})
	bob := models.Contact{ID: 2, Username: "bob"}

	msgs := []models.Message{{ID: "1", From: 2, To: 1, Text: "hey", Time: "9:00"}}
	v.Thread(bob, msgs)
	msgs = append(msgs, models.Message{ID: "x", From: 1, To: 2, Text: "yo", Time: "9:01", Status: models.StatusRead, ReplyTo: "hey"})
	v.Thread(bob, msgs)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "== bob"))
	assert.Equal(t, 1, strings.Count(out, "bob: hey"))
	assert.Contains(t, out, "[x] 9:01 you: yo ✓✓")
	assert.Contains(t, out, "    > hey")
}

func TestThreadReprintsOnSwitch(t *testing.T) {
	var buf bytes.Buffer
	v := newTermView(&buf)
	msgs := []models.Message{{ID: "1", From: 2, To: 1, Text: "hey"}}

	v.Thread(models.Contact{ID: 2, Username: "bob"}, msgs)
	v.Thread(models.Contact{ID: 3, Username: "carol"}, nil)
	v.Thread(models.Contact{ID: 2, Username: "bob"}, msgs)

	assert.Equal(t, 2, strings.Count(buf.String(), "bob: hey"))
}

func TestPrintContacts(t *testing.T) {
	var buf bytes.Buffer
	v := newTermView(&buf)

	v.printContacts(nil, nil)
	assert.Contains(t, buf.String(), "no contacts")

	buf.Reset()
	v.printContacts([]models.Contact{{ID: 2, Username: "bob", Unread: 3}}, []models.Contact{{ID: 3, Username: "carol"}})
	out := buf.String()
	assert.Contains(t, out, "-- online\n  2  bob (3 unread)")
	assert.Contains(t, out, "-- offline\n  3  carol\n")
}

func TestHandleLine(t *testing.T) {
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	srv.AddUser("alice", "pw")
	bobID := srv.AddUser("bob", "pw")

	cfg = &config.Config{
		BackendURL:        srv.URL,
		SocketURL:         srv.SocketURL(),
		DatabaseURL:       filepath.Join(t.TempDir(), "session.db"),
		ReconnectAttempts: 1,
		TypingIdle:        time.Minute,
		RequestTimeout:    5 * time.Second,
	}
	var buf bytes.Buffer
	view := newTermView(&buf)
	c, err := openClient(view)
	require.NoError(t, err)
	t.Cleanup(c.close)

	output := func() string {
		view.mu.Lock()
		defer view.mu.Unlock()
		return buf.String()
	}

	ctx := context.Background()
	_, err = c.app.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	assert.False(t, handleLine(ctx, c.app, view, "hello"))
	assert.Contains(t, output(), "[error] "+chat.ErrNoSelection.Error())

	assert.False(t, handleLine(ctx, c.app, view, "/open BOB"))
	cur, ok := c.app.Current()
	require.True(t, ok)
	assert.Equal(t, bobID, cur.ID)

	assert.False(t, handleLine(ctx, c.app, view, "hello"))
	assert.Len(t, c.app.Cache().Messages(bobID), 1)

	assert.False(t, handleLine(ctx, c.app, view, "/open nobody"))
	assert.Contains(t, output(), "[error] unknown contact")

	assert.False(t, handleLine(ctx, c.app, view, "/bogus"))
	assert.Contains(t, output(), "unknown command /bogus")

	assert.True(t, handleLine(ctx, c.app, view, "/quit"))
}

func TestThreadNotesReadReceipts(t *testing.T) {
	var buf bytes.Buffer
	v := newTermView(&buf)
	v.Session(&models.User{ID: 1, Username: "alice"})
	bob := models.Contact{ID: 2, Username: "bob"}

	msgs := []models.Message{{ID: "a1", From: 1, To: 2, Text: "ping", Status: models.StatusSent}}
	v.Thread(bob, msgs)
	assert.Contains(t, buf.String(), "you: ping ✓\n")

	msgs[0].Status = models.StatusRead
	v.Thread(bob, msgs)
	v.Thread(bob, msgs)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "[a1] read ✓✓"))
	assert.Equal(t, 1, strings.Count(out, "you: ping"), "the message itself is not reprinted")
}
