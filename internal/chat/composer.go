package chat

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pingchat/internal/models"
)

// replySnippetLen is how many characters of the replied-to text are quoted.
const replySnippetLen = 30

// Compose sends text to the open contact. Blank text is ignored without an
// error. The message is appended to the thread before the channel sees it
// and is never rolled back.
func (a *App) Compose(text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return nil, ErrNoSession
	}
	if a.current == nil {
		return nil, ErrNoSelection
	}
	self, peer := a.user.ID, a.current.ID

	now := a.now()
	msg := models.Message{
		ID:     models.MessageID(uuid.NewString()),
		From:   self,
		To:     peer,
		Text:   text,
		Time:   fmt.Sprintf("%d:%02d", now.Hour(), now.Minute()),
		Status: models.StatusSent,
	}
	if a.reply != nil {
		msg.ReplyTo = Snippet(a.reply.Text)
		a.reply = nil
	}

	a.cache.Append(peer, msg)
	if !a.channel.Send(models.EventSendMessage, msg) {
		a.logger.Debug().Str("id", string(msg.ID)).Msg("message kept locally, channel closed")
	}
	a.typing.Stop(self, peer)

	a.view.Thread(*a.current, a.cache.Messages(peer))
	a.renderContactsLocked()
	return &msg, nil
}

// ReplyTo marks a message of the open thread as the target of the next
// Compose. It returns the quoted snippet.
func (a *App) ReplyTo(id models.MessageID) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return "", false
	}
	msg, ok := a.cache.Find(a.current.ID, id)
	if !ok {
		return "", false
	}
	a.reply = &msg
	return Snippet(msg.Text), true
}

func (a *App) CancelReply() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reply = nil
}

// Typing reports local keyboard activity in the open thread.
func (a *App) Typing() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil || a.current == nil {
		return
	}
	a.typing.Activity(a.user.ID, a.current.ID)
}

// Snippet shortens text for reply quotes.
func Snippet(text string) string {
	r := []rune(text)
	if len(r) <= replySnippetLen {
		return text
	}
	return string(r[:replySnippetLen]) + "..."
}
