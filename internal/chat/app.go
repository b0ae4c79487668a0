// Package chat is the application shell. App owns the session context (the
// current user, the open contact, the directory and the conversation cache)
// and turns user actions and channel events into state changes and View
// calls.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pingchat/internal/contacts"
	"pingchat/internal/conversation"
	"pingchat/internal/models"
	"pingchat/internal/typing"
	"pingchat/internal/websocket"
)

// MinPasswordLength applies to registration only.
const MinPasswordLength = 3

type SessionStore interface {
	Restore() (*models.User, error)
	Save(user *models.User) error
	Clear() error
}

type Backend interface {
	Login(ctx context.Context, username, password string) (*models.User, error)
	Register(ctx context.Context, username, password string) error
	Contacts(ctx context.Context, userID int64) ([]models.Contact, error)
	Messages(ctx context.Context, userID, peerID int64) ([]models.Message, error)
	SetToken(token string)
}

type Channel interface {
	On(event string, h websocket.Handler)
	Connect(ctx context.Context, userID int64) error
	Send(event string, payload interface{}) bool
	Connected() bool
	Close()
}

type Options struct {
	TypingIdle time.Duration
	// Now is used to stamp composed messages.
	Now func() time.Time
}

type App struct {
	store     SessionStore
	backend   Backend
	channel   Channel
	view      View
	directory *contacts.Directory
	cache     *conversation.Cache
	typing    *typing.Notifier
	now       func() time.Time
	logger    zerolog.Logger

	mu         sync.Mutex
	user       *models.User
	current    *models.Contact
	peerTyping bool
	reply      *models.Message
	query      string
	loadGen    uint64
}

func New(store SessionStore, backend Backend, channel Channel, view View, opts Options) *App {
	if view == nil {
		view = NopView{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &App{
		store:     store,
		backend:   backend,
		channel:   channel,
		view:      view,
		directory: contacts.NewDirectory(backend),
		cache:     conversation.NewCache(backend),
		typing:    typing.NewNotifier(channel, opts.TypingIdle),
		now:       opts.Now,
		logger:    log.With().Str("component", "chat").Logger(),
	}
	a.registerHandlers()
	return a
}

// Start restores a persisted session. With one present it connects and loads
// contacts, skipping login. ctx bounds the realtime connection.
func (a *App) Start(ctx context.Context) (*models.User, error) {
	user, err := a.store.Restore()
	if err != nil {
		return nil, err
	}
	if user == nil {
		a.view.Session(nil)
		return nil, nil
	}
	a.logger.Info().Str("username", user.Username).Msg("session restored")
	a.begin(ctx, user)
	return user, nil
}

// Login authenticates, persists the session and brings the client online.
func (a *App) Login(ctx context.Context, username, password string) (*models.User, error) {
	username, password = strings.TrimSpace(username), strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, &ValidationError{Message: "username and password are required"}
	}

	user, err := a.backend.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(user); err != nil {
		a.logger.Warn().Err(err).Msg("session not persisted")
	}
	a.begin(ctx, user)
	return user, nil
}

// Register creates an account. It never logs in.
func (a *App) Register(ctx context.Context, username, password string) error {
	username, password = strings.TrimSpace(username), strings.TrimSpace(password)
	if username == "" || password == "" {
		return &ValidationError{Message: "username and password are required"}
	}
	if len([]rune(password)) < MinPasswordLength {
		return &ValidationError{Message: "password must be at least 3 characters"}
	}
	return a.backend.Register(ctx, username, password)
}

func (a *App) begin(ctx context.Context, user *models.User) {
	a.mu.Lock()
	a.user = user
	a.current = nil
	a.peerTyping = false
	a.reply = nil
	a.view.Session(user)
	a.mu.Unlock()

	a.backend.SetToken(user.Token)
	if err := a.channel.Connect(ctx, user.ID); err != nil && !errors.Is(err, websocket.ErrAlreadyConnected) {
		a.logger.Error().Err(err).Msg("failed to start channel")
	}
	if err := a.RefreshContacts(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("initial contact load failed")
		a.view.Toast(LevelError, "could not load contacts")
	}
}

// Logout disconnects and forgets the session and every cached state.
func (a *App) Logout() error {
	a.mu.Lock()
	a.user = nil
	a.current = nil
	a.peerTyping = false
	a.reply = nil
	a.query = ""
	a.loadGen++
	a.mu.Unlock()

	// Close waits for the channel's read loop, whose handlers take a.mu.
	a.typing.Cancel()
	a.channel.Close()
	a.directory.Clear()
	a.cache.Clear()
	a.backend.SetToken("")
	err := a.store.Clear()

	a.mu.Lock()
	a.view.Session(nil)
	a.mu.Unlock()
	return err
}

// User returns the logged-in user, or nil.
func (a *App) User() *models.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

// Current returns the open contact.
func (a *App) Current() (models.Contact, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return models.Contact{}, false
	}
	return *a.current, true
}

// PeerTyping reports the typing indicator state of the open contact.
func (a *App) PeerTyping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peerTyping
}

func (a *App) Directory() *contacts.Directory { return a.directory }

func (a *App) Cache() *conversation.Cache { return a.cache }

// RefreshContacts reloads the directory from the backend.
func (a *App) RefreshContacts(ctx context.Context) error {
	a.mu.Lock()
	if a.user == nil {
		a.mu.Unlock()
		return ErrNoSession
	}
	self := a.user.ID
	a.mu.Unlock()

	if _, err := a.directory.Refresh(ctx, self); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.renderContactsLocked()
	return nil
}

// Filter sets the contact list query and returns the matching groups.
func (a *App) Filter(query string) (online, offline []models.Contact) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.query = query
	a.renderContactsLocked()
	return a.directory.Filter(query)
}

// Open makes contactID the current thread: its unread counter drops to zero,
// history is reloaded and inbound messages are marked read. A response that
// arrives after another Open has started is discarded.
func (a *App) Open(ctx context.Context, contactID int64) error {
	a.mu.Lock()
	if a.user == nil {
		a.mu.Unlock()
		return ErrNoSession
	}
	contact, ok := a.directory.Get(contactID)
	if !ok {
		a.mu.Unlock()
		return ErrUnknownContact
	}
	self := a.user.ID

	if a.current != nil && a.current.ID != contactID && a.typing.Pending() {
		a.typing.Stop(self, a.current.ID)
	}
	a.directory.ResetUnread(contactID)
	contact.Unread = 0
	a.current = &contact
	a.peerTyping = false
	a.reply = nil
	a.loadGen++
	gen := a.loadGen

	a.view.Presence(contact)
	a.view.PeerTyping(contact, false)
	a.renderContactsLocked()
	a.mu.Unlock()

	msgs, err := a.cache.Fetch(ctx, self, contactID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.loadGen {
		a.logger.Debug().Err(err).Int64("peer", contactID).Msg("discarding stale history")
		return nil
	}
	if err != nil {
		return err
	}
	a.cache.Replace(contactID, msgs)
	for _, id := range a.cache.MarkRead(contactID, self) {
		if id == "" {
			continue
		}
		a.channel.Send(models.EventMarkRead, models.ReadReceipt{MessageID: id, UserID: self})
	}
	a.view.Thread(contact, a.cache.Messages(contactID))
	a.renderContactsLocked()
	return nil
}

// renderContactsLocked pushes the filtered list with previews to the view.
func (a *App) renderContactsLocked() {
	online, offline := a.directory.Filter(a.query)
	a.view.Contacts(a.itemsLocked(online), a.itemsLocked(offline))
}

func (a *App) itemsLocked(list []models.Contact) []ContactItem {
	items := make([]ContactItem, 0, len(list))
	for _, c := range list {
		item := ContactItem{Contact: c, Active: a.current != nil && a.current.ID == c.ID}
		if last, ok := a.cache.Last(c.ID); ok {
			item.LastText, item.LastTime = last.Text, last.Time
		}
		items = append(items, item)
	}
	return items
}

func (a *App) registerHandlers() {
	a.channel.On(models.EventConnect, func(json.RawMessage) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.view.Toast(LevelSuccess, "connected to server")
	})
	a.channel.On(models.EventConnectError, func(data json.RawMessage) {
		var reason string
		_ = json.Unmarshal(data, &reason)
		a.logger.Warn().Str("reason", reason).Msg("connection error")
		a.mu.Lock()
		defer a.mu.Unlock()
		a.view.Toast(LevelError, "could not connect to the server")
	})
	a.channel.On(models.EventDisconnect, func(json.RawMessage) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.user != nil {
			a.view.Toast(LevelError, "disconnected from the server")
		}
	})
	a.channel.On(models.EventNewMessage, a.onNewMessage)
	a.channel.On(models.EventUserOnline, func(data json.RawMessage) { a.onPresence(data, true) })
	a.channel.On(models.EventUserOffline, func(data json.RawMessage) { a.onPresence(data, false) })
	a.channel.On(models.EventUserTyping, a.onPeerTyping)
	a.channel.On(models.EventMessageSent, a.onMessageSent)
	a.channel.On(models.EventMessageRead, a.onMessageRead)
}

func (a *App) onNewMessage(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Warn().Err(err).Msg("bad new-message payload")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return
	}
	// Only the open contact's own messages join the thread. Echoes of what
	// this user sent are already there from Compose.
	if a.current != nil && a.current.ID == msg.From {
		a.cache.Append(msg.From, msg)
		a.view.Thread(*a.current, a.cache.Messages(msg.From))
		a.renderContactsLocked()
		return
	}
	if msg.From != a.user.ID && a.directory.IncrementUnread(msg.From) {
		a.renderContactsLocked()
	}
}

func (a *App) onPresence(data json.RawMessage, online bool) {
	var userID int64
	if err := json.Unmarshal(data, &userID); err != nil {
		a.logger.Warn().Err(err).Msg("bad presence payload")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.directory.SetPresence(userID, online) {
		return
	}
	a.renderContactsLocked()
	if a.current != nil && a.current.ID == userID {
		a.current.IsOnline = online
		a.view.Presence(*a.current)
	}
}

func (a *App) onPeerTyping(data json.RawMessage) {
	var ev models.PeerTypingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.logger.Warn().Err(err).Msg("bad user-typing payload")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.ID != ev.UserID {
		return
	}
	a.peerTyping = ev.IsTyping
	a.view.PeerTyping(*a.current, ev.IsTyping)
}

func (a *App) onMessageSent(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		a.logger.Warn().Err(err).Msg("bad message-sent payload")
		return
	}
	a.applyStatus(msg.ID, models.StatusSent)
}

func (a *App) onMessageRead(data json.RawMessage) {
	var rr models.ReadReceipt
	if err := json.Unmarshal(data, &rr); err != nil {
		a.logger.Warn().Err(err).Msg("bad message-read payload")
		return
	}
	a.applyStatus(rr.MessageID, models.StatusRead)
}

func (a *App) applyStatus(id models.MessageID, status models.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	peer, ok := a.cache.UpdateStatus(id, status)
	if ok && a.current != nil && a.current.ID == peer {
		a.view.Thread(*a.current, a.cache.Messages(peer))
	}
}
