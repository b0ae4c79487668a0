package fakebackend

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pingchat/internal/models"
)

type client struct {
	hub    *hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64

	mu     sync.Mutex
	closed bool
}

// hub routes channel events between connected users the way the real
// backend does: one live connection per user id, last login wins.
type hub struct {
	srv     *Server
	mu      sync.RWMutex
	clients map[*client]bool
	userMap map[int64]*client
	logger  zerolog.Logger
}

func newHub(srv *Server, logger zerolog.Logger) *hub {
	return &hub{
		srv:     srv,
		clients: make(map[*client]bool),
		userMap: make(map[int64]*client),
		logger:  logger,
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	wasCurrent := c.userID != 0 && h.userMap[c.userID] == c
	if wasCurrent {
		delete(h.userMap, c.userID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	if wasCurrent {
		h.logger.Debug().Int64("user_id", c.userID).Msg("user offline")
		h.broadcastExcept(c.userID, models.EventUserOffline, c.userID)
	}
}

func (h *hub) online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.userMap[userID]
	return ok
}

func (h *hub) sendToUser(userID int64, event string, payload interface{}) bool {
	h.mu.RLock()
	c, ok := h.userMap[userID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug().Int64("user_id", userID).Msg("user not connected")
		return false
	}
	return c.push(event, payload)
}

func (h *hub) broadcastExcept(userID int64, event string, payload interface{}) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.userMap))
	for id, c := range h.userMap {
		if id != userID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.push(event, payload)
	}
}

func (h *hub) dropAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (h *hub) handle(c *client, env models.Envelope) {
	h.srv.record(c.userID, env)

	switch env.Event {
	case models.EventUserLogin:
		var userID int64
		if err := json.Unmarshal(env.Data, &userID); err != nil {
			h.logger.Warn().Err(err).Msg("bad user-login")
			return
		}
		h.mu.Lock()
		c.userID = userID
		h.userMap[userID] = c
		h.mu.Unlock()
		h.broadcastExcept(userID, models.EventUserOnline, userID)

	case models.EventSendMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			h.logger.Warn().Err(err).Msg("bad send-message")
			return
		}
		stored := h.srv.storeMessage(msg)
		h.sendToUser(stored.To, models.EventNewMessage, stored)
		h.sendToUser(stored.From, models.EventMessageSent, msg)

	case models.EventTyping:
		var ev models.TypingEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return
		}
		h.sendToUser(ev.To, models.EventUserTyping, models.PeerTypingEvent{UserID: ev.From, IsTyping: ev.IsTyping})

	case models.EventMarkRead:
		var rr models.ReadReceipt
		if err := json.Unmarshal(env.Data, &rr); err != nil {
			return
		}
		if sender, ok := h.srv.markRead(rr.MessageID); ok {
			h.sendToUser(sender, models.EventMessageRead, models.ReadReceipt{MessageID: rr.MessageID})
		}
	}
}

func (c *client) push(event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.hub.logger.Debug().Err(err).Msg("error unmarshaling frame")
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
