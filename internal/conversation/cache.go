package conversation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pingchat/internal/models"
)

// Fetcher loads the history between a user and a peer.
type Fetcher interface {
	Messages(ctx context.Context, userID, peerID int64) ([]models.Message, error)
}

// Cache holds one ordered thread per peer id. Threads are append-only and
// keep arrival order.
type Cache struct {
	fetcher Fetcher
	logger  zerolog.Logger

	mu      sync.RWMutex
	threads map[int64][]models.Message
}

func NewCache(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		logger:  log.With().Str("component", "conversation").Logger(),
		threads: make(map[int64][]models.Message),
	}
}

// Load fetches the history with peer and replaces the cached thread.
func (c *Cache) Load(ctx context.Context, self, peer int64) ([]models.Message, error) {
	msgs, err := c.Fetch(ctx, self, peer)
	if err != nil {
		return nil, err
	}
	c.Replace(peer, msgs)
	return msgs, nil
}

// Fetch loads history without touching the cache, so a caller can decide
// whether the response is still wanted.
func (c *Cache) Fetch(ctx context.Context, self, peer int64) ([]models.Message, error) {
	msgs, err := c.fetcher.Messages(ctx, self, peer)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Int64("peer", peer).Int("count", len(msgs)).Msg("history fetched")
	return msgs, nil
}

func (c *Cache) Replace(peer int64, msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[peer] = append([]models.Message(nil), msgs...)
}

// Append adds msg to the tail of peer's thread. Duplicates are kept.
func (c *Cache) Append(peer int64, msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[peer] = append(c.threads[peer], msg)
}

// UpdateStatus sets the status of the first message with id, searching every
// thread. It returns the peer whose thread changed.
func (c *Cache) UpdateStatus(id models.MessageID, status models.Status) (int64, bool) {
	if id == "" {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for peer, thread := range c.threads {
		for i := range thread {
			if thread[i].ID == id {
				thread[i].Status = status
				return peer, true
			}
		}
	}
	return 0, false
}

// MarkRead flips every message peer sent to self that is not yet read and
// returns their ids.
func (c *Cache) MarkRead(peer, self int64) []models.MessageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []models.MessageID
	thread := c.threads[peer]
	for i := range thread {
		if thread[i].To == self && thread[i].Status != models.StatusRead {
			thread[i].Status = models.StatusRead
			ids = append(ids, thread[i].ID)
		}
	}
	return ids
}

// Messages returns a copy of peer's thread.
func (c *Cache) Messages(peer int64) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Message(nil), c.threads[peer]...)
}

// Find returns the message with id in peer's thread.
func (c *Cache) Find(peer int64, id models.MessageID) (models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.threads[peer] {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Last is the newest message in peer's thread, used for list previews.
func (c *Cache) Last(peer int64) (models.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	thread := c.threads[peer]
	if len(thread) == 0 {
		return models.Message{}, false
	}
	return thread[len(thread)-1], true
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads = make(map[int64][]models.Message)
}
