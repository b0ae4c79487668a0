package contacts

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pingchat/internal/models"
)

// Fetcher loads a user's directory from the backend.
type Fetcher interface {
	Contacts(ctx context.Context, userID int64) ([]models.Contact, error)
}

// Directory is the in-memory contact list with presence and unread state.
type Directory struct {
	fetcher Fetcher
	logger  zerolog.Logger

	mu       sync.RWMutex
	contacts []models.Contact
}

func NewDirectory(fetcher Fetcher) *Directory {
	return &Directory{
		fetcher: fetcher,
		logger:  log.With().Str("component", "contacts").Logger(),
	}
}

// Refresh replaces the directory with the backend's list, keeping server
// order. Unread counters are carried over by contact id.
func (d *Directory) Refresh(ctx context.Context, userID int64) ([]models.Contact, error) {
	fresh, err := d.fetcher.Contacts(ctx, userID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	unread := make(map[int64]int, len(d.contacts))
	for _, c := range d.contacts {
		if c.Unread > 0 {
			unread[c.ID] = c.Unread
		}
	}
	next := make([]models.Contact, len(fresh))
	for i, c := range fresh {
		if n, ok := unread[c.ID]; ok && n > c.Unread {
			c.Unread = n
		}
		if c.Unread < 0 {
			c.Unread = 0
		}
		next[i] = c
	}
	d.contacts = next

	d.logger.Debug().Int("count", len(next)).Msg("directory refreshed")
	return d.snapshot(), nil
}

// Replace sets the directory without contacting the backend.
func (d *Directory) Replace(list []models.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts = append([]models.Contact(nil), list...)
}

// Filter matches query case-insensitively against usernames and splits the
// result into online and offline groups, each in directory order.
func (d *Directory) Filter(query string) (online, offline []models.Contact) {
	q := strings.ToLower(strings.TrimSpace(query))

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.contacts {
		if q != "" && !strings.Contains(strings.ToLower(c.Username), q) {
			continue
		}
		if c.IsOnline {
			online = append(online, c)
		} else {
			offline = append(offline, c)
		}
	}
	return online, offline
}

func (d *Directory) Get(id int64) (models.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.index(id); i >= 0 {
		return d.contacts[i], true
	}
	return models.Contact{}, false
}

// Find looks a contact up by exact username, ignoring case.
func (d *Directory) Find(username string) (models.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.contacts {
		if strings.EqualFold(c.Username, username) {
			return c, true
		}
	}
	return models.Contact{}, false
}

func (d *Directory) All() []models.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot()
}

// SetPresence reports whether id is a known contact.
func (d *Directory) SetPresence(id int64, online bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.contacts[i].IsOnline = online
	return true
}

// IncrementUnread reports whether id is a known contact.
func (d *Directory) IncrementUnread(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.index(id)
	if i < 0 {
		return false
	}
	d.contacts[i].Unread++
	return true
}

func (d *Directory) ResetUnread(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.index(id); i >= 0 {
		d.contacts[i].Unread = 0
	}
}

func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts = nil
}

func (d *Directory) index(id int64) int {
	for i := range d.contacts {
		if d.contacts[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *Directory) snapshot() []models.Contact {
	return append([]models.Contact(nil), d.contacts...)
}
