package chat

import "pingchat/internal/models"

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// ContactItem is one row of the contact list.
type ContactItem struct {
	models.Contact
	LastText string
	LastTime string
	Active   bool
}

// View receives every state change the user should see. Calls are made with
// the application lock held, so implementations must not call back into App.
type View interface {
	Session(user *models.User)
	Contacts(online, offline []ContactItem)
	Thread(peer models.Contact, msgs []models.Message)
	Presence(peer models.Contact)
	PeerTyping(peer models.Contact, typing bool)
	Toast(level Level, text string)
}

// NopView discards everything.
type NopView struct{}

func (NopView) Session(*models.User)                    {}
func (NopView) Contacts(online, offline []ContactItem)  {}
func (NopView) Thread(models.Contact, []models.Message) {}
func (NopView) Presence(models.Contact)                 {}
func (NopView) PeerTyping(models.Contact, bool)         {}
func (NopView) Toast(Level, string)                     {}
