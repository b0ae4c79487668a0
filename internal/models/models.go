package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// User is the local session holder. Token is whatever bearer credential the
// backend handed out at login, if any.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token,omitempty"`
}

type Contact struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"isOnline"`
	Unread   int    `json:"unread"`
}

type Status string

const (
	StatusSent Status = "sent"
	StatusRead Status = "read"
)

// MessageID is kept as a string so that server-assigned numeric ids and
// locally generated ids share one type. Numeric ids go back on the wire as
// JSON numbers.
type MessageID string

func (id MessageID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *MessageID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageID(n.String())
	return nil
}

type Message struct {
	ID      MessageID `json:"id,omitempty"`
	From    int64     `json:"from"`
	To      int64     `json:"to"`
	Text    string    `json:"text"`
	Time    string    `json:"time"`
	Status  Status    `json:"status,omitempty"`
	ReplyTo string    `json:"replyTo,omitempty"`
}

// PeerOf returns the side of the message that is not self.
func PeerOf(msg Message, self int64) int64 {
	if msg.From == self {
		return msg.To
	}
	return msg.From
}

// Request/Response structures
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	User    *User  `json:"user,omitempty"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type UsersResponse struct {
	Success bool      `json:"success"`
	Users   []Contact `json:"users"`
	Error   string    `json:"error,omitempty"`
}

type MessagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
	Error    string    `json:"error,omitempty"`
}
