package models

import "encoding/json"

// Inbound channel events.
const (
	EventNewMessage   = "new-message"
	EventUserOnline   = "user-online"
	EventUserOffline  = "user-offline"
	EventUserTyping   = "user-typing"
	EventMessageSent  = "message-sent"
	EventMessageRead  = "message-read"
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Outbound channel events.
const (
	EventUserLogin   = "user-login"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventMarkRead    = "mark-read"
)

// Envelope is a single frame on the realtime channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TypingEvent is sent by the local user while composing.
type TypingEvent struct {
	From     int64 `json:"from"`
	To       int64 `json:"to"`
	IsTyping bool  `json:"isTyping"`
}

// PeerTypingEvent arrives as user-typing.
type PeerTypingEvent struct {
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
}

// ReadReceipt is used both for outbound mark-read and inbound message-read.
type ReadReceipt struct {
	MessageID MessageID `json:"messageId"`
	UserID    int64     `json:"userId,omitempty"`
}
