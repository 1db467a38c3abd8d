package domain

import (
	"errors"
	"time"
	"unicode/utf8"
)

type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindAlert    MessageKind = "alert"
	MessageKindLocation MessageKind = "location"
)

// MaxMessageLength is measured in runes.
const MaxMessageLength = 2000

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrUnknownKind    = errors.New("unknown message type")
)

// ChatMessage is one entry in a ride's append-only chat log.
type ChatMessage struct {
	ID       MessageID
	RideID   RideID
	SenderID UserID
	Kind     MessageKind
	Body     string
	SentAt   time.Time
}

// ParseMessageKind maps a client-supplied type to a MessageKind. Empty means text.
func ParseMessageKind(s string) (MessageKind, error) {
	switch MessageKind(s) {
	case "":
		return MessageKindText, nil
	case MessageKindText, MessageKindAlert, MessageKindLocation:
		return MessageKind(s), nil
	default:
		return "", ErrUnknownKind
	}
}

// ValidateMessageBody expects text already passed through NormalizeMessageText.
func ValidateMessageBody(body string) error {
	if body == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
