// Package chat holds the text side of a call: building messages and
// debouncing typing notifications.
package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BioHazard786/shuffle/internal/protocol"
)

// MaxLength bounds a single chat message in runes.
const MaxLength = 2000

// NewMessage builds a chat message from sender. Surrounding whitespace is
// trimmed and overlong text is cut to MaxLength. ok is false for empty text.
func NewMessage(sender, text string, now time.Time) (msg *protocol.ChatMessage, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if r := []rune(text); len(r) > MaxLength {
		text = string(r[:MaxLength])
	}
	return &protocol.ChatMessage{
		ID:        uuid.NewString(),
		SenderID:  sender,
		Text:      text,
		Timestamp: now.UnixMilli(),
	}, true
}

// Time returns the instant the message was sent.
func Time(msg *protocol.ChatMessage) time.Time {
	return time.UnixMilli(msg.Timestamp)
}
