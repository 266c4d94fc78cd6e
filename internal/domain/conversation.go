package domain

import "time"

// ConversationMessage is one message scraped from a marketplace
// conversation page by the extension content script.
type ConversationMessage struct {
	Sender string    `json:"sender"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at,omitempty"`
}

// Conversation is a snapshot of an external marketplace conversation
// thread pushed by the extension.
type Conversation struct {
	ContextID  string                `json:"context_id"`
	Username   string                `json:"username,omitempty"`
	Messages   []ConversationMessage `json:"messages"`
	CapturedAt time.Time             `json:"captured_at"`
}

// LastMessage returns the body of the most recent message, or "" when
// the snapshot is empty.
func (c *Conversation) LastMessage() string {
	if c == nil || len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Body
}
