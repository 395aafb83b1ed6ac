package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation, message or user does not exist.
var ErrNotFound = errors.New("store: not found")

// ConversationStore is the persistence boundary for the message pipeline.
// Implementations must make FindOrCreateConversation atomic with respect to
// concurrent inbound messages from the same customer, and must return
// messages in CreatedAt-ascending order (ties broken by insertion order).
type ConversationStore interface {
	// FindOrCreateConversation returns the addressable (OPEN or HUMAN)
	// conversation for the given channel/customer pair, creating it with
	// StatusOpen when none exists. The second result reports whether a new
	// conversation was created.
	FindOrCreateConversation(ctx context.Context, ch Channel, externalID, name string) (*Conversation, bool, error)

	// AppendMessage stores a message. ID and CreatedAt must be set by the
	// caller. The owning conversation's UpdatedAt is bumped in the same call.
	AppendMessage(ctx context.Context, m *Message) error

	// UpdateConversationStatus transitions a conversation's status and bumps
	// UpdatedAt.
	UpdateConversationStatus(ctx context.Context, id string, status Status) error

	// SetMessageDelivered records the outcome of an outbound delivery
	// attempt for an AI or HUMAN message.
	SetMessageDelivered(ctx context.Context, messageID string, delivered bool) error

	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns all conversations, most recently updated
	// first.
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// ListMessages returns every message of a conversation ascending by
	// CreatedAt.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// RecentMessages returns the last n messages of a conversation,
	// ascending by CreatedAt. This is the context window handed to the
	// response generator.
	RecentMessages(ctx context.Context, conversationID string, n int) ([]*Message, error)
}

// UserStore holds dashboard agent accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
}

// Clock abstracts time.Now for tests.
type Clock func() time.Time
