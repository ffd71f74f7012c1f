package chat

import (
	"context"
	"errors"
	"time"
)

// Message is one direct message between two users. Immutable after insert.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	ImageURL   string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversationKey identifies a direct-message thread as the unordered
// pair of its participants. Construct via NewConversationKey so the
// pair is canonical regardless of argument order.
type ConversationKey struct {
	A string
	B string
}

// NewConversationKey returns the canonical key for two user IDs.
func NewConversationKey(userA, userB string) ConversationKey {
	if userB < userA {
		userA, userB = userB, userA
	}
	return ConversationKey{A: userA, B: userB}
}

// Contains reports whether the given user is a participant.
func (k ConversationKey) Contains(userID string) bool {
	return k.A == userID || k.B == userID
}

var (
	// ErrInvalidInput is returned when a message fails validation
	// before any store access.
	ErrInvalidInput = errors.New("chat: invalid input")

	// ErrEmptyMessage is returned when a message carries neither text
	// nor an image reference.
	ErrEmptyMessage = errors.New("chat: message has no content")
)

// InsertInput is the payload of a message insert.
type InsertInput struct {
	SenderID   string
	ReceiverID string
	Text       string
	ImageURL   string

	// Now is the insertion instant; the store uses it for both the
	// ULID and the created_at column so ordering and IDs agree.
	Now time.Time
}

// Store abstracts message persistence.
//
// Query returns messages newest-first; the Paginator reverses the
// windowed slice before handing it to consumers.
type Store interface {
	// Count returns the number of messages in the conversation.
	Count(ctx context.Context, key ConversationKey) (int64, error)

	// Query returns up to take messages newest-first, skipping skip.
	Query(ctx context.Context, key ConversationKey, skip, take int64) ([]Message, error)

	// Insert appends a message and returns it with server-assigned
	// ID and timestamp.
	Insert(ctx context.Context, in InsertInput) (Message, error)
}
