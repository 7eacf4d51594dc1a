// Package chat implements the conversation orchestration layer: the
// conversation state machine, the sliding context-window assembly, and the
// send-message protocol tying characters, storage, and model providers
// together.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
)

// ErrConversationBusy signals that a send or character-change was rejected
// because another operation holds the conversation, or the conversation is
// finished. Expected condition, not a failure.
var ErrConversationBusy = errors.New("conversation is busy")

// ErrNotFound is returned by Store implementations for absent records.
var ErrNotFound = errors.New("not found")

// User is a conversation participant.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContextEntry is one auxiliary key/value fact attached to a user turn.
type ContextEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Message is a single turn in a conversation transcript. Append-only; the
// store is authoritative for ordering.
type Message struct {
	Role    llm.Role       `json:"role"`
	Content string         `json:"content"`
	Context []ContextEntry `json:"context,omitempty"`
}

// ConversationRecord is the persisted shape of a conversation.
type ConversationRecord struct {
	ID               string
	Secret           string
	CharacterHash    string
	Users            []User
	PersistenceToken string
	Busy             bool
	Finished         bool
	UpdatedAt        time.Time
}

// Flags is a partial update of a conversation's lifecycle flags.
// Nil fields are left unchanged.
type Flags struct {
	Busy     *bool
	Finished *bool
}

// Query selects a conversation by any one of its lookup keys.
type Query struct {
	ID               string
	Secret           string
	PersistenceToken string
}

// Store is the persistence adapter contract the engine consumes.
// Implementations live in internal/storage; MemoryStore covers tests and
// database-less runs.
type Store interface {
	// GetCharacter returns the character stored under hash, or ErrNotFound.
	GetCharacter(ctx context.Context, hash string) (*character.Character, error)

	// CreateCharacter persists a character and returns its content hash.
	// Idempotent: storing an already-present character is a no-op.
	CreateCharacter(ctx context.Context, c *character.Character) (string, error)

	// CreateConversation allocates an ID and secret and persists the record.
	CreateConversation(ctx context.Context, rec *ConversationRecord) (*ConversationRecord, error)

	// GetConversationBy returns the first conversation matching the query,
	// or ErrNotFound.
	GetConversationBy(ctx context.Context, q Query) (*ConversationRecord, error)

	SetConversationUsers(ctx context.Context, id string, users []User) error
	SetConversationCharacter(ctx context.Context, id, characterHash string) error
	SetConversationFlags(ctx context.Context, id string, flags Flags) error

	// FinishConversation removes the conversation and its messages.
	FinishConversation(ctx context.Context, id string) error

	// AddMessage appends a message; the store assigns its position.
	AddMessage(ctx context.Context, id string, msg Message) error

	// GetMessages returns the full transcript, oldest first.
	GetMessages(ctx context.Context, id string) ([]Message, error)

	// ListIdleConversations returns IDs of conversations not touched since
	// the given time. Used by the idle janitor.
	ListIdleConversations(ctx context.Context, olderThan time.Time) ([]string, error)
}

// Conversation is the in-process session state for one conversation. The
// busy flag is a mutual-exclusion guard, not a queue: a second concurrent
// operation is rejected, never blocked.
type Conversation struct {
	ID               string
	Secret           string
	PersistenceToken string

	mu            sync.Mutex
	characterHash string
	users         []User
	busy          bool
	finished      bool
	removal       *time.Timer
}

// tryAcquire takes the busy lock, failing with ErrConversationBusy if the
// conversation is busy or finished. Every successful acquire must be paired
// with release on all exit paths.
func (c *Conversation) tryAcquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy || c.finished {
		return ErrConversationBusy
	}
	c.busy = true
	return nil
}

func (c *Conversation) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// CharacterHash returns the hash of the conversation's current character.
func (c *Conversation) CharacterHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.characterHash
}

// Users returns a copy of the participant set.
func (c *Conversation) Users() []User {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]User, len(c.users))
	copy(users, c.users)
	return users
}

// Busy reports whether an operation currently holds the conversation.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Finished reports whether the conversation reached its terminal state.
func (c *Conversation) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}
