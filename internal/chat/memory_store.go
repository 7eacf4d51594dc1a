package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
)

// MemoryStore is an in-memory Store for tests and database-less runs.
type MemoryStore struct {
	mu            sync.RWMutex
	characters    map[string]*character.Character
	conversations map[string]*ConversationRecord
	messages      map[string][]Message
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		characters:    make(map[string]*character.Character),
		conversations: make(map[string]*ConversationRecord),
		messages:      make(map[string][]Message),
	}
}

func (s *MemoryStore) GetCharacter(_ context.Context, hash string) (*character.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.characters[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) CreateCharacter(_ context.Context, c *character.Character) (string, error) {
	hash := c.Hash()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.characters[hash]; !ok {
		s.characters[hash] = c
	}
	return hash, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, rec *ConversationRecord) (*ConversationRecord, error) {
	stored := *rec
	stored.ID = uuid.NewString()
	stored.Secret = uuid.NewString()
	stored.UpdatedAt = time.Now()

	s.mu.Lock()
	s.conversations[stored.ID] = &stored
	s.mu.Unlock()

	out := stored
	return &out, nil
}

func (s *MemoryStore) GetConversationBy(_ context.Context, q Query) (*ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.ID != "" {
		if rec, ok := s.conversations[q.ID]; ok {
			out := *rec
			return &out, nil
		}
		return nil, ErrNotFound
	}
	for _, rec := range s.conversations {
		if (q.Secret != "" && rec.Secret == q.Secret) ||
			(q.PersistenceToken != "" && rec.PersistenceToken == q.PersistenceToken) {
			out := *rec
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetConversationUsers(_ context.Context, id string, users []User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	rec.Users = users
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetConversationCharacter(_ context.Context, id, characterHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	rec.CharacterHash = characterHash
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetConversationFlags(_ context.Context, id string, flags Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if flags.Busy != nil {
		rec.Busy = *flags.Busy
	}
	if flags.Finished != nil {
		rec.Finished = *flags.Finished
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FinishConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AddMessage(_ context.Context, id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.conversations[id]; ok {
		rec.UpdatedAt = time.Now()
	}
	s.messages[id] = append(s.messages[id], msg)
	return nil
}

func (s *MemoryStore) GetMessages(_ context.Context, id string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[id]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) ListIdleConversations(_ context.Context, olderThan time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.conversations {
		if rec.UpdatedAt.Before(olderThan) && !rec.Finished {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
