package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stealth-studios/sdk-framework-basic/internal/character"
	"github.com/stealth-studios/sdk-framework-basic/internal/chat"
	"github.com/stealth-studios/sdk-framework-basic/internal/llm"
)

// Compile-time interface check.
var _ chat.Store = (*Repository)(nil)

// Repository implements chat.Store on a GORM database (PostgreSQL or SQLite).
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository over an opened GORM database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetCharacter returns the character stored under hash.
func (r *Repository) GetCharacter(ctx context.Context, hash string) (*character.Character, error) {
	var model CharacterModel
	err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up character: %w", err)
	}

	var c character.Character
	if err := json.Unmarshal([]byte(model.Payload), &c); err != nil {
		return nil, fmt.Errorf("decoding character payload: %w", err)
	}
	return &c, nil
}

// CreateCharacter persists the character under its content hash. Storing an
// already-present hash is a no-op; rows are immutable.
func (r *Repository) CreateCharacter(ctx context.Context, c *character.Character) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding character payload: %w", err)
	}

	model := CharacterModel{
		Hash:    c.Hash(),
		Name:    c.Name,
		Payload: JSONB(payload),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return "", fmt.Errorf("creating character: %w", err)
	}
	return model.Hash, nil
}

// CreateConversation allocates an ID and secret and persists the record.
func (r *Repository) CreateConversation(ctx context.Context, rec *chat.ConversationRecord) (*chat.ConversationRecord, error) {
	users, err := json.Marshal(rec.Users)
	if err != nil {
		return nil, fmt.Errorf("encoding users: %w", err)
	}

	model := ConversationModel{
		ID:               uuid.New(),
		Secret:           uuid.NewString(),
		CharacterHash:    rec.CharacterHash,
		Users:            JSONB(users),
		PersistenceToken: rec.PersistenceToken,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return toRecord(&model)
}

// GetConversationBy returns the first conversation matching the query.
func (r *Repository) GetConversationBy(ctx context.Context, q chat.Query) (*chat.ConversationRecord, error) {
	tx := r.db.WithContext(ctx)
	switch {
	case q.ID != "":
		id, err := uuid.Parse(q.ID)
		if err != nil {
			return nil, chat.ErrNotFound
		}
		tx = tx.Where("id = ?", id)
	case q.Secret != "":
		tx = tx.Where("secret = ?", q.Secret)
	case q.PersistenceToken != "":
		tx = tx.Where("persistence_token = ?", q.PersistenceToken)
	default:
		return nil, chat.ErrNotFound
	}

	var model ConversationModel
	err := tx.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	return toRecord(&model)
}

// SetConversationUsers replaces the participant set.
func (r *Repository) SetConversationUsers(ctx context.Context, id string, users []chat.User) error {
	payload, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encoding users: %w", err)
	}
	return r.update(ctx, id, map[string]any{"users": JSONB(payload)})
}

// SetConversationCharacter swaps the conversation's character hash.
func (r *Repository) SetConversationCharacter(ctx context.Context, id, characterHash string) error {
	return r.update(ctx, id, map[string]any{"character_hash": characterHash})
}

// SetConversationFlags applies a partial update of the lifecycle flags.
func (r *Repository) SetConversationFlags(ctx context.Context, id string, flags chat.Flags) error {
	updates := make(map[string]any, 2)
	if flags.Busy != nil {
		updates["busy"] = *flags.Busy
	}
	if flags.Finished != nil {
		updates["finished"] = *flags.Finished
	}
	if len(updates) == 0 {
		return nil
	}
	return r.update(ctx, id, updates)
}

func (r *Repository) update(ctx context.Context, id string, updates map[string]any) error {
	convID, err := uuid.Parse(id)
	if err != nil {
		return chat.ErrNotFound
	}
	res := r.db.WithContext(ctx).
		Model(&ConversationModel{}).
		Where("id = ?", convID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// FinishConversation removes the conversation and its messages.
func (r *Repository) FinishConversation(ctx context.Context, id string) error {
	convID, err := uuid.Parse(id)
	if err != nil {
		return chat.ErrNotFound
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", convID).Delete(&ConversationMessageModel{}).Error; err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		if err := tx.Where("id = ?", convID).Delete(&ConversationModel{}).Error; err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		return nil
	})
}

// AddMessage appends a message, assigning the next sequence number
// atomically.
func (r *Repository) AddMessage(ctx context.Context, id string, msg chat.Message) error {
	convID, err := uuid.Parse(id)
	if err != nil {
		return chat.ErrNotFound
	}

	var contextPayload JSONB
	if len(msg.Context) > 0 {
		encoded, err := json.Marshal(msg.Context)
		if err != nil {
			return fmt.Errorf("encoding message context: %w", err)
		}
		contextPayload = JSONB(encoded)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		err := tx.Model(&ConversationMessageModel{}).
			Where("conversation_id = ?", convID).
			Select("COALESCE(MAX(seq_num), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return fmt.Errorf("getting max seq_num: %w", err)
		}

		model := ConversationMessageModel{
			ID:             uuid.New(),
			ConversationID: convID,
			SeqNum:         maxSeq + 1,
			Role:           string(msg.Role),
			Content:        msg.Content,
			Context:        contextPayload,
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		// Touch the conversation so idle detection sees the activity.
		return tx.Model(&ConversationModel{}).
			Where("id = ?", convID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// GetMessages returns the full transcript, oldest first.
func (r *Repository) GetMessages(ctx context.Context, id string) ([]chat.Message, error) {
	convID, err := uuid.Parse(id)
	if err != nil {
		return nil, chat.ErrNotFound
	}

	var models []ConversationMessageModel
	err = r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("seq_num ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}

	msgs := make([]chat.Message, 0, len(models))
	for _, m := range models {
		msg := chat.Message{
			Role:    llm.Role(m.Role),
			Content: m.Content,
		}
		if len(m.Context) > 0 {
			if err := json.Unmarshal([]byte(m.Context), &msg.Context); err != nil {
				return nil, fmt.Errorf("decoding message context: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ListIdleConversations returns IDs of unfinished conversations with no
// activity since the given time.
func (r *Repository) ListIdleConversations(ctx context.Context, olderThan time.Time) ([]string, error) {
	var models []ConversationModel
	err := r.db.WithContext(ctx).
		Where("updated_at < ? AND finished = ?", olderThan, false).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing idle conversations: %w", err)
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID.String())
	}
	return ids, nil
}

func toRecord(model *ConversationModel) (*chat.ConversationRecord, error) {
	rec := &chat.ConversationRecord{
		ID:               model.ID.String(),
		Secret:           model.Secret,
		CharacterHash:    model.CharacterHash,
		PersistenceToken: model.PersistenceToken,
		Busy:             model.Busy,
		Finished:         model.Finished,
		UpdatedAt:        model.UpdatedAt,
	}
	if len(model.Users) > 0 {
		if err := json.Unmarshal([]byte(model.Users), &rec.Users); err != nil {
			return nil, fmt.Errorf("decoding users: %w", err)
		}
	}
	return rec, nil
}
