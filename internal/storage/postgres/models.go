package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage that implements the driver.Valuer and
// sql.Scanner interfaces for GORM JSONB columns. SQLite stores the same
// column as TEXT.
type JSONB json.RawMessage

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	return nil
}

// CharacterModel maps to the "characters" table. Characters are
// content-addressed: the hash is the primary key and rows are immutable.
type CharacterModel struct {
	Hash      string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Payload   JSONB  `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time
}

func (CharacterModel) TableName() string { return "characters" }

// ConversationModel maps to the "conversations" table.
type ConversationModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Secret           string    `gorm:"not null;uniqueIndex"`
	CharacterHash    string    `gorm:"not null;index"`
	Users            JSONB     `gorm:"type:jsonb;not null;default:'[]'"`
	PersistenceToken string    `gorm:"index"`
	Busy             bool      `gorm:"not null;default:false"`
	Finished         bool      `gorm:"not null;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"index"`
}

func (ConversationModel) TableName() string { return "conversations" }

// ConversationMessageModel maps to the "conversation_messages" table.
// SeqNum is the authoritative transcript order.
type ConversationMessageModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_convmsg_seq"`
	SeqNum         int       `gorm:"not null;index:idx_convmsg_seq"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text"`
	Context        JSONB     `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

func (ConversationMessageModel) TableName() string { return "conversation_messages" }
