package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is a support thread between one customer and the staff pool.
// At most one active conversation exists per customer; the store enforces it.
type Conversation struct {
	ID     uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID          `gorm:"type:uuid;index:idx_conversations_user_status" json:"user_id"`
	Status ConversationStatus `gorm:"type:varchar(10);default:'active';index:idx_conversations_user_status" json:"status"`

	// Denormalized cache for list views, refreshed on every accepted message.
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User     *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Messages []Message `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

func (cv *Conversation) BeforeCreate(tx *gorm.DB) error {
	if cv.ID == uuid.Nil {
		cv.ID = uuid.New()
	}
	return nil
}

// Message is immutable after creation except for the read flag.
type Message struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`
	SenderID       uuid.UUID `gorm:"type:uuid;index" json:"sender_id"`
	SenderRole     Party     `gorm:"type:varchar(10);not null" json:"sender_role"`
	Content        string    `gorm:"type:text;not null" json:"content"`

	IsRead bool       `gorm:"default:false" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`

	// Optional client-generated nonce; the same nonce arriving over a second
	// transport resolves to the already stored row instead of a new one.
	ClientMsgID string `gorm:"type:varchar(64);default:''" json:"client_msg_id,omitempty"`

	// Origin transport and similar bookkeeping, e.g. {"origin":"socket"}.
	Meta datatypes.JSON `json:"meta,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
