package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pandurasa/warmindo_be/internal/models"
)

var (
	ErrNotFound           = errors.New("store: not found")
	ErrConflict           = errors.New("store: active conversation already exists")
	ErrConversationClosed = errors.New("store: conversation is closed")
	ErrEmptyContent       = errors.New("store: message content is empty")
)

// ChatStore owns the conversation and message tables and their invariants.
type ChatStore struct {
	DB *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{DB: db}
}

// Migrate creates the chat tables. On Postgres it also installs the partial
// unique index that backstops the one-active-conversation-per-customer
// invariant against concurrent creates, and the nonce dedupe index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Conversation{}, &models.Message{}); err != nil {
		return err
	}
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_conversation_per_user
			ON conversations (user_id) WHERE status = 'active'`).Error; err != nil {
			return err
		}
		if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_messages_client_msg_id
			ON messages (conversation_id, client_msg_id) WHERE client_msg_id <> ''`).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *ChatStore) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := s.DB.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *ChatStore) FindActiveConversation(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.ConversationActive).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// CreateConversation inserts a fresh active conversation and fails with
// ErrConflict when the customer already has one. Callers wanting
// get-or-create semantics should use GetOrCreateConversation instead.
func (s *ChatStore) CreateConversation(ctx context.Context, userID uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Conversation
		err := tx.Where("user_id = ? AND status = ?", userID, models.ConversationActive).
			First(&existing).Error
		if err == nil {
			return ErrConflict
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		conv = models.Conversation{
			UserID:        userID,
			Status:        models.ConversationActive,
			LastMessageAt: time.Now(),
		}
		return tx.Create(&conv).Error
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetOrCreateConversation returns the customer's active conversation,
// creating one when none exists. Safe under concurrent duplicate calls: the
// create path races into the unique index and falls back to the winner's row.
// A closed conversation is terminal, so a customer returning after closure
// gets a brand-new conversation.
func (s *ChatStore) GetOrCreateConversation(ctx context.Context, userID uuid.UUID) (*models.Conversation, bool, error) {
	if conv, err := s.FindActiveConversation(ctx, userID); err == nil {
		return conv, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	conv, err := s.CreateConversation(ctx, userID)
	if errors.Is(err, ErrConflict) {
		// Lost the race to a concurrent create; the existing row wins.
		conv, ferr := s.FindActiveConversation(ctx, userID)
		if ferr != nil {
			return nil, false, ferr
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (s *ChatStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.DB.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// GetConversationWithMessages loads a conversation with its full history
// ordered ascending by creation time, insertion id breaking ties.
func (s *ChatStore) GetConversationWithMessages(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).
		Preload("User").
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Messages.Sender").
		First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// AppendMessage is the single persistence entry point for both the REST and
// the socket path. The returned bool reports nonce deduplication: true means
// the row already existed and no new message was stored.
func (s *ChatStore) AppendMessage(ctx context.Context, convID, senderID uuid.UUID, senderRole models.Party, content, clientMsgID, origin string) (*models.Message, bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, ErrEmptyContent
	}

	var msg models.Message
	duplicate := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", convID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if conv.Status == models.ConversationClosed {
			return ErrConversationClosed
		}

		if clientMsgID != "" {
			err := tx.Where("conversation_id = ? AND client_msg_id = ?", convID, clientMsgID).
				First(&msg).Error
			if err == nil {
				duplicate = true
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		msg = models.Message{
			ConversationID: convID,
			SenderID:       senderID,
			SenderRole:     senderRole,
			Content:        content,
			ClientMsgID:    clientMsgID,
			Meta:           datatypes.JSON(`{"origin":"` + origin + `"}`),
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		return tx.Model(&models.Conversation{}).
			Where("id = ?", convID).
			Updates(map[string]interface{}{
				"last_message":    content,
				"last_message_at": msg.CreatedAt,
			}).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &msg, duplicate, nil
}

// MarkRead flips every unread message authored by the counterpart of
// recipient and returns the number of rows touched. Idempotent: a repeat
// call reports zero.
func (s *ChatStore) MarkRead(ctx context.Context, convID uuid.UUID, recipient models.Party) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_role = ? AND is_read = false",
			convID, recipient.Counterpart()).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

// CloseConversation is terminal; closing an already closed conversation is a
// no-op success.
func (s *ChatStore) CloseConversation(ctx context.Context, convID uuid.UUID) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", convID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if conv.Status == models.ConversationClosed {
			return nil
		}
		return tx.Model(&conv).Update("status", models.ConversationClosed).Error
	})
}

// CountUnreadForParty is the global badge for one side of the desk: unread
// messages authored by the counterpart across all conversations.
func (s *ChatStore) CountUnreadForParty(ctx context.Context, recipient models.Party) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("sender_role = ? AND is_read = false", recipient.Counterpart()).
		Count(&count).Error
	return count, err
}

// CountUnreadForUser is the customer badge: unread staff messages in that
// customer's own conversations.
func (s *ChatStore) CountUnreadForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.user_id = ? AND messages.sender_role = ? AND messages.is_read = false",
			userID, models.PartyStaff).
		Count(&count).Error
	return count, err
}

type ConversationWithUnread struct {
	models.Conversation
	UnreadCount int64
}

// ListConversationsWithUnread feeds the operator inbox: every conversation,
// newest activity first, with the count of unread customer messages.
func (s *ChatStore) ListConversationsWithUnread(ctx context.Context) ([]ConversationWithUnread, error) {
	var convs []models.Conversation
	if err := s.DB.WithContext(ctx).
		Preload("User").
		Order("last_message_at DESC").
		Find(&convs).Error; err != nil {
		return nil, err
	}

	out := make([]ConversationWithUnread, 0, len(convs))
	for _, conv := range convs {
		var unread int64
		if err := s.DB.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND sender_role = ? AND is_read = false",
				conv.ID, models.PartyUser).
			Count(&unread).Error; err != nil {
			return nil, err
		}
		out = append(out, ConversationWithUnread{Conversation: conv, UnreadCount: unread})
	}
	return out, nil
}
