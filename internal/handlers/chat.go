package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pandurasa/warmindo_be/internal/models"
	"github.com/pandurasa/warmindo_be/internal/realtime"
	"github.com/pandurasa/warmindo_be/internal/store"
)

type ChatHandler struct {
	Store     *store.ChatStore
	Hub       *realtime.Hub
	RDB       *redis.Client
	JWTSecret string
}

func NewChatHandler(st *store.ChatStore, hub *realtime.Hub, rdb *redis.Client, jwtSecret string) *ChatHandler {
	return &ChatHandler{Store: st, Hub: hub, RDB: rdb, JWTSecret: jwtSecret}
}

type UserMini struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// MessageResponse is the message DTO shared by REST responses and socket
// events, so clients can deduplicate by id across both paths.
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	Sender *UserMini `json:"sender,omitempty"`
}

type ConversationOut struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UnreadCount   int64     `json:"unread_count"`

	Customer *UserMini         `json:"customer,omitempty"`
	Messages []MessageResponse `json:"messages,omitempty"`
}

func toUserMini(u *models.User) *UserMini {
	if u == nil {
		return nil
	}
	return &UserMini{ID: u.ID.String(), Name: u.Name, Role: string(u.Role)}
}

func toMessageResponse(m *models.Message, sender *models.User) MessageResponse {
	return MessageResponse{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		SenderRole:     string(m.SenderRole),
		Content:        m.Content,
		IsRead:         m.IsRead,
		ClientMsgID:    m.ClientMsgID,
		CreatedAt:      m.CreatedAt,
		Sender:         toUserMini(sender),
	}
}

func toConversationOut(conv *models.Conversation, unread int64) ConversationOut {
	out := ConversationOut{
		ID:            conv.ID.String(),
		UserID:        conv.UserID.String(),
		Status:        string(conv.Status),
		LastMessage:   conv.LastMessage,
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
		UnreadCount:   unread,
		Customer:      toUserMini(conv.User),
	}
	for i := range conv.Messages {
		m := &conv.Messages[i]
		out.Messages = append(out.Messages, toMessageResponse(m, m.Sender))
	}
	return out
}

// MyConversation returns the customer's active conversation, or data: null
// when they never contacted support (or the old thread was closed).
func (h *ChatHandler) MyConversation(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := h.Store.FindActiveConversation(c.Context(), userUUID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(fiber.Map{"success": true, "data": nil})
	}
	if err != nil {
		log.Println("Error fetching conversation:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversation"})
	}

	out := toConversationOut(conv, 0)
	return c.JSON(fiber.Map{"success": true, "data": out})
}

// CreateOrGetConversation is get-or-create: 201 with a fresh active
// conversation, or 200 with the existing one. Safe to call from two tabs at
// once.
func (h *ChatHandler) CreateOrGetConversation(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, created, err := h.Store.GetOrCreateConversation(c.Context(), userUUID)
	if err != nil {
		log.Println("Error creating conversation:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to create conversation"})
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	out := toConversationOut(conv, 0)
	return c.Status(status).JSON(fiber.Map{"success": true, "created": created, "data": out})
}

// ListConversations is the operator inbox: every conversation with its
// unread customer-message count, newest activity first.
func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	convs, err := h.Store.ListConversationsWithUnread(c.Context())
	if err != nil {
		log.Println("Error fetching conversations:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversations"})
	}

	out := make([]ConversationOut, 0, len(convs))
	for i := range convs {
		out = append(out, toConversationOut(&convs[i].Conversation, convs[i].UnreadCount))
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

// GetConversation returns one conversation with its ordered history. A
// customer can only read their own thread; staff can read any.
func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	convUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid conversation ID"})
	}

	conv, err := h.Store.GetConversationWithMessages(c.Context(), convUUID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Conversation not found"})
	}
	if err != nil {
		log.Println("Error fetching conversation:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversation"})
	}

	if !getRole(c).IsStaff() && conv.UserID != userUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "message": "Access denied"})
	}

	out := toConversationOut(conv, 0)
	return c.JSON(fiber.Map{"success": true, "data": out})
}

type SendMessageReq struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ClientMsgID    string `json:"client_msg_id"`
}

// SendMessage persists through the same store entry point as the socket
// path and fans out only after the write is accepted.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var req SendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid body"})
	}
	if req.ConversationID == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "conversation_id and content are required"})
	}
	convUUID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid conversation ID"})
	}

	party := getRole(c).Party()

	conv, err := h.Store.GetConversation(c.Context(), convUUID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Conversation not found"})
	}
	if err != nil {
		log.Println("Error fetching conversation:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversation"})
	}
	if party == models.PartyUser && conv.UserID != userUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "message": "Access denied"})
	}

	msg, duplicate, err := h.Store.AppendMessage(c.Context(), convUUID, userUUID, party, req.Content, req.ClientMsgID, "rest")
	switch {
	case errors.Is(err, store.ErrEmptyContent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Content is required"})
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Conversation not found"})
	case errors.Is(err, store.ErrConversationClosed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "message": "Conversation is closed"})
	case err != nil:
		log.Println("Error creating message:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to send message"})
	}

	sender, serr := h.Store.FindUser(c.Context(), userUUID)
	if serr != nil {
		sender = nil
	}
	msgResp := toMessageResponse(msg, sender)

	// An already stored nonce was delivered on first acceptance; repeating
	// the fan-out would hand every room member a duplicate.
	if !duplicate {
		h.fanOutMessage(conv, msgResp, "")
	}

	return c.JSON(fiber.Map{"success": true, "data": msgResp})
}

// MarkAsRead flips the counterpart's messages to read for the caller's side
// of the desk. Idempotent, so clients may resend freely.
func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	convUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid conversation ID"})
	}

	party := getRole(c).Party()

	conv, err := h.Store.GetConversation(c.Context(), convUUID)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Conversation not found"})
	}
	if err != nil {
		log.Println("Error fetching conversation:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to fetch conversation"})
	}
	if party == models.PartyUser && conv.UserID != userUUID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "message": "Access denied"})
	}

	updated, err := h.Store.MarkRead(c.Context(), convUUID, party)
	if err != nil {
		log.Println("Error marking messages as read:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to mark messages as read"})
	}

	h.Hub.EmitToRoom(convUUID, "", realtime.Marshal(realtime.EventMessagesRead, fiber.Map{
		"conversation_id": convUUID.String(),
		"reader_role":     string(party),
	}))

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"updated": updated}})
}

// UnreadCount serves both badges: staff get the desk-wide count of unread
// customer messages, a customer gets unread staff messages in their own
// thread.
func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var count int64
	if getRole(c).IsStaff() {
		count, err = h.Store.CountUnreadForParty(c.Context(), models.PartyStaff)
	} else {
		count, err = h.Store.CountUnreadForUser(c.Context(), userUUID)
	}
	if err != nil {
		log.Println("Error counting unread messages:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to count unread messages"})
	}

	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"unread_count": count}})
}

// CloseConversation is staff-only and terminal; the customer's next
// contact opens a new thread.
func (h *ChatHandler) CloseConversation(c *fiber.Ctx) error {
	convUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "Invalid conversation ID"})
	}

	if err := h.Store.CloseConversation(c.Context(), convUUID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "Conversation not found"})
		}
		log.Println("Error closing conversation:", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Failed to close conversation"})
	}

	h.Hub.EmitToRoom(convUUID, "", realtime.Marshal(realtime.EventConversationClosed, fiber.Map{
		"conversation_id": convUUID.String(),
	}))

	return c.JSON(fiber.Map{"success": true, "message": "Conversation closed"})
}

// fanOutMessage delivers one accepted message to the room (minus the
// originating socket connection, if any), nudges staff outside the room,
// and mirrors it onto the Redis push channel.
func (h *ChatHandler) fanOutMessage(conv *models.Conversation, msg MessageResponse, excludeClientID string) {
	h.Hub.EmitToRoom(conv.ID, excludeClientID, realtime.Marshal(realtime.EventReceiveMessage, fiber.Map{
		"message": msg,
	}))

	h.Hub.NotifyStaffOutsideRoom(conv.ID, realtime.Marshal(realtime.EventNewMessageNotification, fiber.Map{
		"conversation_id": conv.ID.String(),
		"preview":         preview(msg.Content),
		"message":         msg,
	}))

	h.publishPush(conv, msg)
}

// publishPush feeds the out-of-band notification channel the mobile push
// worker subscribes to. Best effort; chat delivery never depends on it.
func (h *ChatHandler) publishPush(conv *models.Conversation, msg MessageResponse) {
	if h.RDB == nil {
		return
	}

	channel := "notifications:staff"
	if models.Party(msg.SenderRole) == models.PartyStaff {
		channel = "notifications:" + conv.UserID.String()
	}

	payload, err := json.Marshal(fiber.Map{
		"type":            "chat_message",
		"conversation_id": conv.ID.String(),
		"sender_id":       msg.SenderID,
		"preview":         preview(msg.Content),
	})
	if err != nil {
		return
	}
	if err := h.RDB.Publish(context.Background(), channel, payload).Err(); err != nil {
		log.Println("Redis publish failed:", err)
	}
}
