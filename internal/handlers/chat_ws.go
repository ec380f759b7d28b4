package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/pandurasa/warmindo_be/internal/models"
	"github.com/pandurasa/warmindo_be/internal/realtime"
	"github.com/pandurasa/warmindo_be/internal/store"
	"github.com/pandurasa/warmindo_be/internal/utils"
)

type wsJoinReq struct {
	ConversationID string `json:"conversation_id"`
}

type wsSendReq struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ClientMsgID    string `json:"client_msg_id"`
}

type wsTypingReq struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// WebSocketHandler runs one authenticated realtime session. The bearer token
// arrives as a query parameter because browsers cannot set headers on the
// upgrade request.
func (h *ChatHandler) WebSocketHandler(c *websocket.Conn) {
	claims, err := utils.ParseJWT(h.JWTSecret, c.Query("token"))
	if err != nil {
		log.Println("WebSocket: rejected connection:", err)
		c.Close()
		return
	}

	userUUID, err := uuid.Parse(claims.UserID)
	if err != nil {
		log.Println("WebSocket: invalid uid claim:", err)
		c.Close()
		return
	}

	role := models.Role(claims.Role)
	username := claims.UserID
	if u, uerr := h.Store.FindUser(context.Background(), userUUID); uerr == nil {
		username = u.Name
	}

	client := &realtime.Client{
		ID:       uuid.New().String(),
		UserID:   userUUID,
		Party:    role.Party(),
		Username: username,
		Send:     make(chan []byte, 256),
	}

	h.Hub.Register(client)
	defer func() {
		h.Hub.Unregister(client)
		log.Printf("WebSocket: user %s disconnected", userUUID)
	}()

	// Drain the hub into the socket.
	go func() {
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Println("WebSocket write error:", err)
				return
			}
		}
	}()

	for {
		var env realtime.Envelope
		if err := c.ReadJSON(&env); err != nil {
			log.Printf("WebSocket read error for user %s: %v", userUUID, err)
			break
		}
		h.dispatchEvent(client, env)
	}
}

func (h *ChatHandler) dispatchEvent(client *realtime.Client, env realtime.Envelope) {
	switch env.Event {
	case realtime.EventJoinConversation:
		var req wsJoinReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.sendError(client, "", "invalid payload")
			return
		}
		convID, err := uuid.Parse(req.ConversationID)
		if err != nil {
			h.sendError(client, req.ConversationID, "invalid conversation_id")
			return
		}
		h.handleJoin(client, convID)
	case realtime.EventLeaveConversation:
		var req wsJoinReq
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.sendError(client, "", "invalid payload")
			return
		}
		if convID, err := uuid.Parse(req.ConversationID); err == nil {
			h.Hub.Leave(client, convID)
		}
	case realtime.EventSendMessage:
		h.handleSocketSend(client, env.Data)
	case realtime.EventTyping:
		h.handleTyping(client, env.Data)
	case realtime.EventMarkRead:
		h.handleSocketMarkRead(client, env.Data)
	default:
		// Unknown events (including keepalive pongs) are ignored.
	}
}

// handleJoin adds the connection to the conversation's room. Staff may join
// any conversation; a customer only their own thread.
func (h *ChatHandler) handleJoin(client *realtime.Client, convID uuid.UUID) {
	conv, err := h.Store.GetConversation(context.Background(), convID)
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(client, convID.String(), "conversation not found")
		return
	}
	if err != nil {
		log.Println("WebSocket: join lookup failed:", err)
		h.sendError(client, convID.String(), "internal error")
		return
	}
	if client.Party == models.PartyUser && conv.UserID != client.UserID {
		h.sendError(client, convID.String(), "access denied")
		return
	}
	h.Hub.Join(client, convID)
}

// handleSocketSend persists via the same AppendMessage entry point as REST
// and fans out only after the store accepted the write. On failure only the
// originating connection hears about it.
func (h *ChatHandler) handleSocketSend(client *realtime.Client, data json.RawMessage) {
	var req wsSendReq
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(client, "", "invalid payload")
		return
	}
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		h.sendError(client, req.ConversationID, "invalid conversation_id")
		return
	}

	ctx := context.Background()
	conv, err := h.Store.GetConversation(ctx, convID)
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(client, req.ConversationID, "conversation not found")
		return
	}
	if err != nil {
		log.Println("WebSocket: send lookup failed:", err)
		h.sendError(client, req.ConversationID, "internal error")
		return
	}
	if client.Party == models.PartyUser && conv.UserID != client.UserID {
		h.sendError(client, req.ConversationID, "access denied")
		return
	}

	msg, duplicate, err := h.Store.AppendMessage(ctx, convID, client.UserID, client.Party, req.Content, req.ClientMsgID, "socket")
	switch {
	case errors.Is(err, store.ErrEmptyContent):
		h.sendError(client, req.ConversationID, "content is required")
		return
	case errors.Is(err, store.ErrConversationClosed):
		h.sendError(client, req.ConversationID, "conversation is closed")
		return
	case err != nil:
		log.Println("WebSocket: persist failed:", err)
		h.sendError(client, req.ConversationID, "failed to send message")
		return
	}

	sender, serr := h.Store.FindUser(ctx, client.UserID)
	if serr != nil {
		sender = nil
	}
	msgResp := toMessageResponse(msg, sender)

	// The sender always gets the stored message back as confirmation; a
	// deduplicated nonce gets only that, the room heard it the first time.
	h.Hub.SendToClient(client.ID, realtime.Marshal(realtime.EventReceiveMessage, fiber.Map{
		"message": msgResp,
	}))
	if !duplicate {
		h.fanOutMessage(conv, msgResp, client.ID)
	}
}

// handleTyping is ephemeral: room broadcast minus the sender, nothing
// persisted. Clients debounce the isTyping=false themselves.
func (h *ChatHandler) handleTyping(client *realtime.Client, data json.RawMessage) {
	var req wsTypingReq
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return
	}
	h.Hub.EmitToRoom(convID, client.ID, realtime.Marshal(realtime.EventUserTyping, fiber.Map{
		"conversation_id": convID.String(),
		"username":        client.Username,
		"is_typing":       req.IsTyping,
	}))
}

func (h *ChatHandler) handleSocketMarkRead(client *realtime.Client, data json.RawMessage) {
	var req wsJoinReq
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(client, "", "invalid payload")
		return
	}
	convID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		h.sendError(client, req.ConversationID, "invalid conversation_id")
		return
	}

	ctx := context.Background()
	conv, err := h.Store.GetConversation(ctx, convID)
	if errors.Is(err, store.ErrNotFound) {
		h.sendError(client, req.ConversationID, "conversation not found")
		return
	}
	if err != nil {
		log.Println("WebSocket: mark read lookup failed:", err)
		h.sendError(client, req.ConversationID, "internal error")
		return
	}
	if client.Party == models.PartyUser && conv.UserID != client.UserID {
		h.sendError(client, req.ConversationID, "access denied")
		return
	}

	if _, err := h.Store.MarkRead(ctx, convID, client.Party); err != nil {
		log.Println("WebSocket: mark read failed:", err)
		h.sendError(client, req.ConversationID, "failed to mark as read")
		return
	}

	h.Hub.EmitToRoom(convID, "", realtime.Marshal(realtime.EventMessagesRead, fiber.Map{
		"conversation_id": convID.String(),
		"reader_role":     string(client.Party),
	}))
}

// sendError reaches only the originating connection; failures are never
// broadcast to the room.
func (h *ChatHandler) sendError(client *realtime.Client, conversationID, message string) {
	h.Hub.SendToClient(client.ID, realtime.Marshal(realtime.EventError, fiber.Map{
		"conversation_id": conversationID,
		"message":         message,
	}))
}
