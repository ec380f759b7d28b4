package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pandurasa/warmindo_be/internal/models"
	"github.com/pandurasa/warmindo_be/internal/realtime"
)

func (e *testEnv) connect(t *testing.T, u *models.User) *realtime.Client {
	t.Helper()
	client := &realtime.Client{
		ID:       uuid.New().String(),
		UserID:   u.ID,
		Party:    u.Role.Party(),
		Username: u.Name,
		Send:     make(chan []byte, 16),
	}
	e.hub.Register(client)
	return client
}

func wsRecv(t *testing.T, c *realtime.Client) realtime.Envelope {
	t.Helper()
	select {
	case raw := <-c.Send:
		var env realtime.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return env
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a frame, got none")
		return realtime.Envelope{}
	}
}

func wsExpectSilent(t *testing.T, c *realtime.Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("expected no frame, got %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestSocketMarkReadForeignCustomerDenied(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	owner := e.seedUser(t, models.RoleCustomer)
	intruder := e.seedUser(t, models.RoleCustomer)
	staff := e.seedUser(t, models.RoleAdmin)

	conv, _, err := e.store.GetOrCreateConversation(ctx, owner.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, _, err := e.store.AppendMessage(ctx, conv.ID, staff.ID, models.PartyStaff, "any update?", "", "rest"); err != nil {
		t.Fatalf("seed staff message: %v", err)
	}

	ownerClient := e.connect(t, owner)
	e.hub.Join(ownerClient, conv.ID)
	intruderClient := e.connect(t, intruder)

	e.handler.handleSocketMarkRead(intruderClient, rawJSON(t, wsJoinReq{ConversationID: conv.ID.String()}))

	env := wsRecv(t, intruderClient)
	if env.Event != realtime.EventError {
		t.Fatalf("expected %s to intruder, got %s", realtime.EventError, env.Event)
	}
	wsExpectSilent(t, ownerClient)

	unread, err := e.store.CountUnreadForUser(ctx, owner.ID)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if unread != 1 {
		t.Fatalf("staff message must stay unread for the owner, unread = %d", unread)
	}
}

func TestSocketMarkReadByOwnerBroadcastsToRoom(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	owner := e.seedUser(t, models.RoleCustomer)
	staff := e.seedUser(t, models.RoleAdmin)

	conv, _, err := e.store.GetOrCreateConversation(ctx, owner.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, _, err := e.store.AppendMessage(ctx, conv.ID, staff.ID, models.PartyStaff, "order is ready", "", "rest"); err != nil {
		t.Fatalf("seed staff message: %v", err)
	}

	ownerClient := e.connect(t, owner)
	e.hub.Join(ownerClient, conv.ID)
	staffClient := e.connect(t, staff)
	e.hub.Join(staffClient, conv.ID)

	e.handler.handleSocketMarkRead(ownerClient, rawJSON(t, wsJoinReq{ConversationID: conv.ID.String()}))

	// The whole room sees the read receipt, the caller included, so a
	// second tab of the same user stays in sync.
	for _, c := range []*realtime.Client{ownerClient, staffClient} {
		env := wsRecv(t, c)
		if env.Event != realtime.EventMessagesRead {
			t.Fatalf("expected %s, got %s", realtime.EventMessagesRead, env.Event)
		}
	}

	unread, err := e.store.CountUnreadForUser(ctx, owner.ID)
	if err != nil {
		t.Fatalf("count unread: %v", err)
	}
	if unread != 0 {
		t.Fatalf("unread after mark read = %d, want 0", unread)
	}
}

func TestSocketSendFailureAnswersOriginOnly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	owner := e.seedUser(t, models.RoleCustomer)
	staff := e.seedUser(t, models.RoleAdmin)

	conv, _, err := e.store.GetOrCreateConversation(ctx, owner.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	ownerClient := e.connect(t, owner)
	e.hub.Join(ownerClient, conv.ID)
	staffClient := e.connect(t, staff)
	e.hub.Join(staffClient, conv.ID)

	e.handler.handleSocketSend(ownerClient, rawJSON(t, wsSendReq{ConversationID: conv.ID.String(), Content: "   "}))
	env := wsRecv(t, ownerClient)
	if env.Event != realtime.EventError {
		t.Fatalf("blank content: expected %s to sender, got %s", realtime.EventError, env.Event)
	}
	wsExpectSilent(t, staffClient)

	if err := e.store.CloseConversation(ctx, conv.ID); err != nil {
		t.Fatalf("close conversation: %v", err)
	}
	e.handler.handleSocketSend(ownerClient, rawJSON(t, wsSendReq{ConversationID: conv.ID.String(), Content: "hello?"}))
	env = wsRecv(t, ownerClient)
	if env.Event != realtime.EventError {
		t.Fatalf("closed conversation: expected %s to sender, got %s", realtime.EventError, env.Event)
	}
	wsExpectSilent(t, staffClient)
}

func TestSocketSendNonceResendNotFannedOutTwice(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	owner := e.seedUser(t, models.RoleCustomer)
	staff := e.seedUser(t, models.RoleAdmin)

	conv, _, err := e.store.GetOrCreateConversation(ctx, owner.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	ownerClient := e.connect(t, owner)
	e.hub.Join(ownerClient, conv.ID)
	staffClient := e.connect(t, staff)
	e.hub.Join(staffClient, conv.ID)

	send := wsSendReq{ConversationID: conv.ID.String(), Content: "where is my order", ClientMsgID: "nonce-1"}

	e.handler.handleSocketSend(ownerClient, rawJSON(t, send))
	if env := wsRecv(t, ownerClient); env.Event != realtime.EventReceiveMessage {
		t.Fatalf("sender confirmation: expected %s, got %s", realtime.EventReceiveMessage, env.Event)
	}
	if env := wsRecv(t, staffClient); env.Event != realtime.EventReceiveMessage {
		t.Fatalf("room delivery: expected %s, got %s", realtime.EventReceiveMessage, env.Event)
	}

	// The widget retries the same frame; the room must not hear it again.
	e.handler.handleSocketSend(ownerClient, rawJSON(t, send))
	if env := wsRecv(t, ownerClient); env.Event != realtime.EventReceiveMessage {
		t.Fatalf("resend confirmation: expected %s, got %s", realtime.EventReceiveMessage, env.Event)
	}
	wsExpectSilent(t, staffClient)

	var count int64
	if err := e.store.DB.Model(&models.Message{}).Where("conversation_id = ?", conv.ID).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("stored messages = %d, want 1", count)
	}
}

func TestSocketSendForeignConversationDenied(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	owner := e.seedUser(t, models.RoleCustomer)
	intruder := e.seedUser(t, models.RoleCustomer)

	conv, _, err := e.store.GetOrCreateConversation(ctx, owner.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	ownerClient := e.connect(t, owner)
	e.hub.Join(ownerClient, conv.ID)
	intruderClient := e.connect(t, intruder)

	e.handler.handleSocketSend(intruderClient, rawJSON(t, wsSendReq{ConversationID: conv.ID.String(), Content: "hi"}))
	env := wsRecv(t, intruderClient)
	if env.Event != realtime.EventError {
		t.Fatalf("expected %s to intruder, got %s", realtime.EventError, env.Event)
	}
	wsExpectSilent(t, ownerClient)
}
