package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pandurasa/warmindo_be/internal/models"
)

func newTestHub() *Hub {
	h := NewHub()
	go h.Run()
	return h
}

func newTestClient(party models.Party) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   uuid.New(),
		Party:    party,
		Username: "tester",
		Send:     make(chan []byte, 8),
	}
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
	}
	return nil
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if ok {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, c *Client) {
	t.Helper()
	select {
	case _, ok := <-c.Send:
		if ok {
			t.Fatal("expected closed channel, got payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestEmitToRoomExcludesSender(t *testing.T) {
	h := newTestHub()
	conv := uuid.New()

	sender := newTestClient(models.PartyUser)
	member := newTestClient(models.PartyStaff)
	outsider := newTestClient(models.PartyUser)
	for _, c := range []*Client{sender, member, outsider} {
		h.Register(c)
	}
	h.Join(sender, conv)
	h.Join(member, conv)

	payload := Marshal(EventReceiveMessage, map[string]string{"content": "halo"})
	h.EmitToRoom(conv, sender.ID, payload)

	if got := recv(t, member); string(got) != string(payload) {
		t.Fatalf("member got %s", got)
	}
	expectNothing(t, sender)
	expectNothing(t, outsider)
}

func TestNotifyStaffOutsideRoom(t *testing.T) {
	h := newTestHub()
	conv := uuid.New()

	staffInRoom := newTestClient(models.PartyStaff)
	staffOutside := newTestClient(models.PartyStaff)
	customer := newTestClient(models.PartyUser)
	for _, c := range []*Client{staffInRoom, staffOutside, customer} {
		h.Register(c)
	}
	h.Join(staffInRoom, conv)

	payload := Marshal(EventNewMessageNotification, map[string]string{"conversation_id": conv.String()})
	h.NotifyStaffOutsideRoom(conv, payload)

	if got := recv(t, staffOutside); string(got) != string(payload) {
		t.Fatalf("staff outside got %s", got)
	}
	expectNothing(t, staffInRoom)
	expectNothing(t, customer)
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := newTestHub()
	conv := uuid.New()

	a := newTestClient(models.PartyUser)
	b := newTestClient(models.PartyStaff)
	h.Register(a)
	h.Register(b)
	h.Join(a, conv)
	h.Join(b, conv)

	h.Leave(b, conv)
	h.EmitToRoom(conv, "", Marshal(EventUserTyping, map[string]bool{"is_typing": true}))

	recv(t, a)
	expectNothing(t, b)
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	h := newTestHub()
	conv := uuid.New()

	a := newTestClient(models.PartyUser)
	b := newTestClient(models.PartyStaff)
	h.Register(a)
	h.Register(b)
	h.Join(a, conv)
	h.Join(b, conv)

	h.Unregister(a)
	expectClosed(t, a)

	h.EmitToRoom(conv, "", Marshal(EventMessagesRead, map[string]string{"conversation_id": conv.String()}))
	recv(t, b)
}

func TestSendToClient(t *testing.T) {
	h := newTestHub()

	a := newTestClient(models.PartyUser)
	b := newTestClient(models.PartyUser)
	h.Register(a)
	h.Register(b)

	payload := Marshal(EventError, map[string]string{"message": "content is required"})
	h.SendToClient(a.ID, payload)

	if got := recv(t, a); string(got) != string(payload) {
		t.Fatalf("client got %s", got)
	}
	expectNothing(t, b)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := newTestHub()
	conv := uuid.New()

	slow := newTestClient(models.PartyUser)
	slow.Send = make(chan []byte, 1)
	h.Register(slow)
	h.Join(slow, conv)

	payload := Marshal(EventReceiveMessage, map[string]string{"content": "satu"})
	h.EmitToRoom(conv, "", payload)
	h.EmitToRoom(conv, "", payload)

	// Buffer holds the first frame; the second overflows and evicts the
	// client, closing its channel behind the buffered frame.
	recv(t, slow)
	expectClosed(t, slow)
}
