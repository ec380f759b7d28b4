package realtime

import (
	"encoding/json"
	"log"
)

// Client-initiated events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventMarkRead          = "mark_read"
)

// Server-emitted events.
const (
	EventReceiveMessage         = "receive_message"
	EventNewMessageNotification = "new_message_notification"
	EventUserTyping             = "user_typing"
	EventMessagesRead           = "messages_read"
	EventConversationClosed     = "conversation_closed"
	EventError                  = "error"
)

// Envelope is the wire frame in both directions: {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Marshal wraps data in an envelope ready for the wire. Returns nil when the
// payload cannot be encoded; senders treat nil as "skip".
func Marshal(event string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("realtime: marshal %s payload: %v", event, err)
		return nil
	}
	b, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		log.Printf("realtime: marshal %s envelope: %v", event, err)
		return nil
	}
	return b
}
