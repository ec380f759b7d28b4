package realtime

import (
	"log"

	"github.com/google/uuid"

	"github.com/pandurasa/warmindo_be/internal/models"
)

// Client is one authenticated socket connection. The hub never touches the
// transport; the websocket handler drains Send into the connection.
type Client struct {
	ID       string
	UserID   uuid.UUID
	Party    models.Party
	Username string
	Send     chan []byte
}

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdUnregister
	cmdJoin
	cmdLeave
	cmdEmitRoom
	cmdNotifyStaffOutside
	cmdSendUser
	cmdSendClient
)

type command struct {
	kind           commandKind
	client         *Client
	conversationID uuid.UUID
	userID         uuid.UUID
	exclude        string
	target         string
	payload        []byte
}

// Hub owns connection and room state. All mutations flow through one command
// channel consumed by a single Run loop, so every member of a room observes
// events in the order the hub processed them.
type Hub struct {
	clients  map[string]*Client
	rooms    map[uuid.UUID]map[string]*Client
	commands chan command
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[uuid.UUID]map[string]*Client),
		commands: make(chan command, 256),
	}
}

func (h *Hub) Register(c *Client) {
	h.commands <- command{kind: cmdRegister, client: c}
}

// Unregister removes the connection and implicitly leaves every joined room.
func (h *Hub) Unregister(c *Client) {
	h.commands <- command{kind: cmdUnregister, client: c}
}

func (h *Hub) Join(c *Client, conversationID uuid.UUID) {
	h.commands <- command{kind: cmdJoin, client: c, conversationID: conversationID}
}

func (h *Hub) Leave(c *Client, conversationID uuid.UUID) {
	h.commands <- command{kind: cmdLeave, client: c, conversationID: conversationID}
}

// EmitToRoom delivers payload to every room member except excludeID (empty
// string excludes nobody).
func (h *Hub) EmitToRoom(conversationID uuid.UUID, excludeID string, payload []byte) {
	if payload == nil {
		return
	}
	h.commands <- command{kind: cmdEmitRoom, conversationID: conversationID, exclude: excludeID, payload: payload}
}

// NotifyStaffOutsideRoom reaches staff connections not currently joined to
// the conversation, so operator lists can bump unread badges.
func (h *Hub) NotifyStaffOutsideRoom(conversationID uuid.UUID, payload []byte) {
	if payload == nil {
		return
	}
	h.commands <- command{kind: cmdNotifyStaffOutside, conversationID: conversationID, payload: payload}
}

// SendToUser delivers payload to every connection of one user.
func (h *Hub) SendToUser(userID uuid.UUID, payload []byte) {
	if payload == nil {
		return
	}
	h.commands <- command{kind: cmdSendUser, userID: userID, payload: payload}
}

// SendToClient delivers payload to a single connection. Acks and error
// events go through here so they stay ordered with room traffic and never
// race the hub closing the client's channel.
func (h *Hub) SendToClient(clientID string, payload []byte) {
	if payload == nil {
		return
	}
	h.commands <- command{kind: cmdSendClient, target: clientID, payload: payload}
}

func (h *Hub) Run() {
	for cmd := range h.commands {
		switch cmd.kind {
		case cmdRegister:
			h.clients[cmd.client.ID] = cmd.client
			log.Printf("hub: client %s registered (user %s, %s)", cmd.client.ID, cmd.client.UserID, cmd.client.Party)

		case cmdUnregister:
			h.drop(cmd.client.ID)

		case cmdJoin:
			if _, ok := h.clients[cmd.client.ID]; !ok {
				continue
			}
			room := h.rooms[cmd.conversationID]
			if room == nil {
				room = make(map[string]*Client)
				h.rooms[cmd.conversationID] = room
			}
			room[cmd.client.ID] = cmd.client

		case cmdLeave:
			if room, ok := h.rooms[cmd.conversationID]; ok {
				delete(room, cmd.client.ID)
				if len(room) == 0 {
					delete(h.rooms, cmd.conversationID)
				}
			}

		case cmdEmitRoom:
			for id, c := range h.rooms[cmd.conversationID] {
				if id == cmd.exclude {
					continue
				}
				h.trySend(c, cmd.payload)
			}

		case cmdNotifyStaffOutside:
			room := h.rooms[cmd.conversationID]
			for id, c := range h.clients {
				if c.Party != models.PartyStaff {
					continue
				}
				if room != nil {
					if _, inRoom := room[id]; inRoom {
						continue
					}
				}
				h.trySend(c, cmd.payload)
			}

		case cmdSendUser:
			for _, c := range h.clients {
				if c.UserID == cmd.userID {
					h.trySend(c, cmd.payload)
				}
			}

		case cmdSendClient:
			if c, ok := h.clients[cmd.target]; ok {
				h.trySend(c, cmd.payload)
			}
		}
	}
}

// trySend never blocks the loop; a connection that cannot keep up is dropped.
func (h *Hub) trySend(c *Client, payload []byte) {
	select {
	case c.Send <- payload:
	default:
		log.Printf("hub: client %s send buffer full, dropping", c.ID)
		h.drop(c.ID)
	}
}

func (h *Hub) drop(clientID string) {
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	delete(h.clients, clientID)
	for convID, room := range h.rooms {
		delete(room, clientID)
		if len(room) == 0 {
			delete(h.rooms, convID)
		}
	}
	close(c.Send)
	log.Printf("hub: client %s unregistered", clientID)
}
