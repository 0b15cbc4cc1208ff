package ws

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pnotato/VSDocs/internal/metrics"
	"github.com/pnotato/VSDocs/internal/protocol"
	"github.com/pnotato/VSDocs/internal/room"
)

// Hub owns the set of active clients and runs the room synchronization
// policy. All membership changes and room mutations for every room flow
// through the single Run goroutine, so events on one room are applied in
// arrival order and a join snapshot can never interleave with an update.
type Hub struct {
	log      *slog.Logger
	registry *room.Registry

	// Registered clients, and clients grouped by joined room
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	events     chan *inboundEvent

	mu sync.RWMutex
}

var errSenderGone = errors.New("sender no longer connected")

// An inbound event frame paired with the connection that sent it
type inboundEvent struct {
	sender *Client
	env    protocol.Envelope
}

func NewHub(logger *slog.Logger, registry *room.Registry) *Hub {
	return &Hub{
		log:        logger,
		registry:   registry,
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan *inboundEvent),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.ConnectionsActive.Inc()
			h.log.Debug("ws.connect", "conn", client.id)

		case client := <-h.unregister:
			h.removeClient(client)

		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev *inboundEvent) {
	// An event can still be in flight from a client that was force-removed
	// for a full send buffer. Acting on it would re-add the dead client's
	// membership with no disconnect left to clean it up, so the phantom
	// member would skew first-join detection forever.
	h.mu.RLock()
	registered := h.clients[ev.sender]
	h.mu.RUnlock()
	if !registered {
		h.drop(ev.sender, ev.env.Event, errSenderGone)
		return
	}

	metrics.EventsTotal.WithLabelValues(ev.env.Event).Inc()

	switch ev.env.Event {
	case protocol.EventJoinRoom:
		h.handleJoin(ev.sender, ev.env.Data)
	case protocol.EventEditorUpdate:
		h.handleEditorUpdate(ev.sender, ev.env.Data)
	case protocol.EventLanguageUpdate:
		h.handleLanguageUpdate(ev.sender, ev.env.Data)
	case protocol.EventChatMessage:
		h.handleChatMessage(ev.sender, ev.env.Data)
	default:
		h.drop(ev.sender, ev.env.Event, nil)
	}
}

// handleJoin runs the join protocol: the membership count is read before
// the join is recorded, the first member gets editor-initialization, and
// every later member gets whichever snapshot axes have prior state.
func (h *Hub) handleJoin(c *Client, data []byte) {
	p, err := protocol.ParseJoin(data)
	if err != nil {
		h.drop(c, protocol.EventJoinRoom, err)
		return
	}

	// A connection belongs to at most one room; joining again moves it
	if c.roomID != "" {
		h.leaveRoom(c)
	}

	rm := h.registry.GetOrCreate(p.Room)
	before := h.registry.MemberCount(p.Room)
	h.registry.AddMember(p.Room, c.id)
	c.roomID = p.Room

	h.mu.Lock()
	if _, ok := h.rooms[p.Room]; !ok {
		h.rooms[p.Room] = make(map[*Client]bool)
	}
	h.rooms[p.Room][c] = true
	h.mu.Unlock()

	h.log.Debug("ws.join", "room", p.Room, "conn", c.id, "members", before+1)

	if before == 0 {
		// First member owns a blank session; no snapshot exists yet.
		// Any state left over from a prior occupancy stays invisible
		// until another member joins or this one sends an update.
		if frame, err := protocol.EditorInitialization(p.Room); err == nil {
			h.send(c, frame)
		}
		return
	}

	// Each snapshot axis is conditioned independently: a room can have
	// code but no chat, chat but no language, and so on.
	if value, ok := rm.Code(); ok {
		if frame, err := protocol.EditorUpdateReturn(p.Room, value); err == nil {
			h.send(c, frame)
		}
	}
	if transcript := rm.Transcript(); len(transcript) > 0 {
		if frame, err := protocol.ChatHistory(p.Room, transcript); err == nil {
			h.send(c, frame)
		}
	}
	if language, ok := rm.Language(); ok {
		if frame, err := protocol.LanguageUpdateReturn(p.Room, language); err == nil {
			h.send(c, frame)
		}
	}
}

func (h *Hub) handleEditorUpdate(c *Client, data []byte) {
	p, err := protocol.ParseEditor(data)
	if err != nil {
		h.drop(c, protocol.EventEditorUpdate, err)
		return
	}

	h.registry.GetOrCreate(p.Room).SetCode(*p.Value)

	frame, err := protocol.EditorUpdateReturn(p.Room, *p.Value)
	if err != nil {
		return
	}
	h.broadcast(p.Room, frame, c)
}

func (h *Hub) handleLanguageUpdate(c *Client, data []byte) {
	p, err := protocol.ParseLanguage(data)
	if err != nil {
		h.drop(c, protocol.EventLanguageUpdate, err)
		return
	}

	h.registry.GetOrCreate(p.Room).SetLanguage(p.Language)

	frame, err := protocol.LanguageUpdateReturn(p.Room, p.Language)
	if err != nil {
		return
	}
	h.broadcast(p.Room, frame, c)
}

func (h *Hub) handleChatMessage(c *Client, data []byte) {
	p, err := protocol.ParseChat(data)
	if err != nil {
		h.drop(c, protocol.EventChatMessage, err)
		return
	}

	h.registry.GetOrCreate(p.Room).AppendMessage(p.Message)

	frame, err := protocol.ChatMessageReturn(p.Room, p.Message)
	if err != nil {
		return
	}
	// Chat echoes back to the sender; the other two axes rely on the
	// sender's local optimistic state.
	h.broadcast(p.Room, frame, nil)
}

// broadcast queues a frame to every member of roomID. When except is
// non-nil that client is skipped. Delivery is non-blocking: a member
// whose send buffer is full is disconnected rather than allowed to
// stall the room.
func (h *Hub) broadcast(roomID string, frame []byte, except *Client) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != except {
			members = append(members, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range members {
		h.send(client, frame)
	}
}

// send queues one frame to one client without blocking. Clients already
// removed are skipped; their send channel is closed.
func (h *Hub) send(c *Client, frame []byte) {
	h.mu.RLock()
	registered := h.clients[c]
	h.mu.RUnlock()
	if !registered {
		return
	}

	select {
	case c.send <- frame:
		metrics.BroadcastsTotal.Inc()
	default:
		h.log.Warn("ws.send_buffer_full", "conn", c.id, "room", c.roomID)
		h.removeClient(c)
	}
}

// leaveRoom removes c from its current room. Room state is untouched and
// remaining members are not notified.
func (h *Hub) leaveRoom(c *Client) {
	if c.roomID == "" {
		return
	}
	h.registry.RemoveMember(c.roomID, c.id)

	h.mu.Lock()
	if clients, ok := h.rooms[c.roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	h.mu.Unlock()

	h.log.Debug("ws.leave", "room", c.roomID, "conn", c.id)
	c.roomID = ""
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, registered := h.clients[c]
	if registered {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if !registered {
		return
	}

	h.leaveRoom(c)
	close(c.send)
	metrics.ConnectionsActive.Dec()
	h.log.Debug("ws.disconnect", "conn", c.id)
}

// drop logs and discards a malformed or unknown event. Nothing is sent
// back to the sender.
func (h *Hub) drop(c *Client, event string, err error) {
	metrics.EventsDropped.Inc()
	h.log.Debug("ws.event_dropped", "event", event, "conn", c.id, "err", err)
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetRoomCount returns the number of rooms with at least one member
func (h *Hub) GetRoomCount() int {
	return h.registry.RoomCount()
}

// GetActiveRooms returns member counts for every occupied room
func (h *Hub) GetActiveRooms() map[string]int {
	return h.registry.ActiveRooms()
}
