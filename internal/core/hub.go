package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vitalink/telecare/internal/domain"
)

// Sink receives chat and transcription entries for a consultation
// record. Implementations must not block: the hub calls it from the
// event loop and delivery to peers never waits on persistence.
type Sink interface {
	AppendChat(room domain.RoomID, msg domain.ChatMessage)
	AppendTranscription(room domain.RoomID, entry domain.TranscriptionEntry)
}

// RoomInfo is a read-only view for the operator API.
type RoomInfo struct {
	ID          domain.RoomID `json:"roomId"`
	MemberCount int           `json:"memberCount"`
}

type event any

type evRegister struct{ conn *Conn }

type evDisconnect struct{ id ConnID }

type evJoin struct {
	id   ConnID
	room domain.RoomID
}

type evLeave struct {
	id   ConnID
	room domain.RoomID
}

type evSignal struct {
	id      ConnID
	kind    string
	room    domain.RoomID
	to      ConnID
	payload json.RawMessage
}

type evChat struct {
	id         ConnID
	room       domain.RoomID
	senderID   domain.UserID
	senderRole string
	message    string
	attachment *domain.Attachment
}

type evTranscription struct {
	id         ConnID
	room       domain.RoomID
	text       string
	senderRole string
}

type evSnapshot struct{ reply chan []RoomInfo }

// Hub owns the connection registry and the room membership table.
// Every inbound event is processed to completion by the single Run
// loop before the next begins, so membership mutations never
// interleave and no locking is needed on the tables.
type Hub struct {
	events chan event
	quit   chan struct{}

	conns map[ConnID]*Conn
	rooms *RoomTable
	sink  Sink
}

func NewHub(sink Sink) *Hub {
	return &Hub{
		events: make(chan event, 256),
		quit:   make(chan struct{}),
		conns:  make(map[ConnID]*Conn),
		rooms:  NewRoomTable(),
		sink:   sink,
	}
}

// Run processes events until ctx is canceled. It must be called
// exactly once; enqueue methods unblock when it exits.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "core.hub").Msg("hub loop stopped")
			return
		case ev := <-h.events:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev event) {
	switch e := ev.(type) {
	case evRegister:
		h.handleRegister(e)
	case evDisconnect:
		h.handleDisconnect(e)
	case evJoin:
		h.handleJoin(e)
	case evLeave:
		h.handleLeave(e)
	case evSignal:
		h.handleSignal(e)
	case evChat:
		h.handleChat(e)
	case evTranscription:
		h.handleTranscription(e)
	case evSnapshot:
		e.reply <- h.snapshot()
	}
}

func (h *Hub) enqueue(ev event) {
	select {
	case h.events <- ev:
	case <-h.quit:
	}
}

// Register adds a freshly connected transport endpoint.
func (h *Hub) Register(c *Conn) { h.enqueue(evRegister{conn: c}) }

// Disconnect runs membership cleanup for every room the connection
// joined and discards it. Safe to call for unknown ids.
func (h *Hub) Disconnect(id ConnID) { h.enqueue(evDisconnect{id: id}) }

func (h *Hub) Join(id ConnID, room domain.RoomID) { h.enqueue(evJoin{id: id, room: room}) }

func (h *Hub) Leave(id ConnID, room domain.RoomID) { h.enqueue(evLeave{id: id, room: room}) }

// Relay forwards an opaque signaling payload: unicast when to is set,
// otherwise to every other member of the room.
func (h *Hub) Relay(id ConnID, kind string, room domain.RoomID, to ConnID, payload json.RawMessage) {
	h.enqueue(evSignal{id: id, kind: kind, room: room, to: to, payload: payload})
}

func (h *Hub) Chat(id ConnID, room domain.RoomID, senderID, senderRole, message string, attachment *domain.Attachment) {
	h.enqueue(evChat{id: id, room: room, senderID: domain.UserID(senderID), senderRole: senderRole, message: message, attachment: attachment})
}

func (h *Hub) Transcription(id ConnID, room domain.RoomID, text, senderRole string) {
	h.enqueue(evTranscription{id: id, room: room, text: text, senderRole: senderRole})
}

// Rooms returns a point-in-time view of active rooms, answered by the
// hub loop itself so readers never race membership mutations.
func (h *Hub) Rooms() []RoomInfo {
	reply := make(chan []RoomInfo, 1)
	select {
	case h.events <- evSnapshot{reply: reply}:
	case <-h.quit:
		return nil
	}
	select {
	case info := <-reply:
		return info
	case <-h.quit:
		return nil
	}
}

func (h *Hub) handleRegister(e evRegister) {
	h.conns[e.conn.ID] = e.conn
	log.Info().Str("module", "core.hub").Str("conn", string(e.conn.ID)).
		Bool("authenticated", e.conn.Identity != nil).Msg("connection registered")
}

func (h *Hub) handleJoin(e evJoin) {
	c, ok := h.conns[e.id]
	if !ok || e.room == "" {
		return
	}
	if h.rooms.Contains(e.room, e.id) {
		log.Debug().Str("module", "core.hub").Str("conn", string(e.id)).
			Str("room", string(e.room)).Msg("already joined, ignoring")
		return
	}

	existing := h.rooms.Members(e.room)
	for _, eid := range existing {
		peer := h.conns[eid]
		// The earlier joiner initiates toward the newcomer; exactly one
		// initiator per pair, so offers never cross.
		h.send(peer, peerNotice{Type: "user-joined", Room: e.room, UserID: c.UserID(), IsInitiator: true})
		h.send(c, peerNotice{Type: "user-joined", Room: e.room, UserID: peer.UserID(), IsInitiator: false})
	}

	h.rooms.Join(e.room, e.id)
	c.rooms[e.room] = struct{}{}

	if len(existing) == 0 {
		h.send(c, roomReadyNotice{Type: "room-ready", Room: e.room})
	}
	log.Info().Str("module", "core.hub").Str("conn", string(e.id)).
		Str("room", string(e.room)).Int("members", h.rooms.Count(e.room)).Msg("joined room")
}

func (h *Hub) handleLeave(e evLeave) {
	c, ok := h.conns[e.id]
	if !ok {
		return
	}
	h.removeFromRoom(c, e.room)
}

func (h *Hub) handleDisconnect(e evDisconnect) {
	c, ok := h.conns[e.id]
	if !ok {
		return
	}
	for room := range c.rooms {
		h.removeFromRoom(c, room)
	}
	delete(h.conns, e.id)
	log.Info().Str("module", "core.hub").Str("conn", string(e.id)).Msg("connection discarded")
}

// removeFromRoom drops the membership record and tells everyone still
// in the room, whether the member left explicitly or just vanished.
func (h *Hub) removeFromRoom(c *Conn, room domain.RoomID) {
	remaining, removed := h.rooms.Leave(room, c.ID)
	if !removed {
		return
	}
	delete(c.rooms, room)
	for _, mid := range remaining {
		h.send(h.conns[mid], peerLeftNotice{Type: "user-left", Room: room, UserID: c.UserID()})
	}
	log.Info().Str("module", "core.hub").Str("conn", string(c.ID)).
		Str("room", string(room)).Int("remaining", len(remaining)).Msg("left room")
}

func (h *Hub) handleSignal(e evSignal) {
	if _, ok := h.conns[e.id]; !ok {
		return
	}
	out := signalNotice{Type: e.kind, Room: e.room, From: e.id, Payload: e.payload}

	if e.to != "" {
		target, ok := h.conns[e.to]
		if !ok {
			// Target already disconnected: dropped silently, the sender
			// learns about it through user-left, not an error.
			log.Debug().Str("module", "core.hub").Str("from", string(e.id)).
				Str("to", string(e.to)).Str("kind", e.kind).Msg("unicast target gone, dropped")
			return
		}
		h.send(target, out)
		return
	}

	for _, mid := range h.rooms.Members(e.room) {
		if mid == e.id {
			continue
		}
		h.send(h.conns[mid], out)
	}
}

func (h *Hub) handleChat(e evChat) {
	c, ok := h.conns[e.id]
	if !ok || e.room == "" {
		return
	}

	msg := domain.ChatMessage{
		SenderID:   e.senderID,
		SenderRole: domain.ParseRole(e.senderRole),
		Content:    e.message,
		Attachment: e.attachment,
		Timestamp:  time.Now().UTC(),
	}
	// A verified identity always wins over client-asserted fields.
	if c.Identity != nil {
		msg.SenderID = c.UserID()
		msg.SenderRole = c.Role()
	} else if msg.SenderID == "" {
		msg.SenderID = c.UserID()
	}

	// Chat goes to every member including the sender, so all clients
	// render the same timeline.
	out := chatNotice{Type: "chat-message", Room: e.room, ChatMessage: msg}
	for _, mid := range h.rooms.Members(e.room) {
		h.send(h.conns[mid], out)
	}

	h.sink.AppendChat(e.room, msg)
}

func (h *Hub) handleTranscription(e evTranscription) {
	if _, ok := h.conns[e.id]; !ok {
		return
	}
	if e.room == "" || e.text == "" || e.senderRole == "" {
		log.Warn().Str("module", "core.hub").Str("conn", string(e.id)).
			Msg("transcription update missing fields, discarded")
		return
	}

	entry := domain.TranscriptionEntry{
		SenderRole: domain.ParseRole(e.senderRole),
		Text:       e.text,
		Timestamp:  time.Now().UTC(),
	}

	out := transcriptionNotice{Type: "transcription-update", Room: e.room, TranscriptionEntry: entry}
	for _, mid := range h.rooms.Members(e.room) {
		h.send(h.conns[mid], out)
	}

	h.sink.AppendTranscription(e.room, entry)
}

func (h *Hub) snapshot() []RoomInfo {
	rooms := h.rooms.Rooms()
	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{ID: room, MemberCount: h.rooms.Count(room)})
	}
	return out
}

// send marshals and hands a notification to the connection's transport.
// A slow consumer drops the frame; the relay has no retries.
func (h *Hub) send(c *Conn, v any) {
	if c == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.hub").Msg("marshal notification")
		return
	}
	if err := c.sender.TrySend(Frame(b)); err != nil {
		log.Warn().Str("module", "core.hub").Str("conn", string(c.ID)).
			Err(err).Msg("dropping frame for slow consumer")
	}
}
