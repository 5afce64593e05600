package core

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalink/telecare/internal/domain"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (s *fakeSender) TrySend(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSender) Close() {}

// notice is the superset of every outbound notification shape.
type notice struct {
	Type        string          `json:"type"`
	Room        string          `json:"roomId"`
	UserID      string          `json:"userId"`
	IsInitiator bool            `json:"isInitiator"`
	From        string          `json:"from"`
	Payload     json.RawMessage `json:"payload"`
	SenderID    string          `json:"senderId"`
	SenderRole  string          `json:"senderRole"`
	Message     string          `json:"message"`
	Text        string          `json:"text"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (s *fakeSender) notices(t *testing.T) []notice {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notice, 0, len(s.frames))
	for _, f := range s.frames {
		var n notice
		require.NoError(t, json.Unmarshal(f, &n))
		out = append(out, n)
	}
	return out
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

type sinkEntry struct {
	room       domain.RoomID
	chat       *domain.ChatMessage
	transcript *domain.TranscriptionEntry
}

type fakeSink struct {
	mu      sync.Mutex
	entries []sinkEntry
}

func (s *fakeSink) AppendChat(room domain.RoomID, msg domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, sinkEntry{room: room, chat: &msg})
}

func (s *fakeSink) AppendTranscription(room domain.RoomID, entry domain.TranscriptionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, sinkEntry{room: room, transcript: &entry})
}

func (s *fakeSink) all() []sinkEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEntry(nil), s.entries...)
}

func startHub(t *testing.T) (*Hub, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	h := NewHub(sink)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h, sink
}

// barrier waits until the hub has processed everything enqueued before
// it: the event channel is FIFO and the snapshot reply comes from the
// same loop.
func barrier(h *Hub) {
	h.Rooms()
}

func register(h *Hub, id ConnID, ident *domain.Identity) *fakeSender {
	s := &fakeSender{}
	h.Register(NewConn(id, ident, s))
	return s
}

func TestFirstJoinerGetsRoomReady(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	h.Join("A", "r1")
	barrier(h)

	ns := a.notices(t)
	require.Len(t, ns, 1)
	assert.Equal(t, "room-ready", ns[0].Type)
	assert.Equal(t, "r1", ns[0].Room)
}

func TestInitiatorAssignmentThreeJoiners(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	b := register(h, "B", nil)
	c := register(h, "C", nil)

	h.Join("A", "r1")
	barrier(h)
	a.reset()

	h.Join("B", "r1")
	barrier(h)

	// A is told to initiate toward B; B waits for A's offer.
	ns := a.notices(t)
	require.Len(t, ns, 1)
	assert.Equal(t, "user-joined", ns[0].Type)
	assert.Equal(t, "B", ns[0].UserID)
	assert.True(t, ns[0].IsInitiator)

	ns = b.notices(t)
	require.Len(t, ns, 1)
	assert.Equal(t, "user-joined", ns[0].Type)
	assert.Equal(t, "A", ns[0].UserID)
	assert.False(t, ns[0].IsInitiator)

	a.reset()
	b.reset()

	h.Join("C", "r1")
	barrier(h)

	for _, existing := range []*fakeSender{a, b} {
		ns := existing.notices(t)
		require.Len(t, ns, 1)
		assert.Equal(t, "C", ns[0].UserID)
		assert.True(t, ns[0].IsInitiator)
	}

	ns = c.notices(t)
	require.Len(t, ns, 2)
	assert.Equal(t, "A", ns[0].UserID)
	assert.False(t, ns[0].IsInitiator)
	assert.Equal(t, "B", ns[1].UserID)
	assert.False(t, ns[1].IsInitiator)
}

func TestPairwiseInitiatorUniqueness(t *testing.T) {
	h, _ := startHub(t)
	ids := []ConnID{"c1", "c2", "c3", "c4", "c5"}
	senders := make(map[ConnID]*fakeSender, len(ids))
	for _, id := range ids {
		senders[id] = register(h, id, nil)
		h.Join(id, "mesh")
	}
	barrier(h)

	// For every unordered pair exactly one side is told to initiate,
	// and it is always the earlier joiner.
	initiates := make(map[[2]ConnID]int)
	for id, s := range senders {
		for _, n := range s.notices(t) {
			if n.Type == "user-joined" && n.IsInitiator {
				initiates[[2]ConnID{id, ConnID(n.UserID)}]++
			}
		}
	}

	pairs := 0
	for i, earlier := range ids {
		for _, later := range ids[i+1:] {
			pairs++
			assert.Equal(t, 1, initiates[[2]ConnID{earlier, later}],
				"earlier joiner %s must initiate toward %s exactly once", earlier, later)
			assert.Zero(t, initiates[[2]ConnID{later, earlier}],
				"later joiner %s must never initiate toward %s", later, earlier)
		}
	}
	assert.Equal(t, 10, pairs)
}

func TestLeaveNotifiesRemainingAndCollectsRoom(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	b := register(h, "B", nil)
	h.Join("A", "r1")
	h.Join("B", "r1")
	barrier(h)
	a.reset()
	b.reset()

	h.Leave("B", "r1")
	barrier(h)

	ns := a.notices(t)
	require.Len(t, ns, 1)
	assert.Equal(t, "user-left", ns[0].Type)
	assert.Equal(t, "B", ns[0].UserID)
	assert.Empty(t, b.notices(t), "the leaver gets no user-left for itself")

	h.Leave("A", "r1")
	barrier(h)
	assert.Empty(t, h.Rooms(), "last departure must delete the room entry")
}

func TestDisconnectCleansEveryRoom(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	register(h, "B", nil)
	c := register(h, "C", nil)
	h.Join("A", "r1")
	h.Join("B", "r1")
	h.Join("B", "r2")
	h.Join("C", "r2")
	barrier(h)
	a.reset()
	c.reset()

	h.Disconnect("B")
	barrier(h)

	for name, s := range map[string]*fakeSender{"A": a, "C": c} {
		ns := s.notices(t)
		require.Len(t, ns, 1, "peer %s", name)
		assert.Equal(t, "user-left", ns[0].Type)
		assert.Equal(t, "B", ns[0].UserID)
	}

	rooms := h.Rooms()
	require.Len(t, rooms, 2)
	for _, info := range rooms {
		assert.Equal(t, 1, info.MemberCount)
	}
}

func TestDisconnectOfLastMemberCollectsRoom(t *testing.T) {
	h, _ := startHub(t)
	register(h, "A", nil)
	h.Join("A", "solo")
	barrier(h)

	h.Disconnect("A")
	barrier(h)
	assert.Empty(t, h.Rooms())
}

func TestBroadcastRelayExcludesSender(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	b := register(h, "B", nil)
	c := register(h, "C", nil)
	for _, id := range []ConnID{"A", "B", "C"} {
		h.Join(id, "r1")
	}
	barrier(h)
	a.reset()
	b.reset()
	c.reset()

	h.Relay("A", SignalOffer, "r1", "", json.RawMessage(`{"sdp":"v=0"}`))
	barrier(h)

	assert.Empty(t, a.notices(t), "broadcast never echoes to the sender")
	for _, peer := range []*fakeSender{b, c} {
		ns := peer.notices(t)
		require.Len(t, ns, 1)
		assert.Equal(t, SignalOffer, ns[0].Type)
		assert.Equal(t, "A", ns[0].From)
		assert.JSONEq(t, `{"sdp":"v=0"}`, string(ns[0].Payload))
	}
}

func TestUnicastRelayReachesOnlyTarget(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	b := register(h, "B", nil)
	c := register(h, "C", nil)
	for _, id := range []ConnID{"A", "B", "C"} {
		h.Join(id, "r1")
	}
	barrier(h)
	a.reset()
	b.reset()
	c.reset()

	h.Relay("B", SignalAnswer, "r1", "A", json.RawMessage(`{"sdp":"answer"}`))
	barrier(h)

	ns := a.notices(t)
	require.Len(t, ns, 1)
	assert.Equal(t, SignalAnswer, ns[0].Type)
	assert.Equal(t, "B", ns[0].From)
	assert.Empty(t, b.notices(t))
	assert.Empty(t, c.notices(t))
}

func TestUnicastToGoneTargetDroppedSilently(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	register(h, "B", nil)
	h.Join("A", "r1")
	h.Join("B", "r1")
	h.Disconnect("B")
	barrier(h)
	a.reset()

	h.Relay("A", SignalICECandidate, "r1", "B", json.RawMessage(`{}`))
	barrier(h)

	assert.Empty(t, a.notices(t), "no error surfaces to the sender")
}

func TestChatBroadcastIncludesSenderAndPersists(t *testing.T) {
	h, sink := startHub(t)
	doctor := &domain.Identity{UserID: "doc-7", Role: domain.RoleDoctor}
	a := register(h, "A", doctor)
	b := register(h, "B", nil)
	h.Join("A", "consult-1")
	h.Join("B", "consult-1")
	barrier(h)
	a.reset()
	b.reset()

	h.Chat("A", "consult-1", "spoofed-id", "patient", "take two daily", nil)
	barrier(h)

	for _, s := range []*fakeSender{a, b} {
		ns := s.notices(t)
		require.Len(t, ns, 1)
		assert.Equal(t, "chat-message", ns[0].Type)
		assert.Equal(t, "take two daily", ns[0].Message)
		// Verified identity wins over client-asserted sender fields.
		assert.Equal(t, "doc-7", ns[0].SenderID)
		assert.Equal(t, "doctor", ns[0].SenderRole)
		assert.False(t, ns[0].Timestamp.IsZero())
	}

	entries := sink.all()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].chat)
	assert.Equal(t, domain.RoomID("consult-1"), entries[0].room)
	assert.Equal(t, domain.UserID("doc-7"), entries[0].chat.SenderID)
	assert.Equal(t, "take two daily", entries[0].chat.Content)
}

func TestChatFromUnauthenticatedConnKeepsClientFields(t *testing.T) {
	h, sink := startHub(t)
	a := register(h, "A", nil)
	h.Join("A", "r1")
	barrier(h)
	a.reset()

	h.Chat("A", "r1", "patient-3", "patient", "hello", &domain.Attachment{URL: "https://files/x.png"})
	barrier(h)

	ns := a.notices(t)
	require.Len(t, ns, 1)
	assert.Equal(t, "patient-3", ns[0].SenderID)
	assert.Equal(t, "patient", ns[0].SenderRole)

	entries := sink.all()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].chat.Attachment)
	assert.Equal(t, "https://files/x.png", entries[0].chat.Attachment.URL)
}

func TestTranscriptionBroadcastAndRoleValidation(t *testing.T) {
	h, sink := startHub(t)
	a := register(h, "A", nil)
	b := register(h, "B", nil)
	h.Join("A", "r1")
	h.Join("B", "r1")
	barrier(h)
	a.reset()
	b.reset()

	h.Transcription("A", "r1", "patient reports dizziness", "nurse")
	barrier(h)

	for _, s := range []*fakeSender{a, b} {
		ns := s.notices(t)
		require.Len(t, ns, 1)
		assert.Equal(t, "transcription-update", ns[0].Type)
		assert.Equal(t, "patient reports dizziness", ns[0].Text)
		assert.Equal(t, "unknown", ns[0].SenderRole, "roles outside doctor/patient collapse to unknown")
		assert.False(t, ns[0].Timestamp.IsZero())
	}

	entries := sink.all()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].transcript)
	assert.Equal(t, domain.RoleUnknown, entries[0].transcript.SenderRole)
}

func TestTranscriptionMissingFieldsDiscarded(t *testing.T) {
	h, sink := startHub(t)
	a := register(h, "A", nil)
	h.Join("A", "r1")
	barrier(h)
	a.reset()

	h.Transcription("A", "r1", "", "doctor")
	h.Transcription("A", "", "some text", "doctor")
	h.Transcription("A", "r1", "some text", "")
	barrier(h)

	assert.Empty(t, a.notices(t))
	assert.Empty(t, sink.all())
}

func TestSlowConsumerDoesNotStallOthers(t *testing.T) {
	h, _ := startHub(t)
	stalled := &fakeSender{err: ErrBackpressure}
	h.Register(NewConn("A", nil, stalled))
	b := register(h, "B", nil)
	c := register(h, "C", nil)
	for _, id := range []ConnID{"A", "B", "C"} {
		h.Join(id, "r1")
	}
	barrier(h)
	b.reset()
	c.reset()

	h.Relay("B", SignalOffer, "r1", "", json.RawMessage(`{}`))
	barrier(h)

	ns := c.notices(t)
	require.Len(t, ns, 1, "healthy peer still receives despite the stalled one")
}

func TestEventsFromUnknownConnectionIgnored(t *testing.T) {
	h, sink := startHub(t)
	a := register(h, "A", nil)
	h.Join("A", "r1")
	barrier(h)
	a.reset()

	h.Join("ghost", "r1")
	h.Chat("ghost", "r1", "", "", "boo", nil)
	h.Relay("ghost", SignalOffer, "r1", "", nil)
	h.Disconnect("ghost")
	barrier(h)

	assert.Empty(t, a.notices(t))
	assert.Empty(t, sink.all())
	rooms := h.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, 1, rooms[0].MemberCount)
}

func TestRejoinSameRoomIsNoop(t *testing.T) {
	h, _ := startHub(t)
	a := register(h, "A", nil)
	b := register(h, "B", nil)
	h.Join("A", "r1")
	h.Join("B", "r1")
	barrier(h)
	a.reset()
	b.reset()

	h.Join("A", "r1")
	barrier(h)

	assert.Empty(t, a.notices(t))
	assert.Empty(t, b.notices(t))
	rooms := h.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, 2, rooms[0].MemberCount)
}
