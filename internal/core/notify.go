package core

import (
	"encoding/json"

	"github.com/vitalink/telecare/internal/domain"
)

// Wire names of the relayed signaling events.
const (
	SignalOffer        = "webrtc-offer"
	SignalAnswer       = "webrtc-answer"
	SignalICECandidate = "webrtc-ice-candidate"
)

// roomReadyNotice acknowledges the first joiner of an empty room.
type roomReadyNotice struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"roomId"`
}

// peerNotice announces a peer to a room member. IsInitiator tells the
// recipient whether it sends the first offer toward that peer: the
// earlier joiner always initiates, so both sides of a pair never send
// offers at once.
type peerNotice struct {
	Type        string        `json:"type"`
	Room        domain.RoomID `json:"roomId"`
	UserID      domain.UserID `json:"userId"`
	IsInitiator bool          `json:"isInitiator"`
}

type peerLeftNotice struct {
	Type   string        `json:"type"`
	Room   domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId"`
}

// signalNotice carries a relayed offer/answer/candidate. The payload is
// opaque to the relay; From names the sending connection so the
// recipient can address a unicast reply.
type signalNotice struct {
	Type    string          `json:"type"`
	Room    domain.RoomID   `json:"roomId"`
	From    ConnID          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type chatNotice struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"roomId"`
	domain.ChatMessage
}

type transcriptionNotice struct {
	Type string        `json:"type"`
	Room domain.RoomID `json:"roomId"`
	domain.TranscriptionEntry
}
