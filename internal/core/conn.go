package core

import (
	"errors"

	"github.com/vitalink/telecare/internal/domain"
)

// Frame is a raw outbound payload (JSON on the wire).
type Frame []byte

// ConnID is unique per live connection, never reused.
type ConnID string

var ErrBackpressure = errors.New("backpressure")

// Sender abstracts the transport endpoint of one connection.
// Owned by the adapter; the adapter must Close() it.
type Sender interface {
	TrySend(Frame) error
	Close()
}

// Conn is one live connection and its optional verified identity.
// The rooms set is mutated only by the hub loop.
type Conn struct {
	ID       ConnID
	Identity *domain.Identity

	sender Sender
	rooms  map[domain.RoomID]struct{}
}

func NewConn(id ConnID, identity *domain.Identity, sender Sender) *Conn {
	return &Conn{
		ID:       id,
		Identity: identity,
		sender:   sender,
		rooms:    make(map[domain.RoomID]struct{}),
	}
}

// UserID is the authenticated user id when present, else the
// connection id. Unauthenticated connections still participate.
func (c *Conn) UserID() domain.UserID {
	if c.Identity != nil {
		return c.Identity.UserID
	}
	return domain.UserID(c.ID)
}

func (c *Conn) Role() domain.Role {
	if c.Identity != nil {
		return c.Identity.Role
	}
	return domain.RoleUnknown
}
