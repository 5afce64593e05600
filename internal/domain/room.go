package domain

// RoomID names a consultation's live session room. Rooms are created
// externally when an appointment is scheduled; here the id is opaque.
type RoomID string
