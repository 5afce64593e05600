// Package domain contains entity meta-data only, no logic beyond validation.
package domain

type UserID string

// Role is the participant's side of a consultation.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleUnknown Role = "unknown"
)

// ParseRole normalizes a client-supplied role string. Anything outside
// the two consultation roles collapses to RoleUnknown.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleDoctor:
		return RoleDoctor
	case RolePatient:
		return RolePatient
	default:
		return RoleUnknown
	}
}

// Identity is attached to a connection after its session token verifies.
// Connections without one still participate, they just stay anonymous.
type Identity struct {
	UserID UserID `json:"userId"`
	Role   Role   `json:"role"`
}
