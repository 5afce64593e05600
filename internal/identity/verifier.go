// Package identity validates inbound session tokens into a verified
// identity. Token issuance belongs to the account service; this side
// only checks signatures and claims.
package identity

import (
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vitalink/telecare/internal/domain"
)

var ErrMissingSubject = errors.New("token has no subject")

type Verifier struct {
	key jwk.Key
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("empty signing secret")
	}
	key, err := jwk.FromRaw([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("build verification key: %w", err)
	}
	return &Verifier{key: key}, nil
}

// Verify checks the token's signature and expiry and extracts the
// caller's identity. The subject carries the user id; the "role" claim
// carries the consultation role. Callers treat failure as "proceed
// unauthenticated", never as a rejected connection.
func (v *Verifier) Verify(token string) (*domain.Identity, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, v.key),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if tok.Subject() == "" {
		return nil, ErrMissingSubject
	}

	role := ""
	if raw, ok := tok.Get("role"); ok {
		role, _ = raw.(string)
	}

	return &domain.Identity{
		UserID: domain.UserID(tok.Subject()),
		Role:   domain.ParseRole(role),
	}, nil
}
