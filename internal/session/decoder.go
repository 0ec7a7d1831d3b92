package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the desk reads from a session token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Decoder turns a raw token into claims. It does not verify signatures; the
// ledger does that on every request it authorizes.
type Decoder interface {
	Decode(token string) (Claims, error)
}

// JWTDecoder decodes JWTs without verifying them.
type JWTDecoder struct {
	parser *jwt.Parser
}

// NewJWTDecoder creates a decoder for HS/RS-signed JWTs.
func NewJWTDecoder() *JWTDecoder {
	return &JWTDecoder{parser: jwt.NewParser()}
}

// Decode parses token and extracts sub and exp.
func (d *JWTDecoder) Decode(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := d.parser.ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if rc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	c := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}
