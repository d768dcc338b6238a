// Package tokens turns a session reference into a tamper-evident bearer
// token and back. Two interchangeable codecs are provided: a compact signed
// envelope and an HS256 JWT.
package tokens

import (
	"fmt"

	"github.com/dmitrijs2005/getkey/internal/server/config"
)

// Payload is the data carried by a session token.
type Payload struct {
	SessionID   string `json:"sid"`
	ResourceID  string `json:"rid"`
	Address     string `json:"ip"`
	Fingerprint string `json:"fp,omitempty"`
}

func (p Payload) complete() bool {
	return p.SessionID != "" && p.ResourceID != "" && p.Address != ""
}

// Codec signs and verifies session tokens. Verify reports every failure as
// common.ErrInvalidToken so callers cannot tell a forgery from a typo.
type Codec interface {
	Sign(p Payload) (string, error)
	Verify(token string) (Payload, error)
}

// NewCodec builds the codec selected by format (config.TokenFormatEnvelope or
// config.TokenFormatJWT).
func NewCodec(format string, secret []byte) (Codec, error) {
	switch format {
	case config.TokenFormatEnvelope, "":
		return NewEnvelopeCodec(secret)
	case config.TokenFormatJWT:
		return NewJWTCodec(secret)
	default:
		return nil, fmt.Errorf("unknown token format %q", format)
	}
}
