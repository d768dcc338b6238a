package tokens

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/cryptox"
)

const envelopeSeparator = "."

// EnvelopeCodec produces base64url(JSON payload) + "." + hex(HMAC-SHA256).
type EnvelopeCodec struct {
	key []byte
}

// NewEnvelopeCodec derives the signing key from secret.
func NewEnvelopeCodec(secret []byte) (*EnvelopeCodec, error) {
	key, err := cryptox.DeriveKey(secret, "getkey/session-envelope")
	if err != nil {
		return nil, err
	}
	return &EnvelopeCodec{key: key}, nil
}

func (c *EnvelopeCodec) Sign(p Payload) (string, error) {
	// encoding/json writes struct fields in declaration order, so the
	// serialization is deterministic.
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw) + envelopeSeparator + cryptox.Sign(c.key, raw), nil
}

func (c *EnvelopeCodec) Verify(token string) (Payload, error) {
	encoded, tag, ok := strings.Cut(token, envelopeSeparator)
	if !ok || encoded == "" || tag == "" {
		return Payload{}, common.ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, common.ErrInvalidToken
	}
	if !cryptox.Verify(c.key, raw, tag) {
		return Payload{}, common.ErrInvalidToken
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil || !p.complete() {
		return Payload{}, common.ErrInvalidToken
	}
	return p, nil
}
