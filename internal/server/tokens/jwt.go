package tokens

import (
	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the session payload next to the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	ResourceID  string `json:"rid"`
	Address     string `json:"ip"`
	Fingerprint string `json:"fp,omitempty"`
}

// JWTCodec encodes the payload as an HS256 JWT. The session id travels in
// the jti claim. Session deadlines live in the store, so no exp is set.
type JWTCodec struct {
	key []byte
}

func NewJWTCodec(secret []byte) (*JWTCodec, error) {
	key, err := cryptox.DeriveKey(secret, "getkey/session-jwt")
	if err != nil {
		return nil, err
	}
	return &JWTCodec{key: key}, nil
}

func (c *JWTCodec) Sign(p Payload) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: p.SessionID},
		ResourceID:       p.ResourceID,
		Address:          p.Address,
		Fingerprint:      p.Fingerprint,
	})
	return token.SignedString(c.key)
}

func (c *JWTCodec) Verify(tokenString string) (Payload, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Payload{}, common.ErrInvalidToken
	}

	p := Payload{
		SessionID:   claims.ID,
		ResourceID:  claims.ResourceID,
		Address:     claims.Address,
		Fingerprint: claims.Fingerprint,
	}
	if !p.complete() {
		return Payload{}, common.ErrInvalidToken
	}
	return p, nil
}
