package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_DeterministicAndPurposeBound(t *testing.T) {
	secret := []byte("server-secret")

	a1, err := DeriveKey(secret, "session-token")
	require.NoError(t, err)
	a2, err := DeriveKey(secret, "session-token")
	require.NoError(t, err)
	b, err := DeriveKey(secret, "license-key")
	require.NoError(t, err)

	assert.Len(t, a1, 32)
	assert.True(t, bytes.Equal(a1, a2), "same purpose must yield the same key")
	assert.False(t, bytes.Equal(a1, b), "different purposes must yield different keys")
}

func TestDeriveKey_EmptySecret(t *testing.T) {
	_, err := DeriveKey(nil, "x")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestSignVerify(t *testing.T) {
	key := []byte("k")
	msg := []byte(`{"sid":"1"}`)

	tag := Sign(key, msg)
	assert.Len(t, tag, 64)
	assert.True(t, Verify(key, msg, tag))

	assert.False(t, Verify([]byte("other"), msg, tag), "wrong key")
	assert.False(t, Verify(key, []byte(`{"sid":"2"}`), tag), "tampered message")
	assert.False(t, Verify(key, msg, "zz"+tag[2:]), "non-hex tag")
	assert.False(t, Verify(key, msg, tag[:10]), "truncated tag")
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint(""))
	assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
}
