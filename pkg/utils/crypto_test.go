package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipher_RoundTrip(t *testing.T) {
	c := NewTokenCipher("0123456789abcdef0123456789abcdef")

	sealed, err := c.Seal("access-token")
	require.NoError(t, err)
	assert.NotEqual(t, "access-token", sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "access-token", opened)
}

func TestTokenCipher_EmptyKeyPassesThrough(t *testing.T) {
	c := NewTokenCipher("")

	sealed, err := c.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	opened, err := c.Open("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", opened)
}

func TestTokenCipher_EmptyValue(t *testing.T) {
	c := NewTokenCipher("0123456789abcdef")

	sealed, err := c.Seal("")
	require.NoError(t, err)
	assert.Empty(t, sealed)
}

func TestDecrypt_WrongKey(t *testing.T) {
	sealed, err := Encrypt([]byte("secret"), []byte("0123456789abcdef"))
	require.NoError(t, err)

	_, err = Decrypt(sealed, []byte("fedcba9876543210"))
	assert.Error(t, err)

	_, err = Decrypt("AAAA", []byte("0123456789abcdef"))
	assert.Error(t, err)
}
