package secrets

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := New(testKey(1), rand.New(rand.NewSource(42)))
	plain := []byte("plaid-access-token-sandbox-123")

	ct, err := s.Encrypt(plain)
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "plaid-access-token")

	got, err := s.Decrypt(ct)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, got))
}

func TestDecryptRejectsTampering(t *testing.T) {
	s := New(testKey(1), rand.New(rand.NewSource(42)))
	ct, err := s.Encrypt([]byte("secret"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xFF
	_, err = s.Decrypt(ct)
	assert.Error(t, err)
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	s := New(testKey(1), nil)
	_, err := s.Decrypt([]byte("too short"))
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	a := New(testKey(1), rand.New(rand.NewSource(1)))
	b := New(testKey(2), nil)

	ct, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = b.Decrypt(ct)
	assert.Error(t, err)
}

func TestRewrapRotatesKey(t *testing.T) {
	old := New(testKey(1), rand.New(rand.NewSource(1)))
	next := New(testKey(2), rand.New(rand.NewSource(2)))

	ct, err := old.Encrypt([]byte("rotate me"))
	require.NoError(t, err)

	rewrapped, err := old.Rewrap(ct, next)
	require.NoError(t, err)

	got, err := next.Decrypt(rewrapped)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", string(got))

	_, err = old.Decrypt(rewrapped)
	assert.Error(t, err)
}
