// Package secrets implements the SecretStore port with NaCl secretbox
// authenticated encryption. The 32-byte process key comes from
// ENCRYPTION_KEY; a missing or malformed key aborts startup.
package secrets

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceLen = 24

// Store encrypts and decrypts credential material with a fixed key.
type Store struct {
	key  [32]byte
	rand io.Reader
}

// New constructs a Store. The rand source is injectable for deterministic
// tests; pass nil for crypto/rand.
func New(key [32]byte, randSrc io.Reader) *Store {
	if randSrc == nil {
		randSrc = rand.Reader
	}
	return &Store{key: key, rand: randSrc}
}

// Encrypt seals plaintext, prefixing the random nonce to the box.
func (s *Store) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("op=secrets.Encrypt: nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return out, nil
}

// Decrypt opens a box produced by Encrypt. Tampered or truncated input
// fails with an error, never with garbage plaintext.
func (s *Store) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceLen+secretbox.Overhead {
		return nil, fmt.Errorf("op=secrets.Decrypt: ciphertext too short")
	}
	var nonce [nonceLen]byte
	copy(nonce[:], ciphertext[:nonceLen])
	plain, ok := secretbox.Open(nil, ciphertext[nonceLen:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("op=secrets.Decrypt: authentication failed")
	}
	return plain, nil
}

// Rewrap decrypts with the current key and re-encrypts with next. Used for
// key rotation; the caller persists the returned ciphertext.
func (s *Store) Rewrap(ciphertext []byte, next *Store) ([]byte, error) {
	plain, err := s.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	return next.Encrypt(plain)
}
