// Package aead implements the wire envelope: ChaCha20-Poly1305 with the
// cleartext packet header used as associated data, and a 12-byte cipher
// nonce built by left-padding the 8-byte packet nonce with zeros.
// Grounded on proxy/reflex/session.go's
// chacha20poly1305 use, and on the wifibroadcast Encryption.hpp
// original this link's design is distilled from (same primitive, same
// header-as-AAD construction).
package aead

import (
	"crypto/cipher"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthFailure is returned by Open on any MAC mismatch: tampered
// ciphertext, tag, nonce, or associated data. It is an expected, routine
// condition on a lossy/adversarial link, never fatal.
var ErrAuthFailure = errors.New("aead: authentication failed")

// KeySize is the ChaCha20-Poly1305 key size (also the session key size).
const KeySize = chacha20poly1305.KeySize

// TagSize is the Poly1305 authentication tag size appended to ciphertext.
const TagSize = chacha20poly1305.Overhead

// Envelope seals and opens packets under a single session key.
type Envelope struct {
	key  [KeySize]byte
	aead cipher.AEAD
}

// New constructs an Envelope from a 32-byte session key.
func New(sessionKey []byte) (*Envelope, error) {
	if len(sessionKey) != KeySize {
		return nil, errors.Errorf("aead: session key must be %d bytes, got %d", KeySize, len(sessionKey))
	}
	a, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, errors.Wrap(err, "aead: construct cipher")
	}
	e := &Envelope{aead: a}
	copy(e.key[:], sessionKey)
	return e, nil
}

// nonceFor left-pads the 8-byte packet nonce into a 12-byte ChaCha20 nonce.
func nonceFor(packetNonce uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	putUint64BE(n[4:], packetNonce)
	return n
}

// Seal encrypts (or, when encrypt is false, authenticates in place)
// payload under packetNonce, with header as associated data. Returns a
// new slice: ciphertext-or-plaintext followed by the 16-byte tag.
//
// Encryption is optional per packet: when encrypt is
// false the payload bytes are not scrambled, but the AEAD tag and header
// AAD are still computed, so tampering remains detectable — only
// confidentiality is traded away, not integrity.
func (e *Envelope) Seal(header []byte, packetNonce uint64, payload []byte, encrypt bool) []byte {
	nonce := nonceFor(packetNonce)
	if encrypt {
		return e.aead.Seal(nil, nonce[:], payload, header)
	}
	return sealCleartext(e.key, nonce[:], payload, header)
}

// Open authenticates and, if the packet was encrypted, decrypts sealed
// under packetNonce with header as associated data. encrypted must match
// what the sender passed to Seal — the wire format carries this as the
// radio-port high bit, decoded by the caller before invoking Open.
func (e *Envelope) Open(header []byte, packetNonce uint64, sealed []byte, encrypted bool) ([]byte, error) {
	nonce := nonceFor(packetNonce)
	if encrypted {
		out, err := e.aead.Open(nil, nonce[:], sealed, header)
		if err != nil {
			return nil, ErrAuthFailure
		}
		return out, nil
	}
	out, err := openCleartext(e.key, nonce[:], sealed, header)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return out, nil
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
