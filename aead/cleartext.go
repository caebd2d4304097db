package aead

import (
	"crypto/subtle"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
)

// sealCleartext and openCleartext implement the "encryption disabled"
// wire mode: the payload travels unmodified so a
// passive observer can read it, but the packet is still authenticated —
// a bit flip anywhere in header, payload, or tag must still surface as
// ErrAuthFailure. Standard AEAD constructions authenticate the
// ciphertext, not the plaintext, so plain chacha20poly1305 can't be
// reused here as-is; instead we derive the same per-packet one-time
// Poly1305 key the AEAD would have used (block zero of the ChaCha20
// keystream) and compute the tag directly over header||payload.
func sealCleartext(key [KeySize]byte, nonce, payload, header []byte) []byte {
	polyKey := deriveOneTimeKey(key, nonce)

	mac := poly1305.New(&polyKey)
	mac.Write(header)
	mac.Write(payload)
	tag := mac.Sum(nil)

	out := make([]byte, len(payload)+len(tag))
	copy(out, payload)
	copy(out[len(payload):], tag)
	return out
}

func openCleartext(key [KeySize]byte, nonce, sealed, header []byte) ([]byte, error) {
	if len(sealed) < TagSize {
		return nil, ErrAuthFailure
	}
	payload := sealed[:len(sealed)-TagSize]
	gotTag := sealed[len(sealed)-TagSize:]

	polyKey := deriveOneTimeKey(key, nonce)

	mac := poly1305.New(&polyKey)
	mac.Write(header)
	mac.Write(payload)
	wantTag := mac.Sum(nil)

	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		return nil, ErrAuthFailure
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func deriveOneTimeKey(key [KeySize]byte, nonce []byte) [32]byte {
	s, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		panic(err)
	}
	var out [32]byte
	var zero [32]byte
	s.XORKeyStream(out[:], zero[:])
	return out
}
