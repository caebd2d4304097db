package aead

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSealOpenRoundTripEncrypted(t *testing.T) {
	env, err := New(testKey())
	if err != nil {
		t.Fatal(err)
	}
	header := []byte("header-aad")
	payload := []byte("hello wfbridge")

	sealed := env.Seal(header, 42, payload, true)
	got, err := env.Open(header, 42, sealed, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestSealOpenRoundTripCleartext(t *testing.T) {
	env, err := New(testKey())
	if err != nil {
		t.Fatal(err)
	}
	header := []byte("header-aad")
	payload := []byte("plainly visible")

	sealed := env.Seal(header, 7, payload, false)
	// Confidentiality off: the payload prefix must appear verbatim on
	// the wire, unlike the encrypted path.
	if !bytes.Equal(sealed[:len(payload)], payload) {
		t.Fatalf("cleartext mode must not scramble payload bytes")
	}

	got, err := env.Open(header, 7, sealed, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestBitFlipCausesAuthFailure(t *testing.T) {
	env, err := New(testKey())
	if err != nil {
		t.Fatal(err)
	}
	header := []byte("hdr")
	payload := []byte("integrity matters")

	cases := []struct {
		name    string
		mutate  func(header []byte, sealed []byte) ([]byte, []byte)
		encrypt bool
	}{
		{"ciphertext", func(h, s []byte) ([]byte, []byte) { s[0] ^= 0x01; return h, s }, true},
		{"tag", func(h, s []byte) ([]byte, []byte) { s[len(s)-1] ^= 0x01; return h, s }, true},
		{"aad", func(h, s []byte) ([]byte, []byte) { h[0] ^= 0x01; return h, s }, true},
		{"cleartext-payload", func(h, s []byte) ([]byte, []byte) { s[0] ^= 0x01; return h, s }, false},
		{"cleartext-tag", func(h, s []byte) ([]byte, []byte) { s[len(s)-1] ^= 0x01; return h, s }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := append([]byte(nil), header...)
			sealed := env.Seal(h, 1, payload, tc.encrypt)
			mh, ms := tc.mutate(append([]byte(nil), h...), append([]byte(nil), sealed...))
			if _, err := env.Open(mh, 1, ms, tc.encrypt); err != ErrAuthFailure {
				t.Fatalf("expected ErrAuthFailure, got %v", err)
			}
		})
	}
}

func TestNonceMismatchCausesAuthFailure(t *testing.T) {
	env, err := New(testKey())
	if err != nil {
		t.Fatal(err)
	}
	header := []byte("hdr")
	payload := []byte("payload")

	sealed := env.Seal(header, 5, payload, true)
	if _, err := env.Open(header, 6, sealed, true); err != ErrAuthFailure {
		t.Fatalf("expected ErrAuthFailure on nonce mismatch, got %v", err)
	}
}
