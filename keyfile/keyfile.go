// Package keyfile loads the long-term X25519 keypair used to bootstrap
// the session-key protocol. Grounded on
// proxy/reflex/crypto.go's key generation and on the
// wifibroadcast Encryption.hpp/Key.hpp sources this design follows
// (binary keyfile, deterministic zero-seed dev fallback).
package keyfile

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"lukechampine.com/blake3"
)

// KeyPair is a long-term X25519 keypair.
type KeyPair struct {
	Secret [32]byte
	Public [32]byte
}

// keyfileSize is secret_key(32) || peer_public_key(32).
const keyfileSize = 64

// GenerateKeyPair creates a fresh random X25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Secret[:]); err != nil {
		return KeyPair{}, errors.Wrap(err, "keyfile: read random secret")
	}
	pub, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "keyfile: derive public key")
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// deterministicSeed is used only for development: identical, insecure
// keys on both ends so a link can be brought up without provisioning a
// real keyfile.
var deterministicSeed [32]byte

// DefaultKeyPair returns the fixed all-zero-seeded development keypair.
// It is identical to Encryption.hpp's DEFAULT_ENCRYPTION_SEED behavior:
// both ends compute the same "own" keypair, and are expected to also
// treat it as the peer's public key, so a default-keyed pair can talk to
// itself without any provisioning step.
func DefaultKeyPair() (KeyPair, error) {
	var kp KeyPair
	copy(kp.Secret[:], deterministicSeed[:])
	// The seed is used unclamped; X25519 applies the curve25519
	// scalar clamping internally to any scalar it is given.
	pub, err := curve25519.X25519(kp.Secret[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "keyfile: derive default public key")
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Loaded holds a resolved own+peer key pair, ready to hand to package
// sessionkey.
type Loaded struct {
	Own        KeyPair
	PeerPublic [32]byte
}

// Load reads a keyfile at path (secret_key(32) || peer_public_key(32)).
// If path is empty, both ends fall back to the deterministic development
// keypair and treat it as the peer's public key too, so a same-machine
// loopback link comes up with zero configuration.
func Load(path string) (*Loaded, error) {
	if path == "" {
		kp, err := DefaultKeyPair()
		if err != nil {
			return nil, err
		}
		logrus.WithField("component", "keyfile").Warn("no encryption_key_path configured, using deterministic development keys")
		return &Loaded{Own: kp, PeerPublic: kp.Public}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "keyfile: open")
	}
	defer f.Close()

	buf := make([]byte, keyfileSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errors.Wrap(err, "keyfile: read (wrong size or truncated file)")
	}
	// A keyfile must be exactly keyfileSize bytes; io.ReadFull already
	// enforces "at least", so also reject anything longer.
	var extra [1]byte
	if n, _ := f.Read(extra[:]); n != 0 {
		return nil, errors.New("keyfile: file larger than expected 64 bytes")
	}

	loaded := &Loaded{}
	copy(loaded.Own.Secret[:], buf[:32])
	copy(loaded.PeerPublic[:], buf[32:64])

	pub, err := curve25519.X25519(loaded.Own.Secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "keyfile: derive own public key")
	}
	copy(loaded.Own.Public[:], pub)

	logrus.WithFields(logrus.Fields{
		"component":        "keyfile",
		"own_fingerprint":  Fingerprint(loaded.Own.Public),
		"peer_fingerprint": Fingerprint(loaded.PeerPublic),
	}).Info("loaded keyfile")

	return loaded, nil
}

// Fingerprint returns a short, safe-to-log hex digest of a public key,
// so operators can eyeball whether two ends share a keypair without
// printing key material. Uses blake3 for speed; any cryptographic hash
// would do, but the corpus's dependency graph already carries blake3.
func Fingerprint(pub [32]byte) string {
	sum := blake3.Sum256(pub[:])
	return hex.EncodeToString(sum[:8])
}
