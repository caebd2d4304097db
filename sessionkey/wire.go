// Package sessionkey implements the session-key announcement protocol
// a periodically re-broadcast symmetric key,
// sealed with an X25519-based box to the peer's long-term public key.
// Grounded on proxy/reflex/crypto.go's X25519 keypair and shared-key
// derivation, generalized from a one-shot
// ephemeral handshake to a re-announced session key, and on
// Encryption.hpp's crypto_box_easy/open_easy calls in the
// original wifibroadcast implementation this protocol is modeled on.
package sessionkey

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/box"
)

const (
	// NonceSize is the box nonce carried on the wire.
	NonceSize = 24
	// SealedSize is len(session_key)+box.Overhead == 32+16.
	SealedSize = 32 + box.Overhead
	// PacketSize is the full session-key announcement packet size.
	PacketSize = NonceSize + SealedSize + 1 + 1

	// KeySize is the size of the symmetric session key itself.
	KeySize = 32
)

// FlagFECProtected marks that subsequent data on this session is
// FEC-protected.
const FlagFECProtected = 0x01

// Packet is the decoded form of a session-key announcement.
type Packet struct {
	Nonce  [NonceSize]byte
	Sealed [SealedSize]byte
	Flags  byte
	NMax   byte
}

// ErrTruncated is returned by Decode when the buffer is shorter than
// PacketSize.
var ErrTruncated = errors.New("sessionkey: packet truncated")

// Encode serializes p into a wire-format buffer.
func Encode(p Packet) []byte {
	buf := make([]byte, PacketSize)
	copy(buf[0:NonceSize], p.Nonce[:])
	copy(buf[NonceSize:NonceSize+SealedSize], p.Sealed[:])
	buf[NonceSize+SealedSize] = p.Flags
	buf[NonceSize+SealedSize+1] = p.NMax
	return buf
}

// Decode parses a wire-format session-key announcement.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < PacketSize {
		return Packet{}, ErrTruncated
	}
	var p Packet
	copy(p.Nonce[:], buf[0:NonceSize])
	copy(p.Sealed[:], buf[NonceSize:NonceSize+SealedSize])
	p.Flags = buf[NonceSize+SealedSize]
	p.NMax = buf[NonceSize+SealedSize+1]
	return p, nil
}
