package sessionkey

import (
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/nacl/box"
)

// ErrSessionOpenFailure is returned when a session-key announcement
// fails to open under the peer's public key and our own secret key.
// This is routine on a lossy link (a corrupted announcement) or when
// listening to a peer we don't share a keypair with; never fatal.
type ErrSessionOpenFailure struct{ cause error }

func (e *ErrSessionOpenFailure) Error() string { return "sessionkey: failed to open announcement" }
func (e *ErrSessionOpenFailure) Unwrap() error { return e.cause }

// Receiver owns the RX side of the session-key protocol: it holds the
// long-term keypair and the currently installed session key, and
// deduplicates re-announcements of the same key.
type Receiver struct {
	ownSecret  [32]byte
	peerPublic [32]byte

	mu         sync.Mutex
	haveKey    bool
	currentKey [KeySize]byte
	nMax       byte
	fec        bool
}

// NewReceiver constructs a Receiver with no session key installed yet.
func NewReceiver(ownSecret, peerPublic [32]byte) *Receiver {
	return &Receiver{ownSecret: ownSecret, peerPublic: peerPublic}
}

// Open decrypts an inbound announcement packet and, if it differs from
// the currently installed key, installs it. Returns isNew=true only on
// an actual key change — re-announcing the same key is idempotent and
// must not report a change.
func (r *Receiver) Open(p Packet) (key [KeySize]byte, isNew bool, err error) {
	opened, ok := box.Open(nil, p.Sealed[:], &p.Nonce, &r.peerPublic, &r.ownSecret)
	if !ok {
		return key, false, &ErrSessionOpenFailure{}
	}
	copy(key[:], opened)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nMax = p.NMax
	r.fec = p.Flags&FlagFECProtected != 0

	if r.haveKey && subtle.ConstantTimeCompare(r.currentKey[:], key[:]) == 1 {
		return key, false, nil
	}
	r.currentKey = key
	r.haveKey = true
	return key, true, nil
}

// CurrentKey returns the currently installed session key and whether one
// has ever been installed.
func (r *Receiver) CurrentKey() (key [KeySize]byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentKey, r.haveKey
}

// FECProtected reports the flag carried by the most recently opened
// announcement.
func (r *Receiver) FECProtected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fec
}

// NMax returns the block-size parameter carried by the most recently
// opened announcement. Nothing in this module reads it: the FEC decoder's
// ring buffer always has fec.RingSize slots.
func (r *Receiver) NMax() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nMax
}
