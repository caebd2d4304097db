package sessionkey

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/box"
)

const (
	// defaultInterval is how often a fresh announcement packet is sent
	// while data is flowing.
	defaultInterval = time.Second

	// startupBursts/startupSpacing minimize join latency for a
	// receiver that only just started listening.
	startupBursts  = 5
	startupSpacing = 10 * time.Millisecond
)

// Announcer owns the TX side of the session-key protocol: it holds the
// current session key, seals it for the peer, and decides when a fresh
// announcement packet should go out.
type Announcer struct {
	ownSecret  [32]byte
	peerPublic [32]byte
	interval   time.Duration
	nMax       byte
	fec        bool

	mu              sync.Mutex
	sessionKey      [KeySize]byte
	nextAnnounce    time.Time
	burstsRemaining int
	nextBurstAt     time.Time
}

// NewAnnouncer constructs an Announcer with a freshly generated session
// key, primed to fire its startup burst immediately.
func NewAnnouncer(ownSecret, peerPublic [32]byte, interval time.Duration, nMax byte, fecProtected bool) (*Announcer, error) {
	if interval <= 0 {
		interval = defaultInterval
	}
	a := &Announcer{
		ownSecret:       ownSecret,
		peerPublic:      peerPublic,
		interval:        interval,
		nMax:            nMax,
		fec:             fecProtected,
		burstsRemaining: startupBursts,
	}
	if err := a.rekeyLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

// Rekey generates a fresh random session key and restarts the startup
// burst, so the new key propagates to the peer with minimal latency.
// Called on startup and whenever the FEC encoder signals nonce overflow.
func (a *Announcer) Rekey() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rekeyLocked()
}

func (a *Announcer) rekeyLocked() error {
	if _, err := io.ReadFull(rand.Reader, a.sessionKey[:]); err != nil {
		return errors.Wrap(err, "sessionkey: generate session key")
	}
	a.burstsRemaining = startupBursts
	a.nextBurstAt = time.Time{}
	a.nextAnnounce = time.Time{}
	return nil
}

// SessionKey returns a copy of the current session key.
func (a *Announcer) SessionKey() [KeySize]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionKey
}

// sealLocked builds a fresh sealed announcement packet for the current session
// key with a new random nonce.
func (a *Announcer) sealLocked() (Packet, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return Packet{}, errors.Wrap(err, "sessionkey: generate nonce")
	}

	sealed := box.Seal(nil, a.sessionKey[:], &nonce, &a.peerPublic, &a.ownSecret)

	var flags byte
	if a.fec {
		flags |= FlagFECProtected
	}

	p := Packet{Nonce: nonce, Flags: flags, NMax: a.nMax}
	copy(p.Sealed[:], sealed)
	return p, nil
}

// AnnounceIfNeeded returns (packet, true) when a fresh announcement
// should be sent at time now, or (Packet{}, false) otherwise.
//
// The startup burst (5 announcements at 10ms spacing) fires regardless
// of dataFlowing, since its purpose is minimizing join latency before
// the application even starts feeding packets. After the burst is
// exhausted, announcements only continue while dataFlowing is true, to
// avoid leaking the link's presence while idle.
func (a *Announcer) AnnounceIfNeeded(now time.Time, dataFlowing bool) (Packet, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.burstsRemaining > 0 {
		if !a.nextBurstAt.IsZero() && now.Before(a.nextBurstAt) {
			return Packet{}, false, nil
		}
		p, err := a.sealLocked()
		if err != nil {
			return Packet{}, false, err
		}
		a.burstsRemaining--
		a.nextBurstAt = now.Add(startupSpacing)
		if a.burstsRemaining == 0 {
			a.nextAnnounce = now.Add(a.interval)
		}
		return p, true, nil
	}

	if !dataFlowing {
		return Packet{}, false, nil
	}
	if now.Before(a.nextAnnounce) {
		return Packet{}, false, nil
	}
	p, err := a.sealLocked()
	if err != nil {
		return Packet{}, false, err
	}
	a.nextAnnounce = now.Add(a.interval)
	return p, true, nil
}
