package link

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/wfbridge/wfbridge/aead"
	"github.com/wfbridge/wfbridge/fec"
	"github.com/wfbridge/wfbridge/frame"
	"github.com/wfbridge/wfbridge/sessionkey"
)

// injectSlowThreshold is "count_tx_injections_error_hint"
// trigger: an Inject call taking longer than this suggests the raw
// socket write (or the caller's own scheduling) is at risk of missing a
// real-time deadline, worth surfacing as a hint even though it isn't an
// outright failure.
const injectSlowThreshold = 5 * time.Millisecond

// Inject hands data to stream_index's FEC pipeline and, once a block
// closes, transmits the resulting fragments.
// A stream must be registered with RegisterStream first.
func (e *Engine) Inject(streamIndex byte, data []byte, encrypt bool) error {
	if streamIndex >= frame.SessionKeyStreamIndex {
		return errors.Errorf("link: stream index %d is reserved", streamIndex)
	}
	if len(data) > MaxInjectPayload {
		return ErrPayloadTooLarge
	}
	if e.isPassive() {
		return ErrPassive
	}

	start := time.Now()

	e.txMu.Lock()
	defer e.txMu.Unlock()

	enc, ok := e.txFEC[streamIndex]
	if !ok {
		return ErrUnknownStream
	}

	frags, err := enc.Push(data)
	if err != nil {
		atomic.AddUint64(&e.txCounters.errors, 1)
		return err
	}
	if len(frags) > 0 {
		e.sendFragmentsLocked(streamIndex, encrypt, frags)
		if enc.NeedsReset() {
			e.rekeyLocked()
		}
	}

	atomic.StoreInt64(&e.lastInjectAt, start.UnixNano())
	e.checkAnnounceLocked(start)

	if elapsed := time.Since(start); elapsed > injectSlowThreshold {
		atomic.AddUint64(&e.txCounters.injectionSlow, 1)
	}
	return nil
}

// sendFragmentsLocked seals and transmits one FEC block's fragments.
// Parity fragments are algebraic combinations of several original
// payloads, so "encrypt" is necessarily a per-block, not per-fragment,
// property: every fragment in the block is sealed the same way, chosen
// by whichever Inject call closed it.
func (e *Engine) sendFragmentsLocked(streamIndex byte, encrypt bool, frags []fec.Fragment) {
	radioPort := frame.MakeRadioPort(streamIndex, encrypt)
	for _, fr := range frags {
		seq := e.framer.NextSeq()
		hdr := frame.Header{RadioPort: radioPort, Nonce: fr.Nonce, IEEESeq: seq}
		hdrBytes := frame.EncodeHeader(hdr)
		sealed := e.txEnv.Seal(hdrBytes, fr.Nonce, fr.Payload, encrypt)

		payload := make([]byte, 0, len(hdrBytes)+len(sealed))
		payload = append(payload, hdrBytes...)
		payload = append(payload, sealed...)

		wire := e.framer.Build(radioPort, seq, payload)
		if err := e.writeToActiveCardLocked(wire); err != nil {
			atomic.AddUint64(&e.txCounters.errors, 1)
			e.rl.warn("tx-write", nil, "write to active tx card failed: %v", err)
			continue
		}
		e.txStats.Rate.Add(len(fr.Payload), len(wire))
	}
}

// writeToActiveCardLocked writes one already-framed packet to whichever
// card index is currently marked active for transmit. A write failure
// here is routine on a real radio and never propagated as
// fatal; the caller only counts it.
func (e *Engine) writeToActiveCardLocked(wire []byte) error {
	idx := int(atomic.LoadInt32(&e.activeTx))
	if idx < 0 || idx >= len(e.cards) {
		idx = 0
	}
	_, err := e.cards[idx].Write(wire)
	return err
}

// rekeyLocked generates a fresh session key after a stream's FEC block
// index wraps: reusing the stream's base block_idx under the same AEAD key would repeat
// a nonce, so the announcer's rekey plus its restarted startup burst
// gets the new key to the peer as fast as possible.
func (e *Engine) rekeyLocked() {
	if err := e.ann.Rekey(); err != nil {
		e.rl.warn("rekey", nil, "session rekey failed: %v", err)
		return
	}
	env, err := aead.New(sliceKey(e.ann.SessionKey()))
	if err != nil {
		e.rl.warn("rekey", nil, "rebuild envelope after rekey failed: %v", err)
		return
	}
	e.txEnv = env
}

// checkAnnounceLocked sends a fresh session-key announcement if the
// Announcer decides one is due.
func (e *Engine) checkAnnounceLocked(now time.Time) {
	last := atomic.LoadInt64(&e.lastInjectAt)
	dataFlowing := last != 0 && now.Sub(time.Unix(0, last)) < 2*time.Second
	pkt, ok, err := e.ann.AnnounceIfNeeded(now, dataFlowing)
	if err != nil {
		e.rl.warn("announce", nil, "session key announce failed: %v", err)
		return
	}
	if !ok {
		return
	}
	e.sendSessionKeyFrameLocked(pkt)
}

func (e *Engine) sendSessionKeyFrameLocked(pkt sessionkey.Packet) {
	radioPort := frame.MakeRadioPort(frame.SessionKeyStreamIndex, false)
	seq := e.framer.NextSeq()
	hdr := frame.Header{RadioPort: radioPort, Nonce: 0, IEEESeq: seq}
	hdrBytes := frame.EncodeHeader(hdr)

	body := sessionkey.Encode(pkt)
	payload := make([]byte, 0, len(hdrBytes)+len(body))
	payload = append(payload, hdrBytes...)
	payload = append(payload, body...)

	wire := e.framer.Build(radioPort, seq, payload)
	if err := e.writeToActiveCardLocked(wire); err != nil {
		atomic.AddUint64(&e.txCounters.errors, 1)
		e.rl.warn("tx-write-key", nil, "write of session key frame failed: %v", err)
	}
}
