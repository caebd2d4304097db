package frame

// Framer builds outgoing radio frames and parses incoming ones. It owns
// the transmit-side radiotap template and the
// sequence-control counter; RSSI/MCS extraction on receive is pure
// (ParseRadiotap in radiotap.go) since no per-card state belongs at this layer —
// that lives in package link, which owns one Framer's TxParams template
// but many cards' RX state.
type Framer struct {
	txParams TxParams
	seq      SeqCounter
	ownDir   Direction
}

// New constructs a Framer for one direction of a link (air or ground).
func New(ownDirection Direction, initial TxParams) *Framer {
	return &Framer{txParams: initial, ownDir: ownDirection}
}

// UpdateRadiotap replaces the transmit-side radiotap template. Safe to
// call concurrently with Build only if the caller serializes access
// (package link does this under its TX mutex).
func (f *Framer) UpdateRadiotap(p TxParams) { f.txParams = p }

// NextSeq reserves and advances the next 802.11 sequence-control value.
// Callers that embed the same sequence number inside the cleartext
// application header must call this before sealing the payload and pass
// the result to Build, so both copies agree.
func (f *Framer) NextSeq() uint16 { return f.seq.Next() }

// Build assembles radiotap + 802.11 header + payload into one frame
// ready for injection. seqCtrl is normally the value NextSeq just
// returned for this packet.
func (f *Framer) Build(radioPort byte, seqCtrl uint16, payload []byte) []byte {
	rt := EncodeRadiotapTx(f.txParams)
	dot11 := EncodeDot11(Dot11Header{
		RadioPort: radioPort,
		Direction: f.ownDir,
		SeqCtrl:   seqCtrl,
	})

	out := make([]byte, 0, len(rt)+len(dot11)+len(payload))
	out = append(out, rt...)
	out = append(out, dot11...)
	out = append(out, payload...)
	return out
}

// Parsed is one successfully parsed inbound frame.
type Parsed struct {
	RadioPort byte
	Direction Direction
	SeqCtrl   uint16
	RxMeta    RxMeta
	Payload   []byte
}

// Classification records why a frame was, or wasn't, accepted as this
// link's own traffic. Package stats uses this to implement its pollution
// heuristic: any sniffed frame counts toward the pollution denominator,
// but only frames that at least carry this link's 802.11 magic count as
// "likely ours" for the numerator, whichever direction bit they carry and
// even when they are ultimately dropped for some other reason (bad FCS).
// Truncated frames are never checked for the magic and do not count.
type Classification int

const (
	// NotOurs means the frame doesn't carry this link's 802.11 magic —
	// unrelated channel activity.
	NotOurs Classification = iota
	// OwnDirection means the frame matches our own direction bit, the
	// adapter-loopback case: likely ours, but
	// must never be treated as inbound.
	OwnDirection
	// BadFCS means the radio reported a failed frame-check sequence.
	BadFCS
	// Truncated means the buffer was too short to hold a full header.
	Truncated
	// OK means the frame parsed cleanly and is safe to hand to the
	// crypto/FEC pipeline.
	OK
)

// Parse extracts radiotap metadata and the 802.11 header from a raw
// received frame. The returned Classification tells the caller both
// whether Parsed is usable (only when it's OK) and how to bucket the
// frame for pollution accounting.
func Parse(buf []byte, ownDirection Direction) (Parsed, Classification) {
	meta, dot11Off, ok := ParseRadiotap(buf)
	if !ok {
		return Parsed{}, Truncated
	}
	if dot11Off+Dot11HeaderSize > len(buf) {
		return Parsed{}, Truncated
	}
	dot11, ok := ParseDot11(buf[dot11Off:])
	if !ok {
		return Parsed{}, NotOurs
	}
	if meta.BadFCS {
		return Parsed{}, BadFCS
	}
	if dot11.Direction == ownDirection {
		return Parsed{}, OwnDirection
	}

	payloadOff := dot11Off + Dot11HeaderSize
	return Parsed{
		RadioPort: dot11.RadioPort,
		Direction: dot11.Direction,
		SeqCtrl:   dot11.SeqCtrl,
		RxMeta:    meta,
		Payload:   buf[payloadOff:],
	}, OK
}
