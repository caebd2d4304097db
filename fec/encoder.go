package fec

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/wfbridge/wfbridge/frame"
	"github.com/wfbridge/wfbridge/gf256"
)

// Mode selects how an Encoder decides when a block is full.
type Mode int

const (
	// ModeFixedK closes every block at exactly Config.FixedK primary
	// fragments.
	ModeFixedK Mode = iota
	// ModeVariableK closes a block early when the caller calls
	// FlushBlock (for example on an end-of-frame hint from package
	// nalhint) and only forces a close at Config.KMax primaries
	// otherwise, trading a slightly less efficient parity ratio for
	// lower latency on the boundary that actually matters to the
	// application.
	ModeVariableK
)

// Config parameterizes an Encoder. ParityPercent is the percentage of
// k used to compute r for each block: r = ceil(k*ParityPercent/100).
//
// BlockIdxBase is the block index an Encoder starts (and wraps back) at,
// and BlockIdxLimit is the exclusive upper bound of its range. Package
// link partitions the 56-bit block_idx space by stream index
// (base = stream_index<<49, limit = base+1<<49) so that every stream's
// Encoder, sharing one session's AEAD key, draws its packet nonces from
// a disjoint range — without this, two streams' first blocks would both
// mint nonce 0 under the same key, breaking ChaCha20-Poly1305's
// nonce-uniqueness requirement outright. Zero BlockIdxLimit means
// "the whole 56-bit space", for callers that don't partition.
type Config struct {
	Mode          Mode
	FixedK        int
	KMax          int
	ParityPercent int
	BlockIdxBase  uint64
	BlockIdxLimit uint64
}

func (c Config) withDefaults() Config {
	if c.KMax <= 0 {
		c.KMax = KMaxDefault
	}
	if c.BlockIdxLimit == 0 {
		c.BlockIdxLimit = maxBlockIdx + 1
	}
	return c
}

func (c Config) parityFor(k int) int {
	r := (k*c.ParityPercent + 99) / 100
	if r < 1 {
		r = 1
	}
	if k+r > 255 {
		r = 255 - k
	}
	return r
}

// Fragment is one wire-ready FEC fragment: a packet nonce (which
// encodes its block_idx/fragment_idx ) and the payload to
// hand to the AEAD/framer layer.
type Fragment struct {
	Nonce   uint64
	Payload []byte
}

// Encoder accumulates source payloads into blocks and emits primary and
// parity fragments once a block closes.
type Encoder struct {
	cfg      Config
	blockIdx uint64
	wrapped  bool
	pending  [][]byte
}

// NewEncoder constructs an Encoder. cfg.FixedK must be in [1,128] when
// Mode is ModeFixedK.
func NewEncoder(cfg Config) *Encoder {
	cfg = cfg.withDefaults()
	return &Encoder{cfg: cfg, blockIdx: cfg.BlockIdxBase}
}

// Push queues one source payload for the current block, closing and
// returning the block's fragments if it just became full. Returns
// (nil, nil) when the payload was merely queued.
func (e *Encoder) Push(payload []byte) ([]Fragment, error) {
	if len(payload) > MaxFragmentPayload {
		return nil, errors.Errorf("fec: payload of %d bytes exceeds max fragment payload of %d", len(payload), MaxFragmentPayload)
	}
	e.pending = append(e.pending, append([]byte(nil), payload...))

	target := e.cfg.KMax
	if e.cfg.Mode == ModeFixedK {
		target = e.cfg.FixedK
	}
	if len(e.pending) >= target {
		return e.FlushBlock()
	}
	return nil, nil
}

// FlushBlock closes the current block early, even if it holds fewer
// than the target number of primary fragments. A no-op when nothing is pending.
func (e *Encoder) FlushBlock() ([]Fragment, error) {
	k := len(e.pending)
	if k == 0 {
		return nil, nil
	}
	r := e.cfg.parityFor(k)
	codec := gf256.NewRSCodec(k, r)

	shards := make([][]byte, k)
	for i, p := range e.pending {
		s := make([]byte, ShardSize)
		binary.LittleEndian.PutUint16(s[0:InnerLengthSize], uint16(len(p)))
		copy(s[InnerLengthSize:], p)
		shards[i] = s
	}

	parity := make([][]byte, r)
	for j := range parity {
		parity[j] = make([]byte, ShardSize)
	}
	codec.EncodeParity(shards, parity)

	frags := make([]Fragment, 0, k+r)
	blockIdx := e.blockIdx
	for i, s := range shards {
		frags = append(frags, Fragment{
			Nonce:   frame.MakeNonce(blockIdx, byte(i)),
			Payload: prependPreamble(0, byte(k), s),
		})
	}
	for j, s := range parity {
		frags = append(frags, Fragment{
			Nonce:   frame.MakeNonce(blockIdx, byte(k+j)),
			Payload: prependPreamble(FlagSecondary, byte(k), s),
		})
	}

	e.pending = e.pending[:0]
	e.blockIdx++
	if e.blockIdx >= e.cfg.BlockIdxLimit {
		e.blockIdx = e.cfg.BlockIdxBase
		e.wrapped = true
	}
	return frags, nil
}

// NeedsReset reports whether the block-index counter has wrapped back
// to cfg.BlockIdxBase since the last call. The caller (package link) must
// treat this as a forced-rekey trigger: a fresh session key makes the
// receiver's nonce/replay state start over too, so a repeated base
// block_idx is never mistaken for a duplicate of the session's very
// first block.
func (e *Encoder) NeedsReset() bool {
	w := e.wrapped
	e.wrapped = false
	return w
}

// prependPreamble writes the two-byte outer preamble (flag, k) ahead of
// one RS-coded shard. k travels on every fragment, not just the last
// primary, so the decoder can learn it from any single surviving
// fragment of the block.
func prependPreamble(flag, k byte, shard []byte) []byte {
	out := make([]byte, 0, OuterPreambleSize+len(shard))
	out = append(out, flag, k)
	out = append(out, shard...)
	return out
}
