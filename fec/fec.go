// Package fec implements the per-block forward error correction layer
// a systematic Reed-Solomon code over
// package gf256 that lets the receive side recover a full block of
// packets after losing up to r of its k+r transmitted fragments,
// without any retransmission. Grounded on the block/fragment framing
// of original_source's FEC encoder/decoder (block_idx, fragment_idx
// packed into the packet nonce, primary fragments transmitted
// unmodified and parity fragments computed once a block is closed).
package fec

import "time"

// MaxWireFragment is the largest fragment this package will ever hand
// to the framer, matching max_len<=1449 invariant.
const MaxWireFragment = 1449

// OuterPreambleSize is the two bytes of fragment metadata written fresh
// on every wire fragment and never fed through Reed-Solomon: a flag
// byte (primary vs. secondary) and the block's k (number of primary
// fragments). Carrying k on every fragment, not just the last primary,
// means the decoder learns it from whichever single fragment of the
// block happens to survive, instead of depending on one specific
// fragment arriving.
const OuterPreambleSize = 2

// InnerLengthSize is the two-byte payload-length prefix carried inside
// the Reed-Solomon-coded shard itself, so a fragment's true payload
// length survives even when that specific fragment is lost and has to
// be reconstructed from the others.
const InnerLengthSize = 2

// ShardSize is the fixed length of the region fed to Reed-Solomon:
// every source and parity shard in a block is exactly this many bytes,
// source shards zero-padded out to it.
const ShardSize = MaxWireFragment - OuterPreambleSize

// MaxFragmentPayload is the largest payload Push will accept.
const MaxFragmentPayload = ShardSize - InnerLengthSize

// Outer preamble flag bits.
const (
	// FlagSecondary marks a parity (redundancy) fragment, as opposed to
	// a primary fragment carrying original data unmodified.
	FlagSecondary byte = 1 << 0
)

// KMaxDefault is the largest number of primary fragments a block may
// hold, per k<=128 invariant.
const KMaxDefault = 128

// ForwardHorizon is how many blocks ahead of a stuck block must show
// progress before the decoder gives up on it and advances, bounding
// end-to-end latency at the cost of that block's data.
const ForwardHorizon = 2

// RingSize bounds how many blocks the decoder tracks concurrently.
const RingSize = 40

// BlockTimeout is how long the decoder waits for a stalled block
// before evicting it, whether or not it ever completes.
const BlockTimeout = time.Second

// maxBlockIdx is the largest block index that fits alongside an 8-bit
// fragment_idx inside a 64-bit packet nonce.
const maxBlockIdx = (uint64(1) << 56) - 1
