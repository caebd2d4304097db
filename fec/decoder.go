package fec

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/wfbridge/wfbridge/frame"
	"github.com/wfbridge/wfbridge/gf256"
)

// ErrMalformedFragment is returned by Push when a fragment's wire
// length doesn't match ShardSize+OuterPreambleSize.
var ErrMalformedFragment = errors.New("fec: malformed fragment length")

type blockState struct {
	k         int // known from the first fragment's outer preamble, never -1
	shards    map[byte][]byte
	firstSeen time.Time
}

func (b *blockState) canComplete() bool {
	return len(b.shards) >= b.k
}

// Decoder reassembles blocks from primary and parity fragments,
// delivering each block's original payloads to the caller once, in
// strictly increasing block_idx order.
type Decoder struct {
	mu     sync.Mutex
	blocks map[uint64]*blockState
	codecs map[int]*gf256.RSCodec

	haveNextDeliver bool
	nextDeliver     uint64
}

// NewDecoder constructs an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		blocks: make(map[uint64]*blockState),
		codecs: make(map[int]*gf256.RSCodec),
	}
}

// Push feeds one received wire fragment (the two-byte outer preamble —
// flag and block k — followed by its ShardSize-byte Reed-Solomon shard)
// tagged with the packet nonce it arrived under, and returns the
// original payloads of any blocks that just became ready for delivery,
// in block order. k travels on every fragment of a block, primary or
// secondary, so the decoder learns it from whichever fragment happens
// to survive rather than depending on one specific fragment (the last
// primary) arriving.
func (d *Decoder) Push(nonce uint64, wire []byte, now time.Time) ([][]byte, error) {
	if len(wire) != OuterPreambleSize+ShardSize {
		return nil, ErrMalformedFragment
	}
	k := int(wire[1])
	content := wire[OuterPreambleSize:]

	blockIdx := frame.BlockIdx(nonce)
	fragIdx := frame.FragmentIdx(nonce)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.haveNextDeliver && blockIdx < d.nextDeliver {
		return nil, nil // late/duplicate: this block was already delivered or evicted
	}

	b, ok := d.blocks[blockIdx]
	if !ok {
		b = &blockState{k: k, shards: make(map[byte][]byte), firstSeen: now}
		d.blocks[blockIdx] = b
	}
	if _, dup := b.shards[fragIdx]; dup {
		return nil, nil
	}
	b.shards[fragIdx] = append([]byte(nil), content...)

	evicted := d.evictForRingSize()
	return append(evicted, d.tryDeliver(now)...), nil
}

// Tick drives timeout- and forward-progress-based delivery even when no
// new fragment has arrived; package link should call this roughly once
// per second.
func (d *Decoder) Tick(now time.Time) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tryDeliver(now)
}

func (d *Decoder) tryDeliver(now time.Time) [][]byte {
	var out [][]byte
	if !d.haveNextDeliver {
		if len(d.blocks) == 0 {
			return out
		}
		// Start at the base of the range the first block belongs to
		// (package link starts each stream at a multiple of 1<<49, see
		// Config.BlockIdxBase), so a newer block that arrives before the
		// stream's first one is held rather than delivered out of order.
		d.nextDeliver = d.minBlockIdx() &^ (1<<49 - 1)
		d.haveNextDeliver = true
	}

	for {
		b, ok := d.blocks[d.nextDeliver]
		if !ok {
			if len(d.blocks) == 0 {
				break
			}
			m := d.minBlockIdx()
			if m <= d.nextDeliver {
				break
			}
			oldest := d.blocks[m]
			if now.Sub(oldest.firstSeen) >= BlockTimeout ||
				len(d.blocks) >= RingSize ||
				m >= d.nextDeliver+ForwardHorizon {
				d.nextDeliver = m
				continue
			}
			break
		}

		if payloads, done := d.reconstruct(b); done {
			out = append(out, payloads...)
			delete(d.blocks, d.nextDeliver)
			d.nextDeliver++
			continue
		}

		if now.Sub(b.firstSeen) >= BlockTimeout || d.forwardProgressForces(d.nextDeliver) {
			out = append(out, partialDeliver(b)...)
			delete(d.blocks, d.nextDeliver)
			d.nextDeliver++
			continue
		}
		break
	}
	return out
}

func (d *Decoder) forwardProgressForces(idx uint64) bool {
	threshold := idx + ForwardHorizon
	for other, st := range d.blocks {
		if other >= threshold && st.canComplete() {
			return true
		}
	}
	return false
}

// evictForRingSize enforces RingSize by dropping the globally oldest
// tracked block whenever the ring overflows. When that block is the one
// tryDeliver is currently waiting on, this is itself a forced eviction
// under spec.md §4.5 point 3/4 ("a new fragment for a block beyond the
// ring causes the oldest block to be force-evicted per (3)") and must
// surface whatever primaries that block already collected, exactly like
// the timeout/forward-progress paths in tryDeliver.
func (d *Decoder) evictForRingSize() [][]byte {
	var out [][]byte
	for len(d.blocks) > RingSize {
		m := d.minBlockIdx()
		b := d.blocks[m]
		if d.haveNextDeliver && m == d.nextDeliver {
			out = append(out, partialDeliver(b)...)
			d.nextDeliver++
		} else if d.haveNextDeliver && m < d.nextDeliver {
			d.nextDeliver = m + 1
		}
		delete(d.blocks, m)
	}
	return out
}

func (d *Decoder) minBlockIdx() uint64 {
	first := true
	var m uint64
	for idx := range d.blocks {
		if first || idx < m {
			m = idx
			first = false
		}
	}
	return m
}

func (d *Decoder) codecFor(k int) *gf256.RSCodec {
	if c, ok := d.codecs[k]; ok {
		return c
	}
	// r doesn't need to match the sender's actual parity count: the
	// generator row for a given index depends only on that index and k
	// (gf256.NewRSCodec), so building the generously largest possible r
	// still reproduces exactly the rows any real parity fragment used.
	c := gf256.NewRSCodec(k, 255-k)
	d.codecs[k] = c
	return c
}

// reconstruct recovers a block's original payloads once at least k of
// its shards have arrived, preferring the lowest-indexed (primary)
// shards so an all-primaries block hits the identity fast path.
func (d *Decoder) reconstruct(b *blockState) ([][]byte, bool) {
	if !b.canComplete() {
		return nil, false
	}

	indices := make([]int, 0, len(b.shards))
	for idx := range b.shards {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)
	indices = indices[:b.k]

	shards := make([][]byte, b.k)
	for i, idx := range indices {
		shards[i] = b.shards[byte(idx)]
	}

	codec := d.codecFor(b.k)
	out := make([][]byte, b.k)
	for i := range out {
		out[i] = make([]byte, ShardSize)
	}
	if err := codec.Reconstruct(shards, indices, out); err != nil {
		return nil, false
	}

	payloads := make([][]byte, b.k)
	for i, s := range out {
		payloads[i] = stripLength(s)
	}
	return payloads, true
}

// partialDeliver extracts whatever primary fragments (indices [0,k)) a
// block actually received, in ascending index order and skipping any
// that never arrived, per spec.md §4.5 point 3: "deliver whatever
// primaries it has received in order (skipping missing indices)".
// Primary shard content is the sender's raw zero-padded source fragment
// (the identity rows of the generator matrix), never combined with any
// other shard, so it can be unwrapped directly without invoking the RS
// codec at all.
func partialDeliver(b *blockState) [][]byte {
	var out [][]byte
	for idx := 0; idx < b.k; idx++ {
		content, ok := b.shards[byte(idx)]
		if !ok {
			continue
		}
		out = append(out, stripLength(content))
	}
	return out
}

// stripLength reads the two-byte length prefix a shard carries ahead of
// its payload and returns a fresh copy of just the payload bytes.
func stripLength(s []byte) []byte {
	n := int(binary.LittleEndian.Uint16(s[0:InnerLengthSize]))
	if n > len(s)-InnerLengthSize {
		n = len(s) - InnerLengthSize
	}
	return append([]byte(nil), s[InnerLengthSize:InnerLengthSize+n]...)
}
