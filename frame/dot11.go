package frame

import "encoding/binary"

// Dot11HeaderSize is the size of the minimal 802.11 data-frame header
// this link emits: FrameControl(2) DurationID(2) Addr1(6) Addr2(6)
// Addr3(6) SeqCtrl(2).
const Dot11HeaderSize = 2 + 2 + 6 + 6 + 6 + 2

// dot11Magic tags Addr1 so the receive path can cheaply recognize frames
// belonging to this link (as opposed to unrelated 802.11 pollution on
// the same channel) without touching the encrypted payload.
var dot11Magic = [3]byte{'W', 'F', 'B'}

// frameControlData is a fixed Data-frame FrameControl value; this link
// never associates, so subtype/ToDS/FromDS carry no real meaning beyond
// making captured frames recognizable as 802.11 data frames.
const frameControlData uint16 = 0x0008

// Direction distinguishes an air-role transmitter from a ground-role
// one. Receivers discard frames carrying their own direction bit, which
// works around adapters that loop injected frames back into their own
// monitor-mode receive path.
type Direction byte

const (
	DirectionAir    Direction = 0
	DirectionGround Direction = 1
)

// Dot11Header is the minimal 802.11 header this link builds and parses.
type Dot11Header struct {
	RadioPort byte
	Direction Direction
	SeqCtrl   uint16
}

// SeqCounter is a monotonically incrementing 802.11 sequence-control
// counter, advanced by 16 per packet (the low 4 bits are reserved for
// fragment number, matching real 802.11 hardware behavior even though
// this link never fragments).
type SeqCounter struct {
	next uint16
}

// Next returns the next sequence-control value and advances the counter.
// Wraps freely at 16 bits.
func (c *SeqCounter) Next() uint16 {
	v := c.next
	c.next += 16
	return v
}

// EncodeDot11 serializes a minimal 802.11 data-frame header.
func EncodeDot11(h Dot11Header) []byte {
	buf := make([]byte, Dot11HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], frameControlData)
	binary.LittleEndian.PutUint16(buf[2:4], 0) // DurationID: unused, no NAV reservation

	copy(buf[4:7], dot11Magic[:])
	// buf[7:10] (rest of Addr1) left zero.

	buf[10] = h.RadioPort
	buf[11] = byte(h.Direction)
	// buf[12:22] (rest of Addr2, all of Addr3) left zero.

	binary.LittleEndian.PutUint16(buf[22:24], h.SeqCtrl)
	return buf
}

// ParseDot11 parses a minimal 802.11 header and reports whether it
// carries this link's magic (i.e., is worth further processing rather
// than being counted as pollution).
func ParseDot11(buf []byte) (Dot11Header, bool) {
	if len(buf) < Dot11HeaderSize {
		return Dot11Header{}, false
	}
	if buf[4] != dot11Magic[0] || buf[5] != dot11Magic[1] || buf[6] != dot11Magic[2] {
		return Dot11Header{}, false
	}
	return Dot11Header{
		RadioPort: buf[10],
		Direction: Direction(buf[11]),
		SeqCtrl:   binary.LittleEndian.Uint16(buf[22:24]),
	}, true
}
