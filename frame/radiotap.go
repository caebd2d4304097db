package frame

import "encoding/binary"

// RadiotapHeader builds and parses the minimal radiotap subset this link
// needs. Real radiotap is an open-ended, driver-specific set of fields
// selected by a present-bitmap; like the wifibroadcast project this was
// distilled from, we only ever need to *set* a fixed handful of fields on
// transmit (MCS/bandwidth/guard-interval/STBC/LDPC) and
// only ever need to *read* signal strength, MCS, bandwidth, and the
// bad-FCS flag on receive, so the encoder/decoder pair below targets
// exactly that subset instead of general radiotap present-bitmap
// handling.
const (
	radiotapVersion = 0

	presentFlags     = 1 << 0
	presentMCS       = 1 << 1
	presentAntSignal = 1 << 2

	// FlagBadFCS mirrors the real radiotap IEEE80211_RADIOTAP_F_BADFCS
	// bit: the card reports this frame failed its FCS check and it
	// must be discarded.
	FlagBadFCS = 0x40
)

// ChannelWidth enumerates the widths this link negotiates.
type ChannelWidth byte

const (
	ChannelWidth20MHz ChannelWidth = 0
	ChannelWidth40MHz ChannelWidth = 1
)

// TxParams are the radiotap-selectable transmit parameters an embedder
// can update at runtime (see Framer.UpdateRadiotap).
type TxParams struct {
	MCS           uint8
	ChannelWidth  ChannelWidth
	ShortGI       bool
	STBC          uint8 // 0-3 streams
	LDPC          bool
}

// mcsFlagsByte packs bandwidth/GI/STBC/LDPC into one byte, loosely modeled
// on the real 802.11n radiotap MCS flags byte.
func (p TxParams) mcsFlagsByte() byte {
	var b byte
	b |= byte(p.ChannelWidth) & 0x03
	if p.ShortGI {
		b |= 1 << 2
	}
	b |= (p.STBC & 0x03) << 3
	if p.LDPC {
		b |= 1 << 5
	}
	return b
}

func mcsFlagsFromByte(b byte) (width ChannelWidth, shortGI bool, stbc uint8, ldpc bool) {
	width = ChannelWidth(b & 0x03)
	shortGI = b&(1<<2) != 0
	stbc = (b >> 3) & 0x03
	ldpc = b&(1<<5) != 0
	return
}

// EncodeRadiotapTx serializes the transmit-side radiotap header: fixed
// 8-byte preamble, a Flags field (always 0 on transmit — bad-FCS is
// receive-only), and the 3-byte MCS field.
func EncodeRadiotapTx(p TxParams) []byte {
	const length = 8 + 1 + 3
	buf := make([]byte, length)
	buf[0] = radiotapVersion
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], uint16(length))
	binary.LittleEndian.PutUint32(buf[4:8], presentFlags|presentMCS)

	buf[8] = 0 // Flags: nothing set on transmit

	buf[9] = 0x07 // MCS "known" bitmap: bandwidth, GI, index all known
	buf[10] = p.mcsFlagsByte()
	buf[11] = p.MCS

	return buf
}

// RxMeta is what the receive path extracts from a radiotap header.
type RxMeta struct {
	RSSIdBm      int8 // strongest of any reported antennas
	MCS          uint8
	ChannelWidth ChannelWidth
	ShortGI      bool
	STBC         uint8
	LDPC         bool
	BadFCS       bool
}

// AntennaSignal is one (antenna index, signal dBm) pair as reported by a
// multi-antenna card.
type AntennaSignal struct {
	Antenna byte
	SignalDBm int8
}

// EncodeRadiotapRx serializes a receive-side radiotap header carrying
// per-antenna signal readings, used by rawio test doubles to synthesize
// inbound frames.
func EncodeRadiotapRx(flags byte, p TxParams, antennas []AntennaSignal) []byte {
	length := 8 + 1 + 3
	if len(antennas) > 0 {
		length += 1 + len(antennas)*2
	}
	buf := make([]byte, length)
	buf[0] = radiotapVersion
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], uint16(length))

	present := uint32(presentFlags | presentMCS)
	if len(antennas) > 0 {
		present |= presentAntSignal
	}
	binary.LittleEndian.PutUint32(buf[4:8], present)

	buf[8] = flags
	buf[9] = 0x07
	buf[10] = p.mcsFlagsByte()
	buf[11] = p.MCS

	if len(antennas) > 0 {
		off := 12
		buf[off] = byte(len(antennas))
		off++
		for _, a := range antennas {
			buf[off] = a.Antenna
			buf[off+1] = byte(a.SignalDBm)
			off += 2
		}
	}
	return buf
}

// ParseRadiotap parses a header built by EncodeRadiotapRx (or
// EncodeRadiotapTx, in which case RSSI-related fields are zero), and
// returns the metadata plus the offset where the 802.11 header starts.
func ParseRadiotap(buf []byte) (RxMeta, int, bool) {
	if len(buf) < 8 {
		return RxMeta{}, 0, false
	}
	length := int(binary.LittleEndian.Uint16(buf[2:4]))
	if length > len(buf) || length < 8 {
		return RxMeta{}, 0, false
	}
	present := binary.LittleEndian.Uint32(buf[4:8])

	off := 8
	var meta RxMeta

	if present&presentFlags != 0 {
		if off >= length {
			return RxMeta{}, 0, false
		}
		flags := buf[off]
		meta.BadFCS = flags&FlagBadFCS != 0
		off++
	}
	if present&presentMCS != 0 {
		if off+3 > length {
			return RxMeta{}, 0, false
		}
		flagsByte := buf[off+1]
		meta.MCS = buf[off+2]
		meta.ChannelWidth, meta.ShortGI, meta.STBC, meta.LDPC = mcsFlagsFromByte(flagsByte)
		off += 3
	}
	if present&presentAntSignal != 0 {
		if off >= length {
			return RxMeta{}, 0, false
		}
		count := int(buf[off])
		off++
		best := int8(-127)
		for i := 0; i < count; i++ {
			if off+2 > length {
				return RxMeta{}, 0, false
			}
			signal := int8(buf[off+1])
			if signal > best {
				best = signal
			}
			off += 2
		}
		meta.RSSIdBm = best
	}

	return meta, length, true
}
