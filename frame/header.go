// Package frame implements the wire framing: building the radiotap +
// 802.11 header that wraps every injected packet, and parsing that same
// framing on receive to recover the
// payload plus RSSI/MCS/bad-FCS metadata. Byte-packing style grounded on
// ystepanoff-nrfcomm/protocol/frame.go and packet.go (explicit
// little-endian field layout, length-prefixed bodies) generalized from a
// point-to-point radio frame to an 802.11 data frame carrying a
// wifibroadcast payload.
package frame

import "encoding/binary"

// HeaderSize is the size of the cleartext application-level header
// carried inside the 802.11 payload: radio-port(1) +
// nonce(8) + seq(2).
const HeaderSize = 1 + 8 + 2

// RadioPortEncryptedBit marks a data packet's payload as
// AEAD-encrypted (as opposed to cleartext-but-authenticated).
const RadioPortEncryptedBit = 0x80

// SessionKeyStreamIndex is the reserved radio-port stream index for
// session-key announcement frames. StreamIndex() masks RadioPort down to
// its low 7 bits before any comparison, so this must be the top value of
// that masked range (127), not 128: 128 needs the 8th bit to represent at
// all, and that bit is already spoken for by RadioPortEncryptedBit, so a
// value of 128 could never be produced or matched through the mask.
const SessionKeyStreamIndex = 127

// Header is the cleartext application header, also used verbatim as the
// AEAD associated data.
type Header struct {
	RadioPort  byte // bit7: encrypted, bits0-6: stream index
	Nonce      uint64
	IEEESeq    uint16
}

// StreamIndex extracts bits0-6 of RadioPort.
func (h Header) StreamIndex() byte { return h.RadioPort &^ RadioPortEncryptedBit }

// Encrypted reports whether bit7 of RadioPort is set.
func (h Header) Encrypted() bool { return h.RadioPort&RadioPortEncryptedBit != 0 }

// IsSessionKeyFrame reports whether this header addresses the reserved
// session-key stream.
func (h Header) IsSessionKeyFrame() bool { return h.StreamIndex() == SessionKeyStreamIndex }

// MakeRadioPort packs a stream index and encryption flag into a single
// byte.
func MakeRadioPort(streamIndex byte, encrypted bool) byte {
	rp := streamIndex &^ RadioPortEncryptedBit
	if encrypted {
		rp |= RadioPortEncryptedBit
	}
	return rp
}

// EncodeHeader serializes h into the 11-byte cleartext header, little-endian
// throughout for platform-independent integer encoding.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.RadioPort
	binary.LittleEndian.PutUint64(buf[1:9], h.Nonce)
	binary.LittleEndian.PutUint16(buf[9:11], h.IEEESeq)
	return buf
}

// DecodeHeader parses the 11-byte cleartext header.
func DecodeHeader(buf []byte) (Header, bool) {
	if len(buf) < HeaderSize {
		return Header{}, false
	}
	return Header{
		RadioPort: buf[0],
		Nonce:     binary.LittleEndian.Uint64(buf[1:9]),
		IEEESeq:   binary.LittleEndian.Uint16(buf[9:11]),
	}, true
}

// BlockIdx and FragmentIdx decompose a packet nonce into its FEC block
// coordinates: block_idx = nonce >> 8, fragment_idx = nonce
// & 0xFF.
func BlockIdx(nonce uint64) uint64    { return nonce >> 8 }
func FragmentIdx(nonce uint64) byte   { return byte(nonce & 0xff) }
func MakeNonce(block uint64, frag byte) uint64 { return (block << 8) | uint64(frag) }
