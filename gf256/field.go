// Package gf256 implements arithmetic over GF(2^8) with the standard
// wifibroadcast primitive polynomial 0x11d, plus the region operations
// the systematic Reed-Solomon codec in package fec is built on.
package gf256

import "github.com/klauspost/cpuid/v2"

// primitivePoly is the reduction polynomial x^8+x^4+x^3+x^2+1.
const primitivePoly = 0x11d

var (
	expTable [512]byte // exp[i] = generator^i, doubled to avoid modulo in Multiply
	logTable [256]byte // log[generator^i] = i, logTable[0] is unused

	// mulTable[c] holds the full 256-entry multiplication-by-c table,
	// used by the wide-table region path.
	mulTable [256][256]byte

	// wideTables selects the split-nibble shuffle-table implementation
	// that mirrors the SSSE3 code path in the original C encoder
	// (ExternalCSources/fec/libmoepgf/gf256_ssse3.h): two 16-entry
	// lookup tables per multiplier instead of one 256-entry table.
	// klauspost/cpuid tells us whether the host has the instruction
	// set that path was designed for; we still run it in portable Go.
	// The smaller tables are always built; cpuid only picks the path.
	loNibbleTable [256][16]byte
	hiNibbleTable [256][16]byte

	useWideTables bool
)

func init() {
	// Build exp/log tables via the standard generator-walk method.
	x := byte(1)
	for i := 0; i < 255; i++ {
		expTable[i] = x
		logTable[x] = byte(i)
		hi := x & 0x80
		x <<= 1
		if hi != 0 {
			x ^= byte(primitivePoly & 0xff)
		}
	}
	for i := 255; i < 512; i++ {
		expTable[i] = expTable[i-255]
	}

	for c := 0; c < 256; c++ {
		for v := 0; v < 256; v++ {
			mulTable[c][v] = mulScalar(byte(c), byte(v))
		}
		for n := 0; n < 16; n++ {
			loNibbleTable[c][n] = mulTable[c][n]
			hiNibbleTable[c][n] = mulTable[c][n<<4]
		}
	}

	useWideTables = cpuid.CPU.Supports(cpuid.SSSE3) || cpuid.CPU.Supports(cpuid.ASIMD)
}

// mulScalar multiplies two field elements using the log/antilog tables.
// Used only to build mulTable at init; region operations below never call
// this directly on the hot path.
func mulScalar(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return expTable[int(logTable[a])+int(logTable[b])]
}

// Multiply returns a*b in GF(256).
func Multiply(a, b byte) byte {
	return mulTable[a][b]
}

// Inverse returns the multiplicative inverse of a. Panics on a==0, the
// caller's responsibility to avoid (a singular generator sub-matrix row
// should never contain a zero pivot for a correctly built identity-over-
// Cauchy generator with distinct indices).
func Inverse(a byte) byte {
	if a == 0 {
		panic("gf256: inverse of zero")
	}
	return expTable[255-int(logTable[a])]
}

// UsesWideTables reports which region-multiply code path is active,
// exposed for tests that want to exercise both.
func UsesWideTables() bool {
	return useWideTables
}

// RegionMultiplyAdd computes dst ^= c*src over len(dst) bytes. dst and src
// must be the same length. When c==0 this is a no-op; when c==1 it
// degenerates to a plain XOR.
func RegionMultiplyAdd(dst, src []byte, c byte) {
	if len(dst) != len(src) {
		panic("gf256: region length mismatch")
	}
	if c == 0 {
		return
	}
	if c == 1 {
		xorRegion(dst, src)
		return
	}
	if useWideTables {
		regionMultiplyAddWide(dst, src, c)
		return
	}
	regionMultiplyAddScalar(dst, src, c)
}

// RegionMultiply computes dst = c*src over len(dst) bytes.
func RegionMultiply(dst, src []byte, c byte) {
	if len(dst) != len(src) {
		panic("gf256: region length mismatch")
	}
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	table := &mulTable[c]
	for i, v := range src {
		dst[i] = table[v]
	}
}

func xorRegion(dst, src []byte) {
	for i, v := range src {
		dst[i] ^= v
	}
}

func regionMultiplyAddScalar(dst, src []byte, c byte) {
	table := &mulTable[c]
	for i, v := range src {
		dst[i] ^= table[v]
	}
}

// regionMultiplyAddWide reproduces the low/high nibble split-table access
// pattern of the SSSE3 shuffle implementation, one byte at a time (Go
// gives us no portable way to issue PSHUFB, and the toolchain is not run
// as part of this build, so no assembly stub is included). The value of
// keeping the split intact is smaller, cache-resident tables per
// multiplier versus the 256-entry table used by the scalar path.
func regionMultiplyAddWide(dst, src []byte, c byte) {
	lo := &loNibbleTable[c]
	hi := &hiNibbleTable[c]
	for i, v := range src {
		dst[i] ^= lo[v&0x0f] ^ hi[v>>4]
	}
}
