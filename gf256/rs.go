package gf256

import "github.com/pkg/errors"

// ErrSingularMatrix indicates the k x k sub-generator built from the
// surviving fragment indices could not be inverted. For a systematic
// identity-over-Cauchy generator with distinct row indices in [0, k+r) this
// is a mathematical impossibility (any k of its rows are independent),
// so seeing it means a bug upstream fed duplicate indices.
var ErrSingularMatrix = errors.New("gf256: singular generator sub-matrix")

// RSCodec is a systematic (k+r, k) Reed-Solomon code over GF(256). The
// first k rows of the generator matrix are the identity, so primary
// fragments are the source data unmodified; the remaining r rows produce
// parity fragments as linear combinations of the k source fragments.
type RSCodec struct {
	k, r int
	gen  [][]byte // (k+r) x k generator matrix
}

// NewRSCodec builds the generator matrix for k source and r parity
// fragments. k must be in [1,128] and k+r in [k,255], matching the
// spec's block-size invariants; callers (package fec) are responsible
// for enforcing those before construction.
func NewRSCodec(k, r int) *RSCodec {
	gen := make([][]byte, k+r)
	for i := 0; i < k; i++ {
		row := make([]byte, k)
		row[i] = 1
		gen[i] = row
	}
	for j := 0; j < r; j++ {
		row := make([]byte, k)
		// Cauchy row: element c is 1/(x XOR c) with x = k+j, the parity
		// fragment's own index. x >= k > c, so x XOR c is never 0, and
		// every square sub-matrix of a Cauchy matrix is invertible,
		// which is what makes any k of the k+r rows independent.
		x := byte(k + j)
		for c := 0; c < k; c++ {
			row[c] = Inverse(x ^ byte(c))
		}
		gen[k+j] = row
	}
	return &RSCodec{k: k, r: r, gen: gen}
}

// K and R return the codec's configured fragment counts.
func (c *RSCodec) K() int { return c.k }
func (c *RSCodec) R() int { return c.r }

// EncodeParity computes the r parity shards from k equal-length source
// shards, writing into out (len(out)==r, each len(out[j])==shardLen).
func (c *RSCodec) EncodeParity(source [][]byte, out [][]byte) {
	shardLen := len(source[0])
	for j := 0; j < c.r; j++ {
		parity := out[j]
		for i := range parity {
			parity[i] = 0
		}
		row := c.gen[c.k+j]
		for i := 0; i < c.k; i++ {
			if row[i] == 0 {
				continue
			}
			RegionMultiplyAdd(parity, source[i], row[i])
		}
		_ = shardLen
	}
}

// Reconstruct recovers the k source shards given any k of the k+r
// generator rows. present lists, for each of the k provided shards, the
// original generator-row index (0..k+r) it came from. shards[i] must have
// the same length for all i. The result is written into out (len(out)==k).
//
// When present already equals [0,k) in order (all primaries received)
// this degenerates to a copy — the primary-only fast path: no field
// multiplication happens because the sub-matrix is the
// identity, so Reconstruct copies the shards without calling InvertMatrix.
func (c *RSCodec) Reconstruct(shards [][]byte, present []int, out [][]byte) error {
	if len(shards) != c.k || len(present) != c.k {
		return errors.New("gf256: need exactly k shards to reconstruct")
	}

	if isIdentitySelection(present, c.k) {
		for i := 0; i < c.k; i++ {
			copy(out[i], shards[i])
		}
		return nil
	}

	sub := make([][]byte, c.k)
	for i, idx := range present {
		sub[i] = c.gen[idx]
	}
	inv, err := InvertMatrix(sub)
	if err != nil {
		return err
	}

	shardLen := len(shards[0])
	for i := 0; i < c.k; i++ {
		row := inv[i]
		dst := out[i]
		for b := 0; b < shardLen; b++ {
			dst[b] = 0
		}
		for j := 0; j < c.k; j++ {
			if row[j] == 0 {
				continue
			}
			RegionMultiplyAdd(dst, shards[j], row[j])
		}
	}
	return nil
}

func isIdentitySelection(present []int, k int) bool {
	if len(present) != k {
		return false
	}
	for i, idx := range present {
		if idx != i {
			return false
		}
	}
	return true
}

// InvertMatrix inverts a square matrix of GF(256) elements via
// Gauss-Jordan elimination with partial pivoting, returning
// ErrSingularMatrix if no nonzero pivot can be found for some column.
func InvertMatrix(m [][]byte) ([][]byte, error) {
	n := len(m)

	aug := make([][]byte, n)
	for i := range aug {
		row := make([]byte, 2*n)
		copy(row, m[i])
		row[n+i] = 1
		aug[i] = row
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if aug[row][col] != 0 {
				pivot = row
				break
			}
		}
		if pivot == -1 {
			return nil, ErrSingularMatrix
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		invPivot := Inverse(aug[col][col])
		RegionMultiply(aug[col], aug[col], invPivot)

		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			if factor == 0 {
				continue
			}
			scaled := make([]byte, 2*n)
			RegionMultiply(scaled, aug[col], factor)
			xorRegion(aug[row], scaled)
		}
	}

	inv := make([][]byte, n)
	for i := range inv {
		inv[i] = append([]byte(nil), aug[i][n:]...)
	}
	return inv, nil
}
