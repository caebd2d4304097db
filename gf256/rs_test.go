package gf256

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRegionMultiplyAddRoundTrip(t *testing.T) {
	src := make([]byte, 64)
	rand.New(rand.NewSource(1)).Read(src)

	for c := 1; c < 256; c++ {
		dst := make([]byte, len(src))
		RegionMultiplyAdd(dst, src, byte(c))
		// XOR-ing the same term twice cancels it out.
		RegionMultiplyAdd(dst, src, byte(c))
		if !bytes.Equal(dst, make([]byte, len(src))) {
			t.Fatalf("c=%d: double add did not cancel", c)
		}
	}
}

func TestRegionMultiplyAddZeroAndOne(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	dst := []byte{9, 9, 9, 9}

	before := append([]byte(nil), dst...)
	RegionMultiplyAdd(dst, src, 0)
	if !bytes.Equal(dst, before) {
		t.Fatalf("c=0 must be a no-op, got %v", dst)
	}

	RegionMultiplyAdd(dst, src, 1)
	want := []byte{9 ^ 1, 9 ^ 2, 9 ^ 3, 9 ^ 4}
	if !bytes.Equal(dst, want) {
		t.Fatalf("c=1 must be XOR, got %v want %v", dst, want)
	}
}

func TestInverseRoundTrip(t *testing.T) {
	for a := 1; a < 256; a++ {
		inv := Inverse(byte(a))
		if Multiply(byte(a), inv) != 1 {
			t.Fatalf("a=%d: a*inv(a) != 1", a)
		}
	}
}

func TestRSPrimaryOnlyFastPath(t *testing.T) {
	k, r := 4, 2
	codec := NewRSCodec(k, r)

	source := make([][]byte, k)
	for i := range source {
		source[i] = []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
	}

	present := []int{0, 1, 2, 3}
	out := make([][]byte, k)
	for i := range out {
		out[i] = make([]byte, 4)
	}
	if err := codec.Reconstruct(source, present, out); err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	for i := range source {
		if !bytes.Equal(out[i], source[i]) {
			t.Fatalf("fast path mismatch at %d: got %v want %v", i, out[i], source[i])
		}
	}
}

func TestRSDropAnyRRecovers(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	k, r := 8, 4
	codec := NewRSCodec(k, r)
	shardLen := 16

	source := make([][]byte, k)
	for i := range source {
		source[i] = make([]byte, shardLen)
		rng.Read(source[i])
	}

	parity := make([][]byte, r)
	for j := range parity {
		parity[j] = make([]byte, shardLen)
	}
	codec.EncodeParity(source, parity)

	all := make([][]byte, k+r)
	copy(all, source)
	copy(all[k:], parity)

	// Drop r indices in a handful of sampled trials rather than every
	// combination (C(12,4) is manageable, but the property is symmetric
	// so a sample is sufficient and keeps the test fast).
	trials := [][]int{
		{0, 1, 2, 3},
		{8, 9, 10, 11},
		{0, 4, 8, 11},
		{1, 3, 5, 7},
		{2, 6, 9, 10},
	}

	for _, drop := range trials {
		dropped := map[int]bool{}
		for _, d := range drop {
			dropped[d] = true
		}

		var shards [][]byte
		var present []int
		for i := 0; i < k+r && len(present) < k; i++ {
			if dropped[i] {
				continue
			}
			shards = append(shards, all[i])
			present = append(present, i)
		}

		out := make([][]byte, k)
		for i := range out {
			out[i] = make([]byte, shardLen)
		}
		if err := codec.Reconstruct(shards, present, out); err != nil {
			t.Fatalf("drop=%v: reconstruct failed: %v", drop, err)
		}
		for i := range source {
			if !bytes.Equal(out[i], source[i]) {
				t.Fatalf("drop=%v: shard %d mismatch", drop, i)
			}
		}
	}
}

func TestInvertMatrixSingular(t *testing.T) {
	m := [][]byte{
		{1, 2},
		{2, 4}, // linearly dependent on row 0
	}
	if _, err := InvertMatrix(m); err != ErrSingularMatrix {
		t.Fatalf("expected ErrSingularMatrix, got %v", err)
	}
}

func TestWideAndScalarPathsAgree(t *testing.T) {
	src := make([]byte, 128)
	rand.New(rand.NewSource(7)).Read(src)

	for c := 2; c < 256; c++ {
		wantDst := make([]byte, len(src))
		regionMultiplyAddScalar(wantDst, src, byte(c))

		gotDst := make([]byte, len(src))
		regionMultiplyAddWide(gotDst, src, byte(c))

		if !bytes.Equal(wantDst, gotDst) {
			t.Fatalf("c=%d: wide and scalar paths disagree", c)
		}
	}
}
