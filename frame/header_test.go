package frame

import "testing"

func TestIsSessionKeyFrameMatchesItsOwnRadioPort(t *testing.T) {
	hdr := Header{RadioPort: MakeRadioPort(SessionKeyStreamIndex, false)}
	if !hdr.IsSessionKeyFrame() {
		t.Fatalf("a radio port built from SessionKeyStreamIndex must report IsSessionKeyFrame")
	}
}

func TestIsSessionKeyFrameNeverMatchesAnOrdinaryStream(t *testing.T) {
	for idx := byte(0); idx < SessionKeyStreamIndex; idx++ {
		for _, enc := range []bool{false, true} {
			hdr := Header{RadioPort: MakeRadioPort(idx, enc)}
			if hdr.IsSessionKeyFrame() {
				t.Fatalf("ordinary stream %d (encrypted=%v) must not be classified as a session-key frame", idx, enc)
			}
		}
	}
}

func TestStreamIndexIgnoresEncryptedBit(t *testing.T) {
	plain := Header{RadioPort: MakeRadioPort(5, false)}
	enc := Header{RadioPort: MakeRadioPort(5, true)}
	if plain.StreamIndex() != 5 || enc.StreamIndex() != 5 {
		t.Fatalf("StreamIndex must mask out the encrypted bit: got %d, %d", plain.StreamIndex(), enc.StreamIndex())
	}
	if plain.Encrypted() || !enc.Encrypted() {
		t.Fatalf("Encrypted() mismatch: plain=%v enc=%v", plain.Encrypted(), enc.Encrypted())
	}
}
