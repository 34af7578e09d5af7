package session

import (
	"bytes"
	"testing"
)

func TestFrameDetector_FirstFrameAlwaysStored(t *testing.T) {
	var d FrameDetector
	if !d.Changed([]byte("frame-a")) {
		t.Fatalf("first frame should always be stored")
	}
}

func TestFrameDetector_DuplicateSkipped(t *testing.T) {
	var d FrameDetector
	frame := bytes.Repeat([]byte{0xAB, 0xCD}, 4096)

	if !d.Changed(frame) {
		t.Fatalf("first occurrence should be stored")
	}
	for i := 0; i < 3; i++ {
		if d.Changed(frame) {
			t.Fatalf("identical frame %d should be skipped", i)
		}
	}
}

func TestFrameDetector_ContentChangeStored(t *testing.T) {
	var d FrameDetector
	a := bytes.Repeat([]byte{0x01}, 8192)
	b := bytes.Repeat([]byte{0x02}, 8192)

	if !d.Changed(a) {
		t.Fatalf("frame a should be stored")
	}
	if !d.Changed(b) {
		t.Fatalf("frame b differs from a and should be stored")
	}
	if d.Changed(b) {
		t.Fatalf("repeated frame b should be skipped")
	}
	if !d.Changed(a) {
		t.Fatalf("returning to frame a should be stored again")
	}
}

func TestFrameDetector_LengthChangeStored(t *testing.T) {
	var d FrameDetector
	a := bytes.Repeat([]byte{0x7F}, 1000)
	b := bytes.Repeat([]byte{0x7F}, 1001)

	if !d.Changed(a) {
		t.Fatalf("frame a should be stored")
	}
	if !d.Changed(b) {
		t.Fatalf("same content with different length should be stored")
	}
}

func TestFingerprint_SmallPayloadsUseWholeBody(t *testing.T) {
	a := fingerprint([]byte("abc"))
	b := fingerprint([]byte("abd"))
	if a == b {
		t.Fatalf("distinct short payloads should not collide")
	}
}
