package session

import (
	"encoding/binary"
	"hash/fnv"
)

// fingerprintSamples bounds how many byte positions are hashed per frame.
// Most consecutive captures show a static screen, so a cheap sampled hash is
// enough to gate uploads without comparing full payloads.
const fingerprintSamples = 64

// FrameDetector decides whether an incoming image differs meaningfully from
// the last accepted one. Owned by a single relay goroutine; not safe for
// concurrent use.
type FrameDetector struct {
	last    uint64
	hasLast bool
}

// Changed reports whether the frame should be stored, updating the remembered
// fingerprint when it does.
func (d *FrameDetector) Changed(data []byte) bool {
	fp := fingerprint(data)
	if d.hasLast && fp == d.last {
		return false
	}
	d.last = fp
	d.hasLast = true
	return true
}

// fingerprint hashes the payload length plus a bounded number of byte
// positions spread evenly across the payload. Length is always included so
// images of different sizes never collide.
func fingerprint(data []byte) uint64 {
	h := fnv.New64a()

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	_, _ = h.Write(lenBuf[:])

	if len(data) <= fingerprintSamples {
		_, _ = h.Write(data)
		return h.Sum64()
	}

	step := len(data) / fingerprintSamples
	sample := make([]byte, 0, fingerprintSamples)
	for i := 0; i < fingerprintSamples; i++ {
		sample = append(sample, data[i*step])
	}
	_, _ = h.Write(sample)
	return h.Sum64()
}
