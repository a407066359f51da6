package smp

import (
	"bytes"
	"encoding/binary"
)

// Reassembler joins notification fragments into complete SMP frames.
// The expected frame length comes from the header of the first fragment.
type Reassembler struct {
	buf         bytes.Buffer
	expectedLen int
}

// Feed appends a fragment and returns every frame it completed.
func (r *Reassembler) Feed(p []byte) [][]byte {
	r.buf.Write(p)

	var frames [][]byte
	for {
		if r.expectedLen == 0 && r.buf.Len() >= HeaderSize {
			r.expectedLen = HeaderSize + int(binary.BigEndian.Uint16(r.buf.Bytes()[2:4]))
		}
		if r.expectedLen == 0 || r.buf.Len() < r.expectedLen {
			return frames
		}
		frame := make([]byte, r.expectedLen)
		copy(frame, r.buf.Next(r.expectedLen))
		frames = append(frames, frame)
		r.expectedLen = 0
	}
}

// Pending returns how many bytes are buffered and how many the current frame needs.
func (r *Reassembler) Pending() (got, expected int) {
	return r.buf.Len(), r.expectedLen
}

// Reset drops any partial frame.
func (r *Reassembler) Reset() {
	r.buf.Reset()
	r.expectedLen = 0
}
