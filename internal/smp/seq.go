package smp

import "sync/atomic"

// Sequencer hands out incrementing 8-bit sequence numbers.
type Sequencer struct {
	counter atomic.Uint32
}

// Next returns the next sequence number, wrapping at 255.
func (s *Sequencer) Next() uint8 {
	return uint8(s.counter.Add(1))
}
