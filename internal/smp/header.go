package smp

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the size of the SMP frame header in bytes.
const HeaderSize = 8

// Operation codes
const (
	OpRead     uint8 = 0
	OpReadRsp  uint8 = 1
	OpWrite    uint8 = 2
	OpWriteRsp uint8 = 3
)

// Management groups
const (
	GroupOS    uint16 = 0
	GroupImage uint16 = 1
)

// OS group command IDs
const (
	OSEcho     uint8 = 0
	OSTaskStat uint8 = 2
	OSMPStat   uint8 = 3
	OSReset    uint8 = 5
)

// Image group command IDs
const (
	ImageState  uint8 = 0
	ImageUpload uint8 = 1
	ImageErase  uint8 = 5
)

// Header is the fixed SMP frame header.
// Format:
//
//	byte 0:    op
//	byte 1:    flags
//	bytes 2-3: payload length (big-endian)
//	bytes 4-5: group (big-endian)
//	byte 6:    sequence number
//	byte 7:    command id
type Header struct {
	Op     uint8
	Flags  uint8
	Length uint16
	Group  uint16
	Seq    uint8
	ID     uint8
}

// Bytes encodes the header.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	b[0] = h.Op
	b[1] = h.Flags
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint16(b[4:6], h.Group)
	b[6] = h.Seq
	b[7] = h.ID
	return b
}

// ParseHeader decodes a header from the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("frame too short: %d bytes", len(b))
	}
	return Header{
		Op:     b[0],
		Flags:  b[1],
		Length: binary.BigEndian.Uint16(b[2:4]),
		Group:  binary.BigEndian.Uint16(b[4:6]),
		Seq:    b[6],
		ID:     b[7],
	}, nil
}
