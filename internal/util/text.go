package util

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexDump formats data in hex dump format
func HexDump(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		// Address
		fmt.Fprintf(&sb, "%04x  ", i)

		// Hex bytes
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				fmt.Fprintf(&sb, "%02x ", data[i+j])
			} else {
				sb.WriteString("   ")
			}
			if j == 7 {
				sb.WriteString(" ")
			}
		}

		// ASCII
		sb.WriteString(" |")
		for j := 0; j < 16 && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}

// ShortHex returns the first n hex characters of data followed by "..."
// when the encoding is longer.
func ShortHex(data []byte, n int) string {
	s := hex.EncodeToString(data)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
