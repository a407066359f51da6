// Package firmwaretest builds small but well-formed MCUboot images for tests.
package firmwaretest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/vitaminmoo/smp-tool/internal/firmware"
)

// Image returns an MCUboot image with the given version and a body of size
// bytes, plus the SHA256 recorded in its TLV area.
func Image(major, minor uint8, revision uint16, size int) ([]byte, []byte) {
	hdr := firmware.ImageHeader{
		Magic:   firmware.ImageMagic,
		HdrSize: firmware.ImageHeaderSize,
		ImgSize: uint32(size),
		Version: firmware.ImageVersion{Major: major, Minor: minor, Revision: revision},
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, hdr)
	for i := 0; i < size; i++ {
		buf.WriteByte(byte(i))
	}

	hash := sha256.Sum256(buf.Bytes())

	total := firmware.TLVInfoSize + firmware.TLVEntrySize + sha256.Size
	binary.Write(&buf, binary.LittleEndian, uint16(firmware.TLVInfoMagic))
	binary.Write(&buf, binary.LittleEndian, uint16(total))
	binary.Write(&buf, binary.LittleEndian, uint16(firmware.TLVTypeSHA256))
	binary.Write(&buf, binary.LittleEndian, uint16(sha256.Size))
	buf.Write(hash[:])

	return buf.Bytes(), hash[:]
}
