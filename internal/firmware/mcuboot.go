package firmware

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// MCUboot image format constants
const (
	ImageMagic      = 0x96f3b83d
	ImageHeaderSize = 32

	TLVInfoMagic     = 0x6907
	TLVProtInfoMagic = 0x6908
	TLVInfoSize      = 4
	TLVEntrySize     = 4

	TLVTypeSHA256 = 0x10
)

// ErrInvalidImageFormat is returned for data that is not a well-formed MCUboot image.
var ErrInvalidImageFormat = errors.New("invalid image format")

// ImageVersion is the version field of an MCUboot header.
type ImageVersion struct {
	Major    uint8
	Minor    uint8
	Revision uint16
	Build    uint32
}

// String formats the version the way the device reports it in slot listings.
func (v ImageVersion) String() string {
	if v.Build != 0 {
		return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Revision, v.Build)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// ImageHeader is the fixed header at the start of an MCUboot image.
type ImageHeader struct {
	Magic          uint32
	LoadAddr       uint32
	HdrSize        uint16
	ProtectTLVSize uint16
	ImgSize        uint32
	Flags          uint32
	Version        ImageVersion
	Pad            uint32
}

// tlvInfo precedes each TLV area. Total includes the info header itself.
type tlvInfo struct {
	Magic uint16
	Total uint16
}

type tlvEntry struct {
	Type uint16
	Len  uint16
}

// ImageInfo is what the tool needs to know about a firmware image.
type ImageInfo struct {
	Version   string `json:"version"`
	Hash      []byte `json:"hash"`
	ImageSize int    `json:"image_size"`
	FileSize  int    `json:"file_size"`
	Flags     uint32 `json:"flags"`
	LoadAddr  uint32 `json:"load_addr"`
	// HashValid reports whether the SHA256 TLV matches the image contents.
	HashValid bool `json:"hash_valid"`
}

// ParseImageFile parses an MCUboot image from a file.
func ParseImageFile(path string) (*ImageInfo, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	info, err := ParseImage(data)
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}

// ParseImage extracts version, hash and size from an MCUboot image.
func ParseImage(data []byte) (*ImageInfo, error) {
	var hdr ImageHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: failed to read image header: %v", ErrInvalidImageFormat, err)
	}

	if hdr.Magic != ImageMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x (expected 0x%08x)",
			ErrInvalidImageFormat, hdr.Magic, uint32(ImageMagic))
	}
	if hdr.HdrSize < ImageHeaderSize {
		return nil, fmt.Errorf("%w: header size %d too small", ErrInvalidImageFormat, hdr.HdrSize)
	}

	imageEnd := int(hdr.HdrSize) + int(hdr.ImgSize)
	if imageEnd > len(data) {
		return nil, fmt.Errorf("%w: image claims %d bytes, file has %d",
			ErrInvalidImageFormat, imageEnd, len(data))
	}

	off := imageEnd
	if hdr.ProtectTLVSize > 0 {
		info, err := readTLVInfo(data, off)
		if err != nil {
			return nil, err
		}
		if info.Magic != TLVProtInfoMagic {
			return nil, fmt.Errorf("%w: bad protected TLV magic 0x%04x", ErrInvalidImageFormat, info.Magic)
		}
		off += int(hdr.ProtectTLVSize)
	}
	hashedEnd := off

	info, err := readTLVInfo(data, off)
	if err != nil {
		return nil, err
	}
	if info.Magic != TLVInfoMagic {
		return nil, fmt.Errorf("%w: bad TLV magic 0x%04x", ErrInvalidImageFormat, info.Magic)
	}
	end := off + int(info.Total)
	if end > len(data) {
		return nil, fmt.Errorf("%w: TLV area overruns file", ErrInvalidImageFormat)
	}

	var hash []byte
	for p := off + TLVInfoSize; p+TLVEntrySize <= end; {
		var e tlvEntry
		if err := binary.Read(bytes.NewReader(data[p:p+TLVEntrySize]), binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("%w: failed to read TLV: %v", ErrInvalidImageFormat, err)
		}
		p += TLVEntrySize
		if p+int(e.Len) > end {
			return nil, fmt.Errorf("%w: TLV 0x%02x overruns area", ErrInvalidImageFormat, e.Type)
		}
		if e.Type == TLVTypeSHA256 && e.Len == sha256.Size {
			hash = append([]byte(nil), data[p:p+int(e.Len)]...)
		}
		p += int(e.Len)
	}
	if hash == nil {
		return nil, fmt.Errorf("%w: no SHA256 TLV", ErrInvalidImageFormat)
	}

	sum := sha256.Sum256(data[:hashedEnd])
	return &ImageInfo{
		Version:   hdr.Version.String(),
		Hash:      hash,
		ImageSize: imageEnd,
		FileSize:  len(data),
		Flags:     hdr.Flags,
		LoadAddr:  hdr.LoadAddr,
		HashValid: bytes.Equal(sum[:], hash),
	}, nil
}

func readTLVInfo(data []byte, off int) (tlvInfo, error) {
	var info tlvInfo
	if off+TLVInfoSize > len(data) {
		return info, fmt.Errorf("%w: missing TLV info at offset %d", ErrInvalidImageFormat, off)
	}
	if err := binary.Read(bytes.NewReader(data[off:off+TLVInfoSize]), binary.LittleEndian, &info); err != nil {
		return info, fmt.Errorf("%w: failed to read TLV info: %v", ErrInvalidImageFormat, err)
	}
	return info, nil
}
