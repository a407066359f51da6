package store

import (
	"time"

	"github.com/vitaminmoo/smp-tool/internal/firmware"
)

// Metadata describes one stored firmware image.
type Metadata struct {
	ContentHash string    `json:"content_hash"`
	Version     string    `json:"version"`
	ImageSize   int       `json:"image_size"`
	FileSize    int       `json:"file_size"`
	Flags       uint32    `json:"flags,omitempty"`
	LoadAddr    uint32    `json:"load_addr,omitempty"`
	HashValid   bool      `json:"hash_valid"`
	Sources     []Source  `json:"sources"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Source records where an image was obtained from.
type Source struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"` // "import", "download"
	Filename  string    `json:"filename,omitempty"`
	URL       string    `json:"url,omitempty"`
}

// ExtractMetadata builds metadata from a parsed image.
func ExtractMetadata(info *firmware.ImageInfo, hash string) *Metadata {
	now := time.Now()
	return &Metadata{
		ContentHash: hash,
		Version:     info.Version,
		ImageSize:   info.ImageSize,
		FileSize:    info.FileSize,
		Flags:       info.Flags,
		LoadAddr:    info.LoadAddr,
		HashValid:   info.HashValid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
