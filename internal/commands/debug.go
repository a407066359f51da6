package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/smp-tool/internal/ble"
	"github.com/vitaminmoo/smp-tool/internal/firmware"
)

// ParseImage parses an MCUboot image file and displays its header fields
// (no device connection).
func ParseImage(filename string) error {
	info, _, err := firmware.ParseImageFile(filename)
	if err != nil {
		return err
	}

	fmt.Printf("Version:    %s\n", info.Version)
	fmt.Printf("Hash:       %s\n", hex.EncodeToString(info.Hash))
	fmt.Printf("Hash valid: %v\n", info.HashValid)
	fmt.Printf("Image size: %s (%d bytes)\n", humanize.Bytes(uint64(info.ImageSize)), info.ImageSize)
	fmt.Printf("File size:  %s (%d bytes)\n", humanize.Bytes(uint64(info.FileSize)), info.FileSize)
	fmt.Printf("Flags:      0x%08x\n", info.Flags)
	fmt.Printf("Load addr:  0x%08x\n", info.LoadAddr)
	return nil
}

// Scan lists advertising devices for the given duration.
func Scan(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	seen := map[string]bool{}
	fmt.Printf("Scanning for %s...\n", d)
	err := ble.Scan(ctx, func(r ble.ScanResult) {
		if seen[r.Address] {
			return
		}
		seen[r.Address] = true
		fmt.Printf("  %-24s %s  %d dBm\n", r.Name, r.Address, r.RSSI)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Printf("%d device(s) found\n", len(seen))
	return nil
}
