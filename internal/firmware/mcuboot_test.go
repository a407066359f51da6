package firmware_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/firmware/firmwaretest"
)

func TestParseImage(t *testing.T) {
	img, hash := firmwaretest.Image(1, 4, 2, 300)

	info, err := firmware.ParseImage(img)
	if err != nil {
		t.Fatalf("ParseImage() error = %v", err)
	}
	if info.Version != "1.4.2" {
		t.Errorf("Version = %q, want 1.4.2", info.Version)
	}
	if !bytes.Equal(info.Hash, hash) {
		t.Errorf("Hash = %x, want %x", info.Hash, hash)
	}
	if info.ImageSize != firmware.ImageHeaderSize+300 {
		t.Errorf("ImageSize = %d, want %d", info.ImageSize, firmware.ImageHeaderSize+300)
	}
	if info.FileSize != len(img) {
		t.Errorf("FileSize = %d, want %d", info.FileSize, len(img))
	}
	if !info.HashValid {
		t.Error("HashValid = false for an untouched image")
	}
}

func TestParseImageDetectsTamperedBody(t *testing.T) {
	img, _ := firmwaretest.Image(1, 0, 0, 64)
	img[firmware.ImageHeaderSize+3] ^= 0xFF

	info, err := firmware.ParseImage(img)
	if err != nil {
		t.Fatalf("ParseImage() error = %v", err)
	}
	if info.HashValid {
		t.Error("HashValid = true for a modified body")
	}
}

func TestParseImageVersionWithBuild(t *testing.T) {
	v := firmware.ImageVersion{Major: 2, Minor: 0, Revision: 1, Build: 7}
	if v.String() != "2.0.1.7" {
		t.Errorf("String() = %q, want 2.0.1.7", v.String())
	}
}

func TestParseImageInvalid(t *testing.T) {
	good, _ := firmwaretest.Image(1, 0, 0, 32)

	badMagic := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(badMagic[0:4], 0xdeadbeef)

	truncated := good[:firmware.ImageHeaderSize+10]

	noTLV := append([]byte(nil), good[:firmware.ImageHeaderSize+32]...)

	badTLVMagic := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(badTLVMagic[firmware.ImageHeaderSize+32:], 0x1234)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", good[:10]},
		{"bad magic", badMagic},
		{"truncated body", truncated},
		{"missing TLV area", noTLV},
		{"bad TLV magic", badTLVMagic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := firmware.ParseImage(tt.data)
			if !errors.Is(err, firmware.ErrInvalidImageFormat) {
				t.Errorf("ParseImage() error = %v, want ErrInvalidImageFormat", err)
			}
		})
	}
}

func TestParseImageFile(t *testing.T) {
	img, _ := firmwaretest.Image(3, 1, 0, 16)
	path := filepath.Join(t.TempDir(), "app.signed.bin")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}

	info, data, err := firmware.ParseImageFile(path)
	if err != nil {
		t.Fatalf("ParseImageFile() error = %v", err)
	}
	if info.Version != "3.1.0" || len(data) != len(img) {
		t.Errorf("got version %s, %d bytes", info.Version, len(data))
	}
}
