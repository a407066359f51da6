package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vitaminmoo/smp-tool/internal/config"
	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/firmware/firmwaretest"
	"github.com/vitaminmoo/smp-tool/internal/logger"
	"github.com/vitaminmoo/smp-tool/internal/session"
	"github.com/vitaminmoo/smp-tool/internal/slots"
	"github.com/vitaminmoo/smp-tool/internal/store"
)

func testEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()
	return &Env{
		Settings: &config.Settings{
			StorePath:    filepath.Join(dir, "store"),
			HistoryPath:  filepath.Join(dir, "history.db"),
			MaxImageSize: 1 << 20,
		},
		Logger: logger.Discard(),
	}
}

func TestResolveSlotHash(t *testing.T) {
	list := []slots.ImageSlot{
		{Slot: 0, Hash: []byte{0xab, 0xcd, 0x01}},
		{Slot: 1, Hash: []byte{0xab, 0xef, 0x02}},
	}
	fallback := []byte{0xff}

	tests := []struct {
		name    string
		arg     string
		want    []byte
		wantErr string
	}{
		{"empty uses fallback", "", fallback, ""},
		{"full hash", "abcd01", list[0].Hash, ""},
		{"unique prefix", "abe", list[1].Hash, ""},
		{"prefixed key", "sha256:abcd", list[0].Hash, ""},
		{"ambiguous", "ab", nil, "more than one"},
		{"unknown", "12", nil, "no slot"},
		{"not hex", "xyz", nil, "invalid hash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSlotHash(list, tt.arg, fallback)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("resolveSlotHash(%q) error = %v, want %q", tt.arg, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveSlotHash(%q) error = %v", tt.arg, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("resolveSlotHash(%q) = %x, want %x", tt.arg, got, tt.want)
			}
		})
	}

	if _, err := resolveSlotHash(list, "", nil); err == nil {
		t.Error("resolveSlotHash() without fallback should fail")
	}
}

func TestSlotFlags(t *testing.T) {
	no := false
	tests := []struct {
		slot slots.ImageSlot
		want string
	}{
		{slots.ImageSlot{Active: true, Confirmed: true}, "active confirmed"},
		{slots.ImageSlot{Pending: true, Permanent: true}, "pending permanent"},
		{slots.ImageSlot{Bootable: &no}, "not-bootable"},
		{slots.ImageSlot{}, "-"},
	}
	for _, tt := range tests {
		if got := SlotFlags(tt.slot); got != tt.want {
			t.Errorf("SlotFlags(%+v) = %q, want %q", tt.slot, got, tt.want)
		}
	}
}

func TestRemedyText_CoversEveryRemedy(t *testing.T) {
	for r := session.EraseSlot; r <= session.SmallerImage; r++ {
		if got := RemedyText(r); got == r.String() || got == "" {
			t.Errorf("RemedyText(%v) has no wording", r)
		}
	}
}

func TestEnv_LoadImage(t *testing.T) {
	env := testEnv(t)
	ctx := context.Background()
	data, _ := firmwaretest.Image(1, 0, 0, 256)

	path := filepath.Join(t.TempDir(), "app.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, name, err := env.LoadImage(ctx, ImageSource{File: path})
	if err != nil || name != "app.bin" || !bytes.Equal(got, data) {
		t.Fatalf("LoadImage(file) = %d bytes, %q, %v", len(got), name, err)
	}

	s, err := env.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	hash, _, err := s.Import(data, store.Source{Method: "import"})
	if err != nil {
		t.Fatal(err)
	}
	got, _, err = env.LoadImage(ctx, ImageSource{Hash: store.ShortHash(hash)})
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("LoadImage(hash) = %d bytes, %v", len(got), err)
	}

	if _, _, err := env.LoadImage(ctx, ImageSource{}); err == nil {
		t.Error("LoadImage() with no source should fail")
	}
}

func TestEnv_FetchStoresDownload(t *testing.T) {
	data, imageHash := firmwaretest.Image(3, 1, 0, 300)
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="fieldy.bin"`)
		w.Write(data)
	}))
	defer ts.Close()

	env := testEnv(t)
	env.acquirer = firmware.NewAcquirer(firmware.WithHTTPClient(ts.Client()), firmware.WithAcquirerLogger(env.Logger))

	out := filepath.Join(t.TempDir(), "fw.bin")
	link := "https://app.example.test/?firmwareUrl=" + ts.URL + "/fw"
	if err := env.Fetch(context.Background(), ImageSource{Link: link}, out); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	written, err := os.ReadFile(out)
	if err != nil || !bytes.Equal(written, data) {
		t.Fatalf("output file = %d bytes, %v", len(written), err)
	}

	s, err := env.OpenStore()
	if err != nil {
		t.Fatal(err)
	}
	key, _ := store.ContentHash(imageHash)
	meta, err := s.GetMetadata(key)
	if err != nil {
		t.Fatalf("downloaded image not stored: %v", err)
	}
	if meta.Version != "3.1.0" || meta.Sources[0].Method != "download" || meta.Sources[0].Filename != "fieldy.bin" {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestEnv_FetchNeedsURL(t *testing.T) {
	env := testEnv(t)
	if err := env.Fetch(context.Background(), ImageSource{}, ""); err == nil {
		t.Error("Fetch() without url should fail")
	}
}

func TestUploadReporter_WithoutBarIgnoresProgress(t *testing.T) {
	r := NewUploadReporter(0)
	events := []session.Event{
		session.ConnectedEvent{Name: "Fieldy"},
		session.UploadProgressEvent{Percentage: 50, BytesSent: 10, TotalSize: 20, TimeoutAdjusted: true},
		session.UploadCancelledEvent{},
		session.UploadErrorEvent{Remedies: []session.Remedy{session.Reconnect}},
		session.DisconnectedEvent{},
	}
	for _, e := range events {
		r.Handle(e)
	}
}
