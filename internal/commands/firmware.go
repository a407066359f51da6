package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/vitaminmoo/smp-tool/internal/firmware"
	"github.com/vitaminmoo/smp-tool/internal/store"
)

// ImageSource names where an image to upload comes from. Exactly one
// field should be set.
type ImageSource struct {
	File string
	Hash string // store hash, full or abbreviated
	URL  string // https firmware URL
	Link string // shared page link carrying a firmwareUrl parameter
}

// ResolveURL returns the remote firmware URL of src, if any.
func (src ImageSource) ResolveURL() (string, error) {
	if src.Link != "" {
		return firmware.FirmwareURLFromLink(src.Link)
	}
	return src.URL, nil
}

// LoadImage reads the image bytes for src and a display name.
func (e *Env) LoadImage(ctx context.Context, src ImageSource) ([]byte, string, error) {
	switch {
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read file: %w", err)
		}
		return data, filepath.Base(src.File), nil

	case src.Hash != "":
		s, err := e.OpenStore()
		if err != nil {
			return nil, "", fmt.Errorf("failed to open store: %w", err)
		}
		data, err := s.Get(src.Hash)
		if err != nil {
			return nil, "", err
		}
		return data, store.ShortHash(src.Hash), nil

	case src.URL != "" || src.Link != "":
		url, err := src.ResolveURL()
		if err != nil {
			return nil, "", err
		}
		entry, err := e.Acquirer().Acquire(ctx, url)
		if err != nil {
			return nil, "", err
		}
		e.remember(entry)
		return entry.Bytes, entry.ResolvedName, nil
	}
	return nil, "", errors.New("no image given: pass a file, --hash, --url or --link")
}

// Fetch downloads remote firmware, adds it to the store and optionally
// writes it to output.
func (e *Env) Fetch(ctx context.Context, src ImageSource, output string) error {
	url, err := src.ResolveURL()
	if err != nil {
		return err
	}
	if url == "" {
		url = e.Settings.FirmwareURL
	}
	if url == "" {
		return errors.New("no firmware url: pass --url or --link, or set firmware-url")
	}

	fmt.Printf("Downloading %s...\n", url)
	entry, err := e.Acquirer().Acquire(ctx, url)
	if err != nil {
		return err
	}

	fmt.Printf("Name:    %s\n", entry.ResolvedName)
	fmt.Printf("Version: %s\n", entry.Info.Version)
	fmt.Printf("Size:    %s\n", humanize.Bytes(uint64(entry.Size())))
	fmt.Printf("Hash:    %s\n", shortHex(entry.Info.Hash))
	if !entry.Info.HashValid {
		fmt.Println("Warning: image hash does not match its contents")
	}

	if hash := e.remember(entry); hash != "" {
		fmt.Printf("Stored as %s\n", store.ShortHash(hash))
	}

	if output != "" {
		if output == "." {
			output = entry.ResolvedName
		}
		if err := os.WriteFile(output, entry.Bytes, 0o644); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Printf("Saved to: %s\n", output)
	}
	return nil
}

// remember adds a downloaded image to the store. Failures are logged only.
func (e *Env) remember(entry *firmware.Entry) string {
	s, err := e.OpenStore()
	if err != nil {
		e.Logger.Warn("store_open_failed", "error", err)
		return ""
	}
	hash, _, err := s.ImportEntry(entry)
	if err != nil {
		e.Logger.Warn("store_import_failed", "url", entry.SourceURL, "error", err)
		return ""
	}
	return hash
}
