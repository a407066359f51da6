// Package store keeps a content-addressable library of firmware images
// keyed by their MCUboot image hash.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vitaminmoo/smp-tool/internal/firmware"
)

var (
	// ErrNotFound is returned when no stored image matches a hash.
	ErrNotFound = errors.New("image not found in store")
	// ErrAmbiguous is returned when a short hash matches several images.
	ErrAmbiguous = errors.New("hash prefix matches more than one image")
)

// Store manages a content-addressable collection of firmware images.
type Store struct {
	baseDir     string
	imagesDir   string
	metadataDir string
	indexPath   string

	mu sync.Mutex
}

// Index contains quick lookup information for all images.
type Index struct {
	Images    map[string]IndexEntry `json:"images"` // hash -> entry
	UpdatedAt time.Time             `json:"updated_at"`
}

// IndexEntry contains summary info for quick listing.
type IndexEntry struct {
	Hash      string    `json:"-"`
	Version   string    `json:"version"`
	FileSize  int       `json:"file_size"`
	HashValid bool      `json:"hash_valid"`
	CreatedAt time.Time `json:"created_at"`
}

// Open opens or creates a store at the given path.
func Open(path string) (*Store, error) {
	s := &Store{
		baseDir:     path,
		imagesDir:   filepath.Join(path, "images"),
		metadataDir: filepath.Join(path, "metadata"),
		indexPath:   filepath.Join(path, "index.json"),
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images dir: %w", err)
	}
	if err := os.MkdirAll(s.metadataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata dir: %w", err)
	}

	return s, nil
}

// Import adds an image to the store.
// If the image already exists (same hash), it appends the source.
// Returns the hash and whether it was a new image.
func (s *Store) Import(data []byte, source Source) (string, bool, error) {
	info, err := firmware.ParseImage(data)
	if err != nil {
		return "", false, err
	}
	hash, err := ContentHash(info.Hash)
	if err != nil {
		return "", false, err
	}
	if source.Timestamp.IsZero() {
		source.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	imagePath := filepath.Join(s.imagesDir, hashToFilename(hash)+".bin")
	metaPath := filepath.Join(s.metadataDir, hashToFilename(hash)+".json")

	isNew := false
	var meta *Metadata

	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		isNew = true
		meta = ExtractMetadata(info, hash)
		meta.Sources = []Source{source}

		if err := os.WriteFile(imagePath, data, 0644); err != nil {
			return "", false, fmt.Errorf("failed to write image: %w", err)
		}
	} else {
		meta, err = s.readMetadata(metaPath)
		if err != nil {
			return "", false, err
		}
		meta.Sources = append(meta.Sources, source)
		meta.UpdatedAt = time.Now()
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", false, fmt.Errorf("failed to write metadata: %w", err)
	}

	if err := s.updateIndex(hash, meta); err != nil {
		return "", false, fmt.Errorf("failed to update index: %w", err)
	}

	return hash, isNew, nil
}

// ImportEntry stores a downloaded firmware entry.
func (s *Store) ImportEntry(e *firmware.Entry) (string, bool, error) {
	return s.Import(e.Bytes, Source{
		Timestamp: e.FetchedAt,
		Method:    "download",
		Filename:  e.ResolvedName,
		URL:       e.SourceURL,
	})
}

// Resolve expands a full or abbreviated hash to the stored key.
func (s *Store) Resolve(hash string) (string, error) {
	want := hashToFilename(strings.ToLower(hash))
	if want == "" {
		return "", ErrNotFound
	}

	s.mu.Lock()
	index, err := s.loadIndex()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	var match string
	for key := range index.Images {
		if !strings.HasPrefix(hashToFilename(key), want) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %s", ErrAmbiguous, hash)
		}
		match = key
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return match, nil
}

// Get retrieves image data by full or abbreviated hash.
func (s *Store) Get(hash string) ([]byte, error) {
	key, err := s.Resolve(hash)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.imagesDir, hashToFilename(key)+".bin"))
}

// GetMetadata retrieves image metadata by full or abbreviated hash.
func (s *Store) GetMetadata(hash string) (*Metadata, error) {
	key, err := s.Resolve(hash)
	if err != nil {
		return nil, err
	}
	return s.readMetadata(filepath.Join(s.metadataDir, hashToFilename(key)+".json"))
}

// List returns all images in the store, newest first.
func (s *Store) List() ([]IndexEntry, error) {
	s.mu.Lock()
	index, err := s.loadIndex()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := make([]IndexEntry, 0, len(index.Images))
	for hash, entry := range index.Images {
		entry.Hash = hash
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Hash < entries[j].Hash
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	return entries, nil
}

// Export writes an image to a file.
func (s *Store) Export(hash, destPath string) error {
	data, err := s.Get(hash)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0644)
}

// Count returns the number of images in the store.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, err := s.loadIndex()
	if err != nil {
		return 0, err
	}
	return len(index.Images), nil
}

func (s *Store) readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

func (s *Store) loadIndex() (*Index, error) {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return &Index{Images: make(map[string]IndexEntry)}, nil
	}
	if err != nil {
		return nil, err
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	if index.Images == nil {
		index.Images = make(map[string]IndexEntry)
	}
	return &index, nil
}

func (s *Store) updateIndex(hash string, meta *Metadata) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	index.Images[hash] = IndexEntry{
		Version:   meta.Version,
		FileSize:  meta.FileSize,
		HashValid: meta.HashValid,
		CreatedAt: meta.CreatedAt,
	}
	index.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.indexPath, data, 0644)
}
