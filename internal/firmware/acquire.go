package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/imroc/req"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInsecureSource is returned for firmware URLs that are not https.
	ErrInsecureSource = errors.New("insecure firmware source rejected")
	// ErrDownloadFailed matches every *DownloadError.
	ErrDownloadFailed = errors.New("firmware download failed")
)

// DownloadError reports a failed fetch. Status is zero for network errors.
type DownloadError struct {
	URL    string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download failed (%d)", e.Status)
	}
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool { return target == ErrDownloadFailed }

// Acquirer downloads firmware images over https and keeps them in memory
// for the lifetime of the process, keyed by source URL.
type Acquirer struct {
	client  *http.Client
	parse   func([]byte) (*ImageInfo, error)
	logger  *slog.Logger
	maxSize int64

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*Entry
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) AcquirerOption {
	return func(a *Acquirer) { a.client = c }
}

// WithParser replaces the image parser.
func WithParser(parse func([]byte) (*ImageInfo, error)) AcquirerOption {
	return func(a *Acquirer) { a.parse = parse }
}

// WithAcquirerLogger sets the logger.
func WithAcquirerLogger(l *slog.Logger) AcquirerOption {
	return func(a *Acquirer) { a.logger = l }
}

// WithMaxImageSize bounds the accepted download size.
func WithMaxImageSize(n int64) AcquirerOption {
	return func(a *Acquirer) { a.maxSize = n }
}

// NewAcquirer creates an Acquirer with an empty cache.
func NewAcquirer(opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		client:  &http.Client{Timeout: 2 * time.Minute},
		parse:   ParseImage,
		logger:  slog.Default(),
		maxSize: 16 * 1024 * 1024,
		cache:   make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckSecure rejects anything but an absolute https URL.
func CheckSecure(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid firmware url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInsecureSource, rawURL)
	}
	return nil
}

// Acquire returns the image at rawURL, downloading it on first use.
// Concurrent callers for the same URL share one download. Failed
// downloads and unparseable images are not cached.
func (a *Acquirer) Acquire(ctx context.Context, rawURL string) (*Entry, error) {
	if err := CheckSecure(rawURL); err != nil {
		return nil, err
	}
	if e := a.Cached(rawURL); e != nil {
		return e, nil
	}

	// The shared download outlives any single caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(rawURL, func() (any, error) {
		return a.fetch(fetchCtx, rawURL)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refetch drops any cached copy of rawURL and downloads it again.
func (a *Acquirer) Refetch(ctx context.Context, rawURL string) (*Entry, error) {
	a.Invalidate(rawURL)
	return a.Acquire(ctx, rawURL)
}

// Invalidate removes rawURL from the cache.
func (a *Acquirer) Invalidate(rawURL string) {
	a.mu.Lock()
	delete(a.cache, rawURL)
	a.mu.Unlock()
}

// Cached returns the cached entry for rawURL or nil.
func (a *Acquirer) Cached(rawURL string) *Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cache[rawURL]
}

func (a *Acquirer) fetch(ctx context.Context, rawURL string) (*Entry, error) {
	if e := a.Cached(rawURL); e != nil {
		return e, nil
	}

	a.logger.Info("firmware_download_start", "url", rawURL)
	start := time.Now()

	r := req.New()
	r.SetClient(a.client)
	resp, err := r.Get(rawURL, ctx, req.Header{"Accept": "application/octet-stream"})
	if err != nil {
		a.logger.Error("firmware_download_failed", "url", rawURL, "error", err)
		return nil, &DownloadError{URL: rawURL, Err: err}
	}

	httpResp := resp.Response()
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		httpResp.Body.Close()
		a.logger.Error("firmware_download_failed", "url", rawURL, "status", httpResp.StatusCode)
		return nil, &DownloadError{URL: rawURL, Status: httpResp.StatusCode}
	}
	defer httpResp.Body.Close()
	if httpResp.ContentLength > a.maxSize {
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("image too large: %d bytes", httpResp.ContentLength)}
	}

	// Chunked responses carry no length, so stop reading one byte past the limit.
	data, err := io.ReadAll(io.LimitReader(httpResp.Body, a.maxSize+1))
	if err != nil {
		a.logger.Error("firmware_download_failed", "url", rawURL, "error", err)
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	if int64(len(data)) > a.maxSize {
		a.logger.Error("firmware_download_too_large", "url", rawURL, "limit", a.maxSize)
		return nil, &DownloadError{URL: rawURL, Err: fmt.Errorf("image exceeds %d bytes", a.maxSize)}
	}

	info, err := a.parse(data)
	if err != nil {
		a.logger.Error("firmware_parse_failed", "url", rawURL, "bytes", len(data), "error", err)
		if !errors.Is(err, ErrInvalidImageFormat) {
			err = fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
		}
		return nil, err
	}

	contentType := httpResp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	e := &Entry{
		SourceURL:    rawURL,
		ResolvedName: ResolveFilename(httpResp.Header.Get("Content-Disposition"), rawURL),
		ContentType:  contentType,
		Bytes:        data,
		Info:         *info,
		FetchedAt:    time.Now(),
	}

	a.mu.Lock()
	a.cache[rawURL] = e
	a.mu.Unlock()

	a.logger.Info("firmware_download_complete",
		"url", rawURL,
		"name", e.ResolvedName,
		"version", info.Version,
		"bytes", len(data),
		"duration", time.Since(start))
	return e, nil
}
