// Package mediacache fetches remote media referenced in notes and memoizes
// the decoded bytes for a fixed TTL, so images referenced repeatedly across
// conversation turns are downloaded and converted once per window.
//
// The prompt backend accepts a constrained set of image encodings, so
// anything else is transcoded at the cache boundary: every caller gets a
// valid encoding without repeating conversion logic.
package mediacache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "image/gif"  // register GIF decoding for transcode
	_ "image/jpeg" // register JPEG decoding for transcode
)

const (
	// DefaultTTL is how long a resolved payload stays valid.
	DefaultTTL = time.Hour

	// maxMediaBytes bounds how much of a remote response is read.
	maxMediaBytes = 20 << 20 // 20 MiB
)

// ErrFetch indicates the remote media could not be retrieved or decoded.
var ErrFetch = errors.New("media fetch failed")

// acceptedMimeTypes are the encodings the prompt backend takes as-is.
// Anything else is transcoded to PNG.
var acceptedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Payload is the resolved media content.
type Payload struct {
	// Data is the raw media bytes.
	Data []byte

	// MimeType is the (possibly normalized) MIME type of Data.
	MimeType string
}

type entry struct {
	payload   Payload
	expiresAt time.Time
}

// Cache is a read-through cache of remote media, keyed by source URL.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a media cache. A zero ttl means DefaultTTL.
func New(ttl time.Duration, fetchTimeout time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		client:  &http.Client{Timeout: fetchTimeout},
		logger:  logger.With("component", "mediacache"),
		now:     time.Now,
	}
}

// Get returns the cached payload for url, or ok=false when the url was
// never cached or its entry has expired. Callers cannot distinguish the
// two cases: the contract is "may need refetch", not "was never seen".
func (c *Cache) Get(url string) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[url]
	if !ok {
		return Payload{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, url)
		return Payload{}, false
	}
	return e.payload, true
}

// Put stores a payload and (re)starts its TTL countdown from now.
func (c *Cache) Put(url string, p Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = entry{payload: p, expiresAt: c.now().Add(c.ttl)}
}

// Resolve returns the payload for url, fetching and normalizing it on a
// cache miss. This is the operation callers actually use; hit or miss is
// invisible to them except for latency.
func (c *Cache) Resolve(ctx context.Context, url string) (Payload, error) {
	if p, ok := c.Get(url); ok {
		return p, nil
	}

	p, err := c.fetch(ctx, url)
	if err != nil {
		return Payload{}, err
	}

	c.Put(url, p)
	c.logger.Debug("media resolved", "url", url, "mime", p.MimeType, "bytes", len(p.Data))
	return p, nil
}

// Prune drops expired entries and returns how many were removed. Meant to
// run periodically so a long-lived process does not accumulate every image
// it has ever seen.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for url, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, url)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) fetch(ctx context.Context, url string) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: build request for %q: %v", ErrFetch, url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: get %q: %v", ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Payload{}, fmt.Errorf("%w: get %q: status %d", ErrFetch, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: read %q: %v", ErrFetch, url, err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))

	if acceptedMimeTypes[mimeType] {
		return Payload{Data: data, MimeType: mimeType}, nil
	}
	return transcode(data, mimeType, url)
}

// transcode re-encodes media the prompt backend would reject as PNG.
func transcode(data []byte, mimeType, url string) (Payload, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: decode %q (%s): %v", ErrFetch, url, mimeType, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Payload{}, fmt.Errorf("%w: transcode %q: %v", ErrFetch, url, err)
	}
	return Payload{Data: buf.Bytes(), MimeType: "image/png"}, nil
}
