// Package avatar loads room and sender avatars from local files for the
// notification drawer.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	logx "notidrawer/pkg/logx"
)

var (
	ErrTooLarge      = errors.New("avatar file too large")
	ErrTooManyPixels = errors.New("avatar dimensions too large")
)

const (
	defaultCacheSize = 128
	defaultMaxBytes  = 4 << 20
	defaultMaxPixels = 4096 * 4096
)

type cacheKey struct {
	path  string
	mtime time.Time
	size  int64
}

// Resolver decodes avatar files and keeps recently used images in an LRU
// cache keyed by path and modification time, so a replaced file is reloaded.
//
// It is safe for concurrent use.
type Resolver struct {
	cache     *lru.Cache[cacheKey, image.Image]
	maxBytes  int64
	maxPixels int64
	log       logx.Logger
}

// NewResolver caps both the file size and the decoded width*height, since a
// small file can declare huge dimensions.
func NewResolver(cacheSize int, maxBytes, maxPixels int64, log logx.Logger) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if maxPixels <= 0 {
		maxPixels = defaultMaxPixels
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cache, err := lru.New[cacheKey, image.Image](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("avatar cache: %w", err)
	}
	return &Resolver{cache: cache, maxBytes: maxBytes, maxPixels: maxPixels, log: log}, nil
}

// LoadImage returns the decoded image at path. It never panics; decoder
// panics are turned into errors.
func (r *Resolver) LoadImage(ctx context.Context, path string) (img image.Image, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("avatar %s: is a directory", path)
	}
	if st.Size() > r.maxBytes {
		return nil, fmt.Errorf("avatar %s: %w (%d > %d bytes)", path, ErrTooLarge, st.Size(), r.maxBytes)
	}

	key := cacheKey{path: path, mtime: st.ModTime(), size: st.Size()}
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	data, err := readCapped(path, r.maxBytes)
	if err != nil {
		return nil, err
	}
	img, err = decode(data, r.maxPixels)
	if err != nil {
		return nil, fmt.Errorf("avatar %s: %w", path, err)
	}
	if evicted := r.cache.Add(key, img); evicted {
		r.log.Debug("avatar cache evicted an entry", logx.Int("len", r.cache.Len()))
	}
	return img, nil
}

// Len returns the number of cached images.
func (r *Resolver) Len() int { return r.cache.Len() }

func readCapped(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrTooLarge
	}
	return data, nil
}

// decode reads the header first and refuses images over maxPixels before
// any pixel buffer is allocated.
func decode(data []byte, maxPixels int64) (img image.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img, err = nil, fmt.Errorf("decode panic: %v", rec)
		}
	}()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width) > maxPixels/int64(cfg.Height) {
		return nil, fmt.Errorf("%w: %dx%d > %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err = image.Decode(bytes.NewReader(data))
	return img, err
}
