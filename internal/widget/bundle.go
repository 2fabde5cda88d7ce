package widget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultBundlePath is where the UI build writes the compiled component
const DefaultBundlePath = "dist/component.js"

// ErrBundleMissing is wrapped by Load when the bundle cannot be read
var ErrBundleMissing = errors.New("component bundle missing")

// MissingBundleMessage tells the operator how to produce the bundle
func MissingBundleMessage(path string) string {
	return fmt.Sprintf("Failed to read component bundle at %s. Did you run \"npm run build\" in app/web?", path)
}

// BundleSource supplies the compiled UI component
type BundleSource interface {
	Load(ctx context.Context) (string, error)
}

// BundleConfig configures a BundleLoader
type BundleConfig struct {
	Path        string
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

type bundleEntry struct {
	size    int64
	modTime time.Time
	source  string
}

// BundleLoader reads the compiled component from disk. The file is stat'ed
// on every Load; cached contents are served only while path, size and
// modification time still match.
type BundleLoader struct {
	path  string
	ttl   time.Duration
	store *ristretto.Cache
}

// NewBundleLoader creates a loader for cfg.Path
func NewBundleLoader(cfg BundleConfig) (*BundleLoader, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultBundlePath
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64OrDefault(cfg.NumCounters, 1000),
		MaxCost:     int64OrDefault(cfg.MaxCost, 64<<20),
		BufferItems: int64OrDefault(cfg.BufferItems, 64),
	})
	if err != nil {
		return nil, fmt.Errorf("create bundle cache: %w", err)
	}
	return &BundleLoader{path: cfg.Path, ttl: cfg.TTL, store: store}, nil
}

// Path returns the bundle location
func (l *BundleLoader) Path() string {
	return l.path
}

// Check verifies the bundle is readable
func (l *BundleLoader) Check(ctx context.Context) error {
	_, err := l.Load(ctx)
	return err
}

// Load returns the bundle source
func (l *BundleLoader) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBundleMissing, l.path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrBundleMissing, l.path)
	}

	if v, ok := l.store.Get(l.path); ok {
		if entry, ok := v.(*bundleEntry); ok && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
			return entry.source, nil
		}
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrBundleMissing, l.path, err)
	}

	entry := &bundleEntry{size: info.Size(), modTime: info.ModTime(), source: string(data)}
	cost := int64(len(data))
	if cost == 0 {
		cost = 1
	}
	l.store.SetWithTTL(l.path, entry, cost, l.ttl)
	return entry.source, nil
}

// Wait blocks until pending cache writes are applied
func (l *BundleLoader) Wait() {
	l.store.Wait()
}

// Close releases the cache
func (l *BundleLoader) Close() {
	l.store.Close()
}

func int64OrDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
