// Package fillercache persists pre-synthesized filler phrases on disk so they
// can be played without a synthesis round trip.
//
// Entries are content-addressed: the file name is a hash of the phrase and
// every parameter that influences the synthesized audio. Each file carries a
// checksum header; an entry that fails verification is treated as a miss and
// regenerated. Entries are never expired.
package fillercache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/callcore/internal/observe"
)

// ErrCorrupt is returned by Get when a persisted entry fails verification.
var ErrCorrupt = errors.New("fillercache: corrupt entry")

// entryMagic prefixes every cache file.
var entryMagic = [4]byte{'C', 'C', 'F', '1'}

// headerSize is magic + checksum + payload length.
const headerSize = 4 + 8 + 8

// Fingerprint identifies the synthesis configuration a phrase was produced
// with.
type Fingerprint struct {
	// Engine is the synthesis backend name.
	Engine string

	// Encoding is the audio encoding name (e.g. "linear16").
	Encoding string

	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Voice is the voice identity (see tts.VoiceProfile.Identity).
	Voice string
}

// Key returns the content address of phrase under f.
func (f Fingerprint) Key(phrase string) string {
	s := strings.Join([]string{phrase, f.Engine, f.Encoding, strconv.Itoa(f.SampleRate), f.Voice}, "\x00")
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}

// SynthesizeFunc produces the audio for a missing entry.
type SynthesizeFunc func(ctx context.Context) ([]byte, error)

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics overrides the metrics used for lookup accounting.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is a disk-backed filler audio store. It is safe for concurrent use.
type Cache struct {
	dir     string
	metrics *observe.Metrics
	group   singleflight.Group
	mem     sync.Map // key -> []byte
}

// New creates a Cache rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("fillercache: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fillercache: create dir: %w", err)
	}
	c := &Cache{dir: dir, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the file path of key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.dir, key+".bytes")
}

// GetOrCreate returns the audio for phrase under fp, synthesizing and
// persisting it with fn on a miss. Concurrent callers for the same entry share
// one synthesis, which runs detached from any single caller's cancellation;
// each caller stops waiting when its own ctx is done. An entry that cannot be
// read is regenerated. The returned slice must not be modified.
func (c *Cache) GetOrCreate(ctx context.Context, phrase string, fp Fingerprint, fn SynthesizeFunc) ([]byte, error) {
	key := fp.Key(phrase)
	if v, ok := c.mem.Load(key); ok {
		c.metrics.RecordFillerLookup(ctx, "hit")
		return v.([]byte), nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(shared, key, phrase, fn)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	}
}

// load reads key from disk, falling back to fn when the entry is missing,
// damaged or unreadable.
func (c *Cache) load(ctx context.Context, key, phrase string, fn SynthesizeFunc) ([]byte, error) {
	data, err := c.Get(key)
	switch {
	case err == nil:
		c.metrics.RecordFillerLookup(ctx, "hit")
		c.mem.Store(key, data)
		return data, nil
	case errors.Is(err, ErrCorrupt):
		c.metrics.RecordFillerLookup(ctx, "corrupt")
		slog.Warn("fillercache: regenerating corrupt entry", "phrase", phrase, "key", key, "err", err)
	case errors.Is(err, fs.ErrNotExist):
		c.metrics.RecordFillerLookup(ctx, "miss")
	default:
		c.metrics.RecordFillerLookup(ctx, "miss")
		slog.Warn("fillercache: entry unreadable, regenerating", "phrase", phrase, "key", key, "err", err)
	}

	data, err = fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("fillercache: synthesize %q: %w", phrase, err)
	}
	if err := c.Put(key, data); err != nil {
		// The audio is still usable for this process.
		slog.Warn("fillercache: persist entry failed", "phrase", phrase, "key", key, "err", err)
	}
	c.mem.Store(key, data)
	return data, nil
}

// Get reads and verifies the entry stored under key. A missing entry returns
// an error matching fs.ErrNotExist; a damaged one returns ErrCorrupt. Other
// read failures are returned wrapped.
func (c *Cache) Get(key string) ([]byte, error) {
	raw, err := os.ReadFile(c.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("fillercache: read %s: %w", key, err)
	}
	return decodeEntry(raw)
}

// Put atomically writes data under key.
func (c *Cache) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("fillercache: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encodeEntry(data)); err != nil {
		tmp.Close()
		return fmt.Errorf("fillercache: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fillercache: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), c.Path(key)); err != nil {
		return fmt.Errorf("fillercache: rename %s: %w", key, err)
	}
	return nil
}

func encodeEntry(data []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(data))
	copy(out, entryMagic[:])
	binary.LittleEndian.PutUint64(out[4:], xxhash.Sum64(data))
	binary.LittleEndian.PutUint64(out[12:], uint64(len(data)))
	return append(out, data...)
}

func decodeEntry(raw []byte) ([]byte, error) {
	if len(raw) < headerSize || !slices.Equal(raw[:4], entryMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	sum := binary.LittleEndian.Uint64(raw[4:])
	n := binary.LittleEndian.Uint64(raw[12:])
	data := raw[headerSize:]
	if uint64(len(data)) != n {
		return nil, fmt.Errorf("%w: length %d, header says %d", ErrCorrupt, len(data), n)
	}
	if xxhash.Sum64(data) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return data, nil
}
