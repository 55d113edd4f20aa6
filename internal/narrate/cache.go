package narrate

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/MrWong99/intervox/pkg/audio"
)

// Cache stores synthesized audio by key. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// MemoryCache is a process-wide [Cache] without eviction. Entries live until
// the process exits.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string][]byte
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string][]byte)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *MemoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

// Len returns the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// CacheKey identifies the audio for text spoken by voiceID.
func CacheKey(voiceID, text string) string {
	sum := sha256.Sum256([]byte(voiceID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Cached clips carry their format in a 6-byte header: uint32 sample rate and
// uint16 channel count, little-endian.
const clipHeader = 6

func encodeClip(c audio.Clip) []byte {
	out := make([]byte, clipHeader+len(c.Data))
	binary.LittleEndian.PutUint32(out, uint32(c.SampleRate))
	binary.LittleEndian.PutUint16(out[4:], uint16(c.Channels))
	copy(out[clipHeader:], c.Data)
	return out
}

func decodeClip(b []byte) (audio.Clip, error) {
	if len(b) < clipHeader {
		return audio.Clip{}, errors.New("narrate: cached clip truncated")
	}
	return audio.Clip{
		SampleRate: int(binary.LittleEndian.Uint32(b)),
		Channels:   int(binary.LittleEndian.Uint16(b[4:])),
		Data:       b[clipHeader:],
	}, nil
}
