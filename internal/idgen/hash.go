package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	mrand "math/rand/v2"
	"sync"
	"time"
)

const (
	// Prefix is prepended to every issue ID.
	Prefix = "mn-"
	// DefaultLength is the number of hex characters in a freshly generated ID.
	DefaultLength = 6
	// MaxLength is the longest hex suffix GenerateUnique will extend to.
	// A sha256 digest yields exactly this many hex characters.
	MaxLength = 64
)

// Generator produces short hex IDs from an entropy source and a clock.
// The zero value is not usable; construct with New or NewSeeded.
type Generator struct {
	mu   sync.Mutex
	rand io.Reader
	now  func() time.Time
}

// New returns a Generator backed by crypto/rand and the wall clock.
func New() *Generator {
	return &Generator{rand: rand.Reader, now: time.Now}
}

// NewSeeded returns a deterministic Generator for tests. The entropy source is
// a ChaCha8 stream keyed by seed and the clock advances one nanosecond per ID.
func NewSeeded(seed uint64) *Generator {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Generator{
		rand: mrand.NewChaCha8(key),
		now: func() time.Time {
			clock = clock.Add(time.Nanosecond)
			return clock
		},
	}
}

// NewWithSource builds a Generator from an arbitrary reader and clock.
func NewWithSource(r io.Reader, now func() time.Time) *Generator {
	return &Generator{rand: r, now: now}
}

// digest hashes 16 bytes of entropy followed by the clock's nanoseconds.
func (g *Generator) digest() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var buf [24]byte
	if _, err := io.ReadFull(g.rand, buf[:16]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the
		// clock alone rather than returning an error from ID generation.
		clear(buf[:16])
	}
	binary.LittleEndian.PutUint64(buf[16:], uint64(g.now().UnixNano()))
	sum := sha256.Sum256(buf[:])
	return hex.EncodeToString(sum[:])
}

func (g *Generator) generate(length int) string {
	length = min(max(length, 1), MaxLength)
	return Prefix + g.digest()[:length]
}

// Generate returns Prefix plus DefaultLength lowercase hex characters.
func (g *Generator) Generate() string {
	return g.generate(DefaultLength)
}

// GenerateUnique returns an ID not present in existing. On each collision it
// draws a fresh hash one character longer. At MaxLength it returns the last
// candidate even if it still collides.
func (g *Generator) GenerateUnique(existing map[string]struct{}) string {
	length := DefaultLength
	id := g.generate(length)
	for {
		if _, taken := existing[id]; !taken || length >= MaxLength {
			return id
		}
		length++
		id = g.generate(length)
	}
}

var defaultGenerator = New()

// GenerateID returns a new ID from the default crypto-backed generator.
func GenerateID() string {
	return defaultGenerator.Generate()
}

// GenerateUniqueID returns a new ID that does not collide with existing.
func GenerateUniqueID(existing map[string]struct{}) string {
	return defaultGenerator.GenerateUnique(existing)
}
