// Package tsid generates time-sorted identifiers: 42 bits of millisecond
// timestamp (custom epoch) followed by 22 bits of entropy, rendered as a
// 13-character Crockford Base32 string. Lexicographic order of the strings
// matches creation order at millisecond granularity.
package tsid

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

const (
	// epochMillis is 2020-01-01T00:00:00Z
	epochMillis = 1577836800000

	randomBits = 22

	alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// ErrInvalidCharacter is returned when decoding a string that is not
// valid Crockford Base32.
var ErrInvalidCharacter = errors.New("invalid character in TSID")

// Generator produces TSIDs. It is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	lastTime int64
	counter  uint32
}

// NewGenerator creates a new TSID generator.
func NewGenerator() *Generator {
	return &Generator{}
}

var (
	defaultGen  *Generator
	defaultOnce sync.Once
)

// Generate returns a new TSID from the process-wide generator.
func Generate() string {
	defaultOnce.Do(func() {
		defaultGen = NewGenerator()
	})
	return defaultGen.Generate()
}

// Generate returns a new TSID string.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli() - epochMillis

	var buf [4]byte
	rand.Read(buf[:])
	random := binary.BigEndian.Uint32(buf[:]) & ((1 << randomBits) - 1)

	// Within the same millisecond, fold a monotonic counter into the low
	// random bits so ids stay unique under bursts.
	if now == g.lastTime {
		g.counter++
		random = (random &^ 0xFFFF) | (g.counter & 0xFFFF)
	} else {
		g.lastTime = now
		g.counter = 0
	}

	return encode(uint64(now)<<randomBits | uint64(random))
}

// encode renders a 64-bit value as 13 Crockford Base32 characters.
func encode(v uint64) string {
	out := make([]byte, 13)
	for i := 12; i >= 0; i-- {
		out[i] = alphabet[v&0x1F]
		v >>= 5
	}
	return string(out)
}

func decode(s string) (uint64, error) {
	var v uint64
	for i := 0; i < len(s); i++ {
		d := decodeTable[s[i]]
		if d < 0 {
			return 0, ErrInvalidCharacter
		}
		v = v<<5 | uint64(d)
	}
	return v, nil
}

// decodeTable maps ASCII bytes to Crockford Base32 values. Per Crockford's
// alphabet, I and L decode as 1, O as 0, and U is accepted as 27.
var decodeTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	set := func(chars string, start int8) {
		for i := 0; i < len(chars); i++ {
			c := chars[i]
			t[c] = start + int8(i)
			if c >= 'A' && c <= 'Z' {
				t[c+'a'-'A'] = start + int8(i)
			}
		}
	}
	set("0123456789", 0)
	set("ABCDEFGH", 10)
	set("JK", 18)
	set("MN", 20)
	set("PQRSTVWXYZ", 22)
	// U is skipped by the encoder but decodes to 27
	t['U'], t['u'] = 27, 27
	for _, c := range "IiLl" {
		t[c] = 1
	}
	t['O'], t['o'] = 0, 0
	return t
}()

// ToLong converts a TSID string to its int64 representation.
func ToLong(tsid string) (int64, error) {
	v, err := decode(tsid)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// ToString converts an int64 TSID to its Crockford Base32 string form.
func ToString(value int64) string {
	return encode(uint64(value))
}

// GetTimestamp extracts the creation time encoded in a TSID.
func GetTimestamp(tsid string) (time.Time, error) {
	v, err := decode(tsid)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(v>>randomBits) + epochMillis), nil
}
