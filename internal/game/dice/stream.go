package dice

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Stream labels keep the draws of one seeded wager independent of each other.
const (
	LabelFaces      = "faces"
	LabelDecision   = "decision"
	LabelMultiplier = "multiplier"
)

// ErrEmptyRange is returned when drawing from an empty range.
var ErrEmptyRange = errors.New("cannot draw from an empty range")

// Stream is a source of uniform random values.
type Stream interface {
	Uint64n(n uint64) (uint64, error)
	Float64() (float64, error)
}

// uint64n draws uniformly from [0, n) by rejecting the low 2^64 mod n values.
func uint64n(next func() (uint64, error), n uint64) (uint64, error) {
	if n == 0 {
		return 0, ErrEmptyRange
	}
	if n&(n-1) == 0 {
		v, err := next()
		return v & (n - 1), err
	}
	threshold := -n % n
	for {
		v, err := next()
		if err != nil {
			return 0, err
		}
		if v >= threshold {
			return v % n, nil
		}
	}
}

func float64From(next func() (uint64, error)) (float64, error) {
	v, err := next()
	if err != nil {
		return 0, err
	}
	return float64(v>>11) / (1 << 53), nil
}

// CryptoStream draws from the operating system CSPRNG.
// This is the only stream used for live play.
type CryptoStream struct {
	r io.Reader
}

// NewCryptoStream returns a stream backed by crypto/rand.
func NewCryptoStream() *CryptoStream {
	return &CryptoStream{r: rand.Reader}
}

func (s *CryptoStream) next() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(s.r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Uint64n returns a uniform value in [0, n).
func (s *CryptoStream) Uint64n(n uint64) (uint64, error) {
	return uint64n(s.next, n)
}

// Float64 returns a uniform value in [0, 1).
func (s *CryptoStream) Float64() (float64, error) {
	return float64From(s.next)
}

// SeededStream is a deterministic stream: HMAC-SHA256 keyed by the seed over
// (label, nonce, counter). Identical inputs always yield identical draws.
type SeededStream struct {
	mac     []byte
	seed    []byte
	label   string
	nonce   uint64
	counter uint32
	buf     []byte
}

// NewSeededStream builds a reproducible stream for one (seed, nonce, label).
func NewSeededStream(seed string, nonce uint64, label string) *SeededStream {
	return &SeededStream{seed: []byte(seed), label: label, nonce: nonce}
}

func (s *SeededStream) refill() {
	h := hmac.New(sha256.New, s.seed)
	h.Write([]byte(s.label))
	var b [12]byte
	binary.BigEndian.PutUint64(b[:8], s.nonce)
	binary.BigEndian.PutUint32(b[8:], s.counter)
	h.Write(b[:])
	s.counter++
	s.mac = h.Sum(s.mac[:0])
	s.buf = s.mac
}

func (s *SeededStream) next() (uint64, error) {
	if len(s.buf) < 8 {
		s.refill()
	}
	v := binary.BigEndian.Uint64(s.buf[:8])
	s.buf = s.buf[8:]
	return v, nil
}

// Uint64n returns a uniform value in [0, n).
func (s *SeededStream) Uint64n(n uint64) (uint64, error) {
	return uint64n(s.next, n)
}

// Float64 returns a uniform value in [0, 1).
func (s *SeededStream) Float64() (float64, error) {
	return float64From(s.next)
}

// NewNonce returns a fresh random nonce for crypto-mode wagers.
func NewNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// NonceFromKey derives the seeded-mode nonce from an idempotency key so a
// replayed key reproduces the same roll.
func NonceFromKey(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}
