package hash

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var hexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestFingerprint_FixedWidthLowerHex(t *testing.T) {
	s := NewService()
	h := s.Fingerprint("0xabc", "0xdef", decimal.RequireFromString("12.5"))
	assert.Len(t, h, Size)
	assert.Regexp(t, hexRe, h)
}

func TestFingerprint_DeterministicWithinInstant(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	s := NewService(WithClock(func() time.Time { return at }))

	a := s.Fingerprint("0xabc", "0xdef", decimal.NewFromInt(500))
	b := s.Fingerprint("0xabc", "0xdef", decimal.NewFromInt(500))
	assert.Equal(t, a, b)
	assert.Equal(t, a, s.FingerprintAt(at, "0xabc", "0xdef", decimal.NewFromInt(500)))
}

func TestFingerprint_DistinctTimestamps(t *testing.T) {
	s := NewService()
	at := time.UnixMilli(1_700_000_000_000)
	a := s.FingerprintAt(at, "0xabc", "0xdef", "500")
	b := s.FingerprintAt(at.Add(time.Millisecond), "0xabc", "0xdef", "500")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_FieldOrderMatters(t *testing.T) {
	s := NewService()
	at := time.UnixMilli(42)
	assert.NotEqual(t, s.FingerprintAt(at, "a", "b"), s.FingerprintAt(at, "b", "a"))
}
