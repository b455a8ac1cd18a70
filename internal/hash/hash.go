// Package hash derives the external identifiers of transfers and swaps.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Service fingerprints ordered field tuples together with the submission
// time. Identical tuples hash identically only within the same millisecond.
type Service struct {
	now func() time.Time
}

type Option func(*Service)

// WithClock replaces the submission clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(opts ...Option) *Service {
	s := &Service{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fingerprint returns the lowercase hex SHA-256 of the fields followed by
// the current Unix time in milliseconds.
func (s *Service) Fingerprint(fields ...any) string {
	return s.FingerprintAt(s.now(), fields...)
}

// FingerprintAt is Fingerprint with an explicit submission time.
func (s *Service) FingerprintAt(at time.Time, fields ...any) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprint(&b, f)
	}
	fmt.Fprint(&b, at.UnixMilli())
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
