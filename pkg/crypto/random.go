// Package crypto provides the cryptographic primitives used by quantum-auth:
// secure randomness for private protocol coins, a seeded deterministic
// reader for reproducible simulations, SHAKE-256 key derivation, the hybrid
// X25519 + ML-KEM-1024 KEM that secures backend links, and the record AEAD.
//
// Security Note: SecureRandom and SecureSource draw from crypto/rand. The
// seeded reader is deterministic by construction and must only drive
// simulated measurement outcomes, never protocol secrets in production.
package crypto

import (
	"crypto/rand"
	"io"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/bits"
)

// Reader is an io.Reader that returns cryptographically secure random bytes.
var Reader = rand.Reader

// SecureRandom reads cryptographically secure random bytes into the provided slice.
//
// This function will only return an error if the system's random number generator
// fails, which should be treated as a critical system failure.
func SecureRandom(b []byte) error {
	if _, err := io.ReadFull(Reader, b); err != nil {
		return qerrors.NewCryptoError("SecureRandom", err)
	}
	return nil
}

// SecureRandomBytes returns n cryptographically secure random bytes.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := SecureRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReaderSource draws protocol bits from an io.Reader, one bit per byte's
// low-order bit.
type ReaderSource struct {
	r io.Reader
}

// NewReaderSource returns a bits.Source backed by r.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Bits returns n independent random bits.
func (s *ReaderSource) Bits(n int) (bits.Bits, error) {
	if n < 0 {
		return nil, qerrors.NewCryptoError("ReaderSource.Bits", qerrors.ErrInvalidConfig)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, qerrors.NewCryptoError("ReaderSource.Bits", err)
	}
	out := make(bits.Bits, n)
	for i, v := range buf {
		out[i] = v & 1
	}
	Zeroize(buf)
	return out, nil
}

// SecureSource is the default private coin for protocol sessions.
var SecureSource bits.Source = NewReaderSource(rand.Reader)

// ConstantTimeCompare compares two byte slices in constant time.
// Returns true if the slices are equal, false otherwise.
func ConstantTimeCompare(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := range a {
		result |= a[i] ^ b[i]
	}
	return result == 0
}

// EqualBits compares two bit strings in constant time with respect to
// their contents.
func EqualBits(a, b bits.Bits) bool {
	return ConstantTimeCompare(a, b)
}

// Zeroize overwrites b with zeros.
//
// Note: The Go runtime may have already copied the data. Treat this as
// best effort hygiene for key material.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroizeMultiple erases multiple byte slices.
func ZeroizeMultiple(slices ...[]byte) {
	for _, s := range slices {
		Zeroize(s)
	}
}
