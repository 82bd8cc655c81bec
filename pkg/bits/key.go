package bits

import (
	"fmt"
	"io"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
)

// ParseKey parses a shared secret key. The key must be a non-empty string
// of '0' and '1' characters.
func ParseKey(s string) (Bits, error) {
	if s == "" {
		return nil, qerrors.NewKeyError("empty key")
	}
	k, err := Parse(s)
	if err != nil {
		return nil, qerrors.NewKeyError(err.Error())
	}
	return k, nil
}

// CheckKey verifies that k carries at least minLen bits.
func CheckKey(k Bits, minLen int) error {
	if len(k) == 0 {
		return qerrors.NewKeyError("empty key")
	}
	if len(k) < minLen {
		return qerrors.NewKeyError(fmt.Sprintf("key has %d bits, need at least %d", len(k), minLen))
	}
	for i, v := range k {
		if v > 1 {
			return qerrors.NewKeyError(fmt.Sprintf("non-binary value at position %d", i))
		}
	}
	return nil
}

// CheckPairKey verifies that k can be consumed two bits at a time.
func CheckPairKey(k Bits) error {
	if err := CheckKey(k, 2); err != nil {
		return err
	}
	if len(k)%2 != 0 {
		return qerrors.NewKeyError(fmt.Sprintf("odd key length %d", len(k)))
	}
	return nil
}

// Source supplies private random bits to a protocol session.
type Source interface {
	Bits(n int) (Bits, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(n int) (Bits, error)

// Bits calls f(n).
func (f SourceFunc) Bits(n int) (Bits, error) {
	return f(n)
}

// Fixed replays a predetermined bit sequence. It fails once the sequence is
// exhausted rather than wrapping around.
type Fixed struct {
	seq Bits
	pos int
}

// NewFixed returns a Source that yields seq in order.
func NewFixed(seq Bits) *Fixed {
	return &Fixed{seq: seq.Clone()}
}

// Bits returns the next n bits of the sequence.
func (f *Fixed) Bits(n int) (Bits, error) {
	if f.pos+n > len(f.seq) {
		return nil, fmt.Errorf("bits: fixed source exhausted: %w", io.ErrUnexpectedEOF)
	}
	out := f.seq[f.pos : f.pos+n].Clone()
	f.pos += n
	return out, nil
}

// Remaining reports how many bits are left.
func (f *Fixed) Remaining() int {
	return len(f.seq) - f.pos
}
