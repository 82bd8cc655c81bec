// Package bits provides the bit-string and secret-key utilities shared by
// all authentication protocols.
//
// A bit string is represented as Bits, a slice whose elements are 0 or 1.
// Keys arrive as ASCII strings of '0' and '1' characters and are parsed
// into Bits before any channel I/O takes place, so a malformed key is
// rejected locally and never reaches the quantum or classical channel.
//
// Classical framing packs bit strings into 8-bit big-endian groups. The
// final group keeps its natural width: a 20-bit string packs into three
// bytes whose last byte holds only 4 significant bits. Receivers must
// therefore unpack with the original bit length (see Unpack).
package bits

import (
	"fmt"
	"strings"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
)

// Bits is an ordered bit string. Every element is 0 or 1.
type Bits []uint8

// Parse converts an ASCII '0'/'1' string into Bits.
func Parse(s string) (Bits, error) {
	b := make(Bits, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
			b[i] = 0
		case '1':
			b[i] = 1
		default:
			return nil, fmt.Errorf("bits: invalid character %q at position %d", s[i], i)
		}
	}
	return b, nil
}

// MustParse is like Parse but panics on malformed input.
// Intended for constants and tests.
func MustParse(s string) Bits {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// String renders the bits as an ASCII '0'/'1' string.
func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, v := range b {
		sb.WriteByte('0' + v)
	}
	return sb.String()
}

// Equal reports whether b and o hold the same bits.
func (b Bits) Equal(o Bits) bool {
	if len(b) != len(o) {
		return false
	}
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of b.
func (b Bits) Clone() Bits {
	if b == nil {
		return nil
	}
	c := make(Bits, len(b))
	copy(c, b)
	return c
}

// First returns the leading n bits (or all of b if shorter).
func (b Bits) First(n int) Bits {
	if n > len(b) {
		n = len(b)
	}
	return b[:n]
}

// Last returns the trailing n bits (or all of b if shorter).
func (b Bits) Last(n int) Bits {
	if n > len(b) {
		n = len(b)
	}
	return b[len(b)-n:]
}

// Uint interprets b as a big-endian unsigned integer.
// Only the trailing 64 bits contribute.
func (b Bits) Uint() uint64 {
	var v uint64
	for _, bit := range b {
		v = v<<1 | uint64(bit&1)
	}
	return v
}

// FromUint renders the low width bits of v, most significant first.
func FromUint(v uint64, width int) Bits {
	b := make(Bits, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = uint8(v & 1)
		v >>= 1
	}
	return b
}

// FromBytes expands every byte of data into 8 bits, most significant first.
func FromBytes(data []byte) Bits {
	b := make(Bits, 0, 8*len(data))
	for _, c := range data {
		b = append(b, FromUint(uint64(c), 8)...)
	}
	return b
}

// Concat joins bit strings in order.
func Concat(parts ...Bits) Bits {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(Bits, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// XorParity returns the parity of three bits.
func XorParity(a, b, c uint8) uint8 {
	return (a ^ b ^ c) & 1
}

// Pack groups b into 8-bit big-endian chunks. The final chunk keeps its
// natural width, so its byte value is that of the shorter group.
func Pack(b Bits) []byte {
	out := make([]byte, 0, (len(b)+7)/8)
	for i := 0; i < len(b); i += 8 {
		end := min(i+8, len(b))
		out = append(out, byte(b[i:end].Uint()))
	}
	return out
}

// PackedLen returns the number of bytes Pack produces for n bits.
func PackedLen(n int) int {
	return (n + 7) / 8
}

// Unpack reverses Pack for a bit string of original length n. Every chunk
// but the last is 8 bits wide; the last is n - 8*(len(data)-1) bits wide.
// A byte count that does not match n is a framing desync.
func Unpack(data []byte, n int) (Bits, error) {
	if n < 0 || len(data) != PackedLen(n) {
		return nil, qerrors.NewDesyncError("unpack", PackedLen(n), len(data), nil)
	}
	out := make(Bits, 0, n)
	for i, c := range data {
		width := 8
		if i == len(data)-1 {
			width = n - 8*i
		}
		if width < 8 && c>>uint(width) != 0 {
			return nil, qerrors.NewProtocolError("unpack", qerrors.ErrInvalidMessage)
		}
		out = append(out, FromUint(uint64(c), width)...)
	}
	return out, nil
}

// UnpackPadded zero-pads every byte to 8 bits and concatenates them in order.
func UnpackPadded(data []byte) Bits {
	return FromBytes(data)
}
