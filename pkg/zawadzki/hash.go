package zawadzki

import (
	"crypto/sha256"
	"fmt"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/bits"
)

// CreateHash returns the session hash subset for key and nonce.
//
// The digest is SHA-256 over the ASCII bit strings key || nonce, read as
// 256 bits. The window start is the 8-bit value of the first four key bits
// followed by the last four nonce bits. Starts below 246 select
// [offset, offset+10); every start from 246 up selects the last 10 bits.
func CreateHash(key, nonce bits.Bits) (bits.Bits, error) {
	if err := bits.CheckKey(key, constants.OffsetKeyBits); err != nil {
		return nil, err
	}
	if len(nonce) < constants.OffsetNonceBits {
		return nil, fmt.Errorf("%w: nonce has %d bits, need %d", qerrors.ErrInvalidConfig, len(nonce), constants.OffsetNonceBits)
	}

	digest := sha256.Sum256([]byte(key.String() + nonce.String()))
	full := bits.FromBytes(digest[:])

	offset := Offset(key, nonce)
	if offset < constants.OffsetClampThreshold {
		return full[offset : offset+constants.HashSubsetBits].Clone(), nil
	}
	return full.Last(constants.HashSubsetBits).Clone(), nil
}

// Offset returns the unclamped window start for key and nonce.
func Offset(key, nonce bits.Bits) int {
	concat := bits.Concat(key.First(constants.OffsetKeyBits), nonce.Last(constants.OffsetNonceBits))
	return int(concat.Uint())
}
