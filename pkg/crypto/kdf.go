package crypto

// kdf.go implements key derivation with SHAKE-256 (FIPS 202).
//
// All inputs are length-prefixed with 4-byte big-endian integers so that
// concatenations are unambiguous:
//
//	output = SHAKE-256(len(domain) || domain || count || len(in_i) || in_i ..., outputLen)
//
// The same sponge, seeded once and squeezed indefinitely, backs the
// deterministic reader used by the simulator.

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
)

const maxDeriveLen = 1 << 20

// DeriveKey derives outputLen bytes from input under a domain separator.
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDeriveLen {
		return nil, qerrors.NewCryptoError("DeriveKey", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	writePrefixed(h, []byte(domain))
	writePrefixed(h, input)

	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails
	return output, nil
}

// DeriveKeyMultiple derives a key from several inputs with domain separation.
func DeriveKeyMultiple(domain string, inputs [][]byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDeriveLen {
		return nil, qerrors.NewCryptoError("DeriveKeyMultiple", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	writePrefixed(h, []byte(domain))

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(inputs)))
	h.Write(lenBuf)
	for _, input := range inputs {
		writePrefixed(h, input)
	}

	output := make([]byte, outputLen)
	_, _ = h.Read(output)
	return output, nil
}

// TranscriptHash computes the SHA3-256 hash of an ordered list of handshake
// components. Changing, reordering, or re-splitting any component changes
// the hash.
func TranscriptHash(components ...[]byte) []byte {
	h := sha3.New256()
	lenBuf := make([]byte, 4)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(components)))
	h.Write(lenBuf)
	for _, component := range components {
		writePrefixed(h, component)
	}

	return h.Sum(nil)
}

// DeriveHybridSecret combines the X25519 and ML-KEM shared secrets with the
// handshake transcript into the link master secret.
func DeriveHybridSecret(x25519Secret, mlkemSecret, transcript []byte) ([]byte, error) {
	if len(x25519Secret) != 32 || len(mlkemSecret) != 32 || len(transcript) != 32 {
		return nil, qerrors.NewCryptoError("DeriveHybridSecret", qerrors.ErrInvalidKeySize)
	}
	return DeriveKeyMultiple(
		constants.DomainSeparatorHybrid,
		[][]byte{x25519Secret, mlkemSecret, transcript},
		constants.SharedSecretSize,
	)
}

// DeriveLinkKeys derives the two directional record keys from the master secret.
func DeriveLinkKeys(master []byte) (clientKey, serverKey []byte, err error) {
	if len(master) != constants.SharedSecretSize {
		return nil, nil, qerrors.NewCryptoError("DeriveLinkKeys", qerrors.ErrInvalidKeySize)
	}
	clientKey, err = DeriveKey(constants.DomainSeparatorClientKey, master, constants.LinkKeySize)
	if err != nil {
		return nil, nil, err
	}
	serverKey, err = DeriveKey(constants.DomainSeparatorServerKey, master, constants.LinkKeySize)
	if err != nil {
		return nil, nil, err
	}
	return clientKey, serverKey, nil
}

// NewSeededReader returns a deterministic reader whose output stream is
// fully determined by seed. Two readers built from the same seed yield
// identical bytes.
func NewSeededReader(seed uint64) io.Reader {
	h := sha3.NewShake256()
	writePrefixed(h, []byte(constants.DomainSeparatorSeed))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seed)
	writePrefixed(h, buf[:])
	return h
}

func writePrefixed(w io.Writer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	w.Write(lenBuf[:])
	w.Write(b)
}
