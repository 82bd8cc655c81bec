package crypto

// aead.go implements the record cipher used by backend links.
//
// Records are sealed with ChaCha20-Poly1305. Each direction owns one
// RecordCipher; the 96-bit nonce is four zero bytes followed by the
// big-endian 64-bit record sequence number, which is also carried in the
// clear in front of the ciphertext and authenticated as additional data:
//
//	record = seq(8) || ChaCha20-Poly1305(key, nonce(seq), plaintext, aad = seq)
//
// The opener accepts only the next expected sequence number, so replayed,
// dropped, or reordered records are rejected.

import (
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
)

const seqSize = 8

// RecordOverhead is the number of bytes a sealed record adds to its plaintext.
const RecordOverhead = seqSize + constants.LinkTagSize

// RecordCipher seals or opens one direction of a link.
type RecordCipher struct {
	aead cipher.AEAD

	mu  sync.Mutex
	seq uint64
}

// NewRecordCipher creates a cipher for a 32-byte directional key.
func NewRecordCipher(key []byte) (*RecordCipher, error) {
	if len(key) != constants.LinkKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, qerrors.NewCryptoError("NewRecordCipher", err)
	}
	return &RecordCipher{aead: aead}, nil
}

// Seal encrypts plaintext as the next record in sequence.
func (c *RecordCipher) Seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq == ^uint64(0) {
		return nil, qerrors.NewCryptoError("Seal", qerrors.ErrLinkClosed)
	}

	var header [seqSize]byte
	binary.BigEndian.PutUint64(header[:], c.seq)
	out := make([]byte, 0, seqSize+len(plaintext)+constants.LinkTagSize)
	out = append(out, header[:]...)
	out = c.aead.Seal(out, nonceFor(c.seq), plaintext, header[:])
	c.seq++
	return out, nil
}

// Open verifies and decrypts the next record. A record carrying any
// sequence number other than the expected one fails with ErrReplayDetected.
func (c *RecordCipher) Open(record []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(record) < RecordOverhead {
		return nil, qerrors.ErrDecryptFailed
	}
	seq := binary.BigEndian.Uint64(record[:seqSize])
	if seq != c.seq {
		return nil, qerrors.ErrReplayDetected
	}
	plaintext, err := c.aead.Open(nil, nonceFor(seq), record[seqSize:], record[:seqSize])
	if err != nil {
		return nil, qerrors.ErrDecryptFailed
	}
	c.seq++
	return plaintext, nil
}

// Sequence returns the next sequence number this cipher will use.
func (c *RecordCipher) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func nonceFor(seq uint64) []byte {
	nonce := make([]byte, constants.LinkNonceSize)
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}
