package crypto

// hybrid.go implements the hybrid KEM that protects backend links.
//
// Key generation:
//
//	(sk_x, pk_x) <- X25519.KeyGen()
//	(sk_m, pk_m) <- ML-KEM-1024.KeyGen()
//	pk = pk_x || pk_m
//
// Encapsulation:
//
//	(ct_m, K_m)          <- ML-KEM-1024.Encaps(pk_m)
//	(sk_e, pk_e)         <- X25519.KeyGen()
//	K_x                  <- X25519(sk_e, pk_x)
//	ct                   = pk_e || ct_m
//	K                    = SHAKE-256(K_x || K_m || SHA3-256(pk || ct || context))
//
// The link is secure if either X25519 or ML-KEM-1024 holds.

import (
	"crypto/ecdh"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
)

// HybridKeyPair holds the static or ephemeral keys of the side that
// publishes a public key.
type HybridKeyPair struct {
	x25519  *ecdh.PrivateKey
	mlkemPK *mlkem1024.PublicKey
	mlkemSK *mlkem1024.PrivateKey
}

// HybridPublicKey is the peer-visible half of a HybridKeyPair.
type HybridPublicKey struct {
	x25519 *ecdh.PublicKey
	mlkem  *mlkem1024.PublicKey
}

// GenerateHybridKeyPair generates fresh X25519 and ML-KEM-1024 keys.
func GenerateHybridKeyPair() (*HybridKeyPair, error) {
	xsk, err := ecdh.X25519().GenerateKey(Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("GenerateHybridKeyPair", err)
	}
	pk, sk, err := mlkem1024.GenerateKeyPair(Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("GenerateHybridKeyPair", err)
	}
	return &HybridKeyPair{x25519: xsk, mlkemPK: pk, mlkemSK: sk}, nil
}

// PublicKey returns the public half of kp.
func (kp *HybridKeyPair) PublicKey() *HybridPublicKey {
	return &HybridPublicKey{x25519: kp.x25519.PublicKey(), mlkem: kp.mlkemPK}
}

// Zeroize drops references to private key material.
func (kp *HybridKeyPair) Zeroize() {
	kp.x25519 = nil
	kp.mlkemSK = nil
}

// Bytes encodes the public key as pk_x || pk_m.
func (pk *HybridPublicKey) Bytes() []byte {
	out := make([]byte, constants.HybridPublicKeySize)
	copy(out, pk.x25519.Bytes())
	pk.mlkem.Pack(out[constants.X25519PublicKeySize:])
	return out
}

// ParseHybridPublicKey decodes a public key produced by Bytes.
func ParseHybridPublicKey(data []byte) (*HybridPublicKey, error) {
	if len(data) != constants.HybridPublicKeySize {
		return nil, qerrors.ErrInvalidPublicKey
	}
	xpk, err := ecdh.X25519().NewPublicKey(data[:constants.X25519PublicKeySize])
	if err != nil {
		return nil, qerrors.NewCryptoError("ParseHybridPublicKey", qerrors.ErrInvalidPublicKey)
	}
	mpk := new(mlkem1024.PublicKey)
	if err := mpk.Unpack(data[constants.X25519PublicKeySize:]); err != nil {
		return nil, qerrors.NewCryptoError("ParseHybridPublicKey", qerrors.ErrInvalidPublicKey)
	}
	return &HybridPublicKey{x25519: xpk, mlkem: mpk}, nil
}

// HybridEncapsulate produces a ciphertext for pk and the master secret bound
// to pk, the ciphertext, and context.
func HybridEncapsulate(pk *HybridPublicKey, context []byte) (ciphertext, secret []byte, err error) {
	if pk == nil || pk.x25519 == nil || pk.mlkem == nil {
		return nil, nil, qerrors.ErrInvalidPublicKey
	}

	seed := make([]byte, mlkem1024.EncapsulationSeedSize)
	if err := SecureRandom(seed); err != nil {
		return nil, nil, err
	}
	defer Zeroize(seed)

	ctM := make([]byte, mlkem1024.CiphertextSize)
	kM := make([]byte, mlkem1024.SharedKeySize)
	pk.mlkem.EncapsulateTo(ctM, kM, seed)
	defer Zeroize(kM)

	eph, err := ecdh.X25519().GenerateKey(Reader)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("HybridEncapsulate", err)
	}
	kX, err := eph.ECDH(pk.x25519)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("HybridEncapsulate", err)
	}
	defer Zeroize(kX)

	ciphertext = make([]byte, 0, constants.HybridCiphertextSize)
	ciphertext = append(ciphertext, eph.PublicKey().Bytes()...)
	ciphertext = append(ciphertext, ctM...)

	transcript := TranscriptHash(pk.Bytes(), ciphertext, context)
	secret, err = DeriveHybridSecret(kX, kM, transcript)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, secret, nil
}

// HybridDecapsulate recovers the master secret from a ciphertext produced
// by HybridEncapsulate against kp's public key.
func HybridDecapsulate(kp *HybridKeyPair, ciphertext, context []byte) ([]byte, error) {
	if kp == nil || kp.x25519 == nil || kp.mlkemSK == nil {
		return nil, qerrors.NewCryptoError("HybridDecapsulate", qerrors.ErrInvalidKeySize)
	}
	if len(ciphertext) != constants.HybridCiphertextSize {
		return nil, qerrors.ErrInvalidCiphertext
	}

	eph, err := ecdh.X25519().NewPublicKey(ciphertext[:constants.X25519PublicKeySize])
	if err != nil {
		return nil, qerrors.NewCryptoError("HybridDecapsulate", qerrors.ErrInvalidCiphertext)
	}
	kX, err := kp.x25519.ECDH(eph)
	if err != nil {
		return nil, qerrors.NewCryptoError("HybridDecapsulate", err)
	}
	defer Zeroize(kX)

	kM := make([]byte, mlkem1024.SharedKeySize)
	kp.mlkemSK.DecapsulateTo(kM, ciphertext[constants.X25519PublicKeySize:])
	defer Zeroize(kM)

	transcript := TranscriptHash(kp.PublicKey().Bytes(), ciphertext, context)
	return DeriveHybridSecret(kX, kM, transcript)
}
