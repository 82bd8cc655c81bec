// Package constants defines protocol parameters and wire constants for the
// quantum-auth identity-authentication protocols.
//
// Protocol parameters that affect interoperability (subset width, clamp
// threshold, nonce length) are fixed here so that both roles, possibly
// running in separate processes, derive identical values.
package constants

import "time"

// Protocol version and identification
const (
	// ProtocolVersion is the current backend wire protocol version (major << 8 | minor)
	ProtocolVersion uint16 = 0x0100

	// ProtocolName is used for domain separation in link key derivation
	ProtocolName = "QAUTH-LINK-v1"
)

// Li-Barnum entangled-pair protocol parameters
const (
	// DefaultTokenCount is the number of ID tokens (and auxiliary pairs) per session
	DefaultTokenCount = 4

	// DefaultBellIndex selects the Bell state used for ID tokens and auxiliary pairs
	DefaultBellIndex = 2

	// BellIndexCount is the number of Bell state indices accepted by the constructor
	BellIndexCount = 4
)

// Zawadzki hash-challenge protocol parameters
const (
	// NonceBits is the length of the per-session random nonce
	NonceBits = 24

	// HashBits is the width of the SHA-256 digest in bits
	HashBits = 256

	// HashSubsetBits is the width of the hash window sent over the quantum channel
	HashSubsetBits = 10

	// OffsetKeyBits is the number of leading key bits that feed the window offset
	OffsetKeyBits = 4

	// OffsetNonceBits is the number of trailing nonce bits that feed the window offset
	OffsetNonceBits = 4

	// OffsetClampThreshold is the first offset that collapses onto the trailing window.
	// Offsets in [OffsetClampThreshold, 255] all select the last HashSubsetBits bits.
	OffsetClampThreshold = 246
)

// Session parameters
const (
	// DefaultRecvTimeout bounds a single qubit or classical receive. A receive
	// that does not complete in time is reported as a channel desync.
	DefaultRecvTimeout = 10 * time.Second

	// MaxQubitsPerSession caps the qubits a single session may request
	MaxQubitsPerSession = 4096
)

// Wire limits
const (
	// MaxMessageSize is the maximum size of a single backend protocol message
	MaxMessageSize = 65536

	// MaxClassicalPayload is the maximum classical message carried between nodes
	MaxClassicalPayload = 16384

	// MaxNodeNameLength bounds node names on the wire
	MaxNodeNameLength = 255

	// MaxAlertDescription bounds alert descriptions on the wire
	MaxAlertDescription = 256
)

// Secure link parameters
const (
	// LinkRandomSize is the size of the handshake freshness nonces in bytes
	LinkRandomSize = 32

	// LinkKeySize is the size of each directional ChaCha20-Poly1305 key in bytes
	LinkKeySize = 32

	// LinkNonceSize is the AEAD nonce size in bytes
	LinkNonceSize = 12

	// LinkTagSize is the AEAD tag size in bytes
	LinkTagSize = 16

	// MLKEMPublicKeySize is the size of an ML-KEM-1024 encapsulation key in bytes
	MLKEMPublicKeySize = 1568

	// MLKEMCiphertextSize is the size of an ML-KEM-1024 ciphertext in bytes
	MLKEMCiphertextSize = 1568

	// X25519PublicKeySize is the size of an X25519 public key in bytes
	X25519PublicKeySize = 32

	// HybridPublicKeySize is the combined size of X25519 + ML-KEM-1024 public keys
	HybridPublicKeySize = X25519PublicKeySize + MLKEMPublicKeySize

	// HybridCiphertextSize is the combined size of the X25519 ephemeral key + ML-KEM ciphertext
	HybridCiphertextSize = X25519PublicKeySize + MLKEMCiphertextSize

	// SharedSecretSize is the size of the derived link master secret
	SharedSecretSize = 32
)

// Key derivation domain separators
const (
	// DomainSeparatorHybrid is used when combining the X25519 and ML-KEM secrets
	DomainSeparatorHybrid = "QAUTH-HYBRID-v1-SharedSecret"

	// DomainSeparatorClientKey derives the client-to-server record key
	DomainSeparatorClientKey = "QAUTH-LINK-ClientWrite"

	// DomainSeparatorServerKey derives the server-to-client record key
	DomainSeparatorServerKey = "QAUTH-LINK-ServerWrite"

	// DomainSeparatorSeed expands simulator seeds into measurement randomness
	DomainSeparatorSeed = "QAUTH-SIM-Seed"
)
