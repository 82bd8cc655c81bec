// Package errors defines custom error types for the quantum-auth protocols.
// These errors provide enough detail for debugging a failed session while
// never carrying key material in their messages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for key and input validation
var (
	// ErrInvalidKey indicates a malformed, empty, or odd-length secret key
	ErrInvalidKey = errors.New("auth: invalid key")

	// ErrInvalidConfig indicates an unusable protocol configuration
	ErrInvalidConfig = errors.New("auth: invalid configuration")
)

// Sentinel errors for channel operations
var (
	// ErrChannelDesync indicates the number of qubits or classical messages
	// received differs from what the protocol requires
	ErrChannelDesync = errors.New("channel: desynchronized")

	// ErrQubitConsumed indicates a qubit handle was used after it was
	// measured, transmitted, or released
	ErrQubitConsumed = errors.New("channel: qubit already consumed")

	// ErrNotOwner indicates an operation on a qubit held by another node
	ErrNotOwner = errors.New("channel: qubit not owned by node")

	// ErrUnknownQubit indicates the provider has no record of a qubit
	ErrUnknownQubit = errors.New("channel: unknown qubit")

	// ErrInvalidGate indicates a gate outside {X, Z, H}
	ErrInvalidGate = errors.New("channel: invalid gate")

	// ErrSameQubit indicates a controlled flip with identical control and target
	ErrSameQubit = errors.New("channel: control and target are the same qubit")

	// ErrInvalidNode indicates an empty or malformed node name
	ErrInvalidNode = errors.New("channel: invalid node name")

	// ErrConnClosed indicates the provider connection has been closed
	ErrConnClosed = errors.New("channel: connection closed")

	// ErrTimeout indicates a receive did not complete in time
	ErrTimeout = errors.New("channel: operation timed out")
)

// Sentinel errors for the backend wire protocol and secure link
var (
	// ErrInvalidMessage indicates a protocol message is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrUnsupportedVersion indicates an unsupported protocol version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrUnexpectedMessage indicates a message arrived out of order
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrHandshakeFailed indicates the link handshake failed
	ErrHandshakeFailed = errors.New("link: handshake failed")

	// ErrReplayDetected indicates a record arrived with an unexpected sequence
	ErrReplayDetected = errors.New("link: replay detected")

	// ErrDecryptFailed indicates AEAD authentication/decryption failed
	ErrDecryptFailed = errors.New("link: record authentication failed")

	// ErrInvalidPublicKey indicates a peer public key could not be parsed
	ErrInvalidPublicKey = errors.New("link: invalid public key")

	// ErrInvalidCiphertext indicates a KEM ciphertext is malformed
	ErrInvalidCiphertext = errors.New("link: invalid ciphertext")

	// ErrInvalidKeySize indicates derived key material has an incorrect size
	ErrInvalidKeySize = errors.New("link: invalid key size")

	// ErrLinkClosed indicates the link has been closed
	ErrLinkClosed = errors.New("link: closed")

	// ErrConnectionLimit indicates the backend refused a connection
	ErrConnectionLimit = errors.New("backend: connection limit reached")
)

// KeyError describes why a secret key was rejected.
type KeyError struct {
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidKey, e.Reason)
}

// Unwrap makes KeyError match ErrInvalidKey.
func (e *KeyError) Unwrap() error {
	return ErrInvalidKey
}

// NewKeyError creates a new KeyError
func NewKeyError(reason string) *KeyError {
	return &KeyError{Reason: reason}
}

// ChannelError wraps a provider failure with the operation that caused it
type ChannelError struct {
	Op  string // Provider operation (e.g., "recv-qubit", "measure")
	Err error  // Underlying error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError creates a new ChannelError
func NewChannelError(op string, err error) *ChannelError {
	return &ChannelError{Op: op, Err: err}
}

// CryptoError wraps a cryptographic failure with the operation that caused it
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ProtocolError wraps a protocol error with additional context
type ProtocolError struct {
	Phase string // Protocol phase (e.g., "distribute", "bell-measure")
	Err   error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// DesyncError reports a count mismatch between what a protocol phase
// expected to receive and what actually arrived. It always matches
// ErrChannelDesync and, when set, the underlying receive error.
type DesyncError struct {
	Phase    string
	Expected int
	Received int
	Err      error
}

func (e *DesyncError) Error() string {
	msg := fmt.Sprintf("%v in %s: expected %d, received %d", ErrChannelDesync, e.Phase, e.Expected, e.Received)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DesyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrChannelDesync}
	}
	return []error{ErrChannelDesync, e.Err}
}

// NewDesyncError creates a new DesyncError
func NewDesyncError(phase string, expected, received int, err error) *DesyncError {
	return &DesyncError{Phase: phase, Expected: expected, Received: received, Err: err}
}

// IsDesync reports whether err signals a channel desynchronization.
func IsDesync(err error) bool {
	return errors.Is(err, ErrChannelDesync)
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
