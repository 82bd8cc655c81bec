package protocol

// messages.go defines the backend message flow:
//
//	Client                                 Backend
//	    |                                      |
//	    | -------- ClientHello --------------> |
//	    | <------- ServerHello --------------- |
//	    |                                      |
//	    |       === Link keys derived ===      |
//	    |                                      |
//	    | -------- Hello(node) --------------> |
//	    | <------- Ack ----------------------- |
//	    | -------- Request ------------------> |
//	    | <------- Response | Alert ---------- |
//	    |                 ...                  |
//	    | -------- Close --------------------> |
//	    | <------- Ack ----------------------- |
//
// All messages are length-prefixed with a 4-byte big-endian length field.

import (
	"errors"
	"time"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// MessageType identifies the type of protocol message.
type MessageType uint8

// Protocol message types for the handshake, requests, and responses.
const (
	// MessageTypeClientHello carries the client's hybrid public key.
	MessageTypeClientHello MessageType = 0x01
	// MessageTypeServerHello carries the hybrid ciphertext.
	MessageTypeServerHello MessageType = 0x02

	// MessageTypeHello binds the link to a node name.
	MessageTypeHello MessageType = 0x20
	// MessageTypeNewQubit allocates a qubit in |0>.
	MessageTypeNewQubit MessageType = 0x21
	// MessageTypeApply applies a single-qubit gate.
	MessageTypeApply MessageType = 0x22
	// MessageTypeCNOT applies a controlled flip.
	MessageTypeCNOT MessageType = 0x23
	// MessageTypeMeasure measures a qubit in the computational basis.
	MessageTypeMeasure MessageType = 0x24
	// MessageTypeSendQubit moves a qubit to a peer.
	MessageTypeSendQubit MessageType = 0x25
	// MessageTypeRecvQubit waits for the next incoming qubit.
	MessageTypeRecvQubit MessageType = 0x26
	// MessageTypeSendClassical delivers a classical message to a peer.
	MessageTypeSendClassical MessageType = 0x27
	// MessageTypeRecvClassical waits for the next classical message.
	MessageTypeRecvClassical MessageType = 0x28
	// MessageTypeClose ends the session and releases held qubits.
	MessageTypeClose MessageType = 0x29

	// MessageTypeAck acknowledges a request with no result.
	MessageTypeAck MessageType = 0x40
	// MessageTypeQubitRef returns a qubit identifier.
	MessageTypeQubitRef MessageType = 0x41
	// MessageTypeOutcome returns a measurement outcome.
	MessageTypeOutcome MessageType = 0x42
	// MessageTypeClassical returns a classical message.
	MessageTypeClassical MessageType = 0x43

	// MessageTypeAlert signals an error condition.
	MessageTypeAlert MessageType = 0xF0
)

var messageNames = map[MessageType]string{
	MessageTypeClientHello:   "ClientHello",
	MessageTypeServerHello:   "ServerHello",
	MessageTypeHello:         "Hello",
	MessageTypeNewQubit:      "NewQubit",
	MessageTypeApply:         "Apply",
	MessageTypeCNOT:          "CNOT",
	MessageTypeMeasure:       "Measure",
	MessageTypeSendQubit:     "SendQubit",
	MessageTypeRecvQubit:     "RecvQubit",
	MessageTypeSendClassical: "SendClassical",
	MessageTypeRecvClassical: "RecvClassical",
	MessageTypeClose:         "Close",
	MessageTypeAck:           "Ack",
	MessageTypeQubitRef:      "QubitRef",
	MessageTypeOutcome:       "Outcome",
	MessageTypeClassical:     "Classical",
	MessageTypeAlert:         "Alert",
}

// String returns a human-readable name for the message type.
func (mt MessageType) String() string {
	if name, ok := messageNames[mt]; ok {
		return name
	}
	return "Unknown"
}

// IsRequest reports whether mt is sent by the client after the handshake.
func (mt MessageType) IsRequest() bool {
	return mt >= MessageTypeHello && mt <= MessageTypeClose
}

// IsResponse reports whether mt is sent by the backend in reply to a request.
func (mt MessageType) IsResponse() bool {
	return (mt >= MessageTypeAck && mt <= MessageTypeClassical) || mt == MessageTypeAlert
}

// ClientHello is sent by the client to begin the handshake.
type ClientHello struct {
	// Protocol version offered by the client
	Version Version

	// Random nonce for freshness (32 bytes)
	Random []byte

	// X25519 public key followed by the ML-KEM-1024 encapsulation key
	PublicKey []byte
}

// ServerHello is sent by the backend in response to ClientHello.
type ServerHello struct {
	// Protocol version selected by the backend
	Version Version

	// Random nonce for freshness (32 bytes)
	Random []byte

	// X25519 ephemeral public key followed by the ML-KEM-1024 ciphertext
	Ciphertext []byte
}

// Validate checks if the ClientHello message is valid.
func (m *ClientHello) Validate() error {
	if !m.Version.Compatible(Current) {
		return qerrors.ErrUnsupportedVersion
	}
	if len(m.Random) != constants.LinkRandomSize {
		return qerrors.ErrInvalidMessage
	}
	if len(m.PublicKey) != constants.HybridPublicKeySize {
		return qerrors.ErrInvalidPublicKey
	}
	return nil
}

// Validate checks if the ServerHello message is valid.
func (m *ServerHello) Validate() error {
	if !m.Version.Compatible(Current) {
		return qerrors.ErrUnsupportedVersion
	}
	if len(m.Random) != constants.LinkRandomSize {
		return qerrors.ErrInvalidMessage
	}
	if len(m.Ciphertext) != constants.HybridCiphertextSize {
		return qerrors.ErrInvalidCiphertext
	}
	return nil
}

// Request is a client command. Only the fields used by Type are encoded.
type Request struct {
	Type MessageType

	// Version is offered in Hello.
	Version Version

	// Node names the client in Hello.
	Node string

	// Qubit is the operand of Apply, Measure and SendQubit, and the
	// control of CNOT.
	Qubit uint64

	// Target is the CNOT target.
	Target uint64

	// Gate is the Apply gate.
	Gate quantum.Gate

	// Peer is the destination of SendQubit and SendClassical.
	Peer string

	// Timeout bounds RecvQubit and RecvClassical. Zero leaves the bound to
	// the backend.
	Timeout time.Duration

	// Payload is the SendClassical message.
	Payload []byte
}

// Validate checks field bounds for r.Type.
func (r *Request) Validate() error {
	if !r.Type.IsRequest() {
		return qerrors.ErrUnexpectedMessage
	}
	switch r.Type {
	case MessageTypeHello:
		if !r.Version.Compatible(Current) {
			return qerrors.ErrUnsupportedVersion
		}
		return quantum.ValidNodeName(r.Node)
	case MessageTypeSendQubit:
		return quantum.ValidNodeName(r.Peer)
	case MessageTypeSendClassical:
		if len(r.Payload) > constants.MaxClassicalPayload {
			return qerrors.ErrMessageTooLarge
		}
		return quantum.ValidNodeName(r.Peer)
	case MessageTypeRecvQubit, MessageTypeRecvClassical:
		if r.Timeout < 0 || r.Timeout.Milliseconds() > maxTimeoutMillis {
			return qerrors.ErrInvalidMessage
		}
	}
	return nil
}

// Response is the backend's reply to a Request.
type Response struct {
	Type MessageType

	// Qubit is the QubitRef identifier.
	Qubit uint64

	// Outcome is the Outcome measurement result.
	Outcome uint8

	// Payload is the Classical message.
	Payload []byte

	// Alert is set when Type is MessageTypeAlert.
	Alert *AlertMessage
}

// Err returns the error carried by an Alert response, or nil.
func (r *Response) Err() error {
	if r.Type != MessageTypeAlert || r.Alert == nil {
		return nil
	}
	return r.Alert
}

// AlertCode identifies specific error conditions.
type AlertCode uint8

// Alert codes identifying specific error conditions.
const (
	// AlertCodeUnexpectedMessage indicates an unexpected message was received.
	AlertCodeUnexpectedMessage AlertCode = 0x01
	// AlertCodeInvalidMessage indicates a malformed message.
	AlertCodeInvalidMessage AlertCode = 0x02
	// AlertCodeHandshakeFailure indicates the handshake could not complete.
	AlertCodeHandshakeFailure AlertCode = 0x03
	// AlertCodeUnsupportedVersion indicates no common protocol version.
	AlertCodeUnsupportedVersion AlertCode = 0x04
	// AlertCodeDecryptionFailed indicates decryption or MAC verification failed.
	AlertCodeDecryptionFailed AlertCode = 0x06
	// AlertCodeInternalError indicates an internal implementation error.
	AlertCodeInternalError AlertCode = 0x07
	// AlertCodeCloseNotify indicates graceful connection closure.
	AlertCodeCloseNotify AlertCode = 0x08
	// AlertCodeConnectionLimit indicates the backend refused the connection.
	AlertCodeConnectionLimit AlertCode = 0x09

	// AlertCodeInvalidNode indicates a bad or already connected node name.
	AlertCodeInvalidNode AlertCode = 0x20
	// AlertCodeUnknownQubit indicates the backend has no such qubit.
	AlertCodeUnknownQubit AlertCode = 0x21
	// AlertCodeNotOwner indicates the qubit belongs to another node.
	AlertCodeNotOwner AlertCode = 0x22
	// AlertCodeQubitConsumed indicates a handle was used after consumption.
	AlertCodeQubitConsumed AlertCode = 0x23
	// AlertCodeInvalidGate indicates a gate outside {X, Z, H}.
	AlertCodeInvalidGate AlertCode = 0x24
	// AlertCodeSameQubit indicates CNOT with identical control and target.
	AlertCodeSameQubit AlertCode = 0x25
	// AlertCodeTimeout indicates a receive did not complete in time.
	AlertCodeTimeout AlertCode = 0x26
	// AlertCodeConnClosed indicates the backend session is closed.
	AlertCodeConnClosed AlertCode = 0x27
	// AlertCodeMessageTooLarge indicates an oversized payload.
	AlertCodeMessageTooLarge AlertCode = 0x28
	// AlertCodeResourceLimit indicates the node exceeded its qubit allowance.
	AlertCodeResourceLimit AlertCode = 0x29
)

var alertErrors = []struct {
	code AlertCode
	err  error
}{
	{AlertCodeUnexpectedMessage, qerrors.ErrUnexpectedMessage},
	{AlertCodeInvalidMessage, qerrors.ErrInvalidMessage},
	{AlertCodeHandshakeFailure, qerrors.ErrHandshakeFailed},
	{AlertCodeUnsupportedVersion, qerrors.ErrUnsupportedVersion},
	{AlertCodeDecryptionFailed, qerrors.ErrDecryptFailed},
	{AlertCodeCloseNotify, qerrors.ErrLinkClosed},
	{AlertCodeConnectionLimit, qerrors.ErrConnectionLimit},
	{AlertCodeInvalidNode, qerrors.ErrInvalidNode},
	{AlertCodeUnknownQubit, qerrors.ErrUnknownQubit},
	{AlertCodeNotOwner, qerrors.ErrNotOwner},
	{AlertCodeQubitConsumed, qerrors.ErrQubitConsumed},
	{AlertCodeInvalidGate, qerrors.ErrInvalidGate},
	{AlertCodeSameQubit, qerrors.ErrSameQubit},
	{AlertCodeTimeout, qerrors.ErrTimeout},
	{AlertCodeConnClosed, qerrors.ErrConnClosed},
	{AlertCodeMessageTooLarge, qerrors.ErrMessageTooLarge},
	{AlertCodeResourceLimit, qerrors.ErrInvalidConfig},
}

// Err returns the sentinel error a client reports for code.
func (code AlertCode) Err() error {
	for _, ae := range alertErrors {
		if ae.code == code {
			return ae.err
		}
	}
	return errInternal
}

// AlertCodeFor maps err to the alert code that carries it over the wire.
func AlertCodeFor(err error) AlertCode {
	for _, ae := range alertErrors {
		if errors.Is(err, ae.err) {
			return ae.code
		}
	}
	return AlertCodeInternalError
}

var errInternal = errors.New("backend: internal error")

// AlertLevel indicates the severity of the alert.
type AlertLevel uint8

// Alert severity levels.
const (
	// AlertLevelWarning reports a failed request; the session continues.
	AlertLevelWarning AlertLevel = 0x01
	// AlertLevelFatal indicates an unrecoverable error requiring connection termination.
	AlertLevelFatal AlertLevel = 0x02
)

// AlertMessage signals an error condition or connection closure.
type AlertMessage struct {
	// Level of the alert (Warning or Fatal)
	Level AlertLevel

	// Alert code identifying the specific condition
	Code AlertCode

	// Optional description (max 255 bytes)
	Description string
}

// NewAlert builds an alert describing err.
func NewAlert(level AlertLevel, err error) *AlertMessage {
	desc := err.Error()
	if len(desc) > maxDescription {
		desc = desc[:maxDescription]
	}
	return &AlertMessage{Level: level, Code: AlertCodeFor(err), Description: desc}
}

// Error implements error so an alert can be returned to callers. It matches
// the sentinel for its code under errors.Is.
func (m *AlertMessage) Error() string {
	if m.Description != "" {
		return "remote: " + m.Description
	}
	return "remote: " + m.Code.Err().Error()
}

// Unwrap returns the sentinel for the alert code.
func (m *AlertMessage) Unwrap() error {
	return m.Code.Err()
}

// Fatal reports whether the sender will close the connection.
func (m *AlertMessage) Fatal() bool {
	return m.Level == AlertLevelFatal
}

// Validate checks if the AlertMessage is valid.
func (m *AlertMessage) Validate() error {
	if m.Level != AlertLevelWarning && m.Level != AlertLevelFatal {
		return qerrors.ErrInvalidMessage
	}
	if len(m.Description) > maxDescription {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// HeaderSize is the size of the message header (type + length).
const HeaderSize = 5 // 1 byte type + 4 bytes length

// MaxMessageSize is the maximum size of a protocol message.
const MaxMessageSize = constants.MaxMessageSize

const (
	maxDescription   = 255
	maxTimeoutMillis = 1<<32 - 1
)
