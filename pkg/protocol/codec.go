package protocol

// codec.go implements serialization and deserialization of protocol messages.
//
// Wire Format:
//
// All messages follow this structure:
//
//	+------+--------+----------+
//	| Type | Length | Payload  |
//	| 1B   | 4B BE  | Variable |
//	+------+--------+----------+
//
// Length is big-endian uint32, not including header bytes. Integers are
// big-endian; names are prefixed with a 1-byte length.
//
//	ClientHello    Version(2) | Random(32) | PublicKey(1600)
//	ServerHello    Version(2) | Random(32) | Ciphertext(1600)
//	Hello          Version(2) | NodeLen(1) | Node
//	NewQubit       (empty)
//	Apply          Qubit(8) | Gate(1)
//	CNOT           Control(8) | Target(8)
//	Measure        Qubit(8)
//	SendQubit      Qubit(8) | PeerLen(1) | Peer
//	RecvQubit      TimeoutMillis(4)
//	SendClassical  PeerLen(1) | Peer | Message
//	RecvClassical  TimeoutMillis(4)
//	Close          (empty)
//	Ack            (empty)
//	QubitRef       Qubit(8)
//	Outcome        Bit(1)
//	Classical      Message
//	Alert          Level(1) | Code(1) | DescLen(1) | Description

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// Codec provides message serialization and deserialization.
type Codec struct{}

// NewCodec creates a new protocol codec.
func NewCodec() *Codec {
	return &Codec{}
}

// EncodeClientHello serializes a ClientHello message.
func (c *Codec) EncodeClientHello(m *ClientHello) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	w := newWriter(MessageTypeClientHello, 2+constants.LinkRandomSize+constants.HybridPublicKeySize)
	w.version(m.Version)
	w.raw(m.Random)
	w.raw(m.PublicKey)
	return w.finish()
}

// DecodeClientHello deserializes a ClientHello message.
func (c *Codec) DecodeClientHello(data []byte) (*ClientHello, error) {
	r, err := newReader(data, MessageTypeClientHello)
	if err != nil {
		return nil, err
	}
	m := &ClientHello{
		Version:   r.version(),
		Random:    r.fixed(constants.LinkRandomSize),
		PublicKey: r.fixed(constants.HybridPublicKeySize),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeServerHello serializes a ServerHello message.
func (c *Codec) EncodeServerHello(m *ServerHello) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	w := newWriter(MessageTypeServerHello, 2+constants.LinkRandomSize+constants.HybridCiphertextSize)
	w.version(m.Version)
	w.raw(m.Random)
	w.raw(m.Ciphertext)
	return w.finish()
}

// DecodeServerHello deserializes a ServerHello message.
func (c *Codec) DecodeServerHello(data []byte) (*ServerHello, error) {
	r, err := newReader(data, MessageTypeServerHello)
	if err != nil {
		return nil, err
	}
	m := &ServerHello{
		Version:    r.version(),
		Random:     r.fixed(constants.LinkRandomSize),
		Ciphertext: r.fixed(constants.HybridCiphertextSize),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeRequest serializes a client request.
func (c *Codec) EncodeRequest(m *Request) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	w := newWriter(m.Type, 16+len(m.Node)+len(m.Peer)+len(m.Payload))
	switch m.Type {
	case MessageTypeHello:
		w.version(m.Version)
		w.name(m.Node)
	case MessageTypeApply:
		w.u64(m.Qubit)
		w.u8(uint8(m.Gate))
	case MessageTypeCNOT:
		w.u64(m.Qubit)
		w.u64(m.Target)
	case MessageTypeMeasure:
		w.u64(m.Qubit)
	case MessageTypeSendQubit:
		w.u64(m.Qubit)
		w.name(m.Peer)
	case MessageTypeRecvQubit, MessageTypeRecvClassical:
		w.u32(uint32(m.Timeout.Milliseconds()))
	case MessageTypeSendClassical:
		w.name(m.Peer)
		w.raw(m.Payload)
	}
	return w.finish()
}

// DecodeRequest deserializes a client request.
func (c *Codec) DecodeRequest(data []byte) (*Request, error) {
	if len(data) < HeaderSize {
		return nil, qerrors.ErrInvalidMessage
	}
	mt := MessageType(data[0])
	if !mt.IsRequest() {
		return nil, qerrors.ErrUnexpectedMessage
	}
	r, err := newReader(data, mt)
	if err != nil {
		return nil, err
	}

	m := &Request{Type: mt}
	switch mt {
	case MessageTypeHello:
		m.Version = r.version()
		m.Node = r.name()
	case MessageTypeApply:
		m.Qubit = r.u64()
		m.Gate = quantum.Gate(r.u8())
	case MessageTypeCNOT:
		m.Qubit = r.u64()
		m.Target = r.u64()
	case MessageTypeMeasure:
		m.Qubit = r.u64()
	case MessageTypeSendQubit:
		m.Qubit = r.u64()
		m.Peer = r.name()
	case MessageTypeRecvQubit, MessageTypeRecvClassical:
		m.Timeout = time.Duration(r.u32()) * time.Millisecond
	case MessageTypeSendClassical:
		m.Peer = r.name()
		m.Payload = r.rest()
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeResponse serializes a backend response.
func (c *Codec) EncodeResponse(m *Response) ([]byte, error) {
	if !m.Type.IsResponse() {
		return nil, qerrors.ErrUnexpectedMessage
	}
	if m.Type == MessageTypeAlert {
		if m.Alert == nil {
			return nil, qerrors.ErrInvalidMessage
		}
		return c.EncodeAlert(m.Alert.Level, m.Alert.Code, m.Alert.Description), nil
	}
	if len(m.Payload) > constants.MaxClassicalPayload {
		return nil, qerrors.ErrMessageTooLarge
	}

	w := newWriter(m.Type, 8+len(m.Payload))
	switch m.Type {
	case MessageTypeQubitRef:
		w.u64(m.Qubit)
	case MessageTypeOutcome:
		w.u8(m.Outcome)
	case MessageTypeClassical:
		w.raw(m.Payload)
	}
	return w.finish()
}

// DecodeResponse deserializes a backend response.
func (c *Codec) DecodeResponse(data []byte) (*Response, error) {
	if len(data) < HeaderSize {
		return nil, qerrors.ErrInvalidMessage
	}
	mt := MessageType(data[0])
	if !mt.IsResponse() {
		return nil, qerrors.ErrUnexpectedMessage
	}
	if mt == MessageTypeAlert {
		level, code, desc, err := c.DecodeAlert(data)
		if err != nil {
			return nil, err
		}
		return &Response{Type: mt, Alert: &AlertMessage{Level: level, Code: code, Description: desc}}, nil
	}

	r, err := newReader(data, mt)
	if err != nil {
		return nil, err
	}
	m := &Response{Type: mt}
	switch mt {
	case MessageTypeQubitRef:
		m.Qubit = r.u64()
	case MessageTypeOutcome:
		m.Outcome = r.u8()
	case MessageTypeClassical:
		m.Payload = r.rest()
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	if m.Outcome > 1 {
		return nil, qerrors.ErrInvalidMessage
	}
	return m, nil
}

// EncodeAlert serializes an alert message.
func (c *Codec) EncodeAlert(level AlertLevel, code AlertCode, description string) []byte {
	// Description length is stored in a single byte (max 255)
	if len(description) > maxDescription {
		description = description[:maxDescription]
	}

	w := newWriter(MessageTypeAlert, 3+len(description))
	w.u8(uint8(level))
	w.u8(uint8(code))
	w.name(description)
	buf, _ := w.finish()
	return buf
}

// DecodeAlert deserializes an alert message.
func (c *Codec) DecodeAlert(data []byte) (AlertLevel, AlertCode, string, error) {
	r, err := newReader(data, MessageTypeAlert)
	if err != nil {
		return 0, 0, "", err
	}
	level := AlertLevel(r.u8())
	code := AlertCode(r.u8())
	desc := r.name()
	if err := r.done(); err != nil {
		return 0, 0, "", err
	}
	alert := AlertMessage{Level: level, Code: code, Description: desc}
	if err := alert.Validate(); err != nil {
		return 0, 0, "", err
	}
	return level, code, desc, nil
}

// ReadMessage reads a complete message from the reader.
func (c *Codec) ReadMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[1:5])
	if payloadLen > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}

	msg := make([]byte, HeaderSize+payloadLen)
	copy(msg, header)

	if payloadLen > 0 {
		if _, err := io.ReadFull(r, msg[HeaderSize:]); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// GetMessageType returns the type of a serialized message.
func (c *Codec) GetMessageType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, qerrors.ErrInvalidMessage
	}
	return MessageType(data[0]), nil
}

// writer appends fields after a reserved header.
type writer struct {
	buf []byte
}

func newWriter(mt MessageType, sizeHint int) *writer {
	buf := make([]byte, HeaderSize, HeaderSize+sizeHint)
	buf[0] = byte(mt)
	return &writer{buf: buf}
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) version(v Version) { w.buf = append(w.buf, v.Major, v.Minor) }
func (w *writer) name(s string) { w.buf = append(append(w.buf, byte(len(s))), s...) }

func (w *writer) finish() ([]byte, error) {
	payloadLen := len(w.buf) - HeaderSize
	if payloadLen > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	//nolint:gosec // G115: bounded by MaxMessageSize
	binary.BigEndian.PutUint32(w.buf[1:HeaderSize], uint32(payloadLen))
	return w.buf, nil
}

// reader consumes fields from a message payload. The first short read
// latches ErrInvalidMessage and every later read returns zero values.
type reader struct {
	data []byte
	off  int
	err  error
}

func newReader(data []byte, want MessageType) (*reader, error) {
	if len(data) < HeaderSize {
		return nil, qerrors.ErrInvalidMessage
	}
	if MessageType(data[0]) != want {
		return nil, qerrors.ErrInvalidMessage
	}
	payloadLen := binary.BigEndian.Uint32(data[1:HeaderSize])
	if payloadLen > MaxMessageSize || len(data) != HeaderSize+int(payloadLen) {
		return nil, qerrors.ErrInvalidMessage
	}
	return &reader{data: data[HeaderSize:]}, nil
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = qerrors.ErrInvalidMessage
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) version() Version {
	return ParseVersion(r.take(2))
}

// fixed returns a copy of the next n bytes.
func (r *reader) fixed(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *reader) name() string {
	n := int(r.u8())
	return string(r.take(n))
}

// rest returns a copy of all remaining bytes.
func (r *reader) rest() []byte {
	return r.fixed(len(r.data) - r.off)
}

// done reports a short read or trailing bytes.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return qerrors.ErrInvalidMessage
	}
	return nil
}
