// Package link implements the post-quantum secured transport between a
// remote quantum-channel client and a simulator backend.
//
// A link starts with a hybrid X25519 + ML-KEM-1024 handshake and then
// carries length-prefixed ChaCha20-Poly1305 records:
//
//	+--------+----------+-----------------------------+
//	| Length | Sequence | Ciphertext || Tag           |
//	| 4B BE  | 8B BE    | Variable                    |
//	+--------+----------+-----------------------------+
//
// Each direction numbers its records from zero. A record with any sequence
// number other than the next expected one is rejected as a replay.
package link

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/crypto"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/protocol"
)

const lengthSize = 4

// MaxRecordSize bounds a sealed record on the wire.
const MaxRecordSize = protocol.MaxMessageSize + crypto.RecordOverhead

// Observer receives link lifecycle and record events.
type Observer interface {
	OnHandshakeStart(ctx context.Context, remote string, server bool) (context.Context, func(error))
	OnRecordSent(n int)
	OnRecordReceived(n int)
	OnReplayDetected(remote string)
	OnDecryptError(remote string)
}

var _ Observer = (*metrics.LinkObserver)(nil)

// NoOpObserver ignores every event.
type NoOpObserver struct{}

// OnHandshakeStart implements Observer.
func (NoOpObserver) OnHandshakeStart(ctx context.Context, _ string, _ bool) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// OnRecordSent implements Observer.
func (NoOpObserver) OnRecordSent(int) {}

// OnRecordReceived implements Observer.
func (NoOpObserver) OnRecordReceived(int) {}

// OnReplayDetected implements Observer.
func (NoOpObserver) OnReplayDetected(string) {}

// OnDecryptError implements Observer.
func (NoOpObserver) OnDecryptError(string) {}

// Config holds link timeouts and hooks.
type Config struct {
	// HandshakeTimeout bounds the key exchange. Zero means no bound beyond
	// the context passed to Client or Server.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single record write.
	WriteTimeout time.Duration

	Observer Observer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		Observer:         NoOpObserver{},
	}
}

func (c Config) withDefaults() Config {
	if c.Observer == nil {
		c.Observer = NoOpObserver{}
	}
	return c
}

// Conn is an established link.
type Conn struct {
	conn     net.Conn
	keys     *keys
	observer Observer
	remote   string

	writeTimeout time.Duration

	writeMu sync.Mutex
	readMu  sync.Mutex
	closed  atomic.Bool
}

// Dial connects to addr and runs the client handshake.
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, err := Client(ctx, nc, cfg)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

// Client runs the client handshake over nc.
func Client(ctx context.Context, nc net.Conn, cfg Config) (*Conn, error) {
	return handshake(ctx, nc, cfg, false)
}

// Server runs the backend handshake over nc.
func Server(ctx context.Context, nc net.Conn, cfg Config) (*Conn, error) {
	return handshake(ctx, nc, cfg, true)
}

func handshake(ctx context.Context, nc net.Conn, cfg Config, server bool) (c *Conn, err error) {
	cfg = cfg.withDefaults()
	remote := nc.RemoteAddr().String()

	ctx, done := cfg.Observer.OnHandshakeStart(ctx, remote, server)
	defer func() { done(err) }()

	if cfg.HandshakeTimeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
	defer stop()

	codec := protocol.NewCodec()
	var k *keys
	if server {
		k, err = serverHandshake(nc, codec)
	} else {
		k, err = clientHandshake(nc, codec)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		if !errors.Is(err, qerrors.ErrHandshakeFailed) {
			err = fmt.Errorf("%w: %w", qerrors.ErrHandshakeFailed, err)
		}
		return nil, err
	}
	if !stop() {
		return nil, fmt.Errorf("%w: %w", qerrors.ErrHandshakeFailed, ctx.Err())
	}
	_ = nc.SetDeadline(time.Time{})

	return &Conn{
		conn:         nc,
		keys:         k,
		observer:     cfg.Observer,
		remote:       remote,
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

// WriteRecord seals p and writes it as one record.
func (c *Conn) WriteRecord(p []byte) error {
	if c.closed.Load() {
		return qerrors.ErrLinkClosed
	}
	if len(p) > protocol.MaxMessageSize {
		return qerrors.ErrMessageTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	record, err := c.keys.seal.Seal(p)
	if err != nil {
		return err
	}
	frame := make([]byte, lengthSize, lengthSize+len(record))
	//nolint:gosec // G115: bounded by MaxRecordSize
	binary.BigEndian.PutUint32(frame, uint32(len(record)))
	frame = append(frame, record...)

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(frame); err != nil {
		return err
	}
	c.observer.OnRecordSent(len(frame))
	return nil
}

// ReadRecord reads and opens the next record. Replayed, reordered, or
// tampered records fail with ErrReplayDetected or ErrDecryptFailed.
func (c *Conn) ReadRecord() ([]byte, error) {
	if c.closed.Load() {
		return nil, qerrors.ErrLinkClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	var header [lengthSize]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, qerrors.ErrLinkClosed
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxRecordSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	record := make([]byte, n)
	if _, err := io.ReadFull(c.conn, record); err != nil {
		return nil, err
	}
	c.observer.OnRecordReceived(lengthSize + len(record))

	plaintext, err := c.keys.open.Open(record)
	switch {
	case errors.Is(err, qerrors.ErrReplayDetected):
		c.observer.OnReplayDetected(c.remote)
		return nil, err
	case err != nil:
		c.observer.OnDecryptError(c.remote)
		return nil, err
	}
	return plaintext, nil
}

// SetReadDeadline sets the deadline for ReadRecord.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetDeadline sets read and write deadlines on the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
