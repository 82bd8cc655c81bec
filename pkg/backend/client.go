package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/link"
	"github.com/pzverkov/quantum-auth/pkg/protocol"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// responseGrace is how long past a context deadline the client waits for
// the backend's own timeout reply.
const responseGrace = 2 * time.Second

// closeTimeout bounds the Close handshake.
const closeTimeout = 2 * time.Second

// Client dials a backend. It implements quantum.Dialer, so the protocol
// packages run over it unchanged.
type Client struct {
	addr string
	cfg  link.Config
}

var _ quantum.Dialer = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLinkConfig sets link timeouts and the link observer.
func WithLinkConfig(cfg link.Config) ClientOption {
	return func(c *Client) { c.cfg = cfg }
}

// NewClient returns a client for the backend at addr.
func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{addr: addr, cfg: link.DefaultConfig()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open connects to the backend and attaches to node.
func (c *Client) Open(ctx context.Context, node string) (quantum.Conn, error) {
	if err := quantum.ValidNodeName(node); err != nil {
		return nil, err
	}
	lc, err := link.Dial(ctx, c.addr, c.cfg)
	if err != nil {
		return nil, qerrors.NewChannelError("open", err)
	}

	rc := &remoteConn{link: lc, codec: protocol.NewCodec(), node: node}
	_, err = rc.roundTrip(ctx, "open", &protocol.Request{
		Type:    protocol.MessageTypeHello,
		Version: protocol.Current,
		Node:    node,
	}, protocol.MessageTypeAck)
	if err != nil {
		_ = lc.Close()
		return nil, err
	}
	return rc, nil
}

// remoteConn is a quantum.Conn whose operations run on a backend.
// Requests are strictly sequential: one outstanding request per link.
type remoteConn struct {
	link  *link.Conn
	codec *protocol.Codec
	node  string

	mu     sync.Mutex
	broken bool
	once   sync.Once
}

var _ quantum.Conn = (*remoteConn)(nil)

func (c *remoteConn) Node() string { return c.node }

// watch arranges for a blocked read to return when ctx ends. A cancelled
// context aborts at once; an expired deadline leaves the backend a grace
// period to deliver its own timeout reply.
func (c *remoteConn) watch(ctx context.Context) func() bool {
	_ = c.link.SetReadDeadline(time.Time{})
	return context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			_ = c.link.SetReadDeadline(time.Now().Add(responseGrace))
			return
		}
		_ = c.link.SetReadDeadline(time.Now())
	})
}

func (c *remoteConn) exchange(msg []byte) (*protocol.Response, error) {
	if err := c.link.WriteRecord(msg); err != nil {
		return nil, err
	}
	rec, err := c.link.ReadRecord()
	if err != nil {
		return nil, err
	}
	return c.codec.DecodeResponse(rec)
}

// roundTrip sends req and waits for a response of type want. A transport
// failure leaves the link in an unknown state, so later calls fail with
// ErrConnClosed.
func (c *remoteConn) roundTrip(ctx context.Context, op string, req *protocol.Request, want protocol.MessageType) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil, qerrors.NewChannelError(op, qerrors.ErrConnClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, qerrors.NewChannelError(op, err)
	}
	msg, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, qerrors.NewChannelError(op, err)
	}

	stop := c.watch(ctx)
	resp, err := c.exchange(msg)
	stop()
	if err != nil {
		c.broken = true
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, qerrors.NewChannelError(op, fmt.Errorf("%w: %w", qerrors.ErrTimeout, ctxErr))
			}
			return nil, qerrors.NewChannelError(op, ctxErr)
		}
		return nil, qerrors.NewChannelError(op, fmt.Errorf("%w: %w", qerrors.ErrConnClosed, err))
	}

	if alert := resp.Err(); alert != nil {
		if resp.Alert.Fatal() {
			c.broken = true
		}
		return nil, qerrors.NewChannelError(op, alert)
	}
	if resp.Type != want {
		c.broken = true
		return nil, qerrors.NewChannelError(op, fmt.Errorf("%w: %s", qerrors.ErrUnexpectedMessage, resp.Type))
	}
	return resp, nil
}

// recvTimeout tells the backend how long to wait for a delivery.
func recvTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	d := time.Until(deadline)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (c *remoteConn) NewQubit(ctx context.Context) (*quantum.Qubit, error) {
	resp, err := c.roundTrip(ctx, "new-qubit", &protocol.Request{Type: protocol.MessageTypeNewQubit}, protocol.MessageTypeQubitRef)
	if err != nil {
		return nil, err
	}
	return quantum.NewQubit(c.node, resp.Qubit), nil
}

func (c *remoteConn) Apply(ctx context.Context, q *quantum.Qubit, g quantum.Gate) error {
	if err := q.Check(); err != nil {
		return qerrors.NewChannelError("apply", err)
	}
	if !g.Valid() {
		return qerrors.NewChannelError("apply", qerrors.ErrInvalidGate)
	}
	_, err := c.roundTrip(ctx, "apply", &protocol.Request{
		Type:  protocol.MessageTypeApply,
		Qubit: q.ID(),
		Gate:  g,
	}, protocol.MessageTypeAck)
	return err
}

func (c *remoteConn) CNOT(ctx context.Context, control, target *quantum.Qubit) error {
	if err := control.Check(); err != nil {
		return qerrors.NewChannelError("cnot", err)
	}
	if err := target.Check(); err != nil {
		return qerrors.NewChannelError("cnot", err)
	}
	if control.ID() == target.ID() {
		return qerrors.NewChannelError("cnot", qerrors.ErrSameQubit)
	}
	_, err := c.roundTrip(ctx, "cnot", &protocol.Request{
		Type:   protocol.MessageTypeCNOT,
		Qubit:  control.ID(),
		Target: target.ID(),
	}, protocol.MessageTypeAck)
	return err
}

func (c *remoteConn) Measure(ctx context.Context, q *quantum.Qubit) (uint8, error) {
	if err := q.Check(); err != nil {
		return 0, qerrors.NewChannelError("measure", err)
	}
	resp, err := c.roundTrip(ctx, "measure", &protocol.Request{
		Type:  protocol.MessageTypeMeasure,
		Qubit: q.ID(),
	}, protocol.MessageTypeOutcome)
	if err != nil {
		return 0, err
	}
	_, _ = q.Consume()
	return resp.Outcome, nil
}

func (c *remoteConn) SendQubit(ctx context.Context, q *quantum.Qubit, peer string) error {
	if err := q.Check(); err != nil {
		return qerrors.NewChannelError("send-qubit", err)
	}
	_, err := c.roundTrip(ctx, "send-qubit", &protocol.Request{
		Type:  protocol.MessageTypeSendQubit,
		Qubit: q.ID(),
		Peer:  peer,
	}, protocol.MessageTypeAck)
	if err != nil {
		return err
	}
	_, _ = q.Consume()
	return nil
}

func (c *remoteConn) RecvQubit(ctx context.Context) (*quantum.Qubit, error) {
	resp, err := c.roundTrip(ctx, "recv-qubit", &protocol.Request{
		Type:    protocol.MessageTypeRecvQubit,
		Timeout: recvTimeout(ctx),
	}, protocol.MessageTypeQubitRef)
	if err != nil {
		return nil, err
	}
	return quantum.NewQubit(c.node, resp.Qubit), nil
}

func (c *remoteConn) SendClassical(ctx context.Context, peer string, msg []byte) error {
	_, err := c.roundTrip(ctx, "send-classical", &protocol.Request{
		Type:    protocol.MessageTypeSendClassical,
		Peer:    peer,
		Payload: msg,
	}, protocol.MessageTypeAck)
	return err
}

func (c *remoteConn) RecvClassical(ctx context.Context) ([]byte, error) {
	resp, err := c.roundTrip(ctx, "recv-classical", &protocol.Request{
		Type:    protocol.MessageTypeRecvClassical,
		Timeout: recvTimeout(ctx),
	}, protocol.MessageTypeClassical)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Close ends the backend session, releasing the node's qubits there, and
// closes the link. It waits briefly for the backend to confirm so the node
// name is free again when Close returns.
func (c *remoteConn) Close() error {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_, _ = c.roundTrip(ctx, "close", &protocol.Request{Type: protocol.MessageTypeClose}, protocol.MessageTypeAck)

		c.mu.Lock()
		c.broken = true
		c.mu.Unlock()
		_ = c.link.Close()
	})
	return nil
}
