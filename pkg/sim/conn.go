package sim

import (
	"context"
	"sync"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// Conn is one node's connection to a Network.
type Conn struct {
	net    *Network
	node   string
	closed chan struct{}
	once   sync.Once

	allocated int
}

var _ quantum.Conn = (*Conn)(nil)

// Node returns the name this connection acts for.
func (c *Conn) Node() string { return c.node }

func (c *Conn) check(ctx context.Context, op string) error {
	select {
	case <-c.closed:
		return qerrors.NewChannelError(op, qerrors.ErrConnClosed)
	default:
	}
	if err := ctx.Err(); err != nil {
		return qerrors.NewChannelError(op, err)
	}
	return nil
}

// NewQubit allocates a qubit in |0>.
func (c *Conn) NewQubit(ctx context.Context) (*quantum.Qubit, error) {
	if err := c.check(ctx, "new-qubit"); err != nil {
		return nil, err
	}

	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if c.allocated >= maxQubitsPerConn {
		return nil, qerrors.NewChannelError("new-qubit", qerrors.ErrInvalidConfig)
	}
	c.allocated++
	n.nextID++
	id := n.nextID
	n.qubits[id] = &qubitState{reg: newRegister(id), owner: c.node}
	return quantum.NewQubit(c.node, id), nil
}

// Apply applies a single-qubit gate.
func (c *Conn) Apply(ctx context.Context, q *quantum.Qubit, g quantum.Gate) error {
	if err := c.check(ctx, "apply"); err != nil {
		return err
	}
	if err := q.Check(); err != nil {
		return qerrors.NewChannelError("apply", err)
	}
	if !g.Valid() {
		return qerrors.NewChannelError("apply", qerrors.ErrInvalidGate)
	}

	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.owned(q.ID(), c.node); err != nil {
		return qerrors.NewChannelError("apply", err)
	}
	reg, pos := n.locate(q.ID())
	reg.apply(pos, g)
	return nil
}

// CNOT flips target conditioned on control, merging their registers if
// they have not interacted before.
func (c *Conn) CNOT(ctx context.Context, control, target *quantum.Qubit) error {
	if err := c.check(ctx, "cnot"); err != nil {
		return err
	}
	if err := control.Check(); err != nil {
		return qerrors.NewChannelError("cnot", err)
	}
	if err := target.Check(); err != nil {
		return qerrors.NewChannelError("cnot", err)
	}
	if control.ID() == target.ID() {
		return qerrors.NewChannelError("cnot", qerrors.ErrSameQubit)
	}

	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	cs, err := n.owned(control.ID(), c.node)
	if err != nil {
		return qerrors.NewChannelError("cnot", err)
	}
	ts, err := n.owned(target.ID(), c.node)
	if err != nil {
		return qerrors.NewChannelError("cnot", err)
	}

	if cs.reg != ts.reg {
		merged, err := cs.reg.merge(ts.reg)
		if err != nil {
			return qerrors.NewChannelError("cnot", err)
		}
		for _, id := range merged.ids {
			n.qubits[id].reg = merged
		}
	}
	reg := n.qubits[control.ID()].reg
	reg.cnot(reg.position(control.ID()), reg.position(target.ID()))
	return nil
}

// Measure collapses q in the computational basis and consumes the handle.
func (c *Conn) Measure(ctx context.Context, q *quantum.Qubit) (uint8, error) {
	if err := c.check(ctx, "measure"); err != nil {
		return 0, err
	}
	if err := q.Check(); err != nil {
		return 0, qerrors.NewChannelError("measure", err)
	}

	n := c.net
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.owned(q.ID(), c.node); err != nil {
		return 0, qerrors.NewChannelError("measure", err)
	}
	outcome, err := n.measureLocked(q.ID())
	if err != nil {
		return 0, qerrors.NewChannelError("measure", err)
	}
	_, _ = q.Consume()
	return outcome, nil
}

// SendQubit moves q to peer's inbox and consumes the handle.
func (c *Conn) SendQubit(ctx context.Context, q *quantum.Qubit, peer string) error {
	if err := c.check(ctx, "send-qubit"); err != nil {
		return err
	}
	if err := q.Check(); err != nil {
		return qerrors.NewChannelError("send-qubit", err)
	}
	if err := quantum.ValidNodeName(peer); err != nil {
		return qerrors.NewChannelError("send-qubit", err)
	}

	n := c.net
	n.mu.Lock()
	qs, err := n.owned(q.ID(), c.node)
	if err != nil {
		n.mu.Unlock()
		return qerrors.NewChannelError("send-qubit", err)
	}
	qs.owner = peer
	l := link{from: c.node, to: peer}
	seq := n.linkCount[l]
	n.linkCount[l]++
	if n.tap != nil {
		n.tap(&Transit{From: c.node, To: peer, Seq: seq, net: n, id: q.ID()})
	}
	box := n.inboxFor(peer)
	n.mu.Unlock()

	_, _ = q.Consume()
	box.qubits.push(q.ID())
	return nil
}

// RecvQubit returns the next qubit sent to this node.
func (c *Conn) RecvQubit(ctx context.Context) (*quantum.Qubit, error) {
	if err := c.check(ctx, "recv-qubit"); err != nil {
		return nil, err
	}

	c.net.mu.Lock()
	box := c.net.inboxFor(c.node)
	c.net.mu.Unlock()

	id, err := box.qubits.pop(ctx, c.closed)
	if err != nil {
		return nil, qerrors.NewChannelError("recv-qubit", err)
	}
	return quantum.NewQubit(c.node, id), nil
}

// SendClassical delivers a copy of msg to peer.
func (c *Conn) SendClassical(ctx context.Context, peer string, msg []byte) error {
	if err := c.check(ctx, "send-classical"); err != nil {
		return err
	}
	if err := quantum.ValidNodeName(peer); err != nil {
		return qerrors.NewChannelError("send-classical", err)
	}
	if len(msg) > constants.MaxClassicalPayload {
		return qerrors.NewChannelError("send-classical", qerrors.ErrMessageTooLarge)
	}

	c.net.mu.Lock()
	box := c.net.inboxFor(peer)
	c.net.mu.Unlock()

	box.classical.push(append([]byte(nil), msg...))
	return nil
}

// RecvClassical returns the next classical message for this node.
func (c *Conn) RecvClassical(ctx context.Context) ([]byte, error) {
	if err := c.check(ctx, "recv-classical"); err != nil {
		return nil, err
	}

	c.net.mu.Lock()
	box := c.net.inboxFor(c.node)
	c.net.mu.Unlock()

	msg, err := box.classical.pop(ctx, c.closed)
	if err != nil {
		return nil, qerrors.NewChannelError("recv-classical", err)
	}
	return msg, nil
}

// Close releases every qubit this node still holds and unblocks pending
// receives. It is safe to call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		n := c.net
		n.mu.Lock()
		released := n.release(c.node)
		if n.active[c.node] == c {
			delete(n.active, c.node)
		}
		n.mu.Unlock()
		n.logger.Debug("node disconnected", metrics.Fields{"node": c.node, "released": released})
	})
	return nil
}
