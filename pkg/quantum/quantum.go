// Package quantum defines the Quantum Channel Provider contract consumed by
// the authentication protocols.
//
// A provider gives each named node a connection through which it can
// create qubits, apply single-qubit gates and controlled flips, measure,
// move qubits to a peer, and exchange classical byte messages. Qubit
// handles are move-only: measuring or transmitting a qubit consumes its
// handle, and any later use fails with ErrQubitConsumed.
//
// Two providers ship with this module: pkg/sim (in-process simulator) and
// pkg/backend (network client for a simulator served over a secure link).
package quantum

import (
	"context"
	"fmt"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
)

// Gate identifies a single-qubit gate.
type Gate uint8

// Supported single-qubit gates.
const (
	// GateX is the bit-flip (Pauli X) gate.
	GateX Gate = 0x01
	// GateZ is the phase-flip (Pauli Z) gate.
	GateZ Gate = 0x02
	// GateH is the Hadamard (basis-change) gate.
	GateH Gate = 0x03
)

// String returns the conventional gate name.
func (g Gate) String() string {
	switch g {
	case GateX:
		return "X"
	case GateZ:
		return "Z"
	case GateH:
		return "H"
	default:
		return fmt.Sprintf("Gate(%d)", uint8(g))
	}
}

// Valid reports whether g is one of X, Z, H.
func (g Gate) Valid() bool {
	return g == GateX || g == GateZ || g == GateH
}

// Qubit is a move-only handle to a qubit held by one node. Providers mint
// handles; protocol code only passes them back to the provider.
type Qubit struct {
	id    uint64
	node  string
	spent bool
}

// NewQubit mints a handle for a provider-side qubit id held by node.
func NewQubit(node string, id uint64) *Qubit {
	return &Qubit{id: id, node: node}
}

// ID returns the provider-side identifier.
func (q *Qubit) ID() uint64 { return q.id }

// Node returns the node that held the qubit when the handle was minted.
func (q *Qubit) Node() string { return q.node }

// Spent reports whether the handle has been consumed.
func (q *Qubit) Spent() bool { return q.spent }

// Check returns ErrQubitConsumed for a nil or consumed handle.
func (q *Qubit) Check() error {
	if q == nil || q.spent {
		return qerrors.ErrQubitConsumed
	}
	return nil
}

// Consume marks the handle as spent and returns its id. A second call fails.
func (q *Qubit) Consume() (uint64, error) {
	if err := q.Check(); err != nil {
		return 0, err
	}
	q.spent = true
	return q.id, nil
}

func (q *Qubit) String() string {
	state := "live"
	if q.spent {
		state = "spent"
	}
	return fmt.Sprintf("qubit(%s#%d, %s)", q.node, q.id, state)
}

// Conn is one node's session with the Quantum Channel Provider.
//
// Operations on a given qubit observe program order. Measure and SendQubit
// consume the handle. Receives block until a message arrives, the context
// is done, or the connection is closed.
type Conn interface {
	// Node returns the name this connection acts for.
	Node() string

	// NewQubit allocates a qubit in state |0>.
	NewQubit(ctx context.Context) (*Qubit, error)

	// Apply applies a single-qubit gate.
	Apply(ctx context.Context, q *Qubit, g Gate) error

	// CNOT applies a controlled flip of target conditioned on control.
	CNOT(ctx context.Context, control, target *Qubit) error

	// Measure collapses q in the computational basis and consumes it.
	Measure(ctx context.Context, q *Qubit) (uint8, error)

	// SendQubit moves q to peer; q is consumed locally.
	SendQubit(ctx context.Context, q *Qubit, peer string) error

	// RecvQubit returns the next qubit sent to this node, in send order.
	RecvQubit(ctx context.Context) (*Qubit, error)

	// SendClassical delivers an ordered byte message to peer.
	SendClassical(ctx context.Context, peer string, msg []byte) error

	// RecvClassical returns the next classical message for this node.
	RecvClassical(ctx context.Context) ([]byte, error)

	// Close ends the session. Qubits still held through this connection
	// are released.
	Close() error
}

// Dialer opens provider connections for named nodes. Callers must Close the
// returned Conn on every exit path.
type Dialer interface {
	Open(ctx context.Context, node string) (Conn, error)
}

// ValidNodeName reports whether name can identify a node.
func ValidNodeName(name string) error {
	if name == "" || len(name) > constants.MaxNodeNameLength {
		return qerrors.ErrInvalidNode
	}
	return nil
}
