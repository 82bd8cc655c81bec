package quantum

import (
	"context"
	"fmt"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
)

// Pair is two qubits prepared together. Once either half is sent to a peer
// the pair describes an entanglement relationship, not a co-located object.
type Pair struct {
	A *Qubit
	B *Qubit
}

// BellIndex selects the Bell state produced by Entangle.
//
// The constructor applies X to B iff index > 2, X to A iff index is even,
// then H on A and CNOT(A -> B). Starting from |00> this yields:
//
//	0 -> |phi->  = (|00> - |11>)/sqrt2
//	1 -> |phi+>  = (|00> + |11>)/sqrt2
//	2 -> |phi->  = (|00> - |11>)/sqrt2
//	3 -> |psi+>  = (|01> + |10>)/sqrt2
type BellIndex int

// Correlated reports whether a Z-basis measurement of both halves agrees.
func (b BellIndex) Correlated() bool {
	return b <= 2
}

// Valid reports whether b is in [0, 3].
func (b BellIndex) Valid() bool {
	return b >= 0 && b < constants.BellIndexCount
}

// Entangle prepares a and b (both in |0>) into the Bell state selected by index.
func Entangle(ctx context.Context, conn Conn, a, b *Qubit, index BellIndex) error {
	if !index.Valid() {
		return fmt.Errorf("%w: bell index %d", qerrors.ErrInvalidConfig, index)
	}
	if index > 2 {
		if err := conn.Apply(ctx, b, GateX); err != nil {
			return err
		}
	}
	if index%2 == 0 {
		if err := conn.Apply(ctx, a, GateX); err != nil {
			return err
		}
	}
	if err := conn.Apply(ctx, a, GateH); err != nil {
		return err
	}
	return conn.CNOT(ctx, a, b)
}

// NewPair allocates two qubits and entangles them.
func NewPair(ctx context.Context, conn Conn, index BellIndex) (Pair, error) {
	a, err := conn.NewQubit(ctx)
	if err != nil {
		return Pair{}, err
	}
	b, err := conn.NewQubit(ctx)
	if err != nil {
		return Pair{}, err
	}
	if err := Entangle(ctx, conn, a, b, index); err != nil {
		return Pair{}, err
	}
	return Pair{A: a, B: b}, nil
}

// ApplyAll applies gates to q in order.
func ApplyAll(ctx context.Context, conn Conn, q *Qubit, gates ...Gate) error {
	for _, g := range gates {
		if err := conn.Apply(ctx, q, g); err != nil {
			return err
		}
	}
	return nil
}

// Release measures out every live handle in qs, discarding the outcomes.
// It returns the first error but keeps releasing the rest.
func Release(ctx context.Context, conn Conn, qs ...*Qubit) error {
	var first error
	for _, q := range qs {
		if q == nil || q.Spent() {
			continue
		}
		if _, err := conn.Measure(ctx, q); err != nil && first == nil {
			first = err
		}
	}
	return first
}
