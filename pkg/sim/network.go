// Package sim is an in-process Quantum Channel Provider: an exact
// state-vector simulator shared by a network of named nodes.
//
// Qubits that have never interacted live in separate registers. A CNOT
// across registers merges them into their tensor product; a measurement
// collapses the register and removes the measured qubit. Each node has a
// FIFO inbox for qubits and one for classical messages; receives block
// until an item arrives, the context is done, or the connection closes.
//
// Measurement randomness comes from an io.Reader, so a Network built with
// crypto.NewSeededReader replays identically.
package sim

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/crypto"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// Option configures a Network.
type Option func(*Network)

// WithRandom sets the measurement randomness source.
func WithRandom(r io.Reader) Option {
	return func(n *Network) {
		n.rng = r
	}
}

// WithSeed makes measurement outcomes reproducible.
func WithSeed(seed uint64) Option {
	return func(n *Network) {
		n.rng = crypto.NewSeededReader(seed)
	}
}

// WithTap installs a hook that sees every qubit in transit.
func WithTap(tap Tap) Option {
	return func(n *Network) {
		n.tap = tap
	}
}

// WithLogger sets the logger used for provider events.
func WithLogger(l *metrics.Logger) Option {
	return func(n *Network) {
		n.logger = l
	}
}

// Tap observes a qubit moving between nodes and may act on it before it is
// delivered. It runs with the network lock held and must only use the
// Transit methods.
type Tap func(t *Transit)

// Transit is a qubit on the quantum channel.
type Transit struct {
	// From and To name the sending and receiving nodes.
	From, To string
	// Seq counts qubits previously sent from From to To.
	Seq int

	net *Network
	id  uint64
}

// Apply acts on the in-transit qubit with g.
func (t *Transit) Apply(g quantum.Gate) error {
	if !g.Valid() {
		return qerrors.ErrInvalidGate
	}
	reg, pos := t.net.locate(t.id)
	reg.apply(pos, g)
	return nil
}

// Measure performs an intercept-resend: the qubit is measured in the
// computational basis and a fresh qubit in the observed state continues to
// the receiver.
func (t *Transit) Measure() (uint8, error) {
	reg, pos := t.net.locate(t.id)
	outcome, err := reg.measure(pos, t.net.rng)
	if err != nil {
		return 0, err
	}
	fresh := newRegister(t.id)
	if outcome == 1 {
		fresh.apply(0, quantum.GateX)
	}
	t.net.qubits[t.id].reg = fresh
	return outcome, nil
}

type qubitState struct {
	reg   *register
	owner string
}

type link struct {
	from, to string
}

// Network is a set of named nodes sharing one simulated quantum system.
// It implements quantum.Dialer.
type Network struct {
	mu        sync.Mutex
	rng       io.Reader
	tap       Tap
	logger    *metrics.Logger
	nextID    uint64
	qubits    map[uint64]*qubitState
	inboxes   map[string]*inbox
	active    map[string]*Conn
	linkCount map[link]int
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{
		rng:       crypto.Reader,
		logger:    metrics.NullLogger(),
		qubits:    make(map[uint64]*qubitState),
		inboxes:   make(map[string]*inbox),
		active:    make(map[string]*Conn),
		linkCount: make(map[link]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.Named("sim")
	return n
}

// Open returns a connection acting for node. A node can hold at most one
// open connection at a time.
func (n *Network) Open(ctx context.Context, node string) (quantum.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := quantum.ValidNodeName(node); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, busy := n.active[node]; busy {
		return nil, fmt.Errorf("%w: %q already connected", qerrors.ErrInvalidNode, node)
	}
	c := &Conn{net: n, node: node, closed: make(chan struct{})}
	n.active[node] = c
	n.logger.Debug("node connected", metrics.Fields{"node": node})
	return c, nil
}

// LiveQubits reports how many qubits exist in the network.
func (n *Network) LiveQubits() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.qubits)
}

// Held reports how many qubits node currently owns, including qubits
// waiting in its inbox.
func (n *Network) Held(node string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, qs := range n.qubits {
		if qs.owner == node {
			count++
		}
	}
	return count
}

func (n *Network) inboxFor(node string) *inbox {
	box, ok := n.inboxes[node]
	if !ok {
		box = newInbox()
		n.inboxes[node] = box
	}
	return box
}

// locate returns the register and bit position of a live qubit. Callers
// hold n.mu and have checked that id exists.
func (n *Network) locate(id uint64) (*register, int) {
	reg := n.qubits[id].reg
	return reg, reg.position(id)
}

// owned checks that id exists and belongs to node.
func (n *Network) owned(id uint64, node string) (*qubitState, error) {
	qs, ok := n.qubits[id]
	if !ok {
		return nil, qerrors.ErrUnknownQubit
	}
	if qs.owner != node {
		return nil, qerrors.ErrNotOwner
	}
	return qs, nil
}

func (n *Network) measureLocked(id uint64) (uint8, error) {
	reg, pos := n.locate(id)
	outcome, err := reg.measure(pos, n.rng)
	if err != nil {
		return 0, err
	}
	delete(n.qubits, id)
	return outcome, nil
}

// release measures out every qubit owned by node and drops queued qubits.
func (n *Network) release(node string) int {
	released := 0
	for id, qs := range n.qubits {
		if qs.owner != node {
			continue
		}
		if _, err := n.measureLocked(id); err != nil {
			// Randomness failed; drop the handle anyway.
			delete(n.qubits, id)
		}
		released++
	}
	if box, ok := n.inboxes[node]; ok {
		box.qubits.drain()
	}
	return released
}

// inbox is a node's pair of FIFO queues.
type inbox struct {
	qubits    *queue[uint64]
	classical *queue[[]byte]
}

func newInbox() *inbox {
	return &inbox{qubits: newQueue[uint64](), classical: newQueue[[]byte]()}
}

// queue is a single-consumer FIFO with a context-aware blocking pop.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{signal: make(chan struct{}, 1)}
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// pop blocks until an item is available, ctx is done, or closed fires.
func (q *queue[T]) pop(ctx context.Context, closed <-chan struct{}) (T, error) {
	for {
		if v, ok := q.tryPop(); ok {
			return v, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("%w: %w", qerrors.ErrTimeout, ctx.Err())
		case <-closed:
			var zero T
			return zero, qerrors.ErrConnClosed
		}
	}
}

// maxQubitsPerConn caps allocations through a single connection.
const maxQubitsPerConn = constants.MaxQubitsPerSession
