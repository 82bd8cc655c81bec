package quantum_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
	"github.com/pzverkov/quantum-auth/pkg/sim"
)

func TestGateString(t *testing.T) {
	tests := []struct {
		gate  quantum.Gate
		want  string
		valid bool
	}{
		{quantum.GateX, "X", true},
		{quantum.GateZ, "Z", true},
		{quantum.GateH, "H", true},
		{quantum.Gate(0), "Gate(0)", false},
		{quantum.Gate(7), "Gate(7)", false},
	}
	for _, tt := range tests {
		if got := tt.gate.String(); got != tt.want {
			t.Errorf("Gate(%d).String() = %q, want %q", uint8(tt.gate), got, tt.want)
		}
		if got := tt.gate.Valid(); got != tt.valid {
			t.Errorf("Gate(%d).Valid() = %v, want %v", uint8(tt.gate), got, tt.valid)
		}
	}
}

func TestQubitConsume(t *testing.T) {
	q := quantum.NewQubit("alice", 7)
	if q.Spent() || q.Check() != nil {
		t.Fatal("fresh handle reported spent")
	}
	id, err := q.Consume()
	if err != nil || id != 7 {
		t.Fatalf("Consume() = %d, %v", id, err)
	}
	if _, err := q.Consume(); !errors.Is(err, qerrors.ErrQubitConsumed) {
		t.Errorf("second Consume error = %v, want ErrQubitConsumed", err)
	}
	if !strings.Contains(q.String(), "spent") {
		t.Errorf("String() = %q, want spent marker", q.String())
	}

	var nilQubit *quantum.Qubit
	if !errors.Is(nilQubit.Check(), qerrors.ErrQubitConsumed) {
		t.Error("nil handle should report ErrQubitConsumed")
	}
}

func TestValidNodeName(t *testing.T) {
	if err := quantum.ValidNodeName("alice"); err != nil {
		t.Errorf("alice rejected: %v", err)
	}
	if err := quantum.ValidNodeName(""); !errors.Is(err, qerrors.ErrInvalidNode) {
		t.Errorf("empty name error = %v", err)
	}
	if err := quantum.ValidNodeName(strings.Repeat("n", 256)); !errors.Is(err, qerrors.ErrInvalidNode) {
		t.Errorf("long name error = %v", err)
	}
}

func TestBellIndex(t *testing.T) {
	for i := quantum.BellIndex(0); i < 4; i++ {
		if !i.Valid() {
			t.Errorf("index %d invalid", i)
		}
		if want := i != 3; i.Correlated() != want {
			t.Errorf("index %d Correlated() = %v, want %v", i, i.Correlated(), want)
		}
	}
	if quantum.BellIndex(4).Valid() || quantum.BellIndex(-1).Valid() {
		t.Error("out-of-range index accepted")
	}
}

func TestEntangleRejectsBadIndex(t *testing.T) {
	ctx := context.Background()
	conn, err := sim.NewNetwork().Open(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := quantum.NewPair(ctx, conn, 5); !errors.Is(err, qerrors.ErrInvalidConfig) {
		t.Errorf("NewPair(5) error = %v, want ErrInvalidConfig", err)
	}
}

func TestApplyAllAndRelease(t *testing.T) {
	ctx := context.Background()
	net := sim.NewNetwork(sim.WithSeed(1))
	conn, _ := net.Open(ctx, "alice")
	defer conn.Close()

	q, _ := conn.NewQubit(ctx)
	// X then H then H leaves |1>.
	if err := quantum.ApplyAll(ctx, conn, q, quantum.GateX, quantum.GateH, quantum.GateH); err != nil {
		t.Fatal(err)
	}
	m, err := conn.Measure(ctx, q)
	if err != nil || m != 1 {
		t.Errorf("Measure = %d, %v; want 1", m, err)
	}

	a, _ := conn.NewQubit(ctx)
	b, _ := conn.NewQubit(ctx)
	if err := quantum.Release(ctx, conn, a, nil, q, b); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !a.Spent() || !b.Spent() {
		t.Error("Release left live handles")
	}
	if net.Held("alice") != 0 {
		t.Errorf("Held(alice) = %d after release", net.Held("alice"))
	}
}
