package sim

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"
	"time"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

func approxEqual(a, b complex128) bool {
	return cmplx.Abs(a-b) < 1e-9
}

func openPair(t *testing.T, n *Network) (*Conn, *Conn) {
	t.Helper()
	ctx := context.Background()
	a, err := n.Open(ctx, "alice")
	if err != nil {
		t.Fatalf("Open(alice): %v", err)
	}
	b, err := n.Open(ctx, "bob")
	if err != nil {
		t.Fatalf("Open(bob): %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a.(*Conn), b.(*Conn)
}

func TestRegisterGates(t *testing.T) {
	r := newRegister(1)
	r.apply(0, quantum.GateX)
	if !approxEqual(r.amp[1], 1) {
		t.Fatalf("X|0> amplitudes = %v", r.amp)
	}
	r.apply(0, quantum.GateZ)
	if !approxEqual(r.amp[1], -1) {
		t.Fatalf("ZX|0> amplitudes = %v", r.amp)
	}

	h := newRegister(2)
	h.apply(0, quantum.GateH)
	s := complex(1/math.Sqrt2, 0)
	if !approxEqual(h.amp[0], s) || !approxEqual(h.amp[1], s) {
		t.Errorf("H|0> amplitudes = %v", h.amp)
	}
	h.apply(0, quantum.GateH)
	if !approxEqual(h.amp[0], 1) || !approxEqual(h.amp[1], 0) {
		t.Errorf("HH|0> amplitudes = %v", h.amp)
	}
}

func TestRegisterMergeAndCNOT(t *testing.T) {
	a := newRegister(1)
	b := newRegister(2)
	a.apply(0, quantum.GateX)
	m, err := a.merge(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.amp) != 4 || !approxEqual(m.amp[1], 1) {
		t.Fatalf("merge amplitudes = %v", m.amp)
	}
	m.cnot(0, 1)
	if !approxEqual(m.amp[3], 1) {
		t.Errorf("CNOT|10> amplitudes = %v", m.amp)
	}
}

func TestRegisterMergeLimit(t *testing.T) {
	a := &register{ids: make([]uint64, 15), amp: make([]complex128, 1<<15)}
	b := &register{ids: make([]uint64, 6), amp: make([]complex128, 1<<6)}
	if _, err := a.merge(b); err == nil {
		t.Error("merge beyond register limit succeeded")
	}
}

func TestRegisterCollapseRemovesQubit(t *testing.T) {
	// |psi> = |q1=1, q2=0>; measuring q1 leaves q2 in |0>.
	r := &register{ids: []uint64{1, 2}, amp: []complex128{0, 1, 0, 0}}
	got, err := r.measure(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("certain outcome = %d, want 1", got)
	}
	if len(r.ids) != 1 || r.ids[0] != 2 {
		t.Errorf("ids after measure = %v", r.ids)
	}
	if !approxEqual(r.amp[0], 1) {
		t.Errorf("amplitudes after measure = %v", r.amp)
	}
}

func TestMeasureDeterministicWithSeed(t *testing.T) {
	run := func() []uint8 {
		n := NewNetwork(WithSeed(42))
		c, _ := n.Open(context.Background(), "alice")
		defer c.Close()
		var out []uint8
		for i := 0; i < 32; i++ {
			q, _ := c.NewQubit(context.Background())
			c.Apply(context.Background(), q, quantum.GateH)
			m, err := c.Measure(context.Background(), q)
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, m)
		}
		return out
	}
	a, b := run(), run()
	ones := 0
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded runs diverge at %d", i)
		}
		ones += int(a[i])
	}
	if ones == 0 || ones == len(a) {
		t.Errorf("H-basis measurements are constant (%d ones)", ones)
	}
}

func TestBellStateCorrelations(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		index  quantum.BellIndex
		zAgree bool
		xAgree bool
	}{
		{0, true, false},
		{1, true, true},
		{2, true, false},
		{3, false, true},
	}

	for _, tt := range tests {
		n := NewNetwork(WithSeed(uint64(tt.index) + 1))
		c, _ := n.Open(ctx, "alice")
		for trial := 0; trial < 16; trial++ {
			for _, xBasis := range []bool{false, true} {
				p, err := quantum.NewPair(ctx, c, tt.index)
				if err != nil {
					t.Fatal(err)
				}
				if xBasis {
					c.Apply(ctx, p.A, quantum.GateH)
					c.Apply(ctx, p.B, quantum.GateH)
				}
				ma, _ := c.Measure(ctx, p.A)
				mb, _ := c.Measure(ctx, p.B)
				want := tt.zAgree
				if xBasis {
					want = tt.xAgree
				}
				if (ma == mb) != want {
					t.Errorf("index %d xBasis=%v: outcomes %d,%d agree=%v, want %v",
						tt.index, xBasis, ma, mb, ma == mb, want)
				}
			}
		}
		c.Close()
	}
}

func TestSendReceiveFIFO(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(WithSeed(1))
	a, b := openPair(t, n)

	// Send |0>, |1>, |1>, |0> and expect the same order back.
	pattern := []uint8{0, 1, 1, 0}
	for _, v := range pattern {
		q, _ := a.NewQubit(ctx)
		if v == 1 {
			a.Apply(ctx, q, quantum.GateX)
		}
		if err := a.SendQubit(ctx, q, "bob"); err != nil {
			t.Fatal(err)
		}
		if !q.Spent() {
			t.Error("sent qubit handle not consumed")
		}
	}
	for i, want := range pattern {
		q, err := b.RecvQubit(ctx)
		if err != nil {
			t.Fatal(err)
		}
		got, _ := b.Measure(ctx, q)
		if got != want {
			t.Errorf("qubit %d = %d, want %d", i, got, want)
		}
	}

	a.SendClassical(ctx, "bob", []byte("one"))
	a.SendClassical(ctx, "bob", []byte("two"))
	for _, want := range []string{"one", "two"} {
		msg, err := b.RecvClassical(ctx)
		if err != nil || string(msg) != want {
			t.Errorf("RecvClassical = %q, %v; want %q", msg, err, want)
		}
	}
}

func TestClassicalMessageIsCopied(t *testing.T) {
	ctx := context.Background()
	a, b := openPair(t, NewNetwork())
	msg := []byte{1, 2, 3}
	a.SendClassical(ctx, "bob", msg)
	msg[0] = 9
	got, _ := b.RecvClassical(ctx)
	if got[0] != 1 {
		t.Error("classical message shares sender's buffer")
	}
}

func TestEntanglementAcrossNodes(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(WithSeed(9))
	a, b := openPair(t, n)
	for i := 0; i < 8; i++ {
		p, _ := quantum.NewPair(ctx, a, 1)
		a.SendQubit(ctx, p.B, "bob")
		qb, err := b.RecvQubit(ctx)
		if err != nil {
			t.Fatal(err)
		}
		ma, _ := a.Measure(ctx, p.A)
		mb, _ := b.Measure(ctx, qb)
		if ma != mb {
			t.Fatalf("phi+ halves disagree: %d vs %d", ma, mb)
		}
	}
}

func TestMoveSemantics(t *testing.T) {
	ctx := context.Background()
	a, _ := openPair(t, NewNetwork())
	q, _ := a.NewQubit(ctx)
	if _, err := a.Measure(ctx, q); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Measure(ctx, q); !errors.Is(err, qerrors.ErrQubitConsumed) {
		t.Errorf("second measure error = %v, want ErrQubitConsumed", err)
	}
	if err := a.Apply(ctx, q, quantum.GateX); !errors.Is(err, qerrors.ErrQubitConsumed) {
		t.Errorf("apply after measure error = %v, want ErrQubitConsumed", err)
	}

	q2, _ := a.NewQubit(ctx)
	a.SendQubit(ctx, q2, "bob")
	if err := a.SendQubit(ctx, q2, "bob"); !errors.Is(err, qerrors.ErrQubitConsumed) {
		t.Errorf("resend error = %v, want ErrQubitConsumed", err)
	}
}

func TestNotOwner(t *testing.T) {
	ctx := context.Background()
	a, b := openPair(t, NewNetwork())
	q, _ := a.NewQubit(ctx)
	forged := quantum.NewQubit("bob", q.ID())
	if _, err := b.Measure(ctx, forged); !errors.Is(err, qerrors.ErrNotOwner) {
		t.Errorf("foreign measure error = %v, want ErrNotOwner", err)
	}
	if forged.Spent() {
		t.Error("failed measure consumed the handle")
	}
	if _, err := b.Measure(ctx, quantum.NewQubit("bob", 999)); !errors.Is(err, qerrors.ErrUnknownQubit) {
		t.Errorf("unknown qubit error = %v, want ErrUnknownQubit", err)
	}
}

func TestCNOTSameQubit(t *testing.T) {
	ctx := context.Background()
	a, _ := openPair(t, NewNetwork())
	q, _ := a.NewQubit(ctx)
	if err := a.CNOT(ctx, q, q); !errors.Is(err, qerrors.ErrSameQubit) {
		t.Errorf("CNOT(q, q) error = %v, want ErrSameQubit", err)
	}
}

func TestInvalidGate(t *testing.T) {
	ctx := context.Background()
	a, _ := openPair(t, NewNetwork())
	q, _ := a.NewQubit(ctx)
	if err := a.Apply(ctx, q, quantum.Gate(9)); !errors.Is(err, qerrors.ErrInvalidGate) {
		t.Errorf("Apply(9) error = %v, want ErrInvalidGate", err)
	}
}

func TestRecvTimeout(t *testing.T) {
	a, _ := openPair(t, NewNetwork())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.RecvQubit(ctx); !errors.Is(err, qerrors.ErrTimeout) {
		t.Errorf("RecvQubit timeout error = %v, want ErrTimeout", err)
	}
	if _, err := a.RecvClassical(ctx); err == nil {
		t.Error("RecvClassical on expired context succeeded")
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	n := NewNetwork()
	c, _ := n.Open(context.Background(), "alice")
	done := make(chan error, 1)
	go func() {
		_, err := c.RecvQubit(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	c.Close()
	select {
	case err := <-done:
		if !errors.Is(err, qerrors.ErrConnClosed) {
			t.Errorf("blocked receive error = %v, want ErrConnClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock RecvQubit")
	}
}

func TestCloseReleasesQubits(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork()
	a, err := n.Open(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		a.NewQubit(ctx)
	}
	q, _ := a.NewQubit(ctx)
	a.SendQubit(ctx, q, "bob")

	if got := n.Held("alice"); got != 3 {
		t.Errorf("Held(alice) = %d, want 3", got)
	}
	a.Close()
	a.Close()
	if got := n.LiveQubits(); got != 1 {
		t.Errorf("LiveQubits after close = %d, want 1 (bob's inbox)", got)
	}
	if _, err := a.NewQubit(ctx); !errors.Is(err, qerrors.ErrConnClosed) {
		t.Errorf("NewQubit after close error = %v, want ErrConnClosed", err)
	}

	// The name is free again once closed.
	again, err := n.Open(ctx, "alice")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestOpenRejectsDuplicateAndInvalidNames(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork()
	c, _ := n.Open(ctx, "alice")
	defer c.Close()
	if _, err := n.Open(ctx, "alice"); !errors.Is(err, qerrors.ErrInvalidNode) {
		t.Errorf("duplicate open error = %v, want ErrInvalidNode", err)
	}
	if _, err := n.Open(ctx, ""); !errors.Is(err, qerrors.ErrInvalidNode) {
		t.Errorf("empty name error = %v, want ErrInvalidNode", err)
	}
}

func TestTapSeesTransit(t *testing.T) {
	ctx := context.Background()
	var seen []int
	n := NewNetwork(WithTap(func(tr *Transit) {
		seen = append(seen, tr.Seq)
		if tr.Seq == 1 {
			tr.Apply(quantum.GateX)
		}
	}))
	a, b := openPair(t, n)
	for i := 0; i < 3; i++ {
		q, _ := a.NewQubit(ctx)
		a.SendQubit(ctx, q, "bob")
	}
	for i := 0; i < 3; i++ {
		q, _ := b.RecvQubit(ctx)
		got, _ := b.Measure(ctx, q)
		want := uint8(0)
		if i == 1 {
			want = 1
		}
		if got != want {
			t.Errorf("qubit %d = %d, want %d", i, got, want)
		}
	}
	if len(seen) != 3 || seen[2] != 2 {
		t.Errorf("tap saw sequence %v", seen)
	}
}

func TestTapInterceptResend(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(WithSeed(3), WithTap(func(tr *Transit) {
		tr.Measure()
	}))
	a, b := openPair(t, n)

	// After an intercept-resend, a phi+ pair no longer shows X-basis
	// correlation on every trial.
	disagreements := 0
	for i := 0; i < 32; i++ {
		p, _ := quantum.NewPair(ctx, a, 1)
		a.SendQubit(ctx, p.B, "bob")
		qb, _ := b.RecvQubit(ctx)
		a.Apply(ctx, p.A, quantum.GateH)
		b.Apply(ctx, qb, quantum.GateH)
		ma, _ := a.Measure(ctx, p.A)
		mb, _ := b.Measure(ctx, qb)
		if ma != mb {
			disagreements++
		}
	}
	if disagreements == 0 {
		t.Error("intercept-resend left X-basis correlation intact")
	}
}

var _ quantum.Dialer = (*Network)(nil)
