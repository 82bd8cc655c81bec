package backend

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/bits"
	"github.com/pzverkov/quantum-auth/pkg/libarnum"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/pingpong"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
	"github.com/pzverkov/quantum-auth/pkg/sim"
	"github.com/pzverkov/quantum-auth/pkg/zawadzki"
)

type testBackend struct {
	srv       *Server
	client    *Client
	network   *sim.Network
	collector *metrics.Collector
	stop      func()
}

// start runs a backend on a loopback port until the test ends.
func start(t *testing.T, mutate func(*Config)) *testBackend {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	if mutate != nil {
		mutate(cfg)
	}

	network := sim.NewNetwork(sim.WithSeed(7))
	collector := metrics.NewCollector(nil)
	srv, err := NewServer(cfg,
		WithNetwork(network),
		WithLogger(metrics.NullLogger()),
		WithObserver(metrics.NewLinkObserver(metrics.ObserverConfig{
			Collector: collector,
			Tracer:    metrics.NoOpTracer{},
			Logger:    metrics.NullLogger(),
		})),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	}
	t.Cleanup(stop)

	return &testBackend{
		srv:       srv,
		client:    NewClient(ln.Addr().String()),
		network:   network,
		collector: collector,
		stop:      stop,
	}
}

func (b *testBackend) open(t *testing.T, node string) quantum.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := b.client.Open(ctx, node)
	if err != nil {
		t.Fatalf("Open(%q): %v", node, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRemoteOperations(t *testing.T) {
	b := start(t, nil)
	ctx := context.Background()
	alice := b.open(t, "alice")
	bob := b.open(t, "bob")

	q, err := alice.NewQubit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.Apply(ctx, q, quantum.GateX); err != nil {
		t.Fatal(err)
	}
	if m, err := alice.Measure(ctx, q); err != nil || m != 1 {
		t.Fatalf("Measure after X = %d, %v", m, err)
	}
	if _, err := alice.Measure(ctx, q); !errors.Is(err, qerrors.ErrQubitConsumed) {
		t.Errorf("second Measure error = %v, want ErrQubitConsumed", err)
	}

	control, _ := alice.NewQubit(ctx)
	target, _ := alice.NewQubit(ctx)
	if err := alice.Apply(ctx, control, quantum.GateX); err != nil {
		t.Fatal(err)
	}
	if err := alice.CNOT(ctx, control, target); err != nil {
		t.Fatal(err)
	}
	if m, err := alice.Measure(ctx, target); err != nil || m != 1 {
		t.Fatalf("CNOT target = %d, %v", m, err)
	}
	if err := alice.SendQubit(ctx, control, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := control.Check(); !errors.Is(err, qerrors.ErrQubitConsumed) {
		t.Errorf("sent handle still usable: %v", err)
	}

	got, err := bob.RecvQubit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Node() != "bob" {
		t.Errorf("received qubit node = %q", got.Node())
	}
	if m, err := bob.Measure(ctx, got); err != nil || m != 1 {
		t.Fatalf("transferred qubit = %d, %v", m, err)
	}

	if err := bob.SendClassical(ctx, "alice", []byte("ack")); err != nil {
		t.Fatal(err)
	}
	if msg, err := alice.RecvClassical(ctx); err != nil || string(msg) != "ack" {
		t.Fatalf("RecvClassical = %q, %v", msg, err)
	}

	if err := alice.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bob.Close(); err != nil {
		t.Fatal(err)
	}
	if n := b.network.LiveQubits(); n != 0 {
		t.Errorf("LiveQubits = %d after close", n)
	}
	if _, err := alice.NewQubit(ctx); !errors.Is(err, qerrors.ErrConnClosed) {
		t.Errorf("NewQubit after Close error = %v", err)
	}
}

func TestReleaseOnClose(t *testing.T) {
	b := start(t, nil)
	ctx := context.Background()
	alice := b.open(t, "alice")

	for range 3 {
		if _, err := alice.NewQubit(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if n := b.network.Held("alice"); n != 3 {
		t.Fatalf("Held = %d, want 3", n)
	}
	_ = alice.Close()
	if n := b.network.LiveQubits(); n != 0 {
		t.Errorf("LiveQubits = %d after close", n)
	}

	// The node name is free again once Close returns.
	again := b.open(t, "alice")
	if _, err := again.NewQubit(ctx); err != nil {
		t.Errorf("reopened node: %v", err)
	}
}

func TestUnknownHandleAlert(t *testing.T) {
	b := start(t, nil)
	ctx := context.Background()
	alice := b.open(t, "alice")
	bob := b.open(t, "bob")

	q, err := alice.NewQubit(ctx)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		conn quantum.Conn
		q    *quantum.Qubit
	}{
		{"never allocated", alice, quantum.NewQubit("alice", 9999)},
		{"held by another node", bob, quantum.NewQubit("bob", q.ID())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conn.Apply(ctx, tt.q, quantum.GateH)
			if !errors.Is(err, qerrors.ErrUnknownQubit) {
				t.Fatalf("error = %v, want ErrUnknownQubit", err)
			}
			var ce *qerrors.ChannelError
			if !errors.As(err, &ce) || ce.Op != "apply" {
				t.Errorf("error %v is not an apply ChannelError", err)
			}
		})
	}

	// A warning alert leaves the session usable.
	if _, err := alice.Measure(ctx, q); err != nil {
		t.Errorf("Measure after alert: %v", err)
	}
}

func TestLocalChecksSkipBackend(t *testing.T) {
	b := start(t, nil)
	ctx := context.Background()
	alice := b.open(t, "alice")

	q, _ := alice.NewQubit(ctx)
	before := b.collector.Snapshot().RequestsServed

	if err := alice.CNOT(ctx, q, q); !errors.Is(err, qerrors.ErrSameQubit) {
		t.Errorf("CNOT(q, q) error = %v", err)
	}
	if err := alice.Apply(ctx, q, quantum.Gate(9)); !errors.Is(err, qerrors.ErrInvalidGate) {
		t.Errorf("invalid gate error = %v", err)
	}
	if got := b.collector.Snapshot().RequestsServed; got != before {
		t.Errorf("RequestsServed moved from %d to %d", before, got)
	}
}

func TestDuplicateNodeRejected(t *testing.T) {
	b := start(t, nil)
	b.open(t, "alice")

	_, err := b.client.Open(context.Background(), "alice")
	if !errors.Is(err, qerrors.ErrInvalidNode) {
		t.Fatalf("error = %v, want ErrInvalidNode", err)
	}
	if _, err := b.client.Open(context.Background(), ""); !errors.Is(err, qerrors.ErrInvalidNode) {
		t.Errorf("empty node error = %v", err)
	}
}

func TestRecvTimeout(t *testing.T) {
	tests := []struct {
		name    string
		wait    time.Duration
		timeout time.Duration
	}{
		{"client deadline", time.Minute, 100 * time.Millisecond},
		{"server cap", 100 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := start(t, func(c *Config) { c.MaxRecvWait = tt.wait })
			bob := b.open(t, "bob")

			ctx := context.Background()
			if tt.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.timeout)
				defer cancel()
			}
			if _, err := bob.RecvQubit(ctx); !errors.Is(err, qerrors.ErrTimeout) {
				t.Fatalf("RecvQubit error = %v, want ErrTimeout", err)
			}
			if _, err := bob.RecvClassical(ctx); err == nil {
				t.Fatal("RecvClassical with nothing queued succeeded")
			}
			if err := bob.SendClassical(context.Background(), "alice", []byte{1}); err != nil {
				t.Errorf("session unusable after timeout: %v", err)
			}
		})
	}
}

func TestProtocolsOverBackend(t *testing.T) {
	b := start(t, nil)
	key := bits.MustParse("1010110100111000")

	tests := []struct {
		name string
		run  func(ctx context.Context) (bool, error, error)
	}{
		{"libarnum", func(ctx context.Context) (bool, error, error) {
			v, err := libarnum.NewVerifier(libarnum.DefaultConfig("bob", b.client))
			if err != nil {
				return false, err, nil
			}
			p, err := libarnum.NewProver(libarnum.DefaultConfig("alice", b.client))
			if err != nil {
				return false, err, nil
			}
			perr := make(chan error, 1)
			go func() { perr <- p.Authenticate(ctx, "bob") }()
			ok, verr := v.Authenticate(ctx)
			return ok, verr, <-perr
		}},
		{"pingpong", func(ctx context.Context) (bool, error, error) {
			v, err := pingpong.NewVerifier(pingpong.DefaultConfig("bob", b.client))
			if err != nil {
				return false, err, nil
			}
			p, err := pingpong.NewProver(pingpong.DefaultConfig("alice", b.client))
			if err != nil {
				return false, err, nil
			}
			perr := make(chan error, 1)
			go func() {
				_, err := p.Authenticate(ctx, key, "bob")
				perr <- err
			}()
			res, verr := v.Authenticate(ctx, key, "alice")
			return res.OK, verr, <-perr
		}},
		{"zawadzki", func(ctx context.Context) (bool, error, error) {
			v, err := zawadzki.NewVerifier(zawadzki.DefaultConfig("bob", b.client))
			if err != nil {
				return false, err, nil
			}
			p, err := zawadzki.NewProver(zawadzki.DefaultConfig("alice", b.client))
			if err != nil {
				return false, err, nil
			}
			perr := make(chan error, 1)
			go func() { perr <- p.Authenticate(ctx, key, "bob") }()
			ok, verr := v.Authenticate(ctx, key)
			return ok, verr, <-perr
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			ok, verr, perr := tt.run(ctx)
			if verr != nil || perr != nil {
				t.Fatalf("verifier %v, prover %v", verr, perr)
			}
			if !ok {
				t.Error("honest run denied")
			}
			if n := b.network.LiveQubits(); n != 0 {
				t.Errorf("LiveQubits = %d after run", n)
			}
		})
	}
}

func TestMissingProverIsDesync(t *testing.T) {
	b := start(t, nil)
	cfg := zawadzki.DefaultConfig("bob", b.client)
	cfg.RecvTimeout = 100 * time.Millisecond
	v, err := zawadzki.NewVerifier(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := v.Authenticate(context.Background(), bits.MustParse("1010110100111000"))
	if ok {
		t.Fatal("verifier accepted without a prover")
	}
	var de *qerrors.DesyncError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want DesyncError", err)
	}
	if de.Phase != zawadzki.PhaseNonce {
		t.Errorf("Phase = %q, want %q", de.Phase, zawadzki.PhaseNonce)
	}
	if !errors.Is(err, qerrors.ErrTimeout) {
		t.Errorf("desync does not carry the timeout: %v", err)
	}
}

func TestConnectionLimits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"per ip", func(c *Config) { c.MaxConnsPerIP = 1 }},
		{"handshake rate", func(c *Config) {
			c.HandshakeRate = 0.001
			c.HandshakeBurst = 1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := start(t, tt.mutate)
			b.open(t, "alice")

			_, err := b.client.Open(context.Background(), "bob")
			if !errors.Is(err, qerrors.ErrConnectionLimit) {
				t.Fatalf("error = %v, want ErrConnectionLimit", err)
			}
			if n := b.collector.Snapshot().LinksRejected; n != 1 {
				t.Errorf("LinksRejected = %d, want 1", n)
			}
		})
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	b := start(t, nil)
	bob := b.open(t, "bob")
	if got := b.srv.Sessions(); got != 1 {
		t.Fatalf("Sessions = %d, want 1", got)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := bob.RecvQubit(context.Background())
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	b.stop()

	select {
	case err := <-errc:
		if !errors.Is(err, qerrors.ErrConnClosed) {
			t.Errorf("blocked RecvQubit error = %v, want ErrConnClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RecvQubit still blocked after shutdown")
	}
	if got := b.srv.Sessions(); got != 0 {
		t.Errorf("Sessions = %d after shutdown", got)
	}
	if n := b.network.LiveQubits(); n != 0 {
		t.Errorf("LiveQubits = %d after shutdown", n)
	}
}
