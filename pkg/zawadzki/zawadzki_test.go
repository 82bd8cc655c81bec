package zawadzki

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/bits"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
	"github.com/pzverkov/quantum-auth/pkg/sim"
)

// hexBinary expands a SHA-256 hex digest one nibble at a time.
func hexBinary(t *testing.T, s string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(s))
	var b strings.Builder
	for _, c := range hex.EncodeToString(sum[:]) {
		v, err := strconv.ParseUint(string(c), 16, 8)
		if err != nil {
			t.Fatal(err)
		}
		b.WriteString(strconv.FormatUint(v|0x10, 2)[1:])
	}
	return b.String()
}

func TestCreateHashGoldenCase(t *testing.T) {
	key := bits.MustParse("1010110100111000")
	nonce := bits.MustParse("000000000000000000000101")

	if got := Offset(key, nonce); got != 165 {
		t.Fatalf("Offset = %d, want 165", got)
	}
	got, err := CreateHash(key, nonce)
	if err != nil {
		t.Fatal(err)
	}
	want := hexBinary(t, "1010110100111000"+"000000000000000000000101")[165:175]
	if got.String() != want {
		t.Errorf("CreateHash = %s, want %s", got, want)
	}

	again, _ := CreateHash(key, nonce)
	if !again.Equal(got) {
		t.Error("CreateHash is not deterministic")
	}
}

func TestCreateHashClampBoundary(t *testing.T) {
	tests := []struct {
		keyHead, nonceTail string
		offset             int
		clamped            bool
	}{
		{"0000", "0000", 0, false},
		{"1111", "0101", 245, false},
		{"1111", "0110", 246, true},
		{"1111", "1111", 255, true},
	}
	for _, tt := range tests {
		key := bits.MustParse(tt.keyHead + "0110")
		nonce := bits.MustParse("10011001" + "1010" + tt.nonceTail)
		if got := Offset(key, nonce); got != tt.offset {
			t.Fatalf("Offset = %d, want %d", got, tt.offset)
		}
		digest := hexBinary(t, key.String()+nonce.String())
		want := digest[len(digest)-10:]
		if !tt.clamped {
			want = digest[tt.offset : tt.offset+10]
		}
		got, err := CreateHash(key, nonce)
		if err != nil {
			t.Fatal(err)
		}
		if got.String() != want {
			t.Errorf("offset %d: CreateHash = %s, want %s", tt.offset, got, want)
		}
		if len(got) != 10 {
			t.Errorf("offset %d: subset has %d bits", tt.offset, len(got))
		}
	}
}

func TestCreateHashRejectsShortInputs(t *testing.T) {
	if _, err := CreateHash(bits.MustParse("101"), bits.MustParse("0000")); !errors.Is(err, qerrors.ErrInvalidKey) {
		t.Errorf("short key error = %v", err)
	}
	if _, err := CreateHash(bits.MustParse("1010"), bits.MustParse("01")); !errors.Is(err, qerrors.ErrInvalidConfig) {
		t.Errorf("short nonce error = %v", err)
	}
}

func TestDecodeNonce(t *testing.T) {
	nonce := bits.MustParse("101100001111000001010101")
	got, err := DecodeNonce(bits.Pack(nonce), 24)
	if err != nil || !got.Equal(nonce) {
		t.Fatalf("DecodeNonce = %s, %v", got, err)
	}

	_, err = DecodeNonce([]byte{1, 2}, 24)
	var de *qerrors.DesyncError
	if !errors.As(err, &de) || de.Expected != 24 || de.Received != 16 {
		t.Errorf("short nonce error = %v", err)
	}
}

func TestCreateNonce(t *testing.T) {
	ctx := context.Background()
	net := sim.NewNetwork(sim.WithSeed(8))
	conn, err := net.Open(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	nonce, err := CreateNonce(ctx, conn, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(nonce) != 64 {
		t.Fatalf("nonce has %d bits", len(nonce))
	}
	ones := 0
	for _, b := range nonce {
		ones += int(b)
	}
	if ones == 0 || ones == 64 {
		t.Errorf("nonce %s is constant", nonce)
	}
	if n := net.LiveQubits(); n != 0 {
		t.Errorf("%d qubits left after nonce generation", n)
	}
}

func TestConfigValidate(t *testing.T) {
	net := sim.NewNetwork()
	for _, n := range []int{0, 4, 20, -8, 8 * 20000} {
		cfg := DefaultConfig("alice", net)
		cfg.NonceBits = n
		if _, err := NewProver(cfg); !errors.Is(err, qerrors.ErrInvalidConfig) {
			t.Errorf("NonceBits %d: error = %v", n, err)
		}
	}
	cfg := DefaultConfig("alice", net)
	cfg.NonceBits = 8
	if _, err := NewVerifier(cfg); err != nil {
		t.Errorf("NonceBits 8 rejected: %v", err)
	}
}

type outcome struct {
	ok        bool
	proverErr error
	verifyErr error
}

func session(t *testing.T, net *sim.Network, proverKey, verifierKey bits.Bits, nonces bits.Source) outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pc := DefaultConfig("alice", net)
	pc.NonceSource = nonces
	p, err := NewProver(pc)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewVerifier(DefaultConfig("bob", net))
	if err != nil {
		t.Fatal(err)
	}

	perr := make(chan error, 1)
	go func() { perr <- p.Authenticate(ctx, proverKey, "bob") }()
	ok, verr := v.Authenticate(ctx, verifierKey)
	return outcome{ok: ok, proverErr: <-perr, verifyErr: verr}
}

func TestHonestRunAuthenticates(t *testing.T) {
	keys := []string{"1010", "1010110100111000", "0000111100001111", "11111111"}
	for _, k := range keys {
		for seed := uint64(0); seed < 5; seed++ {
			net := sim.NewNetwork(sim.WithSeed(seed))
			key := bits.MustParse(k)
			o := session(t, net, key, key, nil)
			if o.proverErr != nil || o.verifyErr != nil {
				t.Fatalf("key %s: prover %v, verifier %v", k, o.proverErr, o.verifyErr)
			}
			if !o.ok {
				t.Errorf("key %s seed %d: honest run denied", k, seed)
			}
			if n := net.LiveQubits(); n != 0 {
				t.Errorf("key %s: %d qubits leaked", k, n)
			}
		}
	}
}

func TestInjectedNonce(t *testing.T) {
	key := bits.MustParse("1010110100111000")
	nonce := bits.NewFixed(bits.MustParse("000000000000000000000101"))
	o := session(t, sim.NewNetwork(sim.WithSeed(1)), key, key, nonce)
	if o.proverErr != nil || o.verifyErr != nil || !o.ok {
		t.Fatalf("ok %v, prover %v, verifier %v", o.ok, o.proverErr, o.verifyErr)
	}
	if nonce.Remaining() != 0 {
		t.Errorf("nonce source not consumed: %d bits left", nonce.Remaining())
	}
}

func TestInjectedNonceLengthMismatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	net := sim.NewNetwork(sim.WithSeed(1))

	cfg := DefaultConfig("alice", net)
	cfg.NonceSource = bits.SourceFunc(func(int) (bits.Bits, error) {
		return bits.MustParse("10110011100"), nil
	})
	p, err := NewProver(cfg)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := net.Open(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	err = p.Authenticate(ctx, bits.MustParse("1010110100111000"), "bob")
	var pe *qerrors.ProtocolError
	if !errors.As(err, &pe) || pe.Phase != "nonce" || !errors.Is(err, qerrors.ErrInvalidConfig) {
		t.Fatalf("error = %v, want nonce ProtocolError wrapping ErrInvalidConfig", err)
	}

	recvCtx, recvCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer recvCancel()
	if msg, err := bob.RecvClassical(recvCtx); err == nil {
		t.Errorf("verifier received %d-byte nonce from a rejected source", len(msg))
	}
}

func TestKeyMismatchDenied(t *testing.T) {
	const trials = 24
	denied := 0
	for seed := uint64(0); seed < trials; seed++ {
		net := sim.NewNetwork(sim.WithSeed(seed))
		o := session(t, net, bits.MustParse("1010110100111000"), bits.MustParse("1010110100111001"), nil)
		if o.proverErr != nil || o.verifyErr != nil {
			t.Fatalf("prover %v, verifier %v", o.proverErr, o.verifyErr)
		}
		if !o.ok {
			denied++
		}
	}
	// A wrong key passes a single session with probability about 1/32.
	if denied < trials/2 {
		t.Errorf("wrong key denied in only %d of %d sessions", denied, trials)
	}
}

func TestTamperedHashQubitDenied(t *testing.T) {
	// Z then X flips the encoded bit in either basis.
	for seq := 0; seq < 5; seq++ {
		target := seq
		tap := func(tr *sim.Transit) {
			if tr.From == "alice" && tr.Seq == target {
				_ = tr.Apply(quantum.GateZ)
				_ = tr.Apply(quantum.GateX)
			}
		}
		net := sim.NewNetwork(sim.WithSeed(uint64(seq)), sim.WithTap(tap))
		key := bits.MustParse("0110100111010010")
		o := session(t, net, key, key, nil)
		if o.proverErr != nil || o.verifyErr != nil {
			t.Fatalf("prover %v, verifier %v", o.proverErr, o.verifyErr)
		}
		if o.ok {
			t.Errorf("tampering with hash qubit %d went undetected", seq)
		}
	}
}

func TestMissingHashQubitsIsDesync(t *testing.T) {
	ctx := context.Background()
	net := sim.NewNetwork(sim.WithSeed(2))
	alice, err := net.Open(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()
	if err := alice.SendClassical(ctx, "bob", []byte{0, 0, 5}); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig("bob", net)
	cfg.RecvTimeout = 50 * time.Millisecond
	v, _ := NewVerifier(cfg)
	ok, err := v.Authenticate(ctx, bits.MustParse("1010110100111000"))
	if ok {
		t.Error("desynchronized session returned true")
	}
	var de *qerrors.DesyncError
	if !errors.As(err, &de) || de.Phase != PhaseHash || de.Expected != 5 || de.Received != 0 {
		t.Fatalf("error = %v, want hash-qubit desync", err)
	}
}

func TestShortNonceMessageIsDesync(t *testing.T) {
	ctx := context.Background()
	net := sim.NewNetwork()
	alice, err := net.Open(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()
	if err := alice.SendClassical(ctx, "bob", []byte{7}); err != nil {
		t.Fatal(err)
	}

	v, _ := NewVerifier(DefaultConfig("bob", net))
	_, err = v.Authenticate(ctx, bits.MustParse("1010"))
	var de *qerrors.DesyncError
	if !errors.As(err, &de) || de.Phase != PhaseNonce {
		t.Fatalf("error = %v, want nonce desync", err)
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	net := sim.NewNetwork()
	p, _ := NewProver(DefaultConfig("alice", net))
	v, _ := NewVerifier(DefaultConfig("bob", net))
	short := bits.MustParse("101")

	if err := p.Authenticate(context.Background(), short, "bob"); !errors.Is(err, qerrors.ErrInvalidKey) {
		t.Errorf("prover error = %v", err)
	}
	if _, err := v.Authenticate(context.Background(), short); !errors.Is(err, qerrors.ErrInvalidKey) {
		t.Errorf("verifier error = %v", err)
	}
	if n := net.LiveQubits(); n != 0 {
		t.Errorf("%d qubits allocated before rejection", n)
	}
}
