// Package zawadzki implements Zawadzki's hash-challenge identity
// authentication, which needs no entanglement.
//
// The prover draws a fresh nonce by measuring Hadamard-prepared qubits,
// sends it in the clear, and encodes a 10-bit window of SHA-256(key || nonce)
// into five qubits, two bits per qubit. The verifier recomputes the window
// from its own key and the received nonce and decodes the qubits against it.
package zawadzki

import (
	"context"
	"fmt"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/auth"
	"github.com/pzverkov/quantum-auth/pkg/bits"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// Protocol is the name used in logs, metrics and traces.
const Protocol = "zawadzki"

// Phase names reported in desynchronization errors.
const (
	PhaseNonce = "nonce"
	PhaseHash  = "hash-qubits"
)

// Config configures either role.
type Config struct {
	auth.Config

	// NonceBits is the nonce length. It must be a whole number of bytes so
	// the receiver's byte-wise framing recovers it exactly.
	NonceBits int

	// NonceSource, if set, replaces quantum nonce generation.
	NonceSource bits.Source
}

// DefaultConfig returns the standard 24-bit nonce configuration.
func DefaultConfig(node string, d quantum.Dialer) Config {
	return Config{
		Config:    auth.DefaultConfig(node, d),
		NonceBits: constants.NonceBits,
	}
}

// Validate checks the protocol parameters.
func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.NonceBits < constants.OffsetNonceBits || c.NonceBits%8 != 0 {
		return fmt.Errorf("%w: nonce bits %d", qerrors.ErrInvalidConfig, c.NonceBits)
	}
	if bits.PackedLen(c.NonceBits) > constants.MaxClassicalPayload {
		return fmt.Errorf("%w: nonce bits %d exceed payload limit", qerrors.ErrInvalidConfig, c.NonceBits)
	}
	return nil
}

// CreateNonce draws n random bits by measuring n Hadamard-prepared qubits.
func CreateNonce(ctx context.Context, conn quantum.Conn, n int) (bits.Bits, error) {
	nonce := make(bits.Bits, n)
	for i := range nonce {
		q, err := conn.NewQubit(ctx)
		if err != nil {
			return nil, err
		}
		if err := conn.Apply(ctx, q, quantum.GateH); err != nil {
			return nil, err
		}
		if nonce[i], err = conn.Measure(ctx, q); err != nil {
			return nil, err
		}
	}
	return nonce, nil
}

// DecodeNonce rebuilds a nonce of n bits from its classical message. Each
// byte is read as eight bits; any other total length is a desync.
func DecodeNonce(msg []byte, n int) (bits.Bits, error) {
	nonce := bits.UnpackPadded(msg)
	if len(nonce) != n {
		return nil, qerrors.NewDesyncError(PhaseNonce, n, len(nonce), nil)
	}
	return nonce, nil
}

// EncodeSend transmits subset two bits at a time: for the pair (h0, h1) a
// fresh qubit gets X iff h1 and then H iff h0.
func EncodeSend(ctx context.Context, s *auth.Session, subset bits.Bits, peer string) error {
	for i := 0; i+1 < len(subset); i += 2 {
		q, err := s.Conn.NewQubit(ctx)
		if err != nil {
			return err
		}
		if subset[i+1] == 1 {
			if err := s.Conn.Apply(ctx, q, quantum.GateX); err != nil {
				return err
			}
		}
		if subset[i] == 1 {
			if err := s.Conn.Apply(ctx, q, quantum.GateH); err != nil {
				return err
			}
		}
		if err := s.SendQubit(ctx, q, peer); err != nil {
			return err
		}
	}
	return nil
}

// RecvDecode receives len(subset)/2 qubits and checks them against subset:
// each qubit is measured after H iff the expected h0 is set, and the outcome
// must equal the expected h1. Every qubit is measured even after a mismatch.
func RecvDecode(ctx context.Context, s *auth.Session, subset bits.Bits) (bool, error) {
	qs, err := s.RecvQubits(ctx, PhaseHash, len(subset)/2)
	if err != nil {
		return false, err
	}
	ok := true
	for i, q := range qs {
		h0, h1 := subset[2*i], subset[2*i+1]
		if h0 == 1 {
			if err := s.Conn.Apply(ctx, q, quantum.GateH); err != nil {
				_ = quantum.Release(ctx, s.Conn, qs[i:]...)
				return false, err
			}
		}
		m, err := s.Conn.Measure(ctx, q)
		if err != nil {
			_ = quantum.Release(ctx, s.Conn, qs[i+1:]...)
			return false, err
		}
		if m != h1 {
			ok = false
		}
	}
	return ok, nil
}

// Prover proves knowledge of the key.
type Prover struct {
	cfg Config
}

// NewProver returns a Prover for cfg.
func NewProver(cfg Config) (*Prover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Prover{cfg: cfg}, nil
}

// Authenticate runs the prover side against peer.
func (p *Prover) Authenticate(ctx context.Context, key bits.Bits, peer string) error {
	if err := bits.CheckKey(key, constants.OffsetKeyBits); err != nil {
		return p.cfg.RejectKey(Protocol, err)
	}
	if err := auth.CheckPeer(peer); err != nil {
		return err
	}

	return auth.Run(ctx, p.cfg.Config, Protocol, auth.RoleProver, func(ctx context.Context, s *auth.Session) error {
		s.Phase("nonce", metrics.Fields{"bits": p.cfg.NonceBits})
		nonce, err := p.nonce(ctx, s.Conn)
		if err != nil {
			return qerrors.NewProtocolError("nonce", err)
		}
		subset, err := CreateHash(key, nonce)
		if err != nil {
			return qerrors.NewProtocolError("hash", err)
		}
		if err := s.SendClassical(ctx, peer, bits.Pack(nonce)); err != nil {
			return qerrors.NewProtocolError("nonce", err)
		}

		s.Phase("encode", metrics.Fields{"peer": peer})
		if err := EncodeSend(ctx, s, subset, peer); err != nil {
			return qerrors.NewProtocolError("encode", err)
		}
		return nil
	})
}

func (p *Prover) nonce(ctx context.Context, conn quantum.Conn) (bits.Bits, error) {
	if p.cfg.NonceSource != nil {
		nonce, err := p.cfg.NonceSource.Bits(p.cfg.NonceBits)
		if err != nil {
			return nil, err
		}
		if len(nonce) != p.cfg.NonceBits {
			return nil, fmt.Errorf("%w: nonce source returned %d bits, want %d", qerrors.ErrInvalidConfig, len(nonce), p.cfg.NonceBits)
		}
		return nonce, nil
	}
	return CreateNonce(ctx, conn, p.cfg.NonceBits)
}

// Verifier checks a prover's hash encoding.
type Verifier struct {
	cfg Config
}

// NewVerifier returns a Verifier for cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{cfg: cfg}, nil
}

// Authenticate runs the verifier side and returns the verdict.
func (v *Verifier) Authenticate(ctx context.Context, key bits.Bits) (bool, error) {
	if err := bits.CheckKey(key, constants.OffsetKeyBits); err != nil {
		return false, v.cfg.RejectKey(Protocol, err)
	}

	var verdict bool
	err := auth.Run(ctx, v.cfg.Config, Protocol, auth.RoleVerifier, func(ctx context.Context, s *auth.Session) error {
		msg, err := s.RecvClassical(ctx, PhaseNonce)
		if err != nil {
			return err
		}
		nonce, err := DecodeNonce(msg, v.cfg.NonceBits)
		if err != nil {
			return err
		}
		subset, err := CreateHash(key, nonce)
		if err != nil {
			return qerrors.NewProtocolError("hash", err)
		}
		s.Phase("decode", metrics.Fields{"expected": subset.String(), "offset": Offset(key, nonce)})

		ok, err := RecvDecode(ctx, s, subset)
		if err != nil {
			if qerrors.IsDesync(err) {
				return err
			}
			return qerrors.NewProtocolError("decode", err)
		}
		verdict = s.Verdict(ok)
		return nil
	})
	if err != nil {
		return false, err
	}
	return verdict, nil
}
