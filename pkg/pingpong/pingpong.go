// Package pingpong implements the Yuan et al. ping-pong identity
// authentication protocol, which needs no entanglement.
//
// The verifier encodes a private coin per key pair into a qubit and sends
// the sequence out. The prover re-encodes it with its own key, measures to
// derive the updated key k', and returns fresh qubits carrying k'. The
// verifier derives k' from the returned qubits and compares it with the k'
// it obtains by replaying its own preparation locally.
package pingpong

import (
	"context"
	"fmt"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/auth"
	"github.com/pzverkov/quantum-auth/pkg/bits"
	"github.com/pzverkov/quantum-auth/pkg/crypto"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// Protocol is the name used in logs, metrics and traces.
const Protocol = "ping-pong"

// Phase names reported in desynchronization errors.
const (
	PhaseSequence = "sequence"
	PhaseReturn   = "returned-sequence"
)

// Config configures either role.
type Config struct {
	auth.Config

	// Random supplies the verifier's private coins. Defaults to
	// crypto.SecureSource.
	Random bits.Source
}

// DefaultConfig returns a Config with secure randomness.
func DefaultConfig(node string, d quantum.Dialer) Config {
	return Config{
		Config: auth.DefaultConfig(node, d),
		Random: crypto.SecureSource,
	}
}

// Result is the verifier's outcome.
type Result struct {
	// OK is the verdict.
	OK bool
	// Key is the updated key fragment k' derived from the prover's reply.
	Key bits.Bits
}

// Verifier challenges a prover and checks its reply.
type Verifier struct {
	cfg Config
}

// NewVerifier returns a Verifier for cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Random == nil {
		cfg.Random = crypto.SecureSource
	}
	return &Verifier{cfg: cfg}, nil
}

// Authenticate runs the verifier side against peer using the shared key.
func (v *Verifier) Authenticate(ctx context.Context, key bits.Bits, peer string) (Result, error) {
	if err := bits.CheckPairKey(key); err != nil {
		return Result{}, v.cfg.RejectKey(Protocol, err)
	}
	if err := auth.CheckPeer(peer); err != nil {
		return Result{}, err
	}

	var res Result
	err := auth.Run(ctx, v.cfg.Config, Protocol, auth.RoleVerifier, func(ctx context.Context, s *auth.Session) error {
		conn := s.Conn
		pairs := len(key) / 2

		coins, err := v.cfg.Random.Bits(pairs)
		if err != nil {
			return qerrors.NewProtocolError("prepare", err)
		}
		defer clear(coins)
		if err := checkCoins(coins, pairs); err != nil {
			return qerrors.NewProtocolError("prepare", err)
		}

		s.Phase("prepare", metrics.Fields{"pairs": pairs, "peer": peer})
		for i := 1; i < len(key); i += 2 {
			q, err := conn.NewQubit(ctx)
			if err != nil {
				return qerrors.NewProtocolError("prepare", err)
			}
			if err := PrepareState(ctx, conn, q, key[i], coins[(i-1)/2]); err != nil {
				return qerrors.NewProtocolError("prepare", err)
			}
			if err := s.SendQubit(ctx, q, peer); err != nil {
				return qerrors.NewProtocolError("prepare", err)
			}
		}

		returned, err := s.RecvQubits(ctx, PhaseReturn, pairs)
		if err != nil {
			return err
		}
		kPrime, err := UpdateKey(ctx, conn, returned, key)
		if err != nil {
			return qerrors.NewProtocolError("update", err)
		}

		s.Phase("check")
		check, err := replay(ctx, conn, key, coins)
		if err != nil {
			return qerrors.NewProtocolError("check", err)
		}

		res = Result{OK: s.Verdict(crypto.EqualBits(check, kPrime)), Key: kPrime}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// checkCoins rejects a coin draw that cannot cover every key pair.
func checkCoins(coins bits.Bits, pairs int) error {
	if len(coins) != pairs {
		return fmt.Errorf("%w: coin source returned %d bits for %d key pairs", qerrors.ErrInvalidConfig, len(coins), pairs)
	}
	for i, c := range coins {
		if c > 1 {
			return fmt.Errorf("%w: coin %d is %d", qerrors.ErrInvalidConfig, i, c)
		}
	}
	return nil
}

// replay reproduces locally what an honest prover holding key would return.
func replay(ctx context.Context, conn quantum.Conn, key, coins bits.Bits) (bits.Bits, error) {
	qs := make([]*quantum.Qubit, 0, len(coins))
	for i := 1; i < len(key); i += 2 {
		q, err := conn.NewQubit(ctx)
		if err != nil {
			_ = quantum.Release(ctx, conn, qs...)
			return nil, err
		}
		qs = append(qs, q)
		if err := PrepareState(ctx, conn, q, key[i], coins[(i-1)/2]); err != nil {
			_ = quantum.Release(ctx, conn, qs...)
			return nil, err
		}
	}
	if err := EncodeQubits(ctx, conn, qs, key); err != nil {
		_ = quantum.Release(ctx, conn, qs...)
		return nil, err
	}
	return UpdateKey(ctx, conn, qs, key)
}

// Prover answers a verifier's challenge.
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

// Authenticate runs the prover side against peer, the verifier, and
// returns the prover's updated key k'.
func (p *Prover) Authenticate(ctx context.Context, key bits.Bits, peer string) (bits.Bits, error) {
	if err := bits.CheckPairKey(key); err != nil {
		return nil, p.cfg.RejectKey(Protocol, err)
	}
	if err := auth.CheckPeer(peer); err != nil {
		return nil, err
	}

	var kPrime bits.Bits
	err := auth.Run(ctx, p.cfg.Config, Protocol, auth.RoleProver, func(ctx context.Context, s *auth.Session) error {
		conn := s.Conn

		incoming, err := s.RecvQubits(ctx, PhaseSequence, len(key)/2)
		if err != nil {
			return err
		}
		s.Phase("encode")
		if err := EncodeQubits(ctx, conn, incoming, key); err != nil {
			_ = quantum.Release(ctx, conn, incoming...)
			return qerrors.NewProtocolError("encode", err)
		}
		kp, err := UpdateKey(ctx, conn, incoming, key)
		if err != nil {
			return qerrors.NewProtocolError("update", err)
		}

		s.Phase("reply", metrics.Fields{"peer": peer})
		for i := 1; i < len(key); i += 2 {
			q, err := conn.NewQubit(ctx)
			if err != nil {
				return qerrors.NewProtocolError("reply", err)
			}
			if err := EncodeCorrection(ctx, conn, q, kp[i], key[i]); err != nil {
				return qerrors.NewProtocolError("reply", err)
			}
			if err := s.SendQubit(ctx, q, peer); err != nil {
				return qerrors.NewProtocolError("reply", err)
			}
		}
		kPrime = kp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kPrime, nil
}
