// Package libarnum implements Li-Barnum identity authentication over
// pre-shared entanglement.
//
// The prover distributes one half of N ID-token pairs, imprints each token
// onto a local auxiliary pair with a CNOT, then ships both auxiliary halves.
// The verifier mirrors the CNOT onto its token halves and Bell-measures each
// auxiliary pair. An honest run measures (0,0) on every pair; any other
// outcome on any pair denies authentication.
package libarnum

import (
	"context"
	"fmt"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/auth"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// Protocol is the name used in logs, metrics and traces.
const Protocol = "li-barnum"

// Phase names reported in desynchronization errors.
const (
	PhaseTokens    = "id-tokens"
	PhaseAuxiliary = "auxiliary-pairs"
)

// Config configures either role.
type Config struct {
	auth.Config

	// Tokens is the number of ID tokens per session.
	Tokens int

	// BellIndex selects the Bell state used for both ID and auxiliary
	// pairs. Only correlated states (0, 1, 2) are accepted; both parties
	// must agree on it.
	BellIndex quantum.BellIndex
}

// DefaultConfig returns the standard four-token configuration.
func DefaultConfig(node string, d quantum.Dialer) Config {
	return Config{
		Config:    auth.DefaultConfig(node, d),
		Tokens:    constants.DefaultTokenCount,
		BellIndex: constants.DefaultBellIndex,
	}
}

// Validate checks the protocol parameters.
func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Tokens < 1 {
		return fmt.Errorf("%w: token count %d", qerrors.ErrInvalidConfig, c.Tokens)
	}
	if 4*c.Tokens > constants.MaxQubitsPerSession {
		return fmt.Errorf("%w: token count %d exceeds session limit", qerrors.ErrInvalidConfig, c.Tokens)
	}
	if !c.BellIndex.Valid() || !c.BellIndex.Correlated() {
		return fmt.Errorf("%w: bell index %d cannot authenticate", qerrors.ErrInvalidConfig, c.BellIndex)
	}
	return nil
}

// Prover proves its identity by distributing entangled tokens.
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
func (p *Prover) Authenticate(ctx context.Context, peer string) error {
	if err := auth.CheckPeer(peer); err != nil {
		return err
	}
	n := p.cfg.Tokens
	return auth.Run(ctx, p.cfg.Config, Protocol, auth.RoleProver, func(ctx context.Context, s *auth.Session) error {
		conn := s.Conn
		ids := make([]*quantum.Qubit, 0, n)
		aux := make([]quantum.Pair, 0, n)

		s.Phase("distribute", metrics.Fields{"tokens": n, "peer": peer})
		for i := 0; i < n; i++ {
			id, err := quantum.NewPair(ctx, conn, p.cfg.BellIndex)
			if err != nil {
				return qerrors.NewProtocolError("distribute", err)
			}
			if err := s.SendQubit(ctx, id.B, peer); err != nil {
				return qerrors.NewProtocolError("distribute", err)
			}
			ids = append(ids, id.A)

			pair, err := quantum.NewPair(ctx, conn, p.cfg.BellIndex)
			if err != nil {
				return qerrors.NewProtocolError("distribute", err)
			}
			aux = append(aux, pair)
		}

		// Every token is out before any correlation.
		s.Phase("correlate")
		for i := range aux {
			if err := conn.CNOT(ctx, aux[i].A, ids[i]); err != nil {
				return qerrors.NewProtocolError("correlate", err)
			}
		}

		s.Phase("finalize")
		for i := range aux {
			if err := s.SendQubit(ctx, aux[i].A, peer); err != nil {
				return qerrors.NewProtocolError("finalize", err)
			}
			if err := s.SendQubit(ctx, aux[i].B, peer); err != nil {
				return qerrors.NewProtocolError("finalize", err)
			}
		}

		if err := quantum.Release(ctx, conn, ids...); err != nil {
			return qerrors.NewProtocolError("release", err)
		}
		return nil
	})
}

// Verifier checks the prover's tokens.
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

// Authenticate runs the verifier side and returns the verdict. A short or
// failed receive is reported as a desynchronization error, never as false.
func (v *Verifier) Authenticate(ctx context.Context) (bool, error) {
	n := v.cfg.Tokens
	var verdict bool
	err := auth.Run(ctx, v.cfg.Config, Protocol, auth.RoleVerifier, func(ctx context.Context, s *auth.Session) error {
		conn := s.Conn

		tokens, err := s.RecvQubits(ctx, PhaseTokens, n)
		if err != nil {
			return err
		}
		aux, err := s.RecvQubits(ctx, PhaseAuxiliary, 2*n)
		if err != nil {
			_ = quantum.Release(context.WithoutCancel(ctx), conn, tokens...)
			return err
		}

		s.Phase("correlate")
		for i := 0; i < n; i++ {
			if err := conn.CNOT(ctx, aux[2*i+1], tokens[i]); err != nil {
				return qerrors.NewProtocolError("correlate", err)
			}
		}

		s.Phase("bell-measure")
		failed := 0
		for i := 0; i < n; i++ {
			m1, m2, err := bellMeasure(ctx, conn, aux[2*i], aux[2*i+1])
			if err != nil {
				return qerrors.NewProtocolError("bell-measure", err)
			}
			if m1 != 0 || m2 != 0 {
				failed++
				s.Logger().Debug("pair mismatch", metrics.Fields{"token": i, "m1": m1, "m2": m2})
			}
		}

		if err := quantum.Release(ctx, conn, tokens...); err != nil {
			return qerrors.NewProtocolError("release", err)
		}
		if failed > 0 {
			s.Logger().Debug("bell measurement failed", metrics.Fields{"pairs": failed, "tokens": n})
		}
		verdict = s.Verdict(failed == 0)
		return nil
	})
	if err != nil {
		return false, err
	}
	return verdict, nil
}

// bellMeasure measures a and b in the Bell basis.
func bellMeasure(ctx context.Context, conn quantum.Conn, a, b *quantum.Qubit) (uint8, uint8, error) {
	if err := conn.CNOT(ctx, a, b); err != nil {
		return 0, 0, err
	}
	if err := conn.Apply(ctx, a, quantum.GateH); err != nil {
		return 0, 0, err
	}
	m1, err := conn.Measure(ctx, a)
	if err != nil {
		return 0, 0, err
	}
	m2, err := conn.Measure(ctx, b)
	if err != nil {
		return 0, 0, err
	}
	return m1, m2, nil
}
