// Package auth holds the session scaffolding shared by the protocol
// engines: configuration, observation hooks, scoped provider connections,
// and receive helpers that report short reads as desynchronization rather
// than as a failed verdict.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/pzverkov/quantum-auth/internal/constants"
	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// Role names the side of an exchange a session plays.
type Role string

const (
	// RoleProver starts the exchange and proves knowledge of the key.
	RoleProver Role = "prover"
	// RoleVerifier grants or denies authentication.
	RoleVerifier Role = "verifier"
)

// Config binds a protocol engine to its identity and provider.
type Config struct {
	// Node is this participant's name on the provider.
	Node string

	// Dialer opens the provider connection for each session.
	Dialer quantum.Dialer

	// Logger receives phase transitions and verdicts. Defaults to the
	// global logger.
	Logger *metrics.Logger

	// Observer receives session metrics. Defaults to NoOpObserver.
	Observer Observer

	// RecvTimeout bounds each individual receive. Zero disables the bound
	// and leaves cancellation to the caller's context.
	RecvTimeout time.Duration
}

// DefaultConfig returns a Config for node using d and default settings.
func DefaultConfig(node string, d quantum.Dialer) Config {
	return Config{
		Node:        node,
		Dialer:      d,
		RecvTimeout: constants.DefaultRecvTimeout,
	}
}

// WithDefaults fills unset optional fields.
func (c Config) WithDefaults() Config {
	if c.Logger == nil {
		c.Logger = metrics.GetLogger()
	}
	if c.Observer == nil {
		c.Observer = NoOpObserver{}
	}
	return c
}

// Validate checks the fields every session needs.
func (c Config) Validate() error {
	if err := quantum.ValidNodeName(c.Node); err != nil {
		return fmt.Errorf("%w: node: %w", qerrors.ErrInvalidConfig, err)
	}
	if c.Dialer == nil {
		return fmt.Errorf("%w: no dialer", qerrors.ErrInvalidConfig)
	}
	if c.RecvTimeout < 0 {
		return fmt.Errorf("%w: negative receive timeout", qerrors.ErrInvalidConfig)
	}
	return nil
}

// RejectKey records a key refused before any channel I/O and returns err.
func (c Config) RejectKey(protocol string, err error) error {
	c = c.WithDefaults()
	c.Observer.OnInvalidKey(protocol)
	c.Logger.Named(protocol).Warn("key rejected", metrics.Fields{"node": c.Node, "error": err.Error()})
	return err
}

// CheckPeer verifies a peer name before any channel I/O.
func CheckPeer(peer string) error {
	if err := quantum.ValidNodeName(peer); err != nil {
		return fmt.Errorf("%w: peer: %w", qerrors.ErrInvalidConfig, err)
	}
	return nil
}

// Run opens a provider connection for cfg.Node, runs fn against it and
// closes the connection on every exit path. The returned error is fn's,
// classified for the observer.
func Run(ctx context.Context, cfg Config, protocol string, role Role, fn func(ctx context.Context, s *Session) error) (err error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, done := cfg.Observer.StartSession(ctx, protocol, string(role))
	s := &Session{
		Protocol:    protocol,
		Role:        role,
		logger:      cfg.Logger.Named(protocol).With(metrics.Fields{"node": cfg.Node, "role": string(role)}),
		observer:    cfg.Observer,
		recvTimeout: cfg.RecvTimeout,
	}
	defer func() {
		cfg.Observer.OnQubits(s.sent, s.received)
		s.classify(err)
		done(err)
	}()

	conn, err := cfg.Dialer.Open(ctx, cfg.Node)
	if err != nil {
		return qerrors.NewChannelError("open", err)
	}
	s.Conn = conn
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug("close failed", metrics.Fields{"error": cerr.Error()})
		}
	}()

	s.logger.Debug("session started")
	return fn(ctx, s)
}

// Session is one protocol run bound to an open provider connection.
type Session struct {
	// Conn is the provider connection for this run.
	Conn quantum.Conn

	Protocol string
	Role     Role

	logger      *metrics.Logger
	observer    Observer
	recvTimeout time.Duration

	sent     int
	received int
}

// Logger returns the session logger.
func (s *Session) Logger() *metrics.Logger {
	return s.logger
}

// Phase logs the start of a protocol phase.
func (s *Session) Phase(name string, fields ...metrics.Fields) {
	f := metrics.Fields{"phase": name}
	for _, extra := range fields {
		for k, v := range extra {
			f[k] = v
		}
	}
	s.logger.Debug("phase", f)
}

// SendQubit transmits q to peer.
func (s *Session) SendQubit(ctx context.Context, q *quantum.Qubit, peer string) error {
	if err := s.Conn.SendQubit(ctx, q, peer); err != nil {
		return err
	}
	s.sent++
	return nil
}

// SendClassical transmits msg to peer.
func (s *Session) SendClassical(ctx context.Context, peer string, msg []byte) error {
	if err := s.Conn.SendClassical(ctx, peer, msg); err != nil {
		return err
	}
	s.observer.OnClassical()
	return nil
}

// RecvQubits receives exactly n qubits in send order. If any receive fails
// the qubits already received are released and a DesyncError naming phase
// is returned.
func (s *Session) RecvQubits(ctx context.Context, phase string, n int) ([]*quantum.Qubit, error) {
	qs := make([]*quantum.Qubit, 0, n)
	for len(qs) < n {
		q, err := s.recvQubit(ctx)
		if err != nil {
			_ = quantum.Release(context.WithoutCancel(ctx), s.Conn, qs...)
			return nil, qerrors.NewDesyncError(phase, n, len(qs), err)
		}
		s.received++
		qs = append(qs, q)
	}
	return qs, nil
}

func (s *Session) recvQubit(ctx context.Context) (*quantum.Qubit, error) {
	if s.recvTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.recvTimeout)
		defer cancel()
	}
	return s.Conn.RecvQubit(ctx)
}

// RecvClassical receives one classical message. A failed receive is a
// DesyncError naming phase.
func (s *Session) RecvClassical(ctx context.Context, phase string) ([]byte, error) {
	rctx := ctx
	if s.recvTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.recvTimeout)
		defer cancel()
	}
	msg, err := s.Conn.RecvClassical(rctx)
	if err != nil {
		return nil, qerrors.NewDesyncError(phase, 1, 0, err)
	}
	s.observer.OnClassical()
	return msg, nil
}

// Verdict records and returns the verifier's decision.
func (s *Session) Verdict(ok bool) bool {
	s.observer.OnVerdict(s.Protocol, ok)
	s.logger.Info("verdict", metrics.Fields{"accepted": ok})
	return ok
}

// Sent reports how many qubits this session has transmitted.
func (s *Session) Sent() int { return s.sent }

// Received reports how many qubits this session has received.
func (s *Session) Received() int { return s.received }

func (s *Session) classify(err error) {
	if err == nil {
		return
	}
	var de *qerrors.DesyncError
	switch {
	case qerrors.As(err, &de):
		s.observer.OnDesync(s.Protocol, de.Phase)
	case qerrors.Is(err, qerrors.ErrInvalidKey):
		s.observer.OnInvalidKey(s.Protocol)
	default:
		s.observer.OnChannelError(s.Protocol, err)
	}
}
