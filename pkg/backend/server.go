// Package backend serves a simulated quantum network to remote nodes over
// post-quantum secured links, and provides the matching client.
//
// Each accepted connection runs a link handshake, then a Hello request that
// names the node the connection acts for. Every later request maps to one
// quantum.Conn operation on the backend's network. Qubits are addressed by
// the handles the backend hands out; a connection can only use handles it
// allocated or received.
package backend

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/link"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
	"github.com/pzverkov/quantum-auth/pkg/protocol"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
	"github.com/pzverkov/quantum-auth/pkg/sim"
)

// Server accepts remote node connections.
type Server struct {
	cfg        *Config
	network    quantum.Dialer
	logger     *metrics.Logger
	observer   *metrics.LinkObserver
	conns      *connLimiter
	handshakes *handshakeLimiter

	mu       sync.Mutex
	listener net.Listener
	sessions int
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithNetwork serves n instead of a network built from the config.
func WithNetwork(n quantum.Dialer) ServerOption {
	return func(s *Server) { s.network = n }
}

// WithLogger sets the server logger.
func WithLogger(l *metrics.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithObserver sets the link observer used for handshakes and requests.
func WithObserver(o *metrics.LinkObserver) ServerOption {
	return func(s *Server) { s.observer = o }
}

// NewServer creates a server for cfg.
func NewServer(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		conns:      newConnLimiter(cfg.MaxConnsPerIP),
		handshakes: newHandshakeLimiter(cfg.HandshakeRate, cfg.HandshakeBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = metrics.NullLogger()
	}
	if s.observer == nil {
		s.observer = metrics.NewLinkObserver(metrics.ObserverConfig{Logger: s.logger})
	}
	if s.network == nil {
		simOpts := []sim.Option{sim.WithLogger(s.logger)}
		if cfg.Seed != nil {
			simOpts = append(simOpts, sim.WithSeed(*cfg.Seed))
		}
		s.network = sim.NewNetwork(simOpts...)
	}
	return s, nil
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called.
// It waits for open sessions to end before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("backend listening", metrics.Fields{"addr": ln.Addr().String()})
	defer s.wg.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept failed", metrics.Fields{"error": err.Error()})
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, nc)
		}()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions reports how many nodes are currently connected.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Close stops accepting connections. Serve returns once open sessions end.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	remote := nc.RemoteAddr().String()
	ip := remoteIP(nc.RemoteAddr())

	if !s.conns.acquire(ip) {
		s.observer.OnRejected(remote, "connection limit")
		_ = link.Reject(nc, qerrors.ErrConnectionLimit)
		return
	}
	defer s.conns.release(ip)

	if !s.handshakes.allow() {
		s.observer.OnRejected(remote, "handshake rate")
		_ = link.Reject(nc, qerrors.ErrConnectionLimit)
		return
	}

	lc, err := link.Server(ctx, nc, link.Config{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		WriteTimeout:     s.cfg.HandshakeTimeout,
		Observer:         s.observer,
	})
	if err != nil {
		return
	}
	defer lc.Close()

	sess := &session{
		srv:     s,
		link:    lc,
		codec:   protocol.NewCodec(),
		handles: make(map[uint64]*quantum.Qubit),
		logger:  s.logger.With(metrics.Fields{"remote": remote}),
	}
	sess.serve(ctx)
}

func (s *Server) trackSession(delta int) {
	s.mu.Lock()
	s.sessions += delta
	s.mu.Unlock()
}

// session serves one node over one link.
type session struct {
	srv     *Server
	link    *link.Conn
	codec   *protocol.Codec
	conn    quantum.Conn
	handles map[uint64]*quantum.Qubit
	logger  *metrics.Logger

	requests int
}

// readLoop feeds decrypted records to the dispatcher and cancels the
// session when the link fails, aborting any blocked receive.
func (ss *session) readLoop(ctx context.Context, cancel context.CancelFunc, out chan<- []byte) {
	defer cancel()
	defer close(out)
	for {
		rec, err := ss.link.ReadRecord()
		if err != nil {
			if !errors.Is(err, qerrors.ErrLinkClosed) && ctx.Err() == nil {
				ss.logger.Debug("link read failed", metrics.Fields{"error": err.Error()})
			}
			return
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}

func (ss *session) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records := make(chan []byte)
	go ss.readLoop(ctx, cancel, records)

	start := time.Now()
	if !ss.hello(ctx, records) {
		return
	}
	defer func() {
		_ = ss.conn.Close()
		ss.srv.trackSession(-1)
		ss.logger.Info("node disconnected", metrics.Fields{
			"requests": ss.requests,
			"duration": time.Since(start).String(),
		})
	}()

	for {
		var rec []byte
		var ok bool
		select {
		case rec, ok = <-records:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		req, err := ss.codec.DecodeRequest(rec)
		if err != nil {
			ss.fail(err)
			return
		}
		ss.requests++

		opCtx, end := ss.srv.observer.OnRequest(ctx, req.Type.String())
		resp, err := ss.dispatch(opCtx, req)
		end(err)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			resp = &protocol.Response{Type: protocol.MessageTypeAlert, Alert: protocol.NewAlert(protocol.AlertLevelWarning, err)}
		}
		if err := ss.reply(resp); err != nil {
			return
		}
		if req.Type == protocol.MessageTypeClose {
			return
		}
	}
}

// hello waits for the opening Hello and attaches the session to its node.
func (ss *session) hello(ctx context.Context, records <-chan []byte) bool {
	var rec []byte
	select {
	case r, ok := <-records:
		if !ok {
			return false
		}
		rec = r
	case <-ctx.Done():
		return false
	}

	req, err := ss.codec.DecodeRequest(rec)
	if err != nil {
		ss.fail(err)
		return false
	}
	if req.Type != protocol.MessageTypeHello {
		ss.fail(qerrors.ErrUnexpectedMessage)
		return false
	}

	conn, err := ss.srv.network.Open(ctx, req.Node)
	if err != nil {
		ss.fail(err)
		return false
	}
	ss.conn = conn
	ss.logger = ss.logger.With(metrics.Fields{"node": req.Node})
	ss.srv.trackSession(1)
	ss.logger.Info("node connected")

	if err := ss.reply(&protocol.Response{Type: protocol.MessageTypeAck}); err != nil {
		_ = conn.Close()
		ss.srv.trackSession(-1)
		return false
	}
	return true
}

func (ss *session) reply(resp *protocol.Response) error {
	msg, err := ss.codec.EncodeResponse(resp)
	if err != nil {
		return err
	}
	return ss.link.WriteRecord(msg)
}

// fail sends a fatal alert for err. The caller ends the session.
func (ss *session) fail(err error) {
	ss.logger.Warn("session aborted", metrics.Fields{"error": err.Error()})
	_ = ss.reply(&protocol.Response{
		Type:  protocol.MessageTypeAlert,
		Alert: protocol.NewAlert(protocol.AlertLevelFatal, err),
	})
}

func (ss *session) handle(op string, id uint64) (*quantum.Qubit, error) {
	q, ok := ss.handles[id]
	if !ok {
		return nil, qerrors.NewChannelError(op, qerrors.ErrUnknownQubit)
	}
	return q, nil
}

func (ss *session) track(q *quantum.Qubit) {
	ss.handles[q.ID()] = q
}

func (ss *session) forget(q *quantum.Qubit) {
	if q.Spent() {
		delete(ss.handles, q.ID())
	}
}

// recvWait bounds a client-requested receive timeout by MaxRecvWait.
func (ss *session) recvWait(requested time.Duration) time.Duration {
	limit := ss.srv.cfg.MaxRecvWait
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

func (ss *session) dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ack := &protocol.Response{Type: protocol.MessageTypeAck}
	conn := ss.conn

	switch req.Type {
	case protocol.MessageTypeNewQubit:
		q, err := conn.NewQubit(ctx)
		if err != nil {
			return nil, err
		}
		ss.track(q)
		return &protocol.Response{Type: protocol.MessageTypeQubitRef, Qubit: q.ID()}, nil

	case protocol.MessageTypeApply:
		q, err := ss.handle("apply", req.Qubit)
		if err != nil {
			return nil, err
		}
		return ack, conn.Apply(ctx, q, req.Gate)

	case protocol.MessageTypeCNOT:
		control, err := ss.handle("cnot", req.Qubit)
		if err != nil {
			return nil, err
		}
		target, err := ss.handle("cnot", req.Target)
		if err != nil {
			return nil, err
		}
		return ack, conn.CNOT(ctx, control, target)

	case protocol.MessageTypeMeasure:
		q, err := ss.handle("measure", req.Qubit)
		if err != nil {
			return nil, err
		}
		outcome, err := conn.Measure(ctx, q)
		ss.forget(q)
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Type: protocol.MessageTypeOutcome, Outcome: outcome}, nil

	case protocol.MessageTypeSendQubit:
		q, err := ss.handle("send-qubit", req.Qubit)
		if err != nil {
			return nil, err
		}
		err = conn.SendQubit(ctx, q, req.Peer)
		ss.forget(q)
		return ack, err

	case protocol.MessageTypeRecvQubit:
		ctx, cancel := context.WithTimeout(ctx, ss.recvWait(req.Timeout))
		defer cancel()
		q, err := conn.RecvQubit(ctx)
		if err != nil {
			return nil, err
		}
		ss.track(q)
		return &protocol.Response{Type: protocol.MessageTypeQubitRef, Qubit: q.ID()}, nil

	case protocol.MessageTypeSendClassical:
		return ack, conn.SendClassical(ctx, req.Peer, req.Payload)

	case protocol.MessageTypeRecvClassical:
		ctx, cancel := context.WithTimeout(ctx, ss.recvWait(req.Timeout))
		defer cancel()
		msg, err := conn.RecvClassical(ctx)
		if err != nil {
			return nil, err
		}
		return &protocol.Response{Type: protocol.MessageTypeClassical, Payload: msg}, nil

	case protocol.MessageTypeClose:
		clear(ss.handles)
		return ack, conn.Close()

	default:
		return nil, qerrors.ErrUnexpectedMessage
	}
}
