// Package quantumauth implements quantum identity authentication: two
// parties that share a secret key prove who they are to each other over a
// combined quantum and classical channel, without sending the key.
//
// # Quick Start
//
// Run a Zawadzki session between two nodes on the in-process simulator:
//
//	import (
//		"github.com/pzverkov/quantum-auth/pkg/bits"
//		"github.com/pzverkov/quantum-auth/pkg/sim"
//		"github.com/pzverkov/quantum-auth/pkg/zawadzki"
//	)
//
//	network := sim.NewNetwork()
//	key, _ := bits.ParseKey("1010110100111000")
//
//	prover, _ := zawadzki.NewProver(zawadzki.DefaultConfig("alice", network))
//	verifier, _ := zawadzki.NewVerifier(zawadzki.DefaultConfig("bob", network))
//
//	go prover.Authenticate(ctx, key, "bob")
//	ok, err := verifier.Authenticate(ctx, key)
//
// To run the roles in separate processes, start a backend and dial it
// instead of the simulator:
//
//	qauth serve --listen 127.0.0.1:7420
//	client := backend.NewClient("127.0.0.1:7420")
//	verifier, _ := zawadzki.NewVerifier(zawadzki.DefaultConfig("bob", client))
//
// # Package Structure
//
//   - pkg/libarnum, pkg/pingpong, pkg/zawadzki: the three protocol engines
//   - pkg/auth: session scaffolding shared by the engines
//   - pkg/quantum: the quantum channel provider contract
//   - pkg/sim: in-process state-vector simulator implementing that contract
//   - pkg/backend: the simulator served over the network, and its client
//   - pkg/link: hybrid X25519 + ML-KEM-1024 handshake and encrypted records
//   - pkg/protocol: backend wire protocol messages and encoding
//   - pkg/crypto: KEM, AEAD, KDF and randomness primitives
//   - pkg/bits: bit strings, keys and packing
//   - pkg/metrics: logging, metrics, tracing and the observability server
//   - internal/constants, internal/errors: parameters and error types
//
// # Failure Semantics
//
// A session ends in one of three ways. A verdict (true or false) means the
// protocol ran to completion. A DesyncError means the channel delivered
// fewer qubits or messages than the protocol needs; it is never reported as
// a false verdict. Any other error is a configuration, key, or provider
// failure.
//
// # Testing
//
//	go test ./...                                        # All tests
//	go test -fuzz=FuzzDecodeRequest ./pkg/protocol/      # Fuzz tests
//	go test -bench=. ./pkg/crypto/                       # Benchmarks
package quantumauth
