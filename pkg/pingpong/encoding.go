package pingpong

import (
	"context"
	"fmt"

	qerrors "github.com/pzverkov/quantum-auth/internal/errors"
	"github.com/pzverkov/quantum-auth/pkg/bits"
	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// PrepareState encodes private coin r into q for a key pair whose second
// bit is k1: |r> when k1 is 0, H|r> when k1 is 1.
func PrepareState(ctx context.Context, conn quantum.Conn, q *quantum.Qubit, k1, r uint8) error {
	if r == 1 {
		if err := conn.Apply(ctx, q, quantum.GateX); err != nil {
			return err
		}
	}
	if k1 == 1 {
		return conn.Apply(ctx, q, quantum.GateH)
	}
	return nil
}

// EncodeQubits re-encodes qs with key, one qubit per key pair: X then Z
// whenever the pair's bits differ.
func EncodeQubits(ctx context.Context, conn quantum.Conn, qs []*quantum.Qubit, key bits.Bits) error {
	if err := checkPairs(qs, key); err != nil {
		return err
	}
	for i := 0; i+1 < len(key); i += 2 {
		if key[i] != key[i+1] {
			if err := quantum.ApplyAll(ctx, conn, qs[i/2], quantum.GateX, quantum.GateZ); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateKey measures qs against key and returns the updated key k'. For the
// pair ending at odd index i the qubit is measured in the basis selected by
// key[i], giving m; then k'[i] = m and k'[i-1] = key[i-1] ^ key[i] ^ m.
// Every qubit in qs is consumed.
func UpdateKey(ctx context.Context, conn quantum.Conn, qs []*quantum.Qubit, key bits.Bits) (bits.Bits, error) {
	if err := checkPairs(qs, key); err != nil {
		return nil, err
	}
	kPrime := make(bits.Bits, len(key))
	for i := 1; i < len(key); i += 2 {
		q := qs[(i-1)/2]
		if key[i] == 1 {
			if err := conn.Apply(ctx, q, quantum.GateH); err != nil {
				return nil, err
			}
		}
		m, err := conn.Measure(ctx, q)
		if err != nil {
			return nil, err
		}
		kPrime[i] = m
		kPrime[i-1] = bits.XorParity(key[i-1], key[i], m)
	}
	return kPrime, nil
}

// EncodeCorrection prepares fresh qubit q so that measuring it in the basis
// selected by k yields kPrime:
//
//	k'=1 k=0: X Z
//	k'=0 k=1: X H X Z
//	k'=1 k=1: X H
//	k'=0 k=0: nothing
func EncodeCorrection(ctx context.Context, conn quantum.Conn, q *quantum.Qubit, kPrime, k uint8) error {
	var gates []quantum.Gate
	switch {
	case kPrime == 1 && k == 0:
		gates = []quantum.Gate{quantum.GateX, quantum.GateZ}
	case kPrime == 0 && k == 1:
		gates = []quantum.Gate{quantum.GateX, quantum.GateH, quantum.GateX, quantum.GateZ}
	case kPrime == 1 && k == 1:
		gates = []quantum.Gate{quantum.GateX, quantum.GateH}
	}
	return quantum.ApplyAll(ctx, conn, q, gates...)
}

func checkPairs(qs []*quantum.Qubit, key bits.Bits) error {
	if err := bits.CheckPairKey(key); err != nil {
		return err
	}
	if len(qs) != len(key)/2 {
		return fmt.Errorf("%w: %d qubits for %d key pairs", qerrors.ErrInvalidConfig, len(qs), len(key)/2)
	}
	return nil
}
