package sim

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pzverkov/quantum-auth/pkg/quantum"
)

// maxRegisterQubits bounds a single entangled register (2^20 amplitudes).
const maxRegisterQubits = 20

// probEpsilon absorbs rounding noise when a branch is (numerically) certain.
const probEpsilon = 1e-12

// register is the joint state of a set of qubits that have interacted.
// Qubit ids[p] is bit p of an amplitude index.
type register struct {
	ids []uint64
	amp []complex128
}

func newRegister(id uint64) *register {
	return &register{ids: []uint64{id}, amp: []complex128{1, 0}}
}

func (r *register) position(id uint64) int {
	for p, v := range r.ids {
		if v == id {
			return p
		}
	}
	return -1
}

func (r *register) apply(pos int, g quantum.Gate) {
	mask := 1 << pos
	for i := range r.amp {
		if i&mask != 0 {
			continue
		}
		j := i | mask
		a0, a1 := r.amp[i], r.amp[j]
		switch g {
		case quantum.GateX:
			r.amp[i], r.amp[j] = a1, a0
		case quantum.GateZ:
			r.amp[j] = -a1
		case quantum.GateH:
			r.amp[i] = (a0 + a1) * math.Sqrt2 / 2
			r.amp[j] = (a0 - a1) * math.Sqrt2 / 2
		}
	}
}

func (r *register) cnot(control, target int) {
	cm, tm := 1<<control, 1<<target
	for i := range r.amp {
		if i&cm != 0 && i&tm == 0 {
			j := i | tm
			r.amp[i], r.amp[j] = r.amp[j], r.amp[i]
		}
	}
}

// merge returns the tensor product r ⊗ o, with o's qubits placed above r's.
func (r *register) merge(o *register) (*register, error) {
	if len(r.ids)+len(o.ids) > maxRegisterQubits {
		return nil, fmt.Errorf("sim: register would hold %d qubits, limit %d", len(r.ids)+len(o.ids), maxRegisterQubits)
	}
	shift := len(r.ids)
	amp := make([]complex128, len(r.amp)*len(o.amp))
	for j, bj := range o.amp {
		if bj == 0 {
			continue
		}
		for i, ai := range r.amp {
			amp[i|j<<shift] = ai * bj
		}
	}
	ids := make([]uint64, 0, len(r.ids)+len(o.ids))
	ids = append(ids, r.ids...)
	ids = append(ids, o.ids...)
	return &register{ids: ids, amp: amp}, nil
}

// probOne returns the probability of measuring 1 at pos.
func (r *register) probOne(pos int) float64 {
	mask := 1 << pos
	var p float64
	for i, a := range r.amp {
		if i&mask != 0 {
			p += real(a)*real(a) + imag(a)*imag(a)
		}
	}
	return p
}

// collapse projects pos onto outcome with branch probability p and removes
// the qubit from the register.
func (r *register) collapse(pos int, outcome uint8, p float64) {
	mask := 1 << pos
	low := mask - 1
	norm := complex(1/math.Sqrt(p), 0)
	amp := make([]complex128, len(r.amp)/2)
	for i, a := range r.amp {
		bit := uint8(0)
		if i&mask != 0 {
			bit = 1
		}
		if bit != outcome {
			continue
		}
		k := i&low | (i>>(pos+1))<<pos
		amp[k] = a * norm
	}
	r.amp = amp
	r.ids = append(r.ids[:pos], r.ids[pos+1:]...)
}

// measure draws an outcome for pos from rng and collapses the register.
func (r *register) measure(pos int, rng io.Reader) (uint8, error) {
	p1 := r.probOne(pos)
	var outcome uint8
	switch {
	case p1 < probEpsilon:
		outcome = 0
	case p1 > 1-probEpsilon:
		outcome = 1
	default:
		u, err := uniform(rng)
		if err != nil {
			return 0, err
		}
		if u < p1 {
			outcome = 1
		}
	}
	p := p1
	if outcome == 0 {
		p = 1 - p1
	}
	r.collapse(pos, outcome, p)
	return outcome, nil
}

// uniform draws a float64 in [0, 1) from 53 random bits.
func uniform(rng io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(rng, buf[:]); err != nil {
		return 0, fmt.Errorf("sim: randomness source: %w", err)
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53), nil
}
