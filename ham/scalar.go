package ham

import (
	"math/cmplx"
)

// Scalar is the amplitude type of the engine. Real-amplitude Hamiltonians
// are carried in complex storage with the Complex flag off, which forbids a
// magnetic field and draws ±1 random amplitudes.
type Scalar interface {
	~complex64 | ~complex128
}

// Scale multiplies an amplitude by a real factor.
func Scale[T Scalar](t T, f float64) T {
	return t * T(complex(f, 0))
}

// Peierls is the phase factor exp(i·phase), or 1 in real mode.
func Peierls[T Scalar](phase float64, complexMode bool) T {
	if !complexMode || phase == 0 {
		return T(complex(1, 0))
	}
	return T(cmplx.Exp(complex(0, phase)))
}

// Conj is the complex conjugate.
func Conj[T Scalar](t T) T {
	return T(cmplx.Conj(complex128(t)))
}
