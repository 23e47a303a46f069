package chebmom

import (
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/fumin/chebmom/ham"
)

// green is the analytic Chebyshev expansion coefficient of the resolvent,
//
//	g_n(E) = (−1)^n · 2σ/√(1−E²) · i · e^{−iσ·n·arccos E}.
func green(n, sigma int, energy complex128) complex128 {
	sq := cmplx.Sqrt(1 - energy*energy)
	v := 2i * complex(float64(sigma), 0) / sq * cmplx.Exp(-1i*complex(float64(sigma*n), 0)*cmplx.Acos(energy))
	if n%2 == 1 {
		return -v
	}
	return v
}

// SingleShot directly evaluates the zero-temperature DC response
// σ(E_e) = ⟨v^β G v^α 0 | G 0⟩, the stochastic estimate of
// Tr[v^α G v^β G] with G = Im G(H, E_e+iγ) (the sign flips of the two
// single-axis velocities cancel), expanding G as a Chebyshev series with
// the analytic coefficients of green. Both factors of the job's direction must be single axes. The
// result has one entry per energy, averaged over random vectors and
// disorder like the moment accumulators.
func SingleShot[T ham.Scalar](j *Job[T], energies []float64, broadening float64) ([]T, error) {
	if len(j.Dirs) != 2 || len(j.Dirs[0]) != 1 || len(j.Dirs[1]) != 1 {
		return nil, errors.Errorf("single shot needs two single-axis factors, got %v", j.Dirs)
	}
	if len(energies) == 0 {
		return nil, errors.Errorf("no energies")
	}
	if broadening <= 0 {
		return nil, errors.Errorf("broadening %f", broadening)
	}
	nCheb := j.NMoments[0]

	out, err := j.run(len(energies), func(w *worker[T]) error {
		phi0 := newVector(w, 1)
		phi := newVector(w, 2)
		phi1 := newVector(w, 1)
		phi2 := newVector(w, 1)
		cond := make([]T, len(energies))

		for ener := range energies {
			energy := complex(energies[ener], broadening)
			average := 0
			for disorder := 0; disorder < w.nDisorder(); disorder++ {
				w.h.GenerateDisorder()
				for it, axes := range w.dirs() {
					if err := w.h.BuildVelocity(axes, it); err != nil {
						return errors.Wrap(err, "")
					}
				}
				for randV := 0; randV < w.nRandom(); randV++ {
					phi0.InitRandom()
					phi0.ExchangeBoundaries()

					// Left vector: the Green-weighted sum over v^α |0⟩.
					phi.SetIndex(0)
					phi.Velocity(phi0.Col(0), w.h.Velocity(0))
					scaleInto(phi1.Col(0), phi.Col(0), imag(green(0, 1, energy))/2)
					phi.Multiply(0)
					axpyReal(phi1.Col(0), imag(green(1, 1, energy)), phi.Col(1))
					for n := 2; n < nCheb; n++ {
						phi.Multiply(1)
						axpyReal(phi1.Col(0), imag(green(n, 1, energy)), phi.Col(phi.Index()))
					}

					// Multiply the sum by the second velocity, through a
					// temporary, and drop the ghosts before the contraction.
					phi.SetIndex(0)
					copy(phi.Col(0), phi1.Col(0))
					phi1.SetIndex(0)
					phi1.Velocity(phi.Col(0), w.h.Velocity(1))
					phi1.EmptyGhosts(0)

					// Right vector: the same sum without the velocity prefix.
					phi.SetIndex(0)
					copy(phi.Col(0), phi0.Col(0))
					scaleInto(phi2.Col(0), phi.Col(0), imag(green(0, 1, energy))/2)
					phi.Multiply(0)
					axpyReal(phi2.Col(0), imag(green(1, 1, energy)), phi.Col(1))
					for n := 2; n < nCheb; n++ {
						phi.Multiply(1)
						axpyReal(phi2.Col(0), imag(green(n, 1, energy)), phi.Col(phi.Index()))
					}

					welford(cond, ener, dot(phi1.Col(0), phi2.Col(0)), average)
					average++
				}
			}
		}

		w.g.mu.Lock()
		axpy(w.g.moments, T(complex(1, 0)), cond)
		w.g.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return out, nil
}

func scaleInto[T ham.Scalar](dst, src []T, f float64) {
	for i, v := range src {
		dst[i] = ham.Scale(v, f)
	}
}

func axpyReal[T ham.Scalar](y []T, f float64, x []T) {
	for i, v := range x {
		y[i] += ham.Scale(v, f)
	}
}
