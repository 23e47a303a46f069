package chebmom

import (
	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"
	"github.com/pkg/errors"

	"github.com/fumin/chebmom/ham"
)

// Moments runs the estimation and returns the symmetrized moment array,
// flattened with the first factor's index fastest:
// μ[n + N₀·m + N₀·N₁·p].
func Moments[T ham.Scalar](j *Job[T]) ([]T, error) {
	var mu []T
	var err error
	switch len(j.NMoments) {
	case 1:
		mu, err = j.run(j.NMoments[0], gamma1D[T])
	case 2:
		mu, err = j.run(j.NMoments[0]*j.NMoments[1], gamma2D[T])
	case 3:
		mu, err = j.run(j.NMoments[0]*j.NMoments[1]*j.NMoments[2], gamma3D[T])
	default:
		return nil, errors.Errorf("%d moment factors", len(j.NMoments))
	}
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(j.NMoments) == 3 {
		mu = symmetrize3D(mu, j.NMoments, j.Dirs)
	}
	return mu, nil
}

// gamma1D estimates μ[n] = ⟨0| v T_n(H) |0⟩. The left vector is multiplied
// by the velocity once and by the sign factor compensating its
// anti-Hermiticity; dots are taken in pairs because the two-slot ring holds
// the two most recent Chebyshev iterates, one written by each Multiply.
func gamma1D[T ham.Scalar](w *worker[T]) error {
	n0 := w.nMoments()[0]
	kpm0 := newVector(w, 1)
	kpm1 := newVector(w, 2)
	gamma := make([]T, n0)
	factor := float64(symFactor(w.dirs()))

	average := 0
	for disorder := 0; disorder < w.nDisorder(); disorder++ {
		w.h.GenerateDisorder()
		for it, axes := range w.dirs() {
			if err := w.h.BuildVelocity(axes, it); err != nil {
				return errors.Wrap(err, "")
			}
		}
		for randV := 0; randV < w.nRandom(); randV++ {
			kpm0.InitRandom()
			kpm1.SetIndex(0)
			copy(kpm1.Col(0), kpm0.Col(0))
			kpm1.ExchangeBoundaries()

			if vel := w.h.Velocity(0); vel != nil {
				kpm0.SetIndex(0)
				kpm0.Velocity(kpm1.Col(kpm1.Index()), vel)
			}
			if factor != 1 {
				phi := kpm0.Col(0)
				for i := range phi {
					phi[i] = ham.Scale(phi[i], factor)
				}
			}
			kpm0.EmptyGhosts(0)

			kpm1.Multiply(0)
			welford(gamma, 0, dot(kpm0.Col(0), kpm1.Col(0)), average)
			welford(gamma, 1, dot(kpm0.Col(0), kpm1.Col(1)), average)
			for m := 2; m < n0; m += 2 {
				kpm1.Multiply(1)
				kpm1.Multiply(1)
				welford(gamma, m, dot(kpm0.Col(0), kpm1.Col(0)), average)
				welford(gamma, m+1, dot(kpm0.Col(0), kpm1.Col(1)), average)
			}
			average++
		}
	}

	w.g.mu.Lock()
	axpy(w.g.moments, T(complex(1, 0)), gamma)
	w.g.mu.Unlock()
	return nil
}

// gamma2D estimates μ[n + N₀·m] = ⟨0| v T_n(H) v T_m(H) |0⟩. The left
// recursion advances in blocks whose velocity images are buffered in a
// BlockSize-wide ring; the right recursion restarts from |0⟩ for every left
// block, and the two buffers contract into BlockSize×BlockSize sub-blocks.
func gamma2D[T ham.Scalar](w *worker[T]) error {
	n0, n1 := w.nMoments()[0], w.nMoments()[1]
	mem := w.blockSize
	kpm0 := newVector(w, 1)
	kpm1 := newVector(w, 2)
	kpm2 := newVector(w, mem)
	kpm3 := newVector(w, mem)
	gamma := make([]T, n0*n1)
	tmp := make([]T, mem*mem)
	factor := symFactor(w.dirs())

	average := 0
	for disorder := 0; disorder < w.nDisorder(); disorder++ {
		w.h.GenerateDisorder()
		for it, axes := range w.dirs() {
			if err := w.h.BuildVelocity(axes, it); err != nil {
				return errors.Wrap(err, "")
			}
		}
		for randV := 0; randV < w.nRandom(); randV++ {
			kpm0.InitRandom()
			kpm0.ExchangeBoundaries()
			kpm1.SetIndex(0)
			kpm1.Velocity(kpm0.Col(0), w.h.Velocity(0))

			for n := 0; n < n0; n += mem {
				bn := min(mem, n0-n)
				for i := n; i < n+bn; i++ {
					if i != 0 {
						chebIter(kpm1, i-1)
					}
					kpm3.SetIndex(i % mem)
					kpm3.Velocity(kpm1.Col(kpm1.Index()), w.h.Velocity(1))
					kpm3.EmptyGhosts(i % mem)
				}

				kpm2.SetIndex(0)
				copy(kpm2.Col(0), kpm0.Col(0))
				for m := 0; m < n1; m += mem {
					bm := min(mem, n1-m)
					for i := m; i < m+bm; i++ {
						if i != 0 {
							chebIter(kpm2, i-1)
						}
					}
					for bi := 0; bi < bn; bi++ {
						for bj := 0; bj < bm; bj++ {
							tmp[bi*mem+bj] = dot(kpm3.Col(bi), kpm2.Col(bj))
						}
					}
					for bj := 0; bj < bm; bj++ {
						for bi := 0; bi < bn; bi++ {
							welford(gamma, (m+bj)*n0+n+bi, tmp[bi*mem+bj], average)
						}
					}
				}
			}
			average++
		}
	}

	// Symmetrization μ' ← (μ' + factor·μ'†)/2 of the factor-scaled array
	// μ' = factor·μ, written as (factor·μ + μ†)/2 since factor² = 1.
	w.g.mu.Lock()
	switch {
	case n0 == n1:
		for m := 0; m < n1; m++ {
			for n := 0; n < n0; n++ {
				v := ham.Scale(gamma[m*n0+n], float64(factor))
				w.g.moments[m*n0+n] += (v + ham.Conj(gamma[n*n0+m])) / 2
			}
		}
	default:
		for i, v := range gamma {
			w.g.moments[i] += ham.Scale(v, float64(factor))
		}
	}
	w.g.mu.Unlock()
	return nil
}

// gamma3D estimates μ[n + N₀·m + N₀·N₁·p]. The full array can be very
// large, so only the master holds it: every BlockSize×BlockSize sub-block is
// summed across threads through the shared block staging and folded into the
// global array by the master, under the barrier discipline.
func gamma3D[T ham.Scalar](w *worker[T]) error {
	n0, n1, n2 := w.nMoments()[0], w.nMoments()[1], w.nMoments()[2]
	mem := w.blockSize
	kpm0 := newVector(w, 1)
	kpmVn := newVector(w, 2)
	kpmVnV := newVector(w, mem)
	kpmP := newVector(w, 2)
	kpmPVm := newVector(w, mem)
	tmp := make([]T, mem*mem)

	average := 0
	for disorder := 0; disorder < w.nDisorder(); disorder++ {
		w.h.GenerateDisorder()
		for it, axes := range w.dirs() {
			if err := w.h.BuildVelocity(axes, it); err != nil {
				return errors.Wrap(err, "")
			}
		}
		for randV := 0; randV < w.nRandom(); randV++ {
			kpm0.InitRandom()
			kpm0.ExchangeBoundaries()
			kpmVn.SetIndex(0)
			kpmVn.Velocity(kpm0.Col(0), w.h.Velocity(0))

			for n := 0; n < n0; n += mem {
				bn := min(mem, n0-n)
				for ni := n; ni < n+bn; ni++ {
					if ni != 0 {
						chebIter(kpmVn, ni-1)
					}
					kpmVnV.SetIndex(ni % mem)
					kpmVnV.Velocity(kpmVn.Col(kpmVn.Index()), w.h.Velocity(1))
					kpmVnV.EmptyGhosts(ni % mem)
				}

				kpmP.SetIndex(0)
				copy(kpmP.Col(0), kpm0.Col(0))
				for p := 0; p < n2; p++ {
					if p != 0 {
						chebIter(kpmP, p-1)
					}
					kpmPVm.SetIndex(0)
					kpmPVm.Velocity(kpmP.Col(kpmP.Index()), w.h.Velocity(2))

					for m := 0; m < n1; m += mem {
						bm := min(mem, n1-m)
						for mi := m; mi < m+bm; mi++ {
							if mi != 0 {
								chebIter(kpmPVm, mi-1)
							}
						}
						for bi := 0; bi < bn; bi++ {
							for bj := 0; bj < bm; bj++ {
								tmp[bi*mem+bj] = dot(kpmVnV.Col(bi), kpmPVm.Col(bj))
							}
						}

						if w.master() {
							for i := range w.g.block {
								w.g.block[i] = 0
							}
						}
						w.g.bar.Wait()
						w.g.mu.Lock()
						axpy(w.g.block, T(complex(1, 0)), tmp)
						w.g.mu.Unlock()
						w.g.bar.Wait()
						if w.master() {
							for bi := 0; bi < bn; bi++ {
								for bj := 0; bj < bm; bj++ {
									idx := p*n1*n0 + (m+bj)*n0 + n + bi
									welford(w.g.moments, idx, w.g.block[bi*mem+bj], average)
								}
							}
						}
						w.g.bar.Wait()
					}
				}
			}
			average++
		}
	}
	return nil
}

// symmetrize3D averages the permutations allowed by the coincidences of the
// three axis factors, per the Hermiticity and index-permutation symmetries
// of μ. All-distinct axes pass through unchanged.
func symmetrize3D[T ham.Scalar](mu []T, nMoments []int, dirs [][]int) []T {
	n0, n1, n2 := nMoments[0], nMoments[1], nMoments[2]
	factor := float64(symFactor(dirs))
	at := func(n, m, p int) T { return mu[p*n1*n0+m*n0+n] }

	eq01 := axesEqual(dirs[0], dirs[1])
	eq02 := axesEqual(dirs[0], dirs[2])
	eq12 := axesEqual(dirs[1], dirs[2])
	if !eq01 && !eq02 && !eq12 {
		return mu
	}

	out := make([]T, len(mu))
	pool := workerpool.New(0)
	defer pool.Close()
	pool.ParallelFor(n2, func(start, end int) {
		for p := start; p < end; p++ {
			for m := 0; m < n1; m++ {
				for n := 0; n < n0; n++ {
					var v T
					switch {
					case eq01 && eq02:
						v = (at(n, m, p) + at(m, p, n) + at(p, n, m)) / 6
						c := ham.Conj(at(p, m, n)) + ham.Conj(at(n, p, m)) + ham.Conj(at(m, n, p))
						v += ham.Scale(c, factor/6)
					case eq01 && n1 == n2:
						v = at(n, m, p)/2 + ham.Scale(ham.Conj(at(n, p, m)), factor/2)
					case eq02 && n0 == n1:
						v = at(n, m, p)/2 + ham.Scale(ham.Conj(at(m, n, p)), factor/2)
					case eq12 && n0 == n2:
						v = at(n, m, p)/2 + ham.Scale(ham.Conj(at(p, m, n)), factor/2)
					default:
						v = at(n, m, p)
					}
					out[p*n1*n0+m*n0+n] = v
				}
			}
		}
	})
	return out
}
