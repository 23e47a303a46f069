// Package exact is the dense reference oracle for the moment engine. It
// builds the full Hamiltonian of a deterministic description on a small
// lattice and computes moments by dense Chebyshev recursion or by
// eigendecomposition, for cross-checking the scalable tiled path.
package exact

import (
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/chebmom/ham"
	"github.com/fumin/chebmom/lattice"
)

// globalIndex packs a global cell and orbital into a state index.
func globalIndex(l *lattice.Lattice, g [3]int, orb int) int {
	return g[0] + g[1]*l.Lt[0] + g[2]*l.Lt[0]*l.Lt[1] + orb*l.Lt[0]*l.Lt[1]*l.Lt[2]
}

// wrap folds a global cell through the boundaries; ok is false when an open
// boundary is crossed.
func wrap(l *lattice.Lattice, g [3]int) ([3]int, bool) {
	for d := 0; d < l.D; d++ {
		if g[d] < 0 || g[d] >= l.Lt[d] {
			if !l.Periodic[d] {
				return g, false
			}
			g[d] = ((g[d] % l.Lt[d]) + l.Lt[d]) % l.Lt[d]
		}
	}
	return g, true
}

// checkDeterministic rejects descriptions whose realization is random, since
// the oracle cannot reproduce the engine's draws.
func checkDeterministic(desc *ham.Description[complex128]) error {
	for o, a := range desc.Anderson {
		if a.Policy != ham.AndersonNone && a.Width != 0 {
			return errors.Errorf("orbital %d: random anderson width %f", o, a.Width)
		}
	}
	for p, pat := range desc.Patterns {
		if pat.Concentration != 0 {
			return errors.Errorf("pattern %d: random concentration %f", p, pat.Concentration)
		}
	}
	for o, c := range desc.Vacancies.Concentration {
		if c != 0 {
			return errors.Errorf("orbital %d: random vacancy concentration %f", o, c)
		}
	}
	return nil
}

// Dense builds the dense global Hamiltonian of a deterministic description.
// Vacancy rows and columns are projected out, matching the engine's
// invariant that vacancy amplitudes stay zero.
func Dense(l lattice.Lattice, desc *ham.Description[complex128]) (*mat.CDense, error) {
	if err := l.Check(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := desc.Check(&l); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := checkDeterministic(desc); err != nil {
		return nil, errors.Wrap(err, "")
	}

	n := l.Sizet
	h := mat.NewCDense(n, n, nil)
	field := desc.Complex && l.HasField()

	for _, g := range globalCells(&l) {
		for o, hops := range desc.Hops {
			dest := globalIndex(&l, g, o)
			for _, hop := range hops {
				gs := [3]int{g[0] + hop.Disp[0], g[1] + hop.Disp[1], g[2] + hop.Disp[2]}
				gs, ok := wrap(&l, gs)
				if !ok {
					continue
				}
				src := globalIndex(&l, gs, hop.ToOrb)
				t := hop.T
				if field {
					t *= ham.Peierls[complex128](l.RegularPhase(hop.Disp, g[1]), true)
				}
				h.Set(dest, src, h.At(dest, src)+t)
			}
			if len(desc.Anderson) > 0 && desc.Anderson[o].Policy != ham.AndersonNone {
				h.Set(dest, dest, h.At(dest, dest)+complex(desc.Anderson[o].Mean, 0))
			}
		}
	}

	for _, pat := range desc.Patterns {
		for _, anchor := range pat.FixedAnchors {
			node := func(k int) (int, [3]int, bool) {
				g := [3]int{anchor[0] + pat.NodeOffsets[k][0], anchor[1] + pat.NodeOffsets[k][1], anchor[2] + pat.NodeOffsets[k][2]}
				g, ok := wrap(&l, g)
				return globalIndex(&l, g, pat.NodeOrbs[k]), g, ok
			}
			for _, b := range pat.Bonds {
				dest, gd, ok1 := node(b.To)
				src, gs, ok2 := node(b.From)
				if !ok1 || !ok2 {
					continue
				}
				t := b.T
				if field {
					t *= ham.Peierls[complex128](l.BondPhase(gd, gs), true)
				}
				h.Set(dest, src, h.At(dest, src)+t)
			}
			for _, u := range pat.Onsites {
				dest, _, ok := node(u.Node)
				if !ok {
					continue
				}
				h.Set(dest, dest, h.At(dest, dest)+complex(u.U, 0))
			}
		}
	}

	for _, fs := range desc.Vacancies.Fixed {
		g, ok := wrap(&l, fs.Cell)
		if !ok {
			continue
		}
		i := globalIndex(&l, g, fs.Orb)
		for j := 0; j < n; j++ {
			h.Set(i, j, 0)
			h.Set(j, i, 0)
		}
	}
	return h, nil
}

// DenseVelocity builds the dense velocity operator of the description for
// the given axes, using the same coefficient convention as the engine.
func DenseVelocity(l lattice.Lattice, desc *ham.Description[complex128], axes []int) (*mat.CDense, error) {
	if err := l.Check(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	n := l.Sizet
	v := mat.NewCDense(n, n, nil)
	for _, g := range globalCells(&l) {
		for o, hops := range desc.Hops {
			dest := globalIndex(&l, g, o)
			for _, hop := range hops {
				gs := [3]int{g[0] + hop.Disp[0], g[1] + hop.Disp[1], g[2] + hop.Disp[2]}
				gs, ok := wrap(&l, gs)
				if !ok {
					continue
				}
				src := globalIndex(&l, gs, hop.ToOrb)
				t := ham.Coefficient(axes, hop.Disp, hop.T)
				v.Set(dest, src, v.At(dest, src)+t)
			}
		}
	}
	for _, pat := range desc.Patterns {
		for _, anchor := range pat.FixedAnchors {
			for _, b := range pat.Bonds {
				var disp [3]int
				for d := 0; d < 3; d++ {
					disp[d] = pat.NodeOffsets[b.To][d] - pat.NodeOffsets[b.From][d]
				}
				gd := [3]int{anchor[0] + pat.NodeOffsets[b.To][0], anchor[1] + pat.NodeOffsets[b.To][1], anchor[2] + pat.NodeOffsets[b.To][2]}
				gs := [3]int{anchor[0] + pat.NodeOffsets[b.From][0], anchor[1] + pat.NodeOffsets[b.From][1], anchor[2] + pat.NodeOffsets[b.From][2]}
				gd, ok1 := wrap(&l, gd)
				gs, ok2 := wrap(&l, gs)
				if !ok1 || !ok2 {
					continue
				}
				dest := globalIndex(&l, gd, pat.NodeOrbs[b.To])
				src := globalIndex(&l, gs, pat.NodeOrbs[b.From])
				v.Set(dest, src, v.At(dest, src)+ham.Coefficient(axes, disp, b.T))
			}
		}
	}
	for _, fs := range desc.Vacancies.Fixed {
		g, ok := wrap(&l, fs.Cell)
		if !ok {
			continue
		}
		i := globalIndex(&l, g, fs.Orb)
		for j := 0; j < n; j++ {
			v.Set(i, j, 0)
			v.Set(j, i, 0)
		}
	}
	return v, nil
}

func globalCells(l *lattice.Lattice) [][3]int {
	cells := make([][3]int, 0, l.Lt[0]*l.Lt[1]*l.Lt[2])
	for g2 := 0; g2 < l.Lt[2]; g2++ {
		for g1 := 0; g1 < l.Lt[1]; g1++ {
			for g0 := 0; g0 < l.Lt[0]; g0++ {
				cells = append(cells, [3]int{g0, g1, g2})
			}
		}
	}
	return cells
}

// Moments1D computes μ[n] = Tr[V·T_n(H)]/states by dense matrix recursion.
// A nil velocity is the identity.
func Moments1D(h, v *mat.CDense, nMoments, states int) []complex128 {
	n, _ := h.Dims()
	t0 := eye(n)
	t1 := mat.NewCDense(n, n, nil)
	t1.Copy(h)

	mu := make([]complex128, nMoments)
	mu[0] = weightedTrace(v, t0, states)
	if nMoments > 1 {
		mu[1] = weightedTrace(v, t1, states)
	}
	next := mat.NewCDense(n, n, nil)
	for m := 2; m < nMoments; m++ {
		next.Mul(h, t1)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				next.Set(i, j, 2*next.At(i, j)-t0.At(i, j))
			}
		}
		t0, t1, next = t1, next, t0
		mu[m] = weightedTrace(v, t1, states)
	}
	return mu
}

// Moments2D computes μ[n + N₀·m] = Tr[Va·T_n(H)·Vb·T_m(H)]/states.
func Moments2D(h, va, vb *mat.CDense, n0, n1, states int) []complex128 {
	ts := chebMatrices(h, max(n0, n1))
	n, _ := h.Dims()
	left := make([]*mat.CDense, n0)
	for i := 0; i < n0; i++ {
		left[i] = mat.NewCDense(n, n, nil)
		left[i].Mul(va, ts[i])
	}
	right := make([]*mat.CDense, n1)
	for j := 0; j < n1; j++ {
		right[j] = mat.NewCDense(n, n, nil)
		right[j].Mul(vb, ts[j])
	}

	mu := make([]complex128, n0*n1)
	prod := mat.NewCDense(n, n, nil)
	for m := 0; m < n1; m++ {
		for nn := 0; nn < n0; nn++ {
			prod.Mul(left[nn], right[m])
			var tr complex128
			for i := 0; i < n; i++ {
				tr += prod.At(i, i)
			}
			mu[m*n0+nn] = tr / complex(float64(states), 0)
		}
	}
	return mu
}

func chebMatrices(h *mat.CDense, count int) []*mat.CDense {
	n, _ := h.Dims()
	ts := make([]*mat.CDense, count)
	ts[0] = eye(n)
	if count > 1 {
		ts[1] = mat.NewCDense(n, n, nil)
		ts[1].Copy(h)
	}
	for m := 2; m < count; m++ {
		ts[m] = mat.NewCDense(n, n, nil)
		ts[m].Mul(h, ts[m-1])
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				ts[m].Set(i, j, 2*ts[m].At(i, j)-ts[m-2].At(i, j))
			}
		}
	}
	return ts
}

func eye(n int) *mat.CDense {
	m := mat.NewCDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func weightedTrace(v, t *mat.CDense, states int) complex128 {
	n, _ := t.Dims()
	var tr complex128
	if v == nil {
		for i := 0; i < n; i++ {
			tr += t.At(i, i)
		}
		return tr / complex(float64(states), 0)
	}
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			tr += v.At(i, k) * t.At(k, i)
		}
	}
	return tr / complex(float64(states), 0)
}

// Eigenvalues diagonalizes a Hamiltonian with negligible imaginary part
// through the real eigensolver.
func Eigenvalues(h *mat.CDense) ([]float64, error) {
	n, _ := h.Dims()
	gnm := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := h.At(i, j)
			if math.Abs(imag(v)) > 1e-12 {
				return nil, errors.Errorf("complex entry %v at %d %d", v, i, j)
			}
			gnm.Set(i, j, real(v))
		}
	}
	var eig mat.Eigen
	if ok := eig.Factorize(gnm, mat.EigenRight); !ok {
		return nil, errors.Errorf("eigendecomposition failed")
	}
	cvals := eig.Values(nil)
	vals := make([]float64, len(cvals))
	for i, v := range cvals {
		vals[i] = real(v)
	}
	return vals, nil
}

// ChebyshevTrace computes Σ_k T_n(λ_k)/states for n < nMoments from an
// eigenvalue list, the spectral reference for the density of states.
func ChebyshevTrace(eigs []float64, nMoments, states int) []float64 {
	mu := make([]float64, nMoments)
	for _, e := range eigs {
		t0, t1 := 1.0, e
		mu[0] += t0
		if nMoments > 1 {
			mu[1] += t1
		}
		for n := 2; n < nMoments; n++ {
			t0, t1 = t1, 2*e*t1-t0
			mu[n] += t1
		}
	}
	for n := range mu {
		mu[n] /= float64(states)
	}
	return mu
}

// DenseC64 lowers a dense matrix to a complex64 tensor for the single
// precision oracle path.
func DenseC64(h *mat.CDense) *tensor.Dense {
	n, _ := h.Dims()
	t := tensor.Zeros(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			t.SetAt([]int{i, j}, complex64(h.At(i, j)))
		}
	}
	return t
}

// Moments1DC64 is the single precision variant of Moments1D, computed with
// tensor contractions. A nil velocity is the identity.
func Moments1DC64(h *tensor.Dense, v *tensor.Dense, nMoments, states int) []complex64 {
	n := h.Shape()[0]
	t0 := tensor.Zeros(n, n)
	for i := 0; i < n; i++ {
		t0.SetAt([]int{i, i}, 1)
	}
	t1 := tensor.Zeros(n, n)
	copyTensor(t1, h)

	mu := make([]complex64, nMoments)
	mu[0] = traceC64(v, t0, states)
	if nMoments > 1 {
		mu[1] = traceC64(v, t1, states)
	}
	next := tensor.Zeros(1)
	for m := 2; m < nMoments; m++ {
		next = tensor.Product(next, h, t1, [][2]int{{1, 0}})
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				ij := []int{i, j}
				next.SetAt(ij, 2*next.At(i, j)-t0.At(i, j))
			}
		}
		t0, t1, next = t1, next, t0
		mu[m] = traceC64(v, t1, states)
	}
	return mu
}

func copyTensor(dst, src *tensor.Dense) {
	shape := src.Shape()
	dst.Reset(shape...)
	for ijk := range src.All() {
		dst.SetAt(ijk, src.At(ijk...))
	}
}

func traceC64(v, t *tensor.Dense, states int) complex64 {
	n := t.Shape()[0]
	var tr complex64
	if v == nil {
		for i := 0; i < n; i++ {
			tr += t.At(i, i)
		}
		return tr / complex64(complex(float64(states), 0))
	}
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			tr += v.At(i, k) * t.At(k, i)
		}
	}
	return tr / complex64(complex(float64(states), 0))
}
