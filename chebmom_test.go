package chebmom

import (
	"fmt"
	"math/cmplx"
	"testing"

	"github.com/pkg/errors"

	"github.com/fumin/chebmom/exact"
	"github.com/fumin/chebmom/ham"
	"github.com/fumin/chebmom/lattice"
)

func abs128(x complex128) float64 { return cmplx.Abs(x) }

// chainLattice is a periodic 1D chain on one thread.
func chainLattice(lt, stride int) lattice.Lattice {
	return lattice.Lattice{
		D: 1, Lt: [3]int{lt}, Div: [3]int{1}, Orb: 1, Ng: 2, Stride: stride,
		Periodic: [3]bool{true},
	}
}

func squareLattice(lt, stride int, div [3]int) lattice.Lattice {
	return lattice.Lattice{
		D: 2, Lt: [3]int{lt, lt}, Div: div, Orb: 1, Ng: 2, Stride: stride,
		Periodic: [3]bool{true, true},
	}
}

// chainDesc is the clean nearest-neighbor chain with hopping t.
func chainDesc(t complex128) *ham.Description[complex128] {
	return &ham.Description[complex128]{
		Hops: [][]ham.Hopping[complex128]{{
			{Disp: [3]int{1}, T: t},
			{Disp: [3]int{-1}, T: t},
		}},
		Complex: true,
	}
}

// squareDesc is the clean nearest-neighbor square lattice with hopping t.
func squareDesc(t complex128) *ham.Description[complex128] {
	return &ham.Description[complex128]{
		Hops: [][]ham.Hopping[complex128]{{
			{Disp: [3]int{1, 0, 0}, T: t},
			{Disp: [3]int{-1, 0, 0}, T: t},
			{Disp: [3]int{0, 1, 0}, T: t},
			{Disp: [3]int{0, -1, 0}, T: t},
		}},
		Complex: true,
	}
}

func cubicDesc(t complex128) *ham.Description[complex128] {
	return &ham.Description[complex128]{
		Hops: [][]ham.Hopping[complex128]{{
			{Disp: [3]int{1, 0, 0}, T: t},
			{Disp: [3]int{-1, 0, 0}, T: t},
			{Disp: [3]int{0, 1, 0}, T: t},
			{Disp: [3]int{0, -1, 0}, T: t},
			{Disp: [3]int{0, 0, 1}, T: t},
			{Disp: [3]int{0, 0, -1}, T: t},
		}},
		Complex: true,
	}
}

func emptyDesc(orb int) *ham.Description[complex128] {
	hops := make([][]ham.Hopping[complex128], orb)
	for o := range hops {
		hops[o] = []ham.Hopping[complex128]{}
	}
	return &ham.Description[complex128]{Hops: hops, Complex: true}
}

func TestExchangeBoundaries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		l lattice.Lattice
	}{
		{l: lattice.Lattice{D: 1, Lt: [3]int{16}, Div: [3]int{1}, Orb: 1, Ng: 2, Stride: 4, Periodic: [3]bool{true}}},
		{l: lattice.Lattice{D: 1, Lt: [3]int{16}, Div: [3]int{2}, Orb: 2, Ng: 2, Stride: 4, Periodic: [3]bool{true}}},
		{l: lattice.Lattice{D: 2, Lt: [3]int{8, 8}, Div: [3]int{1, 1}, Orb: 1, Ng: 2, Stride: 4, Periodic: [3]bool{true, true}}},
		{l: lattice.Lattice{D: 2, Lt: [3]int{8, 8}, Div: [3]int{2, 2}, Orb: 2, Ng: 2, Stride: 4, Periodic: [3]bool{true, true}}},
		// Open boundaries: the outermost ghosts stay zero.
		{l: lattice.Lattice{D: 2, Lt: [3]int{8, 8}, Div: [3]int{2, 1}, Orb: 1, Ng: 2, Stride: 4}},
		{l: lattice.Lattice{D: 3, Lt: [3]int{4, 4, 4}, Div: [3]int{1, 1, 1}, Orb: 1, Ng: 2, Stride: 2, Periodic: [3]bool{true, true, true}}},
		{l: lattice.Lattice{D: 3, Lt: [3]int{4, 4, 4}, Div: [3]int{2, 2, 1}, Orb: 1, Ng: 2, Stride: 2, Periodic: [3]bool{true, true, true}}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%dD %v div %v", test.l.D, test.l.Lt, test.l.Div), func(t *testing.T) {
			t.Parallel()
			job := &Job[complex128]{
				Lat: test.l, Desc: emptyDesc(test.l.Orb),
				NMoments: []int{2}, Dirs: [][]int{{}}, NRandom: 1, NDisorder: 1, Seed: 1,
			}
			if _, err := job.run(1, func(w *worker[complex128]) error {
				v := newVector(w, 1)
				v.FillCoordinates()
				v.ExchangeBoundaries()
				if bad := v.CheckBoundaries(); len(bad) > 0 {
					return errors.Errorf("thread %d: %d bad cells", w.lat.ID, len(bad))
				}
				return nil
			}); err != nil {
				t.Fatalf("%+v", err)
			}
		})
	}
}

// disorderedDesc has every description-level contribution kind at once:
// Anderson, an impurity pattern with a fixed and randomly seeded anchors, and
// vacancies. The callers add the magnetic field through the lattice.
func disorderedDesc() *ham.Description[complex128] {
	desc := squareDesc(0.2)
	desc.Anderson = []ham.Anderson{{Policy: ham.AndersonPerSite, Dist: ham.Uniform, Width: 0.1}}
	desc.Patterns = []ham.Pattern[complex128]{{
		NodeOffsets:   [][3]int{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		NodeOrbs:      []int{0, 0, 0},
		Bonds:         []ham.PatternBond[complex128]{{To: 1, From: 0, T: 0.15}, {To: 0, From: 1, T: 0.15}, {To: 2, From: 0, T: 0.1}, {To: 0, From: 2, T: 0.1}},
		Onsites:       []ham.PatternOnsite{{Node: 0, U: 0.2}},
		Concentration: 0.05,
		FixedAnchors:  [][3]int{{7, 3, 0}},
	}}
	desc.Vacancies = ham.VacancySpec{
		Fixed:         []ham.FixedSite{{Cell: [3]int{2, 2, 0}}},
		Concentration: []float64{0.03},
	}
	return desc
}

func TestMultiplyAgainstSimple(t *testing.T) {
	t.Parallel()
	l := squareLattice(8, 4, [3]int{1, 1, 1})
	l.A = [3][3]float64{{0, 0.05, 0}, {0, 0, 0}, {0, 0, 0}}
	job := &Job[complex128]{
		Lat: l, Desc: disorderedDesc(),
		NMoments: []int{2}, Dirs: [][]int{{}}, NRandom: 1, NDisorder: 1, Seed: 7,
	}
	if _, err := job.run(1, func(w *worker[complex128]) error {
		w.h.GenerateDisorder()
		va := newVector(w, 2)
		vb := newVector(w, 2)
		va.InitRandom()
		va.ExchangeBoundaries()
		copy(vb.Col(0), va.Col(0))
		vb.SetIndex(0)

		for step, mult := range []int{0, 1, 1} {
			va.Multiply(mult)
			vb.MultiplySimple(mult)
			a, b := va.Col(va.Index()), vb.Col(vb.Index())
			for i := range a {
				if abs128(a[i]-b[i]) > 1e-12 {
					return errors.Errorf("step %d site %d: %v, expected %v", step, i, a[i], b[i])
				}
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("%+v", err)
	}
}

// TestMultiplyAgainstDense checks the tiled product against the dense global
// Hamiltonian on a deterministic description with field, defects and
// vacancies.
func TestMultiplyAgainstDense(t *testing.T) {
	t.Parallel()
	l := squareLattice(8, 4, [3]int{1, 1, 1})
	l.A = [3][3]float64{{0, 0.05, 0}, {0, 0, 0}, {0, 0, 0}}
	desc := disorderedDesc()
	// Dense needs a deterministic realization.
	desc.Anderson[0] = ham.Anderson{Policy: ham.AndersonShared, Dist: ham.Uniform, Mean: 0.1, Width: 0}
	desc.Patterns[0].Concentration = 0
	desc.Vacancies.Concentration = nil

	h, err := exact.Dense(l, desc)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	job := &Job[complex128]{
		Lat: l, Desc: desc,
		NMoments: []int{2}, Dirs: [][]int{{}}, NRandom: 1, NDisorder: 1, Seed: 3,
	}
	if _, err := job.run(1, func(w *worker[complex128]) error {
		w.h.GenerateDisorder()
		v := newVector(w, 2)
		v.InitRandom()
		v.ExchangeBoundaries()

		n := w.lat.Sizet
		x := make([]complex128, n)
		for _, cell := range w.lat.BulkCells() {
			x[w.lat.GlobalIndex(cell)] = v.Col(0)[cell]
		}
		v.Multiply(0)

		y := make([]complex128, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				y[i] += h.At(i, j) * x[j]
			}
		}
		for _, cell := range w.lat.BulkCells() {
			got := v.Col(v.Index())[cell]
			want := y[w.lat.GlobalIndex(cell)]
			if abs128(got-want) > 1e-9 {
				return errors.Errorf("site %d: %v, expected %v", cell, got, want)
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("%+v", err)
	}
}

// TestVelocityAntiHermitian verifies ⟨a|v|b⟩ = −conj(⟨b|v|a⟩) for the
// single-axis velocity, the property compensated by the explicit sign in the
// accumulators.
func TestVelocityAntiHermitian(t *testing.T) {
	t.Parallel()
	l := squareLattice(8, 4, [3]int{1, 1, 1})
	job := &Job[complex128]{
		Lat: l, Desc: squareDesc(0.3),
		NMoments: []int{2}, Dirs: [][]int{{0}}, NRandom: 1, NDisorder: 1, Seed: 5,
	}
	if _, err := job.run(1, func(w *worker[complex128]) error {
		w.h.GenerateDisorder()
		if err := w.h.BuildVelocity([]int{0}, 0); err != nil {
			return errors.Wrap(err, "")
		}
		vel := w.h.Velocity(0)

		a := newVector(w, 1)
		b := newVector(w, 1)
		a.InitRandom()
		a.ExchangeBoundaries()
		b.InitRandom()
		b.ExchangeBoundaries()

		va := newVector(w, 1)
		vb := newVector(w, 1)
		va.Velocity(a.Col(0), vel)
		vb.Velocity(b.Col(0), vel)
		va.EmptyGhosts(0)
		vb.EmptyGhosts(0)
		a.EmptyGhosts(0)
		b.EmptyGhosts(0)

		d1 := dot(b.Col(0), va.Col(0))
		d2 := dot(a.Col(0), vb.Col(0))
		if abs128(d1+cmplx.Conj(d2)) > 1e-12 {
			return errors.Errorf("%v, expected %v", d1, -cmplx.Conj(d2))
		}
		return nil
	}); err != nil {
		t.Fatalf("%+v", err)
	}
}
