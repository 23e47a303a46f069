package chebmom

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/fumin/chebmom/exact"
	"github.com/fumin/chebmom/ham"
	"github.com/fumin/chebmom/lattice"
)

// gappedDesc is a two-orbital square lattice with staggered on-site
// energies, which opens a gap around zero energy.
func gappedDesc(t complex128, m float64) *ham.Description[complex128] {
	hop := func(d [3]int, to int) ham.Hopping[complex128] {
		return ham.Hopping[complex128]{Disp: d, ToOrb: to, T: t}
	}
	return &ham.Description[complex128]{
		Hops: [][]ham.Hopping[complex128]{
			{hop([3]int{0, 0, 0}, 1), hop([3]int{-1, 0, 0}, 1), hop([3]int{0, -1, 0}, 1)},
			{hop([3]int{0, 0, 0}, 0), hop([3]int{1, 0, 0}, 0), hop([3]int{0, 1, 0}, 0)},
		},
		Anderson: []ham.Anderson{
			{Policy: ham.AndersonShared, Dist: ham.Uniform, Mean: m},
			{Policy: ham.AndersonShared, Dist: ham.Uniform, Mean: -m},
		},
		Complex: true,
	}
}

// TestSingleShot compares the blocked evaluator against a brute-force dense
// Chebyshev sum, Tr[v^α G v^β G]/states with G = Σ_n g_n T_n(H).
func TestSingleShot(t *testing.T) {
	t.Parallel()
	l := lattice.Lattice{
		D: 2, Lt: [3]int{8, 8}, Div: [3]int{1, 1}, Orb: 2, Ng: 2, Stride: 4,
		Periodic: [3]bool{true, true},
	}
	desc := gappedDesc(0.2, 0.15)
	const nCheb = 32
	const broadening = 0.05
	energies := []float64{0.3, 0.5}

	job := &Job[complex128]{
		Lat: l, Desc: desc,
		NMoments: []int{nCheb, nCheb}, Dirs: [][]int{{0}, {0}},
		NRandom: 32, NDisorder: 1, Seed: 41,
	}
	cond, err := SingleShot(job, energies, broadening)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	h, err := exact.Dense(l, desc)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	v, err := exact.DenseVelocity(l, desc, []int{0})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for e, energy := range energies {
		ref := singleShotDense(h, v, nCheb, complex(energy, broadening), l.Sizet)
		tol := 0.15*abs128(ref) + 1e-3
		if d := abs128(cond[e] - ref); d > tol {
			t.Fatalf("energy %f: %v, expected %v", energy, cond[e], ref)
		}
	}
}

// singleShotDense is the brute-force reference without block optimizations.
func singleShotDense(h, v *mat.CDense, nCheb int, energy complex128, states int) complex128 {
	n, _ := h.Dims()
	g := mat.NewCDense(n, n, nil)
	t0 := mat.NewCDense(n, n, nil)
	t1 := mat.NewCDense(n, n, nil)
	for i := 0; i < n; i++ {
		t0.Set(i, i, 1)
	}
	t1.Copy(h)

	addWeighted := func(dst *mat.CDense, w float64, m *mat.CDense) {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				dst.Set(i, j, dst.At(i, j)+complex(w, 0)*m.At(i, j))
			}
		}
	}
	addWeighted(g, imag(green(0, 1, energy))/2, t0)
	addWeighted(g, imag(green(1, 1, energy)), t1)
	next := mat.NewCDense(n, n, nil)
	for m := 2; m < nCheb; m++ {
		next.Mul(h, t1)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				next.Set(i, j, 2*next.At(i, j)-t0.At(i, j))
			}
		}
		t0, t1, next = t1, next, t0
		addWeighted(g, imag(green(m, 1, energy)), t1)
	}

	// Tr[v G v G] / states.
	vg := mat.NewCDense(n, n, nil)
	vg.Mul(v, g)
	prod := mat.NewCDense(n, n, nil)
	prod.Mul(vg, vg)
	var tr complex128
	for i := 0; i < n; i++ {
		tr += prod.At(i, i)
	}
	return tr / complex(float64(states), 0)
}
