package exact

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/fumin/chebmom/ham"
	"github.com/fumin/chebmom/lattice"
)

func chain(lt int) (lattice.Lattice, *ham.Description[complex128]) {
	l := lattice.Lattice{
		D: 1, Lt: [3]int{lt}, Div: [3]int{1}, Orb: 1, Ng: 2, Stride: 4,
		Periodic: [3]bool{true},
	}
	desc := &ham.Description[complex128]{
		Hops: [][]ham.Hopping[complex128]{{
			{Disp: [3]int{1}, T: 0.35},
			{Disp: [3]int{-1}, T: 0.35},
		}},
		Complex: true,
	}
	return l, desc
}

// TestMoments1DAgainstSpectrum: the dense recursion agrees with the
// eigenvalue sum Σ T_n(λ)/N.
func TestMoments1DAgainstSpectrum(t *testing.T) {
	t.Parallel()
	l, desc := chain(16)
	h, err := Dense(l, desc)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mu := Moments1D(h, nil, 32, l.Sizet)

	eigs, err := Eigenvalues(h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	ref := ChebyshevTrace(eigs, 32, l.Sizet)
	for n := range mu {
		if d := cmplx.Abs(mu[n] - complex(ref[n], 0)); d > 1e-9 {
			t.Fatalf("mu[%d] = %v, expected %f", n, mu[n], ref[n])
		}
	}
}

// TestChainSpectrum: the periodic chain has eigenvalues 2t·cos(2πk/N).
func TestChainSpectrum(t *testing.T) {
	t.Parallel()
	l, desc := chain(8)
	h, err := Dense(l, desc)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	eigs, err := Eigenvalues(h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := make([]float64, 0, 8)
	for k := 0; k < 8; k++ {
		want = append(want, 2*0.35*math.Cos(2*math.Pi*float64(k)/8))
	}
	for _, e := range eigs {
		closest := math.Inf(1)
		for _, w := range want {
			if d := math.Abs(e - w); d < closest {
				closest = d
			}
		}
		if closest > 1e-9 {
			t.Fatalf("eigenvalue %f not in the chain spectrum", e)
		}
	}
}

// TestMoments1DC64: the single precision tensor path tracks the double
// precision recursion.
func TestMoments1DC64(t *testing.T) {
	t.Parallel()
	l, desc := chain(16)
	h, err := Dense(l, desc)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mu := Moments1D(h, nil, 16, l.Sizet)
	mu64 := Moments1DC64(DenseC64(h), nil, 16, l.Sizet)
	for n := range mu {
		if d := cmplx.Abs(mu[n] - complex128(mu64[n])); d > 1e-4 {
			t.Fatalf("mu[%d]: %v vs %v", n, mu[n], mu64[n])
		}
	}
}

// TestMoments2DDiagonal: Tr[v T_n v T_m] is consistent with contracting the
// velocity against the Chebyshev matrices directly.
func TestMoments2DDiagonal(t *testing.T) {
	t.Parallel()
	l, desc := chain(8)
	h, err := Dense(l, desc)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	v, err := DenseVelocity(l, desc, []int{0})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	mu := Moments2D(h, v, v, 4, 4, l.Sizet)
	// Hermiticity of the pair: mu[n,m] = conj(mu[m,n]).
	for nn := 0; nn < 4; nn++ {
		for m := 0; m < 4; m++ {
			if d := cmplx.Abs(mu[m*4+nn] - cmplx.Conj(mu[nn*4+m])); d > 1e-9 {
				t.Fatalf("mu[%d %d] = %v, adjoint %v", nn, m, mu[m*4+nn], mu[nn*4+m])
			}
		}
	}
	// mu[0,0] is Tr[v·v]/states.
	n := l.Sizet
	var tr complex128
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			tr += v.At(i, k) * v.At(k, i)
		}
	}
	want := tr / complex(float64(n), 0)
	if d := cmplx.Abs(mu[0] - want); d > 1e-9 {
		t.Fatalf("mu[0 0] = %v, expected %v", mu[0], want)
	}
}

func TestRejectsRandomDisorder(t *testing.T) {
	t.Parallel()
	l, desc := chain(16)
	desc.Anderson = []ham.Anderson{{Policy: ham.AndersonPerSite, Dist: ham.Uniform, Width: 0.1}}
	if _, err := Dense(l, desc); err == nil {
		t.Fatalf("no error")
	}
}
