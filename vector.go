package chebmom

import (
	"math"

	"github.com/fumin/chebmom/ham"
)

// Vector is a ring buffer of mem recursion slots, each holding the local
// site-orbital amplitudes of one Chebyshev iterate. The bulk region carries
// trace-contributing amplitudes; ghost cells hold neighbor data after an
// exchange, or zero after EmptyGhosts.
type Vector[T ham.Scalar] struct {
	w   *worker[T]
	mem int
	idx int
	v   [][]T
}

func newVector[T ham.Scalar](w *worker[T], mem int) *Vector[T] {
	v := &Vector[T]{w: w, mem: mem, v: make([][]T, mem)}
	for i := range v.v {
		v.v[i] = make([]T, w.lat.Sized)
	}
	return v
}

// Col returns slot i.
func (v *Vector[T]) Col(i int) []T { return v.v[i] }

// Index is the current slot.
func (v *Vector[T]) Index() int { return v.idx }

// SetIndex positions the ring cursor.
func (v *Vector[T]) SetIndex(i int) { v.idx = i }

func (v *Vector[T]) incIndex() { v.idx = (v.idx + 1) % v.mem }

// back returns the slot k positions behind the cursor.
func (v *Vector[T]) back(k int) []T { return v.v[(v.idx-k+2*v.mem)%v.mem] }

// InitRandom fills the bulk with unit-variance zero-mean amplitudes
// normalized so that the expected norm over the lattice minus its vacancies
// is one, zeroes the vacancy sites, and resets the cursor.
func (v *Vector[T]) InitRandom() {
	w := v.w
	lat := w.lat
	v.idx = 0
	phi := v.v[0]
	for i := range phi {
		phi[i] = 0
	}

	vac := w.h.VacancyCount() * lat.Threads()
	norm := 1 / math.Sqrt(float64(lat.Sizet-vac))
	for _, cell := range lat.BulkCells() {
		for orb := 0; orb < lat.Orb; orb++ {
			i := cell + orb*lat.Nd
			if w.complexMode {
				theta := 2 * math.Pi * w.h.Rng.Float64()
				phi[i] = T(complex(math.Cos(theta)*norm, math.Sin(theta)*norm))
			} else {
				s := norm
				if w.h.Rng.IntN(2) == 0 {
					s = -norm
				}
				phi[i] = T(complex(s, 0))
			}
		}
	}
	for t := 0; t < lat.NStr; t++ {
		for _, i := range w.h.TileVacancies(t) {
			phi[i] = 0
		}
	}
}

// EmptyGhosts zeroes the ghost faces of a slot so that a subsequent inner
// product counts each site exactly once.
func (v *Vector[T]) EmptyGhosts(slot int) {
	lat := v.w.lat
	phi := v.v[slot]
	for _, cell := range lat.GhostCells() {
		for orb := 0; orb < lat.Orb; orb++ {
			phi[cell+orb*lat.Nd] = 0
		}
	}
}

// faceLoop visits the cells of the Ng-deep slab whose axis-d coordinate
// starts at x0, in the canonical pack order, calling fn with the linear
// index and the running position. Axes already exchanged span their full
// extent; later axes span the bulk.
func (w *worker[T]) faceLoop(d, x0 int, fn func(i, pos int)) {
	lat := w.lat
	var lo, hi [3]int
	for e := 0; e < 3; e++ {
		switch {
		case e >= lat.D:
			lo[e], hi[e] = 0, 1
		case e == d:
			lo[e], hi[e] = x0, x0+lat.Ng
		case e < d:
			lo[e], hi[e] = 0, lat.Ld[e]
		default:
			lo[e], hi[e] = lat.Ng, lat.Ld[e]-lat.Ng
		}
	}
	pos := 0
	for orb := 0; orb < lat.Orb; orb++ {
		ip := orb * lat.Nd
		for x2 := lo[2]; x2 < hi[2]; x2++ {
			for x1 := lo[1]; x1 < hi[1]; x1++ {
				base := ip + x1*lat.Basis[1] + x2*lat.Basis[2]
				for xi := lo[0]; xi < hi[0]; xi++ {
					fn(base+xi, pos)
					pos++
				}
			}
		}
	}
}

// ExchangeBoundaries refreshes the ghost faces of the current slot from the
// neighboring subdomains through the shared staging buffer. Two barriers per
// axis: the first publishes every thread's faces, the second keeps a thread
// from republishing before its neighbors have read. Open boundaries zero
// the ghost face.
func (v *Vector[T]) ExchangeBoundaries() {
	w := v.w
	lat := w.lat
	phi := v.v[v.idx]
	slot := lat.MaxFaceSize()
	w.g.bar.Wait()
	for d := 0; d < lat.D; d++ {
		fs := lat.FaceSize(d)
		stage := w.g.ghosts[lat.ID*2*slot:]
		low, high := stage[:fs], stage[slot:slot+fs]
		w.faceLoop(d, lat.Ng, func(i, pos int) { low[pos] = phi[i] })
		w.faceLoop(d, lat.Ld[d]-2*lat.Ng, func(i, pos int) { high[pos] = phi[i] })
		w.g.bar.Wait()

		if nb := lat.Neigh[d][0]; nb >= 0 {
			src := w.g.ghosts[nb*2*slot+slot : nb*2*slot+slot+fs]
			w.faceLoop(d, 0, func(i, pos int) { phi[i] = src[pos] })
		} else {
			w.faceLoop(d, 0, func(i, pos int) { phi[i] = 0 })
		}
		if nb := lat.Neigh[d][1]; nb >= 0 {
			src := w.g.ghosts[nb*2*slot : nb*2*slot+fs]
			w.faceLoop(d, lat.Ld[d]-lat.Ng, func(i, pos int) { phi[i] = src[pos] })
		} else {
			w.faceLoop(d, lat.Ld[d]-lat.Ng, func(i, pos int) { phi[i] = 0 })
		}
		w.g.bar.Wait()
	}
}

// FillCoordinates writes a synthetic amplitude keyed on the global state
// index into every bulk cell of slot 0. Together with CheckBoundaries it
// verifies the exchange against the lattice geometry.
func (v *Vector[T]) FillCoordinates() {
	lat := v.w.lat
	phi := v.v[0]
	for _, cell := range lat.BulkCells() {
		for orb := 0; orb < lat.Orb; orb++ {
			i := cell + orb*lat.Nd
			phi[i] = coordValue[T](v.w.complexMode, lat.GlobalIndex(i))
		}
	}
}

// CheckBoundaries reports the local indices whose value disagrees with
// their global coordinate after an exchange.
func (v *Vector[T]) CheckBoundaries() []int {
	lat := v.w.lat
	phi := v.v[0]
	bad := make([]int, 0)
	for i := range phi {
		x, _ := lat.Coords(i)
		outside := false
		for d := 0; d < lat.D; d++ {
			g := lat.Coord[d]*(lat.Ld[d]-2*lat.Ng) + x[d] - lat.Ng
			if (g < 0 || g >= lat.Lt[d]) && !lat.Periodic[d] {
				outside = true
			}
		}
		want := coordValue[T](v.w.complexMode, lat.GlobalIndex(i))
		if outside {
			want = 0
		}
		if phi[i] != want {
			bad = append(bad, i)
		}
	}
	return bad
}

func coordValue[T ham.Scalar](complexMode bool, g int) T {
	if complexMode {
		return T(complex(float64(g), float64(2*g)))
	}
	return T(complex(float64(g), 0))
}

// dot is the inner product ⟨a|b⟩ over a full local slot.
func dot[T ham.Scalar](a, b []T) T {
	var sum T
	for i, av := range a {
		sum += ham.Conj(av) * b[i]
	}
	return sum
}

// axpy adds c·x into y.
func axpy[T ham.Scalar](y []T, c T, x []T) {
	for i, xv := range x {
		y[i] += c * xv
	}
}
