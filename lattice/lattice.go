// Package lattice implements the integer lattice geometry underlying the
// moment engine: the global lattice, its static decomposition into per-thread
// subdomains with ghost layers, the tile traversal used by the multiply
// kernels, and the vector potential entering the Peierls phases.
package lattice

import (
	"github.com/pkg/errors"
)

// Lattice describes a D-dimensional lattice of Lt[0]×…×Lt[D-1] unit cells
// with Orb orbitals per cell, decomposed over a Div[0]×…×Div[D-1] grid of
// threads. Each thread owns a subdomain of Lt[d]/Div[d] cells per axis,
// padded by Ng ghost layers on every face. Axes d ≥ D have extent 1.
type Lattice struct {
	D        int
	Lt       [3]int
	Div      [3]int
	Orb      int
	Ng       int
	Stride   int
	Periodic [3]bool

	// A is the vector potential matrix. A hopping from cell r to cell r+δ
	// acquires the phase exp(i·δᵀ·A·r).
	A [3][3]float64

	// Derived quantities, filled in by Check.
	Ld    [3]int // local extent including ghosts
	Nd    int    // cells per orbital in the local array
	Sized int    // Nd * Orb
	Sizet int    // global number of states
	Basis [3]int // local linear strides, axis 0 fastest
	LStr  [3]int // tiles per axis
	NStr  int    // tiles per subdomain

	tileOrigins []int
	rowOffsets  []int
	bulkCells   []int
	ghostCells  []int
}

// Check validates the lattice parameters and computes the derived fields.
func (l *Lattice) Check() error {
	if l.D < 1 || l.D > 3 {
		return errors.Errorf("dimension %d", l.D)
	}
	if l.Orb < 1 {
		return errors.Errorf("orbitals %d", l.Orb)
	}
	if l.Ng < 1 {
		return errors.Errorf("ghost width %d", l.Ng)
	}
	if l.Stride < 1 || l.Stride&(l.Stride-1) != 0 {
		return errors.Errorf("stride %d is not a power of two", l.Stride)
	}
	for d := 0; d < 3; d++ {
		if d >= l.D {
			l.Lt[d], l.Div[d], l.Ld[d], l.LStr[d] = 1, 1, 1, 1
			continue
		}
		if l.Lt[d] < 1 || l.Div[d] < 1 || l.Lt[d]%l.Div[d] != 0 {
			return errors.Errorf("axis %d: global extent %d, divisions %d", d, l.Lt[d], l.Div[d])
		}
		ld := l.Lt[d] / l.Div[d]
		if ld%l.Stride != 0 {
			return errors.Errorf("axis %d: subdomain extent %d, stride %d", d, ld, l.Stride)
		}
		// A ghost face must fit inside a single neighbor's bulk.
		if l.Ng > ld {
			return errors.Errorf("axis %d: ghost width %d exceeds subdomain extent %d", d, l.Ng, ld)
		}
		l.Ld[d] = ld + 2*l.Ng
		l.LStr[d] = ld / l.Stride
	}

	l.Nd = l.Ld[0] * l.Ld[1] * l.Ld[2]
	l.Sized = l.Nd * l.Orb
	l.Sizet = l.Lt[0] * l.Lt[1] * l.Lt[2] * l.Orb
	l.Basis = [3]int{1, l.Ld[0], l.Ld[0] * l.Ld[1]}
	l.NStr = l.LStr[0] * l.LStr[1] * l.LStr[2]

	l.tileOrigins = make([]int, 0, l.NStr)
	for t2 := 0; t2 < l.LStr[2]; t2++ {
		for t1 := 0; t1 < l.LStr[1]; t1++ {
			for t0 := 0; t0 < l.LStr[0]; t0++ {
				var x [3]int
				for d := 0; d < l.D; d++ {
					x[d] = l.Ng
				}
				x[0] += t0 * l.Stride
				if l.D > 1 {
					x[1] += t1 * l.Stride
				}
				if l.D > 2 {
					x[2] += t2 * l.Stride
				}
				l.tileOrigins = append(l.tileOrigins, x[0]+x[1]*l.Basis[1]+x[2]*l.Basis[2])
			}
		}
	}

	// Row starts within a tile, relative to the tile origin. A row is a run
	// of Stride contiguous cells along axis 0.
	switch l.D {
	case 1:
		l.rowOffsets = []int{0}
	case 2:
		l.rowOffsets = make([]int, 0, l.Stride)
		for j1 := 0; j1 < l.Stride; j1++ {
			l.rowOffsets = append(l.rowOffsets, j1*l.Basis[1])
		}
	case 3:
		l.rowOffsets = make([]int, 0, l.Stride*l.Stride)
		for j2 := 0; j2 < l.Stride; j2++ {
			for j1 := 0; j1 < l.Stride; j1++ {
				l.rowOffsets = append(l.rowOffsets, j1*l.Basis[1]+j2*l.Basis[2])
			}
		}
	}
	return nil
}

// BulkCells returns the linear indices of all bulk cells at orbital 0.
func (l *Lattice) BulkCells() []int {
	if l.bulkCells != nil {
		return l.bulkCells
	}
	lo, hi := [3]int{}, [3]int{1, 1, 1}
	for d := 0; d < l.D; d++ {
		lo[d], hi[d] = l.Ng, l.Ld[d]-l.Ng
	}
	cells := make([]int, 0, (hi[0]-lo[0])*(hi[1]-lo[1])*(hi[2]-lo[2]))
	for x2 := lo[2]; x2 < hi[2]; x2++ {
		for x1 := lo[1]; x1 < hi[1]; x1++ {
			for x0 := lo[0]; x0 < hi[0]; x0++ {
				cells = append(cells, x0+x1*l.Basis[1]+x2*l.Basis[2])
			}
		}
	}
	l.bulkCells = cells
	return cells
}

// GhostCells returns the linear indices of all ghost cells at orbital 0.
func (l *Lattice) GhostCells() []int {
	if l.ghostCells != nil {
		return l.ghostCells
	}
	cells := make([]int, 0)
	for x2 := 0; x2 < l.Ld[2]; x2++ {
		for x1 := 0; x1 < l.Ld[1]; x1++ {
			for x0 := 0; x0 < l.Ld[0]; x0++ {
				x := [3]int{x0, x1, x2}
				ghost := false
				for d := 0; d < l.D; d++ {
					if x[d] < l.Ng || x[d] >= l.Ld[d]-l.Ng {
						ghost = true
					}
				}
				if ghost {
					cells = append(cells, x0+x1*l.Basis[1]+x2*l.Basis[2])
				}
			}
		}
	}
	l.ghostCells = cells
	return cells
}

// Threads is the number of subdomains.
func (l *Lattice) Threads() int { return l.Div[0] * l.Div[1] * l.Div[2] }

// TileOrigins returns the linear cell index of each tile origin, at orbital 0.
func (l *Lattice) TileOrigins() []int { return l.tileOrigins }

// RowOffsets returns the in-tile row start offsets relative to a tile origin.
func (l *Lattice) RowOffsets() []int { return l.rowOffsets }

// Index packs local coordinates and an orbital into a linear index.
func (l *Lattice) Index(x [3]int, orb int) int {
	return x[0] + x[1]*l.Basis[1] + x[2]*l.Basis[2] + orb*l.Nd
}

// Coords unpacks a linear index into local coordinates and an orbital.
func (l *Lattice) Coords(i int) ([3]int, int) {
	orb := i / l.Nd
	c := i % l.Nd
	var x [3]int
	x[2] = c / l.Basis[2]
	c %= l.Basis[2]
	x[1] = c / l.Basis[1]
	x[0] = c % l.Basis[1]
	return x, orb
}

// TileOf returns the tile index of a bulk cell.
func (l *Lattice) TileOf(i int) int {
	x, _ := l.Coords(i)
	t := (x[0] - l.Ng) / l.Stride
	if l.D > 1 {
		t += (x[1] - l.Ng) / l.Stride * l.LStr[0]
	}
	if l.D > 2 {
		t += (x[2] - l.Ng) / l.Stride * l.LStr[0] * l.LStr[1]
	}
	return t
}

// Bulk reports whether a linear index lies in the bulk (non-ghost) region.
func (l *Lattice) Bulk(i int) bool {
	x, _ := l.Coords(i)
	for d := 0; d < l.D; d++ {
		if x[d] < l.Ng || x[d] >= l.Ld[d]-l.Ng {
			return false
		}
	}
	return true
}

// FaceSize is the number of amplitudes in one exchanged face perpendicular
// to axis d, covering all orbitals. Axes already exchanged (e < d) span
// their full extent including ghosts so that corner ghosts propagate;
// axes not yet exchanged span the bulk only.
func (l *Lattice) FaceSize(d int) int {
	n := l.Orb * l.Ng
	for e := 0; e < l.D; e++ {
		switch {
		case e < d:
			n *= l.Ld[e]
		case e > d:
			n *= l.Ld[e] - 2*l.Ng
		}
	}
	return n
}

// MaxFaceSize is the largest face over all axes.
func (l *Lattice) MaxFaceSize() int {
	max := 0
	for d := 0; d < l.D; d++ {
		if n := l.FaceSize(d); n > max {
			max = n
		}
	}
	return max
}

// BorderSize is the size of the shared staging buffer: two faces per thread.
func (l *Lattice) BorderSize() int { return l.Threads() * 2 * l.MaxFaceSize() }

// Local is the view of the lattice owned by one thread.
type Local struct {
	Lattice
	ID    int
	Coord [3]int
	// Neigh[d][0] and Neigh[d][1] are the thread ids of the lower and upper
	// neighbors along axis d, or -1 at an open boundary.
	Neigh [3][2]int
}

// NewLocal builds the thread-local view for thread id.
func NewLocal(l Lattice, id int) (*Local, error) {
	if err := l.Check(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if id < 0 || id >= l.Threads() {
		return nil, errors.Errorf("thread %d of %d", id, l.Threads())
	}
	loc := &Local{Lattice: l, ID: id}
	c := id
	loc.Coord[0] = c % l.Div[0]
	c /= l.Div[0]
	loc.Coord[1] = c % l.Div[1]
	loc.Coord[2] = c / l.Div[1]

	for d := 0; d < 3; d++ {
		for b := 0; b < 2; b++ {
			loc.Neigh[d][b] = -1
		}
		if d >= l.D {
			continue
		}
		for b := 0; b < 2; b++ {
			nc := loc.Coord
			nc[d] += 2*b - 1
			if nc[d] < 0 || nc[d] >= l.Div[d] {
				if !l.Periodic[d] {
					continue
				}
				nc[d] = (nc[d] + l.Div[d]) % l.Div[d]
			}
			loc.Neigh[d][b] = nc[0] + nc[1]*l.Div[0] + nc[2]*l.Div[0]*l.Div[1]
		}
	}
	return loc, nil
}

// GlobalCoords maps a local linear index to global cell coordinates,
// wrapping at the periodic boundaries.
func (l *Local) GlobalCoords(i int) [3]int {
	x, _ := l.Coords(i)
	var g [3]int
	for d := 0; d < l.D; d++ {
		ld := l.Ld[d] - 2*l.Ng
		g[d] = l.Coord[d]*ld + x[d] - l.Ng
		g[d] = ((g[d] % l.Lt[d]) + l.Lt[d]) % l.Lt[d]
	}
	return g
}

// GlobalIndex maps a local linear index to the global state index.
func (l *Local) GlobalIndex(i int) int {
	g := l.GlobalCoords(i)
	_, orb := l.Coords(i)
	return g[0] + g[1]*l.Lt[0] + g[2]*l.Lt[0]*l.Lt[1] + orb*l.Lt[0]*l.Lt[1]*l.Lt[2]
}

// RegularPhase is the Peierls phase of a regular hopping with cell
// displacement disp, evaluated at a site whose global coordinate along
// axis 1 is g1. In the Landau gauge only column 1 of A contributes, so the
// phase is constant along a tile row.
func (l *Lattice) RegularPhase(disp [3]int, g1 int) float64 {
	phase := 0.0
	for a := 0; a < l.D; a++ {
		phase += float64(disp[a]) * l.A[a][1] * float64(g1)
	}
	return phase
}

// BondPhase is the Peierls phase of a bond from global cell g1 to global
// cell g2, using the full vector potential matrix.
func (l *Lattice) BondPhase(g1, g2 [3]int) float64 {
	phase := 0.0
	for a := 0; a < l.D; a++ {
		for b := 0; b < l.D; b++ {
			phase += float64(g2[a]-g1[a]) * l.A[a][b] * float64(g1[b])
		}
	}
	return phase
}

// HasField reports whether the vector potential is nonzero.
func (l *Lattice) HasField() bool {
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			if l.A[a][b] != 0 {
				return true
			}
		}
	}
	return false
}
