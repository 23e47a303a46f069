// Package ham describes tight-binding Hamiltonians on a decomposed lattice
// and realizes their disorder per thread: regular hoppings, Anderson on-site
// disorder, structural impurity patterns, vacancies, and the velocity
// coefficient tables derived from the hopping structure.
package ham

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/fumin/chebmom/lattice"
)

// Hopping connects an orbital to orbital ToOrb in the cell displaced by
// Disp, with amplitude T. The Hermitian partner must be listed explicitly.
type Hopping[T Scalar] struct {
	Disp  [3]int
	ToOrb int
	T     T
}

// AndersonPolicy selects how on-site disorder is drawn for an orbital.
type AndersonPolicy int

const (
	AndersonNone AndersonPolicy = iota
	// AndersonShared draws one value per orbital per disorder realization.
	AndersonShared
	// AndersonPerSite draws an independent value for every site.
	AndersonPerSite
)

// Distribution is the on-site disorder distribution.
type Distribution int

const (
	// Uniform draws from [Mean-Width/2, Mean+Width/2].
	Uniform Distribution = iota
	// Gaussian draws with mean Mean and standard deviation Width.
	Gaussian
)

// Anderson is the per-orbital on-site disorder policy.
type Anderson struct {
	Policy AndersonPolicy
	Dist   Distribution
	Mean   float64
	Width  float64
}

// PatternBond is an internal bond of an impurity pattern. The amplitude is
// added to node To, sourced from node From.
type PatternBond[T Scalar] struct {
	To   int
	From int
	T    T
}

// PatternOnsite is an internal on-site term of an impurity pattern.
type PatternOnsite struct {
	Node int
	U    float64
}

// Pattern is a local defect cluster: a small graph of nodes at fixed cell
// offsets, anchored at randomly drawn or fixed cells.
type Pattern[T Scalar] struct {
	NodeOffsets [][3]int
	NodeOrbs    []int
	Bonds       []PatternBond[T]
	Onsites     []PatternOnsite

	// Concentration is the per-cell anchor probability of each disorder
	// realization. FixedAnchors are global cell coordinates anchored on
	// every realization.
	Concentration float64
	FixedAnchors  [][3]int
}

// VacancySpec selects which sites are removed from the lattice.
type VacancySpec struct {
	// Fixed lists global (cell, orbital) sites.
	Fixed []FixedSite
	// Concentration is the per-orbital vacancy probability.
	Concentration []float64
}

// FixedSite is a global lattice site.
type FixedSite struct {
	Cell [3]int
	Orb  int
}

// Description is the immutable job-level Hamiltonian description, shared
// read-only by all threads.
type Description[T Scalar] struct {
	// Hops lists the regular hoppings attached to each orbital.
	Hops      [][]Hopping[T]
	Anderson  []Anderson
	Patterns  []Pattern[T]
	Vacancies VacancySpec
	// Complex selects complex amplitudes; real mode forbids a magnetic field.
	Complex bool
}

// Check validates the description against a lattice.
func (d *Description[T]) Check(l *lattice.Lattice) error {
	if len(d.Hops) != l.Orb {
		return errors.Errorf("%d hopping lists, %d orbitals", len(d.Hops), l.Orb)
	}
	if len(d.Anderson) != 0 && len(d.Anderson) != l.Orb {
		return errors.Errorf("%d anderson policies, %d orbitals", len(d.Anderson), l.Orb)
	}
	for o, hops := range d.Hops {
		for _, h := range hops {
			if h.ToOrb < 0 || h.ToOrb >= l.Orb {
				return errors.Errorf("orbital %d: hopping to orbital %d", o, h.ToOrb)
			}
			for dd := 0; dd < 3; dd++ {
				if h.Disp[dd] != 0 && dd >= l.D {
					return errors.Errorf("orbital %d: displacement %v beyond dimension %d", o, h.Disp, l.D)
				}
				if h.Disp[dd] < -l.Ng || h.Disp[dd] > l.Ng {
					return errors.Errorf("orbital %d: displacement %v exceeds ghost width %d", o, h.Disp, l.Ng)
				}
			}
		}
	}
	for p, pat := range d.Patterns {
		if len(pat.NodeOrbs) != len(pat.NodeOffsets) {
			return errors.Errorf("pattern %d: %d orbitals, %d offsets", p, len(pat.NodeOrbs), len(pat.NodeOffsets))
		}
		for _, off := range pat.NodeOffsets {
			for dd := 0; dd < 3; dd++ {
				if off[dd] != 0 && dd >= l.D {
					return errors.Errorf("pattern %d: offset %v beyond dimension %d", p, off, l.D)
				}
				if off[dd] < -l.Ng || off[dd] > l.Ng {
					return errors.Errorf("pattern %d: offset %v exceeds ghost width %d", p, off, l.Ng)
				}
			}
		}
		for _, orb := range pat.NodeOrbs {
			if orb < 0 || orb >= l.Orb {
				return errors.Errorf("pattern %d: node orbital %d", p, orb)
			}
		}
		for _, b := range pat.Bonds {
			if b.To < 0 || b.To >= len(pat.NodeOffsets) || b.From < 0 || b.From >= len(pat.NodeOffsets) {
				return errors.Errorf("pattern %d: bond %d %d", p, b.To, b.From)
			}
		}
		for _, u := range pat.Onsites {
			if u.Node < 0 || u.Node >= len(pat.NodeOffsets) {
				return errors.Errorf("pattern %d: onsite node %d", p, u.Node)
			}
		}
	}
	if c := d.Vacancies.Concentration; len(c) != 0 && len(c) != l.Orb {
		return errors.Errorf("%d vacancy concentrations, %d orbitals", len(c), l.Orb)
	}
	if !d.Complex && l.HasField() {
		return errors.Errorf("magnetic field requires complex amplitudes")
	}
	return nil
}

// BorderBond is a defect bond applied once globally after the tile sweep.
// I1 is the destination and I2 the source, both local bulk indices.
type BorderBond[T Scalar] struct {
	I1   int
	I2   int
	T    T
	Disp [3]int
}

// BorderOnsite is a defect on-site term applied after the tile sweep.
type BorderOnsite struct {
	I1 int
	U  float64
}

// patternState is the per-thread realization of one impurity pattern.
type patternState struct {
	// nodePos are the linear offsets of the pattern nodes.
	nodePos []int
	// bondDisp is the cell displacement of each bond, destination minus source.
	bondDisp [][3]int
	// anchors lists, per tile, the linear indices of the anchored cells.
	anchors [][]int
}

// Ham is the per-thread realization of a Description over one subdomain.
// GenerateDisorder redraws its mutable state once per disorder realization.
type Ham[T Scalar] struct {
	Desc *Description[T]
	Lat  *lattice.Local
	Rng  *rand.Rand

	// d1 is the precomputed linear offset of each regular hopping.
	d1 [][]int

	// Anderson realization. addr[o] selects the policy branch: -2 none,
	// -1 shared, otherwise a row of perSite.
	addr    []int
	uShared []float64
	perSite [][]float64

	patterns  []patternState
	border    []BorderBond[T]
	borderOn  []BorderOnsite
	crossMask []bool
	crossIdx  []int

	// vacancies per tile, plus the sites that are both vacancy and defect
	// target, re-zeroed after the border pass.
	vacancies  [][]int
	vacDefects []int
	vacCount   int

	vel [3]*Velocity[T]
}

// New builds a per-thread Hamiltonian realization. GenerateDisorder must be
// called before the first multiply.
func New[T Scalar](desc *Description[T], lat *lattice.Local, rng *rand.Rand) (*Ham[T], error) {
	if err := desc.Check(&lat.Lattice); err != nil {
		return nil, errors.Wrap(err, "")
	}
	h := &Ham[T]{Desc: desc, Lat: lat, Rng: rng}

	h.d1 = make([][]int, lat.Orb)
	for o, hops := range desc.Hops {
		h.d1[o] = make([]int, len(hops))
		for ib, hop := range hops {
			d := hop.Disp[0] + hop.Disp[1]*lat.Basis[1] + hop.Disp[2]*lat.Basis[2]
			h.d1[o][ib] = d + (hop.ToOrb-o)*lat.Nd
		}
	}

	h.addr = make([]int, lat.Orb)
	h.uShared = make([]float64, lat.Orb)
	rows := 0
	for o := range h.addr {
		h.addr[o] = -2
		if len(desc.Anderson) == 0 {
			continue
		}
		switch desc.Anderson[o].Policy {
		case AndersonShared:
			h.addr[o] = -1
		case AndersonPerSite:
			h.addr[o] = rows
			rows++
		}
	}
	h.perSite = make([][]float64, rows)
	for i := range h.perSite {
		h.perSite[i] = make([]float64, lat.Nd)
	}

	h.patterns = make([]patternState, len(desc.Patterns))
	for p, pat := range desc.Patterns {
		st := &h.patterns[p]
		st.nodePos = make([]int, len(pat.NodeOffsets))
		for k, off := range pat.NodeOffsets {
			st.nodePos[k] = off[0] + off[1]*lat.Basis[1] + off[2]*lat.Basis[2] + pat.NodeOrbs[k]*lat.Nd
		}
		st.bondDisp = make([][3]int, len(pat.Bonds))
		for k, b := range pat.Bonds {
			for dd := 0; dd < 3; dd++ {
				st.bondDisp[k][dd] = pat.NodeOffsets[b.To][dd] - pat.NodeOffsets[b.From][dd]
			}
		}
		st.anchors = make([][]int, lat.NStr)
	}

	h.crossMask = make([]bool, lat.NStr)
	h.vacancies = make([][]int, lat.NStr)
	return h, nil
}

// Tiles of the local subdomain, for the multiply sweep.

// CrossTile reports whether a tile must be initialized before the sweep
// because it receives defect writes from another tile.
func (h *Ham[T]) CrossTile(tile int) bool { return h.crossMask[tile] }

// CrossTileIndexes lists the tiles with CrossTile set.
func (h *Ham[T]) CrossTileIndexes() []int { return h.crossIdx }

// TileVacancies lists the vacancy sites of a tile.
func (h *Ham[T]) TileVacancies(tile int) []int { return h.vacancies[tile] }

// VacanciesWithDefects lists the sites re-zeroed after the border pass.
func (h *Ham[T]) VacanciesWithDefects() []int { return h.vacDefects }

// VacancyCount is the number of vacancies in this subdomain's realization.
func (h *Ham[T]) VacancyCount() int { return h.vacCount }

// Offsets returns the linear hopping offsets of an orbital.
func (h *Ham[T]) Offsets(o int) []int { return h.d1[o] }

// AndersonAddr returns the policy branch of an orbital: -2 none, -1 shared,
// otherwise a per-site row index.
func (h *Ham[T]) AndersonAddr(o int) int { return h.addr[o] }

// SharedU is the shared on-site value of an orbital.
func (h *Ham[T]) SharedU(o int) float64 { return h.uShared[o] }

// PerSiteU is a per-site on-site table, indexed by cell.
func (h *Ham[T]) PerSiteU(row int) []float64 { return h.perSite[row] }

// PatternAnchors lists the anchor cells of pattern p in a tile.
func (h *Ham[T]) PatternAnchors(p, tile int) []int { return h.patterns[p].anchors[tile] }

// PatternNodePos returns the linear offsets of pattern p's nodes.
func (h *Ham[T]) PatternNodePos(p int) []int { return h.patterns[p].nodePos }

// Border returns the border bond list of the current disorder realization.
func (h *Ham[T]) Border() []BorderBond[T] { return h.border }

// BorderOnsites returns the border on-site list of the current realization.
func (h *Ham[T]) BorderOnsites() []BorderOnsite { return h.borderOn }
