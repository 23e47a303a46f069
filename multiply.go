package chebmom

import (
	"github.com/fumin/chebmom/ham"
)

// Multiply advances the ring buffer and computes
//
//	ψ_new = (mult+1)·H·ψ_{-1} − mult·ψ_{-2}
//
// over the bulk, tile by tile, then refreshes the ghosts. mult=0 is a plain
// application of H; mult=1 is the Chebyshev recursion step. With two slots
// ψ_new aliases ψ_{-2}, which is safe because each site is initialized from
// ψ_{-2} exactly once before any hopping writes to it.
func (v *Vector[T]) Multiply(mult int) {
	w := v.w
	lat := w.lat
	h := w.h
	v.incIndex()
	phi0 := v.v[v.idx]
	phiM1 := v.back(1)
	phiM2 := v.back(2)

	scale := float64(mult + 1)
	field := w.complexMode && lat.HasField()
	rows := lat.RowOffsets()
	origins := lat.TileOrigins()

	initRows := func(base int) {
		if mult == 1 {
			for _, ro := range rows {
				j0 := base + ro
				for i := j0; i < j0+lat.Stride; i++ {
					phi0[i] = -phiM2[i]
				}
			}
			return
		}
		for _, ro := range rows {
			j0 := base + ro
			for i := j0; i < j0+lat.Stride; i++ {
				phi0[i] = 0
			}
		}
	}

	// Tiles written by foreign anchors are initialized before the sweep.
	for _, t := range h.CrossTileIndexes() {
		for orb := 0; orb < lat.Orb; orb++ {
			initRows(origins[t] + orb*lat.Nd)
		}
	}

	for tile, origin := range origins {
		cross := h.CrossTile(tile)
		for orb := 0; orb < lat.Orb; orb++ {
			ip := orb * lat.Nd
			base := origin + ip
			if !cross {
				initRows(base)
			}

			switch addr := h.AndersonAddr(orb); {
			case addr >= 0:
				u := h.PerSiteU(addr)
				for _, ro := range rows {
					j0 := base + ro
					for i := j0; i < j0+lat.Stride; i++ {
						phi0[i] += ham.Scale(phiM1[i], scale*u[i-ip])
					}
				}
			case addr == -1:
				u := scale * h.SharedU(orb)
				for _, ro := range rows {
					j0 := base + ro
					for i := j0; i < j0+lat.Stride; i++ {
						phi0[i] += ham.Scale(phiM1[i], u)
					}
				}
			}

			hops := h.Desc.Hops[orb]
			offs := h.Offsets(orb)
			for ib := range hops {
				d1 := offs[ib]
				t1 := ham.Scale(hops[ib].T, scale)
				if field {
					disp := hops[ib].Disp
					for _, ro := range rows {
						j0 := base + ro
						g1 := lat.GlobalCoords(j0)[1]
						tp := t1 * ham.Peierls[T](lat.RegularPhase(disp, g1), true)
						for i := j0; i < j0+lat.Stride; i++ {
							phi0[i] += tp * phiM1[i+d1]
						}
					}
					continue
				}
				for _, ro := range rows {
					j0 := base + ro
					for i := j0; i < j0+lat.Stride; i++ {
						phi0[i] += t1 * phiM1[i+d1]
					}
				}
			}
		}

		v.applyPatterns(phi0, phiM1, scale, field, tile)
		for _, i := range h.TileVacancies(tile) {
			phi0[i] = 0
		}
	}

	v.applyBorder(phi0, phiM1, scale, field)
	for _, i := range h.VacanciesWithDefects() {
		phi0[i] = 0
	}
	v.ExchangeBoundaries()
}

// applyPatterns adds the intra-tile structural disorder contributions of one
// tile: internal bonds and on-sites of every anchor, scaled by (mult+1) and
// by the Peierls phase of the bond displacement.
func (v *Vector[T]) applyPatterns(phi0, phiM1 []T, scale float64, field bool, tile int) {
	lat := v.w.lat
	h := v.w.h
	for p := range h.Desc.Patterns {
		pat := &h.Desc.Patterns[p]
		nodePos := h.PatternNodePos(p)
		for _, anchor := range h.PatternAnchors(p, tile) {
			for _, b := range pat.Bonds {
				i1 := anchor + nodePos[b.To]
				if !lat.Bulk(i1) {
					continue
				}
				i2 := anchor + nodePos[b.From]
				t1 := ham.Scale(b.T, scale)
				if field {
					t1 *= ham.Peierls[T](lat.BondPhase(lat.GlobalCoords(i1), lat.GlobalCoords(i2)), true)
				}
				phi0[i1] += t1 * phiM1[i2]
			}
			for _, u := range pat.Onsites {
				i1 := anchor + nodePos[u.Node]
				if !lat.Bulk(i1) {
					continue
				}
				phi0[i1] += ham.Scale(phiM1[i1], scale*u.U)
			}
		}
	}
}

// applyBorder adds the tile-border bonds and on-sites once, after the sweep.
func (v *Vector[T]) applyBorder(phi0, phiM1 []T, scale float64, field bool) {
	lat := v.w.lat
	h := v.w.h
	for _, b := range h.Border() {
		t1 := ham.Scale(b.T, scale)
		if field {
			t1 *= ham.Peierls[T](lat.BondPhase(lat.GlobalCoords(b.I1), lat.GlobalCoords(b.I2)), true)
		}
		phi0[b.I1] += t1 * phiM1[b.I2]
	}
	for _, b := range h.BorderOnsites() {
		phi0[b.I1] += ham.Scale(phiM1[b.I1], scale*b.U)
	}
}

// Velocity writes vel·src into the current slot and refreshes its ghosts.
// The sweep mirrors Multiply with zero initialization, the velocity
// coefficient tables, and no on-site terms. A nil table copies src.
func (v *Vector[T]) Velocity(src []T, vel *ham.Velocity[T]) {
	w := v.w
	lat := w.lat
	h := w.h
	phi0 := v.v[v.idx]
	if vel == nil {
		copy(phi0, src)
		v.ExchangeBoundaries()
		return
	}

	rows := lat.RowOffsets()
	origins := lat.TileOrigins()
	zeroRows := func(base int) {
		for _, ro := range rows {
			j0 := base + ro
			for i := j0; i < j0+lat.Stride; i++ {
				phi0[i] = 0
			}
		}
	}
	for _, t := range h.CrossTileIndexes() {
		for orb := 0; orb < lat.Orb; orb++ {
			zeroRows(origins[t] + orb*lat.Nd)
		}
	}

	for tile, origin := range origins {
		cross := h.CrossTile(tile)
		for orb := 0; orb < lat.Orb; orb++ {
			base := origin + orb*lat.Nd
			if !cross {
				zeroRows(base)
			}
			offs := h.Offsets(orb)
			for ib, t1 := range vel.Hop[orb] {
				d1 := offs[ib]
				for _, ro := range rows {
					j0 := base + ro
					for i := j0; i < j0+lat.Stride; i++ {
						phi0[i] += t1 * src[i+d1]
					}
				}
			}
		}

		for p := range h.Desc.Patterns {
			pat := &h.Desc.Patterns[p]
			nodePos := h.PatternNodePos(p)
			for _, anchor := range h.PatternAnchors(p, tile) {
				for k := range pat.Bonds {
					i1 := anchor + nodePos[pat.Bonds[k].To]
					if !lat.Bulk(i1) {
						continue
					}
					phi0[i1] += vel.Pattern[p][k] * src[anchor+nodePos[pat.Bonds[k].From]]
				}
			}
		}
		for _, i := range h.TileVacancies(tile) {
			phi0[i] = 0
		}
	}

	for i, b := range h.Border() {
		phi0[b.I1] += vel.Border[i] * src[b.I2]
	}
	for _, i := range h.VacanciesWithDefects() {
		phi0[i] = 0
	}
	v.ExchangeBoundaries()
}

// MultiplySimple is the untiled validation path: a straightforward sweep
// over bulk cells with the same semantics as Multiply. The two paths share
// a correctness oracle in the tests.
func (v *Vector[T]) MultiplySimple(mult int) {
	w := v.w
	lat := w.lat
	h := w.h
	v.incIndex()
	phi0 := v.v[v.idx]
	phiM1 := v.back(1)
	phiM2 := v.back(2)

	scale := float64(mult + 1)
	field := w.complexMode && lat.HasField()

	for _, cell := range lat.BulkCells() {
		for orb := 0; orb < lat.Orb; orb++ {
			ip := orb * lat.Nd
			i := cell + ip
			if mult == 1 {
				phi0[i] = -phiM2[i]
			} else {
				phi0[i] = 0
			}

			switch addr := h.AndersonAddr(orb); {
			case addr >= 0:
				phi0[i] += ham.Scale(phiM1[i], scale*h.PerSiteU(addr)[cell])
			case addr == -1:
				phi0[i] += ham.Scale(phiM1[i], scale*h.SharedU(orb))
			}

			hops := h.Desc.Hops[orb]
			offs := h.Offsets(orb)
			for ib := range hops {
				t1 := ham.Scale(hops[ib].T, scale)
				if field {
					g1 := lat.GlobalCoords(i)[1]
					t1 *= ham.Peierls[T](lat.RegularPhase(hops[ib].Disp, g1), true)
				}
				phi0[i] += t1 * phiM1[i+offs[ib]]
			}
		}
	}

	for tile := 0; tile < lat.NStr; tile++ {
		v.applyPatterns(phi0, phiM1, scale, field, tile)
		for _, i := range h.TileVacancies(tile) {
			phi0[i] = 0
		}
	}
	v.applyBorder(phi0, phiM1, scale, field)
	for _, i := range h.VacanciesWithDefects() {
		phi0[i] = 0
	}
	v.ExchangeBoundaries()
}
