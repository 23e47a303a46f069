package ham

// GenerateDisorder redraws the mutable disorder state: Anderson tables,
// pattern anchors, the derived border lists and cross-tile masks, vacancy
// realizations, and the vacancies-with-defects list. It is called once per
// disorder realization, before the velocity tables are rebuilt.
func (h *Ham[T]) GenerateDisorder() {
	lat := h.Lat

	for o := range h.addr {
		switch {
		case h.addr[o] == -1:
			h.uShared[o] = h.draw(h.Desc.Anderson[o])
		case h.addr[o] >= 0:
			row := h.perSite[h.addr[o]]
			for i := range row {
				row[i] = h.draw(h.Desc.Anderson[o])
			}
		}
	}

	for t := range h.crossMask {
		h.crossMask[t] = false
	}
	h.crossIdx = h.crossIdx[:0]
	h.border = h.border[:0]
	h.borderOn = h.borderOn[:0]
	// destinations receiving any defect write, for the vacancy tie-break
	dests := make(map[int]struct{})

	for p := range h.Desc.Patterns {
		pat := &h.Desc.Patterns[p]
		st := &h.patterns[p]
		for t := range st.anchors {
			st.anchors[t] = st.anchors[t][:0]
		}

		for _, g := range pat.FixedAnchors {
			if cell, ok := h.ownCell(g); ok {
				h.placeAnchor(p, cell, dests)
			}
		}
		if pat.Concentration > 0 {
			for _, cell := range lat.BulkCells() {
				if h.Rng.Float64() < pat.Concentration {
					h.placeAnchor(p, cell, dests)
				}
			}
		}
	}

	for t := range h.vacancies {
		if h.vacancies[t] == nil {
			h.vacancies[t] = make([]int, 0)
		}
		h.vacancies[t] = h.vacancies[t][:0]
	}
	h.vacDefects = h.vacDefects[:0]
	h.vacCount = 0
	for _, fs := range h.Desc.Vacancies.Fixed {
		cell, ok := h.ownCell(fs.Cell)
		if !ok {
			continue
		}
		h.addVacancy(cell+fs.Orb*lat.Nd, dests)
	}
	for o, conc := range h.Desc.Vacancies.Concentration {
		if conc <= 0 {
			continue
		}
		for _, cell := range lat.BulkCells() {
			if h.Rng.Float64() < conc {
				h.addVacancy(cell+o*lat.Nd, dests)
			}
		}
	}
}

// placeAnchor records an anchor at a bulk cell and classifies its bonds and
// on-sites: destinations inside the local bulk are applied during the tile
// sweep (marking foreign destination tiles cross-tile); destinations in the
// ghost region wrap through the global lattice into the border lists, or are
// dropped when the wrapped site belongs to another thread's domain.
func (h *Ham[T]) placeAnchor(p, cell int, dests map[int]struct{}) {
	lat := h.Lat
	pat := &h.Desc.Patterns[p]
	st := &h.patterns[p]
	tile := lat.TileOf(cell)
	st.anchors[tile] = append(st.anchors[tile], cell)

	for k, b := range pat.Bonds {
		i1 := cell + st.nodePos[b.To]
		i2 := cell + st.nodePos[b.From]
		if lat.Bulk(i1) {
			dests[i1] = struct{}{}
			if t1 := lat.TileOf(i1); t1 != tile && !h.crossMask[t1] {
				h.crossMask[t1] = true
				h.crossIdx = append(h.crossIdx, t1)
			}
			continue
		}
		w1, ok1 := h.wrapBulk(i1)
		w2, ok2 := h.wrapBulk(i2)
		if !ok1 || !ok2 {
			continue
		}
		dests[w1] = struct{}{}
		h.border = append(h.border, BorderBond[T]{I1: w1, I2: w2, T: b.T, Disp: st.bondDisp[k]})
	}

	for _, u := range pat.Onsites {
		i1 := cell + st.nodePos[u.Node]
		if lat.Bulk(i1) {
			dests[i1] = struct{}{}
			continue
		}
		if w1, ok := h.wrapBulk(i1); ok {
			dests[w1] = struct{}{}
			h.borderOn = append(h.borderOn, BorderOnsite{I1: w1, U: u.U})
		}
	}
}

func (h *Ham[T]) addVacancy(i int, dests map[int]struct{}) {
	tile := h.Lat.TileOf(i)
	h.vacancies[tile] = append(h.vacancies[tile], i)
	h.vacCount++
	if _, ok := dests[i]; ok {
		h.vacDefects = append(h.vacDefects, i)
	}
}

// ownCell maps a global cell to a local bulk cell index if this thread owns it.
func (h *Ham[T]) ownCell(g [3]int) (int, bool) {
	lat := h.Lat
	cell := 0
	for d := 0; d < lat.D; d++ {
		ld := lat.Ld[d] - 2*lat.Ng
		x := g[d] - lat.Coord[d]*ld
		if x < 0 || x >= ld {
			return 0, false
		}
		cell += (x + lat.Ng) * lat.Basis[d]
	}
	return cell, true
}

// wrapBulk maps a local index in the ghost region back into the bulk through
// the global lattice. It fails at open boundaries and when the wrapped site
// is owned by another thread.
func (h *Ham[T]) wrapBulk(i int) (int, bool) {
	lat := h.Lat
	x, orb := lat.Coords(i)
	var g [3]int
	for d := 0; d < lat.D; d++ {
		ld := lat.Ld[d] - 2*lat.Ng
		g[d] = lat.Coord[d]*ld + x[d] - lat.Ng
		if g[d] < 0 || g[d] >= lat.Lt[d] {
			if !lat.Periodic[d] {
				return 0, false
			}
			g[d] = ((g[d] % lat.Lt[d]) + lat.Lt[d]) % lat.Lt[d]
		}
	}
	cell, ok := h.ownCell(g)
	if !ok {
		return 0, false
	}
	return cell + orb*lat.Nd, true
}

func (h *Ham[T]) draw(a Anderson) float64 {
	switch a.Dist {
	case Gaussian:
		return a.Mean + a.Width*h.Rng.NormFloat64()
	default:
		return a.Mean + a.Width*(h.Rng.Float64()-0.5)
	}
}
