package container

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fumin/chebmom/ham"
	"github.com/fumin/chebmom/lattice"
)

// Quantity is one /Calculation node: what to compute and how many samples.
type Quantity struct {
	Name        string
	NumMoments  []int
	NumRandoms  int
	NumDisorder int
	Direction   string

	// NumPoints and Temperature are passed through to the post-processing
	// tool and do not affect the moment estimation.
	NumPoints   int
	Temperature float64

	// Energies and Gamma configure the single-shot evaluator.
	Energies []float64
	Gamma    float64
}

// Setup is a full job configuration: the lattice, the Hamiltonian in
// canonical double precision, and the quantities to compute. Precision 0
// selects complex64 amplitudes, 1 complex128.
type Setup struct {
	Lat         lattice.Lattice
	Desc        *ham.Description[complex128]
	Precision   int
	EnergyScale float64
	Quantities  []Quantity
}

// WriteSetup stores a job configuration into a container.
func WriteSetup(f *File, s *Setup) error {
	l := &s.Lat
	isComplex := 0
	if s.Desc.Complex {
		isComplex = 1
	}
	if err := f.PutInt("/IS_COMPLEX", isComplex); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInt("/PRECISION", s.Precision); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInt("/DIM", l.D); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutFloat("/EnergyScale", s.EnergyScale); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInt("/NOrbitals", l.Orb); err != nil {
		return errors.Wrap(err, "")
	}
	ls, divs, bounds := make([]int64, l.D), make([]int64, l.D), make([]int64, l.D)
	for d := 0; d < l.D; d++ {
		ls[d], divs[d] = int64(l.Lt[d]), int64(l.Div[d])
		if l.Periodic[d] {
			bounds[d] = 1
		}
	}
	if err := f.PutInts("/L", ls); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInts("/Divisions", divs); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInts("/Boundaries", bounds); err != nil {
		return errors.Wrap(err, "")
	}

	if l.HasField() {
		if err := f.PutInt("/Hamiltonian/MagneticField", 1); err != nil {
			return errors.Wrap(err, "")
		}
	}
	a := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a = append(a, l.A[i][j])
		}
	}
	if err := f.PutFloats("/Hamiltonian/VectorPotential", a); err != nil {
		return errors.Wrap(err, "")
	}

	if err := writeHoppings(f, s.Desc); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeDisorder(f, s.Desc); err != nil {
		return errors.Wrap(err, "")
	}
	for _, q := range s.Quantities {
		if err := writeQuantity(f, &q); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func writeHoppings(f *File, desc *ham.Description[complex128]) error {
	n := make([]int64, len(desc.Hops))
	disp := make([]int64, 0)
	toOrb := make([]int64, 0)
	hops := make([]complex128, 0)
	for o, hs := range desc.Hops {
		n[o] = int64(len(hs))
		for _, h := range hs {
			disp = append(disp, int64(h.Disp[0]), int64(h.Disp[1]), int64(h.Disp[2]))
			toOrb = append(toOrb, int64(h.ToOrb))
			hops = append(hops, h.T)
		}
	}
	if err := f.PutInts("/Hamiltonian/NHoppings", n); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInts("/Hamiltonian/d", disp); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInts("/Hamiltonian/ToOrbital", toOrb); err != nil {
		return errors.Wrap(err, "")
	}
	return errors.Wrap(f.PutComplex("/Hamiltonian/Hoppings", hops), "")
}

func writeDisorder(f *File, desc *ham.Description[complex128]) error {
	if len(desc.Anderson) > 0 {
		policy := make([]int64, len(desc.Anderson))
		dist := make([]int64, len(desc.Anderson))
		mean := make([]float64, len(desc.Anderson))
		width := make([]float64, len(desc.Anderson))
		for o, a := range desc.Anderson {
			policy[o], dist[o] = int64(a.Policy), int64(a.Dist)
			mean[o], width[o] = a.Mean, a.Width
		}
		for _, kv := range []struct {
			path string
			err  error
		}{
			{"Policy", f.PutInts("/Hamiltonian/Disorder/Policy", policy)},
			{"Dist", f.PutInts("/Hamiltonian/Disorder/Dist", dist)},
			{"Mean", f.PutFloats("/Hamiltonian/Disorder/Mean", mean)},
			{"Width", f.PutFloats("/Hamiltonian/Disorder/Width", width)},
		} {
			if kv.err != nil {
				return errors.Wrap(kv.err, kv.path)
			}
		}
	}

	if err := f.PutInt("/Hamiltonian/StructuralDisorder/Num", len(desc.Patterns)); err != nil {
		return errors.Wrap(err, "")
	}
	for p, pat := range desc.Patterns {
		prefix := fmt.Sprintf("/Hamiltonian/StructuralDisorder/%d/", p)
		if err := putCells(f, prefix+"NodeOffsets", pat.NodeOffsets); err != nil {
			return errors.Wrap(err, "")
		}
		if err := f.PutInts(prefix+"NodeOrbitals", intsOf(pat.NodeOrbs)); err != nil {
			return errors.Wrap(err, "")
		}
		to := make([]int64, len(pat.Bonds))
		from := make([]int64, len(pat.Bonds))
		ts := make([]complex128, len(pat.Bonds))
		for k, b := range pat.Bonds {
			to[k], from[k], ts[k] = int64(b.To), int64(b.From), b.T
		}
		if err := f.PutInts(prefix+"BondTo", to); err != nil {
			return errors.Wrap(err, "")
		}
		if err := f.PutInts(prefix+"BondFrom", from); err != nil {
			return errors.Wrap(err, "")
		}
		if err := f.PutComplex(prefix+"Hoppings", ts); err != nil {
			return errors.Wrap(err, "")
		}
		nodes := make([]int64, len(pat.Onsites))
		us := make([]float64, len(pat.Onsites))
		for k, u := range pat.Onsites {
			nodes[k], us[k] = int64(u.Node), u.U
		}
		if err := f.PutInts(prefix+"OnsiteNodes", nodes); err != nil {
			return errors.Wrap(err, "")
		}
		if err := f.PutFloats(prefix+"OnsiteU", us); err != nil {
			return errors.Wrap(err, "")
		}
		if err := f.PutFloat(prefix+"Concentration", pat.Concentration); err != nil {
			return errors.Wrap(err, "")
		}
		if err := putCells(f, prefix+"FixedAnchors", pat.FixedAnchors); err != nil {
			return errors.Wrap(err, "")
		}
	}

	vac := desc.Vacancies
	cells := make([][3]int, len(vac.Fixed))
	orbs := make([]int64, len(vac.Fixed))
	for i, fs := range vac.Fixed {
		cells[i], orbs[i] = fs.Cell, int64(fs.Orb)
	}
	if err := putCells(f, "/Hamiltonian/Vacancies/FixedCells", cells); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInts("/Hamiltonian/Vacancies/FixedOrbitals", orbs); err != nil {
		return errors.Wrap(err, "")
	}
	return errors.Wrap(f.PutFloats("/Hamiltonian/Vacancies/Concentration", vac.Concentration), "")
}

func writeQuantity(f *File, q *Quantity) error {
	prefix := "/Calculation/" + q.Name + "/"
	if err := f.PutInts(prefix+"NumMoments", intsOf(q.NumMoments)); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInt(prefix+"NumRandoms", q.NumRandoms); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutInt(prefix+"NumDisorder", q.NumDisorder); err != nil {
		return errors.Wrap(err, "")
	}
	if err := f.PutString(prefix+"Direction", q.Direction); err != nil {
		return errors.Wrap(err, "")
	}
	if q.NumPoints > 0 {
		if err := f.PutInt(prefix+"NumPoints", q.NumPoints); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if q.Temperature != 0 {
		if err := f.PutFloat(prefix+"Temperature", q.Temperature); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if len(q.Energies) > 0 {
		if err := f.PutFloats(prefix+"Energy", q.Energies); err != nil {
			return errors.Wrap(err, "")
		}
		if err := f.PutFloat(prefix+"Gamma", q.Gamma); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// ReadSetup loads and validates a job configuration.
func ReadSetup(f *File) (*Setup, error) {
	s := &Setup{Desc: &ham.Description[complex128]{}}
	isComplex, err := f.Int("/IS_COMPLEX")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if isComplex < 0 || isComplex > 1 {
		return nil, errors.Errorf("IS_COMPLEX %d", isComplex)
	}
	s.Desc.Complex = isComplex == 1
	if s.Precision, err = f.Int("/PRECISION"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if s.Precision < 0 || s.Precision > 1 {
		return nil, errors.Errorf("unsupported precision %d", s.Precision)
	}
	l := &s.Lat
	if l.D, err = f.Int("/DIM"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if l.D < 1 || l.D > 3 {
		return nil, errors.Errorf("dimension %d", l.D)
	}
	if s.EnergyScale, err = f.Float("/EnergyScale"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if l.Orb, err = f.Int("/NOrbitals"); err != nil {
		return nil, errors.Wrap(err, "")
	}
	ls, err := f.Ints("/L")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	divs, err := f.Ints("/Divisions")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	bounds, err := f.Ints("/Boundaries")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(ls) != l.D || len(divs) != l.D || len(bounds) != l.D {
		return nil, errors.Errorf("%d %d %d, expected %d", len(ls), len(divs), len(bounds), l.D)
	}
	for d := 0; d < l.D; d++ {
		l.Lt[d], l.Div[d], l.Periodic[d] = int(ls[d]), int(divs[d]), bounds[d] == 1
	}

	a, err := f.Floats("/Hamiltonian/VectorPotential")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(a) != 9 {
		return nil, errors.Errorf("vector potential has %d entries", len(a))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			l.A[i][j] = a[3*i+j]
		}
	}
	hasField, err := f.Has("/Hamiltonian/MagneticField")
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if hasField && !s.Desc.Complex {
		return nil, errors.Errorf("magnetic field requires complex amplitudes")
	}

	if err := readHoppings(f, s); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := readDisorder(f, s); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := readQuantities(f, s); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func readHoppings(f *File, s *Setup) error {
	n, err := f.Ints("/Hamiltonian/NHoppings")
	if err != nil {
		return errors.Wrap(err, "")
	}
	if len(n) != s.Lat.Orb {
		return errors.Errorf("%d hopping counts, %d orbitals", len(n), s.Lat.Orb)
	}
	disp, err := f.Ints("/Hamiltonian/d")
	if err != nil {
		return errors.Wrap(err, "")
	}
	toOrb, err := f.Ints("/Hamiltonian/ToOrbital")
	if err != nil {
		return errors.Wrap(err, "")
	}
	hops, err := f.Complex("/Hamiltonian/Hoppings")
	if err != nil {
		return errors.Wrap(err, "")
	}
	total := 0
	for _, c := range n {
		total += int(c)
	}
	if len(disp) != 3*total || len(toOrb) != total || len(hops) != total {
		return errors.Errorf("%d %d %d, expected %d hoppings", len(disp), len(toOrb), len(hops), total)
	}
	s.Desc.Hops = make([][]ham.Hopping[complex128], s.Lat.Orb)
	at := 0
	for o := range s.Desc.Hops {
		s.Desc.Hops[o] = make([]ham.Hopping[complex128], n[o])
		for i := range s.Desc.Hops[o] {
			s.Desc.Hops[o][i] = ham.Hopping[complex128]{
				Disp:  [3]int{int(disp[3*at]), int(disp[3*at+1]), int(disp[3*at+2])},
				ToOrb: int(toOrb[at]),
				T:     hops[at],
			}
			at++
		}
	}
	return nil
}

func readDisorder(f *File, s *Setup) error {
	hasAnderson, err := f.Has("/Hamiltonian/Disorder/Policy")
	if err != nil {
		return errors.Wrap(err, "")
	}
	if hasAnderson {
		policy, err := f.Ints("/Hamiltonian/Disorder/Policy")
		if err != nil {
			return errors.Wrap(err, "")
		}
		dist, err := f.Ints("/Hamiltonian/Disorder/Dist")
		if err != nil {
			return errors.Wrap(err, "")
		}
		mean, err := f.Floats("/Hamiltonian/Disorder/Mean")
		if err != nil {
			return errors.Wrap(err, "")
		}
		width, err := f.Floats("/Hamiltonian/Disorder/Width")
		if err != nil {
			return errors.Wrap(err, "")
		}
		s.Desc.Anderson = make([]ham.Anderson, len(policy))
		for o := range policy {
			s.Desc.Anderson[o] = ham.Anderson{
				Policy: ham.AndersonPolicy(policy[o]),
				Dist:   ham.Distribution(dist[o]),
				Mean:   mean[o],
				Width:  width[o],
			}
		}
	}

	num, err := f.Int("/Hamiltonian/StructuralDisorder/Num")
	if err != nil {
		return errors.Wrap(err, "")
	}
	s.Desc.Patterns = make([]ham.Pattern[complex128], num)
	for p := 0; p < num; p++ {
		prefix := fmt.Sprintf("/Hamiltonian/StructuralDisorder/%d/", p)
		pat := &s.Desc.Patterns[p]
		if pat.NodeOffsets, err = getCells(f, prefix+"NodeOffsets"); err != nil {
			return errors.Wrap(err, "")
		}
		orbs, err := f.Ints(prefix + "NodeOrbitals")
		if err != nil {
			return errors.Wrap(err, "")
		}
		pat.NodeOrbs = intsFrom(orbs)
		to, err := f.Ints(prefix + "BondTo")
		if err != nil {
			return errors.Wrap(err, "")
		}
		from, err := f.Ints(prefix + "BondFrom")
		if err != nil {
			return errors.Wrap(err, "")
		}
		ts, err := f.Complex(prefix + "Hoppings")
		if err != nil {
			return errors.Wrap(err, "")
		}
		if len(to) != len(from) || len(to) != len(ts) {
			return errors.Errorf("%d %d %d", len(to), len(from), len(ts))
		}
		pat.Bonds = make([]ham.PatternBond[complex128], len(to))
		for k := range to {
			pat.Bonds[k] = ham.PatternBond[complex128]{To: int(to[k]), From: int(from[k]), T: ts[k]}
		}
		nodes, err := f.Ints(prefix + "OnsiteNodes")
		if err != nil {
			return errors.Wrap(err, "")
		}
		us, err := f.Floats(prefix + "OnsiteU")
		if err != nil {
			return errors.Wrap(err, "")
		}
		if len(nodes) != len(us) {
			return errors.Errorf("%d %d", len(nodes), len(us))
		}
		pat.Onsites = make([]ham.PatternOnsite, len(nodes))
		for k := range nodes {
			pat.Onsites[k] = ham.PatternOnsite{Node: int(nodes[k]), U: us[k]}
		}
		if pat.Concentration, err = f.Float(prefix + "Concentration"); err != nil {
			return errors.Wrap(err, "")
		}
		if pat.FixedAnchors, err = getCells(f, prefix+"FixedAnchors"); err != nil {
			return errors.Wrap(err, "")
		}
	}

	cells, err := getCells(f, "/Hamiltonian/Vacancies/FixedCells")
	if err != nil {
		return errors.Wrap(err, "")
	}
	orbs, err := f.Ints("/Hamiltonian/Vacancies/FixedOrbitals")
	if err != nil {
		return errors.Wrap(err, "")
	}
	if len(cells) != len(orbs) {
		return errors.Errorf("%d %d", len(cells), len(orbs))
	}
	s.Desc.Vacancies.Fixed = make([]ham.FixedSite, len(cells))
	for i := range cells {
		s.Desc.Vacancies.Fixed[i] = ham.FixedSite{Cell: cells[i], Orb: int(orbs[i])}
	}
	conc, err := f.Floats("/Hamiltonian/Vacancies/Concentration")
	if err != nil {
		return errors.Wrap(err, "")
	}
	s.Desc.Vacancies.Concentration = conc
	return nil
}

func readQuantities(f *File, s *Setup) error {
	names, err := f.Children("/Calculation/")
	if err != nil {
		return errors.Wrap(err, "")
	}
	for _, name := range names {
		prefix := "/Calculation/" + name + "/"
		q := Quantity{Name: name}
		moments, err := f.Ints(prefix + "NumMoments")
		if err != nil {
			return errors.Wrap(err, "")
		}
		q.NumMoments = intsFrom(moments)
		for _, n := range q.NumMoments {
			if n < 2 || n&(n-1) != 0 {
				return errors.Errorf("%s: moment count %d is not a power of two", name, n)
			}
		}
		if q.NumRandoms, err = f.Int(prefix + "NumRandoms"); err != nil {
			return errors.Wrap(err, "")
		}
		if q.NumDisorder, err = f.Int(prefix + "NumDisorder"); err != nil {
			return errors.Wrap(err, "")
		}
		if q.Direction, err = f.String(prefix + "Direction"); err != nil {
			return errors.Wrap(err, "")
		}
		if ok, _ := f.Has(prefix + "NumPoints"); ok {
			if q.NumPoints, err = f.Int(prefix + "NumPoints"); err != nil {
				return errors.Wrap(err, "")
			}
		}
		if ok, _ := f.Has(prefix + "Temperature"); ok {
			if q.Temperature, err = f.Float(prefix + "Temperature"); err != nil {
				return errors.Wrap(err, "")
			}
		}
		if ok, _ := f.Has(prefix + "Energy"); ok {
			if q.Energies, err = f.Floats(prefix + "Energy"); err != nil {
				return errors.Wrap(err, "")
			}
			if q.Gamma, err = f.Float(prefix + "Gamma"); err != nil {
				return errors.Wrap(err, "")
			}
		}
		s.Quantities = append(s.Quantities, q)
	}
	return nil
}

func putCells(f *File, path string, cells [][3]int) error {
	flat := make([]int64, 0, 3*len(cells))
	for _, c := range cells {
		flat = append(flat, int64(c[0]), int64(c[1]), int64(c[2]))
	}
	return errors.Wrap(f.PutInts(path, flat), "")
}

func getCells(f *File, path string) ([][3]int, error) {
	flat, err := f.Ints(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(flat)%3 != 0 {
		return nil, errors.Errorf("dataset %s has %d entries", path, len(flat))
	}
	cells := make([][3]int, len(flat)/3)
	for i := range cells {
		cells[i] = [3]int{int(flat[3*i]), int(flat[3*i+1]), int(flat[3*i+2])}
	}
	return cells, nil
}

func intsOf(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

func intsFrom(v []int64) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}
